package renderer

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/vetro/renderer/metadata"
)

// mockBackend records calls without touching any device.
type mockBackend struct {
	initialized  bool
	shutdown     bool
	synchronized int
	rendered     int
	reloaded     int
	meshes3D     map[uint32]metadata.MeshData3D
	unloaded     []uint32
	materials    []metadata.DeviceMaterial
	syncErr      error
}

func newMockBackend() *mockBackend {
	return &mockBackend{meshes3D: make(map[uint32]metadata.MeshData3D)}
}

func (m *mockBackend) Initialize(appName string, width, height uint32) error {
	m.initialized = true
	return nil
}
func (m *mockBackend) Shutdown() error             { m.shutdown = true; return nil }
func (m *mockBackend) Resized(width, height uint32) {}
func (m *mockBackend) SetMesh2D(id uint32, data metadata.MeshData2D)            {}
func (m *mockBackend) SetInstances2D(id uint32, data metadata.InstancesData2D)  {}
func (m *mockBackend) SetMesh3D(id uint32, data metadata.MeshData3D) {
	m.meshes3D[id] = data
}
func (m *mockBackend) SetInstances3D(id uint32, data metadata.InstancesData3D) {}
func (m *mockBackend) UnloadMeshes3D(ids []uint32) {
	m.unloaded = append(m.unloaded, ids...)
}
func (m *mockBackend) SetMaterials(materials []metadata.DeviceMaterial) {
	m.materials = materials
}
func (m *mockBackend) SetTextures(textures []metadata.TextureData, changed []uint32) {}
func (m *mockBackend) ReloadShaders() error { m.reloaded++; return nil }
func (m *mockBackend) Synchronize() error {
	if m.syncErr != nil {
		return m.syncErr
	}
	m.synchronized++
	return nil
}
func (m *mockBackend) Render(camera2D metadata.CameraView2D, camera3D metadata.CameraView3D) error {
	m.rendered++
	return nil
}

func newTestRenderer(t *testing.T) (*Renderer, *mockBackend) {
	t.Helper()
	backend := newMockBackend()
	r, err := New(DefaultConfig(), backend, 800, 600)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !backend.initialized {
		t.Fatal("backend was not initialized")
	}
	return r, backend
}

func TestDirtyFlagAccumulation(t *testing.T) {
	r, _ := newTestRenderer(t)
	defer r.Shutdown()

	if r.Dirty() != 0 {
		t.Fatalf("fresh renderer dirty = %b, want 0", r.Dirty())
	}

	r.Set3DMesh(1, metadata.MeshData3D{Vertices: make([]metadata.Vertex3D, 3)})
	if !r.Dirty().Has(metadata.DirtyMesh3D) {
		t.Error("DirtyMesh3D not set after Set3DMesh")
	}
	r.SetMaterials([]metadata.DeviceMaterial{{}})
	if !r.Dirty().Has(metadata.DirtyMaterials) {
		t.Error("DirtyMaterials not set after SetMaterials")
	}
	if r.Dirty().Has(metadata.DirtyTextures) {
		t.Error("DirtyTextures set without SetTextures")
	}
}

func TestSynchronizeClearsDirty(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Shutdown()

	r.Set3DMesh(1, metadata.MeshData3D{Vertices: make([]metadata.Vertex3D, 3)})
	if err := r.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if r.Dirty() != 0 {
		t.Errorf("dirty = %b after Synchronize, want 0", r.Dirty())
	}
	if backend.synchronized != 1 {
		t.Errorf("backend synchronized %d times, want 1", backend.synchronized)
	}

	// Nothing staged, the backend must not be called again.
	if err := r.Synchronize(); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if backend.synchronized != 1 {
		t.Errorf("clean Synchronize reached the backend (%d calls)", backend.synchronized)
	}
}

func TestRenderSynchronizesFirst(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Shutdown()

	r.Set3DInstances(1, metadata.InstancesData3D{})
	if err := r.Render(metadata.CameraView2D{}, metadata.CameraView3D{}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if backend.synchronized != 1 {
		t.Errorf("synchronized %d times, want 1", backend.synchronized)
	}
	if backend.rendered != 1 {
		t.Errorf("rendered %d times, want 1", backend.rendered)
	}
	if r.Dirty() != 0 {
		t.Errorf("dirty = %b after Render, want 0", r.Dirty())
	}
}

func TestUnloadEmptyIsNoOp(t *testing.T) {
	r, backend := newTestRenderer(t)
	defer r.Shutdown()

	r.Unload3DMeshes(nil)
	if r.Dirty() != 0 {
		t.Errorf("dirty = %b after empty unload, want 0", r.Dirty())
	}
	if len(backend.unloaded) != 0 {
		t.Errorf("backend received unload ids %v", backend.unloaded)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.FramesInFlight != 2 {
		t.Errorf("FramesInFlight = %d, want 2", cfg.FramesInFlight)
	}
	if cfg.VertexGrowth != 2048 || cfg.InstanceGrowth != 512 {
		t.Errorf("growth = %d/%d, want 2048/512", cfg.VertexGrowth, cfg.InstanceGrowth)
	}
}

func TestConfigRejectsTooManyFrames(t *testing.T) {
	cfg := &Config{FramesInFlight: 4}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted frames_in_flight = 4")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vetro.toml")
	body := "application_name = \"demo\"\nframes_in_flight = 3\nvalidation = true\nclear_color = [0.1, 0.2, 0.3, 1.0]\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ApplicationName != "demo" {
		t.Errorf("ApplicationName = %q", cfg.ApplicationName)
	}
	if cfg.FramesInFlight != 3 {
		t.Errorf("FramesInFlight = %d, want 3", cfg.FramesInFlight)
	}
	if !cfg.Validation {
		t.Error("Validation = false, want true")
	}
	if cfg.ClearColor != [4]float32{0.1, 0.2, 0.3, 1.0} {
		t.Errorf("ClearColor = %v", cfg.ClearColor)
	}
	// Unset keys keep their defaults.
	if cfg.VertexGrowth != 2048 {
		t.Errorf("VertexGrowth = %d, want default 2048", cfg.VertexGrowth)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.FramesInFlight != 2 {
		t.Errorf("missing file did not yield defaults: %+v", cfg)
	}
}

func TestMaxMipLevels(t *testing.T) {
	tests := []struct {
		w, h uint32
		want uint32
	}{
		{1, 1, 1},
		{2, 2, 2},
		{256, 256, 9},
		{256, 64, 9},
		{1024, 1, 11},
	}
	for _, tt := range tests {
		if got := MaxMipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("MaxMipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestGenerateMips(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	tex, err := GenerateMips(src)
	if err != nil {
		t.Fatalf("GenerateMips: %v", err)
	}
	if tex.MipLevels != 4 {
		t.Fatalf("MipLevels = %d, want 4", tex.MipLevels)
	}

	// 8x4 + 4x2 + 2x1 + 1x1 pixels, 4 bytes each.
	wantBytes := uint32(8*4+4*2+2*1+1*1) * 4
	if uint32(len(tex.Bytes)) != wantBytes {
		t.Errorf("len(Bytes) = %d, want %d", len(tex.Bytes), wantBytes)
	}

	if w, h := tex.MipLevelWidthHeight(3); w != 1 || h != 1 {
		t.Errorf("level 3 = %dx%d, want 1x1", w, h)
	}
	if off := tex.MipLevelOffset(1); off != 8*4*4 {
		t.Errorf("level 1 offset = %d, want %d", off, 8*4*4)
	}

	// A solid red source stays solid red at every level. Pixels are BGRA.
	last := tex.MipLevelOffset(3)
	if tex.Bytes[last+2] != 255 || tex.Bytes[last+3] != 255 {
		t.Errorf("1x1 level pixel = %v, want red", tex.Bytes[last:last+4])
	}
}

func TestRendererTypeString(t *testing.T) {
	if RendererVulkan.String() != "vulkan" || RendererMetal.String() != "metal" {
		t.Error("RendererType.String mismatch")
	}
}
