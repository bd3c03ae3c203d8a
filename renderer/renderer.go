package renderer

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spaghettifunk/vetro/core"
	"github.com/spaghettifunk/vetro/renderer/metadata"
)

// Renderer is the public entry point. It owns a Backend, tracks which parts
// of the scene changed since the last Synchronize and keeps the frame
// statistics. All methods must be called from the same goroutine.
type Renderer struct {
	id      uuid.UUID
	backend Backend
	config  *Config

	dirty   metadata.DirtyFlags
	watcher *ShaderWatcher
	metrics *core.Metrics
	clock   *core.Clock

	frameNumber uint64
}

// New wires a Renderer around an already constructed backend and brings the
// device up for a surface of the given size.
func New(cfg *Config, backend Backend, width, height uint32) (*Renderer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	core.SetLogLevel(cfg.LogLevel)

	r := &Renderer{
		id:      uuid.New(),
		backend: backend,
		config:  cfg,
		metrics: core.NewMetrics(),
		clock:   core.NewClock(),
	}

	if err := backend.Initialize(cfg.ApplicationName, width, height); err != nil {
		return nil, fmt.Errorf("initialize backend: %w", err)
	}

	if cfg.ShaderDir != "" {
		w, err := NewShaderWatcher(cfg.ShaderDir, backend)
		if err != nil {
			core.LogWarn("shader watcher disabled: %s", err)
		} else {
			r.watcher = w
		}
	}

	r.clock.Start()
	core.LogInfo("renderer %s initialized (%dx%d)", r.id, width, height)
	return r, nil
}

// ID returns the unique identifier of this renderer instance.
func (r *Renderer) ID() uuid.UUID { return r.id }

// Shutdown stops the watcher, waits for the device and releases everything.
// The Renderer must not be used afterwards.
func (r *Renderer) Shutdown() error {
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	core.LogInfo("renderer %s shutting down after %d frames", r.id, r.frameNumber)
	return r.backend.Shutdown()
}

// Set2DMesh stages the triangle list of a 2D mesh slot. The data is copied
// before this call returns, the caller keeps ownership of its slices.
func (r *Renderer) Set2DMesh(id uint32, data metadata.MeshData2D) {
	r.backend.SetMesh2D(id, data)
	r.dirty |= metadata.DirtyMesh2D
}

// Set2DInstances stages the instance transforms of a 2D mesh slot.
func (r *Renderer) Set2DInstances(id uint32, data metadata.InstancesData2D) {
	r.backend.SetInstances2D(id, data)
	r.dirty |= metadata.DirtyInstances2D
}

// Set3DMesh stages the triangle list of a 3D mesh slot, with optional
// skinning data in lock step.
func (r *Renderer) Set3DMesh(id uint32, data metadata.MeshData3D) {
	r.backend.SetMesh3D(id, data)
	r.dirty |= metadata.DirtyMesh3D
}

// Set3DInstances stages the instance transforms of a 3D mesh slot.
func (r *Renderer) Set3DInstances(id uint32, data metadata.InstancesData3D) {
	r.backend.SetInstances3D(id, data)
	r.dirty |= metadata.DirtyInstances3D
}

// Unload3DMeshes removes mesh slots and their instances. Unknown ids are
// ignored.
func (r *Renderer) Unload3DMeshes(ids []uint32) {
	if len(ids) == 0 {
		return
	}
	r.backend.UnloadMeshes3D(ids)
	r.dirty |= metadata.DirtyMesh3D | metadata.DirtyInstances3D
}

// SetMaterials replaces the whole material table.
func (r *Renderer) SetMaterials(materials []metadata.DeviceMaterial) {
	r.backend.SetMaterials(materials)
	r.dirty |= metadata.DirtyMaterials
}

// SetTextures replaces the texture table. changed lists the indices whose
// pixel data actually differs, so unchanged textures are not re-uploaded.
func (r *Renderer) SetTextures(textures []metadata.TextureData, changed []uint32) {
	r.backend.SetTextures(textures, changed)
	r.dirty |= metadata.DirtyTextures
}

// Dirty reports which parts of the scene changed since the last Synchronize.
func (r *Renderer) Dirty() metadata.DirtyFlags { return r.dirty }

// Synchronize drains all staged changes to the GPU. When nothing changed it
// returns immediately. On success the dirty flags are cleared.
func (r *Renderer) Synchronize() error {
	if r.dirty == 0 {
		return nil
	}
	if err := r.backend.Synchronize(); err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	r.dirty = 0
	return nil
}

// Render synchronizes pending changes and draws one frame.
func (r *Renderer) Render(camera2D metadata.CameraView2D, camera3D metadata.CameraView3D) error {
	if err := r.Synchronize(); err != nil {
		return err
	}
	if err := r.backend.Render(camera2D, camera3D); err != nil {
		return err
	}
	r.frameNumber++
	r.clock.Update()
	r.metrics.Update(r.clock.Elapsed())
	r.clock.Start()
	return nil
}

// Resize notifies the backend of a new surface size.
func (r *Renderer) Resize(width, height uint32) {
	r.backend.Resized(width, height)
}

// FPS returns the smoothed frames per second measured over the last frames.
func (r *Renderer) FPS() float64 { return r.metrics.FPS() }

// FrameTime returns the duration of the last frame in milliseconds.
func (r *Renderer) FrameTime() float64 { return r.metrics.FrameTime() }
