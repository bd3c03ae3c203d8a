package renderer

import (
	"github.com/spaghettifunk/vetro/renderer/metadata"
)

// RendererType selects the graphics API a backend talks to.
type RendererType uint8

const (
	// RendererVulkan is the only backend currently implemented.
	RendererVulkan RendererType = iota
	// RendererMetal is reserved for a future macOS backend.
	RendererMetal
)

func (r RendererType) String() string {
	switch r {
	case RendererVulkan:
		return "vulkan"
	case RendererMetal:
		return "metal"
	default:
		return "unknown"
	}
}

// Backend is the device-facing half of the renderer. The frontend stages
// scene data through the Set* methods, then drains everything to the GPU
// with Synchronize and draws with Render. Set* methods only stage, they
// never touch the device.
type Backend interface {
	// Initialize creates the device objects for a surface of the given size.
	Initialize(appName string, width, height uint32) error
	// Shutdown waits for the device to go idle and destroys everything.
	Shutdown() error
	// Resized tells the backend the surface changed size. The swapchain is
	// rebuilt lazily on the next Render.
	Resized(width, height uint32)

	SetMesh2D(id uint32, data metadata.MeshData2D)
	SetInstances2D(id uint32, data metadata.InstancesData2D)
	SetMesh3D(id uint32, data metadata.MeshData3D)
	SetInstances3D(id uint32, data metadata.InstancesData3D)
	UnloadMeshes3D(ids []uint32)
	SetMaterials(materials []metadata.DeviceMaterial)
	SetTextures(textures []metadata.TextureData, changed []uint32)

	// ReloadShaders recompiles pipelines from the shader sources on disk.
	ReloadShaders() error

	// Synchronize uploads every dirty stream to the device and re-records
	// the command buffers. It must be called with no frame in flight that
	// still reads the streams being repacked.
	Synchronize() error
	// Render records and submits one frame. A skipped frame (minimized
	// window, swapchain rebuild) returns nil.
	Render(camera2D metadata.CameraView2D, camera3D metadata.CameraView3D) error
}
