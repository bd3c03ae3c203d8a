package vulkan

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/core"
	"github.com/spaghettifunk/vetro/platform"
	"github.com/spaghettifunk/vetro/renderer/metadata"
	"github.com/spaghettifunk/vetro/renderer/stream"
)

// fenceTimeout bounds the wait on a frame slot fence. A GPU that has not
// signaled after this long is treated as lost.
const fenceTimeout = uint64(4 * time.Second)

// Options are the backend tunables, filled from the renderer configuration.
type Options struct {
	FramesInFlight uint32
	VertexGrowth   uint32
	InstanceGrowth uint32
	Validation     bool
	VSync          bool
	ClearColor     [4]float32
	ShaderDir      string
}

// cameraUniform is the per frame uniform block shared by both pipelines,
// std140 compatible.
type cameraUniform struct {
	Projection mgl32.Mat4
	View       mgl32.Mat4
	Matrix2D   mgl32.Mat4
	CameraPos  mgl32.Vec4
}

// Renderer is the Vulkan backend. Scene data is staged through the Set*
// methods into CPU side stream lists, drained to device buffers by
// Synchronize and drawn by Render.
type Renderer struct {
	platform *platform.Platform
	opts     Options
	context  *Context

	cachedFramebufferWidth  uint32
	cachedFramebufferHeight uint32

	mesh3D *stream.VertexList[metadata.Vertex3D, metadata.JointData]
	inst3D *stream.InstanceList[metadata.Matrices]
	mesh2D *stream.VertexList[metadata.Vertex2D, metadata.JointData]
	inst2D *stream.InstanceList[metadata.Matrices]

	materials      []metadata.DeviceMaterial
	materialsDirty bool
	materialsBound bool
	materialBuffer *DeviceBuffer[metadata.DeviceMaterial]

	stagedTextures []metadata.TextureData
	stagedChanged  []uint32
	texturesDirty  bool
	texturesBound  bool
	textures       *TextureList

	cameraBuffers []*DeviceBuffer[cameraUniform]
	descriptors   *FrameDescriptors

	pipeline3D     *Pipeline
	pipeline2D     *Pipeline
	shaderStages   []*ShaderStage
	pipelinesDirty atomic.Bool

	frameNumber uint64
}

func New(p *platform.Platform, opts Options) *Renderer {
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = 2
	}
	if opts.VertexGrowth == 0 {
		opts.VertexGrowth = stream.VertexGrowth
	}
	if opts.InstanceGrowth == 0 {
		opts.InstanceGrowth = stream.InstanceGrowth
	}
	return &Renderer{
		platform: p,
		opts:     opts,
		context:  &Context{},
	}
}

func (vr *Renderer) Initialize(appName string, width, height uint32) error {
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return fmt.Errorf("vulkan loader not available")
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialize vulkan: %w", err)
	}

	vr.context.Allocator = nil
	vr.context.FramebufferWidth = width
	vr.context.FramebufferHeight = height

	if err := vr.createInstance(appName); err != nil {
		return err
	}

	// Surface
	surface, err := vr.platform.CreateVulkanSurface(vr.context.Instance)
	if err != nil {
		return fmt.Errorf("failed to create platform surface: %w", err)
	}
	vr.context.Surface = vk.SurfaceFromPointer(surface)
	core.LogDebug("vulkan surface created")

	if err := DeviceCreate(vr.context); err != nil {
		return err
	}

	sc, err := SwapchainCreate(vr.context, vr.context.FramebufferWidth, vr.context.FramebufferHeight, uint8(vr.opts.FramesInFlight), vr.opts.VSync)
	if err != nil {
		return err
	}
	vr.context.Swapchain = sc

	rp, err := RenderpassCreate(
		vr.context,
		0, 0, float32(vr.context.FramebufferWidth), float32(vr.context.FramebufferHeight),
		vr.opts.ClearColor,
		1.0,
		0)
	if err != nil {
		return err
	}
	vr.context.MainRenderpass = rp

	vr.context.Swapchain.Framebuffers = make([]*Framebuffer, vr.context.Swapchain.ImageCount)
	if err := vr.regenerateFramebuffers(); err != nil {
		return err
	}

	if err := vr.createCommandBuffers(); err != nil {
		return err
	}
	if err := vr.createSyncObjects(); err != nil {
		return err
	}

	// Stream state. Vertices and joints grow in lock step, so the joint
	// buffer uses the vertex granularity as well.
	vr.mesh3D = stream.NewVertexList(
		NewDeviceBuffer[metadata.Vertex3D](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.VertexGrowth)),
		NewDeviceBuffer[metadata.JointData](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.VertexGrowth)))
	vr.inst3D = stream.NewInstanceList(
		NewDeviceBuffer[metadata.Matrices](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.InstanceGrowth)))
	vr.mesh2D = stream.NewVertexList(
		NewDeviceBuffer[metadata.Vertex2D](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.VertexGrowth)),
		NewDeviceBuffer[metadata.JointData](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.VertexGrowth)))
	vr.inst2D = stream.NewInstanceList(
		NewDeviceBuffer[metadata.Matrices](vr.context, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), int(vr.opts.InstanceGrowth)))

	vr.materialBuffer = NewDeviceBuffer[metadata.DeviceMaterial](vr.context, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), 64)

	vr.textures, err = NewTextureList(vr.context)
	if err != nil {
		return err
	}

	vr.descriptors, err = NewFrameDescriptors(vr.context, vr.context.Swapchain.ImageCount)
	if err != nil {
		return err
	}

	// One camera uniform per swapchain image, mapped for its whole lifetime.
	vr.cameraBuffers = make([]*DeviceBuffer[cameraUniform], vr.context.Swapchain.ImageCount)
	for i := range vr.cameraBuffers {
		vr.cameraBuffers[i] = NewDeviceBuffer[cameraUniform](vr.context, vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit), 1)
		if _, err := vr.cameraBuffers[i].EnsureCapacity(1); err != nil {
			return err
		}
		var u cameraUniform
		vr.descriptors.WriteCamera(vr.context, uint32(i), vr.cameraBuffers[i].Handle(), uint64(unsafe.Sizeof(u)))
	}

	if vr.opts.ShaderDir != "" {
		if err := vr.createPipelines(); err != nil {
			core.LogWarn("pipelines unavailable, draws will be skipped: %s", err)
		}
	} else {
		core.LogWarn("no shader directory configured, draws will be skipped")
	}

	core.LogInfo("vulkan backend initialized")
	return nil
}

func (vr *Renderer) createInstance(appName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   SafeString(appName),
		PEngineName:        SafeString("Vetro"),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensionSet := map[string]struct{}{"VK_KHR_surface": {}}
	requiredExtensions := []string{"VK_KHR_surface"}
	addExtension := func(name string) {
		if _, ok := extensionSet[name]; ok {
			return
		}
		extensionSet[name] = struct{}{}
		requiredExtensions = append(requiredExtensions, name)
	}
	for _, name := range vr.platform.GetRequiredExtensionNames() {
		addExtension(name)
	}
	if runtime.GOOS == "darwin" {
		addExtension("VK_KHR_portability_enumeration")
		addExtension("VK_KHR_get_physical_device_properties2")
		createInfo.Flags |= 1
	}
	if vr.opts.Validation {
		addExtension(vk.ExtDebugReportExtensionName)
	}

	createInfo.EnabledExtensionCount = uint32(len(requiredExtensions))
	createInfo.PpEnabledExtensionNames = SafeStrings(requiredExtensions)

	var validationLayers []string
	if vr.opts.Validation {
		validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
		if err := verifyValidationLayers(validationLayers); err != nil {
			return err
		}
	}
	createInfo.EnabledLayerCount = uint32(len(validationLayers))
	createInfo.PpEnabledLayerNames = SafeStrings(validationLayers)

	if res := vk.CreateInstance(&createInfo, vr.context.Allocator, &vr.context.Instance); res != vk.Success {
		return fmt.Errorf("failed to create vulkan instance: %s", ResultString(res))
	}
	if err := vk.InitInstance(vr.context.Instance); err != nil {
		return err
	}
	core.LogInfo("vulkan instance created")

	if vr.opts.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(vr.context.Instance, &debugCreateInfo, nil, &dbg)); err != nil {
			return fmt.Errorf("failed to create debug callback: %w", err)
		}
		vr.context.debugMessenger = dbg
		core.LogDebug("vulkan debug callback created")
	}
	return nil
}

func verifyValidationLayers(required []string) error {
	var availableLayerCount uint32
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, nil); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", ResultString(res))
	}
	availableLayers := make([]vk.LayerProperties, availableLayerCount)
	if res := vk.EnumerateInstanceLayerProperties(&availableLayerCount, availableLayers); res != vk.Success {
		return fmt.Errorf("failed to enumerate instance layers: %s", ResultString(res))
	}

	for _, want := range required {
		found := false
		for j := range availableLayers {
			availableLayers[j].Deref()
			name := string(availableLayers[j].LayerName[:firstZeroIndex(availableLayers[j].LayerName[:])])
			if want == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("required validation layer is missing: %s", want)
		}
	}
	core.LogInfo("all required validation layers are present")
	return nil
}

func (vr *Renderer) createSyncObjects() error {
	frames := int(vr.context.Swapchain.MaxFramesInFlight)
	vr.context.ImageAvailableSemaphores = make([]vk.Semaphore, frames)
	vr.context.QueueCompleteSemaphores = make([]vk.Semaphore, frames)
	vr.context.InFlightFences = make([]*Fence, frames)

	for i := 0; i < frames; i++ {
		semaphoreCreateInfo := vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}
		if res := vk.CreateSemaphore(vr.context.Device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &vr.context.ImageAvailableSemaphores[i]); res != vk.Success {
			return fmt.Errorf("failed to create image available semaphore: %s", ResultString(res))
		}
		if res := vk.CreateSemaphore(vr.context.Device.LogicalDevice, &semaphoreCreateInfo, vr.context.Allocator, &vr.context.QueueCompleteSemaphores[i]); res != vk.Success {
			return fmt.Errorf("failed to create queue complete semaphore: %s", ResultString(res))
		}

		// The fence starts signaled so the first frame does not wait on a
		// submission that never happened.
		f, err := NewFence(vr.context, true)
		if err != nil {
			return err
		}
		vr.context.InFlightFences[i] = f
	}

	// Image fences are owned by the slots above, this list only aliases them
	// per swapchain image.
	vr.context.ImagesInFlight = make([]*Fence, vr.context.Swapchain.ImageCount)
	return nil
}

func (vr *Renderer) Shutdown() error {
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	// Destroy in the opposite order of creation.
	vr.destroyPipelines()

	for _, cb := range vr.cameraBuffers {
		cb.Release()
	}
	vr.cameraBuffers = nil

	if vr.descriptors != nil {
		vr.descriptors.Destroy(vr.context)
		vr.descriptors = nil
	}
	if vr.textures != nil {
		vr.textures.Destroy()
		vr.textures = nil
	}
	if vr.materialBuffer != nil {
		vr.materialBuffer.Release()
		vr.materialBuffer = nil
	}

	vr.mesh3D.Release()
	vr.inst3D.Release()
	vr.mesh2D.Release()
	vr.inst2D.Release()

	for i := 0; i < int(vr.context.Swapchain.MaxFramesInFlight); i++ {
		if vr.context.ImageAvailableSemaphores[i] != vk.NullSemaphore {
			vk.DestroySemaphore(vr.context.Device.LogicalDevice, vr.context.ImageAvailableSemaphores[i], vr.context.Allocator)
		}
		if vr.context.QueueCompleteSemaphores[i] != vk.NullSemaphore {
			vk.DestroySemaphore(vr.context.Device.LogicalDevice, vr.context.QueueCompleteSemaphores[i], vr.context.Allocator)
		}
		vr.context.InFlightFences[i].Destroy(vr.context)
	}
	vr.context.ImageAvailableSemaphores = nil
	vr.context.QueueCompleteSemaphores = nil
	vr.context.InFlightFences = nil
	vr.context.ImagesInFlight = nil

	for _, cb := range vr.context.GraphicsCommandBuffers {
		if cb.Handle != nil {
			cb.Free(vr.context, vr.context.Device.GraphicsCommandPool)
		}
	}
	vr.context.GraphicsCommandBuffers = nil

	for _, fb := range vr.context.Swapchain.Framebuffers {
		fb.Destroy(vr.context)
	}
	vr.context.MainRenderpass.Destroy(vr.context)
	vr.context.Swapchain.Destroy(vr.context)

	core.LogDebug("destroying vulkan device...")
	DeviceDestroy(vr.context)

	if vr.context.Surface != vk.NullSurface {
		vk.DestroySurface(vr.context.Instance, vr.context.Surface, vr.context.Allocator)
		vr.context.Surface = vk.NullSurface
	}
	if vr.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(vr.context.Instance, vr.context.debugMessenger, vr.context.Allocator)
	}
	vk.DestroyInstance(vr.context.Instance, vr.context.Allocator)

	core.LogInfo("vulkan backend shut down after %d frames", vr.frameNumber)
	return nil
}

func (vr *Renderer) Resized(width, height uint32) {
	vr.cachedFramebufferWidth = width
	vr.cachedFramebufferHeight = height
	vr.context.FramebufferSizeGeneration++
	core.LogDebug("backend resized: %dx%d generation %d", width, height, vr.context.FramebufferSizeGeneration)
}

// SetMesh2D stages a 2D mesh. A non negative mesh level texture id is baked
// into the per vertex texture slot, a negative one leaves the vertices as
// the caller wrote them.
func (vr *Renderer) SetMesh2D(id uint32, data metadata.MeshData2D) {
	vertices := data.Vertices
	if data.TexID >= 0 {
		vertices = make([]metadata.Vertex2D, len(data.Vertices))
		copy(vertices, data.Vertices)
		for i := range vertices {
			vertices[i].Tex = uint32(data.TexID)
		}
	}
	vr.mesh2D.Set(id, vertices, nil)
}

func (vr *Renderer) SetInstances2D(id uint32, data metadata.InstancesData2D) {
	vr.inst2D.Set(id, plainMatrices(data.Matrices))
}

func (vr *Renderer) SetMesh3D(id uint32, data metadata.MeshData3D) {
	vr.mesh3D.Set(id, data.Vertices, data.SkinData)
}

func (vr *Renderer) SetInstances3D(id uint32, data metadata.InstancesData3D) {
	vr.inst3D.Set(id, normalMatrices(data.Matrices))
}

func (vr *Renderer) UnloadMeshes3D(ids []uint32) {
	for _, id := range ids {
		vr.mesh3D.Remove(id)
		vr.inst3D.Remove(id)
	}
}

func (vr *Renderer) SetMaterials(materials []metadata.DeviceMaterial) {
	vr.materials = append(vr.materials[:0], materials...)
	vr.materialsDirty = true
}

func (vr *Renderer) SetTextures(textures []metadata.TextureData, changed []uint32) {
	vr.stagedTextures = append(vr.stagedTextures[:0], textures...)
	vr.stagedChanged = append(vr.stagedChanged[:0], changed...)
	vr.texturesDirty = true
}

// ReloadShaders flags the pipelines for rebuild. Safe to call from the
// watcher goroutine, the rebuild itself happens on the frame thread.
func (vr *Renderer) ReloadShaders() error {
	vr.pipelinesDirty.Store(true)
	return nil
}

// Synchronize drains every dirty stream to the device. It must run with the
// device idle whenever a repack moves live ranges, which the stream uploads
// enforce through their buffer reallocation waits. Moves without growth also
// need the wait, so it is taken here whenever any stream repacks.
func (vr *Renderer) Synchronize() error {
	if vr.mesh3D.NeedsRepack() || vr.inst3D.NeedsRepack() ||
		vr.mesh2D.NeedsRepack() || vr.inst2D.NeedsRepack() {
		vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)
	}

	if err := vr.mesh3D.Upload(); err != nil {
		return fmt.Errorf("3d mesh upload: %w", err)
	}
	if err := vr.inst3D.Upload(); err != nil {
		return fmt.Errorf("3d instance upload: %w", err)
	}
	if err := vr.mesh2D.Upload(); err != nil {
		return fmt.Errorf("2d mesh upload: %w", err)
	}
	if err := vr.inst2D.Upload(); err != nil {
		return fmt.Errorf("2d instance upload: %w", err)
	}

	if vr.materialsDirty {
		if len(vr.materials) > 0 {
			if _, err := vr.materialBuffer.EnsureCapacity(len(vr.materials)); err != nil {
				return fmt.Errorf("material upload: %w", err)
			}
			vr.materialBuffer.Write(0, vr.materials)
			vr.materialBuffer.MarkDirty(0, len(vr.materials))

			var m metadata.DeviceMaterial
			vr.descriptors.WriteMaterials(vr.context, vr.materialBuffer.Handle(), uint64(unsafe.Sizeof(m))*uint64(len(vr.materials)))
			vr.materialsBound = true
		}
		vr.materialsDirty = false
	}

	if vr.texturesDirty {
		if err := vr.textures.Upload(vr.stagedTextures, vr.stagedChanged); err != nil {
			return fmt.Errorf("texture upload: %w", err)
		}
		if vr.textures.Len() > 0 {
			vr.descriptors.WriteTextures(vr.context, vr.textures.Sampler(), vr.textures.Views())
			vr.texturesBound = true
		}
		vr.texturesDirty = false
	}

	return nil
}

// Render records and submits one frame. A frame skipped because the window
// is minimized or the swapchain is rebuilding returns nil.
func (vr *Renderer) Render(camera2D metadata.CameraView2D, camera3D metadata.CameraView3D) error {
	device := vr.context.Device

	if vr.pipelinesDirty.Swap(false) && vr.opts.ShaderDir != "" {
		vk.DeviceWaitIdle(device.LogicalDevice)
		vr.destroyPipelines()
		if err := vr.createPipelines(); err != nil {
			core.LogError("pipeline rebuild failed, keeping draws disabled: %s", err)
		} else {
			core.LogInfo("pipelines rebuilt from %s", vr.opts.ShaderDir)
		}
	}

	if vr.context.RecreatingSwapchain {
		if result := vk.DeviceWaitIdle(device.LogicalDevice); !ResultIsSuccess(result) {
			return fmt.Errorf("device wait idle failed: %s", ResultString(result))
		}
		core.LogDebug("recreating swapchain, booting")
		return nil
	}

	// A resize invalidates the swapchain. Rebuild it and skip this frame.
	if vr.context.FramebufferSizeGeneration != vr.context.FramebufferSizeLastGeneration {
		if result := vk.DeviceWaitIdle(device.LogicalDevice); !ResultIsSuccess(result) {
			return fmt.Errorf("device wait idle failed: %s", ResultString(result))
		}
		if !vr.recreateSwapchain() {
			core.LogDebug("swapchain recreate skipped, booting")
		}
		return nil
	}

	// Wait for the oldest frame on this slot to complete.
	if err := vr.context.InFlightFences[vr.context.CurrentFrame].Wait(vr.context, fenceTimeout); err != nil {
		if errors.Is(err, core.ErrDeviceLost) {
			return core.NewFatalError("frame fence wait", err)
		}
		return err
	}

	imageIndex, err := vr.context.Swapchain.AcquireNextImageIndex(
		vr.context, fenceTimeout,
		vr.context.ImageAvailableSemaphores[vr.context.CurrentFrame], vk.NullFence)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			vr.context.FramebufferSizeGeneration++
			return nil
		}
		return err
	}
	vr.context.ImageIndex = imageIndex

	// Make sure a previous frame is not still using this image before its
	// command buffer and camera uniform are touched.
	if vr.context.ImagesInFlight[imageIndex] != nil {
		if err := vr.context.ImagesInFlight[imageIndex].Wait(vr.context, fenceTimeout); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				return core.NewFatalError("image fence wait", err)
			}
			return err
		}
	}
	vr.context.ImagesInFlight[imageIndex] = vr.context.InFlightFences[vr.context.CurrentFrame]

	if err := vr.context.InFlightFences[vr.context.CurrentFrame].Reset(vr.context); err != nil {
		return err
	}

	vr.updateCamera(imageIndex, camera2D, camera3D)

	if err := vr.recordCommands(imageIndex); err != nil {
		return err
	}

	commandBuffer := vr.context.GraphicsCommandBuffers[imageIndex]
	submitInfo := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{commandBuffer.Handle},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{vr.context.QueueCompleteSemaphores[vr.context.CurrentFrame]},
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{vr.context.ImageAvailableSemaphores[vr.context.CurrentFrame]},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)},
	}

	if result := vk.QueueSubmit(device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vr.context.InFlightFences[vr.context.CurrentFrame].Handle); result != vk.Success {
		if result == vk.ErrorDeviceLost {
			return core.NewFatalError("queue submit", core.ErrDeviceLost)
		}
		return fmt.Errorf("queue submit failed: %s", ResultString(result))
	}
	commandBuffer.UpdateSubmitted()

	err = vr.context.Swapchain.Present(
		vr.context,
		device.PresentQueue,
		vr.context.QueueCompleteSemaphores[vr.context.CurrentFrame],
		imageIndex)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			vr.context.FramebufferSizeGeneration++
			return nil
		}
		return err
	}

	vr.frameNumber++
	return nil
}

func (vr *Renderer) updateCamera(imageIndex uint32, camera2D metadata.CameraView2D, camera3D metadata.CameraView3D) {
	u := cameraUniform{
		Projection: camera3D.RHProjection(),
		View:       camera3D.RHViewMatrix(),
		Matrix2D:   camera2D.Matrix,
		CameraPos:  camera3D.Pos.Vec4(1),
	}
	buffer := vr.cameraBuffers[imageIndex]
	buffer.Write(0, []cameraUniform{u})
	buffer.MarkDirty(0, 1)
}

func (vr *Renderer) recordCommands(imageIndex uint32) error {
	commandBuffer := vr.context.GraphicsCommandBuffers[imageIndex]
	commandBuffer.Reset()
	if err := commandBuffer.Begin(false, false, false); err != nil {
		return err
	}

	viewport := vk.Viewport{
		X:        0.0,
		Y:        float32(vr.context.FramebufferHeight),
		Width:    float32(vr.context.FramebufferWidth),
		Height:   -float32(vr.context.FramebufferHeight),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: 0, Y: 0},
		Extent: vk.Extent2D{
			Width:  vr.context.FramebufferWidth,
			Height: vr.context.FramebufferHeight,
		},
	}
	vk.CmdSetViewport(commandBuffer.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(commandBuffer.Handle, 0, 1, []vk.Rect2D{scissor})

	vr.context.MainRenderpass.W = float32(vr.context.FramebufferWidth)
	vr.context.MainRenderpass.H = float32(vr.context.FramebufferHeight)
	vr.context.MainRenderpass.Begin(commandBuffer, vr.context.Swapchain.Framebuffers[imageIndex].Handle)

	// Descriptor bindings 1 and 2 only become valid once materials and
	// textures have been uploaded; until then the frame is clear color only.
	descriptorsReady := vr.materialsBound && vr.texturesBound

	if vr.pipeline3D != nil && descriptorsReady {
		vr.drawStream(commandBuffer, imageIndex, vr.pipeline3D,
			vr.mesh3D.Buffer().(*DeviceBuffer[metadata.Vertex3D]).Handle(),
			vr.inst3D.Buffer().(*DeviceBuffer[metadata.Matrices]).Handle(),
			vr.mesh3D.IDs(),
			func(id uint32) (uint32, uint32, bool) {
				r, ok := vr.mesh3D.Range(id)
				return r.VertexStart, r.VertexEnd, ok
			},
			vr.inst3D)
	}
	if vr.pipeline2D != nil && descriptorsReady {
		vr.drawStream(commandBuffer, imageIndex, vr.pipeline2D,
			vr.mesh2D.Buffer().(*DeviceBuffer[metadata.Vertex2D]).Handle(),
			vr.inst2D.Buffer().(*DeviceBuffer[metadata.Matrices]).Handle(),
			vr.mesh2D.IDs(),
			func(id uint32) (uint32, uint32, bool) {
				r, ok := vr.mesh2D.Range(id)
				return r.VertexStart, r.VertexEnd, ok
			},
			vr.inst2D)
	}

	vr.context.MainRenderpass.End(commandBuffer)
	return commandBuffer.End()
}

// drawStream records one non-indexed, instanced draw per mesh slot, joining
// each slot's packed vertex range with its packed instance range by id.
func (vr *Renderer) drawStream(
	commandBuffer *CommandBuffer,
	imageIndex uint32,
	pipeline *Pipeline,
	vertexBuffer, instanceBuffer vk.Buffer,
	ids []uint32,
	vertexRange func(id uint32) (uint32, uint32, bool),
	instances *stream.InstanceList[metadata.Matrices],
) {
	if vertexBuffer == vk.NullBuffer || instanceBuffer == vk.NullBuffer {
		return
	}

	pipeline.Bind(commandBuffer, vk.PipelineBindPointGraphics)
	vk.CmdBindDescriptorSets(commandBuffer.Handle, vk.PipelineBindPointGraphics,
		pipeline.PipelineLayout, 0, 1, []vk.DescriptorSet{vr.descriptors.Sets[imageIndex]}, 0, nil)
	vk.CmdBindVertexBuffers(commandBuffer.Handle, 0, 2,
		[]vk.Buffer{vertexBuffer, instanceBuffer},
		[]vk.DeviceSize{0, 0})

	for _, id := range ids {
		start, end, ok := vertexRange(id)
		if !ok || end <= start {
			continue
		}
		ir, ok := instances.Range(id)
		if !ok || ir.Count == 0 {
			continue
		}
		vk.CmdDraw(commandBuffer.Handle, end-start, ir.Count, start, ir.Start)
	}
}

func (vr *Renderer) createCommandBuffers() error {
	if len(vr.context.GraphicsCommandBuffers) == 0 {
		vr.context.GraphicsCommandBuffers = make([]*CommandBuffer, vr.context.Swapchain.ImageCount)
	}
	for i := 0; i < int(vr.context.Swapchain.ImageCount); i++ {
		if vr.context.GraphicsCommandBuffers[i] != nil && vr.context.GraphicsCommandBuffers[i].Handle != nil {
			vr.context.GraphicsCommandBuffers[i].Free(vr.context, vr.context.Device.GraphicsCommandPool)
		}
		cb, err := NewCommandBuffer(vr.context, vr.context.Device.GraphicsCommandPool, true)
		if err != nil {
			return err
		}
		vr.context.GraphicsCommandBuffers[i] = cb
	}
	core.LogDebug("vulkan command buffers created")
	return nil
}

func (vr *Renderer) regenerateFramebuffers() error {
	swapchain := vr.context.Swapchain
	for i := 0; i < int(swapchain.ImageCount); i++ {
		attachments := []vk.ImageView{
			swapchain.Views[i],
			swapchain.DepthAttachment.View,
		}
		fb, err := FramebufferCreate(vr.context, vr.context.MainRenderpass, vr.context.FramebufferWidth, vr.context.FramebufferHeight, attachments)
		if err != nil {
			return err
		}
		swapchain.Framebuffers[i] = fb
	}
	return nil
}

func (vr *Renderer) recreateSwapchain() bool {
	if vr.context.RecreatingSwapchain {
		core.LogDebug("recreateSwapchain called while already recreating, booting")
		return false
	}
	if vr.cachedFramebufferWidth == 0 || vr.cachedFramebufferHeight == 0 {
		core.LogDebug("window is < 1 in a dimension, booting")
		return false
	}

	vr.context.RecreatingSwapchain = true
	vk.DeviceWaitIdle(vr.context.Device.LogicalDevice)

	for i := range vr.context.ImagesInFlight {
		vr.context.ImagesInFlight[i] = nil
	}

	if err := DeviceQuerySwapchainSupport(vr.context.Device.PhysicalDevice, vr.context.Surface, &vr.context.Device.SwapchainSupport); err != nil {
		core.LogError("failed to requery swapchain support: %s", err)
		vr.context.RecreatingSwapchain = false
		return false
	}
	DeviceDetectDepthFormat(vr.context.Device)

	for _, cb := range vr.context.GraphicsCommandBuffers {
		cb.Free(vr.context, vr.context.Device.GraphicsCommandPool)
	}
	for _, fb := range vr.context.Swapchain.Framebuffers {
		fb.Destroy(vr.context)
	}

	sc, err := vr.context.Swapchain.Recreate(vr.context, vr.cachedFramebufferWidth, vr.cachedFramebufferHeight)
	if err != nil {
		vr.context.RecreatingSwapchain = false
		return false
	}
	vr.context.Swapchain = sc

	vr.context.FramebufferWidth = vr.cachedFramebufferWidth
	vr.context.FramebufferHeight = vr.cachedFramebufferHeight
	vr.context.MainRenderpass.X = 0
	vr.context.MainRenderpass.Y = 0
	vr.context.MainRenderpass.W = float32(vr.context.FramebufferWidth)
	vr.context.MainRenderpass.H = float32(vr.context.FramebufferHeight)
	vr.cachedFramebufferWidth = 0
	vr.cachedFramebufferHeight = 0

	vr.context.FramebufferSizeLastGeneration = vr.context.FramebufferSizeGeneration

	vr.context.Swapchain.Framebuffers = make([]*Framebuffer, vr.context.Swapchain.ImageCount)
	if err := vr.regenerateFramebuffers(); err != nil {
		vr.context.RecreatingSwapchain = false
		return false
	}
	if err := vr.createCommandBuffers(); err != nil {
		vr.context.RecreatingSwapchain = false
		return false
	}
	if len(vr.context.ImagesInFlight) != int(vr.context.Swapchain.ImageCount) {
		vr.context.ImagesInFlight = make([]*Fence, vr.context.Swapchain.ImageCount)
	}

	vr.context.RecreatingSwapchain = false
	return true
}

func (vr *Renderer) createPipelines() error {
	vert3D, err := NewShaderStage(vr.context, filepath.Join(vr.opts.ShaderDir, "scene3d.vert.spv"), vk.ShaderStageVertexBit)
	if err != nil {
		return err
	}
	frag3D, err := NewShaderStage(vr.context, filepath.Join(vr.opts.ShaderDir, "scene3d.frag.spv"), vk.ShaderStageFragmentBit)
	if err != nil {
		vert3D.Destroy(vr.context)
		return err
	}
	vert2D, err := NewShaderStage(vr.context, filepath.Join(vr.opts.ShaderDir, "scene2d.vert.spv"), vk.ShaderStageVertexBit)
	if err != nil {
		vert3D.Destroy(vr.context)
		frag3D.Destroy(vr.context)
		return err
	}
	frag2D, err := NewShaderStage(vr.context, filepath.Join(vr.opts.ShaderDir, "scene2d.frag.spv"), vk.ShaderStageFragmentBit)
	if err != nil {
		vert3D.Destroy(vr.context)
		frag3D.Destroy(vr.context)
		vert2D.Destroy(vr.context)
		return err
	}
	vr.shaderStages = []*ShaderStage{vert3D, frag3D, vert2D, frag2D}

	viewport := vk.Viewport{
		X: 0, Y: float32(vr.context.FramebufferHeight),
		Width:    float32(vr.context.FramebufferWidth),
		Height:   -float32(vr.context.FramebufferHeight),
		MinDepth: 0, MaxDepth: 1,
	}
	scissor := vk.Rect2D{
		Extent: vk.Extent2D{Width: vr.context.FramebufferWidth, Height: vr.context.FramebufferHeight},
	}

	var v3 metadata.Vertex3D
	pipeline3D, err := NewGraphicsPipeline(vr.context, &PipelineConfig{
		Renderpass:           vr.context.MainRenderpass,
		Stride:               uint32(unsafe.Sizeof(v3)),
		Attributes:           vertex3DAttributes(),
		InstanceStride:       instanceStride(),
		InstanceAttributes:   instanceAttributes(5),
		DescriptorSetLayouts: []vk.DescriptorSetLayout{vr.descriptors.Layout},
		Stages:               []vk.PipelineShaderStageCreateInfo{vert3D.ShaderStageCreateInfo, frag3D.ShaderStageCreateInfo},
		Viewport:             viewport,
		Scissor:              scissor,
		DepthTest:            true,
		DepthWrite:           true,
		CullBackFaces:        true,
	})
	if err != nil {
		vr.destroyPipelines()
		return err
	}
	vr.pipeline3D = pipeline3D

	var v2 metadata.Vertex2D
	pipeline2D, err := NewGraphicsPipeline(vr.context, &PipelineConfig{
		Renderpass:           vr.context.MainRenderpass,
		Stride:               uint32(unsafe.Sizeof(v2)),
		Attributes:           vertex2DAttributes(),
		InstanceStride:       instanceStride(),
		InstanceAttributes:   instanceAttributes(4),
		DescriptorSetLayouts: []vk.DescriptorSetLayout{vr.descriptors.Layout},
		Stages:               []vk.PipelineShaderStageCreateInfo{vert2D.ShaderStageCreateInfo, frag2D.ShaderStageCreateInfo},
		Viewport:             viewport,
		Scissor:              scissor,
		DepthTest:            false,
		DepthWrite:           false,
		CullBackFaces:        false,
	})
	if err != nil {
		vr.destroyPipelines()
		return err
	}
	vr.pipeline2D = pipeline2D

	core.LogInfo("graphics pipelines created")
	return nil
}

func (vr *Renderer) destroyPipelines() {
	if vr.pipeline3D != nil {
		vr.pipeline3D.Destroy(vr.context)
		vr.pipeline3D = nil
	}
	if vr.pipeline2D != nil {
		vr.pipeline2D.Destroy(vr.context)
		vr.pipeline2D = nil
	}
	for _, stage := range vr.shaderStages {
		stage.Destroy(vr.context)
	}
	vr.shaderStages = nil
}

func vertex3DAttributes() []vk.VertexInputAttributeDescription {
	var v metadata.Vertex3D
	return []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: uint32(unsafe.Offsetof(v.Vertex))},
		{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(v.Normal))},
		{Location: 2, Binding: 0, Format: vk.FormatR32Uint, Offset: uint32(unsafe.Offsetof(v.MatID))},
		{Location: 3, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(v.UV))},
		{Location: 4, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: uint32(unsafe.Offsetof(v.Tangent))},
	}
}

func vertex2DAttributes() []vk.VertexInputAttributeDescription {
	var v metadata.Vertex2D
	return []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: uint32(unsafe.Offsetof(v.Vertex))},
		{Location: 1, Binding: 0, Format: vk.FormatR32Uint, Offset: uint32(unsafe.Offsetof(v.Tex))},
		{Location: 2, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: uint32(unsafe.Offsetof(v.UV))},
		{Location: 3, Binding: 0, Format: vk.FormatR32g32b32a32Sfloat, Offset: uint32(unsafe.Offsetof(v.Color))},
	}
}

func instanceStride() uint32 {
	var m metadata.Matrices
	return uint32(unsafe.Sizeof(m))
}

// instanceAttributes describes the two per instance mat4s starting at the
// given shader location, one vec4 attribute per matrix column.
func instanceAttributes(firstLocation uint32) []vk.VertexInputAttributeDescription {
	attributes := make([]vk.VertexInputAttributeDescription, 8)
	for i := uint32(0); i < 8; i++ {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: firstLocation + i,
			Binding:  1,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   i * 16,
		}
	}
	return attributes
}

// normalMatrices expands caller transforms into the instance record, taking a
// snapshot in the process.
func normalMatrices(transforms []mgl32.Mat4) []metadata.Matrices {
	out := make([]metadata.Matrices, len(transforms))
	for i, t := range transforms {
		out[i] = metadata.NewMatrices(t)
	}
	return out
}

// plainMatrices snapshots 2D transforms. The normal matrix is unused in 2D,
// the identity keeps the record layout shared between both streams.
func plainMatrices(transforms []mgl32.Mat4) []metadata.Matrices {
	out := make([]metadata.Matrices, len(transforms))
	for i, t := range transforms {
		out[i] = metadata.Matrices{Transform: t, NormalTransform: mgl32.Ident4()}
	}
	return out
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogInfo("[%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
