package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/core"
)

type Swapchain struct {
	ImageFormat       vk.SurfaceFormat
	MaxFramesInFlight uint8
	VSync             bool
	Handle            vk.Swapchain
	ImageCount        uint32
	Images            []vk.Image
	Views             []vk.ImageView

	DepthAttachment *Image

	// Framebuffers used for on-screen rendering, one per swapchain image.
	Framebuffers []*Framebuffer
}

type SwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

func SwapchainCreate(context *Context, width, height uint32, framesInFlight uint8, vsync bool) (*Swapchain, error) {
	return createSwapchain(context, width, height, framesInFlight, vsync)
}

func (s *Swapchain) Recreate(context *Context, width, height uint32) (*Swapchain, error) {
	frames := s.MaxFramesInFlight
	vsync := s.VSync
	s.destroySwapchain(context)
	return createSwapchain(context, width, height, frames, vsync)
}

func (s *Swapchain) Destroy(context *Context) {
	s.destroySwapchain(context)
}

// AcquireNextImageIndex asks the swapchain for the next presentable image.
// An out of date swapchain returns core.ErrSwapchainBooting, which tells the
// frame loop to skip this frame and recreate.
func (s *Swapchain) AcquireNextImageIndex(context *Context, timeoutNs uint64, imageAvailableSemaphore vk.Semaphore, fence vk.Fence) (uint32, error) {
	var imageIndex uint32
	result := vk.AcquireNextImage(context.Device.LogicalDevice, s.Handle, timeoutNs, imageAvailableSemaphore, fence, &imageIndex)

	if result == vk.ErrorOutOfDate {
		return 0, core.ErrSwapchainBooting
	}
	if result != vk.Success && result != vk.Suboptimal {
		return 0, fmt.Errorf("failed to acquire swapchain image: %s", ResultString(result))
	}
	return imageIndex, nil
}

// Present returns the image to the swapchain for presentation and advances
// the frame slot index. An out of date or suboptimal result surfaces as
// core.ErrSwapchainBooting.
func (s *Swapchain) Present(context *Context, presentQueue vk.Queue, renderCompleteSemaphore vk.Semaphore, presentImageIndex uint32) error {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{renderCompleteSemaphore},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{presentImageIndex},
	}

	// Increment (and loop) the frame slot regardless of the present outcome,
	// the sync objects of this slot have been consumed either way.
	result := vk.QueuePresent(presentQueue, &presentInfo)
	context.CurrentFrame = (context.CurrentFrame + 1) % uint32(s.MaxFramesInFlight)

	if result == vk.ErrorOutOfDate || result == vk.Suboptimal {
		return core.ErrSwapchainBooting
	}
	if result != vk.Success {
		return fmt.Errorf("failed to present swapchain image: %s", ResultString(result))
	}
	return nil
}

func createSwapchain(context *Context, width, height uint32, framesInFlight uint8, vsync bool) (*Swapchain, error) {
	swapchain := &Swapchain{
		MaxFramesInFlight: framesInFlight,
		VSync:             vsync,
	}

	swapchainExtent := vk.Extent2D{Width: width, Height: height}

	// Choose a swap surface format.
	found := false
	for _, format := range context.Device.SwapchainSupport.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			swapchain.ImageFormat = format
			found = true
			break
		}
	}
	if !found {
		swapchain.ImageFormat = context.Device.SwapchainSupport.Formats[0]
	}

	// Fifo is always available and blocks on vsync. Mailbox trades that for
	// the lowest latency the driver offers.
	presentMode := vk.PresentModeFifo
	if !vsync {
		for _, mode := range context.Device.SwapchainSupport.PresentModes {
			if mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	context.Device.SwapchainSupport.Capabilities.Deref()
	capabilities := context.Device.SwapchainSupport.Capabilities
	if capabilities.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = capabilities.CurrentExtent
	}

	// Clamp to the value allowed by the GPU.
	min := capabilities.MinImageExtent
	max := capabilities.MaxImageExtent
	swapchainExtent.Width = clamp(swapchainExtent.Width, min.Width, max.Width)
	swapchainExtent.Height = clamp(swapchainExtent.Height, min.Height, max.Height)

	imageCount := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && imageCount > capabilities.MaxImageCount {
		imageCount = capabilities.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      swapchain.ImageFormat.Format,
		ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		queueFamilyIndices := []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = queueFamilyIndices
	} else {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	swapchainCreateInfo.PreTransform = capabilities.CurrentTransform
	swapchainCreateInfo.CompositeAlpha = vk.CompositeAlphaOpaqueBit
	swapchainCreateInfo.PresentMode = presentMode
	swapchainCreateInfo.Clipped = vk.True
	swapchainCreateInfo.OldSwapchain = nil

	var swapchainHandle vk.Swapchain
	if res := vk.CreateSwapchain(context.Device.LogicalDevice, &swapchainCreateInfo, context.Allocator, &swapchainHandle); res != vk.Success {
		return nil, fmt.Errorf("failed to create swapchain: %s", ResultString(res))
	}
	swapchain.Handle = swapchainHandle

	// Start with a zero frame index.
	context.CurrentFrame = 0

	// Images
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, nil); res != vk.Success {
		return nil, fmt.Errorf("failed to get swapchain images: %s", ResultString(res))
	}
	swapchain.Images = make([]vk.Image, swapchain.ImageCount)
	swapchain.Views = make([]vk.ImageView, swapchain.ImageCount)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, swapchain.Handle, &swapchain.ImageCount, swapchain.Images); res != vk.Success {
		return nil, fmt.Errorf("failed to get swapchain images: %s", ResultString(res))
	}

	// Views
	for i := 0; i < int(swapchain.ImageCount); i++ {
		viewInfo := vk.ImageViewCreateInfo{
			SType:    vk.StructureTypeImageViewCreateInfo,
			Image:    swapchain.Images[i],
			ViewType: vk.ImageViewType2d,
			Format:   swapchain.ImageFormat.Format,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}
		if res := vk.CreateImageView(context.Device.LogicalDevice, &viewInfo, context.Allocator, &swapchain.Views[i]); res != vk.Success {
			return nil, fmt.Errorf("failed to create swapchain image view: %s", ResultString(res))
		}
	}

	// Depth resources
	if !DeviceDetectDepthFormat(context.Device) {
		context.Device.DepthFormat = vk.FormatUndefined
		return nil, fmt.Errorf("failed to find a supported depth format")
	}

	depthAttachment, err := ImageCreate(
		context,
		vk.ImageType2d,
		swapchainExtent.Width,
		swapchainExtent.Height,
		1,
		context.Device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return nil, err
	}
	swapchain.DepthAttachment = depthAttachment

	core.LogInfo("swapchain created (%dx%d, %d images)", swapchainExtent.Width, swapchainExtent.Height, swapchain.ImageCount)
	return swapchain, nil
}

func (s *Swapchain) destroySwapchain(context *Context) {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)
	s.DepthAttachment.Destroy(context)

	// Only destroy the views, not the images, since those are owned by the
	// swapchain and are destroyed when it is.
	for i := 0; i < int(s.ImageCount); i++ {
		vk.DestroyImageView(context.Device.LogicalDevice, s.Views[i], context.Allocator)
	}

	vk.DestroySwapchain(context.Device.LogicalDevice, s.Handle, context.Allocator)
}

func clamp(value, min, max uint32) uint32 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
