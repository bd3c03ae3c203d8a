package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type Framebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *Renderpass
}

func FramebufferCreate(context *Context, renderpass *Renderpass, width, height uint32, attachments []vk.ImageView) (*Framebuffer, error) {
	fb := &Framebuffer{
		Attachments: make([]vk.ImageView, len(attachments)),
		Renderpass:  renderpass,
	}
	copy(fb.Attachments, attachments)

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(fb.Attachments)),
		PAttachments:    fb.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &handle); res != vk.Success {
		return nil, fmt.Errorf("failed to create framebuffer: %s", ResultString(res))
	}
	fb.Handle = handle
	return fb, nil
}

func (fb *Framebuffer) Destroy(context *Context) {
	vk.DestroyFramebuffer(context.Device.LogicalDevice, fb.Handle, context.Allocator)
	fb.Handle = nil
	fb.Attachments = nil
	fb.Renderpass = nil
}
