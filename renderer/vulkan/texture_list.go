package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/core"
	"github.com/spaghettifunk/vetro/renderer/metadata"
)

// TextureList holds the device side of the texture table: one image with its
// full mip chain per texture, plus the shared sampler. Uploads go through a
// host visible staging buffer and a single use command buffer.
type TextureList struct {
	context *Context
	images  []*Image
	staging *DeviceBuffer[byte]
	sampler vk.Sampler
}

func NewTextureList(context *Context) (*TextureList, error) {
	tl := &TextureList{
		context: context,
		staging: NewDeviceBuffer[byte](context, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit), 1<<16),
	}

	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        vk.FilterLinear,
		MinFilter:        vk.FilterLinear,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		AddressModeU:     vk.SamplerAddressModeRepeat,
		AddressModeV:     vk.SamplerAddressModeRepeat,
		AddressModeW:     vk.SamplerAddressModeRepeat,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
		MinLod:           0,
		MaxLod:           vk.LodClampNone,
	}
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerCreateInfo, context.Allocator, &tl.sampler); res != vk.Success {
		return nil, fmt.Errorf("failed to create texture sampler: %s", ResultString(res))
	}
	return tl, nil
}

// Upload replaces the table with textures, re-uploading only the indices in
// changed. New indices beyond the current table length are always uploaded.
func (tl *TextureList) Upload(textures []metadata.TextureData, changed []uint32) error {
	if uint32(len(textures)) > MaxTextureCount {
		return fmt.Errorf("%d textures exceed the table size %d", len(textures), MaxTextureCount)
	}

	dirty := make(map[uint32]bool, len(changed))
	for _, idx := range changed {
		dirty[idx] = true
	}
	for i := len(tl.images); i < len(textures); i++ {
		dirty[uint32(i)] = true
	}

	// Shrink if the table got smaller.
	if len(textures) < len(tl.images) {
		vk.DeviceWaitIdle(tl.context.Device.LogicalDevice)
		for i := len(textures); i < len(tl.images); i++ {
			tl.images[i].Destroy(tl.context)
		}
		tl.images = tl.images[:len(textures)]
	}
	for len(tl.images) < len(textures) {
		tl.images = append(tl.images, nil)
	}

	for idx := range dirty {
		if int(idx) >= len(textures) {
			continue
		}
		if err := tl.uploadOne(idx, textures[idx]); err != nil {
			return err
		}
	}
	return nil
}

func (tl *TextureList) uploadOne(idx uint32, tex metadata.TextureData) error {
	if tex.Width == 0 || tex.Height == 0 || len(tex.Bytes) == 0 {
		return fmt.Errorf("texture %d has no pixel data", idx)
	}

	// Replacing a live image, wait out any frame still sampling it.
	if tl.images[idx] != nil {
		vk.DeviceWaitIdle(tl.context.Device.LogicalDevice)
		tl.images[idx].Destroy(tl.context)
		tl.images[idx] = nil
	}

	image, err := ImageCreate(
		tl.context,
		vk.ImageType2d,
		tex.Width,
		tex.Height,
		tex.MipLevels,
		vk.FormatB8g8r8a8Unorm,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit)|vk.ImageUsageFlags(vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return err
	}

	if _, err := tl.staging.EnsureCapacity(len(tex.Bytes)); err != nil {
		image.Destroy(tl.context)
		return err
	}
	tl.staging.Write(0, tex.Bytes)
	tl.staging.MarkDirty(0, len(tex.Bytes))

	mipOffsets := make([]uint64, tex.MipLevels)
	for level := uint32(0); level < tex.MipLevels; level++ {
		mipOffsets[level] = uint64(tex.MipLevelOffset(level))
	}

	cb, err := AllocateAndBeginSingleUse(tl.context, tl.context.Device.GraphicsCommandPool)
	if err != nil {
		image.Destroy(tl.context)
		return err
	}
	if err := image.TransitionLayout(cb, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal); err != nil {
		image.Destroy(tl.context)
		return err
	}
	image.CopyFromBuffer(cb, tl.staging.Handle(), mipOffsets)
	if err := image.TransitionLayout(cb, vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal); err != nil {
		image.Destroy(tl.context)
		return err
	}
	if err := cb.EndSingleUse(tl.context, tl.context.Device.GraphicsCommandPool, tl.context.Device.GraphicsQueue); err != nil {
		image.Destroy(tl.context)
		return err
	}

	tl.images[idx] = image
	core.LogDebug("texture %d uploaded (%dx%d, %d mips)", idx, tex.Width, tex.Height, tex.MipLevels)
	return nil
}

// Views returns the image views in table order for descriptor updates.
func (tl *TextureList) Views() []vk.ImageView {
	views := make([]vk.ImageView, 0, len(tl.images))
	for _, img := range tl.images {
		if img != nil {
			views = append(views, img.View)
		}
	}
	return views
}

func (tl *TextureList) Sampler() vk.Sampler {
	return tl.sampler
}

func (tl *TextureList) Len() int {
	return len(tl.images)
}

func (tl *TextureList) Destroy() {
	vk.DeviceWaitIdle(tl.context.Device.LogicalDevice)
	for _, img := range tl.images {
		if img != nil {
			img.Destroy(tl.context)
		}
	}
	tl.images = nil
	tl.staging.Release()
	if tl.sampler != vk.NullSampler {
		vk.DestroySampler(tl.context.Device.LogicalDevice, tl.sampler, tl.context.Allocator)
		tl.sampler = vk.NullSampler
	}
}
