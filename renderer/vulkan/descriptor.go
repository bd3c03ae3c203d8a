package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// MaxTextureCount is the size of the texture descriptor array. Scenes with
// more textures than this fail SetTextures.
const MaxTextureCount uint32 = 128

// FrameDescriptors owns the descriptor machinery shared by both pipelines:
// one set per swapchain image with the camera uniform, the material table
// and the texture sampler array.
type FrameDescriptors struct {
	Layout vk.DescriptorSetLayout
	Pool   vk.DescriptorPool
	Sets   []vk.DescriptorSet
}

func NewFrameDescriptors(context *Context, imageCount uint32) (*FrameDescriptors, error) {
	fd := &FrameDescriptors{}

	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         0,
			DescriptorType:  vk.DescriptorTypeUniformBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
		{
			Binding:         2,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: MaxTextureCount,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		},
	}

	layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutCreateInfo, context.Allocator, &fd.Layout); res != vk.Success {
		return nil, fmt.Errorf("failed to create descriptor set layout: %s", ResultString(res))
	}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: imageCount},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: imageCount},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: imageCount * MaxTextureCount},
	}
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       imageCount,
	}
	if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &fd.Pool); res != vk.Success {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, fd.Layout, context.Allocator)
		return nil, fmt.Errorf("failed to create descriptor pool: %s", ResultString(res))
	}

	layouts := make([]vk.DescriptorSetLayout, imageCount)
	for i := range layouts {
		layouts[i] = fd.Layout
	}
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     fd.Pool,
		DescriptorSetCount: imageCount,
		PSetLayouts:        layouts,
	}
	fd.Sets = make([]vk.DescriptorSet, imageCount)
	if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &fd.Sets[0]); res != vk.Success {
		fd.Destroy(context)
		return nil, fmt.Errorf("failed to allocate descriptor sets: %s", ResultString(res))
	}

	return fd, nil
}

// WriteCamera points binding 0 of one image's set at the camera uniform.
func (fd *FrameDescriptors) WriteCamera(context *Context, imageIndex uint32, buffer vk.Buffer, size uint64) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: buffer,
		Offset: 0,
		Range:  vk.DeviceSize(size),
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          fd.Sets[imageIndex],
		DstBinding:      0,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// WriteMaterials points binding 1 of every set at the material table.
func (fd *FrameDescriptors) WriteMaterials(context *Context, buffer vk.Buffer, size uint64) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: buffer,
		Offset: 0,
		Range:  vk.DeviceSize(size),
	}
	writes := make([]vk.WriteDescriptorSet, len(fd.Sets))
	for i := range fd.Sets {
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          fd.Sets[i],
			DstBinding:      1,
			DescriptorType:  vk.DescriptorTypeStorageBuffer,
			DescriptorCount: 1,
			PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
		}
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
}

// WriteTextures fills binding 2 of every set. Every array element must hold a
// valid descriptor, so unused slots repeat the first view.
func (fd *FrameDescriptors) WriteTextures(context *Context, sampler vk.Sampler, views []vk.ImageView) {
	if len(views) == 0 {
		return
	}
	imageInfos := make([]vk.DescriptorImageInfo, MaxTextureCount)
	for i := range imageInfos {
		view := views[0]
		if i < len(views) {
			view = views[i]
		}
		imageInfos[i] = vk.DescriptorImageInfo{
			Sampler:     sampler,
			ImageView:   view,
			ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		}
	}
	writes := make([]vk.WriteDescriptorSet, len(fd.Sets))
	for i := range fd.Sets {
		writes[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          fd.Sets[i],
			DstBinding:      2,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: MaxTextureCount,
			PImageInfo:      imageInfos,
		}
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(writes)), writes, 0, nil)
}

func (fd *FrameDescriptors) Destroy(context *Context) {
	if fd.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, fd.Pool, context.Allocator)
		fd.Pool = vk.NullDescriptorPool
	}
	if fd.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, fd.Layout, context.Allocator)
		fd.Layout = vk.NullDescriptorSetLayout
	}
	fd.Sets = nil
}
