package vulkan

import (
	"fmt"
	"os"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/core"
)

// ShaderStage is a compiled shader module plus the create info the pipeline
// needs to reference it.
type ShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage loads a SPIR-V binary from disk and wraps it in a module.
func NewShaderStage(context *Context, path string, stageFlag vk.ShaderStageFlagBits) (*ShaderStage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shader %s: %w", path, err)
	}
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("shader %s is not valid SPIR-V (%d bytes)", path, len(raw))
	}

	code := unsafe.Slice((*uint32)(unsafe.Pointer(&raw[0])), len(raw)/4)

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(raw)),
		PCode:    code,
	}

	stage := &ShaderStage{}
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &stage.Handle); res != vk.Success {
		return nil, fmt.Errorf("failed to create shader module %s: %s", path, ResultString(res))
	}

	stage.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  stageFlag,
		Module: stage.Handle,
		PName:  SafeString("main"),
	}

	core.LogDebug("shader module loaded: %s", path)
	return stage, nil
}

func (s *ShaderStage) Destroy(context *Context) {
	if s.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullShaderModule
	}
}
