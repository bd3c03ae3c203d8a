package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vetro/core"
	"github.com/spaghettifunk/vetro/renderer/stream"
)

// DeviceBuffer is a growable host visible buffer holding elements of a single
// POD type. Growth reallocates without preserving contents, a grow is always
// followed by a full repack and re-copy of every live slot.
//
// The memory is mapped once for the buffer's entire lifetime and flushed
// explicitly, so writes are plain copies into the mapped slice.
type DeviceBuffer[T any] struct {
	context     *Context
	usage       vk.BufferUsageFlags
	granularity int

	handle   vk.Buffer
	memory   vk.DeviceMemory
	mapped   []T
	capacity int
	byteSize uint64
}

// NewDeviceBuffer creates an empty buffer. No device allocation happens until
// the first EnsureCapacity.
func NewDeviceBuffer[T any](context *Context, usage vk.BufferUsageFlags, granularity int) *DeviceBuffer[T] {
	if granularity <= 0 {
		granularity = 1
	}
	return &DeviceBuffer[T]{
		context:     context,
		usage:       usage,
		granularity: granularity,
	}
}

func (b *DeviceBuffer[T]) EnsureCapacity(n int) (bool, error) {
	if n <= b.capacity {
		return false, nil
	}
	newCapacity := stream.AlignUp(n, b.granularity)

	// The old allocation may still be referenced by in flight frames. The
	// caller already drained them, this wait is the hard guarantee.
	vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
	b.release()

	if err := b.allocate(newCapacity); err != nil {
		return false, err
	}
	return true, nil
}

func (b *DeviceBuffer[T]) allocate(capacity int) error {
	var elem T
	elemSize := uint64(unsafe.Sizeof(elem))
	byteSize := elemSize * uint64(capacity)

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(byteSize),
		Usage:       b.usage,
		SharingMode: vk.SharingModeExclusive,
	}
	var handle vk.Buffer
	if res := vk.CreateBuffer(b.context.Device.LogicalDevice, &bufferCreateInfo, b.context.Allocator, &handle); res != vk.Success {
		return fmt.Errorf("failed to create buffer: %s", ResultString(res))
	}

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.context.Device.LogicalDevice, handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryType := b.context.FindMemoryIndex(
		memoryRequirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit))
	if memoryType < 0 {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, handle, b.context.Allocator)
		return fmt.Errorf("no host visible memory type for buffer")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryType),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(b.context.Device.LogicalDevice, &allocateInfo, b.context.Allocator, &memory); res != vk.Success {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, handle, b.context.Allocator)
		return fmt.Errorf("failed to allocate buffer memory: %s", ResultString(res))
	}
	if res := vk.BindBufferMemory(b.context.Device.LogicalDevice, handle, memory, 0); res != vk.Success {
		vk.FreeMemory(b.context.Device.LogicalDevice, memory, b.context.Allocator)
		vk.DestroyBuffer(b.context.Device.LogicalDevice, handle, b.context.Allocator)
		return fmt.Errorf("failed to bind buffer memory: %s", ResultString(res))
	}

	var ptr unsafe.Pointer
	if res := vk.MapMemory(b.context.Device.LogicalDevice, memory, 0, vk.DeviceSize(vk.WholeSize), 0, &ptr); res != vk.Success {
		vk.FreeMemory(b.context.Device.LogicalDevice, memory, b.context.Allocator)
		vk.DestroyBuffer(b.context.Device.LogicalDevice, handle, b.context.Allocator)
		return fmt.Errorf("failed to map buffer memory: %s", ResultString(res))
	}

	b.handle = handle
	b.memory = memory
	b.mapped = unsafe.Slice((*T)(ptr), capacity)
	b.capacity = capacity
	b.byteSize = byteSize

	core.LogDebug("device buffer grown to %d elements (%d bytes)", capacity, byteSize)
	return nil
}

func (b *DeviceBuffer[T]) Len() int {
	return b.capacity
}

func (b *DeviceBuffer[T]) Write(offset int, data []T) {
	copy(b.mapped[offset:offset+len(data)], data)
}

// MarkDirty flushes the element range [lo, hi) to the device. Flush offsets
// must be aligned to nonCoherentAtomSize, so the range is widened as needed.
func (b *DeviceBuffer[T]) MarkDirty(lo, hi int) {
	if b.memory == nil || hi <= lo {
		return
	}
	var elem T
	elemSize := uint64(unsafe.Sizeof(elem))

	atom := b.context.Device.NonCoherentAtomSize
	if atom == 0 {
		atom = 1
	}

	byteLo := (uint64(lo) * elemSize) / atom * atom
	byteHi := uint64(hi) * elemSize
	byteHi = (byteHi + atom - 1) / atom * atom

	flushRange := vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: b.memory,
		Offset: vk.DeviceSize(byteLo),
		Size:   vk.DeviceSize(byteHi - byteLo),
	}
	if byteHi >= b.byteSize {
		flushRange.Size = vk.DeviceSize(vk.WholeSize)
	}

	if res := vk.FlushMappedMemoryRanges(b.context.Device.LogicalDevice, 1, []vk.MappedMemoryRange{flushRange}); res != vk.Success {
		core.LogError("failed to flush mapped memory range: %s", ResultString(res))
	}
}

func (b *DeviceBuffer[T]) Release() {
	if b.memory != nil {
		vk.DeviceWaitIdle(b.context.Device.LogicalDevice)
	}
	b.release()
}

func (b *DeviceBuffer[T]) release() {
	if b.memory != nil {
		vk.UnmapMemory(b.context.Device.LogicalDevice, b.memory)
		vk.FreeMemory(b.context.Device.LogicalDevice, b.memory, b.context.Allocator)
		b.memory = nil
	}
	if b.handle != nil {
		vk.DestroyBuffer(b.context.Device.LogicalDevice, b.handle, b.context.Allocator)
		b.handle = nil
	}
	b.mapped = nil
	b.capacity = 0
	b.byteSize = 0
}

// Handle returns the raw buffer for binding. Nil until the first grow.
func (b *DeviceBuffer[T]) Handle() vk.Buffer {
	return b.handle
}

var _ stream.Buffer[int] = (*DeviceBuffer[int])(nil)
