package stream

import "slices"

// InstanceRange is the per-object interval of a shared instance-transform
// buffer consumed by one instanced draw call.
type InstanceRange struct {
	Start uint32
	Count uint32
}

// InstanceList applies the same packing strategy as VertexList to per-object
// instance transform arrays. Instance slots use a finer alignment since the
// arrays are typically small.
type InstanceList[T any] struct {
	allocator *RangeAllocator
	sources   map[uint32][]T
	buffer    Buffer[T]
	dirty     bool
}

func NewInstanceList[T any](buffer Buffer[T]) *InstanceList[T] {
	return &InstanceList[T]{
		allocator: NewRangeAllocator(InstanceAlignment),
		sources:   make(map[uint32][]T),
		buffer:    buffer,
	}
}

func (il *InstanceList[T]) Has(id uint32) bool {
	return il.allocator.Has(id)
}

// Set stages the instance array for id, snapshotting the slice.
func (il *InstanceList[T]) Set(id uint32, instances []T) {
	il.sources[id] = slices.Clone(instances)
	count := uint32(len(instances))
	if il.allocator.Has(id) {
		il.allocator.Update(id, count)
	} else {
		il.allocator.Add(id, count)
	}
	il.dirty = true
}

func (il *InstanceList[T]) Remove(id uint32) bool {
	if !il.allocator.Remove(id) {
		return false
	}
	delete(il.sources, id)
	il.dirty = true
	return true
}

func (il *InstanceList[T]) NeedsRepack() bool {
	return il.allocator.Dirty()
}

// Upload repacks if needed and copies every live instance array into the
// shared buffer. No-op when nothing changed since the last Upload.
func (il *InstanceList[T]) Upload() error {
	if !il.dirty {
		return nil
	}

	il.allocator.Repack()

	if total := int(il.allocator.Total()); total > 0 {
		if _, err := il.buffer.EnsureCapacity(total); err != nil {
			return err
		}
		for _, id := range il.allocator.IDs() {
			s, _ := il.allocator.Get(id)
			if s.Count == 0 {
				continue
			}
			il.buffer.Write(int(s.Start), il.sources[id])
		}
		il.buffer.MarkDirty(0, total)
	}

	il.dirty = false
	return nil
}

// Range returns the instance interval for id. An id with a slot but zero
// instances yields an empty range, which draw recording skips.
func (il *InstanceList[T]) Range(id uint32) (InstanceRange, bool) {
	s, ok := il.allocator.Get(id)
	if !ok {
		return InstanceRange{}, false
	}
	return InstanceRange{Start: s.Start, Count: s.Count}, true
}

func (il *InstanceList[T]) IDs() []uint32 {
	return il.allocator.IDs()
}

func (il *InstanceList[T]) Total() uint32 {
	return il.allocator.Total()
}

func (il *InstanceList[T]) Buffer() Buffer[T] {
	return il.buffer
}

func (il *InstanceList[T]) Release() {
	il.buffer.Release()
}
