package stream

import (
	"slices"

	"golang.org/x/exp/constraints"
)

const (
	// VertexAlignment is the per-slot capacity rounding for vertex streams.
	// Small count changes stay inside the current capacity and never force
	// a repack; only crossing the boundary does.
	VertexAlignment = 512
	// InstanceAlignment is the per-slot capacity rounding for instance
	// transform streams. Instance arrays are far smaller than vertex arrays.
	InstanceAlignment = 128

	// VertexGrowth and InstanceGrowth are the coarser whole-buffer growth
	// granularities, bounding how often the device allocation is redone.
	VertexGrowth   = 2048
	InstanceGrowth = 512
)

// AlignUp rounds n up to the next multiple of align.
func AlignUp[T constraints.Integer](n, align T) T {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// Slot is one named object's placement inside a shared buffer.
// Invariant: Capacity == AlignUp(Count at last capacity change) >= Count,
// and after Repack all live slots occupy disjoint [Start, Start+Capacity)
// ranges whose capacities sum to Total.
type Slot struct {
	Start    uint32
	Count    uint32
	Capacity uint32
}

// RangeAllocator assigns capacity-aligned offsets to named objects inside a
// single shared buffer. Packing is a linear sweep in ascending id order with
// no fragmentation reuse; any capacity growth or removal triggers a full
// repack of every slot.
type RangeAllocator struct {
	slots     map[uint32]*Slot
	ids       []uint32 // ascending, kept in sync with slots
	alignment uint32
	total     uint32
	dirty     bool
}

func NewRangeAllocator(alignment uint32) *RangeAllocator {
	if alignment == 0 {
		alignment = 1
	}
	return &RangeAllocator{
		slots:     make(map[uint32]*Slot),
		alignment: alignment,
	}
}

func (ra *RangeAllocator) Has(id uint32) bool {
	_, ok := ra.slots[id]
	return ok
}

func (ra *RangeAllocator) Get(id uint32) (Slot, bool) {
	s, ok := ra.slots[id]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

func (ra *RangeAllocator) Len() int {
	return len(ra.slots)
}

// IDs returns the live ids in packing order (ascending).
func (ra *RangeAllocator) IDs() []uint32 {
	return ra.ids
}

// Total is the summed capacity of all live slots as of the last Repack.
func (ra *RangeAllocator) Total() uint32 {
	return ra.total
}

func (ra *RangeAllocator) Dirty() bool {
	return ra.dirty
}

// Add inserts a new slot for id. Start stays 0 until the next Repack.
// Adding an id that already exists behaves like Update.
func (ra *RangeAllocator) Add(id, count uint32) {
	if ra.Has(id) {
		ra.Update(id, count)
		return
	}
	ra.slots[id] = &Slot{
		Count:    count,
		Capacity: AlignUp(count, ra.alignment),
	}
	i, _ := slices.BinarySearch(ra.ids, id)
	ra.ids = slices.Insert(ra.ids, i, id)
	ra.dirty = true
}

// Update changes a slot's element count in place. Growing past the current
// capacity recomputes it and marks the packing dirty; shrinking or growing
// within capacity touches nothing else, which keeps the common case free of
// any buffer work beyond the eventual memcpy.
func (ra *RangeAllocator) Update(id, count uint32) {
	s, ok := ra.slots[id]
	if !ok {
		ra.Add(id, count)
		return
	}
	if count > s.Capacity {
		s.Capacity = AlignUp(count, ra.alignment)
		ra.dirty = true
	}
	s.Count = count
}

// Remove erases the slot for id, reporting whether it existed. Removal always
// dirties the packing: the freed address range has to be reclaimed.
func (ra *RangeAllocator) Remove(id uint32) bool {
	if _, ok := ra.slots[id]; !ok {
		return false
	}
	delete(ra.slots, id)
	i, _ := slices.BinarySearch(ra.ids, id)
	ra.ids = slices.Delete(ra.ids, i, i+1)
	ra.dirty = true
	return true
}

// Repack reassigns every slot's start offset in ascending id order and
// recomputes the total footprint. No-op when the packing is clean; repacking
// twice without intervening mutation yields identical offsets. Reports
// whether offsets were recomputed.
func (ra *RangeAllocator) Repack() bool {
	if !ra.dirty {
		return false
	}
	var offset uint32
	for _, id := range ra.ids {
		s := ra.slots[id]
		s.Start = offset
		offset += s.Capacity
	}
	ra.total = offset
	ra.dirty = false
	return true
}
