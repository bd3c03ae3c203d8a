package stream

// Buffer is the small GPU-buffer capability the packing core is written
// against. Each graphics API implements it once at the leaf; the allocator
// and list logic never touch an API handle directly.
//
// A Buffer holds elements of a single POD type. Growth gives no content
// guarantee: a grow is always followed by a full repack and re-copy of every
// live slot, so preserving old bytes would be wasted work.
type Buffer[T any] interface {
	// EnsureCapacity grows the backing allocation to hold at least n
	// elements, rounding up to the buffer's growth granularity. Reports
	// whether a reallocation happened.
	EnsureCapacity(n int) (bool, error)
	// Len returns the current capacity in elements.
	Len() int
	// Write copies data into the buffer starting at the given element offset.
	Write(offset int, data []T)
	// MarkDirty flags the element range [lo, hi) as needing a flush to the GPU.
	MarkDirty(lo, hi int)
	// Release frees the backing allocation. The buffer must not be used after.
	Release()
}

// HostBuffer is a plain in-memory Buffer. It backs tests and acts as CPU
// staging where no device is involved.
type HostBuffer[T any] struct {
	data        []T
	granularity int

	dirtyLo, dirtyHi int
}

func NewHostBuffer[T any](granularity int) *HostBuffer[T] {
	if granularity <= 0 {
		granularity = 1
	}
	return &HostBuffer[T]{granularity: granularity, dirtyLo: -1, dirtyHi: -1}
}

func (b *HostBuffer[T]) EnsureCapacity(n int) (bool, error) {
	if n <= len(b.data) {
		return false, nil
	}
	b.data = make([]T, AlignUp(n, b.granularity))
	return true, nil
}

func (b *HostBuffer[T]) Len() int {
	return len(b.data)
}

func (b *HostBuffer[T]) Write(offset int, data []T) {
	copy(b.data[offset:offset+len(data)], data)
}

func (b *HostBuffer[T]) MarkDirty(lo, hi int) {
	if b.dirtyLo < 0 || lo < b.dirtyLo {
		b.dirtyLo = lo
	}
	if hi > b.dirtyHi {
		b.dirtyHi = hi
	}
}

// DirtyRange returns the accumulated dirty element range and whether any
// range was marked since the last reset.
func (b *HostBuffer[T]) DirtyRange() (lo, hi int, ok bool) {
	if b.dirtyLo < 0 {
		return 0, 0, false
	}
	return b.dirtyLo, b.dirtyHi, true
}

func (b *HostBuffer[T]) ResetDirty() {
	b.dirtyLo = -1
	b.dirtyHi = -1
}

// At reads back a single element, for verification.
func (b *HostBuffer[T]) At(i int) T {
	return b.data[i]
}

// Slice returns the live backing storage.
func (b *HostBuffer[T]) Slice() []T {
	return b.data
}

func (b *HostBuffer[T]) Release() {
	b.data = nil
}
