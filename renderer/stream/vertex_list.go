package stream

import "slices"

// DrawRange is the read-only view of a vertex slot handed to command
// recording: the vertex interval for one draw, plus the matching joint/weight
// interval when the mesh is skinned. Ranges are recomputed in lock-step with
// the packing and never persisted independently.
type DrawRange struct {
	VertexStart uint32
	VertexEnd   uint32
	JointStart  uint32
	JointEnd    uint32
}

// VertexList packs the vertex arrays of many named meshes into one shared
// buffer, with an optional auxiliary joint/weight stream whose slots mirror
// the vertex slots 1:1. Callers hand in their arrays via Set; the list keeps
// owned snapshots, so the caller's slice can be reused or freed immediately.
type VertexList[T any, JW any] struct {
	vertices *RangeAllocator
	joints   *RangeAllocator

	sources map[uint32][]T
	skins   map[uint32][]JW
	ranges  map[uint32]DrawRange

	buffer   Buffer[T]
	jwBuffer Buffer[JW]

	dirty bool
}

func NewVertexList[T any, JW any](buffer Buffer[T], jwBuffer Buffer[JW]) *VertexList[T, JW] {
	return &VertexList[T, JW]{
		vertices: NewRangeAllocator(VertexAlignment),
		joints:   NewRangeAllocator(VertexAlignment),
		sources:  make(map[uint32][]T),
		skins:    make(map[uint32][]JW),
		ranges:   make(map[uint32]DrawRange),
		buffer:   buffer,
		jwBuffer: jwBuffer,
	}
}

func (vl *VertexList[T, JW]) Has(id uint32) bool {
	return vl.vertices.Has(id)
}

func (vl *VertexList[T, JW]) Count(id uint32) uint32 {
	s, ok := vl.vertices.Get(id)
	if !ok {
		return 0
	}
	return s.Count
}

// Set stages the vertex data (and optional skin data) for id, snapshotting
// both slices. First call for an id creates its slot; later calls update it
// in place, growing capacity only when the new count crosses the alignment
// boundary.
func (vl *VertexList[T, JW]) Set(id uint32, vertices []T, skin []JW) {
	vl.sources[id] = slices.Clone(vertices)
	count := uint32(len(vertices))

	if vl.vertices.Has(id) {
		vl.vertices.Update(id, count)
	} else {
		vl.vertices.Add(id, count)
	}

	if len(skin) > 0 {
		vl.skins[id] = slices.Clone(skin)
		if vl.joints.Has(id) {
			vl.joints.Update(id, count)
		} else {
			vl.joints.Add(id, count)
		}
	} else if vl.joints.Has(id) {
		delete(vl.skins, id)
		vl.joints.Remove(id)
	}

	vl.dirty = true
}

// Remove drops the slot for id, reporting whether it existed. The freed
// address space is reclaimed on the next Upload's repack.
func (vl *VertexList[T, JW]) Remove(id uint32) bool {
	if !vl.vertices.Remove(id) {
		return false
	}
	vl.joints.Remove(id)
	delete(vl.sources, id)
	delete(vl.skins, id)
	delete(vl.ranges, id)
	vl.dirty = true
	return true
}

// NeedsRepack reports whether the next Upload will recompute offsets and may
// grow the shared buffer. The frame orchestrator uses this to decide whether
// a device-idle wait is required before uploading.
func (vl *VertexList[T, JW]) NeedsRepack() bool {
	return vl.vertices.Dirty() || vl.joints.Dirty()
}

// Upload repacks if needed, grows the shared buffers to the packed total and
// copies every live slot's snapshot to its assigned offset. No-op when
// nothing changed since the last Upload.
func (vl *VertexList[T, JW]) Upload() error {
	if !vl.dirty {
		return nil
	}

	vl.vertices.Repack()
	vl.joints.Repack()
	vl.rebuildRanges()

	if total := int(vl.vertices.Total()); total > 0 {
		if _, err := vl.buffer.EnsureCapacity(total); err != nil {
			return err
		}
		for _, id := range vl.vertices.IDs() {
			s, _ := vl.vertices.Get(id)
			if s.Count == 0 {
				continue
			}
			vl.buffer.Write(int(s.Start), vl.sources[id])
		}
		vl.buffer.MarkDirty(0, total)
	}

	if total := int(vl.joints.Total()); total > 0 {
		if _, err := vl.jwBuffer.EnsureCapacity(total); err != nil {
			return err
		}
		for _, id := range vl.joints.IDs() {
			s, _ := vl.joints.Get(id)
			if s.Count == 0 {
				continue
			}
			vl.jwBuffer.Write(int(s.Start), vl.skins[id])
		}
		vl.jwBuffer.MarkDirty(0, total)
	}

	vl.dirty = false
	return nil
}

func (vl *VertexList[T, JW]) rebuildRanges() {
	clear(vl.ranges)
	for _, id := range vl.vertices.IDs() {
		s, _ := vl.vertices.Get(id)
		r := DrawRange{
			VertexStart: s.Start,
			VertexEnd:   s.Start + s.Count,
		}
		if js, ok := vl.joints.Get(id); ok {
			r.JointStart = js.Start
			r.JointEnd = js.Start + js.Count
		}
		vl.ranges[id] = r
	}
}

// Range returns the draw range for id as of the last Upload.
func (vl *VertexList[T, JW]) Range(id uint32) (DrawRange, bool) {
	r, ok := vl.ranges[id]
	return r, ok
}

// IDs returns the live ids in packing order.
func (vl *VertexList[T, JW]) IDs() []uint32 {
	return vl.vertices.IDs()
}

func (vl *VertexList[T, JW]) TotalVertices() uint32 {
	return vl.vertices.Total()
}

func (vl *VertexList[T, JW]) TotalJoints() uint32 {
	return vl.joints.Total()
}

func (vl *VertexList[T, JW]) Buffer() Buffer[T] {
	return vl.buffer
}

func (vl *VertexList[T, JW]) JointBuffer() Buffer[JW] {
	return vl.jwBuffer
}

func (vl *VertexList[T, JW]) Release() {
	vl.buffer.Release()
	vl.jwBuffer.Release()
}
