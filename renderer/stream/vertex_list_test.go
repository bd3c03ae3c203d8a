package stream

import "testing"

type testVertex struct {
	X, Y, Z float32
	ID      uint32
}

type testJoint struct {
	Joint  [4]uint32
	Weight [4]float32
}

func makeVertices(n int, tag uint32) []testVertex {
	out := make([]testVertex, n)
	for i := range out {
		out[i] = testVertex{X: float32(i), Y: float32(i * 2), ID: tag}
	}
	return out
}

func newTestVertexList() (*VertexList[testVertex, testJoint], *HostBuffer[testVertex], *HostBuffer[testJoint]) {
	buf := NewHostBuffer[testVertex](VertexGrowth)
	jw := NewHostBuffer[testJoint](VertexGrowth)
	return NewVertexList[testVertex, testJoint](buf, jw), buf, jw
}

func TestVertexUploadRoundTrip(t *testing.T) {
	vl, buf, _ := newTestVertexList()

	src1 := makeVertices(100, 1)
	src2 := makeVertices(50, 2)
	vl.Set(1, src1, nil)
	vl.Set(2, src2, nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}

	for id, src := range map[uint32][]testVertex{1: src1, 2: src2} {
		r, ok := vl.Range(id)
		if !ok {
			t.Fatalf("no range for id %d", id)
		}
		if int(r.VertexEnd-r.VertexStart) != len(src) {
			t.Fatalf("id %d: range length %d, want %d", id, r.VertexEnd-r.VertexStart, len(src))
		}
		for i, want := range src {
			if got := buf.At(int(r.VertexStart) + i); got != want {
				t.Fatalf("id %d element %d: got %+v, want %+v", id, i, got, want)
			}
		}
	}
}

func TestVertexSnapshotIsolation(t *testing.T) {
	vl, buf, _ := newTestVertexList()

	src := makeVertices(10, 7)
	vl.Set(1, src, nil)

	// Caller reuses its slice before the upload runs.
	for i := range src {
		src[i] = testVertex{X: -1, Y: -1, Z: -1, ID: 999}
	}

	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	r, _ := vl.Range(1)
	if got := buf.At(int(r.VertexStart)); got.ID != 7 {
		t.Errorf("upload saw caller mutation: %+v", got)
	}
}

func TestVertexJointLockStep(t *testing.T) {
	vl, _, jwBuf := newTestVertexList()

	skinned := makeVertices(600, 1)
	skin := make([]testJoint, 600)
	for i := range skin {
		skin[i] = testJoint{Joint: [4]uint32{uint32(i), 0, 0, 0}, Weight: [4]float32{1, 0, 0, 0}}
	}
	rigid := makeVertices(100, 2)

	vl.Set(1, skinned, skin)
	vl.Set(2, rigid, nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}

	r1, _ := vl.Range(1)
	if r1.JointEnd-r1.JointStart != 600 {
		t.Errorf("skinned mesh joint range = [%d,%d), want 600 elements", r1.JointStart, r1.JointEnd)
	}
	for i := 0; i < 600; i++ {
		if got := jwBuf.At(int(r1.JointStart) + i); got.Joint[0] != uint32(i) {
			t.Fatalf("joint element %d not round-tripped: %+v", i, got)
		}
	}

	r2, _ := vl.Range(2)
	if r2.JointStart != 0 || r2.JointEnd != 0 {
		t.Errorf("rigid mesh has joint range [%d,%d), want empty", r2.JointStart, r2.JointEnd)
	}
	if vl.TotalJoints() != 1024 {
		t.Errorf("joint total = %d, want 1024 (600 aligned to 512)", vl.TotalJoints())
	}
}

func TestVertexZeroCountSlot(t *testing.T) {
	vl, _, _ := newTestVertexList()

	vl.Set(1, makeVertices(100, 1), nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}

	// Shrinking to zero keeps the slot alive but empties the draw range.
	vl.Set(1, nil, nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	if !vl.Has(1) {
		t.Fatal("zero-count update destroyed the slot")
	}
	r, ok := vl.Range(1)
	if !ok {
		t.Fatal("zero-count slot has no range")
	}
	if r.VertexEnd != r.VertexStart {
		t.Errorf("zero-count slot has non-empty range [%d,%d)", r.VertexStart, r.VertexEnd)
	}
}

func TestVertexUploadNoOpWhenClean(t *testing.T) {
	vl, buf, _ := newTestVertexList()

	vl.Set(1, makeVertices(10, 1), nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	buf.ResetDirty()

	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := buf.DirtyRange(); ok {
		t.Error("clean Upload touched the buffer")
	}
}

func TestVertexBufferGrowthGranularity(t *testing.T) {
	vl, buf, _ := newTestVertexList()

	vl.Set(1, makeVertices(100, 1), nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%VertexGrowth != 0 {
		t.Errorf("buffer capacity %d not a multiple of growth granularity %d", buf.Len(), VertexGrowth)
	}
}

func TestVertexRemove(t *testing.T) {
	vl, _, _ := newTestVertexList()

	vl.Set(1, makeVertices(10, 1), nil)
	vl.Set(2, makeVertices(10, 2), nil)
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}

	if !vl.Remove(1) {
		t.Fatal("Remove(1) reported missing slot")
	}
	if vl.Remove(1) {
		t.Error("second Remove(1) reported success")
	}
	if !vl.NeedsRepack() {
		t.Error("removal did not require a repack")
	}
	if err := vl.Upload(); err != nil {
		t.Fatal(err)
	}
	if _, ok := vl.Range(1); ok {
		t.Error("removed slot still has a draw range")
	}
	if vl.TotalVertices() != 512 {
		t.Errorf("total after removal = %d, want 512", vl.TotalVertices())
	}
}
