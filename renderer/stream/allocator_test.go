package stream

import "testing"

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want uint32
	}{
		{0, 512, 0},
		{1, 512, 512},
		{100, 512, 512},
		{512, 512, 512},
		{513, 512, 1024},
		{600, 512, 1024},
		{127, 128, 128},
		{129, 128, 256},
		{42, 1, 42},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}

func TestRepackAssignsDisjointRanges(t *testing.T) {
	ra := NewRangeAllocator(512)
	counts := map[uint32]uint32{7: 100, 3: 1024, 12: 1, 5: 513, 9: 0}
	for id, c := range counts {
		ra.Add(id, c)
	}
	ra.Repack()

	var sum uint32
	type span struct{ lo, hi uint32 }
	var spans []span
	for id := range counts {
		s, ok := ra.Get(id)
		if !ok {
			t.Fatalf("slot %d missing after repack", id)
		}
		if s.Capacity < s.Count {
			t.Errorf("slot %d: capacity %d < count %d", id, s.Capacity, s.Count)
		}
		for _, sp := range spans {
			if s.Start < sp.hi && sp.lo < s.Start+s.Capacity {
				t.Errorf("slot %d [%d,%d) overlaps [%d,%d)", id, s.Start, s.Start+s.Capacity, sp.lo, sp.hi)
			}
		}
		spans = append(spans, span{s.Start, s.Start + s.Capacity})
		sum += s.Capacity
	}
	if sum != ra.Total() {
		t.Errorf("sum of capacities %d != total %d", sum, ra.Total())
	}
}

func TestRepackIsIdempotent(t *testing.T) {
	ra := NewRangeAllocator(512)
	ra.Add(1, 300)
	ra.Add(2, 700)
	ra.Repack()

	first := map[uint32]Slot{}
	for _, id := range ra.IDs() {
		s, _ := ra.Get(id)
		first[id] = s
	}

	if ra.Repack() {
		t.Error("second Repack without mutation reported a recompute")
	}
	for id, want := range first {
		got, _ := ra.Get(id)
		if got != want {
			t.Errorf("slot %d changed across idempotent repack: %+v != %+v", id, got, want)
		}
	}
}

func TestUpdateDirtyTransitions(t *testing.T) {
	ra := NewRangeAllocator(512)
	ra.Add(1, 100)
	ra.Repack()

	// Growing within capacity must not dirty the packing.
	ra.Update(1, 512)
	if ra.Dirty() {
		t.Error("update within capacity marked the allocator dirty")
	}

	// Crossing the capacity boundary must.
	ra.Update(1, 513)
	if !ra.Dirty() {
		t.Error("update beyond capacity did not mark the allocator dirty")
	}
}

func TestScenarioPacking(t *testing.T) {
	ra := NewRangeAllocator(512)
	ra.Add(1, 100)
	ra.Add(2, 50)
	ra.Repack()

	s1, _ := ra.Get(1)
	s2, _ := ra.Get(2)
	if s1.Start != 0 || s1.Capacity != 512 {
		t.Errorf("slot 1 = %+v, want start=0 capacity=512", s1)
	}
	if s2.Start != 512 || s2.Capacity != 512 {
		t.Errorf("slot 2 = %+v, want start=512 capacity=512", s2)
	}
	if ra.Total() != 1024 {
		t.Errorf("total = %d, want 1024", ra.Total())
	}

	// Growing slot 1 past its capacity shifts slot 2 on the next repack.
	ra.Update(1, 600)
	if !ra.Dirty() {
		t.Fatal("growth past capacity did not dirty the packing")
	}
	ra.Repack()

	s1, _ = ra.Get(1)
	s2, _ = ra.Get(2)
	if s1.Capacity != 1024 {
		t.Errorf("slot 1 capacity = %d, want 1024", s1.Capacity)
	}
	if s2.Start != 1024 {
		t.Errorf("slot 2 start = %d, want 1024", s2.Start)
	}
	if ra.Total() != 1536 {
		t.Errorf("total = %d, want 1536", ra.Total())
	}
}

func TestRemoveThenReAdd(t *testing.T) {
	ra := NewRangeAllocator(512)
	ra.Add(1, 100)
	ra.Add(2, 100)
	ra.Add(3, 100)
	ra.Repack()

	if !ra.Remove(2) {
		t.Fatal("Remove(2) reported missing slot")
	}
	if !ra.Dirty() {
		t.Error("removal did not dirty the packing")
	}
	ra.Add(2, 2000)
	ra.Repack()

	for _, a := range ra.IDs() {
		sa, _ := ra.Get(a)
		for _, b := range ra.IDs() {
			if a == b {
				continue
			}
			sb, _ := ra.Get(b)
			if sa.Start < sb.Start+sb.Capacity && sb.Start < sa.Start+sa.Capacity {
				t.Errorf("slots %d and %d overlap after re-add", a, b)
			}
		}
	}
}

func TestRemoveUnknownID(t *testing.T) {
	ra := NewRangeAllocator(512)
	ra.Add(1, 10)
	ra.Repack()
	if ra.Remove(99) {
		t.Error("Remove of unknown id reported success")
	}
	if ra.Dirty() {
		t.Error("Remove of unknown id dirtied the packing")
	}
}
