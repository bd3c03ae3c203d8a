package stream

import "testing"

type testMatrix [16]float32

func makeMatrices(n int, tag float32) []testMatrix {
	out := make([]testMatrix, n)
	for i := range out {
		out[i][0] = tag
		out[i][15] = float32(i)
	}
	return out
}

func TestInstanceUploadRoundTrip(t *testing.T) {
	buf := NewHostBuffer[testMatrix](InstanceGrowth)
	il := NewInstanceList[testMatrix](buf)

	src := makeMatrices(5, 3)
	il.Set(1, src)
	il.Set(2, makeMatrices(200, 4))
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}

	r, ok := il.Range(1)
	if !ok || r.Count != 5 {
		t.Fatalf("range for id 1 = %+v, ok=%v", r, ok)
	}
	for i, want := range src {
		if got := buf.At(int(r.Start) + i); got != want {
			t.Fatalf("element %d: got %v, want %v", i, got, want)
		}
	}

	r2, _ := il.Range(2)
	// 5 instances align to 128, so id 2 starts right after.
	if r2.Start != 128 {
		t.Errorf("id 2 start = %d, want 128", r2.Start)
	}
	if il.Total() != 128+256 {
		t.Errorf("total = %d, want 384", il.Total())
	}
}

func TestInstanceUpdateWithinCapacity(t *testing.T) {
	buf := NewHostBuffer[testMatrix](InstanceGrowth)
	il := NewInstanceList[testMatrix](buf)

	il.Set(1, makeMatrices(5, 1))
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}

	// 5 -> 100 stays inside the 128-aligned capacity: data is re-staged but
	// no repack is pending.
	il.Set(1, makeMatrices(100, 2))
	if il.NeedsRepack() {
		t.Error("growth within capacity requires a repack")
	}
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}
	r, _ := il.Range(1)
	if r.Count != 100 {
		t.Errorf("count = %d, want 100", r.Count)
	}
	if got := buf.At(int(r.Start)); got[0] != 2 {
		t.Errorf("updated data not uploaded: %v", got)
	}
}

func TestInstanceRemoveReclaimsSpace(t *testing.T) {
	buf := NewHostBuffer[testMatrix](InstanceGrowth)
	il := NewInstanceList[testMatrix](buf)

	il.Set(1, makeMatrices(128, 1))
	il.Set(2, makeMatrices(128, 2))
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}
	if il.Total() != 256 {
		t.Fatalf("total = %d, want 256", il.Total())
	}

	il.Remove(1)
	if !il.NeedsRepack() {
		t.Error("removal did not require a repack")
	}
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}
	if il.Total() != 128 {
		t.Errorf("total after removal = %d, want 128", il.Total())
	}
	r, _ := il.Range(2)
	if r.Start != 0 {
		t.Errorf("surviving slot start = %d, want 0 after reclaim", r.Start)
	}
}

func TestInstanceEmptyArrayKeepsSlot(t *testing.T) {
	buf := NewHostBuffer[testMatrix](InstanceGrowth)
	il := NewInstanceList[testMatrix](buf)

	il.Set(1, makeMatrices(10, 1))
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}
	il.Set(1, nil)
	if err := il.Upload(); err != nil {
		t.Fatal(err)
	}
	r, ok := il.Range(1)
	if !ok {
		t.Fatal("empty update destroyed the slot")
	}
	if r.Count != 0 {
		t.Errorf("count = %d, want 0", r.Count)
	}
}
