package arena

import "testing"

func TestArenaInsertGet(t *testing.T) {
	var a Arena[string]

	h1 := a.Insert("a")
	h2 := a.Insert("b")

	if got := *a.Get(h1); got != "a" {
		t.Errorf("Get(h1) = %q, want %q", got, "a")
	}
	if got := *a.Get(h2); got != "b" {
		t.Errorf("Get(h2) = %q, want %q", got, "b")
	}
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}
}

func TestArenaStaleHandle(t *testing.T) {
	var a Arena[int]

	h := a.Insert(1)
	if !a.Remove(h) {
		t.Fatal("Remove() = false, want true")
	}
	if a.Get(h) != nil {
		t.Error("Get() on removed handle should return nil")
	}
	if a.Remove(h) {
		t.Error("second Remove() = true, want false")
	}

	// Slot reuse must not resurrect the old handle.
	h2 := a.Insert(2)
	if h2.Index() != h.Index() {
		t.Fatalf("slot not reused: %v vs %v", h2, h)
	}
	if a.Get(h) != nil {
		t.Error("stale handle resolved after slot reuse")
	}
	if got := *a.Get(h2); got != 2 {
		t.Errorf("Get(h2) = %d, want 2", got)
	}
}

func TestArenaZeroHandle(t *testing.T) {
	var a Arena[int]
	a.Insert(1)

	var h Handle
	if h.Valid() {
		t.Error("zero handle reported valid")
	}
	if a.Get(h) != nil {
		t.Error("zero handle resolved")
	}
	if h.String() != "invalid" {
		t.Errorf("String() = %q, want %q", h.String(), "invalid")
	}
}

func TestArenaEachOrder(t *testing.T) {
	var a Arena[int]
	hs := []Handle{a.Insert(10), a.Insert(20), a.Insert(30)}
	a.Remove(hs[1])

	var got []int
	a.Each(func(_ Handle, v *int) bool {
		got = append(got, *v)
		return true
	})
	if len(got) != 2 || got[0] != 10 || got[1] != 30 {
		t.Errorf("Each() visited %v, want [10 30]", got)
	}

	a.Clear()
	if a.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", a.Len())
	}
	for _, h := range hs {
		if a.Contains(h) {
			t.Errorf("handle %v still live after Clear", h)
		}
	}
}
