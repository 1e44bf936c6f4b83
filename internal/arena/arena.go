// Package arena provides a slot arena addressed by generation-checked handles.
//
// Removing a value bumps the generation of its slot, so a handle kept past
// the removal no longer resolves. Freed slots are reused LIFO.
package arena

import "fmt"

// Handle addresses a value in an Arena. The zero Handle is invalid.
type Handle struct {
	index uint32 // slot index + 1
	gen   uint32
}

// Valid reports whether h was produced by an Arena.
func (h Handle) Valid() bool { return h.index != 0 }

// Index returns the slot index of h. It is stable for the lifetime of the value.
func (h Handle) Index() int { return int(h.index) - 1 }

// String formats the handle as index@generation.
func (h Handle) String() string {
	if !h.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d@%d", h.Index(), h.gen)
}

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Arena stores values in slots. It is not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	var i uint32
	if n := len(a.free); n > 0 {
		i = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{gen: 1})
		i = uint32(len(a.slots) - 1)
	}
	s := &a.slots[i]
	s.value = v
	s.live = true
	a.count++
	return Handle{index: i + 1, gen: s.gen}
}

// Get returns a pointer to the value of h, or nil when h is stale or invalid.
// The pointer is valid until the next Insert.
func (a *Arena[T]) Get(h Handle) *T {
	if !h.Valid() || int(h.index) > len(a.slots) {
		return nil
	}
	s := &a.slots[h.index-1]
	if !s.live || s.gen != h.gen {
		return nil
	}
	return &s.value
}

// Contains reports whether h resolves to a live value.
func (a *Arena[T]) Contains(h Handle) bool {
	return a.Get(h) != nil
}

// Remove deletes the value of h. It reports false when h was already stale.
func (a *Arena[T]) Remove(h Handle) bool {
	if a.Get(h) == nil {
		return false
	}
	s := &a.slots[h.index-1]
	var zero T
	s.value = zero
	s.live = false
	s.gen++
	a.free = append(a.free, h.index-1)
	a.count--
	return true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int { return a.count }

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, *T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.live {
			continue
		}
		if !fn(Handle{index: uint32(i) + 1, gen: s.gen}, &s.value) {
			return
		}
	}
}

// Handles returns the handles of all live values in slot order.
func (a *Arena[T]) Handles() []Handle {
	out := make([]Handle, 0, a.count)
	a.Each(func(h Handle, _ *T) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Clear removes every value and invalidates all handles.
func (a *Arena[T]) Clear() {
	for i := range a.slots {
		if a.slots[i].live {
			a.Remove(Handle{index: uint32(i) + 1, gen: a.slots[i].gen})
		}
	}
}
