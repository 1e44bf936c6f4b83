// Package bindless manages slots of a bindless texture table.
//
// Slot 0 always holds a dummy texture so that shaders indexing an unset
// slot sample something valid. Released slots are reset to the dummy and
// reused in LIFO order.
package bindless

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// Handle identifies an acquired slot. The zero Handle is the dummy slot.
type Handle uint32

// Valid reports whether h refers to an acquired slot.
func (h Handle) Valid() bool { return h != 0 }

// Slot returns the table index of h, as seen by shaders.
func (h Handle) Slot() uint32 { return uint32(h) }

// Registry hands out slots of a gpucore.BindlessTable.
// It is not safe for concurrent use.
type Registry struct {
	table gpucore.BindlessTable
	live  []bool // indexed by slot, live[0] is the dummy
	free  []uint32
	count int
}

// New returns a registry over table with dummy bound to slot 0.
func New(table gpucore.BindlessTable, dummy gpucore.TextureID) *Registry {
	table.SetTexture(0, dummy, gpucore.LayoutShaderReadOnly)
	return &Registry{
		table: table,
		live:  []bool{true},
	}
}

// Acquire reserves a slot. The slot keeps the dummy texture until
// SetExternal is called.
func (r *Registry) Acquire() Handle {
	var slot uint32
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		slot = uint32(len(r.live))
		r.live = append(r.live, false)
	}
	r.live[slot] = true
	r.count++
	return Handle(slot)
}

// SetExternal points the slot of h at texture.
func (r *Registry) SetExternal(h Handle, texture gpucore.TextureID, layout gpucore.ImageLayout) {
	r.assertLive(h, "SetExternal")
	r.table.SetTexture(h.Slot(), texture, layout)
}

// Remove releases h and resets its slot to the dummy texture.
func (r *Registry) Remove(h Handle) {
	r.assertLive(h, "Remove")
	r.table.ClearTexture(h.Slot())
	r.live[h] = false
	r.free = append(r.free, h.Slot())
	r.count--
}

// Count returns the number of acquired slots, excluding the dummy.
func (r *Registry) Count() int { return r.count }

// Capacity returns the number of slots ever used, including the dummy.
func (r *Registry) Capacity() int { return len(r.live) }

func (r *Registry) assertLive(h Handle, op string) {
	if !h.Valid() || int(h) >= len(r.live) || !r.live[h] {
		panic(errors.AssertionFailedf("bindless: %s on unacquired slot %d", op, h))
	}
}
