package software

import (
	"sync"

	"github.com/gogpu/framegraph/gpucore"
)

// BindlessEntry is the content of one bindless slot.
type BindlessEntry struct {
	Texture gpucore.TextureID
	Layout  gpucore.ImageLayout
}

// BindlessTable is an in-memory gpucore.BindlessTable.
type BindlessTable struct {
	mu    sync.Mutex
	slots map[uint32]BindlessEntry
}

// NewBindlessTable returns an empty table.
func NewBindlessTable() *BindlessTable {
	return &BindlessTable{slots: make(map[uint32]BindlessEntry)}
}

// SetTexture points slot at texture.
func (t *BindlessTable) SetTexture(slot uint32, texture gpucore.TextureID, layout gpucore.ImageLayout) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[slot] = BindlessEntry{Texture: texture, Layout: layout}
}

// ClearTexture points slot at the texture of slot 0, or empties it when
// slot 0 was never set.
func (t *BindlessTable) ClearTexture(slot uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dummy, ok := t.slots[0]; ok && slot != 0 {
		t.slots[slot] = dummy
		return
	}
	delete(t.slots, slot)
}

// Entry returns the content of slot.
func (t *BindlessTable) Entry(slot uint32) (BindlessEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.slots[slot]
	return e, ok
}

var _ gpucore.BindlessTable = (*BindlessTable)(nil)
