// Package statetrack derives minimal synchronization barriers from the
// usage categories passes declare.
//
// Textures are tracked by [Tracker], one (stage, access, layout) record per
// live texture. Buffers are tracked per frame by [BuildBufferBarriers].
package statetrack

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// ErrNotTracked is returned when querying a texture the tracker does not know.
var ErrNotTracked = errors.New("statetrack: texture layout not found in tracker")

// initialState is the state of a texture when tracking starts.
var initialState = gpucore.SyncState{
	Stage:  gpucore.StageTopOfPipe,
	Access: gpucore.AccessNone,
	Layout: gpucore.LayoutUndefined,
}

// Tracker holds the last known synchronization state of every tracked texture.
// It is not safe for concurrent use.
type Tracker struct {
	states map[gpucore.TextureID]gpucore.SyncState
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{states: make(map[gpucore.TextureID]gpucore.SyncState)}
}

// Track starts tracking id in the undefined initial state. Tracking an
// already tracked texture resets its state.
func (t *Tracker) Track(id gpucore.TextureID) {
	t.states[id] = initialState
}

// AddTransition records that the next access to id happens in a pass of the
// given kind with the given usage. It returns the barrier from the previous
// state to the deduced one and updates the tracked state.
//
// ok is false when the texture already is in the deduced state; the barrier
// is a no-op and must not be emitted. Repeated writes count as equal states:
// two StorageWrite accesses in consecutive compute passes get no barrier
// between them.
func (t *Tracker) AddTransition(id gpucore.TextureID, pass gpucore.PassKind, usage gpucore.TextureAccess) (b gpucore.TextureBarrier, ok bool) {
	if pass == gpucore.PassNone && usage != gpucore.Present {
		panic(errors.AssertionFailedf("statetrack: %s access on texture %d outside of a pass", usage, id))
	}
	old, tracked := t.states[id]
	if !tracked {
		panic(errors.AssertionFailedf("statetrack: texture %d is not tracked", id))
	}

	next := Deduce(pass, usage)
	t.states[id] = next

	b = gpucore.TextureBarrier{Texture: id, Before: old, After: next}
	return b, !b.IsNoop()
}

// Restore tracks id in a state carried over from an earlier tracker.
func (t *Tracker) Restore(id gpucore.TextureID, s gpucore.SyncState) {
	t.states[id] = s
}

// State returns the tracked state of id.
func (t *Tracker) State(id gpucore.TextureID) (gpucore.SyncState, bool) {
	s, ok := t.states[id]
	return s, ok
}

// Layout returns the tracked layout of id.
func (t *Tracker) Layout(id gpucore.TextureID) (gpucore.ImageLayout, error) {
	s, ok := t.states[id]
	if !ok {
		return gpucore.LayoutUndefined, errors.Wrapf(ErrNotTracked, "texture %d", id)
	}
	return s.Layout, nil
}

// Forget stops tracking id.
func (t *Tracker) Forget(id gpucore.TextureID) {
	delete(t.states, id)
}

// Reset stops tracking every texture.
func (t *Tracker) Reset() {
	clear(t.states)
}

// Len returns the number of tracked textures.
func (t *Tracker) Len() int { return len(t.states) }

// Deduce returns the destination state of a texture accessed with usage in a
// pass of the given kind. Transfer usages outside a transfer pass panic.
func Deduce(pass gpucore.PassKind, usage gpucore.TextureAccess) gpucore.SyncState {
	switch usage {
	case gpucore.DepthStencilRead:
		return gpucore.SyncState{
			Stage:  gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests,
			Access: gpucore.AccessDepthStencilRead,
			Layout: gpucore.LayoutDepthStencilAttachment,
		}
	case gpucore.DepthStencilWrite:
		return gpucore.SyncState{
			Stage:  gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests,
			Access: gpucore.AccessDepthStencilWrite,
			Layout: gpucore.LayoutDepthStencilAttachment,
		}
	case gpucore.RenderTargetWrite:
		return gpucore.SyncState{
			Stage:  gpucore.StageColorAttachmentOutput,
			Access: gpucore.AccessColorAttachmentWrite,
			Layout: gpucore.LayoutColorAttachment,
		}
	case gpucore.ShaderRead:
		return gpucore.SyncState{
			Stage:  shaderStage(pass),
			Access: gpucore.AccessShaderRead,
			Layout: gpucore.LayoutShaderReadOnly,
		}
	case gpucore.StorageRead:
		return gpucore.SyncState{
			Stage:  shaderStage(pass),
			Access: gpucore.AccessMemoryRead,
			Layout: gpucore.LayoutGeneral,
		}
	case gpucore.StorageWrite:
		return gpucore.SyncState{
			Stage:  shaderStage(pass),
			Access: gpucore.AccessMemoryWrite,
			Layout: gpucore.LayoutGeneral,
		}
	case gpucore.TransferSource:
		assertTransfer(pass, usage)
		return gpucore.SyncState{
			Stage:  gpucore.StageTransfer,
			Access: gpucore.AccessTransferRead,
			Layout: gpucore.LayoutTransferSrc,
		}
	case gpucore.TransferDestination:
		assertTransfer(pass, usage)
		return gpucore.SyncState{
			Stage:  gpucore.StageTransfer,
			Access: gpucore.AccessTransferWrite,
			Layout: gpucore.LayoutTransferDst,
		}
	case gpucore.Present:
		return gpucore.SyncState{
			Stage:  gpucore.StageBottomOfPipe,
			Access: gpucore.AccessNone,
			Layout: gpucore.LayoutPresent,
		}
	default:
		panic(errors.AssertionFailedf("statetrack: unknown texture usage %s", usage))
	}
}

// DeduceLayout returns the layout a texture is in when accessed with usage.
func DeduceLayout(usage gpucore.TextureAccess) gpucore.ImageLayout {
	switch usage {
	case gpucore.TransferSource:
		return gpucore.LayoutTransferSrc
	case gpucore.TransferDestination:
		return gpucore.LayoutTransferDst
	default:
		return Deduce(gpucore.PassNone, usage).Layout
	}
}

// shaderStage is the stage textures are read in by a pass of the given kind.
// Graphics passes are assumed to sample in the fragment shader.
func shaderStage(pass gpucore.PassKind) gpucore.PipelineStage {
	switch pass {
	case gpucore.PassCompute:
		return gpucore.StageComputeShader
	case gpucore.PassGraphics:
		return gpucore.StageFragmentShader
	case gpucore.PassRaytracing:
		return gpucore.StageRayTracingShader
	default:
		return gpucore.StageNone
	}
}

func assertTransfer(pass gpucore.PassKind, usage gpucore.TextureAccess) {
	if pass != gpucore.PassTransfer {
		panic(errors.AssertionFailedf("statetrack: %s requires a transfer pass, got %s", usage, pass))
	}
}
