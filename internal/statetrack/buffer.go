package statetrack

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// BufferUse is one buffer access recorded by a pass during build.
// Key identifies the underlying buffer: two pins rerouted to the same buffer
// share a key.
type BufferUse[K comparable] struct {
	Key   K
	Range gpucore.BufferRange
	// Stages and Access are zero for accesses that only forward the buffer.
	Stages gpucore.PipelineStage
	Access gpucore.MemoryAccess
	Read   bool
	// Uploaded marks buffers written by the frame's upload flush.
	Uploaded bool
}

// UseFor converts a declared usage in a pass of the given kind into a BufferUse.
func UseFor[K comparable](key K, r gpucore.BufferRange, pass gpucore.PassKind, usage gpucore.BufferAccess) BufferUse[K] {
	return BufferUse[K]{
		Key:    key,
		Range:  r,
		Stages: pass.Stages(),
		Access: usage.Memory(),
		Read:   usage.IsRead(),
	}
}

// BufferHistory is the last synchronization scope of a buffer that lives
// across frames.
type BufferHistory struct {
	Stages gpucore.PipelineStage
	Access gpucore.MemoryAccess
	Read   bool
}

// HistoryStore persists the barrier history of stable buffers between frames.
type HistoryStore[K comparable] interface {
	IsStable(key K) bool
	LoadBufferHistory(key K) BufferHistory
	StoreBufferHistory(key K, h BufferHistory)
}

type bufferTracking struct {
	prevStages gpucore.PipelineStage
	prevAccess gpucore.MemoryAccess
	hasBarrier bool
	read       bool
	barrier    int
}

// PassBarriers holds the buffer barriers of every pass of a frame.
type PassBarriers struct {
	barriers []gpucore.BufferBarrier
	ranges   [][2]int
}

// Pass returns the barriers to apply before pass i.
func (p *PassBarriers) Pass(i int) []gpucore.BufferBarrier {
	if i < 0 || i >= len(p.ranges) {
		return nil
	}
	r := p.ranges[i]
	return p.barriers[r[0]:r[1]]
}

// Len returns the total number of barriers.
func (p *PassBarriers) Len() int { return len(p.barriers) }

// BuildBufferBarriers computes the buffer barriers of a frame given the
// buffer uses of each pass in execution order.
//
// A read following a read extends the earlier barrier instead of adding a new
// one. Stable buffers start from their stored history and store their final
// scope back into history.
func BuildBufferBarriers[K comparable](passes [][]BufferUse[K], history HistoryStore[K]) *PassBarriers {
	out := &PassBarriers{ranges: make([][2]int, len(passes))}
	tracking := make(map[K]*bufferTracking)
	var stable []K

	for i, uses := range passes {
		first := len(out.barriers)

		for _, u := range uses {
			tr, seen := tracking[u.Key]
			if !seen {
				tr = &bufferTracking{}
				tracking[u.Key] = tr
			}

			switch {
			case !seen && history != nil && history.IsStable(u.Key):
				if u.Uploaded {
					panic(errors.AssertionFailedf("statetrack: uploads to stable buffers are not supported"))
				}
				h := history.LoadBufferHistory(u.Key)
				tr.prevStages, tr.prevAccess, tr.read = h.Stages, h.Access, h.Read
				stable = append(stable, u.Key)
			case u.Uploaded && !tr.hasBarrier:
				tr.prevStages = gpucore.StageTransfer
				tr.prevAccess = gpucore.AccessMemoryWrite
			}

			if u.Stages == gpucore.StageNone {
				continue
			}
			if u.Access == gpucore.AccessNone {
				panic(errors.AssertionFailedf("statetrack: buffer use with stages %s has no access", u.Stages))
			}

			if u.Read && tr.hasBarrier && tr.read {
				b := &out.barriers[tr.barrier]
				b.StagesAfter |= u.Stages
				b.AccessAfter |= u.Access
				continue
			}

			if tr.hasBarrier {
				b := out.barriers[tr.barrier]
				tr.prevStages, tr.prevAccess = b.StagesAfter, b.AccessAfter
			}
			tr.hasBarrier = true
			tr.barrier = len(out.barriers)
			tr.read = u.Read

			out.barriers = append(out.barriers, gpucore.BufferBarrier{
				Range:        u.Range,
				StagesBefore: tr.prevStages,
				AccessBefore: tr.prevAccess,
				StagesAfter:  u.Stages,
				AccessAfter:  u.Access,
			})
		}

		out.ranges[i] = [2]int{first, len(out.barriers)}
	}

	for _, key := range stable {
		tr := tracking[key]
		if !tr.hasBarrier {
			continue
		}
		b := out.barriers[tr.barrier]
		history.StoreBufferHistory(key, BufferHistory{Stages: b.StagesAfter, Access: b.AccessAfter, Read: tr.read})
	}

	return out
}
