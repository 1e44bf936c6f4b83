package framegraph

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/bindless"
	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/dag"
	"github.com/gogpu/framegraph/internal/respool"
	"github.com/gogpu/framegraph/staging"
)

// PassID identifies a pass declared during the current frame's build.
// The zero value is invalid.
type PassID uint32

type textureUse struct {
	index  respool.TextureIndex
	access gpucore.TextureAccess
}

type bufferUse struct {
	index    respool.BufferIndex
	access   gpucore.BufferAccess
	uploaded bool
}

type bufferDownload struct {
	storage storageID
	index   respool.BufferIndex
	promise *Download
}

type pass struct {
	kind      gpucore.PassKind
	node      *nodeInstance
	textures  []textureUse
	buffers   []bufferUse
	downloads []bufferDownload
}

type pendingUpload struct {
	span  staging.Span
	index respool.BufferIndex
}

type bindlessUse struct {
	handle bindless.Handle
	index  respool.TextureIndex
	layout gpucore.ImageLayout
}

type stashEntry struct {
	id    storageID
	saved storage
}

// frameState is everything recorded between Build and the end of Execute.
type frameState struct {
	args     BuildArgs
	passes   []pass
	uploads  []pendingUpload
	bindless []bindlessUse
	dynamic  []storageID
	stash    []stashEntry
}

func (f *frameState) reset() {
	clear(f.passes)
	f.passes = append(f.passes[:0], pass{})
	f.uploads = f.uploads[:0]
	f.bindless = f.bindless[:0]
	f.dynamic = f.dynamic[:0]
	f.stash = f.stash[:0]
	f.args = BuildArgs{}
}

// markActiveNodes enables exactly the nodes that reach an enabled output.
func (fg *FrameGraph) markActiveNodes() {
	var targets []dag.VertexID
	for _, h := range fg.subgraphs.Handles() {
		for _, out := range fg.subgraphs.Get(h).outputs {
			if out.enabled {
				targets = append(targets, out.v)
			}
		}
	}

	active := fg.graph.Ancestors(targets)
	for _, v := range fg.graph.Vertices() {
		lv := fg.graph.Vertex(v)
		if lv.kind == vertexNode {
			_, lv.node.enabled = active[v]
		}
	}
}

// rebuildRuntime sorts the enabled nodes, initializes new ones and points
// every pin at the storage it reads this frame.
func (fg *FrameGraph) rebuildRuntime() error {
	order, err := fg.graph.Sort()
	if err != nil {
		return errors.Wrap(ErrNotADAG, err.Error())
	}

	fg.sorted = fg.sorted[:0]
	pins := make([]dag.VertexID, 0, len(order))
	for _, v := range order {
		lv := fg.graph.Vertex(v)
		switch {
		case lv.kind == vertexPin:
			pins = append(pins, v)
		case lv.node.enabled:
			lv.node.err = nil
			fg.sorted = append(fg.sorted, lv.node)
		}
	}

	var errs []error
	for _, n := range fg.sorted {
		if n.initialized {
			continue
		}
		if init, ok := n.impl.(Initializer); ok {
			if err := init.Init(&InitContext{fg: fg, node: n}); err != nil {
				n.err = errors.Wrapf(err, "framegraph: init %s", fg.describeNode(n))
				fg.log().Warn("framegraph: node init failed, skipping it this frame",
					"node", n.typ.name, "subgraph", n.subgraph.String(), "err", err)
				errs = append(errs, n.err)
				continue
			}
		}
		n.initialized = true
	}

	fg.storages.Each(func(_ storageID, s *storage) bool {
		s.hasPathToOutput = false
		return true
	})

	for _, v := range pins {
		if p := fg.pinVertex(v); p.decl.kind != PinSink {
			fg.propagate(v, p, fg.graph.InEdges(v))
		}
	}
	// A sink references the storage downstream of it.
	for i := len(pins) - 1; i >= 0; i-- {
		if p := fg.pinVertex(pins[i]); p.decl.kind == PinSink {
			fg.propagate(pins[i], p, fg.graph.OutEdges(pins[i]))
		}
	}

	for _, h := range fg.subgraphs.Handles() {
		for _, out := range fg.subgraphs.Get(h).outputs {
			if out.enabled {
				fg.storage(fg.pinVertex(out.v).owned).hasPathToOutput = true
			}
		}
	}

	fg.log().Debug("framegraph: runtime rebuilt", "nodes", len(fg.sorted), "pins", len(pins))
	return joinErrors(errs)
}

func (fg *FrameGraph) propagate(v dag.VertexID, p *pinInstance, edges []dag.VertexID) {
	ref := p.decl.ref
	ref.storage = storageID{}
	for _, w := range edges {
		if lw := fg.graph.Vertex(w); lw.kind == vertexPin {
			ref.storage = lw.pin.decl.ref.storage
			break
		}
	}

	owned := fg.storage(p.owned)
	for _, w := range fg.graph.OutEdges(v) {
		lw := fg.graph.Vertex(w)
		if lw.kind == vertexPin && fg.graph.Vertex(lw.pin.node).node.enabled {
			owned.hasPathToOutput = true
			break
		}
	}

	if !ref.storage.Valid() {
		ref.storage = p.owned
		if p.decl.kind == PinSink {
			owned.typ.Clear(owned.value)
		}
	}
}

// finishFrame undoes the frame's reroutes and frees its dynamic storages.
func (fg *FrameGraph) finishFrame() {
	for i := len(fg.frame.stash) - 1; i >= 0; i-- {
		e := fg.frame.stash[i]
		if s := fg.storages.Get(e.id); s != nil {
			*s = e.saved
		}
	}
	for _, id := range fg.frame.dynamic {
		fg.storages.Remove(id)
	}
	clear(fg.events)
	fg.frame.reset()
	fg.frameCounter++
	fg.built = false
}

func (fg *FrameGraph) releaseRetained(id storageID) {
	s := fg.storages.Get(id)
	if s == nil {
		return
	}
	if t := s.value.(*Texture); t.ID != gpucore.InvalidID {
		fg.pool.DeferDestroyTexture(t.ID, fg.device.SubmitIndex())
	}
	fg.storages.Remove(id)
}
