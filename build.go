package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"

	"github.com/gogpu/framegraph/bindless"
	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/staging"
)

// BuildArgs are the per-frame inputs of Build.
type BuildArgs struct {
	// Staging is the upload staging buffer. The caller begins its frame
	// before Build and ends it after Execute.
	Staging *staging.Buffer

	// Bindless receives the textures nodes acquire with AcquireBindless.
	Bindless *bindless.Registry
}

type buildMark struct {
	uploads  int
	bindless int
}

// Build prepares a frame: it enables the nodes reaching an enabled output,
// sorts them, lets each declare its passes and resources, and allocates the
// resources. Build must be followed by Execute.
//
// A node whose Build fails has its passes dropped and is not executed this
// frame; nodes reading its outputs are skipped as well. Such failures, and
// resources the device could not create, are logged and returned joined
// after the whole frame was built.
func (fg *FrameGraph) Build(args BuildArgs) error {
	fg.assertBetweenFrames("Build")
	start := hrtime.Now()

	fg.frame.reset()
	fg.frame.args = args
	fg.built = true

	fg.markActiveNodes()
	var errs []error
	if err := fg.rebuildRuntime(); err != nil {
		if errors.Is(err, ErrNotADAG) {
			fg.sorted = fg.sorted[:0]
			fg.recordBuildTime(hrtime.Since(start))
			return err
		}
		errs = append(errs, err)
	}

	fg.storages.Each(func(_ storageID, s *storage) bool {
		s.texture = 0
		s.buffer = 0
		return true
	})
	fg.pool.BeginBuild()

	ctx := &BuildContext{fg: fg}
	for _, n := range fg.sorted {
		first := PassID(len(fg.frame.passes))
		n.passes = passRange{begin: first, end: first}
		n.timing = NodeTiming{Name: n.typ.name, Subgraph: n.subgraph}
		if n.err != nil {
			continue
		}
		b, ok := n.impl.(Builder)
		if !ok {
			continue
		}

		mark := buildMark{uploads: len(fg.frame.uploads), bindless: len(fg.frame.bindless)}
		ctx.node, ctx.pass, ctx.err = n, 0, nil
		t0 := hrtime.Now()
		err := b.Build(ctx)
		n.timing.Build = hrtime.Since(t0)
		if err == nil {
			err = ctx.err
		}
		if err != nil {
			fg.dropNode(n, mark, err)
			errs = append(errs, n.err)
		}
	}
	ctx.node = nil

	fg.extendOutputs()
	if err := fg.pool.EndBuild(); err != nil {
		fg.log().Warn("framegraph: resource creation failed", "err", err)
		errs = append(errs, err)
		fg.skipUnallocated()
	}
	fg.resolveStorages()

	for _, b := range fg.frame.bindless {
		if id := fg.pool.Texture(b.index); id != gpucore.InvalidID {
			args.Bindless.SetExternal(b.handle, id, b.layout)
		}
	}

	fg.recordBuildTime(hrtime.Since(start))
	fg.log().Debug("framegraph: frame built",
		"frame", fg.frameCounter,
		"nodes", len(fg.sorted),
		"passes", len(fg.frame.passes)-1,
		"textures", fg.pool.TextureCount())
	return joinErrors(errs)
}

// dropNode discards everything n recorded this frame.
func (fg *FrameGraph) dropNode(n *nodeInstance, mark buildMark, err error) {
	clear(fg.frame.passes[n.passes.begin:])
	fg.frame.passes = fg.frame.passes[:n.passes.begin]
	n.passes.end = n.passes.begin

	fg.frame.uploads = fg.frame.uploads[:mark.uploads]
	for _, b := range fg.frame.bindless[mark.bindless:] {
		fg.frame.args.Bindless.Remove(b.handle)
	}
	fg.frame.bindless = fg.frame.bindless[:mark.bindless]

	// Readers of the outputs of n find no resource and are skipped.
	for i := range n.pins {
		id := n.pins[i].ref.storage
		if s := fg.storages.Get(id); s != nil && s.owner == n.vertex {
			s.texture, s.buffer = 0, 0
		}
	}

	if !errors.Is(err, ErrNodeSkipped) {
		err = errors.Wrapf(err, "framegraph: build %s", fg.describeNode(n))
	}
	n.err = err
	fg.log().Warn("framegraph: node build failed, dropping its passes",
		"node", n.typ.name, "subgraph", n.subgraph.String(), "err", err)
}

// extendOutputs keeps textures exposed as enabled outputs alive until the
// last pass, so no later pass aliases them.
func (fg *FrameGraph) extendOutputs() {
	last := len(fg.frame.passes) - 1
	if last < 1 {
		return
	}
	for _, h := range fg.subgraphs.Handles() {
		for _, out := range fg.subgraphs.Get(h).outputs {
			if !out.enabled {
				continue
			}
			p := fg.pinVertex(out.v)
			if p.decl.kind != PinTexture || !p.decl.ref.storage.Valid() {
				continue
			}
			if s := fg.storages.Get(p.decl.ref.storage); s != nil && s.texture != 0 {
				fg.pool.ExtendTexture(s.texture, last)
			}
		}
	}
}

// skipUnallocated marks the nodes using a resource the pool could not
// create.
func (fg *FrameGraph) skipUnallocated() {
	for i := 1; i < len(fg.frame.passes); i++ {
		p := &fg.frame.passes[i]
		if p.node.err != nil {
			continue
		}
		for _, u := range p.textures {
			if fg.pool.Texture(u.index) == gpucore.InvalidID {
				p.node.err = errors.Wrapf(ErrNodeSkipped, "%s: texture %q not created",
					fg.describeNode(p.node), fg.pool.TextureDesc(u.index).Label)
				break
			}
		}
		if p.node.err == nil {
			for _, u := range p.buffers {
				if fg.pool.Buffer(u.index).Buffer == gpucore.InvalidID {
					p.node.err = errors.Wrapf(ErrNodeSkipped, "%s: buffer not created", fg.describeNode(p.node))
					break
				}
			}
		}
		if p.node.err != nil {
			fg.log().Warn("framegraph: node skipped", "node", p.node.typ.name, "err", p.node.err)
		}
	}
}

// resolveStorages publishes the allocated resources into pin values.
func (fg *FrameGraph) resolveStorages() {
	fg.storages.Each(func(_ storageID, s *storage) bool {
		switch {
		case s.texture != 0:
			*s.value.(*Texture) = Texture{
				ID:   fg.pool.Texture(s.texture),
				Desc: fg.pool.TextureDesc(s.texture),
			}
		case s.buffer != 0:
			*s.value.(*gpucore.BufferRange) = fg.pool.Buffer(s.buffer)
		}
		return true
	})
}
