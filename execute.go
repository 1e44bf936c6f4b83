package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"

	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/respool"
	"github.com/gogpu/framegraph/internal/statetrack"
	"github.com/gogpu/framegraph/staging"
)

// ExecuteArgs are the per-frame inputs of Execute.
type ExecuteArgs struct {
	// Command receives every command of the frame. The caller submits it
	// after Execute returns.
	Command gpucore.CommandBuffer

	// Staging is the upload staging buffer. Nil uses BuildArgs.Staging.
	Staging *staging.Buffer
}

var (
	uploadBarrierBefore = gpucore.MemoryBarrier{
		StagesBefore: gpucore.StageAllCommands,
		AccessBefore: gpucore.AccessMemoryRead,
		StagesAfter:  gpucore.StageTransfer,
		AccessAfter:  gpucore.AccessTransferWrite,
	}
	uploadBarrierAfter = gpucore.MemoryBarrier{
		StagesBefore: gpucore.StageTransfer,
		AccessBefore: gpucore.AccessTransferWrite,
		StagesAfter:  gpucore.StageAllCommands,
		AccessAfter:  gpucore.AccessMemoryRead,
	}
)

// Execute records the frame prepared by Build into args.Command: pending
// uploads, then for every node its barriers and commands, in sorted order.
// Downloads of earlier frames the GPU finished are resolved at the end.
//
// Errors returned by nodes are logged and returned joined; the remaining
// passes of a failing node still get their barriers.
func (fg *FrameGraph) Execute(args ExecuteArgs) error {
	fg.assertOpen()
	if !fg.built {
		panic(errors.AssertionFailedf("framegraph: Execute without Build"))
	}
	if args.Command == nil {
		panic(errors.AssertionFailedf("framegraph: Execute without a command buffer"))
	}
	start := hrtime.Now()

	sb := args.Staging
	if sb == nil {
		sb = fg.frame.args.Staging
	}
	submit := fg.device.SubmitIndex()
	fg.download.BeginFrame(submit)

	if len(fg.frame.uploads) > 0 {
		fg.flushUploads(args.Command, sb)
	}
	fg.stageDownloads(submit)
	fg.seedTracker()

	ctx := &ExecuteContext{
		fg:       fg,
		cmd:      args.Command,
		staging:  sb,
		barriers: fg.bufferBarriers(),
	}

	var errs []error
	for _, n := range fg.sorted {
		if n.err != nil {
			continue
		}
		ctx.node, ctx.pass = n, 0
		if !n.passes.empty() {
			ctx.BeginPass(n.passes.begin)
		}

		var err error
		if e, ok := n.impl.(Executor); ok {
			t0 := hrtime.Now()
			err = e.Execute(ctx)
			n.timing.Execute = hrtime.Since(t0)
		}

		if err != nil {
			err = errors.Wrapf(err, "framegraph: execute %s", fg.describeNode(n))
			fg.log().Warn("framegraph: node execute failed", "node", n.typ.name, "err", err)
			errs = append(errs, err)
			for id := max(ctx.pass+1, n.passes.begin); id < n.passes.end; id++ {
				ctx.BeginPass(id)
			}
		} else if !n.passes.empty() && ctx.pass != n.passes.end-1 {
			panic(errors.AssertionFailedf("framegraph: %s began pass %d of %d..%d",
				n.typ.name, ctx.pass, n.passes.begin, n.passes.end-1))
		}
		ctx.EndPass()
	}
	ctx.node = nil

	for _, b := range fg.frame.bindless {
		fg.frame.args.Bindless.Remove(b.handle)
	}

	fg.download.EndFrame()
	fg.flushDownloads()

	fg.recordExecuteTime(hrtime.Since(start))
	fg.finishFrame()
	return joinErrors(errs)
}

// flushUploads copies the data staged during build into its buffers,
// bracketed by global memory barriers.
func (fg *FrameGraph) flushUploads(cmd gpucore.CommandBuffer, sb *staging.Buffer) {
	if sb == nil {
		panic(errors.AssertionFailedf("framegraph: pending uploads without a staging buffer"))
	}
	cmd.ApplyBarriers(&gpucore.Barriers{Memory: []gpucore.MemoryBarrier{uploadBarrierBefore}})
	for _, u := range fg.frame.uploads {
		rng := fg.pool.Buffer(u.index)
		if rng.Buffer == gpucore.InvalidID {
			continue
		}
		sb.Upload(cmd, u.span, rng.Buffer, rng.Offset)
	}
	cmd.ApplyBarriers(&gpucore.Barriers{Memory: []gpucore.MemoryBarrier{uploadBarrierAfter}})
}

// stageDownloads reserves download staging space for every download of the
// frame. Downloads that do not fit fail right away.
func (fg *FrameGraph) stageDownloads(submit uint64) {
	for i := 1; i < len(fg.frame.passes); i++ {
		p := &fg.frame.passes[i]
		if p.node.err != nil {
			continue
		}
		for j := range p.downloads {
			d := &p.downloads[j]
			d.promise = newDownload(submit)
			size := fg.pool.Buffer(d.index).Size
			span, err := fg.download.StageAllocate(size)
			if err != nil {
				fg.log().Warn("framegraph: download staging exhausted",
					"node", p.node.typ.name, "size", size, "err", err)
				d.promise.fail(errors.Wrapf(ErrDownloadFailed, "%s: %v", p.node.typ.name, err))
				continue
			}
			d.promise.span = span
			d.promise.staged = true
			fg.pendingDownloads = append(fg.pendingDownloads, d.promise)
		}
	}
}

// flushDownloads resolves the downloads of every submit the GPU finished.
func (fg *FrameGraph) flushDownloads() {
	last := fg.device.LastFinishedSubmit()

	n := 0
	for _, d := range fg.pendingDownloads {
		if d.submit > last {
			break
		}
		data := make([]byte, d.span.Size())
		if err := fg.download.CopyFrom(data, d.span, 0); err != nil {
			d.fail(errors.Wrapf(ErrDownloadFailed, "%v", err))
		} else {
			d.resolve(data)
		}
		n++
	}
	clear(fg.pendingDownloads[:n])
	fg.pendingDownloads = append(fg.pendingDownloads[:0], fg.pendingDownloads[n:]...)

	fg.download.NotifyFinishedFrames(last)
}

// seedTracker tracks every texture of the frame. Pool transients start
// undefined; stable, external and retained textures keep the state the
// previous frames left them in.
func (fg *FrameGraph) seedTracker() {
	prev := fg.tracker
	next := statetrack.New()
	carry := func(id gpucore.TextureID) {
		if _, seen := next.State(id); seen {
			return
		}
		if s, ok := prev.State(id); ok {
			next.Restore(id, s)
			return
		}
		next.Track(id)
	}

	for i := 1; i <= fg.pool.TextureCount(); i++ {
		idx := respool.TextureIndex(i)
		id := fg.pool.Texture(idx)
		if id == gpucore.InvalidID {
			continue
		}
		if fg.pool.IsExternal(idx) || fg.pool.IsStableTexture(idx) {
			carry(id)
		} else {
			next.Track(id)
		}
	}
	fg.storages.Each(func(_ storageID, s *storage) bool {
		if s.retained {
			if id := s.value.(*Texture).ID; id != gpucore.InvalidID {
				carry(id)
			}
		}
		return true
	})

	fg.tracker = next
}

// bufferBarriers computes the buffer barriers of every pass that runs.
func (fg *FrameGraph) bufferBarriers() *statetrack.PassBarriers {
	passes := make([][]statetrack.BufferUse[respool.BufferIndex], len(fg.frame.passes))
	for i := 1; i < len(fg.frame.passes); i++ {
		p := &fg.frame.passes[i]
		if p.node.err != nil {
			continue
		}
		for _, u := range p.buffers {
			use := statetrack.UseFor(u.index, fg.pool.Buffer(u.index), p.kind, u.access)
			use.Uploaded = u.uploaded
			passes[i] = append(passes[i], use)
		}
	}
	return statetrack.BuildBufferBarriers(passes, fg.pool)
}
