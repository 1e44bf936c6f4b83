package framegraph

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/statetrack"
	"github.com/gogpu/framegraph/staging"
)

// ExecuteContext is passed to Executor.Execute. The first pass of the node
// is already begun; later passes are begun in order with BeginPass.
type ExecuteContext struct {
	fg       *FrameGraph
	node     *nodeInstance
	cmd      gpucore.CommandBuffer
	staging  *staging.Buffer
	barriers *statetrack.PassBarriers
	pass     PassID
	open     bool
}

func (c *ExecuteContext) frameGraph() *FrameGraph { return c.fg }

// Logger returns the logger of the frame graph.
func (c *ExecuteContext) Logger() *slog.Logger { return c.fg.log() }

// Command returns the command buffer of the frame.
func (c *ExecuteContext) Command() gpucore.CommandBuffer { return c.cmd }

// FramesCount returns the number of frames executed before this one.
func (c *ExecuteContext) FramesCount() uint64 { return c.fg.frameCounter }

// BeginPass applies the barriers of pass id in one batch and opens its
// backend pass scope, closing the previous one. Passes must be begun in
// the order the node declared them.
func (c *ExecuteContext) BeginPass(id PassID) {
	n := c.node
	if id < n.passes.begin || id >= n.passes.end {
		panic(errors.AssertionFailedf("framegraph: pass %d does not belong to %s", id, n.typ.name))
	}
	if id == c.pass {
		return
	}
	if (c.pass == 0 && id != n.passes.begin) || (c.pass != 0 && id != c.pass+1) {
		panic(errors.AssertionFailedf("framegraph: %s began pass %d after pass %d", n.typ.name, id, c.pass))
	}
	c.EndPass()

	fg := c.fg
	p := &fg.frame.passes[id]
	b := gpucore.Barriers{Buffers: c.barriers.Pass(int(id))}
	for _, u := range p.textures {
		if p.kind == gpucore.PassNone && u.access != gpucore.Present {
			continue
		}
		if tb, ok := fg.tracker.AddTransition(fg.pool.Texture(u.index), p.kind, u.access); ok {
			b.Textures = append(b.Textures, tb)
		}
	}
	if !b.Empty() {
		c.cmd.ApplyBarriers(&b)
	}

	if p.kind != gpucore.PassNone {
		c.cmd.BeginPass(p.kind, n.typ.name)
		c.open = true
	}
	c.pass = id
}

// EndPass closes the backend pass scope of the current pass, if any.
func (c *ExecuteContext) EndPass() {
	if c.open {
		c.cmd.EndPass()
		c.open = false
	}
}

func (c *ExecuteContext) kind() gpucore.PassKind {
	if c.pass == 0 {
		return gpucore.PassNone
	}
	return c.fg.frame.passes[c.pass].kind
}

func (c *ExecuteContext) assertPass(kind gpucore.PassKind, op string) {
	if k := c.kind(); k != kind {
		panic(errors.AssertionFailedf("framegraph: %s of %s in a %s pass", op, c.node.typ.name, k))
	}
}

func (c *ExecuteContext) storageOf(p Pin) (storageID, *storage) {
	id := p.reference().mustStorage()
	return id, c.fg.storage(id)
}

// Texture returns the texture of pin this frame.
func (c *ExecuteContext) Texture(pin TexturePin) Texture {
	_, s := c.storageOf(pin)
	if s.texture == 0 {
		panic(errors.AssertionFailedf("framegraph: texture %q was not created or acquired", pin.ref.name))
	}
	return Texture{ID: c.fg.pool.Texture(s.texture), Desc: c.fg.pool.TextureDesc(s.texture)}
}

// Resolution returns the width and height of the texture of pin.
func (c *ExecuteContext) Resolution(pin TexturePin) (width, height uint32) {
	t := c.Texture(pin)
	return t.Desc.Width, t.Desc.Height
}

// Buffer returns the buffer range of pin this frame.
func (c *ExecuteContext) Buffer(pin BufferPin) gpucore.BufferRange {
	_, s := c.storageOf(pin)
	if s.buffer == 0 {
		panic(errors.AssertionFailedf("framegraph: buffer %q was not created or acquired", pin.ref.name))
	}
	return c.fg.pool.Buffer(s.buffer)
}

// HasSource reports whether pin reads the storage of another node.
func (c *ExecuteContext) HasSource(pin Pin) bool {
	_, s := c.storageOf(pin)
	return s.owner != c.node.vertex
}

// FramesAlive returns for how many frames the stable resource of pin has
// existed. Transient resources report 0.
func (c *ExecuteContext) FramesAlive(pin Pin) uint32 {
	_, s := c.storageOf(pin)
	switch {
	case s.texture != 0:
		return c.fg.pool.TextureFramesAlive(s.texture)
	case s.buffer != 0:
		return c.fg.pool.BufferFramesAlive(s.buffer)
	default:
		return 0
	}
}

// Dispatch records a compute dispatch in the current compute pass.
func (c *ExecuteContext) Dispatch(x, y, z uint32) {
	c.assertPass(gpucore.PassCompute, "Dispatch")
	c.cmd.Dispatch(x, y, z)
}

// DrawIndexed records an indexed draw in the current graphics pass.
func (c *ExecuteContext) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.assertPass(gpucore.PassGraphics, "DrawIndexed")
	c.cmd.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// TraceRays records a ray tracing dispatch in the current ray tracing pass.
func (c *ExecuteContext) TraceRays(width, height, depth uint32) {
	c.assertPass(gpucore.PassRaytracing, "TraceRays")
	c.cmd.TraceRays(width, height, depth)
}

// PushConstants updates push constants for the next dispatch or draw.
func (c *ExecuteContext) PushConstants(stages gpucore.ShaderStage, offset uint32, data []byte) {
	c.cmd.PushConstants(stages, offset, data)
}

// BindDescriptorSets binds resources for the next dispatch or draw.
func (c *ExecuteContext) BindDescriptorSets(bindings []gpucore.Binding) {
	c.cmd.BindDescriptorSets(bindings)
}

// Upload stages data and copies it into the buffer of pin at offset. It
// must be called in a transfer pass.
func (c *ExecuteContext) Upload(pin BufferPin, data []byte, offset uint64) error {
	c.assertPass(gpucore.PassTransfer, "Upload")
	if c.staging == nil {
		return ErrNoStagingBuffer
	}
	span, err := c.staging.Stage(data)
	if err != nil {
		c.fg.log().Warn("framegraph: upload staging exhausted", "node", c.node.typ.name, "size", len(data))
		return err
	}
	c.UploadStaged(pin, span, offset)
	return nil
}

// UploadStaged copies a span staged earlier this frame into the buffer of
// pin at offset.
func (c *ExecuteContext) UploadStaged(pin BufferPin, span staging.Span, offset uint64) {
	if c.staging == nil {
		panic(errors.AssertionFailedf("framegraph: UploadStaged without a staging buffer"))
	}
	rng := c.Buffer(pin)
	c.staging.Upload(c.cmd, span, rng.Buffer, rng.Offset+offset)
}

// UploadTexture copies a span staged with StageUploadImage into the first
// mip level of the texture of pin.
func (c *ExecuteContext) UploadTexture(pin TexturePin, span staging.Span) {
	c.assertPass(gpucore.PassTransfer, "UploadTexture")
	if c.staging == nil {
		panic(errors.AssertionFailedf("framegraph: UploadTexture without a staging buffer"))
	}
	t := c.Texture(pin)
	c.staging.UploadImage(c.cmd, span, t.ID, gpucore.BufferTextureCopy{
		BytesPerRow: t.Desc.Width * t.Desc.Format.BytesPerTexel(),
		Width:       t.Desc.Width,
		Height:      t.Desc.Height,
	})
}

// Download copies the buffer of pin into download staging. The buffer must
// have been acquired or created with BufferDownload in the current pass.
func (c *ExecuteContext) Download(pin BufferPin) *Download {
	c.assertPass(gpucore.PassTransfer, "Download")
	id, _ := c.storageOf(pin)
	p := &c.fg.frame.passes[c.pass]
	for _, d := range p.downloads {
		if d.storage != id {
			continue
		}
		if d.promise.staged {
			rng := c.fg.pool.Buffer(d.index)
			c.fg.download.Download(c.cmd, rng.Buffer, rng.Offset, d.promise.span)
		}
		return d.promise
	}
	panic(errors.AssertionFailedf("framegraph: download of %q was not declared during build", pin.ref.name))
}
