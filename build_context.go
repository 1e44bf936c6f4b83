package framegraph

import (
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/bindless"
	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/respool"
	"github.com/gogpu/framegraph/internal/statetrack"
	"github.com/gogpu/framegraph/staging"
)

// TextureDesc describes a texture created by a node.
type TextureDesc struct {
	gpucore.TextureDesc

	// Stable keeps the texture across frames instead of aliasing it, for
	// history effects such as temporal accumulation.
	Stable bool
}

// BufferDesc describes a buffer created by a node.
type BufferDesc struct {
	Label string
	// Size defaults to len(Data) when zero.
	Size uint64
	// Data is uploaded into the buffer before the frame's first pass.
	Data []byte
	// Stable keeps the buffer and its contents across frames. Stable
	// buffers cannot be created with Data.
	Stable bool
}

// RetainedTexture is a texture owned by a subgraph across frames. It is
// destroyed with DestroyRetainedTexture or when its subgraph is removed.
type RetainedTexture struct {
	id storageID
}

// Valid reports whether h refers to a created texture.
func (h RetainedTexture) Valid() bool { return h.id.Valid() }

// BuildContext is passed to Builder.Build. Every resource access is recorded
// on the current pass, the last one declared by the node.
type BuildContext struct {
	fg   *FrameGraph
	node *nodeInstance
	pass PassID
	err  error
}

func (c *BuildContext) frameGraph() *FrameGraph { return c.fg }

// Logger returns the logger of the frame graph.
func (c *BuildContext) Logger() *slog.Logger { return c.fg.log() }

// FramesCount returns the number of frames executed so far.
func (c *BuildContext) FramesCount() uint64 { return c.fg.frameCounter }

func (c *BuildContext) beginPass(kind gpucore.PassKind) PassID {
	fg := c.fg
	fg.frame.passes = append(fg.frame.passes, pass{kind: kind, node: c.node})
	c.pass = PassID(len(fg.frame.passes) - 1)
	c.node.passes.end = c.pass + 1
	return c.pass
}

// ComputePass declares a compute pass.
func (c *BuildContext) ComputePass() PassID { return c.beginPass(gpucore.PassCompute) }

// GraphicsPass declares a graphics pass.
func (c *BuildContext) GraphicsPass() PassID { return c.beginPass(gpucore.PassGraphics) }

// RaytracingPass declares a ray tracing pass.
func (c *BuildContext) RaytracingPass() PassID { return c.beginPass(gpucore.PassRaytracing) }

// TransferPass declares a transfer pass. Copies, uploads and downloads
// happen in transfer passes.
func (c *BuildContext) TransferPass() PassID { return c.beginPass(gpucore.PassTransfer) }

// EmptyPass declares a pass that records no GPU work. Accesses recorded on
// it only forward resources.
func (c *BuildContext) EmptyPass() PassID { return c.beginPass(gpucore.PassNone) }

func (c *BuildContext) current() *pass {
	if c.pass == 0 {
		panic(errors.AssertionFailedf("framegraph: %s accessed a resource before declaring a pass", c.node.typ.name))
	}
	return &c.fg.frame.passes[c.pass]
}

// skip records that the node cannot run this frame. The node's passes are
// dropped once Build returns.
func (c *BuildContext) skip(format string, args ...any) {
	if c.err == nil {
		c.err = errors.Wrapf(ErrNodeSkipped, format, args...)
	}
}

func (c *BuildContext) storageOf(p Pin) (storageID, *storage) {
	id := p.reference().mustStorage()
	return id, c.fg.storage(id)
}

// assertOwned panics unless s is the transient storage of a pin of the
// current node. Input pins resolve to their source's storage.
func (c *BuildContext) assertOwned(s *storage, pin Pin, op string) {
	if s.owner != c.node.vertex || s.retained {
		panic(errors.AssertionFailedf("framegraph: %s: %s on pin %q it does not own",
			c.node.typ.name, op, pin.reference().name))
	}
}

// textureIndex returns the pool index of the texture behind s, importing
// external and retained textures on first use in the frame.
func (c *BuildContext) textureIndex(s *storage) respool.TextureIndex {
	if s.texture != 0 {
		return s.texture
	}
	if s.external || s.retained {
		if t := s.value.(*Texture); t.ID != gpucore.InvalidID {
			s.texture = c.fg.pool.AddExternalTexture(t.ID, t.Desc)
		}
	}
	return s.texture
}

func (c *BuildContext) recordTexture(idx respool.TextureIndex, access gpucore.TextureAccess) {
	ps := c.current()
	if access == gpucore.TransferSource || access == gpucore.TransferDestination {
		if ps.kind != gpucore.PassTransfer {
			panic(errors.AssertionFailedf("framegraph: %s access in a %s pass of %s", access, ps.kind, c.node.typ.name))
		}
	}
	c.fg.pool.ExtendTexture(idx, int(c.pass))
	ps.textures = append(ps.textures, textureUse{index: idx, access: access})
}

// CreateTexture creates the texture of pin for the current pass. The
// texture can always be sampled besides being used as access.
func (c *BuildContext) CreateTexture(pin TexturePin, desc TextureDesc, access gpucore.TextureAccess) {
	_, s := c.storageOf(pin)
	c.assertOwned(s, pin, "CreateTexture")
	c.current()

	d := desc.TextureDesc
	d.Usage |= access.Usage() | gpucore.TextureUsageTextureBinding
	if d.Label == "" {
		d.Label = pin.ref.name
	}
	var stable respool.StableID
	if desc.Stable {
		stable = s.stable
	}

	s.texture = c.fg.pool.AddTransientTexture(d, int(c.pass), stable)
	c.recordTexture(s.texture, access)
}

// AcquireTexture records an access to the texture of pin in the current
// pass. A pin with no texture this frame skips the node.
func (c *BuildContext) AcquireTexture(pin TexturePin, access gpucore.TextureAccess) {
	_, s := c.storageOf(pin)
	c.current()

	idx := c.textureIndex(s)
	if idx == 0 {
		c.skip("%s: texture %q has no source this frame", c.node.typ.name, pin.ref.name)
		return
	}
	c.fg.pool.AddTextureUsage(idx, access.Usage())
	c.recordTexture(idx, access)
}

// AcquireBindless acquires the texture of pin like AcquireTexture and makes
// it available in the bindless table for the frame.
func (c *BuildContext) AcquireBindless(pin TexturePin, access gpucore.TextureAccess) bindless.Handle {
	registry := c.fg.frame.args.Bindless
	if registry == nil {
		panic(errors.AssertionFailedf("framegraph: AcquireBindless without a bindless registry in BuildArgs"))
	}
	_, s := c.storageOf(pin)
	c.AcquireTexture(pin, access)
	if s.texture == 0 {
		return 0
	}

	h := registry.Acquire()
	c.fg.frame.bindless = append(c.fg.frame.bindless, bindlessUse{
		handle: h,
		index:  s.texture,
		layout: statetrack.DeduceLayout(access),
	})
	return h
}

// TextureDesc returns the descriptor of the texture of pin this frame,
// usages included.
func (c *BuildContext) TextureDesc(pin TexturePin) (gpucore.TextureDesc, bool) {
	_, s := c.storageOf(pin)
	idx := c.textureIndex(s)
	if idx == 0 {
		return gpucore.TextureDesc{}, false
	}
	return c.fg.pool.TextureDesc(idx), true
}

func (c *BuildContext) recordBuffer(id storageID, idx respool.BufferIndex, access gpucore.BufferAccess, uploaded bool) {
	ps := c.current()
	ps.buffers = append(ps.buffers, bufferUse{index: idx, access: access, uploaded: uploaded})
	if access == gpucore.BufferDownload {
		if ps.kind != gpucore.PassTransfer {
			panic(errors.AssertionFailedf("framegraph: download in a %s pass of %s", ps.kind, c.node.typ.name))
		}
		ps.downloads = append(ps.downloads, bufferDownload{storage: id, index: idx})
	}
}

func (c *BuildContext) createBuffer(id storageID, s *storage, size uint64, usage gpucore.BufferUsage,
	stable respool.StableID, upload *staging.Span, access gpucore.BufferAccess,
) {
	if upload != nil {
		usage |= gpucore.BufferUsageCopyDst
	}
	s.buffer = c.fg.pool.AddTransientBuffer(size, usage, stable)
	if upload != nil {
		c.fg.frame.uploads = append(c.fg.frame.uploads, pendingUpload{span: *upload, index: s.buffer})
	}
	c.recordBuffer(id, s.buffer, access, upload != nil)
}

// CreateBuffer creates the buffer of pin for the current pass. Data, when
// set, is staged now and uploaded before the frame's first pass; staging
// failures are returned and create nothing.
func (c *BuildContext) CreateBuffer(pin BufferPin, desc BufferDesc, access gpucore.BufferAccess) error {
	id, s := c.storageOf(pin)
	c.assertOwned(s, pin, "CreateBuffer")
	c.current()

	size := desc.Size
	if size == 0 {
		size = uint64(len(desc.Data))
	}

	var stable respool.StableID
	if desc.Stable {
		if len(desc.Data) > 0 {
			panic(errors.AssertionFailedf("framegraph: stable buffer %q created with data", desc.Label))
		}
		stable = s.stable
	}

	var upload *staging.Span
	if len(desc.Data) > 0 {
		span, err := c.StageUpload(desc.Data)
		if err != nil {
			return errors.Wrapf(err, "create buffer %q", desc.Label)
		}
		upload = &span
	}

	c.createBuffer(id, s, size, access.Usage(), stable, upload, access)
	return nil
}

// CreateBufferFromStaged creates the buffer of pin with the contents of a
// span staged earlier this frame.
func (c *BuildContext) CreateBufferFromStaged(pin BufferPin, span staging.Span, access gpucore.BufferAccess) {
	id, s := c.storageOf(pin)
	c.assertOwned(s, pin, "CreateBufferFromStaged")
	c.current()

	var upload *staging.Span
	if span.Size() > 0 {
		upload = &span
	}
	c.createBuffer(id, s, span.Size(), access.Usage(), 0, upload, access)
}

// CreateDynamicBuffer creates a buffer that belongs to no declared pin. The
// returned pin is valid for the current frame only.
func (c *BuildContext) CreateDynamicBuffer(desc BufferDesc, access gpucore.BufferAccess) (BufferPin, error) {
	c.current()
	id := c.fg.newStorage(PinBuffer, TypeOf[gpucore.BufferRange](), c.node.vertex)
	c.fg.frame.dynamic = append(c.fg.frame.dynamic, id)

	pin := BufferPin{ref: &pinRef{storage: id, name: desc.Label}}
	if err := c.CreateBuffer(pin, desc, access); err != nil {
		return BufferPin{}, err
	}
	return pin, nil
}

// AcquireBuffer records an access to the buffer of pin in the current pass.
// A pin with no buffer this frame skips the node.
func (c *BuildContext) AcquireBuffer(pin BufferPin, access gpucore.BufferAccess) {
	id, s := c.storageOf(pin)
	c.current()

	if s.buffer == 0 {
		c.skip("%s: buffer %q has no source this frame", c.node.typ.name, pin.ref.name)
		return
	}
	c.fg.pool.AddBufferUsage(s.buffer, access.Usage())
	c.recordBuffer(id, s.buffer, access, false)
}

func (c *BuildContext) reroute(src, dst Pin) (*storage, *storage) {
	dstID, ds := c.storageOf(dst)
	if ds.owner != c.node.vertex {
		panic(errors.AssertionFailedf("framegraph: %s rerouted pin %q it does not own",
			c.node.typ.name, dst.reference().name))
	}
	for _, e := range c.fg.frame.stash {
		if e.id == dstID {
			panic(errors.AssertionFailedf("framegraph: pin %q rerouted twice in one frame", dst.reference().name))
		}
	}
	_, ss := c.storageOf(src)
	c.fg.frame.stash = append(c.fg.frame.stash, stashEntry{id: dstID, saved: *ds})
	return ss, ds
}

// RerouteTexture makes readers of dst read the texture of src for this
// frame. dst must be a pin of the current node.
func (c *BuildContext) RerouteTexture(src, dst TexturePin) {
	ss, ds := c.reroute(src, dst)
	ds.texture = c.textureIndex(ss)
	if ds.texture == 0 {
		c.skip("%s: rerouted texture %q has no source this frame", c.node.typ.name, src.ref.name)
	}
}

// RerouteBuffer makes readers of dst read the buffer of src for this frame.
// dst must be a pin of the current node.
func (c *BuildContext) RerouteBuffer(src, dst BufferPin) {
	ss, ds := c.reroute(src, dst)
	ds.buffer = ss.buffer
	if ds.buffer == 0 {
		c.skip("%s: rerouted buffer %q has no source this frame", c.node.typ.name, src.ref.name)
	}
}

// CreateRetainedTexture creates a texture immediately. It lives across
// frames until DestroyRetainedTexture or the removal of the node's subgraph.
func (c *BuildContext) CreateRetainedTexture(desc TextureDesc, access ...gpucore.TextureAccess) (RetainedTexture, error) {
	d := desc.TextureDesc
	for _, a := range access {
		d.Usage |= a.Usage()
	}
	tex, err := c.fg.device.CreateTexture(&d)
	if err != nil {
		return RetainedTexture{}, errors.Wrapf(err, "framegraph: create retained texture %q", d.Label)
	}

	id := c.fg.storages.Insert(storage{
		kind:     PinTexture,
		typ:      TypeOf[Texture](),
		value:    &Texture{ID: tex, Desc: d},
		owner:    c.node.vertex,
		retained: true,
	})
	if sg := c.fg.subgraphs.Get(c.node.subgraph.h); sg != nil {
		sg.retained = append(sg.retained, id)
	}
	return RetainedTexture{id: id}, nil
}

// DestroyRetainedTexture destroys a retained texture once the GPU finished
// the current frame.
func (c *BuildContext) DestroyRetainedTexture(h RetainedTexture) {
	if sg := c.fg.subgraphs.Get(c.node.subgraph.h); sg != nil {
		for i, id := range sg.retained {
			if id == h.id {
				sg.retained = append(sg.retained[:i], sg.retained[i+1:]...)
				break
			}
		}
	}
	c.fg.releaseRetained(h.id)
}

// RetainedTexturePin returns a pin to access a retained texture with
// AcquireTexture.
func (c *BuildContext) RetainedTexturePin(h RetainedTexture) TexturePin {
	if !c.fg.storages.Contains(h.id) {
		panic(errors.AssertionFailedf("framegraph: stale retained texture %s", h.id))
	}
	return TexturePin{ref: &pinRef{storage: h.id, name: "retained"}}
}

// StageUpload copies data into the upload staging buffer.
func (c *BuildContext) StageUpload(data []byte) (staging.Span, error) {
	sb := c.fg.frame.args.Staging
	if sb == nil {
		return staging.Span{}, ErrNoStagingBuffer
	}
	span, err := sb.Stage(data)
	if err != nil {
		c.fg.log().Warn("framegraph: upload staging exhausted",
			"node", c.node.typ.name, "size", len(data), "available", sb.Ring().Available())
		return staging.Span{}, err
	}
	return span, nil
}

// StageUploadImage copies image data into the upload staging buffer,
// contiguous and aligned to the texel size.
func (c *BuildContext) StageUploadImage(data []byte, texelSize uint32) (staging.Span, error) {
	sb := c.fg.frame.args.Staging
	if sb == nil {
		return staging.Span{}, ErrNoStagingBuffer
	}
	span, err := sb.StageImage(data, texelSize)
	if err != nil {
		c.fg.log().Warn("framegraph: upload staging exhausted",
			"node", c.node.typ.name, "size", len(data), "available", sb.Ring().Available())
		return staging.Span{}, err
	}
	return span, nil
}

// IsActiveOutput reports whether pin feeds a node or output that is
// enabled this frame. Nodes use it to skip work nobody reads.
func (c *BuildContext) IsActiveOutput(pin Pin) bool {
	_, s := c.storageOf(pin)
	return s.hasPathToOutput
}

// HasSource reports whether pin reads the storage of another node.
func (c *BuildContext) HasSource(pin Pin) bool {
	_, s := c.storageOf(pin)
	return s.owner != c.node.vertex
}
