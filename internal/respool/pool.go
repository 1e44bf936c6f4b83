// Package respool implements the frame graph resource pool: transient
// textures aliased across the passes of a frame, transient buffers
// sub-allocated from chunk buffers, stable resources kept across frames and
// deferred destruction of everything the GPU may still use.
package respool

import (
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/statetrack"
)

// Pool errors.
var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = errors.New("respool: pool closed")

	// ErrNoBufferChunk is returned when no chunk class supports a buffer usage.
	ErrNoBufferChunk = errors.New("respool: no chunk buffer supports the requested usage")
)

// Defaults.
const (
	// DefaultFramesBeforeEviction is how many frames an unused resource survives.
	DefaultFramesBeforeEviction = 1

	// DefaultBufferChunkSize is the size of one transient buffer chunk (1 MiB).
	DefaultBufferChunkSize = 1 << 20

	// DefaultBufferAlignment is the offset alignment of transient buffers.
	DefaultBufferAlignment = 256
)

// TextureIndex identifies a texture request of the current frame.
// The zero value is invalid.
type TextureIndex uint32

// BufferIndex identifies a buffer request of the current frame.
// The zero value is invalid.
type BufferIndex uint32

// StableID marks a request whose resource must persist across frames.
// Zero means transient.
type StableID uint64

// LiveRange is the inclusive range of pass indices a texture is used in.
type LiveRange struct {
	Begin, End int
}

// Overlaps reports whether r and o share a pass.
func (r LiveRange) Overlaps(o LiveRange) bool {
	return r.Begin <= o.End && o.Begin <= r.End
}

// Config holds pool configuration.
type Config struct {
	// FramesBeforeEviction is the number of frames an unused pooled resource
	// is kept. Defaults to DefaultFramesBeforeEviction if <= 0.
	FramesBeforeEviction int

	// BufferChunkSize is the size of transient buffer chunks.
	// Defaults to DefaultBufferChunkSize if 0.
	BufferChunkSize uint64

	// BufferAlignment is the offset alignment of transient buffers.
	// Defaults to DefaultBufferAlignment if 0.
	BufferAlignment uint64

	// Logger receives pool diagnostics. Nil discards them.
	Logger *slog.Logger
}

type textureRequest struct {
	desc     gpucore.TextureDesc
	live     LiveRange
	stable   StableID
	external bool
	id       gpucore.TextureID
	alive    uint32
}

type bufferRequest struct {
	size   uint64
	usage  gpucore.BufferUsage
	stable StableID
	rng    gpucore.BufferRange
	alive  uint32
}

// physicalTexture is a pooled transient texture.
type physicalTexture struct {
	id         gpucore.TextureID
	desc       gpucore.TextureDesc
	busyUntil  int
	lastFrame  uint64
	lastSubmit uint64
}

type stableTextureKey struct {
	id   StableID
	desc gpucore.TextureDesc
}

type stableTexture struct {
	id         gpucore.TextureID
	created    uint64
	lastFrame  uint64
	lastSubmit uint64
}

type stableBufferKey struct {
	id    StableID
	usage gpucore.BufferUsage
	size  uint64
}

type stableBuffer struct {
	id         gpucore.BufferID
	created    uint64
	lastFrame  uint64
	lastSubmit uint64
	history    statetrack.BufferHistory
}

type pendingDestroy struct {
	texture gpucore.TextureID
	buffer  gpucore.BufferID
	submit  uint64
}

// Pool allocates frame graph resources through a gpucore.Device.
//
// A frame brackets its requests between BeginBuild and EndBuild. Resources
// are only valid after EndBuild. Pool is not safe for concurrent use.
type Pool struct {
	device gpucore.Device
	cfg    Config
	log    *slog.Logger

	frame    uint64
	textures []textureRequest
	buffers  []bufferRequest

	physical       []*physicalTexture
	stableTextures map[stableTextureKey]*stableTexture
	stableBuffers  map[stableBufferKey]*stableBuffer
	chunks         []*chunkClass

	pending []pendingDestroy
	stats   Stats
	closed  bool
}

// New creates a pool allocating from device.
func New(device gpucore.Device, cfg Config) *Pool {
	if cfg.FramesBeforeEviction <= 0 {
		cfg.FramesBeforeEviction = DefaultFramesBeforeEviction
	}
	if cfg.BufferChunkSize == 0 {
		cfg.BufferChunkSize = DefaultBufferChunkSize
	}
	if cfg.BufferAlignment == 0 {
		cfg.BufferAlignment = DefaultBufferAlignment
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Pool{
		device:         device,
		cfg:            cfg,
		log:            log,
		stableTextures: make(map[stableTextureKey]*stableTexture),
		stableBuffers:  make(map[stableBufferKey]*stableBuffer),
		chunks:         newChunkClasses(cfg.BufferChunkSize, cfg.BufferAlignment),
	}
}

// Frame returns the number of builds started so far.
func (p *Pool) Frame() uint64 { return p.frame }

// BeginBuild starts collecting the requests of a new frame. Indices of the
// previous frame become invalid.
func (p *Pool) BeginBuild() {
	p.frame++
	p.textures = p.textures[:0]
	p.buffers = p.buffers[:0]
	for _, pt := range p.physical {
		pt.busyUntil = -1
	}
	for _, c := range p.chunks {
		c.restore()
	}
}

// AddTransientTexture requests a texture first used in pass.
func (p *Pool) AddTransientTexture(desc gpucore.TextureDesc, pass int, stable StableID) TextureIndex {
	p.textures = append(p.textures, textureRequest{
		desc:   desc,
		live:   LiveRange{Begin: pass, End: pass},
		stable: stable,
	})
	return TextureIndex(len(p.textures))
}

// AddExternalTexture registers a texture the pool does not own, such as a
// retained texture or a swapchain image.
func (p *Pool) AddExternalTexture(id gpucore.TextureID, desc gpucore.TextureDesc) TextureIndex {
	p.textures = append(p.textures, textureRequest{
		desc:     desc,
		live:     LiveRange{Begin: 0, End: -1},
		external: true,
		id:       id,
	})
	return TextureIndex(len(p.textures))
}

// ExtendTexture extends the live range of idx to include pass.
func (p *Pool) ExtendTexture(idx TextureIndex, pass int) {
	r := p.texture(idx)
	if r.external {
		return
	}
	r.live.Begin = min(r.live.Begin, pass)
	r.live.End = max(r.live.End, pass)
}

// AddTextureUsage adds usage to the capabilities idx is created with.
func (p *Pool) AddTextureUsage(idx TextureIndex, usage gpucore.TextureUsage) {
	r := p.texture(idx)
	r.desc.Usage |= usage
}

// AddTransientBuffer requests a buffer of size bytes.
func (p *Pool) AddTransientBuffer(size uint64, usage gpucore.BufferUsage, stable StableID) BufferIndex {
	p.buffers = append(p.buffers, bufferRequest{size: size, usage: usage, stable: stable})
	return BufferIndex(len(p.buffers))
}

// AddBufferUsage adds usage to the capabilities idx needs.
func (p *Pool) AddBufferUsage(idx BufferIndex, usage gpucore.BufferUsage) {
	p.buffer(idx).usage |= usage
}

// EndBuild creates or reuses the resources of every request of the frame.
//
// Transient textures are assigned in request order. A request reuses the
// first pooled texture that is compatible and whose last use this frame
// ended before the request's first pass; otherwise a texture is created.
// Resources unused for more than FramesBeforeEviction frames are scheduled
// for destruction once the GPU finished the last submit using them.
//
// Creation failures are collected and returned; the affected requests
// resolve to invalid IDs.
func (p *Pool) EndBuild() error {
	if p.closed {
		return ErrPoolClosed
	}
	p.CollectGarbage()

	submit := p.device.SubmitIndex()
	var errs []error

	for i := range p.textures {
		r := &p.textures[i]
		switch {
		case r.external:
		case r.stable != 0:
			if err := p.acquireStableTexture(r, submit); err != nil {
				errs = append(errs, err)
			}
		default:
			if err := p.acquireTransientTexture(r, submit); err != nil {
				errs = append(errs, err)
			}
		}
	}

	for i := range p.buffers {
		r := &p.buffers[i]
		var err error
		if r.stable != 0 {
			err = p.acquireStableBuffer(r, submit)
		} else {
			err = p.allocateTransientBuffer(r, submit)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	p.evict()

	p.log.Debug("respool: build done",
		"frame", p.frame,
		"textures", len(p.textures),
		"buffers", len(p.buffers),
		"physical", len(p.physical))

	if len(errs) > 0 {
		return combine(errs)
	}
	return nil
}

func (p *Pool) acquireTransientTexture(r *textureRequest, submit uint64) error {
	for _, pt := range p.physical {
		if pt.busyUntil < r.live.Begin && pt.desc.Compatible(r.desc) {
			pt.busyUntil = r.live.End
			pt.lastFrame = p.frame
			pt.lastSubmit = submit
			r.id = pt.id
			p.stats.TexturesReused++
			return nil
		}
	}

	desc := r.desc
	id, err := p.device.CreateTexture(&desc)
	if err != nil {
		return errors.Wrapf(err, "respool: create texture %q (%s)", desc.Label, desc)
	}
	p.physical = append(p.physical, &physicalTexture{
		id:         id,
		desc:       desc,
		busyUntil:  r.live.End,
		lastFrame:  p.frame,
		lastSubmit: submit,
	})
	r.id = id
	p.stats.TexturesCreated++
	return nil
}

func (p *Pool) acquireStableTexture(r *textureRequest, submit uint64) error {
	key := stableTextureKey{id: r.stable, desc: r.desc}
	key.desc.Label = ""

	st, ok := p.stableTextures[key]
	if !ok {
		desc := r.desc
		id, err := p.device.CreateTexture(&desc)
		if err != nil {
			return errors.Wrapf(err, "respool: create stable texture %q (%s)", desc.Label, desc)
		}
		st = &stableTexture{id: id, created: p.frame}
		p.stableTextures[key] = st
		p.stats.TexturesCreated++
	}
	st.lastFrame = p.frame
	st.lastSubmit = submit
	r.id = st.id
	r.alive = uint32(p.frame - st.created)
	return nil
}

func (p *Pool) acquireStableBuffer(r *bufferRequest, submit uint64) error {
	key := stableBufferKey{id: r.stable, usage: r.usage, size: r.size}

	sb, ok := p.stableBuffers[key]
	if !ok {
		id, err := p.device.CreateBuffer(&gpucore.BufferDesc{
			Label: fmt.Sprintf("stable buffer %d", r.stable),
			Size:  r.size,
			Usage: r.usage,
		})
		if err != nil {
			return errors.Wrapf(err, "respool: create stable buffer of %d bytes", r.size)
		}
		sb = &stableBuffer{id: id, created: p.frame}
		p.stableBuffers[key] = sb
		p.stats.BuffersCreated++
	}
	sb.lastFrame = p.frame
	sb.lastSubmit = submit
	r.rng = gpucore.BufferRange{Buffer: sb.id, Offset: 0, Size: r.size}
	r.alive = uint32(p.frame - sb.created)
	return nil
}

func (p *Pool) allocateTransientBuffer(r *bufferRequest, submit uint64) error {
	for _, c := range p.chunks {
		if c.usage.Contains(r.usage) {
			rng, err := c.allocate(p, r.size, submit)
			if err != nil {
				return err
			}
			r.rng = rng
			return nil
		}
	}
	return errors.Wrapf(ErrNoBufferChunk, "usage %#x", uint32(r.usage))
}

func (p *Pool) evict() {
	keep := p.physical[:0]
	for _, pt := range p.physical {
		if p.unusedTooLong(pt.lastFrame) {
			p.deferDestroy(pendingDestroy{texture: pt.id, submit: pt.lastSubmit})
			continue
		}
		keep = append(keep, pt)
	}
	clear(p.physical[len(keep):])
	p.physical = keep

	for k, st := range p.stableTextures {
		if p.unusedTooLong(st.lastFrame) {
			p.deferDestroy(pendingDestroy{texture: st.id, submit: st.lastSubmit})
			delete(p.stableTextures, k)
		}
	}
	for k, sb := range p.stableBuffers {
		if p.unusedTooLong(sb.lastFrame) {
			p.deferDestroy(pendingDestroy{buffer: sb.id, submit: sb.lastSubmit})
			delete(p.stableBuffers, k)
		}
	}
}

func (p *Pool) unusedTooLong(last uint64) bool {
	return p.frame-last > uint64(p.cfg.FramesBeforeEviction)
}

func (p *Pool) deferDestroy(d pendingDestroy) {
	p.pending = append(p.pending, d)
	p.stats.Evicted++
}

// DeferDestroyTexture destroys a texture once the GPU finished submit.
func (p *Pool) DeferDestroyTexture(id gpucore.TextureID, submit uint64) {
	p.pending = append(p.pending, pendingDestroy{texture: id, submit: submit})
}

// CollectGarbage destroys every deferred resource the GPU is done with.
func (p *Pool) CollectGarbage() {
	finished := p.device.LastFinishedSubmit()
	keep := p.pending[:0]
	for _, d := range p.pending {
		if d.submit > finished {
			keep = append(keep, d)
			continue
		}
		if d.texture != gpucore.InvalidID {
			p.device.DestroyTexture(d.texture)
			p.stats.TexturesDestroyed++
		}
		if d.buffer != gpucore.InvalidID {
			p.device.DestroyBuffer(d.buffer)
			p.stats.BuffersDestroyed++
		}
	}
	p.pending = keep
}

// Close destroys every resource immediately. Callers wait for the GPU to
// go idle first.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	for _, d := range p.pending {
		if d.texture != gpucore.InvalidID {
			p.device.DestroyTexture(d.texture)
		}
		if d.buffer != gpucore.InvalidID {
			p.device.DestroyBuffer(d.buffer)
		}
	}
	p.pending = nil
	for _, pt := range p.physical {
		p.device.DestroyTexture(pt.id)
	}
	p.physical = nil
	for _, st := range p.stableTextures {
		p.device.DestroyTexture(st.id)
	}
	clear(p.stableTextures)
	for _, sb := range p.stableBuffers {
		p.device.DestroyBuffer(sb.id)
	}
	clear(p.stableBuffers)
	for _, c := range p.chunks {
		c.destroy(p.device)
	}
	p.closed = true
}

func (p *Pool) texture(idx TextureIndex) *textureRequest {
	if idx == 0 || int(idx) > len(p.textures) {
		panic(errors.AssertionFailedf("respool: invalid texture index %d", idx))
	}
	return &p.textures[idx-1]
}

func (p *Pool) buffer(idx BufferIndex) *bufferRequest {
	if idx == 0 || int(idx) > len(p.buffers) {
		panic(errors.AssertionFailedf("respool: invalid buffer index %d", idx))
	}
	return &p.buffers[idx-1]
}

// Texture returns the texture backing idx. Valid after EndBuild.
func (p *Pool) Texture(idx TextureIndex) gpucore.TextureID { return p.texture(idx).id }

// TextureDesc returns the descriptor requested for idx, usages included.
func (p *Pool) TextureDesc(idx TextureIndex) gpucore.TextureDesc { return p.texture(idx).desc }

// TextureRange returns the live range of idx.
func (p *Pool) TextureRange(idx TextureIndex) LiveRange { return p.texture(idx).live }

// IsExternal reports whether idx was registered with AddExternalTexture.
func (p *Pool) IsExternal(idx TextureIndex) bool { return p.texture(idx).external }

// IsStableTexture reports whether idx was requested with a stable id.
func (p *Pool) IsStableTexture(idx TextureIndex) bool { return p.texture(idx).stable != 0 }

// TextureFramesAlive returns for how many frames the stable texture behind
// idx has existed. Transient textures report 0.
func (p *Pool) TextureFramesAlive(idx TextureIndex) uint32 { return p.texture(idx).alive }

// TextureCount returns the number of texture requests this frame.
func (p *Pool) TextureCount() int { return len(p.textures) }

// Buffer returns the buffer range backing idx. Valid after EndBuild.
func (p *Pool) Buffer(idx BufferIndex) gpucore.BufferRange { return p.buffer(idx).rng }

// BufferFramesAlive returns for how many frames the stable buffer behind idx
// has existed. Transient buffers report 0.
func (p *Pool) BufferFramesAlive(idx BufferIndex) uint32 { return p.buffer(idx).alive }

// IsStable reports whether idx is a stable buffer.
func (p *Pool) IsStable(idx BufferIndex) bool { return p.buffer(idx).stable != 0 }

// LoadBufferHistory returns the synchronization scope the stable buffer
// behind idx was left in by the previous frame.
func (p *Pool) LoadBufferHistory(idx BufferIndex) statetrack.BufferHistory {
	return p.stableBufferOf(idx).history
}

// StoreBufferHistory records the final synchronization scope of the stable
// buffer behind idx.
func (p *Pool) StoreBufferHistory(idx BufferIndex, h statetrack.BufferHistory) {
	p.stableBufferOf(idx).history = h
}

func (p *Pool) stableBufferOf(idx BufferIndex) *stableBuffer {
	r := p.buffer(idx)
	sb, ok := p.stableBuffers[stableBufferKey{id: r.stable, usage: r.usage, size: r.size}]
	if !ok {
		panic(errors.AssertionFailedf("respool: buffer %d is not stable", idx))
	}
	return sb
}

var _ statetrack.HistoryStore[BufferIndex] = (*Pool)(nil)

func combine(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return stderrors.Join(errs...)
}
