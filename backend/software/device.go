// Package software provides a CPU implementation of gpucore.Device.
//
// The device keeps buffer and texture bytes in memory, records every command
// it is given and executes copies when a command buffer is submitted. It
// backs tests, headless runs and the demo when no GPU is available.
package software

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpucore"
)

// Software device errors.
var (
	// ErrResourceLimit is returned when a creation would exceed the configured limit.
	ErrResourceLimit = errors.New("software: resource limit reached")

	// ErrUnknownResource is returned for IDs the device never created or already destroyed.
	ErrUnknownResource = errors.New("software: unknown resource")

	// ErrOutOfBounds is returned for buffer accesses past the end of the buffer.
	ErrOutOfBounds = errors.New("software: access out of bounds")

	// ErrNotHostVisible is returned when mapping a buffer created without HostVisible.
	ErrNotHostVisible = errors.New("software: buffer is not host visible")
)

func init() {
	backend.Register(backend.Software, func() (gpucore.Device, error) {
		return New(), nil
	})
}

type texture struct {
	desc gpucore.TextureDesc
	data []byte
}

type buffer struct {
	desc gpucore.BufferDesc
	data []byte
}

// Stats counts the resources a Device created and destroyed.
type Stats struct {
	TexturesCreated   int
	TexturesDestroyed int
	BuffersCreated    int
	BuffersDestroyed  int
	Submits           int
}

// Option configures a Device.
type Option func(*Device)

// WithManualCompletion keeps submits in flight until Complete is called.
// By default every submit finishes immediately.
func WithManualCompletion() Option {
	return func(d *Device) { d.manual = true }
}

// WithTextureLimit makes CreateTexture fail once n textures are alive.
func WithTextureLimit(n int) Option {
	return func(d *Device) { d.textureLimit = n }
}

// Device is an in-memory gpucore.Device. It is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	nextID   atomic.Uint64
	textures map[gpucore.TextureID]*texture
	buffers  map[gpucore.BufferID]*buffer

	submitted uint64
	finished  uint64
	manual    bool

	textureLimit int
	stats        Stats
	submits      []*CommandBuffer
}

// New returns an empty device.
func New(opts ...Option) *Device {
	d := &Device{
		textures: make(map[gpucore.TextureID]*texture),
		buffers:  make(map[gpucore.BufferID]*buffer),
	}
	d.nextID.Store(1)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.Software }

// CreateTexture creates an in-memory texture.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, errors.New("software: invalid texture descriptor")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.textureLimit > 0 && len(d.textures) >= d.textureLimit {
		return gpucore.InvalidID, errors.Wrapf(ErrResourceLimit, "texture %q", desc.Label)
	}

	depth := max(desc.Depth, 1)
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(depth) * uint64(desc.Format.BytesPerTexel())

	id := gpucore.TextureID(d.nextID.Add(1) - 1)
	d.textures[id] = &texture{desc: *desc, data: make([]byte, size)}
	d.stats.TexturesCreated++
	return id, nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.textures[id]; ok {
		delete(d.textures, id)
		d.stats.TexturesDestroyed++
	}
}

// CreateBuffer creates an in-memory buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, errors.New("software: invalid buffer descriptor")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := gpucore.BufferID(d.nextID.Add(1) - 1)
	d.buffers[id] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	d.stats.BuffersCreated++
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.buffers[id]; ok {
		delete(d.buffers, id)
		d.stats.BuffersDestroyed++
	}
}

// WriteBuffer copies data into a host-visible buffer.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.hostBuffer(id, offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b.data[offset:], data)
	return nil
}

// ReadBuffer copies a host-visible buffer region into dst.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.hostBuffer(id, offset, uint64(len(dst)))
	if err != nil {
		return err
	}
	copy(dst, b.data[offset:])
	return nil
}

func (d *Device) hostBuffer(id gpucore.BufferID, offset, size uint64) (*buffer, error) {
	b, ok := d.buffers[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownResource, "buffer %d", id)
	}
	if !b.desc.HostVisible {
		return nil, errors.Wrapf(ErrNotHostVisible, "buffer %d", id)
	}
	if offset+size > uint64(len(b.data)) {
		return nil, errors.Wrapf(ErrOutOfBounds, "buffer %d: [%d, %d) of %d", id, offset, offset+size, len(b.data))
	}
	return b, nil
}

// BeginCommandBuffer starts recording.
func (d *Device) BeginCommandBuffer(label string) (gpucore.CommandBuffer, error) {
	return &CommandBuffer{Label: label}, nil
}

// Submit executes the copies recorded in cmd and assigns it a submit index.
func (d *Device) Submit(cmd gpucore.CommandBuffer) (uint64, error) {
	cb, ok := cmd.(*CommandBuffer)
	if !ok {
		return 0, errors.Newf("software: foreign command buffer %T", cmd)
	}
	if cb.passOpen {
		panic(errors.AssertionFailedf("software: submit of %q with an open pass", cb.Label))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range cb.Commands {
		if err := d.execute(c); err != nil {
			return 0, errors.Wrapf(err, "software: submit %q", cb.Label)
		}
	}

	d.submitted++
	cb.SubmitIndex = d.submitted
	d.submits = append(d.submits, cb)
	d.stats.Submits++
	if !d.manual {
		d.finished = d.submitted
	}
	return d.submitted, nil
}

func (d *Device) execute(c Command) error {
	switch c.Kind {
	case CmdCopyBuffer:
		src, ok := d.buffers[c.SrcBuffer]
		if !ok {
			return errors.Wrapf(ErrUnknownResource, "copy source %d", c.SrcBuffer)
		}
		dst, ok := d.buffers[c.DstBuffer]
		if !ok {
			return errors.Wrapf(ErrUnknownResource, "copy destination %d", c.DstBuffer)
		}
		for _, r := range c.Regions {
			if r.SrcOffset+r.Size > uint64(len(src.data)) || r.DstOffset+r.Size > uint64(len(dst.data)) {
				return errors.Wrapf(ErrOutOfBounds, "copy %d -> %d", c.SrcBuffer, c.DstBuffer)
			}
			copy(dst.data[r.DstOffset:r.DstOffset+r.Size], src.data[r.SrcOffset:r.SrcOffset+r.Size])
		}
	case CmdCopyBufferToTexture:
		src, ok := d.buffers[c.SrcBuffer]
		if !ok {
			return errors.Wrapf(ErrUnknownResource, "copy source %d", c.SrcBuffer)
		}
		dst, ok := d.textures[c.DstTexture]
		if !ok {
			return errors.Wrapf(ErrUnknownResource, "copy destination texture %d", c.DstTexture)
		}
		bpt := uint64(dst.desc.Format.BytesPerTexel())
		row := uint64(c.TextureRegion.Width) * bpt
		pitch := uint64(c.TextureRegion.BytesPerRow)
		if pitch == 0 {
			pitch = row
		}
		dstPitch := uint64(dst.desc.Width) * bpt
		for y := uint64(0); y < uint64(c.TextureRegion.Height); y++ {
			s := c.TextureRegion.BufferOffset + y*pitch
			if s+row > uint64(len(src.data)) || y*dstPitch+row > uint64(len(dst.data)) {
				return errors.Wrapf(ErrOutOfBounds, "copy %d -> texture %d", c.SrcBuffer, c.DstTexture)
			}
			copy(dst.data[y*dstPitch:], src.data[s:s+row])
		}
	}
	return nil
}

// SubmitIndex returns the index the next Submit will receive.
func (d *Device) SubmitIndex() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted + 1
}

// LastFinishedSubmit returns the highest finished submit index.
func (d *Device) LastFinishedSubmit() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

// Complete marks every submit up to index as finished.
// It only matters with WithManualCompletion.
func (d *Device) Complete(index uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = max(d.finished, min(index, d.submitted))
}

// WaitSubmit returns once index finished. Without manual completion every
// submit is finished on return from Submit.
func (d *Device) WaitSubmit(ctx context.Context, index uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if d.LastFinishedSubmit() >= index {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if timeout > 0 && time.Now().After(deadline) {
			return errors.Newf("software: timeout waiting for submit %d", index)
		}
		time.Sleep(time.Millisecond)
	}
}

// Stats returns creation counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LiveTextures returns the number of textures not yet destroyed.
func (d *Device) LiveTextures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// LiveBuffers returns the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// TextureDesc returns the descriptor of a live texture.
func (d *Device) TextureDesc(id gpucore.TextureID) (gpucore.TextureDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return gpucore.TextureDesc{}, false
	}
	return t.desc, true
}

// TextureData returns a copy of a texture's bytes.
func (d *Device) TextureData(id gpucore.TextureID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), t.data...)
}

// BufferData returns a copy of a buffer's bytes, host visible or not.
func (d *Device) BufferData(id gpucore.BufferID) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// Submitted returns every command buffer submitted so far, oldest first.
func (d *Device) Submitted() []*CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*CommandBuffer(nil), d.submits...)
}

// LastSubmitted returns the most recent command buffer, or nil.
func (d *Device) LastSubmitted() *CommandBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.submits) == 0 {
		return nil
	}
	return d.submits[len(d.submits)-1]
}

var _ gpucore.Device = (*Device)(nil)
