//go:build !nogpu

// Package native implements gpucore.Device over gogpu/wgpu hal.
//
// The device owns one timeline fence: submit N signals value N, so the
// frame graph's submit indices map directly onto fence values. Resources are
// addressed by gpucore IDs and resolved to hal handles at record time.
//
// Compute dispatches need a pipeline bound by the node through
// CommandBuffer.ComputePass. Graphics and ray tracing commands have no
// pipeline-free hal form; recording them fails the submit with
// ErrUnsupported.
package native

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/backend"
	"github.com/gogpu/framegraph/gpucore"
)

// Native device errors.
var (
	// ErrNoAdapter is returned when the hal backend exposes no adapter.
	ErrNoAdapter = errors.New("native: no GPU adapter found")

	// ErrUnknownResource is returned for IDs the device never created or already destroyed.
	ErrUnknownResource = errors.New("native: unknown resource")

	// ErrUnsupported is returned by Submit when a command has no hal equivalent.
	ErrUnsupported = errors.New("native: command not supported")

	// ErrNotHostVisible is returned when mapping a buffer created without HostVisible.
	ErrNotHostVisible = errors.New("native: buffer is not host visible")

	// ErrProvider is returned when a device provider does not expose hal types.
	ErrProvider = errors.New("native: provider does not expose hal device")
)

// pollSlice bounds a single fence wait so WaitSubmit notices cancellation.
const pollSlice = 10 * time.Millisecond

func init() {
	backend.Register(backend.Native, func() (gpucore.Device, error) {
		return Open()
	})
}

type texture struct {
	hal  hal.Texture
	desc gpucore.TextureDesc
}

type buffer struct {
	hal  hal.Buffer
	desc gpucore.BufferDesc
}

// Device is a gpucore.Device backed by a hal device and queue.
// It is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	fence    hal.Fence
	external bool
	name     string
	surface  gpucore.TextureFormat

	nextID   atomic.Uint64
	textures map[gpucore.TextureID]*texture
	buffers  map[gpucore.BufferID]*buffer

	submitted uint64
	finished  uint64
}

// Open creates a device on the first discrete or integrated GPU exposed by
// the Vulkan hal backend, or on the first adapter when there is neither.
func Open() (*Device, error) {
	b, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.Wrap(backend.ErrBackendNotAvailable, "native: vulkan hal backend")
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, errors.Wrap(err, "native: create instance")
	}
	d, err := openInstance(instance)
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	return d, nil
}

func openInstance(instance hal.Instance) (*Device, error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	open, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, errors.Wrapf(err, "native: open %q", selected.Info.Name)
	}
	d, err := newDevice(open.Device, open.Queue)
	if err != nil {
		open.Device.Destroy()
		return nil, err
	}
	d.instance = instance
	d.name = selected.Info.Name
	logger().Info("native: device opened", "adapter", d.name)
	return d, nil
}

// New wraps an existing hal device and queue. The device is not destroyed
// by Close.
func New(device hal.Device, queue hal.Queue) (*Device, error) {
	d, err := newDevice(device, queue)
	if err != nil {
		return nil, err
	}
	d.external = true
	return d, nil
}

// FromProvider wraps the device shared by a host application. The provider
// must also implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func FromProvider(p gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := p.(halProvider)
	if !ok {
		return nil, errors.Wrapf(ErrProvider, "%T", p)
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, errors.Wrap(ErrProvider, "HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, errors.Wrap(ErrProvider, "HalQueue is not hal.Queue")
	}
	d, err := New(device, queue)
	if err != nil {
		return nil, err
	}
	d.surface = formatFromHal(p.SurfaceFormat())
	return d, nil
}

func newDevice(device hal.Device, queue hal.Queue) (*Device, error) {
	fence, err := device.CreateFence()
	if err != nil {
		return nil, errors.Wrap(err, "native: create fence")
	}
	d := &Device{
		device:   device,
		queue:    queue,
		fence:    fence,
		textures: make(map[gpucore.TextureID]*texture),
		buffers:  make(map[gpucore.BufferID]*buffer),
	}
	d.nextID.Store(1)
	return d, nil
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Name returns the backend identifier.
func (d *Device) Name() string { return backend.Native }

// AdapterName returns the name of the adapter the device was opened on,
// empty for wrapped devices.
func (d *Device) AdapterName() string { return d.name }

// SurfaceFormat returns the provider's surface format, zero when the device
// was not created from a provider or the format has no gpucore equivalent.
func (d *Device) SurfaceFormat() gpucore.TextureFormat { return d.surface }

// CreateTexture creates a 2D texture, or a layered one when Depth > 1.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	if desc == nil || desc.Width == 0 || desc.Height == 0 {
		return gpucore.InvalidID, errors.New("native: invalid texture descriptor")
	}
	t, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: max(desc.Depth, 1)},
		MipLevelCount: max(desc.MipLevels, 1),
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        convertTextureFormat(desc.Format),
		Usage:         convertTextureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, errors.Wrapf(err, "native: create texture %q", desc.Label)
	}

	id := gpucore.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = &texture{hal: t, desc: *desc}
	d.mu.Unlock()
	return id, nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	t, ok := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyTexture(t.hal)
	}
}

// CreateBuffer creates a buffer. Host visible buffers can also be copied
// from and to so the queue can write and read them.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil || desc.Size == 0 {
		return gpucore.InvalidID, errors.New("native: invalid buffer descriptor")
	}
	b, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: convertBufferUsage(desc.Usage, desc.HostVisible),
	})
	if err != nil {
		return gpucore.InvalidID, errors.Wrapf(err, "native: create buffer %q", desc.Label)
	}

	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{hal: b, desc: *desc}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()

	if ok {
		d.device.DestroyBuffer(b.hal)
	}
}

// WriteBuffer writes data through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	b, err := d.hostBuffer(id)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		d.queue.WriteBuffer(b.hal, offset, data)
	}
	return nil
}

// ReadBuffer reads a host visible buffer into dst.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	b, err := d.hostBuffer(id)
	if err != nil {
		return err
	}
	return errors.Wrapf(d.queue.ReadBuffer(b.hal, offset, dst), "native: read buffer %d", id)
}

func (d *Device) hostBuffer(id gpucore.BufferID) (*buffer, error) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	d.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownResource, "buffer %d", id)
	}
	if !b.desc.HostVisible {
		return nil, errors.Wrapf(ErrNotHostVisible, "buffer %q", b.desc.Label)
	}
	return b, nil
}

func (d *Device) lookupTexture(id gpucore.TextureID) (*texture, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	return t, ok
}

func (d *Device) lookupBuffer(id gpucore.BufferID) (*buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	return b, ok
}

// BeginCommandBuffer creates a command encoder and starts recording.
func (d *Device) BeginCommandBuffer(label string) (gpucore.CommandBuffer, error) {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, errors.Wrapf(err, "native: create command encoder %q", label)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, errors.Wrapf(err, "native: begin encoding %q", label)
	}
	return &CommandBuffer{device: d, encoder: enc, label: label}, nil
}

// Submit ends recording and submits cmd, signalling the fence with the new
// submit index.
func (d *Device) Submit(cmd gpucore.CommandBuffer) (uint64, error) {
	cb, ok := cmd.(*CommandBuffer)
	if !ok {
		return 0, errors.Newf("native: foreign command buffer %T", cmd)
	}
	if cb.passKind != gpucore.PassNone {
		panic(errors.AssertionFailedf("native: submit of %q with an open pass", cb.label))
	}
	if cb.err != nil {
		cb.encoder.DiscardEncoding()
		return 0, errors.Wrapf(cb.err, "native: submit %q", cb.label)
	}

	buf, err := cb.encoder.EndEncoding()
	if err != nil {
		return 0, errors.Wrapf(err, "native: end encoding %q", cb.label)
	}
	defer d.device.FreeCommandBuffer(buf)

	d.mu.Lock()
	defer d.mu.Unlock()
	index := d.submitted + 1
	if err := d.queue.Submit([]hal.CommandBuffer{buf}, d.fence, index); err != nil {
		return 0, errors.Wrapf(err, "native: submit %q", cb.label)
	}
	d.submitted = index
	return index, nil
}

// SubmitIndex returns the index the next Submit will receive.
func (d *Device) SubmitIndex() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted + 1
}

// LastFinishedSubmit polls the fence and returns the highest finished
// submit index.
func (d *Device) LastFinishedSubmit() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.finished < d.submitted {
		ok, err := d.device.Wait(d.fence, d.finished+1, 0)
		if err != nil || !ok {
			break
		}
		d.finished++
	}
	return d.finished
}

// WaitSubmit blocks until the fence reaches index, the timeout expires or
// ctx is done. A zero timeout waits for ctx only.
func (d *Device) WaitSubmit(ctx context.Context, index uint64, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if d.LastFinishedSubmit() >= index {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		slice := pollSlice
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return errors.Newf("native: timeout waiting for submit %d", index)
			}
			slice = min(slice, left)
		}
		if _, err := d.device.Wait(d.fence, index, slice); err != nil {
			return errors.Wrapf(err, "native: wait for submit %d", index)
		}
	}
}

// Close waits for the last submit, destroys every resource still alive and
// the device itself unless it was wrapped.
func (d *Device) Close() error {
	var err error
	if last := d.SubmitIndex() - 1; last > 0 {
		err = d.WaitSubmit(context.Background(), last, 5*time.Second)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, t := range d.textures {
		d.device.DestroyTexture(t.hal)
		delete(d.textures, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.hal)
		delete(d.buffers, id)
	}
	if d.fence != nil {
		d.device.DestroyFence(d.fence)
		d.fence = nil
	}
	if !d.external {
		d.device.Destroy()
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	return err
}
