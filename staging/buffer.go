package staging

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// ErrInsufficientSpace is returned when the ring cannot hold an allocation
// until earlier frames finish on the GPU.
var ErrInsufficientSpace = errors.New("staging: insufficient space in staging buffer")

// DefaultImageAlignment is the minimum offset alignment of staged images.
const DefaultImageAlignment = 4

// Option configures a Buffer.
type Option func(*Buffer)

// WithImageAlignment sets the minimum offset alignment of StageImage.
// The alignment must be a power of two.
func WithImageAlignment(n uint64) Option {
	return func(b *Buffer) {
		b.imageAlignment = n
	}
}

// WithLabel sets the debug label of the underlying GPU buffer.
func WithLabel(label string) Option {
	return func(b *Buffer) {
		b.label = label
	}
}

type submittedUpload struct {
	timelineID uint64
	size       uint64
}

// Buffer is a ring of host-visible GPU memory used to move data between the
// host and GPU resources. It is not safe for concurrent use.
type Buffer struct {
	device         gpucore.Device
	buffer         gpucore.BufferID
	ring           Ring
	label          string
	imageAlignment uint64

	nextTimelineID uint64
	pendingBytes   uint64
	submitted      []submittedUpload
}

// New creates a staging buffer of size bytes on device.
func New(device gpucore.Device, size uint64, opts ...Option) (*Buffer, error) {
	if size == 0 {
		return nil, errors.New("staging: size must be positive")
	}
	b := &Buffer{
		device:         device,
		label:          "staging",
		imageAlignment: DefaultImageAlignment,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.imageAlignment == 0 || b.imageAlignment&(b.imageAlignment-1) != 0 {
		return nil, errors.Newf("staging: image alignment %d is not a power of two", b.imageAlignment)
	}

	id, err := device.CreateBuffer(&gpucore.BufferDesc{
		Label:       b.label,
		Size:        size,
		Usage:       gpucore.BufferUsageCopySrc | gpucore.BufferUsageCopyDst | gpucore.BufferUsageStorage,
		HostVisible: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "staging: create %d byte buffer", size)
	}
	b.buffer = id
	b.ring.Reset(size)
	return b, nil
}

// Close destroys the GPU buffer. The caller must make sure the GPU finished
// every frame that used it.
func (b *Buffer) Close() {
	if b.buffer != gpucore.InvalidID {
		b.device.DestroyBuffer(b.buffer)
	}
	*b = Buffer{}
}

// BufferID returns the underlying GPU buffer.
func (b *Buffer) BufferID() gpucore.BufferID { return b.buffer }

// Ring returns the allocation tracker of the buffer.
func (b *Buffer) Ring() *Ring { return &b.ring }

// PendingBytes returns the bytes staged in the current frame.
func (b *Buffer) PendingBytes() uint64 { return b.pendingBytes }

// BeginFrame starts a frame identified by id, usually the submit index of
// the command buffer the staged data is consumed by.
func (b *Buffer) BeginFrame(id uint64) {
	if id == 0 {
		panic(errors.AssertionFailedf("staging: frame id must be non-zero"))
	}
	if b.nextTimelineID != 0 {
		panic(errors.AssertionFailedf("staging: BeginFrame(%d) while frame %d is open", id, b.nextTimelineID))
	}
	b.nextTimelineID = id
}

// EndFrame closes the current frame. Bytes staged during the frame stay
// allocated until NotifyFinishedFrames reports the frame id as finished.
func (b *Buffer) EndFrame() {
	b.assertInFrame("EndFrame")
	if b.pendingBytes != 0 {
		b.submitted = append(b.submitted, submittedUpload{timelineID: b.nextTimelineID, size: b.pendingBytes})
	}
	b.pendingBytes = 0
	b.nextTimelineID = 0
}

// NotifyFinishedFrames releases every frame whose id is at most
// lastFinished.
func (b *Buffer) NotifyFinishedFrames(lastFinished uint64) {
	n := 0
	for _, u := range b.submitted {
		if u.timelineID > lastFinished {
			break
		}
		b.ring.Release(u.size)
		n++
	}
	b.submitted = append(b.submitted[:0], b.submitted[n:]...)
}

// StageAllocate reserves size bytes without writing them. The span may
// wrap around the end of the ring.
func (b *Buffer) StageAllocate(size uint64) (Span, error) {
	if !b.ring.HasAvailable(size) {
		return Span{}, errors.Wrapf(ErrInsufficientSpace, "%d bytes requested, %d available", size, b.ring.Available())
	}
	b.pendingBytes += size
	return b.ring.Fetch(size), nil
}

// stageContiguous reserves size bytes in a single segment whose begin is a
// multiple of alignment. Bytes skipped for padding or wraparound belong to
// the current frame.
func (b *Buffer) stageContiguous(size, alignment uint64) (Span, error) {
	available := b.ring.Available()
	if available < size {
		return Span{}, errors.Wrapf(ErrInsufficientSpace, "%d bytes requested, %d available", size, available)
	}

	head := b.ring.FirstUnused()
	padding := alignUp(head, alignment) - head
	firstAvailable := b.ring.FirstSegmentAvailable()

	switch {
	case firstAvailable >= padding+size:
		b.pendingBytes += padding
		b.ring.Fetch(padding)
	case available-firstAvailable >= size:
		// Skip to the start of the ring, which is always aligned.
		b.pendingBytes += firstAvailable
		b.ring.Fetch(firstAvailable)
	default:
		return Span{}, errors.Wrapf(ErrInsufficientSpace, "no contiguous %d bytes aligned to %d", size, alignment)
	}
	return b.StageAllocate(size)
}

// Stage copies data into the ring.
func (b *Buffer) Stage(data []byte) (Span, error) {
	span, err := b.StageAllocate(uint64(len(data)))
	if err != nil {
		return Span{}, err
	}
	if err := b.CopyTo(span, 0, data); err != nil {
		return Span{}, err
	}
	return span, nil
}

// StageImage copies texel data into a single segment aligned to texelSize
// and to the image alignment of the buffer.
func (b *Buffer) StageImage(data []byte, texelSize uint32) (Span, error) {
	alignment := b.imageAlignment
	for uint64(texelSize) > alignment {
		alignment <<= 1
	}
	span, err := b.stageContiguous(uint64(len(data)), alignment)
	if err != nil {
		return Span{}, err
	}
	if err := b.CopyTo(span, 0, data); err != nil {
		return Span{}, err
	}
	return span, nil
}

// CopyTo writes data into span starting offset bytes into it.
func (b *Buffer) CopyTo(span Span, offset uint64, data []byte) error {
	sub := span.subspan(offset)
	if uint64(len(data)) > sub.Size() {
		panic(errors.AssertionFailedf("staging: copy of %d bytes into span of %d", len(data), sub.Size()))
	}
	for _, seg := range sub.Segments {
		if len(data) == 0 {
			break
		}
		n := min(seg.Size(), uint64(len(data)))
		if n == 0 {
			continue
		}
		if err := b.device.WriteBuffer(b.buffer, seg.Begin, data[:n]); err != nil {
			return errors.Wrap(err, "staging: write")
		}
		data = data[n:]
	}
	return nil
}

// CopyFrom reads len(dst) bytes from span starting offset bytes into it.
func (b *Buffer) CopyFrom(dst []byte, span Span, offset uint64) error {
	sub := span.subspan(offset)
	if uint64(len(dst)) > sub.Size() {
		panic(errors.AssertionFailedf("staging: copy of %d bytes from span of %d", len(dst), sub.Size()))
	}
	for _, seg := range sub.Segments {
		if len(dst) == 0 {
			break
		}
		n := min(seg.Size(), uint64(len(dst)))
		if n == 0 {
			continue
		}
		if err := b.device.ReadBuffer(b.buffer, seg.Begin, dst[:n]); err != nil {
			return errors.Wrap(err, "staging: read")
		}
		dst = dst[n:]
	}
	return nil
}

// Upload records a copy of span into dst at dstOffset.
func (b *Buffer) Upload(cmd gpucore.CommandBuffer, span Span, dst gpucore.BufferID, dstOffset uint64) {
	b.assertInFrame("Upload")
	regions := span.regions(func(seg Segment, off uint64) gpucore.BufferCopy {
		return gpucore.BufferCopy{SrcOffset: seg.Begin, DstOffset: dstOffset + off, Size: seg.Size()}
	})
	cmd.CopyBuffer(b.buffer, dst, regions)
}

// UploadImage records a copy of a span produced by StageImage into dst.
// region.BufferOffset is relative to the start of the span.
func (b *Buffer) UploadImage(cmd gpucore.CommandBuffer, span Span, dst gpucore.TextureID, region gpucore.BufferTextureCopy) {
	b.assertInFrame("UploadImage")
	if !span.Contiguous() {
		panic(errors.AssertionFailedf("staging: image spans must be contiguous"))
	}
	region.BufferOffset += span.Segments[0].Begin
	cmd.CopyBufferToTexture(b.buffer, dst, region)
}

// Download records a copy from src at srcOffset into span. The bytes can be
// read with CopyFrom once the GPU finished the frame.
func (b *Buffer) Download(cmd gpucore.CommandBuffer, src gpucore.BufferID, srcOffset uint64, span Span) {
	b.assertInFrame("Download")
	regions := span.regions(func(seg Segment, off uint64) gpucore.BufferCopy {
		return gpucore.BufferCopy{SrcOffset: srcOffset + off, DstOffset: seg.Begin, Size: seg.Size()}
	})
	cmd.CopyBuffer(src, b.buffer, regions)
}

func (b *Buffer) assertInFrame(op string) {
	if b.nextTimelineID == 0 {
		panic(errors.AssertionFailedf("staging: %s outside of a frame", op))
	}
}

// regions maps every non-empty segment to a copy region. off is the
// position of the segment within the span.
func (s Span) regions(fn func(seg Segment, off uint64) gpucore.BufferCopy) []gpucore.BufferCopy {
	if s.Size() == 0 {
		panic(errors.AssertionFailedf("staging: copy of an empty span"))
	}
	regions := make([]gpucore.BufferCopy, 0, 2)
	var off uint64
	for _, seg := range s.Segments {
		if seg.Empty() {
			continue
		}
		regions = append(regions, fn(seg, off))
		off += seg.Size()
	}
	return regions
}

func alignUp(v, alignment uint64) uint64 {
	return (v + alignment - 1) &^ (alignment - 1)
}
