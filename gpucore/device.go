package gpucore

import (
	"context"
	"time"
)

// Device is the GPU backend consumed by the frame graph.
//
// Implementations map the opaque IDs to their native resources. A Device is
// driven from one goroutine per frame; implementations may still guard their
// maps with a mutex so that diagnostics can query them concurrently.
type Device interface {
	// Name returns the backend identifier (e.g., "software", "native").
	Name() string

	// === Resource Management ===

	// CreateTexture creates a texture. Failures are resource errors and
	// must be returned, never panicked.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture immediately. Callers defer the call
	// until the GPU finished every submit that used the texture.
	DestroyTexture(id TextureID)

	// CreateBuffer creates a buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer immediately.
	DestroyBuffer(id BufferID)

	// WriteBuffer writes host data into a host-visible buffer.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer reads a host-visible buffer into dst.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// === Command Recording ===

	// BeginCommandBuffer starts recording a command buffer.
	BeginCommandBuffer(label string) (CommandBuffer, error)

	// Submit ends recording and submits cmd to the queue. The returned index
	// is the submit index assigned to cmd.
	Submit(cmd CommandBuffer) (uint64, error)

	// === Synchronization ===

	// SubmitIndex returns the index the next Submit will receive.
	// Indices start at 1 and increase monotonically.
	SubmitIndex() uint64

	// LastFinishedSubmit returns the highest submit index the GPU finished.
	LastFinishedSubmit() uint64

	// WaitSubmit blocks until the GPU finished submit index or the timeout
	// or context expires.
	WaitSubmit(ctx context.Context, index uint64, timeout time.Duration) error
}

// CommandBuffer records GPU commands. All methods only record; nothing runs
// until the buffer is submitted.
type CommandBuffer interface {
	// ApplyBarriers records one batched pipeline barrier.
	ApplyBarriers(b *Barriers)

	// BeginPass opens a pass scope of the given kind.
	BeginPass(kind PassKind, label string)

	// EndPass closes the current pass scope.
	EndPass()

	// CopyBuffer copies regions between two buffers.
	CopyBuffer(src, dst BufferID, regions []BufferCopy)

	// CopyBufferToTexture copies a linear buffer region into a texture.
	CopyBufferToTexture(src BufferID, dst TextureID, region BufferTextureCopy)

	// Dispatch records a compute dispatch.
	Dispatch(x, y, z uint32)

	// DrawIndexed records an indexed draw.
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	// TraceRays records a ray tracing dispatch.
	TraceRays(width, height, depth uint32)

	// PushConstants updates push constant data for the given stages.
	PushConstants(stages ShaderStage, offset uint32, data []byte)

	// BindDescriptorSets binds resources for the next dispatch or draw.
	BindDescriptorSets(bindings []Binding)
}

// BindingKind identifies what a Binding refers to.
type BindingKind uint8

// Binding kinds.
const (
	BindingBuffer BindingKind = iota + 1
	BindingTexture
)

// Binding is one resource bound by BindDescriptorSets.
type Binding struct {
	Slot    uint32
	Kind    BindingKind
	Buffer  BufferRange
	Texture TextureID
	Layout  ImageLayout
}

// BindlessTable is the descriptor table backing bindless texture access.
// Slot 0 is reserved by convention for a dummy texture.
type BindlessTable interface {
	// SetTexture points slot at texture, expected in layout when sampled.
	SetTexture(slot uint32, texture TextureID, layout ImageLayout)

	// ClearTexture resets slot to the dummy texture.
	ClearTexture(slot uint32)
}
