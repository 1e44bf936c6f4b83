package software

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
)

// CommandKind identifies a recorded command.
type CommandKind uint8

// Recorded command kinds.
const (
	CmdBarriers CommandKind = iota + 1
	CmdBeginPass
	CmdEndPass
	CmdCopyBuffer
	CmdCopyBufferToTexture
	CmdDispatch
	CmdDrawIndexed
	CmdTraceRays
	CmdPushConstants
	CmdBindDescriptorSets
)

// String returns the command name.
func (k CommandKind) String() string {
	switch k {
	case CmdBarriers:
		return "barriers"
	case CmdBeginPass:
		return "begin_pass"
	case CmdEndPass:
		return "end_pass"
	case CmdCopyBuffer:
		return "copy_buffer"
	case CmdCopyBufferToTexture:
		return "copy_buffer_to_texture"
	case CmdDispatch:
		return "dispatch"
	case CmdDrawIndexed:
		return "draw_indexed"
	case CmdTraceRays:
		return "trace_rays"
	case CmdPushConstants:
		return "push_constants"
	case CmdBindDescriptorSets:
		return "bind_descriptor_sets"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Command is one recorded command. Only the fields of its kind are set.
type Command struct {
	Kind CommandKind

	Barriers gpucore.Barriers

	Pass  gpucore.PassKind
	Label string

	SrcBuffer     gpucore.BufferID
	DstBuffer     gpucore.BufferID
	DstTexture    gpucore.TextureID
	Regions       []gpucore.BufferCopy
	TextureRegion gpucore.BufferTextureCopy

	Groups [3]uint32
	Draw   DrawArgs

	Stages   gpucore.ShaderStage
	Offset   uint32
	Data     []byte
	Bindings []gpucore.Binding
}

// DrawArgs holds the arguments of an indexed draw.
type DrawArgs struct {
	IndexCount    uint32
	InstanceCount uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// CommandBuffer records commands for a software Device.
type CommandBuffer struct {
	Label       string
	Commands    []Command
	SubmitIndex uint64

	passOpen bool
}

// ApplyBarriers records a barrier batch. The batch is copied.
func (c *CommandBuffer) ApplyBarriers(b *gpucore.Barriers) {
	cp := gpucore.Barriers{
		Memory:   append([]gpucore.MemoryBarrier(nil), b.Memory...),
		Buffers:  append([]gpucore.BufferBarrier(nil), b.Buffers...),
		Textures: append([]gpucore.TextureBarrier(nil), b.Textures...),
	}
	c.Commands = append(c.Commands, Command{Kind: CmdBarriers, Barriers: cp})
}

// BeginPass opens a pass scope.
func (c *CommandBuffer) BeginPass(kind gpucore.PassKind, label string) {
	if c.passOpen {
		panic(errors.AssertionFailedf("software: BeginPass(%q) while a pass is open", label))
	}
	c.passOpen = true
	c.Commands = append(c.Commands, Command{Kind: CmdBeginPass, Pass: kind, Label: label})
}

// EndPass closes the current pass scope.
func (c *CommandBuffer) EndPass() {
	if !c.passOpen {
		panic(errors.AssertionFailedf("software: EndPass without BeginPass"))
	}
	c.passOpen = false
	c.Commands = append(c.Commands, Command{Kind: CmdEndPass})
}

// CopyBuffer records a buffer to buffer copy.
func (c *CommandBuffer) CopyBuffer(src, dst gpucore.BufferID, regions []gpucore.BufferCopy) {
	c.Commands = append(c.Commands, Command{
		Kind:      CmdCopyBuffer,
		SrcBuffer: src,
		DstBuffer: dst,
		Regions:   append([]gpucore.BufferCopy(nil), regions...),
	})
}

// CopyBufferToTexture records a buffer to texture copy.
func (c *CommandBuffer) CopyBufferToTexture(src gpucore.BufferID, dst gpucore.TextureID, region gpucore.BufferTextureCopy) {
	c.Commands = append(c.Commands, Command{
		Kind:          CmdCopyBufferToTexture,
		SrcBuffer:     src,
		DstTexture:    dst,
		TextureRegion: region,
	})
}

// Dispatch records a compute dispatch.
func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.Commands = append(c.Commands, Command{Kind: CmdDispatch, Groups: [3]uint32{x, y, z}})
}

// DrawIndexed records an indexed draw.
func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.Commands = append(c.Commands, Command{Kind: CmdDrawIndexed, Draw: DrawArgs{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		FirstIndex:    firstIndex,
		VertexOffset:  vertexOffset,
		FirstInstance: firstInstance,
	}})
}

// TraceRays records a ray tracing dispatch.
func (c *CommandBuffer) TraceRays(width, height, depth uint32) {
	c.Commands = append(c.Commands, Command{Kind: CmdTraceRays, Groups: [3]uint32{width, height, depth}})
}

// PushConstants records a push constant update. data is copied.
func (c *CommandBuffer) PushConstants(stages gpucore.ShaderStage, offset uint32, data []byte) {
	c.Commands = append(c.Commands, Command{
		Kind:   CmdPushConstants,
		Stages: stages,
		Offset: offset,
		Data:   append([]byte(nil), data...),
	})
}

// BindDescriptorSets records resource bindings.
func (c *CommandBuffer) BindDescriptorSets(bindings []gpucore.Binding) {
	c.Commands = append(c.Commands, Command{
		Kind:     CmdBindDescriptorSets,
		Bindings: append([]gpucore.Binding(nil), bindings...),
	})
}

// Count returns the number of recorded commands of kind k.
func (c *CommandBuffer) Count(k CommandKind) int {
	n := 0
	for i := range c.Commands {
		if c.Commands[i].Kind == k {
			n++
		}
	}
	return n
}

// Passes returns the labels of the passes in recording order.
func (c *CommandBuffer) Passes() []string {
	var out []string
	for i := range c.Commands {
		if c.Commands[i].Kind == CmdBeginPass {
			out = append(out, c.Commands[i].Label)
		}
	}
	return out
}

var _ gpucore.CommandBuffer = (*CommandBuffer)(nil)
