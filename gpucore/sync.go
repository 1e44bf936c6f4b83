package gpucore

import (
	"fmt"
	"strings"
)

// PipelineStage is a bitmask of pipeline stages used as the source or
// destination scope of a barrier.
type PipelineStage uint32

// Pipeline stages.
const (
	StageNone                  PipelineStage = 0
	StageTopOfPipe             PipelineStage = 1 << 0
	StageDrawIndirect          PipelineStage = 1 << 1
	StageVertexShader          PipelineStage = 1 << 2
	StageEarlyFragmentTests    PipelineStage = 1 << 3
	StageFragmentShader        PipelineStage = 1 << 4
	StageLateFragmentTests     PipelineStage = 1 << 5
	StageColorAttachmentOutput PipelineStage = 1 << 6
	StageComputeShader         PipelineStage = 1 << 7
	StageRayTracingShader      PipelineStage = 1 << 8
	StageTransfer              PipelineStage = 1 << 9
	StageBottomOfPipe          PipelineStage = 1 << 10
	StageHost                  PipelineStage = 1 << 11

	// StageAllGraphics covers every stage of a graphics pipeline.
	StageAllGraphics = StageDrawIndirect | StageVertexShader | StageEarlyFragmentTests |
		StageFragmentShader | StageLateFragmentTests | StageColorAttachmentOutput

	// StageAllCommands covers every stage.
	StageAllCommands PipelineStage = 1 << 31
)

var stageNames = []struct {
	bit  PipelineStage
	name string
}{
	{StageTopOfPipe, "TopOfPipe"},
	{StageDrawIndirect, "DrawIndirect"},
	{StageVertexShader, "VertexShader"},
	{StageEarlyFragmentTests, "EarlyFragmentTests"},
	{StageFragmentShader, "FragmentShader"},
	{StageLateFragmentTests, "LateFragmentTests"},
	{StageColorAttachmentOutput, "ColorAttachmentOutput"},
	{StageComputeShader, "ComputeShader"},
	{StageRayTracingShader, "RayTracingShader"},
	{StageTransfer, "Transfer"},
	{StageBottomOfPipe, "BottomOfPipe"},
	{StageHost, "Host"},
	{StageAllCommands, "AllCommands"},
}

// String returns the set stage names joined by '|'.
func (s PipelineStage) String() string {
	if s == StageNone {
		return "None"
	}
	var parts []string
	for _, n := range stageNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// MemoryAccess is a bitmask of memory access types.
type MemoryAccess uint32

// Memory access types.
const (
	AccessNone                   MemoryAccess = 0
	AccessIndirectCommandRead    MemoryAccess = 1 << 0
	AccessIndexRead              MemoryAccess = 1 << 1
	AccessUniformRead            MemoryAccess = 1 << 2
	AccessShaderRead             MemoryAccess = 1 << 3
	AccessShaderWrite            MemoryAccess = 1 << 4
	AccessColorAttachmentRead    MemoryAccess = 1 << 5
	AccessColorAttachmentWrite   MemoryAccess = 1 << 6
	AccessDepthStencilRead       MemoryAccess = 1 << 7
	AccessDepthStencilWrite      MemoryAccess = 1 << 8
	AccessTransferRead           MemoryAccess = 1 << 9
	AccessTransferWrite          MemoryAccess = 1 << 10
	AccessMemoryRead             MemoryAccess = 1 << 11
	AccessMemoryWrite            MemoryAccess = 1 << 12
	AccessHostRead               MemoryAccess = 1 << 13
	AccessHostWrite              MemoryAccess = 1 << 14
	accessWriteMask                           = AccessShaderWrite | AccessColorAttachmentWrite |
		AccessDepthStencilWrite | AccessTransferWrite | AccessMemoryWrite | AccessHostWrite
)

// HasWrite reports whether any write access is set.
func (a MemoryAccess) HasWrite() bool {
	return a&accessWriteMask != 0
}

var accessNames = []struct {
	bit  MemoryAccess
	name string
}{
	{AccessIndirectCommandRead, "IndirectCommandRead"},
	{AccessIndexRead, "IndexRead"},
	{AccessUniformRead, "UniformRead"},
	{AccessShaderRead, "ShaderRead"},
	{AccessShaderWrite, "ShaderWrite"},
	{AccessColorAttachmentRead, "ColorAttachmentRead"},
	{AccessColorAttachmentWrite, "ColorAttachmentWrite"},
	{AccessDepthStencilRead, "DepthStencilRead"},
	{AccessDepthStencilWrite, "DepthStencilWrite"},
	{AccessTransferRead, "TransferRead"},
	{AccessTransferWrite, "TransferWrite"},
	{AccessMemoryRead, "MemoryRead"},
	{AccessMemoryWrite, "MemoryWrite"},
	{AccessHostRead, "HostRead"},
	{AccessHostWrite, "HostWrite"},
}

// String returns the set access names joined by '|'.
func (a MemoryAccess) String() string {
	if a == AccessNone {
		return "None"
	}
	var parts []string
	for _, n := range accessNames {
		if a&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ImageLayout is the memory layout of a texture.
type ImageLayout uint8

// Image layouts.
const (
	LayoutUndefined ImageLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

// String returns the layout name.
func (l ImageLayout) String() string {
	switch l {
	case LayoutUndefined:
		return "Undefined"
	case LayoutGeneral:
		return "General"
	case LayoutColorAttachment:
		return "ColorAttachment"
	case LayoutDepthStencilAttachment:
		return "DepthStencilAttachment"
	case LayoutDepthStencilReadOnly:
		return "DepthStencilReadOnly"
	case LayoutShaderReadOnly:
		return "ShaderReadOnly"
	case LayoutTransferSrc:
		return "TransferSrc"
	case LayoutTransferDst:
		return "TransferDst"
	case LayoutPresent:
		return "Present"
	default:
		return fmt.Sprintf("ImageLayout(%d)", uint8(l))
	}
}

// PassKind is the kind of work a pass records. It selects the destination
// pipeline stage of the pass's resource accesses.
type PassKind uint8

// Pass kinds.
const (
	PassNone PassKind = iota
	PassGraphics
	PassCompute
	PassRaytracing
	PassTransfer
)

// String returns the pass kind name.
func (k PassKind) String() string {
	switch k {
	case PassNone:
		return "none"
	case PassGraphics:
		return "graphics"
	case PassCompute:
		return "compute"
	case PassRaytracing:
		return "raytracing"
	case PassTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("PassKind(%d)", uint8(k))
	}
}

// Stages returns the pipeline stages a pass of kind k runs in.
func (k PassKind) Stages() PipelineStage {
	switch k {
	case PassGraphics:
		return StageAllGraphics
	case PassCompute:
		return StageComputeShader
	case PassRaytracing:
		return StageRayTracingShader
	case PassTransfer:
		return StageTransfer
	default:
		return StageNone
	}
}

// TextureAccess is the closed set of usage categories a pass declares for a
// texture. The state tracker deduces stage, access and layout from it.
type TextureAccess uint8

// Texture usage categories.
const (
	TextureAccessNone TextureAccess = iota
	RenderTargetWrite
	DepthStencilRead
	DepthStencilWrite
	ShaderRead
	StorageRead
	StorageWrite
	TransferSource
	TransferDestination
	Present
)

// String returns the usage category name.
func (a TextureAccess) String() string {
	switch a {
	case TextureAccessNone:
		return "none"
	case RenderTargetWrite:
		return "render_target_write"
	case DepthStencilRead:
		return "depth_stencil_read"
	case DepthStencilWrite:
		return "depth_stencil_write"
	case ShaderRead:
		return "shader_read"
	case StorageRead:
		return "storage_read"
	case StorageWrite:
		return "storage_write"
	case TransferSource:
		return "transfer_source"
	case TransferDestination:
		return "transfer_destination"
	case Present:
		return "present"
	default:
		return fmt.Sprintf("TextureAccess(%d)", uint8(a))
	}
}

// Usage returns the texture capability a texture needs to allow a.
func (a TextureAccess) Usage() TextureUsage {
	switch a {
	case RenderTargetWrite:
		return TextureUsageRenderAttachment
	case DepthStencilRead, DepthStencilWrite:
		return TextureUsageDepthStencil
	case ShaderRead:
		return TextureUsageTextureBinding
	case StorageRead, StorageWrite:
		return TextureUsageStorageBinding
	case TransferSource:
		return TextureUsageCopySrc
	case TransferDestination:
		return TextureUsageCopyDst
	default:
		return 0
	}
}

// BufferAccess is the closed set of usage categories a pass declares for a buffer.
type BufferAccess uint8

// Buffer usage categories.
const (
	BufferAccessNone BufferAccess = iota
	BufferStorageRead
	// BufferStorageWrite is read-write: writers may read uploaded data.
	BufferStorageWrite
	BufferStorageUpload
	BufferDownload
	BufferUniform
	BufferIndirect
	BufferIndex
)

// String returns the usage category name.
func (a BufferAccess) String() string {
	switch a {
	case BufferAccessNone:
		return "none"
	case BufferStorageRead:
		return "storage_read"
	case BufferStorageWrite:
		return "storage_write"
	case BufferStorageUpload:
		return "storage_upload"
	case BufferDownload:
		return "download"
	case BufferUniform:
		return "uniform"
	case BufferIndirect:
		return "indirect"
	case BufferIndex:
		return "index"
	default:
		return fmt.Sprintf("BufferAccess(%d)", uint8(a))
	}
}

// Usage returns the buffer capability a buffer needs to allow a.
func (a BufferAccess) Usage() BufferUsage {
	switch a {
	case BufferStorageRead, BufferStorageWrite, BufferStorageUpload:
		return BufferUsageStorage
	case BufferDownload:
		return BufferUsageCopySrc
	case BufferUniform:
		return BufferUsageUniform
	case BufferIndirect:
		return BufferUsageIndirect
	case BufferIndex:
		return BufferUsageIndex
	default:
		return 0
	}
}

// IsRead reports whether a only reads the buffer.
func (a BufferAccess) IsRead() bool {
	switch a {
	case BufferStorageWrite, BufferStorageUpload:
		return false
	default:
		return true
	}
}

// Memory returns the memory access of a.
func (a BufferAccess) Memory() MemoryAccess {
	switch a {
	case BufferStorageWrite:
		return AccessMemoryRead | AccessMemoryWrite
	case BufferStorageUpload:
		return AccessMemoryWrite
	case BufferAccessNone:
		return AccessNone
	default:
		return AccessMemoryRead
	}
}

// SyncState is the last known synchronization scope of a resource.
type SyncState struct {
	Stage  PipelineStage
	Access MemoryAccess
	Layout ImageLayout
}

// String formats the state as stage/access/layout.
func (s SyncState) String() string {
	return fmt.Sprintf("%s/%s/%s", s.Stage, s.Access, s.Layout)
}

// TextureBarrier transitions a texture from one state to another.
type TextureBarrier struct {
	Texture TextureID
	Before  SyncState
	After   SyncState
}

// IsNoop reports whether the barrier changes nothing.
func (b TextureBarrier) IsNoop() bool {
	return b.Before == b.After
}

// BufferBarrier orders accesses to a buffer range.
type BufferBarrier struct {
	Range        BufferRange
	StagesBefore PipelineStage
	AccessBefore MemoryAccess
	StagesAfter  PipelineStage
	AccessAfter  MemoryAccess
}

// MemoryBarrier orders every memory access between two scopes.
type MemoryBarrier struct {
	StagesBefore PipelineStage
	AccessBefore MemoryAccess
	StagesAfter  PipelineStage
	AccessAfter  MemoryAccess
}

// Barriers is one batch of barriers applied with a single command.
type Barriers struct {
	Memory   []MemoryBarrier
	Buffers  []BufferBarrier
	Textures []TextureBarrier
}

// Empty reports whether the batch holds no barrier.
func (b *Barriers) Empty() bool {
	return len(b.Memory) == 0 && len(b.Buffers) == 0 && len(b.Textures) == 0
}

// Len returns the number of barriers in the batch.
func (b *Barriers) Len() int {
	return len(b.Memory) + len(b.Buffers) + len(b.Textures)
}

// ShaderStage is a bitmask of shader stages receiving push constants.
type ShaderStage uint32

// Shader stages.
const (
	ShaderStageVertex   ShaderStage = 1 << 0
	ShaderStageFragment ShaderStage = 1 << 1
	ShaderStageCompute  ShaderStage = 1 << 2
	ShaderStageRaygen   ShaderStage = 1 << 3
	ShaderStageMiss     ShaderStage = 1 << 4
	ShaderStageHit      ShaderStage = 1 << 5
)
