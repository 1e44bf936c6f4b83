package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent GPU resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// BufferUsage is a bitmask specifying how a buffer will be used.
type BufferUsage uint32

// Buffer usage flags.
const (
	// BufferUsageMapRead indicates the buffer can be mapped for reading.
	BufferUsageMapRead BufferUsage = 1 << 0

	// BufferUsageMapWrite indicates the buffer can be mapped for writing.
	BufferUsageMapWrite BufferUsage = 1 << 1

	// BufferUsageCopySrc indicates the buffer can be used as a copy source.
	BufferUsageCopySrc BufferUsage = 1 << 2

	// BufferUsageCopyDst indicates the buffer can be used as a copy destination.
	BufferUsageCopyDst BufferUsage = 1 << 3

	// BufferUsageIndex indicates the buffer can be used as an index buffer.
	BufferUsageIndex BufferUsage = 1 << 4

	// BufferUsageVertex indicates the buffer can be used as a vertex buffer.
	BufferUsageVertex BufferUsage = 1 << 5

	// BufferUsageUniform indicates the buffer can be used as a uniform buffer.
	BufferUsageUniform BufferUsage = 1 << 6

	// BufferUsageStorage indicates the buffer can be used as a storage buffer.
	BufferUsageStorage BufferUsage = 1 << 7

	// BufferUsageIndirect indicates the buffer can be used for indirect dispatch/draw.
	BufferUsageIndirect BufferUsage = 1 << 8
)

// Contains reports whether u has every flag of other.
func (u BufferUsage) Contains(other BufferUsage) bool {
	return u&other == other
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm TextureFormat = iota + 1

	// TextureFormatRGBA8UnormSRGB is 8-bit RGBA, normalized unsigned integer in sRGB color space.
	TextureFormatRGBA8UnormSRGB

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatR8Unorm is 8-bit red channel only, normalized unsigned integer.
	TextureFormatR8Unorm

	// TextureFormatR32Uint is 32-bit red channel only, unsigned integer.
	TextureFormatR32Uint

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatRG16Float is 16-bit RG, floating point (motion vectors, normals).
	TextureFormatRG16Float

	// TextureFormatRGBA16Float is 16-bit RGBA, floating point (HDR color).
	TextureFormatRGBA16Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float

	// TextureFormatDepth32Float is a 32-bit floating point depth format.
	TextureFormatDepth32Float

	// TextureFormatDepth24PlusStencil8 is a packed depth/stencil format.
	TextureFormatDepth24PlusStencil8
)

var textureFormatNames = map[TextureFormat]string{
	TextureFormatRGBA8Unorm:          "RGBA8Unorm",
	TextureFormatRGBA8UnormSRGB:      "RGBA8UnormSRGB",
	TextureFormatBGRA8Unorm:          "BGRA8Unorm",
	TextureFormatR8Unorm:             "R8Unorm",
	TextureFormatR32Uint:             "R32Uint",
	TextureFormatR32Float:            "R32Float",
	TextureFormatRG16Float:           "RG16Float",
	TextureFormatRGBA16Float:         "RGBA16Float",
	TextureFormatRGBA32Float:         "RGBA32Float",
	TextureFormatDepth32Float:        "Depth32Float",
	TextureFormatDepth24PlusStencil8: "Depth24PlusStencil8",
}

// String returns the format name.
func (f TextureFormat) String() string {
	if name, ok := textureFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint32(f))
}

// BytesPerTexel returns the size of one texel in bytes.
func (f TextureFormat) BytesPerTexel() uint32 {
	switch f {
	case TextureFormatR8Unorm:
		return 1
	case TextureFormatRG16Float, TextureFormatRGBA8Unorm, TextureFormatRGBA8UnormSRGB,
		TextureFormatBGRA8Unorm, TextureFormatR32Uint, TextureFormatR32Float,
		TextureFormatDepth32Float, TextureFormatDepth24PlusStencil8:
		return 4
	case TextureFormatRGBA16Float:
		return 8
	case TextureFormatRGBA32Float:
		return 16
	default:
		return 4
	}
}

// IsDepth reports whether the format has a depth aspect.
func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatDepth32Float || f == TextureFormatDepth24PlusStencil8
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopySrc indicates the texture can be used as a copy source.
	TextureUsageCopySrc TextureUsage = 1 << 0

	// TextureUsageCopyDst indicates the texture can be used as a copy destination.
	TextureUsageCopyDst TextureUsage = 1 << 1

	// TextureUsageTextureBinding indicates the texture can be bound as a sampled texture.
	TextureUsageTextureBinding TextureUsage = 1 << 2

	// TextureUsageStorageBinding indicates the texture can be bound as a storage texture.
	TextureUsageStorageBinding TextureUsage = 1 << 3

	// TextureUsageRenderAttachment indicates the texture can be used as a render target.
	TextureUsageRenderAttachment TextureUsage = 1 << 4

	// TextureUsageDepthStencil indicates the texture can be used as a depth/stencil attachment.
	TextureUsageDepthStencil TextureUsage = 1 << 5
)

// Contains reports whether u has every flag of other.
func (u TextureUsage) Contains(other TextureUsage) bool {
	return u&other == other
}

// TextureDesc describes a texture to create.
// Label is ignored when comparing descriptors for reuse.
type TextureDesc struct {
	Label  string
	Width  uint32
	Height uint32
	// Depth is the depth of 3D textures or the array layer count; 0 means 1.
	Depth     uint32
	MipLevels uint32
	Format    TextureFormat
	Usage     TextureUsage
}

// Compatible reports whether a texture created with d can serve a request for
// other: same shape and format, and a usage superset.
func (d TextureDesc) Compatible(other TextureDesc) bool {
	return d.Width == other.Width &&
		d.Height == other.Height &&
		d.depth() == other.depth() &&
		d.mipLevels() == other.mipLevels() &&
		d.Format == other.Format &&
		d.Usage.Contains(other.Usage)
}

// SameShape reports whether d and other only differ in label and usage.
func (d TextureDesc) SameShape(other TextureDesc) bool {
	return d.Width == other.Width &&
		d.Height == other.Height &&
		d.depth() == other.depth() &&
		d.mipLevels() == other.mipLevels() &&
		d.Format == other.Format
}

func (d TextureDesc) depth() uint32 {
	if d.Depth == 0 {
		return 1
	}
	return d.Depth
}

func (d TextureDesc) mipLevels() uint32 {
	if d.MipLevels == 0 {
		return 1
	}
	return d.MipLevels
}

// String returns a compact description used in logs and DOT labels.
func (d TextureDesc) String() string {
	return fmt.Sprintf("%dx%d %s", d.Width, d.Height, d.Format)
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage BufferUsage
	// HostVisible requests memory the CPU can write and read through
	// Device.WriteBuffer and Device.ReadBuffer.
	HostVisible bool
}

// BufferRange is a region of a buffer.
type BufferRange struct {
	Buffer BufferID
	Offset uint64
	Size   uint64
}

// BufferCopy is one region of a buffer to buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferTextureCopy describes a copy between a linear buffer region and a texture.
type BufferTextureCopy struct {
	BufferOffset uint64
	BytesPerRow  uint32
	Width        uint32
	Height       uint32
	MipLevel     uint32
}
