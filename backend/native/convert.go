//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/framegraph/gpucore"
)

// convertBufferUsage converts gpucore.BufferUsage to gputypes.BufferUsage.
// Host visible buffers gain copy usages for queue writes and reads, and
// MapRead when they are pure transfer buffers.
func convertBufferUsage(usage gpucore.BufferUsage, hostVisible bool) gputypes.BufferUsage {
	var result gputypes.BufferUsage

	if usage&gpucore.BufferUsageMapRead != 0 {
		result |= gputypes.BufferUsageMapRead
	}
	if usage&gpucore.BufferUsageMapWrite != 0 {
		result |= gputypes.BufferUsageMapWrite
	}
	if usage&gpucore.BufferUsageCopySrc != 0 {
		result |= gputypes.BufferUsageCopySrc
	}
	if usage&gpucore.BufferUsageCopyDst != 0 {
		result |= gputypes.BufferUsageCopyDst
	}
	if usage&gpucore.BufferUsageIndex != 0 {
		result |= gputypes.BufferUsageIndex
	}
	if usage&gpucore.BufferUsageVertex != 0 {
		result |= gputypes.BufferUsageVertex
	}
	if usage&gpucore.BufferUsageUniform != 0 {
		result |= gputypes.BufferUsageUniform
	}
	if usage&gpucore.BufferUsageStorage != 0 {
		result |= gputypes.BufferUsageStorage
	}
	if usage&gpucore.BufferUsageIndirect != 0 {
		result |= gputypes.BufferUsageIndirect
	}

	if hostVisible {
		transfer := usage&^(gpucore.BufferUsageCopySrc|gpucore.BufferUsageCopyDst|gpucore.BufferUsageMapRead) == 0
		result |= gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
		if transfer && usage&gpucore.BufferUsageMapWrite == 0 {
			result |= gputypes.BufferUsageMapRead
		}
	}
	return result
}

// convertTextureUsage converts gpucore.TextureUsage to gputypes.TextureUsage.
// Depth-stencil attachments are render attachments in hal terms.
func convertTextureUsage(usage gpucore.TextureUsage) gputypes.TextureUsage {
	var result gputypes.TextureUsage

	if usage&gpucore.TextureUsageCopySrc != 0 {
		result |= gputypes.TextureUsageCopySrc
	}
	if usage&gpucore.TextureUsageCopyDst != 0 {
		result |= gputypes.TextureUsageCopyDst
	}
	if usage&gpucore.TextureUsageTextureBinding != 0 {
		result |= gputypes.TextureUsageTextureBinding
	}
	if usage&gpucore.TextureUsageStorageBinding != 0 {
		result |= gputypes.TextureUsageStorageBinding
	}
	if usage&(gpucore.TextureUsageRenderAttachment|gpucore.TextureUsageDepthStencil) != 0 {
		result |= gputypes.TextureUsageRenderAttachment
	}
	return result
}

var textureFormats = []struct {
	core gpucore.TextureFormat
	hal  gputypes.TextureFormat
}{
	{gpucore.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8Unorm},
	{gpucore.TextureFormatRGBA8UnormSRGB, gputypes.TextureFormatRGBA8UnormSrgb},
	{gpucore.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8Unorm},
	{gpucore.TextureFormatR8Unorm, gputypes.TextureFormatR8Unorm},
	{gpucore.TextureFormatR32Uint, gputypes.TextureFormatR32Uint},
	{gpucore.TextureFormatR32Float, gputypes.TextureFormatR32Float},
	{gpucore.TextureFormatRG16Float, gputypes.TextureFormatRG16Float},
	{gpucore.TextureFormatRGBA16Float, gputypes.TextureFormatRGBA16Float},
	{gpucore.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Float},
	{gpucore.TextureFormatDepth32Float, gputypes.TextureFormatDepth32Float},
	{gpucore.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth24PlusStencil8},
}

// convertTextureFormat converts gpucore.TextureFormat to gputypes.TextureFormat.
func convertTextureFormat(format gpucore.TextureFormat) gputypes.TextureFormat {
	for _, f := range textureFormats {
		if f.core == format {
			return f.hal
		}
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// formatFromHal converts a hal format back, returning zero for formats the
// frame graph does not know.
func formatFromHal(format gputypes.TextureFormat) gpucore.TextureFormat {
	for _, f := range textureFormats {
		if f.hal == format {
			return f.core
		}
	}
	return 0
}
