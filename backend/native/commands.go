//go:build !nogpu

package native

import (
	"github.com/cockroachdb/errors"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/framegraph/gpucore"
)

// CommandBuffer records frame graph commands into a hal command encoder.
// The first command that cannot be recorded is kept and returned by Submit.
type CommandBuffer struct {
	device  *Device
	encoder hal.CommandEncoder
	label   string

	passKind gpucore.PassKind
	compute  hal.ComputePassEncoder
	err      error
}

// Encoder returns the hal encoder for commands recorded outside passes.
func (c *CommandBuffer) Encoder() hal.CommandEncoder { return c.encoder }

// ComputePass returns the open compute pass, or nil outside one. Nodes bind
// their pipeline and bind groups on it before calling Dispatch.
func (c *CommandBuffer) ComputePass() hal.ComputePassEncoder { return c.compute }

// Err returns the first recording error.
func (c *CommandBuffer) Err() error { return c.err }

func (c *CommandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
		logger().Warn("native: command not recorded", "command_buffer", c.label, "err", err)
	}
}

// ApplyBarriers records texture and buffer transitions. Memory barriers are
// covered by the usage transitions of the resources they order.
func (c *CommandBuffer) ApplyBarriers(b *gpucore.Barriers) {
	if len(b.Textures) > 0 {
		barriers := make([]hal.TextureBarrier, 0, len(b.Textures))
		for _, tb := range b.Textures {
			t, ok := c.device.lookupTexture(tb.Texture)
			if !ok {
				c.fail(errors.Wrapf(ErrUnknownResource, "barrier on texture %d", tb.Texture))
				return
			}
			barriers = append(barriers, hal.TextureBarrier{
				Texture: t.hal,
				Usage: hal.TextureUsageTransition{
					OldUsage: layoutUsage(tb.Before.Layout),
					NewUsage: layoutUsage(tb.After.Layout),
				},
			})
		}
		c.encoder.TransitionTextures(barriers)
	}

	if len(b.Buffers) > 0 {
		barriers := make([]hal.BufferBarrier, 0, len(b.Buffers))
		for _, bb := range b.Buffers {
			buf, ok := c.device.lookupBuffer(bb.Range.Buffer)
			if !ok {
				c.fail(errors.Wrapf(ErrUnknownResource, "barrier on buffer %d", bb.Range.Buffer))
				return
			}
			barriers = append(barriers, hal.BufferBarrier{
				Buffer: buf.hal,
				Usage: hal.BufferUsageTransition{
					OldUsage: accessUsage(bb.AccessBefore),
					NewUsage: accessUsage(bb.AccessAfter),
				},
			})
		}
		c.encoder.TransitionBuffers(barriers)
	}
}

// BeginPass opens a compute pass for compute scopes. Other kinds only track
// the scope; their copies are recorded on the encoder directly.
func (c *CommandBuffer) BeginPass(kind gpucore.PassKind, label string) {
	if c.passKind != gpucore.PassNone {
		panic(errors.AssertionFailedf("native: BeginPass %q inside an open %s pass", label, c.passKind))
	}
	c.passKind = kind
	if kind == gpucore.PassCompute {
		c.compute = c.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	}
}

// EndPass closes the current pass.
func (c *CommandBuffer) EndPass() {
	if c.passKind == gpucore.PassNone {
		panic(errors.AssertionFailedf("native: EndPass without an open pass"))
	}
	if c.compute != nil {
		c.compute.End()
		c.compute = nil
	}
	c.passKind = gpucore.PassNone
}

// CopyBuffer records a buffer to buffer copy.
func (c *CommandBuffer) CopyBuffer(src, dst gpucore.BufferID, regions []gpucore.BufferCopy) {
	s, ok := c.device.lookupBuffer(src)
	if !ok {
		c.fail(errors.Wrapf(ErrUnknownResource, "copy source %d", src))
		return
	}
	d, ok := c.device.lookupBuffer(dst)
	if !ok {
		c.fail(errors.Wrapf(ErrUnknownResource, "copy destination %d", dst))
		return
	}
	copies := make([]hal.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = hal.BufferCopy{SrcOffset: r.SrcOffset, DstOffset: r.DstOffset, Size: r.Size}
	}
	c.encoder.CopyBufferToBuffer(s.hal, d.hal, copies)
}

// CopyBufferToTexture records a linear buffer to texture copy.
func (c *CommandBuffer) CopyBufferToTexture(src gpucore.BufferID, dst gpucore.TextureID, region gpucore.BufferTextureCopy) {
	s, ok := c.device.lookupBuffer(src)
	if !ok {
		c.fail(errors.Wrapf(ErrUnknownResource, "copy source %d", src))
		return
	}
	t, ok := c.device.lookupTexture(dst)
	if !ok {
		c.fail(errors.Wrapf(ErrUnknownResource, "copy destination texture %d", dst))
		return
	}
	c.encoder.CopyBufferToTexture(s.hal, t.hal, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       region.BufferOffset,
			BytesPerRow:  region.BytesPerRow,
			RowsPerImage: region.Height,
		},
		TextureBase: hal.ImageCopyTexture{Texture: t.hal, MipLevel: region.MipLevel},
		Size:        hal.Extent3D{Width: region.Width, Height: region.Height, DepthOrArrayLayers: 1},
	}})
}

// Dispatch dispatches workgroups on the open compute pass.
func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	if c.compute == nil {
		panic(errors.AssertionFailedf("native: Dispatch outside a compute pass"))
	}
	c.compute.Dispatch(x, y, z)
}

// DrawIndexed is not supported.
func (c *CommandBuffer) DrawIndexed(indexCount, _, _ uint32, _ int32, _ uint32) {
	c.fail(errors.Wrapf(ErrUnsupported, "draw of %d indices", indexCount))
}

// TraceRays is not supported.
func (c *CommandBuffer) TraceRays(width, height, depth uint32) {
	c.fail(errors.Wrapf(ErrUnsupported, "trace rays %dx%dx%d", width, height, depth))
}

// PushConstants is not supported.
func (c *CommandBuffer) PushConstants(_ gpucore.ShaderStage, _ uint32, data []byte) {
	c.fail(errors.Wrapf(ErrUnsupported, "push constants of %d bytes", len(data)))
}

// BindDescriptorSets is not supported. Nodes bind hal bind groups on
// ComputePass instead.
func (c *CommandBuffer) BindDescriptorSets(bindings []gpucore.Binding) {
	c.fail(errors.Wrapf(ErrUnsupported, "bind %d descriptors", len(bindings)))
}

// layoutUsage maps a texture layout onto the hal usage that implies it.
func layoutUsage(l gpucore.ImageLayout) gputypes.TextureUsage {
	switch l {
	case gpucore.LayoutGeneral:
		return gputypes.TextureUsageStorageBinding
	case gpucore.LayoutColorAttachment, gpucore.LayoutDepthStencilAttachment,
		gpucore.LayoutDepthStencilReadOnly, gpucore.LayoutPresent:
		return gputypes.TextureUsageRenderAttachment
	case gpucore.LayoutShaderReadOnly:
		return gputypes.TextureUsageTextureBinding
	case gpucore.LayoutTransferSrc:
		return gputypes.TextureUsageCopySrc
	case gpucore.LayoutTransferDst:
		return gputypes.TextureUsageCopyDst
	default:
		return 0
	}
}

// accessUsage maps the access scope of a buffer barrier onto hal usages.
func accessUsage(a gpucore.MemoryAccess) gputypes.BufferUsage {
	var u gputypes.BufferUsage
	if a&(gpucore.AccessShaderRead|gpucore.AccessShaderWrite|gpucore.AccessMemoryRead|gpucore.AccessMemoryWrite) != 0 {
		u |= gputypes.BufferUsageStorage
	}
	if a&gpucore.AccessUniformRead != 0 {
		u |= gputypes.BufferUsageUniform
	}
	if a&gpucore.AccessIndirectCommandRead != 0 {
		u |= gputypes.BufferUsageIndirect
	}
	if a&gpucore.AccessIndexRead != 0 {
		u |= gputypes.BufferUsageIndex
	}
	if a&gpucore.AccessTransferRead != 0 {
		u |= gputypes.BufferUsageCopySrc
	}
	if a&gpucore.AccessTransferWrite != 0 {
		u |= gputypes.BufferUsageCopyDst
	}
	return u
}
