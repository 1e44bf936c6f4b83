//go:build !nogpu

package native

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/framegraph/gpucore"
)

// newNoopDevice opens a device on the noop hal backend.
func newNoopDevice(t *testing.T) *Device {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	d, err := openInstance(instance)
	if err != nil {
		instance.Destroy()
		t.Fatalf("openInstance failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDeviceCreateAndDestroy(t *testing.T) {
	d := newNoopDevice(t)

	tex, err := d.CreateTexture(&gpucore.TextureDesc{
		Label:  "color",
		Width:  32,
		Height: 32,
		Format: gpucore.TextureFormatRGBA8Unorm,
		Usage:  gpucore.TextureUsageStorageBinding | gpucore.TextureUsageTextureBinding,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Label: "params", Size: 256, Usage: gpucore.BufferUsageUniform})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if tex == gpucore.InvalidID || buf == gpucore.InvalidID {
		t.Fatalf("got invalid IDs texture=%d buffer=%d", tex, buf)
	}

	d.DestroyTexture(tex)
	d.DestroyBuffer(buf)
	if _, ok := d.lookupTexture(tex); ok {
		t.Error("texture still tracked after DestroyTexture")
	}
	if _, ok := d.lookupBuffer(buf); ok {
		t.Error("buffer still tracked after DestroyBuffer")
	}
}

func TestDeviceInvalidDescriptors(t *testing.T) {
	d := newNoopDevice(t)
	if _, err := d.CreateTexture(&gpucore.TextureDesc{Format: gpucore.TextureFormatRGBA8Unorm}); err == nil {
		t.Error("CreateTexture(0x0) succeeded")
	}
	if _, err := d.CreateBuffer(&gpucore.BufferDesc{}); err == nil {
		t.Error("CreateBuffer(size 0) succeeded")
	}
}

func TestDeviceGPUOnlyBufferNotMappable(t *testing.T) {
	d := newNoopDevice(t)
	buf, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 16, Usage: gpucore.BufferUsageStorage})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if err := d.WriteBuffer(buf, 0, []byte{1}); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("WriteBuffer() error = %v, want ErrNotHostVisible", err)
	}
	if err := d.ReadBuffer(99, 0, make([]byte, 1)); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("ReadBuffer(unknown) error = %v, want ErrUnknownResource", err)
	}
}

func TestDeviceSubmitAdvancesFence(t *testing.T) {
	d := newNoopDevice(t)
	src, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 64, Usage: gpucore.BufferUsageCopySrc, HostVisible: true})
	dst, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 64, Usage: gpucore.BufferUsageStorage})

	if got := d.SubmitIndex(); got != 1 {
		t.Fatalf("SubmitIndex() = %d, want 1", got)
	}

	cmd, err := d.BeginCommandBuffer("frame")
	if err != nil {
		t.Fatalf("BeginCommandBuffer() error = %v", err)
	}
	cmd.BeginPass(gpucore.PassTransfer, "upload")
	cmd.CopyBuffer(src, dst, []gpucore.BufferCopy{{Size: 64}})
	cmd.EndPass()
	cmd.ApplyBarriers(&gpucore.Barriers{Buffers: []gpucore.BufferBarrier{{
		Range:        gpucore.BufferRange{Buffer: dst, Size: 64},
		StagesBefore: gpucore.StageTransfer,
		AccessBefore: gpucore.AccessTransferWrite,
		StagesAfter:  gpucore.StageComputeShader,
		AccessAfter:  gpucore.AccessShaderRead,
	}}})

	index, err := d.Submit(cmd)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if index != 1 {
		t.Errorf("Submit() = %d, want 1", index)
	}
	if err := d.WaitSubmit(context.Background(), index, time.Second); err != nil {
		t.Fatalf("WaitSubmit() error = %v", err)
	}
	if got := d.LastFinishedSubmit(); got != 1 {
		t.Errorf("LastFinishedSubmit() = %d, want 1", got)
	}
}

func TestSubmitUnsupportedCommand(t *testing.T) {
	d := newNoopDevice(t)
	cmd, err := d.BeginCommandBuffer("frame")
	if err != nil {
		t.Fatalf("BeginCommandBuffer() error = %v", err)
	}
	cmd.BeginPass(gpucore.PassGraphics, "draw")
	cmd.DrawIndexed(3, 1, 0, 0, 0)
	cmd.EndPass()

	if _, err := d.Submit(cmd); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Submit() error = %v, want ErrUnsupported", err)
	}
	if got := d.SubmitIndex(); got != 1 {
		t.Errorf("SubmitIndex() after failed submit = %d, want 1", got)
	}
}

func TestBarrierOnUnknownTextureFailsSubmit(t *testing.T) {
	d := newNoopDevice(t)
	cmd, _ := d.BeginCommandBuffer("frame")
	cmd.ApplyBarriers(&gpucore.Barriers{Textures: []gpucore.TextureBarrier{{Texture: 42}}})
	if _, err := d.Submit(cmd); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("Submit() error = %v, want ErrUnknownResource", err)
	}
}

func TestConvertTextureFormat(t *testing.T) {
	tests := []struct {
		core gpucore.TextureFormat
		hal  gputypes.TextureFormat
	}{
		{gpucore.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8Unorm},
		{gpucore.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8Unorm},
		{gpucore.TextureFormatR8Unorm, gputypes.TextureFormatR8Unorm},
		{gpucore.TextureFormatDepth24PlusStencil8, gputypes.TextureFormatDepth24PlusStencil8},
	}
	for _, tt := range tests {
		t.Run(tt.core.String(), func(t *testing.T) {
			if got := convertTextureFormat(tt.core); got != tt.hal {
				t.Errorf("convertTextureFormat(%s) = %v, want %v", tt.core, got, tt.hal)
			}
			if got := formatFromHal(tt.hal); got != tt.core {
				t.Errorf("formatFromHal(%v) = %s, want %s", tt.hal, got, tt.core)
			}
		})
	}
	if got := formatFromHal(gputypes.TextureFormatUndefined); got != 0 {
		t.Errorf("formatFromHal(Undefined) = %s, want 0", got)
	}
}

func TestConvertBufferUsageHostVisible(t *testing.T) {
	got := convertBufferUsage(gpucore.BufferUsageCopyDst, true)
	want := gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapRead
	if got != want {
		t.Errorf("convertBufferUsage(CopyDst, host) = %v, want %v", got, want)
	}
	got = convertBufferUsage(gpucore.BufferUsageStorage, true)
	if got&gputypes.BufferUsageMapRead != 0 {
		t.Errorf("storage buffer got MapRead: %v", got)
	}
}

func TestLayoutUsage(t *testing.T) {
	tests := []struct {
		layout gpucore.ImageLayout
		want   gputypes.TextureUsage
	}{
		{gpucore.LayoutUndefined, 0},
		{gpucore.LayoutGeneral, gputypes.TextureUsageStorageBinding},
		{gpucore.LayoutColorAttachment, gputypes.TextureUsageRenderAttachment},
		{gpucore.LayoutShaderReadOnly, gputypes.TextureUsageTextureBinding},
		{gpucore.LayoutTransferSrc, gputypes.TextureUsageCopySrc},
		{gpucore.LayoutTransferDst, gputypes.TextureUsageCopyDst},
	}
	for _, tt := range tests {
		if got := layoutUsage(tt.layout); got != tt.want {
			t.Errorf("layoutUsage(%s) = %v, want %v", tt.layout, got, tt.want)
		}
	}
}
