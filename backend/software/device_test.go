package software

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/framegraph/gpucore"
)

func TestDeviceBufferRoundTrip(t *testing.T) {
	d := New()
	id, err := d.CreateBuffer(&gpucore.BufferDesc{Size: 16, HostVisible: true})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	if err := d.WriteBuffer(id, 4, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteBuffer() error = %v", err)
	}
	got := make([]byte, 3)
	if err := d.ReadBuffer(id, 4, got); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("ReadBuffer() = %v, want [1 2 3]", got)
	}

	if err := d.WriteBuffer(id, 15, []byte{1, 2}); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("WriteBuffer() past end error = %v, want ErrOutOfBounds", err)
	}
}

func TestDeviceGPUOnlyBufferNotMappable(t *testing.T) {
	d := New()
	id, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 16})
	if err := d.WriteBuffer(id, 0, []byte{1}); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("WriteBuffer() error = %v, want ErrNotHostVisible", err)
	}
}

func TestDeviceSubmitExecutesCopies(t *testing.T) {
	d := New()
	src, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 8, HostVisible: true})
	dst, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 8, HostVisible: true})
	_ = d.WriteBuffer(src, 0, []byte{9, 8, 7, 6, 5, 4, 3, 2})

	cmd, _ := d.BeginCommandBuffer("copy")
	cmd.CopyBuffer(src, dst, []gpucore.BufferCopy{
		{SrcOffset: 0, DstOffset: 4, Size: 4},
		{SrcOffset: 4, DstOffset: 0, Size: 4},
	})

	if got := d.SubmitIndex(); got != 1 {
		t.Errorf("SubmitIndex() = %d, want 1", got)
	}
	idx, err := d.Submit(cmd)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if idx != 1 || d.LastFinishedSubmit() != 1 {
		t.Errorf("Submit() = %d, finished %d; want 1, 1", idx, d.LastFinishedSubmit())
	}

	got := make([]byte, 8)
	_ = d.ReadBuffer(dst, 0, got)
	if !bytes.Equal(got, []byte{5, 4, 3, 2, 9, 8, 7, 6}) {
		t.Errorf("destination = %v", got)
	}
}

func TestDeviceManualCompletion(t *testing.T) {
	d := New(WithManualCompletion())
	for range 3 {
		cmd, _ := d.BeginCommandBuffer("frame")
		if _, err := d.Submit(cmd); err != nil {
			t.Fatal(err)
		}
	}
	if d.LastFinishedSubmit() != 0 {
		t.Errorf("LastFinishedSubmit() = %d, want 0", d.LastFinishedSubmit())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := d.WaitSubmit(ctx, 2, 0); err == nil {
		t.Error("WaitSubmit() returned before completion")
	}

	d.Complete(2)
	if err := d.WaitSubmit(context.Background(), 2, time.Second); err != nil {
		t.Errorf("WaitSubmit() error = %v", err)
	}
	d.Complete(10)
	if d.LastFinishedSubmit() != 3 {
		t.Errorf("LastFinishedSubmit() = %d, want 3 (clamped)", d.LastFinishedSubmit())
	}
}

func TestDeviceTextureLimit(t *testing.T) {
	d := New(WithTextureLimit(1))
	desc := &gpucore.TextureDesc{Width: 4, Height: 4, Format: gpucore.TextureFormatRGBA8Unorm}
	id, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	if _, err := d.CreateTexture(desc); !errors.Is(err, ErrResourceLimit) {
		t.Errorf("second CreateTexture() error = %v, want ErrResourceLimit", err)
	}
	d.DestroyTexture(id)
	if _, err := d.CreateTexture(desc); err != nil {
		t.Errorf("CreateTexture() after destroy error = %v", err)
	}
	if s := d.Stats(); s.TexturesCreated != 2 || s.TexturesDestroyed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestCommandBufferRecording(t *testing.T) {
	d := New()
	cmd, _ := d.BeginCommandBuffer("frame")
	cmd.BeginPass(gpucore.PassCompute, "blur")
	cmd.Dispatch(8, 8, 1)
	cmd.EndPass()
	cmd.ApplyBarriers(&gpucore.Barriers{Memory: []gpucore.MemoryBarrier{{}}})

	cb := cmd.(*CommandBuffer)
	if got := cb.Passes(); len(got) != 1 || got[0] != "blur" {
		t.Errorf("Passes() = %v, want [blur]", got)
	}
	if cb.Count(CmdDispatch) != 1 || cb.Count(CmdBarriers) != 1 {
		t.Errorf("unexpected command counts in %v", cb.Commands)
	}

	defer func() {
		if recover() == nil {
			t.Error("EndPass without BeginPass did not panic")
		}
	}()
	cmd.EndPass()
}
