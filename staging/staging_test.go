package staging

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpucore"
)

func TestRingWraparound(t *testing.T) {
	r := NewRing(100)
	r.Fetch(60)
	r.Fetch(20)
	r.Release(60)

	if got := r.FirstUnused(); got != 80 {
		t.Errorf("FirstUnused() = %d, want 80", got)
	}
	if got := r.FirstSegmentAvailable(); got != 20 {
		t.Errorf("FirstSegmentAvailable() = %d, want 20", got)
	}

	s := r.Fetch(40)
	want := Span{Segments: [2]Segment{{Begin: 80, End: 100}, {Begin: 0, End: 20}}}
	if s != want {
		t.Errorf("Fetch(40) = %+v, want %+v", s, want)
	}
	if r.Available() != 40 || r.Used() != 60 {
		t.Errorf("Available() = %d, Used() = %d; want 40, 60", r.Available(), r.Used())
	}
	if got := r.FirstSegmentAvailable(); got != 40 {
		t.Errorf("FirstSegmentAvailable() = %d, want 40", got)
	}

	r.Release(60)
	if r.Used() != 0 || r.FirstUnused() != 0 {
		t.Errorf("empty ring: Used() = %d, FirstUnused() = %d", r.Used(), r.FirstUnused())
	}
}

func TestRingFetchTooMuchPanics(t *testing.T) {
	r := NewRing(8)
	defer func() {
		if recover() == nil {
			t.Error("Fetch beyond capacity did not panic")
		}
	}()
	r.Fetch(9)
}

func TestSpanSubspan(t *testing.T) {
	s := Span{Segments: [2]Segment{{Begin: 80, End: 100}, {Begin: 0, End: 20}}}
	tests := []struct {
		offset uint64
		want   Span
	}{
		{0, s},
		{5, Span{Segments: [2]Segment{{Begin: 85, End: 100}, {Begin: 0, End: 20}}}},
		{20, Span{Segments: [2]Segment{{Begin: 100, End: 100}, {Begin: 0, End: 20}}}},
		{25, Span{Segments: [2]Segment{{Begin: 100, End: 100}, {Begin: 5, End: 20}}}},
		{50, Span{Segments: [2]Segment{{Begin: 100, End: 100}, {Begin: 20, End: 20}}}},
	}
	for _, tt := range tests {
		if got := s.subspan(tt.offset); got != tt.want {
			t.Errorf("subspan(%d) = %+v, want %+v", tt.offset, got, tt.want)
		}
	}
}

func int32Bytes(values []int32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func submit(t *testing.T, d *software.Device, record func(cmd gpucore.CommandBuffer)) {
	t.Helper()
	cmd, err := d.BeginCommandBuffer("staging")
	if err != nil {
		t.Fatal(err)
	}
	record(cmd)
	if _, err := d.Submit(cmd); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
}

func TestBufferUploadCycle(t *testing.T) {
	const bufferSize = 64
	d := software.New()
	sb, err := New(d, 128)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer sb.Close()

	var buffers [4]gpucore.BufferID
	for i := range buffers {
		buffers[i], _ = d.CreateBuffer(&gpucore.BufferDesc{
			Size:        bufferSize,
			Usage:       gpucore.BufferUsageCopyDst,
			HostVisible: true,
		})
	}

	values := make([]int32, bufferSize/4)
	for i := range values {
		values[i] = int32(i)
	}
	data := int32Bytes(values)

	// Two uploads fill the ring; the rest must wait for the GPU.
	for frame, targets := range [][2]int{{0, 1}, {2, 3}} {
		sb.NotifyFinishedFrames(d.LastFinishedSubmit())
		sb.BeginFrame(d.SubmitIndex())

		var spans []Span
		for i := range 4 {
			span, err := sb.Stage(data)
			if i < 2 {
				if err != nil {
					t.Fatalf("frame %d: Stage(%d) error = %v", frame, i, err)
				}
				spans = append(spans, span)
			} else if !errors.Is(err, ErrInsufficientSpace) {
				t.Fatalf("frame %d: Stage(%d) error = %v, want ErrInsufficientSpace", frame, i, err)
			}
		}

		submit(t, d, func(cmd gpucore.CommandBuffer) {
			sb.Upload(cmd, spans[0], buffers[targets[0]], 0)
			sb.Upload(cmd, spans[1], buffers[targets[1]], 0)
		})
		sb.EndFrame()

		for _, i := range targets {
			if !bytes.Equal(d.BufferData(buffers[i]), data) {
				t.Errorf("frame %d: buffer %d = %v", frame, i, d.BufferData(buffers[i]))
			}
		}
	}

	half := make([]int32, bufferSize/8)
	for i := range half {
		half[i] = 42
	}
	halfData := int32Bytes(half)
	expected := append(append([]byte(nil), halfData...), data[len(halfData):]...)

	sb.NotifyFinishedFrames(d.LastFinishedSubmit())
	sb.BeginFrame(d.SubmitIndex())
	var spans []Span
	for i := range 3 {
		span, err := sb.Stage(halfData)
		if err != nil {
			t.Fatalf("Stage(%d) error = %v", i, err)
		}
		spans = append(spans, span)
	}
	submit(t, d, func(cmd gpucore.CommandBuffer) {
		for i, span := range spans {
			sb.Upload(cmd, span, buffers[i], 0)
		}
	})
	sb.EndFrame()

	for i := range 3 {
		if !bytes.Equal(d.BufferData(buffers[i]), expected) {
			t.Errorf("buffer %d = %v, want %v", i, d.BufferData(buffers[i]), expected)
		}
	}
	if bytes.Equal(d.BufferData(buffers[3]), expected) {
		t.Error("buffer 3 was overwritten")
	}
}

func TestBufferWrappedUpload(t *testing.T) {
	d := software.New()
	sb, err := New(d, 100)
	if err != nil {
		t.Fatal(err)
	}
	dst, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 40, HostVisible: true})

	sb.BeginFrame(1)
	if _, err := sb.StageAllocate(60); err != nil {
		t.Fatal(err)
	}
	sb.EndFrame()
	sb.BeginFrame(2)
	if _, err := sb.StageAllocate(20); err != nil {
		t.Fatal(err)
	}
	sb.EndFrame()
	sb.NotifyFinishedFrames(1)

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	sb.BeginFrame(3)
	span, err := sb.Stage(payload)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	if span.Contiguous() {
		t.Fatalf("Stage() = %+v, want a wrapped span", span)
	}
	submit(t, d, func(cmd gpucore.CommandBuffer) {
		sb.Upload(cmd, span, dst, 0)
		cb := cmd.(*software.CommandBuffer)
		if n := len(cb.Commands[len(cb.Commands)-1].Regions); n != 2 {
			t.Errorf("Upload() recorded %d regions, want 2", n)
		}
	})
	sb.EndFrame()

	if !bytes.Equal(d.BufferData(dst), payload) {
		t.Errorf("destination = %v, want %v", d.BufferData(dst), payload)
	}

	back := make([]byte, 30)
	if err := sb.CopyFrom(back, span, 10); err != nil {
		t.Fatalf("CopyFrom() error = %v", err)
	}
	if !bytes.Equal(back, payload[10:]) {
		t.Errorf("CopyFrom() = %v, want %v", back, payload[10:])
	}
}

func TestBufferStageImageAlignment(t *testing.T) {
	d := software.New()
	sb, err := New(d, 64, WithImageAlignment(16))
	if err != nil {
		t.Fatal(err)
	}
	sb.BeginFrame(1)
	defer sb.EndFrame()

	if _, err := sb.Stage([]byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	span, err := sb.StageImage(make([]byte, 16), 4)
	if err != nil {
		t.Fatalf("StageImage() error = %v", err)
	}
	if span.Segments[0].Begin != 16 || !span.Contiguous() {
		t.Errorf("StageImage() = %+v, want contiguous span at 16", span)
	}
	if got := sb.PendingBytes(); got != 32 {
		t.Errorf("PendingBytes() = %d, want 32", got)
	}

	if _, err := sb.Stage([]byte{4, 5, 6, 7}); err != nil {
		t.Fatal(err)
	}
	// 28 bytes remain but only 16 of them after the aligned head.
	if _, err := sb.StageImage(make([]byte, 24), 4); !errors.Is(err, ErrInsufficientSpace) {
		t.Errorf("StageImage() error = %v, want ErrInsufficientSpace", err)
	}
}

func TestBufferDownload(t *testing.T) {
	d := software.New()
	sb, err := New(d, 64)
	if err != nil {
		t.Fatal(err)
	}
	src, _ := d.CreateBuffer(&gpucore.BufferDesc{Size: 16, HostVisible: true})
	_ = d.WriteBuffer(src, 0, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15})

	sb.BeginFrame(d.SubmitIndex())
	span, err := sb.StageAllocate(8)
	if err != nil {
		t.Fatal(err)
	}
	submit(t, d, func(cmd gpucore.CommandBuffer) {
		sb.Download(cmd, src, 4, span)
	})
	sb.EndFrame()

	got := make([]byte, 8)
	if err := sb.CopyFrom(got, span, 0); err != nil {
		t.Fatalf("CopyFrom() error = %v", err)
	}
	if !bytes.Equal(got, []byte{4, 5, 6, 7, 8, 9, 10, 11}) {
		t.Errorf("downloaded = %v", got)
	}
}

func TestBufferFrameAssertions(t *testing.T) {
	tests := []struct {
		name string
		fn   func(sb *Buffer)
	}{
		{"zero frame id", func(sb *Buffer) { sb.BeginFrame(0) }},
		{"nested frame", func(sb *Buffer) { sb.BeginFrame(1); sb.BeginFrame(2) }},
		{"end without begin", func(sb *Buffer) { sb.EndFrame() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb, err := New(software.New(), 16)
			if err != nil {
				t.Fatal(err)
			}
			defer func() {
				if recover() == nil {
					t.Error("did not panic")
				}
			}()
			tt.fn(sb)
		})
	}
}

func TestNewRejectsBadAlignment(t *testing.T) {
	if _, err := New(software.New(), 16, WithImageAlignment(3)); err == nil {
		t.Error("New() with alignment 3 succeeded")
	}
}
