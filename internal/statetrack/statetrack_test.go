package statetrack

import (
	"errors"
	"testing"

	"github.com/gogpu/framegraph/gpucore"
)

func TestDeduce(t *testing.T) {
	tests := []struct {
		name   string
		pass   gpucore.PassKind
		usage  gpucore.TextureAccess
		stage  gpucore.PipelineStage
		access gpucore.MemoryAccess
		layout gpucore.ImageLayout
	}{
		{"render target", gpucore.PassGraphics, gpucore.RenderTargetWrite,
			gpucore.StageColorAttachmentOutput, gpucore.AccessColorAttachmentWrite, gpucore.LayoutColorAttachment},
		{"depth read", gpucore.PassGraphics, gpucore.DepthStencilRead,
			gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests, gpucore.AccessDepthStencilRead, gpucore.LayoutDepthStencilAttachment},
		{"depth write", gpucore.PassGraphics, gpucore.DepthStencilWrite,
			gpucore.StageEarlyFragmentTests | gpucore.StageLateFragmentTests, gpucore.AccessDepthStencilWrite, gpucore.LayoutDepthStencilAttachment},
		{"sample in compute", gpucore.PassCompute, gpucore.ShaderRead,
			gpucore.StageComputeShader, gpucore.AccessShaderRead, gpucore.LayoutShaderReadOnly},
		{"sample in graphics", gpucore.PassGraphics, gpucore.ShaderRead,
			gpucore.StageFragmentShader, gpucore.AccessShaderRead, gpucore.LayoutShaderReadOnly},
		{"sample in raytracing", gpucore.PassRaytracing, gpucore.ShaderRead,
			gpucore.StageRayTracingShader, gpucore.AccessShaderRead, gpucore.LayoutShaderReadOnly},
		{"storage read", gpucore.PassCompute, gpucore.StorageRead,
			gpucore.StageComputeShader, gpucore.AccessMemoryRead, gpucore.LayoutGeneral},
		{"storage write", gpucore.PassCompute, gpucore.StorageWrite,
			gpucore.StageComputeShader, gpucore.AccessMemoryWrite, gpucore.LayoutGeneral},
		{"copy source", gpucore.PassTransfer, gpucore.TransferSource,
			gpucore.StageTransfer, gpucore.AccessTransferRead, gpucore.LayoutTransferSrc},
		{"copy destination", gpucore.PassTransfer, gpucore.TransferDestination,
			gpucore.StageTransfer, gpucore.AccessTransferWrite, gpucore.LayoutTransferDst},
		{"present", gpucore.PassNone, gpucore.Present,
			gpucore.StageBottomOfPipe, gpucore.AccessNone, gpucore.LayoutPresent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Deduce(tt.pass, tt.usage)
			want := gpucore.SyncState{Stage: tt.stage, Access: tt.access, Layout: tt.layout}
			if got != want {
				t.Errorf("Deduce(%s, %s) = %s, want %s", tt.pass, tt.usage, got, want)
			}
		})
	}
}

func TestDeduceLayout(t *testing.T) {
	if got := DeduceLayout(gpucore.TransferDestination); got != gpucore.LayoutTransferDst {
		t.Errorf("DeduceLayout(transfer_destination) = %s, want TransferDst", got)
	}
	if got := DeduceLayout(gpucore.ShaderRead); got != gpucore.LayoutShaderReadOnly {
		t.Errorf("DeduceLayout(shader_read) = %s, want ShaderReadOnly", got)
	}
}

func TestTransferOutsideTransferPassPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("transfer usage in a compute pass did not panic")
		}
	}()
	Deduce(gpucore.PassCompute, gpucore.TransferSource)
}

func TestAddTransition(t *testing.T) {
	tr := New()
	const tex gpucore.TextureID = 7
	tr.Track(tex)

	b, ok := tr.AddTransition(tex, gpucore.PassGraphics, gpucore.RenderTargetWrite)
	if !ok {
		t.Fatal("first transition reported no-op")
	}
	if b.Before != initialState {
		t.Errorf("Before = %s, want %s", b.Before, initialState)
	}
	if b.After.Layout != gpucore.LayoutColorAttachment {
		t.Errorf("After.Layout = %s, want ColorAttachment", b.After.Layout)
	}

	b2, ok := tr.AddTransition(tex, gpucore.PassCompute, gpucore.ShaderRead)
	if !ok {
		t.Fatal("write to read transition reported no-op")
	}
	if b2.Before != b.After {
		t.Errorf("Before = %s, want previous After %s", b2.Before, b.After)
	}

	layout, err := tr.Layout(tex)
	if err != nil || layout != gpucore.LayoutShaderReadOnly {
		t.Errorf("Layout() = %s, %v; want ShaderReadOnly, nil", layout, err)
	}
}

func TestAddTransitionSameStateIsNoop(t *testing.T) {
	tr := New()
	const tex gpucore.TextureID = 1
	tr.Track(tex)

	if _, ok := tr.AddTransition(tex, gpucore.PassCompute, gpucore.ShaderRead); !ok {
		t.Fatal("first transition reported no-op")
	}
	b, ok := tr.AddTransition(tex, gpucore.PassCompute, gpucore.ShaderRead)
	if ok {
		t.Error("repeated usage produced a barrier to emit")
	}
	if !b.IsNoop() {
		t.Errorf("barrier %s -> %s is not a no-op", b.Before, b.After)
	}
}

func TestAddTransitionRepeatedWriteIsNoop(t *testing.T) {
	tr := New()
	const tex gpucore.TextureID = 1
	tr.Track(tex)

	if _, ok := tr.AddTransition(tex, gpucore.PassCompute, gpucore.StorageWrite); !ok {
		t.Fatal("first write reported no-op")
	}
	if b, ok := tr.AddTransition(tex, gpucore.PassCompute, gpucore.StorageWrite); ok {
		t.Errorf("second write produced barrier %s -> %s", b.Before, b.After)
	}
}

func TestAddTransitionIsPureInState(t *testing.T) {
	// Two textures reaching the same state through different usages
	// produce the same barrier for the same next usage.
	tr := New()
	tr.Track(1)
	tr.Track(2)
	tr.AddTransition(1, gpucore.PassCompute, gpucore.StorageWrite)
	tr.AddTransition(2, gpucore.PassGraphics, gpucore.RenderTargetWrite)
	tr.AddTransition(2, gpucore.PassCompute, gpucore.StorageWrite)

	b1, _ := tr.AddTransition(1, gpucore.PassGraphics, gpucore.ShaderRead)
	b2, _ := tr.AddTransition(2, gpucore.PassGraphics, gpucore.ShaderRead)
	if b1.Before != b2.Before || b1.After != b2.After {
		t.Errorf("barriers differ: %s->%s vs %s->%s", b1.Before, b1.After, b2.Before, b2.After)
	}
}

func TestTrackerForget(t *testing.T) {
	tr := New()
	tr.Track(3)
	tr.Forget(3)
	if _, err := tr.Layout(3); !errors.Is(err, ErrNotTracked) {
		t.Errorf("Layout() error = %v, want ErrNotTracked", err)
	}
	tr.Track(4)
	tr.Reset()
	if tr.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", tr.Len())
	}
}

func TestTrackerRestoreCarriesState(t *testing.T) {
	prev := New()
	prev.Track(5)
	prev.AddTransition(5, gpucore.PassCompute, gpucore.ShaderRead)
	state, _ := prev.State(5)

	next := New()
	next.Restore(5, state)
	if _, ok := next.AddTransition(5, gpucore.PassCompute, gpucore.ShaderRead); ok {
		t.Error("restored texture in the same state produced a barrier")
	}
	if layout, err := next.Layout(5); err != nil || layout != gpucore.LayoutShaderReadOnly {
		t.Errorf("Layout() = %v, %v; want %v", layout, err, gpucore.LayoutShaderReadOnly)
	}
}

type memHistory map[int]BufferHistory

func (m memHistory) IsStable(key int) bool {
	_, ok := m[key]
	return ok
}

func (m memHistory) LoadBufferHistory(key int) BufferHistory { return m[key] }

func (m memHistory) StoreBufferHistory(key int, h BufferHistory) { m[key] = h }

func TestBuildBufferBarriersMergesReads(t *testing.T) {
	r := gpucore.BufferRange{Buffer: 1, Size: 64}
	passes := [][]BufferUse[int]{
		{UseFor(1, r, gpucore.PassCompute, gpucore.BufferStorageWrite)},
		{UseFor(1, r, gpucore.PassCompute, gpucore.BufferStorageRead)},
		{UseFor(1, r, gpucore.PassGraphics, gpucore.BufferUniform)},
		{UseFor(1, r, gpucore.PassCompute, gpucore.BufferStorageWrite)},
	}
	pb := BuildBufferBarriers(passes, nil)

	if pb.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pb.Len())
	}
	if n := len(pb.Pass(2)); n != 0 {
		t.Errorf("pass 2 has %d barriers, want 0 (merged)", n)
	}

	read := pb.Pass(1)[0]
	if read.StagesAfter != gpucore.StageComputeShader|gpucore.StageAllGraphics {
		t.Errorf("merged StagesAfter = %s", read.StagesAfter)
	}
	if read.StagesBefore != gpucore.StageComputeShader {
		t.Errorf("read StagesBefore = %s, want ComputeShader", read.StagesBefore)
	}

	write := pb.Pass(3)[0]
	if write.StagesBefore != read.StagesAfter || write.AccessBefore != read.AccessAfter {
		t.Errorf("write barrier does not start from merged read scope")
	}
}

func TestBuildBufferBarriersUploadedAndForwarded(t *testing.T) {
	r := gpucore.BufferRange{Buffer: 2, Size: 16}
	up := UseFor(5, r, gpucore.PassCompute, gpucore.BufferStorageRead)
	up.Uploaded = true
	forward := BufferUse[int]{Key: 5, Range: r}

	pb := BuildBufferBarriers([][]BufferUse[int]{{forward}, {up}}, nil)
	if len(pb.Pass(0)) != 0 {
		t.Errorf("forwarding use emitted %d barriers", len(pb.Pass(0)))
	}
	b := pb.Pass(1)[0]
	if b.StagesBefore != gpucore.StageTransfer || b.AccessBefore != gpucore.AccessMemoryWrite {
		t.Errorf("uploaded buffer barrier starts from %s/%s, want Transfer/MemoryWrite", b.StagesBefore, b.AccessBefore)
	}
}

func TestBuildBufferBarriersStableHistory(t *testing.T) {
	r := gpucore.BufferRange{Buffer: 3, Size: 16}
	hist := memHistory{9: {}}

	frame := [][]BufferUse[int]{{UseFor(9, r, gpucore.PassCompute, gpucore.BufferStorageWrite)}}
	BuildBufferBarriers(frame, hist)
	if hist[9].Stages != gpucore.StageComputeShader || hist[9].Read {
		t.Fatalf("stored history = %+v", hist[9])
	}

	pb := BuildBufferBarriers(frame, hist)
	b := pb.Pass(0)[0]
	if b.StagesBefore != gpucore.StageComputeShader {
		t.Errorf("second frame StagesBefore = %s, want ComputeShader", b.StagesBefore)
	}
}
