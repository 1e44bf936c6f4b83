package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/config"
)

func newTestDemo(t *testing.T, opts *config.Options) (*demo, *software.Device) {
	t.Helper()
	device := software.New()
	opts.Width, opts.Height = 64, 32
	d, err := newDemo(device, opts, new(slog.LevelVar))
	if err != nil {
		t.Fatalf("newDemo() error = %v", err)
	}
	t.Cleanup(d.close)
	return d, device
}

func countCommands(cmd *software.CommandBuffer) map[software.CommandKind]int {
	counts := make(map[software.CommandKind]int)
	for _, c := range cmd.Commands {
		counts[c.Kind]++
	}
	return counts
}

func TestDeferredTemplateOrder(t *testing.T) {
	r := framegraph.NewRegistry()
	registerNodes(r)
	tmpl, err := deferredTemplate(r)
	if err != nil {
		t.Fatalf("deferredTemplate() error = %v", err)
	}

	nodes := tmpl.Nodes()
	pos := func(name string) int { return slices.Index(nodes, name) }
	for _, edge := range [][2]string{
		{"gbuffer", "shadow"},
		{"gbuffer", "lighting"},
		{"shadow", "lighting"},
		{"lighting", "present"},
		{"lighting", "luminance"},
	} {
		if pos(edge[0]) < 0 || pos(edge[0]) > pos(edge[1]) {
			t.Errorf("Nodes() = %v, want %s before %s", nodes, edge[0], edge[1])
		}
	}
	if got, want := tmpl.Inputs(), []string{"camera", "light"}; !slices.Equal(got, want) {
		t.Errorf("Inputs() = %v, want %v", got, want)
	}
}

func TestDemoFrames(t *testing.T) {
	d, device := newTestDemo(t, config.Default())
	if err := d.loop(context.Background(), 3); err != nil {
		t.Fatalf("loop() error = %v", err)
	}
	if got := d.fg.FramesCount(); got != 3 {
		t.Errorf("FramesCount() = %d, want 3", got)
	}

	counts := countCommands(device.LastSubmitted())
	if got := counts[software.CmdDrawIndexed]; got != 3 {
		t.Errorf("draws = %d, want 3 (gbuffer, shadow, present)", got)
	}
	if got := counts[software.CmdDispatch]; got != 2 {
		t.Errorf("dispatches = %d, want 2 (lighting, luminance)", got)
	}
	if counts[software.CmdBarriers] == 0 {
		t.Error("frame recorded no barriers")
	}
}

func TestDemoDisabledOutputs(t *testing.T) {
	opts := config.Default()
	opts.DisabledOutputs = []string{"luminance"}
	d, device := newTestDemo(t, opts)

	if err := d.frame(context.Background(), 0); err != nil {
		t.Fatalf("frame() error = %v", err)
	}
	if got := countCommands(device.LastSubmitted())[software.CmdDispatch]; got != 1 {
		t.Errorf("dispatches = %d, want 1 with luminance disabled", got)
	}

	reloaded := config.Default()
	reloaded.Width, reloaded.Height = 32, 16
	d.reload(reloaded, nil)
	if err := d.frame(context.Background(), 1); err != nil {
		t.Fatalf("frame() error = %v", err)
	}
	if got := countCommands(device.LastSubmitted())[software.CmdDispatch]; got != 2 {
		t.Errorf("dispatches = %d, want 2 after reload", got)
	}

	outputs, err := d.fg.Outputs(d.scene)
	if err != nil {
		t.Fatalf("Outputs() error = %v", err)
	}
	for _, o := range outputs {
		if !o.Enabled {
			t.Errorf("output %q disabled after reload", o.Name)
		}
	}
}

func TestAverageBin(t *testing.T) {
	hist := make([]byte, 0, 4*4)
	for _, c := range []uint32{0, 2, 0, 2} {
		hist = binary.LittleEndian.AppendUint32(hist, c)
	}
	if got := averageBin(hist); got != 2 {
		t.Errorf("averageBin() = %v, want 2", got)
	}
	if got := averageBin(make([]byte, 16)); !math.IsNaN(got) {
		t.Errorf("averageBin(empty) = %v, want NaN", got)
	}
}
