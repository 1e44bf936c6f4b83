package framegraph

import (
	"log/slog"
	"testing"

	"github.com/gogpu/framegraph/internal/respool"
)

func TestDefaultOptions(t *testing.T) {
	o := defaultOptions()
	if o.logger != nil {
		t.Error("default logger should be nil (package logger)")
	}
	if o.downloadStagingSize != DefaultDownloadStagingSize {
		t.Errorf("downloadStagingSize = %d, want %d", o.downloadStagingSize, DefaultDownloadStagingSize)
	}
	if o.framesBeforeEviction != respool.DefaultFramesBeforeEviction {
		t.Errorf("framesBeforeEviction = %d, want %d", o.framesBeforeEviction, respool.DefaultFramesBeforeEviction)
	}
	if o.bufferChunkSize != respool.DefaultBufferChunkSize {
		t.Errorf("bufferChunkSize = %d, want %d", o.bufferChunkSize, respool.DefaultBufferChunkSize)
	}
	if o.bufferAlignment != respool.DefaultBufferAlignment {
		t.Errorf("bufferAlignment = %d, want %d", o.bufferAlignment, respool.DefaultBufferAlignment)
	}
	if o.metrics {
		t.Error("metrics should be off by default")
	}
}

func TestOptionsApply(t *testing.T) {
	logger := slog.New(nopHandler{})
	o := defaultOptions()
	for _, opt := range []Option{
		WithLogger(logger),
		WithDownloadStagingSize(4096),
		WithFramesBeforeEviction(7),
		WithBufferChunkSize(1 << 20),
		WithBufferAlignment(64),
		WithMetrics(),
	} {
		opt(&o)
	}

	if o.logger != logger {
		t.Error("WithLogger did not set the logger")
	}
	if o.downloadStagingSize != 4096 {
		t.Errorf("downloadStagingSize = %d, want 4096", o.downloadStagingSize)
	}
	if o.framesBeforeEviction != 7 {
		t.Errorf("framesBeforeEviction = %d, want 7", o.framesBeforeEviction)
	}
	if o.bufferChunkSize != 1<<20 {
		t.Errorf("bufferChunkSize = %d, want %d", o.bufferChunkSize, 1<<20)
	}
	if o.bufferAlignment != 64 {
		t.Errorf("bufferAlignment = %d, want 64", o.bufferAlignment)
	}
	if !o.metrics {
		t.Error("WithMetrics did not enable metrics")
	}
}

func TestOptionsIgnoreZeroValues(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithDownloadStagingSize(0),
		WithFramesBeforeEviction(0),
		WithFramesBeforeEviction(-3),
		WithBufferChunkSize(0),
		WithBufferAlignment(0),
	} {
		opt(&o)
	}
	if o != defaultOptions() {
		t.Errorf("options = %+v, want defaults %+v", o, defaultOptions())
	}
}

func TestNewAppliesOptions(t *testing.T) {
	h := newHarness(t, nil, WithMetrics())
	if !h.fg.opts.metrics {
		t.Fatal("New did not apply WithMetrics")
	}
}
