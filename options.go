package framegraph

import (
	"log/slog"

	"github.com/gogpu/framegraph/internal/respool"
)

// DefaultDownloadStagingSize is the size of the staging ring used for
// downloads (1 KiB).
const DefaultDownloadStagingSize = 1 << 10

// Option configures a FrameGraph during creation.
//
// Example:
//
//	fg, err := framegraph.New(device,
//	    framegraph.WithLogger(logger),
//	    framegraph.WithFramesBeforeEviction(4),
//	    framegraph.WithMetrics(),
//	)
type Option func(*options)

// options holds optional configuration for FrameGraph creation.
type options struct {
	logger               *slog.Logger
	downloadStagingSize  uint64
	framesBeforeEviction int
	bufferChunkSize      uint64
	bufferAlignment      uint64
	metrics              bool
}

// defaultOptions returns the default frame graph options.
func defaultOptions() options {
	return options{
		downloadStagingSize:  DefaultDownloadStagingSize,
		framesBeforeEviction: respool.DefaultFramesBeforeEviction,
		bufferChunkSize:      respool.DefaultBufferChunkSize,
		bufferAlignment:      respool.DefaultBufferAlignment,
	}
}

// WithLogger sets the logger of one frame graph, overriding the package
// logger set with SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithDownloadStagingSize sets the size of the staging ring used by
// downloads. Downloads that do not fit are rejected for the frame.
func WithDownloadStagingSize(size uint64) Option {
	return func(o *options) {
		if size > 0 {
			o.downloadStagingSize = size
		}
	}
}

// WithFramesBeforeEviction sets how many frames an unused pooled resource
// survives before it is destroyed.
func WithFramesBeforeEviction(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.framesBeforeEviction = n
		}
	}
}

// WithBufferChunkSize sets the size of the chunk buffers transient buffers
// are sub-allocated from.
func WithBufferChunkSize(size uint64) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferChunkSize = size
		}
	}
}

// WithBufferAlignment sets the offset alignment of transient buffers.
func WithBufferAlignment(alignment uint64) Option {
	return func(o *options) {
		if alignment > 0 {
			o.bufferAlignment = alignment
		}
	}
}

// WithMetrics enables per-node CPU timings, reported by LastFrameMetrics.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}
