package framegraph

import (
	"time"

	"github.com/gogpu/framegraph/internal/respool"
)

// ResourceStats contains resource pool statistics.
type ResourceStats = respool.Stats

// NodeTiming is the CPU time one node spent in Build and Execute.
type NodeTiming struct {
	Name     string
	Subgraph SubgraphID
	Build    time.Duration
	Execute  time.Duration
}

// FrameMetrics summarizes the CPU cost of the last executed frame.
type FrameMetrics struct {
	Frame   uint64
	Build   time.Duration
	Execute time.Duration
	// Nodes is only filled when the frame graph was created WithMetrics.
	Nodes []NodeTiming
}

func (fg *FrameGraph) recordBuildTime(d time.Duration) {
	fg.metricsMu.Lock()
	fg.pendingMetrics = FrameMetrics{Frame: fg.frameCounter, Build: d}
	fg.metricsMu.Unlock()
}

func (fg *FrameGraph) recordExecuteTime(d time.Duration) {
	var nodes []NodeTiming
	if fg.opts.metrics {
		nodes = make([]NodeTiming, 0, len(fg.sorted))
		for _, n := range fg.sorted {
			nodes = append(nodes, n.timing)
		}
	}

	fg.metricsMu.Lock()
	m := fg.pendingMetrics
	m.Execute = d
	m.Nodes = nodes
	fg.lastMetrics = m
	fg.metricsMu.Unlock()
}

// LastFrameMetrics returns the metrics of the last executed frame. It is
// safe to call from any goroutine.
func (fg *FrameGraph) LastFrameMetrics() FrameMetrics {
	fg.metricsMu.Lock()
	defer fg.metricsMu.Unlock()
	m := fg.lastMetrics
	m.Nodes = append([]NodeTiming(nil), m.Nodes...)
	return m
}
