// Package debugserver serves frame graph diagnostics over HTTP.
//
// Routes:
//
//	GET /graph.dot                               live graph in Graphviz DOT format
//	GET /subgraphs                               subgraphs and their outputs
//	PUT /subgraphs/:id/outputs/:name?enabled=b   enable or disable an output
//	GET /metrics                                 last frame timings and pool statistics
//
// A FrameGraph is not safe for concurrent use. Handlers hold the locker
// passed to New while they touch the graph; the frame loop must hold it
// around Build and Execute.
package debugserver

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v3"

	"github.com/gogpu/framegraph"
)

// Graph is the part of a FrameGraph the server reads and controls.
type Graph interface {
	WriteDOT(w io.Writer) error
	Subgraphs() []framegraph.SubgraphID
	Outputs(id framegraph.SubgraphID) ([]framegraph.OutputDesc, error)
	SetOutputState(id framegraph.SubgraphID, name string, enabled bool) bool
	LastFrameMetrics() framegraph.FrameMetrics
	PoolStats() framegraph.ResourceStats
}

// Server is the diagnostics HTTP server.
type Server struct {
	app   *fiber.App
	graph Graph
	mu    sync.Locker
}

// OutputJSON is one subgraph output in /subgraphs.
type OutputJSON struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// SubgraphJSON is one entry of /subgraphs.
type SubgraphJSON struct {
	ID      string       `json:"id"`
	Outputs []OutputJSON `json:"outputs"`
}

// NodeTimingJSON is one node of /metrics, durations in microseconds.
type NodeTimingJSON struct {
	Name     string  `json:"name"`
	Subgraph string  `json:"subgraph"`
	BuildUS  float64 `json:"build_us"`
	ExecUS   float64 `json:"execute_us"`
}

// MetricsJSON is the body of /metrics.
type MetricsJSON struct {
	Frame    uint64                   `json:"frame"`
	BuildUS  float64                  `json:"build_us"`
	ExecUS   float64                  `json:"execute_us"`
	Nodes    []NodeTimingJSON         `json:"nodes"`
	Resource framegraph.ResourceStats `json:"resources"`
}

// New creates a server for g. mu guards every call into g.
func New(g Graph, mu sync.Locker) *Server {
	s := &Server{
		app:   fiber.New(fiber.Config{AppName: "framegraph debug"}),
		graph: g,
		mu:    mu,
	}
	s.app.Get("/graph.dot", s.handleDOT)
	s.app.Get("/subgraphs", s.handleSubgraphs)
	s.app.Put("/subgraphs/:id/outputs/:name", s.handleSetOutput)
	s.app.Get("/metrics", s.handleMetrics)
	return s
}

// App returns the underlying fiber app, for tests and extra routes.
func (s *Server) App() *fiber.App { return s.app }

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errc := make(chan error, 1)
	go func() {
		framegraph.Logger().Info("debugserver: listening", "addr", addr)
		errc <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errc:
		return errors.Wrapf(err, "debugserver: listen %s", addr)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return errors.Wrap(s.app.ShutdownWithContext(shutdown), "debugserver: shutdown")
	}
}

func (s *Server) handleDOT(c fiber.Ctx) error {
	var buf bytes.Buffer
	s.mu.Lock()
	err := s.graph.WriteDOT(&buf)
	s.mu.Unlock()
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set(fiber.HeaderContentType, "text/vnd.graphviz; charset=utf-8")
	return c.Send(buf.Bytes())
}

func (s *Server) handleSubgraphs(c fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.graph.Subgraphs()
	out := make([]SubgraphJSON, 0, len(ids))
	for _, id := range ids {
		outputs, err := s.graph.Outputs(id)
		if err != nil {
			continue
		}
		sg := SubgraphJSON{ID: id.String(), Outputs: make([]OutputJSON, len(outputs))}
		for i, o := range outputs {
			sg.Outputs[i] = OutputJSON{Name: o.Name, Kind: o.Kind.String(), Type: o.Type, Enabled: o.Enabled}
		}
		out = append(out, sg)
	}
	return c.JSON(out)
}

func (s *Server) handleSetOutput(c fiber.Ctx) error {
	enabled, err := strconv.ParseBool(c.Query("enabled", "true"))
	if err != nil {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "enabled must be a boolean"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.lookup(c.Params("id"))
	if !ok {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "subgraph not found"})
	}
	name := c.Params("name")
	if !s.graph.SetOutputState(id, name, enabled) {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "output not found"})
	}
	framegraph.Logger().Info("debugserver: output state changed", "subgraph", id, "output", name, "enabled", enabled)
	return c.SendStatus(http.StatusNoContent)
}

func (s *Server) lookup(text string) (framegraph.SubgraphID, bool) {
	for _, id := range s.graph.Subgraphs() {
		if id.String() == text {
			return id, true
		}
	}
	return framegraph.SubgraphID{}, false
}

func (s *Server) handleMetrics(c fiber.Ctx) error {
	m := s.graph.LastFrameMetrics()
	s.mu.Lock()
	stats := s.graph.PoolStats()
	s.mu.Unlock()

	body := MetricsJSON{
		Frame:    m.Frame,
		BuildUS:  micros(m.Build),
		ExecUS:   micros(m.Execute),
		Nodes:    make([]NodeTimingJSON, len(m.Nodes)),
		Resource: stats,
	}
	for i, n := range m.Nodes {
		body.Nodes[i] = NodeTimingJSON{
			Name:     n.Name,
			Subgraph: n.Subgraph.String(),
			BuildUS:  micros(n.Build),
			ExecUS:   micros(n.Execute),
		}
	}
	return c.JSON(body)
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
