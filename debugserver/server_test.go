package debugserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/framegraph"
	"github.com/gogpu/framegraph/backend/software"
	"github.com/gogpu/framegraph/gpucore"
)

type fillNode struct{ out framegraph.TexturePin }

func (n *fillNode) DeclarePins(p *framegraph.PinSet) { n.out = p.Texture("out") }

func (n *fillNode) Build(ctx *framegraph.BuildContext) error {
	ctx.ComputePass()
	ctx.CreateTexture(n.out, framegraph.TextureDesc{TextureDesc: gpucore.TextureDesc{
		Width:  16,
		Height: 16,
		Format: gpucore.TextureFormatRGBA8Unorm,
	}}, gpucore.StorageWrite)
	return nil
}

func (n *fillNode) Execute(ctx *framegraph.ExecuteContext) error {
	ctx.Dispatch(2, 2, 1)
	return nil
}

type fixture struct {
	fg     *framegraph.FrameGraph
	device *software.Device
	sg     framegraph.SubgraphID
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	device := software.New()
	fg, err := framegraph.New(device, framegraph.WithMetrics())
	require.NoError(t, err)
	t.Cleanup(fg.Close)

	registry := framegraph.NewRegistry()
	registry.MustRegister(framegraph.NodeOf[fillNode]("fill"))
	b := framegraph.NewTemplate(registry)
	color := b.AddNode("fill")
	debug := b.AddNode("fill")
	b.MakeOutput(color, "out", "color")
	b.MakeOutput(debug, "out", "debug")
	tmpl, err := b.Build()
	require.NoError(t, err)

	f := &fixture{fg: fg, device: device, sg: fg.Instantiate(tmpl)}
	f.server = New(fg, &sync.Mutex{})
	f.frame(t)
	return f
}

func (f *fixture) frame(t *testing.T) {
	t.Helper()
	cmd, err := f.device.BeginCommandBuffer("frame")
	require.NoError(t, err)
	require.NoError(t, f.fg.Build(framegraph.BuildArgs{}))
	require.NoError(t, f.fg.Execute(framegraph.ExecuteArgs{Command: cmd}))
	_, err = f.device.Submit(cmd)
	require.NoError(t, err)
}

func (f *fixture) do(t *testing.T, method, target string) (int, []byte) {
	t.Helper()
	resp, err := f.server.App().Test(httptest.NewRequest(method, target, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestGraphDOT(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/graph.dot")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, strings.HasPrefix(string(body), "digraph framegraph {"), string(body))
	assert.Contains(t, string(body), `label="fill"`)
}

func TestSubgraphsListsOutputs(t *testing.T) {
	f := newFixture(t)
	status, body := f.do(t, http.MethodGet, "/subgraphs")
	require.Equal(t, http.StatusOK, status)

	var got []SubgraphJSON
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 1)
	assert.Equal(t, f.sg.String(), got[0].ID)

	names := make(map[string]OutputJSON)
	for _, o := range got[0].Outputs {
		names[o.Name] = o
	}
	require.Contains(t, names, "color")
	require.Contains(t, names, "debug")
	assert.Equal(t, framegraph.PinTexture.String(), names["color"].Kind)
	assert.True(t, names["debug"].Enabled)
}

func TestSetOutputState(t *testing.T) {
	f := newFixture(t)
	id := f.sg.String()

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"disable", "/subgraphs/" + id + "/outputs/debug?enabled=false", http.StatusNoContent},
		{"bad bool", "/subgraphs/" + id + "/outputs/debug?enabled=maybe", http.StatusBadRequest},
		{"unknown output", "/subgraphs/" + id + "/outputs/missing?enabled=true", http.StatusNotFound},
		{"unknown subgraph", "/subgraphs/subgraph99/outputs/debug?enabled=true", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := f.do(t, http.MethodPut, tt.target)
			assert.Equal(t, tt.want, status)
		})
	}

	outputs, err := f.fg.Outputs(f.sg)
	require.NoError(t, err)
	for _, o := range outputs {
		assert.Equal(t, o.Name != "debug", o.Enabled, o.Name)
	}
}

func TestMetrics(t *testing.T) {
	f := newFixture(t)
	f.frame(t)

	status, body := f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, status)

	var got MetricsJSON
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Nodes, 2)
	for _, n := range got.Nodes {
		assert.Equal(t, "fill", n.Name)
		assert.Equal(t, f.sg.String(), n.Subgraph)
	}
	assert.Positive(t, got.Resource.PhysicalTextures)
}
