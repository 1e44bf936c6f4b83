package framegraph

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/gpucore"
	"github.com/gogpu/framegraph/internal/arena"
	"github.com/gogpu/framegraph/internal/dag"
	"github.com/gogpu/framegraph/internal/respool"
	"github.com/gogpu/framegraph/internal/statetrack"
	"github.com/gogpu/framegraph/staging"
)

// SubgraphID identifies an instantiated template. The zero value is invalid.
type SubgraphID struct {
	h arena.Handle
}

// Valid reports whether id was returned by Instantiate.
func (id SubgraphID) Valid() bool { return id.h.Valid() }

// String returns the subgraph id as text.
func (id SubgraphID) String() string { return "subgraph" + id.h.String() }

type liveVertex struct {
	kind     vertexKind
	subgraph SubgraphID
	node     *nodeInstance
	pin      *pinInstance
}

type nodeInstance struct {
	typ         *nodeType
	impl        Node
	pins        []pinDecl
	subgraph    SubgraphID
	vertex      dag.VertexID
	initialized bool
	enabled     bool

	// Per frame.
	passes passRange
	err    error
	timing NodeTiming
}

type passRange struct {
	begin, end PassID
}

func (r passRange) empty() bool { return r.begin == r.end }

type pinInstance struct {
	node  dag.VertexID
	decl  *pinDecl
	owned storageID
	name  string
}

type storage struct {
	kind  PinKind
	typ   TypeDesc
	value any
	// owner is the node vertex of the pin owning the storage. Retained
	// textures have no owner.
	owner dag.VertexID
	// Pool indices of the current frame.
	texture respool.TextureIndex
	buffer  respool.BufferIndex
	// stable keys the storage's stable resources in the pool. It is never
	// reused, so a storage slot freed by Remove cannot inherit them.
	stable respool.StableID
	// external marks texture storages set through SetInput.
	external        bool
	retained        bool
	hasPathToOutput bool
}

type outputPin struct {
	name    string
	v       dag.VertexID
	enabled bool
}

type subgraph struct {
	nodes    []dag.VertexID
	pins     []dag.VertexID
	inputs   map[string]dag.VertexID
	outputs  []outputPin
	retained []storageID
}

func (sg *subgraph) output(name string) *outputPin {
	for i := range sg.outputs {
		if sg.outputs[i].name == name {
			return &sg.outputs[i]
		}
	}
	return nil
}

// FrameGraph schedules the nodes of instantiated templates every frame.
//
// A frame is one Build followed by one Execute. Build decides which nodes
// contribute to an enabled output, lets them declare passes and resources,
// and allocates the resources; Execute records barriers and node commands
// into a command buffer.
//
// FrameGraph is not safe for concurrent use, except for LastFrameMetrics and
// the Download promises it returns.
type FrameGraph struct {
	device gpucore.Device
	opts   options

	graph     dag.Graph[liveVertex]
	subgraphs arena.Arena[subgraph]
	storages  arena.Arena[storage]

	pool     *respool.Pool
	tracker  *statetrack.Tracker
	download *staging.Buffer

	sorted           []*nodeInstance
	frame            frameState
	pendingDownloads []*Download
	events           map[reflect.Type]struct{}
	frameCounter     uint64
	nextStable       respool.StableID
	built            bool
	closed           bool

	metricsMu      sync.Mutex
	pendingMetrics FrameMetrics
	lastMetrics    FrameMetrics
}

// New creates a frame graph allocating from device.
func New(device gpucore.Device, opts ...Option) (*FrameGraph, error) {
	if device == nil {
		return nil, errors.New("framegraph: nil device")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	fg := &FrameGraph{
		device:  device,
		opts:    o,
		tracker: statetrack.New(),
		events:  make(map[reflect.Type]struct{}),
	}
	fg.pool = respool.New(device, respool.Config{
		FramesBeforeEviction: o.framesBeforeEviction,
		BufferChunkSize:      o.bufferChunkSize,
		BufferAlignment:      o.bufferAlignment,
		Logger:               fg.log(),
	})

	download, err := staging.New(device, o.downloadStagingSize, staging.WithLabel("framegraph downloads"))
	if err != nil {
		return nil, errors.Wrap(err, "framegraph: create download staging buffer")
	}
	fg.download = download
	fg.frame.reset()
	return fg, nil
}

func (fg *FrameGraph) log() *slog.Logger {
	if fg.opts.logger != nil {
		return fg.opts.logger
	}
	return Logger()
}

// Device returns the device the frame graph allocates from.
func (fg *FrameGraph) Device() gpucore.Device { return fg.device }

// FramesCount returns the number of frames executed so far.
func (fg *FrameGraph) FramesCount() uint64 { return fg.frameCounter }

// PoolStats returns the statistics of the resource pool.
func (fg *FrameGraph) PoolStats() ResourceStats { return fg.pool.Stats() }

func (fg *FrameGraph) assertOpen() {
	if fg.closed {
		panic(errors.AssertionFailedf("framegraph: use of a closed frame graph"))
	}
}

func (fg *FrameGraph) assertBetweenFrames(op string) {
	fg.assertOpen()
	if fg.built {
		panic(errors.AssertionFailedf("framegraph: %s between Build and Execute", op))
	}
}

func (fg *FrameGraph) newStorage(kind PinKind, typ TypeDesc, owner dag.VertexID) storageID {
	fg.nextStable++
	return fg.storages.Insert(storage{
		kind:   kind,
		typ:    typ,
		value:  typ.New(),
		owner:  owner,
		stable: fg.nextStable,
	})
}

func (fg *FrameGraph) storage(id storageID) *storage {
	s := fg.storages.Get(id)
	if s == nil {
		panic(errors.AssertionFailedf("framegraph: stale pin storage %s", id))
	}
	return s
}

func (fg *FrameGraph) subgraph(id SubgraphID) (*subgraph, error) {
	sg := fg.subgraphs.Get(id.h)
	if sg == nil {
		return nil, errors.Wrapf(ErrSubgraphNotFound, "%s", id)
	}
	return sg, nil
}

func (fg *FrameGraph) pinVertex(v dag.VertexID) *pinInstance {
	lv := fg.graph.Vertex(v)
	if lv == nil || lv.kind != vertexPin {
		panic(errors.AssertionFailedf("framegraph: vertex %s is not a pin", v))
	}
	return lv.pin
}

// Instantiate creates a subgraph from t: one node object per template node,
// with owned storage for every pin. Outputs start enabled.
func (fg *FrameGraph) Instantiate(t *Template) SubgraphID {
	fg.assertBetweenFrames("Instantiate")

	id := SubgraphID{h: fg.subgraphs.Insert(subgraph{inputs: make(map[string]dag.VertexID)})}
	sg := fg.subgraphs.Get(id.h)

	mapping := make(map[dag.VertexID]dag.VertexID, t.graph.VertexCount())
	for _, tv := range t.graph.Vertices() {
		v := t.graph.Vertex(tv)
		if v.kind != vertexNode {
			continue
		}
		impl, decls := v.node.instantiate()
		if len(decls) != len(v.node.pins) {
			panic(errors.AssertionFailedf("framegraph: node %s declared %d pins, registered with %d",
				v.node.name, len(decls), len(v.node.pins)))
		}
		n := &nodeInstance{typ: v.node, impl: impl, pins: decls, subgraph: id}
		n.vertex = fg.graph.AddVertex(liveVertex{kind: vertexNode, subgraph: id, node: n})
		mapping[tv] = n.vertex
		sg.nodes = append(sg.nodes, n.vertex)
	}

	for _, tv := range t.graph.Vertices() {
		v := t.graph.Vertex(tv)
		if v.kind != vertexPin {
			continue
		}
		owner := mapping[v.owner]
		n := fg.graph.Vertex(owner).node
		decl := &n.pins[v.pin]
		p := &pinInstance{node: owner, decl: decl, name: v.name}
		p.owned = fg.newStorage(decl.kind, decl.typ, owner)
		decl.ref.storage = p.owned
		pv := fg.graph.AddVertex(liveVertex{kind: vertexPin, subgraph: id, pin: p})
		mapping[tv] = pv
		sg.pins = append(sg.pins, pv)
	}

	for _, tv := range t.graph.Vertices() {
		for _, out := range t.graph.OutEdges(tv) {
			fg.graph.AddEdge(mapping[tv], mapping[out])
		}
	}

	for _, in := range t.inputs {
		sg.inputs[in.name] = mapping[in.v]
	}
	for _, out := range t.outputs {
		sg.outputs = append(sg.outputs, outputPin{name: out.name, v: mapping[out.v], enabled: true})
	}

	fg.log().Info("framegraph: subgraph instantiated",
		"subgraph", id.String(), "nodes", len(sg.nodes), "pins", len(sg.pins))
	return id
}

// Connect feeds input dstInput of dst from output srcOutput of src. It
// returns false when a subgraph or name is unknown, the pins carry different
// types, the input is already connected, or the connection would close a
// cycle. A sink input accepts any number of sinks; each sink output feeds
// one input.
func (fg *FrameGraph) Connect(src SubgraphID, srcOutput string, dst SubgraphID, dstInput string) bool {
	fg.assertBetweenFrames("Connect")

	ssg, err := fg.subgraph(src)
	if err != nil {
		return false
	}
	dsg, err := fg.subgraph(dst)
	if err != nil {
		return false
	}
	out := ssg.output(srcOutput)
	in, ok := dsg.inputs[dstInput]
	if out == nil || !ok {
		return false
	}

	sp, dp := fg.pinVertex(out.v), fg.pinVertex(in)
	if sp.decl.kind != dp.decl.kind || sp.decl.typ.Type != dp.decl.typ.Type {
		return false
	}
	if sp.decl.kind == PinSink {
		if fg.hasPinEdge(fg.graph.OutEdges(out.v)) {
			return false
		}
	} else if fg.hasPinEdge(fg.graph.InEdges(in)) {
		return false
	}
	if _, ok := fg.graph.Ancestors([]dag.VertexID{sp.node})[dp.node]; ok {
		fg.log().Warn("framegraph: connection would close a cycle",
			"src", src.String(), "output", srcOutput, "dst", dst.String(), "input", dstInput)
		return false
	}

	fg.graph.AddEdge(out.v, in)
	if !fg.graph.HasEdge(sp.node, dp.node) {
		fg.graph.AddEdge(sp.node, dp.node)
	}
	return true
}

func (fg *FrameGraph) hasPinEdge(vs []dag.VertexID) bool {
	for _, w := range vs {
		if fg.graph.Vertex(w).kind == vertexPin {
			return true
		}
	}
	return false
}

// Remove destroys a subgraph: its nodes, pins and storages. Retained
// textures are destroyed once the GPU finished the current submit. Other
// subgraphs are left untouched, connections to them included.
func (fg *FrameGraph) Remove(id SubgraphID) {
	fg.assertBetweenFrames("Remove")

	sg, err := fg.subgraph(id)
	if err != nil {
		return
	}

	for _, v := range sg.pins {
		p := fg.pinVertex(v)
		fg.storages.Remove(p.owned)
		fg.graph.RemoveVertex(v)
	}
	for _, v := range sg.nodes {
		n := fg.graph.Vertex(v).node
		if d, ok := n.impl.(Destroyer); ok {
			d.Destroy()
		}
		fg.graph.RemoveVertex(v)
	}
	for _, s := range sg.retained {
		fg.releaseRetained(s)
	}

	fg.subgraphs.Remove(id.h)
	fg.log().Info("framegraph: subgraph removed", "subgraph", id.String())
}

// DisableAllOutputs disables every output of a subgraph.
func (fg *FrameGraph) DisableAllOutputs(id SubgraphID) {
	sg, err := fg.subgraph(id)
	if err != nil {
		return
	}
	for i := range sg.outputs {
		sg.outputs[i].enabled = false
	}
}

// SetOutputState enables or disables one output of a subgraph. It returns
// false when the subgraph or output is unknown.
func (fg *FrameGraph) SetOutputState(id SubgraphID, name string, enabled bool) bool {
	sg, err := fg.subgraph(id)
	if err != nil {
		return false
	}
	out := sg.output(name)
	if out == nil {
		return false
	}
	out.enabled = enabled
	return true
}

// Subgraphs returns the live subgraphs in creation order.
func (fg *FrameGraph) Subgraphs() []SubgraphID {
	handles := fg.subgraphs.Handles()
	ids := make([]SubgraphID, len(handles))
	for i, h := range handles {
		ids[i] = SubgraphID{h: h}
	}
	return ids
}

// OutputDesc describes one output of a subgraph.
type OutputDesc struct {
	Name    string
	Kind    PinKind
	Type    string
	Enabled bool
}

// Outputs returns the outputs of a subgraph.
func (fg *FrameGraph) Outputs(id SubgraphID) ([]OutputDesc, error) {
	sg, err := fg.subgraph(id)
	if err != nil {
		return nil, err
	}
	descs := make([]OutputDesc, len(sg.outputs))
	for i, out := range sg.outputs {
		p := fg.pinVertex(out.v)
		descs[i] = OutputDesc{
			Name:    out.name,
			Kind:    p.decl.kind,
			Type:    p.decl.typ.Name,
			Enabled: out.enabled,
		}
	}
	return descs, nil
}

func (fg *FrameGraph) externalValue(id SubgraphID, name string, input bool, want reflect.Type) (any, *storage, error) {
	sg, err := fg.subgraph(id)
	if err != nil {
		return nil, nil, err
	}

	var p *pinInstance
	if input {
		v, ok := sg.inputs[name]
		if !ok {
			return nil, nil, errors.Wrapf(ErrPinNotFound, "input %q", name)
		}
		p = fg.pinVertex(v)
	} else {
		out := sg.output(name)
		if out == nil {
			return nil, nil, errors.Wrapf(ErrPinNotFound, "output %q", name)
		}
		p = fg.pinVertex(out.v)
	}

	if p.decl.typ.Type != want {
		return nil, nil, errors.Wrapf(ErrTypeMismatch, "%q has type %s, not %s", name, p.decl.typ.Name, want)
	}

	sid := p.owned
	if !input && p.decl.ref.storage.Valid() && fg.storages.Contains(p.decl.ref.storage) {
		sid = p.decl.ref.storage
	}
	s := fg.storage(sid)
	return s.value, s, nil
}

// SetInput stores value into the input name of a subgraph. Texture inputs
// set this way are imported as external textures every frame.
func SetInput[T any](fg *FrameGraph, id SubgraphID, name string, value T) error {
	v, s, err := fg.externalValue(id, name, true, reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	*v.(*T) = value
	if s.kind == PinTexture {
		s.external = true
	}
	return nil
}

// Input returns the value of the input name of a subgraph.
func Input[T any](fg *FrameGraph, id SubgraphID, name string) (*T, error) {
	v, _, err := fg.externalValue(id, name, true, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Output returns the value the output name of a subgraph had at the end of
// the last frame. Texture and buffer outputs hold the resources the frame
// used.
func Output[T any](fg *FrameGraph, id SubgraphID, name string) (*T, error) {
	v, _, err := fg.externalValue(id, name, false, reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// Close destroys every node and resource. Callers wait for the GPU to go
// idle first. Pending downloads fail with ErrClosed.
func (fg *FrameGraph) Close() {
	if fg.closed {
		return
	}
	for _, h := range fg.subgraphs.Handles() {
		sg := fg.subgraphs.Get(h)
		for _, v := range sg.nodes {
			if d, ok := fg.graph.Vertex(v).node.impl.(Destroyer); ok {
				d.Destroy()
			}
		}
		for _, s := range sg.retained {
			if st := fg.storages.Get(s); st != nil {
				fg.device.DestroyTexture(st.value.(*Texture).ID)
			}
		}
	}
	for _, d := range fg.pendingDownloads {
		d.fail(ErrClosed)
	}
	fg.pendingDownloads = nil
	fg.pool.Close()
	fg.download.Close()
	fg.closed = true
}

func (fg *FrameGraph) describeNode(n *nodeInstance) string {
	return fmt.Sprintf("%s (%s)", n.typ.name, n.subgraph)
}
