package framegraph

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/gogpu/framegraph/internal/dag"
)

type vertexKind uint8

const (
	vertexNode vertexKind = iota
	vertexPin
)

type templateVertex struct {
	kind  vertexKind
	node  *nodeType    // node vertices
	owner dag.VertexID // pin vertices: the owning node vertex
	pin   int          // pin vertices: index in node.pins
	name  string       // external input or output name
}

type externalPin struct {
	name string
	v    dag.VertexID
}

// NodeRef identifies a node added to a TemplateBuilder.
type NodeRef struct {
	v dag.VertexID
}

// TemplateBuilder authors a Template. Operations record the first error and
// turn into no-ops afterwards; Build returns that error.
//
// Example:
//
//	b := framegraph.NewTemplate(registry)
//	gbuffer := b.AddNode("gbuffer")
//	lighting := b.AddNode("lighting")
//	b.Connect(gbuffer, "albedo", lighting, "albedo")
//	b.MakeOutput(lighting, "color", "final")
//	tmpl, err := b.Build()
type TemplateBuilder struct {
	registry *Registry
	graph    *dag.Graph[templateVertex]
	inputs   []externalPin
	outputs  []externalPin
	err      error
	built    bool
}

// NewTemplate returns a builder creating nodes from registry.
func NewTemplate(registry *Registry) *TemplateBuilder {
	return &TemplateBuilder{
		registry: registry,
		graph:    &dag.Graph[templateVertex]{},
	}
}

func (b *TemplateBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *TemplateBuilder) usable() bool {
	if b.built {
		b.fail(errors.New("framegraph: template builder already built"))
	}
	return b.err == nil
}

// AddNode adds a node of the registered type name.
func (b *TemplateBuilder) AddNode(name string) NodeRef {
	if !b.usable() {
		return NodeRef{}
	}
	id, ok := b.registry.Lookup(name)
	if !ok {
		b.fail(errors.Wrapf(ErrNodeNotFound, "%q", name))
		return NodeRef{}
	}
	return b.AddNodeID(id)
}

// AddNodeID adds a node of the registered type id, with one pin vertex per
// declared pin.
func (b *TemplateBuilder) AddNodeID(id uuid.UUID) NodeRef {
	if !b.usable() {
		return NodeRef{}
	}
	t, ok := b.registry.get(id)
	if !ok {
		b.fail(errors.Wrapf(ErrNodeNotFound, "id %s", id))
		return NodeRef{}
	}
	v := b.graph.AddVertex(templateVertex{kind: vertexNode, node: t})
	for i := range t.pins {
		p := b.graph.AddVertex(templateVertex{kind: vertexPin, owner: v, pin: i})
		b.graph.AddEdge(v, p)
	}
	return NodeRef{v: v}
}

func (b *TemplateBuilder) pinVertex(n NodeRef, pin string) (dag.VertexID, *pinDecl, error) {
	nv := b.graph.Vertex(n.v)
	if nv == nil || nv.kind != vertexNode {
		return dag.VertexID{}, nil, errors.Wrap(ErrNodeNotFound, "invalid node reference")
	}
	for _, w := range b.graph.OutEdges(n.v) {
		pv := b.graph.Vertex(w)
		if pv.kind == vertexPin && pv.owner == n.v && nv.node.pins[pv.pin].name == pin {
			return w, &nv.node.pins[pv.pin], nil
		}
	}
	return dag.VertexID{}, nil, errors.Wrapf(ErrPinNotFound, "%s has no pin %q", nv.node.name, pin)
}

func (b *TemplateBuilder) name(v dag.VertexID, name string) bool {
	pv := b.graph.Vertex(v)
	if pv.name != "" && pv.name != name {
		b.fail(errors.Newf("framegraph: pin already exposed as %q, cannot rename to %q", pv.name, name))
		return false
	}
	pv.name = name
	return true
}

// MakeInput exposes a pin as the template input name.
func (b *TemplateBuilder) MakeInput(n NodeRef, pin, name string) {
	if !b.usable() {
		return
	}
	v, _, err := b.pinVertex(n, pin)
	if err != nil {
		b.fail(err)
		return
	}
	if b.name(v, name) {
		b.inputs = append(b.inputs, externalPin{name: name, v: v})
	}
}

// MakeOutput exposes a pin as the template output name. Only nodes that
// reach an enabled output are built and executed.
func (b *TemplateBuilder) MakeOutput(n NodeRef, pin, name string) {
	if !b.usable() {
		return
	}
	v, _, err := b.pinVertex(n, pin)
	if err != nil {
		b.fail(err)
		return
	}
	if b.name(v, name) {
		b.outputs = append(b.outputs, externalPin{name: name, v: v})
	}
}

// Connect feeds pin dstPin of dst from pin srcPin of src. Both pins must have
// the same kind and type. The connection also orders src before dst.
func (b *TemplateBuilder) Connect(src NodeRef, srcPin string, dst NodeRef, dstPin string) {
	if !b.usable() {
		return
	}
	sv, sd, err := b.pinVertex(src, srcPin)
	if err != nil {
		b.fail(err)
		return
	}
	dv, dd, err := b.pinVertex(dst, dstPin)
	if err != nil {
		b.fail(err)
		return
	}
	if sd.kind != dd.kind || sd.typ.Type != dd.typ.Type {
		b.fail(errors.Wrapf(ErrPinNotFound, "pin %q has type %s, %q expects %s %s",
			srcPin, sd.typ.Name, dstPin, dd.kind, dd.typ.Name))
		return
	}

	// A sink references the storage downstream of it, other pins the
	// storage upstream.
	if sd.kind == PinSink {
		if b.hasPinEdge(b.graph.OutEdges(sv)) {
			b.fail(errors.Wrapf(ErrInputAlreadyConnected, "sink %q", srcPin))
			return
		}
	} else if b.hasPinEdge(b.graph.InEdges(dv)) {
		b.fail(errors.Wrapf(ErrInputAlreadyConnected, "pin %q", dstPin))
		return
	}

	b.graph.AddEdge(sv, dv)
	if !b.graph.HasEdge(src.v, dst.v) {
		b.graph.AddEdge(src.v, dst.v)
	}
}

func (b *TemplateBuilder) hasPinEdge(vs []dag.VertexID) bool {
	for _, w := range vs {
		if b.graph.Vertex(w).kind == vertexPin {
			return true
		}
	}
	return false
}

// Build validates the template and sorts its nodes.
func (b *TemplateBuilder) Build() (*Template, error) {
	if !b.usable() {
		return nil, b.err
	}

	for _, v := range b.graph.Vertices() {
		pv := b.graph.Vertex(v)
		if pv.kind != vertexPin {
			continue
		}
		decl := b.graph.Vertex(pv.owner).node.pins[pv.pin]
		if !decl.required || decl.kind == PinSink {
			continue
		}
		if !b.hasPinEdge(b.graph.InEdges(v)) && !b.isInput(v) {
			return nil, errors.Wrapf(ErrMissingInput, "%s.%s", b.graph.Vertex(pv.owner).node.name, decl.name)
		}
	}

	order, err := b.graph.Sort()
	if err != nil {
		return nil, errors.Wrap(ErrNotADAG, err.Error())
	}

	t := &Template{
		graph:   b.graph,
		inputs:  b.inputs,
		outputs: b.outputs,
	}
	for _, v := range order {
		if b.graph.Vertex(v).kind == vertexNode {
			t.nodes = append(t.nodes, v)
		}
	}
	b.built = true
	return t, nil
}

func (b *TemplateBuilder) isInput(v dag.VertexID) bool {
	for _, in := range b.inputs {
		if in.v == v {
			return true
		}
	}
	return false
}

// Template is a validated, immutable graph of nodes that can be
// instantiated any number of times.
type Template struct {
	graph   *dag.Graph[templateVertex]
	nodes   []dag.VertexID
	inputs  []externalPin
	outputs []externalPin
}

// Nodes returns the node type names in topological order.
func (t *Template) Nodes() []string {
	names := make([]string, len(t.nodes))
	for i, v := range t.nodes {
		names[i] = t.graph.Vertex(v).node.name
	}
	return names
}

// Inputs returns the names of the template inputs.
func (t *Template) Inputs() []string { return externalNames(t.inputs) }

// Outputs returns the names of the template outputs.
func (t *Template) Outputs() []string { return externalNames(t.outputs) }

func externalNames(pins []externalPin) []string {
	names := make([]string, len(pins))
	for i, p := range pins {
		names[i] = p.name
	}
	return names
}
