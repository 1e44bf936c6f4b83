package framegraph

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Node is a unit of work in a frame graph. DeclarePins is called once per
// node instance and stores the returned pin handles in the node.
//
// A node opts into the frame lifecycle by implementing Initializer, Builder,
// Executor and Destroyer.
type Node interface {
	DeclarePins(p *PinSet)
}

// Initializer is implemented by nodes needing one-time setup. Init is called
// before the first build the node takes part in.
type Initializer interface {
	Init(ctx *InitContext) error
}

// Builder is implemented by nodes declaring passes and resources.
// A node returning an error is skipped for the frame.
type Builder interface {
	Build(ctx *BuildContext) error
}

// Executor is implemented by nodes recording GPU commands.
type Executor interface {
	Execute(ctx *ExecuteContext) error
}

// Destroyer is implemented by nodes owning resources outside the frame
// graph. Destroy is called when the node's subgraph is removed or the frame
// graph is closed.
type Destroyer interface {
	Destroy()
}

// NodeDesc describes a node type.
type NodeDesc struct {
	// Name identifies the node type. It is used in DOT output and metrics.
	Name string
	// New returns a fresh node instance.
	New func() Node
}

// NodeOf returns the descriptor of node type T, instantiated with new(T).
func NodeOf[T any, P interface {
	*T
	Node
}](name string) NodeDesc {
	return NodeDesc{
		Name: name,
		New:  func() Node { return P(new(T)) },
	}
}

var nodeNamespace = uuid.MustParse("5d1f7b8e-3c1a-4f5e-9b7d-2a6c8e0f4b13")

// NodeID returns the deterministic id of a node type name.
func NodeID(name string) uuid.UUID {
	return uuid.NewSHA1(nodeNamespace, []byte(name))
}

type nodeType struct {
	id   uuid.UUID
	name string
	new  func() Node
	pins []pinDecl
}

func (t *nodeType) instantiate() (Node, []pinDecl) {
	n := t.new()
	var ps PinSet
	n.DeclarePins(&ps)
	return n, ps.pins
}

// Registry maps node type ids to node descriptors.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*nodeType
	byName map[string]*nodeType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[uuid.UUID]*nodeType),
		byName: make(map[string]*nodeType),
	}
}

// Register adds a node type and returns its id.
func (r *Registry) Register(desc NodeDesc) (uuid.UUID, error) {
	if desc.Name == "" || desc.New == nil {
		return uuid.Nil, errors.New("framegraph: node descriptor needs a name and a constructor")
	}

	t := &nodeType{id: NodeID(desc.Name), name: desc.Name, new: desc.New}
	_, t.pins = t.instantiate()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[desc.Name]; ok {
		return uuid.Nil, errors.Wrapf(ErrDuplicateNode, "%q", desc.Name)
	}
	r.byID[t.id] = t
	r.byName[t.name] = t
	return t.id, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(desc NodeDesc) uuid.UUID {
	id, err := r.Register(desc)
	if err != nil {
		panic(err)
	}
	return id
}

// Lookup returns the id of a registered node type name.
func (r *Registry) Lookup(name string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	if !ok {
		return uuid.Nil, false
	}
	return t.id, true
}

// Names returns the registered node type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) get(id uuid.UUID) (*nodeType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	return t, ok
}
