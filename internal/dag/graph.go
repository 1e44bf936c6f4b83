// Package dag implements the directed graph behind frame graph templates and
// instances: an arena of vertices with adjacency lists addressed by handle.
package dag

import (
	"github.com/cockroachdb/errors"

	"github.com/gogpu/framegraph/internal/arena"
)

// ErrCycleDetected is returned by Sort when the graph is not acyclic.
var ErrCycleDetected = errors.New("dag: cycle detected, graph is not acyclic")

// VertexID addresses a vertex. The zero VertexID is invalid.
type VertexID = arena.Handle

type vertex[V any] struct {
	data V
	out  []VertexID
	in   []VertexID
}

// Graph is a directed graph with payload V on every vertex.
// Edge lists keep insertion order, which makes every traversal deterministic.
type Graph[V any] struct {
	vertices arena.Arena[vertex[V]]
	order    []VertexID
	edges    int
}

// AddVertex inserts a vertex carrying data.
func (g *Graph[V]) AddVertex(data V) VertexID {
	id := g.vertices.Insert(vertex[V]{data: data})
	g.order = append(g.order, id)
	return id
}

// Vertex returns the payload of id, or nil when id is stale.
func (g *Graph[V]) Vertex(id VertexID) *V {
	v := g.vertices.Get(id)
	if v == nil {
		return nil
	}
	return &v.data
}

// Contains reports whether id is a live vertex.
func (g *Graph[V]) Contains(id VertexID) bool {
	return g.vertices.Contains(id)
}

// VertexCount returns the number of live vertices.
func (g *Graph[V]) VertexCount() int { return g.vertices.Len() }

// EdgeCount returns the number of edges.
func (g *Graph[V]) EdgeCount() int { return g.edges }

// Vertices returns all live vertices in insertion order.
func (g *Graph[V]) Vertices() []VertexID {
	out := make([]VertexID, 0, len(g.order))
	for _, id := range g.order {
		if g.vertices.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// AddEdge adds the edge from -> to. Duplicate edges are allowed.
func (g *Graph[V]) AddEdge(from, to VertexID) {
	src := g.vertices.Get(from)
	dst := g.vertices.Get(to)
	if src == nil || dst == nil {
		panic(errors.AssertionFailedf("dag: edge %v -> %v references a missing vertex", from, to))
	}
	src.out = append(src.out, to)
	dst.in = append(dst.in, from)
	g.edges++
}

// HasEdge reports whether the edge from -> to exists.
func (g *Graph[V]) HasEdge(from, to VertexID) bool {
	src := g.vertices.Get(from)
	if src == nil {
		return false
	}
	for _, v := range src.out {
		if v == to {
			return true
		}
	}
	return false
}

// RemoveEdge removes one edge from -> to, if present.
func (g *Graph[V]) RemoveEdge(from, to VertexID) {
	src := g.vertices.Get(from)
	dst := g.vertices.Get(to)
	if src == nil || dst == nil {
		return
	}
	if removeFirst(&src.out, to) {
		removeFirst(&dst.in, from)
		g.edges--
	}
}

// OutEdges returns the targets of the edges leaving id.
// The slice is owned by the graph and must not be modified.
func (g *Graph[V]) OutEdges(id VertexID) []VertexID {
	if v := g.vertices.Get(id); v != nil {
		return v.out
	}
	return nil
}

// InEdges returns the sources of the edges entering id.
// The slice is owned by the graph and must not be modified.
func (g *Graph[V]) InEdges(id VertexID) []VertexID {
	if v := g.vertices.Get(id); v != nil {
		return v.in
	}
	return nil
}

// RemoveVertex removes id and every edge touching it.
func (g *Graph[V]) RemoveVertex(id VertexID) {
	v := g.vertices.Get(id)
	if v == nil {
		return
	}
	self := 0
	for _, to := range v.out {
		if to == id {
			self++
			continue
		}
		if dst := g.vertices.Get(to); dst != nil {
			removeAll(&dst.in, id)
		}
	}
	for _, from := range v.in {
		if src := g.vertices.Get(from); src != nil && from != id {
			removeAll(&src.out, id)
		}
	}
	g.edges -= len(v.out) + len(v.in) - self
	g.vertices.Remove(id)

	// Compact the order list once dead entries dominate.
	if len(g.order) > 2*g.vertices.Len()+16 {
		g.order = g.Vertices()
	}
}

func removeFirst(s *[]VertexID, id VertexID) bool {
	for i, v := range *s {
		if v == id {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}

func removeAll(s *[]VertexID, id VertexID) {
	out := (*s)[:0]
	for _, v := range *s {
		if v != id {
			out = append(out, v)
		}
	}
	*s = out
}
