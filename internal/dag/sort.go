package dag

const (
	unvisited uint8 = iota
	visiting
	visited
)

type frame struct {
	v    VertexID
	next int
}

// Sort returns every vertex in a topological order: each vertex precedes all
// vertices reachable from it. Vertices with no ordering constraint between
// them keep their insertion order. Sort returns ErrCycleDetected when a
// cycle exists.
func (g *Graph[V]) Sort() ([]VertexID, error) {
	return g.SortFunc(nil)
}

// SortFunc is like Sort but only visits vertices for which keep returns
// true. Edges into skipped vertices are ignored. A nil keep visits all.
func (g *Graph[V]) SortFunc(keep func(VertexID) bool) ([]VertexID, error) {
	roots := g.Vertices()
	state := make(map[VertexID]uint8, len(roots))
	post := make([]VertexID, 0, len(roots))
	var stack []frame

	// Walking roots and edges backwards and reversing the post-order
	// yields insertion order among independent vertices.
	for i := len(roots) - 1; i >= 0; i-- {
		root := roots[i]
		if state[root] != unvisited || (keep != nil && !keep(root)) {
			continue
		}
		state[root] = visiting
		stack = append(stack[:0], frame{v: root, next: len(g.OutEdges(root)) - 1})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			out := g.OutEdges(top.v)
			if top.next < 0 {
				state[top.v] = visited
				post = append(post, top.v)
				stack = stack[:len(stack)-1]
				continue
			}
			w := out[top.next]
			top.next--
			if keep != nil && !keep(w) {
				continue
			}
			switch state[w] {
			case visiting:
				return nil, ErrCycleDetected
			case unvisited:
				state[w] = visiting
				stack = append(stack, frame{v: w, next: len(g.OutEdges(w)) - 1})
			}
		}
	}

	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post, nil
}

// Ancestors returns the set of vertices that reach any of targets,
// targets included.
func (g *Graph[V]) Ancestors(targets []VertexID) map[VertexID]struct{} {
	seen := make(map[VertexID]struct{}, len(targets))
	queue := make([]VertexID, 0, len(targets))
	for _, t := range targets {
		if _, ok := seen[t]; ok || !g.Contains(t) {
			continue
		}
		seen[t] = struct{}{}
		queue = append(queue, t)
	}
	for len(queue) > 0 {
		v := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		for _, u := range g.InEdges(v) {
			if _, ok := seen[u]; !ok {
				seen[u] = struct{}{}
				queue = append(queue, u)
			}
		}
	}
	return seen
}
