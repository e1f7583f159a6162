package resource

import "sort"

// kind is the type of a graph node.
type kind int

const (
	kindObject kind = iota
	kindGeometry
	kindMaterial
	kindTexture
	kindDocument
)

func (k kind) String() string {
	switch k {
	case kindObject:
		return "object"
	case kindGeometry:
		return "geometry"
	case kindMaterial:
		return "material"
	case kindTexture:
		return "texture"
	case kindDocument:
		return "document"
	}
	return "unknown"
}

type key struct {
	kind kind
	id   string
}

// node is one entity in the arena. Edges point from the user to the used:
// mesh -> material, mesh -> geometry, material -> texture, document -> texture.
type node struct {
	key   key
	value any
	out   map[key]struct{}
	in    map[key]struct{}
}

// graph keeps every relationship as a pair of edge sets so both directions
// are updated by the same call.
type graph struct {
	nodes map[key]*node
}

func newGraph() *graph {
	return &graph{nodes: make(map[key]*node)}
}

func (g *graph) get(k key) (*node, bool) {
	n, ok := g.nodes[k]
	return n, ok
}

func (g *graph) has(k key) bool {
	_, ok := g.nodes[k]
	return ok
}

// put adds a node, or returns the existing one.
func (g *graph) put(k key, value any) *node {
	if n, ok := g.nodes[k]; ok {
		return n
	}
	n := &node{key: k, value: value, out: make(map[key]struct{}), in: make(map[key]struct{})}
	g.nodes[k] = n
	return n
}

func (g *graph) link(from, to key) {
	f, ok1 := g.nodes[from]
	t, ok2 := g.nodes[to]
	if !ok1 || !ok2 {
		return
	}
	f.out[to] = struct{}{}
	t.in[from] = struct{}{}
}

func (g *graph) unlink(from, to key) {
	if f, ok := g.nodes[from]; ok {
		delete(f.out, to)
	}
	if t, ok := g.nodes[to]; ok {
		delete(t.in, from)
	}
}

// remove deletes a node and every edge touching it.
func (g *graph) remove(k key) {
	n, ok := g.nodes[k]
	if !ok {
		return
	}
	for to := range n.out {
		if t, ok := g.nodes[to]; ok {
			delete(t.in, k)
		}
	}
	for from := range n.in {
		if f, ok := g.nodes[from]; ok {
			delete(f.out, k)
		}
	}
	delete(g.nodes, k)
}

// users returns the nodes of kind k with an edge into n, sorted by id.
func (g *graph) users(n key, k kind) []key {
	nd, ok := g.nodes[n]
	if !ok {
		return nil
	}
	return filter(nd.in, k)
}

// uses returns the nodes of kind k n has an edge to, sorted by id.
func (g *graph) uses(n key, k kind) []key {
	nd, ok := g.nodes[n]
	if !ok {
		return nil
	}
	return filter(nd.out, k)
}

func (g *graph) referenced(n key) bool {
	nd, ok := g.nodes[n]
	return ok && len(nd.in) > 0
}

func (g *graph) count(k kind) int {
	c := 0
	for key := range g.nodes {
		if key.kind == k {
			c++
		}
	}
	return c
}

func filter(set map[key]struct{}, k kind) []key {
	var out []key
	for key := range set {
		if key.kind == k {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
