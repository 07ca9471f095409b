// Package graph implements the knowledge graph store: typed nodes and typed,
// directed edges with attribute maps, kept in id-keyed tables.
package graph

import (
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m-mizutani/goerr/v2"

	"github.com/felixgeelhaar/graphfusion/internal/errs"
)

// Attrs maps attribute names to scalars (string, bool, numbers) or vectors
// ([]float32).
type Attrs map[string]any

// Node is a graph vertex.
type Node struct {
	ID    string
	Type  string
	Attrs Attrs
	// EmbeddingRef names the embedding that represents the node. Empty means
	// the node id itself.
	EmbeddingRef string
}

// EmbeddingKey returns the id under which the node's embedding is stored.
func (n Node) EmbeddingKey() string {
	if n.EmbeddingRef != "" {
		return n.EmbeddingRef
	}
	return n.ID
}

// Edge is a directed, typed connection between two nodes.
type Edge struct {
	Source   string
	Relation string
	Target   string
	Attrs    Attrs
}

// Direction selects which incident edges Neighbors follows.
type Direction string

const (
	Out  Direction = "out"
	In   Direction = "in"
	Both Direction = "both"
)

// ParseDirection accepts "out", "in" or "both". The empty string means Out.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "", Out:
		return Out, nil
	case In:
		return In, nil
	case Both:
		return Both, nil
	}
	return "", errs.Range("unknown direction", goerr.V("direction", s))
}

// Neighbor is one step away from the node Neighbors was called on.
type Neighbor struct {
	ID       string
	Relation string
	// Direction is Out when the edge leaves the origin node, In otherwise.
	Direction Direction
	Attrs     Attrs
}

// Stats summarizes the store's size.
type Stats struct {
	Nodes     int
	Edges     int
	Relations int
	Types     map[string]int
}

type edgeKey struct {
	src, rel, dst string
}

type edgeEntry struct {
	edge Edge
	seq  uint64
}

// Graph is safe for concurrent use: lookups share a read lock, mutations
// take the write lock.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	order []string
	edges map[edgeKey]*edgeEntry
	out   map[string][]edgeKey
	in    map[string][]edgeKey
	seq   uint64
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]*edgeEntry),
		out:   make(map[string][]edgeKey),
		in:    make(map[string][]edgeKey),
	}
}

// AddNode inserts a node or merges attrs into an existing one. Re-adding an
// id with a different type is a conflict.
func (g *Graph) AddNode(id, typ string, attrs Attrs) error {
	if id == "" {
		return errs.Range("node id must not be empty")
	}
	if typ == "" {
		return errs.Range("node type must not be empty", goerr.V("id", id))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if n, ok := g.nodes[id]; ok {
		if n.Type != typ {
			return errs.Conflict("node exists with a different type",
				goerr.V("id", id), goerr.V("existing", n.Type), goerr.V("requested", typ))
		}
		if n.Attrs == nil && len(attrs) > 0 {
			n.Attrs = make(Attrs, len(attrs))
		}
		for k, v := range attrs {
			n.Attrs[k] = cloneValue(v)
		}
		return nil
	}

	g.nodes[id] = &Node{ID: id, Type: typ, Attrs: cloneAttrs(attrs)}
	g.order = append(g.order, id)
	return nil
}

// SetEmbeddingRef points a node at an embedding stored under another id.
func (g *Graph) SetEmbeddingRef(id, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return errs.NotFound("node not found", goerr.V("id", id))
	}
	n.EmbeddingRef = ref
	return nil
}

// GetNode returns a copy of the node.
func (g *Graph) GetNode(id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return Node{}, errs.NotFound("node not found", goerr.V("id", id))
	}
	return copyNode(n), nil
}

func (g *Graph) HasNode(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// AddEdge inserts src -relation-> dst. A repeated triple keeps its position
// and has its attributes replaced.
func (g *Graph) AddEdge(src, relation, dst string, attrs Attrs) error {
	if relation == "" {
		return errs.Range("relation must not be empty", goerr.V("source", src), goerr.V("target", dst))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[src]; !ok {
		return errs.NotFound("edge source not found", goerr.V("id", src), goerr.V("relation", relation))
	}
	if _, ok := g.nodes[dst]; !ok {
		return errs.NotFound("edge target not found", goerr.V("id", dst), goerr.V("relation", relation))
	}

	key := edgeKey{src, relation, dst}
	if e, ok := g.edges[key]; ok {
		e.edge.Attrs = cloneAttrs(attrs)
		return nil
	}

	g.seq++
	g.edges[key] = &edgeEntry{
		edge: Edge{Source: src, Relation: relation, Target: dst, Attrs: cloneAttrs(attrs)},
		seq:  g.seq,
	}
	g.out[src] = append(g.out[src], key)
	g.in[dst] = append(g.in[dst], key)
	return nil
}

// RemoveEdge deletes a single triple. It reports whether the edge existed.
func (g *Graph) RemoveEdge(src, relation, dst string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeEdge(edgeKey{src, relation, dst})
}

func (g *Graph) removeEdge(key edgeKey) bool {
	if _, ok := g.edges[key]; !ok {
		return false
	}
	delete(g.edges, key)
	g.out[key.src] = dropKey(g.out[key.src], key)
	if len(g.out[key.src]) == 0 {
		delete(g.out, key.src)
	}
	g.in[key.dst] = dropKey(g.in[key.dst], key)
	if len(g.in[key.dst]) == 0 {
		delete(g.in, key.dst)
	}
	return true
}

// RemoveNode deletes a node and every edge incident to it. Absent ids are
// ignored. It reports whether the node existed.
func (g *Graph) RemoveNode(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return false
	}
	for _, key := range slices.Clone(g.out[id]) {
		g.removeEdge(key)
	}
	for _, key := range slices.Clone(g.in[id]) {
		g.removeEdge(key)
	}
	delete(g.nodes, id)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == id })
	return true
}

// Neighbors returns the nodes adjacent to id in insertion order. relation is
// either empty, matching every relation, or a doublestar pattern such as
// "works_*" or "{knows,likes}". Each range takes a fresh snapshot, so the
// sequence can be consumed repeatedly. An unknown id yields nothing.
func (g *Graph) Neighbors(id, relation string, dir Direction) iter.Seq[Neighbor] {
	return func(yield func(Neighbor) bool) {
		for _, n := range g.neighbors(id, relation, dir) {
			if !yield(n) {
				return
			}
		}
	}
}

func (g *Graph) neighbors(id, relation string, dir Direction) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var result []Neighbor
	if dir == "" || dir == Out || dir == Both {
		for _, key := range g.out[id] {
			if !MatchRelation(relation, key.rel) {
				continue
			}
			result = append(result, Neighbor{
				ID: key.dst, Relation: key.rel, Direction: Out,
				Attrs: cloneAttrs(g.edges[key].edge.Attrs),
			})
		}
	}
	if dir == In || dir == Both {
		for _, key := range g.in[id] {
			if !MatchRelation(relation, key.rel) {
				continue
			}
			result = append(result, Neighbor{
				ID: key.src, Relation: key.rel, Direction: In,
				Attrs: cloneAttrs(g.edges[key].edge.Attrs),
			})
		}
	}
	return result
}

// MatchRelation reports whether relation satisfies pattern. An empty pattern
// matches everything; a malformed one matches nothing.
func MatchRelation(pattern, relation string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, relation)
	return err == nil && ok
}

// ValidateRelation checks that pattern is empty or a well-formed glob.
func ValidateRelation(pattern string) error {
	if pattern == "" {
		return nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return errs.Range("invalid relation pattern", goerr.V("pattern", pattern))
	}
	return nil
}

// Nodes returns copies of all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := make([]Node, 0, len(g.order))
	for _, id := range g.order {
		result = append(result, copyNode(g.nodes[id]))
	}
	return result
}

// EmbeddingReferenced reports whether any node reads its embedding from key.
func (g *Graph) EmbeddingReferenced(key string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		if n.EmbeddingKey() == key {
			return true
		}
	}
	return false
}

// Edges returns copies of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entries := slices.Collect(maps.Values(g.edges))
	slices.SortFunc(entries, func(a, b *edgeEntry) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	result := make([]Edge, 0, len(entries))
	for _, e := range entries {
		edge := e.edge
		edge.Attrs = cloneAttrs(edge.Attrs)
		result = append(result, edge)
	}
	return result
}

func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{Nodes: len(g.nodes), Edges: len(g.edges), Types: make(map[string]int)}
	rels := make(map[string]struct{})
	for key := range g.edges {
		rels[key.rel] = struct{}{}
	}
	s.Relations = len(rels)
	for _, n := range g.nodes {
		s.Types[n.Type]++
	}
	return s
}

func dropKey(keys []edgeKey, key edgeKey) []edgeKey {
	return slices.DeleteFunc(keys, func(k edgeKey) bool { return k == key })
}

func copyNode(n *Node) Node {
	c := *n
	c.Attrs = cloneAttrs(n.Attrs)
	return c
}

func cloneAttrs(a Attrs) Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []float32:
		return slices.Clone(x)
	case []float64:
		return slices.Clone(x)
	}
	return v
}
