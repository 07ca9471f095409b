// Package embedding maps entity and relation ids to fixed-width vectors.
package embedding

import (
	"cmp"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/felixgeelhaar/graphfusion/internal/errs"
	"github.com/felixgeelhaar/graphfusion/internal/vector"
)

// Record is a stored (id, vector) pair.
type Record struct {
	ID     string
	Vector []float32
}

// Match is a Nearest hit.
type Match struct {
	ID    string
	Score float32
}

// Table holds one vector per id. All vectors share the table's width.
type Table struct {
	mu      sync.RWMutex
	dim     int
	vectors map[string][]float32
}

// New creates a table for vectors of width dim.
func New(dim int) (*Table, error) {
	if dim < 1 {
		return nil, errs.Range("embedding dimension must be positive", goerr.V("dim", dim))
	}
	return &Table{dim: dim, vectors: make(map[string][]float32)}, nil
}

func (t *Table) Dim() int { return t.dim }

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.vectors)
}

// Get returns a copy of the vector stored for id.
func (t *Table) Get(id string) ([]float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.vectors[id]
	if !ok {
		return nil, errs.NotFound("embedding not found", goerr.V("id", id))
	}
	return vector.Clone(v), nil
}

func (t *Table) Has(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.vectors[id]
	return ok
}

// Set replaces the vector for id.
func (t *Table) Set(id string, v []float32) error {
	if id == "" {
		return errs.Range("embedding id must not be empty")
	}
	if len(v) != t.dim {
		return errs.Dimension("embedding width mismatch", t.dim, len(v), goerr.V("id", id))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.vectors[id] = vector.Clone(v)
	return nil
}

// Delete removes the vector for id, reporting whether one existed.
func (t *Table) Delete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.vectors[id]; !ok {
		return false
	}
	delete(t.vectors, id)
	return true
}

// Similarity is the cosine similarity of the vectors stored for a and b.
func (t *Table) Similarity(a, b string) (float32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	va, ok := t.vectors[a]
	if !ok {
		return 0, errs.NotFound("embedding not found", goerr.V("id", a))
	}
	vb, ok := t.vectors[b]
	if !ok {
		return 0, errs.NotFound("embedding not found", goerr.V("id", b))
	}
	return vector.Cosine(va, vb), nil
}

// CosineOf is the cosine similarity of two supplied vectors of the table's
// width.
func (t *Table) CosineOf(x, y []float32) (float32, error) {
	if len(x) != t.dim {
		return 0, errs.Dimension("vector width mismatch", t.dim, len(x))
	}
	if len(y) != t.dim {
		return 0, errs.Dimension("vector width mismatch", t.dim, len(y))
	}
	return vector.Cosine(x, y), nil
}

// Nearest scans every vector and returns up to k ids ordered by cosine
// similarity to v, ties by id. keep, when non-nil, filters candidates.
func (t *Table) Nearest(v []float32, k int, keep func(id string) bool) ([]Match, error) {
	if len(v) != t.dim {
		return nil, errs.Dimension("query width mismatch", t.dim, len(v))
	}
	if k < 1 {
		return nil, errs.Range("k must be at least 1", goerr.V("k", k))
	}

	t.mu.RLock()
	matches := make([]Match, 0, len(t.vectors))
	for id, stored := range t.vectors {
		if keep != nil && !keep(id) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: vector.Cosine(v, stored)})
	}
	t.mu.RUnlock()

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Records returns a copy of every vector sorted by id.
func (t *Table) Records() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.vectors))
	for id, v := range t.vectors {
		out = append(out, Record{ID: id, Vector: vector.Clone(v)})
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
