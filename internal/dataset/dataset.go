// Package dataset reads graph documents (nodes, edges, embeddings and memory
// warm-start entries) from YAML or JSON and applies them to the stores.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/graphfusion/internal/embedder"
	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
)

// Document is the on-disk shape of a dataset file.
type Document struct {
	Nodes  []Node   `json:"nodes" yaml:"nodes"`
	Edges  []Edge   `json:"edges" yaml:"edges"`
	Memory []Memory `json:"memory" yaml:"memory"`
}

type Node struct {
	ID    string         `json:"id" yaml:"id"`
	Type  string         `json:"type" yaml:"type"`
	Attrs map[string]any `json:"attrs" yaml:"attrs"`
	// Embedding is stored as given. When absent and Text is set, Text is
	// embedded instead.
	Embedding    []float32 `json:"embedding" yaml:"embedding"`
	Text         string    `json:"text" yaml:"text"`
	EmbeddingRef string    `json:"embedding_ref" yaml:"embedding_ref"`
}

type Edge struct {
	Source   string         `json:"source" yaml:"source"`
	Relation string         `json:"relation" yaml:"relation"`
	Target   string         `json:"target" yaml:"target"`
	Attrs    map[string]any `json:"attrs" yaml:"attrs"`
}

// Memory warm-starts a slot. Without a vector the node's embedding is used.
type Memory struct {
	Node     string    `json:"node" yaml:"node"`
	Vector   []float32 `json:"vector" yaml:"vector"`
	Strength *float64  `json:"strength" yaml:"strength"`
}

// Summary counts what Apply changed.
type Summary struct {
	Nodes        int
	Edges        int
	Embeddings   int
	MemoryWrites int
}

// Targets are the stores a document is applied to. Embedder may be nil when
// no node carries text; Memory may be nil when the document has no memory
// section.
type Targets struct {
	Graph      *graph.Graph
	Embeddings *embedding.Table
	Memory     *memory.Store
	Embedder   embedder.Embedder
}

// Load reads a dataset file (JSON or YAML).
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}

	var doc Document
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON dataset: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML dataset: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported dataset format: %s (use .json or .yaml)", ext)
	}

	return &doc, nil
}

// Apply inserts nodes, then edges, then memory entries. It stops at the
// first failing record; records before it stay applied.
func Apply(ctx context.Context, doc *Document, t Targets) (Summary, error) {
	var sum Summary

	for i, n := range doc.Nodes {
		if err := t.Graph.AddNode(n.ID, n.Type, attrs(n.Attrs)); err != nil {
			return sum, fmt.Errorf("node %d (%s): %w", i, n.ID, err)
		}
		sum.Nodes++

		if n.EmbeddingRef != "" {
			if err := t.Graph.SetEmbeddingRef(n.ID, n.EmbeddingRef); err != nil {
				return sum, fmt.Errorf("node %d (%s): %w", i, n.ID, err)
			}
		}

		vec := n.Embedding
		if vec == nil && n.Text != "" {
			if t.Embedder == nil {
				return sum, fmt.Errorf("node %d (%s): text given but no embedder configured", i, n.ID)
			}
			var err error
			if vec, err = t.Embedder.Embed(ctx, n.Text); err != nil {
				return sum, fmt.Errorf("node %d (%s): %w", i, n.ID, err)
			}
		}
		if vec != nil {
			key := n.ID
			if n.EmbeddingRef != "" {
				key = n.EmbeddingRef
			}
			if err := t.Embeddings.Set(key, vec); err != nil {
				return sum, fmt.Errorf("node %d (%s): %w", i, n.ID, err)
			}
			sum.Embeddings++
		}
	}

	for i, e := range doc.Edges {
		if err := t.Graph.AddEdge(e.Source, e.Relation, e.Target, attrs(e.Attrs)); err != nil {
			return sum, fmt.Errorf("edge %d (%s -%s-> %s): %w", i, e.Source, e.Relation, e.Target, err)
		}
		sum.Edges++
	}

	if len(doc.Memory) > 0 && t.Memory == nil {
		return sum, fmt.Errorf("dataset has memory entries but no memory store")
	}
	for i, m := range doc.Memory {
		// Slots only ever bind to nodes in the graph, explicit vector or not.
		node, err := t.Graph.GetNode(m.Node)
		if err != nil {
			return sum, fmt.Errorf("memory %d (%s): %w", i, m.Node, err)
		}
		vec := m.Vector
		if vec == nil {
			if vec, err = t.Embeddings.Get(node.EmbeddingKey()); err != nil {
				return sum, fmt.Errorf("memory %d (%s): %w", i, m.Node, err)
			}
		}
		strength := 1.0
		if m.Strength != nil {
			strength = *m.Strength
		}
		if _, err := t.Memory.Write(m.Node, vec, strength); err != nil {
			return sum, fmt.Errorf("memory %d (%s): %w", i, m.Node, err)
		}
		sum.MemoryWrites++
	}

	return sum, nil
}

// attrs turns decoded lists of numbers into []float32 vectors and leaves
// everything else alone.
func attrs(in map[string]any) graph.Attrs {
	if in == nil {
		return nil
	}
	out := make(graph.Attrs, len(in))
	for k, v := range in {
		if list, ok := v.([]any); ok {
			if vec, ok := floats(list); ok {
				out[k] = vec
				continue
			}
		}
		out[k] = v
	}
	return out
}

func floats(list []any) ([]float32, bool) {
	vec := make([]float32, len(list))
	for i, x := range list {
		switch n := x.(type) {
		case float64:
			vec[i] = float32(n)
		case int:
			vec[i] = float32(n)
		default:
			return nil, false
		}
	}
	return vec, true
}
