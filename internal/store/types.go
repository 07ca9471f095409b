package store

import (
	"context"

	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
)

// Snapshot is a full copy of the in-memory stores.
type Snapshot struct {
	Nodes      []graph.Node
	Edges      []graph.Edge
	Embeddings []embedding.Record
	// Memory is nil when no memory state was saved.
	Memory *memory.State
}

// Storage defines the interface for persistence
type Storage interface {
	// Snapshots replace whatever was saved before.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// Configuration Management
	SetConfig(key, value string) error
	GetConfig(key string) (string, error)

	Close() error
}

// Capture copies the three stores into a snapshot. mem may be nil.
func Capture(g *graph.Graph, emb *embedding.Table, mem *memory.Store) *Snapshot {
	snap := &Snapshot{
		Nodes:      g.Nodes(),
		Edges:      g.Edges(),
		Embeddings: emb.Records(),
	}
	if mem != nil {
		st := mem.State()
		snap.Memory = &st
	}
	return snap
}

// Apply loads the snapshot into empty stores. Nodes go first so every edge
// finds its endpoints.
func (s *Snapshot) Apply(g *graph.Graph, emb *embedding.Table, mem *memory.Store) error {
	for _, n := range s.Nodes {
		if err := g.AddNode(n.ID, n.Type, n.Attrs); err != nil {
			return err
		}
		if n.EmbeddingRef != "" {
			if err := g.SetEmbeddingRef(n.ID, n.EmbeddingRef); err != nil {
				return err
			}
		}
	}
	for _, e := range s.Edges {
		if err := g.AddEdge(e.Source, e.Relation, e.Target, e.Attrs); err != nil {
			return err
		}
	}
	for _, r := range s.Embeddings {
		if err := emb.Set(r.ID, r.Vector); err != nil {
			return err
		}
	}
	if s.Memory != nil && mem != nil {
		return mem.Restore(*s.Memory)
	}
	return nil
}
