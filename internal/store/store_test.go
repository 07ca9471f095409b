package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
)

func populated(t *testing.T) (*graph.Graph, *embedding.Table, *memory.Store) {
	t.Helper()
	g := graph.New()
	emb, _ := embedding.New(2)
	mem, _ := memory.New(2, 2, memory.Dot)

	_ = g.AddNode("alice", "person", graph.Attrs{
		"age": 31, "name": "Alice", "score": 0.5, "active": true, "pos": []float32{1, 2},
	})
	_ = g.AddNode("bob", "person", nil)
	_ = g.AddNode("acme", "company", graph.Attrs{})
	_ = g.SetEmbeddingRef("acme", "org:acme")
	_ = g.AddEdge("alice", "knows", "bob", graph.Attrs{"since": 2019})
	_ = g.AddEdge("bob", "works_at", "acme", nil)
	_ = g.AddEdge("alice", "works_at", "acme", nil)

	_ = emb.Set("alice", []float32{1, 0})
	_ = emb.Set("bob", []float32{0, 1})
	_ = emb.Set("org:acme", []float32{0.5, 0.5})

	_, _ = mem.Write("alice", []float32{1, 0}, 1)
	_, _ = mem.Write("bob", []float32{0, 1}, 1)
	_, _ = mem.Read([]float32{0, 1}, 1)
	_, _ = mem.Read([]float32{0, 1}, 1)
	return g, emb, mem
}

func TestSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "graphfusion.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	t.Run("Config", func(t *testing.T) {
		if err := s.SetConfig("openai.api_key", "sk-123"); err != nil {
			t.Fatalf("SetConfig failed: %v", err)
		}
		if err := s.SetConfig("openai.api_key", "sk-456"); err != nil {
			t.Fatalf("SetConfig overwrite failed: %v", err)
		}
		val, err := s.GetConfig("openai.api_key")
		if err != nil {
			t.Fatalf("GetConfig failed: %v", err)
		}
		if val != "sk-456" {
			t.Errorf("Expected 'sk-456', got '%s'", val)
		}

		missing, err := s.GetConfig("nope")
		if err != nil || missing != "" {
			t.Errorf("Expected empty value for missing key, got %q %v", missing, err)
		}
	})

	t.Run("Empty Snapshot", func(t *testing.T) {
		snap, err := s.LoadSnapshot(context.Background())
		if err != nil {
			t.Fatalf("LoadSnapshot failed: %v", err)
		}
		if len(snap.Nodes) != 0 || snap.Memory != nil {
			t.Errorf("Expected empty snapshot, got %+v", snap)
		}
	})

	t.Run("Round Trip", func(t *testing.T) {
		g, emb, mem := populated(t)
		if err := s.SaveSnapshot(context.Background(), Capture(g, emb, mem)); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}

		snap, err := s.LoadSnapshot(context.Background())
		if err != nil {
			t.Fatalf("LoadSnapshot failed: %v", err)
		}

		g2 := graph.New()
		emb2, _ := embedding.New(2)
		mem2, _ := memory.New(2, 2, memory.Dot)
		if err := snap.Apply(g2, emb2, mem2); err != nil {
			t.Fatalf("Apply failed: %v", err)
		}

		if g2.Stats().Nodes != 3 || g2.Stats().Edges != 3 {
			t.Errorf("Expected 3 nodes and 3 edges, got %+v", g2.Stats())
		}

		alice, _ := g2.GetNode("alice")
		if alice.Attrs["age"] != 31 || alice.Attrs["name"] != "Alice" || alice.Attrs["score"] != 0.5 || alice.Attrs["active"] != true {
			t.Errorf("Scalar attributes not preserved: %v", alice.Attrs)
		}
		if pos, ok := alice.Attrs["pos"].([]float32); !ok || pos[1] != 2 {
			t.Errorf("Vector attribute not preserved: %#v", alice.Attrs["pos"])
		}

		acme, _ := g2.GetNode("acme")
		if acme.EmbeddingRef != "org:acme" {
			t.Errorf("Expected embedding ref 'org:acme', got %q", acme.EmbeddingRef)
		}

		wantEdges := g.Edges()
		gotEdges := g2.Edges()
		for i := range wantEdges {
			if wantEdges[i].Source != gotEdges[i].Source || wantEdges[i].Target != gotEdges[i].Target || wantEdges[i].Relation != gotEdges[i].Relation {
				t.Errorf("Edge %d: expected %+v, got %+v", i, wantEdges[i], gotEdges[i])
			}
		}

		v, err := emb2.Get("org:acme")
		if err != nil || v[0] != 0.5 {
			t.Errorf("Embedding not preserved: %v %v", v, err)
		}

		for _, id := range []string{"alice", "bob"} {
			want, _ := mem.Lookup(id)
			got, ok := mem2.Lookup(id)
			if !ok || got.Usage != want.Usage || got.Written != want.Written || got.Index != want.Index {
				t.Errorf("Slot %s: expected %+v, got %+v", id, want, got)
			}
		}

		// Same usage counters mean the same eviction choice.
		outA, _ := mem.Write("carol", []float32{1, 1}, 1)
		outB, _ := mem2.Write("carol", []float32{1, 1}, 1)
		if outA.Evicted != "alice" || outB.Evicted != outA.Evicted {
			t.Errorf("Expected alice evicted in both, got %q and %q", outA.Evicted, outB.Evicted)
		}
	})

	t.Run("Save Replaces", func(t *testing.T) {
		g := graph.New()
		_ = g.AddNode("solo", "thing", nil)
		emb, _ := embedding.New(2)
		if err := s.SaveSnapshot(context.Background(), Capture(g, emb, nil)); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
		snap, _ := s.LoadSnapshot(context.Background())
		if len(snap.Nodes) != 1 || len(snap.Edges) != 0 || len(snap.Embeddings) != 0 || snap.Memory != nil {
			t.Errorf("Expected only the new snapshot, got %+v", snap)
		}
	})
}

func TestReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graphfusion.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	g, emb, mem := populated(t)
	if err := s.SaveSnapshot(context.Background(), Capture(g, emb, mem)); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if len(snap.Nodes) != 3 || snap.Memory == nil || len(snap.Memory.Slots) != 2 {
		t.Errorf("Expected persisted snapshot, got %+v", snap)
	}
	if snap.Memory.Metric != memory.Dot {
		t.Errorf("Expected dot metric, got %s", snap.Memory.Metric)
	}
}
