package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/graphfusion/internal/config"
	"github.com/felixgeelhaar/graphfusion/internal/credential"
	"github.com/felixgeelhaar/graphfusion/internal/engine"
	"github.com/felixgeelhaar/graphfusion/internal/observe"
	"github.com/felixgeelhaar/graphfusion/internal/store"
)

const triangle = `
nodes:
  - {id: A, type: person, embedding: [1, 0]}
  - {id: B, type: person, embedding: [0.8, 0.6]}
  - {id: C, type: person, embedding: [0.6, 0.8]}
edges:
  - {source: A, relation: knows, target: B}
  - {source: B, relation: knows, target: C}
  - {source: C, relation: knows, target: A}
`

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Embedding.Dim = 2
	cfg.Memory.Capacity = 4
	return &cfg
}

func writeDataset(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "triangle.yaml")
	if err := os.WriteFile(path, []byte(triangle), 0600); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
	return path
}

func TestRunner(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "graphfusion.db")
	o := observe.New(io.Discard, true)

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	r := NewRunner(o, s, testConfig())

	sum, err := r.Load(context.Background(), writeDataset(t))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if sum.Nodes != 3 || sum.Edges != 3 {
		t.Errorf("Expected 3 nodes and 3 edges, got %+v", sum)
	}
	s.Close()

	// A fresh runner sees the saved snapshot.
	s, _ = store.NewSQLiteStore(dbPath)
	defer s.Close()
	r = NewRunner(o, s, testConfig())

	req := r.DefaultRequest("A")
	req.RelationPattern = "knows"
	req.ResultLimit = 2
	results, err := r.Query(context.Background(), req, "")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 2 || results[0].EntityID != "B" || results[1].EntityID != "C" {
		t.Fatalf("Expected [B C], got %+v", results)
	}

	snap, err := s.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap.Memory == nil {
		t.Fatal("Expected memory state to be persisted")
	}
	occupied := 0
	for _, s := range snap.Memory.Slots {
		if !s.Free() {
			occupied++
		}
	}
	if occupied != 2 {
		t.Errorf("Expected write-back of 2 slots to be persisted, got %d", occupied)
	}
}

func TestRunner_InvalidConfig(t *testing.T) {
	s, _ := store.NewSQLiteStore(filepath.Join(t.TempDir(), "db"))
	defer s.Close()

	cfg := testConfig()
	cfg.Retrieval.Alpha = 3
	r := NewRunner(observe.New(io.Discard, false), s, cfg)
	if _, err := r.Open(context.Background()); err == nil {
		t.Error("Expected error for invalid config")
	}
}

func TestRunner_DefaultRequest(t *testing.T) {
	cfg := testConfig()
	cfg.Retrieval.MaxHops = 5
	r := NewRunner(observe.New(io.Discard, false), nil, cfg)

	req := r.DefaultRequest("x")
	if req.EntityID != "x" || req.MaxHops != 5 || req.Alpha != cfg.Retrieval.Alpha {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestCLI_Root(t *testing.T) {
	want := []string{"load", "query", "memory", "stats", "config", "remove"}
	for _, name := range want {
		found := false
		for _, cmd := range RootCmd.Commands() {
			if cmd.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("%s command not found", name)
		}
	}
}

func TestCLI_Memory(t *testing.T) {
	for _, cmd := range RootCmd.Commands() {
		if cmd.Name() == "memory" {
			if len(cmd.Commands()) != 4 {
				t.Errorf("Expected read, write, forget and slots subcommands, got %d", len(cmd.Commands()))
			}
			return
		}
	}
	t.Error("memory command not found")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	RootCmd.SetOut(buf)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return buf.String(), err
}

func TestCLI_Flow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "graphfusion.db")
	cfgPath := filepath.Join(dir, "graphfusion.yaml")
	os.WriteFile(cfgPath, []byte("embedding: {dim: 2}\nmemory: {capacity: 4}\n"), 0600)
	base := []string{"--db", db, "--config", cfgPath}

	out, err := run(t, append([]string{"load", writeDataset(t)}, base...)...)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !strings.Contains(out, "Loaded 3 nodes, 3 edges") {
		t.Errorf("unexpected load output: %q", out)
	}

	out, err = run(t, append([]string{"query", "A", "--relation", "knows", "--limit", "2", "--json"}, base...)...)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var results []engine.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("query output is not JSON: %v\n%s", err, out)
	}
	if len(results) != 2 || results[0].EntityID != "B" {
		t.Errorf("Expected B first, got %+v", results)
	}

	out, err = run(t, append([]string{"memory", "slots"}, base...)...)
	if err != nil {
		t.Fatalf("memory slots failed: %v", err)
	}
	if !strings.Contains(out, "B") || !strings.Contains(out, "C") {
		t.Errorf("Expected B and C in memory, got %q", out)
	}

	if _, err := run(t, append([]string{"memory", "write", "ghost", "--vector", "1,0"}, base...)...); err == nil {
		t.Error("Expected memory write for a missing node to fail")
	}

	out, err = run(t, append([]string{"memory", "forget", "B"}, base...)...)
	if err != nil || !strings.Contains(out, "Forgot B") {
		t.Errorf("memory forget failed: %v %q", err, out)
	}

	out, err = run(t, append([]string{"stats"}, base...)...)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "nodes:      3") || !strings.Contains(out, "1/4 slots") {
		t.Errorf("unexpected stats output: %q", out)
	}

	out, err = run(t, append([]string{"config", "set", "openai.api_key", "sk-1234567890abcdef"}, base...)...)
	if err != nil || !strings.Contains(out, "openai.api_key") {
		t.Errorf("config set failed: %v %q", err, out)
	}
	out, _ = run(t, append([]string{"config", "get", "openai.api_key"}, base...)...)
	if strings.TrimSpace(out) != "sk-1...cdef" {
		t.Errorf("Expected masked key, got %q", out)
	}
	out, _ = run(t, append([]string{"config", "get", "openai.api_key", "--reveal"}, base...)...)
	if strings.TrimSpace(out) != "sk-1234567890abcdef" {
		t.Errorf("Expected key in the clear, got %q", out)
	}

	s, err := store.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if raw, _ := s.GetConfig("openai.api_key"); !credential.IsSealed(raw) {
		t.Errorf("Expected api key to be stored sealed, got %q", raw)
	}
}

func TestParseVector(t *testing.T) {
	v, err := parseVector("1, 0.5,-2")
	if err != nil {
		t.Fatalf("parseVector failed: %v", err)
	}
	if len(v) != 3 || v[1] != 0.5 || v[2] != -2 {
		t.Errorf("Expected [1 0.5 -2], got %v", v)
	}
	if _, err := parseVector("1,x"); err == nil {
		t.Error("Expected error for non-numeric component")
	}
	if got := formatVector([]float32{1, 0.25}); got != "[1 0.25]" {
		t.Errorf("Expected '[1 0.25]', got %q", got)
	}
}
