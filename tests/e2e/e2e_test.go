package e2e

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestE2E_LoadAndQuery(t *testing.T) {
	// 1. Build binary
	rootDir, _ := filepath.Abs("../../")
	binPath := filepath.Join(t.TempDir(), "graphfusion_e2e")

	buildCmd := exec.Command("go", "build", "-o", binPath, "github.com/felixgeelhaar/graphfusion/cmd/graphfusion")
	buildCmd.Dir = rootDir
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build graphfusion: %v\n%s", err, out)
	}

	// 2. Setup env. HOME points at the temp dir so the default database
	// lands in tmpDir/.graphfusion.
	tmpDir := t.TempDir()
	env := append(os.Environ(), "HOME="+tmpDir)

	cfgPath := filepath.Join(tmpDir, "graphfusion.yaml")
	os.WriteFile(cfgPath, []byte("embedding:\n  dim: 3\nmemory:\n  capacity: 2\n"), 0600)

	dataPath := filepath.Join(tmpDir, "people.yaml")
	data := `
nodes:
  - {id: alice, type: person, embedding: [1, 0, 0]}
  - {id: bob, type: person, embedding: [0.9, 0.1, 0]}
  - {id: carol, type: person, embedding: [0, 1, 0]}
  - {id: acme, type: company, embedding: [0, 0, 1]}
edges:
  - {source: alice, relation: knows, target: bob}
  - {source: bob, relation: knows, target: carol}
  - {source: alice, relation: works_at, target: acme}
`
	os.WriteFile(dataPath, []byte(data), 0600)

	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command(binPath, append(args, "--config", cfgPath)...)
		cmd.Env = env
		out, err := cmd.Output()
		if err != nil {
			t.Fatalf("graphfusion %v failed: %v\n%s", args, err, out)
		}
		return string(out)
	}

	// 3. Load
	out := run("load", dataPath)
	if !strings.Contains(out, "Loaded 4 nodes, 3 edges") {
		t.Errorf("Unexpected load output: %s", out)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, ".graphfusion", "graphfusion.db")); err != nil {
		t.Errorf("Expected database under HOME: %v", err)
	}

	// 4. Query only follows knows edges
	out = run("query", "alice", "--relation", "knows", "--json")
	var results []struct {
		EntityID string
		Hop      int
	}
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("Query output is not JSON: %v\n%s", err, out)
	}
	if len(results) != 2 || results[0].EntityID != "bob" || results[1].EntityID != "carol" {
		t.Fatalf("Expected [bob carol], got %+v", results)
	}

	// 5. The write-back survived the process
	out = run("memory", "slots")
	if !strings.Contains(out, "bob") || !strings.Contains(out, "carol") {
		t.Errorf("Expected bob and carol in memory, got:\n%s", out)
	}

	// 6. Removing a node drops it from later queries
	run("remove", "bob")
	out = run("query", "alice", "--json")
	if strings.Contains(out, "bob") || !strings.Contains(out, "acme") {
		t.Errorf("Expected acme without bob after removal, got:\n%s", out)
	}
}
