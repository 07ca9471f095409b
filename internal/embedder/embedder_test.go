package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/felixgeelhaar/graphfusion/internal/vector"
)

func TestOpenAI(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"object": "list",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.5, -0.25, 1]}],
			"model": "text-embedding-3-small",
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	e, err := NewOpenAI("test-key", server.URL, "")
	if err != nil {
		t.Fatalf("NewOpenAI failed: %v", err)
	}
	if e.Name() != "openai" {
		t.Errorf("Expected 'openai', got '%s'", e.Name())
	}

	vec, err := e.Embed(context.Background(), "alice knows bob")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.5 || vec[1] != -0.25 {
		t.Errorf("Expected [0.5 -0.25 1], got %v", vec)
	}
	if gotModel != "text-embedding-3-small" {
		t.Errorf("Expected default model, got %q", gotModel)
	}
}

func TestOllama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding": [0.1, 0.2, 0.3, 0.4]}`))
	}))
	defer server.Close()

	e, err := NewOllama(server.URL, "")
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	if e.Name() != "ollama" {
		t.Errorf("Expected 'ollama', got '%s'", e.Name())
	}

	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("Expected 4 components, got %d", len(vec))
	}
}

func TestOllama_EnvHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding": [1]}`))
	}))
	defer server.Close()

	t.Setenv("OLLAMA_HOST", server.URL)

	e, err := NewOllama("", "nomic-embed-text")
	if err != nil {
		t.Fatalf("NewOllama failed: %v", err)
	}
	if _, err := e.Embed(context.Background(), "hi"); err != nil {
		t.Errorf("Embed via OLLAMA_HOST failed: %v", err)
	}
}

func TestGemini_Name(t *testing.T) {
	// genai.NewClient does not dial until the first call.
	e, err := NewGemini("fake-key", "")
	if err != nil {
		t.Logf("Skipping Gemini Name test due to client init error: %v", err)
		return
	}
	defer e.Close()
	if e.Name() != "gemini" {
		t.Errorf("Expected 'gemini', got '%s'", e.Name())
	}
}

func TestHash(t *testing.T) {
	h := NewHash(16)
	a1, _ := h.Embed(context.Background(), "alice")
	a2, _ := h.Embed(context.Background(), "alice")
	b, _ := h.Embed(context.Background(), "bob")

	if len(a1) != 16 {
		t.Fatalf("Expected 16 components, got %d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("Expected identical vectors for identical text")
		}
	}
	if vector.Cosine(a1, b) > 0.99 {
		t.Error("Expected different texts to differ")
	}
	if n := vector.Norm(a1); n < 0.999 || n > 1.001 {
		t.Errorf("Expected unit vector, got norm %v", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Embed(ctx, "alice"); err == nil {
		t.Error("Expected error on canceled context")
	}
}

func TestNew(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	testCases := []struct {
		name     string
		settings Settings
		want     string
		wantErr  bool
	}{
		{"default is hash", Settings{Dim: 8}, "hash", false},
		{"ollama", Settings{Provider: "ollama", BaseURL: "http://localhost:11434"}, "ollama", false},
		{"openai with key", Settings{Provider: "openai", APIKey: "k"}, "openai", false},
		{"openai without key", Settings{Provider: "openai"}, "", true},
		{"unknown", Settings{Provider: "bert"}, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := New(tc.settings)
			if tc.wantErr {
				if err == nil {
					t.Error("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if e.Name() != tc.want {
				t.Errorf("Expected %q, got %q", tc.want, e.Name())
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer server.Close()

	t.Run("OpenAI Error", func(t *testing.T) {
		e, _ := NewOpenAI("key", server.URL, "")
		if _, err := e.Embed(context.Background(), "hi"); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("Ollama Error", func(t *testing.T) {
		e, _ := NewOllama(server.URL, "")
		if _, err := e.Embed(context.Background(), "hi"); err == nil {
			t.Error("Expected error")
		}
	})
}
