// Package embedder turns free text into vectors for text queries and dataset
// loading.
package embedder

import (
	"context"
	"fmt"
	"os"
)

// Embedder defines the interface for text embedding backends.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the backend identifier (e.g., "hash", "openai").
	Name() string
}

// Settings selects and configures a backend.
type Settings struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	// Dim is only used by the hash backend; remote models decide their own width.
	Dim int
}

// New builds the backend named by s.Provider. API keys fall back to
// OPENAI_API_KEY and GEMINI_API_KEY.
func New(s Settings) (Embedder, error) {
	switch s.Provider {
	case "", "hash":
		return NewHash(s.Dim), nil
	case "ollama":
		return NewOllama(s.BaseURL, s.Model)
	case "openai":
		key := s.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		return NewOpenAI(key, s.BaseURL, s.Model)
	case "gemini":
		key := s.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		return NewGemini(key, s.Model)
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", s.Provider)
	}
}
