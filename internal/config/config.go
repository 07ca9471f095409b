// Package config loads and validates graphfusion settings from YAML or JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/graphfusion/internal/guard"
)

// Config is the full settings tree.
type Config struct {
	Embedding Embedding    `json:"embedding" yaml:"embedding"`
	Memory    Memory       `json:"memory" yaml:"memory"`
	Retrieval Retrieval    `json:"retrieval" yaml:"retrieval"`
	Guard     guard.Policy `json:"guard" yaml:"guard"`
	Embedder  Embedder     `json:"embedder" yaml:"embedder"`
	Store     Store        `json:"store" yaml:"store"`
	Log       Log          `json:"log" yaml:"log"`
}

type Embedding struct {
	Dim int `json:"dim" yaml:"dim"`
}

type Memory struct {
	Capacity int    `json:"capacity" yaml:"capacity"`
	Metric   string `json:"metric" yaml:"metric"` // cosine or dot
}

// Retrieval holds the defaults applied to queries that do not override them.
type Retrieval struct {
	MaxHops       int     `json:"max_hops" yaml:"max_hops"`
	ResultLimit   int     `json:"result_limit" yaml:"result_limit"`
	Alpha         float64 `json:"alpha" yaml:"alpha"`
	WriteStrength float64 `json:"write_strength" yaml:"write_strength"`
	WriteTopK     int     `json:"write_top_k" yaml:"write_top_k"`
	Direction     string  `json:"direction" yaml:"direction"`
}

type Embedder struct {
	Provider string `json:"provider" yaml:"provider"` // hash, ollama, openai, gemini
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
}

// Store.Path empty means ~/.graphfusion/graphfusion.db.
type Store struct {
	Path string `json:"path" yaml:"path"`
}

type Log struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // console or json
}

// ValidationResult represents the outcome of a validation pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Embedding: Embedding{Dim: 64},
		Memory:    Memory{Capacity: 256, Metric: "cosine"},
		Retrieval: Retrieval{
			MaxHops:       2,
			ResultLimit:   10,
			Alpha:         0.7,
			WriteStrength: 0.2,
			WriteTopK:     3,
			Direction:     "out",
		},
		Guard:    guard.DefaultPolicy,
		Embedder: Embedder{Provider: "hash"},
		Store:    Store{},
		Log:      Log{Level: "warn", Format: "console"},
	}
}

// Load reads a config file (JSON or YAML) over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s (use .json or .yaml)", ext)
	}

	return &cfg, nil
}

var (
	metrics   = []string{"cosine", "dot"}
	dirs      = []string{"out", "in", "both"}
	providers = []string{"hash", "ollama", "openai", "gemini"}
	levels    = []string{"debug", "info", "warn", "error"}
	formats   = []string{"console", "json"}
)

// Validate checks the config for values the stores would reject and for
// combinations that work but are probably unintended.
func (c Config) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}
	fail := func(format string, args ...any) {
		res.Valid = false
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}
	warn := func(format string, args ...any) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(format, args...))
	}

	if c.Embedding.Dim < 1 {
		fail("embedding.dim must be positive")
	}
	if c.Memory.Capacity < 1 {
		fail("memory.capacity must be positive")
	}
	if !slices.Contains(metrics, c.Memory.Metric) {
		fail("memory.metric must be one of %v, got %q", metrics, c.Memory.Metric)
	}

	r := c.Retrieval
	if r.MaxHops < 0 {
		fail("retrieval.max_hops must not be negative")
	} else if r.MaxHops == 0 {
		warn("retrieval.max_hops is 0; queries will return nothing")
	}
	if r.ResultLimit < 1 {
		fail("retrieval.result_limit must be at least 1")
	}
	if r.Alpha < 0 || r.Alpha > 1 {
		fail("retrieval.alpha must be within [0, 1]")
	}
	if r.WriteStrength < 0 || r.WriteStrength > 1 {
		fail("retrieval.write_strength must be within [0, 1]")
	}
	if r.WriteTopK < 0 {
		fail("retrieval.write_top_k must not be negative")
	}
	if r.Direction != "" && !slices.Contains(dirs, r.Direction) {
		fail("retrieval.direction must be one of %v, got %q", dirs, r.Direction)
	}
	if r.WriteTopK > c.Memory.Capacity && c.Memory.Capacity > 0 {
		warn("retrieval.write_top_k exceeds memory.capacity; each query can evict its own writes")
	}
	if r.Alpha == 1 {
		warn("retrieval.alpha is 1; memory never influences ranking")
	}

	g := c.Guard
	if g.MaxHops > 0 && r.MaxHops > g.MaxHops {
		warn("retrieval.max_hops exceeds guard.max_hops; default queries will be rejected")
	}
	if g.MaxResults > 0 && r.ResultLimit > g.MaxResults {
		warn("retrieval.result_limit exceeds guard.max_results; default queries will be rejected")
	}

	if c.Embedder.Provider != "" && !slices.Contains(providers, c.Embedder.Provider) {
		fail("embedder.provider must be one of %v, got %q", providers, c.Embedder.Provider)
	}
	if c.Embedder.Provider == "" || c.Embedder.Provider == "hash" {
		warn("hash embedder yields no semantic similarity for text queries")
	}

	if c.Log.Level != "" && !slices.Contains(levels, c.Log.Level) {
		fail("log.level must be one of %v, got %q", levels, c.Log.Level)
	}
	if c.Log.Format != "" && !slices.Contains(formats, c.Log.Format) {
		fail("log.format must be one of %v, got %q", formats, c.Log.Format)
	}

	return res
}
