package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/graphfusion/internal/config"
	"github.com/felixgeelhaar/graphfusion/internal/observe"
	"github.com/felixgeelhaar/graphfusion/internal/store"
)

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	return config.Load(configPath)
}

func resolveDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	if cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".graphfusion", "graphfusion.db")
}

func getStore(cfg *config.Config) (store.Storage, error) {
	s, err := store.NewSQLiteStore(resolveDBPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// newObserver honours --verbose and --json-logs over the config's log section.
func newObserver(cfg *config.Config) *observe.Observer {
	level, format := cfg.Log.Level, cfg.Log.Format
	if verbose {
		level = "debug"
	}
	if jsonLogs {
		format = "json"
	}
	return observe.NewWithLevel(os.Stderr, level, format)
}

// newRunner wires config, logging and storage for a command. The returned
// cleanup closes the store.
func newRunner() (*Runner, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	s, err := getStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	o := newObserver(cfg)
	return NewRunner(o, s, cfg), func() {
		s.Close()
		o.Close()
	}, nil
}

// parseVector reads "0.1,0.2,0.3".
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

func formatVector(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'g', 4, 32)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
