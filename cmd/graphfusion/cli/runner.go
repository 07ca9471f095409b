package cli

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/graphfusion/internal/config"
	"github.com/felixgeelhaar/graphfusion/internal/credential"
	"github.com/felixgeelhaar/graphfusion/internal/dataset"
	"github.com/felixgeelhaar/graphfusion/internal/embedder"
	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/engine"
	"github.com/felixgeelhaar/graphfusion/internal/events"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/guard"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
	"github.com/felixgeelhaar/graphfusion/internal/observe"
	"github.com/felixgeelhaar/graphfusion/internal/store"
)

// Runner rebuilds the engine from the last snapshot, runs one command against
// it and saves the result back.
type Runner struct {
	Observer *observe.Observer
	Store    store.Storage
	Config   *config.Config

	engine   *engine.Engine
	embedder embedder.Embedder
}

func NewRunner(o *observe.Observer, s store.Storage, cfg *config.Config) *Runner {
	return &Runner{Observer: o, Store: s, Config: cfg}
}

// Open builds empty stores from the config and fills them from the saved
// snapshot, if any.
func (r *Runner) Open(ctx context.Context) (*engine.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	res := r.Config.Validate()
	if !res.Valid {
		return nil, fmt.Errorf("invalid config: %v", res.Errors)
	}
	for _, w := range res.Warnings {
		r.Observer.Log().Debug().Str("warning", w).Msg("config")
	}

	cfg := r.Config
	emb, err := embedding.New(cfg.Embedding.Dim)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	r.Observer.Attach(bus)

	metric, err := memory.ParseMetric(cfg.Memory.Metric)
	if err != nil {
		return nil, err
	}
	mem, err := memory.New(cfg.Memory.Capacity, cfg.Embedding.Dim, metric, memory.WithEvents(bus))
	if err != nil {
		return nil, err
	}
	g := graph.New()

	snap, err := r.Store.LoadSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := snap.Apply(g, emb, mem); err != nil {
		return nil, fmt.Errorf("snapshot does not fit the configured stores: %w", err)
	}

	if r.embedder, err = r.newEmbedder(); err != nil {
		return nil, err
	}

	r.engine, err = engine.New(g, emb, mem,
		engine.WithObserver(r.Observer),
		engine.WithEvents(bus),
		engine.WithGuard(guard.New(cfg.Guard)),
		engine.WithEmbedder(r.embedder),
		engine.WithWriteTopK(cfg.Retrieval.WriteTopK),
	)
	if err != nil {
		return nil, err
	}

	r.Observer.Log().Info().
		Int("nodes", len(snap.Nodes)).
		Int("edges", len(snap.Edges)).
		Int("slots", mem.Occupied()).
		Msg("snapshot loaded")
	return r.engine, nil
}

// newEmbedder resolves credentials from the store before the environment.
// Stored keys are sealed by config set and opened here.
func (r *Runner) newEmbedder() (embedder.Embedder, error) {
	ec := r.Config.Embedder
	s := embedder.Settings{
		Provider: ec.Provider,
		Model:    ec.Model,
		BaseURL:  ec.BaseURL,
		Dim:      r.Config.Embedding.Dim,
	}
	if s.Provider != "" && s.Provider != "hash" {
		if sealed, _ := r.Store.GetConfig(s.Provider + ".api_key"); sealed != "" {
			cm, err := credential.NewManager()
			if err != nil {
				return nil, err
			}
			if s.APIKey, err = cm.Open(sealed); err != nil {
				return nil, fmt.Errorf("failed to open stored %s key: %w", s.Provider, err)
			}
		}
		if s.BaseURL == "" {
			s.BaseURL, _ = r.Store.GetConfig(s.Provider + ".base_url")
		}
	}
	return embedder.New(s)
}

// Save writes the engine's stores back as the current snapshot.
func (r *Runner) Save(ctx context.Context) error {
	if r.engine == nil {
		return nil
	}
	e := r.engine
	if err := r.Store.SaveSnapshot(ctx, store.Capture(e.Graph(), e.Embeddings(), e.Memory())); err != nil {
		r.Observer.Log().Error().Err(err).Msg("failed to save snapshot")
		return err
	}
	return nil
}

// Load applies a dataset file and saves the result.
func (r *Runner) Load(ctx context.Context, path string) (dataset.Summary, error) {
	e, err := r.Open(ctx)
	if err != nil {
		return dataset.Summary{}, err
	}

	r.Observer.Log().Info().Str("path", path).Msg("loading dataset")
	doc, err := dataset.Load(path)
	if err != nil {
		return dataset.Summary{}, err
	}

	sum, err := dataset.Apply(ctx, doc, dataset.Targets{
		Graph:      e.Graph(),
		Embeddings: e.Embeddings(),
		Memory:     e.Memory(),
		Embedder:   r.embedder,
	})
	if err != nil {
		r.Observer.Log().Error().Err(err).Msg("dataset rejected")
		return sum, err
	}
	return sum, r.Save(ctx)
}

// Query runs a retrieval, or a text retrieval when text is non-empty, and
// persists the memory write-back.
func (r *Runner) Query(ctx context.Context, req engine.Request, text string) ([]engine.Result, error) {
	e, err := r.Open(ctx)
	if err != nil {
		return nil, err
	}

	var results []engine.Result
	if text != "" {
		results, err = e.QueryText(ctx, text, req)
	} else {
		results, err = e.Query(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return results, r.Save(ctx)
}

// DefaultRequest turns the retrieval section of the config into a request.
func (r *Runner) DefaultRequest(entityID string) engine.Request {
	rc := r.Config.Retrieval
	return engine.Request{
		EntityID:      entityID,
		Direction:     graph.Direction(rc.Direction),
		MaxHops:       rc.MaxHops,
		ResultLimit:   rc.ResultLimit,
		Alpha:         rc.Alpha,
		WriteStrength: rc.WriteStrength,
	}
}
