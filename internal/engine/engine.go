// Package engine runs graph-conditioned retrieval: a bounded breadth-first
// expansion from a seed entity in which every candidate is scored by
// embedding similarity to the query blended with a bias read from the
// dynamic memory. The best results are written back into memory so later
// queries are conditioned on earlier ones.
package engine

import (
	"cmp"
	"context"
	"io"
	"slices"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/graphfusion/internal/embedder"
	"github.com/felixgeelhaar/graphfusion/internal/embedding"
	"github.com/felixgeelhaar/graphfusion/internal/errs"
	"github.com/felixgeelhaar/graphfusion/internal/events"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
	"github.com/felixgeelhaar/graphfusion/internal/guard"
	"github.com/felixgeelhaar/graphfusion/internal/memory"
	"github.com/felixgeelhaar/graphfusion/internal/observe"
	"github.com/felixgeelhaar/graphfusion/internal/vector"
)

// Phase is a step of the per-query state machine.
type Phase string

const (
	PhaseInit   Phase = "init"
	PhaseExpand Phase = "expand"
	PhaseScore  Phase = "score"
	PhaseDone   Phase = "done"
)

// DefaultWriteTopK is how many top results are written back per query.
const DefaultWriteTopK = 3

// Engine ties the graph, embedding table and memory store together. It holds
// no lock of its own; each store serializes its own mutations.
type Engine struct {
	graph     *graph.Graph
	emb       *embedding.Table
	mem       *memory.Store
	observe   *observe.Observer
	events    events.Publisher
	guard     *guard.Guard
	embedder  embedder.Embedder
	writeTopK int
}

// Option configures an Engine.
type Option func(*Engine)

func WithObserver(o *observe.Observer) Option {
	return func(e *Engine) { e.observe = o }
}

func WithEvents(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithGuard rejects requests outside the policy's bounds.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithEmbedder enables QueryText.
func WithEmbedder(emb embedder.Embedder) Option {
	return func(e *Engine) { e.embedder = emb }
}

// WithWriteTopK sets how many results are written back. Zero disables
// write-back entirely.
func WithWriteTopK(k int) Option {
	return func(e *Engine) { e.writeTopK = k }
}

// New wires an engine over existing stores. The embedding table and the
// memory store must share a width.
func New(g *graph.Graph, emb *embedding.Table, mem *memory.Store, opts ...Option) (*Engine, error) {
	if emb.Dim() != mem.Dim() {
		return nil, errs.Dimension("embedding table and memory widths differ", emb.Dim(), mem.Dim())
	}

	e := &Engine{
		graph:     g,
		emb:       emb,
		mem:       mem,
		writeTopK: DefaultWriteTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.observe == nil {
		e.observe = observe.New(io.Discard, false)
	}
	if e.writeTopK < 0 {
		e.writeTopK = 0
	}
	return e, nil
}

func (e *Engine) Graph() *graph.Graph          { return e.graph }
func (e *Engine) Embeddings() *embedding.Table { return e.emb }
func (e *Engine) Memory() *memory.Store        { return e.mem }

func (e *Engine) publish(t events.Type, queryID string, data map[string]any) {
	if e.events != nil {
		e.events.Publish(events.Event{Type: t, QueryID: queryID, Data: data})
	}
}

// candidate is a node discovered during expansion.
type candidate struct {
	id    string
	hop   int
	order int
	vec   []float32
	sim   float32
	bias  float32
	score float32
}

// run is the state of a single query.
type run struct {
	id       string
	req      Request
	seed     string
	queryVec []float32
	phase    Phase
	hop      int
	frontier []string
	visited  map[string]struct{}
	found    []*candidate
}

// Query runs a retrieval and returns results ranked by score, best first.
// The seed entity is never part of the result.
func (e *Engine) Query(ctx context.Context, req Request) ([]Result, error) {
	if req.Direction == "" {
		req.Direction = graph.Out
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.checkGuard(req); err != nil {
		return nil, err
	}

	r := &run{id: uuid.NewString(), req: req, phase: PhaseInit}
	ctx, span := e.observe.StartSpan(ctx, "engine.Query",
		attribute.String("query.id", r.id),
		attribute.String("query.entity", req.EntityID),
		attribute.String("query.relation", req.RelationPattern),
		attribute.Int("query.max_hops", req.MaxHops),
		attribute.Int("query.result_limit", req.ResultLimit),
	)
	defer span.End()

	log := e.observe.Log().With().Str("query", r.id).Logger()

	if err := e.init(r); err != nil {
		log.Warn().Str("entity", req.EntityID).Err(err).Msg("query could not be seeded")
		e.publish(events.QueryError, r.id, map[string]any{"phase": string(PhaseInit), "error": err.Error()})
		span.RecordError(err)
		return nil, err
	}
	e.publish(events.QueryStart, r.id, map[string]any{
		"seed": r.seed, "relation": req.RelationPattern, "max_hops": req.MaxHops,
	})
	log.Debug().Str("seed", r.seed).Int("max_hops", req.MaxHops).Msg("query started")

	for r.hop < req.MaxHops && len(r.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			e.publish(events.QueryError, r.id, map[string]any{"phase": string(r.phase), "hop": r.hop, "error": err.Error()})
			return nil, goerr.Wrap(err, "query cancelled", goerr.V("hop", r.hop))
		}
		fresh, err := e.expand(ctx, r)
		if err != nil {
			e.publish(events.QueryError, r.id, map[string]any{"phase": string(r.phase), "hop": r.hop, "error": err.Error()})
			span.RecordError(err)
			return nil, err
		}
		if err := e.score(r, fresh); err != nil {
			e.publish(events.QueryError, r.id, map[string]any{"phase": string(r.phase), "hop": r.hop, "error": err.Error()})
			span.RecordError(err)
			return nil, err
		}
		log.Debug().Int("hop", r.hop).Int("candidates", len(fresh)).Int("frontier", len(r.frontier)).Msg("hop expanded")
	}

	r.phase = PhaseDone
	results := r.rank()

	written, err := e.writeBack(r, results)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	out := make([]Result, len(results))
	for i, c := range results {
		out[i] = Result{EntityID: c.id, Score: c.score, Similarity: c.sim, Bias: c.bias, Hop: c.hop}
	}

	span.SetAttributes(attribute.Int("query.results", len(out)), attribute.Int("query.visited", len(r.visited)))
	e.publish(events.QueryComplete, r.id, map[string]any{
		"seed": r.seed, "hops": r.hop, "visited": len(r.visited), "results": len(out), "written": written,
	})
	log.Info().Str("seed", r.seed).Int("hops", r.hop).Int("results", len(out)).Int("written", written).Msg("query complete")
	return out, nil
}

// QueryText embeds text with the configured embedder and runs a vector
// query. req.EntityID, if set, still picks the seed.
func (e *Engine) QueryText(ctx context.Context, text string, req Request) ([]Result, error) {
	if e.embedder == nil {
		return nil, goerr.New("no embedder configured for text queries")
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query text", goerr.V("embedder", e.embedder.Name()))
	}
	req.Vector = vec
	return e.Query(ctx, req)
}

func (e *Engine) checkGuard(req Request) error {
	if e.guard == nil {
		return nil
	}
	v := e.guard.CheckRequest(req.MaxHops, req.ResultLimit)
	if v == nil {
		v = e.guard.CheckRelation(req.RelationPattern)
	}
	if v == nil {
		return nil
	}
	e.publish(events.GuardViolation, "", map[string]any{"rule": v.Rule, "message": v.Message})
	return errs.Range("query rejected by policy", goerr.V("rule", v.Rule), goerr.V("reason", v.Message))
}

// init resolves the seed and the query vector.
func (e *Engine) init(r *run) error {
	req := r.req

	if req.Vector != nil && len(req.Vector) != e.emb.Dim() {
		return errs.Dimension("query vector width mismatch", e.emb.Dim(), len(req.Vector))
	}

	if req.EntityID != "" {
		node, err := e.graph.GetNode(req.EntityID)
		if err != nil {
			return err
		}
		r.seed = node.ID
		if req.Vector != nil {
			r.queryVec = vector.Clone(req.Vector)
		} else if r.queryVec, err = e.emb.Get(node.EmbeddingKey()); err != nil {
			return err
		}
	} else {
		matches, err := e.emb.Nearest(req.Vector, 1, e.graph.HasNode)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return errs.NotFound("no embedded node to seed the query")
		}
		r.seed = matches[0].ID
		r.queryVec = vector.Clone(req.Vector)
	}

	r.frontier = []string{r.seed}
	r.visited = map[string]struct{}{r.seed: {}}
	return nil
}

// expand moves one hop outward and returns the newly discovered candidates.
func (e *Engine) expand(ctx context.Context, r *run) ([]*candidate, error) {
	r.phase = PhaseExpand
	r.hop++

	_, span := e.observe.StartSpan(ctx, "engine.expand",
		attribute.String("query.id", r.id), attribute.Int("hop", r.hop), attribute.Int("frontier", len(r.frontier)))
	defer span.End()

	var fresh []*candidate
	var next []string
	for _, id := range r.frontier {
		for n := range e.graph.Neighbors(id, r.req.RelationPattern, r.req.Direction) {
			if _, seen := r.visited[n.ID]; seen {
				continue
			}
			r.visited[n.ID] = struct{}{}
			if e.guard != nil {
				if v := e.guard.CheckVisited(len(r.visited)); v != nil {
					e.publish(events.GuardViolation, r.id, map[string]any{"rule": v.Rule, "message": v.Message})
					return nil, errs.Range("query rejected by policy", goerr.V("rule", v.Rule), goerr.V("reason", v.Message))
				}
			}
			c := &candidate{id: n.ID, hop: r.hop, order: len(r.found) + len(fresh)}
			fresh = append(fresh, c)
			next = append(next, n.ID)
		}
	}
	r.frontier = next
	span.SetAttributes(attribute.Int("candidates", len(fresh)))

	e.publish(events.HopExpanded, r.id, map[string]any{"hop": r.hop, "candidates": len(fresh)})
	return fresh, nil
}

// score fills in similarity, bias and the combined score of each candidate.
// Candidates that vanished from the graph since expansion are dropped.
func (e *Engine) score(r *run, fresh []*candidate) error {
	r.phase = PhaseScore
	alpha := float32(r.req.Alpha)

	for _, c := range fresh {
		node, err := e.graph.GetNode(c.id)
		if errs.IsNotFound(err) {
			continue
		} else if err != nil {
			return err
		}

		vec, err := e.emb.Get(node.EmbeddingKey())
		switch {
		case errs.IsNotFound(err):
			// unembedded nodes stay reachable but score nothing
		case err != nil:
			return err
		default:
			c.vec = vec
			c.sim = vector.Cosine(r.queryVec, vec)
			if c.bias, err = e.bias(c.id, vec); err != nil {
				return err
			}
		}
		c.score = alpha*c.sim + (1-alpha)*c.bias
		r.found = append(r.found, c)
	}
	return nil
}

// bias is the read score of the candidate's own memory slot against vec,
// or 0 when the candidate owns no slot. Other slots neither contribute nor
// gain usage.
func (e *Engine) bias(id string, vec []float32) (float32, error) {
	hit, ok, err := e.mem.ReadSlot(id, vec)
	if err != nil || !ok {
		return 0, err
	}
	return hit.Score, nil
}

// rank orders candidates by score, ties by discovery order, and applies the
// result limit.
func (r *run) rank() []*candidate {
	ranked := slices.Clone(r.found)
	slices.SortFunc(ranked, func(a, b *candidate) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	if len(ranked) > r.req.ResultLimit {
		ranked = ranked[:r.req.ResultLimit]
	}
	return ranked
}

// writeBack reinforces the top results by blending the midpoint of the query
// and the result into the result's memory slot.
func (e *Engine) writeBack(r *run, results []*candidate) (int, error) {
	if r.req.WriteStrength == 0 || e.writeTopK == 0 {
		return 0, nil
	}
	written := 0
	for _, c := range results[:min(e.writeTopK, len(results))] {
		if c.vec == nil {
			continue
		}
		if _, err := e.mem.Write(c.id, vector.Mean(r.queryVec, c.vec), r.req.WriteStrength); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// RemoveNode deletes a node from the graph together with its memory slot, so
// no slot refers to a missing node. The embedding stored under the node's id
// goes too, unless another node still reads it through its EmbeddingRef.
func (e *Engine) RemoveNode(id string) bool {
	if !e.graph.RemoveNode(id) {
		return false
	}
	forgotten := e.mem.Forget(id)
	shared := e.graph.EmbeddingReferenced(id)
	if !shared {
		e.emb.Delete(id)
	}
	e.publish(events.NodeRemoved, "", map[string]any{"node": id, "slot_freed": forgotten, "embedding_kept": shared})
	return true
}
