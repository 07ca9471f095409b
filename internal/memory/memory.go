// Package memory implements the dynamic memory module: a fixed arena of
// vector slots, each optionally bound to one graph node, with
// content-addressed reads and gated writes.
//
// Every read bumps the usage counter of the slots it returns. When a write
// needs a slot and none is free, the slot with the lowest usage is evicted;
// ties go to the slot written longest ago, then to the lowest index.
package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/felixgeelhaar/graphfusion/internal/errs"
	"github.com/felixgeelhaar/graphfusion/internal/events"
	"github.com/felixgeelhaar/graphfusion/internal/vector"
)

// Metric selects the read scoring function.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
)

// ParseMetric accepts "cosine" or "dot". The empty string means Cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", Cosine:
		return Cosine, nil
	case Dot:
		return Dot, nil
	}
	return "", errs.Range("unknown memory metric", goerr.V("metric", s))
}

func (m Metric) score(a, b []float32) float32 {
	if m == Dot {
		return vector.Dot(a, b)
	}
	return vector.Cosine(a, b)
}

// Slot is a copy of one arena position. NodeID is empty for a free slot.
type Slot struct {
	Index  int
	NodeID string
	Vector []float32
	Usage  int
	// Written is the store's write sequence at the last write into the slot.
	Written uint64
}

func (s Slot) Free() bool { return s.NodeID == "" }

// Hit is a Read result.
type Hit struct {
	Index  int
	NodeID string
	Score  float32
	Usage  int
}

// State is everything needed to rebuild a store exactly, usage counters and
// write order included.
type State struct {
	Dim      int
	Capacity int
	Metric   Metric
	Seq      uint64
	Slots    []Slot
}

// WriteOutcome describes what a Write did to the arena.
type WriteOutcome struct {
	Index int
	// Blended is true when the node already owned the slot.
	Blended bool
	// Evicted names the node whose slot was reused, if any.
	Evicted string
}

type slot struct {
	nodeID  string
	vec     []float32
	usage   int
	written uint64
}

// Store is the slot arena. Reads mutate usage counters, so every operation
// takes the same mutex.
type Store struct {
	mu       sync.Mutex
	dim      int
	metric   Metric
	slots    []slot
	index    map[string]int
	seq      uint64
	occupied int
	events   events.Publisher
}

// Option configures a Store.
type Option func(*Store)

// WithEvents publishes slot_written, slot_evicted and slot_forgotten events.
func WithEvents(p events.Publisher) Option {
	return func(s *Store) { s.events = p }
}

// New creates a store of exactly capacity slots of width dim.
func New(capacity, dim int, metric Metric, opts ...Option) (*Store, error) {
	if capacity < 1 {
		return nil, errs.Range("memory capacity must be positive", goerr.V("capacity", capacity))
	}
	if dim < 1 {
		return nil, errs.Range("memory dimension must be positive", goerr.V("dim", dim))
	}
	if metric == "" {
		metric = Cosine
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}

	s := &Store{
		dim:    dim,
		metric: metric,
		slots:  make([]slot, capacity),
		index:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Capacity() int  { return len(s.slots) }
func (s *Store) Dim() int       { return s.dim }
func (s *Store) Metric() Metric { return s.metric }

// Occupied returns the number of slots bound to a node.
func (s *Store) Occupied() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.occupied
}

// Read scores every occupied slot against query and returns the best topK,
// ties broken by lowest index. Each returned slot's usage grows by one.
func (s *Store) Read(query []float32, topK int) ([]Hit, error) {
	if len(query) != s.dim {
		return nil, errs.Dimension("read query width mismatch", s.dim, len(query))
	}
	if topK < 1 {
		return nil, errs.Range("topK must be at least 1", goerr.V("topK", topK))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]Hit, 0, s.occupied)
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.nodeID == "" {
			continue
		}
		hits = append(hits, Hit{Index: i, NodeID: sl.nodeID, Score: s.metric.score(query, sl.vec)})
	}

	// Stable sort over index order keeps the lowest index first on ties.
	slices.SortStableFunc(hits, func(a, b Hit) int { return cmp.Compare(b.Score, a.Score) })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	for i := range hits {
		sl := &s.slots[hits[i].Index]
		sl.usage++
		hits[i].Usage = sl.usage
	}
	return hits, nil
}

// ReadSlot is a read restricted to the slot bound to nodeID: it scores that
// slot against query and bumps its usage. It reports false, and changes
// nothing, when nodeID owns no slot.
func (s *Store) ReadSlot(nodeID string, query []float32) (Hit, bool, error) {
	if len(query) != s.dim {
		return Hit{}, false, errs.Dimension("read query width mismatch", s.dim, len(query), goerr.V("node", nodeID))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[nodeID]
	if !ok {
		return Hit{}, false, nil
	}
	sl := &s.slots[i]
	sl.usage++
	return Hit{Index: i, NodeID: nodeID, Score: s.metric.score(query, sl.vec), Usage: sl.usage}, true, nil
}

// Write stores vec for nodeID. A node that already owns a slot has its
// vector blended: new = (1-strength)*old + strength*vec. Otherwise the
// lowest free slot is taken, or the least used slot is evicted.
func (s *Store) Write(nodeID string, vec []float32, strength float64) (WriteOutcome, error) {
	if nodeID == "" {
		return WriteOutcome{}, errs.Range("node id must not be empty")
	}
	if err := errs.Unit("write_strength", strength); err != nil {
		return WriteOutcome{}, err
	}
	if len(vec) != s.dim {
		return WriteOutcome{}, errs.Dimension("write vector width mismatch", s.dim, len(vec), goerr.V("node", nodeID))
	}

	s.mu.Lock()
	out := s.write(nodeID, vec, float32(strength))
	usage := s.slots[out.Index].usage
	s.mu.Unlock()

	if s.events != nil {
		if out.Evicted != "" {
			s.events.Publish(events.Event{Type: events.SlotEvicted, Data: map[string]any{
				"slot": out.Index, "node": out.Evicted, "replacement": nodeID,
			}})
		}
		s.events.Publish(events.Event{Type: events.SlotWritten, Data: map[string]any{
			"slot": out.Index, "node": nodeID, "blended": out.Blended, "usage": usage, "strength": strength,
		}})
	}
	return out, nil
}

func (s *Store) write(nodeID string, vec []float32, strength float32) WriteOutcome {
	s.seq++

	if i, ok := s.index[nodeID]; ok {
		sl := &s.slots[i]
		vector.Blend(sl.vec, vec, strength)
		sl.usage++
		sl.written = s.seq
		return WriteOutcome{Index: i, Blended: true}
	}

	var out WriteOutcome
	i := s.freeSlot()
	if i < 0 {
		i = s.victim()
		out.Evicted = s.slots[i].nodeID
		delete(s.index, out.Evicted)
		s.occupied--
	}

	s.slots[i] = slot{nodeID: nodeID, vec: vector.Clone(vec), usage: 1, written: s.seq}
	s.index[nodeID] = i
	s.occupied++
	out.Index = i
	return out
}

func (s *Store) freeSlot() int {
	if s.occupied == len(s.slots) {
		return -1
	}
	for i := range s.slots {
		if s.slots[i].nodeID == "" {
			return i
		}
	}
	return -1
}

// victim picks the slot to evict when the arena is full.
func (s *Store) victim() int {
	best := 0
	for i := 1; i < len(s.slots); i++ {
		a, b := &s.slots[i], &s.slots[best]
		if a.usage < b.usage || (a.usage == b.usage && a.written < b.written) {
			best = i
		}
	}
	return best
}

// Forget frees the slot bound to nodeID and resets its usage. It reports
// whether a slot was freed.
func (s *Store) Forget(nodeID string) bool {
	s.mu.Lock()
	i, ok := s.index[nodeID]
	if ok {
		delete(s.index, nodeID)
		s.slots[i] = slot{}
		s.occupied--
	}
	s.mu.Unlock()

	if ok && s.events != nil {
		s.events.Publish(events.Event{Type: events.SlotForgotten, Data: map[string]any{
			"slot": i, "node": nodeID,
		}})
	}
	return ok
}

// Lookup returns the slot bound to nodeID without touching its usage.
func (s *Store) Lookup(nodeID string) (Slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[nodeID]
	if !ok {
		return Slot{}, false
	}
	return s.slotCopy(i), true
}

// Slots returns a copy of every slot in index order, free ones included.
func (s *Store) Slots() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Slot, len(s.slots))
	for i := range s.slots {
		out[i] = s.slotCopy(i)
	}
	return out
}

func (s *Store) slotCopy(i int) Slot {
	sl := s.slots[i]
	return Slot{Index: i, NodeID: sl.nodeID, Vector: vector.Clone(sl.vec), Usage: sl.usage, Written: sl.written}
}

// State captures the store for persistence.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]Slot, len(s.slots))
	for i := range s.slots {
		slots[i] = s.slotCopy(i)
	}
	return State{Dim: s.dim, Capacity: len(s.slots), Metric: s.metric, Seq: s.seq, Slots: slots}
}

// Restore replaces the store's contents with st. Capacity, width and metric
// must match; st is checked fully before anything changes. An empty metric
// in st means Cosine.
func (s *Store) Restore(st State) error {
	if st.Capacity != len(s.slots) {
		return errs.Range("snapshot capacity differs from store",
			goerr.V("want", len(s.slots)), goerr.V("got", st.Capacity))
	}
	if st.Dim != s.dim {
		return errs.Dimension("snapshot width differs from store", s.dim, st.Dim)
	}
	metric, err := ParseMetric(string(st.Metric))
	if err != nil {
		return err
	}
	if metric != s.metric {
		return errs.Conflict("snapshot metric differs from store",
			goerr.V("want", string(s.metric)), goerr.V("got", string(st.Metric)))
	}

	slots := make([]slot, len(s.slots))
	index := make(map[string]int)
	seq := st.Seq
	for _, in := range st.Slots {
		if in.Index < 0 || in.Index >= len(slots) {
			return errs.Range("slot index out of bounds", goerr.V("index", in.Index))
		}
		if in.NodeID == "" {
			continue
		}
		if len(in.Vector) != s.dim {
			return errs.Dimension("slot vector width mismatch", s.dim, len(in.Vector), goerr.V("index", in.Index))
		}
		if in.Usage < 0 {
			return errs.Range("slot usage must not be negative", goerr.V("index", in.Index))
		}
		if j, dup := index[in.NodeID]; dup && j != in.Index {
			return errs.Conflict("node bound to more than one slot", goerr.V("node", in.NodeID))
		}
		if slots[in.Index].nodeID != "" {
			return errs.Conflict("slot listed twice", goerr.V("index", in.Index))
		}
		slots[in.Index] = slot{nodeID: in.NodeID, vec: vector.Clone(in.Vector), usage: in.Usage, written: in.Written}
		index[in.NodeID] = in.Index
		seq = max(seq, in.Written)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = slots
	s.index = index
	s.seq = seq
	s.occupied = len(index)
	return nil
}
