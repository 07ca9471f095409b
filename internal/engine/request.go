package engine

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/felixgeelhaar/graphfusion/internal/errs"
	"github.com/felixgeelhaar/graphfusion/internal/graph"
)

// Request describes one retrieval. Either EntityID or Vector must be set.
type Request struct {
	// EntityID seeds the traversal. Its embedding is the query vector unless
	// Vector is also set.
	EntityID string
	// Vector is a free-form query embedding. Without EntityID the seed is the
	// graph node whose embedding is nearest to it.
	Vector []float32
	// RelationPattern filters edges; empty follows every relation.
	RelationPattern string
	Direction       graph.Direction
	MaxHops         int
	ResultLimit     int
	// Alpha weighs embedding similarity against memory bias.
	Alpha float64
	// WriteStrength gates the write-back into memory; 0 disables it.
	WriteStrength float64
}

// Result is one ranked entity.
type Result struct {
	EntityID   string
	Score      float32
	Similarity float32
	Bias       float32
	Hop        int
}

// DefaultRequest holds the parameters used when a caller only names an
// entity.
var DefaultRequest = Request{
	Direction:     graph.Out,
	MaxHops:       2,
	ResultLimit:   10,
	Alpha:         0.7,
	WriteStrength: 0.2,
}

// NewRequest returns DefaultRequest seeded at entityID.
func NewRequest(entityID string) Request {
	r := DefaultRequest
	r.EntityID = entityID
	return r
}

func (r Request) validate() error {
	if err := errs.Unit("alpha", r.Alpha); err != nil {
		return err
	}
	if err := errs.Unit("write_strength", r.WriteStrength); err != nil {
		return err
	}
	if r.MaxHops < 0 {
		return errs.Range("max_hops must not be negative", goerr.V("max_hops", r.MaxHops))
	}
	if r.ResultLimit < 1 {
		return errs.Range("result_limit must be at least 1", goerr.V("result_limit", r.ResultLimit))
	}
	if r.EntityID == "" && len(r.Vector) == 0 {
		return errs.Range("query needs an entity id or a vector")
	}
	if _, err := graph.ParseDirection(string(r.Direction)); err != nil {
		return err
	}
	return graph.ValidateRelation(r.RelationPattern)
}
