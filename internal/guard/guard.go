package guard

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Policy bounds what a single query may ask for. Zero limits are unbounded.
type Policy struct {
	MaxHops          int      `json:"max_hops" yaml:"max_hops"`
	MaxResults       int      `json:"max_results" yaml:"max_results"`
	MaxVisited       int      `json:"max_visited" yaml:"max_visited"`
	AllowedRelations []string `json:"allowed_relations" yaml:"allowed_relations"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxHops:          8,
	MaxResults:       100,
	MaxVisited:       10000,
	AllowedRelations: []string{"**"},
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
	Fatal   bool
}

func (v *Violation) Error() string {
	return v.Rule + ": " + v.Message
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckRequest verifies the requested hop count and result limit.
func (g *Guard) CheckRequest(maxHops, resultLimit int) *Violation {
	if g.policy.MaxHops > 0 && maxHops > g.policy.MaxHops {
		return &Violation{Rule: "max_hops", Message: fmt.Sprintf("hop limit %d exceeds %d", maxHops, g.policy.MaxHops), Fatal: true}
	}
	if g.policy.MaxResults > 0 && resultLimit > g.policy.MaxResults {
		return &Violation{Rule: "max_results", Message: fmt.Sprintf("result limit %d exceeds %d", resultLimit, g.policy.MaxResults), Fatal: true}
	}
	return nil
}

// CheckVisited reports a violation once a traversal has touched more nodes
// than the policy allows.
func (g *Guard) CheckVisited(visited int) *Violation {
	if g.policy.MaxVisited > 0 && visited > g.policy.MaxVisited {
		return &Violation{Rule: "max_visited", Message: fmt.Sprintf("traversal visited %d nodes, limit %d", visited, g.policy.MaxVisited), Fatal: true}
	}
	return nil
}

// CheckRelation verifies a requested relation pattern against the allowed
// globs. An empty pattern means "every relation" and is only allowed when a
// glob matches everything.
func (g *Guard) CheckRelation(pattern string) *Violation {
	if len(g.policy.AllowedRelations) == 0 {
		return nil
	}

	subject := pattern
	if subject == "" {
		subject = "**"
	}
	for _, allow := range g.policy.AllowedRelations {
		if allow == "*" || allow == "**" {
			return nil
		}
		match, err := doublestar.Match(allow, subject)
		if err == nil && match {
			return nil
		}
	}
	return &Violation{Rule: "allowed_relations", Message: "relation not allowed: " + pattern, Fatal: true}
}
