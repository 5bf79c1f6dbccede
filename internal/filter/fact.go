// Package filter selects facts by age, name and kind.
package filter

import (
	"path/filepath"
	"time"

	"github.com/dyluth/hive/pkg/knowledge"
)

// Criteria defines filtering criteria for facts.
// All filters are ANDed together - a fact must match ALL criteria to pass.
type Criteria struct {
	Since    time.Time        // Earliest UpdatedAt, zero = no filter
	Until    time.Time        // Latest UpdatedAt, zero = no filter
	NameGlob string           // Glob pattern for the fact name, empty = no filter
	Kinds    []knowledge.Kind // Accepted kinds, empty = no filter
	MinTruth float32          // Lowest truth value, 0 = no filter
}

// Matches returns true if the fact matches all filter criteria.
func (c *Criteria) Matches(f *knowledge.Fact) bool {
	if !c.Since.IsZero() && f.UpdatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && f.UpdatedAt.After(c.Until) {
		return false
	}

	if c.NameGlob != "" {
		matched, err := filepath.Match(c.NameGlob, f.Name)
		if err != nil || !matched {
			return false
		}
	}

	if len(c.Kinds) > 0 && !c.hasKind(f.Kind) {
		return false
	}

	return f.Truth >= c.MinTruth
}

func (c *Criteria) hasKind(k knowledge.Kind) bool {
	for _, want := range c.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return !c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.NameGlob != "" ||
		len(c.Kinds) > 0 ||
		c.MinTruth > 0
}

// Apply returns the facts that match, keeping their order.
func (c *Criteria) Apply(facts []knowledge.Fact) []knowledge.Fact {
	if !c.HasFilters() {
		return facts
	}
	out := make([]knowledge.Fact, 0, len(facts))
	for i := range facts {
		if c.Matches(&facts[i]) {
			out = append(out, facts[i])
		}
	}
	return out
}
