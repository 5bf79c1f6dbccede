package knowledge

import (
	"fmt"
	"sort"
	"time"
)

// Store is a per-node mapping of fact name to Fact.
// It is not safe for concurrent use; see the package documentation.
type Store struct {
	facts  map[string]*Fact
	nextID uint32
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the store's time source. Used by tests and simulations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		facts:  make(map[string]*Fact),
		nextID: 1,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert returns the fact called name, creating it with default truth,
// confidence and importance if it does not exist yet. Referencing an
// existing fact raises its importance by ImportanceStep; its kind is kept.
func (s *Store) Upsert(kind Kind, name string) (*Fact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if existing, ok := s.facts[name]; ok {
		existing.Importance += ImportanceStep
		return existing, nil
	}
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	f := &Fact{
		ID:         s.nextID,
		Kind:       kind,
		Name:       name,
		Truth:      DefaultTruth,
		Confidence: DefaultConfidence,
		Importance: DefaultImportance,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++
	s.facts[name] = f
	return f, nil
}

// Find looks a fact up by name without touching its importance.
func (s *Store) Find(name string) (*Fact, bool) {
	f, ok := s.facts[name]
	return f, ok
}

// Learn upserts a fact and merges a reading into it in one step.
func (s *Store) Learn(kind Kind, name string, truth, confidence float32) (*Fact, error) {
	if !unit(truth) || !unit(confidence) {
		return nil, fmt.Errorf("%w: truth=%v confidence=%v", ErrOutOfRange, truth, confidence)
	}
	f, err := s.Upsert(kind, name)
	if err != nil {
		return nil, err
	}
	f.Merge(truth, confidence, s.now())
	return f, nil
}

// Len returns the number of facts in the store.
func (s *Store) Len() int {
	return len(s.facts)
}

// Facts returns the store's facts, most recently updated first.
// Ties are broken by ID so the order is deterministic.
func (s *Store) Facts() []*Fact {
	out := make([]*Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot returns value copies of every fact, ordered by ID.
func (s *Store) Snapshot() []Fact {
	out := make([]Fact, 0, len(s.facts))
	for _, f := range s.facts {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Restore loads previously snapshotted facts. Facts whose name is already
// present are skipped so names stay unique. IDs are reassigned locally.
// Returns the number of facts added.
func (s *Store) Restore(facts []Fact) (int, error) {
	added := 0
	for i := range facts {
		f := facts[i]
		if err := f.Validate(); err != nil {
			return added, fmt.Errorf("snapshot fact %q: %w", f.Name, err)
		}
		if _, exists := s.facts[f.Name]; exists {
			continue
		}
		f.ID = s.nextID
		s.nextID++
		if f.CreatedAt.IsZero() {
			f.CreatedAt = s.now()
		}
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = f.CreatedAt
		}
		s.facts[f.Name] = &f
		added++
	}
	return added, nil
}
