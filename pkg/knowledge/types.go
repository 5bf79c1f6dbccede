package knowledge

import (
	"errors"
	"fmt"
	"time"
)

// MaxNameLen is the longest fact name, in bytes, that a store or packet accepts.
const MaxNameLen = 256

// Defaults applied to a fact the first time its name is referenced.
const (
	DefaultTruth      float32 = 0.5
	DefaultConfidence float32 = 0.5
	DefaultImportance float32 = 1.0

	// ImportanceStep is added to an existing fact each time it is referenced again.
	ImportanceStep float32 = 0.1
)

var (
	// ErrInvalidName is returned for empty names or names longer than MaxNameLen.
	ErrInvalidName = errors.New("knowledge: invalid fact name")

	// ErrInvalidKind is returned for kind ordinals outside the known set.
	ErrInvalidKind = errors.New("knowledge: invalid fact kind")

	// ErrOutOfRange is returned when truth, confidence or importance fall outside their domain.
	ErrOutOfRange = errors.New("knowledge: value out of range")
)

// Kind classifies a fact. Ordinals are part of the wire format.
type Kind uint8

const (
	// KindNode is a fact about an entity (a host, a service, a peer).
	KindNode Kind = iota

	// KindLink is a fact relating two or more entities.
	KindLink

	// KindConcept is an abstract notion such as "health" or "network".
	KindConcept

	// KindPredicate is a named property that can hold or not hold.
	KindPredicate

	// KindEvaluation is the result of applying a predicate.
	KindEvaluation
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindLink:
		return "link"
	case KindConcept:
		return "concept"
	case KindPredicate:
		return "predicate"
	case KindEvaluation:
		return "evaluation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Validate checks that the kind is a known ordinal.
func (k Kind) Validate() error {
	if k > KindEvaluation {
		return fmt.Errorf("%w: %d", ErrInvalidKind, uint8(k))
	}
	return nil
}

// ParseKind maps a kind name back to its ordinal.
func ParseKind(s string) (Kind, error) {
	for k := KindNode; k <= KindEvaluation; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Fact is a named, typed piece of knowledge with a probabilistic truth value.
type Fact struct {
	ID         uint32    `json:"id"`         // Store-local identifier, never sent on the wire
	Kind       Kind      `json:"kind"`       // Classification of the fact
	Name       string    `json:"name"`       // Unique key within a store
	Truth      float32   `json:"truth"`      // Degree of belief in [0,1]
	Confidence float32   `json:"confidence"` // Weight of the truth value in [0,1]
	Importance float32   `json:"importance"` // Unbounded attention score, >= 0
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Merge blends a new reading into the fact using a confidence-weighted
// average. When both confidences are zero the truth value is left alone.
// UpdatedAt is always moved to at.
func (f *Fact) Merge(truth, confidence float32, at time.Time) {
	total := f.Confidence + confidence
	if total > 0 {
		f.Truth = (f.Truth*f.Confidence + truth*confidence) / total
		f.Confidence = total / 2
		if f.Confidence > 1 {
			f.Confidence = 1
		}
	}
	f.UpdatedAt = at
}

// Age reports how long ago the fact was last updated.
func (f *Fact) Age(now time.Time) time.Duration {
	return now.Sub(f.UpdatedAt)
}

// Validate checks the fact's name, kind and value ranges.
func (f *Fact) Validate() error {
	if err := ValidateName(f.Name); err != nil {
		return err
	}
	if err := f.Kind.Validate(); err != nil {
		return err
	}
	if !unit(f.Truth) {
		return fmt.Errorf("%w: truth %v", ErrOutOfRange, f.Truth)
	}
	if !unit(f.Confidence) {
		return fmt.Errorf("%w: confidence %v", ErrOutOfRange, f.Confidence)
	}
	if !(f.Importance >= 0) {
		return fmt.Errorf("%w: importance %v", ErrOutOfRange, f.Importance)
	}
	return nil
}

// ValidateName checks that a fact name is non-empty and at most MaxNameLen bytes.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidName, len(name), MaxNameLen)
	}
	return nil
}

// unit reports whether v lies in [0,1]. NaN is rejected.
func unit(v float32) bool {
	return v >= 0 && v <= 1
}
