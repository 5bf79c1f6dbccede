package knowledge

import (
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a clock frozen at t plus a setter for moving it.
func fixedClock(t time.Time) (func() time.Time, func(time.Time)) {
	current := t
	return func() time.Time { return current }, func(n time.Time) { current = n }
}

func TestUpsert(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock, _ := fixedClock(start)

	t.Run("creates fact with defaults", func(t *testing.T) {
		s := NewStore(WithClock(clock))
		f, err := s.Upsert(KindConcept, "health")
		require.NoError(t, err)

		assert.Equal(t, uint32(1), f.ID)
		assert.Equal(t, KindConcept, f.Kind)
		assert.Equal(t, "health", f.Name)
		assert.Equal(t, DefaultTruth, f.Truth)
		assert.Equal(t, DefaultConfidence, f.Confidence)
		assert.Equal(t, DefaultImportance, f.Importance)
		assert.Equal(t, start, f.CreatedAt)
		assert.Equal(t, start, f.UpdatedAt)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("existing name bumps importance instead of duplicating", func(t *testing.T) {
		s := NewStore(WithClock(clock))
		first, err := s.Upsert(KindConcept, "network")
		require.NoError(t, err)
		second, err := s.Upsert(KindPredicate, "network")
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, 1, s.Len())
		assert.InDelta(t, 1.1, second.Importance, 1e-6)
		assert.Equal(t, KindConcept, second.Kind, "kind of an existing fact is kept")
	})

	t.Run("rejects invalid names", func(t *testing.T) {
		s := NewStore()
		_, err := s.Upsert(KindNode, "")
		assert.ErrorIs(t, err, ErrInvalidName)

		_, err = s.Upsert(KindNode, strings.Repeat("x", MaxNameLen+1))
		assert.ErrorIs(t, err, ErrInvalidName)

		_, err = s.Upsert(KindNode, strings.Repeat("x", MaxNameLen))
		assert.NoError(t, err)
	})

	t.Run("rejects unknown kinds", func(t *testing.T) {
		s := NewStore()
		_, err := s.Upsert(Kind(9), "mystery")
		assert.ErrorIs(t, err, ErrInvalidKind)
	})
}

// TestUpsertUniqueness drives a mixed sequence of names through Upsert and
// checks that no name ever maps to more than one fact.
func TestUpsertUniqueness(t *testing.T) {
	s := NewStore()
	names := []string{"self", "identity", "health", "network", "self", "health", "capability_1"}
	for round := 0; round < 20; round++ {
		for i, name := range names {
			_, err := s.Upsert(Kind(i%5), fmt.Sprintf("%s_%d", name, round%3))
			require.NoError(t, err)
		}
	}

	seen := make(map[string]uint32)
	ids := make(map[uint32]bool)
	for _, f := range s.Facts() {
		_, dup := seen[f.Name]
		assert.False(t, dup, "duplicate fact name %q", f.Name)
		seen[f.Name] = f.ID
		assert.False(t, ids[f.ID], "duplicate fact id %d", f.ID)
		ids[f.ID] = true
	}
	assert.Equal(t, 5*3, s.Len())
}

func TestMerge(t *testing.T) {
	at := time.Unix(1_700_000_100, 0)

	tests := []struct {
		name                   string
		t1, c1, t2, c2         float32
		wantTruth, wantConf    float32
		truthUnchangedExpected bool
	}{
		{name: "documented example", t1: 0.5, c1: 0.5, t2: 0.9, c2: 0.9, wantTruth: 1.06 / 1.4, wantConf: 0.7},
		{name: "equal weights average", t1: 0.2, c1: 0.4, t2: 0.8, c2: 0.4, wantTruth: 0.5, wantConf: 0.4},
		{name: "confidence is capped at one", t1: 1, c1: 1, t2: 0, c2: 1, wantTruth: 0.5, wantConf: 1},
		{name: "zero incoming confidence keeps truth", t1: 0.3, c1: 0.6, t2: 1, c2: 0, wantTruth: 0.3, wantConf: 0.3},
		{name: "both confidences zero is a no-op", t1: 0.42, c1: 0, t2: 0.9, c2: 0, wantTruth: 0.42, wantConf: 0, truthUnchangedExpected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Fact{Truth: tt.t1, Confidence: tt.c1}
			f.Merge(tt.t2, tt.c2, at)

			assert.InDelta(t, tt.wantTruth, f.Truth, 1e-6)
			assert.InDelta(t, tt.wantConf, f.Confidence, 1e-6)
			assert.Equal(t, at, f.UpdatedAt)
			if tt.truthUnchangedExpected {
				assert.Equal(t, tt.t1, f.Truth)
			}
		})
	}
}

// TestMergeWeightedAverageGrid checks the blend formula over a grid of
// readings rather than a handful of hand-picked cases.
func TestMergeWeightedAverageGrid(t *testing.T) {
	steps := []float32{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1}
	for _, t1 := range steps {
		for _, c1 := range steps {
			for _, t2 := range steps {
				for _, c2 := range steps {
					f := &Fact{Truth: t1, Confidence: c1}
					f.Merge(t2, c2, time.Time{})
					if c1+c2 == 0 {
						assert.Equal(t, t1, f.Truth)
						continue
					}
					want := (float64(t1)*float64(c1) + float64(t2)*float64(c2)) / float64(c1+c2)
					assert.InDelta(t, want, float64(f.Truth), 1e-5)
					assert.InDelta(t, math.Min(1, float64(c1+c2)/2), float64(f.Confidence), 1e-6)
				}
			}
		}
	}
}

func TestLearn(t *testing.T) {
	clock, set := fixedClock(time.Unix(1_700_000_000, 0))
	s := NewStore(WithClock(clock))

	later := time.Unix(1_700_000_050, 0)
	set(later)
	f, err := s.Learn(KindConcept, "security_threat_detected", 0.9, 0.95)
	require.NoError(t, err)
	assert.InDelta(t, (0.25+0.9*0.95)/1.45, f.Truth, 1e-6)
	assert.InDelta(t, 0.725, f.Confidence, 1e-6)
	assert.Equal(t, later, f.UpdatedAt)

	_, err = s.Learn(KindConcept, "bad", 1.5, 0.5)
	assert.ErrorIs(t, err, ErrOutOfRange)
	_, ok := s.Find("bad")
	assert.False(t, ok)
}

func TestFactsOrdering(t *testing.T) {
	clock, set := fixedClock(time.Unix(100, 0))
	s := NewStore(WithClock(clock))

	_, err := s.Upsert(KindNode, "a")
	require.NoError(t, err)
	set(time.Unix(200, 0))
	_, err = s.Upsert(KindNode, "b")
	require.NoError(t, err)
	_, err = s.Upsert(KindNode, "c")
	require.NoError(t, err)

	facts := s.Facts()
	require.Len(t, facts, 3)
	assert.Equal(t, "b", facts[0].Name)
	assert.Equal(t, "c", facts[1].Name)
	assert.Equal(t, "a", facts[2].Name)
}

func TestRestore(t *testing.T) {
	s := NewStore()
	_, err := s.Upsert(KindConcept, "self")
	require.NoError(t, err)

	snap := []Fact{
		{ID: 40, Kind: KindConcept, Name: "self", Truth: 0.1, Confidence: 0.1, Importance: 5},
		{ID: 41, Kind: KindNode, Name: "peer_1002", Truth: 0.8, Confidence: 0.6, Importance: 2, UpdatedAt: time.Unix(10, 0)},
	}
	added, err := s.Restore(snap)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	self, _ := s.Find("self")
	assert.Equal(t, DefaultTruth, self.Truth, "existing facts are not overwritten")

	peer, ok := s.Find("peer_1002")
	require.True(t, ok)
	assert.Equal(t, uint32(2), peer.ID, "ids are reassigned locally")
	assert.Equal(t, float32(0.8), peer.Truth)
	assert.Equal(t, time.Unix(10, 0), peer.UpdatedAt)

	_, err = s.Restore([]Fact{{Name: "broken", Truth: 2}})
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestParseKind(t *testing.T) {
	for k := KindNode; k <= KindEvaluation; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("atom")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
