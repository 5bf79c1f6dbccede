package simulate

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hive/internal/printer"
	"github.com/dyluth/hive/pkg/healing"
)

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSwarm(t *testing.T, nodes, rounds int) *Swarm {
	t.Helper()
	s, err := NewSwarm(context.Background(), Config{Nodes: nodes, Rounds: rounds, Start: start}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"too few nodes", Config{Nodes: 2, Rounds: 1}, "nodes must be between"},
		{"too many nodes", Config{Nodes: MaxNodes + 1, Rounds: 1}, "nodes must be between"},
		{"no rounds", Config{Nodes: 3}, "rounds must be between"},
		{"step too small", Config{Nodes: 3, Rounds: 1, Step: time.Millisecond}, "step must be at least"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := Config{Nodes: 3, Rounds: 1}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Step)
	assert.False(t, cfg.Start.IsZero())
}

func TestRoundPopulatesTopology(t *testing.T) {
	s := newSwarm(t, 4, 1)
	require.NoError(t, s.Round(context.Background()))

	assert.Equal(t, start.Add(30*time.Second), s.Now())
	for _, n := range s.Nodes() {
		assert.Equal(t, 3, n.Topology.Len(), "node %d hears every peer", n.ID)
		assert.InDelta(t, 1.0, n.Coord.State().NetworkHealth, 1e-6)
	}
}

func TestFailStopsTrafficToNode(t *testing.T) {
	ctx := context.Background()
	s := newSwarm(t, 3, 1)
	require.NoError(t, s.Round(ctx))

	require.NoError(t, s.Fail(1002, 0.1))
	assert.True(t, s.Node(1002).Down())
	assert.Equal(t, float32(0.1), s.Node(1002).Oracle.LocalHealth())

	sent := s.Node(1002).Coord.Sequence()
	require.NoError(t, s.Round(ctx))
	assert.Equal(t, sent, s.Node(1002).Coord.Sequence(), "failed nodes do not tick")

	// 1003 is still healthy; 1002 no longer counts towards 1001's view.
	assert.InDelta(t, 1.0, s.Node(1001).Coord.State().NetworkHealth, 1e-6)
	assert.Error(t, s.Fail(42, 0))
}

func TestNodeLookup(t *testing.T) {
	s := newSwarm(t, 3, 1)
	assert.Nil(t, s.Node(1000))
	assert.Nil(t, s.Node(1004))
	require.NotNil(t, s.Node(1003))
	assert.Equal(t, uint32(1003), s.Node(1003).ID)
}

func TestRunScenario(t *testing.T) {
	color.NoColor = true
	s := newSwarm(t, 3, 2)
	var out bytes.Buffer
	p := printer.New(&out, &out)

	rep, err := Run(context.Background(), s, p)
	require.NoError(t, err)

	assert.Equal(t, []uint32{1001, 1002, 1003}, rep.Reached)

	// The first node has no rules of its own; both peers know a reroute
	// and the one with the better track record wins.
	require.Len(t, rep.Responses, 2)
	assert.Equal(t, uint32(1002), rep.Responses[0].RespondingNode)
	assert.InDelta(t, 0.4, rep.Responses[0].Confidence, 1e-6)
	assert.Equal(t, uint32(1003), rep.Responses[1].RespondingNode)
	assert.InDelta(t, 0.8*2.0/3.0, rep.Responses[1].Confidence, 1e-6)
	for _, r := range rep.Responses {
		assert.Equal(t, healing.ActionReroute, r.RecommendedAction)
	}
	assert.Equal(t, 1, rep.Best)

	assert.InDelta(t, 1.0, rep.HealthBefore, 1e-6)
	assert.InDelta(t, 0.0, rep.HealthFailed, 1e-6)
	assert.InDelta(t, 0.0, rep.HealthExpired, 1e-6)
	assert.Equal(t, 2, rep.Unanswered)

	require.Len(t, rep.Final, 3)
	assert.Equal(t, uint32(1001), rep.Final[0].NodeID)

	text := out.String()
	assert.Contains(t, text, "Knowledge sharing")
	assert.Contains(t, text, "node 1002 received security_threat_detected")
	assert.Contains(t, text, "Adopted reroute from node 1003")
	assert.Contains(t, text, "network health dropped to 0.00")
	assert.Contains(t, text, "Emergent behavior")
	assert.Contains(t, text, "Node 1003")
}

func TestRunScenarioLargerSwarm(t *testing.T) {
	color.NoColor = true
	s := newSwarm(t, 6, 1)
	var out bytes.Buffer

	rep, err := Run(context.Background(), s, printer.New(&out, &out))
	require.NoError(t, err)

	assert.Len(t, rep.Reached, 6)
	require.Len(t, rep.Responses, 5)
	assert.Equal(t, uint32(1006), rep.Responses[rep.Best].RespondingNode)

	// Three healthy peers remain, so the network survives the failure.
	assert.InDelta(t, 1.0, rep.HealthFailed, 1e-6)
	assert.Zero(t, rep.Unanswered)
}
