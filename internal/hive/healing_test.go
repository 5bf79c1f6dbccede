package hive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hive/internal/topology"
	"github.com/dyluth/hive/internal/transport/loopback"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

func TestCoordinateHealingEscalationPolicy(t *testing.T) {
	tests := []struct {
		name          string
		action        healing.Action
		wantEscalated bool
	}{
		{"none escalates", healing.ActionNone, true},
		{"retry escalates", healing.ActionRetry, true},
		{"reroute is handled locally", healing.ActionReroute, false},
		{"reconstruct is handled locally", healing.ActionReconstruct, false},
		{"migrate is handled locally", healing.ActionMigrate, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{action: tt.action, confidence: 0.3}
			c, tr, _ := newTestCoordinator(t, WithOracle(oracle))

			out, err := c.CoordinateHealing(context.Background(), "disk latency spike", 0.8)
			require.NoError(t, err)
			assert.Equal(t, tt.action, out.Action)
			assert.Equal(t, float32(0.3), out.Confidence)
			assert.Equal(t, tt.wantEscalated, out.Escalated)

			requests := tr.ofType(wire.TypeHealingRequest)
			if !tt.wantEscalated {
				assert.Empty(t, tr.sent)
				assert.Nil(t, out.Request)
				return
			}

			require.Len(t, requests, 1)
			assert.True(t, requests[0].IsBroadcast())
			req, err := wire.DecodeRequest(requests[0].Payload)
			require.NoError(t, err)
			assert.Equal(t, uint32(1), req.ProblemID)
			assert.Equal(t, "disk latency spike", req.Description)
			assert.Equal(t, float32(0.8), req.Severity)
			assert.Equal(t, uint32(1001), req.RequestingNode)
			assert.Equal(t, tt.action, req.SuggestedAction)
			assert.Equal(t, epoch, req.RequestedAt)
			assert.Equal(t, req, *out.Request)
		})
	}
}

func TestCoordinateHealingWithoutOracle(t *testing.T) {
	c, tr, _ := newTestCoordinator(t)
	_, err := c.CoordinateHealing(context.Background(), "timeout", 0.8)
	assert.ErrorIs(t, err, healing.ErrDependencyMissing)
	assert.Zero(t, tr.calls)
}

func TestCoordinateHealingValidation(t *testing.T) {
	ids := &healing.IDGenerator{}
	c, tr, _ := newTestCoordinator(t, WithOracle(&fakeOracle{action: healing.ActionRetry}), WithIDGenerator(ids))

	_, err := c.CoordinateHealing(context.Background(), strings.Repeat("x", healing.MaxDescriptionLen+1), 0.8)
	assert.True(t, wire.IsValidation(err))
	assert.ErrorIs(t, err, healing.ErrInvalidRequest)

	_, err = c.CoordinateHealing(context.Background(), "timeout", 1.5)
	assert.ErrorIs(t, err, healing.ErrInvalidRequest)

	assert.Zero(t, tr.calls)
	assert.Equal(t, uint32(1), ids.Next(), "rejected requests do not consume problem ids")
}

func TestProblemIDsAreSharedAcrossCoordinators(t *testing.T) {
	ids := &healing.IDGenerator{}
	a, _, _ := newTestCoordinator(t, WithOracle(&fakeOracle{}), WithIDGenerator(ids))
	b, _, _ := newTestCoordinator(t, WithOracle(&fakeOracle{}), WithIDGenerator(ids))

	first, err := a.CoordinateHealing(context.Background(), "p1", 0.5)
	require.NoError(t, err)
	second, err := b.CoordinateHealing(context.Background(), "p2", 0.5)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.Request.ProblemID)
	assert.Equal(t, uint32(2), second.Request.ProblemID)
}

func TestRespondToHealingRequestUnroutable(t *testing.T) {
	c, _, _ := newTestCoordinator(t, WithOracle(&fakeOracle{action: healing.ActionRetry}))
	bus := loopback.New(4)
	defer bus.Close()
	c.transport = bus

	resp, err := c.RespondToHealingRequest(context.Background(), healing.Request{ProblemID: 9, Description: "timeout", RequestingNode: 4242})
	assert.NoError(t, err, "unreachable requester is dropped, not an error")
	assert.Equal(t, uint32(9), resp.ProblemID)
}

// node bundles a coordinator with its loopback subscription.
type node struct {
	c   *Coordinator
	sub interface{ Frames() <-chan []byte }
}

// pump dispatches every frame already waiting in n's inbox.
func (n node) pump(t *testing.T) {
	t.Helper()
	for {
		select {
		case frame := <-n.sub.Frames():
			require.NoError(t, n.c.DispatchFrame(context.Background(), frame))
		default:
			return
		}
	}
}

func TestCollectiveHealingOverLoopback(t *testing.T) {
	ctx := context.Background()
	bus := loopback.New(16)
	defer bus.Close()
	ids := &healing.IDGenerator{}

	var responses []healing.Response
	mk := func(id uint32, oracle healing.Oracle, opts ...Option) node {
		sub, err := bus.Subscribe(ctx, id)
		require.NoError(t, err)
		all := append([]Option{WithOracle(oracle), WithIDGenerator(ids), WithTopology(topology.NewView())}, opts...)
		c, err := New(id, knowledge.NewStore(), bus, all...)
		require.NoError(t, err)
		return node{c: c, sub: sub}
	}

	// The requester knows nothing about this failure; its peers do.
	requester := mk(1001, healing.MustNewRuleOracle(), OnHealingResponse(func(r healing.Response) { responses = append(responses, r) }))
	helper := mk(1002, healing.MustNewRuleOracle(healing.DefaultRules()...))
	expert := mk(1003, healing.MustNewRuleOracle(healing.Rule{Condition: "connection_failed", Action: healing.ActionReroute, Confidence: 1}))

	out, err := requester.c.CoordinateHealing(ctx, "connection_failed to storage", 0.8)
	require.NoError(t, err)
	require.True(t, out.Escalated)
	assert.Equal(t, healing.ActionRetry, out.Action)

	requester.pump(t) // own echo, ignored
	helper.pump(t)
	expert.pump(t)
	requester.pump(t)

	require.Len(t, responses, 2)
	byNode := map[uint32]healing.Response{}
	for _, r := range responses {
		assert.Equal(t, out.Request.ProblemID, r.ProblemID)
		byNode[r.RespondingNode] = r
	}
	assert.Equal(t, healing.ActionReroute, byNode[1002].RecommendedAction)
	assert.InDelta(t, 0.4, byNode[1002].Confidence, 1e-6)
	assert.Equal(t, healing.ActionReroute, byNode[1003].RecommendedAction)
	assert.InDelta(t, 0.5, byNode[1003].Confidence, 1e-6)
}

func TestKnowledgePropagatesOverLoopback(t *testing.T) {
	ctx := context.Background()
	bus := loopback.New(16)
	defer bus.Close()

	subA, err := bus.Subscribe(ctx, 1)
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, 2)
	require.NoError(t, err)

	now := epoch
	clock := func() time.Time { return now }
	a, err := New(1, knowledge.NewStore(knowledge.WithClock(clock)), bus, WithClock(clock))
	require.NoError(t, err)
	b, err := New(2, knowledge.NewStore(knowledge.WithClock(clock)), bus, WithClock(clock))
	require.NoError(t, err)

	_, err = a.Store().Learn(knowledge.KindConcept, "security_threat_detected", 0.9, 0.95)
	require.NoError(t, err)

	require.NoError(t, a.Tick(ctx, now))
	node{c: a, sub: subA}.pump(t)
	node{c: b, sub: subB}.pump(t)

	f, ok := b.Store().Find("security_threat_detected")
	require.True(t, ok, "fact reached the peer")
	assert.Greater(t, f.Truth, float32(0.5))
	_, ok = b.Store().Find("collective_health_0.50")
	assert.False(t, ok, "only one fact is shared per tick")
}
