// Package simulate runs a whole swarm inside one process on a loopback bus
// and a virtual clock, walking it through knowledge sharing, collective
// healing, a network failure and the emergent state that follows.
//
// Everything runs on the caller's goroutine: a round advances the clock,
// ticks every live node and then delivers frames until the bus is quiet.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyluth/hive/internal/hive"
	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/internal/topology"
	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/internal/transport/loopback"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
)

const (
	// FirstNodeID is the ID of the first simulated node; the rest follow on.
	FirstNodeID uint32 = 1001

	MinNodes  = 3
	MaxNodes  = 256
	MaxRounds = 1000

	swarmName = "simulation"

	// maxSettlePasses bounds how often frames are redelivered in one round.
	maxSettlePasses = 32
)

// Config sizes a simulation.
type Config struct {
	Nodes  int
	Rounds int           // Rounds run per phase
	Step   time.Duration // Virtual time per round; defaults to the heartbeat interval
	Start  time.Time     // Virtual start time; defaults to now
}

// Validate fills defaults and checks bounds.
func (c *Config) Validate() error {
	if c.Nodes < MinNodes || c.Nodes > MaxNodes {
		return fmt.Errorf("nodes must be between %d and %d, got %d", MinNodes, MaxNodes, c.Nodes)
	}
	if c.Rounds < 1 || c.Rounds > MaxRounds {
		return fmt.Errorf("rounds must be between 1 and %d, got %d", MaxRounds, c.Rounds)
	}
	if c.Step == 0 {
		c.Step = hive.DefaultSettings().HeartbeatInterval
	}
	if c.Step < time.Second {
		return fmt.Errorf("step must be at least 1s, got %s", c.Step)
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC().Truncate(time.Second)
	}
	return nil
}

// clock is the swarm's virtual time.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// Node is one simulated member of the swarm.
type Node struct {
	ID       uint32
	Coord    *hive.Coordinator
	Oracle   *healing.RuleOracle
	Topology *topology.View

	sub       transport.Subscription
	responses []healing.Response
	down      bool
}

// Down reports whether the node has been failed.
func (n *Node) Down() bool { return n.down }

// Responses returns the healing responses this node has received so far.
func (n *Node) Responses() []healing.Response { return n.responses }

// Swarm is a set of nodes sharing one loopback bus and one clock.
type Swarm struct {
	cfg   Config
	bus   *loopback.Bus
	clock *clock
	nodes []*Node
	log   zerolog.Logger
}

// NewSwarm builds and subscribes cfg.Nodes nodes. The first node starts
// with no healing rules, so every problem it sees is weak locally and gets
// escalated. Every other node knows the default rules and has a growing
// track record with them.
func NewSwarm(ctx context.Context, cfg Config, log zerolog.Logger) (*Swarm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buffer := cfg.Nodes * 8
	if buffer < transport.DefaultBuffer {
		buffer = transport.DefaultBuffer
	}
	s := &Swarm{
		cfg:   cfg,
		bus:   loopback.New(buffer),
		clock: &clock{now: cfg.Start},
		log:   log,
	}
	ids := &healing.IDGenerator{}

	for i := 0; i < cfg.Nodes; i++ {
		id := FirstNodeID + uint32(i)
		oracle := healing.MustNewRuleOracle()
		if i > 0 {
			oracle = healing.MustNewRuleOracle(healing.DefaultRules()...)
			seedExperience(oracle, i)
		}
		n := &Node{
			ID:       id,
			Oracle:   oracle,
			Topology: topology.NewView(topology.WithClock(s.clock.Now)),
		}

		sub, err := s.bus.Subscribe(ctx, id)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to subscribe node %d: %w", id, err)
		}
		n.sub = sub

		coord, err := hive.New(id, knowledge.NewStore(knowledge.WithClock(s.clock.Now)), s.bus,
			hive.WithOracle(oracle),
			hive.WithTopology(n.Topology),
			hive.WithIDGenerator(ids),
			hive.WithClock(s.clock.Now),
			hive.WithLogger(logging.ForNode(log, "coordinator", id, swarmName)),
			hive.OnHealingResponse(func(r healing.Response) { n.responses = append(n.responses, r) }),
		)
		if err != nil {
			s.Close()
			return nil, err
		}
		n.Coord = coord
		s.nodes = append(s.nodes, n)
	}
	return s, nil
}

// seedExperience gives the node at index i a record of i successful
// reroutes and one failed one, so later nodes are more sure of themselves.
func seedExperience(o *healing.RuleOracle, i int) {
	const problem = "connection_failed"
	for j := 0; j < i; j++ {
		o.RecordOutcome(problem, healing.ActionReroute, true)
	}
	o.RecordOutcome(problem, healing.ActionReroute, false)
}

// Close ends every subscription.
func (s *Swarm) Close() error {
	return s.bus.Close()
}

// Nodes returns the swarm's nodes in ID order.
func (s *Swarm) Nodes() []*Node { return s.nodes }

// Node returns the node with the given ID, or nil.
func (s *Swarm) Node(id uint32) *Node {
	if id < FirstNodeID || int(id-FirstNodeID) >= len(s.nodes) {
		return nil
	}
	return s.nodes[id-FirstNodeID]
}

// Now returns the virtual time.
func (s *Swarm) Now() time.Time { return s.clock.now }

// Round advances the clock by one step, ticks every live node and delivers
// the resulting traffic.
func (s *Swarm) Round(ctx context.Context) error {
	s.clock.now = s.clock.now.Add(s.cfg.Step)
	var errs []error
	for _, n := range s.nodes {
		if n.down {
			continue
		}
		if err := n.Coord.Tick(ctx, s.clock.now); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", n.ID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return s.Settle(ctx)
}

// Settle delivers frames to live nodes until no inbox has anything left.
// Dispatch failures are logged and skipped, as a running node would.
func (s *Swarm) Settle(ctx context.Context) error {
	for pass := 0; pass < maxSettlePasses; pass++ {
		delivered := 0
		for _, n := range s.nodes {
			if n.down {
				continue
			}
			k, err := s.drain(ctx, n)
			if err != nil {
				return err
			}
			delivered += k
		}
		if delivered == 0 {
			return nil
		}
	}
	return fmt.Errorf("swarm did not settle after %d passes", maxSettlePasses)
}

func (s *Swarm) drain(ctx context.Context, n *Node) (int, error) {
	delivered := 0
	for {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case frame, ok := <-n.sub.Frames():
			if !ok {
				return delivered, fmt.Errorf("node %d: subscription closed", n.ID)
			}
			delivered++
			if err := n.Coord.DispatchFrame(ctx, frame); err != nil {
				logging.Warn(&s.log, "dispatch_failed").Uint32("node_id", n.ID).Err(err).Msg("")
			}
		default:
			return delivered, nil
		}
	}
}

// Fail takes a node off the network and reports its health as h to every
// live peer. The node stops ticking and receiving; silent peers are later
// expired by the survivors' own topology refresh.
func (s *Swarm) Fail(id uint32, h float32) error {
	n := s.Node(id)
	if n == nil {
		return fmt.Errorf("unknown node %d", id)
	}
	n.down = true
	n.Oracle.SetLocalHealth(h)
	s.bus.SetDown(id, true)
	for _, peer := range s.nodes {
		if !peer.down {
			peer.Topology.UpdateHealth(id, h)
		}
	}
	logging.Warn(&s.log, "node_failed").Uint32("node_id", id).Float32("health", h).Msg("")
	return nil
}

// States returns every node's state, failed ones included.
func (s *Swarm) States() []hive.State {
	out := make([]hive.State, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Coord.State())
	}
	return out
}
