// Package hive implements the per-node coordination protocol: sending and
// dispatching envelopes, the periodic heartbeat / sync / share cycle, and the
// local-first, escalate-to-peers healing workflow.
//
// A Coordinator has a single writer. The node runtime owns it from one
// goroutine and serializes ticks, inbound frames and API calls through it;
// none of its methods are safe for concurrent use.
package hive

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dyluth/hive/internal/metrics"
	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// Topology is the coordinator's view of its peers.
type Topology interface {
	OverallHealth() float32
	Upsert(id uint32, address string, health float32)
}

// expirer is implemented by topologies that can age out silent peers.
type expirer interface {
	Expire(now time.Time, after time.Duration) []uint32
}

// counter is implemented by topologies that can report their size.
type counter interface {
	Len() int
}

// Settings are the coordinator's timing and policy knobs.
type Settings struct {
	HeartbeatInterval     time.Duration
	KnowledgeSyncInterval time.Duration
	ShareWindow           time.Duration // Facts older than this are not auto-shared
	ShareImportance       float32       // Facts must exceed this importance to be auto-shared
	PeerDeadAfter         time.Duration // Silent peers are expired after this long
	AutonomyHysteresis    float32       // Extra margin needed to leave a latched autonomy level
}

// DefaultSettings returns the standard protocol timings.
func DefaultSettings() Settings {
	return Settings{
		HeartbeatInterval:     30 * time.Second,
		KnowledgeSyncInterval: 60 * time.Second,
		ShareWindow:           300 * time.Second,
		ShareImportance:       0.7,
		PeerDeadAfter:         90 * time.Second,
		AutonomyHysteresis:    0.05,
	}
}

const (
	initialCollectiveScore float32 = 0.5
	initialAutonomy        float32 = 0.5

	// Used in place of network health when no topology is configured.
	defaultNetworkHealth float32 = 0.5
	// Used in place of local health when no oracle is configured.
	defaultLocalHealth float32 = 0.5

	highAutonomy       float32 = 0.9
	lowAutonomy        float32 = 0.3
	highScoreThreshold float32 = 0.8
	lowScoreThreshold  float32 = 0.3

	// Confidence with which the collective health reading is recorded.
	collectiveHealthConfidence float32 = 0.9
)

// Coordinator runs the coordination protocol for one node.
type Coordinator struct {
	nodeID    uint32
	store     *knowledge.Store
	transport transport.Transport
	oracle    healing.Oracle
	topology  Topology
	ids       *healing.IDGenerator
	settings  Settings
	now       func() time.Time
	log       zerolog.Logger
	metrics   *metrics.Metrics

	onResponse  func(healing.Response)
	onEmergency func(*wire.Envelope)

	sequence          uint32
	lastHeartbeat     time.Time
	lastKnowledgeSync time.Time
	collectiveScore   float32
	autonomy          float32
	lastShared        map[string]time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithOracle sets the healing oracle. Without one, healing operations fail
// with healing.ErrDependencyMissing.
func WithOracle(o healing.Oracle) Option {
	return func(c *Coordinator) { c.oracle = o }
}

// WithTopology sets the peer view fed by heartbeats.
func WithTopology(t Topology) Option {
	return func(c *Coordinator) { c.topology = t }
}

// WithIDGenerator shares a problem ID generator. By default each
// coordinator gets its own.
func WithIDGenerator(g *healing.IDGenerator) Option {
	return func(c *Coordinator) { c.ids = g }
}

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option {
	return func(c *Coordinator) { c.settings = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// WithMetrics records protocol activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// OnHealingResponse registers the handler for responses to this node's
// healing requests. Responses are otherwise discarded.
func OnHealingResponse(fn func(healing.Response)) Option {
	return func(c *Coordinator) { c.onResponse = fn }
}

// OnEmergency registers the handler for emergency signals.
func OnEmergency(fn func(*wire.Envelope)) Option {
	return func(c *Coordinator) { c.onEmergency = fn }
}

// New creates a coordinator for nodeID. Node ID 0 is reserved for broadcast.
func New(nodeID uint32, store *knowledge.Store, tr transport.Transport, opts ...Option) (*Coordinator, error) {
	if nodeID == wire.Broadcast {
		return nil, errors.New("hive: node id 0 is reserved for broadcast")
	}
	if store == nil {
		return nil, errors.New("hive: knowledge store is required")
	}
	if tr == nil {
		return nil, errors.New("hive: transport is required")
	}

	c := &Coordinator{
		nodeID:          nodeID,
		store:           store,
		transport:       tr,
		settings:        DefaultSettings(),
		now:             time.Now,
		log:             zerolog.Nop(),
		collectiveScore: initialCollectiveScore,
		autonomy:        initialAutonomy,
		lastShared:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ids == nil {
		c.ids = &healing.IDGenerator{}
	}
	if err := c.settings.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (s Settings) validate() error {
	switch {
	case s.HeartbeatInterval <= 0:
		return fmt.Errorf("hive: heartbeat interval must be positive, got %s", s.HeartbeatInterval)
	case s.KnowledgeSyncInterval <= 0:
		return fmt.Errorf("hive: knowledge sync interval must be positive, got %s", s.KnowledgeSyncInterval)
	case s.ShareWindow <= 0:
		return fmt.Errorf("hive: share window must be positive, got %s", s.ShareWindow)
	case s.PeerDeadAfter <= 0:
		return fmt.Errorf("hive: peer dead-after must be positive, got %s", s.PeerDeadAfter)
	case s.ShareImportance < 0:
		return fmt.Errorf("hive: share importance cannot be negative, got %v", s.ShareImportance)
	case s.AutonomyHysteresis < 0 || s.AutonomyHysteresis > 0.2:
		return fmt.Errorf("hive: autonomy hysteresis must be in [0,0.2], got %v", s.AutonomyHysteresis)
	}
	return nil
}

// NodeID returns the node this coordinator speaks for.
func (c *Coordinator) NodeID() uint32 { return c.nodeID }

// Store returns the local knowledge store.
func (c *Coordinator) Store() *knowledge.Store { return c.store }

// Sequence returns the sequence number of the last envelope sent.
func (c *Coordinator) Sequence() uint32 { return c.sequence }

// State is a point-in-time copy of the coordinator's derived state.
type State struct {
	NodeID            uint32    `json:"node_id"`
	Sequence          uint32    `json:"sequence"`
	CollectiveScore   float32   `json:"collective_score"`
	Autonomy          float32   `json:"autonomy"`
	NetworkHealth     float32   `json:"network_health"`
	LocalHealth       float32   `json:"local_health"`
	SwarmHealth       float32   `json:"swarm_health"`
	Facts             int       `json:"facts"`
	Peers             int       `json:"peers"`
	LastHeartbeat     time.Time `json:"last_heartbeat"`
	LastKnowledgeSync time.Time `json:"last_knowledge_sync"`
}

// State returns the current derived state.
func (c *Coordinator) State() State {
	s := State{
		NodeID:            c.nodeID,
		Sequence:          c.sequence,
		CollectiveScore:   c.collectiveScore,
		Autonomy:          c.autonomy,
		NetworkHealth:     c.networkHealth(),
		LocalHealth:       c.localHealth(),
		SwarmHealth:       c.SwarmHealth(),
		Facts:             c.store.Len(),
		LastHeartbeat:     c.lastHeartbeat,
		LastKnowledgeSync: c.lastKnowledgeSync,
	}
	if n, ok := c.topology.(counter); ok {
		s.Peers = n.Len()
	}
	return s
}

// CollectiveScore returns the latest emergence factor.
func (c *Coordinator) CollectiveScore() float32 { return c.collectiveScore }

// Autonomy returns the current autonomy level.
func (c *Coordinator) Autonomy() float32 { return c.autonomy }

func (c *Coordinator) networkHealth() float32 {
	if c.topology == nil {
		return defaultNetworkHealth
	}
	return c.topology.OverallHealth()
}

func (c *Coordinator) localHealth() float32 {
	if c.oracle == nil {
		return defaultLocalHealth
	}
	return c.oracle.LocalHealth()
}

// EmergenceFactor blends network health, knowledge volume and the previous
// collective score. Feeding the result back as the next previous score
// makes it a first-order filter that converges rather than jumps.
func (c *Coordinator) EmergenceFactor() float32 {
	diversity := float32(c.store.Len()) / 100
	if diversity > 1 {
		diversity = 1
	}
	f := 0.4*c.networkHealth() + 0.3*diversity + 0.3*c.collectiveScore
	if f > 1 {
		f = 1
	}
	return f
}

// SwarmHealth weighs local, network and collective health.
func (c *Coordinator) SwarmHealth() float32 {
	return 0.3*c.localHealth() + 0.4*c.networkHealth() + 0.3*c.collectiveScore
}

// nextAutonomy applies the autonomy step function. A score above 0.8 raises
// autonomy to 0.9 and one below 0.3 drops it to 0.3; anything between keeps
// the current level. Leaving a latched level needs the hysteresis margin on
// top of the threshold.
func (c *Coordinator) nextAutonomy(score float32) float32 {
	high, low := highScoreThreshold, lowScoreThreshold
	switch c.autonomy {
	case lowAutonomy:
		high += c.settings.AutonomyHysteresis
	case highAutonomy:
		low -= c.settings.AutonomyHysteresis
	}
	switch {
	case score > high:
		return highAutonomy
	case score < low:
		return lowAutonomy
	}
	return c.autonomy
}
