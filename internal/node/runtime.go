// Package node assembles a complete hive node from its configuration and
// runs it: transport subscription, coordination cycle, snapshots and the
// health server.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dyluth/hive/internal/config"
	"github.com/dyluth/hive/internal/health"
	"github.com/dyluth/hive/internal/hive"
	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/internal/metrics"
	"github.com/dyluth/hive/internal/snapshot"
	"github.com/dyluth/hive/internal/topology"
	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/internal/transport/loopback"
	"github.com/dyluth/hive/internal/transport/natsbus"
	"github.com/dyluth/hive/internal/transport/redisbus"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// ErrStopped is returned by API calls made after the event loop has exited.
var ErrStopped = errors.New("node: runtime stopped")

const (
	responseBuffer = 64

	// Used when a snapshot store is injected without a configured interval.
	fallbackSnapshotInterval = 5 * time.Minute
)

// Runtime owns one node's coordinator and serializes everything that
// touches it through a single event loop goroutine:
//   - inbound frames from the transport subscription
//   - coordination ticks
//   - snapshot saves
//   - API calls (Heal, Learn, Status, Facts, Alert)
//
// The health server runs alongside the loop in the same errgroup and reads
// node state through the loop as well.
type Runtime struct {
	cfg       *config.Config
	base      zerolog.Logger
	log       zerolog.Logger
	bus       transport.Bus
	ownsBus   bool
	snapshots snapshot.Store
	ownsSnap  bool
	metrics   *metrics.Metrics
	oracle    *healing.RuleOracle
	topology  *topology.View
	coord     *hive.Coordinator
	now       func() time.Time

	calls     chan func()
	responses chan healing.Response
	alerts    chan *wire.Envelope
	stopped   chan struct{}
	stopOnce  sync.Once
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	bus       transport.Bus
	snapshots snapshot.Store
	log       *zerolog.Logger
	now       func() time.Time
	ids       *healing.IDGenerator
}

// WithBus injects the transport instead of building one from the config.
// The runtime does not close an injected bus.
func WithBus(b transport.Bus) Option {
	return func(o *options) { o.bus = b }
}

// WithSnapshotStore injects the snapshot store instead of building one from
// the config. The runtime does not close an injected store.
func WithSnapshotStore(s snapshot.Store) Option {
	return func(o *options) { o.snapshots = s }
}

// WithLogger sets the base logger. By default it is built from cfg.Log.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = &l }
}

// WithClock overrides time.Now for the store, topology and coordinator.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator shares a problem ID generator between runtimes in one process.
func WithIDGenerator(g *healing.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// New builds a runtime from a validated config. Connections are opened
// here; call Close to release them if Run is never called.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	base := logging.NewStderr(cfg.Log)
	if o.log != nil {
		base = *o.log
	}

	r := &Runtime{
		cfg:       cfg,
		base:      base,
		log:       logging.ForNode(base, "runtime", cfg.NodeID, cfg.Swarm),
		metrics:   metrics.New(),
		now:       o.now,
		calls:     make(chan func()),
		responses: make(chan healing.Response, responseBuffer),
		alerts:    make(chan *wire.Envelope, responseBuffer),
		stopped:   make(chan struct{}),
	}

	rules, err := cfg.OracleRules()
	if err != nil {
		return nil, err
	}
	if r.oracle, err = healing.NewRuleOracle(rules...); err != nil {
		return nil, err
	}
	if cfg.Healing.LocalHealth != nil {
		r.oracle.SetLocalHealth(*cfg.Healing.LocalHealth)
	}
	r.topology = topology.NewView(topology.WithClock(o.now))

	r.bus, r.ownsBus = o.bus, false
	if r.bus == nil {
		bus, err := OpenBus(cfg)
		if err != nil {
			return nil, err
		}
		r.bus, r.ownsBus = bus, true
	}

	r.snapshots = o.snapshots
	if r.snapshots == nil {
		store, err := OpenSnapshots(cfg)
		if err != nil {
			r.closeOwned()
			return nil, err
		}
		r.snapshots, r.ownsSnap = store, store != nil
	}

	coordOpts := []hive.Option{
		hive.WithOracle(r.oracle),
		hive.WithTopology(r.topology),
		hive.WithSettings(cfg.Settings()),
		hive.WithClock(o.now),
		hive.WithLogger(logging.ForNode(base, "coordinator", cfg.NodeID, cfg.Swarm)),
		hive.WithMetrics(r.metrics),
		hive.OnHealingResponse(r.deliverResponse),
		hive.OnEmergency(r.deliverAlert),
	}
	if o.ids != nil {
		coordOpts = append(coordOpts, hive.WithIDGenerator(o.ids))
	}
	coord, err := hive.New(cfg.NodeID, knowledge.NewStore(knowledge.WithClock(o.now)), r.bus, coordOpts...)
	if err != nil {
		r.closeOwned()
		return nil, err
	}
	r.coord = coord
	return r, nil
}

// OpenBus connects to the transport cfg selects.
func OpenBus(cfg *config.Config) (transport.Bus, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		return redisbus.NewFromURL(cfg.Transport.RedisURL, cfg.Swarm)
	case config.TransportNATS:
		nc := natsbus.DefaultConfig(cfg.Transport.NATSURL)
		nc.Name = fmt.Sprintf("hive-%s-%d", cfg.Swarm, cfg.NodeID)
		return natsbus.Connect(nc, cfg.Swarm)
	case config.TransportLoopback:
		return loopback.New(cfg.Transport.Buffer), nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}

// OpenSnapshots opens the snapshot store cfg selects, or returns nil when
// snapshots are disabled.
func OpenSnapshots(cfg *config.Config) (snapshot.Store, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotRedis:
		return snapshot.NewRedisStore(cfg.Snapshot.RedisURL, cfg.Swarm)
	case config.SnapshotSQLite:
		return snapshot.NewSQLiteStore(cfg.Snapshot.Path)
	}
	return nil, nil
}

// NodeID returns the node's ID.
func (r *Runtime) NodeID() uint32 { return r.cfg.NodeID }

// Metrics returns the node's metrics.
func (r *Runtime) Metrics() *metrics.Metrics { return r.metrics }

// Oracle returns the node's healing oracle. It is safe for concurrent use,
// so outcomes can be recorded without going through the event loop.
func (r *Runtime) Oracle() *healing.RuleOracle { return r.oracle }

// Responses delivers healing responses addressed to this node. When the
// buffer is full further responses are dropped.
func (r *Runtime) Responses() <-chan healing.Response { return r.responses }

// Alerts delivers emergency signals from peers, dropping when full.
func (r *Runtime) Alerts() <-chan *wire.Envelope { return r.alerts }

// Close releases the transport and snapshot store if the runtime opened them.
func (r *Runtime) Close() error {
	return r.closeOwned()
}

func (r *Runtime) closeOwned() error {
	var errs []error
	if r.ownsSnap && r.snapshots != nil {
		errs = append(errs, r.snapshots.Close())
		r.ownsSnap = false
	}
	if r.ownsBus && r.bus != nil {
		errs = append(errs, r.bus.Close())
		r.ownsBus = false
	}
	return errors.Join(errs...)
}

// Run restores the latest snapshot, subscribes to the swarm and runs the
// event loop (plus the health server, if configured) until ctx is
// cancelled. A final snapshot is saved on the way out.
//
// Run returns nil on a clean shutdown and may be called once.
func (r *Runtime) Run(ctx context.Context) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	if err := r.restore(ctx); err != nil {
		return err
	}

	sub, err := r.bus.Subscribe(ctx, r.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	logging.Event(&r.log, "node_started").
		Str("transport", r.cfg.Transport.Kind).
		Str("snapshot", r.cfg.Snapshot.Backend).
		Dur("tick", r.cfg.Timing.Tick).
		Msg("")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.loop(gctx, sub)
	})
	if r.cfg.Health.Addr != "" {
		srv := health.NewServer(r.cfg.Health.Addr, r.bus, r.Status, r.metrics.Registry(),
			logging.ForNode(r.base, "health", r.cfg.NodeID, r.cfg.Swarm))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	logging.Event(&r.log, "node_stopped").Msg("")
	return err
}

// loop is the single writer of the coordinator.
func (r *Runtime) loop(ctx context.Context, sub transport.Subscription) error {
	defer r.stopOnce.Do(func() { close(r.stopped) })

	ticker := time.NewTicker(r.cfg.Timing.Tick)
	defer ticker.Stop()

	var snapshots <-chan time.Time
	if r.snapshots != nil {
		interval := r.cfg.Snapshot.Interval
		if interval <= 0 {
			interval = fallbackSnapshotInterval
		}
		t := time.NewTicker(interval)
		defer t.Stop()
		snapshots = t.C
	}

	errs := sub.Errors()
	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.save(context.Background())
			return nil

		case frame, ok := <-sub.Frames():
			if !ok {
				r.save(context.Background())
				return fmt.Errorf("subscription closed")
			}
			if err := r.coord.DispatchFrame(ctx, frame); err != nil {
				logging.Warn(&r.log, "dispatch_failed").Err(err).Msg("")
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			logging.Warn(&r.log, "transport_error").Err(err).Msg("")

		case <-ticker.C:
			r.tick(ctx)

		case <-snapshots:
			r.save(ctx)

		case fn := <-r.calls:
			fn()
		}
	}
}

func (r *Runtime) tick(ctx context.Context) {
	if err := r.coord.Tick(ctx, r.now()); err != nil {
		logging.Warn(&r.log, "tick_failed").Err(err).Msg("")
	}
}

func (r *Runtime) restore(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	facts, err := r.snapshots.Load(ctx, r.cfg.NodeID)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	added, err := r.coord.Store().Restore(facts)
	if err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}
	logging.Event(&r.log, "snapshot_restored").Int("facts", added).Msg("")
	return nil
}

func (r *Runtime) save(ctx context.Context) {
	if r.snapshots == nil {
		return
	}
	facts := r.coord.Store().Snapshot()
	err := r.snapshots.Save(ctx, r.cfg.NodeID, facts)
	r.metrics.SnapshotSaved(err)
	if err != nil {
		logging.Warn(&r.log, "snapshot_failed").Err(err).Msg("")
		return
	}
	r.log.Debug().Str("event", "snapshot_saved").Int("facts", len(facts)).Msg("")
}

func (r *Runtime) deliverResponse(resp healing.Response) {
	select {
	case r.responses <- resp:
	default:
		logging.Warn(&r.log, "healing_response_dropped").Uint32("problem_id", resp.ProblemID).Msg("")
	}
}

func (r *Runtime) deliverAlert(env *wire.Envelope) {
	select {
	case r.alerts <- env:
	default:
		logging.Warn(&r.log, "emergency_signal_dropped").Uint32("from", env.Sender).Msg("")
	}
}

// do runs fn on the event loop and waits for it to finish.
func (r *Runtime) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case r.calls <- call:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Heal evaluates a problem locally and escalates it to the swarm if the
// local verdict is weak. Peer responses arrive on Responses.
func (r *Runtime) Heal(ctx context.Context, description string, severity float32) (healing.Outcome, error) {
	var (
		out healing.Outcome
		err error
	)
	if callErr := r.do(ctx, func() {
		out, err = r.coord.CoordinateHealing(ctx, description, severity)
	}); callErr != nil {
		return healing.Outcome{}, callErr
	}
	return out, err
}

// RecordOutcome feeds back whether executing action for description worked.
// It updates the first matching rule and reports whether one matched.
func (r *Runtime) RecordOutcome(ctx context.Context, description string, action healing.Action, success bool) (bool, error) {
	var matched bool
	if err := r.do(ctx, func() {
		matched = r.oracle.RecordOutcome(description, action, success)
		logging.Event(&r.log, "healing_outcome_recorded").
			Str("action", action.String()).
			Bool("success", success).
			Bool("matched", matched).
			Str("description", description).
			Msg("")
	}); err != nil {
		return false, err
	}
	return matched, nil
}

// Learn records a reading for a fact and returns a copy of the result.
func (r *Runtime) Learn(ctx context.Context, kind knowledge.Kind, name string, truth, confidence float32) (knowledge.Fact, error) {
	var (
		out knowledge.Fact
		err error
	)
	if callErr := r.do(ctx, func() {
		var f *knowledge.Fact
		if f, err = r.coord.Store().Learn(kind, name, truth, confidence); err == nil {
			out = *f
		}
	}); callErr != nil {
		return knowledge.Fact{}, callErr
	}
	return out, err
}

// Share broadcasts a fact immediately instead of waiting for its turn.
func (r *Runtime) Share(ctx context.Context, name string) error {
	var err error
	if callErr := r.do(ctx, func() {
		f, ok := r.coord.Store().Find(name)
		if !ok {
			err = fmt.Errorf("fact %q not found", name)
			return
		}
		err = r.coord.BroadcastKnowledge(ctx, f)
	}); callErr != nil {
		return callErr
	}
	return err
}

// Alert broadcasts an emergency signal carrying message.
func (r *Runtime) Alert(ctx context.Context, message string) error {
	var err error
	if callErr := r.do(ctx, func() {
		err = r.coord.Send(ctx, &wire.Envelope{Type: wire.TypeEmergencySignal, Recipient: wire.Broadcast, Payload: []byte(message)})
	}); callErr != nil {
		return callErr
	}
	return err
}

// Status returns the node's derived state.
func (r *Runtime) Status(ctx context.Context) (hive.State, error) {
	var s hive.State
	if err := r.do(ctx, func() { s = r.coord.State() }); err != nil {
		return hive.State{}, err
	}
	return s, nil
}

// Facts returns copies of every fact, ordered by ID.
func (r *Runtime) Facts(ctx context.Context) ([]knowledge.Fact, error) {
	var facts []knowledge.Fact
	if err := r.do(ctx, func() { facts = r.coord.Store().Snapshot() }); err != nil {
		return nil, err
	}
	return facts, nil
}

// Peers returns the topology view's nodes, sorted by ID.
func (r *Runtime) Peers() []topology.Node {
	return r.topology.Nodes()
}
