// Package natsbus carries hive envelopes over core NATS subjects.
//
// Core NATS is fire-and-forget: a publish succeeds whether or not anyone is
// listening, so unlike the Redis bus a unicast to an absent node is not
// reported as unroutable.
package natsbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dyluth/hive/internal/keyspace"
	"github.com/dyluth/hive/internal/transport"
)

// ErrNotConnected is returned when the underlying connection is down.
var ErrNotConnected = errors.New("natsbus: not connected")

// Config holds connection settings.
type Config struct {
	URL           string
	Name          string // Client name reported to the server
	Timeout       time.Duration
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings suitable for a long-running node.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		Timeout:       5 * time.Second,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

func (c Config) options() []nats.Option {
	opts := []nats.Option{
		nats.Timeout(c.Timeout),
		nats.MaxReconnects(c.MaxReconnects),
		nats.ReconnectWait(c.ReconnectWait),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	return opts
}

// Bus is a swarm-scoped NATS transport. Safe for concurrent use.
type Bus struct {
	conn   *nats.Conn
	swarm  string
	buffer int

	// closed is closed once the connection is gone for good, which ends
	// every subscription pump.
	closed    chan struct{}
	closeOnce sync.Once
}

// Connect dials the server and returns a bus for swarm.
func Connect(cfg Config, swarm string) (*Bus, error) {
	if err := keyspace.ValidateSwarm(swarm); err != nil {
		return nil, err
	}
	b := &Bus{swarm: swarm, buffer: transport.DefaultBuffer, closed: make(chan struct{})}
	opts := append(cfg.options(), nats.ClosedHandler(func(*nats.Conn) { b.markClosed() }))
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	b.conn = conn
	return b, nil
}

// Close closes the connection without draining. Open subscriptions end.
func (b *Bus) Close() error {
	b.conn.Close()
	b.markClosed()
	return nil
}

func (b *Bus) markClosed() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Ping round-trips to the server.
func (b *Bus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		return b.conn.FlushTimeout(time.Until(deadline))
	}
	return b.conn.Flush()
}

// Publish sends frame on the broadcast subject (recipient 0) or the
// recipient's node subject.
func (b *Bus) Publish(_ context.Context, recipient uint32, frame []byte) error {
	if !b.conn.IsConnected() {
		return ErrNotConnected
	}
	subject := keyspace.BroadcastSubject(b.swarm)
	if recipient != 0 {
		subject = keyspace.NodeSubject(b.swarm, recipient)
	}
	if err := b.conn.Publish(subject, frame); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe listens on the broadcast subject and nodeID's node subject.
// Both subscriptions are flushed to the server before Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, nodeID uint32) (transport.Subscription, error) {
	msgs := make(chan *nats.Msg, b.buffer)

	broadcast, err := b.conn.ChanSubscribe(keyspace.BroadcastSubject(b.swarm), msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to broadcast: %w", err)
	}
	direct, err := b.conn.ChanSubscribe(keyspace.NodeSubject(b.swarm, nodeID), msgs)
	if err != nil {
		_ = broadcast.Unsubscribe()
		return nil, fmt.Errorf("failed to subscribe node %d: %w", nodeID, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = broadcast.Unsubscribe()
		_ = direct.Unsubscribe()
		return nil, fmt.Errorf("failed to confirm subscription: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	feed := transport.NewFeed(b.buffer, cancel)

	go func() {
		defer func() {
			_ = broadcast.Unsubscribe()
			_ = direct.Unsubscribe()
		}()
		pump(subCtx, msgs, b.closed, feed)
	}()

	return feed, nil
}

// pump moves messages into feed until the context ends or the connection
// closes. nats.go never closes a ChanSubscribe channel, so closed is the
// only signal that no more messages will come.
func pump(ctx context.Context, msgs <-chan *nats.Msg, closed <-chan struct{}, feed *transport.Feed) {
	defer feed.Finish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			feed.Report(ErrNotConnected)
			return
		case msg := <-msgs:
			if len(msg.Data) == 0 {
				feed.Report(fmt.Errorf("empty frame on %s", msg.Subject))
				continue
			}
			if !feed.Deliver(ctx, msg.Data) {
				return
			}
		}
	}
}
