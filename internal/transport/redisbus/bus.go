// Package redisbus carries hive envelopes over Redis Pub/Sub.
//
// Every node subscribes to the swarm's broadcast channel and to its own
// node channel. Redis Pub/Sub is at-most-once: a subscriber that is offline
// or too slow misses frames.
package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/hive/internal/keyspace"
	"github.com/dyluth/hive/internal/transport"
)

// Bus is a swarm-scoped Redis transport. Safe for concurrent use.
type Bus struct {
	rdb    *redis.Client
	swarm  string
	buffer int
}

// New creates a bus for swarm using the given connection options.
func New(opts *redis.Options, swarm string) (*Bus, error) {
	if err := keyspace.ValidateSwarm(swarm); err != nil {
		return nil, err
	}
	return &Bus{
		rdb:    redis.NewClient(opts),
		swarm:  swarm,
		buffer: transport.DefaultBuffer,
	}, nil
}

// NewFromURL parses a redis:// URL and creates a bus for swarm.
func NewFromURL(url, swarm string) (*Bus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return New(opts, swarm)
}

// Close closes the Redis connection pool.
func (b *Bus) Close() error {
	return b.rdb.Close()
}

// Ping verifies Redis connectivity.
func (b *Bus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

// Publish sends frame to the broadcast channel (recipient 0) or to the
// recipient's node channel. A unicast that reaches no subscriber returns
// transport.ErrUnroutable.
func (b *Bus) Publish(ctx context.Context, recipient uint32, frame []byte) error {
	channel := keyspace.BroadcastChannel(b.swarm)
	if recipient != 0 {
		channel = keyspace.NodeChannel(b.swarm, recipient)
	}

	receivers, err := b.rdb.Publish(ctx, channel, frame).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	if recipient != 0 && receivers == 0 {
		return fmt.Errorf("node %d: %w", recipient, transport.ErrUnroutable)
	}
	return nil
}

// Subscribe listens on the broadcast channel and nodeID's node channel.
// The subscription is confirmed by Redis before Subscribe returns, so no
// frame published afterwards is missed for lack of a subscription.
// Caller must Close the subscription; cancelling ctx also ends it.
func (b *Bus) Subscribe(ctx context.Context, nodeID uint32) (transport.Subscription, error) {
	pubsub := b.rdb.Subscribe(ctx, keyspace.BroadcastChannel(b.swarm), keyspace.NodeChannel(b.swarm, nodeID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe node %d: %w", nodeID, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	feed := transport.NewFeed(b.buffer, cancel)

	go func() {
		defer feed.Finish()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == "" {
					feed.Report(fmt.Errorf("empty frame on %s", msg.Channel))
					continue
				}
				if !feed.Deliver(subCtx, []byte(msg.Payload)) {
					return
				}
			}
		}
	}()

	return feed, nil
}
