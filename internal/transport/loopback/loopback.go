// Package loopback is an in-process transport. Every subscriber gets a
// buffered inbox; frames that do not fit are dropped, which keeps the
// at-most-once contract of the network transports.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dyluth/hive/internal/transport"
)

// Bus connects any number of in-process nodes. Safe for concurrent use.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[uint32][]*transport.Feed
	down    map[uint32]bool
	buffer  int
	dropped atomic.Uint64
	closed  bool
}

// New creates a bus whose inboxes hold buffer frames each.
func New(buffer int) *Bus {
	return &Bus{
		inboxes: make(map[uint32][]*transport.Feed),
		down:    make(map[uint32]bool),
		buffer:  buffer,
	}
}

// Publish delivers frame to recipient, or to every subscriber when
// recipient is 0. Unicast to a node with no subscription (or one marked
// down) returns transport.ErrUnroutable.
func (b *Bus) Publish(ctx context.Context, recipient uint32, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("loopback: bus closed")
	}

	if recipient != 0 {
		feeds := b.inboxes[recipient]
		if len(feeds) == 0 || b.down[recipient] {
			return fmt.Errorf("node %d: %w", recipient, transport.ErrUnroutable)
		}
		b.offer(feeds, frame)
		return nil
	}
	for id, feeds := range b.inboxes {
		if b.down[id] {
			continue
		}
		b.offer(feeds, frame)
	}
	return nil
}

func (b *Bus) offer(feeds []*transport.Feed, frame []byte) {
	for _, f := range feeds {
		// Each inbox gets its own copy so receivers cannot alias each other.
		if !f.Offer(append([]byte(nil), frame...)) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe opens an inbox for nodeID. The subscription ends on Close or
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, nodeID uint32) (transport.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("loopback: bus closed")
	}

	var feed *transport.Feed
	var stop func() bool
	feed = transport.NewFeed(b.buffer, func() {
		// remove takes b.mu, so stop is assigned by the time it returns.
		b.remove(nodeID, feed)
		stop()
	})
	stop = context.AfterFunc(ctx, func() { _ = feed.Close() })
	b.inboxes[nodeID] = append(b.inboxes[nodeID], feed)
	return feed, nil
}

func (b *Bus) remove(nodeID uint32, feed *transport.Feed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	feeds := b.inboxes[nodeID]
	for i, f := range feeds {
		if f != feed {
			continue
		}
		b.inboxes[nodeID] = append(feeds[:i], feeds[i+1:]...)
		if len(b.inboxes[nodeID]) == 0 {
			delete(b.inboxes, nodeID)
		}
		feed.Finish()
		return
	}
}

// SetDown marks a node unreachable without closing its subscription.
// Frames to a down node are dropped and unicast returns ErrUnroutable.
func (b *Bus) SetDown(nodeID uint32, down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if down {
		b.down[nodeID] = true
	} else {
		delete(b.down, nodeID)
	}
}

// Dropped returns how many frames were discarded because an inbox was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Ping always succeeds while the bus is open.
func (b *Bus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("loopback: bus closed")
	}
	return nil
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var feeds []*transport.Feed
	for _, fs := range b.inboxes {
		feeds = append(feeds, fs...)
	}
	b.mu.Unlock()

	for _, f := range feeds {
		_ = f.Close()
	}
	return nil
}
