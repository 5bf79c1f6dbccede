// Package transport defines how encoded envelopes move between hive nodes.
//
// Delivery is at-most-once: a frame may be lost, and a slow subscriber may
// miss frames. Nothing above this layer retries.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrUnroutable is returned by Publish when a unicast recipient is known to
// be unreachable. Callers log and drop it.
var ErrUnroutable = errors.New("transport: recipient unroutable")

// DefaultBuffer is the frame buffer size of a subscription.
const DefaultBuffer = 64

// Transport publishes encoded envelope frames. Recipient 0 broadcasts.
type Transport interface {
	Publish(ctx context.Context, recipient uint32, frame []byte) error
}

// Subscription delivers frames addressed to one node, including broadcasts.
type Subscription interface {
	// Frames is closed when the subscription ends.
	Frames() <-chan []byte
	// Errors carries non-fatal receive problems; the subscription keeps going.
	Errors() <-chan error
	// Close stops the subscription. Safe to call more than once.
	Close() error
}

// Subscriber opens subscriptions for a node.
type Subscriber interface {
	Subscribe(ctx context.Context, nodeID uint32) (Subscription, error)
}

// Bus is a full transport backend.
type Bus interface {
	Transport
	Subscriber
	Ping(ctx context.Context) error
	Close() error
}

// Feed is a Subscription backed by buffered channels. Backends run one
// receive goroutine that pushes into it and calls Finish on exit.
type Feed struct {
	frames chan []byte
	errs   chan error
	cancel func()
	once   sync.Once
}

// NewFeed creates a feed whose Close runs cancel exactly once.
func NewFeed(buffer int, cancel func()) *Feed {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Feed{
		frames: make(chan []byte, buffer),
		errs:   make(chan error, 10),
		cancel: cancel,
	}
}

func (f *Feed) Frames() <-chan []byte { return f.frames }

func (f *Feed) Errors() <-chan error { return f.errs }

func (f *Feed) Close() error {
	f.once.Do(f.cancel)
	return nil
}

// Deliver queues a frame, waiting for buffer space until ctx is done.
// Returns false if ctx ended first.
func (f *Feed) Deliver(ctx context.Context, frame []byte) bool {
	select {
	case f.frames <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

// Offer queues a frame without waiting. Returns false if the buffer is full
// and the frame was dropped.
func (f *Feed) Offer(frame []byte) bool {
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

// Report queues a non-fatal error, dropping it if nobody is draining Errors.
func (f *Feed) Report(err error) {
	select {
	case f.errs <- err:
	default:
	}
}

// Finish closes both channels. Only the goroutine that feeds the
// subscription may call it, exactly once.
func (f *Feed) Finish() {
	close(f.frames)
	close(f.errs)
}
