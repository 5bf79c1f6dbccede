package natsbus

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hive/internal/transport"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("nats://localhost:4222")
	assert.Equal(t, "nats://localhost:4222", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, -1, cfg.MaxReconnects)

	cfg.Name = "hive-1001"
	assert.Len(t, cfg.options(), 4)
}

func TestConnectValidation(t *testing.T) {
	_, err := Connect(DefaultConfig("nats://localhost:4222"), "bad.swarm")
	assert.Error(t, err)

	cfg := DefaultConfig("nats://127.0.0.1:1")
	cfg.Timeout = 100 * time.Millisecond
	cfg.MaxReconnects = 0
	_, err = Connect(cfg, "alpha")
	assert.Error(t, err)
}

// runPump starts pump on fresh channels and returns them with the feed.
func runPump(t *testing.T, ctx context.Context) (chan *nats.Msg, chan struct{}, *transport.Feed) {
	t.Helper()
	msgs := make(chan *nats.Msg, 4)
	closed := make(chan struct{})
	feed := transport.NewFeed(4, func() {})
	go pump(ctx, msgs, closed, feed)
	return msgs, closed, feed
}

func TestPumpEndsWhenConnectionCloses(t *testing.T) {
	msgs, closed, feed := runPump(t, context.Background())

	msgs <- &nats.Msg{Subject: "hive.alpha.broadcast", Data: []byte("frame")}
	select {
	case frame := <-feed.Frames():
		assert.Equal(t, []byte("frame"), frame)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}

	close(closed)
	select {
	case _, ok := <-feed.Frames():
		assert.False(t, ok, "frames channel closes with the connection")
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after the connection closed")
	}
	err, ok := <-feed.Errors()
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPumpReportsEmptyFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, _, feed := runPump(t, ctx)

	msgs <- &nats.Msg{Subject: "hive.alpha.node.7"}
	select {
	case err := <-feed.Errors():
		assert.Contains(t, err.Error(), "empty frame on hive.alpha.node.7")
	case <-time.After(time.Second):
		t.Fatal("empty frame not reported")
	}

	cancel()
	select {
	case _, ok := <-feed.Frames():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription did not end after cancel")
	}
}
