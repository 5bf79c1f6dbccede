package hive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// published is one frame handed to the recording transport.
type published struct {
	recipient uint32
	env       *wire.Envelope
}

// recordingTransport captures every publish and can be told to fail.
type recordingTransport struct {
	t     *testing.T
	sent  []published
	err   error
	calls int
}

func (r *recordingTransport) Publish(_ context.Context, recipient uint32, frame []byte) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	env, err := wire.DecodeEnvelope(frame)
	require.NoError(r.t, err, "coordinator produced an undecodable frame")
	r.sent = append(r.sent, published{recipient: recipient, env: env})
	return nil
}

func (r *recordingTransport) ofType(typ wire.MessageType) []*wire.Envelope {
	var out []*wire.Envelope
	for _, p := range r.sent {
		if p.env.Type == typ {
			out = append(out, p.env)
		}
	}
	return out
}

type fakeOracle struct {
	action     healing.Action
	confidence float32
	health     float32
	asked      []string
}

func (o *fakeOracle) Evaluate(description string) (healing.Action, float32) {
	o.asked = append(o.asked, description)
	return o.action, o.confidence
}

func (o *fakeOracle) LocalHealth() float32 { return o.health }

type fakeTopology struct {
	health  float32
	upserts []uint32
}

func (f *fakeTopology) OverallHealth() float32 { return f.health }

func (f *fakeTopology) Upsert(id uint32, _ string, _ float32) {
	f.upserts = append(f.upserts, id)
}

// testClock is a settable clock shared by a coordinator and its store.
type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var epoch = time.Unix(1_700_000_000, 0)

// newTestCoordinator builds node 1001 on a recording transport with a
// frozen clock. Extra options are applied last.
func newTestCoordinator(t *testing.T, opts ...Option) (*Coordinator, *recordingTransport, *testClock) {
	t.Helper()
	clock := &testClock{now: epoch}
	tr := &recordingTransport{t: t}
	store := knowledge.NewStore(knowledge.WithClock(clock.Now))
	all := append([]Option{WithClock(clock.Now)}, opts...)
	c, err := New(1001, store, tr, all...)
	require.NoError(t, err)
	return c, tr, clock
}
