package hive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// Tick runs one coordination cycle at now: a heartbeat if one is due, a
// knowledge sync if one is due, and at most one knowledge share.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) error {
	var errs []error

	if now.Sub(c.lastHeartbeat) >= c.settings.HeartbeatInterval {
		if err := c.Send(ctx, &wire.Envelope{Type: wire.TypeHeartbeat, Recipient: wire.Broadcast, SentAt: now}); err != nil {
			errs = append(errs, err)
		}
		c.lastHeartbeat = now
	}

	if now.Sub(c.lastKnowledgeSync) >= c.settings.KnowledgeSyncInterval {
		c.synchronize(now)
		c.lastKnowledgeSync = now
	}

	if err := c.shareOne(ctx, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// synchronize refreshes topology-derived state and steps the collective
// score and autonomy forward.
func (c *Coordinator) synchronize(now time.Time) {
	network := c.refreshTopology(now)

	prevAutonomy := c.autonomy
	c.collectiveScore = c.EmergenceFactor()
	c.autonomy = c.nextAutonomy(c.collectiveScore)

	c.metrics.Swarm(c.collectiveScore, c.SwarmHealth(), network, c.autonomy)
	c.metrics.Sizes(c.store.Len(), c.State().Peers)

	ev := logging.Event(&c.log, "knowledge_synced").
		Float32("network_health", network).
		Float32("collective_score", c.collectiveScore).
		Float32("autonomy", c.autonomy).
		Int("facts", c.store.Len())
	if c.autonomy != prevAutonomy {
		ev = ev.Float32("previous_autonomy", prevAutonomy)
	}
	ev.Msg("")
}

// refreshTopology expires silent peers and records the network health as a
// collective_health concept. Returns the network health.
func (c *Coordinator) refreshTopology(now time.Time) float32 {
	if exp, ok := c.topology.(expirer); ok {
		if expired := exp.Expire(now, c.settings.PeerDeadAfter); len(expired) > 0 {
			logging.Warn(&c.log, "peers_expired").Interface("nodes", expired).Msg("")
		}
	}

	network := c.networkHealth()
	name := fmt.Sprintf("collective_health_%.2f", network)
	f, err := c.store.Upsert(knowledge.KindConcept, name)
	if err != nil {
		// Generated names are always valid.
		c.log.Error().Err(err).Str("fact", name).Msg("failed to record collective health")
		return network
	}
	f.Merge(network, collectiveHealthConfidence, now)
	return network
}

// shareOne broadcasts the first fact that is important and fresh enough.
// Facts never shared, or shared longest ago, go first; among those the most
// recently updated wins.
func (c *Coordinator) shareOne(ctx context.Context, now time.Time) error {
	var pick *knowledge.Fact
	var pickShared time.Time
	for _, f := range c.store.Facts() {
		if f.Importance <= c.settings.ShareImportance || f.Age(now) >= c.settings.ShareWindow {
			continue
		}
		shared := c.lastShared[f.Name]
		if pick == nil || shared.Before(pickShared) {
			pick, pickShared = f, shared
		}
	}
	if pick == nil {
		return nil
	}
	if err := c.broadcastFact(ctx, pick, now); err != nil {
		return err
	}
	c.lastShared[pick.Name] = now
	return nil
}

// BroadcastKnowledge shares one fact with every peer.
func (c *Coordinator) BroadcastKnowledge(ctx context.Context, f *knowledge.Fact) error {
	now := c.now()
	if err := c.broadcastFact(ctx, f, now); err != nil {
		return err
	}
	c.lastShared[f.Name] = now
	return nil
}

func (c *Coordinator) broadcastFact(ctx context.Context, f *knowledge.Fact, now time.Time) error {
	payload, err := wire.EncodePacket(knowledge.EncodePacket(f))
	if err != nil {
		return err
	}
	env := &wire.Envelope{Type: wire.TypeKnowledgeShare, Recipient: wire.Broadcast, SentAt: now, Payload: payload}
	if err := c.Send(ctx, env); err != nil {
		return err
	}
	c.metrics.Shared()
	c.log.Debug().
		Str("event", "knowledge_shared").
		Str("fact", f.Name).
		Float32("importance", f.Importance).
		Uint32("sequence", env.Sequence).
		Msg("")
	return nil
}
