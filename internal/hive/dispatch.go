package hive

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// Send stamps env with this node's ID, the next sequence number and (if
// unset) the send time, then hands it to the transport.
//
// An oversized payload or unknown type is rejected with a
// *wire.ValidationError before a sequence number is consumed. An unroutable
// unicast is logged and dropped. Delivery is fire-and-forget.
func (c *Coordinator) Send(ctx context.Context, env *wire.Envelope) error {
	if err := env.Validate(); err != nil {
		c.metrics.Rejected("out")
		return err
	}

	c.sequence++
	env.Sequence = c.sequence
	env.Sender = c.nodeID
	if env.SentAt.IsZero() {
		env.SentAt = c.now()
	}

	frame, err := wire.EncodeEnvelope(env)
	if err != nil {
		return err
	}

	if err := c.transport.Publish(ctx, env.Recipient, frame); err != nil {
		if errors.Is(err, transport.ErrUnroutable) {
			c.metrics.Dropped()
			logging.Warn(&c.log, "envelope_unroutable").
				Str("type", env.Type.String()).
				Uint32("recipient", env.Recipient).
				Uint32("sequence", env.Sequence).
				Err(err).
				Msg("dropping envelope")
			return nil
		}
		return fmt.Errorf("failed to send %s: %w", env.Type, err)
	}

	c.metrics.Sent(env.Type.String())
	c.log.Debug().
		Str("event", "envelope_sent").
		Str("type", env.Type.String()).
		Uint32("recipient", env.Recipient).
		Uint32("sequence", env.Sequence).
		Int("payload_len", len(env.Payload)).
		Msg("")
	return nil
}

// DispatchFrame decodes a raw frame and dispatches it.
func (c *Coordinator) DispatchFrame(ctx context.Context, frame []byte) error {
	env, err := wire.DecodeEnvelope(frame)
	if err != nil {
		c.metrics.Rejected("in")
		return err
	}
	return c.Dispatch(ctx, env)
}

// Dispatch handles one inbound envelope according to its type.
//
// Envelopes sent by this node (Pub/Sub echoes its own broadcasts) and
// unicasts addressed to another node are ignored. Unknown types and
// malformed payloads return a *wire.ValidationError.
func (c *Coordinator) Dispatch(ctx context.Context, env *wire.Envelope) error {
	if env.Sender == c.nodeID {
		return nil
	}
	if !env.IsBroadcast() && env.Recipient != c.nodeID {
		return nil
	}
	if err := env.Validate(); err != nil {
		c.metrics.Rejected("in")
		return err
	}

	c.metrics.Received(env.Type.String())
	if err := c.dispatch(ctx, env); err != nil {
		c.metrics.DispatchFailed(env.Type.String())
		return fmt.Errorf("dispatch %s from node %d: %w", env.Type, env.Sender, err)
	}
	return nil
}

func (c *Coordinator) dispatch(ctx context.Context, env *wire.Envelope) error {
	switch env.Type {
	case wire.TypeHeartbeat:
		if c.topology != nil {
			c.topology.Upsert(env.Sender, "", 1.0)
		}
		return nil

	case wire.TypeKnowledgeShare:
		p, err := wire.DecodePacket(env.Payload)
		if err != nil {
			return err
		}
		f, err := knowledge.DecodePacket(c.store, p)
		if err != nil {
			return err
		}
		c.log.Debug().
			Str("event", "knowledge_received").
			Uint32("from", env.Sender).
			Str("fact", f.Name).
			Float32("truth", f.Truth).
			Float32("confidence", f.Confidence).
			Msg("")
		return nil

	case wire.TypeHealingRequest:
		req, err := wire.DecodeRequest(env.Payload)
		if err != nil {
			return err
		}
		_, err = c.RespondToHealingRequest(ctx, req)
		return err

	case wire.TypeHealingResponse:
		resp, err := wire.DecodeResponse(env.Payload)
		if err != nil {
			return err
		}
		logging.Event(&c.log, "healing_response_received").
			Uint32("problem_id", resp.ProblemID).
			Uint32("from", resp.RespondingNode).
			Str("action", resp.RecommendedAction.String()).
			Float32("confidence", resp.Confidence).
			Msg("")
		if c.onResponse != nil {
			c.onResponse(resp)
		}
		return nil

	case wire.TypeTopologyUpdate:
		c.refreshTopology(c.now())
		return nil

	case wire.TypeEmergencySignal:
		logging.Warn(&c.log, "emergency_signal").Uint32("from", env.Sender).Msg("")
		if c.onEmergency != nil {
			c.onEmergency(env)
		}
		return nil
	}
	// Validate already rejected unknown types.
	return nil
}
