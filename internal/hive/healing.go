package hive

import (
	"context"

	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/wire"
)

// CoordinateHealing evaluates a problem locally and, when the verdict is
// weak (none or retry), broadcasts a healing request so peers can weigh in.
// Peer responses arrive later through the OnHealingResponse handler; this
// layer does not aggregate them.
func (c *Coordinator) CoordinateHealing(ctx context.Context, description string, severity float32) (healing.Outcome, error) {
	action, confidence, err := healing.EvaluateLocally(c.oracle, description)
	if err != nil {
		return healing.Outcome{}, err
	}
	out := healing.Outcome{Action: action, Confidence: confidence}
	if !action.Weak() {
		logging.Event(&c.log, "healing_resolved_locally").
			Str("action", action.String()).
			Float32("confidence", confidence).
			Str("description", description).
			Msg("")
		return out, nil
	}

	req := healing.Request{
		Description:     description,
		Severity:        severity,
		RequestingNode:  c.nodeID,
		RequestedAt:     c.now(),
		SuggestedAction: action,
	}
	if err := req.Validate(); err != nil {
		return out, &wire.ValidationError{Op: "coordinate healing", Field: "request", Reason: err.Error(), Err: err}
	}
	req.ProblemID = c.ids.Next()

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return out, err
	}
	if err := c.Send(ctx, &wire.Envelope{Type: wire.TypeHealingRequest, Recipient: wire.Broadcast, Payload: payload}); err != nil {
		return out, err
	}

	c.metrics.Escalated()
	logging.Event(&c.log, "healing_escalated").
		Uint32("problem_id", req.ProblemID).
		Str("local_action", action.String()).
		Float32("confidence", confidence).
		Float32("severity", severity).
		Str("description", description).
		Msg("")

	out.Escalated = true
	out.Request = &req
	return out, nil
}

// RespondToHealingRequest evaluates a peer's problem locally and unicasts
// the verdict back to the requester.
func (c *Coordinator) RespondToHealingRequest(ctx context.Context, req healing.Request) (healing.Response, error) {
	action, confidence, err := healing.EvaluateLocally(c.oracle, req.Description)
	if err != nil {
		return healing.Response{}, err
	}
	resp := healing.Response{
		ProblemID:         req.ProblemID,
		RespondingNode:    c.nodeID,
		RecommendedAction: action,
		Confidence:        confidence,
	}

	payload, err := wire.EncodeResponse(resp)
	if err != nil {
		return resp, err
	}
	if err := c.Send(ctx, &wire.Envelope{Type: wire.TypeHealingResponse, Recipient: req.RequestingNode, Payload: payload}); err != nil {
		return resp, err
	}

	c.metrics.Responded()
	logging.Event(&c.log, "healing_response_sent").
		Uint32("problem_id", req.ProblemID).
		Uint32("to", req.RequestingNode).
		Str("action", action.String()).
		Float32("confidence", confidence).
		Msg("")
	return resp, nil
}
