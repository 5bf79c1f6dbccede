package wire

import (
	"fmt"

	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
)

// EncodePacket serializes a knowledge packet payload.
func EncodePacket(p knowledge.Packet) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, &ValidationError{Op: "encode packet", Reason: err.Error(), Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	w := payloadWriter{buf: make([]byte, 0, 2+len(p.Name)+1+12+8)}
	w.str16(p.Name)
	w.u8(uint8(p.Kind))
	w.f32(p.Truth)
	w.f32(p.Confidence)
	w.f32(p.Importance)
	w.time(p.Timestamp)
	return w.buf, nil
}

// DecodePacket parses a knowledge packet payload and validates its values.
func DecodePacket(b []byte) (knowledge.Packet, error) {
	r := payloadReader{op: "decode packet", b: b}
	p := knowledge.Packet{
		Name:       r.str16("name", knowledge.MaxNameLen),
		Kind:       knowledge.Kind(r.u8("kind")),
		Truth:      r.f32("truth"),
		Confidence: r.f32("confidence"),
		Importance: r.f32("importance"),
		Timestamp:  r.time("timestamp"),
	}
	if err := r.done(); err != nil {
		return knowledge.Packet{}, err
	}
	if err := p.Validate(); err != nil {
		return knowledge.Packet{}, &ValidationError{Op: r.op, Reason: err.Error(), Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	return p, nil
}

// EncodeRequest serializes a healing request payload.
func EncodeRequest(req healing.Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Op: "encode request", Reason: err.Error(), Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	w := payloadWriter{buf: make([]byte, 0, 4+2+len(req.Description)+4+4+8+1)}
	w.u32(req.ProblemID)
	w.str16(req.Description)
	w.f32(req.Severity)
	w.u32(req.RequestingNode)
	w.time(req.RequestedAt)
	w.u8(uint8(req.SuggestedAction))
	return w.buf, nil
}

// DecodeRequest parses a healing request payload.
func DecodeRequest(b []byte) (healing.Request, error) {
	r := payloadReader{op: "decode request", b: b}
	req := healing.Request{
		ProblemID:       r.u32("problem_id"),
		Description:     r.str16("description", healing.MaxDescriptionLen),
		Severity:        r.f32("severity"),
		RequestingNode:  r.u32("requesting_node"),
		RequestedAt:     r.time("requested_at"),
		SuggestedAction: healing.Action(r.u8("suggested_action")),
	}
	if err := r.done(); err != nil {
		return healing.Request{}, err
	}
	if err := req.Validate(); err != nil {
		return healing.Request{}, &ValidationError{Op: r.op, Reason: err.Error(), Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	return req, nil
}

// EncodeResponse serializes a healing response payload.
func EncodeResponse(resp healing.Response) ([]byte, error) {
	if err := resp.RecommendedAction.Validate(); err != nil {
		return nil, invalid("encode response", "recommended_action", ErrMalformed, "%v", err)
	}
	w := payloadWriter{buf: make([]byte, 0, 13)}
	w.u32(resp.ProblemID)
	w.u32(resp.RespondingNode)
	w.u8(uint8(resp.RecommendedAction))
	w.f32(resp.Confidence)
	return w.buf, nil
}

// DecodeResponse parses a healing response payload.
func DecodeResponse(b []byte) (healing.Response, error) {
	r := payloadReader{op: "decode response", b: b}
	resp := healing.Response{
		ProblemID:         r.u32("problem_id"),
		RespondingNode:    r.u32("responding_node"),
		RecommendedAction: healing.Action(r.u8("recommended_action")),
		Confidence:        r.f32("confidence"),
	}
	if err := r.done(); err != nil {
		return healing.Response{}, err
	}
	if err := resp.RecommendedAction.Validate(); err != nil {
		return healing.Response{}, invalid(r.op, "recommended_action", ErrMalformed, "%v", err)
	}
	return resp, nil
}
