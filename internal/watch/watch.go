// Package watch decodes swarm traffic for display. An observer subscribes
// like any node and sees every broadcast plus anything addressed to it.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/hive/internal/transport"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// OutputFormat selects how events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// Event is one decoded envelope.
type Event struct {
	SentAt    time.Time         `json:"sent_at"`
	Type      string            `json:"type"`
	Sender    uint32            `json:"sender"`
	Recipient uint32            `json:"recipient"`
	Sequence  uint32            `json:"sequence"`
	Packet    *knowledge.Packet `json:"packet,omitempty"`
	Request   *healing.Request  `json:"request,omitempty"`
	Response  *healing.Response `json:"response,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Decode turns a frame into an event. A frame whose header is unreadable
// is an error; a readable header with a bad payload yields an event with
// Error set.
func Decode(frame []byte) (*Event, error) {
	env, err := wire.DecodeEnvelope(frame)
	if err != nil {
		return nil, err
	}
	ev := &Event{
		SentAt:    env.SentAt,
		Type:      env.Type.String(),
		Sender:    env.Sender,
		Recipient: env.Recipient,
		Sequence:  env.Sequence,
	}

	switch env.Type {
	case wire.TypeKnowledgeShare:
		p, err := wire.DecodePacket(env.Payload)
		if err != nil {
			ev.Error = err.Error()
			break
		}
		ev.Packet = &p
	case wire.TypeHealingRequest:
		req, err := wire.DecodeRequest(env.Payload)
		if err != nil {
			ev.Error = err.Error()
			break
		}
		ev.Request = &req
	case wire.TypeHealingResponse:
		resp, err := wire.DecodeResponse(env.Payload)
		if err != nil {
			ev.Error = err.Error()
			break
		}
		ev.Response = &resp
	case wire.TypeEmergencySignal, wire.TypeTopologyUpdate:
		ev.Message = string(env.Payload)
	}
	return ev, nil
}

// formatter writes one event.
type formatter interface {
	Format(ev *Event) error
}

// newFormatter returns the formatter for format.
func newFormatter(w io.Writer, format OutputFormat) (formatter, error) {
	switch format {
	case OutputFormatDefault, "":
		return &defaultFormatter{writer: w}, nil
	case OutputFormatJSON:
		return &jsonFormatter{encoder: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (use default or json)", format)
}

// Stream writes every frame the subscription delivers until ctx is done or
// the subscription ends. Frames that cannot be decoded are reported inline
// and skipped.
func Stream(ctx context.Context, sub transport.Subscription, w io.Writer, format OutputFormat) error {
	f, err := newFormatter(w, format)
	if err != nil {
		return err
	}
	errs := sub.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-sub.Frames():
			if !ok {
				return nil
			}
			ev, err := Decode(frame)
			if err != nil {
				ev = &Event{Type: "invalid", Error: err.Error()}
			}
			if err := f.Format(ev); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err := f.Format(&Event{Type: "transport_error", Error: err.Error()}); err != nil {
				return err
			}
		}
	}
}

type defaultFormatter struct {
	writer io.Writer
}

func (f *defaultFormatter) Format(ev *Event) error {
	ts := "--:--:--.---"
	if !ev.SentAt.IsZero() {
		ts = ev.SentAt.Local().Format("15:04:05.000")
	}
	_, err := fmt.Fprintf(f.writer, "[%s] %s\n", ts, describe(ev))
	return err
}

func describe(ev *Event) string {
	route := fmt.Sprintf("%d -> %s #%d", ev.Sender, recipient(ev.Recipient), ev.Sequence)
	if ev.Error != "" {
		if ev.Type == "invalid" || ev.Type == "transport_error" {
			return fmt.Sprintf("⚠️  %s: %s", ev.Type, ev.Error)
		}
		return fmt.Sprintf("⚠️  %s (%s): %s", ev.Type, route, ev.Error)
	}

	switch {
	case ev.Packet != nil:
		return fmt.Sprintf("📚 Knowledge (%s): %s truth=%.2f confidence=%.2f importance=%.1f",
			route, ev.Packet.Name, ev.Packet.Truth, ev.Packet.Confidence, ev.Packet.Importance)
	case ev.Request != nil:
		return fmt.Sprintf("🆘 Healing request (%s): problem=%d severity=%.2f suggested=%s %q",
			route, ev.Request.ProblemID, ev.Request.Severity, ev.Request.SuggestedAction, ev.Request.Description)
	case ev.Response != nil:
		return fmt.Sprintf("💡 Healing response (%s): problem=%d action=%s confidence=%.2f",
			route, ev.Response.ProblemID, ev.Response.RecommendedAction, ev.Response.Confidence)
	case ev.Type == wire.TypeEmergencySignal.String():
		return fmt.Sprintf("🚨 Emergency (%s): %s", route, ev.Message)
	case ev.Type == wire.TypeTopologyUpdate.String():
		return fmt.Sprintf("🗺️  Topology update (%s)", route)
	case ev.Type == wire.TypeHeartbeat.String():
		return fmt.Sprintf("💓 Heartbeat (%s)", route)
	}
	return fmt.Sprintf("%s (%s)", ev.Type, route)
}

func recipient(id uint32) string {
	if id == wire.Broadcast {
		return "*"
	}
	return fmt.Sprint(id)
}

type jsonFormatter struct {
	encoder *json.Encoder
}

func (f *jsonFormatter) Format(ev *Event) error {
	if err := f.encoder.Encode(ev); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	return nil
}
