// Package wire holds the hive message envelope and the binary codecs for
// every payload that travels inside one. All integers are big-endian and
// floats travel as IEEE-754 bit patterns.
package wire

import (
	"encoding/binary"
	"time"
)

const (
	// HeaderLen is the fixed envelope header size in bytes.
	HeaderLen = 25

	// MaxPayload is the largest payload an envelope may carry.
	MaxPayload = 512

	// Broadcast is the recipient ID that addresses every node.
	Broadcast uint32 = 0
)

// MessageType identifies the payload of an envelope. Ordinals are part of
// the wire format.
type MessageType uint8

const (
	TypeHeartbeat MessageType = iota
	TypeKnowledgeShare
	TypeHealingRequest
	TypeHealingResponse
	TypeTopologyUpdate
	TypeEmergencySignal
)

var typeNames = [...]string{
	TypeHeartbeat:       "heartbeat",
	TypeKnowledgeShare:  "knowledge_share",
	TypeHealingRequest:  "healing_request",
	TypeHealingResponse: "healing_response",
	TypeTopologyUpdate:  "topology_update",
	TypeEmergencySignal: "emergency_signal",
}

// Types lists every known message type in ordinal order.
func Types() []MessageType {
	out := make([]MessageType, len(typeNames))
	for i := range typeNames {
		out[i] = MessageType(i)
	}
	return out
}

func (t MessageType) String() string {
	if t.Known() {
		return typeNames[t]
	}
	return "unknown"
}

// Known reports whether t is a defined message type.
func (t MessageType) Known() bool {
	return int(t) < len(typeNames)
}

// Envelope is one message between nodes.
type Envelope struct {
	Sender    uint32
	Recipient uint32 // Broadcast (0) addresses every node
	Type      MessageType
	Sequence  uint32 // Assigned by the sender, strictly increasing per sender
	SentAt    time.Time
	Payload   []byte
}

// IsBroadcast reports whether the envelope addresses every node.
func (e *Envelope) IsBroadcast() bool {
	return e.Recipient == Broadcast
}

// Validate checks the payload bound and message type.
func (e *Envelope) Validate() error {
	if len(e.Payload) > MaxPayload {
		return invalid("validate envelope", "payload", ErrPayloadTooLarge,
			"%d bytes exceeds limit %d", len(e.Payload), MaxPayload)
	}
	if !e.Type.Known() {
		return invalid("validate envelope", "type", ErrUnknownMessageType, "type %d", uint8(e.Type))
	}
	return nil
}

// EncodeEnvelope serializes e into a single frame.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderLen+len(e.Payload))
	binary.BigEndian.PutUint32(buf[0:4], e.Sender)
	binary.BigEndian.PutUint32(buf[4:8], e.Recipient)
	buf[8] = byte(e.Type)
	binary.BigEndian.PutUint32(buf[9:13], e.Sequence)
	binary.BigEndian.PutUint64(buf[13:21], uint64(encodeTime(e.SentAt)))
	binary.BigEndian.PutUint32(buf[21:25], uint32(len(e.Payload)))
	copy(buf[HeaderLen:], e.Payload)
	return buf, nil
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope. The frame must
// contain exactly one envelope.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	const op = "decode envelope"
	if len(b) < HeaderLen {
		return nil, invalid(op, "header", ErrTruncated, "%d bytes, need %d", len(b), HeaderLen)
	}
	payloadLen := binary.BigEndian.Uint32(b[21:25])
	if payloadLen > MaxPayload {
		return nil, invalid(op, "payload_len", ErrPayloadTooLarge, "%d exceeds limit %d", payloadLen, MaxPayload)
	}
	t := MessageType(b[8])
	if !t.Known() {
		return nil, invalid(op, "type", ErrUnknownMessageType, "type %d", uint8(t))
	}
	end := HeaderLen + int(payloadLen)
	switch {
	case len(b) < end:
		return nil, invalid(op, "payload", ErrTruncated, "%d payload bytes, header says %d", len(b)-HeaderLen, payloadLen)
	case len(b) > end:
		return nil, invalid(op, "payload", ErrMalformed, "%d trailing bytes", len(b)-end)
	}

	env := &Envelope{
		Sender:    binary.BigEndian.Uint32(b[0:4]),
		Recipient: binary.BigEndian.Uint32(b[4:8]),
		Type:      t,
		Sequence:  binary.BigEndian.Uint32(b[9:13]),
		SentAt:    decodeTime(int64(binary.BigEndian.Uint64(b[13:21]))),
	}
	if payloadLen > 0 {
		env.Payload = make([]byte, payloadLen)
		copy(env.Payload, b[HeaderLen:end])
	}
	return env, nil
}

// Times travel as whole Unix seconds; zero means unset. Sub-second
// precision is dropped on the wire.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}
