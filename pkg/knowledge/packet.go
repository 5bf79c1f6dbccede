package knowledge

import (
	"fmt"
	"time"
)

// Packet is the wire form of a Fact. It carries no store-local ID.
type Packet struct {
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	Truth      float32   `json:"truth"`
	Confidence float32   `json:"confidence"`
	Importance float32   `json:"importance"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks the packet's name, kind and value ranges.
func (p Packet) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := p.Kind.Validate(); err != nil {
		return err
	}
	if !unit(p.Truth) {
		return fmt.Errorf("%w: truth %v", ErrOutOfRange, p.Truth)
	}
	if !unit(p.Confidence) {
		return fmt.Errorf("%w: confidence %v", ErrOutOfRange, p.Confidence)
	}
	if !(p.Importance >= 0) {
		return fmt.Errorf("%w: importance %v", ErrOutOfRange, p.Importance)
	}
	return nil
}

// EncodePacket copies a fact into its wire form.
func EncodePacket(f *Fact) Packet {
	return Packet{
		Name:       f.Name,
		Kind:       f.Kind,
		Truth:      f.Truth,
		Confidence: f.Confidence,
		Importance: f.Importance,
		Timestamp:  f.UpdatedAt,
	}
}

// DecodePacket integrates a received packet into the store.
// Truth and confidence are merged with whatever the store already believes;
// importance and the update timestamp are taken from the packet as-is.
func DecodePacket(s *Store, p Packet) (*Fact, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	f, err := s.Upsert(p.Kind, p.Name)
	if err != nil {
		return nil, err
	}
	f.Merge(p.Truth, p.Confidence, s.now())
	f.Importance = p.Importance
	f.UpdatedAt = p.Timestamp
	return f, nil
}
