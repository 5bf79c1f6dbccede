// Package topology tracks the peers a node has heard from and derives the
// swarm's network health from them.
package topology

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultTrust is the trust score a newly seen peer starts with.
	DefaultTrust float32 = 0.5

	// aliveThreshold is the health a peer must exceed to count towards
	// overall health and to be picked as healthiest.
	aliveThreshold float32 = 0.1
)

// Node is one known peer.
type Node struct {
	ID       uint32    `json:"id"`
	Address  string    `json:"address,omitempty"`
	Health   float32   `json:"health"`
	Trust    float32   `json:"trust"`
	LastSeen time.Time `json:"last_seen"`
}

// View is a node's picture of the swarm. Safe for concurrent use.
type View struct {
	mu    sync.RWMutex
	nodes map[uint32]*Node
	now   func() time.Time
}

// Option configures a View.
type Option func(*View)

// WithClock overrides the time source used for LastSeen.
func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// NewView creates an empty view.
func NewView(opts ...Option) *View {
	v := &View{nodes: make(map[uint32]*Node), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Upsert records that peer id was seen with the given health. An empty
// address keeps whatever address was known before.
func (v *View) Upsert(id uint32, address string, health float32) {
	health = clamp(health)
	v.mu.Lock()
	defer v.mu.Unlock()

	n, ok := v.nodes[id]
	if !ok {
		n = &Node{ID: id, Trust: DefaultTrust}
		v.nodes[id] = n
	}
	if address != "" {
		n.Address = address
	}
	n.Health = health
	n.LastSeen = v.now()
}

// UpdateHealth sets a known peer's health without touching LastSeen.
// Returns false if the peer is unknown.
func (v *View) UpdateHealth(id uint32, health float32) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.nodes[id]
	if !ok {
		return false
	}
	n.Health = clamp(health)
	return true
}

// OverallHealth is the mean health of peers above the alive threshold,
// 0 if none are, and 1 for a view with no peers at all.
func (v *View) OverallHealth() float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.nodes) == 0 {
		return 1
	}
	var sum float32
	var alive int
	for _, n := range v.nodes {
		if n.Health > aliveThreshold {
			sum += n.Health
			alive++
		}
	}
	if alive == 0 {
		return 0
	}
	return sum / float32(alive)
}

// Healthiest returns a copy of the healthiest peer, or nil if no peer is
// above the alive threshold. Ties go to the lowest ID.
func (v *View) Healthiest() *Node {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var best *Node
	for _, n := range v.nodes {
		if n.Health <= aliveThreshold {
			continue
		}
		if best == nil || n.Health > best.Health || (n.Health == best.Health && n.ID < best.ID) {
			best = n
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// Expire drops the health of every peer not seen for longer than after to
// zero. Returns the IDs it expired, in ascending order.
func (v *View) Expire(now time.Time, after time.Duration) []uint32 {
	v.mu.Lock()
	defer v.mu.Unlock()
	var expired []uint32
	for id, n := range v.nodes {
		if n.Health > 0 && now.Sub(n.LastSeen) > after {
			n.Health = 0
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired
}

// Nodes returns copies of all peers ordered by ID.
func (v *View) Nodes() []Node {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Node, 0, len(v.nodes))
	for _, n := range v.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of known peers.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.nodes)
}

func clamp(h float32) float32 {
	switch {
	case h != h || h < 0:
		return 0
	case h > 1:
		return 1
	}
	return h
}
