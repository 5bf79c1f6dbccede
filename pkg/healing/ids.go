package healing

import "sync/atomic"

// IDGenerator hands out problem IDs. The first ID is 1 so that zero never
// names a real problem. Safe for concurrent use.
type IDGenerator struct {
	last atomic.Uint32
}

// Next returns the next problem ID.
func (g *IDGenerator) Next() uint32 {
	return g.last.Add(1)
}
