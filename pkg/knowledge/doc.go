// Package knowledge provides the per-node typed-fact store shared by every
// hive component, and the packet form used to propagate facts between nodes.
//
// # Overview
//
// A Store is a flat mapping of fact name to Fact. Names are unique within a
// store and facts are never deleted: a node's knowledge grows monotonically
// for the lifetime of the process (or of its snapshot, see internal/snapshot).
//
// Every fact carries a truth value and a confidence, both in [0,1]. When the
// same fact is learned again, from a local observation or from a peer, the
// two readings are blended with a confidence-weighted average:
//
//	truth      = (oldTruth*oldConf + truth*conf) / (oldConf + conf)
//	confidence = min(1, (oldConf + conf) / 2)
//
// Importance is a separate, unbounded score that grows by 0.1 every time an
// existing name is referenced again. The coordinator uses it together with
// UpdatedAt to decide which facts are worth broadcasting.
//
// # Packets
//
// A Packet is the wire-sized form of a Fact. It drops the store-local ID; the
// receiver resolves the fact by name. DecodePacket merges truth and
// confidence but overwrites importance and the update timestamp, so the
// sender's view of those two fields always wins.
//
// # Concurrency
//
// Store is not safe for concurrent mutation. Each node owns exactly one store
// and mutates it from a single goroutine (see internal/node).
package knowledge
