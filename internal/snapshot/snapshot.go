// Package snapshot persists a node's knowledge store so facts survive restarts.
//
// Two backends are provided: RedisStore keeps one hash per fact next to the
// swarm's Pub/Sub channels, and SQLiteStore keeps a local database file.
// A Save replaces the node's previous snapshot.
package snapshot

import (
	"context"

	"github.com/dyluth/hive/pkg/knowledge"
)

// Store saves and loads knowledge snapshots, keyed by node.
type Store interface {
	// Save replaces nodeID's snapshot with facts.
	Save(ctx context.Context, nodeID uint32, facts []knowledge.Fact) error

	// Load returns nodeID's snapshot ordered by fact ID, or an empty slice
	// if none was saved.
	Load(ctx context.Context, nodeID uint32) ([]knowledge.Fact, error)

	Close() error
}
