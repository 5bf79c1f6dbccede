// Package keyspace names every Redis key, Redis channel and NATS subject a
// hive swarm uses.
//
// All names are namespaced by swarm so several swarms can share one Redis
// server or NATS cluster without seeing each other's traffic.
//
// Redis key pattern:     hive:{swarm}:node:{id}:...
// Redis channel pattern: hive:{swarm}:broadcast | hive:{swarm}:node:{id}
// NATS subject pattern:  hive.{swarm}.broadcast | hive.{swarm}.node.{id}
package keyspace

import (
	"fmt"
	"strings"
)

// ValidateSwarm checks that a swarm name is usable in both Redis keys and
// NATS subjects.
func ValidateSwarm(swarm string) error {
	if swarm == "" {
		return fmt.Errorf("swarm name cannot be empty")
	}
	if strings.ContainsAny(swarm, ".*> \t\r\n:") {
		return fmt.Errorf("swarm name %q contains reserved characters", swarm)
	}
	return nil
}

// BroadcastChannel returns the Redis Pub/Sub channel every node listens on.
// Pattern: hive:{swarm}:broadcast
func BroadcastChannel(swarm string) string {
	return fmt.Sprintf("hive:%s:broadcast", swarm)
}

// NodeChannel returns the Redis Pub/Sub channel for unicast to one node.
// Pattern: hive:{swarm}:node:{id}
func NodeChannel(swarm string, nodeID uint32) string {
	return fmt.Sprintf("hive:%s:node:%d", swarm, nodeID)
}

// FactKey returns the Redis hash key holding one snapshotted fact.
// Pattern: hive:{swarm}:node:{id}:fact:{name}
func FactKey(swarm string, nodeID uint32, name string) string {
	return fmt.Sprintf("hive:%s:node:%d:fact:%s", swarm, nodeID, name)
}

// FactIndexKey returns the Redis set listing the fact names in a node's snapshot.
// Pattern: hive:{swarm}:node:{id}:facts
func FactIndexKey(swarm string, nodeID uint32) string {
	return fmt.Sprintf("hive:%s:node:%d:facts", swarm, nodeID)
}

// BroadcastSubject returns the NATS subject every node listens on.
// Pattern: hive.{swarm}.broadcast
func BroadcastSubject(swarm string) string {
	return fmt.Sprintf("hive.%s.broadcast", swarm)
}

// NodeSubject returns the NATS subject for unicast to one node.
// Pattern: hive.{swarm}.node.{id}
func NodeSubject(swarm string, nodeID uint32) string {
	return fmt.Sprintf("hive.%s.node.%d", swarm, nodeID)
}
