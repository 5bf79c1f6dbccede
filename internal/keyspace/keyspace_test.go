package keyspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"broadcast channel", BroadcastChannel("alpha"), "hive:alpha:broadcast"},
		{"node channel", NodeChannel("alpha", 1001), "hive:alpha:node:1001"},
		{"fact key", FactKey("alpha", 1001, "health"), "hive:alpha:node:1001:fact:health"},
		{"fact index", FactIndexKey("alpha", 1001), "hive:alpha:node:1001:facts"},
		{"broadcast subject", BroadcastSubject("alpha"), "hive.alpha.broadcast"},
		{"node subject", NodeSubject("alpha", 7), "hive.alpha.node.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSwarmNamespacing(t *testing.T) {
	assert.NotEqual(t, BroadcastChannel("a"), BroadcastChannel("b"))
	assert.NotEqual(t, NodeSubject("a", 1), NodeSubject("b", 1))
	assert.NotEqual(t, FactKey("a", 1, "x"), FactKey("a", 2, "x"))
}

func TestValidateSwarm(t *testing.T) {
	assert.NoError(t, ValidateSwarm("edge-cluster_1"))

	for _, bad := range []string{"", "a.b", "a*", "a>", "with space", "a:b"} {
		assert.Error(t, ValidateSwarm(bad), "swarm %q", bad)
	}
}
