package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/hive/internal/config"
	"github.com/dyluth/hive/internal/node"
	"github.com/dyluth/hive/internal/snapshot"
	"github.com/dyluth/hive/internal/transport/loopback"
	"github.com/dyluth/hive/pkg/healing"
	"github.com/dyluth/hive/pkg/knowledge"
	"github.com/dyluth/hive/pkg/wire"
)

// execute runs the root command with args and returns everything printed.
// Flag variables are reset first since cobra keeps them between runs.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true
	for _, k := range []string{"HIVE_SWARM", "HIVE_NODE_ID", "REDIS_URL", "NATS_URL", "HIVE_LOG_LEVEL", "HIVE_HEALTH_ADDR"} {
		t.Setenv(k, "")
	}

	configPath = ""
	healProblem, healSeverity, healWait, healOutcome = "", 0, 3*time.Second, ""
	simNodes, simRounds, simStep, simLogLevel = 3, 5, 30*time.Second, "warn"
	watchOutputFormat, watchAs = "default", 0
	factsNodeID, factsSince, factsUntil, factsName, factsKinds, factsMinTruth = 0, "", "", "", nil, 0
	for _, c := range rootCmd.Commands() {
		c.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	}

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	if args == nil {
		// nil makes cobra fall back to os.Args
		args = []string{}
	}
	rootCmd.SetArgs(args)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRootShowsHelp(t *testing.T) {
	output, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, output, "Usage:")
	assert.Contains(t, output, "hivenode")
}

func TestRootRejectsUnknownFlags(t *testing.T) {
	_, err := execute(t, "--unknown-flag", "value")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestVersion(t *testing.T) {
	SetVersionInfo("1.2.3", "abc123", "2025-03-01")
	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "hivenode 1.2.3 (commit: abc123, built: 2025-03-01)")
}

func TestSimulate(t *testing.T) {
	output, err := execute(t, "simulate", "--nodes", "3", "--rounds", "2")
	require.NoError(t, err)
	assert.Contains(t, output, "Knowledge sharing")
	assert.Contains(t, output, "Collective healing")
	assert.Contains(t, output, "Network failure")
	assert.Contains(t, output, "Emergent behavior")
	assert.Contains(t, output, "Simulation finished")
}

func TestSimulateRejectsTooFewNodes(t *testing.T) {
	output, err := execute(t, "simulate", "--nodes", "1")
	require.Error(t, err)
	assert.Equal(t, "invalid simulation", err.Error())
	assert.Contains(t, output, "nodes must be between")
}

func TestSimulateRejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "simulate", "--log-level", "loud")
	require.Error(t, err)
	assert.Equal(t, "invalid --log-level", err.Error())
}

func TestHealRequiresProblem(t *testing.T) {
	_, err := execute(t, "heal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "problem")
}

func TestHealBadConfig(t *testing.T) {
	output, err := execute(t, "heal", "--config", "/nonexistent/node.yml", "--problem", "timeout")
	require.Error(t, err)
	assert.Equal(t, "failed to load configuration", err.Error())
	assert.Contains(t, output, "/nonexistent/node.yml")
}

func TestHealHandledLocally(t *testing.T) {
	bus := loopback.New(16)
	t.Cleanup(func() { bus.Close() })
	runtimeOptions = []node.Option{node.WithBus(bus), node.WithLogger(zerolog.Nop())}
	t.Cleanup(func() { runtimeOptions = nil })

	path := writeConfig(t, "swarm: cli\ntransport:\n  kind: loopback\n")
	output, err := execute(t, "heal", "-c", path, "--problem", "node_failure on rack 4")
	require.NoError(t, err)
	assert.Contains(t, output, "Local verdict: migrate")
	assert.Contains(t, output, "Handled locally")
}

func TestHealCollectsPeerResponses(t *testing.T) {
	bus := loopback.New(16)
	t.Cleanup(func() { bus.Close() })

	// A peer that knows the default rules.
	helperCfg := &config.Config{Swarm: "cli", NodeID: 2, Transport: config.TransportConfig{Kind: config.TransportLoopback}}
	require.NoError(t, helperCfg.Validate())
	helper, err := node.New(helperCfg, node.WithBus(bus), node.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- helper.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		helper.Close()
	})
	_, err = helper.Status(ctx)
	require.NoError(t, err)

	runtimeOptions = []node.Option{node.WithBus(bus), node.WithLogger(zerolog.Nop())}
	t.Cleanup(func() { runtimeOptions = nil })

	path := writeConfig(t, "swarm: cli\ntransport:\n  kind: loopback\nhealing:\n  disable_default_rules: true\n")
	output, err := execute(t, "heal", "-c", path, "--problem", "connection_failed to db-1", "--wait", "300ms")
	require.NoError(t, err)
	assert.Contains(t, output, "Local verdict: retry")
	assert.Contains(t, output, "Escalated as problem")
	assert.Contains(t, output, "reroute")
	assert.Contains(t, output, "Recommended: reroute (node 2, confidence 0.40)")
}

func TestHealRecordsOutcome(t *testing.T) {
	bus := loopback.New(16)
	t.Cleanup(func() { bus.Close() })
	runtimeOptions = []node.Option{node.WithBus(bus), node.WithLogger(zerolog.Nop())}
	t.Cleanup(func() { runtimeOptions = nil })
	path := writeConfig(t, "swarm: cli\ntransport:\n  kind: loopback\n")

	// A success confirms the migrate rule at full confidence.
	output, err := execute(t, "heal", "-c", path, "--problem", "node_failure on rack 4", "--outcome", "success")
	require.NoError(t, err)
	assert.Contains(t, output, "Recorded success of migrate")
	assert.Contains(t, output, "Local verdict: migrate (confidence 0.90)")
	assert.Contains(t, output, "Handled locally")

	// A failure zeroes it, so the problem goes to the swarm.
	output, err = execute(t, "heal", "-c", path, "--problem", "node_failure on rack 4", "--outcome", "failure", "--wait", "50ms")
	require.NoError(t, err)
	assert.Contains(t, output, "Recorded failure of migrate")
	assert.Contains(t, output, "Local verdict: retry (confidence 0.00)")
	assert.Contains(t, output, "Escalated as problem")

	// Nothing recommends retry for an unknown problem.
	output, err = execute(t, "heal", "-c", path, "--problem", "disk on fire", "--outcome", "failure", "--wait", "50ms")
	require.NoError(t, err)
	assert.Contains(t, output, "outcome not recorded")
}

func TestHealRejectsBadOutcome(t *testing.T) {
	_, err := execute(t, "heal", "--problem", "timeout", "--outcome", "maybe")
	require.Error(t, err)
	assert.Equal(t, "invalid --outcome", err.Error())
}

func TestHealRejectsBadWait(t *testing.T) {
	_, err := execute(t, "heal", "--problem", "timeout", "--wait", "0s")
	require.Error(t, err)
	assert.Equal(t, "invalid --wait", err.Error())
}

func TestCollectResponsesFiltersByProblem(t *testing.T) {
	in := make(chan healing.Response, 3)
	in <- healing.Response{ProblemID: 7, RespondingNode: 2}
	in <- healing.Response{ProblemID: 8, RespondingNode: 3}
	in <- healing.Response{ProblemID: 7, RespondingNode: 4}

	got := collectResponses(context.Background(), in, 7, 50*time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, uint32(2), got[0].RespondingNode)
	assert.Equal(t, uint32(4), got[1].RespondingNode)
}

func TestFactsFromSQLiteSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "facts.db")
	store, err := snapshot.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), 5, []knowledge.Fact{
		{ID: 1, Kind: knowledge.KindConcept, Name: "security_threat_detected", Truth: 0.9, Confidence: 0.95, Importance: 2},
		{ID: 2, Kind: knowledge.KindNode, Name: "peer_1002", Truth: 0.5, Confidence: 0.5, Importance: 1},
	}))
	require.NoError(t, store.Close())

	path := writeConfig(t, "swarm: cli\nnode_id: 1\ntransport:\n  kind: loopback\nsnapshot:\n  backend: sqlite\n  path: "+dbPath+"\n")
	output, err := execute(t, "facts", "-c", path, "--node", "5")
	require.NoError(t, err)
	assert.Contains(t, output, "Node 5: 2 facts")
	assert.Contains(t, output, "security_threat_detected")
	assert.Contains(t, output, "peer_1002")

	output, err = execute(t, "facts", "-c", path, "--node", "5", "--name", "security_*", "--kind", "concept")
	require.NoError(t, err)
	assert.Contains(t, output, "Node 5: 1 of 2 facts")
	assert.Contains(t, output, "security_threat_detected")
	assert.NotContains(t, output, "peer_1002")

	output, err = execute(t, "facts", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Node 1: 0 facts")
	assert.Contains(t, output, "No facts.")
}

func TestFactsRejectsBadFilters(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad since", []string{"--since", "soon"}, "invalid --since"},
		{"inverted range", []string{"--since", "1h", "--until", "2h"}, "--since must be before --until"},
		{"bad kind", []string{"--kind", "mood"}, "invalid --kind"},
		{"truth out of range", []string{"--min-truth", "1.5"}, "--min-truth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := execute(t, append([]string{"facts"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, "invalid filter", err.Error())
			assert.Contains(t, output, tt.want)
		})
	}
}

func TestFactsWithoutSnapshotBackend(t *testing.T) {
	path := writeConfig(t, "swarm: cli\ntransport:\n  kind: loopback\n")
	_, err := execute(t, "facts", "-c", path)
	require.Error(t, err)
	assert.Equal(t, "no snapshot backend configured", err.Error())
}

func TestWatchRejectsUnknownFormat(t *testing.T) {
	output, err := execute(t, "watch", "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())
	assert.Contains(t, output, "Valid formats: default, json")
}

func TestWatchStreamsUntilBusCloses(t *testing.T) {
	bus := loopback.New(16)
	watchBus = bus
	t.Cleanup(func() { watchBus = nil })

	frame, err := wire.EncodeEnvelope(&wire.Envelope{Sender: 1001, Type: wire.TypeEmergencySignal, Payload: []byte("overheating")})
	require.NoError(t, err)

	// Publish once the watcher is subscribed, then end the subscription.
	go func() {
		assert.Eventually(t, func() bool {
			return bus.Publish(context.Background(), 77, frame) == nil
		}, 5*time.Second, 5*time.Millisecond)
		bus.Close()
	}()

	output, err := execute(t, "watch", "--as", "77")
	require.NoError(t, err)
	assert.Contains(t, output, "as node 77")
	assert.Contains(t, output, "🚨 Emergency (1001 -> * #0): overheating")
}
