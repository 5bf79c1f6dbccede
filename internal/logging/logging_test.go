package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	root, err := New(&buf, Config{Level: "debug"})
	require.NoError(t, err)

	l := ForNode(root, "coordinator", 1001, "alpha")
	Event(&l, "heartbeat_sent").Uint32("sequence", 7).Msg("")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "coordinator", line["component"])
	assert.Equal(t, float64(1001), line["node_id"])
	assert.Equal(t, "alpha", line["swarm"])
	assert.Equal(t, "heartbeat_sent", line["event"])
	assert.Equal(t, float64(7), line["sequence"])
	assert.Contains(t, line, "time")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{Level: "WARN"})
	require.NoError(t, err)

	Event(&l, "quiet").Msg("")
	assert.Zero(t, buf.Len())

	Warn(&l, "loud").Msg("")
	assert.Contains(t, buf.String(), `"event":"loud"`)
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, Config{Format: "console"})
	require.NoError(t, err)
	Event(&l, "started").Msg("node up")
	assert.Contains(t, buf.String(), "node up")
	assert.NotContains(t, buf.String(), "{")
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Config{Level: "chatty"})
	assert.Error(t, err)

	_, err = New(&bytes.Buffer{}, Config{Format: "xml"})
	assert.Error(t, err)
}
