// Package logging builds the zerolog loggers used across hive.
//
// Every line is a JSON object (or a console line when asked) carrying the
// component, node_id and swarm, and, for domain events, an event field naming
// what happened, e.g.
//
//	{"level":"info","component":"coordinator","node_id":1001,"swarm":"alpha","event":"healing_escalated","problem_id":3,...}
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level and output format.
type Config struct {
	Level  string `yaml:"level" toml:"level"`   // trace, debug, info, warn, error; default info
	Format string `yaml:"format" toml:"format"` // json (default) or console
}

// New creates the root logger writing to w.
func New(w io.Writer, cfg Config) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q: must be 'json' or 'console'", cfg.Format)
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// NewStderr is New writing to stderr, falling back to info/json on a bad config.
func NewStderr(cfg Config) zerolog.Logger {
	l, err := New(os.Stderr, cfg)
	if err != nil {
		l, _ = New(os.Stderr, Config{})
		l.Warn().Err(err).Msg("falling back to default logging")
	}
	return l
}

// ForNode scopes base to one component of one node.
func ForNode(base zerolog.Logger, component string, nodeID uint32, swarm string) zerolog.Logger {
	return base.With().
		Str("component", component).
		Uint32("node_id", nodeID).
		Str("swarm", swarm).
		Logger()
}

// Event starts an info-level domain event line.
func Event(l *zerolog.Logger, event string) *zerolog.Event {
	return l.Info().Str("event", event)
}

// Warn starts a warn-level domain event line.
func Warn(l *zerolog.Logger, event string) *zerolog.Event {
	return l.Warn().Str("event", event)
}
