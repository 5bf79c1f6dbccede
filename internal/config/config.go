package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/hive/internal/hive"
	"github.com/dyluth/hive/internal/keyspace"
	"github.com/dyluth/hive/internal/logging"
	"github.com/dyluth/hive/pkg/healing"
)

// Transport kinds
const (
	TransportRedis    = "redis"
	TransportNATS     = "nats"
	TransportLoopback = "loopback"
)

// Snapshot backends
const (
	SnapshotNone   = ""
	SnapshotRedis  = "redis"
	SnapshotSQLite = "sqlite"
)

const (
	defaultSwarm            = "default"
	defaultRedisURL         = "redis://localhost:6379"
	defaultNATSURL          = "nats://localhost:4222"
	defaultTick             = time.Second
	defaultSnapshotInterval = 5 * time.Minute
	defaultSeverity         = 0.8
)

// Config is a node's configuration file (node.yml or node.toml).
type Config struct {
	Swarm     string          `yaml:"swarm" toml:"swarm"`
	NodeID    uint32          `yaml:"node_id,omitempty" toml:"node_id"` // 0 = generate
	Address   string          `yaml:"address,omitempty" toml:"address"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Timing    TimingConfig    `yaml:"timing" toml:"timing"`
	Healing   HealingConfig   `yaml:"healing" toml:"healing"`
	Snapshot  SnapshotConfig  `yaml:"snapshot" toml:"snapshot"`
	Health    HealthConfig    `yaml:"health" toml:"health"`
	Log       logging.Config  `yaml:"log" toml:"log"`
}

// TransportConfig selects the message bus.
type TransportConfig struct {
	Kind     string `yaml:"kind" toml:"kind"` // redis (default), nats or loopback
	RedisURL string `yaml:"redis_url,omitempty" toml:"redis_url"`
	NATSURL  string `yaml:"nats_url,omitempty" toml:"nats_url"`
	Buffer   int    `yaml:"buffer,omitempty" toml:"buffer"` // Inbound frame buffer per subscription
}

// TimingConfig holds the coordination cycle timings.
type TimingConfig struct {
	Tick                  time.Duration `yaml:"tick,omitempty" toml:"tick"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval,omitempty" toml:"heartbeat_interval"`
	KnowledgeSyncInterval time.Duration `yaml:"knowledge_sync_interval,omitempty" toml:"knowledge_sync_interval"`
	ShareWindow           time.Duration `yaml:"share_window,omitempty" toml:"share_window"`
	PeerDeadAfter         time.Duration `yaml:"peer_dead_after,omitempty" toml:"peer_dead_after"`
}

// HealingConfig configures the local oracle and escalation knobs.
type HealingConfig struct {
	Severity           float32      `yaml:"severity,omitempty" toml:"severity"` // Default severity of CLI heal requests
	ShareImportance    *float32     `yaml:"share_importance,omitempty" toml:"share_importance"`
	AutonomyHysteresis *float32     `yaml:"autonomy_hysteresis,omitempty" toml:"autonomy_hysteresis"`
	LocalHealth        *float32     `yaml:"local_health,omitempty" toml:"local_health"`
	DisableDefaults    bool         `yaml:"disable_default_rules,omitempty" toml:"disable_default_rules"`
	Rules              []RuleConfig `yaml:"rules,omitempty" toml:"rules"`
}

// RuleConfig is a healing rule as written in the config file.
type RuleConfig struct {
	Condition  string  `yaml:"condition" toml:"condition"`
	Action     string  `yaml:"action" toml:"action"` // none, retry, reroute, reconstruct, migrate
	Confidence float32 `yaml:"confidence" toml:"confidence"`
}

// SnapshotConfig enables periodic knowledge snapshots.
type SnapshotConfig struct {
	Backend  string        `yaml:"backend,omitempty" toml:"backend"` // "" (off), redis or sqlite
	Path     string        `yaml:"path,omitempty" toml:"path"`       // SQLite database file
	RedisURL string        `yaml:"redis_url,omitempty" toml:"redis_url"`
	Interval time.Duration `yaml:"interval,omitempty" toml:"interval"`
}

// HealthConfig enables the /healthz and /metrics server.
type HealthConfig struct {
	Addr string `yaml:"addr,omitempty" toml:"addr"` // e.g. ":9090"; empty disables
}

// Default returns a validated config for a loopback node with every default applied.
func Default() *Config {
	c := &Config{Transport: TransportConfig{Kind: TransportLoopback}}
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return c
}

// Validate checks the configuration and fills in defaults.
// A zero NodeID is replaced with a random one.
func (c *Config) Validate() error {
	if c.Swarm == "" {
		c.Swarm = defaultSwarm
	}
	if err := keyspace.ValidateSwarm(c.Swarm); err != nil {
		return err
	}
	if c.NodeID == 0 {
		c.NodeID = generateNodeID()
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}
	if err := c.Timing.validate(); err != nil {
		return err
	}
	if err := c.Healing.validate(); err != nil {
		return err
	}
	if err := c.Snapshot.validate(c.Transport.RedisURL); err != nil {
		return err
	}

	if _, err := logging.New(nil, c.Log); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (t *TransportConfig) validate() error {
	if t.Kind == "" {
		t.Kind = TransportRedis
	}
	switch t.Kind {
	case TransportRedis:
		if t.RedisURL == "" {
			t.RedisURL = defaultRedisURL
		}
	case TransportNATS:
		if t.NATSURL == "" {
			t.NATSURL = defaultNATSURL
		}
	case TransportLoopback:
	default:
		return fmt.Errorf("invalid transport.kind: %s (must be 'redis', 'nats' or 'loopback')", t.Kind)
	}
	if t.Buffer < 0 {
		return fmt.Errorf("transport.buffer must be >= 0, got %d", t.Buffer)
	}
	return nil
}

func (t *TimingConfig) validate() error {
	d := hive.DefaultSettings()
	defaults := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"tick", &t.Tick, defaultTick},
		{"heartbeat_interval", &t.HeartbeatInterval, d.HeartbeatInterval},
		{"knowledge_sync_interval", &t.KnowledgeSyncInterval, d.KnowledgeSyncInterval},
		{"share_window", &t.ShareWindow, d.ShareWindow},
		{"peer_dead_after", &t.PeerDeadAfter, d.PeerDeadAfter},
	}
	for _, f := range defaults {
		if *f.value == 0 {
			*f.value = f.def
		}
		if *f.value < 0 {
			return fmt.Errorf("timing.%s must be positive, got %s", f.name, *f.value)
		}
	}
	if t.Tick > t.HeartbeatInterval {
		return fmt.Errorf("timing.tick (%s) must not exceed timing.heartbeat_interval (%s)", t.Tick, t.HeartbeatInterval)
	}
	return nil
}

func (h *HealingConfig) validate() error {
	if h.Severity == 0 {
		h.Severity = defaultSeverity
	}
	if h.Severity < 0 || h.Severity > 1 {
		return fmt.Errorf("healing.severity must be in [0,1], got %v", h.Severity)
	}

	d := hive.DefaultSettings()
	if h.ShareImportance == nil {
		h.ShareImportance = &d.ShareImportance
	} else if *h.ShareImportance < 0 {
		return fmt.Errorf("healing.share_importance must be >= 0, got %v", *h.ShareImportance)
	}
	if h.AutonomyHysteresis == nil {
		h.AutonomyHysteresis = &d.AutonomyHysteresis
	} else if *h.AutonomyHysteresis < 0 || *h.AutonomyHysteresis > 0.2 {
		return fmt.Errorf("healing.autonomy_hysteresis must be in [0,0.2], got %v", *h.AutonomyHysteresis)
	}
	if h.LocalHealth == nil {
		full := float32(1)
		h.LocalHealth = &full
	} else if *h.LocalHealth < 0 || *h.LocalHealth > 1 {
		return fmt.Errorf("healing.local_health must be in [0,1], got %v", *h.LocalHealth)
	}

	for i, r := range h.Rules {
		if _, err := r.Rule(); err != nil {
			return fmt.Errorf("healing.rules[%d]: %w", i, err)
		}
	}
	return nil
}

func (s *SnapshotConfig) validate(transportRedisURL string) error {
	switch s.Backend {
	case SnapshotNone:
		return nil
	case SnapshotRedis:
		if s.RedisURL == "" {
			s.RedisURL = transportRedisURL
		}
		if s.RedisURL == "" {
			s.RedisURL = defaultRedisURL
		}
	case SnapshotSQLite:
		if s.Path == "" {
			return fmt.Errorf("snapshot.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("invalid snapshot.backend: %s (must be 'redis', 'sqlite' or omitted)", s.Backend)
	}
	if s.Interval == 0 {
		s.Interval = defaultSnapshotInterval
	}
	if s.Interval < 0 {
		return fmt.Errorf("snapshot.interval must be positive, got %s", s.Interval)
	}
	return nil
}

// Rule converts the config entry into a healing rule.
func (r RuleConfig) Rule() (healing.Rule, error) {
	if strings.TrimSpace(r.Condition) == "" {
		return healing.Rule{}, fmt.Errorf("condition is required")
	}
	action, err := healing.ParseAction(r.Action)
	if err != nil {
		return healing.Rule{}, err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return healing.Rule{}, fmt.Errorf("confidence must be in [0,1], got %v", r.Confidence)
	}
	return healing.Rule{Condition: r.Condition, Action: action, Confidence: r.Confidence}, nil
}

// OracleRules returns the rules a node's oracle starts with: the built-in
// defaults (unless disabled) followed by the configured rules, so configured
// rules win ties.
func (c *Config) OracleRules() ([]healing.Rule, error) {
	var rules []healing.Rule
	if !c.Healing.DisableDefaults {
		rules = healing.DefaultRules()
	}
	for i, rc := range c.Healing.Rules {
		r, err := rc.Rule()
		if err != nil {
			return nil, fmt.Errorf("healing.rules[%d]: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Settings returns the coordinator settings. Call after Validate.
func (c *Config) Settings() hive.Settings {
	s := hive.DefaultSettings()
	s.HeartbeatInterval = c.Timing.HeartbeatInterval
	s.KnowledgeSyncInterval = c.Timing.KnowledgeSyncInterval
	s.ShareWindow = c.Timing.ShareWindow
	s.PeerDeadAfter = c.Timing.PeerDeadAfter
	if c.Healing.ShareImportance != nil {
		s.ShareImportance = *c.Healing.ShareImportance
	}
	if c.Healing.AutonomyHysteresis != nil {
		s.AutonomyHysteresis = *c.Healing.AutonomyHysteresis
	}
	return s
}

// ApplyEnv overrides fields from environment variables read through getenv.
//
//	HIVE_SWARM, HIVE_NODE_ID, REDIS_URL, NATS_URL, HIVE_LOG_LEVEL, HIVE_HEALTH_ADDR
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("HIVE_SWARM"); v != "" {
		c.Swarm = v
	}
	if v := getenv("HIVE_NODE_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("failed to parse HIVE_NODE_ID: %w", err)
		}
		c.NodeID = uint32(id)
	}
	if v := getenv("REDIS_URL"); v != "" {
		c.Transport.RedisURL = v
	}
	if v := getenv("NATS_URL"); v != "" {
		c.Transport.NATSURL = v
	}
	if v := getenv("HIVE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("HIVE_HEALTH_ADDR"); v != "" {
		c.Health.Addr = v
	}
	return nil
}

// Load reads a node config from path, applies environment overrides and
// validates it. The format is chosen by extension: .yml/.yaml or .toml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &config); err != nil {
			return nil, fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (use .yml, .yaml or .toml)", ext)
	}

	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// generateNodeID derives a random, non-zero node ID from a v4 UUID.
func generateNodeID() uint32 {
	for {
		if id := uuid.New().ID(); id != 0 {
			return id
		}
	}
}
