// Package config assembles runtime configuration from built-in defaults, an
// optional YAML file, and SENTINEL_* environment variables, in that
// precedence order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/basketproof/sentinel/internal/fusion"
	"github.com/basketproof/sentinel/internal/rules"
)

// Config is the full runtime configuration for the service.
type Config struct {
	// StreamAddr is the TCP address of the sensor stream server.
	StreamAddr string `yaml:"stream_addr" env:"SENTINEL_STREAM_ADDR"`

	// ListenAddr is the bind address for the HTTP surface
	// (websockets, replay triggers).
	ListenAddr string `yaml:"listen_addr" env:"SENTINEL_LISTEN_ADDR"`

	// CatalogPath points at the product catalog CSV. Empty or missing
	// means no catalog; weight checks fall back to observed weights.
	CatalogPath string `yaml:"catalog_path" env:"SENTINEL_CATALOG"`

	// AuditPath is the JSONL audit trail destination.
	AuditPath string `yaml:"audit_path" env:"SENTINEL_AUDIT_LOG"`

	// ScenarioDir holds recorded replay scenarios.
	ScenarioDir string `yaml:"scenario_dir" env:"SENTINEL_SCENARIO_DIR"`

	// ReplayDelay paces frames during scenario replays.
	ReplayDelay time.Duration `yaml:"replay_delay" env:"SENTINEL_REPLAY_DELAY"`

	// ReconnectBackoff is the delay between stream reconnect attempts.
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff" env:"SENTINEL_RECONNECT_BACKOFF"`

	Thresholds Thresholds `yaml:"thresholds"`

	// WatchRules are operator-defined boolean expressions evaluated
	// against every fresh station snapshot.
	WatchRules []rules.Rule `yaml:"watch_rules"`
}

// Thresholds mirrors the tunable fusion and alerting cutoffs.
type Thresholds struct {
	VisionConfidence   float64 `yaml:"vision_confidence" env:"SENTINEL_VISION_CONFIDENCE"`
	WeightTolerancePct float64 `yaml:"weight_tolerance_pct" env:"SENTINEL_WEIGHT_TOLERANCE_PCT"`
	Nudge              float64 `yaml:"nudge_score" env:"SENTINEL_NUDGE_SCORE"`
	Hold               float64 `yaml:"hold_score" env:"SENTINEL_HOLD_SCORE"`
}

// Default returns the built-in configuration.
func Default() Config {
	th := fusion.DefaultThresholds()
	return Config{
		StreamAddr:       "127.0.0.1:8765",
		ListenAddr:       ":8080",
		AuditPath:        "events.jsonl",
		ScenarioDir:      "scenarios",
		ReplayDelay:      45 * time.Millisecond,
		ReconnectBackoff: time.Second,
		Thresholds: Thresholds{
			VisionConfidence:   th.VisionConfidence,
			WeightTolerancePct: th.WeightTolerancePct,
			Nudge:              th.Nudge,
			Hold:               th.Hold,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is non-empty, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.StreamAddr == "" {
		return fmt.Errorf("config: stream_addr must not be empty")
	}
	if c.AuditPath == "" {
		return fmt.Errorf("config: audit_path must not be empty")
	}
	t := c.Thresholds
	if t.Nudge > t.Hold {
		return fmt.Errorf("config: nudge_score %.2f exceeds hold_score %.2f", t.Nudge, t.Hold)
	}
	if t.WeightTolerancePct <= 0 || t.WeightTolerancePct >= 1 {
		return fmt.Errorf("config: weight_tolerance_pct %.2f out of (0,1)", t.WeightTolerancePct)
	}
	return nil
}

// FusionThresholds converts the configured cutoffs into the fusion form.
func (c Config) FusionThresholds() fusion.Thresholds {
	return fusion.Thresholds{
		VisionConfidence:   c.Thresholds.VisionConfidence,
		WeightTolerancePct: c.Thresholds.WeightTolerancePct,
		Nudge:              c.Thresholds.Nudge,
		Hold:               c.Thresholds.Hold,
	}
}
