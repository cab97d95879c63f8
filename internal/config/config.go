package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models leadline.yml.
type Config struct {
	Scoring    ScoringConfig    `yaml:"scoring"`
	Prediction PredictionConfig `yaml:"prediction"`
	Escalation EscalationConfig `yaml:"escalation"`
	Tracking   TrackingConfig   `yaml:"tracking"`
}

// ScoringConfig tunes the priority score. The decay factor is per day: at
// 0.85 an interaction keeps under 1% of its weight after 30 days.
type ScoringConfig struct {
	DecayFactor         float64            `yaml:"decay_factor"`
	FrequencyWindowDays int                `yaml:"frequency_window_days"`
	FrequencyWeight     float64            `yaml:"frequency_weight"`
	FrequencyCap        float64            `yaml:"frequency_cap"`
	DefaultSourceWeight float64            `yaml:"default_source_weight"`
	SourceWeights       map[string]float64 `yaml:"source_weights"`
	InteractionWeights  map[string]float64 `yaml:"interaction_weights"`
	StageBonus          map[string]float64 `yaml:"stage_bonus"`
	HotStages           []string           `yaml:"hot_stages"`
	HotThreshold        float64            `yaml:"hot_threshold"`
}

// PredictionConfig holds the logistic-combination weights.
type PredictionConfig struct {
	Bias         float64 `yaml:"bias"`
	ScoreWeight  float64 `yaml:"score_weight"`
	SourceWeight float64 `yaml:"source_weight"`
	StageWeight  float64 `yaml:"stage_weight"`
	AgentWeight  float64 `yaml:"agent_weight"`
}

type EscalationConfig struct {
	StaleAfterDays    int    `yaml:"stale_after_days"`
	SweepLeaseMinutes int    `yaml:"sweep_lease_minutes"`
	IntervalMinutes   int    `yaml:"interval_minutes"`
	Secret            string `yaml:"secret"`
}

type TrackingConfig struct {
	DedupWindowMinutes int `yaml:"dedup_window_minutes"`
}

// SweepLeaseTTL returns the sweep lease duration.
func (c EscalationConfig) SweepLeaseTTL() time.Duration {
	return time.Duration(c.SweepLeaseMinutes) * time.Minute
}

// StaleAfter returns the stale-contact threshold as a duration.
func (c EscalationConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

// DedupWindow returns the campaign-event de-duplication window.
func (c TrackingConfig) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowMinutes) * time.Minute
}

// SourceWeight resolves the quality weight for a lead source.
func (c ScoringConfig) SourceWeight(source string) float64 {
	if w, ok := c.SourceWeights[source]; ok {
		return w
	}
	return c.DefaultSourceWeight
}

// InteractionWeight resolves the base weight for an interaction type.
func (c ScoringConfig) InteractionWeight(kind string) float64 {
	if w, ok := c.InteractionWeights[kind]; ok {
		return w
	}
	return 1
}

// IsHotStage reports whether entering stage should trigger a score recompute.
func (c ScoringConfig) IsHotStage(stage string) bool {
	for _, s := range c.HotStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scoring.DecayFactor <= 0 || c.Scoring.DecayFactor >= 1 {
		return fmt.Errorf("config.scoring.decay_factor must be in (0,1)")
	}
	if c.Scoring.FrequencyWindowDays <= 0 {
		return fmt.Errorf("config.scoring.frequency_window_days must be positive")
	}
	if c.Scoring.HotThreshold <= 0 || c.Scoring.HotThreshold > 100 {
		return fmt.Errorf("config.scoring.hot_threshold must be in (0,100]")
	}
	for src, w := range c.Scoring.SourceWeights {
		if w < 0 {
			return fmt.Errorf("config.scoring.source_weights.%s is negative", src)
		}
	}
	if c.Escalation.StaleAfterDays <= 0 {
		return fmt.Errorf("config.escalation.stale_after_days must be positive")
	}
	if c.Escalation.SweepLeaseMinutes <= 0 {
		return fmt.Errorf("config.escalation.sweep_lease_minutes must be positive")
	}
	if c.Tracking.DedupWindowMinutes <= 0 {
		return fmt.Errorf("config.tracking.dedup_window_minutes must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "leadline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with ll config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scoring: ScoringConfig{
			DecayFactor:         0.85,
			FrequencyWindowDays: 14,
			FrequencyWeight:     2,
			FrequencyCap:        20,
			DefaultSourceWeight: 5,
			SourceWeights: map[string]float64{
				"referral": 15,
				"website":  10,
				"whatsapp": 8,
				"walk_in":  6,
				"facebook": 4,
				"cold":     2,
			},
			InteractionWeights: map[string]float64{
				"meeting":  10,
				"call":     6,
				"whatsapp": 4,
				"email":    3,
				"note":     1,
			},
			StageBonus: map[string]float64{
				"new":         0,
				"contacted":   5,
				"qualified":   12,
				"proposal":    20,
				"negotiation": 28,
			},
			HotStages:    []string{"proposal", "negotiation"},
			HotThreshold: 75,
		},
		Prediction: PredictionConfig{
			Bias:         -2.5,
			ScoreWeight:  3,
			SourceWeight: 1.5,
			StageWeight:  2,
			AgentWeight:  1,
		},
		Escalation: EscalationConfig{
			StaleAfterDays:    30,
			SweepLeaseMinutes: 10,
			IntervalMinutes:   0,
		},
		Tracking: TrackingConfig{
			DedupWindowMinutes: 60,
		},
	}
}

// GenerateDefault returns the default config as YAML, for ll config init.
func GenerateDefault() string {
	out, _ := yaml.Marshal(Default())
	return string(out)
}
