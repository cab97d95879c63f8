package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Scoring.HotThreshold != Default().Scoring.HotThreshold {
		t.Fatalf("hot threshold changed across round trip: %v", cfg.Scoring.HotThreshold)
	}
	if cfg.Scoring.SourceWeights["referral"] != 15 {
		t.Fatalf("referral weight = %v", cfg.Scoring.SourceWeights["referral"])
	}
}

func TestLoadOptionalFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if cfg.Escalation.StaleAfterDays != 30 {
		t.Fatalf("stale_after_days = %d", cfg.Escalation.StaleAfterDays)
	}
}

func TestPartialFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	data := []byte("scoring:\n  hot_threshold: 60\n")
	if err := os.WriteFile(filepath.Join(dir, "leadline.yml"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scoring.HotThreshold != 60 {
		t.Fatalf("hot_threshold = %v, want 60", cfg.Scoring.HotThreshold)
	}
	if cfg.Scoring.DecayFactor != 0.85 {
		t.Fatalf("decay_factor lost its default: %v", cfg.Scoring.DecayFactor)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"decay out of range", func(c *Config) { c.Scoring.DecayFactor = 1.5 }},
		{"zero frequency window", func(c *Config) { c.Scoring.FrequencyWindowDays = 0 }},
		{"threshold above 100", func(c *Config) { c.Scoring.HotThreshold = 150 }},
		{"negative source weight", func(c *Config) { c.Scoring.SourceWeights["website"] = -1 }},
		{"zero lease", func(c *Config) { c.Escalation.SweepLeaseMinutes = 0 }},
		{"zero dedup window", func(c *Config) { c.Tracking.DedupWindowMinutes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
