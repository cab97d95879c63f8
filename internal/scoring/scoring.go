// Package scoring computes contact priority scores and close-probability
// predictions. Everything here is a pure function over a snapshot of
// contact data; persistence and concurrency live in the engine.
package scoring

import (
	"math"
	"sort"
	"time"

	"leadline/internal/config"
)

// Touch is the slice of an interaction the score depends on.
type Touch struct {
	Type       string
	OccurredAt time.Time
}

// Snapshot is everything Calculate reads about one contact.
type Snapshot struct {
	ContactID    string
	Source       string
	Stage        string
	CreatedAt    time.Time
	Interactions []Touch
}

// Factor is one named contribution to a score.
type Factor struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
}

// Score is a computed priority with its factor breakdown. The value is a
// function of time-since-now, so recomputing later yields a different
// (lower-recency) score; that is expected, not drift.
type Score struct {
	ContactID  string    `json:"contact_id"`
	Value      float64   `json:"score"`
	Factors    []Factor  `json:"factors"`
	ComputedAt time.Time `json:"computed_at"`
}

// Calculate blends static attributes, recency-decayed interaction weight,
// trailing-window frequency, and stage progress into a 0-100 priority.
// Recomputing from the same interaction set and the same now always yields
// the same value regardless of input order: per-touch contributions are
// summed over a canonical ordering, so the result is bit-identical.
func Calculate(cfg config.ScoringConfig, snap Snapshot, now time.Time) Score {
	factors := []Factor{
		{Name: "source_quality", Contribution: cfg.SourceWeight(snap.Source)},
		{Name: "interaction_recency", Contribution: recencyComponent(cfg, snap.Interactions, now)},
		{Name: "interaction_frequency", Contribution: frequencyComponent(cfg, snap.Interactions, now)},
		{Name: "stage_progress", Contribution: cfg.StageBonus[snap.Stage]},
	}
	var total float64
	for _, f := range factors {
		total += f.Contribution
	}
	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Contribution != factors[j].Contribution {
			return factors[i].Contribution > factors[j].Contribution
		}
		return factors[i].Name < factors[j].Name
	})
	return Score{
		ContactID:  snap.ContactID,
		Value:      clamp(total, 0, 100),
		Factors:    factors,
		ComputedAt: now,
	}
}

// recencyComponent sums base-weight * decay^days for every touch. With the
// default decay of 0.85/day a touch keeps under 1% of its weight after 30
// days, so old history fades out rather than being cut off.
func recencyComponent(cfg config.ScoringConfig, touches []Touch, now time.Time) float64 {
	contributions := make([]float64, 0, len(touches))
	for _, t := range touches {
		days := now.Sub(t.OccurredAt).Hours() / 24
		if days < 0 {
			days = 0
		}
		contributions = append(contributions, cfg.InteractionWeight(t.Type)*math.Pow(cfg.DecayFactor, days))
	}
	sort.Float64s(contributions)
	var sum float64
	for _, c := range contributions {
		sum += c
	}
	return sum
}

// frequencyComponent rewards touch volume inside the trailing window,
// capped so a burst of notes cannot dominate the score.
func frequencyComponent(cfg config.ScoringConfig, touches []Touch, now time.Time) float64 {
	cutoff := now.AddDate(0, 0, -cfg.FrequencyWindowDays)
	count := 0
	for _, t := range touches {
		// future timestamps are clamped to now, so they land in the window
		if !t.OccurredAt.Before(cutoff) {
			count++
		}
	}
	v := float64(count) * cfg.FrequencyWeight
	if cfg.FrequencyCap > 0 && v > cfg.FrequencyCap {
		v = cfg.FrequencyCap
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
