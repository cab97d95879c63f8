package scoring

import (
	"math"
	"sort"
	"time"

	"leadline/internal/config"
)

// BaseRates are historical conversion rates for a contact's grouping keys,
// each in [0,1]. The engine derives them from terminal outcomes in the
// store; groups with no history fall back to the overall rate.
type BaseRates struct {
	Source float64 `json:"source"`
	Stage  float64 `json:"stage"`
	Agent  float64 `json:"agent"`
}

// Prediction is a bounded close probability with its top contributing
// factors. LowConfidence marks contacts predicted from base rates alone.
type Prediction struct {
	ContactID     string    `json:"contact_id"`
	Probability   float64   `json:"probability"`
	TopFactors    []Factor  `json:"top_factors"`
	LowConfidence bool      `json:"low_confidence"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Predict combines the score breakdown with historical base rates through
// a weighted sum and a sigmoid, so the output is a probability rather than
// a raw score. Contacts with no interaction history are predicted from
// source/stage base rates only and flagged low confidence.
func Predict(cfg config.PredictionConfig, score Score, rates BaseRates, interactionCount int, now time.Time) Prediction {
	factors := []Factor{
		{Name: "priority_score", Contribution: cfg.ScoreWeight * score.Value / 100},
		{Name: "source_history", Contribution: cfg.SourceWeight * rates.Source},
		{Name: "stage_history", Contribution: cfg.StageWeight * rates.Stage},
		{Name: "agent_history", Contribution: cfg.AgentWeight * rates.Agent},
	}
	low := interactionCount == 0
	linear := cfg.Bias
	for _, f := range factors {
		if low && f.Name == "priority_score" {
			// no behavioral signal; don't let the stage-bonus floor
			// masquerade as engagement
			continue
		}
		linear += f.Contribution
	}
	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Contribution != factors[j].Contribution {
			return factors[i].Contribution > factors[j].Contribution
		}
		return factors[i].Name < factors[j].Name
	})
	return Prediction{
		ContactID:     score.ContactID,
		Probability:   sigmoid(linear),
		TopFactors:    factors,
		LowConfidence: low,
		GeneratedAt:   now,
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
