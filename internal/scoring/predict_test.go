package scoring

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"leadline/internal/config"
)

func TestPredictProbabilityBounds(t *testing.T) {
	cfg := config.Default().Prediction

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	properties.Property("probability always lands strictly inside (0, 1)", prop.ForAll(
		func(score, src, stage, agent float64, count int) bool {
			s := Score{ContactID: "c-1", Value: clamp(score, 0, 100)}
			rates := BaseRates{Source: clamp(src, 0, 1), Stage: clamp(stage, 0, 1), Agent: clamp(agent, 0, 1)}
			p := Predict(cfg, s, rates, count, testNow).Probability
			return p > 0 && p < 1
		},
		gen.Float64Range(0, 100),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 50),
	))
	properties.TestingRun(t)
}

func TestPredictMonotonicInScore(t *testing.T) {
	cfg := config.Default().Prediction
	rates := BaseRates{Source: 0.5, Stage: 0.5, Agent: 0.5}
	lowScore := Predict(cfg, Score{Value: 20}, rates, 5, testNow)
	highScore := Predict(cfg, Score{Value: 90}, rates, 5, testNow)
	assert.Greater(t, highScore.Probability, lowScore.Probability)
}

func TestPredictLowConfidenceWithoutInteractions(t *testing.T) {
	cfg := config.Default().Prediction
	rates := BaseRates{Source: 0.6, Stage: 0.4, Agent: 0.5}

	cold := Predict(cfg, Score{Value: 40}, rates, 0, testNow)
	assert.True(t, cold.LowConfidence)

	warm := Predict(cfg, Score{Value: 40}, rates, 3, testNow)
	assert.False(t, warm.LowConfidence)

	// with no behavioral signal the score must not move the estimate
	coldHigher := Predict(cfg, Score{Value: 95}, rates, 0, testNow)
	assert.Equal(t, cold.Probability, coldHigher.Probability)
	assert.Greater(t, warm.Probability, cold.Probability)
}

func TestPredictTopFactorsSortedByContribution(t *testing.T) {
	cfg := config.Default().Prediction
	p := Predict(cfg, Score{Value: 80}, BaseRates{Source: 0.9, Stage: 0.3, Agent: 0.1}, 5, testNow)
	assert.Len(t, p.TopFactors, 4)
	for i := 1; i < len(p.TopFactors); i++ {
		assert.GreaterOrEqual(t, p.TopFactors[i-1].Contribution, p.TopFactors[i].Contribution)
	}
}
