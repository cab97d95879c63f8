package scoring

import (
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/config"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func touchesSnapshot(touches []Touch) Snapshot {
	return Snapshot{
		ContactID:    "c-1",
		Source:       "website",
		Stage:        "qualified",
		CreatedAt:    testNow.AddDate(0, -6, 0),
		Interactions: touches,
	}
}

func TestCalculateIsOrderIndependent(t *testing.T) {
	cfg := config.Default().Scoring
	kinds := []string{"call", "email", "whatsapp", "meeting", "note"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("shuffled interactions produce a bit-identical score", prop.ForAll(
		func(seeds []int, shuffleSeed int64) bool {
			touches := make([]Touch, len(seeds))
			for i, s := range seeds {
				touches[i] = Touch{
					Type:       kinds[abs(s)%len(kinds)],
					OccurredAt: testNow.Add(-time.Duration(abs(s)%2000) * time.Hour),
				}
			}
			base := Calculate(cfg, touchesSnapshot(touches), testNow)

			shuffled := make([]Touch, len(touches))
			copy(shuffled, touches)
			rand.New(rand.NewSource(shuffleSeed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})
			got := Calculate(cfg, touchesSnapshot(shuffled), testNow)
			return got.Value == base.Value
		},
		gen.SliceOf(gen.IntRange(0, 100000)),
		gen.Int64(),
	))

	properties.Property("score stays within [0, 100]", prop.ForAll(
		func(seeds []int) bool {
			touches := make([]Touch, len(seeds))
			for i, s := range seeds {
				touches[i] = Touch{
					Type:       kinds[abs(s)%len(kinds)],
					OccurredAt: testNow.Add(-time.Duration(abs(s)%2000) * time.Hour),
				}
			}
			v := Calculate(cfg, touchesSnapshot(touches), testNow).Value
			return v >= 0 && v <= 100
		},
		gen.SliceOf(gen.IntRange(0, 100000)),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestRecencyDecay(t *testing.T) {
	cfg := config.Default().Scoring
	fresh := Calculate(cfg, touchesSnapshot([]Touch{{Type: "meeting", OccurredAt: testNow}}), testNow)
	aged := Calculate(cfg, touchesSnapshot([]Touch{{Type: "meeting", OccurredAt: testNow.AddDate(0, 0, -30)}}), testNow)

	freshRecency := factorValue(t, fresh, "interaction_recency")
	agedRecency := factorValue(t, aged, "interaction_recency")
	assert.InDelta(t, 10.0, freshRecency, 1e-9, "same-day meeting keeps its full weight")
	assert.Less(t, agedRecency, 0.1, "30-day-old meeting keeps under 1% of its weight")
	assert.Greater(t, agedRecency, 0.0, "old interactions fade, never go negative")
}

func TestFutureTimestampsAreClamped(t *testing.T) {
	cfg := config.Default().Scoring
	future := Calculate(cfg, touchesSnapshot([]Touch{{Type: "call", OccurredAt: testNow.Add(48 * time.Hour)}}), testNow)
	present := Calculate(cfg, touchesSnapshot([]Touch{{Type: "call", OccurredAt: testNow}}), testNow)
	assert.Equal(t, present.Value, future.Value, "future touches count as happening now")
}

func TestFrequencyCap(t *testing.T) {
	cfg := config.Default().Scoring
	touches := make([]Touch, 50)
	for i := range touches {
		touches[i] = Touch{Type: "note", OccurredAt: testNow.Add(-time.Duration(i) * time.Hour)}
	}
	s := Calculate(cfg, touchesSnapshot(touches), testNow)
	assert.Equal(t, cfg.FrequencyCap, factorValue(t, s, "interaction_frequency"))
}

func TestFactorBreakdownSumsToScore(t *testing.T) {
	cfg := config.Default().Scoring
	s := Calculate(cfg, touchesSnapshot([]Touch{
		{Type: "meeting", OccurredAt: testNow.AddDate(0, 0, -1)},
		{Type: "email", OccurredAt: testNow.AddDate(0, 0, -3)},
	}), testNow)
	require.Len(t, s.Factors, 4)
	var sum float64
	for _, f := range s.Factors {
		sum += f.Contribution
	}
	assert.InDelta(t, s.Value, sum, 1e-9)
}

func TestNoInteractionsStillScoresStatics(t *testing.T) {
	cfg := config.Default().Scoring
	s := Calculate(cfg, touchesSnapshot(nil), testNow)
	// website 10 + qualified 12
	assert.Equal(t, 22.0, s.Value)
}

func factorValue(t *testing.T, s Score, name string) float64 {
	t.Helper()
	for _, f := range s.Factors {
		if f.Name == name {
			return f.Contribution
		}
	}
	t.Fatalf("factor %s missing from %+v", name, s.Factors)
	return 0
}
