package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"leadline/internal/domain"
	"leadline/internal/repo"
	"leadline/internal/scoring"
)

func listActive() repo.ContactFilters {
	return repo.ContactFilters{ActiveOnly: true}
}

func listAll() repo.ContactFilters {
	return repo.ContactFilters{}
}

// snapshotFor loads everything the scoring functions need for one contact.
func (e Engine) snapshotFor(ctx context.Context, c domain.Contact) (scoring.Snapshot, error) {
	ins, err := e.Repo.ListInteractions(ctx, c.ID)
	if err != nil {
		return scoring.Snapshot{}, err
	}
	created, _ := time.Parse(time.RFC3339, c.CreatedAt)
	snap := scoring.Snapshot{
		ContactID: c.ID,
		Source:    c.Source,
		Stage:     c.Stage,
		CreatedAt: created,
	}
	for _, in := range ins {
		at, err := time.Parse(time.RFC3339, in.OccurredAt)
		if err != nil {
			continue
		}
		snap.Interactions = append(snap.Interactions, scoring.Touch{Type: in.Type, OccurredAt: at})
	}
	return snap, nil
}

// CalculateScore recomputes a contact's priority score from its full
// interaction history and best-effort persists the cached value. The
// cached write is optimistic: if the contact changed since the snapshot
// was read, the stale value is discarded rather than written.
func (e Engine) CalculateScore(ctx context.Context, contactID string) (scoring.Score, error) {
	c, err := e.Repo.GetContact(ctx, contactID)
	if err != nil {
		return scoring.Score{}, err
	}
	snap, err := e.snapshotFor(ctx, c)
	if err != nil {
		return scoring.Score{}, err
	}
	score := scoring.Calculate(e.Config.Scoring, snap, e.now())
	computedAt := score.ComputedAt.UTC().Format(time.RFC3339)
	_, _ = e.Repo.UpdateContactScore(ctx, c.ID, score.Value, computedAt, c.LastInteractionAt, c.Stage)
	return score, nil
}

// BatchResult reports one batch recalculation pass.
type BatchResult struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// BatchRecalculateScores recomputes and persists the cached score for
// every non-terminal contact. Safe to run alongside live traffic: each
// write is guarded per contact, concurrently modified contacts are
// skipped and counted, and cancellation stops between contacts so no
// entity is left half-updated.
func (e Engine) BatchRecalculateScores(ctx context.Context) (BatchResult, error) {
	var res BatchResult
	contacts, err := e.Repo.ListContacts(ctx, listActive())
	if err != nil {
		return res, err
	}
	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		snap, err := e.snapshotFor(ctx, c)
		if err != nil {
			return res, err
		}
		score := scoring.Calculate(e.Config.Scoring, snap, e.now())
		ok, err := e.Repo.UpdateContactScore(ctx, c.ID, score.Value,
			score.ComputedAt.UTC().Format(time.RFC3339), c.LastInteractionAt, c.Stage)
		if err != nil {
			return res, err
		}
		if ok {
			res.Updated++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// baseRates assembles historical conversion rates for one contact,
// falling back to the overall rate for groups with no terminal history.
func (e Engine) baseRates(ctx context.Context, c domain.Contact) (scoring.BaseRates, int, error) {
	overallByKey, err := e.Repo.OutcomeRates(ctx, "")
	if err != nil {
		return scoring.BaseRates{}, 0, err
	}
	overall := overallByKey[""].Rate(0.5)
	bySource, err := e.Repo.OutcomeRates(ctx, "source")
	if err != nil {
		return scoring.BaseRates{}, 0, err
	}
	byAgent, err := e.Repo.OutcomeRates(ctx, "assigned_agent")
	if err != nil {
		return scoring.BaseRates{}, 0, err
	}
	byStage, err := e.Repo.StageOutcomeRates(ctx)
	if err != nil {
		return scoring.BaseRates{}, 0, err
	}
	agent := ""
	if c.AssignedAgent != nil {
		agent = *c.AssignedAgent
	}
	count, err := e.Repo.CountInteractionsSince(ctx, c.ID, "0001-01-01T00:00:00Z")
	if err != nil {
		return scoring.BaseRates{}, 0, err
	}
	return scoring.BaseRates{
		Source: bySource[c.Source].Rate(overall),
		Stage:  byStage[c.Stage].Rate(overall),
		Agent:  byAgent[agent].Rate(overall),
	}, count, nil
}

// PredictScore produces a bounded close probability for one contact.
func (e Engine) PredictScore(ctx context.Context, contactID string) (scoring.Prediction, error) {
	c, err := e.Repo.GetContact(ctx, contactID)
	if err != nil {
		return scoring.Prediction{}, err
	}
	snap, err := e.snapshotFor(ctx, c)
	if err != nil {
		return scoring.Prediction{}, err
	}
	now := e.now()
	score := scoring.Calculate(e.Config.Scoring, snap, now)
	rates, interactions, err := e.baseRates(ctx, c)
	if err != nil {
		return scoring.Prediction{}, err
	}
	return scoring.Predict(e.Config.Prediction, score, rates, interactions, now), nil
}

// CallScript is a suggested outreach script for one contact. Talking
// points follow the score factor breakdown, strongest factor first.
type CallScript struct {
	ContactID     string   `json:"contact_id"`
	Opening       string   `json:"opening"`
	TalkingPoints []string `json:"talking_points"`
	Closing       string   `json:"closing"`
	Probability   float64  `json:"probability"`
}

var scriptClosings = map[string]string{
	domain.StageNew:         "Ask for a short intro call.",
	domain.StageContacted:   "Ask about budget and travel dates.",
	domain.StageQualified:   "Offer to put together a proposal.",
	domain.StageProposal:    "Ask what is holding up a decision on the proposal.",
	domain.StageNegotiation: "Agree on final terms and a booking date.",
}

func scriptPointFor(f scoring.Factor, c domain.Contact) string {
	switch f.Name {
	case "source_quality":
		return fmt.Sprintf("They found us via %s; reference how they heard about us.", c.Source)
	case "interaction_recency":
		return "Pick up where the last conversation left off while it is fresh."
	case "interaction_frequency":
		return "They have been engaging often; match their pace."
	case "stage_progress":
		return fmt.Sprintf("The deal is at %s; focus on what unblocks the next step.", c.Stage)
	}
	return ""
}

// BuildCallScript assembles an outreach script from the contact's score
// and prediction factor breakdowns. Terminal contacts have no next call.
func (e Engine) BuildCallScript(ctx context.Context, contactID string) (CallScript, error) {
	c, err := e.Repo.GetContact(ctx, contactID)
	if err != nil {
		return CallScript{}, err
	}
	if domain.IsTerminalStage(c.Stage) {
		return CallScript{}, ValidationError("no call script for a closed contact")
	}
	snap, err := e.snapshotFor(ctx, c)
	if err != nil {
		return CallScript{}, err
	}
	now := e.now()
	score := scoring.Calculate(e.Config.Scoring, snap, now)
	rates, interactions, err := e.baseRates(ctx, c)
	if err != nil {
		return CallScript{}, err
	}
	pred := scoring.Predict(e.Config.Prediction, score, rates, interactions, now)

	var points []string
	for _, f := range score.Factors {
		if f.Contribution <= 0 {
			continue
		}
		if p := scriptPointFor(f, c); p != "" {
			points = append(points, p)
		}
	}
	switch {
	case pred.LowConfidence:
		points = append(points, "Little history to go on yet; spend the call qualifying.")
	case pred.Probability >= 0.6:
		points = append(points, "Close odds look strong; be direct about booking.")
	}

	return CallScript{
		ContactID:     c.ID,
		Opening:       fmt.Sprintf("Hi %s, following up on your travel plans.", c.Name),
		TalkingPoints: points,
		Closing:       scriptClosings[c.Stage],
		Probability:   pred.Probability,
	}, nil
}

// TopPredictions ranks all active contacts by close probability, ties
// broken by most recent interaction, and returns at most limit entries.
func (e Engine) TopPredictions(ctx context.Context, limit int) ([]scoring.Prediction, error) {
	if limit <= 0 {
		limit = 10
	}
	contacts, err := e.Repo.ListContacts(ctx, listActive())
	if err != nil {
		return nil, err
	}
	type ranked struct {
		p    scoring.Prediction
		last string
	}
	var all []ranked
	for _, c := range contacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := e.PredictScore(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		last := ""
		if c.LastInteractionAt != nil {
			last = *c.LastInteractionAt
		}
		all = append(all, ranked{p: p, last: last})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].p.Probability != all[j].p.Probability {
			return all[i].p.Probability > all[j].p.Probability
		}
		return all[i].last > all[j].last
	})
	if len(all) > limit {
		all = all[:limit]
	}
	res := make([]scoring.Prediction, 0, len(all))
	for _, r := range all {
		res = append(res, r.p)
	}
	return res, nil
}
