package engine

import (
	"context"
	"sort"
	"time"

	"leadline/internal/domain"
)

// StageMetrics is the per-stage slice of a pipeline report.
type StageMetrics struct {
	Stage          string   `json:"stage"`
	Count          int      `json:"count"`
	ConversionRate *float64 `json:"conversion_rate,omitempty"`
	VelocityHours  *float64 `json:"velocity_hours,omitempty"`
}

// PipelineReport aggregates pipeline health over a reporting window.
type PipelineReport struct {
	From   string         `json:"from" format:"date-time"`
	To     string         `json:"to" format:"date-time"`
	Stages []StageMetrics `json:"stages"`
}

// PipelineMetrics builds the funnel report for transitions performed in
// [from, to). Conversion for a stage is contacts that reached it divided
// by contacts that reached its predecessor; it is omitted when the
// predecessor saw no traffic. Velocity is the median dwell time in hours
// before leaving the stage, omitted when nothing left it in the window.
func (e Engine) PipelineMetrics(ctx context.Context, from, to string) (PipelineReport, error) {
	report := PipelineReport{From: from, To: to}
	reach, err := e.Repo.StageReachCounts(ctx, from, to)
	if err != nil {
		return report, err
	}
	entered, err := e.Repo.CountContactsCreatedBetween(ctx, from, to)
	if err != nil {
		return report, err
	}
	reach[domain.StageNew] = entered

	transitions, err := e.Repo.ListTransitionsInRange(ctx, from, to)
	if err != nil {
		return report, err
	}
	dwell := stageDwellHours(transitions)

	forward := []string{
		domain.StageNew, domain.StageContacted, domain.StageQualified,
		domain.StageProposal, domain.StageNegotiation, domain.StageWon,
	}
	counts, err := e.Repo.CountContactsByStage(ctx)
	if err != nil {
		return report, err
	}
	for i, stage := range forward {
		m := StageMetrics{Stage: stage, Count: counts[stage]}
		if i > 0 {
			prev := reach[forward[i-1]]
			if prev > 0 {
				rate := float64(reach[stage]) / float64(prev)
				m.ConversionRate = &rate
			}
		}
		if hours, ok := dwell[stage]; ok {
			h := hours
			m.VelocityHours = &h
		}
		report.Stages = append(report.Stages, m)
	}
	report.Stages = append(report.Stages, StageMetrics{Stage: domain.StageLost, Count: counts[domain.StageLost]})
	return report, nil
}

// stageDwellHours computes the median time contacts spent in each stage,
// derived from consecutive transitions of the same contact. The input is
// ordered by contact then performed_at, which ListTransitionsInRange
// guarantees.
func stageDwellHours(transitions []domain.Transition) map[string]float64 {
	samples := map[string][]float64{}
	for i := 1; i < len(transitions); i++ {
		prev, cur := transitions[i-1], transitions[i]
		if prev.ContactID != cur.ContactID {
			continue
		}
		if prev.ToStage != cur.FromStage {
			continue
		}
		start, err1 := time.Parse(time.RFC3339, prev.PerformedAt)
		end, err2 := time.Parse(time.RFC3339, cur.PerformedAt)
		if err1 != nil || err2 != nil {
			continue
		}
		samples[prev.ToStage] = append(samples[prev.ToStage], end.Sub(start).Hours())
	}
	out := map[string]float64{}
	for stage, hours := range samples {
		sort.Float64s(hours)
		n := len(hours)
		if n%2 == 1 {
			out[stage] = hours[n/2]
		} else {
			out[stage] = (hours[n/2-1] + hours[n/2]) / 2
		}
	}
	return out
}

// KanbanColumn is one stage's bucket in the board view.
type KanbanColumn struct {
	Stage    string           `json:"stage"`
	Contacts []domain.Contact `json:"contacts"`
}

// KanbanSnapshot buckets every contact by stage, highest score first
// within each column. Columns appear for all stages, empty ones included.
func (e Engine) KanbanSnapshot(ctx context.Context) ([]KanbanColumn, error) {
	contacts, err := e.Repo.ListContacts(ctx, listAll())
	if err != nil {
		return nil, err
	}
	byStage := map[string][]domain.Contact{}
	for _, c := range contacts {
		byStage[c.Stage] = append(byStage[c.Stage], c)
	}
	cols := make([]KanbanColumn, 0, len(domain.Stages))
	for _, stage := range domain.Stages {
		bucket := byStage[stage]
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Score > bucket[j].Score })
		if bucket == nil {
			bucket = []domain.Contact{}
		}
		cols = append(cols, KanbanColumn{Stage: stage, Contacts: bucket})
	}
	return cols, nil
}
