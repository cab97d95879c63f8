package engine_test

import (
	"testing"
	"time"

	"leadline/internal/domain"
)

func TestPipelineMetrics(t *testing.T) {
	env := newTestEnv(t)
	from := env.now.Add(-time.Hour).Format(time.RFC3339)

	a := env.mustCreateContact(t, "Mover", "referral")
	env.mustCreateContact(t, "Stayer", "cold")

	env.mustMove(t, a.ID, "contacted")
	env.Advance(10 * time.Hour)
	env.mustMove(t, a.ID, "qualified")

	to := env.now.Add(time.Hour).Format(time.RFC3339)
	report, err := env.Engine.PipelineMetrics(env.Ctx, from, to)
	if err != nil {
		t.Fatal(err)
	}

	byStage := map[string]int{}
	for i, m := range report.Stages {
		byStage[m.Stage] = i
	}

	newM := report.Stages[byStage["new"]]
	if newM.Count != 1 {
		t.Fatalf("one contact still in new, got %d", newM.Count)
	}
	if newM.ConversionRate != nil {
		t.Fatalf("new has no predecessor, conversion must be nil")
	}

	contacted := report.Stages[byStage["contacted"]]
	if contacted.ConversionRate == nil || *contacted.ConversionRate != 0.5 {
		t.Fatalf("contacted conversion = %v, want 0.5", contacted.ConversionRate)
	}
	if contacted.VelocityHours == nil || *contacted.VelocityHours != 10 {
		t.Fatalf("contacted velocity = %v, want 10h", contacted.VelocityHours)
	}

	qualified := report.Stages[byStage["qualified"]]
	if qualified.ConversionRate == nil || *qualified.ConversionRate != 1 {
		t.Fatalf("qualified conversion = %v, want 1", qualified.ConversionRate)
	}
	if qualified.VelocityHours != nil {
		t.Fatalf("nothing left qualified, velocity must be nil")
	}

	proposal := report.Stages[byStage["proposal"]]
	if proposal.ConversionRate == nil || *proposal.ConversionRate != 0 {
		t.Fatalf("proposal conversion = %v, want 0", proposal.ConversionRate)
	}

	won := report.Stages[byStage["won"]]
	if won.ConversionRate != nil {
		t.Fatalf("no contact reached negotiation, won conversion must be nil")
	}
}

func TestKanbanSnapshotOrdersByScore(t *testing.T) {
	env := newTestEnv(t)
	low := env.mustCreateContact(t, "Low", "cold")
	high := env.mustCreateContact(t, "High", "referral")
	if _, err := env.Engine.CalculateScore(env.Ctx, low.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CalculateScore(env.Ctx, high.ID); err != nil {
		t.Fatal(err)
	}

	cols, err := env.Engine.KanbanSnapshot(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != len(domain.Stages) {
		t.Fatalf("expected a column per stage, got %d", len(cols))
	}
	var newCol []domain.Contact
	for _, col := range cols {
		if col.Stage == domain.StageNew {
			newCol = col.Contacts
		}
	}
	if len(newCol) != 2 {
		t.Fatalf("expected 2 contacts in new, got %d", len(newCol))
	}
	if newCol[0].ID != high.ID {
		t.Fatalf("highest score must lead the column")
	}
}
