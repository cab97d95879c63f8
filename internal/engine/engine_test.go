package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

// Advance moves the test clock forward.
func (env testEnv) Advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return now }
	return testEnv{Engine: eng, Ctx: context.Background(), now: &now}
}

func (env testEnv) mustCreateContact(t *testing.T, name, source string) domain.Contact {
	t.Helper()
	c, err := env.Engine.CreateContact(env.Ctx, engine.ContactCreateOptions{
		Name:    name,
		Source:  source,
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	return c
}

func (env testEnv) mustMove(t *testing.T, contactID, stage string) domain.Contact {
	t.Helper()
	c, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID:   contactID,
		ToStage:     stage,
		PerformedBy: "tester",
	})
	if err != nil {
		t.Fatalf("move to %s: %v", stage, err)
	}
	return c
}

func TestForwardPipelinePath(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Alice", "referral")
	if c.Stage != domain.StageNew {
		t.Fatalf("new contact starts in %s", c.Stage)
	}
	for _, stage := range []string{"contacted", "qualified", "proposal", "negotiation", "won"} {
		c = env.mustMove(t, c.ID, stage)
		if c.Stage != stage {
			t.Fatalf("expected stage %s, got %s", stage, c.Stage)
		}
	}
	trs, err := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 5 {
		t.Fatalf("expected 5 transition rows, got %d", len(trs))
	}
	if trs[0].FromStage != "new" || trs[4].ToStage != "won" {
		t.Fatalf("transition history out of order: %+v", trs)
	}
}

func TestSkippingStagesRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Bob", "website")
	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "proposal", PerformedBy: "tester",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != "new" || ite.To != "proposal" {
		t.Fatalf("wrong edge in error: %+v", ite)
	}
	got, err := env.Engine.Repo.GetContact(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stage != domain.StageNew {
		t.Fatalf("failed move must not change stage, got %s", got.Stage)
	}
	trs, _ := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	if len(trs) != 0 {
		t.Fatalf("failed move must not record a transition, got %d", len(trs))
	}
}

func TestBackwardEdges(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Carol", "website")
	env.mustMove(t, c.ID, "contacted")
	env.mustMove(t, c.ID, "qualified")
	env.mustMove(t, c.ID, "proposal")
	env.mustMove(t, c.ID, "negotiation")

	// re-qualification path back to the top of the funnel
	got := env.mustMove(t, c.ID, "contacted")
	if got.Stage != domain.StageContacted {
		t.Fatalf("expected contacted, got %s", got.Stage)
	}

	// qualified cannot jump back to new
	env.mustMove(t, c.ID, "qualified")
	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "new", PerformedBy: "tester",
	})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
}

func TestTerminalStagesAreImmutable(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Dave", "cold")
	env.mustMove(t, c.ID, "contacted")
	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "lost", LostReason: "budget", PerformedBy: "tester",
	})
	if err != nil {
		t.Fatalf("move to lost: %v", err)
	}
	for _, stage := range []string{"contacted", "won", "lost"} {
		_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
			ContactID: c.ID, ToStage: stage, LostReason: "x", PerformedBy: "tester",
		})
		var ite engine.InvalidTransitionError
		if !errors.As(err, &ite) {
			t.Fatalf("move out of lost to %s: expected InvalidTransitionError, got %v", stage, err)
		}
	}
}

func TestLostRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Eve", "facebook")
	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "lost", PerformedBy: "tester",
	})
	if !errors.Is(err, engine.ErrMissingReason) {
		t.Fatalf("expected ErrMissingReason, got %v", err)
	}
	got, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "lost", LostReason: "went dark", PerformedBy: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.LostReason == nil || *got.LostReason != "went dark" {
		t.Fatalf("lost reason not persisted: %+v", got.LostReason)
	}
}

func TestInteractionBumpsLastTouch(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Frank", "website")
	if _, err := env.Engine.AddInteraction(env.Ctx, engine.InteractionOptions{
		ContactID: c.ID, Type: "call", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.Repo.GetContact(env.Ctx, c.ID)
	if got.LastInteractionAt == nil {
		t.Fatal("last_interaction_at not set")
	}
	want := env.now.UTC().Format(time.RFC3339)
	if *got.LastInteractionAt != want {
		t.Fatalf("last_interaction_at = %s, want %s", *got.LastInteractionAt, want)
	}

	// an older interaction must not move the watermark backward
	if _, err := env.Engine.AddInteraction(env.Ctx, engine.InteractionOptions{
		ContactID:  c.ID,
		Type:       "email",
		OccurredAt: env.now.AddDate(0, 0, -7),
		ActorID:    "tester",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetContact(env.Ctx, c.ID)
	if *got.LastInteractionAt != want {
		t.Fatalf("backdated interaction moved watermark to %s", *got.LastInteractionAt)
	}
}

func TestUnknownStageRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Grace", "website")
	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "archived", PerformedBy: "tester",
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestBatchRecalculateScores(t *testing.T) {
	env := newTestEnv(t)
	a := env.mustCreateContact(t, "Hot", "referral")
	env.mustCreateContact(t, "Cold", "cold")
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.AddInteraction(env.Ctx, engine.InteractionOptions{
			ContactID: a.ID, Type: "meeting", ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	res, err := env.Engine.BatchRecalculateScores(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 2 || res.Skipped != 0 {
		t.Fatalf("batch result %+v", res)
	}
	got, _ := env.Engine.Repo.GetContact(env.Ctx, a.ID)
	if got.Score <= 0 {
		t.Fatalf("score not persisted, got %v", got.Score)
	}
}

func TestBatchSkipsConcurrentlyModifiedContact(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Busy", "website")
	env.mustCreateContact(t, "Calm", "cold")

	// a single-contact interaction lands between the batch's snapshot
	// read and its guarded score write; the stale write must be skipped,
	// not applied
	rival := env.Engine
	base := *env.now
	fired := false
	env.Engine.Now = func() time.Time {
		if !fired {
			fired = true
			if _, err := rival.AddInteraction(env.Ctx, engine.InteractionOptions{
				ContactID: c.ID, Type: "call", ActorID: "rival",
			}); err != nil {
				t.Fatal(err)
			}
		}
		return base
	}

	res, err := env.Engine.BatchRecalculateScores(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Updated != 1 || res.Skipped != 1 {
		t.Fatalf("batch result %+v, want 1 updated and 1 skipped", res)
	}
	got, _ := env.Engine.Repo.GetContact(env.Ctx, c.ID)
	if got.ScoreUpdatedAt != nil {
		t.Fatalf("stale score written over concurrent interaction")
	}
}

func TestConcurrentMoveLoserRejected(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Race", "website")

	// a rival commits the same move after our stage read but before our
	// guarded write; exactly one mover may win
	rival := env.Engine
	fired := false
	env.Engine.Now = func() time.Time {
		if !fired {
			fired = true
			if _, err := rival.MoveToStage(env.Ctx, engine.MoveOptions{
				ContactID: c.ID, ToStage: "contacted", PerformedBy: "rival",
			}); err != nil {
				t.Fatal(err)
			}
		}
		return *env.now
	}

	_, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "contacted", PerformedBy: "tester",
	})
	if !errors.Is(err, engine.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	got, _ := env.Engine.Repo.GetContact(env.Ctx, c.ID)
	if got.Stage != domain.StageContacted {
		t.Fatalf("winner's move lost: stage %s", got.Stage)
	}
	trs, _ := env.Engine.Repo.ListTransitions(env.Ctx, c.ID)
	if len(trs) != 1 {
		t.Fatalf("expected 1 transition row, got %d", len(trs))
	}
}

func TestCallScriptFollowsFactorBreakdown(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Judy", "referral")
	env.mustMove(t, c.ID, "contacted")
	env.mustMove(t, c.ID, "qualified")
	if _, err := env.Engine.AddInteraction(env.Ctx, engine.InteractionOptions{
		ContactID: c.ID, Type: "meeting", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}

	script, err := env.Engine.BuildCallScript(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script.Opening, "Judy") {
		t.Fatalf("opening does not address the contact: %q", script.Opening)
	}
	if len(script.TalkingPoints) == 0 {
		t.Fatal("no talking points")
	}
	// referral source is the strongest factor, so its point leads
	if !strings.Contains(script.TalkingPoints[0], "referral") {
		t.Fatalf("strongest factor not first: %q", script.TalkingPoints[0])
	}
	if !strings.Contains(script.Closing, "proposal") {
		t.Fatalf("closing does not match stage: %q", script.Closing)
	}
	if script.Probability <= 0 || script.Probability >= 1 {
		t.Fatalf("probability out of range: %v", script.Probability)
	}
}

func TestCallScriptRejectsClosedContacts(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Done", "website")
	env.mustMove(t, c.ID, "contacted")
	if _, err := env.Engine.MoveToStage(env.Ctx, engine.MoveOptions{
		ContactID: c.ID, ToStage: "lost", LostReason: "no budget", PerformedBy: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.BuildCallScript(env.Ctx, c.ID)
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCalculateScoreMatchesDirectComputation(t *testing.T) {
	env := newTestEnv(t)
	c := env.mustCreateContact(t, "Ivy", "referral")
	if _, err := env.Engine.AddInteraction(env.Ctx, engine.InteractionOptions{
		ContactID: c.ID, Type: "meeting", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	s1, err := env.Engine.CalculateScore(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := env.Engine.CalculateScore(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s1.Value != s2.Value {
		t.Fatalf("same inputs, different scores: %v vs %v", s1.Value, s2.Value)
	}
	// referral 15 + meeting 10 + frequency 2 + stage 0
	if s1.Value != 27 {
		t.Fatalf("expected 27, got %v", s1.Value)
	}
}
