package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadline/internal/domain"
	"leadline/internal/events"
	"leadline/internal/scoring"
)

const sweepLeaseName = "escalation"

// CycleResult summarizes one escalation sweep. Escalated is the total
// number of entities acted on across the three sub-steps. Errors carries
// per-entity failures that did not stop the sweep.
type CycleResult struct {
	StaleContactsFlagged  int      `json:"stale_contacts_flagged"`
	HotLeadsNotified      int      `json:"hot_leads_notified"`
	OverdueTasksEscalated int      `json:"overdue_tasks_escalated"`
	Escalated             int      `json:"escalated"`
	Errors                []string `json:"errors,omitempty"`
}

// RunEscalationCycle performs one full sweep: flag stale contacts, notify
// hot leads, escalate overdue tasks. At most one sweep runs at a time
// across all instances, enforced by a persisted named lease; a second
// caller gets ErrSweepActive. Each entity is handled in its own
// transaction so one failure cannot poison the rest, and rerunning the
// sweep without new activity acts on nothing.
func (e Engine) RunEscalationCycle(ctx context.Context) (CycleResult, error) {
	var res CycleResult
	owner := uuid.New().String()
	now := e.now()
	ok, err := e.Repo.AcquireSweepLease(ctx, sweepLeaseName, owner, now, e.Config.Escalation.SweepLeaseTTL())
	if err != nil {
		return res, err
	}
	if !ok {
		return res, ErrSweepActive
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Repo.ReleaseSweepLease(relCtx, sweepLeaseName, owner)
	}()

	e.flagStaleContacts(ctx, now, &res)
	e.notifyHotLeads(ctx, now, &res)
	e.escalateOverdueTasks(ctx, now, &res)

	res.Escalated = res.StaleContactsFlagged + res.HotLeadsNotified + res.OverdueTasksEscalated
	return res, nil
}

// flagStaleContacts marks non-terminal contacts with no interaction for
// the configured horizon. The stale marker records when the flag was
// raised; a later interaction re-arms the contact for a future sweep.
func (e Engine) flagStaleContacts(ctx context.Context, now time.Time, res *CycleResult) {
	cutoff := now.Add(-e.Config.Escalation.StaleAfter()).UTC().Format(time.RFC3339)
	candidates, err := e.Repo.StaleCandidates(ctx, cutoff)
	if err != nil {
		res.Errors = append(res.Errors, "stale scan: "+err.Error())
		return
	}
	flaggedAt := now.UTC().Format(time.RFC3339)
	for _, c := range candidates {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, "stale scan: "+ctx.Err().Error())
			return
		}
		if err := e.flagStale(ctx, c, flaggedAt); err != nil {
			res.Errors = append(res.Errors, "flag "+c.ID+": "+err.Error())
			continue
		}
		res.StaleContactsFlagged++
	}
}

func (e Engine) flagStale(ctx context.Context, c domain.Contact, flaggedAt string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetStaleFlagged(ctx, tx, c.ID, flaggedAt); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "contact.stale_flagged", "contact", c.ID, "system", events.EventPayload{
		"stage": c.Stage,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// notifyHotLeads fires a one-shot notification for any non-terminal
// contact whose freshly computed score crosses the hot threshold. The
// hot_notified_at marker suppresses repeats; it is cleared when the
// score drops back below threshold so a later re-crossing notifies
// again.
func (e Engine) notifyHotLeads(ctx context.Context, now time.Time, res *CycleResult) {
	contacts, err := e.Repo.ListContacts(ctx, listActive())
	if err != nil {
		res.Errors = append(res.Errors, "hot scan: "+err.Error())
		return
	}
	for _, c := range contacts {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, "hot scan: "+ctx.Err().Error())
			return
		}
		notified, err := e.checkHotLead(ctx, c, now)
		if err != nil {
			res.Errors = append(res.Errors, "hot "+c.ID+": "+err.Error())
			continue
		}
		if notified {
			res.HotLeadsNotified++
		}
	}
}

func (e Engine) checkHotLead(ctx context.Context, c domain.Contact, now time.Time) (bool, error) {
	snap, err := e.snapshotFor(ctx, c)
	if err != nil {
		return false, err
	}
	score := scoring.Calculate(e.Config.Scoring, snap, now)
	_, _ = e.Repo.UpdateContactScore(ctx, c.ID, score.Value,
		score.ComputedAt.UTC().Format(time.RFC3339), c.LastInteractionAt, c.Stage)

	hot := score.Value >= e.Config.Scoring.HotThreshold
	switch {
	case hot && c.HotNotifiedAt == nil:
		at := now.UTC().Format(time.RFC3339)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return false, err
		}
		defer tx.Rollback()
		if err := e.Repo.SetHotNotified(ctx, tx, c.ID, &at); err != nil {
			return false, err
		}
		if err := e.Events.Append(ctx, tx, "contact.hot", "contact", c.ID, "system", events.EventPayload{
			"score": score.Value,
			"stage": c.Stage,
		}); err != nil {
			return false, err
		}
		return true, tx.Commit()
	case !hot && c.HotNotifiedAt != nil:
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return false, err
		}
		defer tx.Rollback()
		if err := e.Repo.SetHotNotified(ctx, tx, c.ID, nil); err != nil {
			return false, err
		}
		return false, tx.Commit()
	}
	return false, nil
}

// escalateOverdueTasks moves pending tasks past their due date to
// overdue. The status precondition makes the step exactly-once: a task
// already escalated, or completed between scan and write, is left alone.
func (e Engine) escalateOverdueTasks(ctx context.Context, now time.Time, res *CycleResult) {
	nowStr := now.UTC().Format(time.RFC3339)
	tasks, err := e.Repo.OverdueCandidates(ctx, nowStr)
	if err != nil {
		res.Errors = append(res.Errors, "overdue scan: "+err.Error())
		return
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, "overdue scan: "+ctx.Err().Error())
			return
		}
		escalated, err := e.escalateTask(ctx, t, nowStr)
		if err != nil {
			res.Errors = append(res.Errors, "task "+t.ID+": "+err.Error())
			continue
		}
		if escalated {
			res.OverdueTasksEscalated++
		}
	}
}

func (e Engine) escalateTask(ctx context.Context, t domain.Task, escalatedAt string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	moved, err := e.Repo.MarkTaskOverdue(ctx, tx, t.ID, escalatedAt)
	if err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}
	if err := e.Events.Append(ctx, tx, "task.overdue", "task", t.ID, "system", events.EventPayload{
		"assigned_to": t.AssignedTo,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
