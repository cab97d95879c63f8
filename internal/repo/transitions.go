package repo

import (
	"context"
	"database/sql"

	"leadline/internal/domain"
)

func (r Repo) InsertTransition(ctx context.Context, tx *sql.Tx, t domain.Transition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transitions(id,contact_id,from_stage,to_stage,lost_reason,performed_by,performed_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.ContactID, t.FromStage, t.ToStage, nullableStringPtr(t.LostReason), t.PerformedBy, t.PerformedAt)
	return classify(err)
}

func scanTransition(scan func(dest ...any) error) (domain.Transition, error) {
	var t domain.Transition
	var lostReason sql.NullString
	err := scan(&t.ID, &t.ContactID, &t.FromStage, &t.ToStage, &lostReason, &t.PerformedBy, &t.PerformedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, classify(err)
	}
	t.LostReason = optionalString(lostReason)
	return t, nil
}

const transitionColumns = `id,contact_id,from_stage,to_stage,lost_reason,performed_by,performed_at`

// ListTransitions returns a contact's full stage history, oldest first.
func (r Repo) ListTransitions(ctx context.Context, contactID string) ([]domain.Transition, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE contact_id=? ORDER BY performed_at ASC, id ASC`, contactID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		t, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, classify(rows.Err())
}

// ListTransitionsInRange returns all transitions inside [from, to), grouped
// by contact in performed order, for metrics computation.
func (r Repo) ListTransitionsInRange(ctx context.Context, from, to string) ([]domain.Transition, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE performed_at >= ? AND performed_at < ? ORDER BY contact_id ASC, performed_at ASC, id ASC`, from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Transition
	for rows.Next() {
		t, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, classify(rows.Err())
}

// LatestTransition returns the most recent stage change for a contact.
func (r Repo) LatestTransition(ctx context.Context, contactID string) (domain.Transition, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	row := r.DB.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM transitions WHERE contact_id=? ORDER BY performed_at DESC, id DESC LIMIT 1`, contactID)
	return scanTransition(row.Scan)
}

// OutcomeRates aggregates historical win/loss outcomes grouped by the given
// contact column (source, assigned_agent). Only terminal contacts count.
func (r Repo) OutcomeRates(ctx context.Context, column string) (map[string]Outcome, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var query string
	switch column {
	case "source":
		query = `SELECT COALESCE(source,''), stage, COUNT(*) FROM contacts WHERE stage IN (?,?) GROUP BY source, stage`
	case "assigned_agent":
		query = `SELECT COALESCE(assigned_agent,''), stage, COUNT(*) FROM contacts WHERE stage IN (?,?) GROUP BY assigned_agent, stage`
	default:
		query = `SELECT '', stage, COUNT(*) FROM contacts WHERE stage IN (?,?) GROUP BY stage`
	}
	rows, err := r.DB.QueryContext(ctx, query, domain.StageWon, domain.StageLost)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := map[string]Outcome{}
	for rows.Next() {
		var key, stage string
		var n int
		if err := rows.Scan(&key, &stage, &n); err != nil {
			return nil, classify(err)
		}
		o := res[key]
		if stage == domain.StageWon {
			o.Won += n
		} else {
			o.Lost += n
		}
		res[key] = o
	}
	return res, classify(rows.Err())
}

// StageReachCounts counts, per stage, how many distinct contacts entered
// it inside [from, to). Drives funnel conversion metrics.
func (r Repo) StageReachCounts(ctx context.Context, from, to string) (map[string]int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT to_stage, COUNT(DISTINCT contact_id) FROM transitions WHERE performed_at >= ? AND performed_at < ? GROUP BY to_stage`, from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, classify(err)
		}
		res[stage] = n
	}
	return res, classify(rows.Err())
}

// StageOutcomeRates tallies, per stage ever reached, how the contacts that
// reached it eventually finished. Drives the stage base rate.
func (r Repo) StageOutcomeRates(ctx context.Context) (map[string]Outcome, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT tr.to_stage, c.stage, COUNT(DISTINCT tr.contact_id)
FROM transitions tr JOIN contacts c ON c.id = tr.contact_id
WHERE c.stage IN (?,?)
GROUP BY tr.to_stage, c.stage`, domain.StageWon, domain.StageLost)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := map[string]Outcome{}
	for rows.Next() {
		var stage, final string
		var n int
		if err := rows.Scan(&stage, &final, &n); err != nil {
			return nil, classify(err)
		}
		o := res[stage]
		if final == domain.StageWon {
			o.Won += n
		} else {
			o.Lost += n
		}
		res[stage] = o
	}
	return res, classify(rows.Err())
}

// Outcome is a won/lost tally for one grouping key.
type Outcome struct {
	Won  int
	Lost int
}

// Rate returns the historical conversion rate, or fallback when the group
// has no terminal history yet.
func (o Outcome) Rate(fallback float64) float64 {
	total := o.Won + o.Lost
	if total == 0 {
		return fallback
	}
	return float64(o.Won) / float64(total)
}
