package repo

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/domain"
)

const contactColumns = `id,name,source,stage,score,assigned_agent,lost_reason,created_at,last_interaction_at,score_updated_at,stale_flagged_at,hot_notified_at`

func scanContact(scan func(dest ...any) error) (domain.Contact, error) {
	var c domain.Contact
	var agent, lostReason, lastInteraction, scoreUpdated, staleFlagged, hotNotified sql.NullString
	err := scan(&c.ID, &c.Name, &c.Source, &c.Stage, &c.Score, &agent, &lostReason,
		&c.CreatedAt, &lastInteraction, &scoreUpdated, &staleFlagged, &hotNotified)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, classify(err)
	}
	c.AssignedAgent = optionalString(agent)
	c.LostReason = optionalString(lostReason)
	c.LastInteractionAt = optionalString(lastInteraction)
	c.ScoreUpdatedAt = optionalString(scoreUpdated)
	c.StaleFlaggedAt = optionalString(staleFlagged)
	c.HotNotifiedAt = optionalString(hotNotified)
	return c, nil
}

func (r Repo) InsertContact(ctx context.Context, tx *sql.Tx, c domain.Contact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contacts(`+contactColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.Name, c.Source, c.Stage, c.Score, nullableStringPtr(c.AssignedAgent), nullableStringPtr(c.LostReason),
		c.CreatedAt, nullableStringPtr(c.LastInteractionAt), nullableStringPtr(c.ScoreUpdatedAt),
		nullableStringPtr(c.StaleFlaggedAt), nullableStringPtr(c.HotNotifiedAt))
	return classify(err)
}

func (r Repo) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	row := r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=?`, id)
	return scanContact(row.Scan)
}

func (r Repo) GetContactTx(ctx context.Context, tx *sql.Tx, id string) (domain.Contact, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id=?`, id)
	return scanContact(row.Scan)
}

// ContactFilters narrows ListContacts. Zero values mean "any".
type ContactFilters struct {
	Stage         string
	Source        string
	AssignedAgent string
	ActiveOnly    bool
	Limit         int
}

func (r Repo) ListContacts(ctx context.Context, f ContactFilters) ([]domain.Contact, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	q := builder().Select(strings.Split(contactColumns, ",")...).
		From("contacts").
		OrderBy("created_at DESC", "id DESC")
	if f.Stage != "" {
		q = q.Where(sq.Eq{"stage": f.Stage})
	}
	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if f.AssignedAgent != "" {
		q = q.Where(sq.Eq{"assigned_agent": f.AssignedAgent})
	}
	if f.ActiveOnly {
		q = q.Where(sq.NotEq{"stage": []string{domain.StageWon, domain.StageLost}})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, classify(rows.Err())
}

// UpdateContactStage moves a contact only if the current stage matches
// expected. A concurrent mover sees zero affected rows and must retry
// with a fresh read.
func (r Repo) UpdateContactStage(ctx context.Context, tx *sql.Tx, id, expectedStage, toStage string, lostReason *string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE contacts SET stage=?, lost_reason=? WHERE id=? AND stage=?`,
		toStage, nullableStringPtr(lostReason), id, expectedStage)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateContactScore persists a recomputed score with optimistic
// concurrency: the write only lands if last_interaction_at and stage are
// unchanged since the snapshot was read. Returns false when the contact
// moved concurrently and the stale score was discarded.
func (r Repo) UpdateContactScore(ctx context.Context, id string, score float64, computedAt string, readLastInteraction *string, readStage string) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var res sql.Result
	var err error
	if readLastInteraction == nil {
		res, err = r.DB.ExecContext(ctx,
			`UPDATE contacts SET score=?, score_updated_at=? WHERE id=? AND last_interaction_at IS NULL AND stage=?`,
			score, computedAt, id, readStage)
	} else {
		res, err = r.DB.ExecContext(ctx,
			`UPDATE contacts SET score=?, score_updated_at=? WHERE id=? AND last_interaction_at=? AND stage=?`,
			score, computedAt, id, *readLastInteraction, readStage)
	}
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// TouchLastInteraction bumps last_interaction_at inside the interaction
// append transaction. The stale flag survives; staleness is judged against
// last_interaction_at, so a fresh touch implicitly unflags the contact.
func (r Repo) TouchLastInteraction(ctx context.Context, tx *sql.Tx, id, occurredAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE contacts SET last_interaction_at=? WHERE id=? AND (last_interaction_at IS NULL OR last_interaction_at < ?)`,
		occurredAt, id, occurredAt)
	return classify(err)
}

func (r Repo) SetStaleFlagged(ctx context.Context, tx *sql.Tx, id, flaggedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE contacts SET stale_flagged_at=? WHERE id=?`, flaggedAt, id)
	return classify(err)
}

func (r Repo) SetHotNotified(ctx context.Context, tx *sql.Tx, id string, notifiedAt *string) error {
	_, err := tx.ExecContext(ctx, `UPDATE contacts SET hot_notified_at=? WHERE id=?`, nullableStringPtr(notifiedAt), id)
	return classify(err)
}

// StaleCandidates returns non-terminal contacts whose last interaction is
// older than cutoff and that have not been flagged since that interaction.
// Contacts with no interactions at all are judged by created_at.
func (r Repo) StaleCandidates(ctx context.Context, cutoff string) ([]domain.Contact, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts
WHERE stage NOT IN (?,?)
  AND COALESCE(last_interaction_at, created_at) < ?
  AND (stale_flagged_at IS NULL OR stale_flagged_at < COALESCE(last_interaction_at, created_at))
ORDER BY COALESCE(last_interaction_at, created_at) ASC`,
		domain.StageWon, domain.StageLost, cutoff)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, classify(rows.Err())
}

// CountContactsByStage tallies the current pipeline population.
func (r Repo) CountContactsByStage(ctx context.Context) (map[string]int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT stage, COUNT(*) FROM contacts GROUP BY stage`)
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

// CountContactsCreatedBetween counts contacts entering the funnel in
// [from, to). Entry is creation, not a transition row.
func (r Repo) CountContactsCreatedBetween(ctx context.Context, from, to string) (int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts WHERE created_at >= ? AND created_at < ?`, from, to).Scan(&n)
	return n, classify(err)
}

func (r Repo) DeleteContact(ctx context.Context, id string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	res, err := r.DB.ExecContext(ctx, `DELETE FROM contacts WHERE id=?`, id)
	if err != nil {
		return classify(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
