package repo

import (
	"context"
	"database/sql"

	"leadline/internal/domain"
)

func (r Repo) InsertInteraction(ctx context.Context, tx *sql.Tx, in domain.Interaction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO interactions(id,contact_id,type,occurred_at,payload,actor_id) VALUES (?,?,?,?,?,?)`,
		in.ID, in.ContactID, in.Type, in.OccurredAt, nullable(in.Payload), in.ActorID)
	return classify(err)
}

// ListInteractions returns the full interaction history for a contact,
// oldest first.
func (r Repo) ListInteractions(ctx context.Context, contactID string) ([]domain.Interaction, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT id,contact_id,type,occurred_at,COALESCE(payload,''),actor_id FROM interactions WHERE contact_id=? ORDER BY occurred_at ASC, id ASC`, contactID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.Interaction
	for rows.Next() {
		var in domain.Interaction
		if err := rows.Scan(&in.ID, &in.ContactID, &in.Type, &in.OccurredAt, &in.Payload, &in.ActorID); err != nil {
			return nil, classify(err)
		}
		res = append(res, in)
	}
	return res, classify(rows.Err())
}

// CountInteractionsSince counts touches for a contact after the cutoff.
func (r Repo) CountInteractionsSince(ctx context.Context, contactID, cutoff string) (int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM interactions WHERE contact_id=? AND occurred_at >= ?`, contactID, cutoff).Scan(&n)
	return n, classify(err)
}
