package repo

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"leadline/internal/domain"
)

// LatestEvents returns the newest audit log entries, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	q := builder().Select("id", "ts", "type", "entity_kind", "entity_id", "actor_id", "payload_json").
		From("events").
		OrderBy("id DESC").
		Limit(uint64(limit))
	if evtType != "" {
		q = q.Where(sq.Eq{"type": evtType})
	}
	if entityKind != "" {
		q = q.Where(sq.Eq{"entity_kind": entityKind})
	}
	if entityID != "" {
		q = q.Where(sq.Eq{"entity_id": entityID})
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
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entID, &e.ActorID, &payload); err != nil {
			return nil, classify(err)
		}
		if entID.Valid {
			e.EntityID = entID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, classify(rows.Err())
}
