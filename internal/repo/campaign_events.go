package repo

import (
	"context"

	"leadline/internal/domain"
)

// InsertCampaignEvent appends one campaign event unless its natural key
// (campaign, contact, type, time bucket) already exists. Returns false for
// a duplicate, which callers treat as a silent no-op.
func (r Repo) InsertCampaignEvent(ctx context.Context, ev domain.CampaignEvent) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO campaign_events(id,campaign_id,contact_id,event_type,occurred_at,bucket,metadata) VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.CampaignID, ev.ContactID, ev.Type, ev.OccurredAt, ev.Bucket, nullable(ev.Metadata))
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CampaignEventCounts tallies events for one campaign by type.
func (r Repo) CampaignEventCounts(ctx context.Context, campaignID string) (map[string]int, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	rows, err := r.DB.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM campaign_events WHERE campaign_id=? GROUP BY event_type`, campaignID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, classify(err)
		}
		res[kind] = n
	}
	return res, classify(rows.Err())
}

// ListCampaignEvents returns events for a campaign, newest first.
func (r Repo) ListCampaignEvents(ctx context.Context, campaignID string, limit int) ([]domain.CampaignEvent, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()
	query := `SELECT id,campaign_id,contact_id,event_type,occurred_at,bucket,COALESCE(metadata,'') FROM campaign_events WHERE campaign_id=? ORDER BY occurred_at DESC, id DESC`
	args := []any{campaignID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var res []domain.CampaignEvent
	for rows.Next() {
		var ev domain.CampaignEvent
		if err := rows.Scan(&ev.ID, &ev.CampaignID, &ev.ContactID, &ev.Type, &ev.OccurredAt, &ev.Bucket, &ev.Metadata); err != nil {
			return nil, classify(err)
		}
		res = append(res, ev)
	}
	return res, classify(rows.Err())
}
