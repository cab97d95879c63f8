package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"leadline/internal/domain"
)

// TrackOptions are parameters for recording one campaign event.
type TrackOptions struct {
	CampaignID string
	ContactID  string
	Type       string
	OccurredAt time.Time
	Metadata   string
}

// TrackEvent records one campaign open or click. Repeated hits for the
// same (campaign, contact, type) inside the de-duplication window
// collapse into the first row; duplicates are a silent no-op. Recording
// is fire-and-forget from the caller's point of view: the return value
// reports whether a new row was written, never that a duplicate arrived.
func (e Engine) TrackEvent(ctx context.Context, opts TrackOptions) (bool, error) {
	if opts.CampaignID == "" {
		return false, ValidationError("campaign_id is required")
	}
	if opts.ContactID == "" {
		return false, ValidationError("contact_id is required")
	}
	if opts.Type != "opened" && opts.Type != "clicked" {
		return false, ValidationError("event type must be opened or clicked")
	}
	occurred := opts.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}
	occurred = occurred.UTC()
	bucket := occurred.Truncate(e.Config.Tracking.DedupWindow())
	ev := domain.CampaignEvent{
		ID:         uuid.New().String(),
		CampaignID: opts.CampaignID,
		ContactID:  opts.ContactID,
		Type:       opts.Type,
		OccurredAt: occurred.Format(time.RFC3339),
		Bucket:     bucket.Format(time.RFC3339),
		Metadata:   opts.Metadata,
	}
	return e.Repo.InsertCampaignEvent(ctx, ev)
}

// CampaignStats summarizes one campaign's engagement.
type CampaignStats struct {
	CampaignID string `json:"campaign_id"`
	Opened     int    `json:"opened"`
	Clicked    int    `json:"clicked"`
}

func (e Engine) GetCampaignStats(ctx context.Context, campaignID string) (CampaignStats, error) {
	counts, err := e.Repo.CampaignEventCounts(ctx, campaignID)
	if err != nil {
		return CampaignStats{}, err
	}
	return CampaignStats{
		CampaignID: campaignID,
		Opened:     counts["opened"],
		Clicked:    counts["clicked"],
	}, nil
}
