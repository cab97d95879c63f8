package server

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"leadline/internal/engine"
)

// trackingPixel is a transparent 1x1 GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// registerTracking mounts the open/click beacon outside the authed API.
// The handler always answers the caller: a pixel for opens, a redirect
// for clicks. Recording failures are logged and swallowed because a
// broken image in a customer's mail client is worse than a lost count.
func registerTracking(router chi.Router, e engine.Engine, log *zap.Logger) {
	router.Get("/metrics/track", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		// short aliases keep beacon URLs inside mail-client length limits
		opts := engine.TrackOptions{
			CampaignID: firstParam(q, "campaign", "c"),
			ContactID:  firstParam(q, "contact", "u"),
			Type:       firstParam(q, "event", "e"),
			Metadata:   q.Get("meta"),
		}
		if opts.Type == "" {
			opts.Type = "opened"
		}
		if _, err := e.TrackEvent(r.Context(), opts); err != nil {
			log.Warn("track event failed",
				zap.String("campaign_id", opts.CampaignID),
				zap.String("event_type", opts.Type),
				zap.Error(err))
		}
		if opts.Type == "clicked" {
			target := q.Get("url")
			if target == "" {
				target = "/"
			}
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "image/gif")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(trackingPixel)
	})
}

func firstParam(q url.Values, names ...string) string {
	for _, n := range names {
		if v := q.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func registerCampaigns(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "campaign-stats",
		Method:      http.MethodGet,
		Path:        "/campaigns/{campaign_id}/stats",
		Summary:     "Campaign engagement stats",
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body engine.CampaignStats `json:"body"`
	}, error) {
		stats, err := e.GetCampaignStats(ctx, input.CampaignID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CampaignStats `json:"body"`
		}{Body: stats}, nil
	})
}
