package engine_test

import (
	"errors"
	"testing"
	"time"

	"leadline/internal/engine"
)

func TestTrackEventDeduplicatesWithinWindow(t *testing.T) {
	env := newTestEnv(t)
	opts := engine.TrackOptions{
		CampaignID: "spring-sale",
		ContactID:  "c-1",
		Type:       "opened",
	}
	written, err := env.Engine.TrackEvent(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !written {
		t.Fatal("first event not written")
	}

	// same mail client re-fetching the pixel inside the window
	env.Advance(10 * time.Minute)
	written, err = env.Engine.TrackEvent(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if written {
		t.Fatal("duplicate inside window was written")
	}
	stats, err := env.Engine.GetCampaignStats(env.Ctx, "spring-sale")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Opened != 1 {
		t.Fatalf("opened = %d, want 1", stats.Opened)
	}

	// outside the window a new open counts again
	env.Advance(2 * time.Hour)
	written, err = env.Engine.TrackEvent(env.Ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !written {
		t.Fatal("event outside window not written")
	}

	// a different event type is never deduplicated against opens
	clicked := opts
	clicked.Type = "clicked"
	written, err = env.Engine.TrackEvent(env.Ctx, clicked)
	if err != nil || !written {
		t.Fatalf("clicked event: written=%v err=%v", written, err)
	}

	stats, err = env.Engine.GetCampaignStats(env.Ctx, "spring-sale")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Opened != 2 || stats.Clicked != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestTrackEventValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.TrackOptions{
		{ContactID: "c-1", Type: "opened"},
		{CampaignID: "camp", Type: "opened"},
		{CampaignID: "camp", ContactID: "c-1", Type: "bounced"},
	}
	for _, opts := range cases {
		_, err := env.Engine.TrackEvent(env.Ctx, opts)
		var ve engine.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%+v: expected ValidationError, got %v", opts, err)
		}
	}
}
