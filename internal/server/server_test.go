package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/migrate"
	"leadline/internal/repo"
)

const testAPIKey = "test-api-key"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Escalation.Secret = "sweep-secret"
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, domain.APIKey{
		ID:        "key-1",
		ActorID:   "tester",
		Name:      "test",
		KeyHash:   repo.HashAPIKey(testAPIKey),
		CreatedAt: "2026-03-01T09:00:00Z",
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{JWTSecret: "jwt-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", testAPIKey)
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope.Error.Code
}

func TestHealthIsOpen(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	ts := newTestServer(t)
	res, err := http.Get(ts.URL + "/v1/contacts")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestContactLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	res, data := ts.doJSON(t, http.MethodPost, "/v1/contacts", map[string]any{
		"name":   "Alice",
		"source": "referral",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var c domain.Contact
	require.NoError(t, json.Unmarshal(data, &c))
	assert.Equal(t, "new", c.Stage)

	res, data = ts.doJSON(t, http.MethodPost, "/v1/pipeline/move", map[string]any{
		"contact_id": c.ID,
		"to_stage":   "contacted",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	// skipping a stage is a conflict with the offending edge in details
	res, data = ts.doJSON(t, http.MethodPost, "/v1/pipeline/move", map[string]any{
		"contact_id": c.ID,
		"to_stage":   "negotiation",
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "invalid_transition", errorCode(t, data))
}

func TestMissingLostReasonMapped(t *testing.T) {
	ts := newTestServer(t)
	_, data := ts.doJSON(t, http.MethodPost, "/v1/contacts", map[string]any{"name": "Bob"})
	var c domain.Contact
	require.NoError(t, json.Unmarshal(data, &c))

	res, data := ts.doJSON(t, http.MethodPost, "/v1/pipeline/move", map[string]any{
		"contact_id": c.ID,
		"to_stage":   "lost",
	})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "missing_reason", errorCode(t, data))
}

func TestUnknownContactIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	res, data := ts.doJSON(t, http.MethodGet, "/v1/contacts/ghost", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestEscalationSecret(t *testing.T) {
	ts := newTestServer(t)

	res, err := http.Post(ts.URL+"/v1/escalation?secret=wrong", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, err = http.Post(ts.URL+"/v1/escalation?secret=sweep-secret", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var result engine.CycleResult
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	assert.Equal(t, 0, result.Escalated)
}

func TestTrackingPixelAlwaysResponds(t *testing.T) {
	ts := newTestServer(t)

	res, err := ts.client.Get(ts.URL + "/metrics/track?campaign=camp-1&contact=c-1&event=opened")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/gif", res.Header.Get("Content-Type"))

	// malformed beacons still get a pixel back
	res2, err := ts.client.Get(ts.URL + "/metrics/track?event=opened")
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusOK, res2.StatusCode)

	// clicks redirect to the target
	res3, err := ts.client.Get(ts.URL + "/metrics/track?campaign=camp-1&contact=c-1&event=clicked&url=https%3A%2F%2Fexample.com%2Foffer")
	require.NoError(t, err)
	defer res3.Body.Close()
	assert.Equal(t, http.StatusFound, res3.StatusCode)
	assert.Equal(t, "https://example.com/offer", res3.Header.Get("Location"))

	// short beacon params are equivalent to the long names
	res4, err := ts.client.Get(ts.URL + "/metrics/track?c=camp-1&u=c-2&e=opened")
	require.NoError(t, err)
	defer res4.Body.Close()
	assert.Equal(t, http.StatusOK, res4.StatusCode)

	stats, err := ts.Engine.GetCampaignStats(context.Background(), "camp-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Opened)
	assert.Equal(t, 1, stats.Clicked)
}

func TestAIEndpoints(t *testing.T) {
	ts := newTestServer(t)
	_, data := ts.doJSON(t, http.MethodPost, "/v1/contacts", map[string]any{
		"name":   "Carol",
		"source": "website",
	})
	var c domain.Contact
	require.NoError(t, json.Unmarshal(data, &c))

	res, data := ts.doJSON(t, http.MethodGet, "/v1/ai?action=score&contact_id="+c.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = ts.doJSON(t, http.MethodGet, "/v1/ai?action=predict&contact_id="+c.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var predictBody struct {
		Prediction struct {
			LowConfidence bool `json:"low_confidence"`
		} `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(data, &predictBody))
	assert.True(t, predictBody.Prediction.LowConfidence, "contact with no interactions must be low confidence")

	res, data = ts.doJSON(t, http.MethodGet, "/v1/ai?action=script&contact_id="+c.ID, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var scriptBody struct {
		Script struct {
			Opening       string   `json:"opening"`
			TalkingPoints []string `json:"talking_points"`
			Closing       string   `json:"closing"`
		} `json:"script"`
	}
	require.NoError(t, json.Unmarshal(data, &scriptBody))
	assert.Contains(t, scriptBody.Script.Opening, "Carol")
	assert.NotEmpty(t, scriptBody.Script.Closing)

	res, _ = ts.doJSON(t, http.MethodGet, "/v1/ai?action=batch_score", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data = ts.doJSON(t, http.MethodGet, "/v1/ai?action=score", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))
}
