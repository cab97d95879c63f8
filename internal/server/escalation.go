package server

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"leadline/internal/engine"
)

// registerEscalation exposes the cron-style sweep trigger. The endpoint
// sits outside JWT auth so external schedulers can call it; a shared
// secret in the query string gates access instead. A mismatch is 403,
// an in-flight sweep is 409.
func registerEscalation(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "run-escalation",
		Method:      http.MethodPost,
		Path:        "/escalation",
		Summary:     "Run one escalation sweep",
		Errors:      []int{http.StatusForbidden, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Secret string `query:"secret"`
	}) (*struct {
		Body engine.CycleResult `json:"body"`
	}, error) {
		configured := e.Config.Escalation.Secret
		if configured == "" || subtle.ConstantTimeCompare([]byte(input.Secret), []byte(configured)) != 1 {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "invalid escalation secret", nil)
		}
		res, err := e.RunEscalationCycle(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if len(res.Errors) > 0 {
			log.Warn("escalation sweep finished with errors",
				zap.Int("errors", len(res.Errors)))
		}
		return &struct {
			Body engine.CycleResult `json:"body"`
		}{Body: res}, nil
	})
}
