package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"leadline/internal/engine"
	"leadline/internal/scoring"
)

// aiBody carries the result of whichever action was requested.
type aiBody struct {
	Score       *scoring.Score       `json:"score,omitempty"`
	Prediction  *scoring.Prediction  `json:"prediction,omitempty"`
	Insights    []scoring.Prediction `json:"insights,omitempty"`
	Script      *engine.CallScript   `json:"script,omitempty"`
	BatchResult *engine.BatchResult  `json:"batch_result,omitempty"`
}

func registerAI(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "ai",
		Method:      http.MethodGet,
		Path:        "/ai",
		Summary:     "Scoring and prediction",
		Description: "action=score|predict|insights|script|batch_score. score, predict and script require contact_id.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Action    string `query:"action" enum:"score,predict,insights,script,batch_score"`
		ContactID string `query:"contact_id"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body aiBody `json:"body"`
	}, error) {
		switch input.Action {
		case "score":
			if input.ContactID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "contact_id is required", nil)
			}
			s, err := e.CalculateScore(ctx, input.ContactID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body aiBody `json:"body"`
			}{Body: aiBody{Score: &s}}, nil
		case "predict":
			if input.ContactID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "contact_id is required", nil)
			}
			p, err := e.PredictScore(ctx, input.ContactID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body aiBody `json:"body"`
			}{Body: aiBody{Prediction: &p}}, nil
		case "insights":
			items, err := e.TopPredictions(ctx, input.Limit)
			if err != nil {
				return nil, handleError(err)
			}
			if items == nil {
				items = []scoring.Prediction{}
			}
			return &struct {
				Body aiBody `json:"body"`
			}{Body: aiBody{Insights: items}}, nil
		case "script":
			if input.ContactID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "contact_id is required", nil)
			}
			s, err := e.BuildCallScript(ctx, input.ContactID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body aiBody `json:"body"`
			}{Body: aiBody{Script: &s}}, nil
		case "batch_score":
			res, err := e.BatchRecalculateScores(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body aiBody `json:"body"`
			}{Body: aiBody{BatchResult: &res}}, nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown action "+input.Action, nil)
		}
	})
}
