package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"leadline/internal/domain"
	"leadline/internal/engine"
)

// pipelineBody carries exactly one of the two views.
type pipelineBody struct {
	Kanban  []engine.KanbanColumn  `json:"kanban,omitempty"`
	Metrics *engine.PipelineReport `json:"metrics,omitempty"`
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/pipeline",
		Summary:     "Pipeline view",
		Description: "Kanban board or funnel metrics, selected with ?view=.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		View string `query:"view" enum:"kanban,metrics,"`
		From string `query:"from" format:"date-time"`
		To   string `query:"to" format:"date-time"`
	}) (*struct {
		Body pipelineBody `json:"body"`
	}, error) {
		view := input.View
		if view == "" {
			view = "kanban"
		}
		switch view {
		case "kanban":
			cols, err := e.KanbanSnapshot(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body pipelineBody `json:"body"`
			}{Body: pipelineBody{Kanban: cols}}, nil
		case "metrics":
			from, to, err := metricsWindow(input.From, input.To, e)
			if err != nil {
				return nil, err
			}
			report, rerr := e.PipelineMetrics(ctx, from, to)
			if rerr != nil {
				return nil, handleError(rerr)
			}
			return &struct {
				Body pipelineBody `json:"body"`
			}{Body: pipelineBody{Metrics: &report}}, nil
		default:
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "view must be kanban or metrics", nil)
		}
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-stage",
		Method:      http.MethodPost,
		Path:        "/pipeline/move",
		Summary:     "Move a contact through the pipeline",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body struct {
			ContactID  string `json:"contact_id" minLength:"1"`
			ToStage    string `json:"to_stage" enum:"new,contacted,qualified,proposal,negotiation,won,lost"`
			LostReason string `json:"lost_reason,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Contact `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.MoveToStage(ctx, engine.MoveOptions{
			ContactID:   input.Body.ContactID,
			ToStage:     input.Body.ToStage,
			LostReason:  input.Body.LostReason,
			PerformedBy: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contact `json:"body"`
		}{Body: c}, nil
	})
}

// metricsWindow defaults to the trailing 90 days.
func metricsWindow(from, to string, e engine.Engine) (string, string, huma.StatusError) {
	now := time.Now().UTC()
	if e.Now != nil {
		now = e.Now().UTC()
	}
	if to == "" {
		to = now.Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, to); err != nil {
		return "", "", newAPIError(http.StatusBadRequest, "bad_request", "to must be RFC 3339", nil)
	}
	if from == "" {
		from = now.AddDate(0, 0, -90).Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, from); err != nil {
		return "", "", newAPIError(http.StatusBadRequest, "bad_request", "from must be RFC 3339", nil)
	}
	return from, to, nil
}
