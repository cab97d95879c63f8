package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"leadline/internal/domain"
	"leadline/internal/engine"
	"leadline/internal/repo"
)

type contactPath struct {
	ContactID string `path:"contact_id"`
}

func registerContacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-contact",
		Method:        http.MethodPost,
		Path:          "/contacts",
		Summary:       "Create contact",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name          string `json:"name" minLength:"1"`
			Source        string `json:"source,omitempty"`
			AssignedAgent string `json:"assigned_agent,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Contact `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateContact(ctx, engine.ContactCreateOptions{
			Name:          input.Body.Name,
			Source:        input.Body.Source,
			AssignedAgent: input.Body.AssignedAgent,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Contact `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contacts",
		Method:      http.MethodGet,
		Path:        "/contacts",
		Summary:     "List contacts",
	}, func(ctx context.Context, input *struct {
		Stage  string `query:"stage"`
		Source string `query:"source"`
		Agent  string `query:"agent"`
		Active bool   `query:"active"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.Contact `json:"body"`
	}, error) {
		if input.Stage != "" && !domain.IsStage(input.Stage) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown stage "+input.Stage, nil)
		}
		items, err := e.Repo.ListContacts(ctx, repo.ContactFilters{
			Stage:         input.Stage,
			Source:        input.Source,
			AssignedAgent: input.Agent,
			ActiveOnly:    input.Active,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Contact{}
		}
		return &struct {
			Body []domain.Contact `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-contact",
		Method:      http.MethodGet,
		Path:        "/contacts/{contact_id}",
		Summary:     "Get contact with timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contactPath) (*struct {
		Body engine.Timeline `json:"body"`
	}, error) {
		t, err := e.GetTimeline(ctx, input.ContactID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Timeline `json:"body"`
		}{Body: t}, nil
	})
}

func registerInteractions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-interaction",
		Method:        http.MethodPost,
		Path:          "/contacts/{contact_id}/interactions",
		Summary:       "Log interaction",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ContactID string `path:"contact_id"`
		Body      struct {
			Type       string `json:"type" enum:"call,email,whatsapp,meeting,note"`
			Payload    string `json:"payload,omitempty"`
			OccurredAt string `json:"occurred_at,omitempty" format:"date-time"`
		} `json:"body"`
	}) (*struct {
		Body domain.Interaction `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var occurred time.Time
		if input.Body.OccurredAt != "" {
			var err error
			occurred, err = time.Parse(time.RFC3339, input.Body.OccurredAt)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "occurred_at must be RFC 3339", nil)
			}
		}
		in, err := e.AddInteraction(ctx, engine.InteractionOptions{
			ContactID:  input.ContactID,
			Type:       input.Body.Type,
			Payload:    input.Body.Payload,
			OccurredAt: occurred,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Interaction `json:"body"`
		}{Body: in}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Title      string `json:"title" minLength:"1"`
			ContactID  string `json:"contact_id,omitempty"`
			AssignedTo string `json:"assigned_to,omitempty"`
			Priority   string `json:"priority,omitempty" enum:"low,normal,high,"`
			DueDate    string `json:"due_date,omitempty" format:"date-time"`
		} `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var due time.Time
		if input.Body.DueDate != "" {
			var err error
			due, err = time.Parse(time.RFC3339, input.Body.DueDate)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "due_date must be RFC 3339", nil)
			}
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			Title:      input.Body.Title,
			ContactID:  input.Body.ContactID,
			AssignedTo: input.Body.AssignedTo,
			Priority:   input.Body.Priority,
			DueDate:    due,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		ContactID  string `query:"contact_id"`
		AssignedTo string `query:"assigned_to"`
		Status     string `query:"status" enum:"pending,done,overdue,"`
		Limit      int    `query:"limit"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			ContactID:  input.ContactID,
			AssignedTo: input.AssignedTo,
			Status:     input.Status,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/done",
		Summary:     "Complete task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.CompleteTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})
}
