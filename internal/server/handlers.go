package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"manutenzioni/internal/domain"
	"manutenzioni/internal/engine"
	"manutenzioni/internal/repo"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-gruppi",
		Method:      http.MethodGet,
		Path:        "/scadenze-raggruppate",
		Summary:     "List open scadenze grouped by civico, asset and due date",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State string `query:"stato" default:"programmata"`
		Today string `query:"oggi" format:"date" doc:"Reference date, defaults to the current date"`
	}) (*struct {
		Body []GruppoResponse `json:"body"`
	}, error) {
		today, err := referenceDate(e, input.Today)
		if err != nil {
			return nil, handleError(err)
		}
		groups, err := e.ListGroups(ctx, domain.State(input.State), today)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]GruppoResponse, 0, len(groups))
		for _, g := range groups {
			out = append(out, mapGroup(g))
		}
		return &struct {
			Body []GruppoResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-gruppo",
		Method:      http.MethodDelete,
		Path:        "/scadenze-raggruppate",
		Summary:     "Cancel every open scadenza of a group",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Civico  string `query:"civico" required:"true"`
		Asset   string `query:"asset" required:"true"`
		DueDate string `query:"data_scadenza" required:"true" format:"date"`
	}) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		removed, err := e.CancelGroup(ctx, input.Civico, input.Asset, input.DueDate, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		ids := make([]string, 0, len(removed))
		for _, s := range removed {
			ids = append(ids, s.ID)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: CancelResponse{Deleted: ids}}, nil
	})
}

func registerScadenze(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-scadenza",
		Method:        http.MethodPost,
		Path:          "/scadenze",
		Summary:       "Schedule a scadenza",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateScadenzaRequest `json:"body"`
	}) (*struct {
		Body ScadenzaResponse `json:"body"`
	}, error) {
		s, err := e.CreateScadenza(ctx, engine.CreateOptions{
			ChecklistItemID: input.Body.ChecklistItemID,
			Civico:          input.Body.Civico,
			AssetID:         input.Body.Asset,
			AssetType:       input.Body.AssetType,
			DueDate:         input.Body.DueDate,
			Recurrence:      input.Body.Recurrence,
			LeadTimeDays:    input.Body.LeadTimeDays,
			ActorID:         actorFromContext(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScadenzaResponse `json:"body"`
		}{Body: mapScadenza(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-scadenze",
		Method:      http.MethodGet,
		Path:        "/scadenze",
		Summary:     "List scadenze",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State   string `query:"stato"`
		Civico  string `query:"civico"`
		Asset   string `query:"asset"`
		DueDate string `query:"data_scadenza"`
	}) (*struct {
		Body []ScadenzaResponse `json:"body"`
	}, error) {
		items, err := e.ListScadenze(ctx, repo.ScadenzaFilter{
			State:   domain.State(input.State),
			Civico:  strings.TrimSpace(input.Civico),
			AssetID: strings.TrimSpace(input.Asset),
			DueDate: strings.TrimSpace(input.DueDate),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ScadenzaResponse `json:"body"`
		}{Body: mapScadenze(items)}, nil
	})

	type scadenzaPath struct {
		ID string `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-scadenza",
		Method:      http.MethodGet,
		Path:        "/scadenze/{id}",
		Summary:     "Get scadenza",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *scadenzaPath) (*struct {
		Body ScadenzaResponse `json:"body"`
	}, error) {
		s, err := e.GetScadenza(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScadenzaResponse `json:"body"`
		}{Body: mapScadenza(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-scadenza",
		Method:      http.MethodDelete,
		Path:        "/scadenze/{id}",
		Summary:     "Cancel one open scadenza",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *scadenzaPath) (*struct {
		Body CancelResponse `json:"body"`
	}, error) {
		s, err := e.CancelScadenza(ctx, input.ID, actorFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CancelResponse `json:"body"`
		}{Body: CancelResponse{Deleted: []string{s.ID}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-esecuzioni",
		Method:      http.MethodGet,
		Path:        "/scadenze/{id}/esecuzioni",
		Summary:     "Execution history of a scadenza",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *scadenzaPath) (*struct {
		Body []domain.ExecutionRecord `json:"body"`
	}, error) {
		items, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ExecutionRecord{}
		}
		return &struct {
			Body []domain.ExecutionRecord `json:"body"`
		}{Body: items}, nil
	})
}

func registerForms(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "form-scadenza",
		Method:      http.MethodGet,
		Path:        "/form-scadenza/{id}",
		Summary:     "Checklist form for one scadenza",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []FormRowResponse `json:"body"`
	}, error) {
		rows, err := e.FormForScadenza(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FormRowResponse `json:"body"`
		}{Body: mapFormRows(rows)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "form-gruppo",
		Method:      http.MethodGet,
		Path:        "/form-gruppo",
		Summary:     "Checklist form for a group",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Civico  string `query:"civico" required:"true"`
		Asset   string `query:"asset" required:"true"`
		DueDate string `query:"data_scadenza" required:"true" format:"date"`
	}) (*struct {
		Body []FormRowResponse `json:"body"`
	}, error) {
		rows, err := e.FormForGroup(ctx, input.Civico, input.Asset, input.DueDate)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []FormRowResponse `json:"body"`
		}{Body: mapFormRows(rows)}, nil
	})
}

func registerCompletion(api huma.API, e engine.Engine) {
	completionErrors := []int{
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID: "completa-scadenza",
		Method:      http.MethodPost,
		Path:        "/completa-scadenza",
		Summary:     "Complete one scadenza",
		Errors:      completionErrors,
	}, func(ctx context.Context, input *struct {
		Body CompleteScadenzaRequest `json:"body"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		res, err := e.CompleteScadenza(ctx, engine.CompleteOptions{
			ScadenzaID: input.Body.ScadenzaID,
			Operator:   operatorOrActor(ctx, input.Body.Operator),
			Notes:      input.Body.Notes,
			Checklist:  entriesFromRequest(input.Body.Checklist),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: mapCompletion(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "completa-gruppo",
		Method:      http.MethodPost,
		Path:        "/completa-gruppo",
		Summary:     "Complete every scadenza of a group atomically",
		Errors:      completionErrors,
	}, func(ctx context.Context, input *struct {
		Body CompleteGroupRequest `json:"body"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		members := make([]engine.GroupMember, 0, len(input.Body.Members))
		for _, m := range input.Body.Members {
			members = append(members, engine.GroupMember{ScadenzaID: m.ScadenzaID, Answer: m.Answer, Notes: m.Notes})
		}
		res, err := e.CompleteGroup(ctx, engine.GroupCompleteOptions{
			Members:   members,
			Operator:  operatorOrActor(ctx, input.Body.Operator),
			Notes:     input.Body.Notes,
			Checklist: entriesFromRequest(input.Body.Checklist),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: mapCompletion(res)}, nil
	})
}

func registerAlerts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "genera-alert-scadenze",
		Method:      http.MethodPost,
		Path:        "/alert/genera-scadenze",
		Summary:     "Raise urgent and overdue alerts for open scadenze",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Today string `query:"oggi" format:"date"`
	}) (*struct {
		Body ScanResponse `json:"body"`
	}, error) {
		today, err := referenceDate(e, input.Today)
		if err != nil {
			return nil, handleError(err)
		}
		n, err := e.ScanAlerts(ctx, today)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScanResponse `json:"body"`
		}{Body: ScanResponse{Raised: n}}, nil
	})
}

func registerChecklist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-checklist-voci",
		Method:      http.MethodGet,
		Path:        "/checklist-voci",
		Summary:     "List checklist items",
	}, func(ctx context.Context, input *struct {
		AssetType string `query:"asset_tipo"`
	}) (*struct {
		Body []ChecklistItemResponse `json:"body"`
	}, error) {
		items, err := e.ChecklistItems(ctx, strings.TrimSpace(input.AssetType))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ChecklistItemResponse `json:"body"`
		}{Body: mapChecklistItems(e.Checklist, items)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-eventi",
		Method:      http.MethodGet,
		Path:        "/eventi",
		Summary:     "Latest audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.Limit, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

// operatorOrActor falls back to the token subject when the body names no
// operator.
func operatorOrActor(ctx context.Context, operator string) string {
	if strings.TrimSpace(operator) != "" {
		return operator
	}
	return actorFromContext(ctx)
}

func referenceDate(e engine.Engine, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return e.Today(), nil
	}
	return engine.ParseDate(v)
}
