package server

import (
	"manutenzioni/internal/checklist"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/engine"
)

// Request payloads

type CreateScadenzaRequest struct {
	ChecklistItemID string `json:"checklist_voce_id" minLength:"1"`
	Civico          string `json:"civico" minLength:"1"`
	Asset           string `json:"asset" minLength:"1"`
	AssetType       string `json:"asset_tipo,omitempty"`
	DueDate         string `json:"data_scadenza" format:"date" example:"2024-03-31"`
	Recurrence      string `json:"frequenza_tipo,omitempty" example:"mensile"`
	LeadTimeDays    int    `json:"giorni_preavviso,omitempty" minimum:"0"`
}

type ChecklistEntryRequest struct {
	Code   string `json:"codice,omitempty"`
	Answer string `json:"esito,omitempty"`
	Notes  string `json:"note,omitempty"`
}

type CompleteScadenzaRequest struct {
	ScadenzaID string                  `json:"scadenza_id" minLength:"1"`
	Operator   string                  `json:"operatore,omitempty"`
	Notes      string                  `json:"note,omitempty"`
	Checklist  []ChecklistEntryRequest `json:"checklist,omitempty"`
}

type GroupMemberRequest struct {
	ScadenzaID string `json:"scadenza_id" minLength:"1"`
	Answer     string `json:"esito,omitempty"`
	Notes      string `json:"note,omitempty"`
}

type CompleteGroupRequest struct {
	IsGroup   bool                    `json:"is_gruppo,omitempty"`
	Members   []GroupMemberRequest    `json:"scadenze" minItems:"1"`
	Operator  string                  `json:"operatore,omitempty"`
	Notes     string                  `json:"note,omitempty"`
	Checklist []ChecklistEntryRequest `json:"checklist,omitempty"`
}

// Response payloads

type ScadenzaResponse struct {
	ID              string  `json:"id"`
	ChecklistItemID string  `json:"checklist_voce_id"`
	Civico          string  `json:"civico"`
	Asset           string  `json:"asset"`
	AssetType       string  `json:"asset_tipo"`
	DueDate         string  `json:"data_scadenza" format:"date"`
	Recurrence      string  `json:"frequenza_tipo"`
	LeadTimeDays    int     `json:"giorni_preavviso"`
	State           string  `json:"stato" enum:"programmata,completata,riprogrammata"`
	Version         int64   `json:"version"`
	PreviousID      string  `json:"previous_id,omitempty"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
	CompletedAt     *string `json:"completed_at,omitempty" format:"date-time"`
}

type ScadenzaIndividualeResponse struct {
	ID           string `json:"id"`
	ItemName     string `json:"nome_voce"`
	Code         string `json:"codice,omitempty"`
	Recurrence   string `json:"frequenza_tipo"`
	LeadTimeDays int    `json:"giorni_preavviso"`
}

type GruppoResponse struct {
	Civico        string                        `json:"civico"`
	Asset         string                        `json:"asset"`
	DueDate       string                        `json:"data_scadenza" format:"date"`
	Name          string                        `json:"nome_gruppo"`
	Count         int                           `json:"num_voci"`
	IsGroup       bool                          `json:"is_gruppo"`
	Members       []ScadenzaIndividualeResponse `json:"scadenze_individuali"`
	DaysRemaining int                           `json:"giorni_rimanenti"`
	Overdue       bool                          `json:"scaduta"`
	Urgent        bool                          `json:"urgente"`
}

type FormRowResponse struct {
	ID          string   `json:"id"`
	ScadenzaID  string   `json:"scadenza_id"`
	Code        string   `json:"codice"`
	Name        string   `json:"voce"`
	Required    bool     `json:"obbligatoria"`
	Description string   `json:"descrizione,omitempty"`
	Answers     []string `json:"risposte,omitempty"`
}

type CompletionItemResponse struct {
	Scadenza   ScadenzaResponse       `json:"scadenza"`
	Esecuzione domain.ExecutionRecord `json:"esecuzione"`
	Successiva *ScadenzaResponse      `json:"successiva,omitempty"`
}

type CompletionResponse struct {
	Completed []CompletionItemResponse `json:"completate"`
	Alerts    []domain.AlertEvent      `json:"alert"`
}

type CancelResponse struct {
	Deleted []string `json:"eliminate"`
}

type ScanResponse struct {
	Raised int `json:"alert_generati"`
}

type ChecklistItemResponse struct {
	ID          string   `json:"id"`
	AssetType   string   `json:"asset_tipo"`
	Code        string   `json:"codice"`
	Name        string   `json:"voce"`
	Description string   `json:"descrizione,omitempty"`
	Required    bool     `json:"obbligatoria"`
	Answers     []string `json:"risposte,omitempty"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

func mapScadenza(s domain.Scadenza) ScadenzaResponse {
	return ScadenzaResponse{
		ID:              s.ID,
		ChecklistItemID: s.ChecklistItemID,
		Civico:          s.Civico,
		Asset:           s.AssetID,
		AssetType:       s.AssetType,
		DueDate:         s.DueDateString(),
		Recurrence:      string(s.Recurrence),
		LeadTimeDays:    s.LeadTimeDays,
		State:           string(s.State),
		Version:         s.Version,
		PreviousID:      s.PreviousID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		CompletedAt:     s.CompletedAt,
	}
}

func mapScadenze(items []domain.Scadenza) []ScadenzaResponse {
	out := make([]ScadenzaResponse, 0, len(items))
	for _, s := range items {
		out = append(out, mapScadenza(s))
	}
	return out
}

func mapGroup(g engine.GroupView) GruppoResponse {
	resp := GruppoResponse{
		Civico:        g.Key.Civico,
		Asset:         g.Key.AssetID,
		DueDate:       g.Key.DueDate,
		Name:          g.Name,
		Count:         len(g.Members),
		IsGroup:       g.IsGroup(),
		Members:       make([]ScadenzaIndividualeResponse, 0, len(g.Members)),
		DaysRemaining: g.DaysRemaining,
		Overdue:       g.Status == domain.StatusOverdue,
		Urgent:        g.Status == domain.StatusUrgent,
	}
	for i, m := range g.Members {
		resp.Members = append(resp.Members, ScadenzaIndividualeResponse{
			ID:           m.ID,
			ItemName:     g.Items[i].Name,
			Code:         g.Items[i].Code,
			Recurrence:   string(m.Recurrence),
			LeadTimeDays: m.LeadTimeDays,
		})
	}
	return resp
}

func mapFormRows(rows []engine.FormRow) []FormRowResponse {
	out := make([]FormRowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, FormRowResponse{
			ID:          r.Item.ID,
			ScadenzaID:  r.ScadenzaID,
			Code:        r.Item.Code,
			Name:        r.Item.Name,
			Required:    r.Item.Required,
			Description: r.Item.Description,
			Answers:     answerValues(r.Answers),
		})
	}
	return out
}

func mapCompletion(res engine.CompletionResult) CompletionResponse {
	out := CompletionResponse{
		Completed: make([]CompletionItemResponse, 0, len(res.Completions)),
		Alerts:    res.Alerts,
	}
	if out.Alerts == nil {
		out.Alerts = []domain.AlertEvent{}
	}
	for _, c := range res.Completions {
		item := CompletionItemResponse{Scadenza: mapScadenza(c.Scadenza), Esecuzione: c.Execution}
		if c.Successor != nil {
			succ := mapScadenza(*c.Successor)
			item.Successiva = &succ
		}
		out.Completed = append(out.Completed, item)
	}
	return out
}

func mapChecklistItems(p checklist.Provider, items []domain.ChecklistItem) []ChecklistItemResponse {
	out := make([]ChecklistItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, ChecklistItemResponse{
			ID:          item.ID,
			AssetType:   item.AssetType,
			Code:        item.Code,
			Name:        item.Name,
			Description: item.Description,
			Required:    item.Required,
			Answers:     answerValues(p.Answers(item)),
		})
	}
	return out
}

func answerValues(options []domain.AnswerOption) []string {
	if len(options) == 0 {
		return nil
	}
	out := make([]string, 0, len(options))
	for _, a := range options {
		out = append(out, a.Value)
	}
	return out
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}

func entriesFromRequest(in []ChecklistEntryRequest) []engine.ChecklistEntry {
	out := make([]engine.ChecklistEntry, 0, len(in))
	for _, e := range in {
		out = append(out, engine.ChecklistEntry{Code: e.Code, Answer: e.Answer, Notes: e.Notes})
	}
	return out
}
