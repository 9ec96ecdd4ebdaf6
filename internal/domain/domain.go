package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the only date format exchanged on the wire.
const DateLayout = "2006-01-02"

// State is the persisted lifecycle state of a Scadenza.
type State string

const (
	StateScheduled   State = "programmata"
	StateCompleted   State = "completata"
	StateRescheduled State = "riprogrammata"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateScheduled, StateCompleted, StateRescheduled:
		return true
	}
	return false
}

// Status is the presentation urgency of an open instance or group.
type Status string

const (
	StatusScheduled Status = "programmata"
	StatusUrgent    Status = "urgente"
	StatusOverdue   Status = "scaduta"
)

// Severity orders statuses: overdue > urgent > scheduled.
func (s Status) Severity() int {
	switch s {
	case StatusOverdue:
		return 2
	case StatusUrgent:
		return 1
	}
	return 0
}

// Recurrence is the frequenza_tipo of a Scadenza.
type Recurrence string

const (
	RecurrenceNone       Recurrence = "nessuna"
	RecurrenceWeekly     Recurrence = "settimanale"
	RecurrenceBiweekly   Recurrence = "bisettimanale"
	RecurrenceMonthly    Recurrence = "mensile"
	RecurrenceBimonthly  Recurrence = "bimestrale"
	RecurrenceSemiannual Recurrence = "semestrale"
	RecurrenceAnnual     Recurrence = "annuale"
	RecurrenceBiennial   Recurrence = "biennale"
)

type ChecklistItem struct {
	ID          string         `json:"id" yaml:"id"`
	AssetType   string         `json:"asset_tipo" yaml:"asset_type"`
	Code        string         `json:"codice" yaml:"code"`
	Name        string         `json:"voce" yaml:"name"`
	Description string         `json:"descrizione,omitempty" yaml:"description"`
	Required    bool           `json:"obbligatoria" yaml:"required"`
	Answers     []AnswerOption `json:"risposte,omitempty" yaml:"answers"`
}

// AnswerOption is one selectable outcome for a checklist item.
type AnswerOption struct {
	Value string `json:"valore" yaml:"value"`
	Alert bool   `json:"alert,omitempty" yaml:"alert"`
	// Done is nil when the answer counts as executed.
	Done *bool `json:"eseguito,omitempty" yaml:"done"`
}

// Scadenza is one concrete due occurrence of a checklist item on an asset.
type Scadenza struct {
	ID              string     `json:"id"`
	ChecklistItemID string     `json:"checklist_voce_id"`
	Civico          string     `json:"civico"`
	AssetID         string     `json:"asset"`
	AssetType       string     `json:"asset_tipo"`
	DueDate         time.Time  `json:"-"`
	Recurrence      Recurrence `json:"frequenza_tipo"`
	LeadTimeDays    int        `json:"giorni_preavviso"`
	State           State      `json:"stato"`
	Version         int64      `json:"version"`
	PreviousID      string     `json:"previous_id,omitempty"`
	CreatedAt       string     `json:"created_at" format:"date-time"`
	UpdatedAt       string     `json:"updated_at" format:"date-time"`
	CompletedAt     *string    `json:"completed_at,omitempty" format:"date-time"`
}

// DueDateString renders DueDate in the wire format.
func (s Scadenza) DueDateString() string {
	return s.DueDate.Format(DateLayout)
}

// MarshalJSON adds data_scadenza in the wire date format.
func (s Scadenza) MarshalJSON() ([]byte, error) {
	type plain Scadenza
	return json.Marshal(struct {
		plain
		DueDate string `json:"data_scadenza"`
	}{plain: plain(s), DueDate: s.DueDateString()})
}

// ExecutionRecord is the append-only history of one completion.
type ExecutionRecord struct {
	ID         string `json:"id"`
	ScadenzaID string `json:"scadenza_id"`
	Operator   string `json:"operatore"`
	ExecutedAt string `json:"eseguita_at" format:"date-time"`
	Answer     string `json:"esito,omitempty"`
	Done       bool   `json:"eseguito"`
	Notes      string `json:"note,omitempty"`
}

type AlertKind string

const (
	AlertKindNote    AlertKind = "note"
	AlertKindAnswer  AlertKind = "esito"
	AlertKindOverdue AlertKind = "scaduta"
	AlertKindUrgent  AlertKind = "urgente"
)

// Severity is the level reported to alert sinks.
func (k AlertKind) Severity() string {
	switch k {
	case AlertKindAnswer, AlertKindOverdue:
		return "critical"
	}
	return "warning"
}

const AlertSourceScadenza = "scadenza"

// AlertEvent is handed to the alert emitter and never stored by the engine.
type AlertEvent struct {
	Source     string    `json:"source"`
	Kind       AlertKind `json:"kind"`
	Civico     string    `json:"civico"`
	AssetID    string    `json:"asset_id"`
	ScadenzaID string    `json:"scadenza_id,omitempty"`
	Message    string    `json:"message"`
	Severity   string    `json:"severity"`
	RaisedAt   string    `json:"raised_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
