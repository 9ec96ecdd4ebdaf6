package manutenzionisdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Manutenzioni HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Scadenza is one scheduled checklist item on an asset.
type Scadenza struct {
	ID              string  `json:"id"`
	ChecklistItemID string  `json:"checklist_voce_id"`
	Civico          string  `json:"civico"`
	Asset           string  `json:"asset"`
	AssetType       string  `json:"asset_tipo"`
	DueDate         string  `json:"data_scadenza"`
	Recurrence      string  `json:"frequenza_tipo"`
	LeadTimeDays    int     `json:"giorni_preavviso"`
	State           string  `json:"stato"`
	Version         int64   `json:"version"`
	PreviousID      string  `json:"previous_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

type NewScadenza struct {
	ChecklistItemID string `json:"checklist_voce_id"`
	Civico          string `json:"civico"`
	Asset           string `json:"asset"`
	AssetType       string `json:"asset_tipo,omitempty"`
	DueDate         string `json:"data_scadenza"`
	Recurrence      string `json:"frequenza_tipo,omitempty"`
	LeadTimeDays    int    `json:"giorni_preavviso,omitempty"`
}

type GroupMember struct {
	ID           string `json:"id"`
	ItemName     string `json:"nome_voce"`
	Code         string `json:"codice,omitempty"`
	Recurrence   string `json:"frequenza_tipo"`
	LeadTimeDays int    `json:"giorni_preavviso"`
}

// Gruppo is the calendar row shown to operators.
type Gruppo struct {
	Civico        string        `json:"civico"`
	Asset         string        `json:"asset"`
	DueDate       string        `json:"data_scadenza"`
	Name          string        `json:"nome_gruppo"`
	Count         int           `json:"num_voci"`
	IsGroup       bool          `json:"is_gruppo"`
	Members       []GroupMember `json:"scadenze_individuali"`
	DaysRemaining int           `json:"giorni_rimanenti"`
	Overdue       bool          `json:"scaduta"`
	Urgent        bool          `json:"urgente"`
}

type FormRow struct {
	ID          string   `json:"id"`
	ScadenzaID  string   `json:"scadenza_id"`
	Code        string   `json:"codice"`
	Name        string   `json:"voce"`
	Required    bool     `json:"obbligatoria"`
	Description string   `json:"descrizione,omitempty"`
	Answers     []string `json:"risposte,omitempty"`
}

type ChecklistEntry struct {
	Code   string `json:"codice,omitempty"`
	Answer string `json:"esito,omitempty"`
	Notes  string `json:"note,omitempty"`
}

type Completion struct {
	ScadenzaID string           `json:"scadenza_id"`
	Operator   string           `json:"operatore,omitempty"`
	Notes      string           `json:"note,omitempty"`
	Checklist  []ChecklistEntry `json:"checklist,omitempty"`
}

type GroupCompletionMember struct {
	ScadenzaID string `json:"scadenza_id"`
	Answer     string `json:"esito,omitempty"`
	Notes      string `json:"note,omitempty"`
}

type GroupCompletion struct {
	IsGroup   bool                    `json:"is_gruppo"`
	Members   []GroupCompletionMember `json:"scadenze"`
	Operator  string                  `json:"operatore,omitempty"`
	Notes     string                  `json:"note,omitempty"`
	Checklist []ChecklistEntry        `json:"checklist,omitempty"`
}

type Execution struct {
	ID         string `json:"id"`
	ScadenzaID string `json:"scadenza_id"`
	Operator   string `json:"operatore"`
	ExecutedAt string `json:"eseguita_at"`
	Answer     string `json:"esito,omitempty"`
	Done       bool   `json:"eseguito"`
	Notes      string `json:"note,omitempty"`
}

type Alert struct {
	Source     string `json:"source"`
	Kind       string `json:"kind"`
	Civico     string `json:"civico"`
	AssetID    string `json:"asset_id"`
	ScadenzaID string `json:"scadenza_id,omitempty"`
	Message    string `json:"message"`
	Severity   string `json:"severity"`
	RaisedAt   string `json:"raised_at"`
}

type CompletedItem struct {
	Scadenza  Scadenza  `json:"scadenza"`
	Execution Execution `json:"esecuzione"`
	Successor *Scadenza `json:"successiva,omitempty"`
}

type CompletionResult struct {
	Completed []CompletedItem `json:"completate"`
	Alerts    []Alert         `json:"alert"`
}

type ChecklistItem struct {
	ID          string   `json:"id"`
	AssetType   string   `json:"asset_tipo"`
	Code        string   `json:"codice"`
	Name        string   `json:"voce"`
	Description string   `json:"descrizione,omitempty"`
	Required    bool     `json:"obbligatoria"`
	Answers     []string `json:"risposte,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// APIError wraps non-2xx responses. Code carries the error envelope code
// when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code, e.g.
// "already_completed" or "group_changed".
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Groups lists the open calendar groups.
func (c *Client) Groups(ctx context.Context) ([]Gruppo, error) {
	var resp []Gruppo
	err := c.do(ctx, http.MethodGet, "scadenze-raggruppate?stato=programmata", nil, &resp)
	return resp, err
}

// CreateScadenza schedules one checklist item on an asset.
func (c *Client) CreateScadenza(ctx context.Context, in NewScadenza) (Scadenza, error) {
	var resp Scadenza
	err := c.do(ctx, http.MethodPost, "scadenze", in, &resp)
	return resp, err
}

// GetScadenza fetches one instance.
func (c *Client) GetScadenza(ctx context.Context, id string) (Scadenza, error) {
	var resp Scadenza
	err := c.do(ctx, http.MethodGet, "scadenze/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CancelScadenza deletes one open instance.
func (c *Client) CancelScadenza(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "scadenze/"+url.PathEscape(id), nil, nil)
}

// CancelGroup deletes every open member of a group and returns their ids.
func (c *Client) CancelGroup(ctx context.Context, civico, asset, dueDate string) ([]string, error) {
	var resp struct {
		Deleted []string `json:"eliminate"`
	}
	err := c.do(ctx, http.MethodDelete, "scadenze-raggruppate?"+groupQuery(civico, asset, dueDate), nil, &resp)
	return resp.Deleted, err
}

// History returns the execution records of a scadenza.
func (c *Client) History(ctx context.Context, id string) ([]Execution, error) {
	var resp []Execution
	err := c.do(ctx, http.MethodGet, "scadenze/"+url.PathEscape(id)+"/esecuzioni", nil, &resp)
	return resp, err
}

// FormScadenza returns the completion form of one scadenza.
func (c *Client) FormScadenza(ctx context.Context, id string) ([]FormRow, error) {
	var resp []FormRow
	err := c.do(ctx, http.MethodGet, "form-scadenza/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// FormGruppo returns the completion form of a group.
func (c *Client) FormGruppo(ctx context.Context, civico, asset, dueDate string) ([]FormRow, error) {
	var resp []FormRow
	err := c.do(ctx, http.MethodGet, "form-gruppo?"+groupQuery(civico, asset, dueDate), nil, &resp)
	return resp, err
}

// CompleteScadenza completes one instance.
func (c *Client) CompleteScadenza(ctx context.Context, in Completion) (CompletionResult, error) {
	var resp CompletionResult
	err := c.do(ctx, http.MethodPost, "completa-scadenza", in, &resp)
	return resp, err
}

// CompleteGroup completes a whole group in one transaction.
func (c *Client) CompleteGroup(ctx context.Context, in GroupCompletion) (CompletionResult, error) {
	var resp CompletionResult
	err := c.do(ctx, http.MethodPost, "completa-gruppo", in, &resp)
	return resp, err
}

// GenerateAlerts triggers the urgent/overdue scan and returns how many alerts
// were raised.
func (c *Client) GenerateAlerts(ctx context.Context) (int, error) {
	var resp struct {
		Raised int `json:"alert_generati"`
	}
	err := c.do(ctx, http.MethodPost, "alert/genera-scadenze", nil, &resp)
	return resp.Raised, err
}

// ChecklistItems lists catalog items, optionally for one asset type.
func (c *Client) ChecklistItems(ctx context.Context, assetType string) ([]ChecklistItem, error) {
	endpoint := "checklist-voci"
	if assetType != "" {
		endpoint += "?asset_tipo=" + url.QueryEscape(assetType)
	}
	var resp []ChecklistItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "eventi"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func groupQuery(civico, asset, dueDate string) string {
	q := url.Values{}
	q.Set("civico", civico)
	q.Set("asset", asset)
	q.Set("data_scadenza", dueDate)
	return q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
