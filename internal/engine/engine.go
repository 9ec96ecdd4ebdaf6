package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manutenzioni/internal/alert"
	"manutenzioni/internal/calendar"
	"manutenzioni/internal/checklist"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/events"
	"manutenzioni/internal/metrics"
	"manutenzioni/internal/recurrence"
	"manutenzioni/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Checklist checklist.Provider
	Alerts    alert.Emitter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

func New(db *sql.DB, provider checklist.Provider, emitter alert.Emitter, logger *zap.Logger, m *metrics.Metrics) Engine {
	if emitter == nil {
		emitter = alert.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{},
		Checklist: provider,
		Alerts:    emitter,
		Metrics:   m,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// events returns the audit writer, stamping on the engine clock unless the
// writer carries its own.
func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Today is the current calendar date.
func (e Engine) Today() time.Time {
	y, m, d := e.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// CreateOptions are parameters for scheduling a new scadenza.
type CreateOptions struct {
	ChecklistItemID string
	Civico          string
	AssetID         string
	AssetType       string
	DueDate         string
	Recurrence      string
	LeadTimeDays    int
	ActorID         string
}

func (e Engine) CreateScadenza(ctx context.Context, opts CreateOptions) (domain.Scadenza, error) {
	opts.ChecklistItemID = strings.TrimSpace(opts.ChecklistItemID)
	opts.Civico = strings.TrimSpace(opts.Civico)
	opts.AssetID = strings.TrimSpace(opts.AssetID)
	if opts.ChecklistItemID == "" || opts.Civico == "" || opts.AssetID == "" {
		return domain.Scadenza{}, fmt.Errorf("%w: checklist_voce_id, civico and asset are required", domain.ErrInvalidInput)
	}
	due, err := ParseDate(opts.DueDate)
	if err != nil {
		return domain.Scadenza{}, err
	}
	rec, err := recurrence.Parse(opts.Recurrence)
	if err != nil {
		return domain.Scadenza{}, err
	}
	if opts.LeadTimeDays < 0 {
		return domain.Scadenza{}, fmt.Errorf("%w: giorni_preavviso must be >= 0", domain.ErrInvalidInput)
	}
	item, err := e.Checklist.Item(ctx, opts.ChecklistItemID)
	if err != nil {
		return domain.Scadenza{}, err
	}
	assetType := strings.TrimSpace(opts.AssetType)
	if assetType == "" {
		assetType = item.AssetType
	} else if !strings.EqualFold(assetType, item.AssetType) {
		return domain.Scadenza{}, fmt.Errorf("%w: checklist item %s applies to %s, not %s", domain.ErrInvalidInput, item.ID, item.AssetType, assetType)
	}

	now := e.stamp()
	s := domain.Scadenza{
		ID:              uuid.NewString(),
		ChecklistItemID: item.ID,
		Civico:          opts.Civico,
		AssetID:         opts.AssetID,
		AssetType:       assetType,
		DueDate:         due,
		Recurrence:      rec,
		LeadTimeDays:    opts.LeadTimeDays,
		State:           domain.StateScheduled,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Scadenza{}, err
	}
	defer tx.Rollback()

	open, err := e.Repo.HasOpen(ctx, tx, item.ID, s.AssetID)
	if err != nil {
		return domain.Scadenza{}, err
	}
	if open {
		return domain.Scadenza{}, fmt.Errorf("%w: %s on %s", domain.ErrOpenInstanceExists, item.ID, s.AssetID)
	}
	if err := e.Repo.InsertScadenza(ctx, tx, s); err != nil {
		return domain.Scadenza{}, fmt.Errorf("insert scadenza: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ScadenzaCreated, "scadenza", s.ID, opts.ActorID, events.EventPayload{
		"checklist_voce_id": s.ChecklistItemID,
		"civico":            s.Civico,
		"asset":             s.AssetID,
		"data_scadenza":     s.DueDateString(),
		"frequenza_tipo":    string(s.Recurrence),
	}); err != nil {
		return domain.Scadenza{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Scadenza{}, err
	}
	return s, nil
}

// GetScadenza returns one instance by id.
func (e Engine) GetScadenza(ctx context.Context, id string) (domain.Scadenza, error) {
	return e.Repo.GetScadenza(ctx, id)
}

// History returns the execution records of a scadenza, oldest first.
func (e Engine) History(ctx context.Context, id string) ([]domain.ExecutionRecord, error) {
	if _, err := e.Repo.GetScadenza(ctx, id); err != nil {
		return nil, err
	}
	return e.Repo.ListEsecuzioni(ctx, id)
}

// CancelScadenza deletes one open instance. Completed history is never
// deleted.
func (e Engine) CancelScadenza(ctx context.Context, id, actorID string) (domain.Scadenza, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Scadenza{}, err
	}
	defer tx.Rollback()

	s, err := e.Repo.GetScadenzaTx(ctx, tx, id)
	if err != nil {
		return domain.Scadenza{}, err
	}
	if s.State != domain.StateScheduled {
		return domain.Scadenza{}, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, id, s.State)
	}
	if err := e.Repo.DeleteScadenza(ctx, tx, s.ID, s.Version); err != nil {
		return domain.Scadenza{}, err
	}
	if err := e.events().Append(ctx, tx, events.ScadenzaCancelled, "scadenza", s.ID, actorID, events.EventPayload{
		"civico":        s.Civico,
		"asset":         s.AssetID,
		"data_scadenza": s.DueDateString(),
	}); err != nil {
		return domain.Scadenza{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Scadenza{}, err
	}
	e.Metrics.Cancelled("single", 1)
	return s, nil
}

// CancelGroup deletes every open member of the group in one transaction.
func (e Engine) CancelGroup(ctx context.Context, civico, assetID, dueDate, actorID string) ([]domain.Scadenza, error) {
	key, err := groupKey(civico, assetID, dueDate)
	if err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	members, err := e.Repo.ListOpenByKey(ctx, tx, key.Civico, key.AssetID, key.DueDate)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no open scadenze for %s", domain.ErrInstanceNotFound, groupEntityID(key))
	}
	ids := make([]string, 0, len(members))
	for _, s := range members {
		if err := e.Repo.DeleteScadenza(ctx, tx, s.ID, s.Version); err != nil {
			return nil, aborted(err)
		}
		ids = append(ids, s.ID)
	}
	if err := e.events().Append(ctx, tx, events.GruppoCancelled, "gruppo", groupEntityID(key), actorID, events.EventPayload{
		"scadenze": ids,
	}); err != nil {
		return nil, aborted(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, aborted(err)
	}
	e.Metrics.Cancelled("group", len(members))
	return members, nil
}

// ParseDate parses a wire date (YYYY-MM-DD).
func ParseDate(v string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", domain.ErrInvalidInput, v)
	}
	return t, nil
}

func groupKey(civico, assetID, dueDate string) (calendar.Key, error) {
	civico = strings.TrimSpace(civico)
	assetID = strings.TrimSpace(assetID)
	if civico == "" || assetID == "" {
		return calendar.Key{}, fmt.Errorf("%w: civico and asset are required", domain.ErrInvalidInput)
	}
	due, err := ParseDate(dueDate)
	if err != nil {
		return calendar.Key{}, err
	}
	return calendar.Key{Civico: civico, AssetID: assetID, DueDate: due.Format(domain.DateLayout)}, nil
}

func groupEntityID(k calendar.Key) string {
	return k.Civico + "|" + k.AssetID + "|" + k.DueDate
}

// aborted marks a failure that happened after validation, while writes were
// in flight. The cause stays matchable with errors.Is.
func aborted(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransactionAborted) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransactionAborted, err)
}
