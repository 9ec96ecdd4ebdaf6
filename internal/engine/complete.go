package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"manutenzioni/internal/calendar"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/events"
	"manutenzioni/internal/recurrence"
)

// ChecklistEntry is the operator's answer for one checklist item, matched by
// codice (or by item id when the item has no code).
type ChecklistEntry struct {
	Code   string
	Answer string
	Notes  string
}

type CompleteOptions struct {
	ScadenzaID string
	Operator   string
	Notes      string
	Checklist  []ChecklistEntry
}

// GroupMember selects one scadenza of the group. Answer, when set, takes
// precedence over the matching checklist entry; Notes add to the entry notes.
type GroupMember struct {
	ScadenzaID string
	Answer     string
	Notes      string
}

type GroupCompleteOptions struct {
	Members   []GroupMember
	Operator  string
	Notes     string
	Checklist []ChecklistEntry
}

// Completion is the outcome for one scadenza.
type Completion struct {
	Scadenza  domain.Scadenza
	Execution domain.ExecutionRecord
	Successor *domain.Scadenza
}

type CompletionResult struct {
	Completions []Completion
	Alerts      []domain.AlertEvent
}

// CompleteScadenza closes one open instance and, for recurring ones, schedules
// the successor in the same transaction.
func (e Engine) CompleteScadenza(ctx context.Context, opts CompleteOptions) (CompletionResult, error) {
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		return CompletionResult{}, domain.ErrMissingOperator
	}
	s, err := e.Repo.GetScadenza(ctx, opts.ScadenzaID)
	if err != nil {
		return CompletionResult{}, err
	}
	if s.State != domain.StateScheduled {
		return CompletionResult{}, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, s.ID, s.State)
	}
	item, err := e.Checklist.Item(ctx, s.ChecklistItemID)
	if err != nil {
		return CompletionResult{}, err
	}
	entries, err := matchEntries([]domain.ChecklistItem{item}, opts.Checklist)
	if err != nil {
		return CompletionResult{}, err
	}
	entry := entries[0]
	if err := e.checkAnswer(item, entry.Answer); err != nil {
		return CompletionResult{}, err
	}
	notes := joinNotes(entry.Notes, opts.Notes)
	now := e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionResult{}, aborted(err)
	}
	defer tx.Rollback()

	current, err := e.Repo.GetScadenzaTx(ctx, tx, s.ID)
	if err != nil {
		return CompletionResult{}, aborted(err)
	}
	if current.State != domain.StateScheduled {
		return CompletionResult{}, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, s.ID, current.State)
	}
	c, err := e.completeTx(ctx, tx, current, item, entry.Answer, notes, operator, now)
	if err != nil {
		return CompletionResult{}, aborted(err)
	}
	if err := tx.Commit(); err != nil {
		return CompletionResult{}, aborted(err)
	}
	e.Metrics.Completed(string(c.Scadenza.State))

	alerts := e.completionAlerts(c.Scadenza, item, entry.Answer, notes, now)
	e.emit(ctx, alerts)
	return CompletionResult{Completions: []Completion{c}, Alerts: alerts}, nil
}

// CompleteGroup completes every member of a group atomically. The submitted
// members must be exactly the group's open members.
func (e Engine) CompleteGroup(ctx context.Context, opts GroupCompleteOptions) (CompletionResult, error) {
	operator := strings.TrimSpace(opts.Operator)
	if operator == "" {
		return CompletionResult{}, domain.ErrMissingOperator
	}
	if len(opts.Members) == 0 {
		return CompletionResult{}, fmt.Errorf("%w: no scadenze submitted", domain.ErrInvalidInput)
	}
	members := make([]domain.Scadenza, len(opts.Members))
	items := make([]domain.ChecklistItem, len(opts.Members))
	seen := make(map[string]struct{}, len(opts.Members))
	for i, m := range opts.Members {
		if _, dup := seen[m.ScadenzaID]; dup {
			return CompletionResult{}, fmt.Errorf("%w: scadenza %s submitted twice", domain.ErrInvalidInput, m.ScadenzaID)
		}
		seen[m.ScadenzaID] = struct{}{}
		s, err := e.Repo.GetScadenza(ctx, m.ScadenzaID)
		if err != nil {
			return CompletionResult{}, err
		}
		if s.State != domain.StateScheduled {
			return CompletionResult{}, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, s.ID, s.State)
		}
		if i > 0 && calendar.KeyOf(s) != calendar.KeyOf(members[0]) {
			return CompletionResult{}, fmt.Errorf("%w: scadenze %s and %s are not in the same group", domain.ErrInvalidInput, members[0].ID, s.ID)
		}
		item, err := e.Checklist.Item(ctx, s.ChecklistItemID)
		if err != nil {
			return CompletionResult{}, err
		}
		members[i] = s
		items[i] = item
	}
	entries, err := matchEntries(items, opts.Checklist)
	if err != nil {
		return CompletionResult{}, err
	}
	answers := make([]string, len(members))
	for i := range members {
		answers[i] = strings.TrimSpace(opts.Members[i].Answer)
		if answers[i] == "" {
			answers[i] = entries[i].Answer
		}
		if err := e.checkAnswer(items[i], answers[i]); err != nil {
			return CompletionResult{}, err
		}
	}
	key := calendar.KeyOf(members[0])
	groupNote := strings.TrimSpace(opts.Notes)
	now := e.stamp()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CompletionResult{}, aborted(err)
	}
	defer tx.Rollback()

	open, err := e.Repo.ListOpenByKey(ctx, tx, key.Civico, key.AssetID, key.DueDate)
	if err != nil {
		return CompletionResult{}, aborted(err)
	}
	current := make(map[string]domain.Scadenza, len(open))
	for _, s := range open {
		current[s.ID] = s
	}
	for _, s := range members {
		if _, ok := current[s.ID]; !ok {
			return CompletionResult{}, aborted(fmt.Errorf("%w: %s", domain.ErrAlreadyCompleted, s.ID))
		}
	}
	if len(open) != len(members) {
		return CompletionResult{}, fmt.Errorf("%w: %d open, %d submitted", domain.ErrGroupChanged, len(open), len(members))
	}

	notes := make([]string, len(members))
	completions := make([]Completion, 0, len(members))
	ids := make([]string, 0, len(members))
	for i, s := range members {
		notes[i] = joinNotes(entries[i].Notes, opts.Members[i].Notes)
		c, err := e.completeTx(ctx, tx, current[s.ID], items[i], answers[i], joinNotes(notes[i], groupNote), operator, now)
		if err != nil {
			return CompletionResult{}, aborted(err)
		}
		completions = append(completions, c)
		ids = append(ids, s.ID)
	}
	if err := e.events().Append(ctx, tx, events.GruppoCompleted, "gruppo", groupEntityID(key), operator, events.EventPayload{
		"scadenze": ids,
		"note":     groupNote,
	}); err != nil {
		return CompletionResult{}, aborted(err)
	}
	if err := tx.Commit(); err != nil {
		return CompletionResult{}, aborted(err)
	}

	var alerts []domain.AlertEvent
	for i, c := range completions {
		e.Metrics.Completed(string(c.Scadenza.State))
		alerts = append(alerts, e.completionAlerts(c.Scadenza, items[i], answers[i], notes[i], now)...)
	}
	if groupNote != "" {
		name := calendar.Name(calendar.Gruppo{Key: key, Members: members}, func(s domain.Scadenza) string {
			return items[0].Name
		})
		alerts = append(alerts, domain.AlertEvent{
			Source:   domain.AlertSourceScadenza,
			Kind:     domain.AlertKindNote,
			Civico:   key.Civico,
			AssetID:  key.AssetID,
			Message:  fmt.Sprintf("%s del %s: %s", name, key.DueDate, groupNote),
			Severity: domain.AlertKindNote.Severity(),
			RaisedAt: now,
		})
	}
	e.emit(ctx, alerts)
	return CompletionResult{Completions: completions, Alerts: alerts}, nil
}

// completeTx performs the state transition of one open instance inside tx:
// programmata -> completata, the execution record, and for recurring
// instances the successor plus completata -> riprogrammata.
func (e Engine) completeTx(ctx context.Context, tx *sql.Tx, s domain.Scadenza, item domain.ChecklistItem, answer, notes, operator, now string) (Completion, error) {
	version, err := e.Repo.TransitionScadenza(ctx, tx, s.ID, domain.StateScheduled, s.Version, domain.StateCompleted, now)
	if err != nil {
		return Completion{}, err
	}
	s.State = domain.StateCompleted
	s.Version = version
	s.UpdatedAt = now
	s.CompletedAt = &now

	rec := domain.ExecutionRecord{
		ID:         uuid.NewString(),
		ScadenzaID: s.ID,
		Operator:   operator,
		ExecutedAt: now,
		Answer:     answer,
		Done:       e.Checklist.IsDone(item, answer),
		Notes:      notes,
	}
	if err := e.Repo.InsertEsecuzione(ctx, tx, rec); err != nil {
		return Completion{}, fmt.Errorf("insert esecuzione: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ScadenzaCompleted, "scadenza", s.ID, operator, events.EventPayload{
		"esecuzione_id": rec.ID,
		"esito":         answer,
	}); err != nil {
		return Completion{}, err
	}
	c := Completion{Scadenza: s, Execution: rec}
	if !recurrence.IsRecurring(s.Recurrence) {
		return c, nil
	}

	next, err := recurrence.NextDue(s.DueDate, s.Recurrence)
	if err != nil {
		return Completion{}, err
	}
	succ := domain.Scadenza{
		ID:              successorID(s.ID),
		ChecklistItemID: s.ChecklistItemID,
		Civico:          s.Civico,
		AssetID:         s.AssetID,
		AssetType:       s.AssetType,
		DueDate:         next,
		Recurrence:      s.Recurrence,
		LeadTimeDays:    s.LeadTimeDays,
		State:           domain.StateScheduled,
		Version:         1,
		PreviousID:      s.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertScadenza(ctx, tx, succ); err != nil {
		return Completion{}, fmt.Errorf("insert successor of %s: %w", s.ID, err)
	}
	version, err = e.Repo.TransitionScadenza(ctx, tx, s.ID, domain.StateCompleted, s.Version, domain.StateRescheduled, now)
	if err != nil {
		return Completion{}, err
	}
	s.State = domain.StateRescheduled
	s.Version = version
	if err := e.events().Append(ctx, tx, events.ScadenzaRescheduled, "scadenza", s.ID, operator, events.EventPayload{
		"successor_id":  succ.ID,
		"data_scadenza": succ.DueDateString(),
	}); err != nil {
		return Completion{}, err
	}
	c.Scadenza = s
	c.Successor = &succ
	return c, nil
}

// successorID is derived from the predecessor so that a replayed completion
// can never produce a second successor.
func successorID(previousID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("manutenzioni/scadenza/"+previousID+"/next")).String()
}

func (e Engine) completionAlerts(s domain.Scadenza, item domain.ChecklistItem, answer, notes, at string) []domain.AlertEvent {
	var out []domain.AlertEvent
	if notes = strings.TrimSpace(notes); notes != "" {
		out = append(out, newAlert(s, domain.AlertKindNote, fmt.Sprintf("%s: %s", item.Name, notes), at))
	}
	if e.Checklist.IsAlertAnswer(item, answer) {
		out = append(out, newAlert(s, domain.AlertKindAnswer, fmt.Sprintf("%s: esito %s", item.Name, strings.TrimSpace(answer)), at))
	}
	return out
}

func newAlert(s domain.Scadenza, kind domain.AlertKind, msg, at string) domain.AlertEvent {
	return domain.AlertEvent{
		Source:     domain.AlertSourceScadenza,
		Kind:       kind,
		Civico:     s.Civico,
		AssetID:    s.AssetID,
		ScadenzaID: s.ID,
		Message:    msg,
		Severity:   kind.Severity(),
		RaisedAt:   at,
	}
}

// emit hands alerts to the emitter. The write has already committed, so a
// delivery problem is logged and never returned.
func (e Engine) emit(ctx context.Context, alerts []domain.AlertEvent) {
	for _, a := range alerts {
		e.Metrics.AlertRaised(string(a.Kind))
		if e.Alerts == nil {
			continue
		}
		if err := e.Alerts.Emit(ctx, a); err != nil {
			e.logger().Warn("alert not emitted",
				zap.String("kind", string(a.Kind)),
				zap.String("scadenza_id", a.ScadenzaID),
				zap.Error(err))
		}
	}
}

func (e Engine) checkAnswer(item domain.ChecklistItem, answer string) error {
	if e.Checklist.Accepts(item, answer) {
		return nil
	}
	return fmt.Errorf("%w: esito %q is not an option of %s", domain.ErrInvalidInput, answer, item.ID)
}

// matchEntries aligns checklist entries with items. Every entry must match
// exactly one item; items without an entry get a zero entry.
func matchEntries(items []domain.ChecklistItem, entries []ChecklistEntry) ([]ChecklistEntry, error) {
	out := make([]ChecklistEntry, len(items))
	taken := make([]bool, len(items))
	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		idx := -1
		switch {
		case code == "" && len(items) == 1:
			idx = 0
		case code == "":
			return nil, fmt.Errorf("%w: checklist entry without codice", domain.ErrInvalidInput)
		default:
			for i, item := range items {
				if (item.Code != "" && strings.EqualFold(item.Code, code)) || item.ID == code {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: codice %s is not part of this checklist", domain.ErrInvalidInput, code)
		}
		if taken[idx] {
			return nil, fmt.Errorf("%w: codice %s answered twice", domain.ErrInvalidInput, code)
		}
		taken[idx] = true
		out[idx] = ChecklistEntry{Code: items[idx].Code, Answer: strings.TrimSpace(entry.Answer), Notes: strings.TrimSpace(entry.Notes)}
	}
	return out, nil
}

func joinNotes(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
