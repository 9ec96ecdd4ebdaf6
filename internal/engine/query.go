package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"manutenzioni/internal/calendar"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/repo"
)

// GroupView is a gruppo as shown in the calendar.
type GroupView struct {
	calendar.Gruppo
	Name          string
	Status        domain.Status
	DaysRemaining int
	// Items is aligned with Members.
	Items []domain.ChecklistItem
}

// ListGroups returns the open scadenze grouped by civico, asset and due date,
// ordered by due date.
func (e Engine) ListGroups(ctx context.Context, state domain.State, today time.Time) ([]GroupView, error) {
	if state == "" {
		state = domain.StateScheduled
	}
	if state != domain.StateScheduled {
		return nil, fmt.Errorf("%w: only %s scadenze form groups", domain.ErrInvalidInput, domain.StateScheduled)
	}
	open, err := e.Repo.ListScadenze(ctx, repo.ScadenzaFilter{State: state})
	if err != nil {
		return nil, err
	}
	lookup := e.itemLookup(ctx)
	groups := calendar.Group(open)
	out := make([]GroupView, 0, len(groups))
	for _, g := range groups {
		v := GroupView{
			Gruppo:        g,
			Status:        calendar.ClassifyGroup(g, today),
			DaysRemaining: calendar.DaysRemaining(g.DueDate(), today),
			Items:         make([]domain.ChecklistItem, len(g.Members)),
		}
		for i, m := range g.Members {
			v.Items[i] = lookup(m.ChecklistItemID)
		}
		v.Name = calendar.Name(g, func(s domain.Scadenza) string { return lookup(s.ChecklistItemID).Name })
		out = append(out, v)
	}
	return out, nil
}

// ListScadenze passes a filtered listing through to the store.
func (e Engine) ListScadenze(ctx context.Context, f repo.ScadenzaFilter) ([]domain.Scadenza, error) {
	if f.State != "" && !f.State.Valid() {
		return nil, fmt.Errorf("%w: unknown stato %q", domain.ErrInvalidInput, f.State)
	}
	return e.Repo.ListScadenze(ctx, f)
}

// FormRow is one line of the completion form.
type FormRow struct {
	ScadenzaID string
	Item       domain.ChecklistItem
	Answers    []domain.AnswerOption
}

// FormForScadenza returns the checklist form of one open instance.
func (e Engine) FormForScadenza(ctx context.Context, id string) ([]FormRow, error) {
	s, err := e.Repo.GetScadenza(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State != domain.StateScheduled {
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrAlreadyCompleted, s.ID, s.State)
	}
	return e.formRows(ctx, []domain.Scadenza{s})
}

// FormForGroup returns one form row per open member of the group.
func (e Engine) FormForGroup(ctx context.Context, civico, assetID, dueDate string) ([]FormRow, error) {
	key, err := groupKey(civico, assetID, dueDate)
	if err != nil {
		return nil, err
	}
	members, err := e.Repo.ListScadenze(ctx, repo.ScadenzaFilter{
		State:   domain.StateScheduled,
		Civico:  key.Civico,
		AssetID: key.AssetID,
		DueDate: key.DueDate,
	})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no open scadenze for %s", domain.ErrInstanceNotFound, groupEntityID(key))
	}
	return e.formRows(ctx, members)
}

func (e Engine) formRows(ctx context.Context, members []domain.Scadenza) ([]FormRow, error) {
	rows := make([]FormRow, 0, len(members))
	for _, s := range members {
		item, err := e.Checklist.Item(ctx, s.ChecklistItemID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, FormRow{ScadenzaID: s.ID, Item: item, Answers: e.Checklist.Answers(item)})
	}
	return rows, nil
}

// ChecklistItems lists provider items, optionally for one asset type.
func (e Engine) ChecklistItems(ctx context.Context, assetType string) ([]domain.ChecklistItem, error) {
	return e.Checklist.Items(ctx, assetType)
}

// itemLookup resolves checklist items for display. A missing item degrades to
// its id instead of failing the whole listing.
func (e Engine) itemLookup(ctx context.Context) func(id string) domain.ChecklistItem {
	cache := map[string]domain.ChecklistItem{}
	return func(id string) domain.ChecklistItem {
		if item, ok := cache[id]; ok {
			return item
		}
		item, err := e.Checklist.Item(ctx, id)
		if err != nil {
			if !errors.Is(err, domain.ErrChecklistItemNotFound) {
				e.logger().Warn("checklist lookup failed", zap.String("checklist_voce_id", id), zap.Error(err))
			}
			item = domain.ChecklistItem{ID: id, Name: id}
		}
		cache[id] = item
		return item
	}
}
