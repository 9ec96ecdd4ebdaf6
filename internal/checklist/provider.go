// Package checklist supplies the maintenance checklist items a scadenza can
// reference, and knows which answers raise non-conformity alerts.
package checklist

import (
	"context"
	"fmt"
	"strings"

	"manutenzioni/internal/config"
	"manutenzioni/internal/domain"
)

// Provider is the read-only source of checklist item definitions.
type Provider interface {
	Item(ctx context.Context, id string) (domain.ChecklistItem, error)
	Items(ctx context.Context, assetType string) ([]domain.ChecklistItem, error)
	Answers(item domain.ChecklistItem) []domain.AnswerOption
	Accepts(item domain.ChecklistItem, answer string) bool
	IsAlertAnswer(item domain.ChecklistItem, answer string) bool
	IsDone(item domain.ChecklistItem, answer string) bool
}

// Catalog is a Provider backed by the checklist section of the config.
type Catalog struct {
	items    []domain.ChecklistItem
	byID     map[string]int
	defaults []domain.AnswerOption
}

// NewCatalog indexes the configured items. Item order is preserved.
func NewCatalog(cfg config.ChecklistConfig) *Catalog {
	c := &Catalog{
		items:    append([]domain.ChecklistItem(nil), cfg.Items...),
		byID:     make(map[string]int, len(cfg.Items)),
		defaults: cfg.Answers,
	}
	for i, item := range c.items {
		c.byID[item.ID] = i
	}
	return c
}

func (c *Catalog) Item(_ context.Context, id string) (domain.ChecklistItem, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.ChecklistItem{}, fmt.Errorf("%w: %s", domain.ErrChecklistItemNotFound, id)
	}
	return c.items[i], nil
}

// Items lists items for assetType, or every item when assetType is empty.
func (c *Catalog) Items(_ context.Context, assetType string) ([]domain.ChecklistItem, error) {
	var out []domain.ChecklistItem
	for _, item := range c.items {
		if assetType == "" || strings.EqualFold(item.AssetType, assetType) {
			out = append(out, item)
		}
	}
	return out, nil
}

// Accepts reports whether answer is one of the item's options. An empty
// answer is always accepted.
func (c *Catalog) Accepts(item domain.ChecklistItem, answer string) bool {
	if strings.TrimSpace(answer) == "" {
		return true
	}
	_, ok := c.option(item, answer)
	return ok
}

func (c *Catalog) IsAlertAnswer(item domain.ChecklistItem, answer string) bool {
	opt, ok := c.option(item, answer)
	return ok && opt.Alert
}

// IsDone is true unless the answer is configured as not executed.
func (c *Catalog) IsDone(item domain.ChecklistItem, answer string) bool {
	opt, ok := c.option(item, answer)
	if !ok || opt.Done == nil {
		return true
	}
	return *opt.Done
}

// Answers returns the selectable options of item: its own, or the catalog
// defaults.
func (c *Catalog) Answers(item domain.ChecklistItem) []domain.AnswerOption {
	if len(item.Answers) > 0 {
		return item.Answers
	}
	return c.defaults
}

func (c *Catalog) option(item domain.ChecklistItem, answer string) (domain.AnswerOption, bool) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return domain.AnswerOption{}, false
	}
	for _, opt := range c.Answers(item) {
		if strings.EqualFold(strings.TrimSpace(opt.Value), answer) {
			return opt, true
		}
	}
	return domain.AnswerOption{}, false
}
