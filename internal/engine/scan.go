package engine

import (
	"context"
	"fmt"
	"time"

	"manutenzioni/internal/calendar"
	"manutenzioni/internal/domain"
	"manutenzioni/internal/repo"
)

// ScanAlerts raises one urgente alert and one scaduta alert per open instance,
// the first time the instance is seen in that status. It returns the number
// of alerts raised by this call.
func (e Engine) ScanAlerts(ctx context.Context, today time.Time) (int, error) {
	now := e.stamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	open, err := e.Repo.ListScadenzeTx(ctx, tx, repo.ScadenzaFilter{State: domain.StateScheduled})
	if err != nil {
		return 0, err
	}
	lookup := e.itemLookup(ctx)
	var alerts []domain.AlertEvent
	for _, s := range open {
		var kind domain.AlertKind
		switch calendar.Classify(s, today) {
		case domain.StatusOverdue:
			kind = domain.AlertKindOverdue
		case domain.StatusUrgent:
			kind = domain.AlertKindUrgent
		default:
			continue
		}
		raised, err := e.Repo.MarkAlertRaised(ctx, tx, s.ID, kind, now)
		if err != nil {
			return 0, err
		}
		if !raised {
			continue
		}
		days := calendar.DaysRemaining(s.DueDate, today)
		msg := fmt.Sprintf("%s: scade il %s (tra %d giorni)", lookup(s.ChecklistItemID).Name, s.DueDateString(), days)
		if days < 0 {
			msg = fmt.Sprintf("%s: scaduta il %s (%d giorni fa)", lookup(s.ChecklistItemID).Name, s.DueDateString(), -days)
		}
		alerts = append(alerts, newAlert(s, kind, msg, now))
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	e.emit(ctx, alerts)
	return len(alerts), nil
}
