// Package calendar groups open scadenze into operator-facing events and
// classifies their urgency. Everything here is a pure function of its input.
package calendar

import (
	"fmt"
	"time"

	"manutenzioni/internal/domain"
)

// Key identifies a Gruppo.
type Key struct {
	Civico  string
	AssetID string
	DueDate string
}

// KeyOf returns the grouping key of s.
func KeyOf(s domain.Scadenza) Key {
	return Key{Civico: s.Civico, AssetID: s.AssetID, DueDate: s.DueDateString()}
}

// Gruppo is the computed set of open scadenze sharing civico, asset and due date.
type Gruppo struct {
	Key     Key
	Members []domain.Scadenza
}

// DueDate returns the shared due date of the members.
func (g Gruppo) DueDate() time.Time {
	if len(g.Members) == 0 {
		return time.Time{}
	}
	return g.Members[0].DueDate
}

// IsGroup reports whether the gruppo aggregates more than one scadenza.
func (g Gruppo) IsGroup() bool { return len(g.Members) > 1 }

// Group partitions instances by Key. Groups appear in order of their first
// member and members keep their input order.
func Group(instances []domain.Scadenza) []Gruppo {
	index := make(map[Key]int)
	var out []Gruppo
	for _, s := range instances {
		k := KeyOf(s)
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Gruppo{Key: k})
		}
		out[i].Members = append(out[i].Members, s)
	}
	return out
}

// DaysRemaining is the number of calendar days from today to due.
// It is negative once due has passed.
func DaysRemaining(due, today time.Time) int {
	return int((civil(due).Unix() - civil(today).Unix()) / 86400)
}

// Classify derives the presentation status of s on today.
func Classify(s domain.Scadenza, today time.Time) domain.Status {
	days := DaysRemaining(s.DueDate, today)
	switch {
	case days < 0:
		return domain.StatusOverdue
	case days <= s.LeadTimeDays:
		return domain.StatusUrgent
	}
	return domain.StatusScheduled
}

// ClassifyGroup returns the most severe status among the members.
func ClassifyGroup(g Gruppo, today time.Time) domain.Status {
	status := domain.StatusScheduled
	for _, m := range g.Members {
		if st := Classify(m, today); st.Severity() > status.Severity() {
			status = st
		}
	}
	return status
}

// Name is the display label of the gruppo.
func Name(g Gruppo, itemName func(domain.Scadenza) string) string {
	if len(g.Members) == 1 {
		return itemName(g.Members[0])
	}
	return fmt.Sprintf("%d voci di manutenzione", len(g.Members))
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
