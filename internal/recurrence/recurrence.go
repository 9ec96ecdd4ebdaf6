// Package recurrence computes the next due date of a recurring scadenza.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"manutenzioni/internal/domain"
)

var aliases = map[string]domain.Recurrence{
	"":              domain.RecurrenceNone,
	"nessuna":       domain.RecurrenceNone,
	"none":          domain.RecurrenceNone,
	"settimanale":   domain.RecurrenceWeekly,
	"weekly":        domain.RecurrenceWeekly,
	"bisettimanale": domain.RecurrenceBiweekly,
	"biweekly":      domain.RecurrenceBiweekly,
	"mensile":       domain.RecurrenceMonthly,
	"monthly":       domain.RecurrenceMonthly,
	"bimestrale":    domain.RecurrenceBimonthly,
	"bimonthly":     domain.RecurrenceBimonthly,
	"semestrale":    domain.RecurrenceSemiannual,
	"semiannual":    domain.RecurrenceSemiannual,
	"annuale":       domain.RecurrenceAnnual,
	"annual":        domain.RecurrenceAnnual,
	"biennale":      domain.RecurrenceBiennial,
	"biennial":      domain.RecurrenceBiennial,
}

// Parse normalizes a frequenza_tipo value. Empty input means no recurrence.
func Parse(v string) (domain.Recurrence, error) {
	r, ok := aliases[strings.ToLower(strings.TrimSpace(v))]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidRecurrence, v)
	}
	return r, nil
}

// IsRecurring reports whether r produces successors.
func IsRecurring(r domain.Recurrence) bool {
	_, err := step(r)
	return err == nil
}

type interval struct {
	days   int
	months int
}

func step(r domain.Recurrence) (interval, error) {
	switch r {
	case domain.RecurrenceWeekly:
		return interval{days: 7}, nil
	case domain.RecurrenceBiweekly:
		return interval{days: 14}, nil
	case domain.RecurrenceMonthly:
		return interval{months: 1}, nil
	case domain.RecurrenceBimonthly:
		return interval{months: 2}, nil
	case domain.RecurrenceSemiannual:
		return interval{months: 6}, nil
	case domain.RecurrenceAnnual:
		return interval{months: 12}, nil
	case domain.RecurrenceBiennial:
		return interval{months: 24}, nil
	}
	return interval{}, fmt.Errorf("%w: %q has no next occurrence", domain.ErrInvalidRecurrence, r)
}

// NextDue returns the due date following base for recurrence r.
// Month arithmetic clamps to the last day of the target month.
// The result is a UTC calendar date.
func NextDue(base time.Time, r domain.Recurrence) (time.Time, error) {
	iv, err := step(r)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := base.Date()
	if iv.days > 0 {
		return time.Date(y, m, d+iv.days, 0, 0, 0, 0, time.UTC), nil
	}
	total := int(m) - 1 + iv.months
	ty := y + total/12
	tm := time.Month(total%12 + 1)
	if last := daysIn(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, 0, 0, 0, 0, time.UTC), nil
}

func daysIn(year int, month time.Month) int {
	// day 0 of the following month is the last day of this one
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
