// Package alert delivers alert events raised by the engine to chat bots,
// webhooks and message brokers.
package alert

import (
	"context"
	"errors"

	"manutenzioni/internal/domain"
)

var (
	ErrQueueFull = errors.New("alert queue full")
	ErrClosed    = errors.New("alert dispatcher closed")
)

// Emitter accepts alert events. Implementations must not block the caller
// for the duration of a delivery.
type Emitter interface {
	Emit(ctx context.Context, evt domain.AlertEvent) error
}

// Sink performs one delivery attempt to a single destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt domain.AlertEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, domain.AlertEvent) error { return nil }
