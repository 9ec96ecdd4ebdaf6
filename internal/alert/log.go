package alert

import (
	"context"

	"go.uber.org/zap"

	"manutenzioni/internal/domain"
)

// LogSink writes alerts to the structured log.
type LogSink struct {
	Logger *zap.Logger
}

func (LogSink) Name() string { return "log" }

func (l LogSink) Deliver(_ context.Context, evt domain.AlertEvent) error {
	fields := []zap.Field{
		zap.String("kind", string(evt.Kind)),
		zap.String("severity", evt.Severity),
		zap.String("civico", evt.Civico),
		zap.String("asset", evt.AssetID),
		zap.String("scadenza_id", evt.ScadenzaID),
		zap.String("raised_at", evt.RaisedAt),
	}
	if evt.Severity == "critical" {
		l.Logger.Error(evt.Message, fields...)
		return nil
	}
	l.Logger.Warn(evt.Message, fields...)
	return nil
}
