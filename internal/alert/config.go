package alert

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"manutenzioni/internal/config"
	"manutenzioni/internal/metrics"
)

// FromConfig builds a dispatcher over the sinks enabled in cfg. The returned
// close function drains the queue and releases broker connections.
func FromConfig(cfg config.AlertsConfig, logger *zap.Logger, m *metrics.Metrics) (*Dispatcher, func(context.Context) error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		sinks   []Sink
		closers []func() error
	)
	if cfg.Log {
		sinks = append(sinks, LogSink{Logger: logger.Named("alert")})
	}
	for _, hook := range cfg.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		sinks = append(sinks, NewWebhookSink(hook.URL, hook.Secret, time.Duration(hook.TimeoutSeconds)*time.Second))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		k := NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
	}
	d := NewDispatcher(Options{
		QueueSize:       cfg.QueueSize,
		MaxAttempts:     cfg.MaxAttempts,
		BreakerFailures: cfg.Breaker.MaxFailures,
		BreakerTimeout:  time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
	}, logger, m, sinks...)
	closeFn := func(ctx context.Context) error {
		err := d.Close(ctx)
		for _, c := range closers {
			err = errors.Join(err, c())
		}
		return err
	}
	return d, closeFn
}
