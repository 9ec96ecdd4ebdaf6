package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"manutenzioni/internal/domain"
	"manutenzioni/internal/metrics"
)

const (
	defaultQueueSize       = 256
	defaultMaxAttempts     = 3
	defaultBackoff         = 200 * time.Millisecond
	defaultDeliveryTimeout = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

type Options struct {
	QueueSize       int
	MaxAttempts     int
	Backoff         time.Duration
	DeliveryTimeout time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = defaultBackoff
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = defaultDeliveryTimeout
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = defaultBreakerFailures
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = defaultBreakerTimeout
	}
	return o
}

type guardedSink struct {
	sink    Sink
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher queues events in memory and delivers them from a single worker
// to every sink. Each sink sits behind its own circuit breaker, so a dead
// webhook does not hold back the others.
type Dispatcher struct {
	opts    Options
	sinks   []guardedSink
	queue   chan domain.AlertEvent
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(opts Options, logger *zap.Logger, m *metrics.Metrics, sinks ...Sink) *Dispatcher {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		opts:    opts,
		queue:   make(chan domain.AlertEvent, opts.QueueSize),
		logger:  logger.Named("alert"),
		metrics: m,
		done:    make(chan struct{}),
	}
	for _, s := range sinks {
		name := s.Name()
		d.sinks = append(d.sinks, guardedSink{
			sink: s,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    name,
				Timeout: opts.BreakerTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= opts.BreakerFailures
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					d.logger.Warn("sink breaker state changed",
						zap.String("sink", name), zap.String("from", from.String()), zap.String("to", to.String()))
				},
			}),
		})
	}
	go d.run()
	return d
}

// Emit enqueues evt. It returns ErrQueueFull instead of waiting for room.
func (d *Dispatcher) Emit(_ context.Context, evt domain.AlertEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		d.metrics.AlertDropped()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits until the queue is drained or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		for _, gs := range d.sinks {
			d.deliver(gs, evt)
		}
	}
}

func (d *Dispatcher) deliver(gs guardedSink, evt domain.AlertEvent) {
	name := gs.sink.Name()
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.DeliveryTimeout)
		_, err = gs.breaker.Execute(func() (interface{}, error) {
			return nil, gs.sink.Deliver(ctx, evt)
		})
		cancel()
		d.metrics.AlertDelivery(name, err)
		if err == nil {
			return
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if attempt < d.opts.MaxAttempts {
			time.Sleep(d.opts.Backoff * time.Duration(attempt))
		}
	}
	d.logger.Error("alert delivery failed",
		zap.String("sink", name),
		zap.String("kind", string(evt.Kind)),
		zap.String("civico", evt.Civico),
		zap.String("asset", evt.AssetID),
		zap.String("scadenza_id", evt.ScadenzaID),
		zap.Error(err))
}
