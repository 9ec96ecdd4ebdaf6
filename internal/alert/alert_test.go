package alert_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manutenzioni/internal/alert"
	"manutenzioni/internal/config"
	"manutenzioni/internal/domain"
)

func sampleEvent(kind domain.AlertKind) domain.AlertEvent {
	return domain.AlertEvent{
		Source:     domain.AlertSourceScadenza,
		Kind:       kind,
		Civico:     "Via Roma 1",
		AssetID:    "CALDAIA-1",
		ScadenzaID: "s-1",
		Message:    "Non Conforme",
		Severity:   "critical",
		RaisedAt:   "2024-03-01T10:00:00Z",
	}
}

func closeDispatcher(t *testing.T, d *alert.Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestWebhookSinkPostsJSONWithSecret(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []domain.AlertEvent
		hdrs []http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt domain.AlertEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, evt)
		hdrs = append(hdrs, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := alert.NewDispatcher(alert.Options{}, zap.NewNop(), nil, alert.NewWebhookSink(srv.URL, "s3cret", time.Second))
	require.NoError(t, d.Emit(context.Background(), sampleEvent(domain.AlertKindAnswer)))
	require.NoError(t, d.Emit(context.Background(), sampleEvent(domain.AlertKindNote)))
	closeDispatcher(t, d)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, domain.AlertKindAnswer, got[0].Kind)
	assert.Equal(t, "Via Roma 1", got[0].Civico)
	assert.Equal(t, "s3cret", hdrs[0].Get("X-Manutenzioni-Secret"))
	assert.Equal(t, "esito", hdrs[0].Get("X-Manutenzioni-Alert"))
	assert.Equal(t, domain.AlertKindNote, got[1].Kind)
}

func TestWebhookSinkReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := alert.NewWebhookSink(srv.URL, "", time.Second).Deliver(context.Background(), sampleEvent(domain.AlertKindNote))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type countingSink struct {
	calls atomic.Int32
	err   error
}

func (c *countingSink) Name() string { return "counting" }

func (c *countingSink) Deliver(context.Context, domain.AlertEvent) error {
	c.calls.Add(1)
	return c.err
}

func TestDispatcherRetriesThenGivesUp(t *testing.T) {
	sink := &countingSink{err: errors.New("down")}
	d := alert.NewDispatcher(alert.Options{MaxAttempts: 3, Backoff: time.Millisecond, BreakerFailures: 100}, zap.NewNop(), nil, sink)
	require.NoError(t, d.Emit(context.Background(), sampleEvent(domain.AlertKindNote)))
	closeDispatcher(t, d)
	assert.Equal(t, int32(3), sink.calls.Load())
}

func TestDispatcherBreakerStopsCallingDeadSink(t *testing.T) {
	dead := &countingSink{err: errors.New("down")}
	healthy := &countingSink{}
	d := alert.NewDispatcher(alert.Options{
		MaxAttempts:     1,
		Backoff:         time.Millisecond,
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	}, zap.NewNop(), nil, dead, healthy)
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Emit(context.Background(), sampleEvent(domain.AlertKindOverdue)))
	}
	closeDispatcher(t, d)
	assert.Equal(t, int32(2), dead.calls.Load())
	assert.Equal(t, int32(5), healthy.calls.Load())
}

type blockingSink struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Deliver(ctx context.Context, _ domain.AlertEvent) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func TestDispatcherEmitNeverBlocks(t *testing.T) {
	sink := &blockingSink{started: make(chan struct{}), release: make(chan struct{})}
	d := alert.NewDispatcher(alert.Options{QueueSize: 1}, zap.NewNop(), nil, sink)
	ctx := context.Background()

	require.NoError(t, d.Emit(ctx, sampleEvent(domain.AlertKindNote)))
	<-sink.started
	require.NoError(t, d.Emit(ctx, sampleEvent(domain.AlertKindNote)))
	err := d.Emit(ctx, sampleEvent(domain.AlertKindNote))
	require.ErrorIs(t, err, alert.ErrQueueFull)

	close(sink.release)
	closeDispatcher(t, d)
	require.ErrorIs(t, d.Emit(ctx, sampleEvent(domain.AlertKindNote)), alert.ErrClosed)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkKeysByCivicoAndAsset(t *testing.T) {
	w := &fakeWriter{}
	sink := &alert.KafkaSink{Topic: "manutenzioni.alerts", Writer: w}
	require.NoError(t, sink.Deliver(context.Background(), sampleEvent(domain.AlertKindAnswer)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "Via Roma 1/CALDAIA-1", string(w.msgs[0].Key))

	var evt domain.AlertEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &evt))
	assert.Equal(t, "s-1", evt.ScadenzaID)
	assert.Equal(t, "kafka:manutenzioni.alerts", sink.Name())
	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestFromConfigSkipsDisabledWebhooks(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	off := false
	cfg := config.AlertsConfig{
		Webhooks: []config.WebhookConfig{
			{URL: srv.URL},
			{URL: srv.URL, Enabled: &off},
		},
	}
	d, closeFn := alert.FromConfig(cfg, zap.NewNop(), nil)
	require.NoError(t, d.Emit(context.Background(), sampleEvent(domain.AlertKindUrgent)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, closeFn(ctx))
	assert.Equal(t, int32(1), hits.Load())
}
