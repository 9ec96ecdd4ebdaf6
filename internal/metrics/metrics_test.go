package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manutenzioni/internal/metrics"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.Completed("riprogrammata")
	m.Cancelled("group", 3)
	m.AlertRaised("note")
	m.AlertDelivery("webhook", errors.New("down"))
	m.AlertDropped()
	m.ObserveHTTP("GET", "/api/health", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `manutenzioni_scadenze_completed_total{state="riprogrammata"} 1`)
	assert.Contains(t, out, `manutenzioni_scadenze_cancelled_total{scope="group"} 3`)
	assert.Contains(t, out, `manutenzioni_alert_deliveries_total{result="error",sink="webhook"} 1`)
	assert.Contains(t, out, `manutenzioni_alert_queue_dropped_total 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.Completed("completata")
	m.AlertRaised("note")
	m.ObserveHTTP("GET", "/", 200, time.Second)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
