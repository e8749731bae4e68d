package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveCycle("ok", 2*time.Second, time.Unix(1700000000, 0))
	m.ObserveCycle("skipped", 0, time.Time{})
	m.ObserveOutcome("notified", "premium_alert")
	m.ObserveNotification("premium", true)
	m.ObserveNotification("premium", false)
	m.SetLedgerSize(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("premium", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ledgerSize))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.lastCycle))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveOutcome("no_data", "normal")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `navwatch_instrument_outcomes_total{outcome="no_data",status="normal"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCycle("ok", time.Second, time.Now())
	m.ObserveOutcome("none", "normal")
	m.ObserveNotification("discount", true)
	m.SetLedgerSize(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
