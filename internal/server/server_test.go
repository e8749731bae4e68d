package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navwatch/internal/fetcher"
	"navwatch/internal/journal"
	"navwatch/internal/ledger"
	"navwatch/internal/metrics"
	"navwatch/internal/premium"
	"navwatch/internal/service"
)

type stubReports struct {
	report service.Report
	ok     bool
}

func (s stubReports) LastReport() (service.Report, bool) { return s.report, s.ok }

type stubLedger struct{}

func (stubLedger) Snapshot() ledger.Snapshot {
	return ledger.Snapshot{Date: "2026-10-16", Alerted: []string{"160216"}}
}

type stubJournal struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (s *stubJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	s.limit = limit
	return s.entries, s.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	srv := New(Options{Metrics: metrics.New()}, zerolog.Nop())

	assert.Equal(t, http.StatusOK, get(t, srv.Handler(), "/healthz").Code)
	rec := get(t, srv.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "navwatch_ledger_alerted_instruments")
}

func TestStatus(t *testing.T) {
	quote := fetcher.Quote{
		Instrument:     fetcher.Instrument{ID: "160216", Name: "国泰商品"},
		MarketPrice:    decimal.NewNullDecimal(decimal.RequireFromString("1.1")),
		ReferenceValue: decimal.NewNullDecimal(decimal.NewFromInt(1)),
	}
	report := service.Report{
		Started:    time.Now(),
		Finished:   time.Now(),
		Thresholds: premium.NewThresholds(5, 15),
		Results: []service.Result{{
			Quote:   quote,
			Rate:    premium.Calculate(quote.MarketPrice, quote.ReferenceValue),
			Status:  premium.StatusPremiumAlert,
			Outcome: service.OutcomeNotified,
		}},
	}

	empty := New(Options{Reports: stubReports{}}, zerolog.Nop())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, empty.Handler(), "/api/status").Code)

	srv := New(Options{Reports: stubReports{report: report, ok: true}}, zerolog.Nop())
	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Alerts  int          `json:"alerts"`
		Results []resultView `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Alerts)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "10.00", body.Results[0].PremiumPct)
	assert.Equal(t, "premium_alert", body.Results[0].Status)
	assert.Empty(t, body.Results[0].DiscountPct)
}

func TestLedger(t *testing.T) {
	srv := New(Options{Ledger: stubLedger{}}, zerolog.Nop())
	rec := get(t, srv.Handler(), "/api/ledger")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap ledger.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, []string{"160216"}, snap.Alerted)
}

func TestAlerts(t *testing.T) {
	j := &stubJournal{entries: []journal.Entry{{InstrumentID: "160216", Kind: "premium", Delivered: true}}}
	srv := New(Options{Journal: j}, zerolog.Nop())

	rec := get(t, srv.Handler(), "/api/alerts?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, j.limit)
	assert.Contains(t, rec.Body.String(), `"instrument_id":"160216"`)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.Handler(), "/api/alerts?limit=x").Code)

	j.err = errors.New("disk gone")
	assert.Equal(t, http.StatusInternalServerError, get(t, srv.Handler(), "/api/alerts").Code)
}
