package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"navwatch/internal/journal"
	"navwatch/internal/ledger"
	"navwatch/internal/metrics"
	"navwatch/internal/service"
)

// ReportSource exposes the last finished cycle.
type ReportSource interface {
	LastReport() (service.Report, bool)
}

// LedgerView exposes today's alert set.
type LedgerView interface {
	Snapshot() ledger.Snapshot
}

// Options wire the status server.
type Options struct {
	Addr    string
	Reports ReportSource
	Ledger  LedgerView
	Journal journal.Reader
	Metrics *metrics.Metrics
}

// Server serves health, metrics and monitoring status over HTTP.
type Server struct {
	opts   Options
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New creates the HTTP server.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		log:    logger.With().Str("component", "server").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", opts.Metrics.Handler())
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/ledger", s.handleLedger)
		r.Get("/alerts", s.handleAlerts)
	})

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.opts.Addr).Msg("starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resultView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	MarketPrice    string `json:"market_price,omitempty"`
	ReferenceValue string `json:"reference_value,omitempty"`
	ReferenceDate  string `json:"reference_date,omitempty"`
	State          string `json:"state,omitempty"`
	PremiumPct     string `json:"premium_pct,omitempty"`
	DiscountPct    string `json:"discount_pct,omitempty"`
	Status         string `json:"status"`
	Outcome        string `json:"outcome"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reports == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "monitor not running"})
		return
	}
	report, ok := s.opts.Reports.LastReport()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no cycle finished yet"})
		return
	}

	results := make([]resultView, 0, len(report.Results))
	for _, res := range report.Results {
		view := resultView{
			ID:            res.Quote.Instrument.ID,
			Name:          res.Quote.Instrument.Name,
			ReferenceDate: res.Quote.ReferenceDate,
			State:         res.Quote.State,
			Status:        string(res.Status),
			Outcome:       string(res.Outcome),
		}
		if res.Quote.MarketPrice.Valid {
			view.MarketPrice = res.Quote.MarketPrice.Decimal.String()
		}
		if res.Quote.ReferenceValue.Valid {
			view.ReferenceValue = res.Quote.ReferenceValue.Decimal.String()
		}
		if res.Rate.Premium.Valid {
			view.PremiumPct = res.Rate.Premium.Decimal.StringFixed(2)
		}
		if res.Rate.Discount.Valid {
			view.DiscountPct = res.Rate.Discount.Decimal.StringFixed(2)
		}
		if res.Err != nil {
			view.Error = res.Err.Error()
		}
		results = append(results, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"started":            report.Started,
		"finished":           report.Finished,
		"premium_threshold":  report.Thresholds.Premium.String(),
		"discount_threshold": report.Thresholds.Discount.String(),
		"alerts":             report.Alerts(),
		"results":            results,
	})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ledger == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "ledger not configured"})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Ledger.Snapshot())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "journal not configured"})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := s.opts.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to read alert journal")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read alert journal"})
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
