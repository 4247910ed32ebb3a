package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DailyReader reads the most recently persisted daily table.
type DailyReader interface {
	ReadDaily(ctx context.Context) ([]domain.DailyRecord, error)
}

// Server exposes health, readiness, metrics, and the forecast report API.
type Server struct {
	httpServer  *http.Server
	reader      DailyReader
	precipScale float64
	logger      *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api/v1 report routes. precipScale converts stored precipitation to
// millimetres in report responses.
func NewServer(addr string, ready sharedobs.ReadinessChecker, reader DailyReader, precipScale float64, logger *slog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		reader:      reader,
		precipScale: precipScale,
		logger:      logger,
	}

	router.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	router.HandleFunc("/readyz", sharedobs.ReadinessHandler(ready)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/forecasts", s.handleForecasts).Methods(http.MethodGet)
	api.HandleFunc("/locations", s.handleLocations).Methods(http.MethodGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// handleForecasts returns the report rows of the latest table, optionally
// filtered by location name and state (case-insensitive).
func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.reportRows(w, r)
	if !ok {
		return
	}

	location := r.URL.Query().Get("location")
	state := r.URL.Query().Get("state")
	filtered := make([]domain.ReportRow, 0, len(rows))
	for _, row := range rows {
		if location != "" && !strings.EqualFold(row.Location, location) {
			continue
		}
		if state != "" && !strings.EqualFold(row.State, state) {
			continue
		}
		filtered = append(filtered, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(filtered), "forecasts": filtered})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	rows, ok := s.reportRows(w, r)
	if !ok {
		return
	}
	summaries := domain.Summarize(rows)
	writeJSON(w, http.StatusOK, map[string]any{"count": len(summaries), "locations": summaries})
}

// reportRows loads the daily table and derives report rows. On failure it
// writes the error response and returns false.
func (s *Server) reportRows(w http.ResponseWriter, r *http.Request) ([]domain.ReportRow, bool) {
	records, err := s.reader.ReadDaily(r.Context())
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "no daily table has been written yet")
		return nil, false
	}
	if err != nil {
		s.logger.Error("read daily table failed", "error", err)
		writeError(w, http.StatusInternalServerError, "daily table could not be read")
		return nil, false
	}

	rows := make([]domain.ReportRow, len(records))
	for i, rec := range records {
		rows[i] = domain.NewReportRow(rec, s.precipScale)
	}
	return rows, true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
