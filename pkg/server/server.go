// Package server provides the HTTP API: pipeline status, queue and
// alert management, and manual triggers for collection and checks.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sebastian-ames3/traderadar/internal/alerting"
	"github.com/sebastian-ames3/traderadar/internal/ingest"
	"github.com/sebastian-ames3/traderadar/internal/jobs"
	"github.com/sebastian-ames3/traderadar/internal/metrics"
	"github.com/sebastian-ames3/traderadar/internal/store"
	"github.com/sebastian-ames3/traderadar/pkg/source"
)

// Server provides the HTTP API.
type Server struct {
	store   *store.SQLiteStore
	alerts  *alerting.Engine
	ingest  *ingest.Service
	metrics *metrics.Metrics
	log     *logrus.Entry
	httpSrv *http.Server
}

// New creates a new HTTP server.
func New(st *store.SQLiteStore, alerts *alerting.Engine, ing *ingest.Service, met *metrics.Metrics, log *logrus.Entry, port int) *Server {
	if port == 0 {
		port = 8080
	}
	s := &Server{
		store:   st,
		alerts:  alerts,
		ingest:  ing,
		metrics: met,
		log:     log,
	}
	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.logRequests(s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /api/v1/items", s.handleItems)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("POST /api/v1/jobs/{id}/retry", s.handleJobRetry)
	mux.HandleFunc("POST /api/v1/transcriptions", s.handleEnqueue)
	mux.HandleFunc("GET /api/v1/sources/health", s.handleSourceHealth)
	mux.HandleFunc("GET /api/v1/sources/{source}/events", s.handleSourceEvents)
	mux.HandleFunc("GET /api/v1/alerts", s.handleAlerts)
	mux.HandleFunc("POST /api/v1/alerts/{id}/ack", s.handleAlertAck)
	mux.HandleFunc("POST /api/v1/alerts/check", s.handleAlertCheck)
	mux.HandleFunc("GET /api/v1/symbols", s.handleSymbols)
	mux.HandleFunc("GET /api/v1/symbols/{symbol}", s.handleSymbol)
	mux.HandleFunc("POST /api/v1/collect", s.handleCollect)
	return mux
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpSrv.Addr).Info("http server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOpts{Limit: queryInt(r, "limit", 100)}
	if src := r.URL.Query().Get("source"); src != "" {
		opts.Source = source.SourceType(src)
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		opts.Kind = source.Kind(kind)
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		opts.Since = t
	}

	items, err := s.store.ListItems(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	var status jobs.Status
	if q := r.URL.Query().Get("status"); q != "" {
		status = jobs.Status(q)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown status %q", q)})
			return
		}
	}

	list, err := s.store.ListJobs(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	stats, err := s.store.JobStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  list,
		"count": len(list),
		"stats": stats,
	})
}

func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	n, err := s.store.RetryJobs(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if n == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job is not failed"})
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentID int64 `json:"content_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ContentID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content_id is required"})
		return
	}

	item, err := s.store.GetItem(r.Context(), req.ContentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "content item not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if item.Kind != source.KindVideo {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only video items can be transcribed"})
		return
	}

	job, created, err := s.store.EnqueueJob(r.Context(), item.ID, item.Source, item.URL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, job)
}

func (s *Server) handleSourceHealth(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListSourceHealth(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"count": len(rows),
	})
}

func (s *Server) handleSourceEvents(w http.ResponseWriter, r *http.Request) {
	src := source.SourceType(r.PathValue("source"))
	if source.KindFor(src) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown source %q", src)})
		return
	}

	events, err := s.store.ListCollectionEvents(r.Context(), src, queryInt(r, "limit", 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  events,
		"count": len(events),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	includeAcked := r.URL.Query().Get("all") != ""
	list, err := s.alerts.List(r.Context(), includeAcked, queryInt(r, "limit", 50))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  list,
		"count": len(list),
	})
}

func (s *Server) handleAlertAck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.By == "" {
		req.By = "api"
	}

	if err := s.alerts.Acknowledge(r.Context(), r.PathValue("id"), req.By); err != nil {
		if errors.Is(err, alerting.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "alert not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (s *Server) handleAlertCheck(w http.ResponseWriter, r *http.Request) {
	created, err := s.alerts.RunCheck(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created": created,
		"count":   len(created),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	states, err := s.store.ListSymbolStates(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  states,
		"count": len(states),
	})
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.PathValue("symbol"))
	state, err := s.store.GetSymbolState(r.Context(), symbol)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if state == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown symbol"})
		return
	}

	levels, err := s.store.ListSymbolLevels(r.Context(), symbol, queryInt(r, "levels", 20))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":  state,
		"levels": levels,
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.ingest.CollectAll(r.Context())

	var errs []string
	for _, sum := range summaries {
		if sum.Err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", sum.Source, sum.Err))
		}
	}
	if err != nil {
		errs = append(errs, err.Error())
	}

	resp := map[string]any{"data": summaries}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
