package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rowwatch/rowwatch/internal/catalog"
	"github.com/rowwatch/rowwatch/internal/config"
	"github.com/rowwatch/rowwatch/internal/health"
	"github.com/rowwatch/rowwatch/internal/metrics"
	"github.com/rowwatch/rowwatch/internal/store"
)

// RowSource selects rows; *store.Store satisfies it.
type RowSource interface {
	Rows(ctx context.Context, spec store.TableSpec, q store.RowQuery) ([]store.Row, error)
}

// Server is the REST API, dashboard and metrics server.
type Server struct {
	catalog     *catalog.Catalog
	rows        RowSource
	healthCheck *health.Checker
	metrics     *metrics.Collector
	httpServer  *http.Server
	startTime   time.Time
	listenCfg   config.ListenConfig
	dbPath      string

	dashMu sync.RWMutex
	dash   config.DashboardConfig
}

// NewServer creates a new API server. hc and m may be nil.
func NewServer(cat *catalog.Catalog, rows RowSource, hc *health.Checker, m *metrics.Collector, cfg *config.Config) *Server {
	return &Server{
		catalog:     cat,
		rows:        rows,
		healthCheck: hc,
		metrics:     m,
		startTime:   time.Now(),
		listenCfg:   cfg.Listen,
		dbPath:      cfg.Database.Path,
		dash:        cfg.Dashboard,
	}
}

// UpdateDashboard swaps in reloaded dashboard settings.
func (s *Server) UpdateDashboard(d config.DashboardConfig) {
	s.dashMu.Lock()
	defer s.dashMu.Unlock()
	s.dash = d
}

func (s *Server) dashboardConfig() config.DashboardConfig {
	s.dashMu.RLock()
	defer s.dashMu.RUnlock()
	return s.dash
}

// Handler builds the full HTTP handler: routes plus middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Data API
	r.HandleFunc("/api/tables", s.listTables).Methods("GET")
	r.HandleFunc("/api/rows/{table}", s.listRows).Methods("GET")
	r.HandleFunc("/api/settings", s.settingsHandler).Methods("GET")

	// Server status
	r.HandleFunc("/status", s.statusHandler).Methods("GET")

	// Health & readiness
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")

	// Prometheus metrics
	if s.metrics != nil && s.metrics.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Dashboard page
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	r.Use(s.instrument)
	// Middleware only wraps matched routes.
	r.NotFoundHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = s.instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	return s.securityHeaders(s.cors(r))
}

// Start starts the HTTP server in the background.
func (s *Server) Start(port int) error {
	bind := s.listenCfg.APIBind
	if bind == "" {
		bind = "127.0.0.1"
	}
	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	slog.Info("HTTP server listening", "addr", addr, "db", s.dbPath)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Data Handlers ---

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	names, err := s.catalog.Refresh(r.Context())
	if err != nil {
		slog.Error("listing tables failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SetTablesDetected(len(names))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": names})
}

type rowsResponse struct {
	Rows []store.Row `json:"rows"`
	Meta rowsMeta    `json:"meta"`
}

type rowsMeta struct {
	Limit int `json:"limit"`
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	if !store.ValidTableName(table) {
		writeError(w, http.StatusBadRequest, "Invalid table name")
		return
	}

	params := r.URL.Query()
	limit := s.dashboardConfig().DefaultLimit
	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit: "+strconv.Quote(raw))
			return
		}
		limit = n
	}
	q := store.RowQuery{Limit: limit, Query: params.Get("q")}
	if params.Has("since_id") {
		since := params.Get("since_id")
		q.SinceID = &since
	}

	spec, err := s.catalog.Resolve(r.Context(), table)
	switch {
	case errors.Is(err, store.ErrMissingColumns):
		writeError(w, http.StatusBadRequest, "Table missing id/content columns")
		return
	case errors.Is(err, catalog.ErrUnknownTable):
		writeError(w, http.StatusNotFound, "table not found")
		return
	case err != nil:
		slog.Error("resolving table failed", "table", table, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	rows, err := s.rows.Rows(r.Context(), spec, q)
	if err != nil {
		slog.Error("selecting rows failed", "table", table, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.RowsServed(table, len(rows))
	}

	writeJSON(w, http.StatusOK, rowsResponse{Rows: rows, Meta: rowsMeta{Limit: limit}})
}

func (s *Server) settingsHandler(w http.ResponseWriter, r *http.Request) {
	d := s.dashboardConfig()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refresh_ms":    d.RefreshMillis(),
		"default_limit": d.DefaultLimit,
		"db_path":       s.dbPath,
	})
}

// --- Health Handlers ---

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	healthy := s.healthCheck.Healthy()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   boolToStatus(healthy),
		"database": s.healthCheck.Status(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil || s.healthCheck.Healthy() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

// --- Status Handler ---

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	d := s.dashboardConfig()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds":  int(time.Since(s.startTime).Seconds()),
		"go_version":      runtime.Version(),
		"goroutines":      runtime.NumGoroutine(),
		"memory_mb":       float64(mem.Alloc) / 1024 / 1024,
		"db_path":         s.dbPath,
		"tables_detected": s.catalog.Len(),
		"refresh_ms":      d.RefreshMillis(),
		"api_port":        s.listenCfg.APIPort,
	})
}

// --- Middleware ---

// securityHeaders adds security-related HTTP headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// cors allows the dashboard API to be read from other origins.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.listenCfg.CORSOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		if origin != "*" {
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.RequestServed(route, rec.status, time.Since(start))
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
