// Package webui provides the dashboard backend: a JSON API over the
// shared state file plus the engine's Prometheus metrics. The dashboard
// is a reader and occasional writer like any other process; it holds no
// special lock on the state.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coach/pkg/config"
	"coach/pkg/errmem"
	"coach/pkg/gameplan"
	"coach/pkg/logx"
	"coach/pkg/metrics"
	"coach/pkg/persistence"
	"coach/pkg/phase"
	"coach/pkg/pilot"
	"coach/pkg/statefile"
	"coach/pkg/version"
)

// Server serves the dashboard API.
type Server struct {
	engine       *statefile.Engine
	statePath    string
	planPath     string
	telemetry    bool
	metricsQuery *metrics.QueryService
	logger       *logx.Logger
	httpServer   *http.Server
}

// NewServer builds a dashboard server over the given state file.
// telemetry enables the /api/updates endpoint backed by the SQLite
// event log; pass false when persistence.Initialize was not called.
func NewServer(engine *statefile.Engine, statePath, planPath string, telemetry bool) *Server {
	return &Server{
		engine:    engine,
		statePath: statePath,
		planPath:  planPath,
		telemetry: telemetry,
		logger:    logx.NewLogger("webui"),
	}
}

// SetMetricsQuery attaches an external Prometheus query service. When
// set, /api/updates includes cross-process engine aggregates alongside
// the local SQLite event log.
func (s *Server) SetMetricsQuery(q *metrics.QueryService) {
	s.metricsQuery = q
}

// requireAuth wraps a handler with Basic Authentication. Username is
// always "coach"; the password comes from the secrets file or the
// COACH_PASSWORD env var. No configured password means the dashboard is
// open, which is the default for a localhost-only tool.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expectedPassword := config.GetDashboardPassword()
		if expectedPassword == "" {
			next(w, r)
			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Coach Dashboard"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if username != "coach" || password != expectedPassword {
			s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, username)
			w.Header().Set("WWW-Authenticate", `Basic realm="Coach Dashboard"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/state", s.requireAuth(s.handleState))
	mux.HandleFunc("/api/phase", s.requireAuth(s.handlePhase))
	mux.HandleFunc("/api/errors", s.requireAuth(s.handleErrors))
	mux.HandleFunc("/api/gameplan", s.requireAuth(s.handleGameplan))
	mux.HandleFunc("/api/updates", s.requireAuth(s.handleUpdates))
	mux.HandleFunc("/api/logs", s.requireAuth(s.handleLogs))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// Start runs the HTTP server until ctx is cancelled. The auth-optional
// default assumes a loopback host; callers widening the bind address
// should configure a dashboard password.
func (s *Server) Start(ctx context.Context, host string, port int) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", host, port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("📝 Dashboard listening on http://%s", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
		return nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// handleState implements GET /api/state: the full record including the
// envelope, as read from disk right now.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rec := s.engine.Read(s.statePath, nil)
	response := map[string]interface{}{
		"version":      rec.Version,
		"lastModified": rec.LastModified.UTC().Format(time.RFC3339),
		"writerId":     rec.WriterID,
		"payload":      rec.Payload,
	}
	s.writeJSON(w, response)
	s.logger.Debug("Served state snapshot (v%d)", rec.Version)
}

// handlePhase implements GET /api/phase.
func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tracker := phase.NewTracker(s.engine, s.statePath)
	response := map[string]interface{}{
		"current": tracker.Current(),
		"history": tracker.History(20),
	}

	if at, ok := pilot.LastHeartbeat(s.engine, s.statePath); ok {
		response["pilotHeartbeat"] = at.Format(time.RFC3339)
		response["pilotAlive"] = time.Since(at) < 2*time.Minute
	}
	s.writeJSON(w, response)
}

// handleErrors implements GET /api/errors.
func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mem := errmem.New(s.engine, s.statePath)
	response := map[string]interface{}{
		"recent":     mem.Recent(50),
		"unresolved": mem.Unresolved(),
	}
	s.writeJSON(w, response)
}

// handleGameplan implements GET /api/gameplan.
func (s *Server) handleGameplan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tracker := gameplan.NewTracker(s.engine, s.statePath, s.planPath)
	response := map[string]interface{}{
		"progress": tracker.Progress(),
		"steps":    tracker.Steps(),
	}
	s.writeJSON(w, response)
}

// handleUpdates implements GET /api/updates: the local SQLite event log
// plus, when a Prometheus query service is attached, engine aggregates
// across every scraped coach process.
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.telemetry && s.metricsQuery == nil {
		http.Error(w, "Telemetry not enabled", http.StatusServiceUnavailable)
		return
	}

	response := map[string]interface{}{}

	if s.telemetry {
		events, err := persistence.RecentUpdates(100)
		if err != nil {
			s.logger.Error("Failed to load update events: %v", err)
			http.Error(w, "Failed to load update events", http.StatusInternalServerError)
			return
		}
		stats, err := persistence.GetConflictStats(time.Now().Add(-24 * time.Hour))
		if err != nil {
			s.logger.Error("Failed to load conflict stats: %v", err)
			http.Error(w, "Failed to load conflict stats", http.StatusInternalServerError)
			return
		}
		response["events"] = events
		response["last24h"] = stats
	}

	// An unreachable Prometheus degrades the response, never fails it.
	if s.metricsQuery != nil {
		engineMetrics, err := s.metricsQuery.GetEngineMetrics(r.Context(), 24*time.Hour)
		if err != nil {
			s.logger.Warn("Prometheus query failed: %v", err)
		} else {
			response["prometheus"] = map[string]interface{}{
				"last24h":      engineMetrics,
				"conflictRate": engineMetrics.ConflictRate(),
			}
		}
	}

	s.writeJSON(w, response)
}

// handleLogs implements GET /api/logs over the in-memory ring buffer.
// Query params: component (filter), since (RFC3339).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	component := r.URL.Query().Get("component")
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid since parameter", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.writeJSON(w, map[string]interface{}{
		"entries": logx.RecentEntries(component, since),
	})
}

// handleHealth implements GET /healthz. Unauthenticated so process
// supervisors can probe it.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}
