package server

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"strconv"

	"stackstatus/internal/metrics"
	"stackstatus/internal/models"
)

//go:embed static/*
var embeddedStatic embed.FS

// StatusMonitor is the monitor surface the dashboard drives.
type StatusMonitor interface {
	Snapshot() models.Snapshot
	Subscribe() (<-chan models.Snapshot, func())
	RefreshStatus(ctx context.Context) models.Snapshot
	RunTestCall(ctx context.Context) models.Snapshot
}

// HistorySource exposes stored probe records.
type HistorySource interface {
	HistoryN(n int) []models.ProbeRecord
}

// Server wraps HTTP serving of API + static assets.
type Server struct {
	httpServer   *http.Server
	monitor      StatusMonitor
	history      HistorySource
	staticFS     fs.FS
	historyLimit int
}

// New creates a configured HTTP server for the dashboard. history may be nil.
func New(addr string, monitor StatusMonitor, history HistorySource) *Server {
	staticFS, err := fs.Sub(embeddedStatic, "static")
	if err != nil {
		panic("static assets missing: " + err.Error())
	}

	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux},
		monitor:      monitor,
		history:      history,
		staticFS:     staticFS,
		historyLimit: 200,
	}
	s.registerRoutes(mux)
	return s
}

// Handler exposes the routing table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	fileServer := http.FileServer(http.FS(s.staticFS))

	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		data, err := fs.ReadFile(s.staticFS, "index.html")
		if err != nil {
			http.Error(w, "index missing", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(data)
	}))
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/test", s.handleTestCall)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/uptime", s.handleUptime)
	mux.HandleFunc("GET /ws", s.handleLive)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Snapshot())
}

// Triggers run detached from the request so a disconnecting browser cannot
// turn a cancelled request into an "offline" result.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.RefreshStatus(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTestCall(w http.ResponseWriter, r *http.Request) {
	if snap := s.monitor.Snapshot(); snap.State != models.StateReachable {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "backend is not reachable",
			"state": snap.State,
		})
		return
	}
	snap := s.monitor.RunTestCall(context.WithoutCancel(r.Context()))
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.recentHistory(parseLimit(r, s.historyLimit)))
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.ComputeUptime(s.recentHistory(parseLimit(r, s.historyLimit))))
}

func (s *Server) recentHistory(limit int) []models.ProbeRecord {
	if s.history == nil {
		return []models.ProbeRecord{}
	}
	return s.history.HistoryN(limit)
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
