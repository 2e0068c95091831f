// Package dashboard serves the diagnostics HTTP API: widths, ranking,
// executions, lifecycle control and metrics.
package dashboard

import (
	"cmp"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/option_width/internal/cycle"
	"github.com/eddiefleurent/option_width/internal/models"
	"github.com/eddiefleurent/option_width/internal/report"
	"github.com/eddiefleurent/option_width/internal/storage"
)

//go:embed web/templates/*
var templateFS embed.FS

var dashboardTmpl = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"inc":  func(i int) int { return i + 1 },
	"join": strings.Join,
}).ParseFS(templateFS, "web/templates/dashboard.html"))

// Engine is the part of the cycle orchestrator the dashboard drives.
type Engine interface {
	Results() map[models.InstrumentKey]models.UnderlyingWidthResult
	Signals() []models.Signal
	Status() cycle.Status
	CalculateAllOptionWidths(ctx context.Context) cycle.Outcome
	Pause()
	Resume()
}

// Config holds the dashboard settings.
type Config struct {
	Port      int
	AuthToken string
	TopN      int
}

// Server is the diagnostics HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	engine    Engine
	journal   storage.Interface
	hub       *Hub
	gatherer  prometheus.Gatherer
	logger    *logrus.Logger
	port      int
	authToken string
	topN      int
}

// NewServer creates the server. journal and gatherer may be nil, which
// disables their routes.
func NewServer(
	cfg Config,
	engine Engine,
	journal storage.Interface,
	hub *Hub,
	gatherer prometheus.Gatherer,
	logger *logrus.Logger,
) *Server {
	if engine == nil {
		panic("dashboard.NewServer: engine must not be nil")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		journal:   journal,
		hub:       hub,
		gatherer:  gatherer,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		topN:      cfg.TopN,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	// streams outlive the request timeout
	s.router.Get("/ws/signals", s.hub.ServeWS)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", s.handleDashboard)
		r.Get("/health", s.handleHealth)
		r.Get("/api/widths", s.handleGetWidths)
		r.Get("/api/widths/{exchange}/{underlying}", s.handleGetWidth)
		r.Get("/api/signals", s.handleGetSignals)
		r.Get("/api/signals.csv", s.handleGetSignalsCSV)
		r.Get("/api/table", s.handleGetTable)
		r.Post("/api/cycle", s.handleRunCycle)
		r.Post("/api/pause", s.handlePause)
		r.Post("/api/resume", s.handleResume)

		if s.journal != nil {
			r.Get("/api/executions", s.handleGetExecutions)
			r.Get("/api/stats", s.handleGetStats)
		}
		if s.gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting dashboard server on port %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Status  cycle.Status
		Signals []models.Signal
	}{
		Status:  s.engine.Status(),
		Signals: s.topSignals(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to execute dashboard template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Status()
	status := "healthy"
	switch {
	case st.Stopped:
		status = "stopped"
	case st.Paused:
		status = "paused"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":      status,
		"timestamp":   time.Now().Unix(),
		"cycle":       st,
		"subscribers": s.hub.Subscribers(),
	})
}

// sortedResults lists the committed results by exchange, then underlying.
func (s *Server) sortedResults() []models.UnderlyingWidthResult {
	results := s.engine.Results()
	out := make([]models.UnderlyingWidthResult, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.UnderlyingWidthResult) int {
		return cmp.Or(cmp.Compare(a.Exchange, b.Exchange), cmp.Compare(a.Underlying, b.Underlying))
	})
	return out
}

func (s *Server) handleGetWidths(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sortedResults())
}

func (s *Server) handleGetWidth(w http.ResponseWriter, r *http.Request) {
	key := models.NewInstrumentKey(chi.URLParam(r, "exchange"), chi.URLParam(r, "underlying"))
	res, ok := s.engine.Results()[key]
	if !ok {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) topSignals() []models.Signal {
	signals := s.engine.Signals()
	if s.topN > 0 && len(signals) > s.topN {
		signals = signals[:s.topN]
	}
	return signals
}

func (s *Server) handleGetSignals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Signals())
}

func (s *Server) handleGetSignalsCSV(w http.ResponseWriter, r *http.Request) {
	body, err := report.CSV(s.engine.Signals())
	if err != nil {
		s.logger.WithError(err).Error("Failed to render signals csv")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="signals.csv"`)
	_, _ = w.Write(body)
}

func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "1"
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprint(w, report.Table(s.engine.Signals(), s.engine.Results(), s.topN, verbose))
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	// a manual cycle is not tied to the client staying connected
	outcome := s.engine.CalculateAllOptionWidths(context.WithoutCancel(r.Context()))
	status := http.StatusOK
	if outcome == cycle.OutcomeSkipped {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, map[string]any{
		"outcome": outcome,
		"signals": len(s.engine.Signals()),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleGetExecutions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.journal.Executions())
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.journal.Statistics())
}
