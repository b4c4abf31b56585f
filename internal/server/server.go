// Package server is the dashboard HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/samirdawaliby/autobet/internal/config"
	"github.com/samirdawaliby/autobet/internal/detector"
	"github.com/samirdawaliby/autobet/internal/scheduler"
	"github.com/samirdawaliby/autobet/internal/store"
)

type Scanner interface {
	Status() scheduler.Status
	ScanOnce(ctx context.Context) (*scheduler.Result, error)
	SetMode(m scheduler.Mode) error
	SetMinEdge(minEdge float64) error
	Pause()
	Resume()
}

type Stats interface {
	DashboardStats(ctx context.Context) (*store.DashboardStats, error)
	RecentOpportunities(ctx context.Context, limit int, status store.Status) ([]store.OpportunityRecord, error)
	Opportunity(ctx context.Context, id string) (*store.OpportunityRecord, error)
	UpdateOpportunityStatus(ctx context.Context, id string, status store.Status, actualProfit *float64) error
}

type Risk interface {
	State(ctx context.Context) (*store.RiskState, error)
	SetKillSwitch(ctx context.Context, active bool, reason string) error
	RecordResult(ctx context.Context, id string, status store.Status, stake, profit float64) (*store.RiskState, error)
}

// Feed serves the redis-backed recent list when one is configured.
type Feed interface {
	Recent(ctx context.Context, limit int) ([]detector.Opportunity, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the API's collaborators. Feed and WS are optional.
type Deps struct {
	Scanner Scanner
	Stats   Stats
	Risk    Risk
	DB      Pinger
	Feed    Feed
	WS      http.HandlerFunc
}

type Server struct {
	httpServer *http.Server
	deps       Deps
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{deps: deps}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(cfg.CORSOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if s.deps.WS != nil {
		r.Get("/ws", s.deps.WS)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", s.health)
		r.Route("/api", func(r chi.Router) {
			r.Get("/stats", s.stats)
			r.Get("/opportunities", s.listOpportunities)
			r.Get("/opportunities/recent", s.recentFeed)
			r.Get("/opportunities/{id}", s.getOpportunity)
			r.Post("/opportunities/{id}/status", s.settleOpportunity)
			r.Get("/risk", s.risk)
			r.Get("/scanner", s.scannerStatus)
			r.Post("/settings", s.updateSettings)
			r.Post("/scanner/start", s.startScanner)
			r.Post("/scanner/stop", s.stopScanner)
			r.Post("/scanner/scan", s.scanNow)
		})
	})
	return r
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("http server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

type ctxKey int

const requestIDKey ctxKey = 0

// requestID reuses an incoming X-Request-ID or mints a uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
