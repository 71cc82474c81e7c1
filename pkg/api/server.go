package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/blob"
	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/scheduler"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Enqueuer inserts control-plane tasks. Implemented by the worker.
type Enqueuer interface {
	Enqueue(ctx context.Context, action types.TaskAction, appID string) error
}

// Sweeper runs one reconciliation pass on demand. Implemented by the
// reconciler; the runtimes admin endpoint and the system scheduled task both
// go through it.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// LogFeed streams log inserts for the websocket endpoint
type LogFeed interface {
	WatchLogs(ctx context.Context, appID string, handler func(*types.LogEntry))
}

// Server is the controller's management API
type Server struct {
	store    store.Store
	appDB    *store.AppDB
	blob     *blob.Manager
	engine   engine.Engine
	enqueuer Enqueuer
	sweeper  Sweeper
	sched    *scheduler.Scheduler
	logFeed  LogFeed
	lazy     http.Handler
	cfg      *config.Controller
	logger   zerolog.Logger
	router   chi.Router
}

// NewServer assembles the management API router
func NewServer(
	st store.Store,
	appDB *store.AppDB,
	bm *blob.Manager,
	eng engine.Engine,
	enqueuer Enqueuer,
	sweeper Sweeper,
	sched *scheduler.Scheduler,
	logFeed LogFeed,
	lazy http.Handler,
	cfg *config.Controller,
) *Server {
	s := &Server{
		store:    st,
		appDB:    appDB,
		blob:     bm,
		engine:   eng,
		enqueuer: enqueuer,
		sweeper:  sweeper,
		sched:    sched,
		logFeed:  logFeed,
		lazy:     lazy,
		cfg:      cfg,
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/__server_health__", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/applications", s.applicationRoutes)
	r.Route("/function", s.functionRoutes)
	r.Route("/settings", s.settingsRoutes)
	r.Route("/database", s.databaseRoutes)
	r.Route("/storage", s.storageRoutes)
	r.Route("/logs", s.logRoutes)
	r.Route("/scheduler", s.schedulerRoutes)
	r.Route("/runtimes", s.runtimeRoutes)

	// Anything else is a request for an app subdomain the proxy does not
	// know yet.
	r.NotFound(s.lazy.ServeHTTP)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth verifies both backing services are reachable
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check: database unreachable")
		fail(w, CodeInternal, "database unreachable")
		return
	}
	if err := s.blob.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("health check: blob store unreachable")
		fail(w, CodeInternal, "blob store unreachable")
		return
	}
	ok(w, map[string]string{"status": "healthy"})
}
