package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/blob"
	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/notify"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Server is one data-plane process serving a single application. It compiles
// and runs that app's published functions and tracks the app document through
// the change feed.
type Server struct {
	cfg    *config.Runtime
	store  *store.MongoStore
	cache  *Cache
	env    *EnvManager
	logger zerolog.Logger

	dispatcher *Dispatcher
	router     chi.Router

	mu    sync.RWMutex
	app   *types.Application
	ready bool
}

// NewServer connects the runtime's backing services and assembles the
// request pipeline. The health endpoint reports not_ready until the first
// successful application load.
func NewServer(ctx context.Context, cfg *config.Runtime) (*Server, error) {
	st, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoUsername, cfg.MongoPassword, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect document store: %w", err)
	}
	bm, err := blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioSecure)
	if err != nil {
		return nil, fmt.Errorf("failed to connect blob store: %w", err)
	}

	s := &Server{
		cfg:    cfg,
		store:  st,
		cache:  NewCache(cfg.CacheMaxSize, time.Duration(cfg.CacheTTLSecs)*time.Second),
		env:    NewEnvManager(st, cfg.AppID),
		logger: log.WithComponent("runtime"),
	}

	app, err := st.GetApplication(ctx, cfg.AppID)
	if err != nil {
		return nil, fmt.Errorf("failed to load application %s: %w", cfg.AppID, err)
	}
	s.setApp(app)
	s.env.Apply(app.EnvironmentVariables)

	sink := log.NewSink(st, types.LogFunction)
	caps := &Capabilities{
		store:    st,
		appDB:    st.Client().Database(cfg.AppID),
		blob:     bm,
		notifier: notify.New(),
		sink:     sink,
		env:      s.env,
		app:      s.currentApp,
	}
	loader := NewLoader(st, s.cache, cfg.AppID)
	s.dispatcher = NewDispatcher(loader, caps, st, sink, cfg.AppID)
	s.router = s.routes(app.CORS)

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return s, nil
}

// Watch runs the change-feed watchers until the context ends
func (s *Server) Watch(ctx context.Context) {
	go watchFunctions(ctx, s.store, s.cache, s.cfg.AppID, s.logger)
	go watchApplication(ctx, s.store, s.env, s.cfg.AppID, s.setApp)
}

// Close releases the store connection
func (s *Server) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

func (s *Server) setApp(app *types.Application) {
	s.mu.Lock()
	s.app = app
	s.mu.Unlock()
}

func (s *Server) currentApp() *types.Application {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.app
}

func (s *Server) routes(corsCfg types.CORSConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   orDefault(corsCfg.AllowOrigins, []string{"*"}),
		AllowedMethods:   orDefault(corsCfg.AllowMethods, []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		AllowedHeaders:   orDefault(corsCfg.AllowHeaders, []string{"*"}),
		AllowCredentials: corsCfg.AllowCredentials,
	}))

	r.Get("/__runtime_health__", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.NotFound(s.dispatcher.ServeHTTP)
	r.MethodNotAllowed(s.dispatcher.ServeHTTP)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleHealth answers the container healthcheck and the start protocol's
// readiness polling.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func orDefault(values, fallback []string) []string {
	if len(values) == 0 {
		return fallback
	}
	return values
}
