package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyac-dev/hyac/pkg/api"
	"github.com/hyac-dev/hyac/pkg/blob"
	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/orchestrator"
	"github.com/hyac-dev/hyac/pkg/proxy"
	"github.com/hyac-dev/hyac/pkg/reconciler"
	"github.com/hyac-dev/hyac/pkg/scheduler"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "hyac-controller",
	Short:   "Hyac controller - FaaS control plane",
	Long:    `The Hyac controller owns application lifecycle: it serves the management API, consumes the durable task queue, reconciles container state, runs scheduled jobs and lazily starts runtime containers on first request.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hyac controller version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.ControllerFromEnv()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := "info"
	if cfg.DevMode {
		level = "debug"
	}
	log.Init(log.Config{Level: level, Console: cfg.DevMode})
	logger := log.WithComponent("controller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connectCancel()

	st, err := store.NewMongoStore(connectCtx, cfg.MongoURI, cfg.MongoUsername, cfg.MongoPassword, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect document store: %w", err)
	}
	defer st.Close(context.Background())

	bm, err := blob.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioSecure)
	if err != nil {
		return fmt.Errorf("failed to connect blob store: %w", err)
	}
	eng, err := engine.NewDockerEngine()
	if err != nil {
		return fmt.Errorf("failed to connect container engine: %w", err)
	}

	if err := seed(connectCtx, st); err != nil {
		return fmt.Errorf("failed to seed system data: %w", err)
	}

	appDB := store.NewAppDB(st.Client())
	webCfg := proxy.NewWebConfigSink(cfg.TraefikDynamicDir, cfg.DomainName, cfg.MinioEndpoint)
	orch := orchestrator.New(st, appDB, bm, eng, webCfg, cfg)
	wrk := worker.New(st, st, orch, eng)
	recon := reconciler.New(st, eng)
	sched := scheduler.New(st)
	sched.RegisterSystem(systemSyncTaskID, func(ctx context.Context) error {
		recon.Sweep(ctx)
		return nil
	})
	lazy := proxy.NewLazyStart(st, orch, cfg.DomainName)

	wrk.Start(ctx)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	apiServer := api.NewServer(st, appDB, bm, eng, wrk, recon, sched, st, lazy, cfg)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("management API listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("management API failed")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("forced shutdown of management API")
	}
	logger.Info().Msg("controller stopped")
	return nil
}
