package orchestrator

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/blob"
	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/proxy"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Readiness wait bounds
const (
	healthAttempts = 30
	healthInterval = 2 * time.Second
	dnsAttempts    = 15
	dnsInterval    = 1 * time.Second
)

// Orchestrator owns the lifecycle of per-application runtime containers.
// Start, stop and delete are idempotent and serialized per app: the lazy
// start path calls in directly, concurrently with worker tasks, so the
// check-then-remove sequences must not interleave for the same app.
type Orchestrator struct {
	store  store.Store
	appDB  *store.AppDB
	blob   *blob.Manager
	engine engine.Engine
	sink   *proxy.WebConfigSink
	cfg    *config.Controller
	locks  *kmutex.Kmutex
	logger zerolog.Logger

	mu      sync.RWMutex
	running map[string]*types.RunningApp
}

// New creates an orchestrator
func New(st store.Store, appDB *store.AppDB, bm *blob.Manager, eng engine.Engine, sink *proxy.WebConfigSink, cfg *config.Controller) *Orchestrator {
	return &Orchestrator{
		store:   st,
		appDB:   appDB,
		blob:    bm,
		engine:  eng,
		sink:    sink,
		cfg:     cfg,
		locks:   kmutex.New(),
		logger:  log.WithComponent("orchestrator"),
		running: make(map[string]*types.RunningApp),
	}
}

// RunningApps returns a snapshot of the in-memory running-app records
func (o *Orchestrator) RunningApps() map[string]*types.RunningApp {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]*types.RunningApp, len(o.running))
	for id, app := range o.running {
		c := *app
		out[id] = &c
	}
	return out
}

// IsRunning reports whether the app has an in-memory running record
func (o *Orchestrator) IsRunning(appID string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.running[appID]
	return ok
}

func (o *Orchestrator) record(appID string, app *types.RunningApp) {
	o.mu.Lock()
	o.running[appID] = app
	o.mu.Unlock()
}

func (o *Orchestrator) forget(appID string) {
	o.mu.Lock()
	delete(o.running, appID)
	o.mu.Unlock()
}

// StartAppContainer brings one app's runtime container to ready. Idempotent:
// an app already recorded as running returns its existing record. Any
// failure after the container is created rolls the container back.
func (o *Orchestrator) StartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error) {
	o.locks.Lock(app.AppID)
	defer o.locks.Unlock(app.AppID)
	return o.startLocked(ctx, app)
}

func (o *Orchestrator) startLocked(ctx context.Context, app *types.Application) (*types.RunningApp, error) {
	o.mu.RLock()
	if existing, ok := o.running[app.AppID]; ok {
		o.mu.RUnlock()
		return existing, nil
	}
	o.mu.RUnlock()

	name := types.RuntimeContainerName(app.AppID)
	logger := o.logger.With().Str("app_id", app.AppID).Logger()
	timer := metrics.NewTimer()

	// A stale container with the target name blocks creation; clear it.
	if info, err := o.engine.Inspect(ctx, name); err == nil {
		logger.Info().Str("state", string(info.State)).Msg("removing stale runtime container")
		if info.State == engine.StateRunning {
			if err := o.engine.Stop(ctx, info.ID); err != nil {
				logger.Warn().Err(err).Msg("failed to stop stale container")
			}
		}
		if err := o.engine.Remove(ctx, info.ID); err != nil {
			return nil, fmt.Errorf("failed to remove stale container %s: %w", name, err)
		}
	} else if err != engine.ErrNotFound {
		return nil, err
	}

	if err := o.ensurePrerequisites(ctx, app); err != nil {
		return nil, err
	}

	network := o.resolveNetwork(ctx)
	spec := engine.CreateSpec{
		Name:        name,
		Image:       o.cfg.AppImage,
		Env:         o.containerEnv(app),
		Labels:      proxy.RuntimeLabels(app.AppID, o.cfg.DomainName),
		Network:     network,
		ExposedPort: types.RuntimePort,
		HealthCmd:   []string{"curl", "-f", fmt.Sprintf("http://localhost:%d/__runtime_health__", types.RuntimePort)},
	}
	if o.cfg.DevMode && o.cfg.AppCodePathOnHost != "" {
		spec.Binds = []string{o.cfg.AppCodePathOnHost + ":/app:rw"}
	}

	id, err := o.engine.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime container: %w", err)
	}

	rollback := func(cause error) (*types.RunningApp, error) {
		logger.Error().Err(cause).Msg("start failed, rolling back container")
		rbCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := o.engine.Stop(rbCtx, id); err != nil && err != engine.ErrNotFound {
			logger.Warn().Err(err).Msg("rollback stop failed")
		}
		if err := o.engine.Remove(rbCtx, id); err != nil {
			logger.Warn().Err(err).Msg("rollback remove failed")
		}
		return nil, cause
	}

	if err := o.engine.Start(ctx, id); err != nil {
		return rollback(fmt.Errorf("failed to start runtime container: %w", err))
	}
	if err := o.waitHealthy(ctx, name); err != nil {
		return rollback(err)
	}
	if err := o.waitDNS(ctx, name); err != nil {
		return rollback(err)
	}
	if err := o.sink.WriteWebConfig(app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to write web config")
	}

	record := &types.RunningApp{Name: name, ID: id}
	o.record(app.AppID, record)
	timer.ObserveDuration(metrics.ContainerStartDuration)
	logger.Info().Str("container_id", id).Str("network", network).Msg("runtime container ready")
	return record, nil
}

// ensurePrerequisites is idempotent: DB user, data bucket, public web bucket
func (o *Orchestrator) ensurePrerequisites(ctx context.Context, app *types.Application) error {
	if err := o.appDB.EnsureUser(ctx, app.AppID, app.DBPassword); err != nil {
		return err
	}
	if err := o.blob.EnsureBucket(ctx, app.BucketName()); err != nil {
		return err
	}
	if err := o.blob.EnsureBucket(ctx, app.WebBucketName()); err != nil {
		return err
	}
	if err := o.blob.SetPublicRead(ctx, app.WebBucketName()); err != nil {
		return err
	}
	return nil
}

// resolveNetwork reuses the controller's own network so runtime containers
// land on the compose network, falling back to the configured default.
func (o *Orchestrator) resolveNetwork(ctx context.Context) string {
	network, err := o.engine.SelfNetwork(ctx, o.cfg.SelfContainerName)
	if err != nil {
		o.logger.Warn().Err(err).Str("fallback", o.cfg.DefaultNetwork).Msg("failed to resolve own network")
		return o.cfg.DefaultNetwork
	}
	return network
}

func (o *Orchestrator) containerEnv(app *types.Application) []string {
	env := []string{
		"APP_ID=" + app.AppID,
		"MONGO_URI=" + o.cfg.MongoURI,
		"MONGODB_USERNAME=" + o.cfg.MongoUsername,
		"MONGODB_PASSWORD=" + o.cfg.MongoPassword,
		"MONGO_DATABASE=" + o.cfg.Database,
		"MINIO_ENDPOINT=" + o.cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY=" + o.cfg.MinioAccessKey,
		"MINIO_SECRET_KEY=" + o.cfg.MinioSecretKey,
		"SECRET_KEY=" + o.cfg.SecretKey,
		"DEV_MODE=" + strconv.FormatBool(o.cfg.DevMode),
	}
	for _, v := range app.EnvironmentVariables {
		env = append(env, v.Key+"="+v.Value)
	}
	return env
}

// waitHealthy polls the engine's health report until the container is
// healthy, giving up after the bounded attempts or on a definitive
// unhealthy verdict.
func (o *Orchestrator) waitHealthy(ctx context.Context, name string) error {
	for i := 0; i < healthAttempts; i++ {
		info, err := o.engine.Inspect(ctx, name)
		if err != nil {
			return fmt.Errorf("health wait: %w", err)
		}
		switch info.Health {
		case engine.HealthHealthy:
			return nil
		case engine.HealthUnhealthy:
			return fmt.Errorf("container %s reported unhealthy", name)
		}
		if info.State == engine.StateExited || info.State == engine.StateDead {
			return fmt.Errorf("container %s exited during startup", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthInterval):
		}
	}
	return fmt.Errorf("container %s not healthy after %s", name, time.Duration(healthAttempts)*healthInterval)
}

// waitDNS resolves the container hostname until it propagates. Closes the
// race between container start and the embedded DNS answering for it.
func (o *Orchestrator) waitDNS(ctx context.Context, name string) error {
	resolver := net.DefaultResolver
	for i := 0; i < dnsAttempts; i++ {
		if _, err := resolver.LookupHost(ctx, name); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dnsInterval):
		}
	}
	return fmt.Errorf("hostname %s not resolvable after %s", name, time.Duration(dnsAttempts)*dnsInterval)
}

// StopAppContainer stops and removes the app's runtime container. A missing
// container is success.
func (o *Orchestrator) StopAppContainer(ctx context.Context, app *types.Application) error {
	o.locks.Lock(app.AppID)
	defer o.locks.Unlock(app.AppID)
	return o.stopLocked(ctx, app)
}

func (o *Orchestrator) stopLocked(ctx context.Context, app *types.Application) error {
	name := types.RuntimeContainerName(app.AppID)
	logger := o.logger.With().Str("app_id", app.AppID).Logger()

	if err := o.sink.RemoveWebConfig(app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to remove web config")
	}

	info, err := o.engine.Inspect(ctx, name)
	if err == engine.ErrNotFound {
		o.forget(app.AppID)
		return nil
	}
	if err != nil {
		return err
	}
	if info.State == engine.StateRunning {
		if err := o.engine.Stop(ctx, info.ID); err != nil {
			return fmt.Errorf("failed to stop container %s: %w", name, err)
		}
	}
	if err := o.engine.Remove(ctx, info.ID); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	o.forget(app.AppID)
	logger.Info().Msg("runtime container stopped and removed")
	return nil
}

// RestartAppContainer is stop followed by the full start protocol, so a
// restart also repairs prerequisites and refreshes routing. The app lock is
// held across both halves.
func (o *Orchestrator) RestartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error) {
	o.locks.Lock(app.AppID)
	defer o.locks.Unlock(app.AppID)
	if err := o.stopLocked(ctx, app); err != nil {
		return nil, err
	}
	return o.startLocked(ctx, app)
}

// DeleteApplicationResources reclaims everything the app owns. Steps are
// best-effort: individual failures are logged and the cascade continues, so
// repeated deletes converge. The application document goes last.
func (o *Orchestrator) DeleteApplicationResources(ctx context.Context, app *types.Application) error {
	o.locks.Lock(app.AppID)
	defer o.locks.Unlock(app.AppID)

	logger := o.logger.With().Str("app_id", app.AppID).Logger()
	logger.Info().Msg("deleting application resources")

	if n, err := o.store.DeleteTasksByApp(ctx, app.AppID, types.ActionStartApp); err != nil {
		logger.Warn().Err(err).Msg("failed to delete queued start tasks")
	} else if n > 0 {
		logger.Info().Int64("count", n).Msg("deleted queued start tasks")
	}

	if err := o.stopLocked(ctx, app); err != nil {
		logger.Warn().Err(err).Msg("failed to stop runtime container")
	}

	if n, err := o.store.DeleteFunctionsByApp(ctx, app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to delete functions")
	} else {
		logger.Info().Int64("count", n).Msg("deleted functions")
	}
	if _, err := o.store.DeleteTemplatesByApp(ctx, app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to delete templates")
	}
	if _, err := o.store.DeleteScheduledTasksByApp(ctx, app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to delete scheduled tasks")
	}

	if err := o.blob.RemoveBucket(ctx, app.BucketName()); err != nil {
		logger.Warn().Err(err).Msg("failed to remove data bucket")
	}
	if err := o.blob.RemoveBucket(ctx, app.WebBucketName()); err != nil {
		logger.Warn().Err(err).Msg("failed to remove web bucket")
	}

	if err := o.appDB.DropDatabase(ctx, app.AppID); err != nil {
		logger.Warn().Err(err).Msg("failed to drop app database")
	}

	if err := o.store.DeleteApplication(ctx, app.AppID); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("failed to delete application document: %w", err)
	}
	logger.Info().Msg("application deleted")
	return nil
}
