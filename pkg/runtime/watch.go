package runtime

import (
	"context"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// EnvManager applies the application's persisted environment variables to
// the process environment. It remembers which keys it set, so a removal
// event can never unset variables the platform itself injected.
type EnvManager struct {
	store  store.Store
	appID  string
	logger zerolog.Logger

	mu      sync.Mutex
	managed map[string]bool
}

// NewEnvManager creates an environment manager for one app
func NewEnvManager(st store.Store, appID string) *EnvManager {
	return &EnvManager{
		store:   st,
		appID:   appID,
		logger:  log.WithComponent("envmanager"),
		managed: make(map[string]bool),
	}
}

// Apply converges the process environment to the persisted variable set:
// adds and updates are set, managed keys no longer present are unset.
func (e *EnvManager) Apply(vars []types.EnvironmentVariable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	desired := make(map[string]string, len(vars))
	for _, v := range vars {
		desired[v.Key] = v.Value
	}
	for key := range e.managed {
		if _, keep := desired[key]; !keep {
			if err := os.Unsetenv(key); err != nil {
				e.logger.Warn().Err(err).Str("key", key).Msg("failed to unset variable")
			}
			delete(e.managed, key)
			e.logger.Info().Str("key", key).Msg("environment variable removed")
		}
	}
	for key, value := range desired {
		if os.Getenv(key) != value {
			if err := os.Setenv(key, value); err != nil {
				e.logger.Warn().Err(err).Str("key", key).Msg("failed to set variable")
				continue
			}
			e.logger.Info().Str("key", key).Msg("environment variable applied")
		}
		e.managed[key] = true
	}
}

// Set persists one variable on the application document and applies it to
// the process environment. Handler code reaches this through context.env.
func (e *EnvManager) Set(ctx context.Context, key, value string) error {
	app, err := e.store.GetApplication(ctx, e.appID)
	if err != nil {
		return err
	}
	updated := false
	for i := range app.EnvironmentVariables {
		if app.EnvironmentVariables[i].Key == key {
			app.EnvironmentVariables[i].Value = value
			updated = true
			break
		}
	}
	if !updated {
		app.EnvironmentVariables = append(app.EnvironmentVariables, types.EnvironmentVariable{Key: key, Value: value})
	}
	if err := e.store.UpdateApplication(ctx, app); err != nil {
		return err
	}
	e.mu.Lock()
	e.managed[key] = true
	e.mu.Unlock()
	return os.Setenv(key, value)
}

// FunctionFeed delivers function document changes for one app
type FunctionFeed interface {
	WatchFunctions(ctx context.Context, appID string, handler func(store.FunctionChange))
}

// AppFeed delivers application document changes
type AppFeed interface {
	WatchApplication(ctx context.Context, appID string, handler func(*types.Application))
}

// watchFunctions invalidates compiled code as function documents change.
// Deletes arrive without a full document, so the whole app's cache is
// cleared on those.
func watchFunctions(ctx context.Context, feed FunctionFeed, cache *Cache, appID string, logger zerolog.Logger) {
	feed.WatchFunctions(ctx, appID, func(change store.FunctionChange) {
		if change.Function == nil {
			logger.Info().Msg("function deleted, clearing code cache")
			cache.ClearApp(appID)
			return
		}
		if change.Op == "update" && !change.CodeChanged {
			return
		}
		logger.Info().
			Str("function_id", change.Function.FunctionID).
			Str("op", change.Op).
			Msg("invalidating compiled code")
		cache.Invalidate(appID, change.Function.FunctionID)
	})
}

// watchApplication tracks the application document, converging the process
// environment and the current app snapshot.
func watchApplication(ctx context.Context, feed AppFeed, env *EnvManager, appID string, onUpdate func(*types.Application)) {
	feed.WatchApplication(ctx, appID, func(app *types.Application) {
		env.Apply(app.EnvironmentVariables)
		onUpdate(app)
	})
}
