package reconciler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Reconciler maps observed container state onto recorded application status,
// repairing drift the event-driven paths missed. The sweep cadence is owned
// by the scheduler's system task; this package only knows how to run one
// pass.
type Reconciler struct {
	store  store.Store
	engine engine.Engine
	logger zerolog.Logger
}

// New creates a reconciler
func New(st store.Store, eng engine.Engine) *Reconciler {
	return &Reconciler{
		store:  st,
		engine: eng,
		logger: log.WithComponent("reconciler"),
	}
}

// Sweep performs one reconciliation pass
func (r *Reconciler) Sweep(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		metrics.ReconciliationCyclesTotal.Inc()
		timer.ObserveDuration(metrics.ReconciliationDuration)
	}()

	apps, err := r.store.ListApplications(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list applications")
		return
	}
	containers, err := r.engine.List(ctx, types.RuntimeContainerPrefix)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list runtime containers")
		return
	}
	byName := make(map[string]*engine.ContainerInfo, len(containers))
	for i := range containers {
		byName[containers[i].Name] = &containers[i]
	}

	counts := make(map[types.ApplicationStatus]int)
	for _, app := range apps {
		counts[app.Status]++
		if isTransitional(app.Status) {
			continue
		}
		observed := MapStatus(byName[types.RuntimeContainerName(app.AppID)])
		if observed == app.Status {
			continue
		}
		r.logger.Info().
			Str("app_id", app.AppID).
			Str("from", string(app.Status)).
			Str("to", string(observed)).
			Msg("repairing application status")
		if err := r.store.SetApplicationStatus(ctx, app.AppID, observed); err != nil {
			r.logger.Error().Err(err).Str("app_id", app.AppID).Msg("failed to update status")
		}
	}
	for status, n := range counts {
		metrics.ApplicationsTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}

// isTransitional reports statuses the reconciler must not touch: a worker
// owns the app while one of these is recorded.
func isTransitional(s types.ApplicationStatus) bool {
	return s == types.AppStatusStopping || s == types.AppStatusStopped || s == types.AppStatusDeleting
}

// MapStatus maps one observed container to the application status it
// implies. A nil info means the container is absent.
func MapStatus(info *engine.ContainerInfo) types.ApplicationStatus {
	if info == nil {
		return types.AppStatusStopped
	}
	switch info.State {
	case engine.StateRunning:
		switch info.Health {
		case engine.HealthHealthy:
			return types.AppStatusRunning
		case engine.HealthUnhealthy:
			return types.AppStatusError
		default:
			// Health starting or not reported yet. Runtime containers
			// always carry a healthcheck, so absence means it has not
			// produced a verdict.
			return types.AppStatusStarting
		}
	case engine.StateCreated, engine.StateRestarting:
		return types.AppStatusStarting
	default:
		// exited, dead, paused
		return types.AppStatusStopped
	}
}
