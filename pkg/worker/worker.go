package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/im7mortal/kmutex"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// Orchestrator is the subset of container lifecycle operations the worker
// dispatches to.
type Orchestrator interface {
	StartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error)
	StopAppContainer(ctx context.Context, app *types.Application) error
	RestartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error)
	DeleteApplicationResources(ctx context.Context, app *types.Application) error
}

// TaskFeed delivers tasks entering pending state. Implemented by the Mongo
// store's change stream; nil disables live dispatch (tests drive the worker
// directly).
type TaskFeed interface {
	WatchPendingTasks(ctx context.Context, handler func(*types.Task))
}

const taskTimeout = 5 * time.Minute

// Worker consumes the durable task queue and executes control-plane
// operations. Tasks for the same app are serialized; different apps proceed
// in parallel. Execution is at-least-once: every handler is idempotent.
type Worker struct {
	store  store.Store
	feed   TaskFeed
	orch   Orchestrator
	engine engine.Engine
	locks  *kmutex.Kmutex
	logger zerolog.Logger
}

// New creates a task worker
func New(st store.Store, feed TaskFeed, orch Orchestrator, eng engine.Engine) *Worker {
	return &Worker{
		store:  st,
		feed:   feed,
		orch:   orch,
		engine: eng,
		locks:  kmutex.New(),
		logger: log.WithComponent("worker"),
	}
}

// Start recovers interrupted work, repairs drift between recorded and
// observed state, then consumes the live task feed until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.recoverTasks(ctx)
	w.reconcileRunningApps(ctx)
	if w.feed != nil {
		go w.feed.WatchPendingTasks(ctx, func(task *types.Task) {
			go w.process(ctx, task)
		})
	}
	w.logger.Info().Msg("task worker started")
}

// recoverTasks drains tasks left over from a previous controller life:
// pending tasks never picked up, start_app tasks that failed, and tasks
// stuck in running because a worker died mid-flight. start_app is safe to
// replay; an interrupted task of any other action is marked failed for
// operator attention.
func (w *Worker) recoverTasks(ctx context.Context) {
	tasks, err := w.store.ListRecoverableTasks(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list recoverable tasks")
		return
	}
	for _, task := range tasks {
		logger := w.logger.With().Str("task_id", task.TaskID).Str("action", string(task.Action)).Logger()
		switch {
		case task.Status == types.TaskPending:
			logger.Info().Msg("recovering pending task")
			go w.process(ctx, task)
		case task.Action == types.ActionStartApp:
			logger.Info().Str("was", string(task.Status)).Msg("replaying interrupted start task")
			go w.process(ctx, task)
		default:
			logger.Warn().Msg("marking interrupted task failed")
			result := map[string]interface{}{"error": "interrupted by controller restart"}
			if err := w.store.MarkTask(ctx, task.TaskID, types.TaskFailed, result); err != nil {
				logger.Error().Err(err).Msg("failed to mark interrupted task")
			}
		}
	}
}

// reconcileRunningApps enqueues start_app for every app recorded as running
// whose container is gone, so recorded state converges after host restarts.
func (w *Worker) reconcileRunningApps(ctx context.Context) {
	apps, err := w.store.ListApplications(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list applications for boot reconciliation")
		return
	}
	containers, err := w.engine.List(ctx, types.RuntimeContainerPrefix)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to list runtime containers for boot reconciliation")
		return
	}
	live := make(map[string]bool, len(containers))
	for _, c := range containers {
		if c.State == engine.StateRunning {
			live[c.Name] = true
		}
	}
	for _, app := range apps {
		if app.Status != types.AppStatusRunning || live[types.RuntimeContainerName(app.AppID)] {
			continue
		}
		active, err := w.store.HasActiveTask(ctx, app.AppID, types.ActionStartApp)
		if err != nil || active {
			continue
		}
		w.logger.Info().Str("app_id", app.AppID).Msg("running app has no container, enqueueing start")
		if err := w.Enqueue(ctx, types.ActionStartApp, app.AppID); err != nil {
			w.logger.Error().Err(err).Str("app_id", app.AppID).Msg("failed to enqueue start task")
		}
	}
}

// Enqueue inserts a pending task for the app. The change feed picks it up;
// callers do not wait for execution.
func (w *Worker) Enqueue(ctx context.Context, action types.TaskAction, appID string) error {
	now := time.Now().UTC()
	task := &types.Task{
		TaskID:    uuid.NewString(),
		Action:    action,
		Status:    types.TaskPending,
		Payload:   map[string]interface{}{"app_id": appID},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return w.store.InsertTask(ctx, task)
}

// process executes one task under the app's lock
func (w *Worker) process(ctx context.Context, task *types.Task) {
	logger := w.logger.With().Str("task_id", task.TaskID).Str("action", string(task.Action)).Logger()

	appID, err := task.AppID()
	if err != nil {
		logger.Error().Err(err).Msg("task has no usable app_id")
		w.finish(ctx, task, types.TaskFailed, map[string]interface{}{"error": err.Error()})
		return
	}
	logger = logger.With().Str("app_id", appID).Logger()

	w.locks.Lock(appID)
	defer w.locks.Unlock(appID)

	// Another goroutine may have completed this task while we waited.
	current, err := w.store.GetTask(ctx, task.TaskID)
	if err != nil {
		if err != store.ErrNotFound {
			logger.Error().Err(err).Msg("failed to refetch task")
		}
		return
	}
	if current.Status == types.TaskSuccess {
		return
	}

	if err := w.store.MarkTask(ctx, task.TaskID, types.TaskRunning, nil); err != nil {
		logger.Error().Err(err).Msg("failed to mark task running")
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	if err := w.execute(taskCtx, task.Action, appID); err != nil {
		logger.Error().Err(err).Msg("task failed")
		w.finish(ctx, task, types.TaskFailed, map[string]interface{}{"error": err.Error()})
		return
	}
	logger.Info().Msg("task completed")
	w.finish(ctx, task, types.TaskSuccess, nil)
}

// execute dispatches by action and keeps the application status in step
// with the outcome.
func (w *Worker) execute(ctx context.Context, action types.TaskAction, appID string) error {
	app, err := w.store.GetApplication(ctx, appID)
	if err == store.ErrNotFound {
		if action == types.ActionDeleteApp {
			// Already gone; deletes converge.
			return nil
		}
		return fmt.Errorf("application %s not found", appID)
	}
	if err != nil {
		return err
	}

	switch action {
	case types.ActionStartApp:
		if _, err := w.orch.StartAppContainer(ctx, app); err != nil {
			w.setStatus(ctx, appID, types.AppStatusError)
			return err
		}
		w.setStatus(ctx, appID, types.AppStatusRunning)
	case types.ActionStopApp:
		if err := w.orch.StopAppContainer(ctx, app); err != nil {
			w.setStatus(ctx, appID, types.AppStatusError)
			return err
		}
		w.setStatus(ctx, appID, types.AppStatusStopped)
	case types.ActionRestartApp:
		if _, err := w.orch.RestartAppContainer(ctx, app); err != nil {
			w.setStatus(ctx, appID, types.AppStatusError)
			return err
		}
		w.setStatus(ctx, appID, types.AppStatusRunning)
	case types.ActionDeleteApp:
		if err := w.orch.DeleteApplicationResources(ctx, app); err != nil {
			w.setStatus(ctx, appID, types.AppStatusError)
			return err
		}
	default:
		return fmt.Errorf("unknown task action %q", action)
	}
	return nil
}

func (w *Worker) setStatus(ctx context.Context, appID string, status types.ApplicationStatus) {
	if err := w.store.SetApplicationStatus(ctx, appID, status); err != nil && err != store.ErrNotFound {
		w.logger.Error().Err(err).Str("app_id", appID).Str("status", string(status)).Msg("failed to update application status")
	}
}

func (w *Worker) finish(ctx context.Context, task *types.Task, status types.TaskStatus, result map[string]interface{}) {
	outcome := "success"
	if status == types.TaskFailed {
		outcome = "failed"
	}
	metrics.TasksProcessedTotal.WithLabelValues(string(task.Action), outcome).Inc()
	if err := w.store.MarkTask(ctx, task.TaskID, status, result); err != nil && err != store.ErrNotFound {
		w.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to record task outcome")
	}
}
