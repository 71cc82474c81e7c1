package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/hyac-dev/hyac/pkg/metrics"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

const dispatchTimeout = 30 * time.Second

// SystemJob is an in-process runner for a system scheduled task
type SystemJob func(ctx context.Context) error

// Scheduler fires cron and interval jobs. User jobs dispatch an HTTP call
// to the owning app's runtime; system jobs run registered in-process
// functions. Jobs live in the scheduled_tasks collection and are loaded at
// startup; API mutations keep the live set in step.
type Scheduler struct {
	store  store.Store
	cron   *cron.Cron
	client *http.Client
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	stops   map[string]chan struct{}
	system  map[string]SystemJob
}

// New creates a scheduler
func New(st store.Store) *Scheduler {
	return &Scheduler{
		store:   st,
		cron:    cron.New(),
		client:  &http.Client{Timeout: dispatchTimeout},
		logger:  log.WithComponent("scheduler"),
		entries: make(map[string]cron.EntryID),
		stops:   make(map[string]chan struct{}),
		system:  make(map[string]SystemJob),
	}
}

// RegisterSystem binds an in-process runner to a system task id. Must be
// called before Start.
func (s *Scheduler) RegisterSystem(taskID string, job SystemJob) {
	s.mu.Lock()
	s.system[taskID] = job
	s.mu.Unlock()
}

// Start loads enabled jobs from the database and begins firing them
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	tasks, err := s.store.ListEnabledScheduledTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load scheduled tasks: %w", err)
	}
	for _, task := range tasks {
		if err := s.Add(task); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("failed to schedule task")
		}
	}
	s.cron.Start()
	s.logger.Info().Int("jobs", len(tasks)).Msg("scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts all jobs
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	for id, stop := range s.stops {
		close(stop)
		delete(s.stops, id)
	}
	s.mu.Unlock()
	s.logger.Info().Msg("scheduler stopped")
}

// Add schedules one task. An existing schedule for the same task id is
// replaced, so upserts from the API can call Add unconditionally.
func (s *Scheduler) Add(task *types.ScheduledTask) error {
	s.Remove(task.TaskID)
	if !task.Enabled {
		return nil
	}
	switch task.Trigger {
	case types.TriggerCron:
		expr, ok := task.TriggerConfig["expression"].(string)
		if !ok || expr == "" {
			return fmt.Errorf("task %s: cron trigger requires an expression", task.TaskID)
		}
		t := *task
		id, err := s.cron.AddFunc(expr, func() { s.run(&t) })
		if err != nil {
			return fmt.Errorf("task %s: invalid cron expression %q: %w", task.TaskID, expr, err)
		}
		s.mu.Lock()
		s.entries[task.TaskID] = id
		s.mu.Unlock()
	case types.TriggerInterval:
		seconds := intervalSeconds(task.TriggerConfig)
		if seconds <= 0 {
			return fmt.Errorf("task %s: interval trigger requires positive seconds", task.TaskID)
		}
		stop := make(chan struct{})
		s.mu.Lock()
		s.stops[task.TaskID] = stop
		s.mu.Unlock()
		t := *task
		go func() {
			ticker := time.NewTicker(time.Duration(seconds * float64(time.Second)))
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case <-ticker.C:
					s.run(&t)
				}
			}
		}()
	default:
		return fmt.Errorf("task %s: unknown trigger %q", task.TaskID, task.Trigger)
	}
	s.logger.Info().Str("task_id", task.TaskID).Str("trigger", string(task.Trigger)).Msg("job scheduled")
	return nil
}

// intervalSeconds reads the interval length, tolerating the numeric types
// JSON and BSON decoding produce.
func intervalSeconds(cfg map[string]interface{}) float64 {
	switch v := cfg["seconds"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Remove unschedules one task if present
func (s *Scheduler) Remove(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[taskID]; ok {
		s.cron.Remove(id)
		delete(s.entries, taskID)
	}
	if stop, ok := s.stops[taskID]; ok {
		close(stop)
		delete(s.stops, taskID)
	}
}

// Trigger fires one task immediately regardless of its schedule
func (s *Scheduler) Trigger(ctx context.Context, taskID string) error {
	task, err := s.store.GetScheduledTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.dispatch(ctx, task)
}

func (s *Scheduler) run(task *types.ScheduledTask) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.dispatch(ctx, task); err != nil {
		metrics.ScheduledDispatchTotal.WithLabelValues("failed").Inc()
		s.logger.Error().Err(err).Str("task_id", task.TaskID).Msg("scheduled dispatch failed")
		return
	}
	metrics.ScheduledDispatchTotal.WithLabelValues("success").Inc()
}

func (s *Scheduler) dispatch(ctx context.Context, task *types.ScheduledTask) error {
	if task.IsSystemTask {
		s.mu.Lock()
		job, ok := s.system[task.TaskID]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("no runner registered for system task %s", task.TaskID)
		}
		return job(ctx)
	}
	return s.dispatchToRuntime(ctx, task)
}

// dispatchToRuntime POSTs the scheduled invocation to the app's runtime.
// The runtime only answers while the app is up; a stopped app fails the
// dispatch, which is recorded but not retried.
func (s *Scheduler) dispatchToRuntime(ctx context.Context, task *types.ScheduledTask) error {
	if task.AppID == "" || task.FunctionID == "" {
		return fmt.Errorf("task %s: user task requires app_id and function_id", task.TaskID)
	}
	target := fmt.Sprintf("http://%s:%d/%s",
		types.RuntimeContainerName(task.AppID), types.RuntimePort, task.FunctionID)
	if len(task.Params) > 0 {
		q := url.Values{}
		for k, v := range task.Params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		target += "?" + q.Encode()
	}

	var body io.Reader = http.NoBody
	if len(task.Body) > 0 {
		data, err := json.Marshal(task.Body)
		if err != nil {
			return fmt.Errorf("task %s: failed to encode body: %w", task.TaskID, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("task %s: dispatch failed: %w", task.TaskID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("task %s: runtime answered %d: %s", task.TaskID, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	s.logger.Debug().Str("task_id", task.TaskID).Str("function_id", task.FunctionID).Msg("scheduled dispatch delivered")
	return nil
}
