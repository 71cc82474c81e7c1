package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// fakeOrchestrator records calls and fails on demand
type fakeOrchestrator struct {
	mu      sync.Mutex
	calls   []string
	failOn  string
	deleted []string
}

func (f *fakeOrchestrator) record(op, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+appID)
	if f.failOn == op {
		return errors.New(op + " failed")
	}
	if op == "delete" {
		f.deleted = append(f.deleted, appID)
	}
	return nil
}

func (f *fakeOrchestrator) StartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error) {
	if err := f.record("start", app.AppID); err != nil {
		return nil, err
	}
	return &types.RunningApp{Name: types.RuntimeContainerName(app.AppID), ID: "cid"}, nil
}

func (f *fakeOrchestrator) StopAppContainer(ctx context.Context, app *types.Application) error {
	return f.record("stop", app.AppID)
}

func (f *fakeOrchestrator) RestartAppContainer(ctx context.Context, app *types.Application) (*types.RunningApp, error) {
	if err := f.record("restart", app.AppID); err != nil {
		return nil, err
	}
	return &types.RunningApp{Name: types.RuntimeContainerName(app.AppID), ID: "cid"}, nil
}

func (f *fakeOrchestrator) DeleteApplicationResources(ctx context.Context, app *types.Application) error {
	return f.record("delete", app.AppID)
}

type stubEngine struct {
	containers []engine.ContainerInfo
}

func (f *stubEngine) Create(ctx context.Context, spec engine.CreateSpec) (string, error) {
	return "", nil
}
func (f *stubEngine) Start(ctx context.Context, id string) error   { return nil }
func (f *stubEngine) Stop(ctx context.Context, id string) error    { return nil }
func (f *stubEngine) Restart(ctx context.Context, id string) error { return nil }
func (f *stubEngine) Remove(ctx context.Context, id string) error  { return nil }
func (f *stubEngine) List(ctx context.Context, namePrefix string) ([]engine.ContainerInfo, error) {
	return f.containers, nil
}
func (f *stubEngine) Inspect(ctx context.Context, nameOrID string) (*engine.ContainerInfo, error) {
	return nil, engine.ErrNotFound
}
func (f *stubEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (f *stubEngine) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (f *stubEngine) SelfNetwork(ctx context.Context, containerName string) (string, error) {
	return "hyac_network", nil
}

func newTask(action types.TaskAction, appID string, status types.TaskStatus) *types.Task {
	now := time.Now().UTC()
	return &types.Task{
		TaskID:    "task-" + string(action) + "-" + appID,
		Action:    action,
		Status:    status,
		Payload:   map[string]interface{}{"app_id": appID},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TestProcessStartSuccess tests the happy path of a start task
func TestProcessStartSuccess(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	orch := &fakeOrchestrator{}
	w := New(mem, nil, orch, &stubEngine{})

	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "abcdefgh", Status: types.AppStatusStarting}))
	task := newTask(types.ActionStartApp, "abcdefgh", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, task))

	w.process(ctx, task)

	app, err := mem.GetApplication(ctx, "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusRunning, app.Status)

	stored, err := mem.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskSuccess, stored.Status)
	assert.Equal(t, []string{"start:abcdefgh"}, orch.calls)
}

// TestProcessStartFailure tests that a failing start marks app and task
func TestProcessStartFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	orch := &fakeOrchestrator{failOn: "start"}
	w := New(mem, nil, orch, &stubEngine{})

	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "abcdefgh", Status: types.AppStatusStarting}))
	task := newTask(types.ActionStartApp, "abcdefgh", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, task))

	w.process(ctx, task)

	app, err := mem.GetApplication(ctx, "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusError, app.Status)

	stored, err := mem.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, stored.Status)
	assert.Contains(t, stored.Result["error"], "start failed")
}

// TestProcessStopAndRestart tests status transitions of stop and restart
func TestProcessStopAndRestart(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	orch := &fakeOrchestrator{}
	w := New(mem, nil, orch, &stubEngine{})

	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "abcdefgh", Status: types.AppStatusStopping}))

	stop := newTask(types.ActionStopApp, "abcdefgh", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, stop))
	w.process(ctx, stop)

	app, err := mem.GetApplication(ctx, "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusStopped, app.Status)

	restart := newTask(types.ActionRestartApp, "abcdefgh", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, restart))
	w.process(ctx, restart)

	app, err = mem.GetApplication(ctx, "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusRunning, app.Status)
}

// TestProcessDeleteOfMissingAppConverges tests that deleting an already
// deleted application succeeds.
func TestProcessDeleteOfMissingAppConverges(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := New(mem, nil, &fakeOrchestrator{}, &stubEngine{})

	task := newTask(types.ActionDeleteApp, "ghost", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, task))
	w.process(ctx, task)

	stored, err := mem.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskSuccess, stored.Status)
}

// TestProcessSkipsCompletedTask tests the refetch guard
func TestProcessSkipsCompletedTask(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	orch := &fakeOrchestrator{}
	w := New(mem, nil, orch, &stubEngine{})

	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "abcdefgh", Status: types.AppStatusRunning}))
	task := newTask(types.ActionStartApp, "abcdefgh", types.TaskPending)
	require.NoError(t, mem.InsertTask(ctx, task))
	require.NoError(t, mem.MarkTask(ctx, task.TaskID, types.TaskSuccess, nil))

	w.process(ctx, task)
	assert.Empty(t, orch.calls)
}

// TestProcessTaskWithoutAppID tests payload validation
func TestProcessTaskWithoutAppID(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := New(mem, nil, &fakeOrchestrator{}, &stubEngine{})

	task := &types.Task{TaskID: "broken", Action: types.ActionStartApp, Status: types.TaskPending, Payload: map[string]interface{}{}}
	require.NoError(t, mem.InsertTask(ctx, task))
	w.process(ctx, task)

	stored, err := mem.GetTask(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, stored.Status)
}

// TestRecoverTasksMarksInterrupted tests that a non-start task stuck in
// running is marked failed instead of replayed.
func TestRecoverTasksMarksInterrupted(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := New(mem, nil, &fakeOrchestrator{}, &stubEngine{})

	task := newTask(types.ActionStopApp, "abcdefgh", types.TaskRunning)
	require.NoError(t, mem.InsertTask(ctx, task))

	w.recoverTasks(ctx)

	stored, err := mem.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, stored.Status)
	assert.Contains(t, stored.Result["error"], "interrupted")
}

// TestReconcileRunningApps tests that a running app without a live container
// gets a start task enqueued.
func TestReconcileRunningApps(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := New(mem, nil, &fakeOrchestrator{}, &stubEngine{})

	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "abcdefgh", Status: types.AppStatusRunning}))
	require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: "stoppedap", Status: types.AppStatusStopped}))

	w.reconcileRunningApps(ctx)

	active, err := mem.HasActiveTask(ctx, "abcdefgh", types.ActionStartApp)
	require.NoError(t, err)
	assert.True(t, active, "expected a start task for the running app without a container")

	active, err = mem.HasActiveTask(ctx, "stoppedap", types.ActionStartApp)
	require.NoError(t, err)
	assert.False(t, active, "stopped app must not be started")

	// A second pass must not enqueue a duplicate.
	w.reconcileRunningApps(ctx)
	n, err := mem.DeleteTasksByApp(ctx, "abcdefgh", types.ActionStartApp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestEnqueue tests pending task insertion
func TestEnqueue(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	w := New(mem, nil, &fakeOrchestrator{}, &stubEngine{})

	require.NoError(t, w.Enqueue(ctx, types.ActionStopApp, "abcdefgh"))

	tasks, err := mem.ListRecoverableTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, types.ActionStopApp, tasks[0].Action)
	assert.Equal(t, types.TaskPending, tasks[0].Status)
	appID, err := tasks[0].AppID()
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", appID)
}
