package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/scheduler"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
	store store.Store
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, action types.TaskAction, appID string) error {
	f.mu.Lock()
	f.calls = append(f.calls, string(action)+":"+appID)
	f.mu.Unlock()
	if f.store != nil {
		return f.store.InsertTask(ctx, &types.Task{
			TaskID:  "test-" + string(action) + "-" + appID,
			Action:  action,
			Status:  types.TaskPending,
			Payload: map[string]interface{}{"app_id": appID},
		})
	}
	return nil
}

type fakeSweeper struct{ swept int }

func (f *fakeSweeper) Sweep(ctx context.Context) { f.swept++ }

type fakeLogFeed struct{}

func (f *fakeLogFeed) WatchLogs(ctx context.Context, appID string, handler func(*types.LogEntry)) {
	<-ctx.Done()
}

type nullEngine struct{}

func (nullEngine) Create(ctx context.Context, spec engine.CreateSpec) (string, error) {
	return "", nil
}
func (nullEngine) Start(ctx context.Context, id string) error   { return nil }
func (nullEngine) Stop(ctx context.Context, id string) error    { return nil }
func (nullEngine) Restart(ctx context.Context, id string) error { return nil }
func (nullEngine) Remove(ctx context.Context, id string) error  { return nil }
func (nullEngine) List(ctx context.Context, namePrefix string) ([]engine.ContainerInfo, error) {
	return nil, nil
}
func (nullEngine) Inspect(ctx context.Context, nameOrID string) (*engine.ContainerInfo, error) {
	return nil, engine.ErrNotFound
}
func (nullEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (nullEngine) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (nullEngine) SelfNetwork(ctx context.Context, containerName string) (string, error) {
	return "hyac_network", nil
}

func newTestServer(t *testing.T) (*Server, *store.Memory, *fakeEnqueuer) {
	t.Helper()
	mem := store.NewMemory()
	enq := &fakeEnqueuer{store: mem}
	cfg := &config.Controller{DomainName: "example.com"}
	srv := NewServer(mem, nil, nil, nullEngine{}, enq, &fakeSweeper{}, scheduler.New(mem), &fakeLogFeed{}, http.NotFoundHandler(), cfg)
	return srv, mem, enq
}

func post(t *testing.T, srv *Server, path string, body interface{}) Envelope {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// TestAppCreate tests application creation
func TestAppCreate(t *testing.T) {
	srv, mem, enq := newTestServer(t)

	env := post(t, srv, "/applications/create", map[string]string{"appName": "demo"})
	require.Equal(t, CodeOK, env.Code, env.Msg)

	data, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var app types.Application
	require.NoError(t, json.Unmarshal(data, &app))
	assert.Len(t, app.AppID, 8)
	assert.Equal(t, "demo", app.AppName)
	assert.Equal(t, types.AppStatusStarting, app.Status)
	assert.Equal(t, []string{"*"}, app.CORS.AllowOrigins)

	stored, err := mem.GetApplication(context.Background(), app.AppID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.DBPassword)

	require.Len(t, enq.calls, 1)
	assert.Equal(t, "start_app:"+app.AppID, enq.calls[0])
}

// TestAppCreateValidation tests the input checks
func TestAppCreateValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	env := post(t, srv, "/applications/create", map[string]string{})
	assert.Equal(t, CodeValidation, env.Code)
}

// TestAppCreateDuplicateName tests the name uniqueness check
func TestAppCreateDuplicateName(t *testing.T) {
	srv, _, _ := newTestServer(t)

	env := post(t, srv, "/applications/create", map[string]string{"appName": "demo"})
	require.Equal(t, CodeOK, env.Code)

	env = post(t, srv, "/applications/create", map[string]string{"appName": "demo"})
	assert.Equal(t, CodeConflict, env.Code)
}

// TestAppLifecycleTransitions tests the state machine at the API boundary
func TestAppLifecycleTransitions(t *testing.T) {
	tests := []struct {
		name     string
		status   types.ApplicationStatus
		action   string
		wantCode int
	}{
		{name: "start stopped", status: types.AppStatusStopped, action: "start", wantCode: CodeOK},
		{name: "start errored", status: types.AppStatusError, action: "start", wantCode: CodeOK},
		{name: "start running", status: types.AppStatusRunning, action: "start", wantCode: CodeConflict},
		{name: "stop running", status: types.AppStatusRunning, action: "stop", wantCode: CodeOK},
		{name: "stop stopped", status: types.AppStatusStopped, action: "stop", wantCode: CodeConflict},
		{name: "restart running", status: types.AppStatusRunning, action: "restart", wantCode: CodeOK},
		{name: "restart stopped", status: types.AppStatusStopped, action: "restart", wantCode: CodeConflict},
		{name: "delete running", status: types.AppStatusRunning, action: "delete", wantCode: CodeOK},
		{name: "delete stopped", status: types.AppStatusStopped, action: "delete", wantCode: CodeOK},
		{name: "anything while starting", status: types.AppStatusStarting, action: "stop", wantCode: CodeConflict},
		{name: "anything while deleting", status: types.AppStatusDeleting, action: "start", wantCode: CodeConflict},
		{name: "start again while starting", status: types.AppStatusStarting, action: "start", wantCode: CodeOK},
		{name: "stop again while stopping", status: types.AppStatusStopping, action: "stop", wantCode: CodeOK},
		{name: "delete again while deleting", status: types.AppStatusDeleting, action: "delete", wantCode: CodeOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, mem, _ := newTestServer(t)
			require.NoError(t, mem.InsertApplication(context.Background(), &types.Application{
				AppID: "abcdefgh", AppName: "demo", Status: tt.status,
			}))

			env := post(t, srv, "/applications/"+tt.action, map[string]string{"appId": "abcdefgh"})
			assert.Equal(t, tt.wantCode, env.Code, env.Msg)
		})
	}
}

// TestAppActionRecordsTransitionalStatus tests the status recorded while a
// task is in flight.
func TestAppActionRecordsTransitionalStatus(t *testing.T) {
	srv, mem, enq := newTestServer(t)
	require.NoError(t, mem.InsertApplication(context.Background(), &types.Application{
		AppID: "abcdefgh", AppName: "demo", Status: types.AppStatusRunning,
	}))

	env := post(t, srv, "/applications/stop", map[string]string{"appId": "abcdefgh"})
	require.Equal(t, CodeOK, env.Code, env.Msg)

	app, err := mem.GetApplication(context.Background(), "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusStopping, app.Status)
	assert.Equal(t, []string{"stop_app:abcdefgh"}, enq.calls)
}

// TestAppActionIdempotentRetry tests that re-requesting the in-flight action
// succeeds without enqueueing a duplicate task.
func TestAppActionIdempotentRetry(t *testing.T) {
	srv, mem, enq := newTestServer(t)
	require.NoError(t, mem.InsertApplication(context.Background(), &types.Application{
		AppID: "abcdefgh", AppName: "demo", Status: types.AppStatusStarting,
	}))

	env := post(t, srv, "/applications/start", map[string]string{"appId": "abcdefgh"})
	require.Equal(t, CodeOK, env.Code, env.Msg)
	assert.Empty(t, enq.calls)

	app, err := mem.GetApplication(context.Background(), "abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, types.AppStatusStarting, app.Status)

	// A different action against the same transitional state still conflicts.
	env = post(t, srv, "/applications/stop", map[string]string{"appId": "abcdefgh"})
	assert.Equal(t, CodeConflict, env.Code)
}

// TestAppActionBlockedByActiveTask tests the in-flight task guard
func TestAppActionBlockedByActiveTask(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, mem.InsertApplication(ctx, &types.Application{
		AppID: "abcdefgh", AppName: "demo", Status: types.AppStatusRunning,
	}))
	require.NoError(t, mem.InsertTask(ctx, &types.Task{
		TaskID: "busy", Action: types.ActionRestartApp, Status: types.TaskRunning,
		Payload: map[string]interface{}{"app_id": "abcdefgh"},
	}))

	env := post(t, srv, "/applications/stop", map[string]string{"appId": "abcdefgh"})
	assert.Equal(t, CodeConflict, env.Code)
}

// TestAppActionUnknownApp tests the not-found mapping
func TestAppActionUnknownApp(t *testing.T) {
	srv, _, _ := newTestServer(t)
	env := post(t, srv, "/applications/start", map[string]string{"appId": "ghost"})
	assert.Equal(t, CodeNotFound, env.Code)
}

// TestAppData tests listing with pagination
func TestAppData(t *testing.T) {
	srv, mem, _ := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, mem.InsertApplication(ctx, &types.Application{AppID: id, AppName: "app-" + id}))
	}

	env := post(t, srv, "/applications/data", map[string]int{"page": 1, "length": 2})
	require.Equal(t, CodeOK, env.Code)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, float64(3), data["total"])
	assert.Len(t, data["items"], 2)
}
