package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// TestMapStatus tests the container-state to application-status mapping
func TestMapStatus(t *testing.T) {
	tests := []struct {
		name string
		info *engine.ContainerInfo
		want types.ApplicationStatus
	}{
		{name: "absent", info: nil, want: types.AppStatusStopped},
		{name: "running healthy", info: &engine.ContainerInfo{State: engine.StateRunning, Health: engine.HealthHealthy}, want: types.AppStatusRunning},
		{name: "running health unknown", info: &engine.ContainerInfo{State: engine.StateRunning, Health: engine.HealthNone}, want: types.AppStatusStarting},
		{name: "running unhealthy", info: &engine.ContainerInfo{State: engine.StateRunning, Health: engine.HealthUnhealthy}, want: types.AppStatusError},
		{name: "running health starting", info: &engine.ContainerInfo{State: engine.StateRunning, Health: engine.HealthStarting}, want: types.AppStatusStarting},
		{name: "created", info: &engine.ContainerInfo{State: engine.StateCreated}, want: types.AppStatusStarting},
		{name: "restarting", info: &engine.ContainerInfo{State: engine.StateRestarting}, want: types.AppStatusStarting},
		{name: "exited", info: &engine.ContainerInfo{State: engine.StateExited}, want: types.AppStatusStopped},
		{name: "dead", info: &engine.ContainerInfo{State: engine.StateDead}, want: types.AppStatusStopped},
		{name: "paused", info: &engine.ContainerInfo{State: engine.StatePaused}, want: types.AppStatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapStatus(tt.info))
		})
	}
}

// fakeEngine serves a fixed container list
type fakeEngine struct {
	containers []engine.ContainerInfo
}

func (f *fakeEngine) Create(ctx context.Context, spec engine.CreateSpec) (string, error) {
	return "", nil
}
func (f *fakeEngine) Start(ctx context.Context, id string) error   { return nil }
func (f *fakeEngine) Stop(ctx context.Context, id string) error    { return nil }
func (f *fakeEngine) Restart(ctx context.Context, id string) error { return nil }
func (f *fakeEngine) Remove(ctx context.Context, id string) error  { return nil }
func (f *fakeEngine) List(ctx context.Context, namePrefix string) ([]engine.ContainerInfo, error) {
	return f.containers, nil
}
func (f *fakeEngine) Inspect(ctx context.Context, nameOrID string) (*engine.ContainerInfo, error) {
	return nil, engine.ErrNotFound
}
func (f *fakeEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (f *fakeEngine) ImageExists(ctx context.Context, image string) (bool, error) {
	return true, nil
}
func (f *fakeEngine) SelfNetwork(ctx context.Context, containerName string) (string, error) {
	return "hyac_network", nil
}

// TestSweep tests one reconciliation pass against recorded state
func TestSweep(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	insert := func(appID string, status types.ApplicationStatus) {
		require.NoError(t, mem.InsertApplication(ctx, &types.Application{
			AppID:   appID,
			AppName: "app-" + appID,
			Status:  status,
		}))
	}
	insert("aaaaaaaa", types.AppStatusRunning)  // container healthy, stays running
	insert("bbbbbbbb", types.AppStatusRunning)  // container gone, becomes stopped
	insert("cccccccc", types.AppStatusRunning)  // container unhealthy, becomes error
	insert("dddddddd", types.AppStatusStopped)  // transitional family, untouched
	insert("eeeeeeee", types.AppStatusError)    // container healthy again, repaired
	insert("ffffffff", types.AppStatusDeleting) // transitional, untouched

	eng := &fakeEngine{containers: []engine.ContainerInfo{
		{Name: types.RuntimeContainerName("aaaaaaaa"), State: engine.StateRunning, Health: engine.HealthHealthy},
		{Name: types.RuntimeContainerName("cccccccc"), State: engine.StateRunning, Health: engine.HealthUnhealthy},
		{Name: types.RuntimeContainerName("eeeeeeee"), State: engine.StateRunning, Health: engine.HealthHealthy},
		{Name: types.RuntimeContainerName("ffffffff"), State: engine.StateRunning, Health: engine.HealthHealthy},
	}}

	New(mem, eng).Sweep(ctx)

	wantStatus := map[string]types.ApplicationStatus{
		"aaaaaaaa": types.AppStatusRunning,
		"bbbbbbbb": types.AppStatusStopped,
		"cccccccc": types.AppStatusError,
		"dddddddd": types.AppStatusStopped,
		"eeeeeeee": types.AppStatusRunning,
		"ffffffff": types.AppStatusDeleting,
	}
	for appID, want := range wantStatus {
		app, err := mem.GetApplication(ctx, appID)
		require.NoError(t, err)
		assert.Equal(t, want, app.Status, "app %s", appID)
	}
}
