package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// TestIntervalSeconds tests tolerance for decoded numeric types
func TestIntervalSeconds(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]interface{}
		want float64
	}{
		{name: "float64", cfg: map[string]interface{}{"seconds": 30.0}, want: 30},
		{name: "int", cfg: map[string]interface{}{"seconds": 30}, want: 30},
		{name: "int32", cfg: map[string]interface{}{"seconds": int32(30)}, want: 30},
		{name: "int64", cfg: map[string]interface{}{"seconds": int64(30)}, want: 30},
		{name: "missing", cfg: map[string]interface{}{}, want: 0},
		{name: "string", cfg: map[string]interface{}{"seconds": "30"}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, intervalSeconds(tt.cfg))
		})
	}
}

// TestAddValidation tests schedule validation
func TestAddValidation(t *testing.T) {
	s := New(store.NewMemory())
	defer s.Stop()

	tests := []struct {
		name    string
		task    *types.ScheduledTask
		wantErr bool
	}{
		{
			name: "valid cron",
			task: &types.ScheduledTask{
				TaskID: "t1", Trigger: types.TriggerCron, Enabled: true,
				TriggerConfig: map[string]interface{}{"expression": "*/5 * * * *"},
			},
		},
		{
			name: "invalid cron expression",
			task: &types.ScheduledTask{
				TaskID: "t2", Trigger: types.TriggerCron, Enabled: true,
				TriggerConfig: map[string]interface{}{"expression": "not a cron"},
			},
			wantErr: true,
		},
		{
			name: "cron without expression",
			task: &types.ScheduledTask{
				TaskID: "t3", Trigger: types.TriggerCron, Enabled: true,
				TriggerConfig: map[string]interface{}{},
			},
			wantErr: true,
		},
		{
			name: "valid interval",
			task: &types.ScheduledTask{
				TaskID: "t4", Trigger: types.TriggerInterval, Enabled: true,
				TriggerConfig: map[string]interface{}{"seconds": 60},
			},
		},
		{
			name: "interval without seconds",
			task: &types.ScheduledTask{
				TaskID: "t5", Trigger: types.TriggerInterval, Enabled: true,
				TriggerConfig: map[string]interface{}{},
			},
			wantErr: true,
		},
		{
			name: "unknown trigger",
			task: &types.ScheduledTask{
				TaskID: "t6", Trigger: "webhook", Enabled: true,
			},
			wantErr: true,
		},
		{
			name: "disabled task is a no-op",
			task: &types.ScheduledTask{
				TaskID: "t7", Trigger: types.TriggerCron, Enabled: false,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Add(tt.task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestAddReplacesExistingSchedule tests upsert semantics
func TestAddReplacesExistingSchedule(t *testing.T) {
	s := New(store.NewMemory())
	defer s.Stop()

	task := &types.ScheduledTask{
		TaskID: "t1", Trigger: types.TriggerInterval, Enabled: true,
		TriggerConfig: map[string]interface{}{"seconds": 60},
	}
	require.NoError(t, s.Add(task))
	require.NoError(t, s.Add(task))

	s.mu.Lock()
	_, scheduled := s.stops["t1"]
	n := len(s.stops)
	s.mu.Unlock()
	assert.True(t, scheduled)
	assert.Equal(t, 1, n, "re-adding must not leak tickers")
}

// TestRemoveIsIdempotent tests removal of unknown and known tasks
func TestRemoveIsIdempotent(t *testing.T) {
	s := New(store.NewMemory())
	defer s.Stop()

	s.Remove("nosuchtask")

	require.NoError(t, s.Add(&types.ScheduledTask{
		TaskID: "t1", Trigger: types.TriggerCron, Enabled: true,
		TriggerConfig: map[string]interface{}{"expression": "0 * * * *"},
	}))
	s.Remove("t1")
	s.Remove("t1")

	s.mu.Lock()
	n := len(s.entries)
	s.mu.Unlock()
	assert.Zero(t, n)
}

// TestTriggerSystemTask tests immediate dispatch to a registered runner
func TestTriggerSystemTask(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	s := New(mem)
	defer s.Stop()

	require.NoError(t, mem.UpsertScheduledTask(ctx, &types.ScheduledTask{
		TaskID: "sys1", Trigger: types.TriggerInterval, Enabled: true,
		TriggerConfig: map[string]interface{}{"seconds": 30},
		IsSystemTask:  true,
	}))

	fired := 0
	s.RegisterSystem("sys1", func(ctx context.Context) error {
		fired++
		return nil
	})
	require.NoError(t, s.Trigger(ctx, "sys1"))
	assert.Equal(t, 1, fired)

	// A system task without a registered runner must fail loudly.
	require.NoError(t, mem.UpsertScheduledTask(ctx, &types.ScheduledTask{
		TaskID: "sys2", Trigger: types.TriggerInterval, Enabled: true,
		TriggerConfig: map[string]interface{}{"seconds": 30},
		IsSystemTask:  true,
	}))
	assert.Error(t, s.Trigger(ctx, "sys2"))

	assert.Equal(t, store.ErrNotFound, s.Trigger(ctx, "ghost"))
}
