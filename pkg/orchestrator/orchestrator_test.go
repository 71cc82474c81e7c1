package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyac-dev/hyac/pkg/config"
	"github.com/hyac-dev/hyac/pkg/engine"
	"github.com/hyac-dev/hyac/pkg/store"
	"github.com/hyac-dev/hyac/pkg/types"
)

// gateEngine fails every start attempt at the stale-container inspect while
// tracking how many callers are inside the engine at once.
type gateEngine struct {
	active    int32
	maxActive int32
}

func (e *gateEngine) Inspect(ctx context.Context, nameOrID string) (*engine.ContainerInfo, error) {
	cur := atomic.AddInt32(&e.active, 1)
	for {
		max := atomic.LoadInt32(&e.maxActive)
		if cur <= max || atomic.CompareAndSwapInt32(&e.maxActive, max, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	atomic.AddInt32(&e.active, -1)
	return nil, errors.New("engine offline")
}

func (e *gateEngine) Create(ctx context.Context, spec engine.CreateSpec) (string, error) {
	return "", errors.New("engine offline")
}
func (e *gateEngine) Start(ctx context.Context, id string) error   { return nil }
func (e *gateEngine) Stop(ctx context.Context, id string) error    { return nil }
func (e *gateEngine) Restart(ctx context.Context, id string) error { return nil }
func (e *gateEngine) Remove(ctx context.Context, id string) error  { return nil }
func (e *gateEngine) List(ctx context.Context, namePrefix string) ([]engine.ContainerInfo, error) {
	return nil, nil
}
func (e *gateEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	return "", nil
}
func (e *gateEngine) ImageExists(ctx context.Context, image string) (bool, error) { return true, nil }
func (e *gateEngine) SelfNetwork(ctx context.Context, containerName string) (string, error) {
	return "hyac_network", nil
}

// TestStartAppContainerSerializesPerApp tests that concurrent starts of the
// same app never overlap inside the engine. The lazy-start proxy and the
// worker both call in, so interleaving would let one caller remove the
// other's freshly created container.
func TestStartAppContainerSerializesPerApp(t *testing.T) {
	eng := &gateEngine{}
	o := New(store.NewMemory(), nil, nil, eng, nil, &config.Controller{})
	app := &types.Application{AppID: "abcdefgh", AppName: "demo"}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.StartAppContainer(context.Background(), app)
			assert.Error(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&eng.maxActive), "starts for one app must be serialized")
}

// TestStartAppContainerReturnsExistingRecord tests the idempotent
// short-circuit: a recorded running app never touches the engine again.
func TestStartAppContainerReturnsExistingRecord(t *testing.T) {
	eng := &gateEngine{}
	o := New(store.NewMemory(), nil, nil, eng, nil, &config.Controller{})
	app := &types.Application{AppID: "abcdefgh", AppName: "demo"}

	existing := &types.RunningApp{Name: types.RuntimeContainerName(app.AppID), ID: "c1"}
	o.record(app.AppID, existing)

	got, err := o.StartAppContainer(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, existing, got)
	assert.Zero(t, atomic.LoadInt32(&eng.maxActive))
}
