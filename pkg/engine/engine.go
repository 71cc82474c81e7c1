package engine

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a container does not exist
var ErrNotFound = errors.New("container not found")

// Health is the engine-reported health of a container
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthStarting  Health = "starting"
	HealthNone      Health = "none"
)

// ContainerState is the engine-reported run state
type ContainerState string

const (
	StateCreated    ContainerState = "created"
	StateRunning    ContainerState = "running"
	StateRestarting ContainerState = "restarting"
	StatePaused     ContainerState = "paused"
	StateExited     ContainerState = "exited"
	StateDead       ContainerState = "dead"
)

// ContainerInfo is the engine-neutral view of one container
type ContainerInfo struct {
	ID     string
	Name   string
	Image  string
	State  ContainerState
	Health Health
	Labels map[string]string
}

// CreateSpec describes a container to create
type CreateSpec struct {
	Name        string
	Image       string
	Env         []string
	Labels      map[string]string
	Network     string
	Binds       []string
	ExposedPort int
	HealthCmd   []string
}

// Engine abstracts the container engine so the orchestrator and reconciler
// can be exercised against a fake in tests.
type Engine interface {
	Create(ctx context.Context, spec CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context, namePrefix string) ([]ContainerInfo, error)
	Inspect(ctx context.Context, nameOrID string) (*ContainerInfo, error)
	Exec(ctx context.Context, id string, cmd []string) (string, error)
	ImageExists(ctx context.Context, image string) (bool, error)
	// SelfNetwork reports the first network the named container is
	// attached to, used to discover the compose network at startup.
	SelfNetwork(ctx context.Context, containerName string) (string, error)
}
