package engine

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/hyac-dev/hyac/pkg/log"
	"github.com/rs/zerolog"
)

// DockerEngine implements Engine against the Docker Engine API
type DockerEngine struct {
	cli    *client.Client
	logger zerolog.Logger
}

// NewDockerEngine connects to the local Docker daemon
func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerEngine{
		cli:    cli,
		logger: log.WithComponent("engine"),
	}, nil
}

// Create creates a container from the spec without starting it
func (e *DockerEngine) Create(ctx context.Context, spec CreateSpec) (string, error) {
	cfg := &container.Config{
		Image:  spec.Image,
		Env:    spec.Env,
		Labels: spec.Labels,
	}
	if spec.ExposedPort > 0 {
		port := nat.Port(strconv.Itoa(spec.ExposedPort) + "/tcp")
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
	}
	if len(spec.HealthCmd) > 0 {
		cfg.Healthcheck = &container.HealthConfig{
			Test:     append([]string{"CMD"}, spec.HealthCmd...),
			Interval: 5 * time.Second,
			Timeout:  3 * time.Second,
			Retries:  5,
		}
	}
	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyUnlessStopped,
		},
	}
	var netCfg *network.NetworkingConfig
	if spec.Network != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}
	created, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	for _, warn := range created.Warnings {
		e.logger.Warn().Str("container", spec.Name).Msg(warn)
	}
	return created.ID, nil
}

// Start starts a created container
func (e *DockerEngine) Start(ctx context.Context, id string) error {
	if err := e.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return translateErr(err)
	}
	return nil
}

// Stop stops a running container with the default grace period
func (e *DockerEngine) Stop(ctx context.Context, id string) error {
	if err := e.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		return translateErr(err)
	}
	return nil
}

// Restart restarts a container
func (e *DockerEngine) Restart(ctx context.Context, id string) error {
	if err := e.cli.ContainerRestart(ctx, id, container.StopOptions{}); err != nil {
		return translateErr(err)
	}
	return nil
}

// Remove force-removes a container. Missing containers are not an error so
// teardown stays idempotent.
func (e *DockerEngine) Remove(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return err
	}
	return nil
}

// List returns containers whose name starts with namePrefix, including
// stopped ones.
func (e *DockerEngine) List(ctx context.Context, namePrefix string) ([]ContainerInfo, error) {
	opts := container.ListOptions{All: true}
	if namePrefix != "" {
		opts.Filters = filters.NewArgs(filters.Arg("name", namePrefix))
	}
	summaries, err := e.cli.ContainerList(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	infos := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		infos = append(infos, summaryToInfo(s))
	}
	return infos, nil
}

// Inspect returns one container by name or id, or ErrNotFound
func (e *DockerEngine) Inspect(ctx context.Context, nameOrID string) (*ContainerInfo, error) {
	resp, err := e.cli.ContainerInspect(ctx, nameOrID)
	if err != nil {
		return nil, translateErr(err)
	}
	info := &ContainerInfo{
		ID:     resp.ID,
		Name:   strings.TrimPrefix(resp.Name, "/"),
		Health: HealthNone,
	}
	if resp.Config != nil {
		info.Image = resp.Config.Image
		info.Labels = resp.Config.Labels
	}
	if resp.State != nil {
		info.State = ContainerState(resp.State.Status)
		if resp.State.Health != nil {
			info.Health = Health(resp.State.Health.Status)
		}
	}
	return info, nil
}

// Exec runs a command inside a running container and returns its combined
// output.
func (e *DockerEngine) Exec(ctx context.Context, id string, cmd []string) (string, error) {
	created, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec: %w", err)
	}
	attach, err := e.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("failed to read exec output: %w", err)
	}
	inspect, err := e.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return "", err
	}
	out := stdout.String() + stderr.String()
	if inspect.ExitCode != 0 {
		return out, fmt.Errorf("exec exited with code %d", inspect.ExitCode)
	}
	return out, nil
}

// ImageExists reports whether the image is present locally
func (e *DockerEngine) ImageExists(ctx context.Context, ref string) (bool, error) {
	images, err := e.cli.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", ref)),
	})
	if err != nil {
		return false, err
	}
	return len(images) > 0, nil
}

// SelfNetwork inspects the named container and returns the first network it
// is attached to. The controller uses its own container here to find the
// compose network runtime containers must join.
func (e *DockerEngine) SelfNetwork(ctx context.Context, containerName string) (string, error) {
	resp, err := e.cli.ContainerInspect(ctx, containerName)
	if err != nil {
		return "", translateErr(err)
	}
	if resp.NetworkSettings == nil {
		return "", fmt.Errorf("container %s has no network settings", containerName)
	}
	for name := range resp.NetworkSettings.Networks {
		return name, nil
	}
	return "", fmt.Errorf("container %s is not attached to any network", containerName)
}

// summaryToInfo maps a list entry. Health is embedded in the human-readable
// status string ("Up 2 minutes (healthy)"), so it is parsed out of there.
func summaryToInfo(s container.Summary) ContainerInfo {
	info := ContainerInfo{
		ID:     s.ID,
		Image:  s.Image,
		State:  ContainerState(s.State),
		Health: HealthNone,
		Labels: s.Labels,
	}
	if len(s.Names) > 0 {
		info.Name = strings.TrimPrefix(s.Names[0], "/")
	}
	switch {
	case strings.Contains(s.Status, "(healthy)"):
		info.Health = HealthHealthy
	case strings.Contains(s.Status, "(unhealthy)"):
		info.Health = HealthUnhealthy
	case strings.Contains(s.Status, "(health: starting)"):
		info.Health = HealthStarting
	}
	return info
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
