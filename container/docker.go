package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/url"
	"strconv"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

const (
	// ManagedLabelKey marks containers created by DockerManager.
	ManagedLabelKey = "mssqlfixture"

	defaultStopTimeoutSeconds = 10
)

// DockerManager is a Manager backed by the local Docker daemon through dockertest.
type DockerManager struct {
	pool   *dockertest.Pool
	host   string
	logger *slog.Logger
}

var _ Manager = (*DockerManager)(nil)

// NewDockerManager connects to the Docker daemon at endpoint. An empty endpoint uses DOCKER_HOST
// or the platform default socket.
func NewDockerManager(endpoint string, logger *slog.Logger) (*DockerManager, error) {
	pool, err := dockertest.NewPool(endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("ping docker: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DockerManager{
		pool:   pool,
		host:   hostFromEndpoint(pool.Client.Endpoint()),
		logger: logger.With(slog.String("logger", "docker")),
	}, nil
}

// hostFromEndpoint returns the host published ports are reachable on: the daemon's host for a
// remote tcp endpoint, localhost otherwise.
func hostFromEndpoint(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "tcp" || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

// Start returns the container called spec.Name, starting it if it is stopped, or creates it.
func (m *DockerManager) Start(ctx context.Context, spec Spec) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	handle, err := m.Find(ctx, spec)
	if err != nil {
		return nil, err
	}
	if handle != nil {
		return handle, nil
	}

	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = make(map[string]string)
	}
	labels[ManagedLabelKey] = "1"
	options := &dockertest.RunOptions{
		Name:         spec.Name,
		Repository:   spec.Image,
		Tag:          spec.Tag,
		Env:          spec.Env,
		Labels:       labels,
		ExposedPorts: []string{spec.portKey()},
		PortBindings: make(map[docker.Port][]docker.PortBinding),
	}
	if spec.HostPort > 0 {
		options.PortBindings[docker.Port(spec.portKey())] = []docker.PortBinding{
			{HostPort: strconv.Itoa(spec.HostPort)},
		}
	}
	resource, err := m.pool.RunWithOptions(
		options,
		func(config *docker.HostConfig) {
			// The container is shared across test runs, so it must outlive this process and
			// never restart on its own.
			config.AutoRemove = false
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		if errors.Is(err, docker.ErrContainerAlreadyExists) {
			// Another process created it between our inspect and create.
			if handle, findErr := m.Find(ctx, spec); findErr == nil && handle != nil {
				return handle, nil
			}
		}
		return nil, fmt.Errorf("create container %s from %s: %w", spec.Name, spec.Reference(), err)
	}
	port, err := strconv.Atoi(resource.GetPort(spec.portKey()))
	if err != nil {
		return nil, fmt.Errorf("resolve host port for %s: %w", spec.portKey(), err)
	}
	m.logger.Info(
		"docker container created",
		slog.String("container_id", resource.Container.ID),
		slog.String("name", spec.Name),
		slog.String("image", spec.Reference()),
		slog.Int("port", port),
	)
	return &Handle{
		ID:   resource.Container.ID,
		Name: spec.Name,
		Host: m.host,
		Port: port,
	}, nil
}

// Find returns the container called spec.Name, starting it if it exists but is stopped. It
// returns (nil, nil) when no such container exists.
func (m *DockerManager) Find(ctx context.Context, spec Spec) (*Handle, error) {
	c, err := m.pool.Client.InspectContainerWithContext(spec.Name, ctx)
	if err != nil {
		var noSuch *docker.NoSuchContainer
		if errors.As(err, &noSuch) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect container %s: %w", spec.Name, err)
	}
	if !c.State.Running {
		if err := m.pool.Client.StartContainerWithContext(c.ID, nil, ctx); err != nil {
			var alreadyRunning *docker.ContainerAlreadyRunning
			if !errors.As(err, &alreadyRunning) {
				return nil, fmt.Errorf("start existing container %s: %w", spec.Name, err)
			}
		}
		// Ports are only bound once the container runs.
		if c, err = m.pool.Client.InspectContainerWithContext(c.ID, ctx); err != nil {
			return nil, fmt.Errorf("inspect container %s: %w", spec.Name, err)
		}
		m.logger.Info("docker container restarted", slog.String("container_id", c.ID), slog.String("name", spec.Name))
	}
	port, err := boundPort(c, spec.portKey())
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", spec.Name, err)
	}
	return &Handle{
		ID:     c.ID,
		Name:   spec.Name,
		Host:   m.host,
		Port:   port,
		Reused: true,
	}, nil
}

// Lookup returns the container called name without starting it. Port is zero when the container
// is stopped. It returns (nil, nil) when no such container exists.
func (m *DockerManager) Lookup(ctx context.Context, name string) (*Handle, error) {
	c, err := m.pool.Client.InspectContainerWithContext(name, ctx)
	if err != nil {
		var noSuch *docker.NoSuchContainer
		if errors.As(err, &noSuch) {
			return nil, nil
		}
		return nil, fmt.Errorf("inspect container %s: %w", name, err)
	}
	handle := &Handle{ID: c.ID, Name: name, Host: m.host, Reused: true}
	if c.State.Running && c.Config != nil {
		for key := range c.Config.ExposedPorts {
			if port, err := boundPort(c, string(key)); err == nil {
				handle.Port = port
				break
			}
		}
	}
	return handle, nil
}

func boundPort(c *docker.Container, portKey string) (int, error) {
	if c.NetworkSettings == nil {
		return 0, errors.New("container network settings are missing")
	}
	for _, binding := range c.NetworkSettings.Ports[docker.Port(portKey)] {
		if binding.HostPort == "" {
			continue
		}
		port, err := strconv.Atoi(binding.HostPort)
		if err != nil {
			return 0, fmt.Errorf("parse host port %q: %w", binding.HostPort, err)
		}
		return port, nil
	}
	return 0, fmt.Errorf("no host port bound for %s", portKey)
}

// Stop stops the container. Stopping a container that is not running is not an error.
func (m *DockerManager) Stop(ctx context.Context, handle *Handle) error {
	err := m.pool.Client.StopContainerWithContext(handle.ID, defaultStopTimeoutSeconds, ctx)
	if err != nil {
		var notRunning *docker.ContainerNotRunning
		if !errors.As(err, &notRunning) {
			return fmt.Errorf("stop container %s: %w", handle.Name, err)
		}
	}
	m.logger.Info("docker container stopped", slog.String("container_id", handle.ID))
	return nil
}

// Remove force-removes the container and its anonymous volumes.
func (m *DockerManager) Remove(ctx context.Context, handle *Handle) error {
	err := m.pool.Client.RemoveContainer(docker.RemoveContainerOptions{
		ID:            handle.ID,
		Force:         true,
		RemoveVolumes: true,
		Context:       ctx,
	})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", handle.Name, err)
	}
	m.logger.Info("docker container removed", slog.String("container_id", handle.ID))
	return nil
}
