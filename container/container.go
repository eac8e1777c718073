// Package container starts the shared database server container and waits until it is healthy.
//
// The container runtime is reached through the [Manager] interface; [DockerManager] implements it
// with dockertest. An [Orchestrator] combines a Manager with a [HealthFunc] and enforces an
// overall startup budget.
package container

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Spec identifies the container to run. It is fixed for the lifetime of a fixture.
type Spec struct {
	Image string
	Tag   string
	// Name is the container name. Containers are reused by name across fixtures and processes.
	Name string
	// HostPort is the host port bound to ContainerPort. Zero lets the runtime choose.
	HostPort      int
	ContainerPort int
	// Env holds KEY=VALUE pairs.
	Env    []string
	Labels map[string]string
}

// Reference returns the image reference, image:tag.
func (s Spec) Reference() string {
	if s.Tag == "" {
		return s.Image
	}
	return s.Image + ":" + s.Tag
}

// Validate checks the fields every Manager needs.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Image) == "" {
		return errors.New("image must not be empty")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("container name must not be empty")
	}
	if s.ContainerPort <= 0 || s.ContainerPort > 65535 {
		return fmt.Errorf("container port must be in range 1-65535: %d", s.ContainerPort)
	}
	if s.HostPort < 0 || s.HostPort > 65535 {
		return fmt.Errorf("host port must be in range 0-65535: %d", s.HostPort)
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env must be KEY=VALUE: %q", kv)
		}
	}
	return nil
}

func (s Spec) portKey() string {
	return strconv.Itoa(s.ContainerPort) + "/tcp"
}

func (s Spec) clone() Spec {
	s.Env = slices.Clone(s.Env)
	return s
}

// Handle is a running container and the host address its service port is reachable on.
type Handle struct {
	ID   string
	Name string
	Host string
	Port int
	// Reused is true when the container already existed before Start was called.
	Reused bool
}

// Manager is the container runtime. Start must be idempotent by name: when a container called
// spec.Name exists it is started if stopped and returned, never recreated.
type Manager interface {
	Start(ctx context.Context, spec Spec) (*Handle, error)
	Stop(ctx context.Context, handle *Handle) error
}
