package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/streamstore/mssqlfixture"
	"github.com/streamstore/mssqlfixture/container"
	"github.com/streamstore/mssqlfixture/database"
)

// Containers is the container runtime the CLI drives.
type Containers interface {
	container.Manager
	Lookup(ctx context.Context, name string) (*container.Handle, error)
	Remove(ctx context.Context, handle *container.Handle) error
}

// Admin issues database DDL against the server's master catalog.
type Admin interface {
	CreateDatabase(ctx context.Context, master database.Descriptor, name string) error
	DropDatabase(ctx context.Context, master database.Descriptor, name string) error
	ListDatabases(ctx context.Context, master database.Descriptor, prefix string) ([]string, error)
}

var (
	_ Containers = (*container.DockerManager)(nil)
	_ Admin      = (*database.Provisioner)(nil)
)

// state holds the state of the CLI and is passed to each command. It is used to configure the
// output streams and the collaborators commands talk to.
type state struct {
	stdout io.Writer
	stderr io.Writer

	containers Containers
	health     container.HealthFunc
	admin      Admin
}

func newStateWithDefaults(opts ...Options) (*state, error) {
	st := new(state)
	for _, opt := range opts {
		if err := opt.apply(st); err != nil {
			return nil, err
		}
	}
	if st.stdout == nil {
		st.stdout = os.Stdout
	}
	if st.stderr == nil {
		st.stderr = os.Stderr
	}
	return st, nil
}

func (s *state) writeJSON(v any) error {
	enc := json.NewEncoder(s.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// session is what a command works with once flags are parsed: the effective configuration and
// collaborators built from it.
type session struct {
	cfg        mssqlfixture.Config
	logger     *slog.Logger
	containers Containers
	health     container.HealthFunc
	admin      Admin
}

func (s *state) open(root *rootConfig) (*session, error) {
	cfg, err := mssqlfixture.LoadConfig(root.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if root.timeout > 0 {
		cfg.StartupTimeout = root.timeout
	}
	logger := s.newLogger(root)
	sess := &session{
		cfg:        cfg,
		logger:     logger,
		containers: s.containers,
		health:     s.health,
		admin:      s.admin,
	}
	if sess.admin == nil {
		sess.admin = database.NewProvisioner(database.WithLogger(logger))
	}
	if sess.health == nil {
		sess.health = func(ctx context.Context, h *container.Handle) (bool, error) {
			return database.CheckHealth(ctx, sess.serverAt(h))
		}
	}
	return sess, nil
}

func (s *state) newLogger(root *rootConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelWarn}
	if root.verbose {
		opts.Level = slog.LevelDebug
	}
	if root.useJSON {
		return slog.New(slog.NewJSONHandler(s.stderr, opts))
	}
	return slog.New(slog.NewTextHandler(s.stderr, opts))
}

func (s *session) runtime() (Containers, error) {
	if s.containers != nil {
		return s.containers, nil
	}
	m, err := container.NewDockerManager(s.cfg.DockerEndpoint, s.logger)
	if err != nil {
		return nil, err
	}
	s.containers = m
	return m, nil
}

// ensureRunning starts the shared container if needed, waits until the server answers and returns
// its administrative descriptor.
func (s *session) ensureRunning(ctx context.Context) (database.Descriptor, error) {
	containers, err := s.runtime()
	if err != nil {
		return database.Descriptor{}, err
	}
	o, err := container.NewOrchestrator(
		containers,
		s.health,
		container.WithPollInterval(s.cfg.PollInterval),
		container.WithLogger(s.logger),
	)
	if err != nil {
		return database.Descriptor{}, err
	}
	h, err := o.EnsureRunning(ctx, s.cfg.ContainerSpec(), s.cfg.StartupTimeout)
	if err != nil {
		return database.Descriptor{}, err
	}
	return s.serverAt(h).Master(), nil
}

func (s *session) serverAt(h *container.Handle) database.Descriptor {
	return database.Descriptor{
		Host:     h.Host,
		Port:     h.Port,
		User:     s.cfg.User,
		Password: s.cfg.Password,
	}
}
