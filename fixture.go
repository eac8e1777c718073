package mssqlfixture

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/streamstore/mssqlfixture/container"
	"github.com/streamstore/mssqlfixture/database"
	"github.com/streamstore/mssqlfixture/internal/dbname"
	"go.uber.org/multierr"
)

// Fixture provisions one disposable database for a test and drops it on Close.
//
// A Fixture is single-use and meant to be driven by one test: Acquire and Close must not be
// called concurrently.
type Fixture struct {
	cfg         *config
	factory     StoreFactory
	name        string
	owned       bool
	provisioner *database.Provisioner
	logger      *slog.Logger

	mu      sync.Mutex
	state   State
	failure error
	// created is set once CREATE DATABASE succeeded, even if a later step failed.
	created bool
	server  database.Descriptor
	stores  []Store
}

// New returns a fixture in the Created state. It has no side effects: no container is started
// and no database is created until Acquire.
func New(factory StoreFactory, opts ...Option) (*Fixture, error) {
	if factory == nil {
		return nil, errors.New("store factory must not be nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.pools == nil {
		cfg.pools = new(database.Pools)
	}

	name, owned := cfg.databaseName, false
	if name == "" {
		name, owned = dbname.Generate(cfg.DatabasePrefix), true
		if err := dbname.Validate(name); err != nil {
			return nil, fmt.Errorf("database prefix %q: %w", cfg.DatabasePrefix, err)
		}
	}
	logger := cfg.logger.With(slog.String("logger", "fixture"), slog.String("database", name))

	provisionerOpts := []database.ProvisionerOption{
		database.WithPools(cfg.pools),
		database.WithCompatibilityLevel(cfg.compatibilityLevel),
		database.WithLogger(cfg.logger),
	}
	if cfg.dialer != nil {
		provisionerOpts = append(provisionerOpts, database.WithDialer(cfg.dialer))
	}
	return &Fixture{
		cfg:         cfg,
		factory:     factory,
		name:        name,
		owned:       owned,
		provisioner: database.NewProvisioner(provisionerOpts...),
		logger:      logger,
		state:       StateCreated,
		server:      cfg.server(),
	}, nil
}

// DatabaseName returns the name of the fixture's database.
func (f *Fixture) DatabaseName() string {
	return f.name
}

// OwnsDatabase reports whether the fixture creates and drops its database, which is the case
// unless WithDatabaseName was given.
func (f *Fixture) OwnsDatabase() bool {
	return f.owned
}

// State returns the current lifecycle state.
func (f *Fixture) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Master returns the descriptor of the server's master catalog. Before Acquire it points at the
// configured host port; afterwards at the port of the running container.
func (f *Fixture) Master() database.Descriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server.Master()
}

// ConnectionString returns the connection string of the fixture's database. Before Acquire it
// points at the configured host port; afterwards at the port of the running container.
func (f *Fixture) ConnectionString() (string, error) {
	f.mu.Lock()
	server := f.server
	f.mu.Unlock()
	return server.Scoped(f.name).ConnectionString()
}

// Acquire provisions the database on first use and returns a store with its schema created.
// Further calls reuse the database and return a new store.
func (f *Fixture) Acquire(ctx context.Context) (Store, error) {
	return f.acquire(ctx, f.cfg.schema, true)
}

// AcquireSchema is Acquire with a store bound to schema instead of the configured one.
func (f *Fixture) AcquireSchema(ctx context.Context, schema string) (Store, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return nil, errors.New("schema must not be empty")
	}
	return f.acquire(ctx, schema, true)
}

// AcquireUninitialized provisions the database and returns a store whose schema has not been
// created.
func (f *Fixture) AcquireUninitialized(ctx context.Context) (Store, error) {
	return f.acquire(ctx, f.cfg.schema, false)
}

func (f *Fixture) acquire(ctx context.Context, schema string, createSchema bool) (Store, error) {
	f.mu.Lock()
	prev := f.state
	switch prev {
	case StateDisposed:
		f.mu.Unlock()
		return nil, ErrDisposed
	case StateFailed:
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", ErrFailed, f.failure)
	case StateProvisioning:
		f.mu.Unlock()
		return nil, ErrBusy
	}
	f.state = StateProvisioning
	f.mu.Unlock()

	var err error
	if prev == StateCreated && f.owned {
		err = f.provision(ctx)
	}
	var store Store
	if err == nil {
		store, err = f.openStore(ctx, schema, createSchema)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateFailed
		f.failure = err
		f.logger.Error("acquire failed", slog.Any("error", err))
		return nil, err
	}
	f.state = StateReady
	f.stores = append(f.stores, store)
	f.logger.Info("store ready", slog.String("schema", schema))
	return store, nil
}

// provision ensures the shared container runs and creates the fixture's database in it.
func (f *Fixture) provision(ctx context.Context) error {
	manager := f.cfg.manager
	if manager == nil {
		m, err := container.NewDockerManager(f.cfg.DockerEndpoint, f.cfg.logger)
		if err != nil {
			return err
		}
		manager = m
	}
	health := f.cfg.health
	if health == nil {
		health = func(ctx context.Context, h *container.Handle) (bool, error) {
			return database.CheckHealth(ctx, f.serverAt(h))
		}
	}
	orchestrator, err := container.NewOrchestrator(
		manager,
		health,
		container.WithPollInterval(f.cfg.PollInterval),
		container.WithLogger(f.cfg.logger),
	)
	if err != nil {
		return err
	}
	handle, err := orchestrator.EnsureRunning(ctx, f.cfg.ContainerSpec(), f.cfg.StartupTimeout)
	if err != nil {
		return err
	}

	server := f.serverAt(handle)
	f.mu.Lock()
	f.server = server
	f.mu.Unlock()

	if err := f.provisioner.CreateDatabase(ctx, server, f.name); err != nil {
		if database.CatalogCreated(err) {
			f.markCreated()
		}
		return err
	}
	f.markCreated()
	return nil
}

func (f *Fixture) markCreated() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = true
}

func (f *Fixture) serverAt(h *container.Handle) database.Descriptor {
	server := f.cfg.server()
	server.Host = h.Host
	server.Port = h.Port
	return server
}

func (f *Fixture) openStore(ctx context.Context, schema string, createSchema bool) (Store, error) {
	f.mu.Lock()
	scoped := f.server.Scoped(f.name)
	f.mu.Unlock()

	connStr, err := scoped.ConnectionString()
	if err != nil {
		return nil, err
	}
	store, err := f.factory(ctx, Settings{
		ConnectionString:        connStr,
		Schema:                  schema,
		Now:                     f.cfg.now,
		DisableDeletionTracking: f.cfg.disableDeletionTracking,
		Open: func(ctx context.Context) (*sql.DB, error) {
			return f.cfg.pools.Open(ctx, scoped)
		},
		Logger: f.cfg.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create store: %w", err)
	}
	if store == nil {
		return nil, errors.New("create store: factory returned nil store")
	}
	if !createSchema {
		return store, nil
	}
	if err := store.CreateSchema(ctx); err != nil {
		return nil, multierr.Append(
			fmt.Errorf("create schema %q: %w", schema, err),
			store.Close(),
		)
	}
	return store, nil
}

// Close closes every store handed out and, when the fixture owns its database, force-drops it.
//
// Close is best-effort: every step runs even if an earlier one failed, errors are logged and
// returned together, and the fixture always ends Disposed. It never drops a database it did not
// create, so it is safe to call before Acquire, after a failed Acquire, and more than once.
//
// Close does not wait for an Acquire in flight. It returns ErrBusy and leaves the fixture as it
// was; call it again once Acquire has returned.
func (f *Fixture) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateDisposed:
		return nil
	case StateProvisioning:
		return ErrBusy
	}
	defer func() {
		f.state = StateDisposed
	}()
	// Cleanup must still run when the test's context is already done.
	ctx = context.WithoutCancel(ctx)

	var err error
	for _, store := range f.stores {
		err = multierr.Append(err, store.Close())
	}
	f.stores = nil
	if clearErr := f.cfg.pools.Clear(f.name); clearErr != nil {
		err = multierr.Append(err, fmt.Errorf("close pooled connections: %w", clearErr))
	}

	switch {
	case !f.owned, !f.created:
	case f.cfg.KeepDatabase:
		f.logger.Info("keeping database", slog.String("server", f.server.String()))
	default:
		if dropErr := f.provisioner.DropDatabase(ctx, f.server, f.name); dropErr != nil {
			err = multierr.Append(err, dropErr)
		}
	}
	if err != nil {
		f.logger.Error("close fixture", slog.Any("error", err))
	}
	return err
}
