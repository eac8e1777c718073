package mssqlfixture_test

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamstore/mssqlfixture"
	"github.com/streamstore/mssqlfixture/container"
	"github.com/streamstore/mssqlfixture/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// server fakes the container runtime and the master catalog. Every statement sent to master is
// recorded in order.
type server struct {
	mu         sync.Mutex
	port       int
	starts     int
	statements []string
	// failOn makes the first statement with this prefix fail.
	failOn string
	// healthy is the result of every health probe.
	healthy bool
}

func newServer() *server {
	return &server{port: 40000, healthy: true}
}

func (s *server) Start(_ context.Context, spec container.Spec) (*container.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	return &container.Handle{ID: "c1", Name: spec.Name, Host: "127.0.0.1", Port: s.port, Reused: s.starts > 1}, nil
}

func (s *server) Stop(context.Context, *container.Handle) error { return nil }

func (s *server) health(context.Context, *container.Handle) (bool, error) {
	return s.healthy, nil
}

func (s *server) dial(_ context.Context, d database.Descriptor) (database.AdminConn, error) {
	if d.Catalog != database.MasterCatalog || d.Port != s.port {
		return nil, errors.New("unexpected admin descriptor: " + d.String())
	}
	return &adminConn{s: s}, nil
}

func (s *server) Statements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statements...)
}

func (s *server) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

type adminConn struct {
	s *server
}

func (c *adminConn) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.statements = append(c.s.statements, query)
	if c.s.failOn != "" && strings.HasPrefix(query, c.s.failOn) {
		c.s.failOn = ""
		return nil, errors.New("statement failed")
	}
	return nil, nil
}

func (c *adminConn) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not implemented")
}

func (c *adminConn) Close() error { return nil }

type fakeStore struct {
	settings      mssqlfixture.Settings
	schemaCreated int
	closed        int
	schemaErr     error
}

func (s *fakeStore) CreateSchema(context.Context) error {
	s.schemaCreated++
	return s.schemaErr
}

func (s *fakeStore) Close() error {
	s.closed++
	return nil
}

type storeRecorder struct {
	stores    []*fakeStore
	schemaErr error
}

func (r *storeRecorder) factory(_ context.Context, settings mssqlfixture.Settings) (mssqlfixture.Store, error) {
	s := &fakeStore{settings: settings, schemaErr: r.schemaErr}
	r.stores = append(r.stores, s)
	return s, nil
}

func newFixture(t *testing.T, srv *server, r *storeRecorder, opts ...mssqlfixture.Option) *mssqlfixture.Fixture {
	t.Helper()
	base := []mssqlfixture.Option{
		mssqlfixture.WithContainerManager(srv),
		mssqlfixture.WithHealthCheck(srv.health),
		mssqlfixture.WithAdminDialer(srv.dial),
		mssqlfixture.WithPollInterval(10 * time.Millisecond),
	}
	f, err := mssqlfixture.New(r.factory, append(base, opts...)...)
	require.NoError(t, err)
	return f
}

func createStatements(name string) []string {
	q := "[" + name + "]"
	return []string{
		"CREATE DATABASE " + q,
		"ALTER DATABASE " + q + " SET SINGLE_USER",
		"ALTER DATABASE " + q + " SET COMPATIBILITY_LEVEL=110",
		"ALTER DATABASE " + q + " SET MULTI_USER",
	}
}

func dropStatements(name string) []string {
	q := "[" + name + "]"
	return []string{
		"ALTER DATABASE " + q + " SET SINGLE_USER WITH ROLLBACK IMMEDIATE",
		"DROP DATABASE " + q,
	}
}

func TestFixtureLifecycle(t *testing.T) {
	t.Parallel()

	srv := newServer()
	r := new(storeRecorder)
	fixedNow := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, srv, r,
		mssqlfixture.WithSchema("foo"),
		mssqlfixture.WithClock(func() time.Time { return fixedNow }),
		mssqlfixture.WithDisableDeletionTracking(true),
	)
	require.True(t, f.OwnsDatabase())
	require.True(t, strings.HasPrefix(f.DatabaseName(), "sss-v3-"))
	require.Equal(t, mssqlfixture.StateCreated, f.State())
	require.Zero(t, srv.Starts(), "New must not have side effects")

	store, err := f.Acquire(t.Context())
	require.NoError(t, err)
	require.Equal(t, mssqlfixture.StateReady, f.State())
	require.Len(t, r.stores, 1)
	require.Same(t, r.stores[0], store)
	require.Equal(t, 1, r.stores[0].schemaCreated)
	require.Equal(t, createStatements(f.DatabaseName()), srv.Statements())

	settings := r.stores[0].settings
	require.Equal(t, "foo", settings.Schema)
	require.True(t, settings.DisableDeletionTracking)
	require.Equal(t, fixedNow, settings.Now())
	require.NotNil(t, settings.Open)
	u, err := url.Parse(settings.ConnectionString)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:40000", u.Host)
	require.Equal(t, f.DatabaseName(), u.Query().Get("database"))
	require.Equal(t, "true", u.Query().Get("MultipleActiveResultSets"))
	connStr, err := f.ConnectionString()
	require.NoError(t, err)
	require.Equal(t, settings.ConnectionString, connStr)
	require.Equal(t, 40000, f.Master().Port)
	require.Equal(t, database.MasterCatalog, f.Master().Catalog)

	require.NoError(t, f.Close(t.Context()))
	require.Equal(t, mssqlfixture.StateDisposed, f.State())
	require.Equal(t, 1, r.stores[0].closed)
	want := append(createStatements(f.DatabaseName()), dropStatements(f.DatabaseName())...)
	require.Equal(t, want, srv.Statements())

	// Closing again is a no-op.
	require.NoError(t, f.Close(t.Context()))
	require.Equal(t, want, srv.Statements())
	require.Equal(t, 1, r.stores[0].closed)

	// No resurrection.
	_, err = f.Acquire(t.Context())
	require.ErrorIs(t, err, mssqlfixture.ErrDisposed)
}

func TestFixtureCloseWithoutAcquire(t *testing.T) {
	t.Parallel()

	srv := newServer()
	f := newFixture(t, srv, new(storeRecorder))
	require.NoError(t, f.Close(t.Context()))
	require.NoError(t, f.Close(t.Context()))
	require.Empty(t, srv.Statements())
	require.Zero(t, srv.Starts())
	require.Equal(t, mssqlfixture.StateDisposed, f.State())
}

func TestFixtureOverride(t *testing.T) {
	t.Parallel()

	srv := newServer()
	r := new(storeRecorder)
	f := newFixture(t, srv, r, mssqlfixture.WithDatabaseName("shared-db"))
	require.False(t, f.OwnsDatabase())
	require.Equal(t, "shared-db", f.DatabaseName())

	_, err := f.Acquire(t.Context())
	require.NoError(t, err)
	require.Zero(t, srv.Starts(), "override must not start the container")
	require.Empty(t, srv.Statements(), "override must not create the database")
	u, err := url.Parse(r.stores[0].settings.ConnectionString)
	require.NoError(t, err)
	require.Equal(t, "shared-db", u.Query().Get("database"))
	require.Equal(t, "localhost:11433", u.Host)

	require.NoError(t, f.Close(t.Context()))
	require.Empty(t, srv.Statements(), "override must not drop the database")
	require.Equal(t, 1, r.stores[0].closed)
}

func TestFixtureTimeout(t *testing.T) {
	t.Parallel()

	srv := newServer()
	srv.healthy = false
	r := new(storeRecorder)
	f := newFixture(t, srv, r, mssqlfixture.WithStartupTimeout(200*time.Millisecond))

	_, err := f.Acquire(t.Context())
	require.ErrorIs(t, err, container.ErrTimeout)
	require.Equal(t, mssqlfixture.StateFailed, f.State())
	require.Empty(t, r.stores)

	// A failed fixture stays failed.
	_, err = f.Acquire(t.Context())
	require.ErrorIs(t, err, mssqlfixture.ErrFailed)
	require.ErrorIs(t, err, container.ErrTimeout)

	// Nothing was created, so nothing is dropped.
	require.NoError(t, f.Close(t.Context()))
	require.Empty(t, srv.Statements())
	require.Equal(t, mssqlfixture.StateDisposed, f.State())
}

func TestFixtureCancelled(t *testing.T) {
	t.Parallel()

	srv := newServer()
	srv.healthy = false
	f := newFixture(t, srv, new(storeRecorder))
	ctx, cancel := context.WithCancel(t.Context())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := f.Acquire(ctx)
	require.ErrorIs(t, err, container.ErrCancelled)
	require.NotErrorIs(t, err, container.ErrTimeout)
	require.NoError(t, f.Close(t.Context()))
}

func TestFixturePartialFailures(t *testing.T) {
	t.Parallel()

	t.Run("create_fails", func(t *testing.T) {
		t.Parallel()
		srv := newServer()
		srv.failOn = "CREATE DATABASE"
		f := newFixture(t, srv, new(storeRecorder))
		_, err := f.Acquire(t.Context())
		require.ErrorIs(t, err, database.ErrDB)
		require.NoError(t, f.Close(t.Context()))
		require.Equal(t, []string{"CREATE DATABASE [" + f.DatabaseName() + "]"}, srv.Statements())
	})
	t.Run("alter_fails_after_create", func(t *testing.T) {
		t.Parallel()
		srv := newServer()
		srv.failOn = "ALTER DATABASE [sss-v3-"
		f := newFixture(t, srv, new(storeRecorder))
		_, err := f.Acquire(t.Context())
		require.ErrorIs(t, err, database.ErrDB)
		require.Equal(t, mssqlfixture.StateFailed, f.State())
		require.NoError(t, f.Close(t.Context()))
		// The database exists, so Close still drops it.
		statements := srv.Statements()
		require.Equal(t, dropStatements(f.DatabaseName()), statements[len(statements)-2:])
	})
	t.Run("schema_fails", func(t *testing.T) {
		t.Parallel()
		srv := newServer()
		r := &storeRecorder{schemaErr: errors.New("no permission")}
		f := newFixture(t, srv, r)
		_, err := f.Acquire(t.Context())
		require.ErrorContains(t, err, "no permission")
		require.Equal(t, 1, r.stores[0].closed, "store must be closed when its schema fails")
		require.NoError(t, f.Close(t.Context()))
		require.Equal(t, 1, r.stores[0].closed, "failed store is not handed out, so not closed twice")
		statements := srv.Statements()
		require.Equal(t, dropStatements(f.DatabaseName()), statements[len(statements)-2:])
	})
	t.Run("drop_fails", func(t *testing.T) {
		t.Parallel()
		srv := newServer()
		r := new(storeRecorder)
		f := newFixture(t, srv, r)
		_, err := f.Acquire(t.Context())
		require.NoError(t, err)
		srv.mu.Lock()
		srv.failOn = "DROP DATABASE"
		srv.mu.Unlock()
		err = f.Close(t.Context())
		require.ErrorIs(t, err, database.ErrDB)
		require.Equal(t, mssqlfixture.StateDisposed, f.State())
		require.Equal(t, 1, r.stores[0].closed)
		require.NoError(t, f.Close(t.Context()))
	})
}

func TestFixtureRepeatedAcquire(t *testing.T) {
	t.Parallel()

	srv := newServer()
	r := new(storeRecorder)
	f := newFixture(t, srv, r)
	_, err := f.Acquire(t.Context())
	require.NoError(t, err)
	_, err = f.AcquireSchema(t.Context(), "bar")
	require.NoError(t, err)
	uninitialized, err := f.AcquireUninitialized(t.Context())
	require.NoError(t, err)

	require.Len(t, r.stores, 3)
	assert.Equal(t, mssqlfixture.DefaultSchema, r.stores[0].settings.Schema)
	assert.Equal(t, "bar", r.stores[1].settings.Schema)
	assert.Equal(t, 1, r.stores[1].schemaCreated)
	assert.Zero(t, uninitialized.(*fakeStore).schemaCreated)
	// The database is created once.
	assert.Equal(t, createStatements(f.DatabaseName()), srv.Statements())
	assert.Equal(t, 1, srv.Starts())

	_, err = f.AcquireSchema(t.Context(), " ")
	require.Error(t, err)

	require.NoError(t, f.Close(t.Context()))
	for _, s := range r.stores {
		assert.Equal(t, 1, s.closed)
	}
}

// gatedServer blocks Start until release is closed.
type gatedServer struct {
	*server
	started chan struct{}
	release chan struct{}
}

func (g *gatedServer) Start(ctx context.Context, spec container.Spec) (*container.Handle, error) {
	close(g.started)
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.server.Start(ctx, spec)
}

func TestFixtureCloseDuringAcquire(t *testing.T) {
	t.Parallel()

	srv := newServer()
	gated := &gatedServer{server: srv, started: make(chan struct{}), release: make(chan struct{})}
	r := new(storeRecorder)
	f := newFixture(t, srv, r, mssqlfixture.WithContainerManager(gated))

	type result struct {
		store mssqlfixture.Store
		err   error
	}
	done := make(chan result, 1)
	go func() {
		store, err := f.Acquire(t.Context())
		done <- result{store, err}
	}()
	<-gated.started

	require.ErrorIs(t, f.Close(t.Context()), mssqlfixture.ErrBusy)
	require.Equal(t, mssqlfixture.StateProvisioning, f.State())
	require.Empty(t, srv.Statements())

	close(gated.release)
	res := <-done
	require.NoError(t, res.err)
	require.NotNil(t, res.store)
	require.Equal(t, mssqlfixture.StateReady, f.State())

	require.NoError(t, f.Close(t.Context()))
	require.Equal(t, mssqlfixture.StateDisposed, f.State())
	require.Equal(t, 1, r.stores[0].closed)
	want := append(createStatements(f.DatabaseName()), dropStatements(f.DatabaseName())...)
	require.Equal(t, want, srv.Statements())
}

func TestFixtureKeepDatabase(t *testing.T) {
	t.Parallel()

	srv := newServer()
	f := newFixture(t, srv, new(storeRecorder), mssqlfixture.WithKeepDatabase(true))
	_, err := f.Acquire(t.Context())
	require.NoError(t, err)
	require.NoError(t, f.Close(t.Context()))
	require.Equal(t, createStatements(f.DatabaseName()), srv.Statements())
}

func TestFixtureCloseWithCancelledContext(t *testing.T) {
	t.Parallel()

	srv := newServer()
	f := newFixture(t, srv, new(storeRecorder))
	_, err := f.Acquire(t.Context())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, f.Close(ctx))
	statements := srv.Statements()
	require.Equal(t, dropStatements(f.DatabaseName()), statements[len(statements)-2:])
}

func TestStart(t *testing.T) {
	t.Parallel()

	srv := newServer()
	r := new(storeRecorder)
	var name string
	t.Run("test", func(t *testing.T) {
		f, store := mssqlfixture.Start(t, r.factory,
			mssqlfixture.WithContainerManager(srv),
			mssqlfixture.WithHealthCheck(srv.health),
			mssqlfixture.WithAdminDialer(srv.dial),
		)
		require.NotNil(t, store)
		name = f.DatabaseName()
		require.Equal(t, createStatements(name), srv.Statements())
	})
	// Cleanup ran when the subtest finished.
	want := append(createStatements(name), dropStatements(name)...)
	require.Equal(t, want, srv.Statements())
	require.Equal(t, 1, r.stores[0].closed)
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := mssqlfixture.New(nil)
	require.Error(t, err)

	r := new(storeRecorder)
	tests := []struct {
		name string
		opt  mssqlfixture.Option
	}{
		{name: "empty_override", opt: mssqlfixture.WithDatabaseName("")},
		{name: "empty_schema", opt: mssqlfixture.WithSchema("")},
		{name: "nil_clock", opt: mssqlfixture.WithClock(nil)},
		{name: "zero_timeout", opt: mssqlfixture.WithStartupTimeout(0)},
		{name: "nil_manager", opt: mssqlfixture.WithContainerManager(nil)},
		{name: "invalid_config", opt: mssqlfixture.WithConfig(mssqlfixture.Config{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := mssqlfixture.New(r.factory, tt.opt)
			require.Error(t, err)
		})
	}
}

func TestGeneratedNamesAreDistinct(t *testing.T) {
	t.Parallel()

	r := new(storeRecorder)
	seen := make(map[string]bool)
	for range 1000 {
		f, err := mssqlfixture.New(r.factory)
		require.NoError(t, err)
		require.False(t, seen[f.DatabaseName()])
		seen[f.DatabaseName()] = true
	}
}
