// Package mssqlstore is a minimal SQL Server stream store schema used to exercise the fixture end
// to end. Its schema is a set of goose migrations applied into a per-store schema.
package mssqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pressly/goose/v3"
	goosedb "github.com/pressly/goose/v3/database"
	"github.com/streamstore/mssqlfixture"
)

// VersionTable is the goose version table created in the store's schema.
const VersionTable = "goose_db_version"

var schemaRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,127}$`)

// Store is a stream store bound to one schema of a database.
type Store struct {
	schema           string
	now              func() time.Time
	deletionTracking bool
	logger           *slog.Logger

	db *sql.DB
	// ownsDB is set when the pool was opened from the connection string rather than handed out
	// by the fixture.
	ownsDB bool
}

var _ mssqlfixture.Store = (*Store)(nil)

// Factory is a mssqlfixture.StoreFactory building a *Store.
func Factory(ctx context.Context, settings mssqlfixture.Settings) (mssqlfixture.Store, error) {
	return New(ctx, settings)
}

// New opens a store. It prefers settings.Open and falls back to settings.ConnectionString.
func New(ctx context.Context, settings mssqlfixture.Settings) (*Store, error) {
	if !schemaRE.MatchString(settings.Schema) {
		return nil, fmt.Errorf("invalid schema name %q", settings.Schema)
	}
	s := &Store{
		schema:           settings.Schema,
		now:              settings.Now,
		deletionTracking: !settings.DisableDeletionTracking,
		logger:           settings.Logger,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = s.logger.With(slog.String("logger", "mssqlstore"), slog.String("schema", s.schema))

	switch {
	case settings.Open != nil:
		db, err := settings.Open(ctx)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		s.db = db
	case settings.ConnectionString != "":
		connector, err := mssql.NewConnector(settings.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("parse connection string: %w", err)
		}
		s.db, s.ownsDB = sql.OpenDB(connector), true
	default:
		return nil, errors.New("settings carry neither Open nor ConnectionString")
	}
	return s, nil
}

// DB returns the store's connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the schema the store's objects live in.
func (s *Store) Schema() string {
	return s.schema
}

// Now returns the current time from the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// DeletionTracking reports whether deleted stream messages are tracked.
func (s *Store) DeletionTracking() bool {
	return s.deletionTracking
}

// CreateSchema creates the store's schema if missing and applies all pending migrations.
func (s *Store) CreateSchema(ctx context.Context) error {
	const createSchema = `IF SCHEMA_ID(@p1) IS NULL
BEGIN
	DECLARE @stmt NVARCHAR(300) = N'CREATE SCHEMA ' + QUOTENAME(@p1);
	EXEC sp_executesql @stmt;
END`
	if _, err := s.db.ExecContext(ctx, createSchema, s.schema); err != nil {
		return fmt.Errorf("create schema %s: %w", s.schema, err)
	}
	p, err := s.provider()
	if err != nil {
		return err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Debug("migration applied",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// Version returns the highest applied migration version.
func (s *Store) Version(ctx context.Context) (int64, error) {
	p, err := s.provider()
	if err != nil {
		return 0, err
	}
	return p.GetDBVersion(ctx)
}

// Pending reports whether migrations remain to be applied.
func (s *Store) Pending(ctx context.Context) (bool, error) {
	p, err := s.provider()
	if err != nil {
		return false, err
	}
	return p.HasPending(ctx)
}

func (s *Store) provider() (*goose.Provider, error) {
	fsys, err := renderMigrations(s.schema)
	if err != nil {
		return nil, err
	}
	store, err := goosedb.NewStore(goosedb.DialectMSSQL, s.schema+"."+VersionTable)
	if err != nil {
		return nil, err
	}
	return goose.NewProvider(goose.DialectCustom, s.db, fsys,
		goose.WithStore(store),
		goose.WithDisableGlobalRegistry(true),
	)
}

// Close closes the connection pool when the store opened it itself. Pools handed out by the
// fixture are closed by the fixture.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
