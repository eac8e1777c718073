package mssqlfixture

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Store is the store under test, as far as the fixture is concerned.
type Store interface {
	// CreateSchema creates the store's schema objects in the database.
	CreateSchema(ctx context.Context) error
	// Close releases the store's resources. The fixture calls it before dropping the database.
	Close() error
}

// StoreFactory builds a store bound to the fixture's database.
type StoreFactory func(ctx context.Context, settings Settings) (Store, error)

// Settings is what a StoreFactory receives.
type Settings struct {
	// ConnectionString targets the fixture's database with multiple active result sets enabled.
	ConnectionString string
	// Schema is the schema the store creates its objects in.
	Schema string
	// Now is the store's clock.
	Now func() time.Time
	// DisableDeletionTracking is a store feature flag passed through unchanged.
	DisableDeletionTracking bool
	// Open opens a connection pool to the fixture's database. Pools opened this way are closed
	// by the fixture before the database is dropped; stores should prefer it over opening their
	// own.
	Open func(ctx context.Context) (*sql.DB, error)
	Logger *slog.Logger
}
