package mssqlfixture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/streamstore/mssqlfixture/container"
	"github.com/streamstore/mssqlfixture/database"
	"github.com/streamstore/mssqlfixture/internal/dbname"
)

// DefaultSchema is the schema stores are created in unless WithSchema is given.
const DefaultSchema = "dbo"

// Option configures a Fixture.
type Option interface {
	apply(*config) error
}

type optionFunc func(*config) error

func (f optionFunc) apply(cfg *config) error {
	return f(cfg)
}

type config struct {
	Config

	databaseName            string
	schema                  string
	now                     func() time.Time
	disableDeletionTracking bool
	compatibilityLevel      int
	logger                  *slog.Logger

	manager container.Manager
	health  container.HealthFunc
	dialer  database.Dialer
	pools   *database.Pools
}

func defaultConfig() *config {
	return &config{
		Config:             DefaultConfig(),
		schema:             DefaultSchema,
		now:                func() time.Time { return time.Now().UTC() },
		compatibilityLevel: database.DefaultCompatibilityLevel,
	}
}

// WithConfig replaces the server configuration, typically with the result of LoadConfig.
func WithConfig(c Config) Option {
	return optionFunc(func(cfg *config) error {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		cfg.Config = c
		return nil
	})
}

// WithDatabaseName uses an existing database owned by the caller instead of creating one. The
// fixture neither starts the container, creates the database nor drops it.
func WithDatabaseName(name string) Option {
	return optionFunc(func(cfg *config) error {
		if err := dbname.Validate(name); err != nil {
			return err
		}
		cfg.databaseName = name
		return nil
	})
}

// WithSchema sets the schema passed to the store. Defaults to DefaultSchema.
func WithSchema(schema string) Option {
	return optionFunc(func(cfg *config) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("schema must not be empty")
		}
		cfg.schema = schema
		return nil
	})
}

// WithClock sets the clock passed to the store. Defaults to time.Now in UTC.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(cfg *config) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		cfg.now = now
		return nil
	})
}

// WithDisableDeletionTracking sets the store's deletion-tracking feature flag.
func WithDisableDeletionTracking(b bool) Option {
	return optionFunc(func(cfg *config) error {
		cfg.disableDeletionTracking = b
		return nil
	})
}

// WithKeepDatabase leaves the fixture's own database in place on Close.
func WithKeepDatabase(b bool) Option {
	return optionFunc(func(cfg *config) error {
		cfg.KeepDatabase = b
		return nil
	})
}

// WithStartupTimeout bounds container start plus the wait for health.
func WithStartupTimeout(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("startup timeout must be positive: %v", d)
		}
		cfg.StartupTimeout = d
		return nil
	})
}

// WithPollInterval sets the delay between health probes.
func WithPollInterval(d time.Duration) Option {
	return optionFunc(func(cfg *config) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive: %v", d)
		}
		cfg.PollInterval = d
		return nil
	})
}

// WithCompatibilityLevel overrides the compatibility level new databases are pinned to.
func WithCompatibilityLevel(level int) Option {
	return optionFunc(func(cfg *config) error {
		if level <= 0 {
			return fmt.Errorf("compatibility level must be positive: %d", level)
		}
		cfg.compatibilityLevel = level
		return nil
	})
}

// WithLogger sets the logger shared by the fixture and its components.
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(cfg *config) error {
		cfg.logger = logger
		return nil
	})
}

// WithContainerManager replaces the Docker-backed container manager.
func WithContainerManager(m container.Manager) Option {
	return optionFunc(func(cfg *config) error {
		if m == nil {
			return errors.New("container manager must not be nil")
		}
		cfg.manager = m
		return nil
	})
}

// WithHealthCheck replaces the SQL health probe run against the container.
func WithHealthCheck(fn container.HealthFunc) Option {
	return optionFunc(func(cfg *config) error {
		if fn == nil {
			return errors.New("health check must not be nil")
		}
		cfg.health = fn
		return nil
	})
}

// WithAdminDialer replaces the function used to open administrative connections.
func WithAdminDialer(d database.Dialer) Option {
	return optionFunc(func(cfg *config) error {
		if d == nil {
			return errors.New("admin dialer must not be nil")
		}
		cfg.dialer = d
		return nil
	})
}

// WithPools shares a connection pool registry between fixtures.
func WithPools(pools *database.Pools) Option {
	return optionFunc(func(cfg *config) error {
		if pools == nil {
			return errors.New("pools must not be nil")
		}
		cfg.pools = pools
		return nil
	})
}
