package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/streamstore/mssqlfixture/internal/dbname"
	"go.uber.org/multierr"
)

// DefaultCompatibilityLevel is the compatibility level every created database is pinned to
// (SQL Server 2012).
const DefaultCompatibilityLevel = 110

// AdminConn is a connection to the master catalog. It is satisfied by *sql.DB.
type AdminConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Dialer opens an administrative connection to the server described by master.
type Dialer func(ctx context.Context, master Descriptor) (AdminConn, error)

// DialMaster is the default Dialer. It opens a single-connection pool to the master catalog and
// pings it so connection failures surface here rather than on the first statement.
func DialMaster(ctx context.Context, master Descriptor) (AdminConn, error) {
	db, err := openDB(master.Master())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(
			&DBError{Op: OpConnect, Database: MasterCatalog, Err: err},
			db.Close(),
		)
	}
	return db, nil
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithDialer replaces the function used to open administrative connections.
func WithDialer(d Dialer) ProvisionerOption {
	return func(p *Provisioner) { p.dial = d }
}

// WithPools sets the registry cleared before a database is dropped.
func WithPools(pools *Pools) ProvisionerOption {
	return func(p *Provisioner) { p.pools = pools }
}

// WithCompatibilityLevel overrides DefaultCompatibilityLevel.
func WithCompatibilityLevel(level int) ProvisionerOption {
	return func(p *Provisioner) { p.compatibilityLevel = level }
}

// WithLogger sets the provisioner logger.
func WithLogger(logger *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = logger }
}

// Provisioner creates and force-drops databases by issuing DDL against the master catalog.
//
// Callers must guarantee a single owner per database name; concurrent create and drop of the
// same name is a race the provisioner does not guard against.
type Provisioner struct {
	dial               Dialer
	pools              *Pools
	compatibilityLevel int
	logger             *slog.Logger
}

// NewProvisioner returns a Provisioner using DialMaster and an empty Pools registry unless
// overridden.
func NewProvisioner(opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		dial:               DialMaster,
		compatibilityLevel: DefaultCompatibilityLevel,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.pools == nil {
		p.pools = new(Pools)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p.logger = p.logger.With(slog.String("logger", "provisioner"))
	return p
}

// CreateDatabase creates name and pins its compatibility level. The database is switched to
// single-user mode while the level is set so the server's own background connections cannot
// race the change, then returned to multi-user mode.
func (p *Provisioner) CreateDatabase(ctx context.Context, master Descriptor, name string) error {
	if err := dbname.Validate(name); err != nil {
		return &ConfigError{Field: "database name", Reason: err.Error()}
	}
	q := QuoteIdentifier(name)
	return p.exec(ctx, master, name, []statement{
		{op: OpCreate, query: "CREATE DATABASE " + q},
		{op: OpAlter, query: "ALTER DATABASE " + q + " SET SINGLE_USER"},
		{op: OpAlter, query: fmt.Sprintf("ALTER DATABASE %s SET COMPATIBILITY_LEVEL=%d", q, p.compatibilityLevel)},
		{op: OpAlter, query: "ALTER DATABASE " + q + " SET MULTI_USER"},
	}, "database created")
}

// DropDatabase drops name. Pooled connections held by this process are closed first, then every
// other session is rolled back by switching to single-user mode, and only then is the database
// dropped. The order matters: tests routinely leave connections open and a plain DROP fails while
// the database is in use.
func (p *Provisioner) DropDatabase(ctx context.Context, master Descriptor, name string) error {
	if err := dbname.Validate(name); err != nil {
		return &ConfigError{Field: "database name", Reason: err.Error()}
	}
	if err := p.pools.Clear(name); err != nil {
		p.logger.Warn(
			"close pooled connections",
			slog.String("database", name),
			slog.Any("error", err),
		)
	}
	q := QuoteIdentifier(name)
	return p.exec(ctx, master, name, []statement{
		{op: OpAlter, query: "ALTER DATABASE " + q + " SET SINGLE_USER WITH ROLLBACK IMMEDIATE"},
		{op: OpDrop, query: "DROP DATABASE " + q},
	}, "database dropped")
}

// DatabaseExists reports whether a database called name exists on the server.
func (p *Provisioner) DatabaseExists(ctx context.Context, master Descriptor, name string) (bool, error) {
	names, err := p.query(ctx, master, name,
		`SELECT name FROM sys.databases WHERE name = @p1`, name)
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// ListDatabases returns the names of all databases starting with prefix, sorted.
func (p *Provisioner) ListDatabases(ctx context.Context, master Descriptor, prefix string) ([]string, error) {
	return p.query(ctx, master, prefix,
		`SELECT name FROM sys.databases WHERE name LIKE @p1 ESCAPE '\' ORDER BY name`,
		escapeLike(prefix)+"%",
	)
}

type statement struct {
	op    string
	query string
}

func (p *Provisioner) exec(ctx context.Context, master Descriptor, name string, stmts []statement, msg string) error {
	conn, err := p.dial(ctx, master.Master())
	if err != nil {
		return err
	}
	defer p.close(conn)

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt.query); err != nil {
			return &DBError{Op: stmt.op, Database: name, Query: stmt.query, Err: err}
		}
	}
	p.logger.Info(msg, slog.String("database", name), slog.String("server", master.Master().String()))
	return nil
}

func (p *Provisioner) query(ctx context.Context, master Descriptor, name, query string, args ...any) (_ []string, retErr error) {
	conn, err := p.dial(ctx, master.Master())
	if err != nil {
		return nil, err
	}
	defer p.close(conn)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &DBError{Op: OpQuery, Database: name, Query: query, Err: err}
	}
	defer func() {
		retErr = multierr.Append(retErr, rows.Close())
	}()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, &DBError{Op: OpQuery, Database: name, Query: query, Err: err}
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, &DBError{Op: OpQuery, Database: name, Query: query, Err: err}
	}
	return names, nil
}

// close logs rather than returns: the statements already ran, and a failed close must not make a
// created database look uncreated.
func (p *Provisioner) close(conn AdminConn) {
	if err := conn.Close(); err != nil {
		p.logger.Warn("close admin connection", slog.Any("error", err))
	}
}

// QuoteIdentifier quotes name as a bracket-delimited T-SQL identifier.
func QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`, `[`, `\[`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
