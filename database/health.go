package database

import (
	"context"
	"database/sql"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
)

// DefaultProbeTimeout bounds a single health probe.
const DefaultProbeTimeout = 5 * time.Second

// CheckHealth reports whether the server described by d accepts administrative connections. It
// opens one connection to the master catalog, pings it and closes it.
//
// Failures to dial, log in or ping are expected while the server boots and are reported as
// (false, nil). Only a malformed descriptor is returned as an error, since no amount of waiting
// will fix it.
func CheckHealth(ctx context.Context, d Descriptor) (bool, error) {
	db, err := openDB(d.Master())
	if err != nil {
		return false, err
	}
	defer db.Close()

	probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()
	if err := db.PingContext(probeCtx); err != nil {
		return false, nil
	}
	return true, nil
}

func openDB(d Descriptor) (*sql.DB, error) {
	connStr, err := d.ConnectionString()
	if err != nil {
		return nil, err
	}
	connector, err := mssql.NewConnector(connStr)
	if err != nil {
		return nil, &ConfigError{Field: "connection string", Reason: "cannot be parsed", Err: err}
	}
	return sql.OpenDB(connector), nil
}
