package database

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig is returned when a descriptor or connection string is malformed. It is never
	// retried.
	ErrConfig = errors.New("invalid database configuration")

	// ErrDB is returned when administrative SQL fails.
	ErrDB = errors.New("database administration failed")
)

// ConfigError describes a malformed descriptor.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid " + e.Field + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}
	return []error{ErrConfig, e.Err}
}

// Operation names recorded on a DBError.
const (
	OpConnect = "connect"
	OpCreate  = "create database"
	OpAlter   = "alter database"
	OpDrop    = "drop database"
	OpQuery   = "query"
)

// DBError is returned when a statement against the master catalog fails.
type DBError struct {
	Op       string
	Database string
	// Query is the statement that failed, empty for OpConnect.
	Query string
	Err   error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Database, e.Err)
}

func (e *DBError) Unwrap() []error {
	return []error{ErrDB, e.Err}
}

// CatalogCreated reports whether err was returned by [Provisioner.CreateDatabase] after the
// CREATE DATABASE statement itself had succeeded, meaning the catalog exists and must still be
// dropped.
func CatalogCreated(err error) bool {
	var dbErr *DBError
	if !errors.As(err, &dbErr) {
		return false
	}
	return dbErr.Op == OpAlter
}
