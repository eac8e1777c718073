package database

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

const (
	// MasterCatalog is the server's administrative database.
	MasterCatalog = "master"

	// DriverName is the database/sql driver name registered by go-mssqldb.
	DriverName = "sqlserver"
)

// Credentials authenticate a SQL login.
type Credentials struct {
	User     string
	Password string
}

// Descriptor describes how to reach one catalog on a SQL Server instance. It is a value type;
// the With/Scoped/Master helpers return modified copies.
type Descriptor struct {
	Host     string
	Port     int
	User     string
	Password string
	// Catalog is the initial database. Empty means the login's default database.
	Catalog string
	// MultipleActiveResultSets asks for several active result sets on one connection.
	MultipleActiveResultSets bool
}

// Master returns the administrative view of d, bound to the master catalog.
func (d Descriptor) Master() Descriptor {
	d.Catalog = MasterCatalog
	d.MultipleActiveResultSets = false
	return d
}

// Scoped returns d bound to catalog with multiple active result sets enabled, the view handed to
// a store under test.
func (d Descriptor) Scoped(catalog string) Descriptor {
	d.Catalog = catalog
	d.MultipleActiveResultSets = true
	return d
}

// Validate reports a *ConfigError when d cannot be turned into a connection string.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Host) == "" {
		return &ConfigError{Field: "host", Reason: "must not be empty"}
	}
	if d.Port <= 0 || d.Port > 65535 {
		return &ConfigError{Field: "port", Reason: "must be in range 1-65535: " + strconv.Itoa(d.Port)}
	}
	if strings.TrimSpace(d.User) == "" {
		return &ConfigError{Field: "user", Reason: "must not be empty"}
	}
	return nil
}

// ConnectionString renders d as a sqlserver:// URL.
func (d Descriptor) ConnectionString() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	query := url.Values{}
	if d.Catalog != "" {
		query.Set("database", d.Catalog)
	}
	if d.MultipleActiveResultSets {
		query.Set("MultipleActiveResultSets", "true")
	}
	u := &url.URL{
		Scheme:   DriverName,
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		RawQuery: query.Encode(),
	}
	return u.String(), nil
}

// String renders d without its password, for logs.
func (d Descriptor) String() string {
	u := &url.URL{
		Scheme: DriverName,
		User:   url.User(d.User),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
	}
	if d.Catalog != "" {
		u.RawQuery = url.Values{"database": {d.Catalog}}.Encode()
	}
	return u.String()
}

// MasterConnectionString returns the connection string used for administrative commands.
func MasterConnectionString(host string, port int, creds Credentials) (string, error) {
	d := Descriptor{
		Host:     host,
		Port:     port,
		User:     creds.User,
		Password: creds.Password,
	}
	return d.Master().ConnectionString()
}
