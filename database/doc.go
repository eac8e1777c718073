// Package database talks to the SQL Server instance that hosts disposable test databases.
//
// A [Descriptor] describes how to reach the server and renders connection strings for the
// go-mssqldb driver. [CheckHealth] probes whether the server accepts administrative connections
// yet, classifying transient failures as "not ready" rather than errors. A [Provisioner] issues
// the administrative DDL that creates and force-drops databases against the master catalog.
//
// Connections a process opens to a test database are tracked by [Pools] so they can be closed
// before the database is dropped; SQL Server refuses to drop a database that is in use.
package database
