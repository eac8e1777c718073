// Package mssqlfixture provisions disposable SQL Server databases for integration tests.
//
// A [Fixture] starts (or reuses) a shared SQL Server container, waits until it accepts
// connections, creates a uniquely named database in it and hands a [Store] bound to that database
// to the test. [Fixture.Close] closes the store and force-drops the database, disconnecting any
// sessions the test left open.
//
// Typical use from a test:
//
//	func TestAppend(t *testing.T) {
//		_, store := mssqlfixture.Start(t, mssqlstore.Factory, mssqlfixture.WithSchema("foo"))
//		...
//	}
//
// Concurrent tests each get their own database inside the one container. The container is found
// by name, so it is also shared between test processes and left running afterwards; stop it with
// the mssqlfixture command's down subcommand.
package mssqlfixture
