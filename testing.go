package mssqlfixture

import (
	"context"
	"testing"
)

// Start creates a fixture, acquires a store from it and closes the fixture when the test and
// all its subtests complete. It fails the test immediately if the store cannot be acquired.
func Start(t testing.TB, factory StoreFactory, opts ...Option) (*Fixture, Store) {
	t.Helper()

	f, err := New(factory, opts...)
	if err != nil {
		t.Fatalf("new fixture: %v", err)
	}
	t.Cleanup(func() {
		if err := f.Close(context.Background()); err != nil {
			t.Errorf("close fixture %s: %v", f.DatabaseName(), err)
		}
	})
	store, err := f.Acquire(t.Context())
	if err != nil {
		t.Fatalf("acquire store from fixture %s: %v", f.DatabaseName(), err)
	}
	return f, store
}
