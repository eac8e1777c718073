package database

import (
	"context"
	"database/sql"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// Pools tracks the connection pools a process holds, keyed by catalog, so they can be closed
// before the catalog is dropped. The zero value is ready to use and safe for concurrent use.
type Pools struct {
	mu        sync.Mutex
	byCatalog map[string][]io.Closer
}

// Open opens a pool for d, verifies it with a ping and registers it under d.Catalog.
func (p *Pools) Open(ctx context.Context, d Descriptor) (*sql.DB, error) {
	db, err := openDB(d)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, multierr.Append(
			&DBError{Op: OpConnect, Database: d.Catalog, Err: err},
			db.Close(),
		)
	}
	p.Register(d.Catalog, db)
	return db, nil
}

// Register adds c to the closers cleared for catalog.
func (p *Pools) Register(catalog string, c io.Closer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byCatalog == nil {
		p.byCatalog = make(map[string][]io.Closer)
	}
	p.byCatalog[catalog] = append(p.byCatalog[catalog], c)
}

// Len returns the number of closers registered for catalog.
func (p *Pools) Len(catalog string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byCatalog[catalog])
}

// Clear closes and forgets every closer registered for catalog.
func (p *Pools) Clear(catalog string) error {
	p.mu.Lock()
	closers := p.byCatalog[catalog]
	delete(p.byCatalog, catalog)
	p.mu.Unlock()

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}
