package mssqlstore

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"testing/fstest"

	"github.com/mfridman/interpolate"
	"github.com/streamstore/mssqlfixture/database"
)

//go:embed migrations/*.sql
var migrations embed.FS

// schemaVar is replaced with the quoted schema name in every migration.
const schemaVar = "SCHEMA"

// vars is the interpolation environment of a migration. Lookups of unknown variables are
// recorded so a typo fails the render instead of producing an empty identifier.
type vars struct {
	values  map[string]string
	missing map[string]bool
}

func (v *vars) Get(key string) (string, bool) {
	val, ok := v.values[key]
	if !ok {
		v.missing[key] = true
	}
	return val, ok
}

// renderMigrations returns the embedded migrations with ${SCHEMA} replaced by the quoted schema.
func renderMigrations(schema string) (fs.FS, error) {
	entries, err := fs.ReadDir(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	out := make(fstest.MapFS, len(entries))
	for _, e := range entries {
		data, err := fs.ReadFile(migrations, path.Join("migrations", e.Name()))
		if err != nil {
			return nil, err
		}
		env := &vars{
			values:  map[string]string{schemaVar: database.QuoteIdentifier(schema)},
			missing: make(map[string]bool),
		}
		rendered, err := interpolate.Interpolate(env, string(data))
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", e.Name(), err)
		}
		if len(env.missing) > 0 {
			keys := make([]string, 0, len(env.missing))
			for k := range env.missing {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("render %s: undefined variables %v", e.Name(), keys)
		}
		out[e.Name()] = &fstest.MapFile{Data: []byte(rendered), Mode: 0o444}
	}
	return out, nil
}
