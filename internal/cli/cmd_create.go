package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/streamstore/mssqlfixture/internal/dbname"
)

type createConfig struct {
	name string
}

func newCreateCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture create")
	root.registerFlags(fs)
	config := new(createConfig)
	config.registerFlags(fs)

	return &ffcli.Command{
		Name:       "create",
		ShortUsage: "mssqlfixture create [flags]",
		ShortHelp:  "Create a database in the shared container",
		LongHelp:   createCmdLongHelp,
		FlagSet:    fs,
		Exec:       execCreateCmd(st, root, config),
	}
}

func (c *createConfig) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.name, "name", "", "database name, generated from MSSQLFIXTURE_DATABASE_PREFIX if empty")
}

type createOutput struct {
	Name             string `json:"name"`
	ConnectionString string `json:"connection_string"`
}

func execCreateCmd(st *state, root *rootConfig, config *createConfig) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("create takes no arguments, use -name: %q", args)
		}
		sess, err := st.open(root)
		if err != nil {
			return err
		}
		name := config.name
		if name == "" {
			name = dbname.Generate(sess.cfg.DatabasePrefix)
		}
		if err := dbname.Validate(name); err != nil {
			return err
		}
		master, err := sess.ensureRunning(ctx)
		if err != nil {
			return err
		}
		if err := sess.admin.CreateDatabase(ctx, master, name); err != nil {
			return err
		}
		connStr, err := master.Scoped(name).ConnectionString()
		if err != nil {
			return err
		}
		if root.useJSON {
			return st.writeJSON(createOutput{Name: name, ConnectionString: connStr})
		}
		fmt.Fprintln(st.stdout, name)
		fmt.Fprintln(st.stdout, connStr)
		return nil
	}
}

const createCmdLongHelp = `
Create a database in the shared container, pinned to the same compatibility level test fixtures
use. The database is not dropped automatically: remove it with "drop" or "prune".

Prints the database name followed by its connection string.
`
