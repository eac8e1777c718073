package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mfridman/xflag"
	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/multierr"
)

func newDropCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture drop")
	root.registerFlags(fs)

	cmd := &ffcli.Command{
		Name:       "drop",
		ShortUsage: "mssqlfixture drop [flags] NAME...",
		ShortHelp:  "Force-drop databases",
		LongHelp:   dropCmdLongHelp,
		FlagSet:    fs,
	}
	cmd.Exec = func(ctx context.Context, args []string) error {
		// Flags may follow the names.
		if err := xflag.ParseToEnd(fs, args); err != nil {
			return err
		}
		return execDrop(ctx, st, root, fs.Args())
	}
	return cmd
}

func execDrop(ctx context.Context, st *state, root *rootConfig, names []string) error {
	if len(names) == 0 {
		return errors.New("drop requires at least one database name")
	}
	for _, name := range names {
		if isSystemDatabase(name) {
			return fmt.Errorf("refusing to drop system database %s", name)
		}
	}
	sess, err := st.open(root)
	if err != nil {
		return err
	}
	master, err := sess.ensureRunning(ctx)
	if err != nil {
		return err
	}
	var result error
	for _, name := range names {
		if err := sess.admin.DropDatabase(ctx, master, name); err != nil {
			result = multierr.Append(result, err)
			continue
		}
		fmt.Fprintf(st.stdout, "dropped %s\n", name)
	}
	return result
}

var systemDatabases = map[string]bool{
	"master": true,
	"model":  true,
	"msdb":   true,
	"tempdb": true,
}

func isSystemDatabase(name string) bool {
	return systemDatabases[strings.ToLower(name)]
}

const dropCmdLongHelp = `
Force-drop the named databases. Sessions still connected to a database are rolled back before it
is dropped. Every name is attempted; failures are reported together.
`
