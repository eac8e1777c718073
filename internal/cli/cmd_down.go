package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
)

type downConfig struct {
	remove bool
}

func newDownCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture down")
	root.registerFlags(fs)
	config := new(downConfig)
	config.registerFlags(fs)

	return &ffcli.Command{
		Name:       "down",
		ShortUsage: "mssqlfixture down [flags]",
		ShortHelp:  "Stop the shared container",
		LongHelp:   downCmdLongHelp,
		FlagSet:    fs,
		Exec:       execDownCmd(st, root, config),
	}
}

func (c *downConfig) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.remove, "remove", false, "also remove the container and its volumes")
}

func execDownCmd(st *state, root *rootConfig, config *downConfig) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		sess, err := st.open(root)
		if err != nil {
			return err
		}
		containers, err := sess.runtime()
		if err != nil {
			return err
		}
		name := sess.cfg.ContainerName
		handle, err := containers.Lookup(ctx, name)
		if err != nil {
			return err
		}
		if handle == nil {
			fmt.Fprintf(st.stdout, "container %s not found\n", name)
			return nil
		}
		if err := containers.Stop(ctx, handle); err != nil {
			return err
		}
		if !config.remove {
			fmt.Fprintf(st.stdout, "stopped %s\n", name)
			return nil
		}
		if err := containers.Remove(ctx, handle); err != nil {
			return err
		}
		fmt.Fprintf(st.stdout, "removed %s\n", name)
		return nil
	}
}

const downCmdLongHelp = `
Stop the shared SQL Server container. Databases inside it survive a stop and are gone after
-remove.
`
