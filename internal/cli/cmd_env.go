package cli

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
)

func newEnvCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture env")
	root.registerFlags(fs)

	return &ffcli.Command{
		Name:       "env",
		ShortUsage: "mssqlfixture env [flags]",
		ShortHelp:  "Print the effective configuration",
		FlagSet:    fs,
		Exec:       execEnvCmd(st, root),
	}
}

func execEnvCmd(st *state, root *rootConfig) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		sess, err := st.open(root)
		if err != nil {
			return err
		}
		vars := sess.cfg.List()
		if root.useJSON {
			out := make(map[string]string, len(vars))
			for _, env := range vars {
				out[env.Name] = env.Value
			}
			return st.writeJSON(out)
		}
		for _, env := range vars {
			fmt.Fprintf(st.stdout, "%s=%q\n", env.Name, env.Value)
		}
		return nil
	}
}
