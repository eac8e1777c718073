package cli

import (
	"context"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
)

func newUpCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture up")
	root.registerFlags(fs)

	return &ffcli.Command{
		Name:       "up",
		ShortUsage: "mssqlfixture up [flags]",
		ShortHelp:  "Start the shared container and wait until SQL Server accepts connections",
		LongHelp:   upCmdLongHelp,
		FlagSet:    fs,
		Exec:       execUpCmd(st, root),
	}
}

type upOutput struct {
	Container        string `json:"container"`
	Host             string `json:"host"`
	Port             int    `json:"port"`
	ConnectionString string `json:"connection_string"`
}

func execUpCmd(st *state, root *rootConfig) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		sess, err := st.open(root)
		if err != nil {
			return err
		}
		master, err := sess.ensureRunning(ctx)
		if err != nil {
			return err
		}
		connStr, err := master.ConnectionString()
		if err != nil {
			return err
		}
		if root.useJSON {
			return st.writeJSON(upOutput{
				Container:        sess.cfg.ContainerName,
				Host:             master.Host,
				Port:             master.Port,
				ConnectionString: connStr,
			})
		}
		fmt.Fprintln(st.stdout, connStr)
		return nil
	}
}

const upCmdLongHelp = `
Start the shared SQL Server container, or reuse it when it already exists, and block until the
server answers on the master catalog. Prints the master connection string.
`
