package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

// EnvVarPrefix prefixes the environment variables that set flags, e.g. MSSQLFIXTURE_ENV_FILE.
const EnvVarPrefix = "MSSQLFIXTURE"

type rootConfig struct {
	verbose bool
	useJSON bool
	envFile string
	timeout time.Duration
}

func newRootCmd(st *state) (*ffcli.Command, *rootConfig) {
	config := new(rootConfig)
	fs := newFlagSet(st, "mssqlfixture")
	config.registerFlags(fs)

	root := &ffcli.Command{
		Name:       "mssqlfixture",
		ShortUsage: "mssqlfixture [flags] <subcommand> [flags] [args...]",
		LongHelp:   rootCmdLongHelp,
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix(EnvVarPrefix),
		},
	}
	root.Exec = func(_ context.Context, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command %q", args[0])
		}
		fmt.Fprintln(st.stderr, ffcli.DefaultUsageFunc(root))
		return errMissingCommand
	}
	return root, config
}

// registerFlags registers the flag fields into the provided flag.FlagSet. This helper function
// allows subcommands to register the root flags into their flagsets, creating "global" flags that
// can be passed after any subcommand at the commandline.
func (c *rootConfig) registerFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "v", false, "log verbose output")
	fs.BoolVar(&c.useJSON, "json", false, "log and print output as JSON")
	fs.StringVar(&c.envFile, "env-file", ".env", "dotenv file with MSSQLFIXTURE_* settings, ignored if missing")
	fs.DurationVar(&c.timeout, "timeout", 0, "container startup timeout, overrides MSSQLFIXTURE_STARTUP_TIMEOUT")
}

func newFlagSet(st *state, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(st.stderr)
	return fs
}

const rootCmdLongHelp = `
Manage the shared SQL Server container and the databases integration tests create in it.

Settings are read from MSSQLFIXTURE_* environment variables and the dotenv file given by
-env-file. Run "mssqlfixture env" to print the effective configuration.
`
