package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"sort"

	"github.com/peterbourgon/ff/v3/ffcli"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type pruneConfig struct {
	prefix      string
	concurrency int
	dryRun      bool
}

func newPruneCmd(st *state, root *rootConfig) *ffcli.Command {
	fs := newFlagSet(st, "mssqlfixture prune")
	root.registerFlags(fs)
	config := new(pruneConfig)
	config.registerFlags(fs)

	return &ffcli.Command{
		Name:       "prune",
		ShortUsage: "mssqlfixture prune [flags]",
		ShortHelp:  "Drop every database left behind by test fixtures",
		LongHelp:   pruneCmdLongHelp,
		FlagSet:    fs,
		Exec:       execPruneCmd(st, root, config),
	}
}

func (c *pruneConfig) registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.prefix, "prefix", "", "name prefix of databases to drop, defaults to MSSQLFIXTURE_DATABASE_PREFIX")
	fs.IntVar(&c.concurrency, "concurrency", 4, "databases dropped in parallel")
	fs.BoolVar(&c.dryRun, "dry-run", false, "print the databases that would be dropped")
}

type pruneOutput struct {
	Prefix  string   `json:"prefix"`
	Dropped []string `json:"dropped"`
	Failed  []string `json:"failed,omitempty"`
	DryRun  bool     `json:"dry_run"`
}

func execPruneCmd(st *state, root *rootConfig, config *pruneConfig) func(ctx context.Context, args []string) error {
	return func(ctx context.Context, args []string) error {
		if config.concurrency < 1 {
			return fmt.Errorf("concurrency must be at least 1: %d", config.concurrency)
		}
		sess, err := st.open(root)
		if err != nil {
			return err
		}
		prefix := config.prefix
		if prefix == "" {
			prefix = sess.cfg.DatabasePrefix
		}
		if prefix == "" {
			return errors.New("prune requires a non-empty prefix")
		}
		master, err := sess.ensureRunning(ctx)
		if err != nil {
			return err
		}
		listed, err := sess.admin.ListDatabases(ctx, master, prefix)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(listed))
		for _, name := range listed {
			if isSystemDatabase(name) {
				sess.logger.Warn("skipping system database", slog.String("database", name))
				continue
			}
			names = append(names, name)
		}
		out := pruneOutput{Prefix: prefix, DryRun: config.dryRun, Dropped: []string{}}
		var result error
		if config.dryRun {
			out.Dropped = append(out.Dropped, names...)
		} else {
			errs := make([]error, len(names))
			g := new(errgroup.Group)
			g.SetLimit(config.concurrency)
			for i, name := range names {
				g.Go(func() error {
					errs[i] = sess.admin.DropDatabase(ctx, master, name)
					return nil
				})
			}
			_ = g.Wait()
			for i, name := range names {
				if errs[i] != nil {
					out.Failed = append(out.Failed, name)
					continue
				}
				out.Dropped = append(out.Dropped, name)
			}
			result = multierr.Combine(errs...)
		}
		sort.Strings(out.Dropped)
		sort.Strings(out.Failed)

		if root.useJSON {
			return multierr.Append(result, st.writeJSON(out))
		}
		verb := "dropped"
		if config.dryRun {
			verb = "would drop"
		}
		for _, name := range out.Dropped {
			fmt.Fprintf(st.stdout, "%s %s\n", verb, name)
		}
		return result
	}
}

const pruneCmdLongHelp = `
Drop every database whose name starts with the prefix. Fixtures that crashed or ran with
MSSQLFIXTURE_KEEP_DATABASE=true leave their databases behind; prune removes them all.
`
