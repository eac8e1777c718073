package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3/ffcli"
)

var errMissingCommand = errors.New("missing command")

func run(ctx context.Context, args []string, opts ...Options) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic: %v", r)
		}
	}()
	st, err := newStateWithDefaults(opts...)
	if err != nil {
		return err
	}

	root, config := newRootCmd(st)
	commands := []func(*state, *rootConfig) *ffcli.Command{
		newUpCmd,
		newCreateCmd,
		newDropCmd,
		newPruneCmd,
		newDownCmd,
		newEnvCmd,
	}
	for _, cmd := range commands {
		root.Subcommands = append(root.Subcommands, cmd(st, config))
	}

	if err := root.Parse(args); err != nil {
		// Usage was already printed by the flag set.
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}
	return root.Run(ctx)
}
