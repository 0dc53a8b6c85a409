// Package action implements the isoremaster commands.
package action

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
)

func environment(ctx *cli.Context) (*cmd.Env, error) {
	if ctx.App.Metadata == nil || ctx.App.Metadata[cmd.ENV_KEY] == nil {
		return nil, errors.New("error setting up initial configuration")
	}
	return ctx.App.Metadata[cmd.ENV_KEY].(*cmd.Env), nil
}

// arguments returns the n positional arguments of the command.
func arguments(ctx *cli.Context, names ...string) ([]string, error) {
	if ctx.NArg() != len(names) {
		return nil, fmt.Errorf("expected %d argument(s) %v, got %d", len(names), names, ctx.NArg())
	}
	return ctx.Args().Slice(), nil
}
