package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(appName string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Action: func(ctx *cli.Context) error {
			fmt.Fprintf(ctx.App.Writer, "%s %s\n", appName, ctx.App.Version)
			return nil
		},
	}
}
