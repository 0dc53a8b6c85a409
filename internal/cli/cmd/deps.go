package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// NewDepsCommand creates the command listing the external tools and their availability.
func NewDepsCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "deps",
		Usage:     "Check the external tools the pipeline relies on",
		UsageText: fmt.Sprintf("%s deps", appName),
		Action:    action,
	}
}
