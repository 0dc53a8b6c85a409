package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// NewInitConfigCommand creates the command writing the effective configuration to a file.
func NewInitConfigCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "init-config",
		Usage:     "Write the effective configuration as TOML",
		UsageText: fmt.Sprintf("%s init-config FILE", appName),
		Action:    action,
	}
}
