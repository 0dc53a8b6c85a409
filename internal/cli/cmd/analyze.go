package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// AnalyzeFlags contains the flags for the analyze command.
type AnalyzeFlags struct {
	Mount bool
}

// AnalyzeArgs holds the parsed analyze command flags.
var AnalyzeArgs AnalyzeFlags

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Report the structure, boot signature and essential files of an image",
		UsageText: fmt.Sprintf("%s analyze [OPTIONS] IMAGE", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "mount",
				Usage:       "Also ask the mount validator of this host",
				Destination: &AnalyzeArgs.Mount,
			},
		},
	}
}
