package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// LabelFlags contains the flags for the label subcommands.
type LabelFlags struct {
	Target string
}

// LabelArgs holds the parsed label command flags.
var LabelArgs LabelFlags

// NewLabelCommand creates the label command with its inspect and enforce subcommands.
func NewLabelCommand(appName string, inspectAction, enforceAction func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:  "label",
		Usage: "Inspect or force the volume label of an image",
		Subcommands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Print the volume label and whether it is accepted",
				UsageText: fmt.Sprintf("%s label inspect IMAGE", appName),
				Action:    inspectAction,
			},
			{
				Name:      "enforce",
				Usage:     "Rebuild the image with the target label when it is not accepted",
				UsageText: fmt.Sprintf("%s label enforce [OPTIONS] IMAGE", appName),
				Action:    enforceAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "label",
						Aliases:     []string{"l"},
						Usage:       "Target label, defaults to the configured volume identifier",
						Destination: &LabelArgs.Target,
					},
				},
			},
		},
	}
}
