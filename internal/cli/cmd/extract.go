package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// ExtractFlags contains the flags for the extract command.
type ExtractFlags struct {
	Dest       string
	BootDir    string
	CrossCheck bool
	RockRidge  bool
}

// ExtractArgs holds the parsed extract command flags.
var ExtractArgs ExtractFlags

// NewExtractCommand creates the extract command.
func NewExtractCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract an image, trying UDF, Joliet and ISO 9660 in turn",
		UsageText: fmt.Sprintf("%s extract [OPTIONS] IMAGE", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "dest",
				Aliases:     []string{"o"},
				Usage:       "Output directory",
				Value:       "./extracted",
				Destination: &ExtractArgs.Dest,
			},
			&cli.StringFlag{
				Name:        "boot-dir",
				Usage:       "Also write the El Torito boot images into this directory",
				Destination: &ExtractArgs.BootDir,
			},
			&cli.BoolFlag{
				Name:        "cross-check",
				Usage:       "Compare the file counts of every hierarchy after extraction",
				Destination: &ExtractArgs.CrossCheck,
			},
			&cli.BoolFlag{
				Name:        "rock-ridge",
				Usage:       "Use Rock Ridge names on the ISO 9660 hierarchy",
				Value:       true,
				Destination: &ExtractArgs.RockRidge,
			},
		},
	}
}
