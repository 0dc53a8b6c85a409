package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// WriteFlags contains the flags for the write command.
type WriteFlags struct {
	VolumeIdentifier string
	Strategies       cli.StringSlice
}

// WriteArgs holds the parsed write command flags.
var WriteArgs WriteFlags

// NewWriteCommand creates the command writing a directory tree into an image through the
// strategy chain.
func NewWriteCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Write a directory into a validated image",
		UsageText: fmt.Sprintf("%s write [OPTIONS] DIRECTORY IMAGE", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "volume-id",
				Aliases:     []string{"V"},
				Usage:       "Volume identifier, defaults to the configured one",
				Destination: &WriteArgs.VolumeIdentifier,
			},
			&cli.StringSliceFlag{
				Name:        "strategy",
				Usage:       "Only try the named strategies, in the order given",
				Destination: &WriteArgs.Strategies,
			},
		},
	}
}
