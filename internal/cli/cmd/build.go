package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// BuildFlags contains the flags for the build command.
type BuildFlags struct {
	SourceA           string
	SourceB           string
	Output            string
	TempDir           string
	DisableValidation bool
}

// BuildArgs holds the parsed build command flags.
var BuildArgs BuildFlags

// NewBuildCommand creates the command running the whole remastering pipeline.
func NewBuildCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "build",
		Usage:     "Combine two installation images into one bootable image",
		UsageText: fmt.Sprintf("%s build --source-a WIN11.iso --source-b WIN10.iso --output OUT.iso", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "source-a",
				Aliases:     []string{"a"},
				Usage:       "Image providing the installation content",
				Required:    true,
				Destination: &BuildArgs.SourceA,
			},
			&cli.StringFlag{
				Name:        "source-b",
				Aliases:     []string{"b"},
				Usage:       "Image providing the boot sub-image and the metadata",
				Required:    true,
				Destination: &BuildArgs.SourceB,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "Path of the produced image",
				Required:    true,
				Destination: &BuildArgs.Output,
			},
			&cli.StringFlag{
				Name:        "temp-dir",
				Usage:       "Parent directory of the scratch space",
				Destination: &BuildArgs.TempDir,
			},
			&cli.BoolFlag{
				Name:        "disable-validation",
				Usage:       "Skip the final analysis of the produced image",
				Destination: &BuildArgs.DisableValidation,
			},
		},
	}
}
