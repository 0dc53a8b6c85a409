package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// PatchFlags contains the flags for the patch command.
type PatchFlags struct {
	WorkDir string
}

// PatchArgs holds the parsed patch command flags.
var PatchArgs PatchFlags

// NewPatchCommand creates the command applying the registry patch to a sub-image.
func NewPatchCommand(appName string, action func(*cli.Context) error) *cli.Command {
	return &cli.Command{
		Name:      "patch",
		Usage:     "Apply the hardware check bypass to the SYSTEM hive of a boot sub-image",
		UsageText: fmt.Sprintf("%s patch [OPTIONS] BOOT.WIM", appName),
		Action:    action,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "work-dir",
				Usage:       "Scratch directory, a temporary one by default",
				Destination: &PatchArgs.WorkDir,
			},
		},
	}
}
