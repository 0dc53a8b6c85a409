package action

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/option"
)

// Extract unpacks an image into a directory.
func Extract(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "IMAGE")
	if err != nil {
		return err
	}
	args := &cmd.ExtractArgs

	img, err := iso.Open(argv[0],
		option.WithLogger(env.Logger),
		option.WithRockRidgeEnabled(args.RockRidge),
		option.WithCrossCheck(args.CrossCheck),
		option.WithElToritoEnabled(args.BootDir != ""),
		option.WithBootFileExtractLocation(args.BootDir),
	)
	if err != nil {
		return err
	}
	defer img.Close()

	res, err := img.ExtractAllContext(ctx.Context, args.Dest)
	if err != nil {
		return err
	}
	for _, a := range res.Attempts {
		fmt.Fprintf(ctx.App.Writer, "%-8s files=%d dirs=%d size=%s skipped=%d failed=%d\n",
			a.Extension, a.Files, a.Directories, humanize.IBytes(uint64(a.Bytes)), a.Skipped, a.Failed)
	}

	if args.BootDir != "" {
		written, err := img.ExtractBootImages(args.BootDir)
		if err != nil {
			return fmt.Errorf("failed to extract boot images: %w", err)
		}
		for _, p := range written {
			fmt.Fprintf(ctx.App.Writer, "boot image: %s\n", p)
		}
	}
	return nil
}
