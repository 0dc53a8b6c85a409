package action

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/bootimage"
	"github.com/rstms/iso-remaster/pkg/hive"
	"github.com/rstms/iso-remaster/pkg/wim"
)

// Patch applies the default registry patch to a boot sub-image in place.
func Patch(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "BOOT.WIM")
	if err != nil {
		return err
	}

	work := cmd.PatchArgs.WorkDir
	if work == "" {
		if work, err = os.MkdirTemp("", "isoremaster-patch-"); err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(work)
	}

	w := wim.New(env.Runner, env.Logger)
	w.Command = env.Config.Tools.Wimlib
	e := hive.NewEditor(env.Runner, env.Logger)
	e.Command = env.Config.Tools.Hivexsh

	res, err := bootimage.NewPatcher(w, e, env.Logger).Patch(ctx.Context, argv[0], hive.DefaultPatchSpec(), work)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "patched image %s of %s (hive %s)\n", res.Index, argv[0], res.HivePath)
	return nil
}
