package action

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/validate"
)

// Analyze prints the analysis of an image and, on request, the verdict of the mount validator.
func Analyze(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "IMAGE")
	if err != nil {
		return err
	}
	essential := env.Config.Policy.MountEssentialFiles

	analysis, err := validate.Analyze(argv[0], essential, env.Logger)
	if analysis != nil {
		for _, line := range analysis.Lines() {
			fmt.Fprintln(ctx.App.Writer, line)
		}
	}
	if err != nil {
		return err
	}

	if !cmd.AnalyzeArgs.Mount {
		return nil
	}
	v := validate.Default(env.Runner, essential, env.Logger)
	report, err := v.Validate(ctx.Context, argv[0])
	if err != nil {
		return fmt.Errorf("%s: %w", v.Name(), err)
	}
	fmt.Fprintf(ctx.App.Writer, "mount: %s mounted=%t present=%d missing=%v\n",
		report.Method, report.Mounted, len(report.Present), report.Missing)
	return nil
}
