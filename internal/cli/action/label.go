package action

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/label"
	"github.com/rstms/iso-remaster/pkg/validate"
)

// LabelInspect prints the volume label of an image.
func LabelInspect(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "IMAGE")
	if err != nil {
		return err
	}
	current, err := label.Inspect(argv[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s\taccepted=%t\n", current, label.Compatible(current, env.Config.Policy.AcceptedLabels))
	return nil
}

// LabelEnforce rebuilds an image under the target label unless its label is already accepted.
func LabelEnforce(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "IMAGE")
	if err != nil {
		return err
	}
	policy := &env.Config.Policy
	target := cmd.LabelArgs.Target
	if target == "" {
		target = policy.VolumeIdentifier
	}

	v := validate.Default(env.Runner, policy.MountEssentialFiles, env.Logger)
	b := builder.New(env.Runner, v, env.Config, env.Logger)
	ok, err := label.NewEnforcer(b, policy, env.Logger).Enforce(ctx.Context, argv[0], target)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("label of %s is still not %s", argv[0], target)
	}
	fmt.Fprintf(ctx.App.Writer, "%s\t%s\n", argv[0], target)
	return nil
}
