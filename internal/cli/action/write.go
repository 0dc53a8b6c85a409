package action

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/validate"
)

// Write builds an image from a directory through the strategy chain.
func Write(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	argv, err := arguments(ctx, "DIRECTORY", "IMAGE")
	if err != nil {
		return err
	}
	args := &cmd.WriteArgs
	policy := &env.Config.Policy

	v := validate.Default(env.Runner, policy.MountEssentialFiles, env.Logger)
	b := builder.New(env.Runner, v, env.Config, env.Logger)
	if names := args.Strategies.Value(); len(names) > 0 {
		if b.Strategies, err = selectStrategies(b.Strategies, names); err != nil {
			return err
		}
	}

	d := builder.Descriptor{
		VolumeIdentifier:      policy.VolumeIdentifier,
		ApplicationIdentifier: policy.ApplicationIdentifier,
		PublisherIdentifier:   policy.PublisherIdentifier,
	}
	if args.VolumeIdentifier != "" {
		d.VolumeIdentifier = args.VolumeIdentifier
	}

	outcome, err := b.Write(ctx.Context, argv[0], d, argv[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "%s written by %s (%s from %s)\n", argv[1], outcome.Method,
		humanize.IBytes(uint64(outcome.Size)), humanize.IBytes(uint64(outcome.SourceSize)))
	for _, w := range outcome.Warnings {
		fmt.Fprintf(ctx.App.Writer, "warning: %v\n", w)
	}
	return nil
}

// selectStrategies picks the named strategies out of all, in the order of names.
func selectStrategies(all []builder.Strategy, names []string) ([]builder.Strategy, error) {
	selected := make([]builder.Strategy, 0, len(names))
	for _, name := range names {
		found := false
		for _, s := range all {
			if strings.EqualFold(s.Name, name) {
				selected = append(selected, s)
				found = true
				break
			}
		}
		if !found {
			known := make([]string, 0, len(all))
			for _, s := range all {
				known = append(known, s.Name)
			}
			return nil, fmt.Errorf("unknown strategy %q, known: %s", name, strings.Join(known, ", "))
		}
	}
	return selected, nil
}
