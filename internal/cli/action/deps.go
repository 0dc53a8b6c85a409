package action

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/remaster"
)

// Deps lists the external tools of the pipeline and the image construction strategies this host
// can run.
func Deps(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	w := ctx.App.Writer
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	missing := remaster.New(env.Config, env.Runner, nil, env.Logger).Dependencies(ctx.Context)
	for _, tool := range []string{env.Config.Tools.Wimlib, env.Config.Tools.Hivexsh} {
		status := ok("found")
		for _, m := range missing {
			if m == tool {
				status = bad("missing")
			}
		}
		fmt.Fprintf(w, "%-30s %s\n", tool, status)
	}

	b := builder.New(env.Runner, nil, env.Config, env.Logger)
	for _, s := range b.Strategies {
		status := ok("available")
		if s.Available != nil && !s.Available(ctx.Context) {
			status = bad("unavailable")
		}
		fmt.Fprintf(w, "%-30s %s\n", s.Name, status)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}
