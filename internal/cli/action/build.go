package action

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/cmd"
	"github.com/rstms/iso-remaster/pkg/remaster"
)

// Build runs the whole pipeline and prints the run report.
func Build(ctx *cli.Context) error {
	env, err := environment(ctx)
	if err != nil {
		return err
	}
	args := &cmd.BuildArgs

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := remaster.New(env.Config, env.Runner, nil, env.Logger)
	r.TempDir = args.TempDir
	report, err := r.Run(runCtx, remaster.Job{
		SourceA:           args.SourceA,
		SourceB:           args.SourceB,
		Output:            args.Output,
		DisableValidation: args.DisableValidation,
	})
	if report != nil {
		printReport(ctx.App.Writer, report)
	}
	return err
}

func printReport(w io.Writer, report *remaster.Report) {
	fmt.Fprintf(w, "run %s\n", report.RunID)
	for _, s := range report.Steps {
		status := "ok"
		if s.Err != nil {
			status = s.Err.Error()
		}
		fmt.Fprintf(w, "  %-20s %8s  %s\n", s.Name, s.Duration.Round(time.Millisecond), status)
	}
	for _, a := range report.Attempts {
		fmt.Fprintf(w, "  attempt %-30s %10s  %s\n", a.Method, humanize.IBytes(uint64(a.Size)), a.Reason)
	}
	if report.Label != "" {
		fmt.Fprintf(w, "  label: %s\n", report.Label)
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "  warning: %v\n", warning)
	}
	fmt.Fprintf(w, "success: %t\n", report.Success)
}
