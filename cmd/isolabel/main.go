package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bgrewell/usage"

	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/label"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
)

func main() {

	u := usage.NewUsage(
		usage.WithApplicationName("isolabel"),
		usage.WithApplicationDescription("Show the volume label of an image and force the accepted one"),
	)
	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Print verbose output", "", nil)
	enforce := u.AddBooleanOption("e", "enforce", false, "Rebuild the image with the configured label when it is not accepted", "", nil)
	path := u.AddArgument(1, "iso-path", "Path to the ISO file", "")
	parsed := u.Parse()

	if !parsed {
		u.PrintError(fmt.Errorf("failed to parse arguments"))
		os.Exit(1)
	}

	if *help {
		u.PrintUsage()
		os.Exit(0)
	}

	if path == nil || *path == "" {
		u.PrintError(fmt.Errorf("location of the iso file <path> must be provided"))
		os.Exit(1)
	}

	verbosity := logging.LEVEL_INFO
	if *verbose {
		verbosity = logging.LEVEL_DEBUG
	}
	logger := logging.NewConsoleLogger(os.Stderr, verbosity, true)

	cfg, err := config.Load(os.Getenv(config.ENV_PREFIX + "CONFIG"))
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	policy := &cfg.Policy

	current, err := label.Inspect(*path)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	accepted := label.Compatible(current, policy.AcceptedLabels)
	fmt.Printf("%s\taccepted=%t\n", current, accepted)
	if !*enforce || accepted {
		return
	}

	r := runner.New(logger, policy.Timeouts.Tool)
	b := builder.New(r, validate.Default(r, policy.MountEssentialFiles, logger), cfg, logger)
	ok, err := label.NewEnforcer(b, policy, logger).Enforce(context.Background(), *path, policy.VolumeIdentifier)
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	if !ok {
		u.PrintError(fmt.Errorf("label of %s is still not %s", *path, policy.VolumeIdentifier))
		os.Exit(1)
	}
	fmt.Printf("%s\taccepted=true\n", policy.VolumeIdentifier)
}
