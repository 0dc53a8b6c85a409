// Package cmd declares the isoremaster commands and their flags. The actions live in package
// action and read the Env prepared by Setup.
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// Usage is the one line description of the application.
const Usage = "Remaster Windows installation images into media older firmware can boot"

// ENV_KEY is the Metadata key holding the *Env.
const ENV_KEY = "env"

// GlobalFlagSet holds the flags shared by every command.
type GlobalFlagSet struct {
	ConfigPath string
	Verbosity  int
	NoColor    bool
}

// GlobalArgs holds the parsed global flags.
var GlobalArgs GlobalFlagSet

// Env is what every action works with.
type Env struct {
	Config *config.Config
	Runner runner.Runner
	Logger *logging.Logger
}

// GlobalFlags returns the flags accepted before any command.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a TOML configuration file",
			EnvVars:     []string{config.ENV_PREFIX + "CONFIG"},
			Destination: &GlobalArgs.ConfigPath,
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Increase log verbosity, repeat for trace output",
			Count:   &GlobalArgs.Verbosity,
		},
		&cli.BoolFlag{
			Name:        "no-color",
			Usage:       "Disable colored log output",
			Destination: &GlobalArgs.NoColor,
		},
	}
}

// Setup loads the configuration and stores the Env in the application metadata.
func Setup(ctx *cli.Context) error {
	logger := logging.NewConsoleLogger(os.Stderr, GlobalArgs.Verbosity, !GlobalArgs.NoColor)
	cfg, err := config.Load(GlobalArgs.ConfigPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger.Debug("configuration loaded", "path", GlobalArgs.ConfigPath, "volume", cfg.Policy.VolumeIdentifier)
	ctx.App.Metadata[ENV_KEY] = &Env{
		Config: cfg,
		Runner: runner.New(logger.Named("runner"), cfg.Policy.Timeouts.Tool),
		Logger: logger,
	}
	return nil
}

// Teardown runs after the command finished.
func Teardown(ctx *cli.Context) error {
	if env, ok := ctx.App.Metadata[ENV_KEY].(*Env); ok {
		env.Logger.Trace("exiting", "command", ctx.Args().First())
	}
	return nil
}
