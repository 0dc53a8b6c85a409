// Package app assembles the isoremaster command line application.
package app

import (
	"github.com/urfave/cli/v2"
)

// Version is overridden at link time.
var Version = "dev"

const name = "isoremaster"

// Name returns the application name used in usage texts.
func Name() string {
	return name
}

// New returns the cli application. setup runs before any command and teardown after it.
func New(usage string, globalFlags []cli.Flag, setup cli.BeforeFunc, teardown cli.AfterFunc, commands ...*cli.Command) *cli.App {
	a := cli.NewApp()
	a.Name = name
	a.Usage = usage
	a.Version = Version
	a.Flags = globalFlags
	a.Commands = commands
	a.Before = setup
	a.After = teardown
	a.Metadata = map[string]interface{}{}
	a.UseShortOptionHandling = true
	a.EnableBashCompletion = true
	a.Suggest = true
	return a
}
