package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	volumeID := flag.String("V", "", "Volume identifier, defaults to the configured one")
	trace := flag.Bool("vv", false, "Enable trace logging")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Println("Usage: isobuilder [options] <source-dir> <output-iso>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := logging.LEVEL_DEBUG
	if *trace {
		level = logging.LEVEL_TRACE
	}
	log := logging.NewLogger(logging.NewSimpleLogger(os.Stderr, level, true))

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	policy := &cfg.Policy
	d := builder.Descriptor{
		VolumeIdentifier:      policy.VolumeIdentifier,
		ApplicationIdentifier: policy.ApplicationIdentifier,
		PublisherIdentifier:   policy.PublisherIdentifier,
	}
	if *volumeID != "" {
		d.VolumeIdentifier = *volumeID
	}

	r := runner.New(log, policy.Timeouts.Tool)
	b := builder.New(r, validate.Default(r, policy.MountEssentialFiles, log), cfg, log)
	outcome, err := b.Write(context.Background(), flag.Arg(0), d, flag.Arg(1))
	if err != nil {
		panic(fmt.Errorf("failed to build ISO: %w", err))
	}

	for _, a := range outcome.Attempts {
		fmt.Printf("%-30s %-10s %s\n", a.Method, humanize.IBytes(uint64(a.Size)), a.Reason)
	}
	fmt.Printf("%s written by %s\n", flag.Arg(1), outcome.Method)
}
