package main

import (
	"fmt"
	"os"

	"github.com/bgrewell/usage"
	"github.com/dustin/go-humanize"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

func main() {

	u := usage.NewUsage(
		usage.WithApplicationName("isoview"),
		usage.WithApplicationDescription("Print the descriptors and the directory tree of a disc image"),
	)
	help := u.AddBooleanOption("h", "help", false, "Show this help message", "optional", nil)
	verbose := u.AddBooleanOption("v", "verbose", false, "Print verbose output", "", nil)
	tree := u.AddBooleanOption("t", "tree", false, "List every file of the preferred hierarchy", "", nil)
	path := u.AddArgument(1, "iso-path", "Path to the ISO file to inspect", "")
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

	logger := logging.DefaultLogger()
	if *verbose {
		logger = logging.NewConsoleLogger(os.Stderr, logging.LEVEL_DEBUG, true)
	}

	i, err := iso.Open(*path, option.WithLogger(logger))
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	defer i.Close()

	fmt.Printf("Volume:      %s\n", i.VolumeIdentifier())
	fmt.Printf("Application: %s\n", i.ApplicationIdentifier())
	fmt.Printf("Publisher:   %s\n", i.PublisherIdentifier())
	fmt.Printf("Extensions:  %s\n", i.ExtensionString())

	if !*tree {
		return
	}
	exts := i.Extensions()
	if len(exts) == 0 {
		return
	}
	var files int
	var total int64
	err = i.Walk(exts[0], func(e *iso.Entry) error {
		if e.IsDir {
			fmt.Printf("%s/\n", e.Path)
			return nil
		}
		files++
		total += e.Size
		fmt.Printf("%-60s %10s\n", e.Path, humanize.IBytes(uint64(e.Size)))
		return nil
	})
	if err != nil {
		u.PrintError(err)
		os.Exit(1)
	}
	fmt.Printf("%d files, %s in %s\n", files, humanize.IBytes(uint64(total)), exts[0])
}
