package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/mastering"
	"github.com/rstms/iso-remaster/pkg/option"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose (debug) logging")
	volumeID := flag.String("V", "CDROM", "Volume identifier")
	publisher := flag.String("publisher", "", "Publisher identifier")
	application := flag.String("application", "", "Application identifier")
	udf := flag.Bool("udf", false, "Add a UDF bridge hierarchy")
	joliet := flag.Bool("joliet", true, "Add a Joliet hierarchy")
	rockRidge := flag.Bool("rockridge", true, "Add Rock Ridge entries")
	boot := flag.String("boot", "", "Image path of an El Torito boot file")
	efiBoot := flag.String("efiboot", "", "Image path of an EFI boot image")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Println("Usage: isocreate [options] <source-dir> <output-iso>")
		flag.PrintDefaults()
		os.Exit(1)
	}
	source, dest := flag.Arg(0), flag.Arg(1)

	verbosity := logging.LEVEL_INFO
	if *verbose {
		verbosity = logging.LEVEL_DEBUG
	}
	log := logging.NewConsoleLogger(os.Stderr, verbosity, true)

	isoType := option.ISO_TYPE_ISO9660
	if *udf {
		isoType = option.ISO_TYPE_UDF
	}
	opts := []option.CreateOption{
		option.WithISOType(isoType),
		option.WithVolumeIdentifier(*volumeID),
		option.WithPublisherIdentifier(*publisher),
		option.WithApplicationIdentifier(*application),
		option.WithJoliet(*joliet),
		option.WithRockRidge(*rockRidge),
		option.WithCreateLogger(log),
	}
	if *boot != "" {
		opts = append(opts, option.WithBootFile(*boot))
	}
	if *efiBoot != "" {
		opts = append(opts, option.WithEFIBootFile(*efiBoot))
	}
	img := mastering.New(opts...)

	n, err := img.AddTree(source, nil)
	if err != nil {
		panic(fmt.Errorf("failed to add %s: %w", source, err))
	}

	if err := img.Save(dest); err != nil {
		panic(fmt.Errorf("failed to save ISO: %w", err))
	}
	log.Info("image written", "path", dest, "files", n, "size", humanize.IBytes(uint64(img.Size())))
}
