package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/theckman/yacspin"
	"golang.org/x/term"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

var (
	version = "dev"
)

// truncateString truncates the input string to the specified max length.
// If truncation occurs, it prepends "..." to indicate the string has been shortened.
func truncateString(input string, maxLength int) string {
	if len(input) <= maxLength {
		return input
	}
	if maxLength <= 3 {
		return input[len(input)-maxLength:]
	}
	return "..." + input[len(input)-(maxLength-3):]
}

// CreateProgressCallback returns a callback that updates the spinner's message.
func CreateProgressCallback(spinner *yacspin.Spinner) option.ExtractionProgressCallback {
	return func(
		currentFilename string,
		bytesTransferred int64,
		totalBytes int64,
		currentFileNumber int,
		totalFileCount int,
	) {
		if spinner == nil {
			return
		}
		width, _, err := term.GetSize(int(os.Stdout.Fd()))
		if err != nil {
			width = 80
		}

		percent := 100.0
		if totalBytes > 0 {
			percent = float64(bytesTransferred) / float64(totalBytes) * 100
		}
		fixedPart := fmt.Sprintf(" [%d/%d] ", currentFileNumber, totalFileCount)
		suffixPart := fmt.Sprintf(" - %.2f%%", percent)

		// Minimum space to display a meaningful filename
		availableSpace := width - len(fixedPart) - len(suffixPart) - 6
		if availableSpace < 10 {
			availableSpace = 10
		}

		spinner.Message(fixedPart + truncateString(currentFilename, availableSpace) + suffixPart)
	}
}

// InitializeSpinner sets up and starts the yacspin spinner.
func InitializeSpinner() (*yacspin.Spinner, error) {
	settings := yacspin.Config{
		Frequency:         100 * time.Millisecond,
		ShowCursor:        false,
		SpinnerAtEnd:      false,
		CharSet:           yacspin.CharSets[14],
		Colors:            []string{"fgHiCyan"},
		StopColors:        []string{"fgHiGreen"},
		StopFailColors:    []string{"fgHiRed"},
		StopFailCharacter: "✗",
		StopCharacter:     "✓",
	}

	spinner, err := yacspin.New(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create spinner: %w", err)
	}
	if err := spinner.Start(); err != nil {
		return nil, fmt.Errorf("failed to start spinner: %w", err)
	}
	return spinner, nil
}

func main() {
	// Logging level flags
	debug := flag.Bool("v", false, "Enable verbose (debug) logging")
	trace := flag.Bool("vv", false, "Enable trace logging")

	// Extraction options
	bootImages := flag.Bool("boot", false, "Extract boot images (El Torito)")
	rockRidge := flag.Bool("rockridge", true, "Enable Rock Ridge support")
	stripVer := flag.Bool("strip", true, "Strip version info from filenames")
	crossCheck := flag.Bool("crosscheck", false, "Compare file counts between extensions")

	outputDir := flag.String("o", "./extracted", "Output directory for extracted files")
	bootDir := flag.String("bootdir", "[BOOT]", "Output directory for boot images")

	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("isoextract v" + version)
		fmt.Println("Usage: isoextract [options] <path-to-iso>")
		fmt.Println("  -v               Enable verbose (debug) logging")
		fmt.Println("  -vv              Enable trace logging")
		fmt.Println("  -boot            Extract boot images (El Torito)")
		fmt.Println("  -rockridge       Enable Rock Ridge support (default: true)")
		fmt.Println("  -strip           Strip version info from filenames (default: true)")
		fmt.Println("  -crosscheck      Compare file counts between extensions")
		fmt.Println("  -o <directory>   Output directory (default './extracted')")
		fmt.Println("  -bootdir <dir>   Output directory for boot images (default '[BOOT]')")
		os.Exit(1)
	}
	isoPath := flag.Arg(0)

	verbosity := logging.LEVEL_INFO
	switch {
	case *trace:
		verbosity = logging.LEVEL_TRACE
	case *debug:
		verbosity = logging.LEVEL_DEBUG
	}
	// The spinner owns stdout, so log lines are only shown when asked for.
	logger := logging.DefaultLogger()
	if *debug || *trace {
		logger = logging.NewConsoleLogger(os.Stderr, verbosity, true)
	}

	var spinner *yacspin.Spinner
	if !*debug && !*trace {
		var err error
		if spinner, err = InitializeSpinner(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize spinner: %v\n", err)
			fmt.Fprintf(os.Stderr, "Progress updates will be disabled.\n")
		}
	}
	fail := func(msg string, err error) {
		if spinner != nil {
			spinner.StopFailMessage(fmt.Sprintf("%s: %v", msg, err))
			spinner.StopFail()
		} else {
			fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		}
		os.Exit(1)
	}

	img, err := iso.Open(
		isoPath,
		option.WithLogger(logger),
		option.WithElToritoEnabled(*bootImages),
		option.WithRockRidgeEnabled(*rockRidge),
		option.WithBootFileExtractLocation(*bootDir),
		option.WithStripVersionInfo(*stripVer),
		option.WithCrossCheck(*crossCheck),
		option.WithExtractionProgress(CreateProgressCallback(spinner)),
	)
	if err != nil {
		fail("Failed to open ISO", err)
	}
	defer img.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := img.ExtractAllContext(ctx, *outputDir)
	if err != nil {
		fail("Failed to extract image", err)
	}
	if *bootImages {
		if _, err := img.ExtractBootImages(*bootDir); err != nil {
			fail("Failed to extract boot images", err)
		}
	}

	summary := fmt.Sprintf(" %d files (%s) extracted from %s to %s", res.Files, humanize.IBytes(uint64(res.Bytes)), res.Extension, *outputDir)
	if spinner != nil {
		spinner.StopMessage(summary)
		spinner.Stop()
	} else {
		fmt.Println(summary)
	}
}
