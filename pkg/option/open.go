package option

import (
	"github.com/rstms/iso-remaster/pkg/logging"
)

type ExtractionProgressCallback func(
	currentFilename string,
	bytesTransferred int64,
	totalBytes int64,
	currentFileNumber int,
	totalFileCount int,
)

type OpenOptions struct {
	StripVersionInfo           bool
	RockRidgeEnabled           bool
	ElToritoEnabled            bool
	CrossCheck                 bool
	BootFileExtractLocation    string
	ExtractionProgressCallback ExtractionProgressCallback
	Logger                     *logging.Logger
}

type OpenOption func(*OpenOptions)

// DefaultOpenOptions returns the options used when none are given.
func DefaultOpenOptions() *OpenOptions {
	return &OpenOptions{
		StripVersionInfo:        true,
		RockRidgeEnabled:        true,
		ElToritoEnabled:         true,
		BootFileExtractLocation: "[BOOT]",
		ExtractionProgressCallback: func(string, int64, int64, int, int) {
		},
		Logger: logging.DefaultLogger(),
	}
}

// Apply returns the defaults with opts applied in order.
func Apply(opts ...OpenOption) *OpenOptions {
	o := DefaultOpenOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = logging.DefaultLogger()
	}
	return o
}

// WithExtractionProgress sets a progress callback function that will be called with progress updates.
// Parameters:
// - currentFilename: The name of the file currently being processed.
// - bytesTransferred: The number of bytes transferred so far for the current file.
// - totalBytes: The total number of bytes to be transferred for the current file.
// - currentFileNumber: The index of the current file being processed.
// - totalFileCount: The total number of files to be processed.
func WithExtractionProgress(callback ExtractionProgressCallback) OpenOption {
	return func(o *OpenOptions) {
		o.ExtractionProgressCallback = callback
	}
}

func WithBootFileExtractLocation(location string) OpenOption {
	return func(o *OpenOptions) {
		o.BootFileExtractLocation = location
	}
}

func WithLogger(logger *logging.Logger) OpenOption {
	return func(o *OpenOptions) {
		o.Logger = logger
	}
}

func WithStripVersionInfo(stripVersionInfo bool) OpenOption {
	return func(o *OpenOptions) {
		o.StripVersionInfo = stripVersionInfo
	}
}

func WithRockRidgeEnabled(rockRidgeEnabled bool) OpenOption {
	return func(o *OpenOptions) {
		o.RockRidgeEnabled = rockRidgeEnabled
	}
}

func WithElToritoEnabled(elToritoEnabled bool) OpenOption {
	return func(o *OpenOptions) {
		o.ElToritoEnabled = elToritoEnabled
	}
}

// WithCrossCheck counts the files of every present extension after extraction and logs a
// warning when they disagree.
func WithCrossCheck(crossCheck bool) OpenOption {
	return func(o *OpenOptions) {
		o.CrossCheck = crossCheck
	}
}
