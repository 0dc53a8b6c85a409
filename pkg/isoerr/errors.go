// Package isoerr holds the error taxonomy shared by the reader, writer and pipeline packages.
// Fatal conditions are returned as errors; warnings are collected by callers and never abort.
package isoerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrBusy is returned when a remaster run is requested while another is in progress.
	ErrBusy = errors.New("a remaster run is already in progress")

	// ErrNoSubImage is returned when no boot sub-image container exists in a staging tree.
	ErrNoSubImage = errors.New("boot sub-image not found")
)

// FormatError reports that a file is not a recognizable optical-disc image.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s is not a valid disc image: %s", e.Path, e.Reason)
}

// DecodeWarning reports a directory entry whose name could not be recovered by any decoding
// strategy. The entry is skipped.
type DecodeWarning struct {
	Raw  []byte
	Path string
}

func (e *DecodeWarning) Error() string {
	return fmt.Sprintf("unrecoverable file name % x in %s", e.Raw, e.Path)
}

// ExtractionError wraps a fatal failure while extracting an image or a sub-image.
type ExtractionError struct {
	What string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to extract %s", e.What)
	}
	return fmt.Sprintf("failed to extract %s: %v", e.What, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Attempt is the audit record of one image construction strategy.
type Attempt struct {
	Method   string
	Size     int64
	Accepted bool
	Reason   string
	Duration time.Duration
}

// BuildError is returned when every construction strategy was rejected.
type BuildError struct {
	Attempts []Attempt
}

func (e *BuildError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Method, a.Reason))
	}
	return fmt.Sprintf("all ISO creation methods failed (%s)", strings.Join(parts, "; "))
}

// ValidationWarning reports a non-fatal validation finding on an accepted image.
type ValidationWarning struct {
	Image  string
	Reason string
}

func (e *ValidationWarning) Error() string {
	return fmt.Sprintf("validation warning for %s: %s", e.Image, e.Reason)
}

// PatchSkipped is returned when the sub-image lacks the configuration store to patch.
type PatchSkipped struct {
	Reason string
}

func (e *PatchSkipped) Error() string {
	return "patch skipped: " + e.Reason
}

// IsWarning reports whether err only carries warnings.
func IsWarning(err error) bool {
	var vw *ValidationWarning
	var dw *DecodeWarning
	var ps *PatchSkipped
	return errors.As(err, &vw) || errors.As(err, &dw) || errors.As(err, &ps)
}
