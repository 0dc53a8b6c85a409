// Package validate decides whether a produced image is usable. The oracles mount the image, or
// read it with a library when mounting is not possible, and check that the essential files are
// visible.
package validate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// Report is the outcome of one validation.
type Report struct {
	Method     string
	Mounted    bool
	MountPoint string
	Present    []string
	Missing    []string
}

// Validator is a mount oracle.
type Validator interface {
	Name() string
	Validate(ctx context.Context, image string) (*Report, error)
}

// checkFiles stats every file below root. Paths use slashes.
func checkFiles(root string, files []string) (present, missing []string) {
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err == nil {
			present = append(present, f)
		} else {
			missing = append(missing, f)
		}
	}
	return present, missing
}

// Chain tries validators in order and returns the first report of a mounted image. When none
// mounts, the last failure is returned.
type Chain []Validator

func (c Chain) Name() string {
	names := make([]string, 0, len(c))
	for _, v := range c {
		names = append(names, v.Name())
	}
	return strings.Join(names, ",")
}

func (c Chain) Validate(ctx context.Context, image string) (*Report, error) {
	var lastReport *Report
	lastErr := errors.New("no validators configured")
	for _, v := range c {
		report, err := v.Validate(ctx, image)
		if err == nil && report.Mounted {
			return report, nil
		}
		if err == nil {
			err = fmt.Errorf("%s could not mount %s", v.Name(), image)
		}
		lastReport, lastErr = report, err
	}
	return lastReport, lastErr
}

// Default picks the oracle for the host: hdiutil on macOS and loop mounting as root on Linux,
// each backed by the library reader, and the library reader alone elsewhere.
func Default(r runner.Runner, essential []string, logger *logging.Logger) Validator {
	library := NewLibraryValidator(essential, logger)
	switch {
	case runtime.GOOS == "darwin":
		return Chain{NewHdiutilValidator(r, essential, logger), library}
	case runtime.GOOS == "linux" && os.Geteuid() == 0:
		return Chain{NewLoopMountValidator(r, essential, logger), library}
	}
	return library
}
