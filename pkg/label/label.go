// Package label reads and forces the primary volume identifier of an image. Some consumers only
// recognize installation media by this label.
package label

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

const (
	pvdOffset        = 16 * consts.ISO9660_SECTOR_SIZE
	volumeIDOffset   = consts.ISO9660_VOLUME_ID_OFFSET
	volumeIDLength   = consts.ISO9660_VOLUME_ID_LENGTH
	standardIDOffset = 1
)

// Inspect returns the volume identifier of the primary volume descriptor at sector 16.
func Inspect(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, volumeIDOffset+volumeIDLength)
	if _, err := f.ReadAt(buf, pvdOffset); err != nil {
		if errors.Is(err, io.EOF) {
			return "", &isoerr.FormatError{Path: path, Reason: "file too short for a volume descriptor"}
		}
		return "", fmt.Errorf("failed to read volume descriptor of %s: %w", path, err)
	}
	if buf[0] != 1 || string(buf[standardIDOffset:standardIDOffset+5]) != consts.ISO9660_STD_IDENTIFIER {
		return "", &isoerr.FormatError{Path: path, Reason: "no primary volume descriptor at sector 16"}
	}
	return string(bytes.Trim(buf[volumeIDOffset:], " \x00")), nil
}

// Compatible reports whether label equals one of patterns exactly.
func Compatible(label string, patterns []string) bool {
	for _, p := range patterns {
		if label == p {
			return true
		}
	}
	return false
}

// Writer builds an image from a tree. *builder.Builder implements it.
type Writer interface {
	Write(ctx context.Context, source string, d builder.Descriptor, output string) (*builder.Outcome, error)
}

// Enforcer rebuilds images whose label is wrong.
type Enforcer struct {
	writer Writer
	policy *config.Policy
	logger *logging.Logger
}

func NewEnforcer(w Writer, policy *config.Policy, logger *logging.Logger) *Enforcer {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if policy == nil {
		policy = &config.Default().Policy
	}
	return &Enforcer{writer: w, policy: policy, logger: logger}
}

// Enforce makes target the volume identifier of the image at path. An image that already carries
// it is left alone. Otherwise the image is extracted, deleted and rebuilt; false is returned
// when the rebuilt image still has another label.
func (e *Enforcer) Enforce(ctx context.Context, path, target string) (bool, error) {
	current, err := Inspect(path)
	if err != nil {
		return false, err
	}
	if current == target {
		e.logger.Info("volume label already set", "path", path, "label", current)
		return true, nil
	}
	e.logger.Info("forcing volume label", "path", path, "current", current, "target", target)

	staging, err := os.MkdirTemp("", "isoremaster-label-")
	if err != nil {
		return false, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := e.extract(path, staging); err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", path, err)
	}

	d := builder.Descriptor{
		VolumeIdentifier:      target,
		ApplicationIdentifier: e.policy.ApplicationIdentifier,
		PublisherIdentifier:   e.policy.PublisherIdentifier,
	}
	if _, err := e.writer.Write(ctx, staging, d, path); err != nil {
		return false, fmt.Errorf("failed to rebuild %s: %w", path, err)
	}

	got, err := Inspect(path)
	if err != nil {
		return false, err
	}
	if got != target {
		e.logger.Warn("volume label update failed", "path", path, "current", got, "expected", target)
		return false, nil
	}
	e.logger.Info("volume label updated", "path", path, "label", got)
	return true, nil
}

func (e *Enforcer) extract(path, dest string) error {
	img, err := iso.Open(path, option.WithLogger(e.logger))
	if err != nil {
		return err
	}
	defer img.Close()
	result, err := img.ExtractAll(dest)
	if err != nil {
		return &isoerr.ExtractionError{What: path, Err: err}
	}
	if result.Files == 0 {
		return &isoerr.ExtractionError{What: path, Err: errors.New("image holds no files")}
	}
	return nil
}
