// Package builder writes a staging tree into a disc image. Construction strategies are tried in
// order and every result passes a validation gate before it is accepted; a rejected image is
// deleted and the next strategy runs.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
)

// Descriptor carries the identifiers written into the primary volume descriptor.
type Descriptor struct {
	VolumeIdentifier      string
	ApplicationIdentifier string
	PublisherIdentifier   string
}

// Attempt is the audit record of one strategy.
type Attempt = isoerr.Attempt

// Strategy is one way of building an image. Available may be nil.
type Strategy struct {
	Name      string
	UDF       bool
	Available func(ctx context.Context) bool
	Build     func(ctx context.Context, source string, d Descriptor, output string) error
}

// Outcome describes the accepted image.
type Outcome struct {
	Method     string
	Size       int64
	SourceSize int64
	Attempts   []Attempt
	Report     *validate.Report
	// Warnings are *isoerr.ValidationWarning values raised while accepting the image.
	Warnings []error
}

// Builder runs the strategy chain.
type Builder struct {
	Policy     *config.Policy
	Tools      *config.Tools
	Strategies []Strategy

	runner    runner.Runner
	validator validate.Validator
	logger    *logging.Logger
}

// New returns a Builder with the default strategy chain.
func New(r runner.Runner, v validate.Validator, cfg *config.Config, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	b := &Builder{
		Policy:    &cfg.Policy,
		Tools:     &cfg.Tools,
		runner:    r,
		validator: v,
		logger:    logger,
	}
	b.Strategies = b.DefaultStrategies()
	return b
}

// DefaultStrategies returns the six strategies in their default order.
func (b *Builder) DefaultStrategies() []Strategy {
	return []Strategy{
		b.Primary(),
		b.Simple(),
		b.Genisoimage(),
		b.UDFStrategy(),
		b.Native(),
		b.Rescue(),
	}
}

// Write builds source into output. The first strategy whose image passes the gate wins; when
// none does, a *isoerr.BuildError lists every attempt.
func (b *Builder) Write(ctx context.Context, source string, d Descriptor, output string) (*Outcome, error) {
	sourceSize, err := TreeSize(source)
	if err != nil {
		return nil, fmt.Errorf("failed to size source tree %s: %w", source, err)
	}
	b.logger.Info("building image",
		"source", source,
		"size", humanize.IBytes(uint64(sourceSize)),
		"volume", d.VolumeIdentifier,
		"output", output)

	var attempts []Attempt
	for _, s := range b.order(sourceSize) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		attempt := Attempt{Method: s.Name}

		if s.Available != nil && !s.Available(ctx) {
			attempt.Reason = "not available"
			b.logger.Info("skipping strategy", "method", s.Name, "reason", attempt.Reason)
			attempts = append(attempts, attempt)
			continue
		}

		os.Remove(output)
		b.logger.Info("creating image", "method", s.Name)
		if err := s.Build(ctx, source, d, output); err != nil {
			os.Remove(output)
			attempt.Reason = err.Error()
			attempt.Duration = time.Since(start)
			b.logger.Warn("strategy failed", "method", s.Name, "error", err)
			attempts = append(attempts, attempt)
			continue
		}

		size, report, warnings, reason := b.gate(ctx, s, output, sourceSize)
		attempt.Size = size
		attempt.Duration = time.Since(start)
		if reason != "" {
			attempt.Reason = reason
			b.logger.Warn("image rejected", "method", s.Name, "reason", reason)
			attempts = append(attempts, attempt)
			continue
		}

		attempt.Accepted = true
		attempt.Reason = "accepted"
		attempts = append(attempts, attempt)
		for _, w := range warnings {
			b.logger.Warn("image accepted with warning", "method", s.Name, "warning", w)
		}
		b.logger.Info("image created",
			"method", s.Name,
			"size", humanize.IBytes(uint64(size)),
			"elapsed", attempt.Duration.Round(time.Millisecond))
		return &Outcome{
			Method:     s.Name,
			Size:       size,
			SourceSize: sourceSize,
			Attempts:   attempts,
			Report:     report,
			Warnings:   warnings,
		}, nil
	}
	return nil, &isoerr.BuildError{Attempts: attempts}
}

// order moves the UDF strategies to the front when the tree is above the UDF threshold.
func (b *Builder) order(sourceSize int64) []Strategy {
	threshold, err := b.Policy.UDFThresholdBytes()
	if err != nil || threshold <= 0 || sourceSize <= threshold {
		return b.Strategies
	}
	b.logger.Info("source tree exceeds UDF threshold, trying UDF first",
		"size", humanize.IBytes(uint64(sourceSize)),
		"threshold", humanize.IBytes(uint64(threshold)))
	var udf, rest []Strategy
	for _, s := range b.Strategies {
		if s.UDF {
			udf = append(udf, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(udf, rest...)
}

// gate validates output. A non-empty reason rejects the image, which is then deleted.
func (b *Builder) gate(ctx context.Context, s Strategy, output string, sourceSize int64) (int64, *validate.Report, []error, string) {
	info, err := os.Stat(output)
	if err != nil {
		return 0, nil, nil, "no output file was created"
	}
	size := info.Size()
	b.logger.Debug("checking image", "method", s.Name, "size", humanize.IBytes(uint64(size)))

	if float64(size) < float64(sourceSize)*b.Policy.SizeRatio {
		os.Remove(output)
		return size, nil, nil, fmt.Sprintf("undersized image: %s is below %.0f%% of the %s source tree",
			humanize.IBytes(uint64(size)), b.Policy.SizeRatio*100, humanize.IBytes(uint64(sourceSize)))
	}

	var warnings []error
	report, err := b.validator.Validate(ctx, output)
	if err != nil || report == nil || !report.Mounted {
		if err == nil {
			err = errors.New("image did not mount")
		}
		if s.UDF && b.Policy.AcceptUnmountableUDF && float64(size) >= float64(sourceSize)*b.Policy.UDFSizeRatio {
			warnings = append(warnings, &isoerr.ValidationWarning{
				Image:  output,
				Reason: fmt.Sprintf("full sized UDF image failed mount validation: %v", err),
			})
			return size, report, warnings, ""
		}
		os.Remove(output)
		return size, report, nil, fmt.Sprintf("mount validation failed: %v", err)
	}

	if len(report.Missing) > 0 {
		warnings = append(warnings, &isoerr.ValidationWarning{
			Image:  output,
			Reason: "missing essential files: " + strings.Join(report.Missing, ", "),
		})
	}
	return size, report, warnings, ""
}

// TreeSize sums the sizes of the regular files below root.
func TreeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
