// Package remaster sequences a whole run: both source images are extracted, the boot sub-image
// of the first is replaced by the one of the second and patched, and the result is written,
// labelled and validated.
package remaster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/bootimage"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/hive"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/label"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
	"github.com/rstms/iso-remaster/pkg/wim"
)

// Step names, in run order.
const (
	STEP_VALIDATE_INPUTS = "validate_inputs"
	STEP_DEPENDENCIES    = "check_dependencies"
	STEP_EXTRACT_B       = "win10_extract"
	STEP_EXTRACT_A       = "win11_extract"
	STEP_SWAP            = "swap_boot_image"
	STEP_PATCH           = "patch_boot_image"
	STEP_METADATA        = "metadata"
	STEP_BUILD           = "build"
	STEP_LABEL           = "label"
	STEP_VALIDATE        = "validate"
)

// Job names the inputs of a run. SourceA provides the installation content and SourceB the boot
// sub-image and the metadata.
type Job struct {
	SourceA           string
	SourceB           string
	Output            string
	DisableValidation bool
}

// Step records one completed or failed step.
type Step struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Report is the audit trail of a run.
type Report struct {
	RunID                  string
	Job                    Job
	Steps                  []Step
	SourceVolumeIdentifier string
	Patch                  *bootimage.PatchResult
	Attempts               []builder.Attempt
	Label                  string
	Analysis               *validate.Analysis
	Warnings               []error
	Success                bool
}

func (r *Report) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Result is delivered by Start.
type Result struct {
	Report *Report
	Err    error
}

// Remaster runs jobs one at a time.
type Remaster struct {
	// Spec is applied to the boot sub-image.
	Spec hive.PatchSpec
	// TempDir is the parent of the per-run scratch directories; empty means os.TempDir.
	TempDir string

	cfg       *config.Config
	wim       *wim.Tool
	editor    *hive.Editor
	patcher   *bootimage.Patcher
	builder   *builder.Builder
	enforcer  *label.Enforcer
	validator validate.Validator
	logger    *logging.Logger
	mu        sync.Mutex
}

// New wires a Remaster. A nil validator selects validate.Default for the host.
func New(cfg *config.Config, r runner.Runner, v validate.Validator, logger *logging.Logger) *Remaster {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if v == nil {
		v = validate.Default(r, cfg.Policy.MountEssentialFiles, logger)
	}
	w := wim.New(r, logger)
	w.Command = cfg.Tools.Wimlib
	e := hive.NewEditor(r, logger)
	e.Command = cfg.Tools.Hivexsh
	b := builder.New(r, v, cfg, logger)
	return &Remaster{
		Spec:      hive.DefaultPatchSpec(),
		cfg:       cfg,
		wim:       w,
		editor:    e,
		patcher:   bootimage.NewPatcher(w, e, logger),
		builder:   b,
		enforcer:  label.NewEnforcer(b, &cfg.Policy, logger),
		validator: v,
		logger:    logger,
	}
}

// Builder exposes the image writer so callers can adjust its strategies.
func (r *Remaster) Builder() *builder.Builder {
	return r.builder
}

// Start runs job on a new goroutine. The channel delivers one Result and is then closed.
func (r *Remaster) Start(ctx context.Context, job Job) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		report, err := r.Run(ctx, job)
		ch <- Result{Report: report, Err: err}
	}()
	return ch
}

// Run executes job. isoerr.ErrBusy is returned while another run is in progress. The report is
// returned along with any error and lists the steps that ran.
func (r *Remaster) Run(ctx context.Context, job Job) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, isoerr.ErrBusy
	}
	defer r.mu.Unlock()

	report := &Report{RunID: uuid.NewString(), Job: job}
	logger := r.logger.Named(report.RunID[:8])
	logger.Info("starting run", "sourceA", job.SourceA, "sourceB", job.SourceB, "output", job.Output)

	tmp, err := os.MkdirTemp(r.TempDir, "isoremaster-")
	if err != nil {
		return report, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	err = r.run(ctx, job, tmp, report, logger)
	if err != nil {
		logger.Error(err, "run failed")
		return report, err
	}
	report.Success = true
	logger.Info("run complete", "output", job.Output, "label", report.Label, "warnings", len(report.Warnings))
	return report, nil
}

func (r *Remaster) run(ctx context.Context, job Job, tmp string, report *Report, logger *logging.Logger) error {
	policy := &r.cfg.Policy
	step := func(name string, fn func() error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info("step", "name", name)
		start := time.Now()
		err := fn()
		report.Steps = append(report.Steps, Step{Name: name, Duration: time.Since(start), Err: err})
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}

	if err := step(STEP_VALIDATE_INPUTS, func() error { return validateInputs(job) }); err != nil {
		return err
	}
	if err := step(STEP_DEPENDENCIES, func() error { return r.checkDependencies(ctx) }); err != nil {
		return err
	}

	win10 := filepath.Join(tmp, "win10_extract")
	win11 := filepath.Join(tmp, "win11_extract")
	var bootB, bootA string
	if err := step(STEP_EXTRACT_B, func() (err error) {
		bootB, err = r.extract(ctx, job.SourceB, win10, logger)
		return err
	}); err != nil {
		return err
	}
	if err := step(STEP_EXTRACT_A, func() (err error) {
		bootA, err = r.extract(ctx, job.SourceA, win11, logger)
		if err == nil {
			bootimage.VersionFiles(win11, logger)
		}
		return err
	}); err != nil {
		return err
	}

	if err := step(STEP_SWAP, func() error {
		logger.Info("replacing boot image", "target", bootA, "source", bootB)
		return bootimage.Swap(bootA, bootB)
	}); err != nil {
		return err
	}

	if err := step(STEP_PATCH, func() error {
		pctx, cancel := context.WithTimeout(ctx, policy.Timeouts.Patch)
		defer cancel()
		res, err := r.patcher.Patch(pctx, bootA, r.Spec, tmp)
		report.Patch = res
		var skipped *isoerr.PatchSkipped
		if errors.As(err, &skipped) {
			logger.Warn("continuing without registry patch", "reason", skipped.Reason)
			report.warn(skipped)
			return nil
		}
		return err
	}); err != nil {
		return err
	}

	var d builder.Descriptor
	if err := step(STEP_METADATA, func() (err error) {
		d, err = r.metadata(job.SourceB, report, logger)
		return err
	}); err != nil {
		return err
	}

	if err := step(STEP_BUILD, func() error {
		outcome, err := r.builder.Write(ctx, win11, d, job.Output)
		var buildErr *isoerr.BuildError
		if errors.As(err, &buildErr) {
			report.Attempts = buildErr.Attempts
		}
		if err != nil {
			return err
		}
		report.Attempts = outcome.Attempts
		for _, w := range outcome.Warnings {
			report.warn(w)
		}
		return nil
	}); err != nil {
		return err
	}

	if err := step(STEP_LABEL, func() error {
		return r.label(ctx, job.Output, report, logger)
	}); err != nil {
		return err
	}

	if job.DisableValidation {
		logger.Warn("validation disabled, skipping file checks")
		return nil
	}
	return step(STEP_VALIDATE, func() error {
		r.validate(ctx, job.Output, report, logger)
		return nil
	})
}

func validateInputs(job Job) error {
	if job.SourceA == "" || job.SourceB == "" || job.Output == "" {
		return errors.New("both source images and an output path are required")
	}
	for _, p := range []string{job.SourceA, job.SourceB} {
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("source image: %w", err)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("source image %s is not a regular file", p)
		}
	}
	dir := filepath.Dir(job.Output)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("output directory %s does not exist", dir)
	}
	return nil
}

// Dependencies reports which required external tools are missing.
func (r *Remaster) Dependencies(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Policy.Timeouts.Mount)
	defer cancel()
	var missing []string
	if !r.wim.Available(ctx) {
		missing = append(missing, r.wim.Command)
	}
	if !r.editor.Available(ctx) {
		missing = append(missing, r.editor.Command)
	}
	return missing
}

func (r *Remaster) checkDependencies(ctx context.Context) error {
	if missing := r.Dependencies(ctx); len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %v", missing)
	}
	return nil
}

// extract unpacks image into dest and returns the path of its boot sub-image.
func (r *Remaster) extract(ctx context.Context, image, dest string, logger *logging.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Policy.Timeouts.Extract)
	defer cancel()

	img, err := iso.Open(image, option.WithLogger(logger), option.WithCrossCheck(true))
	if err != nil {
		return "", err
	}
	defer img.Close()
	logger.Info("extracting image", "path", image, "extensions", img.ExtensionString())
	if _, err := img.ExtractAllContext(ctx, dest); err != nil {
		return "", &isoerr.ExtractionError{What: image, Err: err}
	}
	return bootimage.Locate(dest, bootimage.DEFAULT_NAME, logger)
}

// metadata reads the identifiers of image. The volume identifier of the policy always wins.
func (r *Remaster) metadata(image string, report *Report, logger *logging.Logger) (builder.Descriptor, error) {
	policy := &r.cfg.Policy
	d := builder.Descriptor{
		VolumeIdentifier:      policy.VolumeIdentifier,
		ApplicationIdentifier: policy.ApplicationIdentifier,
		PublisherIdentifier:   policy.PublisherIdentifier,
	}
	img, err := iso.Open(image, option.WithLogger(logger))
	if err != nil {
		return d, err
	}
	defer img.Close()
	report.SourceVolumeIdentifier = img.VolumeIdentifier()
	logger.Info("source metadata",
		"volume", img.VolumeIdentifier(),
		"application", img.ApplicationIdentifier(),
		"publisher", img.PublisherIdentifier(),
		"forcedVolume", d.VolumeIdentifier)
	return d, nil
}

// label inspects the produced label and forces the policy label when it is not accepted. A
// failure to force it is a warning.
func (r *Remaster) label(ctx context.Context, output string, report *Report, logger *logging.Logger) error {
	policy := &r.cfg.Policy
	current, err := label.Inspect(output)
	if err != nil {
		return err
	}
	report.Label = current
	if label.Compatible(current, policy.AcceptedLabels) {
		logger.Info("volume label is compatible", "label", current)
		return nil
	}

	logger.Warn("volume label is not compatible, forcing it", "label", current, "target", policy.VolumeIdentifier)
	// The enforcer deletes the output before rebuilding it, so its errors leave no image behind.
	ok, err := r.enforcer.Enforce(ctx, output, policy.VolumeIdentifier)
	if err != nil {
		return err
	}
	if !ok {
		report.warn(&isoerr.ValidationWarning{
			Image:  output,
			Reason: fmt.Sprintf("could not force volume label %s", policy.VolumeIdentifier),
		})
	}
	if current, err := label.Inspect(output); err == nil {
		report.Label = current
	}
	return nil
}

// validate analyzes the produced image and asks the mount oracle about it. Findings are warnings.
func (r *Remaster) validate(ctx context.Context, output string, report *Report, logger *logging.Logger) {
	policy := &r.cfg.Policy
	analysis, err := validate.Analyze(output, policy.MountEssentialFiles, logger)
	report.Analysis = analysis
	if err != nil {
		report.warn(&isoerr.ValidationWarning{Image: output, Reason: fmt.Sprintf("analysis failed: %v", err)})
	}
	if analysis != nil {
		if !analysis.BootSignature {
			logger.Debug("no boot signature at 0x8000", "image", output)
		}
		if len(analysis.Missing) > 0 {
			report.warn(&isoerr.ValidationWarning{Image: output, Reason: fmt.Sprintf("essential files missing: %v", analysis.Missing)})
		}
	}

	mctx, cancel := context.WithTimeout(ctx, policy.Timeouts.Mount)
	defer cancel()
	mount, err := r.validator.Validate(mctx, output)
	if err != nil || mount == nil || !mount.Mounted {
		report.warn(&isoerr.ValidationWarning{Image: output, Reason: fmt.Sprintf("image may not mount: %v", err)})
	}

	if len(report.Warnings) > 0 && analysis != nil {
		for _, line := range analysis.Lines() {
			logger.Info("debug report", "line", line)
		}
	}
}
