package validate

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// DEFAULT_MOUNT_TIMEOUT bounds each attach, mount and detach call.
const DEFAULT_MOUNT_TIMEOUT = 30 * time.Second

// HdiutilValidator attaches the image read-only with hdiutil.
type HdiutilValidator struct {
	Command   string
	// Volumes is the directory hdiutil mounts below.
	Volumes   string
	Timeout   time.Duration
	Essential []string
	runner    runner.Runner
	logger    *logging.Logger
}

func NewHdiutilValidator(r runner.Runner, essential []string, logger *logging.Logger) *HdiutilValidator {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &HdiutilValidator{Command: "hdiutil", Volumes: "/Volumes/", Timeout: DEFAULT_MOUNT_TIMEOUT, Essential: essential, runner: r, logger: logger}
}

func (v *HdiutilValidator) Name() string { return "hdiutil" }

func (v *HdiutilValidator) Validate(ctx context.Context, image string) (*Report, error) {
	report := &Report{Method: v.Name()}
	attachCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	out, err := v.runner.RunContext(attachCtx, v.Command, "attach", image, "-readonly")
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to attach %s: %w", image, err)
	}
	mp := ParseMountPoint(out, v.Volumes)
	if mp == "" {
		return report, fmt.Errorf("could not determine mount point of %s from hdiutil output", image)
	}
	report.Mounted, report.MountPoint = true, mp
	v.logger.Debug("image attached", "image", image, "mountPoint", mp)

	report.Present, report.Missing = checkFiles(mp, v.Essential)
	v.detach(ctx, mp)
	return report, nil
}

func (v *HdiutilValidator) detach(ctx context.Context, mp string) {
	detachCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()
	if _, err := v.runner.RunContext(detachCtx, v.Command, "detach", mp); err == nil {
		return
	}
	forceCtx, cancelForce := context.WithTimeout(ctx, v.Timeout)
	defer cancelForce()
	if _, err := v.runner.RunContext(forceCtx, v.Command, "detach", mp, "-force"); err != nil {
		v.logger.Warn("could not detach image", "mountPoint", mp, "error", err)
	}
}

// ParseMountPoint returns the path below volumes on the first /dev/disk line of hdiutil attach
// output that has one.
func ParseMountPoint(out []byte, volumes string) string {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "/dev/disk") {
			continue
		}
		// The mount point is the last column and may contain spaces.
		if i := strings.Index(line, volumes); i >= 0 {
			return strings.TrimSpace(line[i:])
		}
	}
	return ""
}

// LoopMountValidator loop mounts the image read-only. It needs root.
type LoopMountValidator struct {
	MountCommand  string
	UmountCommand string
	Timeout       time.Duration
	Essential     []string
	runner        runner.Runner
	logger        *logging.Logger
}

func NewLoopMountValidator(r runner.Runner, essential []string, logger *logging.Logger) *LoopMountValidator {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &LoopMountValidator{
		MountCommand:  "mount",
		UmountCommand: "umount",
		Timeout:       DEFAULT_MOUNT_TIMEOUT,
		Essential:     essential,
		runner:        r,
		logger:        logger,
	}
}

func (v *LoopMountValidator) Name() string { return "loop-mount" }

func (v *LoopMountValidator) Validate(ctx context.Context, image string) (*Report, error) {
	report := &Report{Method: v.Name()}
	mp, err := os.MkdirTemp("", "isoremaster-mnt-")
	if err != nil {
		return report, fmt.Errorf("failed to create mount point: %w", err)
	}
	defer os.RemoveAll(mp)

	mountCtx, cancel := context.WithTimeout(ctx, v.Timeout)
	_, err = v.runner.RunContext(mountCtx, v.MountCommand, "-o", "loop,ro", "-t", "auto", image, mp)
	cancel()
	if err != nil {
		return report, fmt.Errorf("failed to mount %s: %w", image, err)
	}
	report.Mounted, report.MountPoint = true, mp
	report.Present, report.Missing = checkFiles(mp, v.Essential)

	umountCtx, cancelUmount := context.WithTimeout(ctx, v.Timeout)
	defer cancelUmount()
	if _, err := v.runner.RunContext(umountCtx, v.UmountCommand, mp); err != nil {
		v.logger.Warn("could not unmount image", "mountPoint", mp, "error", err)
	}
	return report, nil
}
