// Package wim drives wimlib-imagex to list, extract and recapture the images of a WIM container.
package wim

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// DEFAULT_COMMAND is the wimlib front end.
const DEFAULT_COMMAND = "wimlib-imagex"

// DEFAULT_INDEX is used when the container cannot be queried or lists no image.
const DEFAULT_INDEX = "1"

// Tool runs container operations through a runner.
type Tool struct {
	Command string
	runner  runner.Runner
	logger  *logging.Logger
}

// New returns a Tool that runs wimlib-imagex through r.
func New(r runner.Runner, logger *logging.Logger) *Tool {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Tool{Command: DEFAULT_COMMAND, runner: r, logger: logger}
}

// Available reports whether the tool answers --help with exit status 0.
func (t *Tool) Available(ctx context.Context) bool {
	_, err := t.runner.RunContext(ctx, t.Command, "--help")
	return err == nil
}

// Info returns the image indices of the container, in the order listed.
func (t *Tool) Info(ctx context.Context, path string) ([]string, error) {
	out, err := t.runner.RunContext(ctx, t.Command, "info", path)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", path, err)
	}
	return ParseIndices(out), nil
}

// FirstIndex returns the first image index of the container, or DEFAULT_INDEX when the query
// fails or lists nothing.
func (t *Tool) FirstIndex(ctx context.Context, path string) string {
	indices, err := t.Info(ctx, path)
	if err != nil {
		t.logger.Warn("could not list container images, using default index", "path", path, "error", err)
		return DEFAULT_INDEX
	}
	if len(indices) == 0 {
		t.logger.Warn("container lists no images, using default index", "path", path)
		return DEFAULT_INDEX
	}
	t.logger.Debug("container images", "path", path, "indices", indices)
	return indices[0]
}

// ParseIndices collects the values of "Index:" lines from info output.
func ParseIndices(out []byte) []string {
	var indices []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		i := strings.Index(line, "Index:")
		if i < 0 {
			continue
		}
		if idx := strings.TrimSpace(line[i+len("Index:"):]); idx != "" {
			indices = append(indices, idx)
		}
	}
	return indices
}

// Extract unpacks image index of the container into dest.
func (t *Tool) Extract(ctx context.Context, path, index, dest string) error {
	if _, err := t.runner.RunContext(ctx, t.Command, "extract", path, index, "--dest-dir="+dest, "--no-acls"); err != nil {
		return fmt.Errorf("failed to extract image %s of %s: %w", index, path, err)
	}
	return nil
}

// Capture packs dir into the container at path as a bootable LZX compressed image, replacing
// the file. The new container holds that single image; any other index of the old one is gone.
func (t *Tool) Capture(ctx context.Context, dir, path string) error {
	if _, err := t.runner.RunContext(ctx, t.Command, "capture", dir, path, "--compress=LZX", "--check", "--boot"); err != nil {
		return fmt.Errorf("failed to capture %s into %s: %w", dir, path, err)
	}
	return nil
}
