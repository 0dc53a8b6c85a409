// Package runner executes external tools. Every tool invocation of the pipeline goes through a
// Runner so tests can replace the tools with a Mock.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/logging"
)

// Runner runs external commands and returns their combined output.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
	RunContext(ctx context.Context, command string, args ...string) ([]byte, error)
	// LookPath reports whether command can be found.
	LookPath(command string) bool
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Output  []byte
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Code, strings.TrimSpace(string(e.Output)))
}

// ExitCode returns the exit status carried by err, 0 for nil and -1 when the command did not
// run to completion.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

type execRunner struct {
	logger  *logging.Logger
	timeout time.Duration
}

// New returns a Runner backed by os/exec. A positive timeout bounds every Run call;
// RunContext is bounded by its context only.
func New(logger *logging.Logger, timeout time.Duration) Runner {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &execRunner{logger: logger, timeout: timeout}
}

func (r *execRunner) Run(command string, args ...string) ([]byte, error) {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.RunContext(ctx, command, args...)
}

func (r *execRunner) RunContext(ctx context.Context, command string, args ...string) ([]byte, error) {
	r.logger.Debug("running command", "command", command, "args", strings.Join(args, " "))
	start := time.Now()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children that inherit the output pipes must not hold Wait open after a kill.
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	r.logger.Trace("command finished", "command", command, "duration", time.Since(start), "output", out.String())

	if ctx.Err() != nil {
		return out.Bytes(), fmt.Errorf("%s did not finish: %w", command, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), &ExitError{Command: command, Code: exitErr.ExitCode(), Output: out.Bytes()}
	}
	if err != nil {
		return out.Bytes(), fmt.Errorf("failed to run %s: %w", command, err)
	}
	return out.Bytes(), nil
}

func (r *execRunner) LookPath(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
