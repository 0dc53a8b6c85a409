package hive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// DEFAULT_COMMAND is the hivex shell.
const DEFAULT_COMMAND = "hivexsh"

const scriptName = "hivex_script.txt"

// Editor applies patch specs to hive files.
type Editor struct {
	Command string
	runner  runner.Runner
	logger  *logging.Logger
}

// NewEditor returns an Editor that runs hivexsh through r.
func NewEditor(r runner.Runner, logger *logging.Logger) *Editor {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Editor{Command: DEFAULT_COMMAND, runner: r, logger: logger}
}

// Available reports whether hivexsh is installed. It exits 1 on --help, which counts.
func (e *Editor) Available(ctx context.Context) bool {
	_, err := e.runner.RunContext(ctx, e.Command, "--help")
	code := runner.ExitCode(err)
	return code == 0 || code == 1
}

// Apply merges spec into the hive file. A key that already exists is updated in place and keeps
// the values spec does not name; any other failure is returned. The script is written to
// workDir and removed afterwards.
func (e *Editor) Apply(ctx context.Context, hivePath string, spec PatchSpec, workDir string) error {
	script := filepath.Join(workDir, scriptName)
	defer os.Remove(script)

	out, err := e.run(ctx, hivePath, script, true, spec.CreateScript())
	if err != nil && strings.Contains(strings.ToLower(string(out)), "already exists") {
		key := strings.Join(spec.Path(), `\`)
		e.logger.Debug("key already exists, updating values", "key", key)
		// setval replaces every value of the key, so the ones already there are carried over.
		out, err = e.run(ctx, hivePath, script, false, spec.ListScript())
		if err != nil {
			return fmt.Errorf("failed to list values of %s in %s: %w", key, hivePath, err)
		}
		existing, bad := ParseValues(string(out))
		if len(bad) > 0 {
			return fmt.Errorf("cannot carry over values of %s in %s: unreadable lsval output %q", key, hivePath, bad)
		}
		e.logger.Debug("existing values", "key", key, "count", len(existing))
		out, err = e.run(ctx, hivePath, script, true, spec.Merge(existing).UpdateScript())
	}
	if err != nil {
		return fmt.Errorf("failed to apply registry patch to %s: %w", hivePath, err)
	}
	e.logger.Info("registry patch applied", "hive", hivePath, "key", strings.Join(spec.Path(), `\`), "values", len(spec.Values))
	e.logger.Trace("hivexsh output", "output", string(out))
	return nil
}

func (e *Editor) run(ctx context.Context, hivePath, script string, write bool, cmds []Command) ([]byte, error) {
	if err := os.WriteFile(script, []byte(Serialize(cmds)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write hivexsh script: %w", err)
	}
	if write {
		return e.runner.RunContext(ctx, e.Command, "-w", "-f", script, hivePath)
	}
	return e.runner.RunContext(ctx, e.Command, "-f", script, hivePath)
}
