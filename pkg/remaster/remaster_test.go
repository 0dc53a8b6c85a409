package remaster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	iso "github.com/rstms/iso-remaster"
	itesting "github.com/rstms/iso-remaster/internal/testing"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/option"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
)

const patchedWim = "patched boot image"

type tools struct {
	withHive bool
	missing  string
}

// sideEffect stands in for wimlib-imagex and hivexsh. mkisofs and genisoimage are reported
// missing so the image is mastered in process.
func (tl *tools) sideEffect(command string, args ...string) ([]byte, error) {
	if command == tl.missing {
		return nil, errors.New("executable file not found")
	}
	if args[0] == "--help" {
		return nil, nil
	}
	switch {
	case command == "wimlib-imagex" && args[0] == "info":
		return []byte("Index:                  1\nName:                   Microsoft Windows PE\n"), nil
	case command == "wimlib-imagex" && args[0] == "extract":
		dest := strings.TrimPrefix(args[3], "--dest-dir=")
		tree := map[string]string{"/Windows/System32/config/SOFTWARE": "software"}
		if tl.withHive {
			tree["/Windows/System32/config/SYSTEM"] = "system"
		}
		return nil, itesting.WriteTree(dest, tree)
	case command == "wimlib-imagex" && args[0] == "capture":
		return nil, os.WriteFile(args[2], []byte(patchedWim), 0o644)
	case command == "hivexsh":
		return nil, nil
	}
	return nil, errors.New("unexpected command " + command)
}

type fixture struct {
	job   Job
	r     *Remaster
	mock  *runner.Mock
	tools *tools
	tmp   string
}

func newFixture(t *testing.T, treeB map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()
	a, err := itesting.AllExtensions(dir)
	require.NoError(t, err)
	b, err := itesting.Master(dir, "b.iso", treeB, option.WithVolumeIdentifier("WIN10_SOURCE"))
	require.NoError(t, err)

	tl := &tools{withHive: true}
	m := runner.NewMock()
	m.Missing = []string{"mkisofs", "genisoimage"}
	m.SideEffect = tl.sideEffect

	cfg := config.Default()
	r := New(cfg, m, validate.NewLibraryValidator(cfg.Policy.MountEssentialFiles, nil), nil)
	r.TempDir = t.TempDir()
	return &fixture{
		job:   Job{SourceA: a, SourceB: b, Output: filepath.Join(dir, "out.iso")},
		r:     r,
		mock:  m,
		tools: tl,
		tmp:   r.TempDir,
	}
}

func winTree(bootWim string) map[string]string {
	tree := map[string]string{}
	for p, data := range itesting.WindowsTree {
		tree[p] = data
	}
	tree["/sources/boot.wim"] = bootWim
	return tree
}

func stepNames(report *Report) []string {
	var names []string
	for _, s := range report.Steps {
		names = append(names, s.Name)
	}
	return names
}

func TestRun(t *testing.T) {
	f := newFixture(t, winTree("windows 10 boot image"))

	report, err := f.r.Run(context.Background(), f.job)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.NotEmpty(t, report.RunID)
	require.Equal(t, []string{
		STEP_VALIDATE_INPUTS, STEP_DEPENDENCIES, STEP_EXTRACT_B, STEP_EXTRACT_A, STEP_SWAP,
		STEP_PATCH, STEP_METADATA, STEP_BUILD, STEP_LABEL, STEP_VALIDATE,
	}, stepNames(report))
	require.Equal(t, "WIN10_SOURCE", report.SourceVolumeIdentifier)
	require.Equal(t, "CCCOMA_X64FRE_EN-US_DV9", report.Label)
	require.True(t, report.Patch.Applied)
	require.Equal(t, "1", report.Patch.Index)
	require.Empty(t, report.Warnings)
	require.NotNil(t, report.Analysis)
	require.Empty(t, report.Analysis.Missing)

	last := report.Attempts[len(report.Attempts)-1]
	require.True(t, last.Accepted)
	require.Equal(t, 1, f.mock.Count("wimlib-imagex", "extract"))
	require.Equal(t, 1, f.mock.Count("wimlib-imagex", "capture"))
	require.Equal(t, 1, f.mock.Count("hivexsh", "-w", "-f"))

	img, err := iso.Open(f.job.Output)
	require.NoError(t, err)
	defer img.Close()
	data, err := img.ReadFile(iso.Joliet, "/sources/boot.wim")
	require.NoError(t, err)
	require.Equal(t, patchedWim, string(data))
	data, err = img.ReadFile(iso.Joliet, "/sources/install.wim")
	require.NoError(t, err)
	require.Equal(t, itesting.WindowsTree["/sources/install.wim"], string(data))

	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunWithoutHive(t *testing.T) {
	f := newFixture(t, winTree("windows 10 boot image"))
	f.tools.withHive = false
	f.job.DisableValidation = true

	report, err := f.r.Run(context.Background(), f.job)
	require.NoError(t, err)
	require.True(t, report.Success)
	require.False(t, report.Patch.HiveFound)
	require.Len(t, report.Warnings, 1)
	var skipped *isoerr.PatchSkipped
	require.True(t, errors.As(report.Warnings[0], &skipped))
	require.Equal(t, 0, f.mock.Count("hivexsh", "-w"))
	require.Nil(t, report.Analysis)
	require.NotContains(t, stepNames(report), STEP_VALIDATE)

	img, err := iso.Open(f.job.Output)
	require.NoError(t, err)
	defer img.Close()
	data, err := img.ReadFile(iso.Joliet, "/sources/boot.wim")
	require.NoError(t, err)
	require.Equal(t, "windows 10 boot image", string(data))
}

func TestRunFailsWithoutSubImage(t *testing.T) {
	tree := winTree("")
	delete(tree, "/sources/boot.wim")
	delete(tree, "/sources/install.wim")
	f := newFixture(t, tree)

	report, err := f.r.Run(context.Background(), f.job)
	require.ErrorIs(t, err, isoerr.ErrNoSubImage)
	require.False(t, report.Success)
	require.Equal(t, STEP_EXTRACT_B, report.Steps[len(report.Steps)-1].Name)
	require.NoFileExists(t, f.job.Output)

	entries, err := os.ReadDir(f.tmp)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunFailsWhenLabelRebuildFails(t *testing.T) {
	f := newFixture(t, winTree("windows 10 boot image"))
	f.job.DisableValidation = true

	// The first build succeeds under a foreign label, the rebuild that forces the label fails.
	native := f.r.Builder().Native()
	calls := 0
	f.r.Builder().Strategies = []builder.Strategy{{
		Name: "wrong-label",
		Build: func(ctx context.Context, source string, d builder.Descriptor, output string) error {
			calls++
			if calls > 1 {
				return errors.New("mastering failed")
			}
			d.VolumeIdentifier = "WRONG_LABEL"
			return native.Build(ctx, source, d, output)
		},
	}}

	report, err := f.r.Run(context.Background(), f.job)
	require.Error(t, err)
	require.False(t, report.Success)
	require.Equal(t, 2, calls)
	var buildErr *isoerr.BuildError
	require.True(t, errors.As(err, &buildErr))
	require.Equal(t, STEP_LABEL, report.Steps[len(report.Steps)-1].Name)
	require.Empty(t, report.Warnings)
	require.NoFileExists(t, f.job.Output)
}

func TestRunChecksDependencies(t *testing.T) {
	f := newFixture(t, winTree("x"))
	f.tools.missing = "wimlib-imagex"

	report, err := f.r.Run(context.Background(), f.job)
	require.ErrorContains(t, err, "wimlib-imagex")
	require.Equal(t, []string{STEP_VALIDATE_INPUTS, STEP_DEPENDENCIES}, stepNames(report))
	require.Equal(t, []string{"wimlib-imagex"}, f.r.Dependencies(context.Background()))
}

func TestRunValidatesInputs(t *testing.T) {
	f := newFixture(t, winTree("x"))
	f.job.SourceB = filepath.Join(t.TempDir(), "missing.iso")

	report, err := f.r.Run(context.Background(), f.job)
	require.Error(t, err)
	require.Equal(t, []string{STEP_VALIDATE_INPUTS}, stepNames(report))
	require.Empty(t, f.mock.Cmds())
}

func TestRunIsExclusive(t *testing.T) {
	f := newFixture(t, winTree("x"))
	f.r.mu.Lock()
	_, err := f.r.Run(context.Background(), f.job)
	require.ErrorIs(t, err, isoerr.ErrBusy)
	f.r.mu.Unlock()
}

func TestStart(t *testing.T) {
	f := newFixture(t, winTree("windows 10 boot image"))
	f.job.DisableValidation = true

	result, ok := <-f.r.Start(context.Background(), f.job)
	require.True(t, ok)
	require.NoError(t, result.Err)
	require.True(t, result.Report.Success)
}
