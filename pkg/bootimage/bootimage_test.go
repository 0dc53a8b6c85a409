package bootimage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	itesting "github.com/rstms/iso-remaster/internal/testing"
	"github.com/rstms/iso-remaster/pkg/hive"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/wim"
)

func TestLocate(t *testing.T) {
	tests := []struct {
		name string
		tree map[string]string
		want string
	}{
		{"canonical", map[string]string{"/sources/boot.wim": "a"}, "sources/boot.wim"},
		{"upper case directory", map[string]string{"/SOURCES/boot.wim": "a"}, "SOURCES/boot.wim"},
		{"nested", map[string]string{"/x/y/BOOT.WIM": "a"}, "x/y/BOOT.WIM"},
		{"any container", map[string]string{"/x/winpe.wim": "a", "/readme.txt": "b"}, "x/winpe.wim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, itesting.WriteTree(root, tt.tree))
			got, err := Locate(root, "", nil)
			require.NoError(t, err)
			require.Equal(t, filepath.Join(root, filepath.FromSlash(tt.want)), got)
		})
	}
}

func TestLocateMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, itesting.WriteTree(root, map[string]string{"/sources/install.esd": "x"}))
	_, err := Locate(root, DEFAULT_NAME, nil)
	var extractErr *isoerr.ExtractionError
	require.True(t, errors.As(err, &extractErr))
	require.ErrorIs(t, err, isoerr.ErrNoSubImage)
}

func TestListTreeStopsAtDepth(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, itesting.WriteTree(root, map[string]string{"/a/b/c/d.txt": "x", "/top.txt": "12345"}))
	lines := ListTree(root, 3)
	require.Equal(t, []string{"a/", "  b/", "    c/", "top.txt (5 bytes)"}, lines)
}

func TestSwapCopiesMetadata(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source.wim")
	target := filepath.Join(dir, "target.wim")
	require.NoError(t, os.WriteFile(source, []byte("windows 10 winpe"), 0o640))
	require.NoError(t, os.WriteFile(target, []byte("windows 11 winpe, longer"), 0o644))
	mtime := time.Date(2021, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(source, mtime, mtime))

	require.NoError(t, Swap(target, source))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "windows 10 winpe", string(data))
	info, err := os.Stat(target)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	require.True(t, info.ModTime().Equal(mtime))
}

func TestVersionFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, itesting.WriteTree(root, itesting.WindowsTree))
	require.Equal(t, VERSION_FILES, VersionFiles(root, nil))
}

// fakeTools answers wimlib-imagex and hivexsh. withHive controls whether extraction produces a
// SYSTEM hive.
func fakeTools(withHive bool, extractErr error) *runner.Mock {
	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		if command != wim.DEFAULT_COMMAND {
			return nil, nil
		}
		switch args[0] {
		case "info":
			return []byte("Index: 2\nName: Setup\n"), nil
		case "extract":
			if extractErr != nil {
				return nil, extractErr
			}
			dest := strings.TrimPrefix(args[3], "--dest-dir=")
			config := filepath.Join(dest, "Windows", "System32", "config")
			if err := os.MkdirAll(config, 0o755); err != nil {
				return nil, err
			}
			name := "SOFTWARE"
			if withHive {
				name = "SYSTEM"
			}
			return nil, os.WriteFile(filepath.Join(config, name), []byte("regf"), 0o644)
		}
		return nil, nil
	}
	return m
}

func newPatcher(m *runner.Mock) *Patcher {
	return NewPatcher(wim.New(m, nil), hive.NewEditor(m, nil), nil)
}

func writeSubImage(t *testing.T) (string, string) {
	dir := t.TempDir()
	p := filepath.Join(dir, "boot.wim")
	require.NoError(t, os.WriteFile(p, []byte("wim"), 0o644))
	return p, dir
}

func TestPatch(t *testing.T) {
	subImage, work := writeSubImage(t)
	m := fakeTools(true, nil)

	res, err := newPatcher(m).Patch(context.Background(), subImage, hive.DefaultPatchSpec(), work)
	require.NoError(t, err)
	require.Equal(t, "2", res.Index)
	require.True(t, res.HiveFound)
	require.True(t, res.Applied)

	dest := filepath.Join(work, "boot_wim_extract")
	require.NoError(t, m.CmdsMatch([][]string{
		{"wimlib-imagex", "info", subImage},
		{"wimlib-imagex", "extract", subImage, "2", "--dest-dir=" + dest, "--no-acls"},
		{"hivexsh", "-w", "-f"},
		{"wimlib-imagex", "capture", dest, subImage, "--compress=LZX", "--check", "--boot"},
	}))
	_, err = os.Stat(dest)
	require.True(t, os.IsNotExist(err))
}

func TestPatchSkippedWithoutHive(t *testing.T) {
	subImage, work := writeSubImage(t)
	m := fakeTools(false, nil)

	res, err := newPatcher(m).Patch(context.Background(), subImage, hive.DefaultPatchSpec(), work)
	var skipped *isoerr.PatchSkipped
	require.True(t, errors.As(err, &skipped))
	require.True(t, isoerr.IsWarning(err))
	require.False(t, res.HiveFound)
	require.Zero(t, m.Count("hivexsh"))
	require.Zero(t, m.Count("wimlib-imagex", "capture"))
}

func TestPatchExtractFailureIsFatal(t *testing.T) {
	subImage, work := writeSubImage(t)
	m := fakeTools(true, &runner.ExitError{Command: "wimlib-imagex", Code: 1})

	_, err := newPatcher(m).Patch(context.Background(), subImage, hive.DefaultPatchSpec(), work)
	var extractErr *isoerr.ExtractionError
	require.True(t, errors.As(err, &extractErr))
	require.False(t, isoerr.IsWarning(err))
	require.Zero(t, m.Count("wimlib-imagex", "capture"))
}

func TestFindHiveIgnoresCase(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, itesting.WriteTree(root, map[string]string{"/windows/system32/Config/system": "regf"}))
	p, ok := findHive(root)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "windows", "system32", "Config", "system"), p)
}
