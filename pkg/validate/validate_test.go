package validate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	itesting "github.com/rstms/iso-remaster/internal/testing"
	"github.com/rstms/iso-remaster/pkg/runner"
)

var essential = []string{"bootmgr", "setup.exe", "sources/boot.wim", "sources/install.wim"}

func TestParseMountPoint(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{
			name: "single partition",
			out:  "/dev/disk4          \t                               \t/Volumes/CCCOMA_X64FRE_EN-US_DV9\n",
			want: "/Volumes/CCCOMA_X64FRE_EN-US_DV9",
		},
		{
			name: "name with spaces",
			out:  "/dev/disk4\tGUID_partition_scheme\t\n/dev/disk4s1\tApple_HFS\t/Volumes/My Disc\n",
			want: "/Volumes/My Disc",
		},
		{
			name: "not mounted",
			out:  "/dev/disk4\tGUID_partition_scheme\t\n",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParseMountPoint([]byte(tt.out), "/Volumes/"))
		})
	}
}

func TestHdiutilValidator(t *testing.T) {
	volumes := t.TempDir()
	mp := filepath.Join(volumes, "CCCOMA_X64FRE_EN-US_DV9")
	require.NoError(t, itesting.WriteTree(mp, map[string]string{
		"/bootmgr":          "x",
		"/setup.exe":        "x",
		"/sources/boot.wim": "x",
	}))

	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		switch {
		case args[0] == "attach":
			return []byte("/dev/disk9\tGUID_partition_scheme\t\n/dev/disk9s1\tMicrosoft Basic Data\t" + mp + "\n"), nil
		case len(args) == 2:
			return nil, errors.New("resource busy")
		}
		return nil, nil
	}
	v := NewHdiutilValidator(m, essential, nil)
	v.Volumes = volumes + string(filepath.Separator)

	report, err := v.Validate(context.Background(), "out.iso")
	require.NoError(t, err)
	require.True(t, report.Mounted)
	require.Equal(t, mp, report.MountPoint)
	require.Equal(t, []string{"bootmgr", "setup.exe", "sources/boot.wim"}, report.Present)
	require.Equal(t, []string{"sources/install.wim"}, report.Missing)
	require.NoError(t, m.CmdsMatch([][]string{
		{"hdiutil", "attach", "out.iso", "-readonly"},
		{"hdiutil", "detach", mp},
		{"hdiutil", "detach", mp, "-force"},
	}))
}

func TestHdiutilAttachFailure(t *testing.T) {
	m := runner.NewMock()
	m.SideEffect = func(string, ...string) ([]byte, error) {
		return []byte("hdiutil: attach failed"), errors.New("exit status 1")
	}
	report, err := NewHdiutilValidator(m, essential, nil).Validate(context.Background(), "out.iso")
	require.Error(t, err)
	require.False(t, report.Mounted)
	require.Equal(t, 1, m.Count("hdiutil", "attach"))
}

func TestLoopMountValidator(t *testing.T) {
	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		if command == "mount" {
			return nil, itesting.WriteTree(args[len(args)-1], itesting.WindowsTree)
		}
		return nil, nil
	}
	report, err := NewLoopMountValidator(m, essential, nil).Validate(context.Background(), "out.iso")
	require.NoError(t, err)
	require.True(t, report.Mounted)
	require.Equal(t, essential, report.Present)
	require.Empty(t, report.Missing)
	require.Equal(t, 1, m.Count("mount", "-o", "loop,ro", "-t", "auto", "out.iso"))
	require.Equal(t, 1, m.Count("umount", report.MountPoint))
	_, err = os.Stat(report.MountPoint)
	require.True(t, os.IsNotExist(err))
}

func TestLibraryValidator(t *testing.T) {
	p, err := itesting.AllExtensions(t.TempDir())
	require.NoError(t, err)

	report, err := NewLibraryValidator(append(essential, "sources/missing.wim"), nil).Validate(context.Background(), p)
	require.NoError(t, err)
	require.True(t, report.Mounted)
	require.Equal(t, essential, report.Present)
	require.Equal(t, []string{"sources/missing.wim"}, report.Missing)
}

func TestLibraryValidatorRejectsJunk(t *testing.T) {
	p := filepath.Join(t.TempDir(), "junk.iso")
	require.NoError(t, os.WriteFile(p, make([]byte, 64*1024), 0o644))

	report, err := NewLibraryValidator(essential, nil).Validate(context.Background(), p)
	require.Error(t, err)
	require.False(t, report.Mounted)
}

type fixedValidator struct {
	name    string
	mounted bool
	err     error
	calls   int
}

func (f *fixedValidator) Name() string { return f.name }

func (f *fixedValidator) Validate(context.Context, string) (*Report, error) {
	f.calls++
	return &Report{Method: f.name, Mounted: f.mounted}, f.err
}

func TestChain(t *testing.T) {
	failing := &fixedValidator{name: "a", err: errors.New("no mount")}
	unmounted := &fixedValidator{name: "b"}
	good := &fixedValidator{name: "c", mounted: true}
	never := &fixedValidator{name: "d", mounted: true}

	report, err := Chain{failing, unmounted, good, never}.Validate(context.Background(), "x.iso")
	require.NoError(t, err)
	require.Equal(t, "c", report.Method)
	require.Equal(t, 0, never.calls)

	_, err = Chain{failing, unmounted}.Validate(context.Background(), "x.iso")
	require.ErrorContains(t, err, "b could not mount")
	require.Equal(t, "a,b", Chain{failing, unmounted}.Name())
}

func TestBootSignature(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 0x8000+512)
	p := filepath.Join(dir, "plain.iso")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	ok, err := BootSignature(p)
	require.NoError(t, err)
	require.False(t, ok)

	data[0x8000+510], data[0x8000+511] = 0x55, 0xAA
	p = filepath.Join(dir, "signed.iso")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	ok, err = BootSignature(p)
	require.NoError(t, err)
	require.True(t, ok)

	p = filepath.Join(dir, "short.iso")
	require.NoError(t, os.WriteFile(p, data[:100], 0o644))
	ok, err = BootSignature(p)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAnalyze(t *testing.T) {
	p, err := itesting.AllExtensions(t.TempDir())
	require.NoError(t, err)

	a, err := Analyze(p, []string{"bootmgr", "sources/nothere.wim"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"UDF", "Joliet", "ISO9660", "RockRidge", "ElTorito"}, a.Extensions)
	require.Equal(t, 1, a.ElToritoEntries)
	require.Equal(t, "ALL_EXTENSIONS", a.VolumeIdentifier)
	require.Equal(t, []string{"bootmgr"}, a.Present)
	require.Equal(t, []string{"sources/nothere.wim"}, a.Missing)
	require.Len(t, a.Root, 6)
	require.Contains(t, a.Root, "sources/")
	require.Contains(t, a.Lines(), "missing: sources/nothere.wim")
}
