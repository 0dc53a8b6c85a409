package builder

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
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/runner"
	"github.com/rstms/iso-remaster/pkg/validate"
)

const megabyte = 1000 * 1000

var descriptor = Descriptor{
	VolumeIdentifier:      "CCCOMA_X64FRE_EN-US_DV9",
	ApplicationIdentifier: "Microsoft Windows",
	PublisherIdentifier:   "Microsoft Corporation",
}

type fakeValidator struct {
	mounted bool
	missing []string
	calls   int
}

func (f *fakeValidator) Name() string { return "fake" }

func (f *fakeValidator) Validate(_ context.Context, image string) (*validate.Report, error) {
	f.calls++
	if _, err := os.Stat(image); err != nil {
		return nil, err
	}
	if !f.mounted {
		return &validate.Report{Method: "fake"}, errors.New("mount failed")
	}
	return &validate.Report{Method: "fake", Mounted: true, Missing: f.missing}, nil
}

// sizedSource writes a tree holding one sparse file of size bytes.
func sizedSource(t *testing.T, size int64) string {
	t.Helper()
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "install.wim"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())
	return dir
}

// producing returns a side effect that writes an image of sizes[command] bytes at the -o argument.
// Commands without a size fail.
func producing(sizes map[string]int64) func(string, ...string) ([]byte, error) {
	return func(command string, args ...string) ([]byte, error) {
		if len(args) == 1 && args[0] == "--help" {
			return nil, nil
		}
		key := command
		for _, a := range args {
			if a == "-udf" {
				key = command + " -udf"
			}
		}
		size, ok := sizes[key]
		if !ok {
			return []byte("fatal error"), errors.New("exit status 1")
		}
		for i, a := range args {
			if a == "-o" {
				f, err := os.Create(args[i+1])
				if err != nil {
					return nil, err
				}
				defer f.Close()
				return nil, f.Truncate(size)
			}
		}
		return nil, errors.New("no output argument")
	}
}

func TestFirstAcceptedStrategyStopsTheChain(t *testing.T) {
	source := sizedSource(t, 10*megabyte)
	m := runner.NewMock()
	m.SideEffect = producing(map[string]int64{"mkisofs": 10 * megabyte})
	v := &fakeValidator{mounted: true}
	b := New(m, v, nil, nil)

	out := filepath.Join(t.TempDir(), "out.iso")
	outcome, err := b.Write(context.Background(), source, descriptor, out)
	require.NoError(t, err)
	require.Equal(t, METHOD_PRIMARY, outcome.Method)
	require.Len(t, outcome.Attempts, 1)
	require.True(t, outcome.Attempts[0].Accepted)
	require.Len(t, m.Cmds(), 1)
	require.Equal(t, 0, m.Count("genisoimage"))
	require.Equal(t, 1, v.calls)
	require.Empty(t, outcome.Warnings)

	require.NoError(t, m.CmdsMatch([][]string{{
		"mkisofs", "-iso-level", "2", "-J", "-R", "-no-emul-boot", "-boot-load-size", "4", "-boot-info-table",
		"-eltorito-boot", "boot/etfsboot.com",
		"-V", "CCCOMA_X64FRE_EN-US_DV9", "-A", "Microsoft Windows", "-publisher", "Microsoft Corporation",
		"-o", out, source,
	}}))
}

func TestUndersizedImageIsRejected(t *testing.T) {
	source := sizedSource(t, 10*megabyte)
	sizes := map[string]int64{"mkisofs": 3 * megabyte}
	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		out, err := producing(sizes)(command, args...)
		// Only the first mkisofs call is undersized.
		sizes["mkisofs"] = 10 * megabyte
		return out, err
	}
	b := New(m, &fakeValidator{mounted: true}, nil, nil)

	out := filepath.Join(t.TempDir(), "out.iso")
	outcome, err := b.Write(context.Background(), source, descriptor, out)
	require.NoError(t, err)
	require.Equal(t, METHOD_SIMPLE, outcome.Method)
	require.Len(t, outcome.Attempts, 2)
	require.False(t, outcome.Attempts[0].Accepted)
	require.Equal(t, int64(3*megabyte), outcome.Attempts[0].Size)
	require.Contains(t, outcome.Attempts[0].Reason, "undersized")
	require.Equal(t, 2, m.Count("mkisofs"))

	info, err := os.Stat(out)
	require.NoError(t, err)
	require.Equal(t, int64(10*megabyte), info.Size())
}

func TestUnmountableUDFImage(t *testing.T) {
	tests := []struct {
		name       string
		accept     bool
		wantMethod string
	}{
		{name: "accepted by policy", accept: true, wantMethod: METHOD_UDF},
		{name: "rejected by policy", accept: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := sizedSource(t, 10*megabyte)
			m := runner.NewMock()
			m.SideEffect = producing(map[string]int64{"mkisofs -udf": 9 * megabyte})
			cfg := config.Default()
			cfg.Policy.AcceptUnmountableUDF = tt.accept
			// Keep the in-process strategies out; they would need a real source tree.
			b := New(m, &fakeValidator{mounted: false}, cfg, nil)
			b.Strategies = b.Strategies[:4]

			out := filepath.Join(t.TempDir(), "out.iso")
			outcome, err := b.Write(context.Background(), source, descriptor, out)
			if tt.wantMethod == "" {
				var buildErr *isoerr.BuildError
				require.ErrorAs(t, err, &buildErr)
				require.Len(t, buildErr.Attempts, 4)
				require.Contains(t, buildErr.Attempts[3].Reason, "mount validation failed")
				require.NoFileExists(t, out)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantMethod, outcome.Method)
			require.Len(t, outcome.Warnings, 1)
			require.True(t, isoerr.IsWarning(outcome.Warnings[0]))
			require.FileExists(t, out)
		})
	}
}

func TestGenisoimageNeedsHelp(t *testing.T) {
	source := sizedSource(t, megabyte)
	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		if command == "genisoimage" {
			return nil, errors.New("exit status 2")
		}
		return producing(map[string]int64{"mkisofs -udf": megabyte})(command, args...)
	}
	b := New(m, &fakeValidator{mounted: true}, nil, nil)

	outcome, err := b.Write(context.Background(), source, descriptor, filepath.Join(t.TempDir(), "out.iso"))
	require.NoError(t, err)
	require.Equal(t, METHOD_UDF, outcome.Method)
	require.Equal(t, "not available", outcome.Attempts[2].Reason)
	require.Equal(t, 1, m.Count("genisoimage"))
	require.Equal(t, 0, m.Count("genisoimage", "-J"))
}

func TestUDFThresholdMovesUDFFirst(t *testing.T) {
	source := sizedSource(t, 2*megabyte)
	m := runner.NewMock()
	m.SideEffect = producing(map[string]int64{"mkisofs": 2 * megabyte, "mkisofs -udf": 2 * megabyte})
	cfg := config.Default()
	cfg.Policy.UDFThreshold = "1MiB"
	b := New(m, &fakeValidator{mounted: true}, cfg, nil)

	outcome, err := b.Write(context.Background(), source, descriptor, filepath.Join(t.TempDir(), "out.iso"))
	require.NoError(t, err)
	require.Equal(t, METHOD_UDF, outcome.Method)
	require.Len(t, m.Cmds(), 1)
	require.Contains(t, m.Cmds()[0], "-udf")
}

func TestMissingEssentialFilesOnlyWarn(t *testing.T) {
	source := sizedSource(t, megabyte)
	m := runner.NewMock()
	m.SideEffect = producing(map[string]int64{"mkisofs": megabyte})
	b := New(m, &fakeValidator{mounted: true, missing: []string{"bootmgr"}}, nil, nil)

	outcome, err := b.Write(context.Background(), source, descriptor, filepath.Join(t.TempDir(), "out.iso"))
	require.NoError(t, err)
	require.Equal(t, METHOD_PRIMARY, outcome.Method)
	require.Len(t, outcome.Warnings, 1)
	require.Contains(t, outcome.Warnings[0].Error(), "bootmgr")
}

func TestNativeStrategy(t *testing.T) {
	source := t.TempDir()
	tree := map[string]string{}
	for p, data := range itesting.WindowsTree {
		tree[p] = data
	}
	tree["/sources/"+strings.Repeat("n", 51)+".txt"] = "long name"
	tree["/sources/café.txt"] = "not ascii"
	tree["/"+strings.Repeat("d", 60)+"/"+strings.Repeat("f", 45)+".txt"] = "long path"
	require.NoError(t, itesting.WriteTree(source, tree))

	m := runner.NewMock()
	m.Missing = []string{"mkisofs", "genisoimage"}
	b := New(m, &fakeValidator{mounted: true}, nil, nil)

	out := filepath.Join(t.TempDir(), "out.iso")
	outcome, err := b.Write(context.Background(), source, descriptor, out)
	require.NoError(t, err)
	require.Equal(t, METHOD_NATIVE, outcome.Method)
	require.Len(t, outcome.Attempts, 5)
	require.Empty(t, m.Cmds())

	img, err := iso.Open(out)
	require.NoError(t, err)
	defer img.Close()
	require.Equal(t, descriptor.VolumeIdentifier, img.VolumeIdentifier())
	require.True(t, img.Has(iso.ElTorito))

	dest := t.TempDir()
	_, err = img.ExtractAll(dest)
	require.NoError(t, err)
	require.NoError(t, itesting.Validate(dest, itesting.WindowsTree))
}

func TestNativeStrategyCountsFilesBelowSkippedDirectories(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, itesting.WriteTree(source, map[string]string{
		"/ok.txt":                                      "ok",
		"/café/a.txt":                                  "a",
		"/café/sub/b.txt":                              "b",
		"/sources/" + strings.Repeat("n", 51) + ".txt": "long name",
	}))
	b := New(runner.NewMock(), &fakeValidator{mounted: true}, nil, nil)

	added, skipped, err := b.addTree(b.newImage(source, descriptor), source)
	require.NoError(t, err)
	require.Equal(t, 1, added)
	require.Equal(t, 3, skipped)
}

func TestNativeStrategyFlattensWhenNothingFits(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, itesting.WriteTree(source, map[string]string{
		"/" + strings.Repeat("a", 120) + "/bootmgr": "bootmgr",
		"/" + strings.Repeat("b", 120) + "/x.txt":   "x",
	}))
	b := New(runner.NewMock(), &fakeValidator{mounted: true}, nil, nil)

	out := filepath.Join(t.TempDir(), "out.iso")
	require.NoError(t, b.Native().Build(context.Background(), source, descriptor, out))

	img, err := iso.Open(out)
	require.NoError(t, err)
	defer img.Close()
	data, err := img.ReadFile(iso.Joliet, "/x.txt")
	require.NoError(t, err)
	require.Equal(t, "x", string(data))
	_, err = img.Stat(iso.Joliet, "/bootmgr")
	require.NoError(t, err)
}

func TestRescueStrategy(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, itesting.WriteTree(source, itesting.WindowsTree))
	b := New(runner.NewMock(), &fakeValidator{mounted: true}, nil, nil)

	out := filepath.Join(t.TempDir(), "rescue.iso")
	require.NoError(t, b.Rescue().Build(context.Background(), source, descriptor, out))

	img, err := iso.Open(out)
	require.NoError(t, err)
	defer img.Close()
	present, missing := validate.EssentialFiles(img, []string{
		"bootmgr", "setup.exe", "sources/boot.wim", "sources/install.wim", "efi/bootx64.efi", "autorun.inf",
	})
	require.Equal(t, []string{"bootmgr", "setup.exe", "sources/boot.wim", "sources/install.wim", "efi/bootx64.efi"}, present)
	require.Equal(t, []string{"autorun.inf"}, missing)

	data, err := img.ReadFile(iso.ISO9660, "/sources/install.wim")
	require.NoError(t, err)
	require.Equal(t, itesting.WindowsTree["/sources/install.wim"], string(data))
}

func TestRescueNeedsEssentialFiles(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, itesting.WriteTree(source, map[string]string{"/readme.txt": "x"}))
	b := New(runner.NewMock(), &fakeValidator{mounted: true}, nil, nil)
	require.Error(t, b.Rescue().Build(context.Background(), source, descriptor, filepath.Join(t.TempDir(), "out.iso")))
}

func TestTreeSize(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, itesting.WriteTree(source, itesting.WindowsTree))
	var want int64
	for _, data := range itesting.WindowsTree {
		want += int64(len(data))
	}
	got, err := TreeSize(source)
	require.NoError(t, err)
	require.Equal(t, want, got)
}
