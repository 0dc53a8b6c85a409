package action

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/rstms/iso-remaster/internal/cli/app"
	"github.com/rstms/iso-remaster/internal/cli/cmd"
	itesting "github.com/rstms/iso-remaster/internal/testing"
	"github.com/rstms/iso-remaster/pkg/builder"
	"github.com/rstms/iso-remaster/pkg/config"
	"github.com/rstms/iso-remaster/pkg/label"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/runner"
)

// run executes the application with an Env backed by m and returns what the command printed.
func run(t *testing.T, m *runner.Mock, args ...string) (string, error) {
	t.Helper()
	setup := func(ctx *cli.Context) error {
		ctx.App.Metadata[cmd.ENV_KEY] = &cmd.Env{
			Config: config.Default(),
			Runner: m,
			Logger: logging.DefaultLogger(),
		}
		return nil
	}
	a := app.New(cmd.Usage, cmd.GlobalFlags(), setup, cmd.Teardown,
		cmd.NewWriteCommand("test", Write),
		cmd.NewExtractCommand("test", Extract),
		cmd.NewLabelCommand("test", LabelInspect, LabelEnforce),
		cmd.NewAnalyzeCommand("test", Analyze),
		cmd.NewDepsCommand("test", Deps),
		cmd.NewInitConfigCommand("test", InitConfig),
		cmd.NewVersionCommand("test"))
	out := &bytes.Buffer{}
	a.Writer = out
	a.ErrWriter = out
	err := a.Run(append([]string{"test"}, args...))
	return out.String(), err
}

func TestLabelInspect(t *testing.T) {
	image, err := itesting.AllExtensions(t.TempDir())
	require.NoError(t, err)

	out, err := run(t, runner.NewMock(), "label", "inspect", image)
	require.NoError(t, err)
	require.Equal(t, "ALL_EXTENSIONS\taccepted=false\n", out)
}

func TestLabelInspectNeedsImage(t *testing.T) {
	_, err := run(t, runner.NewMock(), "label", "inspect")
	require.ErrorContains(t, err, "expected 1 argument")
}

func TestAnalyze(t *testing.T) {
	image, err := itesting.AllExtensions(t.TempDir())
	require.NoError(t, err)

	out, err := run(t, runner.NewMock(), "analyze", image)
	require.NoError(t, err)
	require.Contains(t, out, "extensions: ")
	require.Contains(t, out, "present: sources/boot.wim")
	require.Contains(t, out, "root: sources/")
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	image, err := itesting.AllExtensions(dir)
	require.NoError(t, err)
	dest := filepath.Join(dir, "out")

	out, err := run(t, runner.NewMock(), "extract", "--dest", dest, image)
	require.NoError(t, err)
	require.Contains(t, out, "UDF")
	require.Contains(t, out, "files=12")

	data, err := os.ReadFile(filepath.Join(dest, "sources", "setup.exe"))
	require.NoError(t, err)
	require.Equal(t, "sources setup", string(data))
}

func TestWriteNative(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "tree")
	require.NoError(t, itesting.WriteTree(source, itesting.WindowsTree))
	output := filepath.Join(dir, "out.iso")
	cmd.WriteArgs = cmd.WriteFlags{}

	m := runner.NewMock()
	out, err := run(t, m, "write", "-V", "WRITTEN", "--strategy", builder.METHOD_NATIVE, source, output)
	require.NoError(t, err)
	require.Contains(t, out, "written by "+builder.METHOD_NATIVE)
	require.Zero(t, m.Count("mkisofs"))

	current, err := label.Inspect(output)
	require.NoError(t, err)
	require.Equal(t, "WRITTEN", current)
}

func TestWriteUnknownStrategy(t *testing.T) {
	dir := t.TempDir()
	cmd.WriteArgs = cmd.WriteFlags{}
	_, err := run(t, runner.NewMock(), "write", "--strategy", "floppy", dir, filepath.Join(dir, "out.iso"))
	require.ErrorContains(t, err, `unknown strategy "floppy"`)
}

func TestDepsReportsMissingTools(t *testing.T) {
	m := runner.NewMock()
	m.Missing = []string{"mkisofs"}
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		if command == "hivexsh" {
			return nil, &runner.ExitError{Command: command, Code: 127}
		}
		return nil, nil
	}

	out, err := run(t, m, "deps")
	require.ErrorContains(t, err, "hivexsh")
	require.Contains(t, out, "hivexsh")
	require.Contains(t, out, builder.METHOD_PRIMARY)
	require.Contains(t, out, "unavailable")
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isoremaster.toml")
	_, err := run(t, runner.NewMock(), "init-config", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.Default().Policy.VolumeIdentifier, cfg.Policy.VolumeIdentifier)
}

func TestVersion(t *testing.T) {
	out, err := run(t, runner.NewMock(), "version")
	require.NoError(t, err)
	require.Equal(t, "test "+app.Version+"\n", out)
}
