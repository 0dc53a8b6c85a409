package wim

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rstms/iso-remaster/pkg/runner"
)

const infoOutput = `WIM Information:
----------------
Path:           boot.wim
GUID:           0x5d4d8a8e5e0b4c4a9b1b0a0f2f0f0a0b
Version:        68864
Image Count:    2
Compression:    LZX
Boot Index:     2

Available Images:
-----------------
Index:                  1
Name:                   Microsoft Windows PE (amd64)

Index:                  2
Name:                   Microsoft Windows Setup (amd64)
`

func TestParseIndices(t *testing.T) {
	require.Equal(t, []string{"1", "2"}, ParseIndices([]byte(infoOutput)))
	require.Empty(t, ParseIndices([]byte("Boot Index: 2\n")))
	require.Empty(t, ParseIndices(nil))
}

func TestFirstIndex(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   string
	}{
		{"listed", infoOutput, nil, "1"},
		{"nothing listed", "Image Count: 0\n", nil, DEFAULT_INDEX},
		{"query failed", "", errors.New("exit 1"), DEFAULT_INDEX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := runner.NewMock()
			m.SideEffect = func(string, ...string) ([]byte, error) { return []byte(tt.output), tt.err }
			require.Equal(t, tt.want, New(m, nil).FirstIndex(context.Background(), "boot.wim"))
		})
	}
}

func TestCommandContracts(t *testing.T) {
	m := runner.NewMock()
	tool := New(m, nil)
	ctx := context.Background()

	require.NoError(t, tool.Extract(ctx, "boot.wim", "2", "/tmp/x"))
	require.NoError(t, tool.Capture(ctx, "/tmp/x", "boot.wim"))
	require.True(t, tool.Available(ctx))
	require.NoError(t, m.CmdsMatch([][]string{
		{"wimlib-imagex", "extract", "boot.wim", "2", "--dest-dir=/tmp/x", "--no-acls"},
		{"wimlib-imagex", "capture", "/tmp/x", "boot.wim", "--compress=LZX", "--check", "--boot"},
		{"wimlib-imagex", "--help"},
	}))
}

func TestCaptureReplacesContainer(t *testing.T) {
	container := filepath.Join(t.TempDir(), "boot.wim")
	require.NoError(t, os.WriteFile(container, []byte(infoOutput), 0o644))

	m := runner.NewMock()
	m.SideEffect = func(command string, args ...string) ([]byte, error) {
		if args[0] == "info" {
			data, err := os.ReadFile(args[1])
			return data, err
		}
		return nil, os.WriteFile(args[2], []byte("Index:                  1\n"), 0o644)
	}
	tool := New(m, nil)
	ctx := context.Background()

	require.Equal(t, []string{"1", "2"}, ParseIndices([]byte(infoOutput)))
	require.NoError(t, tool.Capture(ctx, t.TempDir(), container))
	require.Equal(t, "1", tool.FirstIndex(ctx, container))
	require.Equal(t, 1, m.Count("wimlib-imagex", "capture"))
	for _, cmd := range m.Cmds() {
		require.NotContains(t, cmd, "--append")
	}
}

func TestExtractFailure(t *testing.T) {
	m := runner.NewMock()
	m.SideEffect = func(string, ...string) ([]byte, error) {
		return nil, &runner.ExitError{Command: "wimlib-imagex", Code: 47}
	}
	err := New(m, nil).Extract(context.Background(), "boot.wim", "1", "/tmp/x")
	require.Error(t, err)
	require.Equal(t, 47, runner.ExitCode(err))
}
