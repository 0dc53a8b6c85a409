package isoerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractionErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("failed to stage source: %w", &ExtractionError{What: "boot.wim", Err: io.ErrUnexpectedEOF})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	var ee *ExtractionError
	require.True(t, errors.As(err, &ee))
	require.Equal(t, "boot.wim", ee.What)
}

func TestBuildErrorMessage(t *testing.T) {
	err := &BuildError{Attempts: []Attempt{
		{Method: "mkisofs", Reason: "tool missing"},
		{Method: "native", Reason: "mount failed"},
	}}
	require.Contains(t, err.Error(), "all ISO creation methods failed")
	require.Contains(t, err.Error(), "mkisofs: tool missing")
	require.Contains(t, err.Error(), "native: mount failed")
}

func TestIsWarning(t *testing.T) {
	require.True(t, IsWarning(&PatchSkipped{Reason: "no hive"}))
	require.True(t, IsWarning(fmt.Errorf("wrapped: %w", &ValidationWarning{Image: "a.iso", Reason: "x"})))
	require.True(t, IsWarning(&DecodeWarning{Raw: []byte{0}}))
	require.False(t, IsWarning(&FormatError{Path: "a.iso", Reason: "no PVD"}))
	require.False(t, IsWarning(ErrBusy))
}
