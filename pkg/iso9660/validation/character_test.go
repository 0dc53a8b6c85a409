package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACharacters(t *testing.T) {
	require.NoError(t, ACharacters("CCCOMA_X64FRE_EN-US_DV9"))
	require.NoError(t, ACharacters("MICROSOFT WINDOWS"))
	require.ErrorContains(t, ACharacters("lower"), "invalid A-character at index 0")
	require.Error(t, ACharacters("TAB\t"))
}

func TestDCharacters(t *testing.T) {
	require.NoError(t, DCharacters("SETUP_EXE", false))
	require.Error(t, DCharacters("SETUP.EXE;1", false))
	require.NoError(t, DCharacters("SETUP.EXE;1", true))
	require.ErrorContains(t, DCharacters("EN-US", true), `"-" is not allowed`)
}

func TestCCharacters(t *testing.T) {
	require.NoError(t, CCharacters("Windows Setup (x64).txt"))
	require.NoError(t, CCharacters("ü"))
	for _, bad := range []string{"a*b", "a/b", "a:b", "a;1", "what?", `a\b`, "\x01", "😀"} {
		require.Error(t, CCharacters(bad), bad)
	}
}
