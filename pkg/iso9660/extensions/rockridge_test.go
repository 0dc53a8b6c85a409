package extensions

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRockRidgeRoundTrip(t *testing.T) {
	mtime := time.Date(2023, time.May, 1, 10, 30, 0, 0, time.UTC)
	ts, err := MarshalTimestamp(mtime)
	require.NoError(t, err)
	name, err := MarshalName("Long Mixed Case Name.txt", 255)
	require.NoError(t, err)

	var su []byte
	su = append(su, MarshalLegacy()...)
	su = append(su, MarshalPosix(0o644, 1)...)
	su = append(su, name...)
	su = append(su, ts...)

	rr := &RockRidge{}
	require.NoError(t, rr.Unmarshal(su))
	require.True(t, rr.HasRockRidge())
	require.NotNil(t, rr.AlternateName)
	require.Equal(t, "Long Mixed Case Name.txt", *rr.AlternateName)
	require.NotNil(t, rr.ModificationTime)
	require.True(t, mtime.Equal(*rr.ModificationTime))

	mode, ok := rr.FileMode()
	require.True(t, ok)
	require.Equal(t, os.FileMode(0o644), mode)
}

func TestRockRidgeDirectoryMode(t *testing.T) {
	rr := &RockRidge{}
	require.NoError(t, rr.Unmarshal(MarshalPosix(os.ModeDir|0o755, 2)))
	mode, ok := rr.FileMode()
	require.True(t, ok)
	require.True(t, mode.IsDir())
	require.Equal(t, uint32(2), rr.Links)
}

func TestRockRidgeSplitName(t *testing.T) {
	long := strings.Repeat("n", 300)
	su, err := MarshalName(long, 200)
	require.NoError(t, err)

	rr := &RockRidge{}
	require.NoError(t, rr.Unmarshal(su))
	require.Equal(t, long, *rr.AlternateName)

	_, err = MarshalName("x", 4)
	require.Error(t, err)
}

func TestRockRidgeRootEntries(t *testing.T) {
	var su []byte
	su = append(su, MarshalSharingProtocol()...)
	su = append(su, MarshalContinuation(Continuation{Block: 40, Offset: 0, Length: 237})...)

	rr := &RockRidge{}
	require.NoError(t, rr.Unmarshal(su))
	require.True(t, rr.SharingProtocol)
	require.False(t, rr.HasRockRidge())
	require.Equal(t, &Continuation{Block: 40, Length: 237}, rr.Continuation)

	require.NoError(t, rr.Unmarshal(MarshalExtensionReference()))
	require.Nil(t, rr.Continuation)
	require.Equal(t, []string{ROCK_RIDGE_IDENTIFIER}, rr.Extensions)
	require.True(t, rr.HasRockRidge())
}

func TestRockRidgeMalformed(t *testing.T) {
	rr := &RockRidge{}
	require.NoError(t, rr.Unmarshal([]byte{0, 0, 0, 0, 0}))
	require.Error(t, rr.Unmarshal([]byte{'N', 'M', 0x40, 1, 0}))
	require.False(t, rr.HasRockRidge())
}
