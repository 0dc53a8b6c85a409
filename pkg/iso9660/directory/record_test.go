package directory

import (
	"testing"
	"time"

	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
	"github.com/stretchr/testify/require"
)

func TestDirectoryRecordRoundTrip(t *testing.T) {
	in := &DirectoryRecord{
		LocationOfExtent:     24,
		DataLength:           5,
		RecordingDateAndTime: time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC),
		FileFlags:            FileFlags{Hidden: true},
		VolumeSequenceNumber: 1,
		FileIdentifier:       []byte("A.TXT;1"),
		SystemUse:            []byte{'R', 'R', 5, 1, 0x89},
	}
	b, err := in.Marshal()
	require.NoError(t, err)
	require.Equal(t, in.Length(), len(b))
	require.Zero(t, len(b)%2)
	require.Equal(t, byte(len(b)), b[0])

	out := &DirectoryRecord{}
	require.NoError(t, out.Unmarshal(b))
	require.Equal(t, in.LocationOfExtent, out.LocationOfExtent)
	require.Equal(t, in.DataLength, out.DataLength)
	require.True(t, in.RecordingDateAndTime.Equal(out.RecordingDateAndTime))
	require.Equal(t, in.FileFlags, out.FileFlags)
	require.Equal(t, in.FileIdentifier, out.FileIdentifier)
	require.Equal(t, in.SystemUse, out.SystemUse[:len(in.SystemUse)])

	name, ok := out.BestName(false)
	require.True(t, ok)
	require.Equal(t, "A.TXT", name)
}

func TestDirectoryRecordSpecial(t *testing.T) {
	dot := &DirectoryRecord{FileIdentifier: []byte{0x00}, FileFlags: FileFlags{Directory: true}}
	require.Equal(t, 34, dot.Length())
	require.True(t, dot.IsSpecial())
	name, _ := dot.BestName(true)
	require.Equal(t, ".", name)

	parent := &DirectoryRecord{FileIdentifier: []byte{0x01}, FileFlags: FileFlags{Directory: true}}
	name, _ = parent.BestName(true)
	require.Equal(t, "..", name)
}

func TestDirectoryRecordJoliet(t *testing.T) {
	dr := &DirectoryRecord{Joliet: true, FileIdentifier: encoding.EncodeUCS2BigEndian("Long Name.txt;1")}
	name, ok := dr.BestName(false)
	require.True(t, ok)
	require.Equal(t, "Long Name.txt", name)

	dr.FileIdentifier = []byte{0x00, 'a', 0x00}
	_, ok = dr.Identifier()
	require.False(t, ok)
}

func TestDirectoryRecordErrors(t *testing.T) {
	require.Error(t, (&DirectoryRecord{}).Unmarshal(nil))
	require.Error(t, (&DirectoryRecord{}).Unmarshal([]byte{10, 0, 0}))

	long := &DirectoryRecord{FileIdentifier: make([]byte, 230)}
	_, err := long.Marshal()
	require.Error(t, err)
}

func TestStripVersion(t *testing.T) {
	require.Equal(t, "README", StripVersion("README.;1", false))
	require.Equal(t, "BOOT.WIM", StripVersion("BOOT.WIM;1", false))
	require.Equal(t, "DIR.D", StripVersion("DIR.D", true))
}

func TestFileFlags(t *testing.T) {
	ff := FileFlags{Directory: true, MultiExtent: true}
	require.Equal(t, byte(0x82), ff.Marshal())
	require.Equal(t, ff, UnmarshalFileFlags(0x82|0x60))
}
