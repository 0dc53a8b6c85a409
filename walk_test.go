package iso

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	itesting "github.com/rstms/iso-remaster/internal/testing"
	"github.com/rstms/iso-remaster/pkg/option"
)

// patchRecord finds the directory record whose file identifier is id and hands it to fn for
// editing in place.
func patchRecord(t *testing.T, p string, id []byte, fn func(rec []byte)) {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)

	// A directory record carries volume sequence number 1 right before the identifier length,
	// which keeps path table entries from matching.
	needle := append([]byte{1, 0, 0, 1, byte(len(id))}, id...)
	i := bytes.Index(data, needle)
	require.GreaterOrEqual(t, i, 28, "record %q not found", id)
	start := i - 28
	rec := data[start : start+int(data[start])]
	require.GreaterOrEqual(t, len(rec), 33+len(id))

	fn(rec)
	require.NoError(t, os.WriteFile(p, data, 0o644))
}

func setBoth32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b[0:4], v)
	binary.BigEndian.PutUint32(b[4:8], v)
}

func walkPaths(t *testing.T, img *Image, ext Extension) []string {
	t.Helper()
	var paths []string
	require.NoError(t, img.Walk(ext, func(e *Entry) error {
		paths = append(paths, e.Path)
		return nil
	}))
	return paths
}

func plainISO(t *testing.T, tree map[string]string) string {
	t.Helper()
	p, err := itesting.Master(t.TempDir(), "plain.iso", tree,
		option.WithVolumeIdentifier("PLAIN"),
		option.WithJoliet(false),
		option.WithRockRidge(false))
	require.NoError(t, err)
	return p
}

func TestWalkStopsAtDirectoryLoops(t *testing.T) {
	tests := []struct {
		name     string
		patch    func(t *testing.T, p string)
		expected []string
		files    int
	}{
		{
			name: "PointsAtRoot",
			patch: func(t *testing.T, p string) {
				data, err := os.ReadFile(p)
				require.NoError(t, err)
				root := data[16*2048+156:]
				patchRecord(t, p, []byte("D"), func(rec []byte) {
					copy(rec[2:18], root[2:18])
				})
			},
			expected: []string{"/A.TXT"},
			files:    1,
		},
		{
			name: "PointsAtParent",
			patch: func(t *testing.T, p string) {
				var parent []byte
				patchRecord(t, p, []byte("D"), func(rec []byte) {
					parent = append([]byte(nil), rec[2:18]...)
				})
				patchRecord(t, p, []byte("E"), func(rec []byte) {
					copy(rec[2:18], parent)
				})
			},
			expected: []string{"/A.TXT", "/D"},
			files:    1,
		},
		{
			name: "OversizedExtent",
			patch: func(t *testing.T, p string) {
				patchRecord(t, p, []byte("D"), func(rec []byte) {
					setBoth32(rec[10:18], 0xFFFFF000)
				})
			},
			expected: []string{"/A.TXT", "/D"},
			files:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := plainISO(t, map[string]string{"/A.TXT": "a", "/D/E/F.TXT": "f"})
			tt.patch(t, p)

			img, err := Open(p)
			require.NoError(t, err)
			defer img.Close()
			require.Equal(t, tt.expected, walkPaths(t, img, ISO9660))

			result, err := img.ExtractAll(t.TempDir())
			require.NoError(t, err)
			require.Equal(t, tt.files, result.Files)
		})
	}
}

func TestWalkSkipsUndecodableNames(t *testing.T) {
	p := plainISO(t, map[string]string{"/A.TXT": "a", "/B.TXT": "b"})
	patchRecord(t, p, []byte("B.TXT;1"), func(rec []byte) {
		copy(rec[33:40], make([]byte, 7))
	})

	img, err := Open(p)
	require.NoError(t, err)
	defer img.Close()
	require.Equal(t, []string{"/A.TXT"}, walkPaths(t, img, ISO9660))

	dest := t.TempDir()
	result, err := img.ExtractAll(dest)
	require.NoError(t, err)
	require.Equal(t, ISO9660, result.Extension)
	require.Equal(t, 1, result.Files)
	require.Equal(t, 1, result.Skipped)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "A.TXT", entries[0].Name())
}

func TestWalkRecoversMalformedJolietNames(t *testing.T) {
	p, err := itesting.Master(t.TempDir(), "joliet.iso", map[string]string{"/README.TXT": "readme\n"},
		option.WithJoliet(true),
		option.WithRockRidge(false))
	require.NoError(t, err)

	// "README.TXT;1" in UCS-2 is rewritten as an odd length little endian "A.TXT". It is not
	// valid UCS-2, so the name has to come from the decoding chain.
	jolietID := []byte{0, 'R', 0, 'E', 0, 'A', 0, 'D', 0, 'M', 0, 'E', 0, '.', 0, 'T', 0, 'X', 0, 'T', 0, ';', 0, '1'}
	patchRecord(t, p, jolietID, func(rec []byte) {
		rec[32] = 11
		copy(rec[33:44], []byte{'A', 0, '.', 0, 'T', 0, 'X', 0, 'T', 0, 0})
	})

	img, err := Open(p)
	require.NoError(t, err)
	defer img.Close()
	require.Equal(t, []string{"/A.TXT"}, walkPaths(t, img, Joliet))
	require.Equal(t, []string{"/README.TXT"}, walkPaths(t, img, ISO9660))

	data, err := img.ReadFile(Joliet, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, "readme\n", string(data))

	dest := t.TempDir()
	result, err := img.ExtractAll(dest)
	require.NoError(t, err)
	require.Equal(t, Joliet, result.Extension)
	require.Zero(t, result.Skipped)
	_, err = os.Stat(filepath.Join(dest, "A.TXT"))
	require.NoError(t, err)
}
