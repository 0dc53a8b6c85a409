package mastering

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kiso "github.com/kdomanski/iso9660"
	"github.com/stretchr/testify/require"

	"github.com/rstms/iso-remaster/pkg/iso9660"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/option"
	"github.com/rstms/iso-remaster/pkg/udf"
)

var stamp = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

func TestISOName(t *testing.T) {
	tests := []struct {
		name    string
		dir     bool
		attempt int
		want    string
	}{
		{"readme.txt", false, 0, "README.TXT;1"},
		{"README", false, 0, "README.;1"},
		{"boot.wim", false, 0, "BOOT.WIM;1"},
		{"archive.tar.gz", false, 0, "ARCHIVE_TAR.GZ;1"},
		{"my file-v2.txt", false, 0, "MY_FILE_V2.TXT;1"},
		{"sources", true, 0, "SOURCES"},
		{"efi.d", true, 0, "EFI_D"},
		{"readme.txt", false, 2, "README2.TXT;1"},
		{strings.Repeat("a", 40) + ".txt", false, 0, strings.Repeat("A", 26) + ".TXT;1"},
		{strings.Repeat("d", 40), true, 0, strings.Repeat("D", 31)},
		{strings.Repeat("d", 40), true, 12, strings.Repeat("D", 29) + "12"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isoName(tt.name, tt.dir, tt.attempt))
		})
	}
}

func TestJolietName(t *testing.T) {
	require.Equal(t, "readme.txt;1", jolietName("readme.txt", false, 0))
	require.Equal(t, "Program Files", jolietName("Program Files", true, 0))
	require.Equal(t, "a_b.txt;1", jolietName("a:b.txt", false, 0))
	require.Equal(t, "noext;1", jolietName("noext", false, 0))

	long := jolietName(strings.Repeat("x", 100)+".txt", false, 0)
	require.Equal(t, 64, len([]rune(long)))
	require.True(t, strings.HasSuffix(long, ".txt;1"))

	require.Equal(t, "readme_1.txt;1", jolietName("readme.txt", false, 1))
}

func TestAssignNamesResolvesCollisions(t *testing.T) {
	img := New(option.WithRecordingTime(stamp))
	require.NoError(t, img.AddBytes("/dir/a-b.txt", nil))
	require.NoError(t, img.AddBytes("/dir/a_b.txt", nil))
	require.NoError(t, img.AddBytes("/dir/A-B.txt", nil))
	assignNames(img.root)

	seen := map[string]bool{}
	for _, c := range img.root.children["dir"].children {
		require.False(t, seen[c.isoName], "duplicate identifier %s", c.isoName)
		seen[c.isoName] = true
	}
	require.Len(t, seen, 3)
}

func TestAddRejectsConflicts(t *testing.T) {
	img := New()
	require.NoError(t, img.AddBytes("/a/b.txt", []byte("x")))
	require.Error(t, img.AddBytes("/a/b.txt", []byte("y")))
	require.Error(t, img.AddBytes("/a/b.txt/c", []byte("z")))
	require.Error(t, img.AddBytes("/", []byte("root")))
	require.Equal(t, 1, img.Files())
	require.Equal(t, int64(1), img.Size())
}

func TestSectionsSplitLargeFiles(t *testing.T) {
	img := New()
	n := &node{name: "install.wim", size: 5 << 30, location: 1000, modTime: stamp}
	records := img.sections(n, false, []byte("INSTALL.WIM;1"))
	require.Len(t, records, 2)
	require.True(t, records[0].FileFlags.MultiExtent)
	require.False(t, records[1].FileFlags.MultiExtent)
	require.Equal(t, uint32(MAX_SECTION_SIZE), records[0].DataLength)
	require.Equal(t, uint32(5<<30-MAX_SECTION_SIZE), records[1].DataLength)
	require.Equal(t, uint32(1000+MAX_SECTION_SIZE/SECTOR_SIZE), records[1].LocationOfExtent)
}

func TestNameTooLongForRecord(t *testing.T) {
	img := New()
	require.NoError(t, img.AddBytes("/"+strings.Repeat("n", 240), []byte("x")))
	_, err := img.WriteTo(io.Discard)
	require.ErrorContains(t, err, "too long")
}

var sampleTree = map[string]string{
	"/bootmgr":                "boot manager",
	"/setup.exe":              "setup",
	"/sources/boot.wim":       strings.Repeat("W", 5000),
	"/sources/install.wim":    strings.Repeat("I", 3*SECTOR_SIZE),
	"/efi/boot/bootx64.efi":   "efi loader",
	"/Long File Name (1).txt": "long name",
	"/empty.dat":              "",
}

func buildSample(t *testing.T, opts ...option.CreateOption) []byte {
	t.Helper()
	img := New(append([]option.CreateOption{option.WithRecordingTime(stamp), option.WithVolumeIdentifier("TESTVOL")}, opts...)...)
	for p, content := range sampleTree {
		require.NoError(t, img.AddBytes(p, []byte(content)))
	}
	var buf bytes.Buffer
	n, err := img.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	require.Zero(t, buf.Len()%SECTOR_SIZE)
	return buf.Bytes()
}

// readISO walks an image with the iso9660 reader and returns path to content.
func readISO(t *testing.T, data []byte, joliet bool) map[string]string {
	t.Helper()
	fs, err := iso9660.Open(bytes.NewReader(data))
	require.NoError(t, err)

	out := map[string]string{}
	type item struct {
		path string
		rec  *directory.DirectoryRecord
	}
	queue := []item{{"/", fs.Root(joliet)}}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		entries, err := fs.ReadDir(dir.rec)
		require.NoError(t, err)
		for _, e := range entries {
			name, ok := fs.Name(e)
			require.True(t, ok)
			p := path.Join(dir.path, name)
			if e.Record.IsDirectory() {
				queue = append(queue, item{p, e.Record})
				continue
			}
			content, err := e.File.ReadAll()
			require.NoError(t, err)
			out[p] = string(content)
		}
	}
	return out
}

func TestRoundTripRockRidge(t *testing.T) {
	data := buildSample(t)
	fs, err := iso9660.Open(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, fs.HasRockRidge())
	require.True(t, fs.HasJoliet())
	require.False(t, fs.HasElTorito())
	require.Equal(t, "TESTVOL", fs.GetVolumeID())

	require.Equal(t, sampleTree, readISO(t, data, false))
}

func TestRoundTripJoliet(t *testing.T) {
	data := buildSample(t, option.WithRockRidge(false))
	require.Equal(t, sampleTree, readISO(t, data, true))
}

func TestRoundTripPlainISO(t *testing.T) {
	data := buildSample(t, option.WithRockRidge(false), option.WithJoliet(false))
	got := readISO(t, data, false)
	require.Equal(t, "boot manager", got["/BOOTMGR"])
	require.Equal(t, strings.Repeat("W", 5000), got["/SOURCES/BOOT.WIM"])
	require.Len(t, got, len(sampleTree))
}

func TestElToritoCatalog(t *testing.T) {
	data := buildSample(t, option.WithBootFile("/BOOTMGR"), option.WithEFIBootFile("/efi/boot/bootx64.efi"))
	fs, err := iso9660.Open(bytes.NewReader(data))
	require.NoError(t, err)
	require.True(t, fs.HasElTorito())

	entries := fs.ElTorito().Entries
	require.Len(t, entries, 2)
	require.True(t, entries[0].Bootable)
	require.Equal(t, uint16(4), entries[0].SectorCount)

	offset := int64(entries[0].LoadRBA) * SECTOR_SIZE
	require.Equal(t, "boot manager", string(data[offset:offset+int64(len("boot manager"))]))

	offset = int64(entries[1].LoadRBA) * SECTOR_SIZE
	require.Equal(t, "efi loader", string(data[offset:offset+int64(len("efi loader"))]))
	require.Equal(t, uint16(1), entries[1].SectorCount)
}

func TestMissingBootFile(t *testing.T) {
	img := New(option.WithBootFile("/bootmgr"))
	require.NoError(t, img.AddBytes("/setup.exe", []byte("x")))
	_, err := img.WriteTo(io.Discard)
	require.ErrorContains(t, err, "boot file")
}

func TestUDFBridge(t *testing.T) {
	data := buildSample(t, option.WithISOType(option.ISO_TYPE_UDF), option.WithBootFile("/bootmgr"))
	r := bytes.NewReader(data)
	require.True(t, udf.Detect(r))

	u, err := udf.Open(r)
	require.NoError(t, err)
	require.Equal(t, "TESTVOL", u.VolumeIdentifier)

	got := map[string]string{}
	type item struct {
		path  string
		entry *udf.Entry
	}
	queue := []item{{"/", u.Root()}}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		entries, err := u.ReadDir(dir.entry)
		require.NoError(t, err)
		for _, e := range entries {
			p := path.Join(dir.path, e.Name)
			if e.IsDir {
				queue = append(queue, item{p, e})
				continue
			}
			rd, err := u.Open(e)
			require.NoError(t, err)
			content, err := io.ReadAll(rd)
			require.NoError(t, err)
			got[p] = string(content)
		}
	}
	require.Equal(t, sampleTree, got)

	// The ISO 9660 side of the bridge stays readable.
	require.Equal(t, sampleTree, readISO(t, data, false))
}

func TestCrossReadWithLibrary(t *testing.T) {
	data := buildSample(t, option.WithRockRidge(false), option.WithJoliet(false))
	img, err := kiso.OpenImage(bytes.NewReader(data))
	require.NoError(t, err)
	root, err := img.RootDir()
	require.NoError(t, err)
	children, err := root.GetChildren()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, c := range children {
		names[strings.ToUpper(strings.TrimSuffix(c.Name(), "."))] = true
		if strings.EqualFold(strings.TrimSuffix(c.Name(), "."), "BOOTMGR") {
			content, err := io.ReadAll(c.Reader())
			require.NoError(t, err)
			require.Equal(t, "boot manager", string(content))
		}
	}
	require.True(t, names["BOOTMGR"])
	require.True(t, names["SOURCES"])
	require.True(t, names["SETUP.EXE"])
}

func TestAddTreeAndSave(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sources"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sources", "boot.wim"), []byte("wim"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "skip.me"), []byte("no"), 0o644))

	img := New(option.WithRecordingTime(stamp))
	added, err := img.AddTree(src, func(rel string, d os.DirEntry) (string, bool) {
		return rel, !strings.HasSuffix(rel, ".me")
	})
	require.NoError(t, err)
	require.Equal(t, 1, added)

	out := filepath.Join(t.TempDir(), "out.iso")
	require.NoError(t, img.Save(out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"/sources/boot.wim": "wim"}, readISO(t, data, false))
}
