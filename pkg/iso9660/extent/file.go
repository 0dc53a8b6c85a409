package extent

import (
	"fmt"
	"io"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// Extent is a contiguous run of bytes starting at a logical block.
type Extent struct {
	Location uint32 `json:"location"`
	Length   uint32 `json:"length"`
}

// Offset returns the byte offset of the extent within the image.
func (e Extent) Offset() int64 {
	return int64(e.Location) * consts.ISO9660_SECTOR_SIZE
}

// File is the data of a file as a list of extents. ISO 9660 multi-extent files and UDF files with
// several allocation descriptors both map onto it; a single-extent file has one entry.
type File struct {
	Name    string   `json:"name"`
	Extents []Extent `json:"extents"`
	Reader  io.ReaderAt
}

// Size returns the total length of the file in bytes.
func (f *File) Size() int64 {
	var n int64
	for _, e := range f.Extents {
		n += int64(e.Length)
	}
	return n
}

// Open returns a reader that streams the extents in order.
func (f *File) Open() io.Reader {
	readers := make([]io.Reader, 0, len(f.Extents))
	for _, e := range f.Extents {
		readers = append(readers, io.NewSectionReader(f.Reader, e.Offset(), int64(e.Length)))
	}
	return io.MultiReader(readers...)
}

// ReadAll reads the whole file into memory.
func (f *File) ReadAll() ([]byte, error) {
	buf := make([]byte, f.Size())
	n, err := io.ReadFull(f.Open(), buf)
	if err != nil {
		return nil, fmt.Errorf("failed to read file extent %s: %w", f.Name, err)
	}
	if int64(n) != f.Size() {
		return nil, fmt.Errorf("unexpected read size for %s: got %d, expected %d", f.Name, n, f.Size())
	}
	return buf, nil
}
