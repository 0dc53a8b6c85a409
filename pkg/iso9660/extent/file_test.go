package extent

import (
	"bytes"
	"io"
	"testing"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/stretchr/testify/require"
)

func TestFileMultiExtent(t *testing.T) {
	image := make([]byte, 4*consts.ISO9660_SECTOR_SIZE)
	copy(image[1*consts.ISO9660_SECTOR_SIZE:], "hello ")
	copy(image[3*consts.ISO9660_SECTOR_SIZE:], "world")

	f := &File{
		Name:    "greeting.txt",
		Extents: []Extent{{Location: 1, Length: 6}, {Location: 3, Length: 5}},
		Reader:  bytes.NewReader(image),
	}
	require.Equal(t, int64(11), f.Size())

	data, err := f.ReadAll()
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	streamed, err := io.ReadAll(f.Open())
	require.NoError(t, err)
	require.Equal(t, data, streamed)
}

func TestFileShortImage(t *testing.T) {
	f := &File{Name: "x", Extents: []Extent{{Location: 10, Length: 100}}, Reader: bytes.NewReader(make([]byte, 10))}
	_, err := f.ReadAll()
	require.Error(t, err)
}
