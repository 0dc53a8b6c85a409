package descriptor

import (
	"bytes"
	"testing"
	"time"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/stretchr/testify/require"
)

func rootRecord() *directory.DirectoryRecord {
	return &directory.DirectoryRecord{
		LocationOfExtent:     20,
		DataLength:           2048,
		FileFlags:            directory.FileFlags{Directory: true},
		VolumeSequenceNumber: 1,
		FileIdentifier:       []byte{0x00},
	}
}

func TestPrimaryVolumeDescriptorRoundTrip(t *testing.T) {
	pvd := NewPrimaryVolumeDescriptor()
	pvd.VolumeIdentifier = "CCCOMA_X64FRE_EN-US_DV9"
	pvd.PublisherIdentifier = "MICROSOFT CORPORATION"
	pvd.ApplicationIdentifier = "MICROSOFT WINDOWS"
	pvd.VolumeSpaceSize = 1234
	pvd.PathTableSize = 10
	pvd.LocationOfTypeLPathTable = 19
	pvd.LocationOfTypeMPathTable = 21
	pvd.VolumeCreationDateAndTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	pvd.RootDirectoryRecord = rootRecord()

	b, err := pvd.Marshal()
	require.NoError(t, err)
	require.Len(t, b, consts.ISO9660_SECTOR_SIZE)
	require.Equal(t, "CD001", string(b[1:6]))
	require.Equal(t, []byte("CCCOMA_X64FRE_EN-US_DV9         "), b[40:72])

	out := &PrimaryVolumeDescriptor{}
	require.NoError(t, out.Unmarshal(b))
	require.Equal(t, TYPE_PRIMARY_DESCRIPTOR, out.Type())
	require.Equal(t, "CCCOMA_X64FRE_EN-US_DV9", out.VolumeIdentifier)
	require.Equal(t, "MICROSOFT CORPORATION", out.PublisherIdentifier)
	require.Equal(t, "MICROSOFT WINDOWS", out.ApplicationIdentifier)
	require.Equal(t, uint32(1234), out.VolumeSpaceSize)
	require.Equal(t, uint32(19), out.LocationOfTypeLPathTable)
	require.Equal(t, uint32(21), out.LocationOfTypeMPathTable)
	require.Equal(t, uint16(2048), out.LogicalBlockSize)
	require.Equal(t, uint32(20), out.RootDirectoryRecord.LocationOfExtent)
	require.True(t, out.VolumeCreationDateAndTime.Equal(pvd.VolumeCreationDateAndTime))
	require.False(t, out.IsJoliet())
}

func TestJolietVolumeDescriptor(t *testing.T) {
	svd := NewJolietVolumeDescriptor()
	svd.VolumeIdentifier = "Mixed Case Label"
	svd.RootDirectoryRecord = rootRecord()

	b, err := svd.Marshal()
	require.NoError(t, err)
	require.Equal(t, byte(TYPE_SUPPLEMENTARY_DESCRIPTOR), b[0])
	require.Equal(t, "%/E", string(b[88:91]))
	require.Equal(t, []byte{0x00, 'M', 0x00, 'i'}, b[40:44])

	out := &PrimaryVolumeDescriptor{}
	require.NoError(t, out.Unmarshal(b))
	require.True(t, out.IsJoliet())
	require.Equal(t, 3, out.JolietLevel())
	require.Equal(t, "Mixed Case Label", out.VolumeIdentifier)
	require.True(t, out.RootDirectoryRecord.Joliet)
}

func TestBootRecord(t *testing.T) {
	br := NewElToritoBootRecord(33)
	b, err := br.Marshal()
	require.NoError(t, err)

	out := &BootRecordDescriptor{}
	require.NoError(t, out.Unmarshal(b))
	require.True(t, out.IsElTorito())
	require.Equal(t, uint32(33), out.CatalogLBA())
}

func TestReadVolumeDescriptorSet(t *testing.T) {
	pvd := NewPrimaryVolumeDescriptor()
	pvd.VolumeIdentifier = "TEST"
	pvd.RootDirectoryRecord = rootRecord()
	svd := NewJolietVolumeDescriptor()
	svd.RootDirectoryRecord = rootRecord()

	image := make([]byte, consts.ISO9660_SECTOR_SIZE*16)
	for _, d := range []VolumeDescriptor{pvd, NewElToritoBootRecord(30), svd, NewVolumeDescriptorSetTerminator()} {
		b, err := d.Marshal()
		require.NoError(t, err)
		image = append(image, b...)
	}

	set, err := ReadVolumeDescriptorSet(bytes.NewReader(image))
	require.NoError(t, err)
	require.Equal(t, "TEST", set.Primary.VolumeIdentifier)
	require.NotNil(t, set.Boot)
	require.Equal(t, uint32(30), set.Boot.CatalogLBA())
	require.NotNil(t, set.Joliet())
	require.Equal(t, []int64{16}, set.Locations[TYPE_PRIMARY_DESCRIPTOR])
	require.Equal(t, []int64{19}, set.Locations[TYPE_TERMINATOR_DESCRIPTOR])
}

func TestReadVolumeDescriptorSetRejectsGarbage(t *testing.T) {
	image := make([]byte, consts.ISO9660_SECTOR_SIZE*18)
	_, err := ReadVolumeDescriptorSet(bytes.NewReader(image))
	require.Error(t, err)

	_, err = ReadVolumeDescriptorSet(bytes.NewReader(make([]byte, 100)))
	require.Error(t, err)
}
