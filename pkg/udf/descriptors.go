package udf

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rstms/iso-remaster/pkg/consts"
)

const (
	SECTOR_SIZE = consts.UDF_SECTOR_SIZE
	// Volume structure descriptors are 512 bytes.
	DESCRIPTOR_SIZE = 512
	// Fixed part of a File Entry before the extended attributes.
	FILE_ENTRY_SIZE = 176
	// Fixed part of an Extended File Entry before the extended attributes.
	EXTENDED_FILE_ENTRY_SIZE = 216
	// Fixed part of a File Identifier Descriptor.
	FID_SIZE = 38

	IMPLEMENTATION_IDENTIFIER = "*iso-remaster"
)

// ICB file types (ECMA-167 4/14.6.6).
const (
	FILE_TYPE_DIRECTORY = 4
	FILE_TYPE_REGULAR   = 5
	FILE_TYPE_SYMLINK   = 12
)

// File characteristics bits of a File Identifier Descriptor.
const (
	CHAR_HIDDEN    = 0x01
	CHAR_DIRECTORY = 0x02
	CHAR_DELETED   = 0x04
	CHAR_PARENT    = 0x08
)

// Allocation descriptor type in the low bits of the ICB tag flags.
const (
	AD_SHORT    = 0
	AD_LONG     = 1
	AD_EXTENDED = 2
	AD_EMBEDDED = 3
)

// AnchorVolumeDescriptorPointer is found at sector 256 and locates the volume descriptor sequences.
type AnchorVolumeDescriptorPointer struct {
	MainVolumeDescriptorSequence    ExtentAD
	ReserveVolumeDescriptorSequence ExtentAD
}

func (a *AnchorVolumeDescriptorPointer) Marshal(location uint32) []byte {
	buf := make([]byte, DESCRIPTOR_SIZE)
	a.MainVolumeDescriptorSequence.marshal(buf[16:24])
	a.ReserveVolumeDescriptorSequence.marshal(buf[24:32])
	seal(buf, TAG_ANCHOR_POINTER, location)
	return buf
}

func (a *AnchorVolumeDescriptorPointer) Unmarshal(data []byte) error {
	var tag Tag
	if err := tag.Unmarshal(data); err != nil {
		return err
	}
	if tag.Identifier != TAG_ANCHOR_POINTER {
		return fmt.Errorf("expected anchor volume descriptor pointer, found tag %d", tag.Identifier)
	}
	a.MainVolumeDescriptorSequence = unmarshalExtentAD(data[16:24])
	a.ReserveVolumeDescriptorSequence = unmarshalExtentAD(data[24:32])
	return nil
}

// PrimaryVolumeDescriptor carries the UDF volume identifier (ECMA-167 3/10.1).
type PrimaryVolumeDescriptor struct {
	SequenceNumber        uint32
	VolumeIdentifier      string
	VolumeSetIdentifier   string
	ApplicationIdentifier string
	RecordingTime         time.Time
}

func (d *PrimaryVolumeDescriptor) Marshal(location uint32) ([]byte, error) {
	buf := make([]byte, DESCRIPTOR_SIZE)
	binary.LittleEndian.PutUint32(buf[16:20], d.SequenceNumber)
	if err := putDString(buf[24:56], d.VolumeIdentifier); err != nil {
		return nil, err
	}
	// Volume sequence number, maximum, interchange level, maximum level.
	binary.LittleEndian.PutUint16(buf[56:58], 1)
	binary.LittleEndian.PutUint16(buf[58:60], 1)
	binary.LittleEndian.PutUint16(buf[60:62], 2)
	binary.LittleEndian.PutUint16(buf[62:64], 2)
	binary.LittleEndian.PutUint32(buf[64:68], 1)
	binary.LittleEndian.PutUint32(buf[68:72], 1)
	if err := putDString(buf[72:200], d.VolumeSetIdentifier); err != nil {
		return nil, err
	}
	putCharSpec(buf[200:264])
	putCharSpec(buf[264:328])
	putRegID(buf[344:376], d.ApplicationIdentifier, nil)
	marshalTimestamp(buf[376:388], d.RecordingTime)
	putRegID(buf[388:420], IMPLEMENTATION_IDENTIFIER, nil)
	seal(buf, TAG_PRIMARY_VOLUME, location)
	return buf, nil
}

func (d *PrimaryVolumeDescriptor) Unmarshal(data []byte) {
	d.SequenceNumber = binary.LittleEndian.Uint32(data[16:20])
	d.VolumeIdentifier = getDString(data[24:56])
	d.VolumeSetIdentifier = getDString(data[72:200])
	d.ApplicationIdentifier = trimRegID(data[344:376])
	d.RecordingTime = unmarshalTimestamp(data[376:388])
}

// PartitionDescriptor locates the partition holding the file structure (ECMA-167 3/10.5).
type PartitionDescriptor struct {
	SequenceNumber   uint32
	PartitionNumber  uint16
	StartingLocation uint32
	Length           uint32
}

func (d *PartitionDescriptor) Marshal(location uint32) []byte {
	buf := make([]byte, DESCRIPTOR_SIZE)
	binary.LittleEndian.PutUint32(buf[16:20], d.SequenceNumber)
	// Partition flags: space allocated.
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], d.PartitionNumber)
	putRegID(buf[24:56], "+"+consts.UDF_NSR02_IDENTIFIER, nil)
	// Access type 1: read only.
	binary.LittleEndian.PutUint32(buf[184:188], 1)
	binary.LittleEndian.PutUint32(buf[188:192], d.StartingLocation)
	binary.LittleEndian.PutUint32(buf[192:196], d.Length)
	putRegID(buf[196:228], IMPLEMENTATION_IDENTIFIER, nil)
	seal(buf, TAG_PARTITION, location)
	return buf
}

func (d *PartitionDescriptor) Unmarshal(data []byte) {
	d.SequenceNumber = binary.LittleEndian.Uint32(data[16:20])
	d.PartitionNumber = binary.LittleEndian.Uint16(data[22:24])
	d.StartingLocation = binary.LittleEndian.Uint32(data[188:192])
	d.Length = binary.LittleEndian.Uint32(data[192:196])
}

// LogicalVolumeDescriptor names the file set and maps partition references (ECMA-167 3/10.6).
type LogicalVolumeDescriptor struct {
	SequenceNumber      uint32
	Identifier          string
	BlockSize           uint32
	FileSetLocation     LongAD
	IntegritySequence   ExtentAD
	PartitionNumbers    []uint16
	DomainIdentifierRaw string
}

func (d *LogicalVolumeDescriptor) Marshal(location uint32) ([]byte, error) {
	buf := make([]byte, 440+6*len(d.PartitionNumbers))
	binary.LittleEndian.PutUint32(buf[16:20], d.SequenceNumber)
	putCharSpec(buf[20:84])
	if err := putDString(buf[84:212], d.Identifier); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint32(buf[212:216], d.BlockSize)
	putRegID(buf[216:248], consts.UDF_DOMAIN_IDENTIFIER, udfSuffix)
	d.FileSetLocation.marshal(buf[248:264])
	binary.LittleEndian.PutUint32(buf[264:268], uint32(6*len(d.PartitionNumbers)))
	binary.LittleEndian.PutUint32(buf[268:272], uint32(len(d.PartitionNumbers)))
	putRegID(buf[272:304], IMPLEMENTATION_IDENTIFIER, nil)
	d.IntegritySequence.marshal(buf[432:440])
	for i, n := range d.PartitionNumbers {
		// Type 1 partition map.
		m := buf[440+6*i:]
		m[0] = 1
		m[1] = 6
		binary.LittleEndian.PutUint16(m[2:4], 1)
		binary.LittleEndian.PutUint16(m[4:6], n)
	}
	seal(buf, TAG_LOGICAL_VOLUME, location)
	return buf, nil
}

func (d *LogicalVolumeDescriptor) Unmarshal(data []byte) error {
	if len(data) < 440 {
		return fmt.Errorf("logical volume descriptor too short")
	}
	d.SequenceNumber = binary.LittleEndian.Uint32(data[16:20])
	d.Identifier = getDString(data[84:212])
	d.BlockSize = binary.LittleEndian.Uint32(data[212:216])
	d.DomainIdentifierRaw = trimRegID(data[216:248])
	d.FileSetLocation = unmarshalLongAD(data[248:264])
	d.IntegritySequence = unmarshalExtentAD(data[432:440])

	tableLength := int(binary.LittleEndian.Uint32(data[264:268]))
	count := int(binary.LittleEndian.Uint32(data[268:272]))
	maps := data[440:]
	if tableLength < len(maps) {
		maps = maps[:tableLength]
	}
	d.PartitionNumbers = d.PartitionNumbers[:0]
	for i := 0; i < count && len(maps) >= 2; i++ {
		mapType, mapLength := maps[0], int(maps[1])
		if mapLength < 2 || mapLength > len(maps) {
			break
		}
		if mapType == 1 && mapLength >= 6 {
			d.PartitionNumbers = append(d.PartitionNumbers, binary.LittleEndian.Uint16(maps[4:6]))
		} else {
			// Virtual, sparable and metadata maps are not supported; keep the index aligned.
			d.PartitionNumbers = append(d.PartitionNumbers, 0xFFFF)
		}
		maps = maps[mapLength:]
	}
	return nil
}

// LogicalVolumeIntegrityDescriptor records a closed volume with its file counts (ECMA-167 3/10.10).
type LogicalVolumeIntegrityDescriptor struct {
	RecordingTime   time.Time
	NextUniqueID    uint64
	PartitionLength uint32
	Files           uint32
	Directories     uint32
}

func (d *LogicalVolumeIntegrityDescriptor) Marshal(location uint32) []byte {
	const implUse = 46
	buf := make([]byte, 80+8+implUse)
	marshalTimestamp(buf[16:28], d.RecordingTime)
	// Integrity type 1: close.
	binary.LittleEndian.PutUint32(buf[28:32], 1)
	binary.LittleEndian.PutUint64(buf[40:48], d.NextUniqueID)
	binary.LittleEndian.PutUint32(buf[72:76], 1)
	binary.LittleEndian.PutUint32(buf[76:80], implUse)
	// Free space table then size table, one partition each.
	binary.LittleEndian.PutUint32(buf[80:84], 0)
	binary.LittleEndian.PutUint32(buf[84:88], d.PartitionLength)
	iu := buf[88:]
	putRegID(iu[0:32], IMPLEMENTATION_IDENTIFIER, nil)
	binary.LittleEndian.PutUint32(iu[32:36], d.Files)
	binary.LittleEndian.PutUint32(iu[36:40], d.Directories)
	binary.LittleEndian.PutUint16(iu[40:42], 0x0102)
	binary.LittleEndian.PutUint16(iu[42:44], 0x0102)
	binary.LittleEndian.PutUint16(iu[44:46], 0x0102)
	seal(buf, TAG_LOGICAL_VOLUME_INTEGRITY, location)
	return buf
}

// UnallocatedSpaceDescriptor with no free extents.
func marshalUnallocatedSpace(sequence uint32, location uint32) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[16:20], sequence)
	seal(buf, TAG_UNALLOCATED_SPACE, location)
	return buf
}

func marshalTerminating(location uint32) []byte {
	buf := make([]byte, DESCRIPTOR_SIZE)
	seal(buf, TAG_TERMINATING, location)
	return buf
}

// FileSetDescriptor points at the root directory ICB (ECMA-167 4/14.1).
type FileSetDescriptor struct {
	RecordingTime           time.Time
	LogicalVolumeIdentifier string
	FileSetIdentifier       string
	RootICB                 LongAD
}

func (d *FileSetDescriptor) Marshal(location uint32) ([]byte, error) {
	buf := make([]byte, DESCRIPTOR_SIZE)
	marshalTimestamp(buf[16:28], d.RecordingTime)
	binary.LittleEndian.PutUint16(buf[28:30], 3)
	binary.LittleEndian.PutUint16(buf[30:32], 3)
	binary.LittleEndian.PutUint32(buf[32:36], 1)
	binary.LittleEndian.PutUint32(buf[36:40], 1)
	putCharSpec(buf[48:112])
	if err := putDString(buf[112:240], d.LogicalVolumeIdentifier); err != nil {
		return nil, err
	}
	putCharSpec(buf[240:304])
	if err := putDString(buf[304:336], d.FileSetIdentifier); err != nil {
		return nil, err
	}
	d.RootICB.marshal(buf[400:416])
	putRegID(buf[416:448], consts.UDF_DOMAIN_IDENTIFIER, udfSuffix)
	seal(buf, TAG_FILE_SET, location)
	return buf, nil
}

func (d *FileSetDescriptor) Unmarshal(data []byte) error {
	var tag Tag
	if err := tag.Unmarshal(data); err != nil {
		return err
	}
	if tag.Identifier != TAG_FILE_SET {
		return fmt.Errorf("expected file set descriptor, found tag %d", tag.Identifier)
	}
	d.RecordingTime = unmarshalTimestamp(data[16:28])
	d.LogicalVolumeIdentifier = getDString(data[112:240])
	d.FileSetIdentifier = getDString(data[304:336])
	d.RootICB = unmarshalLongAD(data[400:416])
	return nil
}

// FileEntry is the ICB of a file or directory (ECMA-167 4/14.9 and 4/14.17). Allocation holds
// short or long descriptors, or the file data itself for embedded files.
type FileEntry struct {
	FileType          uint8
	UID               uint32
	GID               uint32
	Permissions       uint32
	Links             uint16
	InformationLength uint64
	ModificationTime  time.Time
	UniqueID          uint64
	ADType            int
	Allocation        []LongAD
	Embedded          []byte
	Extended          bool
}

// Marshal encodes a plain File Entry using short allocation descriptors.
func (fe *FileEntry) Marshal(location uint32) []byte {
	ads := len(fe.Allocation) * 8
	buf := make([]byte, FILE_ENTRY_SIZE+ads)

	// ICB tag: strategy 4, one entry, short allocation descriptors.
	binary.LittleEndian.PutUint16(buf[20:22], 4)
	binary.LittleEndian.PutUint16(buf[24:26], 1)
	buf[27] = fe.FileType
	binary.LittleEndian.PutUint16(buf[34:36], AD_SHORT)

	binary.LittleEndian.PutUint32(buf[36:40], fe.UID)
	binary.LittleEndian.PutUint32(buf[40:44], fe.GID)
	binary.LittleEndian.PutUint32(buf[44:48], fe.Permissions)
	binary.LittleEndian.PutUint16(buf[48:50], fe.Links)
	binary.LittleEndian.PutUint64(buf[56:64], fe.InformationLength)
	var blocks uint64
	for _, ad := range fe.Allocation {
		blocks += (uint64(ad.Length&extentLengthMask) + SECTOR_SIZE - 1) / SECTOR_SIZE
	}
	binary.LittleEndian.PutUint64(buf[64:72], blocks)
	marshalTimestamp(buf[72:84], fe.ModificationTime)
	marshalTimestamp(buf[84:96], fe.ModificationTime)
	marshalTimestamp(buf[96:108], fe.ModificationTime)
	binary.LittleEndian.PutUint32(buf[108:112], 1)
	putRegID(buf[128:160], IMPLEMENTATION_IDENTIFIER, nil)
	binary.LittleEndian.PutUint64(buf[160:168], fe.UniqueID)
	binary.LittleEndian.PutUint32(buf[172:176], uint32(ads))
	for i, ad := range fe.Allocation {
		b := buf[FILE_ENTRY_SIZE+8*i:]
		binary.LittleEndian.PutUint32(b[0:4], ad.Length)
		binary.LittleEndian.PutUint32(b[4:8], ad.Location)
	}
	seal(buf, TAG_FILE_ENTRY, location)
	return buf
}

// Unmarshal parses a File Entry or Extended File Entry. Short descriptors are returned as long
// descriptors with the partition reference of the entry itself.
func (fe *FileEntry) Unmarshal(data []byte, partition uint16) error {
	var tag Tag
	if err := tag.Unmarshal(data); err != nil {
		return err
	}
	var fixed, eaOffset int
	switch tag.Identifier {
	case TAG_FILE_ENTRY:
		fixed, eaOffset = FILE_ENTRY_SIZE, 168
		fe.Extended = false
	case TAG_EXTENDED_FILE_ENTRY:
		fixed, eaOffset = EXTENDED_FILE_ENTRY_SIZE, 208
		fe.Extended = true
	default:
		return fmt.Errorf("expected file entry, found tag %d", tag.Identifier)
	}
	if len(data) < fixed {
		return fmt.Errorf("file entry too short: %d bytes", len(data))
	}

	fe.FileType = data[27]
	fe.ADType = int(binary.LittleEndian.Uint16(data[34:36]) & 0x07)
	fe.UID = binary.LittleEndian.Uint32(data[36:40])
	fe.GID = binary.LittleEndian.Uint32(data[40:44])
	fe.Permissions = binary.LittleEndian.Uint32(data[44:48])
	fe.Links = binary.LittleEndian.Uint16(data[48:50])
	fe.InformationLength = binary.LittleEndian.Uint64(data[56:64])
	if fe.Extended {
		fe.ModificationTime = unmarshalTimestamp(data[92:104])
		fe.UniqueID = binary.LittleEndian.Uint64(data[200:208])
	} else {
		fe.ModificationTime = unmarshalTimestamp(data[84:96])
		fe.UniqueID = binary.LittleEndian.Uint64(data[160:168])
	}

	eaLength := int(binary.LittleEndian.Uint32(data[eaOffset : eaOffset+4]))
	adLength := int(binary.LittleEndian.Uint32(data[eaOffset+4 : eaOffset+8]))
	start := fixed + eaLength
	if start+adLength > len(data) {
		return fmt.Errorf("allocation descriptors overrun file entry (%d+%d > %d)", start, adLength, len(data))
	}
	ads := data[start : start+adLength]

	fe.Allocation = fe.Allocation[:0]
	fe.Embedded = nil
	switch fe.ADType {
	case AD_SHORT:
		for ; len(ads) >= 8; ads = ads[8:] {
			length := binary.LittleEndian.Uint32(ads[0:4])
			if length&extentLengthMask == 0 {
				break
			}
			fe.Allocation = append(fe.Allocation, LongAD{
				Length:             length,
				Location:           binary.LittleEndian.Uint32(ads[4:8]),
				PartitionReference: partition,
			})
		}
	case AD_LONG:
		for ; len(ads) >= 16; ads = ads[16:] {
			ad := unmarshalLongAD(ads)
			if ad.Length&extentLengthMask == 0 {
				break
			}
			fe.Allocation = append(fe.Allocation, ad)
		}
	case AD_EMBEDDED:
		fe.Embedded = append([]byte(nil), ads...)
	default:
		return fmt.Errorf("unsupported allocation descriptor type %d", fe.ADType)
	}
	return nil
}

// FileIdentifierDescriptor is one directory entry (ECMA-167 4/14.4).
type FileIdentifierDescriptor struct {
	Characteristics uint8
	// CS0 encoded identifier, empty for the parent entry.
	Identifier []byte
	ICB        LongAD
}

func (f *FileIdentifierDescriptor) IsDirectory() bool { return f.Characteristics&CHAR_DIRECTORY != 0 }
func (f *FileIdentifierDescriptor) IsParent() bool    { return f.Characteristics&CHAR_PARENT != 0 }
func (f *FileIdentifierDescriptor) IsDeleted() bool   { return f.Characteristics&CHAR_DELETED != 0 }

// Length returns the padded on-disk length.
func (f *FileIdentifierDescriptor) Length() int {
	n := FID_SIZE + len(f.Identifier)
	return (n + 3) &^ 3
}

func (f *FileIdentifierDescriptor) Marshal(location uint32) []byte {
	buf := make([]byte, f.Length())
	binary.LittleEndian.PutUint16(buf[16:18], 1)
	buf[18] = f.Characteristics
	buf[19] = byte(len(f.Identifier))
	f.ICB.marshal(buf[20:36])
	copy(buf[FID_SIZE:], f.Identifier)
	seal(buf, TAG_FILE_IDENTIFIER, location)
	return buf
}

// Unmarshal parses one descriptor from data and returns its padded length.
func (f *FileIdentifierDescriptor) Unmarshal(data []byte) (int, error) {
	if len(data) < FID_SIZE {
		return 0, fmt.Errorf("file identifier descriptor too short: %d bytes", len(data))
	}
	fiLength := int(data[19])
	iuLength := int(binary.LittleEndian.Uint16(data[36:38]))
	total := (FID_SIZE + iuLength + fiLength + 3) &^ 3
	if FID_SIZE+iuLength+fiLength > len(data) {
		return 0, fmt.Errorf("file identifier overruns directory data")
	}
	if total > len(data) {
		total = len(data)
	}
	var tag Tag
	if err := tag.Unmarshal(data[:total]); err != nil {
		return 0, err
	}
	if tag.Identifier != TAG_FILE_IDENTIFIER {
		return 0, fmt.Errorf("expected file identifier descriptor, found tag %d", tag.Identifier)
	}
	f.Characteristics = data[18]
	f.ICB = unmarshalLongAD(data[20:36])
	start := FID_SIZE + iuLength
	f.Identifier = append([]byte(nil), data[start:start+fiLength]...)
	return total, nil
}

func trimRegID(b []byte) string {
	id := b[1:24]
	for i, c := range id {
		if c == 0 {
			return string(id[:i])
		}
	}
	return string(id)
}
