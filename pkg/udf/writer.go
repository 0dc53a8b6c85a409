package udf

import (
	"fmt"
	"os"
	"time"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// Fixed sectors of the bridge layout. The ISO 9660 descriptor set ends well before sector 32.
const (
	MAIN_SEQUENCE_SECTOR      = 32
	RESERVE_SEQUENCE_SECTOR   = 48
	INTEGRITY_SEQUENCE_SECTOR = 64
	// Number of sectors in each volume descriptor sequence: PVD, PD, LVD, USD, TD.
	SEQUENCE_LENGTH = 5
	// Unique ids below 16 are reserved by UDF for the root and Macintosh use.
	FIRST_UNIQUE_ID = 16
)

// Bridge describes the UDF volume written next to an ISO 9660 file system. File data is shared;
// only the descriptors and the UDF directory tree are added.
type Bridge struct {
	VolumeIdentifier      string
	ApplicationIdentifier string
	RecordingTime         time.Time
	// First sector of the partition. Everything from here to the end of the image belongs to it.
	PartitionStart  uint32
	PartitionLength uint32
	Files           uint32
	Directories     uint32
	NextUniqueID    uint64
}

// RecognitionSequence returns the BEA01, NSR02 and TEA01 sectors of the volume recognition
// sequence.
func RecognitionSequence() [][]byte {
	var out [][]byte
	for _, id := range []string{consts.UDF_STD_IDENTIFIER, consts.UDF_NSR02_IDENTIFIER, consts.UDF_TEA_IDENTIFIER} {
		buf := make([]byte, SECTOR_SIZE)
		copy(buf[1:6], id)
		buf[6] = 1
		out = append(out, buf)
	}
	return out
}

// VolumeDescriptorSequence returns the sectors of a volume descriptor sequence starting at
// sector start.
func (b *Bridge) VolumeDescriptorSequence(start uint32) ([][]byte, error) {
	// UDF wants the first 16 characters of the volume set identifier to be unique.
	volumeSet := fmt.Sprintf("%016X%s", uint64(b.RecordingTime.UnixNano()), b.VolumeIdentifier)
	pvd := &PrimaryVolumeDescriptor{
		SequenceNumber:        1,
		VolumeIdentifier:      fit(b.VolumeIdentifier, 32),
		VolumeSetIdentifier:   fit(volumeSet, 128),
		ApplicationIdentifier: b.ApplicationIdentifier,
		RecordingTime:         b.RecordingTime,
	}
	pvdBytes, err := pvd.Marshal(start)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal UDF primary volume descriptor: %w", err)
	}

	pd := &PartitionDescriptor{
		SequenceNumber:   2,
		StartingLocation: b.PartitionStart,
		Length:           b.PartitionLength,
	}

	lvd := &LogicalVolumeDescriptor{
		SequenceNumber:    3,
		Identifier:        fit(b.VolumeIdentifier, 128),
		BlockSize:         SECTOR_SIZE,
		FileSetLocation:   LongAD{Length: SECTOR_SIZE, Location: 0},
		IntegritySequence: ExtentAD{Length: 2 * SECTOR_SIZE, Location: INTEGRITY_SEQUENCE_SECTOR},
		PartitionNumbers:  []uint16{0},
	}
	lvdBytes, err := lvd.Marshal(start + 2)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal UDF logical volume descriptor: %w", err)
	}

	return [][]byte{
		sector(pvdBytes),
		sector(pd.Marshal(start + 1)),
		sector(lvdBytes),
		sector(marshalUnallocatedSpace(4, start+3)),
		sector(marshalTerminating(start + 4)),
	}, nil
}

// IntegritySequence returns the closed integrity descriptor and its terminator.
func (b *Bridge) IntegritySequence() [][]byte {
	lvid := &LogicalVolumeIntegrityDescriptor{
		RecordingTime:   b.RecordingTime,
		NextUniqueID:    b.NextUniqueID,
		PartitionLength: b.PartitionLength,
		Files:           b.Files,
		Directories:     b.Directories,
	}
	return [][]byte{
		sector(lvid.Marshal(INTEGRITY_SEQUENCE_SECTOR)),
		sector(marshalTerminating(INTEGRITY_SEQUENCE_SECTOR + 1)),
	}
}

// Anchor returns the anchor volume descriptor pointer recorded at location.
func (b *Bridge) Anchor(location uint32) []byte {
	avdp := &AnchorVolumeDescriptorPointer{
		MainVolumeDescriptorSequence:    ExtentAD{Length: SEQUENCE_LENGTH * SECTOR_SIZE, Location: MAIN_SEQUENCE_SECTOR},
		ReserveVolumeDescriptorSequence: ExtentAD{Length: SEQUENCE_LENGTH * SECTOR_SIZE, Location: RESERVE_SEQUENCE_SECTOR},
	}
	return sector(avdp.Marshal(location))
}

// FileSet returns the file set descriptor at partition block 0 followed by its terminator at
// block 1.
func (b *Bridge) FileSet(root LongAD) ([][]byte, error) {
	fsd := &FileSetDescriptor{
		RecordingTime:           b.RecordingTime,
		LogicalVolumeIdentifier: fit(b.VolumeIdentifier, 128),
		FileSetIdentifier:       fit(b.VolumeIdentifier, 32),
		RootICB:                 root,
	}
	buf, err := fsd.Marshal(0)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file set descriptor: %w", err)
	}
	return [][]byte{sector(buf), sector(marshalTerminating(1))}, nil
}

// DirectoryEntry is one child handed to MarshalDirectory.
type DirectoryEntry struct {
	Name     string
	IsDir    bool
	ICB      uint32
	UniqueID uint32
}

// MarshalDirectory returns the file identifier stream of a directory whose data starts at
// partition block location. The parent entry comes first.
func MarshalDirectory(location uint32, parentICB uint32, parentUniqueID uint32, entries []DirectoryEntry) ([]byte, error) {
	var out []byte
	add := func(fid *FileIdentifierDescriptor) {
		out = append(out, fid.Marshal(location+uint32(len(out)/SECTOR_SIZE))...)
	}
	add(&FileIdentifierDescriptor{
		Characteristics: CHAR_DIRECTORY | CHAR_PARENT,
		ICB:             LongAD{Length: SECTOR_SIZE, Location: parentICB, UniqueID: parentUniqueID},
	})
	for _, e := range entries {
		id := EncodeCS0(e.Name)
		if len(id) > 255 {
			return nil, fmt.Errorf("file identifier for %q exceeds 255 bytes", e.Name)
		}
		var chars uint8
		if e.IsDir {
			chars = CHAR_DIRECTORY
		}
		add(&FileIdentifierDescriptor{
			Characteristics: chars,
			Identifier:      id,
			ICB:             LongAD{Length: SECTOR_SIZE, Location: e.ICB, UniqueID: e.UniqueID},
		})
	}
	return out, nil
}

// DirectorySize returns the length of the stream MarshalDirectory produces for the names.
func DirectorySize(names []string) int64 {
	size := int64((&FileIdentifierDescriptor{}).Length())
	for _, name := range names {
		size += int64((&FileIdentifierDescriptor{Identifier: EncodeCS0(name)}).Length())
	}
	return size
}

// NewFileEntry returns the ICB of a regular file or directory whose data is recorded in one run
// of sectors starting at partition block location. Runs longer than one extent are split.
func NewFileEntry(dir bool, mode os.FileMode, links uint16, length uint64, location uint32, modTime time.Time, uniqueID uint64) *FileEntry {
	fe := &FileEntry{
		FileType:          FILE_TYPE_REGULAR,
		Permissions:       Permissions(mode),
		Links:             links,
		InformationLength: length,
		ModificationTime:  modTime,
		UniqueID:          uniqueID,
		ADType:            AD_SHORT,
	}
	if dir {
		fe.FileType = FILE_TYPE_DIRECTORY
	}
	for remaining := length; remaining > 0; {
		n := remaining
		if n > MAX_EXTENT_LENGTH {
			n = MAX_EXTENT_LENGTH
		}
		fe.Allocation = append(fe.Allocation, LongAD{Length: uint32(n), Location: location})
		location += uint32(n / SECTOR_SIZE)
		remaining -= n
	}
	return fe
}

// Permissions converts a POSIX mode into the UDF owner, group and other permission fields.
func Permissions(mode os.FileMode) uint32 {
	var p uint32
	perm := uint32(mode.Perm())
	for class := 0; class < 3; class++ {
		bits := perm >> (uint(class) * 3) & 0o7
		var u uint32
		if bits&0o1 != 0 {
			u |= 0x01
		}
		if bits&0o2 != 0 {
			u |= 0x02
		}
		if bits&0o4 != 0 {
			u |= 0x04
		}
		p |= u << (uint(class) * 5)
	}
	return p
}

func sector(b []byte) []byte {
	if len(b) >= SECTOR_SIZE {
		return b
	}
	out := make([]byte, SECTOR_SIZE)
	copy(out, b)
	return out
}

// fit shortens s until its CS0 form fits a dstring field of n bytes.
func fit(s string, n int) string {
	r := []rune(s)
	for len(r) > 0 && len(EncodeCS0(string(r))) > n-1 {
		r = r[:len(r)-1]
	}
	return string(r)
}
