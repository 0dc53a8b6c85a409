package udf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

const (
	// Sectors scanned for the volume recognition sequence.
	maxRecognitionSectors = 64
	// Upper bound on sectors read while following the volume descriptor sequence.
	maxSequenceSectors = 256
	// Upper bound on chained allocation extent descriptors for a single file.
	maxAllocationExtents = 1024
	tagAllocationExtent  = 258
)

var ErrNotUDF = errors.New("no UDF volume recognition sequence")

// Detect reports whether the image carries a UDF volume: an NSR02 or NSR03 descriptor in the
// volume recognition sequence and a valid anchor at sector 256.
func Detect(r io.ReaderAt) bool {
	if !hasNSR(r) {
		return false
	}
	buf := make([]byte, SECTOR_SIZE)
	if _, err := r.ReadAt(buf, consts.UDF_ANCHOR_SECTOR*SECTOR_SIZE); err != nil {
		return false
	}
	var avdp AnchorVolumeDescriptorPointer
	return avdp.Unmarshal(buf) == nil
}

func hasNSR(r io.ReaderAt) bool {
	buf := make([]byte, 8)
	for i := 0; i < maxRecognitionSectors; i++ {
		off := int64(consts.ISO9660_SYSTEM_AREA_SECTORS+i) * SECTOR_SIZE
		if _, err := r.ReadAt(buf, off); err != nil {
			return false
		}
		switch string(buf[1:6]) {
		case consts.UDF_NSR02_IDENTIFIER, consts.UDF_NSR03_IDENTIFIER:
			return true
		case consts.ISO9660_STD_IDENTIFIER, consts.UDF_STD_IDENTIFIER, "BOOT2", "CDW02":
			continue
		default:
			return false
		}
	}
	return false
}

// UDF is an opened UDF file structure.
type UDF struct {
	reader io.ReaderAt
	logger *logging.Logger

	VolumeIdentifier        string
	LogicalVolumeIdentifier string
	FileSetIdentifier       string
	RecordingTime           time.Time

	// Partition number to starting sector.
	partitions map[uint16]uint32
	// Partition reference (index into the logical volume's map table) to partition number.
	partitionMaps []uint16
	root          *Entry
}

// Entry is a file or directory of the UDF tree.
type Entry struct {
	// Decoded local name. Empty when the identifier could not be recovered.
	Name string
	// Raw CS0 identifier as recorded.
	RawName []byte
	IsDir   bool
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
	icb     LongAD
	fe      *FileEntry
}

// Open locates the anchor, reads the volume descriptor sequence and the file set descriptor.
func Open(isoReader io.ReaderAt, opts ...option.OpenOption) (*UDF, error) {
	log := option.Apply(opts...).Logger
	if !hasNSR(isoReader) {
		return nil, ErrNotUDF
	}

	buf := make([]byte, SECTOR_SIZE)
	if _, err := isoReader.ReadAt(buf, consts.UDF_ANCHOR_SECTOR*SECTOR_SIZE); err != nil {
		return nil, fmt.Errorf("failed to read anchor volume descriptor pointer: %w", err)
	}
	var avdp AnchorVolumeDescriptorPointer
	if err := avdp.Unmarshal(buf); err != nil {
		return nil, fmt.Errorf("invalid anchor volume descriptor pointer: %w", err)
	}

	u := &UDF{
		reader:     isoReader,
		logger:     log,
		partitions: map[uint16]uint32{},
	}
	lvd, err := u.readVolumeDescriptorSequence(avdp.MainVolumeDescriptorSequence)
	if err != nil {
		log.Warn("main volume descriptor sequence unusable, trying reserve", "error", err)
		lvd, err = u.readVolumeDescriptorSequence(avdp.ReserveVolumeDescriptorSequence)
		if err != nil {
			return nil, err
		}
	}
	u.LogicalVolumeIdentifier = lvd.Identifier
	u.partitionMaps = lvd.PartitionNumbers
	if lvd.BlockSize != SECTOR_SIZE {
		return nil, fmt.Errorf("unsupported logical block size %d", lvd.BlockSize)
	}

	fsdBuf, err := u.readBlock(lvd.FileSetLocation)
	if err != nil {
		return nil, fmt.Errorf("failed to read file set descriptor: %w", err)
	}
	var fsd FileSetDescriptor
	if err := fsd.Unmarshal(fsdBuf); err != nil {
		return nil, fmt.Errorf("invalid file set descriptor: %w", err)
	}
	u.FileSetIdentifier = fsd.FileSetIdentifier
	u.RecordingTime = fsd.RecordingTime

	root, err := u.entry(fsd.RootICB)
	if err != nil {
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}
	if !root.IsDir {
		return nil, fmt.Errorf("root ICB is not a directory")
	}
	u.root = root
	log.Debug("opened udf volume", "volume", u.VolumeIdentifier, "logical", u.LogicalVolumeIdentifier)
	return u, nil
}

func (u *UDF) readVolumeDescriptorSequence(extent ExtentAD) (*LogicalVolumeDescriptor, error) {
	var lvd *LogicalVolumeDescriptor
	buf := make([]byte, SECTOR_SIZE)
	location, remaining := extent.Location, extent.Length/SECTOR_SIZE

	for n := 0; remaining > 0 && n < maxSequenceSectors; n++ {
		if _, err := u.reader.ReadAt(buf, int64(location)*SECTOR_SIZE); err != nil {
			return nil, fmt.Errorf("failed to read volume descriptor at sector %d: %w", location, err)
		}
		var tag Tag
		if err := tag.Unmarshal(buf); err != nil {
			return nil, fmt.Errorf("invalid volume descriptor at sector %d: %w", location, err)
		}
		location++
		remaining--

		switch tag.Identifier {
		case TAG_PRIMARY_VOLUME:
			var pvd PrimaryVolumeDescriptor
			pvd.Unmarshal(buf)
			u.VolumeIdentifier = pvd.VolumeIdentifier
		case TAG_PARTITION:
			var pd PartitionDescriptor
			pd.Unmarshal(buf)
			u.partitions[pd.PartitionNumber] = pd.StartingLocation
		case TAG_LOGICAL_VOLUME:
			lvd = &LogicalVolumeDescriptor{}
			if err := lvd.Unmarshal(buf); err != nil {
				return nil, err
			}
		case TAG_VOLUME_POINTER:
			next := unmarshalExtentAD(buf[20:28])
			location, remaining = next.Location, next.Length/SECTOR_SIZE
		case TAG_TERMINATING:
			remaining = 0
		}
	}
	if lvd == nil {
		return nil, errors.New("no logical volume descriptor")
	}
	if len(u.partitions) == 0 {
		return nil, errors.New("no partition descriptor")
	}
	return lvd, nil
}

// sector translates a logical block of a partition reference into an absolute sector.
func (u *UDF) sector(partitionRef uint16, block uint32) (int64, error) {
	if int(partitionRef) >= len(u.partitionMaps) {
		return 0, fmt.Errorf("partition reference %d out of range", partitionRef)
	}
	start, ok := u.partitions[u.partitionMaps[partitionRef]]
	if !ok {
		return 0, fmt.Errorf("partition %d has no descriptor", u.partitionMaps[partitionRef])
	}
	return int64(start) + int64(block), nil
}

func (u *UDF) readBlock(ad LongAD) ([]byte, error) {
	sector, err := u.sector(ad.PartitionReference, ad.Location)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, SECTOR_SIZE)
	if _, err := u.reader.ReadAt(buf, sector*SECTOR_SIZE); err != nil {
		return nil, err
	}
	return buf, nil
}

func (u *UDF) entry(icb LongAD) (*Entry, error) {
	buf, err := u.readBlock(icb)
	if err != nil {
		return nil, err
	}
	fe := &FileEntry{}
	if err := fe.Unmarshal(buf, icb.PartitionReference); err != nil {
		return nil, err
	}
	if err := u.resolveContinuations(fe); err != nil {
		return nil, err
	}
	return &Entry{
		IsDir:   fe.FileType == FILE_TYPE_DIRECTORY,
		Size:    int64(fe.InformationLength),
		ModTime: fe.ModificationTime,
		Mode:    permissions(fe),
		icb:     icb,
		fe:      fe,
	}, nil
}

// resolveContinuations replaces continuation descriptors with the descriptors of the allocation
// extent they point to.
func (u *UDF) resolveContinuations(fe *FileEntry) error {
	var out []LongAD
	queue := fe.Allocation
	for hops := 0; len(queue) > 0; {
		ad := queue[0]
		queue = queue[1:]
		if ad.Length>>30 != EXTENT_CONTINUATION {
			out = append(out, ad)
			continue
		}
		if hops++; hops > maxAllocationExtents {
			return errors.New("allocation extent chain too long")
		}
		buf, err := u.readBlock(ad)
		if err != nil {
			return fmt.Errorf("failed to read allocation extent: %w", err)
		}
		var tag Tag
		if err := tag.Unmarshal(buf); err != nil || tag.Identifier != tagAllocationExtent {
			return fmt.Errorf("invalid allocation extent descriptor at block %d", ad.Location)
		}
		length := int(binary.LittleEndian.Uint32(buf[20:24]))
		if 24+length > len(buf) {
			return errors.New("allocation extent descriptor overruns block")
		}
		var next []LongAD
		ads := buf[24 : 24+length]
		step := 8
		if fe.ADType == AD_LONG {
			step = 16
		}
		for ; len(ads) >= step; ads = ads[step:] {
			var d LongAD
			if step == 8 {
				d = LongAD{Length: binary.LittleEndian.Uint32(ads[0:4]), Location: binary.LittleEndian.Uint32(ads[4:8]), PartitionReference: ad.PartitionReference}
			} else {
				d = unmarshalLongAD(ads)
			}
			if d.Length&extentLengthMask == 0 {
				break
			}
			next = append(next, d)
		}
		queue = append(next, queue...)
	}
	fe.Allocation = out
	return nil
}

func permissions(fe *FileEntry) os.FileMode {
	var mode os.FileMode
	p := fe.Permissions
	// Each class has five bits: execute, write, read, change attributes, delete.
	for shift, class := range []uint{0, 3, 6} {
		bits := p >> (uint(shift) * 5)
		if bits&0x01 != 0 {
			mode |= 0o1 << class
		}
		if bits&0x02 != 0 {
			mode |= 0o2 << class
		}
		if bits&0x04 != 0 {
			mode |= 0o4 << class
		}
	}
	if fe.FileType == FILE_TYPE_DIRECTORY {
		mode |= os.ModeDir
	}
	return mode
}

// Root returns the root directory.
func (u *UDF) Root() *Entry {
	return u.root
}

// ReadDir lists a directory. Deleted and parent entries are skipped. Entries whose identifier
// could not be decoded are returned with an empty Name so the caller can report them.
func (u *UDF) ReadDir(dir *Entry) ([]*Entry, error) {
	if !dir.IsDir {
		return nil, errors.New("not a directory")
	}
	if dir.Size > consts.MAX_DIRECTORY_SIZE {
		return nil, fmt.Errorf("directory claims %d bytes, limit is %d", dir.Size, consts.MAX_DIRECTORY_SIZE)
	}
	r, err := u.Open(dir)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory data: %w", err)
	}

	var entries []*Entry
	for offset := 0; offset+FID_SIZE <= len(data); {
		var fid FileIdentifierDescriptor
		n, err := fid.Unmarshal(data[offset:])
		if err != nil {
			return entries, fmt.Errorf("failed to parse file identifier at offset %d: %w", offset, err)
		}
		offset += n
		if fid.IsParent() || fid.IsDeleted() {
			continue
		}

		child, err := u.entry(fid.ICB)
		if err != nil {
			u.logger.Warn("skipping entry with unreadable file entry", "lbn", fid.ICB.Location, "error", err)
			continue
		}
		child.RawName = fid.Identifier
		if name, ok := DecodeName(fid.Identifier); ok {
			child.Name = name
		}
		entries = append(entries, child)
	}
	return entries, nil
}

// Location returns the partition reference and logical block of the entry's ICB.
func (e *Entry) Location() (uint16, uint32) {
	return e.icb.PartitionReference, e.icb.Location
}

// Open returns a reader over the data of a file or directory.
func (u *UDF) Open(e *Entry) (io.Reader, error) {
	if e.fe.ADType == AD_EMBEDDED {
		data := e.fe.Embedded
		if int64(len(data)) > e.Size {
			data = data[:e.Size]
		}
		return bytes.NewReader(data), nil
	}

	var readers []io.Reader
	remaining := e.Size
	for _, ad := range e.fe.Allocation {
		if remaining <= 0 {
			break
		}
		length := int64(ad.Length & extentLengthMask)
		if length > remaining {
			length = remaining
		}
		remaining -= length
		if ad.Length>>30 != EXTENT_RECORDED {
			readers = append(readers, io.LimitReader(zeroReader{}, length))
			continue
		}
		sector, err := u.sector(ad.PartitionReference, ad.Location)
		if err != nil {
			return nil, err
		}
		readers = append(readers, io.NewSectionReader(u.reader, sector*SECTOR_SIZE, length))
	}
	if remaining > 0 {
		return nil, fmt.Errorf("allocation descriptors cover %d bytes less than the file length", remaining)
	}
	return io.MultiReader(readers...), nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// Close closes the underlying image file when the UDF owns one.
func (u *UDF) Close() error {
	if f, ok := u.reader.(*os.File); ok {
		return f.Close()
	}
	return nil
}
