package pathtable

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// ReadPathTable reads a path table of size bytes stored at sector location.
func ReadPathTable(reader io.ReaderAt, location uint32, size int, littleEndian bool) (*PathTable, error) {
	data := make([]byte, size)
	if _, err := reader.ReadAt(data, int64(location)*consts.ISO9660_SECTOR_SIZE); err != nil {
		return nil, fmt.Errorf("failed to read path table: %w", err)
	}

	pt := &PathTable{LittleEndian: littleEndian}
	offset := 0
	for offset+8 <= len(data) {
		record := &PathTableRecord{}
		if err := record.Unmarshal(data[offset:], littleEndian); err != nil {
			return nil, err
		}
		pt.Records = append(pt.Records, record)
		offset += record.Length()
	}
	return pt, nil
}

// PathTable represents a full path table, containing multiple records. Records are ordered by
// directory level and then by parent number; record numbers start at 1 for the root.
type PathTable struct {
	Records      []*PathTableRecord
	LittleEndian bool
}

// Size returns the recorded size of the table in bytes.
func (pt *PathTable) Size() int {
	n := 0
	for _, r := range pt.Records {
		n += r.Length()
	}
	return n
}

// Marshal converts a PathTable into a contiguous byte array.
func (pt *PathTable) Marshal() ([]byte, error) {
	buf := make([]byte, 0, pt.Size())
	for _, record := range pt.Records {
		recBytes, err := record.Marshal(pt.LittleEndian)
		if err != nil {
			return nil, err
		}
		buf = append(buf, recBytes...)
	}
	return buf, nil
}

type PathTableRecord struct {
	// Extended Attribute Record Length, zero when no extended attribute record is recorded.
	ExtendedAttributeRecordLength uint8 `json:"extended_attribute_record_length"`
	// Logical block of the first block of the directory extent.
	LocationOfExtent uint32 `json:"location_of_extent"`
	// Record number of the parent directory. The root is its own parent (1).
	ParentDirectoryNumber uint16 `json:"parent_directory_number"`
	// Directory identifier, a single 0x00 byte for the root. Joliet tables hold UCS-2.
	DirectoryIdentifier []byte `json:"directory_identifier"`
}

// Length returns the on-disk size of the record including the padding byte.
func (ptr *PathTableRecord) Length() int {
	n := 8 + len(ptr.DirectoryIdentifier)
	return n + n%2
}

// Marshal converts a single PathTableRecord into a byte slice.
func (ptr *PathTableRecord) Marshal(littleEndian bool) ([]byte, error) {
	if len(ptr.DirectoryIdentifier) == 0 || len(ptr.DirectoryIdentifier) > 255 {
		return nil, fmt.Errorf("invalid directory identifier length %d", len(ptr.DirectoryIdentifier))
	}
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}

	buf := make([]byte, ptr.Length())
	// | 1 | Length of Directory Identifier
	buf[0] = byte(len(ptr.DirectoryIdentifier))
	// | 2 | Extended Attribute Record Length
	buf[1] = ptr.ExtendedAttributeRecordLength
	// | 3-6 | Location of Extent
	order.PutUint32(buf[2:6], ptr.LocationOfExtent)
	// | 7-8 | Parent Directory Number
	order.PutUint16(buf[6:8], ptr.ParentDirectoryNumber)
	// | 9-(8+LEN_DI) | Directory Identifier, padded to an even length
	copy(buf[8:], ptr.DirectoryIdentifier)
	return buf, nil
}

// Unmarshal decodes a single PathTableRecord from a byte slice.
func (ptr *PathTableRecord) Unmarshal(data []byte, littleEndian bool) error {
	if len(data) < 8 {
		return fmt.Errorf("data too short to contain a PathTableRecord")
	}
	var order binary.ByteOrder = binary.BigEndian
	if littleEndian {
		order = binary.LittleEndian
	}

	n := int(data[0])
	if n == 0 {
		return fmt.Errorf("path table record with empty directory identifier")
	}
	ptr.ExtendedAttributeRecordLength = data[1]
	ptr.LocationOfExtent = order.Uint32(data[2:6])
	ptr.ParentDirectoryNumber = order.Uint16(data[6:8])
	if len(data) < 8+n {
		return fmt.Errorf("data too short for DirectoryIdentifier")
	}
	ptr.DirectoryIdentifier = append([]byte(nil), data[8:8+n]...)
	return nil
}
