package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
	"github.com/rstms/iso-remaster/pkg/iso9660/extensions"
)

// Size of the fixed part of a directory record, before the file identifier.
const FIXED_LENGTH = 33

type DirectoryRecord struct {
	// Length Of Directory Record in bytes.
	LengthOfDirectoryRecord uint8 `json:"length_of_directory_record"`
	// Extended Attribute Record Length. Non-zero means the extent starts with an extended
	// attribute record that precedes the file data.
	ExtendedAttributeRecordLength uint8 `json:"extended_attribute_record_length"`
	// Logical block of the first block of the extent.
	//  | Encoding: BothByteOrder
	LocationOfExtent uint32 `json:"location_of_extent"`
	// Data length of the file section.
	//  | Encoding: BothByteOrder
	DataLength uint32 `json:"data_length"`
	//  | Encoding: 7-byte time format
	RecordingDateAndTime time.Time `json:"recording_date_and_time"`
	FileFlags            FileFlags `json:"file_flags"`
	FileUnitSize         uint8     `json:"file_unit_size"`
	InterleaveGapSize    uint8     `json:"interleave_gap_size"`
	//  | Encoding: BothByteOrder
	VolumeSequenceNumber uint16 `json:"volume_sequence_number"`
	// File Identifier as recorded. For Joliet volumes this is UCS-2 big endian. "\x00" and
	// "\x01" identify the current and parent directory.
	FileIdentifier []byte `json:"file_identifier"`
	// System Use field. Copied out of the read buffer so the record survives buffer reuse.
	SystemUse []byte `json:"system_use"`
	// RockRidge holds the parsed SUSP entries, if any.
	RockRidge *extensions.RockRidge `json:"rock_ridge"`
	// Joliet is set when the record was read from a Joliet directory hierarchy.
	Joliet bool `json:"joliet"`
}

// IsDirectory checks if the entry is a Directory
func (dr *DirectoryRecord) IsDirectory() bool {
	return dr.FileFlags.Directory
}

// IsSpecial checks for "." or ".."
func (dr *DirectoryRecord) IsSpecial() bool {
	return len(dr.FileIdentifier) == 1 && (dr.FileIdentifier[0] == 0x00 || dr.FileIdentifier[0] == 0x01)
}

// Identifier returns the recorded file identifier as text. Joliet identifiers are decoded from
// UCS-2; ok is false when that decoding fails and the caller has to recover the name itself.
func (dr *DirectoryRecord) Identifier() (name string, ok bool) {
	if dr.Joliet {
		name = encoding.DecodeUCS2BigEndian(dr.FileIdentifier)
		return name, name != ""
	}
	return string(dr.FileIdentifier), len(dr.FileIdentifier) > 0
}

// BestName picks the Rock Ridge alternate name when present, otherwise the identifier with the
// ";1" version suffix and a dangling "." removed.
func (dr *DirectoryRecord) BestName(rockRidge bool) (string, bool) {
	if dr.IsSpecial() {
		if dr.FileIdentifier[0] == 0x00 {
			return ".", true
		}
		return "..", true
	}
	if rockRidge && dr.RockRidge != nil && dr.RockRidge.AlternateName != nil {
		return *dr.RockRidge.AlternateName, true
	}
	name, ok := dr.Identifier()
	if !ok {
		return "", false
	}
	return StripVersion(name, dr.IsDirectory()), true
}

// StripVersion removes the ";n" version suffix and a trailing "." from file identifiers.
func StripVersion(name string, isDir bool) string {
	if isDir {
		return name
	}
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

// Length returns the on-disk size of the record without marshalling it.
func (dr *DirectoryRecord) Length() int {
	n := FIXED_LENGTH + len(dr.FileIdentifier)
	if len(dr.FileIdentifier)%2 == 0 {
		n++
	}
	n += len(dr.SystemUse)
	return n + n%2
}

// Marshal converts the DirectoryRecord into its on-disk byte representation and sets
// LengthOfDirectoryRecord.
func (dr *DirectoryRecord) Marshal() ([]byte, error) {
	length := dr.Length()
	if length > 255 {
		return nil, fmt.Errorf("directory record for %q is %d bytes, exceeds 255", dr.FileIdentifier, length)
	}
	buf := make([]byte, length)

	// | 1 | Length of Directory Record
	buf[0] = byte(length)
	// | 2 | Extended Attribute Record Length
	buf[1] = dr.ExtendedAttributeRecordLength
	// | 3-10 | Location of Extent
	encoding.PutBoth32(buf[2:10], dr.LocationOfExtent)
	// | 11-18 | Data Length
	encoding.PutBoth32(buf[10:18], dr.DataLength)
	// | 19-25 | Recording Date and Time
	stamp, err := encoding.MarshalRecordingDateTime(dr.RecordingDateAndTime)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RecordingDateAndTime: %w", err)
	}
	copy(buf[18:25], stamp[:])
	// | 26 | File Flags
	buf[25] = dr.FileFlags.Marshal()
	// | 27 | File Unit Size
	buf[26] = dr.FileUnitSize
	// | 28 | Interleave Gap Size
	buf[27] = dr.InterleaveGapSize
	// | 29-32 | Volume Sequence Number
	encoding.PutBoth16(buf[28:32], dr.VolumeSequenceNumber)
	// | 33 | Length of File Identifier
	buf[32] = byte(len(dr.FileIdentifier))
	// | 34-(33+LEN_FI) | File Identifier, then padding if LEN_FI is even
	offset := FIXED_LENGTH + copy(buf[FIXED_LENGTH:], dr.FileIdentifier)
	if len(dr.FileIdentifier)%2 == 0 {
		offset++
	}
	// | System Use
	copy(buf[offset:], dr.SystemUse)

	dr.LengthOfDirectoryRecord = byte(length)
	return buf, nil
}

// Unmarshal decodes a DirectoryRecord from the provided byte slice. Both-byte order mismatches
// are tolerated by trusting the little endian half, as most readers do.
func (dr *DirectoryRecord) Unmarshal(data []byte) error {
	if len(data) < 1 {
		return fmt.Errorf("data too short to contain a DirectoryRecord")
	}
	recordLength := int(data[0])
	if recordLength < FIXED_LENGTH+1 || len(data) < recordLength {
		return fmt.Errorf("invalid directory record length %d (have %d bytes)", recordLength, len(data))
	}
	data = data[:recordLength]

	dr.LengthOfDirectoryRecord = data[0]
	dr.ExtendedAttributeRecordLength = data[1]
	dr.LocationOfExtent, _ = encoding.Both32(data[2:10])
	dr.DataLength, _ = encoding.Both32(data[10:18])

	var stamp [7]byte
	copy(stamp[:], data[18:25])
	if t, err := encoding.UnmarshalRecordingDateTime(stamp); err == nil {
		dr.RecordingDateAndTime = t
	}

	dr.FileFlags = UnmarshalFileFlags(data[25])
	dr.FileUnitSize = data[26]
	dr.InterleaveGapSize = data[27]
	dr.VolumeSequenceNumber, _ = encoding.Both16(data[28:32])

	fiLen := int(data[32])
	if FIXED_LENGTH+fiLen > recordLength {
		return fmt.Errorf("file identifier length %d overruns record length %d", fiLen, recordLength)
	}
	dr.FileIdentifier = append([]byte(nil), data[FIXED_LENGTH:FIXED_LENGTH+fiLen]...)

	offset := FIXED_LENGTH + fiLen
	if fiLen%2 == 0 {
		offset++
	}
	if offset < recordLength {
		dr.SystemUse = append([]byte(nil), data[offset:]...)
	} else {
		dr.SystemUse = nil
	}
	return nil
}
