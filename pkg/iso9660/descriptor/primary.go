package descriptor

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/helpers"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
)

// PrimaryVolumeDescriptor models both the Primary (type 1) and Supplementary (type 2) volume
// descriptors. They share a layout; a Supplementary descriptor whose escape sequences name a
// Joliet level records its identifiers in UCS-2.
type PrimaryVolumeDescriptor struct {
	VolumeDescriptorHeader
	// Volume Flags (Supplementary only). Bit 0 set means escape sequences are not all ISO 2375.
	VolumeFlags byte `json:"volume_flags"`
	//  | (a-characters)
	SystemIdentifier string `json:"system_identifier"`
	//  | (d-characters)
	VolumeIdentifier string `json:"volume_identifier"`
	// Number of logical blocks in the volume space.
	//  | Encoding: BothByteOrder
	VolumeSpaceSize uint32 `json:"volume_space_size"`
	// Escape Sequences (Supplementary only). Joliet uses "%/@", "%/C" or "%/E".
	EscapeSequences [32]byte `json:"escape_sequences"`
	//  | Encoding: BothByteOrder
	VolumeSetSize uint16 `json:"volume_set_size"`
	//  | Encoding: BothByteOrder
	VolumeSequenceNumber uint16 `json:"volume_sequence_number"`
	//  | Encoding: BothByteOrder
	LogicalBlockSize uint16 `json:"logical_block_size"`
	//  | Encoding: BothByteOrder
	PathTableSize uint32 `json:"path_table_size"`
	//  | Encoding: LittleEndian
	LocationOfTypeLPathTable uint32 `json:"location_of_type_l_path_table"`
	//  | Encoding: LittleEndian
	LocationOfOptionalTypeLPathTable uint32 `json:"location_of_optional_type_l_path_table"`
	//  | Encoding: BigEndian
	LocationOfTypeMPathTable uint32 `json:"location_of_type_m_path_table"`
	//  | Encoding: BigEndian
	LocationOfOptionalTypeMPathTable uint32 `json:"location_of_optional_type_m_path_table"`
	// Directory Record for the Root Directory, always 34 bytes.
	RootDirectoryRecord *directory.DirectoryRecord `json:"root_directory_record"`
	VolumeSetIdentifier string                     `json:"volume_set_identifier"`
	PublisherIdentifier string                     `json:"publisher_identifier"`
	// Data Preparer Identifier. A leading 0x5F names a file in the root directory instead.
	DataPreparerIdentifier      string `json:"data_preparer_identifier"`
	ApplicationIdentifier       string `json:"application_identifier"`
	CopyrightFileIdentifier     string `json:"copyright_file_identifier"`
	AbstractFileIdentifier      string `json:"abstract_file_identifier"`
	BibliographicFileIdentifier string `json:"bibliographic_file_identifier"`
	//  | 8.4.26.1 Date and Time Format
	VolumeCreationDateAndTime     time.Time `json:"volume_creation_date_and_time"`
	VolumeModificationDateAndTime time.Time `json:"volume_modification_date_and_time"`
	VolumeExpirationDateAndTime   time.Time `json:"volume_expiration_date_and_time"`
	VolumeEffectiveDateAndTime    time.Time `json:"volume_effective_date_and_time"`
	// Always 1 for primary and supplementary descriptors.
	FileStructureVersion uint8                                   `json:"file_structure_version"`
	ApplicationUse       [consts.ISO9660_APPLICATION_USE_SIZE]byte `json:"application_use"`
}

// NewPrimaryVolumeDescriptor returns a descriptor with the fixed fields set.
func NewPrimaryVolumeDescriptor() *PrimaryVolumeDescriptor {
	return &PrimaryVolumeDescriptor{
		VolumeDescriptorHeader: newHeader(TYPE_PRIMARY_DESCRIPTOR),
		VolumeSetSize:          1,
		VolumeSequenceNumber:   1,
		LogicalBlockSize:       consts.ISO9660_SECTOR_SIZE,
		FileStructureVersion:   1,
	}
}

// NewJolietVolumeDescriptor returns a Supplementary descriptor announcing Joliet level 3.
func NewJolietVolumeDescriptor() *PrimaryVolumeDescriptor {
	d := NewPrimaryVolumeDescriptor()
	d.VolumeDescriptorHeader = newHeader(TYPE_SUPPLEMENTARY_DESCRIPTOR)
	copy(d.EscapeSequences[:], consts.JOLIET_LEVEL_3_ESCAPE)
	return d
}

// IsJoliet reports whether the escape sequences name one of the Joliet levels.
func (pvd *PrimaryVolumeDescriptor) IsJoliet() bool {
	if pvd.VolumeDescriptorType != TYPE_SUPPLEMENTARY_DESCRIPTOR {
		return false
	}
	esc := string(pvd.EscapeSequences[:3])
	return esc == consts.JOLIET_LEVEL_1_ESCAPE ||
		esc == consts.JOLIET_LEVEL_2_ESCAPE ||
		esc == consts.JOLIET_LEVEL_3_ESCAPE
}

// JolietLevel returns 1, 2 or 3, or 0 when the descriptor is not Joliet.
func (pvd *PrimaryVolumeDescriptor) JolietLevel() int {
	if !pvd.IsJoliet() {
		return 0
	}
	switch string(pvd.EscapeSequences[:3]) {
	case consts.JOLIET_LEVEL_1_ESCAPE:
		return 1
	case consts.JOLIET_LEVEL_2_ESCAPE:
		return 2
	}
	return 3
}

func (pvd *PrimaryVolumeDescriptor) putString(buf []byte, s string) {
	if !pvd.IsJoliet() {
		copy(buf, helpers.PadString(s, len(buf)))
		return
	}
	for i := 0; i+1 < len(buf); i += 2 {
		buf[i], buf[i+1] = 0x00, consts.ISO9660_FILLER
	}
	enc := encoding.EncodeUCS2BigEndian(s)
	if len(enc) > len(buf)&^1 {
		enc = enc[:len(buf)&^1]
	}
	copy(buf, enc)
}

func (pvd *PrimaryVolumeDescriptor) getString(buf []byte) string {
	if pvd.IsJoliet() {
		return strings.TrimRight(encoding.DecodeUCS2BigEndian(buf[:len(buf)&^1]), " \x00")
	}
	return helpers.TrimField(buf)
}

// Marshal converts the descriptor into its 2048 byte on-disk representation.
func (pvd *PrimaryVolumeDescriptor) Marshal() ([]byte, error) {
	buf := make([]byte, consts.ISO9660_SECTOR_SIZE)

	// | 1-7 | Header
	pvd.VolumeDescriptorHeader.marshal(buf)
	// | 8 | Volume Flags
	if pvd.VolumeDescriptorType == TYPE_SUPPLEMENTARY_DESCRIPTOR {
		buf[7] = pvd.VolumeFlags
	}
	// | 9-40 | System Identifier, always a-characters.
	copy(buf[8:40], helpers.PadString(pvd.SystemIdentifier, 32))
	// | 41-72 | Volume Identifier
	pvd.putString(buf[40:72], pvd.VolumeIdentifier)
	// | 81-88 | Volume Space Size
	encoding.PutBoth32(buf[80:88], pvd.VolumeSpaceSize)
	// | 89-120 | Escape Sequences
	if pvd.VolumeDescriptorType == TYPE_SUPPLEMENTARY_DESCRIPTOR {
		copy(buf[88:120], pvd.EscapeSequences[:])
	}
	// | 121-124 | Volume Set Size
	encoding.PutBoth16(buf[120:124], pvd.VolumeSetSize)
	// | 125-128 | Volume Sequence Number
	encoding.PutBoth16(buf[124:128], pvd.VolumeSequenceNumber)
	// | 129-132 | Logical Block Size
	encoding.PutBoth16(buf[128:132], pvd.LogicalBlockSize)
	// | 133-140 | Path Table Size
	encoding.PutBoth32(buf[132:140], pvd.PathTableSize)
	// | 141-156 | Path Table locations
	binary.LittleEndian.PutUint32(buf[140:144], pvd.LocationOfTypeLPathTable)
	binary.LittleEndian.PutUint32(buf[144:148], pvd.LocationOfOptionalTypeLPathTable)
	binary.BigEndian.PutUint32(buf[148:152], pvd.LocationOfTypeMPathTable)
	binary.BigEndian.PutUint32(buf[152:156], pvd.LocationOfOptionalTypeMPathTable)
	// | 157-190 | Root Directory Record
	if pvd.RootDirectoryRecord == nil {
		return nil, fmt.Errorf("volume descriptor has no root directory record")
	}
	root, err := pvd.RootDirectoryRecord.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal root directory record: %w", err)
	}
	if len(root) != consts.ISO9660_ROOT_RECORD_SIZE {
		return nil, fmt.Errorf("root directory record is %d bytes, want %d", len(root), consts.ISO9660_ROOT_RECORD_SIZE)
	}
	copy(buf[156:190], root)
	// | 191-702 | Volume Set, Publisher, Data Preparer, Application Identifiers
	pvd.putString(buf[190:318], pvd.VolumeSetIdentifier)
	pvd.putString(buf[318:446], pvd.PublisherIdentifier)
	pvd.putString(buf[446:574], pvd.DataPreparerIdentifier)
	pvd.putString(buf[574:702], pvd.ApplicationIdentifier)
	// | 703-813 | Copyright, Abstract, Bibliographic File Identifiers
	pvd.putString(buf[702:739], pvd.CopyrightFileIdentifier)
	pvd.putString(buf[739:776], pvd.AbstractFileIdentifier)
	pvd.putString(buf[776:813], pvd.BibliographicFileIdentifier)
	// | 814-881 | Volume Creation, Modification, Expiration, Effective Date and Time
	for i, t := range []time.Time{
		pvd.VolumeCreationDateAndTime,
		pvd.VolumeModificationDateAndTime,
		pvd.VolumeExpirationDateAndTime,
		pvd.VolumeEffectiveDateAndTime,
	} {
		stamp, err := encoding.MarshalDateTime(t)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal volume date %d: %w", i, err)
		}
		copy(buf[813+i*17:830+i*17], stamp[:])
	}
	// | 882 | File Structure Version
	buf[881] = pvd.FileStructureVersion
	// | 884-1395 | Application Use
	copy(buf[883:1395], pvd.ApplicationUse[:])

	return buf, nil
}

// Unmarshal parses a 2048 byte sector holding a primary or supplementary volume descriptor.
func (pvd *PrimaryVolumeDescriptor) Unmarshal(data []byte) error {
	if len(data) < consts.ISO9660_SECTOR_SIZE {
		return fmt.Errorf("data too short: expected %d bytes, got %d", consts.ISO9660_SECTOR_SIZE, len(data))
	}
	if err := pvd.VolumeDescriptorHeader.Unmarshal(data); err != nil {
		return fmt.Errorf("failed to unmarshal VolumeDescriptorHeader: %w", err)
	}
	if t := pvd.VolumeDescriptorType; t != TYPE_PRIMARY_DESCRIPTOR && t != TYPE_SUPPLEMENTARY_DESCRIPTOR {
		return fmt.Errorf("unexpected descriptor type %s", t)
	}

	// Escape sequences first: they decide how the identifiers are decoded.
	if pvd.VolumeDescriptorType == TYPE_SUPPLEMENTARY_DESCRIPTOR {
		pvd.VolumeFlags = data[7]
		copy(pvd.EscapeSequences[:], data[88:120])
	}
	pvd.SystemIdentifier = helpers.TrimField(data[8:40])
	pvd.VolumeIdentifier = pvd.getString(data[40:72])
	pvd.VolumeSpaceSize, _ = encoding.Both32(data[80:88])
	pvd.VolumeSetSize, _ = encoding.Both16(data[120:124])
	pvd.VolumeSequenceNumber, _ = encoding.Both16(data[124:128])
	pvd.LogicalBlockSize, _ = encoding.Both16(data[128:132])
	pvd.PathTableSize, _ = encoding.Both32(data[132:140])
	pvd.LocationOfTypeLPathTable = binary.LittleEndian.Uint32(data[140:144])
	pvd.LocationOfOptionalTypeLPathTable = binary.LittleEndian.Uint32(data[144:148])
	pvd.LocationOfTypeMPathTable = binary.BigEndian.Uint32(data[148:152])
	pvd.LocationOfOptionalTypeMPathTable = binary.BigEndian.Uint32(data[152:156])

	root := &directory.DirectoryRecord{Joliet: pvd.IsJoliet()}
	if err := root.Unmarshal(data[156:190]); err != nil {
		return fmt.Errorf("failed to unmarshal root directory record: %w", err)
	}
	pvd.RootDirectoryRecord = root

	pvd.VolumeSetIdentifier = pvd.getString(data[190:318])
	pvd.PublisherIdentifier = pvd.getString(data[318:446])
	pvd.DataPreparerIdentifier = pvd.getString(data[446:574])
	pvd.ApplicationIdentifier = pvd.getString(data[574:702])
	pvd.CopyrightFileIdentifier = pvd.getString(data[702:739])
	pvd.AbstractFileIdentifier = pvd.getString(data[739:776])
	pvd.BibliographicFileIdentifier = pvd.getString(data[776:813])

	dates := []*time.Time{
		&pvd.VolumeCreationDateAndTime,
		&pvd.VolumeModificationDateAndTime,
		&pvd.VolumeExpirationDateAndTime,
		&pvd.VolumeEffectiveDateAndTime,
	}
	for i, dst := range dates {
		var stamp [17]byte
		copy(stamp[:], data[813+i*17:830+i*17])
		// Malformed dates are common on real media and carry no meaning for extraction.
		if t, err := encoding.UnmarshalDateTime(stamp); err == nil {
			*dst = t
		}
	}
	pvd.FileStructureVersion = data[881]
	copy(pvd.ApplicationUse[:], data[883:1395])
	return nil
}
