package descriptor

import (
	"encoding/binary"
	"fmt"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/helpers"
)

const (
	// Boot System Use field size: sector minus header and the two identifiers.
	BOOT_SYSTEM_USE_SIZE = consts.ISO9660_SECTOR_SIZE - 71
)

// BootRecordDescriptor is the type 0 descriptor. An El Torito boot record stores the boot
// catalog sector in the first four bytes of the Boot System Use field.
type BootRecordDescriptor struct {
	VolumeDescriptorHeader
	// Boot System Identifier (a-characters). "EL TORITO SPECIFICATION" for bootable discs.
	BootSystemIdentifier string `json:"boot_system_identifier"`
	// Boot Identifier (a-characters). Unused by El Torito.
	BootIdentifier string `json:"boot_identifier"`
	// Boot System Use, interpreted by the boot system.
	BootSystemUse [BOOT_SYSTEM_USE_SIZE]byte `json:"boot_system_use"`
}

// NewElToritoBootRecord returns a boot record pointing at the catalog in sector catalogLBA.
func NewElToritoBootRecord(catalogLBA uint32) *BootRecordDescriptor {
	d := &BootRecordDescriptor{
		VolumeDescriptorHeader: newHeader(TYPE_BOOT_RECORD),
		BootSystemIdentifier:   consts.EL_TORITO_BOOT_SYSTEM_ID,
	}
	binary.LittleEndian.PutUint32(d.BootSystemUse[0:4], catalogLBA)
	return d
}

// IsElTorito reports whether this boot record belongs to El Torito.
func (d *BootRecordDescriptor) IsElTorito() bool {
	return d.BootSystemIdentifier == consts.EL_TORITO_BOOT_SYSTEM_ID
}

// CatalogLBA returns the sector of the El Torito boot catalog.
func (d *BootRecordDescriptor) CatalogLBA() uint32 {
	return binary.LittleEndian.Uint32(d.BootSystemUse[0:4])
}

// Marshal converts the BootRecordDescriptor into its 2048-byte on-disk representation.
func (d *BootRecordDescriptor) Marshal() ([]byte, error) {
	buf := make([]byte, consts.ISO9660_SECTOR_SIZE)
	d.VolumeDescriptorHeader.marshal(buf)
	// El Torito pads the identifiers with zero bytes rather than spaces.
	copy(buf[7:39], d.BootSystemIdentifier)
	copy(buf[39:71], d.BootIdentifier)
	copy(buf[71:], d.BootSystemUse[:])
	return buf, nil
}

// Unmarshal parses a 2048-byte sector into the BootRecordDescriptor.
func (d *BootRecordDescriptor) Unmarshal(data []byte) error {
	if len(data) < consts.ISO9660_SECTOR_SIZE {
		return fmt.Errorf("data too short: expected %d bytes, got %d", consts.ISO9660_SECTOR_SIZE, len(data))
	}
	if err := d.VolumeDescriptorHeader.Unmarshal(data); err != nil {
		return fmt.Errorf("failed to unmarshal VolumeDescriptorHeader: %w", err)
	}
	d.BootSystemIdentifier = helpers.TrimField(data[7:39])
	d.BootIdentifier = helpers.TrimField(data[39:71])
	copy(d.BootSystemUse[:], data[71:consts.ISO9660_SECTOR_SIZE])
	return nil
}
