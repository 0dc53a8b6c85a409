package descriptor

import (
	"fmt"

	"github.com/rstms/iso-remaster/pkg/consts"
)

type VolumeDescriptorHeader struct {
	// Volume Descriptor Types.
	//  | 0 = Boot Record
	//  | 1 = Primary
	//  | 2 = Supplementary
	//  | 3 = Partition
	//  | 4 - 254 = Reserved
	//  | 255 = Terminator
	VolumeDescriptorType VolumeDescriptorType `json:"volume_descriptor_type"`
	// Standard Identifier should always be 'CD001'.
	StandardIdentifier string `json:"standard_identifier"`
	// Volume Descriptor Version. The contents and interpretation depend on the Volume Descriptor Type field.
	VolumeDescriptorVersion uint8 `json:"volume_descriptor_version"`
}

func newHeader(t VolumeDescriptorType) VolumeDescriptorHeader {
	return VolumeDescriptorHeader{
		VolumeDescriptorType:    t,
		StandardIdentifier:      consts.ISO9660_STD_IDENTIFIER,
		VolumeDescriptorVersion: consts.ISO9660_VOLUME_DESC_VERSION,
	}
}

func (h *VolumeDescriptorHeader) Type() VolumeDescriptorType {
	return h.VolumeDescriptorType
}

// marshal writes the 7 byte header into the start of buf.
func (h *VolumeDescriptorHeader) marshal(buf []byte) {
	buf[0] = byte(h.VolumeDescriptorType)
	copy(buf[1:6], consts.ISO9660_STD_IDENTIFIER)
	buf[6] = h.VolumeDescriptorVersion
}

// Unmarshal parses the 7 byte header at the start of data. It fails when the standard
// identifier is not "CD001".
func (h *VolumeDescriptorHeader) Unmarshal(data []byte) error {
	if len(data) < consts.ISO9660_VOLUME_DESC_HEADER_SIZE {
		return fmt.Errorf("volume descriptor header too short: %d bytes", len(data))
	}
	h.VolumeDescriptorType = VolumeDescriptorType(data[0])
	h.StandardIdentifier = string(data[1:6])
	h.VolumeDescriptorVersion = data[6]
	if h.StandardIdentifier != consts.ISO9660_STD_IDENTIFIER {
		return fmt.Errorf("unexpected standard identifier: %q", h.StandardIdentifier)
	}
	return nil
}
