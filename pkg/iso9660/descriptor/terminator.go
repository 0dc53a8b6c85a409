package descriptor

import "github.com/rstms/iso-remaster/pkg/consts"

type VolumeDescriptorSetTerminator struct {
	VolumeDescriptorHeader
}

func NewVolumeDescriptorSetTerminator() *VolumeDescriptorSetTerminator {
	return &VolumeDescriptorSetTerminator{VolumeDescriptorHeader: newHeader(TYPE_TERMINATOR_DESCRIPTOR)}
}

func (d *VolumeDescriptorSetTerminator) Marshal() ([]byte, error) {
	buf := make([]byte, consts.ISO9660_SECTOR_SIZE)
	d.VolumeDescriptorHeader.marshal(buf)
	return buf, nil
}
