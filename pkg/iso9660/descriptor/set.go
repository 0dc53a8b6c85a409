package descriptor

import (
	"errors"
	"fmt"
	"io"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// Upper bound on descriptors scanned before giving up on finding a terminator.
const maxDescriptors = 64

var ErrNoPrimaryDescriptor = errors.New("no primary volume descriptor")

type VolumeDescriptorSet struct {
	Primary       *PrimaryVolumeDescriptor
	Supplementary []*PrimaryVolumeDescriptor
	Boot          *BootRecordDescriptor
	// Sector numbers of the descriptors, keyed by type, for layout reporting.
	Locations map[VolumeDescriptorType][]int64
}

// Joliet returns the first supplementary descriptor that announces Joliet, or nil.
func (s *VolumeDescriptorSet) Joliet() *PrimaryVolumeDescriptor {
	for _, svd := range s.Supplementary {
		if svd.IsJoliet() {
			return svd
		}
	}
	return nil
}

// ReadVolumeDescriptorSet scans the descriptor set starting at sector 16 until the terminator.
// It fails when the first sector is not a descriptor or no primary descriptor is found.
func ReadVolumeDescriptorSet(r io.ReaderAt) (*VolumeDescriptorSet, error) {
	set := &VolumeDescriptorSet{Locations: map[VolumeDescriptorType][]int64{}}
	buf := make([]byte, consts.ISO9660_SECTOR_SIZE)

scan:
	for i := 0; i < maxDescriptors; i++ {
		sector := int64(consts.ISO9660_SYSTEM_AREA_SECTORS + i)
		if _, err := r.ReadAt(buf, sector*consts.ISO9660_SECTOR_SIZE); err != nil {
			return nil, fmt.Errorf("failed to read volume descriptor at sector %d: %w", sector, err)
		}
		var header VolumeDescriptorHeader
		if err := header.Unmarshal(buf); err != nil {
			if i == 0 {
				return nil, err
			}
			// Some producers end the set without a terminator.
			break
		}
		set.Locations[header.Type()] = append(set.Locations[header.Type()], sector)

		switch header.Type() {
		case TYPE_PRIMARY_DESCRIPTOR:
			if set.Primary != nil {
				continue
			}
			pvd := &PrimaryVolumeDescriptor{}
			if err := pvd.Unmarshal(buf); err != nil {
				return nil, fmt.Errorf("failed to parse primary volume descriptor: %w", err)
			}
			set.Primary = pvd
		case TYPE_SUPPLEMENTARY_DESCRIPTOR:
			svd := &PrimaryVolumeDescriptor{}
			if err := svd.Unmarshal(buf); err != nil {
				return nil, fmt.Errorf("failed to parse supplementary volume descriptor: %w", err)
			}
			set.Supplementary = append(set.Supplementary, svd)
		case TYPE_BOOT_RECORD:
			br := &BootRecordDescriptor{}
			if err := br.Unmarshal(buf); err != nil {
				return nil, fmt.Errorf("failed to parse boot record: %w", err)
			}
			if set.Boot == nil {
				set.Boot = br
			}
		case TYPE_TERMINATOR_DESCRIPTOR:
			break scan
		}
	}

	if set.Primary == nil {
		return nil, ErrNoPrimaryDescriptor
	}
	return set, nil
}
