package iso9660

import (
	"fmt"
	"io"
	"os"

	"github.com/rstms/iso-remaster/pkg/iso9660/boot"
	"github.com/rstms/iso-remaster/pkg/iso9660/descriptor"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/iso9660/parser"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

//10.1 Level 1
// At Level 1 the following restrictions shall apply to a volume identified by a Primary Volume Descriptor or by a
// Supplementary Volume Descriptor:
//  - each file shall consist of only one File Section;
//  - a File Name shall not contain more than eight d-characters or eight d1-characters;
//  - a File Name Extension shall not contain more than three d-characters or three d1-characters;
//  - a Directory Identifier shall not contain more than eight d-characters or eight d1-characters.
//10.2 Level 2
// At Level 2 the following restriction shall apply:
//  - each file shall consist of only one File Section.
//10.3 Level 3
// At Level 3 no restrictions shall apply

// Open reads the volume descriptor set of an ISO9660 filesystem and probes its extensions.
func Open(isoReader io.ReaderAt, opts ...option.OpenOption) (*ISO9660, error) {
	openOptions := option.Apply(opts...)
	log := openOptions.Logger

	set, err := descriptor.ReadVolumeDescriptorSet(isoReader)
	if err != nil {
		return nil, err
	}

	p := parser.NewParser(isoReader, log)
	iso := &ISO9660{
		isoReader:   isoReader,
		openOptions: openOptions,
		logger:      log,
		parser:      p,
		set:         set,
	}

	if set.Boot != nil && set.Boot.IsElTorito() && openOptions.ElToritoEnabled {
		et, err := p.GetElTorito(set.Boot)
		if err != nil {
			// A damaged catalog does not prevent reading files.
			log.Warn("failed to read El Torito boot catalog", "error", err)
		} else {
			iso.elTorito = et
		}
	}

	if openOptions.RockRidgeEnabled {
		rr, err := p.DetectRockRidge(set.Primary.RootDirectoryRecord)
		if err != nil {
			log.Warn("failed to probe for rock ridge", "error", err)
		}
		iso.rockRidge = rr
	}

	log.Debug("opened iso9660 volume",
		"volume", set.Primary.VolumeIdentifier,
		"joliet", iso.HasJoliet(),
		"rockridge", iso.rockRidge,
		"eltorito", iso.elTorito != nil)
	return iso, nil
}

// ISO9660 represents an ISO9660 filesystem and its Joliet and Rock Ridge views.
type ISO9660 struct {
	isoReader   io.ReaderAt
	openOptions *option.OpenOptions
	logger      *logging.Logger
	parser      *parser.Parser
	set         *descriptor.VolumeDescriptorSet
	elTorito    *boot.ElTorito
	rockRidge   bool
}

// PrimaryVolumeDescriptor returns the primary volume descriptor.
func (iso *ISO9660) PrimaryVolumeDescriptor() *descriptor.PrimaryVolumeDescriptor {
	return iso.set.Primary
}

// VolumeDescriptorSet returns every descriptor found in the set.
func (iso *ISO9660) VolumeDescriptorSet() *descriptor.VolumeDescriptorSet {
	return iso.set
}

// GetVolumeID returns the volume identifier of the primary descriptor.
func (iso *ISO9660) GetVolumeID() string {
	return iso.set.Primary.VolumeIdentifier
}

// GetPublisherID returns the publisher identifier of the primary descriptor.
func (iso *ISO9660) GetPublisherID() string {
	return iso.set.Primary.PublisherIdentifier
}

// GetApplicationID returns the application identifier of the primary descriptor.
func (iso *ISO9660) GetApplicationID() string {
	return iso.set.Primary.ApplicationIdentifier
}

// GetVolumeSize returns the size of the volume in logical blocks.
func (iso *ISO9660) GetVolumeSize() uint32 {
	return iso.set.Primary.VolumeSpaceSize
}

// HasJoliet returns true if the ISO9660 filesystem has Joliet extensions.
func (iso *ISO9660) HasJoliet() bool {
	return iso.set.Joliet() != nil
}

// HasRockRidge returns true if the ISO9660 filesystem has Rock Ridge extensions.
func (iso *ISO9660) HasRockRidge() bool {
	return iso.rockRidge
}

// HasElTorito returns true if the ISO9660 filesystem has El Torito boot extensions.
func (iso *ISO9660) HasElTorito() bool {
	return iso.elTorito != nil
}

// ElTorito returns the boot catalog, or nil.
func (iso *ISO9660) ElTorito() *boot.ElTorito {
	return iso.elTorito
}

// Root returns the root directory record of the Joliet hierarchy when joliet is set, otherwise
// that of the primary hierarchy. It returns nil when no Joliet descriptor exists.
func (iso *ISO9660) Root(joliet bool) *directory.DirectoryRecord {
	if !joliet {
		return iso.set.Primary.RootDirectoryRecord
	}
	if svd := iso.set.Joliet(); svd != nil {
		return svd.RootDirectoryRecord
	}
	return nil
}

// ReadDir lists the children of a directory record.
func (iso *ISO9660) ReadDir(dir *directory.DirectoryRecord) ([]*parser.Entry, error) {
	return iso.parser.ReadDirectory(dir)
}

// Name resolves the name to extract an entry under. Primary hierarchy names prefer the Rock Ridge
// alternate name. ok is false when the recorded identifier could not be decoded.
func (iso *ISO9660) Name(e *parser.Entry) (string, bool) {
	rec := e.Record
	if !iso.openOptions.StripVersionInfo && !rec.Joliet {
		if rec.RockRidge != nil && rec.RockRidge.AlternateName != nil && iso.rockRidge {
			return *rec.RockRidge.AlternateName, true
		}
		return rec.Identifier()
	}
	return rec.BestName(iso.rockRidge && iso.openOptions.RockRidgeEnabled)
}

// ExtractBootImages writes every bootable El Torito image below outputLocation.
func (iso *ISO9660) ExtractBootImages(outputLocation string) ([]string, error) {
	if iso.elTorito == nil {
		return nil, fmt.Errorf("image has no El Torito boot catalog")
	}
	return iso.elTorito.ExtractBootImages(iso.isoReader, outputLocation)
}

// Close closes the ISO9660 filesystem.
func (iso *ISO9660) Close() error {
	if f, ok := iso.isoReader.(*os.File); ok {
		return f.Close()
	}
	return nil
}
