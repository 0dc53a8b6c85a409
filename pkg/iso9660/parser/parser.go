package parser

import (
	"errors"
	"fmt"
	"io"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/iso9660/boot"
	"github.com/rstms/iso-remaster/pkg/iso9660/descriptor"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/iso9660/extensions"
	"github.com/rstms/iso-remaster/pkg/iso9660/extent"
	"github.com/rstms/iso-remaster/pkg/logging"
)

// Continuation areas are chained; a corrupt chain must not loop forever.
const maxContinuations = 16

func NewParser(reader io.ReaderAt, logger *logging.Logger) *Parser {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Parser{
		reader: reader,
		logger: logger,
	}
}

type Parser struct {
	reader io.ReaderAt
	logger *logging.Logger
	// Rock Ridge parsing is enabled once the SP entry has been seen on the root.
	rockRidge bool
	skipBytes int
}

// Entry is one child of a directory. Consecutive multi-extent records of the same file are
// folded into a single entry.
type Entry struct {
	Record *directory.DirectoryRecord
	File   *extent.File
}

// Size returns the length of the file data in bytes.
func (e *Entry) Size() int64 {
	return e.File.Size()
}

// GetElTorito reads the boot catalog referenced by an El Torito boot record.
func (p *Parser) GetElTorito(bootRecord *descriptor.BootRecordDescriptor) (*boot.ElTorito, error) {
	if !bootRecord.IsElTorito() {
		return nil, errors.New("boot record is not El Torito")
	}
	catalogOffset := int64(bootRecord.CatalogLBA()) * consts.ISO9660_SECTOR_SIZE
	catalogBytes := make([]byte, consts.ISO9660_SECTOR_SIZE)
	if _, err := p.reader.ReadAt(catalogBytes, catalogOffset); err != nil {
		return nil, fmt.Errorf("failed to read boot catalog: %w", err)
	}
	et := &boot.ElTorito{Logger: p.logger}
	if err := et.Unmarshal(catalogBytes); err != nil {
		return nil, err
	}
	return et, nil
}

// DetectRockRidge inspects the "." record of the root directory for the SUSP sharing protocol
// entry or the legacy RR marker. Detection turns on Rock Ridge parsing for later reads.
func (p *Parser) DetectRockRidge(root *directory.DirectoryRecord) (bool, error) {
	records, err := p.readRecords(root.LocationOfExtent, root.DataLength, root.Joliet)
	if err != nil {
		return false, err
	}
	if len(records) == 0 || !records[0].IsSpecial() || len(records[0].SystemUse) == 0 {
		return false, nil
	}
	rr := &extensions.RockRidge{}
	if err := p.unmarshalSystemUse(rr, records[0].SystemUse); err != nil {
		p.logger.Debug("root system use is not SUSP", "error", err)
		return false, nil
	}
	if !rr.SharingProtocol && !rr.Legacy && rr.AlternateName == nil {
		return false, nil
	}
	p.rockRidge = true
	p.skipBytes = int(rr.SkipBytes)
	p.logger.Debug("rock ridge detected", "extensions", rr.Extensions, "skip", rr.SkipBytes)
	return true, nil
}

// ReadDirectory lists the children of dir, excluding "." and "..".
func (p *Parser) ReadDirectory(dir *directory.DirectoryRecord) ([]*Entry, error) {
	if dir == nil || !dir.IsDirectory() {
		return nil, errors.New("not a directory record")
	}
	records, err := p.readRecords(dir.LocationOfExtent, dir.DataLength, dir.Joliet)
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	var pending *Entry
	for _, record := range records {
		if record.IsSpecial() {
			continue
		}
		if p.rockRidge && !dir.Joliet && len(record.SystemUse) > p.skipBytes {
			rr := &extensions.RockRidge{}
			if err := p.unmarshalSystemUse(rr, record.SystemUse[p.skipBytes:]); err != nil {
				p.logger.Warn("ignoring malformed system use area", "lba", record.LocationOfExtent, "error", err)
			} else {
				record.RockRidge = rr
			}
		}

		ext := extent.Extent{Location: record.LocationOfExtent, Length: record.DataLength}
		if pending != nil {
			pending.File.Extents = append(pending.File.Extents, ext)
			if !record.FileFlags.MultiExtent {
				entries = append(entries, pending)
				pending = nil
			}
			continue
		}

		e := &Entry{
			Record: record,
			File:   &extent.File{Extents: []extent.Extent{ext}, Reader: p.reader},
		}
		if name, ok := record.Identifier(); ok {
			e.File.Name = name
		}
		if record.FileFlags.MultiExtent && !record.IsDirectory() {
			pending = e
			continue
		}
		entries = append(entries, e)
	}
	if pending != nil {
		p.logger.Warn("multi-extent file without final extent", "name", pending.File.Name)
		entries = append(entries, pending)
	}
	return entries, nil
}

// unmarshalSystemUse parses a system use field and follows CE continuation areas.
func (p *Parser) unmarshalSystemUse(rr *extensions.RockRidge, data []byte) error {
	if err := rr.Unmarshal(data); err != nil {
		return err
	}
	for i := 0; rr.Continuation != nil; i++ {
		if i == maxContinuations {
			return fmt.Errorf("continuation chain longer than %d", maxContinuations)
		}
		ce := *rr.Continuation
		if ce.Length == 0 || ce.Offset+ce.Length > consts.ISO9660_SECTOR_SIZE {
			return fmt.Errorf("invalid continuation area %+v", ce)
		}
		buf := make([]byte, ce.Length)
		off := int64(ce.Block)*consts.ISO9660_SECTOR_SIZE + int64(ce.Offset)
		if _, err := p.reader.ReadAt(buf, off); err != nil {
			return fmt.Errorf("failed to read continuation area: %w", err)
		}
		if err := rr.Unmarshal(buf); err != nil {
			return err
		}
	}
	return nil
}

// readRecords reads the raw records of a directory extent. Records never cross a sector
// boundary; the rest of a sector after a zero length byte is padding.
func (p *Parser) readRecords(lba uint32, dataLength uint32, joliet bool) ([]*directory.DirectoryRecord, error) {
	sectorSize := consts.ISO9660_SECTOR_SIZE
	if dataLength > consts.MAX_DIRECTORY_SIZE {
		return nil, fmt.Errorf("directory at LBA %d claims %d bytes, limit is %d", lba, dataLength, consts.MAX_DIRECTORY_SIZE)
	}
	buf := make([]byte, dataLength)
	if _, err := p.reader.ReadAt(buf, int64(lba)*int64(sectorSize)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read directory sector at LBA %d: %w", lba, err)
	}

	var records []*directory.DirectoryRecord
	index := 0
	for index < len(buf) {
		length := int(buf[index])
		sectorEnd := (index/sectorSize + 1) * sectorSize
		if length == 0 {
			index = sectorEnd
			continue
		}
		if index+length > sectorEnd || index+length > len(buf) {
			p.logger.Debug("directory record crosses sector boundary", "lba", lba, "index", index)
			index = sectorEnd
			continue
		}

		dr := &directory.DirectoryRecord{Joliet: joliet}
		if err := dr.Unmarshal(buf[index : index+length]); err != nil {
			p.logger.Warn("skipping malformed directory record", "lba", lba, "index", index, "error", err)
		} else {
			records = append(records, dr)
		}
		index += length
	}
	return records, nil
}
