package boot

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/logging"
)

const (
	// Size of every boot catalog entry.
	ENTRY_SIZE = 32
	// Default catalog name for non-Rock Ridge filesystems
	EL_TORITO_DEFAULT_CATALOG = "BOOT.CAT"
	// Segment the BIOS loads no-emulation images to when the entry leaves it zero.
	DEFAULT_LOAD_SEGMENT = 0x07C0
	// Virtual sectors loaded by BIOS for a no-emulation boot loader.
	DEFAULT_LOAD_SIZE = 4
)

const (
	headerValidation   = 0x01
	indicatorBootable  = 0x88
	indicatorNoBoot    = 0x00
	headerSection      = 0x90
	headerFinalSection = 0x91
)

// Platform represents the target booting system for an El-Torito bootable ISO.
type Platform uint8

const (
	BIOS Platform = 0x0  // Classic PC-BIOS x86
	PPC  Platform = 0x1  // PowerPC
	Mac  Platform = 0x2  // Macintosh systems
	EFI  Platform = 0xef // Extensible Firmware Interface (EFI)
)

func (p Platform) String() string {
	switch p {
	case BIOS:
		return "BIOS"
	case PPC:
		return "PowerPC"
	case Mac:
		return "Macintosh"
	case EFI:
		return "EFI"
	default:
		return "Unknown"
	}
}

// Emulation represents the emulation mode used for booting.
type Emulation uint8

const (
	NoEmulation        Emulation = 0x0 // No emulation (default)
	Floppy12Emulation  Emulation = 0x1 // Emulate a 1.2 MB floppy
	Floppy144Emulation Emulation = 0x2 // Emulate a 1.44 MB floppy
	Floppy288Emulation Emulation = 0x3 // Emulate a 2.88 MB floppy
	HardDiskEmulation  Emulation = 0x4 // Emulate a hard disk
)

func (e Emulation) String() string {
	switch e {
	case NoEmulation:
		return "NoEmul"
	case Floppy12Emulation:
		return "1.2MFloppy"
	case Floppy144Emulation:
		return "1.44MFloppy"
	case Floppy288Emulation:
		return "2.88MFloppy"
	case HardDiskEmulation:
		return "HardDisk"
	default:
		return "Unknown"
	}
}

// ElToritoEntry represents a single boot entry in the catalog.
type ElToritoEntry struct {
	Bootable    bool
	Platform    Platform
	Emulation   Emulation
	LoadSegment uint16
	SystemType  byte
	// Number of 512 byte virtual sectors loaded at boot.
	SectorCount uint16
	// Sector of the boot image.
	LoadRBA uint32
	// Path of the boot image inside the tree, when known.
	BootFile string
}

// ElTorito represents the El-Torito boot catalog. The first entry is the initial/default entry;
// any further entries are written into one section per platform.
type ElTorito struct {
	Platform Platform
	ID       string
	Entries  []*ElToritoEntry
	Logger   *logging.Logger
}

func (et *ElTorito) logger() *logging.Logger {
	if et.Logger == nil {
		return logging.DefaultLogger()
	}
	return et.Logger
}

func putEntry(b []byte, e *ElToritoEntry) {
	if e.Bootable {
		b[0] = indicatorBootable
	} else {
		b[0] = indicatorNoBoot
	}
	b[1] = byte(e.Emulation)
	binary.LittleEndian.PutUint16(b[2:4], e.LoadSegment)
	b[4] = e.SystemType
	binary.LittleEndian.PutUint16(b[6:8], e.SectorCount)
	binary.LittleEndian.PutUint32(b[8:12], e.LoadRBA)
}

func parseEntry(b []byte, platform Platform) *ElToritoEntry {
	return &ElToritoEntry{
		Bootable:    b[0] == indicatorBootable,
		Platform:    platform,
		Emulation:   Emulation(b[1] & 0x0F),
		LoadSegment: binary.LittleEndian.Uint16(b[2:4]),
		SystemType:  b[4],
		SectorCount: binary.LittleEndian.Uint16(b[6:8]),
		LoadRBA:     binary.LittleEndian.Uint32(b[8:12]),
	}
}

func checksum(b []byte) uint16 {
	var sum uint16
	for i := 0; i < ENTRY_SIZE; i += 2 {
		sum += binary.LittleEndian.Uint16(b[i : i+2])
	}
	return sum
}

// Marshal encodes the boot catalog into one sector.
func (et *ElTorito) Marshal() ([]byte, error) {
	if len(et.Entries) == 0 {
		return nil, fmt.Errorf("El Torito boot catalog has no entries")
	}
	data := make([]byte, consts.ISO9660_SECTOR_SIZE)

	// Validation entry: header, platform, id string, checksum, key bytes.
	data[0] = headerValidation
	data[1] = byte(et.Platform)
	copy(data[4:28], et.ID)
	data[0x1E] = 0x55
	data[0x1F] = 0xAA
	binary.LittleEndian.PutUint16(data[0x1C:0x1E], -checksum(data[:ENTRY_SIZE]))

	// Initial/default entry.
	putEntry(data[ENTRY_SIZE:2*ENTRY_SIZE], et.Entries[0])

	// One section per remaining entry; the last carries the final-section indicator.
	offset := 2 * ENTRY_SIZE
	rest := et.Entries[1:]
	for i, e := range rest {
		if offset+2*ENTRY_SIZE > len(data) {
			return nil, fmt.Errorf("boot catalog exceeds sector size limit")
		}
		header := data[offset : offset+ENTRY_SIZE]
		header[0] = headerSection
		if i == len(rest)-1 {
			header[0] = headerFinalSection
		}
		header[1] = byte(e.Platform)
		binary.LittleEndian.PutUint16(header[2:4], 1)
		putEntry(data[offset+ENTRY_SIZE:offset+2*ENTRY_SIZE], e)
		offset += 2 * ENTRY_SIZE
	}
	return data, nil
}

// Unmarshal decodes an El-Torito boot catalog.
func (et *ElTorito) Unmarshal(data []byte) error {
	log := et.logger()
	if len(data) < 2*ENTRY_SIZE {
		return fmt.Errorf("boot catalog: data too short")
	}
	if err := parseValidationEntry(data[:ENTRY_SIZE]); err != nil {
		return fmt.Errorf("boot catalog: invalid validation entry: %w", err)
	}
	et.Platform = Platform(data[1])
	et.ID = string(data[4:28])

	initial := parseEntry(data[ENTRY_SIZE:2*ENTRY_SIZE], et.Platform)
	et.Entries = append(et.Entries[:0], initial)
	log.Trace("parsed initial entry", "entry", initial)

	platform := et.Platform
	remaining := 0
	final := false
	for offset := 2 * ENTRY_SIZE; offset+ENTRY_SIZE <= len(data); offset += ENTRY_SIZE {
		b := data[offset : offset+ENTRY_SIZE]
		switch {
		case remaining > 0:
			remaining--
			// Selection criteria extensions follow entries whose bit 5 is set.
			if b[0] == 0x44 {
				continue
			}
			e := parseEntry(b, platform)
			et.Entries = append(et.Entries, e)
			log.Trace("parsed section entry", "entry", e)
		case !final && (b[0] == headerSection || b[0] == headerFinalSection):
			final = b[0] == headerFinalSection
			platform = Platform(b[1])
			remaining = int(binary.LittleEndian.Uint16(b[2:4]))
			log.Debug("section header found", "offset", offset, "entries", remaining)
		default:
			log.Debug("total El Torito entries discovered", "count", len(et.Entries))
			return nil
		}
	}
	return nil
}

func parseValidationEntry(data []byte) error {
	if len(data) < ENTRY_SIZE {
		return fmt.Errorf("data too short")
	}
	if data[0] != headerValidation {
		return fmt.Errorf("invalid header ID %x", data[0])
	}
	if data[0x1E] != 0x55 || data[0x1F] != 0xAA {
		return fmt.Errorf("invalid key bytes %x%x", data[0x1E], data[0x1F])
	}
	if checksum(data) != 0 {
		return fmt.Errorf("checksum invalid")
	}
	return nil
}

// ExtractBootImages writes the image of every bootable entry into outputDir and returns the
// files written.
func (et *ElTorito) ExtractBootImages(ra io.ReaderAt, outputDir string) ([]string, error) {
	log := et.logger()
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create boot image directory %s: %w", outputDir, err)
	}

	var written []string
	for i, entry := range et.Entries {
		if !entry.Bootable || entry.SectorCount == 0 || entry.LoadRBA == 0 {
			log.Trace("skipping non-bootable entry", "index", i)
			continue
		}
		outputPath := filepath.Join(outputDir, fmt.Sprintf("%d-Boot-%s-%s.img", i+1, entry.Platform, entry.Emulation))
		data := make([]byte, int64(entry.SectorCount)*512)
		start := int64(entry.LoadRBA) * consts.ISO9660_SECTOR_SIZE
		if _, err := ra.ReadAt(data, start); err != nil && err != io.EOF {
			return written, fmt.Errorf("failed to read boot image at offset %d: %w", start, err)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write boot image to file %s: %w", outputPath, err)
		}
		log.Debug("boot image extracted", "outputPath", outputPath)
		written = append(written, outputPath)
	}
	return written, nil
}
