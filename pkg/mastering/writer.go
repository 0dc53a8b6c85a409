package mastering

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rstms/iso-remaster/pkg/iso9660/boot"
	"github.com/rstms/iso-remaster/pkg/iso9660/descriptor"
	"github.com/rstms/iso-remaster/pkg/iso9660/extensions"
	"github.com/rstms/iso-remaster/pkg/iso9660/pathtable"
	"github.com/rstms/iso-remaster/pkg/udf"
)

// sectorWriter writes whole sectors in increasing order and zero fills gaps.
type sectorWriter struct {
	w       *bufio.Writer
	next    uint32
	written int64
}

func (sw *sectorWriter) seek(sector uint32) error {
	if sector < sw.next {
		return fmt.Errorf("layout error: sector %d already written (next is %d)", sector, sw.next)
	}
	zero := make([]byte, SECTOR_SIZE)
	for sw.next < sector {
		if _, err := sw.w.Write(zero); err != nil {
			return err
		}
		sw.next++
		sw.written += SECTOR_SIZE
	}
	return nil
}

// put writes data at sector, padding it to a whole number of sectors.
func (sw *sectorWriter) put(sector uint32, data []byte) error {
	if err := sw.seek(sector); err != nil {
		return err
	}
	if _, err := sw.w.Write(data); err != nil {
		return err
	}
	n := int64(len(data))
	if pad := n % SECTOR_SIZE; pad != 0 {
		if _, err := sw.w.Write(make([]byte, SECTOR_SIZE-pad)); err != nil {
			return err
		}
		n += SECTOR_SIZE - pad
	}
	sw.next += uint32(n / SECTOR_SIZE)
	sw.written += n
	return nil
}

func (sw *sectorWriter) putAll(sector uint32, blocks [][]byte) error {
	for i, b := range blocks {
		if err := sw.put(sector+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}

// stream copies size bytes of r at sector and pads the last sector.
func (sw *sectorWriter) stream(sector uint32, r io.Reader, size int64) error {
	if err := sw.seek(sector); err != nil {
		return err
	}
	n, err := io.CopyN(sw.w, r, size)
	if err != nil {
		return fmt.Errorf("short read after %d of %d bytes: %w", n, size, err)
	}
	if pad := n % SECTOR_SIZE; pad != 0 {
		if _, err := sw.w.Write(make([]byte, SECTOR_SIZE-pad)); err != nil {
			return err
		}
		n += SECTOR_SIZE - pad
	}
	sw.next += uint32(n / SECTOR_SIZE)
	sw.written += n
	return nil
}

func (img *Image) bootable() bool {
	return img.opts.BootFile != "" || img.opts.EFIBootFile != ""
}

// lookup finds the node at an image path. Matching is case insensitive as boot file names come
// from trees mastered on case insensitive file systems.
func (img *Image) lookup(p string) *node {
	parts, err := splitPath(p)
	if err != nil {
		return nil
	}
	n := img.root
	for _, part := range parts {
		next, ok := n.children[part]
		if !ok {
			for name, c := range n.children {
				if strings.EqualFold(name, part) {
					next, ok = c, true
					break
				}
			}
		}
		if !ok {
			return nil
		}
		n = next
	}
	return n
}

func (img *Image) catalog() (*boot.ElTorito, error) {
	et := &boot.ElTorito{Platform: boot.BIOS, Logger: img.logger}
	if img.opts.BootFile != "" {
		n := img.lookup(img.opts.BootFile)
		if n == nil || n.isDir {
			return nil, fmt.Errorf("boot file %s is not in the image", img.opts.BootFile)
		}
		et.Entries = append(et.Entries, &boot.ElToritoEntry{
			Bootable:    true,
			Platform:    boot.BIOS,
			Emulation:   boot.NoEmulation,
			SectorCount: img.opts.BootLoadSize,
			LoadRBA:     n.location,
			BootFile:    n.Path(),
		})
	}
	if img.opts.EFIBootFile != "" {
		n := img.lookup(img.opts.EFIBootFile)
		if n == nil || n.isDir {
			return nil, fmt.Errorf("EFI boot file %s is not in the image", img.opts.EFIBootFile)
		}
		count := (n.size + 511) / 512
		if count > 0xFFFF {
			count = 0xFFFF
		}
		if len(et.Entries) == 0 {
			et.Platform = boot.EFI
		}
		et.Entries = append(et.Entries, &boot.ElToritoEntry{
			Bootable:    true,
			Platform:    boot.EFI,
			Emulation:   boot.NoEmulation,
			SectorCount: uint16(count),
			LoadRBA:     n.location,
			BootFile:    n.Path(),
		})
	}
	return et, nil
}

func (img *Image) volumeDescriptor(joliet bool, l *layout) *descriptor.PrimaryVolumeDescriptor {
	d := descriptor.NewPrimaryVolumeDescriptor()
	root := img.root
	rootRecord := img.directoryRecord(root, false, []byte{0x00})
	pt := l.isoPathTable
	pathL, pathM := l.isoPathL, l.isoPathM
	if joliet {
		d = descriptor.NewJolietVolumeDescriptor()
		rootRecord = img.directoryRecord(root, true, []byte{0x00})
		pt = l.jolietPathTable
		pathL, pathM = l.jolietPathL, l.jolietPathM
	}
	d.SystemIdentifier = img.opts.SystemIdentifier
	d.VolumeIdentifier = img.opts.VolumeIdentifier
	d.VolumeSpaceSize = l.total
	d.PathTableSize = uint32(pt.Size())
	d.LocationOfTypeLPathTable = pathL
	d.LocationOfTypeMPathTable = pathM
	d.RootDirectoryRecord = rootRecord
	d.PublisherIdentifier = img.opts.PublisherIdentifier
	d.DataPreparerIdentifier = img.opts.DataPreparerIdentifier
	d.ApplicationIdentifier = img.opts.ApplicationIdentifier
	d.VolumeCreationDateAndTime = img.opts.RecordingTime
	d.VolumeModificationDateAndTime = img.opts.RecordingTime
	return d
}

func marshalPathTables(pt *pathtable.PathTable) ([]byte, []byte, error) {
	lsb := &pathtable.PathTable{Records: pt.Records, LittleEndian: true}
	msb := &pathtable.PathTable{Records: pt.Records, LittleEndian: false}
	l, err := lsb.Marshal()
	if err != nil {
		return nil, nil, err
	}
	m, err := msb.Marshal()
	if err != nil {
		return nil, nil, err
	}
	return l, m, nil
}

// WriteTo lays out the image and writes it to w.
func (img *Image) WriteTo(w io.Writer) (int64, error) {
	log := img.logger
	l, err := img.layout()
	if err != nil {
		return 0, fmt.Errorf("failed to lay out image: %w", err)
	}
	// Path table records carry extent locations, which are only known now.
	l.isoPathTable = img.pathTable(l.isoDirs, false)
	if img.hasJoliet() {
		l.jolietPathTable = img.pathTable(l.jolietDirs, true)
	}
	log.Debug("image layout",
		"sectors", l.total,
		"size", humanize.IBytes(uint64(l.total)*SECTOR_SIZE),
		"files", len(l.files),
		"directories", len(l.isoDirs))

	sw := &sectorWriter{w: bufio.NewWriterSize(w, 1<<20)}

	// Volume descriptor set.
	pvd, err := img.volumeDescriptor(false, l).Marshal()
	if err != nil {
		return sw.written, fmt.Errorf("failed to marshal primary volume descriptor: %w", err)
	}
	if err := sw.put(l.primary, pvd); err != nil {
		return sw.written, err
	}
	var catalog []byte
	if img.bootable() {
		et, err := img.catalog()
		if err != nil {
			return sw.written, err
		}
		if catalog, err = et.Marshal(); err != nil {
			return sw.written, fmt.Errorf("failed to marshal boot catalog: %w", err)
		}
		br, _ := descriptor.NewElToritoBootRecord(l.catalog).Marshal()
		if err := sw.put(l.bootRecord, br); err != nil {
			return sw.written, err
		}
	}
	if img.hasJoliet() {
		svd, err := img.volumeDescriptor(true, l).Marshal()
		if err != nil {
			return sw.written, fmt.Errorf("failed to marshal joliet volume descriptor: %w", err)
		}
		if err := sw.put(l.joliet, svd); err != nil {
			return sw.written, err
		}
	}
	term, _ := descriptor.NewVolumeDescriptorSetTerminator().Marshal()
	if err := sw.put(l.terminator, term); err != nil {
		return sw.written, err
	}

	var bridge *udf.Bridge
	if img.hasUDF() {
		bridge = &udf.Bridge{
			VolumeIdentifier:      img.opts.VolumeIdentifier,
			ApplicationIdentifier: img.opts.ApplicationIdentifier,
			RecordingTime:         img.opts.RecordingTime,
			PartitionStart:        UDF_PARTITION_START,
			PartitionLength:       l.anchor - UDF_PARTITION_START,
			Files:                 l.udfFiles,
			Directories:           l.udfDirs,
			NextUniqueID:          l.nextUnique,
		}
		if err := img.writeUDFVolume(sw, bridge, l); err != nil {
			return sw.written, err
		}
	}

	if catalog != nil {
		if err := sw.put(l.catalog, catalog); err != nil {
			return sw.written, err
		}
	}

	// Path tables.
	lt, mt, err := marshalPathTables(l.isoPathTable)
	if err != nil {
		return sw.written, fmt.Errorf("failed to marshal path table: %w", err)
	}
	if err := sw.put(l.isoPathL, lt); err != nil {
		return sw.written, err
	}
	if err := sw.put(l.isoPathM, mt); err != nil {
		return sw.written, err
	}
	if img.hasJoliet() {
		lt, mt, err := marshalPathTables(l.jolietPathTable)
		if err != nil {
			return sw.written, fmt.Errorf("failed to marshal joliet path table: %w", err)
		}
		if err := sw.put(l.jolietPathL, lt); err != nil {
			return sw.written, err
		}
		if err := sw.put(l.jolietPathM, mt); err != nil {
			return sw.written, err
		}
	}

	if img.rockRidge() {
		if err := sw.put(l.continuation, extensions.MarshalExtensionReference()); err != nil {
			return sw.written, err
		}
	}

	// Directory extents.
	for _, d := range l.isoDirs {
		data, err := img.packDirectory(d, false, l)
		if err != nil {
			return sw.written, err
		}
		if err := sw.put(d.isoExtent.location, data); err != nil {
			return sw.written, err
		}
	}
	for _, d := range l.jolietDirs {
		data, err := img.packDirectory(d, true, l)
		if err != nil {
			return sw.written, err
		}
		if err := sw.put(d.jolietExtent.location, data); err != nil {
			return sw.written, err
		}
	}

	if bridge != nil {
		if err := img.writeUDFTree(sw, l); err != nil {
			return sw.written, err
		}
	}

	// File data.
	for i, n := range l.files {
		if n.size == 0 {
			continue
		}
		log.Trace("writing file", "path", n.Path(), "size", humanize.IBytes(uint64(n.size)), "number", i+1)
		if err := img.writeFile(sw, n); err != nil {
			return sw.written, err
		}
	}

	if bridge != nil {
		if err := sw.put(l.anchor, bridge.Anchor(l.anchor)); err != nil {
			return sw.written, err
		}
	}
	if err := sw.seek(l.total); err != nil {
		return sw.written, err
	}
	if err := sw.w.Flush(); err != nil {
		return sw.written, fmt.Errorf("failed to flush image: %w", err)
	}
	log.Info("image written", "size", humanize.IBytes(uint64(sw.written)), "files", len(l.files))
	return sw.written, nil
}

func (img *Image) writeFile(sw *sectorWriter, n *node) error {
	rc, err := n.open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", n.Path(), err)
	}
	defer rc.Close()
	if err := sw.stream(n.location, rc, n.size); err != nil {
		return fmt.Errorf("failed to write %s: %w", n.Path(), err)
	}
	return nil
}

// writeUDFVolume writes the recognition sequence, both volume descriptor sequences, the
// integrity sequence, the anchor at 256 and the file set descriptor.
func (img *Image) writeUDFVolume(sw *sectorWriter, b *udf.Bridge, l *layout) error {
	if err := sw.putAll(l.recognition, udf.RecognitionSequence()); err != nil {
		return err
	}
	for _, start := range []uint32{udf.MAIN_SEQUENCE_SECTOR, udf.RESERVE_SEQUENCE_SECTOR} {
		seq, err := b.VolumeDescriptorSequence(start)
		if err != nil {
			return err
		}
		if err := sw.putAll(start, seq); err != nil {
			return err
		}
	}
	if err := sw.putAll(udf.INTEGRITY_SEQUENCE_SECTOR, b.IntegritySequence()); err != nil {
		return err
	}
	if err := sw.put(UDF_PARTITION_START-1, b.Anchor(UDF_PARTITION_START-1)); err != nil {
		return err
	}
	fileSet, err := b.FileSet(udf.LongAD{Length: SECTOR_SIZE, Location: img.root.udfICB})
	if err != nil {
		return err
	}
	return sw.putAll(UDF_PARTITION_START, fileSet)
}

// writeUDFTree writes a file entry for every node followed by the directory streams.
func (img *Image) writeUDFTree(sw *sectorWriter, l *layout) error {
	for _, n := range l.nodes {
		fe := img.udfEntry(n)
		if err := sw.put(UDF_PARTITION_START+n.udfICB, fe.Marshal(n.udfICB)); err != nil {
			return err
		}
	}
	for _, n := range l.nodes {
		if !n.isDir {
			continue
		}
		parent := n.parent
		if parent == nil {
			parent = n
		}
		var entries []udf.DirectoryEntry
		for _, c := range n.sorted(func(c *node) string { return c.name }) {
			entries = append(entries, udf.DirectoryEntry{Name: c.name, IsDir: c.isDir, ICB: c.udfICB, UniqueID: c.uniqueID})
		}
		data, err := udf.MarshalDirectory(n.udfDir, parent.udfICB, parent.uniqueID, entries)
		if err != nil {
			return fmt.Errorf("failed to build UDF directory %s: %w", n.Path(), err)
		}
		if int64(len(data)) != n.udfDirSize {
			return fmt.Errorf("UDF directory %s is %d bytes, expected %d", n.Path(), len(data), n.udfDirSize)
		}
		if err := sw.put(UDF_PARTITION_START+n.udfDir, data); err != nil {
			return err
		}
	}
	return nil
}
