package mastering

import (
	"fmt"

	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
	"github.com/rstms/iso-remaster/pkg/iso9660/extensions"
	"github.com/rstms/iso-remaster/pkg/iso9660/pathtable"
	"github.com/rstms/iso-remaster/pkg/option"
	"github.com/rstms/iso-remaster/pkg/udf"
)

const (
	SECTOR_SIZE = consts.ISO9660_SECTOR_SIZE
	// Largest file section of a multi-extent file, a whole number of sectors below 4 GiB.
	MAX_SECTION_SIZE = 0xFFFFF800
	// First sector of the UDF partition, right after the anchor.
	UDF_PARTITION_START = consts.UDF_ANCHOR_SECTOR + 1
)

// layout holds the sector assignment of an image.
type layout struct {
	primary     uint32
	bootRecord  uint32
	joliet      uint32
	terminator  uint32
	recognition uint32
	catalog     uint32

	isoPathL, isoPathM       uint32
	jolietPathL, jolietPathM uint32
	isoPathTable             *pathtable.PathTable
	jolietPathTable          *pathtable.PathTable

	// Sector holding the Rock Ridge ER entry referenced from the root.
	continuation uint32

	// Directories in path table order.
	isoDirs    []*node
	jolietDirs []*node
	// Every node in breadth first order, root first.
	nodes []*node
	// Regular files in data order.
	files []*node

	anchor     uint32
	udfFiles   uint32
	udfDirs    uint32
	nextUnique uint64
	total      uint32
}

func sectors(size int64) uint32 {
	return uint32((size + SECTOR_SIZE - 1) / SECTOR_SIZE)
}

// breadthFirst lists the nodes below root level by level with each directory's children
// ordered by key.
func breadthFirst(root *node, key func(*node) string, dirsOnly bool) []*node {
	out := []*node{root}
	for i := 0; i < len(out); i++ {
		for _, c := range out[i].sorted(key) {
			if c.isDir || !dirsOnly {
				out = append(out, c)
			}
		}
	}
	return out
}

func isoKey(n *node) string    { return n.isoName }
func jolietKey(n *node) string { return string(encoding.EncodeUCS2BigEndian(n.jolietName)) }

func (img *Image) rockRidge() bool { return img.opts.RockRidgeEnabled }
func (img *Image) hasJoliet() bool { return img.opts.JolietEnabled }
func (img *Image) hasUDF() bool    { return img.opts.ISOType == option.ISO_TYPE_UDF }

// layout assigns names, numbers and sectors to every node.
func (img *Image) layout() (*layout, error) {
	assignNames(img.root)
	l := &layout{}

	cur := uint32(consts.ISO9660_SYSTEM_AREA_SECTORS)
	l.primary = cur
	cur++
	if img.bootable() {
		l.bootRecord = cur
		cur++
	}
	if img.hasJoliet() {
		l.joliet = cur
		cur++
	}
	l.terminator = cur
	cur++
	if img.hasUDF() {
		l.recognition = cur
		cur += 3
		// File set descriptor and its terminator open the partition.
		cur = UDF_PARTITION_START + 2
	}
	if img.bootable() {
		l.catalog = cur
		cur++
	}

	// Path tables.
	l.isoDirs = breadthFirst(img.root, isoKey, true)
	for i, d := range l.isoDirs {
		d.isoNumber = uint16(i + 1)
	}
	l.isoPathTable = img.pathTable(l.isoDirs, false)
	size := sectors(int64(l.isoPathTable.Size()))
	l.isoPathL, l.isoPathM = cur, cur+size
	cur += 2 * size
	if img.hasJoliet() {
		l.jolietDirs = breadthFirst(img.root, jolietKey, true)
		for i, d := range l.jolietDirs {
			d.jolietNumber = uint16(i + 1)
		}
		l.jolietPathTable = img.pathTable(l.jolietDirs, true)
		size := sectors(int64(l.jolietPathTable.Size()))
		l.jolietPathL, l.jolietPathM = cur, cur+size
		cur += 2 * size
	}
	if len(l.isoDirs) > 0xFFFF {
		return nil, fmt.Errorf("too many directories for a path table: %d", len(l.isoDirs))
	}

	if img.rockRidge() {
		l.continuation = cur
		cur++
	}

	// Directory extents. Sizes do not depend on locations, so they are measured first.
	for _, d := range l.isoDirs {
		data, err := img.packDirectory(d, false, l)
		if err != nil {
			return nil, err
		}
		d.isoExtent = extent{location: cur, size: uint32(len(data))}
		cur += sectors(int64(len(data)))
	}
	for _, d := range l.jolietDirs {
		data, err := img.packDirectory(d, true, l)
		if err != nil {
			return nil, err
		}
		d.jolietExtent = extent{location: cur, size: uint32(len(data))}
		cur += sectors(int64(len(data)))
	}

	l.nodes = breadthFirst(img.root, func(n *node) string { return n.name }, false)
	if img.hasUDF() {
		unique := uint32(udf.FIRST_UNIQUE_ID)
		for _, n := range l.nodes {
			n.udfICB = cur - UDF_PARTITION_START
			cur++
			if n.parent != nil {
				n.uniqueID = unique
				unique++
			}
			if n.isDir {
				l.udfDirs++
			} else {
				l.udfFiles++
			}
		}
		l.nextUnique = uint64(unique)
		for _, n := range l.nodes {
			if !n.isDir {
				continue
			}
			var names []string
			for _, c := range n.sorted(func(c *node) string { return c.name }) {
				names = append(names, c.name)
			}
			n.udfDirSize = udf.DirectorySize(names)
			n.udfDir = cur - UDF_PARTITION_START
			cur += sectors(n.udfDirSize)
		}
	}

	for _, n := range l.nodes {
		if n.isDir {
			continue
		}
		l.files = append(l.files, n)
		if n.size == 0 {
			n.location = 0
			continue
		}
		n.location = cur
		cur += sectors(n.size)
	}

	if img.hasUDF() {
		l.anchor = cur
		cur++
	}
	l.total = cur
	return l, nil
}

func (img *Image) pathTable(dirs []*node, joliet bool) *pathtable.PathTable {
	pt := &pathtable.PathTable{LittleEndian: true}
	for _, d := range dirs {
		r := &pathtable.PathTableRecord{LocationOfExtent: d.isoExtent.location, ParentDirectoryNumber: 1}
		if joliet {
			r.LocationOfExtent = d.jolietExtent.location
		}
		switch {
		case d.parent == nil:
			r.DirectoryIdentifier = []byte{0}
		case joliet:
			r.DirectoryIdentifier = encoding.EncodeUCS2BigEndian(d.jolietName)
			r.ParentDirectoryNumber = d.parent.jolietNumber
		default:
			r.DirectoryIdentifier = []byte(d.isoName)
			r.ParentDirectoryNumber = d.parent.isoNumber
		}
		pt.Records = append(pt.Records, r)
	}
	return pt
}

// records returns the directory records of dir: ".", ".." and the children in identifier order.
func (img *Image) records(dir *node, joliet bool, l *layout) ([]*directory.DirectoryRecord, error) {
	self, parent := dir, dir.parent
	if parent == nil {
		parent = dir
	}
	dot := img.directoryRecord(self, joliet, []byte{0x00})
	dotdot := img.directoryRecord(parent, joliet, []byte{0x01})
	if img.rockRidge() && !joliet {
		var su []byte
		if dir.parent == nil {
			su = append(su, extensions.MarshalSharingProtocol()...)
			su = append(su, extensions.MarshalLegacy()...)
			su = append(su, extensions.MarshalContinuation(extensions.Continuation{
				Block:  l.continuation,
				Length: uint32(len(extensions.MarshalExtensionReference())),
			})...)
		} else {
			su = append(su, extensions.MarshalLegacy()...)
		}
		dot.SystemUse = append(su, extensions.MarshalPosix(self.mode, links(self))...)
		dotdot.SystemUse = append(extensions.MarshalLegacy(), extensions.MarshalPosix(parent.mode, links(parent))...)
	}
	out := []*directory.DirectoryRecord{dot, dotdot}

	key := isoKey
	if joliet {
		key = jolietKey
	}
	for _, c := range dir.sorted(key) {
		id := []byte(c.isoName)
		if joliet {
			id = encoding.EncodeUCS2BigEndian(c.jolietName)
		}
		var su []byte
		if img.rockRidge() && !joliet {
			su = append(su, extensions.MarshalLegacy()...)
			su = append(su, extensions.MarshalPosix(c.mode, links(c))...)
			tf, err := extensions.MarshalTimestamp(c.modTime)
			if err != nil {
				return nil, fmt.Errorf("failed to encode timestamp of %s: %w", c.Path(), err)
			}
			su = append(su, tf...)
			room := 255 - directory.FIXED_LENGTH - len(id) - 1 - len(su)
			nm, err := extensions.MarshalName(c.name, room)
			if err != nil || len(nm) > room {
				return nil, fmt.Errorf("name of %s is too long for a directory record", c.Path())
			}
			su = append(su, nm...)
		}
		for _, rec := range img.sections(c, joliet, id) {
			rec.SystemUse = su
			out = append(out, rec)
		}
	}
	return out, nil
}

// sections returns the records of one child. Files of 4 GiB and more span several records
// flagged as multi-extent except for the last.
func (img *Image) sections(n *node, joliet bool, id []byte) []*directory.DirectoryRecord {
	if n.isDir {
		return []*directory.DirectoryRecord{img.directoryRecord(n, joliet, id)}
	}
	var out []*directory.DirectoryRecord
	location, remaining := n.location, n.size
	for {
		length := remaining
		if length > MAX_SECTION_SIZE {
			length = MAX_SECTION_SIZE
		}
		rec := &directory.DirectoryRecord{
			LocationOfExtent:     location,
			DataLength:           uint32(length),
			RecordingDateAndTime: n.modTime,
			VolumeSequenceNumber: 1,
			FileIdentifier:       id,
			Joliet:               joliet,
		}
		remaining -= length
		location += sectors(length)
		rec.FileFlags.MultiExtent = remaining > 0
		out = append(out, rec)
		if remaining <= 0 {
			return out
		}
	}
}

func (img *Image) directoryRecord(n *node, joliet bool, id []byte) *directory.DirectoryRecord {
	ext := n.isoExtent
	if joliet {
		ext = n.jolietExtent
	}
	return &directory.DirectoryRecord{
		LocationOfExtent:     ext.location,
		DataLength:           ext.size,
		RecordingDateAndTime: n.modTime,
		FileFlags:            directory.FileFlags{Directory: true},
		VolumeSequenceNumber: 1,
		FileIdentifier:       id,
		Joliet:               joliet,
	}
}

func links(n *node) uint32 {
	if !n.isDir {
		return 1
	}
	return uint32(2 + n.subdirectories())
}

// packDirectory marshals the records of dir into whole sectors. Records never cross a sector
// boundary.
func (img *Image) packDirectory(dir *node, joliet bool, l *layout) ([]byte, error) {
	records, err := img.records(dir, joliet, l)
	if err != nil {
		return nil, err
	}
	var out []byte
	for _, rec := range records {
		b, err := rec.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record in %s: %w", dir.Path(), err)
		}
		used := len(out) % SECTOR_SIZE
		if used+len(b) > SECTOR_SIZE {
			out = append(out, make([]byte, SECTOR_SIZE-used)...)
		}
		out = append(out, b...)
	}
	if pad := len(out) % SECTOR_SIZE; pad != 0 {
		out = append(out, make([]byte, SECTOR_SIZE-pad)...)
	}
	return out, nil
}

// udfEntry returns the UDF file entry of n.
func (img *Image) udfEntry(n *node) *udf.FileEntry {
	if n.isDir {
		links := uint16(1 + n.subdirectories())
		return udf.NewFileEntry(true, n.mode, links, uint64(n.udfDirSize), n.udfDir, n.modTime, uint64(n.uniqueID))
	}
	location := uint32(0)
	if n.size > 0 {
		location = n.location - UDF_PARTITION_START
	}
	return udf.NewFileEntry(false, n.mode, 1, uint64(n.size), location, n.modTime, uint64(n.uniqueID))
}
