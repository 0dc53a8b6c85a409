package directory

// FileFlags holds the flag values from a Directory Record's File Flags field.
//
//	Bit 0 ("Hidden"): the file's existence need not be made known to the user.
//	Bit 1 ("Directory"): the record identifies a directory.
//	Bit 2 ("AssociatedFile"): the file is an Associated File.
//	Bit 3 ("RecordFormat"): the file structure is given by an Extended Attribute Record.
//	Bit 4 ("Protection"): owner and group are given by an Extended Attribute Record.
//	Bits 5 & 6: Reserved.
//	Bit 7 ("MultiExtent"): this is not the final Directory Record for the file.
type FileFlags struct {
	Hidden         bool `json:"hidden"`
	Directory      bool `json:"directory"`
	AssociatedFile bool `json:"associated_file"`
	RecordFormat   bool `json:"record_format"`
	Protection     bool `json:"protection"`
	MultiExtent    bool `json:"multi_extent"`
}

// Marshal converts the FileFlags into a single byte. Reserved bits are always zero.
func (ff FileFlags) Marshal() byte {
	var b byte
	if ff.Hidden {
		b |= 0x01
	}
	if ff.Directory {
		b |= 0x02
	}
	if ff.AssociatedFile {
		b |= 0x04
	}
	if ff.RecordFormat {
		b |= 0x08
	}
	if ff.Protection {
		b |= 0x10
	}
	if ff.MultiExtent {
		b |= 0x80
	}
	return b
}

// UnmarshalFileFlags converts a byte into a FileFlags struct. Reserved bits are ignored: some
// authoring tools set them and the image is still readable.
func UnmarshalFileFlags(b byte) FileFlags {
	return FileFlags{
		Hidden:         b&0x01 != 0,
		Directory:      b&0x02 != 0,
		AssociatedFile: b&0x04 != 0,
		RecordFormat:   b&0x08 != 0,
		Protection:     b&0x10 != 0,
		MultiExtent:    b&0x80 != 0,
	}
}
