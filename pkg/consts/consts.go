package consts

const (
	// Number of system area sectors.
	ISO9660_SYSTEM_AREA_SECTORS = 16

	// Standard ISO9660 identifier.
	ISO9660_STD_IDENTIFIER = "CD001"

	// ISO9660 volume descriptor version (always 1).
	ISO9660_VOLUME_DESC_VERSION = 1

	// ISO9660 default sector size.
	ISO9660_SECTOR_SIZE = 2048

	// ISO9660 volume descriptor header size
	ISO9660_VOLUME_DESC_HEADER_SIZE = 7

	// ISO9660 application use area size
	ISO9660_APPLICATION_USE_SIZE = 512

	// Byte offset of the volume identifier inside a primary volume descriptor.
	ISO9660_VOLUME_ID_OFFSET = 40

	// Length of the volume identifier field.
	ISO9660_VOLUME_ID_LENGTH = 32

	// Size of a directory record for the root directory.
	ISO9660_ROOT_RECORD_SIZE = 34

	// JOLIET level 1, 2, and 3 escape sequences.
	JOLIET_LEVEL_1_ESCAPE = "%/@"
	JOLIET_LEVEL_2_ESCAPE = "%/C"
	JOLIET_LEVEL_3_ESCAPE = "%/E"

	// El Torito bootable cdrom system identifier.
	EL_TORITO_BOOT_SYSTEM_ID = "EL TORITO SPECIFICATION"

	// a-characters set which are specified in the International Reference Version at the following positions.
	//   | 2/0 - 2/2
	//   | 2/5 - 2/15
	//   | 3/0 - 3/15
	//   | 4/1 - 4/15
	//   | 5/0 - 5/10
	//   | 5/15
	A_CHARACTERS = " !\"%&'()*+,-./0123456789:;<=>?ABCDEFGHIJKLMNOPQRSTUVWXYZ_"

	// d-characters: 37 characters in the following positions of the International Reference Version
	// | 3/0 - 3/9
	// | 4/1 - 5/10
	// | 5/15
	D_CHARACTERS = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_"

	// Separators allowed by ISO9660 0x2E and 0x3B.
	ISO9660_SEPARATOR_1 = "."
	ISO9660_SEPARATOR_2 = ";"

	// ISO9660 Filler 0x20 (space)
	ISO9660_FILLER byte = 0x20

	// Volume recognition sequence identifiers.
	UDF_STD_IDENTIFIER   = "BEA01"
	UDF_NSR02_IDENTIFIER = "NSR02"
	UDF_NSR03_IDENTIFIER = "NSR03"
	UDF_TEA_IDENTIFIER   = "TEA01"

	// UDF default sector size.
	UDF_SECTOR_SIZE = 2048

	// Sector of the first anchor volume descriptor pointer.
	UDF_ANCHOR_SECTOR = 256

	// Domain identifier carried by the logical volume and file set descriptors.
	UDF_DOMAIN_IDENTIFIER = "*OSTA UDF Compliant"

	// Byte offset of the El Torito boot signature checked by legacy loaders.
	BOOT_SIGNATURE_OFFSET = 0x8000

	// Largest directory extent either reader will load into memory.
	MAX_DIRECTORY_SIZE = 64 << 20
)
