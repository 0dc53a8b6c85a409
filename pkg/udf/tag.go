package udf

import (
	"encoding/binary"
	"fmt"
)

// Descriptor tag identifiers (ECMA-167 3/7.2.1 and 4/7.2.1).
const (
	TAG_PRIMARY_VOLUME            uint16 = 1
	TAG_ANCHOR_POINTER            uint16 = 2
	TAG_VOLUME_POINTER            uint16 = 3
	TAG_IMPLEMENTATION_USE        uint16 = 4
	TAG_PARTITION                 uint16 = 5
	TAG_LOGICAL_VOLUME            uint16 = 6
	TAG_UNALLOCATED_SPACE         uint16 = 7
	TAG_TERMINATING               uint16 = 8
	TAG_LOGICAL_VOLUME_INTEGRITY  uint16 = 9
	TAG_FILE_SET                  uint16 = 256
	TAG_FILE_IDENTIFIER           uint16 = 257
	TAG_FILE_ENTRY                uint16 = 261
	TAG_EXTENDED_FILE_ENTRY       uint16 = 266
	TAG_SIZE                             = 16
	descriptorVersionNSR02        uint16 = 2
	descriptorVersionNSR03        uint16 = 3
)

// Tag is the 16 byte header in front of every UDF descriptor.
type Tag struct {
	Identifier        uint16
	DescriptorVersion uint16
	Checksum          uint8
	SerialNumber      uint16
	DescriptorCRC     uint16
	CRCLength         uint16
	// Sector of the descriptor, relative to the partition for file structure descriptors.
	Location uint32
}

// Unmarshal parses the tag at the start of data and verifies its checksum. The CRC is verified
// when the descriptor body is present in data.
func (t *Tag) Unmarshal(data []byte) error {
	if len(data) < TAG_SIZE {
		return fmt.Errorf("descriptor tag too short: %d bytes", len(data))
	}
	t.Identifier = binary.LittleEndian.Uint16(data[0:2])
	t.DescriptorVersion = binary.LittleEndian.Uint16(data[2:4])
	t.Checksum = data[4]
	t.SerialNumber = binary.LittleEndian.Uint16(data[6:8])
	t.DescriptorCRC = binary.LittleEndian.Uint16(data[8:10])
	t.CRCLength = binary.LittleEndian.Uint16(data[10:12])
	t.Location = binary.LittleEndian.Uint32(data[12:16])

	if sum := tagChecksum(data); sum != t.Checksum {
		return fmt.Errorf("descriptor tag %d checksum mismatch: %#x != %#x", t.Identifier, sum, t.Checksum)
	}
	if end := TAG_SIZE + int(t.CRCLength); end <= len(data) {
		if crc := crcITU(data[TAG_SIZE:end]); crc != t.DescriptorCRC {
			return fmt.Errorf("descriptor tag %d CRC mismatch: %#x != %#x", t.Identifier, crc, t.DescriptorCRC)
		}
	}
	return nil
}

// seal fills in the tag of the descriptor in buf: identifier, location, CRC over the body and
// finally the header checksum.
func seal(buf []byte, identifier uint16, location uint32) {
	body := buf[TAG_SIZE:]
	binary.LittleEndian.PutUint16(buf[0:2], identifier)
	binary.LittleEndian.PutUint16(buf[2:4], descriptorVersionNSR02)
	binary.LittleEndian.PutUint16(buf[6:8], 1)
	binary.LittleEndian.PutUint16(buf[8:10], crcITU(body))
	binary.LittleEndian.PutUint16(buf[10:12], uint16(len(body)))
	binary.LittleEndian.PutUint32(buf[12:16], location)
	buf[4] = tagChecksum(buf)
}

// tagChecksum sums the tag bytes except the checksum byte itself, modulo 256.
func tagChecksum(data []byte) uint8 {
	var sum uint8
	for i := 0; i < TAG_SIZE; i++ {
		if i != 4 {
			sum += data[i]
		}
	}
	return sum
}

var crcTable = func() (table [256]uint16) {
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()

// crcITU is the CRC-ITU-T (x^16 + x^12 + x^5 + 1) with a zero seed, as ECMA-167 7.2.6 requires.
func crcITU(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>8)^b]
	}
	return crc
}
