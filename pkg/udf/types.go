package udf

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rstms/iso-remaster/pkg/filename"
	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
)

// OSTA CS0 compression identifiers.
const (
	COMPRESSION_8BIT  = 8
	COMPRESSION_16BIT = 16
)

// Extent types carried in the two high bits of an allocation descriptor length.
const (
	EXTENT_RECORDED      = 0
	EXTENT_NOT_RECORDED  = 1
	EXTENT_NOT_ALLOCATED = 2
	EXTENT_CONTINUATION  = 3
	extentLengthMask     = 0x3FFFFFFF
	// Largest extent that is still a whole number of blocks.
	MAX_EXTENT_LENGTH = extentLengthMask &^ (SECTOR_SIZE - 1)
)

// ExtentAD locates a run of sectors on the volume (ECMA-167 3/7.1).
type ExtentAD struct {
	Length   uint32
	Location uint32
}

func (e ExtentAD) marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], e.Length)
	binary.LittleEndian.PutUint32(b[4:8], e.Location)
}

func unmarshalExtentAD(b []byte) ExtentAD {
	return ExtentAD{Length: binary.LittleEndian.Uint32(b[0:4]), Location: binary.LittleEndian.Uint32(b[4:8])}
}

// ShortAD is an allocation descriptor within the partition of the ICB (ECMA-167 4/14.14.1).
type ShortAD struct {
	Length   uint32
	Position uint32
}

// LongAD is an allocation descriptor naming the partition (ECMA-167 4/14.14.2).
type LongAD struct {
	Length             uint32
	Location           uint32
	PartitionReference uint16
	// UDF stores the unique id of the referenced file in the implementation use bytes.
	UniqueID uint32
}

func (l LongAD) marshal(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], l.Length)
	binary.LittleEndian.PutUint32(b[4:8], l.Location)
	binary.LittleEndian.PutUint16(b[8:10], l.PartitionReference)
	binary.LittleEndian.PutUint32(b[12:16], l.UniqueID)
}

func unmarshalLongAD(b []byte) LongAD {
	return LongAD{
		Length:             binary.LittleEndian.Uint32(b[0:4]),
		Location:           binary.LittleEndian.Uint32(b[4:8]),
		PartitionReference: binary.LittleEndian.Uint16(b[8:10]),
		UniqueID:           binary.LittleEndian.Uint32(b[12:16]),
	}
}

// marshalTimestamp encodes t in the 12 byte ECMA-167 1/7.3 format.
func marshalTimestamp(b []byte, t time.Time) {
	if t.IsZero() {
		return
	}
	_, offset := t.Zone()
	minutes := int16(offset / 60)
	// Type 1 (local time) plus a 12 bit signed offset in minutes.
	binary.LittleEndian.PutUint16(b[0:2], 1<<12|uint16(minutes)&0x0FFF)
	binary.LittleEndian.PutUint16(b[2:4], uint16(t.Year()))
	b[4] = byte(t.Month())
	b[5] = byte(t.Day())
	b[6] = byte(t.Hour())
	b[7] = byte(t.Minute())
	b[8] = byte(t.Second())
	micro := t.Nanosecond() / 1000
	b[9] = byte(micro / 10000)
	b[10] = byte(micro / 100 % 100)
	b[11] = byte(micro % 100)
}

func unmarshalTimestamp(b []byte) time.Time {
	year := int(binary.LittleEndian.Uint16(b[2:4]))
	if year == 0 {
		return time.Time{}
	}
	tz := binary.LittleEndian.Uint16(b[0:2])
	loc := time.UTC
	if tz>>12 == 1 {
		minutes := int16(tz<<4) >> 4
		if minutes != -2047 {
			loc = time.FixedZone("", int(minutes)*60)
		}
	}
	micro := int(b[9])*10000 + int(b[10])*100 + int(b[11])
	return time.Date(year, time.Month(b[4]), int(b[5]), int(b[6]), int(b[7]), int(b[8]), micro*1000, loc)
}

// putRegID writes an entity identifier (ECMA-167 1/7.4) with an optional identifier suffix.
func putRegID(b []byte, id string, suffix []byte) {
	copy(b[1:24], id)
	copy(b[24:32], suffix)
}

// udfSuffix is the domain identifier suffix for UDF revision 1.02.
var udfSuffix = []byte{0x02, 0x01}

// putCharSpec writes the OSTA Compressed Unicode character set specification.
func putCharSpec(b []byte) {
	b[0] = 0
	copy(b[1:], "OSTA Compressed Unicode")
}

// EncodeCS0 returns the OSTA CS0 form of s: 8 bit when every rune fits a byte, otherwise 16 bit
// big endian.
func EncodeCS0(s string) []byte {
	wide := false
	for _, r := range s {
		if r > 0xFF {
			wide = true
			break
		}
	}
	if !wide {
		out := []byte{COMPRESSION_8BIT}
		for _, r := range s {
			out = append(out, byte(r))
		}
		return out
	}
	return append([]byte{COMPRESSION_16BIT}, encoding.EncodeUCS2BigEndian(s)...)
}

// DecodeCS0 decodes an OSTA CS0 string by its compression identifier. ok is false for unknown
// identifiers and truncated 16 bit data.
func DecodeCS0(raw []byte) (string, bool) {
	if len(raw) < 2 {
		return "", false
	}
	data := raw[1:]
	switch raw[0] {
	case COMPRESSION_8BIT, 254:
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes), true
	case COMPRESSION_16BIT, 255:
		s := encoding.DecodeUCS2BigEndian(data)
		return s, s != ""
	}
	return "", false
}

// DecodeName turns a file identifier into a safe local name. The CS0 decoding is tried first and
// the heuristic filename decoder runs on the raw bytes when that fails or yields an unusable name.
func DecodeName(raw []byte) (string, bool) {
	if s, ok := DecodeCS0(raw); ok {
		if name := filename.Sanitize(s); filename.Usable(name) {
			return name, true
		}
	}
	return filename.Decode(raw)
}

// putDString writes a fixed length dstring: CS0 bytes followed by the used length in the last byte.
func putDString(b []byte, s string) error {
	if s == "" {
		return nil
	}
	enc := EncodeCS0(s)
	if len(enc) > len(b)-1 {
		return fmt.Errorf("string %q does not fit in %d byte dstring", s, len(b))
	}
	copy(b, enc)
	b[len(b)-1] = byte(len(enc))
	return nil
}

func getDString(b []byte) string {
	n := int(b[len(b)-1])
	if n == 0 || n > len(b)-1 {
		return ""
	}
	s, _ := DecodeCS0(b[:n])
	return s
}
