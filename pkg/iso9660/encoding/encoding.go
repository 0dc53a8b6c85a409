// Package encoding implements the numeric, date and character encodings shared by ISO 9660
// structures.
package encoding

import (
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// PutBoth32 writes val into b[0:8] in both-byte order: little endian first, then big endian.
func PutBoth32(b []byte, val uint32) {
	binary.LittleEndian.PutUint32(b[0:4], val)
	binary.BigEndian.PutUint32(b[4:8], val)
}

// PutBoth16 writes val into b[0:4] in both-byte order.
func PutBoth16(b []byte, val uint16) {
	binary.LittleEndian.PutUint16(b[0:2], val)
	binary.BigEndian.PutUint16(b[2:4], val)
}

// Both32 decodes an 8 byte both-byte order field. It returns an error if the halves disagree.
func Both32(b []byte) (uint32, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("both-byte order field too short: %d bytes", len(b))
	}
	little := binary.LittleEndian.Uint32(b[0:4])
	big := binary.BigEndian.Uint32(b[4:8])
	if little != big {
		return little, fmt.Errorf("mismatched both-byte orders: little-endian value %d != big-endian value %d", little, big)
	}
	return little, nil
}

// Both16 decodes a 4 byte both-byte order field. It returns an error if the halves disagree.
func Both16(b []byte) (uint16, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("both-byte order field too short: %d bytes", len(b))
	}
	little := binary.LittleEndian.Uint16(b[0:2])
	big := binary.BigEndian.Uint16(b[2:4])
	if little != big {
		return little, fmt.Errorf("mismatched both-byte orders: little-endian value %d != big-endian value %d", little, big)
	}
	return little, nil
}

// MarshalDateTime converts a time.Time into the 17 byte volume descriptor date format
// (ISO9660 8.4.26.1). The zero time is encoded as "unspecified".
func MarshalDateTime(t time.Time) ([17]byte, error) {
	var out [17]byte
	if t.IsZero() {
		for i := 0; i < 16; i++ {
			out[i] = '0'
		}
		return out, nil
	}

	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	s := fmt.Sprintf("%04d%02d%02d%02d%02d%02d%02d", y, int(m), d, hh, mm, ss, t.Nanosecond()/10_000_000)
	if len(s) != 16 {
		return out, fmt.Errorf("year %d out of range for volume descriptor date", y)
	}
	copy(out[:16], s)

	offset, err := zoneOffset(t)
	if err != nil {
		return [17]byte{}, err
	}
	out[16] = byte(offset)
	return out, nil
}

// UnmarshalDateTime decodes a 17 byte volume descriptor date. All zero digits decode to the
// zero time.
func UnmarshalDateTime(b [17]byte) (time.Time, error) {
	unspecified := true
	for i := 0; i < 16; i++ {
		if b[i] != '0' && b[i] != 0 {
			unspecified = false
			break
		}
	}
	if unspecified {
		return time.Time{}, nil
	}

	var year, mon, day, hour, min, sec, hundredths int
	if _, err := fmt.Sscanf(string(b[:16]), "%4d%2d%2d%2d%2d%2d%2d",
		&year, &mon, &day, &hour, &min, &sec, &hundredths); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse volume descriptor date: %w", err)
	}
	loc, err := zoneLocation(int8(b[16]))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(mon), day, hour, min, sec, hundredths*10_000_000, loc), nil
}

// MarshalRecordingDateTime converts a time.Time into the 7 byte directory record date format.
func MarshalRecordingDateTime(t time.Time) ([7]byte, error) {
	var b [7]byte
	if t.IsZero() {
		return b, nil
	}
	year, month, day := t.Date()
	if year < 1900 || year > 2155 {
		return b, fmt.Errorf("year %d out of range for recording date (must be between 1900 and 2155)", year)
	}
	hour, minute, second := t.Clock()
	offset, err := zoneOffset(t)
	if err != nil {
		return b, err
	}
	b = [7]byte{byte(year - 1900), byte(month), byte(day), byte(hour), byte(minute), byte(second), byte(offset)}
	return b, nil
}

// UnmarshalRecordingDateTime decodes a 7 byte directory record date. All zero bytes decode to the
// zero time.
func UnmarshalRecordingDateTime(b [7]byte) (time.Time, error) {
	if b == [7]byte{} {
		return time.Time{}, nil
	}
	loc, err := zoneLocation(int8(b[6]))
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(int(b[0])+1900, time.Month(b[1]), int(b[2]), int(b[3]), int(b[4]), int(b[5]), 0, loc), nil
}

// Offsets are stored in 15 minute intervals from -48 (west) to +52 (east).
func zoneOffset(t time.Time) (int8, error) {
	_, sec := t.Zone()
	offset := sec / 900
	if offset < -48 || offset > 52 {
		return 0, fmt.Errorf("time zone offset %d out of ISO9660 bounds", offset)
	}
	return int8(offset), nil
}

func zoneLocation(offset int8) (*time.Location, error) {
	if offset < -48 || offset > 52 {
		return nil, fmt.Errorf("offset %d out of ISO9660 bounds", offset)
	}
	if offset == 0 {
		return time.UTC, nil
	}
	return time.FixedZone("", int(offset)*900), nil
}

var ucs2 = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)

// DecodeUCS2BigEndian converts a Joliet identifier to a Go string. Odd length input is invalid
// and yields the empty string so callers can fall back to heuristic decoding.
func DecodeUCS2BigEndian(b []byte) string {
	if len(b)%2 != 0 {
		return ""
	}
	out, err := ucs2.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(out)
}

// EncodeUCS2BigEndian converts a Go string into a Joliet identifier. Runes above U+FFFF become
// surrogate pairs.
func EncodeUCS2BigEndian(s string) []byte {
	out, err := ucs2.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}
