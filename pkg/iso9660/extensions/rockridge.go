package extensions

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rstms/iso-remaster/pkg/iso9660/encoding"
)

const (
	ROCK_RIDGE_IDENTIFIER  = "RRIP_1991A"
	ROCK_RIDGE_DESCRIPTOR  = "THE ROCK RIDGE INTERCHANGE PROTOCOL PROVIDES SUPPORT FOR POSIX FILE SYSTEM SEMANTICS"
	ROCK_RIDGE_SOURCE      = "PLEASE CONTACT DISC PUBLISHER FOR SPECIFICATION SOURCE.  SEE PUBLISHER IDENTIFIER IN PRIMARY VOLUME DESCRIPTOR FOR CONTACT INFORMATION."
	ROCK_RIDGE_VERSION     = 1
	SUSP_HEADER_LENGTH     = 4
	SUSP_CONTINUATION_SIZE = 28
)

type EntryType string

const (
	// SUSP sharing protocol indicator, only on the root "." record.
	SHARING_PROTOCOL EntryType = "SP"
	// SUSP continuation area pointer.
	CONTINUATION_AREA EntryType = "CE"
	// SUSP extensions reference.
	EXTENSION_REFERENCE EntryType = "ER"
	// SUSP terminator.
	TERMINATOR EntryType = "ST"
	// POSIX file permissions (mode, links, owner, group)
	POSIX_FILE_PERMS EntryType = "PX"
	// AlternateName (used for long filenames, case preservation, etc.)
	ALTERNATE_NAME EntryType = "NM"
	// Time stamp information (creation, modification, access, etc)
	TIME_STAMPS EntryType = "TF"
	// An older Rock Ridge extension signature.
	ROCK_RIDGE EntryType = "RR"
)

// NM flag bits.
const (
	NAME_CONTINUE = 0x01
	NAME_CURRENT  = 0x02
	NAME_PARENT   = 0x04
)

// Continuation locates the next chunk of system use entries.
type Continuation struct {
	Block  uint32
	Offset uint32
	Length uint32
}

// RockRidge holds the subset of RRIP data that extraction and mastering use.
type RockRidge struct {
	// SP seen: the volume uses SUSP.
	SharingProtocol bool
	// Number of bytes to skip at the start of every system use field, from SP.
	SkipBytes byte
	// ER identifiers found on the record.
	Extensions []string
	// PX
	Mode  *uint32
	Links uint32
	UID   uint32
	GID   uint32
	// NM, concatenated across continued entries.
	AlternateName *string
	// TF modification time.
	ModificationTime *time.Time
	// CE pointer, when the entries continue elsewhere.
	Continuation *Continuation
	// RR marker from RRIP 1.09 producers.
	Legacy bool
}

// HasRockRidge determines if any Rock Ridge extensions were set.
func (r *RockRidge) HasRockRidge() bool {
	if r == nil {
		return false
	}
	for _, id := range r.Extensions {
		if id == ROCK_RIDGE_IDENTIFIER || id == "IEEE_P1282" || id == "IEEE_1282" {
			return true
		}
	}
	return r.Legacy || r.Mode != nil || r.AlternateName != nil
}

// FileMode converts the PX mode into an os.FileMode. ok is false without a PX entry.
func (r *RockRidge) FileMode() (mode os.FileMode, ok bool) {
	if r == nil || r.Mode == nil {
		return 0, false
	}
	m := *r.Mode
	mode = os.FileMode(m & 0o777)
	switch m & 0o170000 {
	case 0o040000:
		mode |= os.ModeDir
	case 0o120000:
		mode |= os.ModeSymlink
	}
	return mode, true
}

// Unmarshal parses system use entries into r. It may be called again with the bytes of a
// continuation area, in which case the results accumulate.
func (r *RockRidge) Unmarshal(data []byte) error {
	r.Continuation = nil
	for len(data) >= SUSP_HEADER_LENGTH {
		sig := EntryType(data[0:2])
		length := int(data[2])
		if length < SUSP_HEADER_LENGTH || length > len(data) {
			// Zero padding at the end of the system use field.
			if data[0] == 0 {
				return nil
			}
			return fmt.Errorf("invalid system use entry %q length %d", sig, length)
		}
		payload := data[SUSP_HEADER_LENGTH:length]
		data = data[length:]

		switch sig {
		case SHARING_PROTOCOL:
			if len(payload) >= 3 && payload[0] == 0xBE && payload[1] == 0xEF {
				r.SharingProtocol = true
				r.SkipBytes = payload[2]
			}
		case EXTENSION_REFERENCE:
			if len(payload) >= 4 {
				idLen := int(payload[0])
				if 4+idLen <= len(payload) {
					r.Extensions = append(r.Extensions, string(payload[4:4+idLen]))
				}
			}
		case CONTINUATION_AREA:
			if len(payload) >= 24 {
				block, _ := encoding.Both32(payload[0:8])
				offset, _ := encoding.Both32(payload[8:16])
				size, _ := encoding.Both32(payload[16:24])
				r.Continuation = &Continuation{Block: block, Offset: offset, Length: size}
			}
		case POSIX_FILE_PERMS:
			if len(payload) >= 32 {
				mode, _ := encoding.Both32(payload[0:8])
				r.Mode = &mode
				r.Links, _ = encoding.Both32(payload[8:16])
				r.UID, _ = encoding.Both32(payload[16:24])
				r.GID, _ = encoding.Both32(payload[24:32])
			}
		case ALTERNATE_NAME:
			if len(payload) >= 1 && payload[0]&(NAME_CURRENT|NAME_PARENT) == 0 {
				name := string(payload[1:])
				if r.AlternateName != nil {
					name = *r.AlternateName + name
				}
				r.AlternateName = &name
			}
		case TIME_STAMPS:
			r.unmarshalTimestamps(payload)
		case ROCK_RIDGE:
			r.Legacy = true
		case TERMINATOR:
			return nil
		}
	}
	return nil
}

// TF carries a flags byte followed by 7 or 17 byte stamps in creation, modify, access order.
func (r *RockRidge) unmarshalTimestamps(payload []byte) {
	if len(payload) < 1 {
		return
	}
	flags := payload[0]
	size := 7
	if flags&0x80 != 0 {
		size = 17
	}
	off := 1
	if flags&0x01 != 0 {
		off += size
	}
	if flags&0x02 == 0 || off+size > len(payload) {
		return
	}
	var t time.Time
	var err error
	if size == 7 {
		var b [7]byte
		copy(b[:], payload[off:off+7])
		t, err = encoding.UnmarshalRecordingDateTime(b)
	} else {
		var b [17]byte
		copy(b[:], payload[off:off+17])
		t, err = encoding.UnmarshalDateTime(b)
	}
	if err == nil && !t.IsZero() {
		r.ModificationTime = &t
	}
}

func entry(sig EntryType, payload []byte) []byte {
	out := make([]byte, SUSP_HEADER_LENGTH+len(payload))
	copy(out[0:2], sig)
	out[2] = byte(len(out))
	out[3] = ROCK_RIDGE_VERSION
	copy(out[4:], payload)
	return out
}

// MarshalSharingProtocol returns the SP entry recorded on the root "." record.
func MarshalSharingProtocol() []byte {
	return entry(SHARING_PROTOCOL, []byte{0xBE, 0xEF, 0x00})
}

// MarshalLegacy returns the RR entry listing the RRIP entries present (PX and NM and TF).
func MarshalLegacy() []byte {
	return entry(ROCK_RIDGE, []byte{0x01 | 0x08 | 0x80})
}

// MarshalExtensionReference returns the ER entry for RRIP 1.09.
func MarshalExtensionReference() []byte {
	payload := []byte{
		byte(len(ROCK_RIDGE_IDENTIFIER)),
		byte(len(ROCK_RIDGE_DESCRIPTOR)),
		byte(len(ROCK_RIDGE_SOURCE)),
		ROCK_RIDGE_VERSION,
	}
	payload = append(payload, ROCK_RIDGE_IDENTIFIER...)
	payload = append(payload, ROCK_RIDGE_DESCRIPTOR...)
	payload = append(payload, ROCK_RIDGE_SOURCE...)
	return entry(EXTENSION_REFERENCE, payload)
}

// MarshalContinuation returns a CE entry pointing at c.
func MarshalContinuation(c Continuation) []byte {
	payload := make([]byte, 24)
	encoding.PutBoth32(payload[0:8], c.Block)
	encoding.PutBoth32(payload[8:16], c.Offset)
	encoding.PutBoth32(payload[16:24], c.Length)
	return entry(CONTINUATION_AREA, payload)
}

// MarshalPosix returns a PX entry in the RRIP 1.09 layout.
func MarshalPosix(mode os.FileMode, links uint32) []byte {
	m := uint32(mode.Perm())
	if mode.IsDir() {
		m |= 0o040000
	} else {
		m |= 0o100000
	}
	payload := make([]byte, 32)
	encoding.PutBoth32(payload[0:8], m)
	encoding.PutBoth32(payload[8:16], links)
	return entry(POSIX_FILE_PERMS, payload)
}

// MarshalName returns one or more NM entries holding name. Entries are split so that no single
// entry exceeds max bytes.
func MarshalName(name string, max int) ([]byte, error) {
	chunk := max - SUSP_HEADER_LENGTH - 1
	if chunk <= 0 {
		return nil, errors.New("no room for alternate name entry")
	}
	var out []byte
	for {
		part := name
		flags := byte(0)
		if len(part) > chunk {
			part = name[:chunk]
			flags = NAME_CONTINUE
		}
		out = append(out, entry(ALTERNATE_NAME, append([]byte{flags}, part...))...)
		name = name[len(part):]
		if name == "" {
			return out, nil
		}
	}
}

// MarshalTimestamp returns a TF entry carrying the modification time.
func MarshalTimestamp(t time.Time) ([]byte, error) {
	stamp, err := encoding.MarshalRecordingDateTime(t)
	if err != nil {
		return nil, err
	}
	return entry(TIME_STAMPS, append([]byte{0x02}, stamp[:]...)), nil
}
