// Package filename recovers readable names from raw directory record identifiers.
//
// Authoring tools disagree on how wide-character identifiers are laid out, so names are decoded
// by an ordered chain of strategies and the first acceptable result wins.
package filename

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
)

// Strategy decodes raw identifier bytes into a candidate name. It returns false when it does not
// apply to the input.
type Strategy struct {
	Name   string
	Decode func(raw []byte) (string, bool)
}

var strategies = []Strategy{
	{Name: "utf16le", Decode: decodeUTF16LE},
	{Name: "utf16be", Decode: decodeUTF16BE},
	{Name: "utf16le-shifted", Decode: decodeUTF16LEShifted},
	{Name: "utf8", Decode: decodeUTF8},
	{Name: "latin1", Decode: decodeLatin1},
	{Name: "even-ascii", Decode: func(raw []byte) (string, bool) { return sampleASCII(raw, 0), true }},
	{Name: "odd-ascii", Decode: func(raw []byte) (string, bool) { return sampleASCII(raw, 1), true }},
}

// Strategies returns the decoding chain in the order it is applied.
func Strategies() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

// Decode runs the strategy chain over raw and returns the first sanitized name that is usable.
// The boolean is false when no strategy recovers a name; the entry must then be skipped.
func Decode(raw []byte) (string, bool) {
	name, _, ok := DecodeWith(raw)
	return name, ok
}

// DecodeWith is Decode but also reports which strategy produced the name.
func DecodeWith(raw []byte) (string, string, bool) {
	if len(raw) == 0 {
		return "", "", false
	}
	for _, s := range strategies {
		candidate, applies := s.Decode(raw)
		if !applies {
			continue
		}
		if name := Sanitize(candidate); Usable(name) {
			return name, s.Name, true
		}
	}
	return "", "", false
}

// Usable reports whether a sanitized name may be materialized on disk.
func Usable(name string) bool {
	return name != "" && name != "." && name != ".."
}

// Sanitize strips control characters and characters that are unsafe in a local path, then trims
// surrounding whitespace.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == utf8.RuneError || unicode.IsControl(r) || isUnsafe(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isUnsafe(r rune) bool {
	return strings.ContainsRune(`<>:"/\|?*`, r)
}

func decodeWith(enc encoding.Encoding, raw []byte) string {
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return stripNulls(string(out))
}

func decodeUTF16LE(raw []byte) (string, bool) {
	return decodeWith(xunicode.UTF16(xunicode.LittleEndian, xunicode.IgnoreBOM), raw), true
}

func decodeUTF16BE(raw []byte) (string, bool) {
	return decodeWith(xunicode.UTF16(xunicode.BigEndian, xunicode.IgnoreBOM), raw), true
}

// Some producers prefix the UTF-16 payload with a single marker byte.
func decodeUTF16LEShifted(raw []byte) (string, bool) {
	b := raw
	if len(b) > 1 && b[0] == 0x00 {
		b = b[1:]
	}
	if len(b)%2 != 0 {
		return "", false
	}
	return decodeUTF16LE(b)
}

func decodeUTF8(raw []byte) (string, bool) {
	return strings.ToValidUTF8(stripNulls(string(raw)), ""), true
}

func decodeLatin1(raw []byte) (string, bool) {
	return decodeWith(charmap.ISO8859_1, []byte(stripNulls(string(raw)))), true
}

func sampleASCII(raw []byte, offset int) string {
	var b strings.Builder
	for i := offset; i < len(raw); i += 2 {
		if c := raw[i]; c >= 32 && c <= 126 {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func stripNulls(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
