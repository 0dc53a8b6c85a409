package helpers

import (
	"strings"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// PadString returns s copied into a fixed length field padded with the ISO9660 filler.
func PadString(s string, length int) []byte {
	b := make([]byte, length)
	n := copy(b, s)
	for i := n; i < length; i++ {
		b[i] = consts.ISO9660_FILLER
	}
	return b
}

// TrimField strips filler and NUL padding from a fixed length identifier field.
func TrimField(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
