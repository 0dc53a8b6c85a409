// Package validation checks identifiers against the ISO 9660 character sets.
package validation

import (
	"fmt"
	"strings"

	"github.com/rstms/iso-remaster/pkg/consts"
)

// allowedChars checks that every rune of s is in allowed. setName is used in error messages.
func allowedChars(s, allowed, setName string) error {
	for i, r := range s {
		if r > 0xFFFF {
			return fmt.Errorf("invalid %s-character at index %d: code point 0x%X is outside UCS-2 range", setName, i, r)
		}
		if !strings.ContainsRune(allowed, r) {
			return fmt.Errorf("invalid %s-character at index %d: %q is not allowed", setName, i, r)
		}
	}
	return nil
}

// ACharacters checks s against the a-characters, the set of volume, application and publisher
// identifiers.
func ACharacters(s string) error {
	return allowedChars(s, consts.A_CHARACTERS, "A")
}

// DCharacters checks s against the d-characters. separators also admits '.' and ';', as in
// file identifiers.
func DCharacters(s string, separators bool) error {
	allowed := consts.D_CHARACTERS
	if separators {
		allowed += consts.ISO9660_SEPARATOR_1 + consts.ISO9660_SEPARATOR_2
	}
	return allowedChars(s, allowed, "D")
}

// CCharacters checks s against the Joliet character set: anything in UCS-2 except control
// characters and * / : ; ? \.
func CCharacters(s string) error {
	for i, r := range s {
		if r > 0xFFFF {
			return fmt.Errorf("invalid C-character at index %d: code point 0x%X is outside UCS-2 range", i, r)
		}
		if r <= 0x1F || strings.ContainsRune(`*/:;?\`, r) {
			return fmt.Errorf("invalid C-character at index %d: disallowed code point 0x%04X", i, r)
		}
	}
	return nil
}
