package mastering

import (
	"strconv"
	"strings"

	"github.com/rstms/iso-remaster/pkg/consts"
)

const (
	// ISO 9660 level 2 limit on a file name plus extension, without the version.
	maxISONameLength = 30
	// Longest ISO 9660 directory identifier.
	maxISODirLength = 31
	// Longest extension kept in an ISO 9660 file identifier.
	maxISOExtLength = 8
	// Joliet identifiers are limited to 64 UCS-2 characters.
	maxJolietLength = 64
	versionSuffix   = ";1"
)

// dChars replaces everything outside the d-character set with an underscore.
func dChars(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r < 0x80 && strings.ContainsRune(consts.D_CHARACTERS, r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func splitExt(name string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// isoName returns the ISO 9660 identifier for name. attempt > 0 replaces the tail of the base
// name with a number to resolve collisions.
func isoName(name string, dir bool, attempt int) string {
	suffix := ""
	if attempt > 0 {
		suffix = strconv.Itoa(attempt)
	}
	if dir {
		base := dChars(name)
		return withSuffix(base, suffix, maxISODirLength)
	}
	base, ext := splitExt(name)
	base, ext = dChars(base), dChars(ext)
	if len(ext) > maxISOExtLength {
		ext = ext[:maxISOExtLength]
	}
	limit := maxISONameLength - len(ext) - 1
	base = withSuffix(base, suffix, limit)
	if base == "" && ext == "" {
		base = "_"
	}
	return base + "." + ext + versionSuffix
}

// jolietName returns the Joliet identifier for name, capped at 64 characters.
func jolietName(name string, dir bool, attempt int) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '*', '/', ':', ';', '?', '\\':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	suffix := ""
	if attempt > 0 {
		suffix = "_" + strconv.Itoa(attempt)
	}
	if dir {
		return withSuffixRunes(b.String(), suffix, maxJolietLength)
	}
	base, ext := splitExt(b.String())
	if ext == "" && !strings.Contains(b.String(), ".") {
		return withSuffixRunes(base, suffix, maxJolietLength-len(versionSuffix)) + versionSuffix
	}
	limit := maxJolietLength - len(versionSuffix) - len([]rune(ext)) - 1
	if limit < 1 {
		// Absurdly long extension: cut the whole name instead.
		return withSuffixRunes(b.String(), suffix, maxJolietLength-len(versionSuffix)) + versionSuffix
	}
	return withSuffixRunes(base, suffix, limit) + "." + ext + versionSuffix
}

func withSuffix(base, suffix string, limit int) string {
	if limit < len(suffix) {
		limit = len(suffix)
	}
	if len(base)+len(suffix) > limit {
		base = base[:limit-len(suffix)]
	}
	return base + suffix
}

func withSuffixRunes(base, suffix string, limit int) string {
	r := []rune(base)
	if len(r)+len(suffix) > limit {
		r = r[:limit-len(suffix)]
	}
	return string(r) + suffix
}

// assignNames gives every child of every directory unique ISO 9660 and Joliet identifiers.
func assignNames(n *node) {
	isoTaken := map[string]bool{}
	jolietTaken := map[string]bool{}
	for _, c := range n.sorted(func(c *node) string { return c.name }) {
		for attempt := 0; ; attempt++ {
			if name := isoName(c.name, c.isDir, attempt); !isoTaken[name] {
				c.isoName = name
				isoTaken[name] = true
				break
			}
		}
		for attempt := 0; ; attempt++ {
			// Joliet comparisons are case sensitive but Windows is not.
			name := jolietName(c.name, c.isDir, attempt)
			if key := strings.ToUpper(name); !jolietTaken[key] {
				c.jolietName = name
				jolietTaken[key] = true
				break
			}
		}
		if c.isDir {
			assignNames(c)
		}
	}
}
