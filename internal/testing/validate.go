package testing

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContainsNonASCIIPrintable returns true if the string has any
// characters outside ASCII [32..126], i.e., not a standard printable.
func ContainsNonASCIIPrintable(s string) bool {
	for _, r := range s {
		if r < 32 || r > 126 {
			return true
		}
	}
	return false
}

// ReadTree returns the slash rooted path and content of every regular file below root.
func ReadTree(root string) (map[string]string, error) {
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out["/"+filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return out, err
}

// Validate compares the files below root against the ground truth and reports missing files,
// extra files and content mismatches in one error.
func Validate(root string, groundTruth map[string]string) error {
	got, err := ReadTree(root)
	if err != nil {
		return err
	}

	var missing, extra, differ []string
	for name, want := range groundTruth {
		content, found := got[name]
		switch {
		case !found:
			missing = append(missing, name)
		case content != want:
			differ = append(differ, name)
		}
	}
	for name := range got {
		if _, found := groundTruth[name]; !found {
			extra = append(extra, name)
		}
	}
	if len(missing) == 0 && len(extra) == 0 && len(differ) == 0 {
		return nil
	}

	sort.Strings(missing)
	sort.Strings(extra)
	sort.Strings(differ)
	var b strings.Builder
	b.WriteString("tree does not match the ground truth:")
	for _, m := range missing {
		fmt.Fprintf(&b, "\n  - missing %s", m)
	}
	for _, x := range extra {
		fmt.Fprintf(&b, "\n  - extra %s", x)
	}
	for _, d := range differ {
		fmt.Fprintf(&b, "\n  - content differs %s", d)
	}
	return fmt.Errorf("%s", b.String())
}
