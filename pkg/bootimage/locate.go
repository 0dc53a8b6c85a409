// Package bootimage finds the boot sub-image of a staging tree, swaps it for another one and
// patches the registry inside it.
package bootimage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/logging"
)

// DEFAULT_NAME is the file name of the boot sub-image.
const DEFAULT_NAME = "boot.wim"

var sourcesDirs = []string{"sources", "Sources", "SOURCES"}

// Locate finds the sub-image called name below root. The case variants of the sources directory
// are checked first, then the whole tree is searched for the name without regard to case, and
// finally for any file with the same extension. The error is an *isoerr.ExtractionError wrapping
// isoerr.ErrNoSubImage when nothing is found.
func Locate(root, name string, logger *logging.Logger) (string, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	if name == "" {
		name = DEFAULT_NAME
	}

	for _, dir := range sourcesDirs {
		p := filepath.Join(root, dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			logger.Info("found sub-image", "path", p, "size", humanize.IBytes(uint64(info.Size())))
			return p, nil
		}
	}

	logger.Debug("sub-image not at a canonical location, searching tree", "root", root, "name", name)
	if p, err := find(root, func(n string) bool { return strings.EqualFold(n, name) }); err != nil {
		return "", &isoerr.ExtractionError{What: "sub-image search", Err: err}
	} else if p != "" {
		logger.Info("found sub-image", "path", p)
		return p, nil
	}

	ext := strings.ToLower(filepath.Ext(name))
	var candidates []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && strings.ToLower(filepath.Ext(d.Name())) == ext {
			logger.Info("found container file", "path", p)
			candidates = append(candidates, p)
		}
		return nil
	})
	if err != nil {
		return "", &isoerr.ExtractionError{What: "sub-image search", Err: err}
	}
	if len(candidates) > 0 {
		return candidates[0], nil
	}

	logger.Warn("no container files found in the staging tree", "root", root)
	for _, line := range ListTree(root, 3) {
		logger.Info(line)
	}
	return "", &isoerr.ExtractionError{What: name, Err: isoerr.ErrNoSubImage}
}

// find returns the first regular file in walk order whose base name matches, or "".
func find(root string, match func(name string) bool) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() && match(d.Name()) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipAll) {
		return "", err
	}
	return found, nil
}

// ListTree renders the tree below root to maxDepth levels, one entry per line, for diagnostics.
func ListTree(root string, maxDepth int) []string {
	var lines []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth >= maxDepth {
			return
		}
		indent := strings.Repeat("  ", depth)
		entries, err := os.ReadDir(dir)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%serror listing directory: %v", indent, err))
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if e.IsDir() {
				lines = append(lines, fmt.Sprintf("%s%s/", indent, e.Name()))
				walk(filepath.Join(dir, e.Name()), depth+1)
				continue
			}
			size := "?"
			if info, err := e.Info(); err == nil {
				size = humanize.Comma(info.Size()) + " bytes"
			}
			lines = append(lines, fmt.Sprintf("%s%s (%s)", indent, e.Name(), size))
		}
	}
	walk(root, 0)
	return lines
}

// Swap replaces target with a verbatim copy of source, carrying over the mode and modification
// time of source.
func Swap(target, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("failed to stat source sub-image: %w", err)
	}
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source sub-image: %w", err)
	}
	defer in.Close()

	tmp := target + ".swap"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy sub-image: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", target, err)
	}
	if err := os.Chmod(target, info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to set mode of %s: %w", target, err)
	}
	if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set times of %s: %w", target, err)
	}
	return nil
}

// VERSION_FILES are the files whose presence identifies the setup version of a tree.
var VERSION_FILES = []string{"sources/setup.exe", "sources/setuphost.exe", "autorun.inf", "setup.exe"}

// VersionFiles logs and returns which of VERSION_FILES exist below root.
func VersionFiles(root string, logger *logging.Logger) []string {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	var found []string
	for _, f := range VERSION_FILES {
		if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f))); err == nil {
			logger.Info("found version file", "path", f)
			found = append(found, f)
		}
	}
	return found
}
