package iso

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/rstms/iso-remaster/pkg/filename"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/iso9660/directory"
	"github.com/rstms/iso-remaster/pkg/iso9660/parser"
	"github.com/rstms/iso-remaster/pkg/udf"
)

// Entry is a file or directory of one hierarchy of the image.
type Entry struct {
	Name  string
	Path  string
	IsDir bool
	Size  int64

	record *directory.DirectoryRecord
	iso    *parser.Entry
	udf    *udf.Entry
}

// WalkFunc is called for every entry in breadth-first order. Returning fs.SkipAll stops the walk
// without an error; any other error aborts it.
type WalkFunc func(e *Entry) error

// Walk lists the hierarchy of ext breadth first. Entries whose name cannot be recovered are
// logged and left out.
func (img *Image) Walk(ext Extension, fn WalkFunc) error {
	_, err := img.walk(ext, fn)
	return err
}

// walk is Walk, also returning the number of entries left out for undecodable names.
func (img *Image) walk(ext Extension, fn WalkFunc) (int, error) {
	if !img.Has(ext) {
		return 0, fmt.Errorf("image has no %s hierarchy", ext)
	}
	root, err := img.root(ext)
	if err != nil {
		return 0, err
	}

	skipped := 0
	visited := map[dirKey]bool{root.key(): true}
	queue := []*Entry{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		children, err := img.readDir(ext, dir)
		if err != nil {
			img.logger.Warn("failed to read directory", "extension", ext, "path", dir.Path, "error", err)
			continue
		}
		for _, c := range children {
			if c.Name == "" {
				skipped++
				continue
			}
			if c.IsDir {
				if visited[c.key()] {
					img.logger.Warn("skipping directory loop", "extension", ext, "path", c.Path)
					continue
				}
				visited[c.key()] = true
			}
			if err := fn(c); err != nil {
				if errors.Is(err, fs.SkipAll) {
					return skipped, nil
				}
				return skipped, err
			}
			if c.IsDir {
				queue = append(queue, c)
			}
		}
	}
	return skipped, nil
}

// dirKey identifies a directory by where its contents are recorded, so a record pointing back
// at an ancestor is recognized.
type dirKey struct {
	partition uint16
	block     uint32
}

func (e *Entry) key() dirKey {
	if e.udf != nil {
		partition, block := e.udf.Location()
		return dirKey{partition: partition, block: block}
	}
	return dirKey{block: e.record.LocationOfExtent}
}

func (img *Image) root(ext Extension) (*Entry, error) {
	switch ext {
	case UDF:
		if img.udf == nil {
			return nil, fmt.Errorf("failed to mount UDF volume: %w", img.udfErr)
		}
		return &Entry{Path: "/", IsDir: true, udf: img.udf.Root()}, nil
	case Joliet, ISO9660:
		rec := img.iso.Root(ext == Joliet)
		if rec == nil {
			return nil, fmt.Errorf("image has no %s root directory", ext)
		}
		return &Entry{Path: "/", IsDir: true, record: rec}, nil
	}
	return nil, fmt.Errorf("%s is not a file hierarchy", ext)
}

// readDir lists dir. Children whose names are unrecoverable come back with an empty Name after
// a DecodeWarning has been logged.
func (img *Image) readDir(ext Extension, dir *Entry) ([]*Entry, error) {
	var out []*Entry
	if ext == UDF {
		children, err := img.udf.ReadDir(dir.udf)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			name, ok := c.Name, c.Name != ""
			if !ok {
				name, ok = filename.Decode(c.RawName)
			}
			e := &Entry{IsDir: c.IsDir, Size: c.Size, udf: c}
			img.name(e, dir, name, ok, c.RawName)
			out = append(out, e)
		}
		return out, nil
	}

	children, err := img.iso.ReadDir(dir.record)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		name, ok := img.iso.Name(c)
		if ok {
			name = filename.Sanitize(name)
			ok = filename.Usable(name)
		}
		if !ok {
			name, ok = filename.Decode(c.Record.FileIdentifier)
			if ok && !c.Record.IsDirectory() {
				name = directory.StripVersion(name, false)
			}
		}
		e := &Entry{IsDir: c.Record.IsDirectory(), record: c.Record, iso: c}
		if !e.IsDir {
			e.Size = c.Size()
		}
		img.name(e, dir, name, ok, c.Record.FileIdentifier)
		out = append(out, e)
	}
	return out, nil
}

func (img *Image) name(e *Entry, dir *Entry, name string, ok bool, raw []byte) {
	if !ok {
		img.logger.Warn("skipping entry", "error", &isoerr.DecodeWarning{Raw: raw, Path: dir.Path})
		return
	}
	e.Name = name
	e.Path = path.Join(dir.Path, name)
}

// Open returns a reader over the data of a file entry.
func (img *Image) Open(e *Entry) (io.Reader, error) {
	if e.IsDir {
		return nil, fmt.Errorf("%s is a directory", e.Path)
	}
	if e.udf != nil {
		return img.udf.Open(e.udf)
	}
	return e.iso.File.Open(), nil
}

// ReadFile reads the file at p from the hierarchy of ext. Path segments are matched without
// regard to case.
func (img *Image) ReadFile(ext Extension, p string) ([]byte, error) {
	e, err := img.Stat(ext, p)
	if err != nil {
		return nil, err
	}
	r, err := img.Open(e)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// Stat finds the entry at p in the hierarchy of ext. Path segments are matched without regard
// to case.
func (img *Image) Stat(ext Extension, p string) (*Entry, error) {
	dir, err := img.root(ext)
	if err != nil {
		return nil, err
	}
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return dir, nil
	}
	for _, part := range strings.Split(p, "/") {
		if !dir.IsDir {
			return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		children, err := img.readDir(ext, dir)
		if err != nil {
			return nil, err
		}
		var next *Entry
		for _, c := range children {
			if c.Name != "" && strings.EqualFold(c.Name, part) {
				next = c
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		dir = next
	}
	return dir, nil
}
