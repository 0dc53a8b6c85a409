// Package mastering builds ISO 9660 images in process. The image carries Joliet and Rock Ridge
// names, an optional El Torito no-emulation boot entry and an optional UDF bridge sharing the
// file data with the ISO 9660 hierarchy.
package mastering

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

// node is a file or directory of the tree being mastered. The layout fields are filled in by
// the layout pass.
type node struct {
	name     string
	parent   *node
	children map[string]*node
	isDir    bool
	size     int64
	modTime  time.Time
	mode     os.FileMode
	open     func() (io.ReadCloser, error)

	isoName    string
	jolietName string
	// Path table numbers, 1 for the root.
	isoNumber    uint16
	jolietNumber uint16
	// Directory extents of both hierarchies.
	isoExtent    extent
	jolietExtent extent
	// First sector of the file data.
	location uint32

	// UDF partition blocks of the file entry and of the directory stream.
	udfICB     uint32
	udfDir     uint32
	udfDirSize int64
	uniqueID   uint32
}

type extent struct {
	location uint32
	size     uint32
}

// Path returns the slash separated path of the node from the root.
func (n *node) Path() string {
	if n.parent == nil {
		return "/"
	}
	return path.Join(n.parent.Path(), n.name)
}

// sorted returns the children ordered by key.
func (n *node) sorted(key func(*node) string) []*node {
	out := make([]*node, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

func (n *node) subdirectories() int {
	count := 0
	for _, c := range n.children {
		if c.isDir {
			count++
		}
	}
	return count
}

// Image collects files and writes them out as an ISO image.
type Image struct {
	opts   *option.CreateOptions
	logger *logging.Logger
	root   *node
	files  int
	dirs   int
	bytes  int64
}

// New returns an empty image.
func New(opts ...option.CreateOption) *Image {
	o := option.ApplyCreate(opts...)
	return &Image{
		opts:   o,
		logger: o.Logger,
		root: &node{
			isDir:    true,
			children: map[string]*node{},
			modTime:  o.RecordingTime,
			mode:     os.ModeDir | 0o755,
		},
	}
}

// Files returns the number of regular files added so far.
func (img *Image) Files() int {
	return img.files
}

// Size returns the total number of file bytes added so far.
func (img *Image) Size() int64 {
	return img.bytes
}

func splitPath(p string) ([]string, error) {
	p = path.Clean("/" + filepath.ToSlash(p))
	if p == "/" {
		return nil, nil
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			return nil, fmt.Errorf("invalid path component %q in %s", part, p)
		}
	}
	return parts, nil
}

// directory walks to the directory named by parts, creating missing ones.
func (img *Image) directory(parts []string) (*node, error) {
	dir := img.root
	for _, part := range parts {
		child, ok := dir.children[part]
		if !ok {
			child = &node{
				name:     part,
				parent:   dir,
				isDir:    true,
				children: map[string]*node{},
				modTime:  img.opts.RecordingTime,
				mode:     os.ModeDir | 0o755,
			}
			dir.children[part] = child
			img.dirs++
		} else if !child.isDir {
			return nil, fmt.Errorf("%s is a file, not a directory", child.Path())
		}
		dir = child
	}
	return dir, nil
}

// AddDirectory adds an empty directory and its missing parents.
func (img *Image) AddDirectory(isoPath string) error {
	parts, err := splitPath(isoPath)
	if err != nil {
		return err
	}
	_, err = img.directory(parts)
	return err
}

func (img *Image) addFile(isoPath string, size int64, modTime time.Time, mode os.FileMode, open func() (io.ReadCloser, error)) error {
	parts, err := splitPath(isoPath)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("cannot add a file as the root directory")
	}
	dir, err := img.directory(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	if _, exists := dir.children[name]; exists {
		return fmt.Errorf("%s already exists in the image", path.Join(dir.Path(), name))
	}
	dir.children[name] = &node{
		name:    name,
		parent:  dir,
		size:    size,
		modTime: modTime,
		mode:    mode.Perm(),
		open:    open,
	}
	img.files++
	img.bytes += size
	return nil
}

// AddFile adds the local file at localPath under isoPath. The file is read when the image is
// written.
func (img *Image) AddFile(isoPath, localPath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", localPath)
	}
	return img.addFile(isoPath, info.Size(), info.ModTime(), info.Mode(), func() (io.ReadCloser, error) {
		return os.Open(localPath)
	})
}

// AddBytes adds a file holding data.
func (img *Image) AddBytes(isoPath string, data []byte) error {
	return img.addFile(isoPath, int64(len(data)), img.opts.RecordingTime, 0o644, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	})
}

// AddTree adds every regular file and directory below localRoot. The filter maps the slash
// separated path relative to localRoot onto the path inside the image; returning false skips the
// entry, and skipping a directory skips its contents. A nil filter keeps every path unchanged.
func (img *Image) AddTree(localRoot string, filter func(rel string, d fs.DirEntry) (string, bool)) (int, error) {
	added := 0
	err := filepath.WalkDir(localRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			img.logger.Warn("skipping unreadable path", "path", p, "error", err)
			return nil
		}
		rel, err := filepath.Rel(localRoot, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = "/" + filepath.ToSlash(rel)
		target := rel
		if filter != nil {
			var keep bool
			if target, keep = filter(rel, d); !keep {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		switch {
		case d.IsDir():
			if err := img.AddDirectory(target); err != nil {
				return err
			}
		case d.Type().IsRegular():
			if err := img.AddFile(target, p); err != nil {
				img.logger.Warn("skipping file", "path", rel, "error", err)
				return nil
			}
			added++
		default:
			img.logger.Debug("skipping non-regular file", "path", rel)
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("failed to add tree %s: %w", localRoot, err)
	}
	return added, nil
}

// Save writes the image to a new file at path. A partial file is removed on failure.
func (img *Image) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := img.WriteTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
