package validate

import (
	"context"
	"fmt"
	"os"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

// LibraryValidator reads the image without mounting it. go-diskfs is tried first; images it
// rejects are read with this module's own reader.
type LibraryValidator struct {
	Essential []string
	logger    *logging.Logger
}

func NewLibraryValidator(essential []string, logger *logging.Logger) *LibraryValidator {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &LibraryValidator{Essential: essential, logger: logger}
}

func (v *LibraryValidator) Name() string { return "library" }

func (v *LibraryValidator) Validate(ctx context.Context, image string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return &Report{Method: v.Name()}, err
	}
	report, err := v.viaDiskfs(image)
	if err != nil {
		v.logger.Debug("go-diskfs could not read image, using built-in reader", "image", image, "error", err)
		return v.viaReader(image)
	}
	if len(report.Missing) == 0 {
		return report, nil
	}
	// go-diskfs only sees the primary hierarchy; a file may live in another one.
	second, err := v.viaReader(image)
	if err != nil || !second.Mounted {
		return report, nil
	}
	second.Method = report.Method + "+iso"
	return second, nil
}

func (v *LibraryValidator) viaDiskfs(image string) (*Report, error) {
	d, err := diskfs.Open(image, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	fs, err := d.GetFilesystem(0)
	if err != nil {
		return nil, fmt.Errorf("open image filesystem: %w", err)
	}
	if _, err := readDirAny(fs, "/"); err != nil {
		return nil, err
	}

	report := &Report{Method: v.Name() + "/go-diskfs", Mounted: true}
	for _, f := range v.Essential {
		if existsDiskfs(fs, f) {
			report.Present = append(report.Present, f)
		} else {
			report.Missing = append(report.Missing, f)
		}
	}
	return report, nil
}

func (v *LibraryValidator) viaReader(image string) (*Report, error) {
	report := &Report{Method: v.Name() + "/iso"}
	img, err := iso.Open(image, option.WithLogger(v.logger))
	if err != nil {
		return report, err
	}
	defer img.Close()
	report.Mounted = true
	report.Present, report.Missing = EssentialFiles(img, v.Essential)
	return report, nil
}

func readDirAny(fs filesystem.FileSystem, p string) ([]os.FileInfo, error) {
	candidates := []string{p, strings.TrimPrefix(p, "/")}
	if p == "/" || p == "" {
		candidates = append(candidates, "")
	}
	for _, c := range candidates {
		if entries, err := fs.ReadDir(c); err == nil {
			return entries, nil
		}
	}
	return nil, fmt.Errorf("readdir failed for %q", p)
}

// normalize strips the ISO 9660 version suffix and the empty extension dot.
func normalize(name string) string {
	if i := strings.LastIndex(name, ";"); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSuffix(name, ".")
}

// existsDiskfs resolves p one segment at a time, matching names without regard to case.
func existsDiskfs(fs filesystem.FileSystem, p string) bool {
	dir := "/"
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		entries, err := readDirAny(fs, dir)
		if err != nil {
			return false
		}
		var match os.FileInfo
		for _, e := range entries {
			if strings.EqualFold(normalize(e.Name()), part) {
				match = e
				break
			}
		}
		if match == nil {
			return false
		}
		last := i == len(parts)-1
		if !last && !match.IsDir() {
			return false
		}
		if last {
			return !match.IsDir()
		}
		dir = strings.TrimSuffix(dir, "/") + "/" + match.Name()
	}
	return false
}
