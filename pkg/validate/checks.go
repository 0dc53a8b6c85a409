package validate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	iso "github.com/rstms/iso-remaster"
	"github.com/rstms/iso-remaster/pkg/consts"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
)

const bootSignatureBlock = 512

// BootSignature reports whether the 512 bytes at 0x8000 end with 0x55AA. Windows images do not
// carry the signature there, so a missing one is informational.
func BootSignature(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	buf := make([]byte, bootSignatureBlock)
	if _, err := f.ReadAt(buf, consts.BOOT_SIGNATURE_OFFSET); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return buf[510] == 0x55 && buf[511] == 0xAA, nil
}

// EssentialFiles checks every file in list against each hierarchy of the image. A file counts as
// present when any hierarchy has it.
func EssentialFiles(img *iso.Image, list []string) (present, missing []string) {
	for _, f := range list {
		found := false
		for _, ext := range []iso.Extension{iso.UDF, iso.Joliet, iso.ISO9660} {
			if !img.Has(ext) {
				continue
			}
			if e, err := img.Stat(ext, f); err == nil && !e.IsDir {
				found = true
				break
			}
		}
		if found {
			present = append(present, f)
		} else {
			missing = append(missing, f)
		}
	}
	return present, missing
}

// Analysis describes a produced image for the debug report.
type Analysis struct {
	Path                  string
	Size                  int64
	Extensions            []string
	ElToritoEntries       int
	VolumeIdentifier      string
	ApplicationIdentifier string
	PublisherIdentifier   string
	BootSignature         bool
	Present               []string
	Missing               []string
	Root                  []string
}

// Analyze opens the image and gathers what is known about it.
func Analyze(path string, essential []string, logger *logging.Logger) (*Analysis, error) {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	a := &Analysis{Path: path, Size: info.Size()}
	if a.BootSignature, err = BootSignature(path); err != nil {
		logger.Debug("boot signature check failed", "path", path, "error", err)
	}

	img, err := iso.Open(path, option.WithLogger(logger))
	if err != nil {
		return a, err
	}
	defer img.Close()

	for _, e := range img.Extensions() {
		a.Extensions = append(a.Extensions, e.String())
	}
	if et := img.ISO9660().ElTorito(); et != nil {
		a.ElToritoEntries = len(et.Entries)
	}
	a.VolumeIdentifier = img.VolumeIdentifier()
	a.ApplicationIdentifier = img.ApplicationIdentifier()
	a.PublisherIdentifier = img.PublisherIdentifier()
	a.Present, a.Missing = EssentialFiles(img, essential)

	ext := iso.ISO9660
	for _, candidate := range []iso.Extension{iso.UDF, iso.Joliet} {
		if img.Has(candidate) {
			if _, err := img.Stat(candidate, "/"); err == nil {
				ext = candidate
				break
			}
		}
	}
	err = img.Walk(ext, func(e *iso.Entry) error {
		if strings.Count(e.Path, "/") > 1 {
			return fs.SkipAll
		}
		if e.IsDir {
			a.Root = append(a.Root, e.Name+"/")
		} else {
			a.Root = append(a.Root, fmt.Sprintf("%s (%s)", e.Name, humanize.IBytes(uint64(e.Size))))
		}
		return nil
	})
	return a, err
}

// Lines renders the analysis for logs and reports.
func (a *Analysis) Lines() []string {
	lines := []string{
		fmt.Sprintf("image: %s (%s)", a.Path, humanize.IBytes(uint64(a.Size))),
		"extensions: " + strings.Join(a.Extensions, ","),
		fmt.Sprintf("el torito entries: %d", a.ElToritoEntries),
		fmt.Sprintf("boot signature: %t", a.BootSignature),
		fmt.Sprintf("volume: %q application: %q publisher: %q", a.VolumeIdentifier, a.ApplicationIdentifier, a.PublisherIdentifier),
	}
	for _, f := range a.Present {
		lines = append(lines, "present: "+f)
	}
	for _, f := range a.Missing {
		lines = append(lines, "missing: "+f)
	}
	for _, r := range a.Root {
		lines = append(lines, "root: "+r)
	}
	return lines
}
