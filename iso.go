// Package iso reads optical-disc images. An image is opened read-only and its file hierarchy can
// be listed or extracted through any of the extensions it carries: UDF, Joliet or the plain
// ISO 9660 hierarchy (with Rock Ridge names when present).
package iso

import (
	"fmt"
	"os"
	"strings"

	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/iso9660"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/option"
	"github.com/rstms/iso-remaster/pkg/udf"
)

// Extension names one of the standards an image may carry.
type Extension int

const (
	UDF Extension = iota
	Joliet
	ISO9660
	// RockRidge and ElTorito are informational. They are not extraction paths of their own.
	RockRidge
	ElTorito
)

func (e Extension) String() string {
	switch e {
	case UDF:
		return "UDF"
	case Joliet:
		return "Joliet"
	case ISO9660:
		return "ISO9660"
	case RockRidge:
		return "RockRidge"
	case ElTorito:
		return "ElTorito"
	}
	return fmt.Sprintf("Extension(%d)", int(e))
}

// extractionOrder is the priority in which hierarchies are tried.
var extractionOrder = []Extension{UDF, Joliet, ISO9660}

// Image is an opened disc image.
type Image struct {
	path       string
	file       *os.File
	opts       *option.OpenOptions
	logger     *logging.Logger
	iso        *iso9660.ISO9660
	udf        *udf.UDF
	udfErr     error
	extensions map[Extension]bool
}

// Open opens the image at path and detects its extensions. A file without a primary volume
// descriptor is rejected with a *isoerr.FormatError.
func Open(path string, opts ...option.OpenOption) (*Image, error) {
	o := option.Apply(opts...)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	fs, err := iso9660.Open(f, opts...)
	if err != nil {
		f.Close()
		return nil, &isoerr.FormatError{Path: path, Reason: err.Error()}
	}

	img := &Image{
		path:   path,
		file:   f,
		opts:   o,
		logger: o.Logger,
		iso:    fs,
		extensions: map[Extension]bool{
			ISO9660:   true,
			Joliet:    fs.HasJoliet(),
			RockRidge: fs.HasRockRidge(),
			ElTorito:  fs.HasElTorito(),
		},
	}

	if udf.Detect(f) {
		img.extensions[UDF] = true
		// The volume is only mounted here; a broken one stays listed and fails when tried.
		if img.udf, err = udf.Open(f, opts...); err != nil {
			img.udfErr = err
			img.logger.Warn("UDF volume detected but could not be read", "path", path, "error", err)
		}
	}

	img.logger.Debug("opened image", "path", path, "extensions", img.Extensions())
	return img, nil
}

// Extensions returns the extensions present in the image in priority order, followed by the
// informational ones.
func (img *Image) Extensions() []Extension {
	var out []Extension
	for _, e := range []Extension{UDF, Joliet, ISO9660, RockRidge, ElTorito} {
		if img.extensions[e] {
			out = append(out, e)
		}
	}
	return out
}

// Has reports whether the image carries ext.
func (img *Image) Has(ext Extension) bool {
	return img.extensions[ext]
}

// ExtensionString formats the extensions for log lines and reports.
func (img *Image) ExtensionString() string {
	names := make([]string, 0, len(img.extensions))
	for _, e := range img.Extensions() {
		names = append(names, e.String())
	}
	return strings.Join(names, ",")
}

// Path returns the file the image was opened from.
func (img *Image) Path() string {
	return img.path
}

// VolumeIdentifier returns the primary volume identifier.
func (img *Image) VolumeIdentifier() string {
	return img.iso.GetVolumeID()
}

// ApplicationIdentifier returns the primary application identifier.
func (img *Image) ApplicationIdentifier() string {
	return img.iso.GetApplicationID()
}

// PublisherIdentifier returns the primary publisher identifier.
func (img *Image) PublisherIdentifier() string {
	return img.iso.GetPublisherID()
}

// ISO9660 exposes the ISO 9660 volume for callers that need descriptor level detail.
func (img *Image) ISO9660() *iso9660.ISO9660 {
	return img.iso
}

// ExtractBootImages writes the El Torito boot images into dest.
func (img *Image) ExtractBootImages(dest string) ([]string, error) {
	return img.iso.ExtractBootImages(dest)
}

// Close releases the image file.
func (img *Image) Close() error {
	return img.file.Close()
}
