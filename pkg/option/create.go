package option

import (
	"time"

	"github.com/rstms/iso-remaster/pkg/logging"
)

// ISOType represents the type of ISO image
type ISOType int

const (
	ISO_TYPE_ISO9660 ISOType = iota
	// ISO 9660 with a UDF bridge file system sharing the file data.
	ISO_TYPE_UDF
)

type CreateOptions struct {
	ISOType                ISOType
	VolumeIdentifier       string
	ApplicationIdentifier  string
	PublisherIdentifier    string
	DataPreparerIdentifier string
	SystemIdentifier       string
	JolietEnabled          bool
	RockRidgeEnabled       bool
	// Path inside the image of a no-emulation BIOS boot file. Empty disables El Torito.
	BootFile string
	// Number of 512 byte sectors the BIOS loads from BootFile.
	BootLoadSize uint16
	// Path inside the image of an EFI boot image, added as a second catalog section.
	EFIBootFile string
	// Timestamp recorded for the volume and for entries without one of their own.
	RecordingTime time.Time
	Logger        *logging.Logger
}

type CreateOption func(*CreateOptions)

// DefaultCreateOptions returns the options used when none are given.
func DefaultCreateOptions() *CreateOptions {
	return &CreateOptions{
		ISOType:          ISO_TYPE_ISO9660,
		VolumeIdentifier: "CDROM",
		JolietEnabled:    true,
		RockRidgeEnabled: true,
		BootLoadSize:     4,
		RecordingTime:    time.Now(),
		Logger:           logging.DefaultLogger(),
	}
}

// ApplyCreate returns the defaults with opts applied in order.
func ApplyCreate(opts ...CreateOption) *CreateOptions {
	o := DefaultCreateOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = logging.DefaultLogger()
	}
	return o
}

func WithISOType(isoType ISOType) CreateOption {
	return func(o *CreateOptions) {
		o.ISOType = isoType
	}
}

func WithVolumeIdentifier(id string) CreateOption {
	return func(o *CreateOptions) {
		o.VolumeIdentifier = id
	}
}

func WithApplicationIdentifier(id string) CreateOption {
	return func(o *CreateOptions) {
		o.ApplicationIdentifier = id
	}
}

func WithPublisherIdentifier(id string) CreateOption {
	return func(o *CreateOptions) {
		o.PublisherIdentifier = id
	}
}

func WithDataPreparerIdentifier(id string) CreateOption {
	return func(o *CreateOptions) {
		o.DataPreparerIdentifier = id
	}
}

func WithJoliet(enabled bool) CreateOption {
	return func(o *CreateOptions) {
		o.JolietEnabled = enabled
	}
}

func WithRockRidge(enabled bool) CreateOption {
	return func(o *CreateOptions) {
		o.RockRidgeEnabled = enabled
	}
}

// WithBootFile makes the image El Torito bootable from path in no-emulation mode.
func WithBootFile(path string) CreateOption {
	return func(o *CreateOptions) {
		o.BootFile = path
	}
}

func WithBootLoadSize(sectors uint16) CreateOption {
	return func(o *CreateOptions) {
		o.BootLoadSize = sectors
	}
}

func WithEFIBootFile(path string) CreateOption {
	return func(o *CreateOptions) {
		o.EFIBootFile = path
	}
}

func WithRecordingTime(t time.Time) CreateOption {
	return func(o *CreateOptions) {
		o.RecordingTime = t
	}
}

func WithCreateLogger(logger *logging.Logger) CreateOption {
	return func(o *CreateOptions) {
		o.Logger = logger
	}
}
