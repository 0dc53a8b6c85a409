// Package config holds the construction policy and the external tool names. Values come from
// struct defaults, an optional TOML file and ISOREMASTER_* environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/rstms/iso-remaster/pkg/iso9660/validation"
)

// Policy governs how images are built, validated and labelled.
type Policy struct {
	VolumeIdentifier      string   `toml:"volume_identifier" default:"CCCOMA_X64FRE_EN-US_DV9" validate:"required,max=32"`       // Volume identifier forced onto every produced image
	ApplicationIdentifier string   `toml:"application_identifier" default:"Microsoft Windows" validate:"max=128"`                // Application identifier of produced images
	PublisherIdentifier   string   `toml:"publisher_identifier" default:"Microsoft Corporation" validate:"max=128"`              // Publisher identifier of produced images
	AcceptedLabels        []string `toml:"accepted_labels" default:"[\"CCCOMA_X64FRE_EN-US_DV9\",\"CCCOMA_X64FRE_EN-US_DV9%202\",\"CCCOMA_X64FRE_EN-US_DV9%203\"]" validate:"min=1,dive,required"` // Labels the downstream consumer recognizes

	EssentialFiles      []string `toml:"essential_files" default:"[\"bootmgr\",\"setup.exe\",\"boot/bootmgr\",\"sources/boot.wim\",\"sources/install.wim\",\"sources/setup.exe\"]" validate:"dive,required"` // Files the rescue build always carries
	CriticalDirectories []string `toml:"critical_directories" default:"[\"boot\",\"sources\",\"efi\"]" validate:"dive,required"`                                                                  // Directories the rescue build flattens
	MountEssentialFiles []string `toml:"mount_essential_files" default:"[\"bootmgr\",\"setup.exe\",\"sources/boot.wim\",\"sources/install.wim\"]" validate:"dive,required"`                         // Files checked on a mounted image

	SizeRatio            float64 `toml:"size_ratio" default:"0.6" validate:"gt=0,lte=1"`     // Smallest accepted image size relative to the source tree
	UDFSizeRatio         float64 `toml:"udf_size_ratio" default:"0.8" validate:"gt=0,lte=1"` // Size a UDF image must reach to be accepted without mounting
	AcceptUnmountableUDF bool    `toml:"accept_unmountable_udf" default:"true"`              // Accept full sized UDF images the mount oracle rejects
	UDFThreshold         string  `toml:"udf_threshold" default:"4GiB" validate:"required"`   // Source trees above this size try the UDF strategy first

	MaxPathLength     int `toml:"max_path_length" default:"100" validate:"gt=0"`     // Longest image path the in-process build keeps
	MaxFlatNameLength int `toml:"max_flat_name_length" default:"64" validate:"gt=0"` // Longest flattened path of the fallback builds
	MaxNameLength     int `toml:"max_name_length" default:"50" validate:"gt=0"`      // Longest file name the in-process build keeps

	BootLoader string `toml:"boot_loader" default:"boot/etfsboot.com" validate:"required"` // El Torito boot image given to external builders
	BootFile   string `toml:"boot_file" default:"bootmgr" validate:"required"`            // El Torito boot image of the in-process build

	Timeouts struct {
		Tool    time.Duration `toml:"tool" default:"600s" validate:"gt=0"`    // Image construction tools
		Mount   time.Duration `toml:"mount" default:"30s" validate:"gt=0"`    // Mount and unmount calls
		Patch   time.Duration `toml:"patch" default:"1800s" validate:"gt=0"`  // Sub-image extract, patch and capture
		Extract time.Duration `toml:"extract" default:"3600s" validate:"gt=0"` // Extraction of one source image
	} `toml:"timeouts"`
}

// Tools names the external programs.
type Tools struct {
	Mkisofs     string `toml:"mkisofs" default:"mkisofs" validate:"required"`
	Genisoimage string `toml:"genisoimage" default:"genisoimage" validate:"required"`
	Wimlib      string `toml:"wimlib" default:"wimlib-imagex" validate:"required"`
	Hivexsh     string `toml:"hivexsh" default:"hivexsh" validate:"required"`
	Hdiutil     string `toml:"hdiutil" default:"hdiutil" validate:"required"`
	Mount       string `toml:"mount" default:"mount" validate:"required"`
	Umount      string `toml:"umount" default:"umount" validate:"required"`
}

// Config is the whole configuration file.
type Config struct {
	Policy Policy `toml:"policy"`
	Tools  Tools  `toml:"tools"`
}

// ENV_PREFIX starts every environment override.
const ENV_PREFIX = "ISOREMASTER_"

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("invalid configuration defaults: %v", err))
	}
	return cfg
}

// Load reads the TOML file at path over the defaults. An empty path skips the file. Overrides
// from a .env file next to the working directory and from the environment are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	env, err := godotenv.Read(".env")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	if env == nil {
		env = map[string]string{}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, ENV_PREFIX) {
			env[k] = v
		}
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies ISOREMASTER_* overrides.
func (c *Config) ApplyEnv(env map[string]string) error {
	strs := map[string]*string{
		"MKISOFS":           &c.Tools.Mkisofs,
		"GENISOIMAGE":       &c.Tools.Genisoimage,
		"WIMLIB":            &c.Tools.Wimlib,
		"HIVEXSH":           &c.Tools.Hivexsh,
		"HDIUTIL":           &c.Tools.Hdiutil,
		"MOUNT":             &c.Tools.Mount,
		"UMOUNT":            &c.Tools.Umount,
		"VOLUME_IDENTIFIER": &c.Policy.VolumeIdentifier,
		"UDF_THRESHOLD":     &c.Policy.UDFThreshold,
		"BOOT_LOADER":       &c.Policy.BootLoader,
	}
	for name, dst := range strs {
		if v, ok := env[ENV_PREFIX+name]; ok {
			*dst = v
		}
	}
	if v, ok := env[ENV_PREFIX+"ACCEPT_UNMOUNTABLE_UDF"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sACCEPT_UNMOUNTABLE_UDF %q: %w", ENV_PREFIX, v, err)
		}
		c.Policy.AcceptUnmountableUDF = b
	}
	if v, ok := env[ENV_PREFIX+"TOOL_TIMEOUT"]; ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sTOOL_TIMEOUT %q: %w", ENV_PREFIX, v, err)
		}
		c.Policy.Timeouts.Tool = d
	}
	return nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Policy.UDFThresholdBytes(); err != nil {
		return err
	}
	if err := validation.ACharacters(c.Policy.VolumeIdentifier); err != nil {
		return fmt.Errorf("invalid volume_identifier %q: %w", c.Policy.VolumeIdentifier, err)
	}
	return nil
}

// UDFThresholdBytes parses UDFThreshold, for example "4GiB".
func (p *Policy) UDFThresholdBytes() (int64, error) {
	n, err := units.RAMInBytes(p.UDFThreshold)
	if err != nil {
		return 0, fmt.Errorf("invalid udf_threshold %q: %w", p.UDFThreshold, err)
	}
	return n, nil
}

// Compatible reports whether label is one of the accepted labels.
func (p *Policy) Compatible(label string) bool {
	for _, l := range p.AcceptedLabels {
		if l == label {
			return true
		}
	}
	return false
}

// Write encodes the configuration as TOML at path.
func (c *Config) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
