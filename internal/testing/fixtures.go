// Package testing builds the disc images and staging trees the package tests run against. Every
// fixture is mastered in process, so tests need neither external tools nor checked-in images.
package testing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rstms/iso-remaster/pkg/mastering"
	"github.com/rstms/iso-remaster/pkg/option"
)

// Stamp is the recording time of every fixture image.
var Stamp = time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC)

// WindowsTree is an installation medium in miniature: twelve files in three directories.
var WindowsTree = map[string]string{
	"/bootmgr":               "bootmgr",
	"/setup.exe":             "setup",
	"/autorun.inf":           "[AutoRun]\r\nopen=setup.exe\r\n",
	"/boot/etfsboot.com":     strings.Repeat("E", 4*512),
	"/boot/bcd":              "bcd",
	"/boot/boot.sdi":         strings.Repeat("S", 3000),
	"/sources/boot.wim":      strings.Repeat("W", 5000),
	"/sources/install.wim":   strings.Repeat("I", 9000),
	"/sources/setup.exe":     "sources setup",
	"/sources/setuphost.exe": "setup host",
	"/efi/bootx64.efi":       "efi loader",
	"/efi/readme.txt":        "efi readme",
}

// WindowsDirectories are the directories of WindowsTree.
var WindowsDirectories = []string{"/boot", "/efi", "/sources"}

// Master writes tree into a new image at dir/name with opts applied on top of the fixture
// defaults.
func Master(dir, name string, tree map[string]string, opts ...option.CreateOption) (string, error) {
	img := mastering.New(append([]option.CreateOption{option.WithRecordingTime(Stamp)}, opts...)...)
	for _, p := range sortedPaths(tree) {
		if err := img.AddBytes(p, []byte(tree[p])); err != nil {
			return "", err
		}
	}
	out := filepath.Join(dir, name)
	if err := img.Save(out); err != nil {
		return "", fmt.Errorf("failed to master fixture %s: %w", name, err)
	}
	return out, nil
}

// ISOOnly masters a plain ISO 9660 image holding a single file A.TXT.
func ISOOnly(dir string) (string, error) {
	return Master(dir, "iso-only.iso", map[string]string{"/A.TXT": "hello\n"},
		option.WithVolumeIdentifier("ISO_ONLY"),
		option.WithJoliet(false),
		option.WithRockRidge(false))
}

// AllExtensions masters WindowsTree with UDF, Joliet, Rock Ridge and an El Torito entry.
func AllExtensions(dir string) (string, error) {
	return Master(dir, "all.iso", WindowsTree,
		option.WithVolumeIdentifier("ALL_EXTENSIONS"),
		option.WithISOType(option.ISO_TYPE_UDF),
		option.WithBootFile("/bootmgr"))
}

// WriteTree materializes tree below root.
func WriteTree(root string, tree map[string]string) error {
	for _, p := range sortedPaths(tree) {
		target := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(tree[p]), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sortedPaths(tree map[string]string) []string {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
