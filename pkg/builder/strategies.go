package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	kiso "github.com/kdomanski/iso9660"

	"github.com/rstms/iso-remaster/pkg/mastering"
	"github.com/rstms/iso-remaster/pkg/option"
)

const (
	METHOD_PRIMARY     = "Boot Camp optimized mkisofs"
	METHOD_SIMPLE      = "Simple mkisofs"
	METHOD_GENISOIMAGE = "genisoimage"
	METHOD_UDF         = "UDF mkisofs"
	METHOD_NATIVE      = "native mastering"
	METHOD_RESCUE      = "rescue"
)

// external returns a Build func running command with the arguments args returns.
func (b *Builder) external(command func() string, args func(source string, d Descriptor, output string) []string) func(context.Context, string, Descriptor, string) error {
	return func(ctx context.Context, source string, d Descriptor, output string) error {
		ctx, cancel := context.WithTimeout(ctx, b.Policy.Timeouts.Tool)
		defer cancel()
		name := command()
		argv := args(source, d, output)
		b.logger.Debug("running", "command", name+" "+strings.Join(argv, " "))
		out, err := b.runner.RunContext(ctx, name, argv...)
		if err != nil {
			if len(out) > 0 {
				b.logger.Debug("command output", "command", name, "output", strings.TrimSpace(string(out)))
			}
			return fmt.Errorf("%s failed: %w", name, err)
		}
		return nil
	}
}

func (b *Builder) mkisofs() string     { return b.Tools.Mkisofs }
func (b *Builder) genisoimage() string { return b.Tools.Genisoimage }

// Primary builds with explicit El Torito parameters and all three identifiers.
func (b *Builder) Primary() Strategy {
	return Strategy{
		Name: METHOD_PRIMARY,
		Available: func(context.Context) bool {
			return b.runner.LookPath(b.Tools.Mkisofs)
		},
		Build: b.external(b.mkisofs, func(source string, d Descriptor, output string) []string {
			return []string{
				"-iso-level", "2",
				"-J", "-R",
				"-no-emul-boot",
				"-boot-load-size", "4",
				"-boot-info-table",
				"-eltorito-boot", b.Policy.BootLoader,
				"-V", d.VolumeIdentifier,
				"-A", d.ApplicationIdentifier,
				"-publisher", d.PublisherIdentifier,
				"-o", output,
				source,
			}
		}),
	}
}

// Simple builds with Joliet and relaxed file names only.
func (b *Builder) Simple() Strategy {
	return Strategy{
		Name: METHOD_SIMPLE,
		Available: func(context.Context) bool {
			return b.runner.LookPath(b.Tools.Mkisofs)
		},
		Build: b.external(b.mkisofs, func(source string, d Descriptor, output string) []string {
			return []string{"-J", "-r", "-allow-lowercase", "-allow-multidot", "-V", d.VolumeIdentifier, "-o", output, source}
		}),
	}
}

// Genisoimage is Simple with the alternate tool. It is only tried when the tool answers --help.
func (b *Builder) Genisoimage() Strategy {
	return Strategy{
		Name: METHOD_GENISOIMAGE,
		Available: func(ctx context.Context) bool {
			if !b.runner.LookPath(b.Tools.Genisoimage) {
				return false
			}
			ctx, cancel := context.WithTimeout(ctx, b.Policy.Timeouts.Mount)
			defer cancel()
			_, err := b.runner.RunContext(ctx, b.Tools.Genisoimage, "--help")
			return err == nil
		},
		Build: b.external(b.genisoimage, func(source string, d Descriptor, output string) []string {
			return []string{"-J", "-R", "-allow-lowercase", "-allow-multidot", "-V", d.VolumeIdentifier, "-o", output, source}
		}),
	}
}

// UDFStrategy adds a UDF bridge for trees with files too large for ISO 9660 alone.
func (b *Builder) UDFStrategy() Strategy {
	return Strategy{
		Name: METHOD_UDF,
		UDF:  true,
		Available: func(context.Context) bool {
			return b.runner.LookPath(b.Tools.Mkisofs)
		},
		Build: b.external(b.mkisofs, func(source string, d Descriptor, output string) []string {
			return []string{"-iso-level", "3", "-J", "-R", "-udf", "-V", d.VolumeIdentifier, "-o", output, source}
		}),
	}
}

// Native masters the image in process. Paths that are too long or not plain ASCII are left out;
// when that leaves nothing, files are added flattened to the root instead.
func (b *Builder) Native() Strategy {
	return Strategy{Name: METHOD_NATIVE, Build: b.buildNative}
}

func (b *Builder) newImage(source string, d Descriptor) *mastering.Image {
	opts := []option.CreateOption{
		option.WithVolumeIdentifier(d.VolumeIdentifier),
		option.WithApplicationIdentifier(d.ApplicationIdentifier),
		option.WithPublisherIdentifier(d.PublisherIdentifier),
		option.WithJoliet(true),
		option.WithRockRidge(true),
		option.WithCreateLogger(b.logger),
	}
	if info, err := os.Stat(filepath.Join(source, b.Policy.BootFile)); err == nil && info.Mode().IsRegular() {
		b.logger.Debug("adding El Torito boot record", "file", b.Policy.BootFile)
		opts = append(opts, option.WithBootFile("/"+b.Policy.BootFile))
	}
	return mastering.New(opts...)
}

func (b *Builder) buildNative(ctx context.Context, source string, d Descriptor, output string) error {
	img := b.newImage(source, d)
	added, skipped, err := b.addTree(img, source)
	if err != nil {
		return err
	}
	if skipped > 0 {
		b.logger.Warn("files left out of image", "count", skipped)
	}

	if added == 0 {
		b.logger.Warn("no files were added, retrying with flattened paths")
		img = b.newImage(source, d)
		added = flatten(source, "", b.Policy.MaxFlatNameLength, img.AddFile)
		if added == 0 {
			return errors.New("no files could be added to the image")
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.logger.Info("writing image", "method", METHOD_NATIVE, "files", added)
	return img.Save(output)
}

// addTree adds the tree below source to img and returns how many files went in and how many
// were left out, counting the files below skipped directories.
func (b *Builder) addTree(img *mastering.Image, source string) (int, int, error) {
	skipped := 0
	added, err := img.AddTree(source, func(rel string, entry fs.DirEntry) (string, bool) {
		reason := b.unsafePath(rel, entry)
		switch {
		case reason == "":
			return rel, true
		case entry.IsDir():
			n := countFiles(filepath.Join(source, filepath.FromSlash(rel)))
			b.logger.Debug("skipping directory", "path", rel, "reason", reason, "files", n)
			skipped += n
		default:
			b.logger.Debug("skipping file", "path", rel, "reason", reason)
			skipped++
		}
		return "", false
	})
	return added, skipped, err
}

// countFiles returns the number of regular files below dir.
func countFiles(dir string) int {
	n := 0
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}

// unsafePath returns why rel cannot go into the in-process image, or "".
func (b *Builder) unsafePath(rel string, entry fs.DirEntry) string {
	switch {
	case len(rel) > b.Policy.MaxPathLength:
		return "path too long"
	case strings.IndexFunc(rel, func(r rune) bool { return r < 0x10 }) >= 0:
		return "control characters"
	case strings.IndexFunc(rel, func(r rune) bool { return r >= utf8.RuneSelf }) >= 0:
		return "non-ASCII characters"
	case !entry.IsDir() && len(entry.Name()) > b.Policy.MaxNameLength:
		return "name too long"
	}
	return ""
}

// flatten adds every regular file below dir as prefix/<name>, skipping paths longer than limit.
// Files whose flattened path is taken already are skipped too.
func flatten(dir, prefix string, limit int, add func(isoPath, localPath string) error) int {
	added := 0
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return nil
		}
		target := prefix + "/" + d.Name()
		if len(target) > limit {
			return nil
		}
		if add(target, p) == nil {
			added++
		}
		return nil
	})
	return added
}

// Rescue writes only the essential files and the flattened critical directories with
// github.com/kdomanski/iso9660.
func (b *Builder) Rescue() Strategy {
	return Strategy{Name: METHOD_RESCUE, Build: b.buildRescue}
}

func (b *Builder) buildRescue(ctx context.Context, source string, d Descriptor, output string) error {
	w, err := kiso.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to create rescue writer: %w", err)
	}
	defer w.Cleanup()

	add := func(isoPath, localPath string) error {
		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return w.AddFile(f, isoPath)
	}

	added := 0
	for _, name := range b.Policy.EssentialFiles {
		p := filepath.Join(source, filepath.FromSlash(name))
		if info, err := os.Stat(p); err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := add("/"+name, p); err != nil {
			b.logger.Warn("failed to add essential file", "file", name, "error", err)
			continue
		}
		b.logger.Debug("added essential file", "file", name)
		added++
	}
	for _, dir := range b.Policy.CriticalDirectories {
		p := filepath.Join(source, dir)
		if info, err := os.Stat(p); err != nil || !info.IsDir() {
			continue
		}
		n := flatten(p, "/"+dir, b.Policy.MaxFlatNameLength, add)
		b.logger.Debug("added critical directory", "dir", dir, "files", n)
		added += n
	}
	if added == 0 {
		return errors.New("no essential files found")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", output, err)
	}
	if err := w.WriteTo(f, d.VolumeIdentifier); err != nil {
		f.Close()
		return fmt.Errorf("failed to write rescue image: %w", err)
	}
	b.logger.Info("rescue image written", "files", added)
	return f.Close()
}
