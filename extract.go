package iso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
)

// Size of the chunks files are streamed in. The progress callback fires once per chunk.
const chunkSize = 4096

// ExtensionResult counts what one extraction attempt produced.
type ExtensionResult struct {
	Extension   Extension
	Files       int
	Directories int
	Bytes       int64
	Skipped     int
	Failed      int
	Duration    time.Duration
	Err         error
}

// Result is the outcome of ExtractAll. The counts are those of the extension that was kept;
// Attempts lists every extension tried in order.
type Result struct {
	ExtensionResult
	Attempts []ExtensionResult
}

// ExtractAll extracts the image into dest. The hierarchies are tried in the order UDF, Joliet,
// ISO 9660, skipping those the image lacks. The first hierarchy yielding at least one file is
// kept; the output of an attempt that yields none is removed before the next one runs.
//
// An error is returned only when dest cannot be created, or when no hierarchy yielded a file
// and at least one of them failed.
func (img *Image) ExtractAll(dest string) (*Result, error) {
	return img.ExtractAllContext(context.Background(), dest)
}

// ExtractAllContext is ExtractAll stopping between chunks once ctx is done. A cancelled
// extraction does not fall back to the next hierarchy; its partial output is left in place.
func (img *Image) ExtractAllContext(ctx context.Context, dest string) (*Result, error) {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dest, err)
	}

	result := &Result{}
	var lastErr error
	for _, ext := range extractionOrder {
		if !img.Has(ext) {
			continue
		}
		img.logger.Info("extracting image", "path", img.path, "extension", ext, "dest", dest)
		start := time.Now()
		attempt, created := img.extract(ctx, ext, dest)
		attempt.Duration = time.Since(start)
		result.Attempts = append(result.Attempts, attempt)
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("extraction of %s interrupted: %w", img.path, err)
		}

		if attempt.Files > 0 {
			result.ExtensionResult = attempt
			img.logger.Info("extraction complete",
				"extension", ext,
				"files", attempt.Files,
				"directories", attempt.Directories,
				"size", humanize.IBytes(uint64(attempt.Bytes)),
				"skipped", attempt.Skipped,
				"failed", attempt.Failed)
			if img.opts.CrossCheck {
				img.crossCheck(ext, attempt.Files)
			}
			return result, nil
		}

		if attempt.Err != nil {
			lastErr = attempt.Err
		}
		img.logger.Warn("extension yielded no files", "extension", ext, "error", attempt.Err)
		removeCreated(created)
	}

	if lastErr != nil {
		return result, fmt.Errorf("failed to extract any files from %s: %w", img.path, lastErr)
	}
	return result, nil
}

// extract copies one hierarchy into dest and returns the paths it created, parents first.
func (img *Image) extract(ctx context.Context, ext Extension, dest string) (ExtensionResult, []string) {
	res := ExtensionResult{Extension: ext}

	var entries []*Entry
	totalFiles := 0
	skipped, err := img.walk(ext, func(e *Entry) error {
		entries = append(entries, e)
		if !e.IsDir {
			totalFiles++
		}
		return nil
	})
	res.Skipped = skipped
	if err != nil {
		res.Err = err
		return res, nil
	}

	var created []string
	fileNumber := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			res.Err = err
			return res, created
		}
		target := filepath.Join(dest, filepath.FromSlash(e.Path))
		if e.IsDir {
			if _, err := os.Stat(target); err != nil {
				created = append(created, target)
			}
			if err := os.MkdirAll(target, 0o755); err != nil {
				img.logger.Warn("failed to create directory", "path", target, "error", err)
				res.Failed++
				res.Err = err
				continue
			}
			res.Directories++
			continue
		}

		fileNumber++
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			img.logger.Warn("failed to create directory", "path", filepath.Dir(target), "error", err)
			res.Failed++
			res.Err = err
			continue
		}
		created = append(created, target)
		n, err := img.extractFile(ctx, e, target, fileNumber, totalFiles)
		if err != nil {
			img.logger.Warn("failed to extract file", "extension", ext, "path", e.Path, "error", err)
			res.Failed++
			res.Err = err
			continue
		}
		res.Files++
		res.Bytes += n
	}
	return res, created
}

// extractFile streams a file in chunks, reporting progress after each one.
func (img *Image) extractFile(ctx context.Context, e *Entry, target string, fileNumber, totalFiles int) (int64, error) {
	r, err := img.Open(e)
	if err != nil {
		return 0, err
	}
	out, err := os.Create(target)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", target, err)
	}
	defer out.Close()

	buffer := make([]byte, chunkSize)
	var transferred int64
	for {
		if err := ctx.Err(); err != nil {
			return transferred, err
		}
		n, err := r.Read(buffer)
		if n > 0 {
			if _, werr := out.Write(buffer[:n]); werr != nil {
				return transferred, fmt.Errorf("failed to write to file %s: %w", target, werr)
			}
			transferred += int64(n)
			if cb := img.opts.ExtractionProgressCallback; cb != nil {
				cb(e.Path, transferred, e.Size, fileNumber, totalFiles)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transferred, fmt.Errorf("failed to read %s from image: %w", e.Path, err)
		}
	}
	if transferred != e.Size {
		return transferred, fmt.Errorf("short read of %s: got %d of %d bytes", e.Path, transferred, e.Size)
	}
	return transferred, out.Close()
}

// crossCheck counts the files of the other hierarchies and warns when they disagree.
func (img *Image) crossCheck(kept Extension, files int) {
	for _, ext := range extractionOrder {
		if ext == kept || !img.Has(ext) {
			continue
		}
		count := 0
		if err := img.Walk(ext, func(e *Entry) error {
			if !e.IsDir {
				count++
			}
			return nil
		}); err != nil {
			img.logger.Debug("cross check walk failed", "extension", ext, "error", err)
			continue
		}
		if count != files {
			img.logger.Warn("file counts differ between extensions",
				kept.String(), files,
				ext.String(), count)
		}
	}
}

func removeCreated(paths []string) {
	for i := len(paths) - 1; i >= 0; i-- {
		os.RemoveAll(paths[i])
	}
}
