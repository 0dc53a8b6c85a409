package bootimage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rstms/iso-remaster/pkg/hive"
	"github.com/rstms/iso-remaster/pkg/isoerr"
	"github.com/rstms/iso-remaster/pkg/logging"
	"github.com/rstms/iso-remaster/pkg/wim"
)

// HIVE_PATH is the location of the SYSTEM hive inside an extracted image.
var HIVE_PATH = []string{"Windows", "System32", "config", "SYSTEM"}

const extractDirName = "boot_wim_extract"

// PatchResult describes a completed patch.
type PatchResult struct {
	Index     string
	HivePath  string
	HiveFound bool
	Applied   bool
}

// Patcher edits the registry inside a sub-image.
type Patcher struct {
	wim    *wim.Tool
	editor *hive.Editor
	logger *logging.Logger
}

// NewPatcher returns a Patcher using the given container tool and hive editor.
func NewPatcher(w *wim.Tool, e *hive.Editor, logger *logging.Logger) *Patcher {
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Patcher{wim: w, editor: e, logger: logger}
}

// Patch extracts the first image of subImage into workDir, applies spec to its SYSTEM hive and
// captures the tree back into subImage. When the image has no hive the error is an
// *isoerr.PatchSkipped and subImage is left untouched.
func (p *Patcher) Patch(ctx context.Context, subImage string, spec hive.PatchSpec, workDir string) (*PatchResult, error) {
	if _, err := os.Stat(subImage); err != nil {
		return nil, &isoerr.ExtractionError{What: subImage, Err: err}
	}

	res := &PatchResult{Index: p.wim.FirstIndex(ctx, subImage)}
	dest := filepath.Join(workDir, extractDirName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return res, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer os.RemoveAll(dest)

	p.logger.Info("extracting sub-image", "path", subImage, "index", res.Index)
	if err := p.wim.Extract(ctx, subImage, res.Index, dest); err != nil {
		return res, &isoerr.ExtractionError{What: subImage, Err: err}
	}

	hivePath, ok := findHive(dest)
	if !ok {
		p.logConfigDir(dest)
		return res, &isoerr.PatchSkipped{Reason: fmt.Sprintf("no %s hive in image %s of %s", strings.Join(HIVE_PATH, "/"), res.Index, subImage)}
	}
	res.HivePath, res.HiveFound = hivePath, true
	p.logger.Debug("found SYSTEM hive", "path", hivePath)

	if err := p.editor.Apply(ctx, hivePath, spec, workDir); err != nil {
		return res, err
	}
	res.Applied = true

	p.logger.Info("recapturing sub-image", "path", subImage)
	if err := p.wim.Capture(ctx, dest, subImage); err != nil {
		return res, err
	}
	return res, nil
}

// findHive resolves HIVE_PATH below root, matching each segment without regard to case when the
// exact path does not exist.
func findHive(root string) (string, bool) {
	exact := filepath.Join(append([]string{root}, HIVE_PATH...)...)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, true
	}
	dir := root
	for i, segment := range HIVE_PATH {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", false
		}
		next := ""
		for _, e := range entries {
			last := i == len(HIVE_PATH)-1
			if strings.EqualFold(e.Name(), segment) && e.IsDir() != last {
				next = filepath.Join(dir, e.Name())
				break
			}
		}
		if next == "" {
			return "", false
		}
		dir = next
	}
	return dir, true
}

// logConfigDir reports how far down HIVE_PATH the extracted image goes.
func (p *Patcher) logConfigDir(root string) {
	dir := root
	for _, segment := range HIVE_PATH[:len(HIVE_PATH)-1] {
		dir = filepath.Join(dir, segment)
		if _, err := os.Stat(dir); err != nil {
			p.logger.Warn("SYSTEM hive not found", "missing", dir)
			return
		}
	}
	entries, _ := os.ReadDir(dir)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	p.logger.Warn("SYSTEM hive not found", "configDir", dir, "files", names)
}
