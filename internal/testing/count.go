package testing

import (
	"io/fs"
	"path/filepath"
)

// GetFileAndFolderCounts counts the directories and regular files below root, not counting root
// itself.
func GetFileAndFolderCounts(root string) (int, int, error) {
	var folderCount, fileCount int
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if d.IsDir() {
			folderCount++
		} else if d.Type().IsRegular() {
			fileCount++
		}
		return nil
	})
	return folderCount, fileCount, err
}
