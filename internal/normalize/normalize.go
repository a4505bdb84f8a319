// Package normalize cleans up extracted song folders.
//
// Archives tend to wrap their content in one or more nested folders
// named after the archive itself. [Flatten] unwraps those so charts sit
// directly in the song folder. [MergeCharts] copies additional chart
// files (difficulty variants distributed separately from the song
// package) into an existing folder without touching anything already
// there.
package normalize

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// chartExtensions are the chart file formats a playable song folder
// contains.
var chartExtensions = map[string]bool{
	".bms":   true,
	".bme":   true,
	".bml":   true,
	".bmson": true,
}

// IsChartFile reports whether name has a chart file extension.
func IsChartFile(name string) bool {
	return chartExtensions[strings.ToLower(filepath.Ext(name))]
}

// ContainsChartFiles reports whether any chart file exists under dir.
func ContainsChartFiles(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsChartFile(d.Name()) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}

// Flatten repeatedly unwraps dir while it contains exactly one entry
// and that entry is a directory, moving the inner content up a level.
func Flatten(dir string) error {
	for {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) != 1 || !entries[0].IsDir() {
			return nil
		}

		// Move the wrapper aside first: one of its children may carry
		// the same name.
		inner := filepath.Join(dir, entries[0].Name())
		staging := filepath.Join(dir, ".flatten-tmp")
		if err := os.Rename(inner, staging); err != nil {
			return err
		}

		children, err := os.ReadDir(staging)
		if err != nil {
			return err
		}
		for _, child := range children {
			src := filepath.Join(staging, child.Name())
			dst := filepath.Join(dir, child.Name())
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
		if err := os.Remove(staging); err != nil {
			return err
		}
	}
}

// MergeCharts copies chart files from srcDir into destDir, preserving
// their relative paths. Files already present in destDir are never
// overwritten, so merging is idempotent and the base package always
// wins. It returns the number of files copied.
func MergeCharts(srcDir, destDir string) (int, error) {
	copied := 0
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsChartFile(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destDir, rel)

		if _, err := os.Stat(dest); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}

		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := copyFile(path, dest); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
