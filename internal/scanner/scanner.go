// Package scanner walks a directory tree for importable statement files.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rumor-ml/commons.systems/finimport/internal/normalize"
)

// Extensions lists the file extensions the scanner picks up.
var Extensions = []string{".csv", ".qif", ".ofx", ".qfx"}

// Scanner walks directory tree and finds statement files
type Scanner struct {
	rootDir string
}

// New creates a new scanner for the given root directory
func New(rootDir string) *Scanner {
	return &Scanner{rootDir: rootDir}
}

// File is a found statement file.
type File struct {
	Path string
	// RelPath is Path relative to the scan root, with forward slashes.
	RelPath string
	// AccountHint is derived from the directory layout; empty for files
	// directly under the root.
	AccountHint string
}

// Content reads the file.
func (f File) Content() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.RelPath, err)
	}
	return data, nil
}

// Scan walks the directory tree and returns statement files sorted by
// relative path, which is the order they are submitted in.
func (s *Scanner) Scan() ([]File, error) {
	rootDir := s.expandHome(s.rootDir)

	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if !info.IsDir() {
		// A single file is its own batch.
		if !IsStatementFile(rootDir) {
			return nil, fmt.Errorf("scan failed: %s is not a statement file", rootDir)
		}
		return []File{{Path: rootDir, RelPath: filepath.Base(rootDir)}}, nil
	}

	var results []File
	err = filepath.WalkDir(rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != rootDir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsStatementFile(path) {
			return nil
		}

		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		results = append(results, File{
			Path:        path,
			RelPath:     rel,
			AccountHint: accountHint(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].RelPath < results[j].RelPath })
	return results, nil
}

// IsStatementFile checks if file has a known statement extension
func IsStatementFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// accountHint picks the account from a path shaped like
// {institution}/{account}/{period?}/file.ext: the deepest directory that is
// not a period, slugified.
// "american_express/gold/2025-10/jan.csv" -> "gold"
// "capital_one/jan.csv" -> "capital-one"
func accountHint(relPath string) string {
	parts := strings.Split(relPath, "/")
	dirs := parts[:len(parts)-1]
	for len(dirs) > 0 && looksLikePeriod(dirs[len(dirs)-1]) {
		dirs = dirs[:len(dirs)-1]
	}
	if len(dirs) == 0 {
		return ""
	}
	slug, err := normalize.Slugify(dirs[len(dirs)-1])
	if err != nil {
		return ""
	}
	return slug
}

// looksLikePeriod checks if string looks like a date period (YYYY or YYYY-MM)
func looksLikePeriod(str string) bool {
	if len(str) != 4 && !(len(str) >= 7 && str[4] == '-') {
		return false
	}
	for _, r := range str[:4] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// expandHome expands ~ to home directory
func (s *Scanner) expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
