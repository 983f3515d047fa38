// Package indexer keeps the store in sync with the project filesystem:
// file discovery, chunking, graph extraction, and staleness-driven
// reindexing.
package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Walker traverses the project tree respecting include/exclude patterns.
type Walker struct {
	includes []string
	excludes []string
}

// NewWalker creates a file walker. If no includes are specified it defaults
// to the documentation and code types the chunker understands.
func NewWalker(includes, excludes []string) *Walker {
	if len(includes) == 0 {
		includes = []string{
			"**/*.md",
			"**/*.mdx",
			"**/*.txt",
			"**/*.py",
			"**/*.js",
			"**/*.jsx",
			"**/*.ts",
			"**/*.tsx",
		}
	}

	defaultExcludes := []string{
		"**/.git/**",
		"**/.smart-context/**",
		"**/__pycache__/**",
		"**/node_modules/**",
		"**/venv/**",
		"**/.venv/**",
		"**/dist/**",
		"**/build/**",
		"**/.idea/**",
		"**/.vscode/**",
		"**/*.min.js",
		"**/*.bundle.js",
	}
	excludes = append(defaultExcludes, excludes...)

	return &Walker{
		includes: includes,
		excludes: excludes,
	}
}

// Walk traverses the tree rooted at root, calling fn with the
// forward-slash project-relative path of each matching file.
func (w *Walker) Walk(root string, fn func(relPath string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && w.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.Matches(rel) {
			return nil
		}
		return fn(rel)
	})
}

// Matches reports whether a project-relative path should be indexed.
func (w *Walker) Matches(relPath string) bool {
	if w.excluded(relPath) {
		return false
	}
	for _, pat := range w.includes {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
	}
	return false
}

func (w *Walker) excluded(relPath string) bool {
	for _, pat := range w.excludes {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
		// Directory patterns like "**/.git/**" should also exclude the
		// directory itself when probed with a trailing slash.
		if strings.HasSuffix(relPath, "/") {
			if ok, _ := doublestar.Match(pat, relPath+"x"); ok {
				return true
			}
		}
	}
	return false
}
