package workspace

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// skipDirs are never searched for documents.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
}

// FindDocuments returns the workspace-relative, slash-separated paths of
// files matching any of patterns. Patterns use '/' as the separator, so
// "*.md" matches only top-level files and "docs/**.md" matches at any depth
// under docs. The data directory and hidden directories are skipped.
func (l Layout) FindDocuments(patterns []string) ([]string, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid spec pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	if len(globs) == 0 {
		return nil, nil
	}

	var found []string
	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != l.Root && (skipDirs[name] || strings.HasPrefix(name, ".") || name == l.dataDir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, g := range globs {
			if g.Match(rel) {
				found = append(found, rel)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}
