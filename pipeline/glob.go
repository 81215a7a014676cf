package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Resolve expands the input globs against root and loads the matching files.
// Each file is named relative to the static base of the glob that matched it,
// so "assets/{*.html,*.css}" yields "index.html" rather than
// "assets/index.html". A file matched by several globs is loaded once.
func Resolve(root string, patterns []string) (FileSet, error) {
	var (
		out  FileSet
		seen = make(map[string]bool)
	)
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, &IOError{Op: "glob", Path: p, Err: doublestar.ErrBadPattern}
		}
		base, pattern := doublestar.SplitPattern(filepath.ToSlash(p))
		dir := filepath.Join(root, filepath.FromSlash(base))

		if _, err := os.Stat(dir); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &IOError{Op: "stat", Path: dir, Err: err}
		}

		matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, &IOError{Op: "glob", Path: p, Err: err}
		}
		sort.Strings(matches)

		for _, m := range matches {
			src := filepath.Join(dir, filepath.FromSlash(m))
			if seen[src] {
				continue
			}
			seen[src] = true

			data, err := os.ReadFile(src)
			if err != nil {
				return nil, &IOError{Op: "read", Path: src, Err: err}
			}
			out = append(out, File{Name: m, Source: src, Contents: data})
		}
	}
	return out, nil
}

// Match reports whether the slash-separated relative path matches any of the
// patterns.
func Match(patterns []string, rel string) (bool, error) {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		ok, err := doublestar.Match(filepath.ToSlash(p), rel)
		if err != nil {
			return false, fmt.Errorf("match %q: %w", p, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Bases returns the static directory prefix of each pattern, deduplicated.
func Bases(patterns []string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	for _, p := range patterns {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(p))
		if seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	return out
}
