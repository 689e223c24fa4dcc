package registry

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Eligible reports whether path would be picked up by LoadAll on the configured directory.
func (r *Registry[M]) Eligible(path string) bool {
	return r.eligible(r.cfg.directory, path, r.cfg.loadFilter)
}

// discover lists eligible artifacts under directory in traversal order.
func (r *Registry[M]) discover(directory string, filter func(path string) bool) ([]string, error) {
	if err := r.validateIgnore(); err != nil {
		return nil, err
	}

	paths := make([]string, 0)
	walkErr := filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != directory && r.ignored(directory, path+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if r.eligible(directory, path, filter) {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk %s: %w", directory, walkErr)
	}

	return paths, nil
}

func (r *Registry[M]) eligible(directory string, path string, filter func(path string) bool) bool {
	if !slices.Contains(r.cfg.extensions, strings.ToLower(filepath.Ext(path))) {
		return false
	}
	if r.ignored(directory, path) {
		return false
	}
	if filter != nil && !filter(path) {
		return false
	}

	return true
}

// ignored matches path, relative to directory, against the configured doublestar patterns.
func (r *Registry[M]) ignored(directory string, path string) bool {
	if len(r.cfg.ignore) == 0 {
		return false
	}

	rel := path
	if directory != "" {
		absDirectory, dirErr := filepath.Abs(directory)
		absPath, pathErr := filepath.Abs(path)
		if dirErr == nil && pathErr == nil {
			if relative, err := filepath.Rel(absDirectory, absPath); err == nil {
				rel = relative
			}
		}
	}
	normalized := filepath.ToSlash(rel)
	if strings.HasSuffix(path, "/") && !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}

	for _, pattern := range r.cfg.ignore {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}

	return false
}

func (r *Registry[M]) validateIgnore() error {
	for _, pattern := range r.cfg.ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}

	return nil
}
