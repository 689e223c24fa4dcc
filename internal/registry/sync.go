package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Action is what Apply did for one changed artifact.
type Action string

const (
	// ActionNone means the path is not a module artifact of this registry.
	ActionNone Action = "none"
	// ActionLoaded means a new artifact was loaded.
	ActionLoaded Action = "loaded"
	// ActionReloaded means the module loaded from the artifact was reloaded.
	ActionReloaded Action = "reloaded"
	// ActionRemoved means the artifact disappeared and its module was removed.
	ActionRemoved Action = "removed"
)

// Owns reports whether path lies under the configured directory.
func (r *Registry[M]) Owns(path string) bool {
	if r.cfg.directory == "" {
		return false
	}
	directory, err := filepath.Abs(r.cfg.directory)
	if err != nil {
		return false
	}
	source, err := normalizeSource(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(directory, source)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Apply reconciles the registry with the current content of path: a module
// loaded from path is reloaded, or removed when path no longer exists, and a
// new eligible artifact under the configured directory is loaded.
func (r *Registry[M]) Apply(ctx context.Context, path string) (Action, error) {
	exists, err := artifactExists(path)
	if err != nil {
		return ActionNone, fmt.Errorf("apply %s in %s: %w", path, r.name, err)
	}

	if module, found := r.FindBySource(path); found {
		if !exists {
			if _, err := r.Remove(ctx, module.ID()); err != nil {
				return ActionNone, fmt.Errorf("apply %s: %w", path, err)
			}
			return ActionRemoved, nil
		}
		if _, err := r.Reload(ctx, module.ID()); err != nil {
			return ActionNone, fmt.Errorf("apply %s: %w", path, err)
		}
		return ActionReloaded, nil
	}

	if !exists || !r.Owns(path) || !r.Eligible(path) {
		return ActionNone, nil
	}
	if _, err := r.Load(ctx, path); err != nil {
		return ActionNone, fmt.Errorf("apply %s: %w", path, err)
	}

	return ActionLoaded, nil
}

func artifactExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return !info.IsDir(), nil
}
