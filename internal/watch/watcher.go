// Package watch turns filesystem changes under the module root into debounced
// batches of changed artifact paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// defaultIgnores are editor and VCS paths that never hold module artifacts.
var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.#*",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// BaseDir is the root directory to watch recursively. Empty means the working directory.
	BaseDir string
	// Patterns are doublestar patterns, relative to BaseDir, selecting the
	// files that trigger callbacks. Empty matches every non-ignored file.
	Patterns []string
	// Ignore are doublestar patterns merged with the built-in ignores.
	Ignore []string
	// Debounce is the quiet period after the last event before OnChange fires.
	Debounce time.Duration
	// OnChange receives the sorted, deduplicated absolute paths changed in one window.
	OnChange func(ctx context.Context, changed []string) error
	// Logger receives watcher diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Watcher monitors a directory tree and fires a debounced callback. Run must
// be called exactly once.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	debounce time.Duration
	baseDir  string
	logger   *slog.Logger
	started  atomic.Bool
}

// New validates cfg, creates the fsnotify watcher, and registers every
// non-ignored directory under BaseDir.
func New(cfg Config) (*Watcher, error) {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("watch: determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve base directory: %w", err)
	}

	if err := validatePatterns(cfg.Patterns, "watch"); err != nil {
		return nil, err
	}
	if err := validatePatterns(cfg.Ignore, "ignore"); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		baseDir:  absBase,
		logger:   logger,
	}
	if err := w.addDirectories(); err != nil {
		if closeErr := fsw.Close(); closeErr != nil {
			logger.Warn("watch: close after init failure", "error", closeErr)
		}
		return nil, err
	}

	return w, nil
}

// BaseDir returns the absolute watched root.
func (w *Watcher) BaseDir() string {
	return w.baseDir
}

// Run blocks until ctx is cancelled, coalescing events and invoking OnChange
// from its own goroutine, so callbacks never overlap. It returns nil on
// cancellation and an error when the watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("watch: close fsnotify", "error", err)
		}
	}()

	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Chmod) && !evt.Has(fsnotify.Write) {
				continue
			}
			rel, err := filepath.Rel(w.baseDir, evt.Name)
			if err != nil {
				rel = evt.Name
			}
			if w.isIgnored(rel) {
				continue
			}
			if evt.Has(fsnotify.Create) && w.maybeAddDir(evt.Name, pending) {
				timer.Reset(w.debounce)
				continue
			}
			if !w.matchesPatterns(rel) {
				continue
			}

			pending[filepath.Clean(evt.Name)] = struct{}{}
			timer.Reset(w.debounce)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := slices.Sorted(maps.Keys(pending))
			clear(pending)
			if w.cfg.OnChange == nil {
				continue
			}
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.ErrorContext(ctx, "watch: callback failed", "paths", len(changed), "error", err)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.WarnContext(ctx, "watch: fsnotify error", "error", err)
		}
	}
}

// addDirectories registers every non-ignored directory under baseDir.
func (w *Watcher) addDirectories() error {
	walkErr := filepath.WalkDir(w.baseDir, func(path string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.logger.Warn("watch: skipping inaccessible path", "path", path, "error", walkDirErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.baseDir, path)
		if relErr != nil {
			return nil
		}
		if rel != "." && (w.isIgnored(rel) || w.isIgnored(rel+"/")) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, err)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk directory tree: %w", walkErr)
	}

	return nil
}

// maybeAddDir starts watching a newly created directory and everything below
// it, queues the matching files it already contains, and reports whether path
// was a directory.
func (w *Watcher) maybeAddDir(path string, pending map[string]struct{}) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}

	_ = filepath.WalkDir(path, func(sub string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(w.baseDir, sub)
		if relErr != nil {
			return nil
		}
		if !d.IsDir() {
			if !w.isIgnored(rel) && w.matchesPatterns(rel) {
				pending[filepath.Clean(sub)] = struct{}{}
			}
			return nil
		}
		if w.isIgnored(rel) || w.isIgnored(rel+"/") {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(sub); addErr != nil {
			w.logger.Warn("watch: add new directory", "path", sub, "error", addErr)
		}
		return nil
	})

	return true
}

func (w *Watcher) isIgnored(rel string) bool {
	normalized := filepath.ToSlash(rel)
	for _, pattern := range w.ignores {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}

	return false
}

func (w *Watcher) matchesPatterns(rel string) bool {
	if len(w.cfg.Patterns) == 0 {
		return true
	}
	normalized := filepath.ToSlash(rel)
	for _, pattern := range w.cfg.Patterns {
		if matched, err := doublestar.Match(pattern, normalized); err == nil && matched {
			return true
		}
	}

	return false
}

func validatePatterns(patterns []string, label string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("watch: invalid %s pattern %q", label, pattern)
		}
	}

	return nil
}

// isFatalFsnotifyError reports watch-limit and descriptor exhaustion, after
// which the watcher cannot recover.
func isFatalFsnotifyError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
