package kernel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"ex-kairo/internal/registry"
	"ex-kairo/pkg/kairo"
)

// Loader is the kind-agnostic view of one handler's module registry.
type Loader interface {
	Name() string
	Directory() string
	LoadAll(ctx context.Context, directory string, filter func(path string) bool) error
	ReloadAll(ctx context.Context) error
	RemoveAll(ctx context.Context) error
	Apply(ctx context.Context, path string) (registry.Action, error)
	Infos() []kairo.ModuleInfo
	Len() int
}

// Change reports what a handler did for one changed artifact.
type Change struct {
	Handler string
	Path    string
	Action  registry.Action
}

// registryOptions are the options every handler registry shares. The
// directory of each handler is <module root>/<handler name>.
func (k *Kernel) registryOptions(handlerName string) []registry.Option {
	options := []registry.Option{
		registry.WithResolver(k.cfg.resolver),
		registry.WithServices(k.services),
		registry.WithAutomateCategories(k.cfg.automateCategories),
	}
	if k.cfg.moduleDirectory != "" {
		options = append(options, registry.WithDirectory(filepath.Join(k.cfg.moduleDirectory, handlerName)))
	}
	if len(k.cfg.extensions) > 0 {
		options = append(options, registry.WithExtensions(k.cfg.extensions...))
	}
	if len(k.cfg.ignore) > 0 {
		options = append(options, registry.WithIgnore(k.cfg.ignore...))
	}

	return options
}

// registryEvents attaches lifecycle publishing for handlers that take raw registry options.
func registryEvents(events kairo.EventSink, logger *slog.Logger) []registry.Option {
	return []registry.Option{
		registry.WithEvents(events),
		registry.WithLogger(logger),
	}
}

// Loaders returns every handler registry in load order.
func (k *Kernel) Loaders() []Loader {
	return append([]Loader(nil), k.loaders...)
}

// Modules returns a snapshot of every loaded module across handlers.
func (k *Kernel) Modules() []kairo.ModuleInfo {
	infos := make([]kairo.ModuleInfo, 0)
	for _, loader := range k.loaders {
		infos = append(infos, loader.Infos()...)
	}

	return infos
}

// LoadAll loads every handler directory that exists under the module root.
// Loading continues past failures; all failures are returned joined.
func (k *Kernel) LoadAll(ctx context.Context) error {
	var loadErrs []error
	for _, loader := range k.loaders {
		directory := loader.Directory()
		if directory == "" {
			continue
		}
		info, err := os.Stat(directory)
		if errors.Is(err, fs.ErrNotExist) {
			k.cfg.logger.DebugContext(ctx, "module directory absent", "handler", loader.Name(), "directory", directory)
			continue
		}
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("load %s: %w", loader.Name(), err))
			continue
		}
		if !info.IsDir() {
			loadErrs = append(loadErrs, fmt.Errorf("load %s: %s is not a directory", loader.Name(), directory))
			continue
		}
		if err := loader.LoadAll(ctx, "", nil); err != nil {
			loadErrs = append(loadErrs, err)
		}
	}

	return errors.Join(loadErrs...)
}

// ReloadAll reloads every artifact module across handlers.
func (k *Kernel) ReloadAll(ctx context.Context) error {
	var reloadErrs []error
	for _, loader := range k.loaders {
		if err := loader.ReloadAll(ctx); err != nil {
			reloadErrs = append(reloadErrs, err)
		}
	}

	return errors.Join(reloadErrs...)
}

// RemoveAll removes every module in reverse load order.
func (k *Kernel) RemoveAll(ctx context.Context) error {
	var removeErrs []error
	for idx := len(k.loaders) - 1; idx >= 0; idx-- {
		if err := k.loaders[idx].RemoveAll(ctx); err != nil {
			removeErrs = append(removeErrs, err)
		}
	}

	return errors.Join(removeErrs...)
}

// Apply reconciles every handler with the current content of path.
func (k *Kernel) Apply(ctx context.Context, path string) ([]Change, error) {
	changes := make([]Change, 0, 1)
	var applyErrs []error
	for _, loader := range k.loaders {
		action, err := loader.Apply(ctx, path)
		if err != nil {
			applyErrs = append(applyErrs, err)
			continue
		}
		if action == registry.ActionNone {
			continue
		}
		changes = append(changes, Change{Handler: loader.Name(), Path: path, Action: action})
	}

	return changes, errors.Join(applyErrs...)
}
