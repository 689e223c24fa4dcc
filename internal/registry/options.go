package registry

import (
	"context"
	"log/slog"
	"strings"

	"ex-kairo/pkg/kairo"
)

// Resolver turns a source artifact into a fresh module definition.
//
// Every call must re-read the artifact so that reload observes edits.
type Resolver interface {
	Resolve(ctx context.Context, path string) (kairo.Module, error)
}

// ResolverFunc adapts a function into a Resolver.
type ResolverFunc func(ctx context.Context, path string) (kairo.Module, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, path string) (kairo.Module, error) {
	return f(ctx, path)
}

// AliasFunc extracts the secondary dispatch key of a module, or "" when it has none.
type AliasFunc func(module kairo.Module) (string, error)

// Hook observes registration changes. Register hooks may fail and abort the
// registration; deregister hooks are best-effort.
type Hook func(ctx context.Context, module kairo.Module) error

type config struct {
	directory          string
	extensions         []string
	ignore             []string
	loadFilter         func(path string) bool
	automateCategories bool
	resolver           Resolver
	alias              AliasFunc
	validate           func(module kairo.Module) error
	onRegister         Hook
	onDeregister       Hook
	events             kairo.EventSink
	services           kairo.ServiceRegistry
	logger             *slog.Logger
}

// Option mutates registry construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		extensions: []string{".lua"},
		logger:     slog.Default(),
	}
}

// WithDirectory configures the default LoadAll source directory.
func WithDirectory(directory string) Option {
	return func(cfg *config) {
		cfg.directory = directory
	}
}

// WithExtensions configures which file extensions LoadAll considers.
func WithExtensions(extensions ...string) Option {
	return func(cfg *config) {
		if len(extensions) == 0 {
			return
		}
		cfg.extensions = make([]string, 0, len(extensions))
		for _, extension := range extensions {
			extension = strings.ToLower(strings.TrimSpace(extension))
			if extension == "" {
				continue
			}
			if !strings.HasPrefix(extension, ".") {
				extension = "." + extension
			}
			cfg.extensions = append(cfg.extensions, extension)
		}
	}
}

// WithIgnore configures doublestar patterns, relative to the load directory, that LoadAll skips.
func WithIgnore(patterns ...string) Option {
	return func(cfg *config) {
		cfg.ignore = append(cfg.ignore, patterns...)
	}
}

// WithLoadFilter configures the default LoadAll predicate; true means load.
func WithLoadFilter(filter func(path string) bool) Option {
	return func(cfg *config) {
		cfg.loadFilter = filter
	}
}

// WithAutomateCategories files artifact-loaded modules under their parent directory name.
func WithAutomateCategories(enabled bool) Option {
	return func(cfg *config) {
		cfg.automateCategories = enabled
	}
}

// WithResolver configures how source artifacts become modules.
func WithResolver(resolver Resolver) Option {
	return func(cfg *config) {
		cfg.resolver = resolver
	}
}

// WithAlias configures a secondary, case-insensitive unique key such as a command name.
func WithAlias(alias AliasFunc) Option {
	return func(cfg *config) {
		cfg.alias = alias
	}
}

// WithValidator configures kind-specific checks run before a module is registered.
func WithValidator(validate func(module kairo.Module) error) Option {
	return func(cfg *config) {
		cfg.validate = validate
	}
}

// WithHooks configures callbacks run when modules enter and leave the registry.
func WithHooks(onRegister Hook, onDeregister Hook) Option {
	return func(cfg *config) {
		cfg.onRegister = onRegister
		cfg.onDeregister = onDeregister
	}
}

// WithEvents configures where module.loaded and module.removed are published.
func WithEvents(events kairo.EventSink) Option {
	return func(cfg *config) {
		cfg.events = events
	}
}

// WithServices configures the registry handed to kairo.Initializer modules.
func WithServices(services kairo.ServiceRegistry) Option {
	return func(cfg *config) {
		cfg.services = services
	}
}

// WithLogger configures registry logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}
