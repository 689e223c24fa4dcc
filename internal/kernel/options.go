package kernel

import (
	"context"
	"log/slog"
	"time"

	"ex-kairo/internal/command"
	"ex-kairo/internal/registry"
)

const (
	defaultShutdownTimeout    = 10 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 1
	defaultHandlerTimeout     = 3 * time.Second
)

// config stores resolved kernel runtime settings after option application.
type config struct {
	shutdownTimeout    time.Duration
	subscriptionBuffer int
	subscriptionWorker int
	handlerTimeout     time.Duration
	logger             *slog.Logger
	onAsyncError       func(context.Context, string, error)

	moduleDirectory    string
	extensions         []string
	ignore             []string
	automateCategories bool
	resolver           registry.Resolver
	commandOptions     []command.Option
}

// Option mutates kernel construction configuration.
type Option func(*config)

// defaultConfig returns production-safe defaults for kernel runtime controls.
func defaultConfig() config {
	logger := slog.Default()

	return config{
		shutdownTimeout:    defaultShutdownTimeout,
		subscriptionBuffer: defaultSubscriptionBuffer,
		subscriptionWorker: defaultSubscriptionWorker,
		handlerTimeout:     defaultHandlerTimeout,
		logger:             logger,
		onAsyncError:       asyncErrorLogger(logger),
	}
}

func asyncErrorLogger(logger *slog.Logger) func(context.Context, string, error) {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "kairo async error", "scope", scope, "error", err)
	}
}

// WithShutdownTimeout configures overall kernel shutdown timeout.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithDefaultSubscriptionBuffer configures default subscriber queue depth.
func WithDefaultSubscriptionBuffer(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.subscriptionBuffer = size
		}
	}
}

// WithDefaultSubscriptionWorkers configures default subscriber worker count.
func WithDefaultSubscriptionWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.subscriptionWorker = workers
		}
	}
}

// WithDefaultHandlerTimeout configures default per-event handler timeout.
func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithLogger configures logger used by kernel, handlers, and default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = asyncErrorLogger(logger)
	}
}

// WithAsyncErrorHandler configures asynchronous worker error reporting.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithModuleDirectory configures the modules root. Each handler loads from the
// subdirectory named after it, for example <root>/commands.
func WithModuleDirectory(directory string) Option {
	return func(cfg *config) {
		cfg.moduleDirectory = directory
	}
}

// WithExtensions configures which artifact extensions handlers load.
func WithExtensions(extensions ...string) Option {
	return func(cfg *config) {
		cfg.extensions = append([]string(nil), extensions...)
	}
}

// WithIgnore configures doublestar patterns, relative to each handler directory, that are never loaded.
func WithIgnore(patterns ...string) Option {
	return func(cfg *config) {
		cfg.ignore = append(cfg.ignore, patterns...)
	}
}

// WithAutomateCategories files artifact modules under their parent directory name.
func WithAutomateCategories(enabled bool) Option {
	return func(cfg *config) {
		cfg.automateCategories = enabled
	}
}

// WithResolver replaces the Lua script source used to resolve artifacts.
func WithResolver(resolver registry.Resolver) Option {
	return func(cfg *config) {
		if resolver != nil {
			cfg.resolver = resolver
		}
	}
}

// WithCommandOptions forwards options to the command handler.
func WithCommandOptions(options ...command.Option) Option {
	return func(cfg *config) {
		cfg.commandOptions = append(cfg.commandOptions, options...)
	}
}
