package command

import (
	"log/slog"
	"slices"
	"time"

	"ex-kairo/internal/cooldown"
	"ex-kairo/internal/inhibitor"
	"ex-kairo/internal/registry"
	"ex-kairo/pkg/kairo"
)

// config stores resolved command handler settings after option application.
type config struct {
	defaultCooldown   time.Duration
	owners            []string
	clientID          string
	ignoreCooldown    *kairo.IgnorePolicy
	ignorePermissions *kairo.IgnorePolicy
	permissions       kairo.PermissionResolver
	inhibitors        *inhibitor.Handler
	events            kairo.EventSink
	clock             cooldown.Clock
	logger            *slog.Logger
	registryOptions   []registry.Option
}

// Option mutates command handler construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		permissions: kairo.StaticPermissions(nil),
		logger:      slog.Default(),
	}
}

// WithDefaultCooldown configures the window used by commands that declare none.
func WithDefaultCooldown(window time.Duration) Option {
	return func(cfg *config) {
		if window >= 0 {
			cfg.defaultCooldown = window
		}
	}
}

// WithOwners configures the subjects allowed to run owner-only commands.
// Owners also bypass cooldowns unless WithIgnoreCooldown says otherwise.
func WithOwners(ids ...string) Option {
	return func(cfg *config) {
		cfg.owners = slices.Clone(ids)
	}
}

// WithClientID configures the runtime's own subject id for client permission checks.
func WithClientID(id string) Option {
	return func(cfg *config) {
		cfg.clientID = id
	}
}

// WithIgnoreCooldown configures the default cooldown bypass policy.
func WithIgnoreCooldown(policy *kairo.IgnorePolicy) Option {
	return func(cfg *config) {
		cfg.ignoreCooldown = policy
	}
}

// WithIgnorePermissions configures the default user permission bypass policy.
func WithIgnorePermissions(policy *kairo.IgnorePolicy) Option {
	return func(cfg *config) {
		cfg.ignorePermissions = policy
	}
}

// WithPermissionResolver configures where static permission requirements are checked.
func WithPermissionResolver(resolver kairo.PermissionResolver) Option {
	return func(cfg *config) {
		if resolver != nil {
			cfg.permissions = resolver
		}
	}
}

// WithInhibitors configures the inhibitor chain consulted in both phases.
func WithInhibitors(inhibitors *inhibitor.Handler) Option {
	return func(cfg *config) {
		cfg.inhibitors = inhibitors
	}
}

// WithEvents configures the lifecycle sink for both dispatch and registry events.
func WithEvents(events kairo.EventSink) Option {
	return func(cfg *config) {
		cfg.events = events
	}
}

// WithClock replaces the clock driving cooldown expiry.
func WithClock(clock cooldown.Clock) Option {
	return func(cfg *config) {
		cfg.clock = clock
	}
}

// WithLogger configures handler logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRegistryOptions forwards options to the underlying module registry.
func WithRegistryOptions(options ...registry.Option) Option {
	return func(cfg *config) {
		cfg.registryOptions = append(cfg.registryOptions, options...)
	}
}
