package kairo

import (
	"fmt"
	"slices"
	"time"
)

// LifecycleKind identifies one lifecycle event emitted by handlers.
type LifecycleKind string

const (
	// LifecycleModuleLoaded is emitted after register; IsReload marks hot replacement.
	LifecycleModuleLoaded LifecycleKind = "module.loaded"
	// LifecycleModuleRemoved is emitted after remove.
	LifecycleModuleRemoved LifecycleKind = "module.removed"
	// LifecycleInteractionBlocked is emitted when a pre inhibitor vetoes.
	LifecycleInteractionBlocked LifecycleKind = "interaction.blocked"
	// LifecycleCommandBlocked is emitted when an owner, channel, or post inhibitor gate vetoes.
	LifecycleCommandBlocked LifecycleKind = "command.blocked"
	// LifecycleCommandStarted is emitted right before a command body runs.
	LifecycleCommandStarted LifecycleKind = "command.started"
	// LifecycleCommandFinished is emitted after a command body returns without error.
	LifecycleCommandFinished LifecycleKind = "command.finished"
	// LifecycleCommandLocked is emitted when the execution lock key is already held.
	LifecycleCommandLocked LifecycleKind = "command.locked"
	// LifecycleCooldown is emitted when a user exhausted the command ratelimit.
	LifecycleCooldown LifecycleKind = "command.cooldown"
	// LifecycleMissingPermissions is emitted when a permission gate vetoes.
	LifecycleMissingPermissions LifecycleKind = "command.missing_permissions"
	// LifecycleComponentInvalid is emitted when a component interaction cannot be served.
	LifecycleComponentInvalid LifecycleKind = "component.invalid"
	// LifecycleError is emitted for failures routed through a handler's error exit.
	LifecycleError LifecycleKind = "error"
)

// Built-in block reasons.
const (
	ReasonClient             = "client"
	ReasonBot                = "bot"
	ReasonOwner              = "owner"
	ReasonGuild              = "guild"
	ReasonDM                 = "dm"
	ReasonCooldown           = "cooldown"
	ReasonMissingPermissions = "missing_permissions"
	ReasonLocked             = "locked"
)

// LifecycleEvent is the outward notification handlers publish on the kernel bus.
type LifecycleEvent struct {
	Kind       LifecycleKind
	Handler    string
	OccurredAt time.Time

	// Module is the affected module, if any.
	Module *ModuleInfo
	// Interaction is the interaction being dispatched, if any.
	Interaction *Interaction

	IsReload  bool
	Reason    string
	Remaining time.Duration
	Side      PermissionSide
	Missing   Permissions
	Result    any
	Err       error
}

// Validate checks the fields every subscriber relies on.
func (e *LifecycleEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.Handler == "" {
		return fmt.Errorf("%w: %s missing handler", ErrInvalidEvent, e.Kind)
	}
	if e.Kind == LifecycleError && e.Err == nil {
		return fmt.Errorf("%w: error event without error", ErrInvalidEvent)
	}

	return nil
}

// LifecycleInterest filters lifecycle events for one subscription.
// Empty fields match everything.
type LifecycleInterest struct {
	Kinds    []LifecycleKind
	Handlers []string
}

// Matches reports whether an event of kind from handler passes the filter.
func (i LifecycleInterest) Matches(kind LifecycleKind, handler string) bool {
	if len(i.Kinds) > 0 && !slices.Contains(i.Kinds, kind) {
		return false
	}
	if len(i.Handlers) > 0 && !slices.Contains(i.Handlers, handler) {
		return false
	}

	return true
}
