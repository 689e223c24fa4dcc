package kairo

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ChannelRestriction limits where a command may run.
type ChannelRestriction string

const (
	// ChannelAny allows guilds and direct messages.
	ChannelAny ChannelRestriction = ""
	// ChannelGuild allows guild interactions only.
	ChannelGuild ChannelRestriction = "guild"
	// ChannelDM allows direct-message interactions only.
	ChannelDM ChannelRestriction = "dm"
)

// LockScope is a built-in execution lock key derived from the interaction.
type LockScope string

const (
	// LockNone disables the built-in lock.
	LockNone LockScope = ""
	// LockUser serializes invocations per user.
	LockUser LockScope = "user"
	// LockChannel serializes invocations per channel.
	LockChannel LockScope = "channel"
	// LockGuild serializes invocations per guild.
	LockGuild LockScope = "guild"
)

// Key derives the lock key for interaction. An empty key means no lock applies.
func (s LockScope) Key(interaction *Interaction) string {
	if interaction == nil {
		return ""
	}

	switch s {
	case LockUser:
		return interaction.User.ID
	case LockChannel:
		return interaction.ChannelID
	case LockGuild:
		return interaction.GuildID
	default:
		return ""
	}
}

// CommandSpec declares the dispatch policy of one command.
type CommandSpec struct {
	// Name is the case-insensitive dispatch key, unique within a command handler.
	Name string
	// Description is shown by help renderers.
	Description string
	// Channel restricts guild or direct-message usage.
	Channel ChannelRestriction
	// OwnerOnly limits the command to configured owners.
	OwnerOnly bool
	// Cooldown overrides the handler default window when non-nil. Zero disables cooldown.
	Cooldown *time.Duration
	// Ratelimit is the number of uses allowed per window. Values below 1 mean 1.
	Ratelimit int
	// Lock selects a built-in lock key when the command does not implement LockKeySupplier.
	Lock LockScope
	// ClientPermissions are required of the runtime identity in guild channels.
	ClientPermissions Permissions
	// UserPermissions are required of the invoking user in guild channels.
	UserPermissions Permissions
	// IgnoreCooldown overrides the handler cooldown bypass policy when non-nil.
	IgnoreCooldown *IgnorePolicy
	// IgnorePermissions overrides the handler user-permission bypass policy when non-nil.
	IgnorePermissions *IgnorePolicy
}

// Validate checks that the spec can be registered.
func (s CommandSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: empty command name", ErrInvalidModule)
	}
	if strings.ContainsAny(s.Name, " \t\n") {
		return fmt.Errorf("%w: command name %q contains whitespace", ErrInvalidModule, s.Name)
	}
	switch s.Channel {
	case ChannelAny, ChannelGuild, ChannelDM:
	default:
		return fmt.Errorf("%w: command %s unsupported channel %q", ErrInvalidModule, s.Name, s.Channel)
	}
	switch s.Lock {
	case LockNone, LockUser, LockChannel, LockGuild:
	default:
		return fmt.Errorf("%w: command %s unsupported lock %q", ErrInvalidModule, s.Name, s.Lock)
	}
	if s.Cooldown != nil && *s.Cooldown < 0 {
		return fmt.Errorf("%w: command %s negative cooldown", ErrInvalidModule, s.Name)
	}

	return nil
}

// EffectiveRatelimit returns Ratelimit clamped to at least one use per window.
func (s CommandSpec) EffectiveRatelimit() int {
	if s.Ratelimit < 1 {
		return 1
	}

	return s.Ratelimit
}

// Command is a module invoked by name through the dispatch pipeline.
type Command interface {
	Module
	// Spec returns the command's dispatch policy.
	Spec() CommandSpec
	// Exec runs the command body. The returned value is reported in command.finished.
	Exec(ctx context.Context, interaction *Interaction) (any, error)
}

// BeforeHook runs after every post check passes and before the execution lock is taken.
type BeforeHook interface {
	Before(ctx context.Context, interaction *Interaction) error
}

// LockKeySupplier computes a custom execution lock key. An empty key means no lock.
type LockKeySupplier interface {
	LockKey(ctx context.Context, interaction *Interaction) (string, error)
}

// ClientPermissionSupplier computes missing client permissions at dispatch time.
// A non-empty result blocks the command.
type ClientPermissionSupplier interface {
	MissingClientPermissions(ctx context.Context, interaction *Interaction) (Permissions, error)
}

// UserPermissionSupplier computes missing user permissions at dispatch time.
// A non-empty result blocks the command.
type UserPermissionSupplier interface {
	MissingUserPermissions(ctx context.Context, interaction *Interaction) (Permissions, error)
}

// Autocompleter answers autocomplete interactions for a command.
type Autocompleter interface {
	Autocomplete(ctx context.Context, interaction *Interaction) (any, error)
}

// Duration returns a pointer to d, for CommandSpec.Cooldown literals.
func Duration(d time.Duration) *time.Duration {
	return &d
}
