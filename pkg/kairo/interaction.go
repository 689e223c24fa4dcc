package kairo

import (
	"fmt"
	"time"
)

// InteractionKind identifies which dispatcher an interaction is routed to.
type InteractionKind string

const (
	// InteractionKindCommand is a direct command invocation.
	InteractionKindCommand InteractionKind = "command"
	// InteractionKindAutocomplete is a live-suggestion request for a command option.
	InteractionKindAutocomplete InteractionKind = "autocomplete"
	// InteractionKindButton is a button press on a previously rendered component.
	InteractionKindButton InteractionKind = "button"
	// InteractionKindSelect is a select-menu submission.
	InteractionKindSelect InteractionKind = "select"
	// InteractionKindModal is a modal form submission.
	InteractionKindModal InteractionKind = "modal"
	// InteractionKindContextMenu is a context-menu action on a user or message.
	InteractionKindContextMenu InteractionKind = "context_menu"
)

// Actor describes the subject that triggered an interaction.
type Actor struct {
	// ID is the stable subject identifier used by cooldowns, locks, and ignore policies.
	ID string `json:"id"`
	// Username is the display handle, informational only.
	Username string `json:"username,omitempty"`
	// Bot reports whether the subject is an automated account.
	Bot bool `json:"bot,omitempty"`
}

// Interaction is the transport-neutral event the dispatch pipeline consumes.
//
// Payload carries the opaque transport object for module code that needs it;
// the runtime never inspects it.
type Interaction struct {
	ID          string            `json:"id"`
	Kind        InteractionKind   `json:"kind"`
	CommandName string            `json:"command_name,omitempty"`
	CustomID    string            `json:"custom_id,omitempty"`
	User        Actor             `json:"user"`
	ChannelID   string            `json:"channel_id,omitempty"`
	GuildID     string            `json:"guild_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Options     map[string]string `json:"options,omitempty"`
	Values      []string          `json:"values,omitempty"`
	Payload     any               `json:"-"`
}

// InGuild reports whether the interaction happened inside a guild rather than a direct message.
func (i *Interaction) InGuild() bool {
	return i != nil && i.GuildID != ""
}

// Validate checks the fields every dispatcher relies on.
func (i *Interaction) Validate() error {
	if i == nil {
		return fmt.Errorf("%w: nil interaction", ErrInvalidInteraction)
	}
	if i.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidInteraction)
	}
	if i.User.ID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidInteraction)
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing created_at", ErrInvalidInteraction)
	}

	switch i.Kind {
	case InteractionKindCommand, InteractionKindAutocomplete, InteractionKindContextMenu:
		if i.CommandName == "" {
			return fmt.Errorf("%w: %s requires command_name", ErrInvalidInteraction, i.Kind)
		}
	case InteractionKindButton, InteractionKindSelect, InteractionKindModal:
		if i.CustomID == "" {
			return fmt.Errorf("%w: %s requires custom_id", ErrInvalidInteraction, i.Kind)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidInteraction, i.Kind)
	}

	return nil
}
