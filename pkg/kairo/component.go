package kairo

import (
	"context"
	"strings"
)

// CustomIDSeparator splits a component custom id into its prefix and arguments.
const CustomIDSeparator = "_"

// Component handles button, select, and modal interactions whose custom id
// starts with CustomID.
type Component interface {
	Module
	// CustomID returns the first custom id segment this component answers to.
	CustomID() string
	// ArgNames names the remaining custom id segments, positionally.
	ArgNames() []string
	// Exec runs the component with named arguments parsed from the custom id.
	Exec(ctx context.Context, interaction *Interaction, args map[string]string) error
}

// KindBound is implemented by components that serve one interaction kind only.
// Handlers for other kinds reject them at registration.
type KindBound interface {
	InteractionKind() InteractionKind
}

// SplitCustomID returns the prefix and the positional arguments of customID.
func SplitCustomID(customID string) (string, []string) {
	parts := strings.Split(customID, CustomIDSeparator)

	return parts[0], parts[1:]
}

// BindArgs maps positional values onto names. Missing values map to "".
func BindArgs(names []string, values []string) map[string]string {
	args := make(map[string]string, len(names))
	for idx, name := range names {
		if idx < len(values) {
			args[name] = values[idx]
			continue
		}
		args[name] = ""
	}

	return args
}

// ContextMenu handles context-menu interactions by case-insensitive name.
type ContextMenu interface {
	Module
	// Name returns the context-menu entry name.
	Name() string
	// Exec runs the action.
	Exec(ctx context.Context, interaction *Interaction) error
}

// Listener is a module attached to lifecycle events on the kernel bus.
type Listener interface {
	Module
	// Events lists the lifecycle kinds the listener receives.
	Events() []LifecycleKind
	// Handle processes one lifecycle event.
	Handle(ctx context.Context, event *LifecycleEvent) error
}
