package script

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"ex-kairo/pkg/kairo"
)

// Definition fields holding functions. Modules refer to functions by field so
// that every pooled state calls its own copy.
const (
	fieldExec         = "exec"
	fieldBefore       = "before"
	fieldLock         = "lock"
	fieldAutocomplete = "autocomplete"
	fieldClientPerms  = "client_permissions"
	fieldUserPerms    = "user_permissions"
)

// base carries the identity and the state pool shared by every script module.
type base struct {
	id       string
	category string
	states   *pool
}

func (b *base) ID() string       { return b.id }
func (b *base) Category() string { return b.category }

// Source returns the script path the module was built from.
func (b *base) Source() string { return b.states.path }

// Release drops the idle Lua states. Callers still holding the module keep
// working on states created for them.
func (b *base) Release() error {
	b.states.release()
	return nil
}

func (b *base) run(ctx context.Context, key string, build func(L *lua.LState) []lua.LValue, decode func(lua.LValue) error) error {
	if err := b.states.call(ctx, key, build, decode); err != nil {
		return fmt.Errorf("script %s: %w", b.id, err)
	}

	return nil
}

type command struct {
	base
	spec         kairo.CommandSpec
	before       bool
	lock         bool
	autocomplete bool
	clientPerms  bool
	userPerms    bool
}

func (c *command) Spec() kairo.CommandSpec { return c.spec }

func (c *command) Exec(ctx context.Context, interaction *kairo.Interaction) (any, error) {
	var value any
	err := c.run(ctx, fieldExec, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, func(ret lua.LValue) error {
		value = toGoValue(ret)
		return nil
	})

	return value, err
}

// Before runs the before function, if the script declares one.
func (c *command) Before(ctx context.Context, interaction *kairo.Interaction) error {
	if !c.before {
		return nil
	}

	return c.run(ctx, fieldBefore, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, nil)
}

// LockKey calls the lock function, or falls back to the declared lock scope.
func (c *command) LockKey(ctx context.Context, interaction *kairo.Interaction) (string, error) {
	if !c.lock {
		return c.spec.Lock.Key(interaction), nil
	}

	var key string
	err := c.run(ctx, fieldLock, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, func(ret lua.LValue) error {
		if ret == lua.LNil {
			return nil
		}
		key = lua.LVAsString(ret)
		return nil
	})

	return key, err
}

// Autocomplete answers with the autocomplete function's result, or no
// suggestions when the script declares none.
func (c *command) Autocomplete(ctx context.Context, interaction *kairo.Interaction) (any, error) {
	if !c.autocomplete {
		return []any{}, nil
	}

	var value any
	err := c.run(ctx, fieldAutocomplete, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, func(ret lua.LValue) error {
		value = toGoValue(ret)
		return nil
	})

	return value, err
}

func (c *command) missing(ctx context.Context, key string, interaction *kairo.Interaction) (kairo.Permissions, error) {
	var missing kairo.Permissions
	err := c.run(ctx, key, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, func(ret lua.LValue) error {
		items, err := toStrings(ret)
		if err != nil {
			return fmt.Errorf("permissions function: %w", err)
		}
		missing = items
		return nil
	})

	return missing, err
}

// Permission functions are exposed through wrapper types so that a command
// implements a supplier interface only when its script declares the function.

type clientSupplied struct{ *command }

func (c clientSupplied) MissingClientPermissions(ctx context.Context, interaction *kairo.Interaction) (kairo.Permissions, error) {
	return c.missing(ctx, fieldClientPerms, interaction)
}

type userSupplied struct{ *command }

func (c userSupplied) MissingUserPermissions(ctx context.Context, interaction *kairo.Interaction) (kairo.Permissions, error) {
	return c.missing(ctx, fieldUserPerms, interaction)
}

type bothSupplied struct{ *command }

func (c bothSupplied) MissingClientPermissions(ctx context.Context, interaction *kairo.Interaction) (kairo.Permissions, error) {
	return c.missing(ctx, fieldClientPerms, interaction)
}

func (c bothSupplied) MissingUserPermissions(ctx context.Context, interaction *kairo.Interaction) (kairo.Permissions, error) {
	return c.missing(ctx, fieldUserPerms, interaction)
}

func (c *command) module() kairo.Command {
	switch {
	case c.clientPerms && c.userPerms:
		return bothSupplied{c}
	case c.clientPerms:
		return clientSupplied{c}
	case c.userPerms:
		return userSupplied{c}
	default:
		return c
	}
}

// predicate adapts the function stored under key into an ignore predicate.
func (b *base) predicate(key string) kairo.IgnorePredicate {
	return func(ctx context.Context, interaction *kairo.Interaction, cmd kairo.Command) (bool, error) {
		var matched bool
		err := b.run(ctx, key, func(L *lua.LState) []lua.LValue {
			return []lua.LValue{interactionTable(L, interaction), commandTable(L, cmd)}
		}, func(ret lua.LValue) error {
			matched = lua.LVAsBool(ret)
			return nil
		})
		return matched, err
	}
}

type inhibitor struct {
	base
	spec kairo.InhibitorSpec
}

func (i *inhibitor) InhibitorSpec() kairo.InhibitorSpec { return i.spec }

func (i *inhibitor) Inhibit(ctx context.Context, interaction *kairo.Interaction, cmd kairo.Command) (bool, error) {
	var blocked bool
	err := i.run(ctx, fieldExec, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction), commandTable(L, cmd)}
	}, func(ret lua.LValue) error {
		blocked = lua.LVAsBool(ret)
		return nil
	})

	return blocked, err
}

type component struct {
	base
	kind     kairo.InteractionKind
	customID string
	args     []string
}

func (c *component) CustomID() string                       { return c.customID }
func (c *component) ArgNames() []string                     { return c.args }
func (c *component) InteractionKind() kairo.InteractionKind { return c.kind }

func (c *component) Exec(ctx context.Context, interaction *kairo.Interaction, args map[string]string) error {
	return c.run(ctx, fieldExec, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction), stringMap(L, args)}
	}, nil)
}

type contextMenu struct {
	base
	name string
}

func (m *contextMenu) Name() string { return m.name }

func (m *contextMenu) Exec(ctx context.Context, interaction *kairo.Interaction) error {
	return m.run(ctx, fieldExec, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{interactionTable(L, interaction)}
	}, nil)
}

type listener struct {
	base
	events []kairo.LifecycleKind
}

func (l *listener) Events() []kairo.LifecycleKind { return l.events }

func (l *listener) Handle(ctx context.Context, event *kairo.LifecycleEvent) error {
	return l.run(ctx, fieldExec, func(L *lua.LState) []lua.LValue {
		return []lua.LValue{eventTable(L, event)}
	}, nil)
}

var (
	_ kairo.Command                  = (*command)(nil)
	_ kairo.BeforeHook               = (*command)(nil)
	_ kairo.LockKeySupplier          = (*command)(nil)
	_ kairo.Autocompleter            = (*command)(nil)
	_ kairo.Releaser                 = (*command)(nil)
	_ kairo.ClientPermissionSupplier = clientSupplied{}
	_ kairo.UserPermissionSupplier   = userSupplied{}
	_ kairo.ClientPermissionSupplier = bothSupplied{}
	_ kairo.UserPermissionSupplier   = bothSupplied{}
	_ kairo.Inhibitor                = (*inhibitor)(nil)
	_ kairo.Component                = (*component)(nil)
	_ kairo.KindBound                = (*component)(nil)
	_ kairo.ContextMenu              = (*contextMenu)(nil)
	_ kairo.Listener                 = (*listener)(nil)
)
