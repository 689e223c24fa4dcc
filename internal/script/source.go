// Package script builds modules from Lua files.
//
// A script returns one definition table whose kind field selects the module
// kind. Every Resolve compiles the file again, so reloading a module observes
// edits made since it was loaded. A module runs on a small pool of sandboxed
// states built from that compilation, and each state evaluates the script on
// its own: top-level variables are per state, not shared across calls.
//
//	return {
//	  kind = "command",
//	  id = "ping",
//	  cooldown = 1000,
//	  exec = function(interaction) return "pong" end,
//	}
package script

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"ex-kairo/internal/registry"
	"ex-kairo/pkg/kairo"
)

// Definition kinds accepted in the kind field.
const (
	KindCommand     = "command"
	KindInhibitor   = "inhibitor"
	KindButton      = "button"
	KindSelect      = "select"
	KindModal       = "modal"
	KindContextMenu = "context"
	KindListener    = "listener"
)

// Extension is the file extension of script modules.
const Extension = ".lua"

// Source resolves script files into modules.
type Source struct {
	logger  *slog.Logger
	maxIdle int
}

// Option mutates Source construction.
type Option func(*Source)

// WithLogger configures the logger behind kairo.log.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxIdleStates bounds the idle Lua states each module keeps between calls.
func WithMaxIdleStates(limit int) Option {
	return func(s *Source) {
		if limit > 0 {
			s.maxIdle = limit
		}
	}
}

// NewSource creates a script source.
func NewSource(options ...Option) *Source {
	source := &Source{logger: slog.Default(), maxIdle: defaultMaxIdle}
	for _, option := range options {
		option(source)
	}

	return source
}

// Resolve runs the script at path and builds the module it defines.
func (s *Source) Resolve(ctx context.Context, path string) (kairo.Module, error) {
	proto, err := compile(path)
	if err != nil {
		return nil, err
	}

	states := newPool(proto, path, s.logger, s.maxIdle)
	first, err := states.get(ctx)
	if err != nil {
		return nil, err
	}

	module, err := build(states, first.definition)
	if err != nil {
		first.close()
		return nil, fmt.Errorf("build %s: %w", path, err)
	}
	states.put(first)

	return module, nil
}

func build(states *pool, definition *lua.LTable) (kairo.Module, error) {
	id := fieldString(definition, "id")
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(states.path), filepath.Ext(states.path))
	}
	identity := base{
		id:       id,
		category: fieldString(definition, "category"),
		states:   states,
	}

	if _, err := fieldFunc(definition, fieldExec, true); err != nil {
		return nil, err
	}

	kind := fieldString(definition, "kind")
	switch kind {
	case KindCommand:
		return buildCommand(identity, definition)
	case KindInhibitor:
		return buildInhibitor(identity, definition)
	case KindButton, KindSelect, KindModal:
		return buildComponent(identity, definition, kairo.InteractionKind(kind))
	case KindContextMenu:
		name := fieldString(definition, "name")
		if name == "" {
			name = id
		}
		return &contextMenu{base: identity, name: name}, nil
	case KindListener:
		return buildListener(identity, definition)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", kairo.ErrInvalidModuleKind, kind)
	}
}

func buildCommand(identity base, definition *lua.LTable) (kairo.Module, error) {
	cmd := &command{base: identity}
	cmd.spec = kairo.CommandSpec{
		Name:        fieldString(definition, "name"),
		Description: fieldString(definition, "description"),
		Channel:     kairo.ChannelRestriction(fieldString(definition, "channel")),
		OwnerOnly:   lua.LVAsBool(definition.RawGetString("owner_only")),
	}
	if cmd.spec.Name == "" {
		cmd.spec.Name = identity.id
	}

	if millis, ok := fieldNumber(definition, "cooldown"); ok {
		cmd.spec.Cooldown = kairo.Duration(time.Duration(millis) * time.Millisecond)
	}
	if ratelimit, ok := fieldNumber(definition, "ratelimit"); ok {
		cmd.spec.Ratelimit = int(ratelimit)
	}

	var err error
	if cmd.before, err = fieldFunc(definition, fieldBefore, false); err != nil {
		return nil, err
	}
	if cmd.autocomplete, err = fieldFunc(definition, fieldAutocomplete, false); err != nil {
		return nil, err
	}

	switch lock := definition.RawGetString(fieldLock).(type) {
	case *lua.LNilType:
	case lua.LString:
		cmd.spec.Lock = kairo.LockScope(lock)
	case *lua.LFunction:
		cmd.lock = true
	default:
		return nil, fmt.Errorf("%w: lock is %s, want string or function", kairo.ErrInvalidModule, lock.Type())
	}

	if cmd.spec.ClientPermissions, cmd.clientPerms, err = permissionField(definition, fieldClientPerms); err != nil {
		return nil, err
	}
	if cmd.spec.UserPermissions, cmd.userPerms, err = permissionField(definition, fieldUserPerms); err != nil {
		return nil, err
	}
	if cmd.spec.IgnoreCooldown, err = ignoreField(&cmd.base, definition, "ignore_cooldown"); err != nil {
		return nil, err
	}
	if cmd.spec.IgnorePermissions, err = ignoreField(&cmd.base, definition, "ignore_permissions"); err != nil {
		return nil, err
	}

	return cmd.module(), nil
}

func buildInhibitor(identity base, definition *lua.LTable) (kairo.Module, error) {
	spec := kairo.InhibitorSpec{
		Phase:  kairo.InhibitorPhase(fieldString(definition, "type")),
		Reason: fieldString(definition, "reason"),
	}
	if spec.Phase == "" {
		spec.Phase = kairo.InhibitorPost
	}
	if priority, ok := fieldNumber(definition, "priority"); ok {
		spec.Priority = kairo.Priority(int(priority))
	}

	return &inhibitor{base: identity, spec: spec}, nil
}

func buildComponent(identity base, definition *lua.LTable, kind kairo.InteractionKind) (kairo.Module, error) {
	customID := fieldString(definition, "custom_id")
	if customID == "" {
		customID = identity.id
	}
	args, err := toStrings(definition.RawGetString("args"))
	if err != nil {
		return nil, fmt.Errorf("%w: args: %v", kairo.ErrInvalidModule, err)
	}

	return &component{base: identity, kind: kind, customID: customID, args: args}, nil
}

func buildListener(identity base, definition *lua.LTable) (kairo.Module, error) {
	names, err := toStrings(definition.RawGetString("events"))
	if err != nil {
		return nil, fmt.Errorf("%w: events: %v", kairo.ErrInvalidModule, err)
	}
	events := make([]kairo.LifecycleKind, 0, len(names))
	for _, name := range names {
		events = append(events, kairo.LifecycleKind(name))
	}

	return &listener{base: identity, events: events}, nil
}

func fieldString(table *lua.LTable, key string) string {
	if value, ok := table.RawGetString(key).(lua.LString); ok {
		return strings.TrimSpace(string(value))
	}

	return ""
}

func fieldNumber(table *lua.LTable, key string) (float64, bool) {
	value, ok := table.RawGetString(key).(lua.LNumber)

	return float64(value), ok
}

// fieldFunc reports whether key holds a function.
func fieldFunc(table *lua.LTable, key string, required bool) (bool, error) {
	switch value := table.RawGetString(key).(type) {
	case *lua.LFunction:
		return true, nil
	case *lua.LNilType:
		if required {
			return false, fmt.Errorf("%w: missing %s function", kairo.ErrInvalidModule, key)
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s is %s, want function", kairo.ErrInvalidModule, key, value.Type())
	}
}

// permissionField reads a static list or reports a supplier function.
func permissionField(table *lua.LTable, key string) (kairo.Permissions, bool, error) {
	value := table.RawGetString(key)
	if _, ok := value.(*lua.LFunction); ok {
		return nil, true, nil
	}
	items, err := toStrings(value)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", kairo.ErrInvalidModule, key, err)
	}

	return kairo.Permissions(items), false, nil
}

// ignoreField reads an id, a list of ids, or a predicate function.
func ignoreField(owner *base, table *lua.LTable, key string) (*kairo.IgnorePolicy, error) {
	value := table.RawGetString(key)
	if value == lua.LNil {
		return nil, nil
	}
	if _, ok := value.(*lua.LFunction); ok {
		return kairo.IgnoreFunc(owner.predicate(key)), nil
	}
	ids, err := toStrings(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", kairo.ErrInvalidModule, key, err)
	}

	return kairo.IgnoreIDs(ids...), nil
}

var _ registry.Resolver = (*Source)(nil)
