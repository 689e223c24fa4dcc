package script

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	commandhandler "ex-kairo/internal/command"
	"ex-kairo/internal/registry"
	"ex-kairo/pkg/kairo"
)

func writeScript(t *testing.T, dir string, name string, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write script: %v", err)
	}

	return path
}

func testInteraction(name string) *kairo.Interaction {
	return &kairo.Interaction{
		ID:          "i-1",
		Kind:        kairo.InteractionKindCommand,
		CommandName: name,
		User:        kairo.Actor{ID: "u1", Username: "alice"},
		ChannelID:   "c1",
		GuildID:     "g1",
		CreatedAt:   time.Unix(1_700_000_000, 0),
		Options:     map[string]string{"text": "hi"},
	}
}

func resolve(t *testing.T, source *Source, path string) kairo.Module {
	t.Helper()

	module, err := source.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve(%s) error = %v", filepath.Base(path), err)
	}
	t.Cleanup(func() {
		if releaser, ok := module.(kairo.Releaser); ok {
			_ = releaser.Release()
		}
	})

	return module
}

func TestResolveCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeScript(t, dir, "echo.lua", `
return {
  kind = "command",
  category = "fun",
  name = "Echo",
  description = "repeat text",
  cooldown = 1500,
  ratelimit = 2,
  channel = "guild",
  lock = "user",
  user_permissions = { "SEND" },
  ignore_cooldown = { "owner-1", "owner-2" },
  exec = function(interaction)
    return { text = interaction.options.text, user = interaction.user.username, guild = interaction.in_guild }
  end,
}
`)

	module := resolve(t, NewSource(), path)
	cmd, ok := module.(kairo.Command)
	if !ok {
		t.Fatalf("module type = %T, want kairo.Command", module)
	}
	if cmd.ID() != "echo" || cmd.Category() != "fun" {
		t.Fatalf("identity = %s/%s, want echo/fun", cmd.ID(), cmd.Category())
	}

	spec := cmd.Spec()
	if spec.Name != "Echo" || spec.Description != "repeat text" {
		t.Fatalf("spec name = %q description = %q", spec.Name, spec.Description)
	}
	if spec.Cooldown == nil || *spec.Cooldown != 1500*time.Millisecond || spec.Ratelimit != 2 {
		t.Fatalf("cooldown = %v ratelimit = %d, want 1.5s and 2", spec.Cooldown, spec.Ratelimit)
	}
	if spec.Channel != kairo.ChannelGuild || spec.Lock != kairo.LockUser {
		t.Fatalf("channel = %q lock = %q", spec.Channel, spec.Lock)
	}
	if len(spec.UserPermissions) != 1 || spec.UserPermissions[0] != "SEND" {
		t.Fatalf("user permissions = %v, want [SEND]", spec.UserPermissions)
	}
	if _, ok := module.(kairo.UserPermissionSupplier); ok {
		t.Fatal("static permissions must not produce a supplier")
	}
	if len(spec.IgnoreCooldown.IDs) != 2 {
		t.Fatalf("ignore cooldown ids = %v, want 2", spec.IgnoreCooldown.IDs)
	}

	value, err := cmd.Exec(context.Background(), testInteraction("echo"))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	fields, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("value = %#v, want map", value)
	}
	if fields["text"] != "hi" || fields["user"] != "alice" || fields["guild"] != true {
		t.Fatalf("fields = %#v", fields)
	}

	key, err := module.(kairo.LockKeySupplier).LockKey(context.Background(), testInteraction("echo"))
	if err != nil || key != "u1" {
		t.Fatalf("LockKey() = %q, %v, want u1", key, err)
	}
}

func TestResolveCommandFunctions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeScript(t, dir, "guarded.lua", `
local calls = 0
return {
  kind = "command",
  lock = function(interaction) return "channel:" .. interaction.channel_id end,
  client_permissions = function(interaction) return nil end,
  user_permissions = function(interaction)
    if interaction.user.id == "u1" then return { "BAN" } end
    return nil
  end,
  ignore_permissions = function(interaction, command) return command.name == "guarded" and interaction.user.id == "root" end,
  before = function(interaction) calls = calls + 1 end,
  autocomplete = function(interaction) return { interaction.options.text .. "!" } end,
  exec = function() return calls end,
}
`)

	module := resolve(t, NewSource(), path)
	ctx := context.Background()
	interaction := testInteraction("guarded")

	key, err := module.(kairo.LockKeySupplier).LockKey(ctx, interaction)
	if err != nil || key != "channel:c1" {
		t.Fatalf("LockKey() = %q, %v, want channel:c1", key, err)
	}

	client, ok := module.(kairo.ClientPermissionSupplier)
	if !ok {
		t.Fatalf("module type = %T, want client supplier", module)
	}
	if missing, err := client.MissingClientPermissions(ctx, interaction); err != nil || len(missing) != 0 {
		t.Fatalf("MissingClientPermissions() = %v, %v, want none", missing, err)
	}
	missing, err := module.(kairo.UserPermissionSupplier).MissingUserPermissions(ctx, interaction)
	if err != nil || len(missing) != 1 || missing[0] != "BAN" {
		t.Fatalf("MissingUserPermissions() = %v, %v, want [BAN]", missing, err)
	}

	cmd := module.(kairo.Command)
	root := testInteraction("guarded")
	root.User.ID = "root"
	ignored, err := cmd.Spec().IgnorePermissions.Matches(ctx, root, cmd)
	if err != nil || !ignored {
		t.Fatalf("IgnorePermissions.Matches(root) = %v, %v, want true", ignored, err)
	}

	if err := module.(kairo.BeforeHook).Before(ctx, interaction); err != nil {
		t.Fatalf("Before() error = %v", err)
	}
	value, err := cmd.Exec(ctx, interaction)
	if err != nil || value != int64(1) {
		t.Fatalf("Exec() = %#v, %v, want 1", value, err)
	}

	suggestions, err := module.(kairo.Autocompleter).Autocomplete(ctx, interaction)
	if err != nil {
		t.Fatalf("Autocomplete() error = %v", err)
	}
	if list, ok := suggestions.([]any); !ok || len(list) != 1 || list[0] != "hi!" {
		t.Fatalf("suggestions = %#v, want [hi!]", suggestions)
	}
}

func TestResolveOtherKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, module kairo.Module)
	}{
		{
			name: "inhibitor",
			body: `return { kind = "inhibitor", type = "pre", priority = 2, reason = "blacklist",
  exec = function(interaction, command) return command == nil and interaction.user.id == "u1" end }`,
			check: func(t *testing.T, module kairo.Module) {
				inhibitor := module.(kairo.Inhibitor)
				spec := inhibitor.InhibitorSpec()
				if spec.Phase != kairo.InhibitorPre || spec.Priority == nil || *spec.Priority != 2 || spec.Reason != "blacklist" {
					t.Fatalf("spec = %+v", spec)
				}
				blocked, err := inhibitor.Inhibit(context.Background(), testInteraction("x"), nil)
				if err != nil || !blocked {
					t.Fatalf("Inhibit() = %v, %v, want true", blocked, err)
				}
			},
		},
		{
			name: "select",
			body: `return { kind = "select", custom_id = "color", args = { "slot" },
  exec = function(interaction, args) if args.slot ~= "3" then error("bad slot") end end }`,
			check: func(t *testing.T, module kairo.Module) {
				component := module.(kairo.Component)
				if component.CustomID() != "color" || module.(kairo.KindBound).InteractionKind() != kairo.InteractionKindSelect {
					t.Fatalf("component = %s/%s", component.CustomID(), module.(kairo.KindBound).InteractionKind())
				}
				if err := component.Exec(context.Background(), testInteraction(""), map[string]string{"slot": "3"}); err != nil {
					t.Fatalf("Exec(slot 3) error = %v", err)
				}
				err := component.Exec(context.Background(), testInteraction(""), map[string]string{"slot": "1"})
				if err == nil || !strings.Contains(err.Error(), "bad slot") {
					t.Fatalf("Exec(slot 1) error = %v, want bad slot", err)
				}
			},
		},
		{
			name: "context menu",
			body: `return { kind = "context", name = "Report", exec = function(interaction) end }`,
			check: func(t *testing.T, module kairo.Module) {
				if module.(kairo.ContextMenu).Name() != "Report" {
					t.Fatalf("name = %s, want Report", module.(kairo.ContextMenu).Name())
				}
			},
		},
		{
			name: "listener",
			body: `return { kind = "listener", events = { "command.blocked", "error" },
  exec = function(event) if event.reason ~= "owner" then error("unexpected " .. event.reason) end end }`,
			check: func(t *testing.T, module kairo.Module) {
				listener := module.(kairo.Listener)
				if len(listener.Events()) != 2 || listener.Events()[1] != kairo.LifecycleError {
					t.Fatalf("events = %v", listener.Events())
				}
				err := listener.Handle(context.Background(), &kairo.LifecycleEvent{
					Kind:    kairo.LifecycleCommandBlocked,
					Handler: "commands",
					Reason:  "owner",
					Module:  &kairo.ModuleInfo{ID: "ping"},
				})
				if err != nil {
					t.Fatalf("Handle() error = %v", err)
				}
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := writeScript(t, t.TempDir(), "module.lua", testCase.body)
			testCase.check(t, resolve(t, NewSource(), path))
		})
	}
}

func TestResolveRejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "unknown kind", body: `return { kind = "widget", exec = function() end }`, wantErr: kairo.ErrInvalidModuleKind},
		{name: "missing exec", body: `return { kind = "command" }`, wantErr: kairo.ErrInvalidModule},
		{name: "bad lock", body: `return { kind = "command", lock = 5, exec = function() end }`, wantErr: kairo.ErrInvalidModule},
		{name: "not a table", body: `return 42`},
		{name: "syntax error", body: `return {`},
		{name: "runtime error", body: `error("broken")`},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := writeScript(t, t.TempDir(), "bad.lua", testCase.body)
			_, err := NewSource().Resolve(context.Background(), path)
			if err == nil {
				t.Fatal("Resolve() error = nil, want error")
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				t.Fatalf("Resolve() error = %v, want %v", err, testCase.wantErr)
			}
		})
	}
}

func TestSandboxHidesHostAccess(t *testing.T) {
	t.Parallel()

	path := writeScript(t, t.TempDir(), "sandbox.lua", `
return {
  kind = "command",
  exec = function()
    return { io = io == nil, os = os == nil, debug = debug == nil, dofile = dofile == nil,
             load = load == nil, require = require == nil, string = string ~= nil }
  end,
}
`)
	module := resolve(t, NewSource(), path)
	value, err := module.(kairo.Command).Exec(context.Background(), testInteraction("sandbox"))
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	for name, hidden := range value.(map[string]any) {
		if hidden != true {
			t.Fatalf("sandbox check %s = %v, want true", name, hidden)
		}
	}
}

func TestHostLog(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	path := writeScript(t, t.TempDir(), "logger.lua", `
kairo.log("warn", "loading")
return { kind = "command", exec = function() kairo.log("info", "ran") end }
`)

	module := resolve(t, NewSource(WithLogger(logger)), path)
	if _, err := module.(kairo.Command).Exec(context.Background(), testInteraction("logger")); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}

	output := buffer.String()
	if !strings.Contains(output, "level=WARN msg=loading") || !strings.Contains(output, "msg=ran") {
		t.Fatalf("log output = %q", output)
	}
}

func TestReleasedModuleKeepsServingHolders(t *testing.T) {
	t.Parallel()

	path := writeScript(t, t.TempDir(), "ping.lua", `return { kind = "command", exec = function() return "pong" end }`)
	module, err := NewSource().Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	states := module.(*command).states
	if got := states.idleCount(); got != 1 {
		t.Fatalf("idle states after resolve = %d, want 1", got)
	}

	if err := module.(kairo.Releaser).Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if got := states.idleCount(); got != 0 {
		t.Fatalf("idle states after release = %d, want 0", got)
	}

	value, err := module.(kairo.Command).Exec(context.Background(), testInteraction("ping"))
	if err != nil || value != "pong" {
		t.Fatalf("Exec() after release = %v, %v, want pong", value, err)
	}
	if got := states.idleCount(); got != 0 {
		t.Fatalf("idle states after released call = %d, want 0", got)
	}
}

// gateHandler holds kairo.log("enter <user>") calls until release is closed.
type gateHandler struct {
	entered chan string
	release chan struct{}
}

func (h *gateHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *gateHandler) Handle(_ context.Context, record slog.Record) error {
	if user, ok := strings.CutPrefix(record.Message, "enter "); ok {
		h.entered <- user
		<-h.release
	}

	return nil
}

func (h *gateHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *gateHandler) WithGroup(string) slog.Handler      { return h }

func TestModuleServesConcurrentCallers(t *testing.T) {
	t.Parallel()

	const callers = 3
	gate := &gateHandler{entered: make(chan string, callers), release: make(chan struct{})}
	path := writeScript(t, t.TempDir(), "who.lua", `return { kind = "command",
  exec = function(interaction) kairo.log("info", "enter " .. interaction.user.id) return interaction.user.id end }`)
	module := resolve(t, NewSource(WithLogger(slog.New(gate)), WithMaxIdleStates(1)), path)
	cmd := module.(kairo.Command)

	type outcome struct {
		user  string
		value any
		err   error
	}
	results := make(chan outcome, callers)
	users := []string{"a", "b", "c"}
	for _, user := range users {
		go func() {
			interaction := testInteraction("who")
			interaction.User.ID = user
			value, err := cmd.Exec(context.Background(), interaction)
			results <- outcome{user: user, value: value, err: err}
		}()
	}

	for range users {
		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("callers did not enter exec concurrently")
		}
	}
	close(gate.release)

	for range users {
		result := <-results
		if result.err != nil || result.value != result.user {
			t.Fatalf("Exec(%s) = %v, %v", result.user, result.value, result.err)
		}
	}
	if got := module.(*command).states.idleCount(); got != 1 {
		t.Fatalf("idle states = %d, want 1", got)
	}
}

func TestReloadPicksUpEdits(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "commands/greet.lua", `return { kind = "command", exec = function() return "hello" end }`)

	handler := commandhandler.New(commandhandler.WithRegistryOptions(
		registry.WithResolver(NewSource()),
		registry.WithAutomateCategories(true),
	))
	t.Cleanup(handler.Close)

	ctx := context.Background()
	if err := handler.LoadAll(ctx, dir, nil); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	first, ok := handler.Find("greet")
	if !ok {
		t.Fatal("greet not loaded")
	}
	if first.Category() != "" {
		t.Fatalf("declared category = %q, want empty", first.Category())
	}
	if info, _ := handler.Info("greet"); info.Category != "commands" {
		t.Fatalf("category = %q, want commands", info.Category)
	}

	result, err := handler.Handle(ctx, testInteraction("greet"))
	if err != nil || result.Value != "hello" {
		t.Fatalf("Handle() = %+v, %v, want hello", result, err)
	}

	writeScript(t, dir, "commands/greet.lua", `return { kind = "command", exec = function() return "bonjour" end }`)
	if _, err := handler.Reload(ctx, "greet"); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	result, err = handler.Handle(ctx, testInteraction("greet"))
	if err != nil || result.Value != "bonjour" {
		t.Fatalf("Handle() after reload = %+v, %v, want bonjour", result, err)
	}
	value, err := first.Exec(ctx, testInteraction("greet"))
	if err != nil || value != "hello" {
		t.Fatalf("old instance Exec() = %v, %v, want hello", value, err)
	}
}
