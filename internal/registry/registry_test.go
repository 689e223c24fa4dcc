package registry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"ex-kairo/pkg/kairo"
)

type versioned interface {
	kairo.Module
	Version() string
}

type stubModule struct {
	id       string
	category string
	name     string
	version  string
	released atomic.Bool
}

func (m *stubModule) ID() string       { return m.id }
func (m *stubModule) Category() string { return m.category }
func (m *stubModule) Version() string  { return m.version }
func (m *stubModule) Release() error {
	m.released.Store(true)
	return nil
}

type otherModule struct{ id string }

func (m *otherModule) ID() string       { return m.id }
func (m *otherModule) Category() string { return "" }

// fileResolver parses key=value artifacts so tests can edit modules on disk.
type fileResolver struct {
	calls atomic.Int32
}

func (r *fileResolver) Resolve(_ context.Context, path string) (kairo.Module, error) {
	r.calls.Add(1)

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if found {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if fields["kind"] == "other" {
		return &otherModule{id: fields["id"]}, nil
	}

	return &stubModule{
		id:       fields["id"],
		category: fields["category"],
		name:     fields["name"],
		version:  fields["version"],
	}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []*kairo.LifecycleEvent
}

func (s *recordingSink) Publish(_ context.Context, event *kairo.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) HasSubscribers(kairo.LifecycleKind, string) bool {
	return true
}

func (s *recordingSink) snapshot() []*kairo.LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*kairo.LifecycleEvent(nil), s.events...)
}

func writeArtifact(t *testing.T, dir string, rel string, fields map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	var builder strings.Builder
	for _, key := range []string{"kind", "id", "category", "name", "version"} {
		if value, exists := fields[key]; exists {
			fmt.Fprintf(&builder, "%s=%s\n", key, value)
		}
	}
	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		t.Fatalf("write artifact failed: %v", err)
	}

	return path
}

func newTestRegistry(dir string, sink *recordingSink, options ...Option) (*Registry[versioned], *fileResolver) {
	resolver := &fileResolver{}
	base := []Option{
		WithDirectory(dir),
		WithExtensions(".mod"),
		WithResolver(resolver),
		WithAlias(func(module kairo.Module) (string, error) {
			return module.(*stubModule).name, nil
		}),
	}
	if sink != nil {
		base = append(base, WithEvents(sink))
	}

	return New[versioned]("commands", append(base, options...)...), resolver
}

func TestRegistryLoadAllFiltersAndCategorizes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, "util/ping.mod", map[string]string{"id": "ping", "category": "util", "name": "ping"})
	writeArtifact(t, dir, "fun/roll.mod", map[string]string{"id": "roll", "name": "roll"})
	writeArtifact(t, dir, "fun/notes.txt", map[string]string{"id": "notes"})
	writeArtifact(t, dir, "drafts/wip.mod", map[string]string{"id": "wip", "name": "wip"})
	writeArtifact(t, dir, "util/skip.mod", map[string]string{"id": "skip", "name": "skip"})

	registry, _ := newTestRegistry(dir, nil, WithIgnore("drafts/**"))
	err := registry.LoadAll(context.Background(), "", func(path string) bool {
		return filepath.Base(path) != "skip.mod"
	})
	if err != nil {
		t.Fatalf("load all failed: %v", err)
	}

	if got := registry.Len(); got != 2 {
		t.Fatalf("loaded = %v, want ping and roll", registry.IDs())
	}
	if _, exists := registry.Get("wip"); exists {
		t.Fatal("ignored artifact was loaded")
	}

	util, exists := registry.FindCategory("util")
	if !exists || util.Len() != 1 || util.Modules()[0].ID() != "ping" {
		t.Fatalf("util category = %+v", util)
	}
	defaults, exists := registry.FindCategory(kairo.DefaultCategory)
	if !exists || defaults.Modules()[0].ID() != "roll" {
		t.Fatal("roll should be filed under the default category")
	}
	if _, exists := registry.FindCategory("Util"); exists {
		t.Fatal("category lookup must be case-sensitive")
	}
}

func TestRegistryAutomateCategoriesUsesParentDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, "moderation/ban.mod", map[string]string{"id": "ban", "category": "ignored", "name": "ban"})

	registry, _ := newTestRegistry(dir, nil, WithAutomateCategories(true))
	if err := registry.LoadAll(context.Background(), "", nil); err != nil {
		t.Fatalf("load all failed: %v", err)
	}

	info, exists := registry.Info("ban")
	if !exists || info.Category != "moderation" {
		t.Fatalf("info = %+v, want category moderation", info)
	}
}

func TestRegistryLoadRejectsDuplicateIdentifier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeArtifact(t, dir, "a.mod", map[string]string{"id": "ping", "name": "ping"})
	second := writeArtifact(t, dir, "b.mod", map[string]string{"id": "ping", "name": "pong"})

	var hooks atomic.Int32
	registry, _ := newTestRegistry(dir, nil, WithHooks(
		func(context.Context, kairo.Module) error {
			hooks.Add(1)
			return nil
		},
		nil,
	))

	loaded, err := registry.Load(context.Background(), first)
	if err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	_, err = registry.Load(context.Background(), second)
	if !errors.Is(err, kairo.ErrDuplicateIdentifier) {
		t.Fatalf("error = %v, want ErrDuplicateIdentifier", err)
	}

	current, _ := registry.Get("ping")
	if current != loaded {
		t.Fatal("duplicate load replaced the registered module")
	}
	if _, exists := registry.FindByAlias("pong"); exists {
		t.Fatal("duplicate load leaked its alias")
	}
	if hooks.Load() != 1 {
		t.Fatalf("register hooks = %d, want 1", hooks.Load())
	}
}

func TestRegistryLoadRejectsInvalidKind(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArtifact(t, dir, "other.mod", map[string]string{"kind": "other", "id": "other"})

	registry, _ := newTestRegistry(dir, nil)
	_, err := registry.Load(context.Background(), path)
	if !errors.Is(err, kairo.ErrInvalidModuleKind) {
		t.Fatalf("error = %v, want ErrInvalidModuleKind", err)
	}
	if registry.Len() != 0 {
		t.Fatal("invalid module was registered")
	}
}

func TestRegistryAliasConflict(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := writeArtifact(t, dir, "a.mod", map[string]string{"id": "ping", "name": "Ping"})
	second := writeArtifact(t, dir, "b.mod", map[string]string{"id": "ping2", "name": "PING"})

	registry, _ := newTestRegistry(dir, nil)
	if _, err := registry.Load(context.Background(), first); err != nil {
		t.Fatalf("first load failed: %v", err)
	}
	_, err := registry.Load(context.Background(), second)
	if !errors.Is(err, kairo.ErrNameConflict) {
		t.Fatalf("error = %v, want ErrNameConflict", err)
	}

	found, exists := registry.FindByAlias("pInG")
	if !exists || found.ID() != "ping" {
		t.Fatal("alias lookup should be case-insensitive and keep the first owner")
	}
}

func TestRegistryReloadReplacesInstance(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &recordingSink{}
	path := writeArtifact(t, dir, "util/ping.mod", map[string]string{
		"id": "ping", "category": "util", "name": "ping", "version": "1",
	})

	registry, resolver := newTestRegistry(dir, sink)
	original, err := registry.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	writeArtifact(t, dir, "util/ping.mod", map[string]string{
		"id": "ping", "category": "util", "name": "ping", "version": "2",
	})
	reloaded, err := registry.Reload(context.Background(), "ping")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if reloaded.ID() != original.ID() || reloaded.Version() != "2" {
		t.Fatalf("reloaded = %s@%s, want ping@2", reloaded.ID(), reloaded.Version())
	}
	current, _ := registry.Get("ping")
	if current != reloaded {
		t.Fatal("lookup by id did not return the reloaded instance")
	}
	info, _ := registry.Info("ping")
	if info.Category != "util" {
		t.Fatalf("category = %s, want util", info.Category)
	}
	util, _ := registry.FindCategory("util")
	if modules := util.Modules(); len(modules) != 1 || modules[0] != reloaded {
		t.Fatal("category still references the old instance")
	}
	if !original.(*stubModule).released.Load() {
		t.Fatal("previous instance was not released")
	}
	if resolver.calls.Load() != 2 {
		t.Fatalf("resolver calls = %d, want 2", resolver.calls.Load())
	}

	events := sink.snapshot()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].IsReload || !events[1].IsReload {
		t.Fatalf("reload flags = %v,%v, want false,true", events[0].IsReload, events[1].IsReload)
	}
	if events[1].Kind != kairo.LifecycleModuleLoaded || events[1].Handler != "commands" {
		t.Fatalf("reload event = %+v", events[1])
	}
}

func TestRegistryReloadRejectsChangedIdentifier(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArtifact(t, dir, "ping.mod", map[string]string{"id": "ping", "name": "ping"})

	registry, _ := newTestRegistry(dir, nil)
	original, err := registry.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	writeArtifact(t, dir, "ping.mod", map[string]string{"id": "pong", "name": "ping"})

	if _, err := registry.Reload(context.Background(), "ping"); !errors.Is(err, kairo.ErrInvalidModule) {
		t.Fatalf("error = %v, want ErrInvalidModule", err)
	}
	current, _ := registry.Get("ping")
	if current != original {
		t.Fatal("failed reload replaced the module")
	}
}

func TestRegistryRemoveMissingLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArtifact(t, dir, "ping.mod", map[string]string{"id": "ping", "name": "ping"})

	registry, _ := newTestRegistry(dir, nil)
	if _, err := registry.Load(context.Background(), path); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for _, operation := range []func() error{
		func() error { _, err := registry.Remove(context.Background(), "missing"); return err },
		func() error { _, err := registry.Reload(context.Background(), "missing"); return err },
	} {
		if err := operation(); !errors.Is(err, kairo.ErrModuleNotFound) {
			t.Fatalf("error = %v, want ErrModuleNotFound", err)
		}
	}
	if ids := registry.IDs(); len(ids) != 1 || ids[0] != "ping" {
		t.Fatalf("ids = %v, want [ping]", ids)
	}
}

func TestRegistryRemoveKeepsEmptyCategory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sink := &recordingSink{}
	path := writeArtifact(t, dir, "ping.mod", map[string]string{"id": "ping", "category": "util", "name": "ping"})

	registry, _ := newTestRegistry(dir, sink)
	loaded, err := registry.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	removed, err := registry.Remove(context.Background(), "ping")
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if removed != loaded || !loaded.(*stubModule).released.Load() {
		t.Fatal("remove should return and release the module")
	}
	if _, exists := registry.FindByAlias("ping"); exists {
		t.Fatal("alias survived removal")
	}

	util, exists := registry.FindCategory("util")
	if !exists || util.Len() != 0 {
		t.Fatal("category should remain registered and empty")
	}
	events := sink.snapshot()
	if last := events[len(events)-1]; last.Kind != kairo.LifecycleModuleRemoved {
		t.Fatalf("last event = %s, want module.removed", last.Kind)
	}
}

func TestRegistryReloadAllIsBestEffort(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, "a.mod", map[string]string{"id": "a", "name": "a", "version": "1"})
	broken := writeArtifact(t, dir, "b.mod", map[string]string{"id": "b", "name": "b", "version": "1"})
	writeArtifact(t, dir, "c.mod", map[string]string{"id": "c", "name": "c", "version": "1"})

	registry, _ := newTestRegistry(dir, nil)
	if err := registry.LoadAll(context.Background(), "", nil); err != nil {
		t.Fatalf("load all failed: %v", err)
	}
	if err := registry.LoadModule(context.Background(), &stubModule{id: "builtin", name: "builtin"}); err != nil {
		t.Fatalf("load module failed: %v", err)
	}

	writeArtifact(t, dir, "a.mod", map[string]string{"id": "a", "name": "a", "version": "2"})
	writeArtifact(t, dir, "c.mod", map[string]string{"id": "c", "name": "c", "version": "2"})
	if err := os.Remove(broken); err != nil {
		t.Fatalf("remove artifact failed: %v", err)
	}

	err := registry.ReloadAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reload b") {
		t.Fatalf("error = %v, want reload b failure", err)
	}
	for _, id := range []string{"a", "c"} {
		module, _ := registry.Get(id)
		if module.Version() != "2" {
			t.Fatalf("%s version = %s, want 2", id, module.Version())
		}
	}
	if module, exists := registry.Get("b"); !exists || module.Version() != "1" {
		t.Fatal("failed reload should keep the previous instance")
	}
	if _, exists := registry.Get("builtin"); !exists {
		t.Fatal("instance module should be skipped by reload all")
	}
	if _, err := registry.Reload(context.Background(), "builtin"); !errors.Is(err, kairo.ErrNotReloadable) {
		t.Fatalf("error = %v, want ErrNotReloadable", err)
	}
}

func TestRegistryRemoveAllAndCategoryOperations(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArtifact(t, dir, "a.mod", map[string]string{"id": "a", "category": "x", "name": "a"})
	writeArtifact(t, dir, "b.mod", map[string]string{"id": "b", "category": "x", "name": "b"})
	writeArtifact(t, dir, "c.mod", map[string]string{"id": "c", "category": "y", "name": "c"})

	registry, _ := newTestRegistry(dir, nil)
	if err := registry.LoadAll(context.Background(), "", nil); err != nil {
		t.Fatalf("load all failed: %v", err)
	}

	x, _ := registry.FindCategory("x")
	if err := x.ReloadAll(context.Background()); err != nil {
		t.Fatalf("category reload failed: %v", err)
	}
	if err := x.RemoveAll(context.Background()); err != nil {
		t.Fatalf("category remove failed: %v", err)
	}
	if ids := registry.IDs(); len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("ids = %v, want [c]", ids)
	}

	if err := registry.RemoveAll(context.Background()); err != nil {
		t.Fatalf("remove all failed: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatal("remove all left modules behind")
	}
	if got := len(registry.Categories()); got != 2 {
		t.Fatalf("categories = %d, want 2 empty categories", got)
	}
}

func TestRegistryFindBySourceAndEligible(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArtifact(t, dir, "ping.mod", map[string]string{"id": "ping", "name": "ping"})

	registry, _ := newTestRegistry(dir, nil)
	if _, err := registry.Load(context.Background(), path); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	found, exists := registry.FindBySource(path)
	if !exists || found.ID() != "ping" {
		t.Fatal("find by source failed")
	}
	if !registry.Eligible(filepath.Join(dir, "new.mod")) {
		t.Fatal("new .mod artifact should be eligible")
	}
	if registry.Eligible(filepath.Join(dir, "readme.md")) {
		t.Fatal("foreign extension should not be eligible")
	}
}

func TestRegistryConcurrentLookupsDuringReload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeArtifact(t, dir, "ping.mod", map[string]string{"id": "ping", "name": "ping", "version": "1"})

	registry, _ := newTestRegistry(dir, nil)
	if _, err := registry.Load(context.Background(), path); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	stop := make(chan struct{})
	var misses atomic.Int32
	var readers sync.WaitGroup
	for idx := 0; idx < 4; idx++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, exists := registry.FindByAlias("ping"); !exists {
					misses.Add(1)
				}
			}
		}()
	}

	for idx := 0; idx < 20; idx++ {
		if _, err := registry.Reload(context.Background(), "ping"); err != nil {
			t.Errorf("reload %d failed: %v", idx, err)
		}
	}
	close(stop)
	readers.Wait()

	if misses.Load() != 0 {
		t.Fatalf("lookups missed the module %d times during reload", misses.Load())
	}
}
