// Package registry loads module artifacts into named, categorized registries
// and replaces them in place on reload.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// Registry tracks modules of kind M by id, by category, and by optional alias.
//
// Lookups take a read lock; load, remove, and reload take the write lock only
// for the final map swap, so dispatch never observes a half-registered module.
type Registry[M kairo.Module] struct {
	name string
	cfg  config

	mu            sync.RWMutex
	entries       map[string]*entry[M]
	order         []string
	aliases       map[string]string
	categories    map[string]*Category[M]
	categoryOrder []string
}

// entry is the record the registry keeps per module; reload swaps the whole record.
type entry[M kairo.Module] struct {
	id       string
	module   M
	category string
	source   string
	alias    string
}

// New creates an empty registry. name identifies the registry in lifecycle events.
func New[M kairo.Module](name string, options ...Option) *Registry[M] {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Registry[M]{
		name:       name,
		cfg:        cfg,
		entries:    make(map[string]*entry[M]),
		aliases:    make(map[string]string),
		categories: make(map[string]*Category[M]),
	}
}

// Name returns the registry name used as the lifecycle event handler.
func (r *Registry[M]) Name() string {
	return r.name
}

// Directory returns the configured default source directory.
func (r *Registry[M]) Directory() string {
	return r.cfg.directory
}

// Load resolves the artifact at path and registers the resulting module.
func (r *Registry[M]) Load(ctx context.Context, path string) (M, error) {
	var zero M

	source, err := normalizeSource(path)
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", path, err)
	}
	module, err := r.resolve(ctx, source)
	if err != nil {
		return zero, fmt.Errorf("load %s: %w", source, err)
	}
	if err := r.register(ctx, module, source); err != nil {
		r.release(ctx, module)
		return zero, fmt.Errorf("load %s: %w", source, err)
	}

	return module, nil
}

// LoadModule registers an already constructed module that has no source artifact.
func (r *Registry[M]) LoadModule(ctx context.Context, module M) error {
	if err := r.register(ctx, module, ""); err != nil {
		return fmt.Errorf("load module: %w", err)
	}

	return nil
}

// Register inserts module into the registry and its category, then emits module.loaded.
// source may be empty for modules that cannot be reloaded from disk.
func (r *Registry[M]) Register(ctx context.Context, module M, source string) error {
	if source != "" {
		normalized, err := normalizeSource(source)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		source = normalized
	}

	return r.register(ctx, module, source)
}

// LoadAll loads every eligible artifact under directory, recursively, in
// directory traversal order. An empty directory uses the configured one and a
// nil filter uses the configured predicate. Loading continues past failures;
// all failures are returned joined.
func (r *Registry[M]) LoadAll(ctx context.Context, directory string, filter func(path string) bool) error {
	if directory == "" {
		directory = r.cfg.directory
	}
	if directory == "" {
		return fmt.Errorf("load all %s: no directory configured", r.name)
	}
	if filter == nil {
		filter = r.cfg.loadFilter
	}

	paths, err := r.discover(directory, filter)
	if err != nil {
		return fmt.Errorf("load all %s: %w", r.name, err)
	}

	var loadErrs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			loadErrs = append(loadErrs, err)
			break
		}
		if _, err := r.Load(ctx, path); err != nil {
			loadErrs = append(loadErrs, err)
		}
	}
	if len(loadErrs) > 0 {
		return fmt.Errorf("load all %s: %w", r.name, errors.Join(loadErrs...))
	}

	return nil
}

// Deregister removes module from the id index, alias index, and category
// without emitting an event or releasing module resources.
func (r *Registry[M]) Deregister(ctx context.Context, module M) {
	if isNil(module) {
		return
	}

	r.mu.Lock()
	removed, exists := r.entries[module.ID()]
	if exists {
		r.removeLocked(removed)
	}
	r.mu.Unlock()

	if exists {
		r.runDeregisterHook(ctx, removed.module)
	}
}

// Remove deregisters the module with id, releases it, and emits module.removed.
func (r *Registry[M]) Remove(ctx context.Context, id string) (M, error) {
	var zero M

	r.mu.Lock()
	removed, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return zero, fmt.Errorf("remove %s from %s: %w", id, r.name, kairo.ErrModuleNotFound)
	}
	r.removeLocked(removed)
	r.mu.Unlock()

	r.retire(ctx, removed)
	r.publish(ctx, kairo.LifecycleModuleRemoved, removed, false)

	return removed.module, nil
}

// RemoveAll removes every loaded module. It continues past failures and
// returns them joined.
func (r *Registry[M]) RemoveAll(ctx context.Context) error {
	var removeErrs []error
	for _, id := range r.IDs() {
		if _, err := r.Remove(ctx, id); err != nil {
			removeErrs = append(removeErrs, err)
		}
	}
	if len(removeErrs) > 0 {
		return fmt.Errorf("remove all %s: %w", r.name, errors.Join(removeErrs...))
	}

	return nil
}

// Reload re-resolves the module with id from its source artifact and swaps
// it in under the same id. In-flight users of the previous instance keep
// their reference; later lookups observe the new instance.
func (r *Registry[M]) Reload(ctx context.Context, id string) (M, error) {
	var zero M

	r.mu.RLock()
	current, exists := r.entries[id]
	r.mu.RUnlock()
	if !exists {
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, kairo.ErrModuleNotFound)
	}
	if current.source == "" {
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, kairo.ErrNotReloadable)
	}

	module, err := r.resolve(ctx, current.source)
	if err != nil {
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, err)
	}
	if module.ID() != id {
		r.release(ctx, module)
		return zero, fmt.Errorf(
			"reload %s in %s: %w: artifact %s now declares id %q",
			id,
			r.name,
			kairo.ErrInvalidModule,
			current.source,
			module.ID(),
		)
	}

	next, err := r.prepare(ctx, module, current.source)
	if err != nil {
		r.release(ctx, module)
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, err)
	}

	r.mu.Lock()
	previous, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		r.retire(ctx, next)
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, kairo.ErrModuleNotFound)
	}
	if err := r.checkAliasLocked(next.alias, id); err != nil {
		r.mu.Unlock()
		r.retire(ctx, next)
		return zero, fmt.Errorf("reload %s in %s: %w", id, r.name, err)
	}
	r.replaceLocked(previous, next)
	r.mu.Unlock()

	r.retire(ctx, previous)
	r.publish(ctx, kairo.LifecycleModuleLoaded, next, true)

	return module, nil
}

// ReloadAll reloads every module that was loaded from a source artifact.
// Each reload is attempted independently; failures are returned joined.
func (r *Registry[M]) ReloadAll(ctx context.Context) error {
	var reloadErrs []error
	for _, id := range r.reloadableIDs() {
		if _, err := r.Reload(ctx, id); err != nil {
			reloadErrs = append(reloadErrs, err)
		}
	}
	if len(reloadErrs) > 0 {
		return fmt.Errorf("reload all %s: %w", r.name, errors.Join(reloadErrs...))
	}

	return nil
}

// Get returns the module registered under id.
func (r *Registry[M]) Get(id string) (M, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found, exists := r.entries[id]
	if !exists {
		var zero M
		return zero, false
	}

	return found.module, true
}

// FindByAlias returns the module whose alias equals name, case-insensitively.
func (r *Registry[M]) FindByAlias(name string) (M, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero M
	id, exists := r.aliases[normalizeAlias(name)]
	if !exists {
		return zero, false
	}
	found, exists := r.entries[id]
	if !exists {
		return zero, false
	}

	return found.module, true
}

// FindBySource returns the module loaded from path.
func (r *Registry[M]) FindBySource(path string) (M, bool) {
	var zero M

	source, err := normalizeSource(path)
	if err != nil {
		return zero, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if found := r.entries[id]; found.source == source {
			return found.module, true
		}
	}

	return zero, false
}

// FindCategory returns the category named name. The lookup is case-sensitive.
func (r *Registry[M]) FindCategory(name string) (*Category[M], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	category, exists := r.categories[name]

	return category, exists
}

// Categories returns every category in creation order, including empty ones.
func (r *Registry[M]) Categories() []*Category[M] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	categories := make([]*Category[M], 0, len(r.categoryOrder))
	for _, name := range r.categoryOrder {
		categories = append(categories, r.categories[name])
	}

	return categories
}

// Modules returns every module in load order.
func (r *Registry[M]) Modules() []M {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]M, 0, len(r.order))
	for _, id := range r.order {
		modules = append(modules, r.entries[id].module)
	}

	return modules
}

// IDs returns every module id in load order.
func (r *Registry[M]) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// Info returns the registry metadata of the module with id.
func (r *Registry[M]) Info(id string) (kairo.ModuleInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	found, exists := r.entries[id]
	if !exists {
		return kairo.ModuleInfo{}, false
	}

	return r.infoOf(found), true
}

// Infos returns metadata for every module in load order.
func (r *Registry[M]) Infos() []kairo.ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]kairo.ModuleInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.infoOf(r.entries[id]))
	}

	return infos
}

// Len returns the number of loaded modules.
func (r *Registry[M]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// resolve asks the resolver for a fresh definition and checks its kind.
func (r *Registry[M]) resolve(ctx context.Context, source string) (M, error) {
	var zero M

	if r.cfg.resolver == nil {
		return zero, fmt.Errorf("resolve %s: no resolver configured", source)
	}

	resolved, err := safe.Value("resolve "+source, func() (kairo.Module, error) {
		return r.cfg.resolver.Resolve(ctx, source)
	})
	if err != nil {
		return zero, err
	}
	if resolved == nil {
		return zero, fmt.Errorf("resolve %s: %w: nil module", source, kairo.ErrInvalidModuleKind)
	}

	typed, ok := resolved.(M)
	if !ok {
		r.release(ctx, resolved)
		return zero, fmt.Errorf("resolve %s: %w: %T", source, kairo.ErrInvalidModuleKind, resolved)
	}

	return typed, nil
}

// register is the shared first-registration path of Load, LoadModule, and Register.
func (r *Registry[M]) register(ctx context.Context, module M, source string) error {
	if isNil(module) {
		return fmt.Errorf("register: %w: nil module", kairo.ErrInvalidModule)
	}

	id := module.ID()
	r.mu.RLock()
	_, exists := r.entries[id]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("register %s in %s: %w", id, r.name, kairo.ErrDuplicateIdentifier)
	}

	next, err := r.prepare(ctx, module, source)
	if err != nil {
		return fmt.Errorf("register %s in %s: %w", id, r.name, err)
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		r.runDeregisterHook(ctx, module)
		return fmt.Errorf("register %s in %s: %w", id, r.name, kairo.ErrDuplicateIdentifier)
	}
	if err := r.checkAliasLocked(next.alias, id); err != nil {
		r.mu.Unlock()
		r.runDeregisterHook(ctx, module)
		return fmt.Errorf("register %s in %s: %w", id, r.name, err)
	}
	r.insertLocked(next)
	r.mu.Unlock()

	r.cfg.logger.DebugContext(ctx, "module registered",
		"handler", r.name,
		"module", id,
		"category", next.category,
		"source", source,
	)
	r.publish(ctx, kairo.LifecycleModuleLoaded, next, false)

	return nil
}

// prepare validates module and runs its registration side effects outside the lock.
func (r *Registry[M]) prepare(ctx context.Context, module M, source string) (*entry[M], error) {
	id := module.ID()
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty module id", kairo.ErrInvalidModule)
	}

	if r.cfg.validate != nil {
		if err := safe.Run("validate "+id, func() error {
			return r.cfg.validate(module)
		}); err != nil {
			return nil, err
		}
	}

	alias := ""
	if r.cfg.alias != nil {
		resolved, err := safe.Value("alias "+id, func() (string, error) {
			return r.cfg.alias(module)
		})
		if err != nil {
			return nil, err
		}
		alias = normalizeAlias(resolved)
	}

	if initializer, ok := any(module).(kairo.Initializer); ok {
		if r.cfg.services == nil {
			return nil, fmt.Errorf("init %s: no service registry configured", id)
		}
		if err := safe.Run("init "+id, func() error {
			return initializer.Init(ctx, r.cfg.services)
		}); err != nil {
			return nil, err
		}
	}

	if r.cfg.onRegister != nil {
		if err := safe.Run("register hook "+id, func() error {
			return r.cfg.onRegister(ctx, module)
		}); err != nil {
			return nil, err
		}
	}

	return &entry[M]{
		id:       id,
		module:   module,
		category: r.categoryFor(module, source),
		source:   source,
		alias:    alias,
	}, nil
}

func (r *Registry[M]) categoryFor(module M, source string) string {
	if r.cfg.automateCategories && source != "" {
		return filepath.Base(filepath.Dir(source))
	}
	if category := strings.TrimSpace(module.Category()); category != "" {
		return category
	}

	return kairo.DefaultCategory
}

// checkAliasLocked fails when alias is claimed by a module other than owner.
func (r *Registry[M]) checkAliasLocked(alias string, owner string) error {
	if alias == "" {
		return nil
	}
	if claimed, exists := r.aliases[alias]; exists && claimed != owner {
		return fmt.Errorf("%w: %q already used by %s", kairo.ErrNameConflict, alias, claimed)
	}

	return nil
}

func (r *Registry[M]) insertLocked(next *entry[M]) {
	r.entries[next.id] = next
	r.order = append(r.order, next.id)
	if next.alias != "" {
		r.aliases[next.alias] = next.id
	}
	r.categoryLocked(next.category).add(next.id)
}

func (r *Registry[M]) removeLocked(previous *entry[M]) {
	delete(r.entries, previous.id)
	r.order = removeOrdered(r.order, previous.id)
	if previous.alias != "" && r.aliases[previous.alias] == previous.id {
		delete(r.aliases, previous.alias)
	}
	if category, exists := r.categories[previous.category]; exists {
		category.remove(previous.id)
	}
}

// replaceLocked swaps previous for next while keeping load order and category position.
func (r *Registry[M]) replaceLocked(previous *entry[M], next *entry[M]) {
	r.entries[next.id] = next
	if previous.alias != next.alias {
		if previous.alias != "" && r.aliases[previous.alias] == previous.id {
			delete(r.aliases, previous.alias)
		}
	}
	if next.alias != "" {
		r.aliases[next.alias] = next.id
	}
	if previous.category != next.category {
		if category, exists := r.categories[previous.category]; exists {
			category.remove(previous.id)
		}
		r.categoryLocked(next.category).add(next.id)
	}
}

// categoryLocked returns the category named name, creating it on first use.
func (r *Registry[M]) categoryLocked(name string) *Category[M] {
	category, exists := r.categories[name]
	if !exists {
		category = &Category[M]{id: name, registry: r}
		r.categories[name] = category
		r.categoryOrder = append(r.categoryOrder, name)
	}

	return category
}

func (r *Registry[M]) reloadableIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if r.entries[id].source != "" {
			ids = append(ids, id)
		}
	}

	return ids
}

// retire runs the deregister hook and frees module resources after it left the maps.
func (r *Registry[M]) retire(ctx context.Context, previous *entry[M]) {
	r.runDeregisterHook(ctx, previous.module)
	r.release(ctx, previous.module)
}

func (r *Registry[M]) runDeregisterHook(ctx context.Context, module kairo.Module) {
	if r.cfg.onDeregister == nil {
		return
	}
	if err := safe.Run("deregister hook "+module.ID(), func() error {
		return r.cfg.onDeregister(ctx, module)
	}); err != nil {
		r.cfg.logger.WarnContext(ctx, "module deregister hook failed",
			"handler", r.name,
			"module", module.ID(),
			"error", err,
		)
	}
}

func (r *Registry[M]) release(ctx context.Context, module kairo.Module) {
	releaser, ok := module.(kairo.Releaser)
	if !ok {
		return
	}
	if err := safe.Run("release "+module.ID(), releaser.Release); err != nil {
		r.cfg.logger.WarnContext(ctx, "module release failed",
			"handler", r.name,
			"module", module.ID(),
			"error", err,
		)
	}
}

func (r *Registry[M]) publish(ctx context.Context, kind kairo.LifecycleKind, subject *entry[M], isReload bool) {
	if r.cfg.events == nil {
		return
	}

	info := r.infoOf(subject)
	event := &kairo.LifecycleEvent{
		Kind:       kind,
		Handler:    r.name,
		OccurredAt: time.Now(),
		Module:     &info,
		IsReload:   isReload,
	}
	if err := r.cfg.events.Publish(ctx, event); err != nil {
		r.cfg.logger.WarnContext(ctx, "publish lifecycle event failed",
			"handler", r.name,
			"kind", kind,
			"error", err,
		)
	}
}

func (r *Registry[M]) infoOf(subject *entry[M]) kairo.ModuleInfo {
	return kairo.ModuleInfo{
		ID:       subject.id,
		Category: subject.category,
		Source:   subject.source,
		Handler:  r.name,
	}
}

func normalizeSource(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty source path")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve source path %s: %w", path, err)
	}

	return absolute, nil
}

func normalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}

func isNil(module kairo.Module) bool {
	return module == nil
}

// removeOrdered removes one id while preserving remaining order.
func removeOrdered(ordered []string, target string) []string {
	filtered := make([]string, 0, len(ordered))
	for _, item := range ordered {
		if item != target {
			filtered = append(filtered, item)
		}
	}

	return filtered
}
