package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"ex-kairo/pkg/kairo"
)

// Category is an ordered group of modules sharing a category name.
//
// Categories are created when their first module registers and stay in the
// registry after their last module is removed.
type Category[M kairo.Module] struct {
	id       string
	registry *Registry[M]
	// ids is guarded by registry.mu.
	ids []string
}

// ID returns the category name.
func (c *Category[M]) ID() string {
	return c.id
}

// Modules returns the category's modules in registration order.
func (c *Category[M]) Modules() []M {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()

	modules := make([]M, 0, len(c.ids))
	for _, id := range c.ids {
		if found, exists := c.registry.entries[id]; exists {
			modules = append(modules, found.module)
		}
	}

	return modules
}

// Len returns the number of modules in the category.
func (c *Category[M]) Len() int {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()

	return len(c.ids)
}

// ReloadAll reloads every reloadable module in the category, best-effort.
func (c *Category[M]) ReloadAll(ctx context.Context) error {
	var reloadErrs []error
	for _, id := range c.snapshot() {
		info, exists := c.registry.Info(id)
		if !exists || info.Source == "" {
			continue
		}
		if _, err := c.registry.Reload(ctx, id); err != nil {
			reloadErrs = append(reloadErrs, err)
		}
	}
	if len(reloadErrs) > 0 {
		return fmt.Errorf("reload category %s: %w", c.id, errors.Join(reloadErrs...))
	}

	return nil
}

// RemoveAll removes every module in the category, best-effort.
func (c *Category[M]) RemoveAll(ctx context.Context) error {
	var removeErrs []error
	for _, id := range c.snapshot() {
		if _, err := c.registry.Remove(ctx, id); err != nil {
			removeErrs = append(removeErrs, err)
		}
	}
	if len(removeErrs) > 0 {
		return fmt.Errorf("remove category %s: %w", c.id, errors.Join(removeErrs...))
	}

	return nil
}

func (c *Category[M]) snapshot() []string {
	c.registry.mu.RLock()
	defer c.registry.mu.RUnlock()

	return slices.Clone(c.ids)
}

// add and remove require registry.mu held for writing.
func (c *Category[M]) add(id string) {
	c.ids = append(c.ids, id)
}

func (c *Category[M]) remove(id string) {
	c.ids = removeOrdered(c.ids, id)
}
