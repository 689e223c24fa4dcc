package component

import (
	"context"
	"fmt"
	"strings"

	"ex-kairo/internal/registry"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// ContextMenuHandlerName is the lifecycle handler name of the context-menu registry.
const ContextMenuHandlerName = "context_menus"

// ContextMenuHandler serves context-menu interactions by case-insensitive name.
type ContextMenuHandler struct {
	*registry.Registry[kairo.ContextMenu]

	cfg config
}

// NewContextMenus creates the context-menu handler.
func NewContextMenus(options ...Option) *ContextMenuHandler {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &ContextMenuHandler{
		Registry: registry.New[kairo.ContextMenu](ContextMenuHandlerName, registryOptions(cfg, func(module kairo.Module) (string, error) {
			menu, ok := module.(kairo.ContextMenu)
			if !ok {
				return "", fmt.Errorf("%w: %T is not a context menu", kairo.ErrInvalidModuleKind, module)
			}
			return menu.Name(), nil
		}, validateContextMenu)...),
		cfg: cfg,
	}
}

// Handle runs the context menu named by interaction.CommandName. A failure
// is published as an error event when an error listener is attached and
// returned otherwise.
func (h *ContextMenuHandler) Handle(ctx context.Context, interaction *kairo.Interaction) (kairo.Result, error) {
	if err := interaction.Validate(); err != nil {
		return kairo.Result{}, fmt.Errorf("handle %s: %w", ContextMenuHandlerName, err)
	}
	if interaction.Kind != kairo.InteractionKindContextMenu {
		return kairo.Result{Status: kairo.StatusIgnored}, nil
	}

	menu, ok := h.FindByAlias(interaction.CommandName)
	if !ok {
		return kairo.Result{Status: kairo.StatusNotFound}, nil
	}

	err := safe.Run("context menu "+menu.ID(), func() error {
		return menu.Exec(ctx, interaction)
	})
	if err == nil {
		return kairo.Result{Status: kairo.StatusExecuted, ModuleID: menu.ID()}, nil
	}

	result := kairo.Result{Status: kairo.StatusFailed, ModuleID: menu.ID()}
	if h.cfg.events == nil || !h.cfg.events.HasSubscribers(kairo.LifecycleError, ContextMenuHandlerName) {
		return result, fmt.Errorf("dispatch context menu %s: %w", interaction.CommandName, err)
	}
	info, _ := h.Info(menu.ID())
	publish(ctx, h.cfg, ContextMenuHandlerName, &kairo.LifecycleEvent{
		Kind:        kairo.LifecycleError,
		Interaction: interaction,
		Err:         err,
	}, &info)

	return result, nil
}

func validateContextMenu(module kairo.Module) error {
	menu, ok := module.(kairo.ContextMenu)
	if !ok {
		return fmt.Errorf("%w: %T is not a context menu", kairo.ErrInvalidModuleKind, module)
	}
	if strings.TrimSpace(menu.Name()) == "" {
		return fmt.Errorf("%w: context menu %s has empty name", kairo.ErrInvalidModule, menu.ID())
	}

	return nil
}
