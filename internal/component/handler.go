// Package component dispatches button, select, modal, and context-menu
// interactions. Each is a direct lookup with no policy pipeline.
package component

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ex-kairo/internal/registry"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// Handler names for the three custom-id dispatchers.
const (
	ButtonHandlerName = "buttons"
	SelectHandlerName = "selects"
	ModalHandlerName  = "modals"
)

type config struct {
	events          kairo.EventSink
	logger          *slog.Logger
	registryOptions []registry.Option
}

// Option mutates component handler construction configuration.
type Option func(*config)

func defaultConfig() config {
	return config{logger: slog.Default()}
}

// WithEvents configures the lifecycle sink.
func WithEvents(events kairo.EventSink) Option {
	return func(cfg *config) {
		cfg.events = events
	}
}

// WithLogger configures handler logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRegistryOptions forwards options to the underlying module registry.
func WithRegistryOptions(options ...registry.Option) Option {
	return func(cfg *config) {
		cfg.registryOptions = append(cfg.registryOptions, options...)
	}
}

// Handler serves one interaction kind by custom id prefix.
type Handler struct {
	*registry.Registry[kairo.Component]

	kind kairo.InteractionKind
	cfg  config
}

// NewButtons creates the button handler.
func NewButtons(options ...Option) *Handler {
	return newHandler(ButtonHandlerName, kairo.InteractionKindButton, options)
}

// NewSelects creates the select-menu handler.
func NewSelects(options ...Option) *Handler {
	return newHandler(SelectHandlerName, kairo.InteractionKindSelect, options)
}

// NewModals creates the modal handler.
func NewModals(options ...Option) *Handler {
	return newHandler(ModalHandlerName, kairo.InteractionKindModal, options)
}

func newHandler(name string, kind kairo.InteractionKind, options []Option) *Handler {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Handler{
		Registry: registry.New[kairo.Component](name, registryOptions(cfg, func(module kairo.Module) (string, error) {
			component, ok := module.(kairo.Component)
			if !ok {
				return "", fmt.Errorf("%w: %T is not a component", kairo.ErrInvalidModuleKind, module)
			}
			return component.CustomID(), nil
		}, func(module kairo.Module) error {
			return validateComponent(kind, module)
		})...),
		kind: kind,
		cfg:  cfg,
	}
}

// Kind returns the interaction kind this handler serves.
func (h *Handler) Kind() kairo.InteractionKind {
	return h.kind
}

// Handle finds the component owning the custom id prefix and runs it with
// the remaining segments bound to its argument names. Unknown prefixes and
// failed runs publish component.invalid and are not reported as errors.
func (h *Handler) Handle(ctx context.Context, interaction *kairo.Interaction) (kairo.Result, error) {
	if err := interaction.Validate(); err != nil {
		return kairo.Result{}, fmt.Errorf("handle %s: %w", h.Name(), err)
	}
	if interaction.Kind != h.kind {
		return kairo.Result{Status: kairo.StatusIgnored}, nil
	}

	prefix, values := kairo.SplitCustomID(interaction.CustomID)
	component, ok := h.FindByAlias(prefix)
	if !ok {
		publish(ctx, h.cfg, h.Name(), &kairo.LifecycleEvent{
			Kind:        kairo.LifecycleComponentInvalid,
			Interaction: interaction,
			Reason:      "unknown custom id " + prefix,
		}, nil)
		return kairo.Result{Status: kairo.StatusNotFound}, nil
	}

	args := kairo.BindArgs(component.ArgNames(), values)
	err := safe.Run(h.Name()+" "+component.ID(), func() error {
		return component.Exec(ctx, interaction, args)
	})
	if err != nil {
		info, _ := h.Info(component.ID())
		publish(ctx, h.cfg, h.Name(), &kairo.LifecycleEvent{
			Kind:        kairo.LifecycleComponentInvalid,
			Interaction: interaction,
			Err:         err,
		}, &info)
		return kairo.Result{Status: kairo.StatusFailed, ModuleID: component.ID()}, nil
	}

	return kairo.Result{Status: kairo.StatusExecuted, ModuleID: component.ID()}, nil
}

func validateComponent(kind kairo.InteractionKind, module kairo.Module) error {
	component, ok := module.(kairo.Component)
	if !ok {
		return fmt.Errorf("%w: %T is not a component", kairo.ErrInvalidModuleKind, module)
	}
	if bound, ok := module.(kairo.KindBound); ok && bound.InteractionKind() != kind {
		return fmt.Errorf("%w: component %s serves %s, not %s",
			kairo.ErrInvalidModuleKind, component.ID(), bound.InteractionKind(), kind)
	}
	customID := strings.TrimSpace(component.CustomID())
	if customID == "" {
		return fmt.Errorf("%w: component %s has empty custom id", kairo.ErrInvalidModule, component.ID())
	}
	if strings.Contains(customID, kairo.CustomIDSeparator) {
		return fmt.Errorf("%w: component %s custom id %q contains %q",
			kairo.ErrInvalidModule, component.ID(), customID, kairo.CustomIDSeparator)
	}

	return nil
}

func registryOptions(cfg config, alias registry.AliasFunc, validate func(kairo.Module) error) []registry.Option {
	options := []registry.Option{
		registry.WithEvents(cfg.events),
		registry.WithLogger(cfg.logger),
	}
	options = append(options, cfg.registryOptions...)

	return append(options, registry.WithAlias(alias), registry.WithValidator(validate))
}

func publish(ctx context.Context, cfg config, handler string, event *kairo.LifecycleEvent, module *kairo.ModuleInfo) {
	if cfg.events == nil {
		return
	}
	event.Handler = handler
	event.OccurredAt = time.Now().UTC()
	event.Module = module
	if err := cfg.events.Publish(ctx, event); err != nil {
		cfg.logger.WarnContext(ctx, "publish component lifecycle event failed",
			"handler", handler,
			"kind", event.Kind,
			"error", err,
		)
	}
}
