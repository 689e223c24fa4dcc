// Package listener attaches listener modules to the lifecycle event bus.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"ex-kairo/internal/registry"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// HandlerName is the lifecycle handler name of the listener registry.
const HandlerName = "listeners"

type config struct {
	template        kairo.SubscriptionSpec
	logger          *slog.Logger
	registryOptions []registry.Option
}

// Option mutates listener handler construction configuration.
type Option func(*config)

// WithSubscriptionTemplate configures buffering for listener subscriptions.
// The name is always derived from the listener id.
func WithSubscriptionTemplate(spec kairo.SubscriptionSpec) Option {
	return func(cfg *config) {
		cfg.template = spec
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

// Handler owns listener modules and their bus subscriptions.
//
// Registering a listener subscribes it; deregistering closes its
// subscription. During a reload the new instance subscribes before the old
// one is closed, so no window exists without a subscriber.
type Handler struct {
	*registry.Registry[kairo.Listener]

	bus kairo.EventBus
	cfg config

	mu            sync.Mutex
	subscriptions map[kairo.Listener]kairo.Subscription
}

// New creates a listener handler subscribing on bus.
func New(bus kairo.EventBus, options ...Option) *Handler {
	cfg := config{
		template: kairo.NewDefaultSubscriptionSpec(""),
		logger:   slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	handler := &Handler{
		bus:           bus,
		cfg:           cfg,
		subscriptions: make(map[kairo.Listener]kairo.Subscription),
	}

	registryOptions := []registry.Option{
		registry.WithEvents(bus),
		registry.WithLogger(cfg.logger),
	}
	registryOptions = append(registryOptions, cfg.registryOptions...)
	registryOptions = append(registryOptions,
		registry.WithValidator(validate),
		registry.WithHooks(handler.attach, handler.detach),
	)
	handler.Registry = registry.New[kairo.Listener](HandlerName, registryOptions...)

	return handler
}

// Subscriptions returns the number of attached listeners.
func (h *Handler) Subscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.subscriptions)
}

func (h *Handler) attach(ctx context.Context, module kairo.Module) error {
	if h.bus == nil {
		return fmt.Errorf("attach listener %s: no event bus", module.ID())
	}
	listener := module.(kairo.Listener)

	spec := h.cfg.template
	spec.Name = "listener:" + listener.ID()
	subscription, err := h.bus.Subscribe(
		ctx,
		kairo.LifecycleInterest{Kinds: listener.Events()},
		spec,
		func(ctx context.Context, event *kairo.LifecycleEvent) error {
			return safe.Run("listener "+listener.ID(), func() error {
				return listener.Handle(ctx, event)
			})
		},
	)
	if err != nil {
		return fmt.Errorf("attach listener %s: %w", listener.ID(), err)
	}

	h.mu.Lock()
	h.subscriptions[listener] = subscription
	h.mu.Unlock()

	return nil
}

func (h *Handler) detach(ctx context.Context, module kairo.Module) error {
	listener := module.(kairo.Listener)

	h.mu.Lock()
	subscription, exists := h.subscriptions[listener]
	delete(h.subscriptions, listener)
	h.mu.Unlock()
	if !exists {
		return nil
	}

	if err := subscription.Close(ctx); err != nil {
		return fmt.Errorf("detach listener %s: %w", listener.ID(), err)
	}

	return nil
}

func validate(module kairo.Module) error {
	listener, ok := module.(kairo.Listener)
	if !ok {
		return fmt.Errorf("%w: %T is not a listener", kairo.ErrInvalidModuleKind, module)
	}
	if !reflect.TypeOf(listener).Comparable() {
		return fmt.Errorf("%w: listener %s must be a comparable type", kairo.ErrInvalidModule, listener.ID())
	}
	if len(listener.Events()) == 0 {
		return fmt.Errorf("%w: listener %s declares no events", kairo.ErrInvalidModule, listener.ID())
	}

	return nil
}
