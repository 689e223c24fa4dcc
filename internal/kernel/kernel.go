// Package kernel wires the module handlers, the lifecycle event bus, the
// service registry, and drivers into one runtime.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ex-kairo/internal/command"
	"ex-kairo/internal/component"
	"ex-kairo/internal/inhibitor"
	"ex-kairo/internal/listener"
	"ex-kairo/internal/safe"
	"ex-kairo/internal/script"
	"ex-kairo/pkg/kairo"
)

// Kernel is the framework core orchestrating handlers, drivers, and the event bus.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry

	commands     *command.Handler
	inhibitors   *inhibitor.Handler
	buttons      *component.Handler
	selects      *component.Handler
	modals       *component.Handler
	contextMenus *component.ContextMenuHandler
	listeners    *listener.Handler
	loaders      []Loader

	mu          sync.RWMutex
	drivers     map[string]kairo.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a kernel with every handler wired to one bus and service registry.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if cfg.resolver == nil {
		cfg.resolver = script.NewSource(script.WithLogger(cfg.logger))
	}

	kernelRuntime := &Kernel{
		cfg: cfg,
		bus: NewEventBus(
			cfg.subscriptionBuffer,
			cfg.subscriptionWorker,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		services:    NewServiceRegistry(),
		drivers:     make(map[string]kairo.Driver),
		driverOrder: make([]string, 0),
	}
	kernelRuntime.buildHandlers()

	if err := kernelRuntime.services.Register(kairo.ServiceLogger, cfg.logger); err != nil {
		cfg.onAsyncError(context.Background(), "register logger service", err)
	}
	if err := kernelRuntime.services.Register(kairo.ServiceCommandCatalog, kernelRuntime.commands); err != nil {
		cfg.onAsyncError(context.Background(), "register command catalog service", err)
	}

	return kernelRuntime
}

func (k *Kernel) buildHandlers() {
	k.inhibitors = inhibitor.New(append(
		k.registryOptions(inhibitor.HandlerName),
		registryEvents(k.bus, k.cfg.logger)...,
	)...)

	commandOptions := []command.Option{
		command.WithEvents(k.bus),
		command.WithInhibitors(k.inhibitors),
		command.WithLogger(k.cfg.logger),
		command.WithRegistryOptions(k.registryOptions(command.HandlerName)...),
	}
	k.commands = command.New(append(commandOptions, k.cfg.commandOptions...)...)

	componentOptions := func(name string) []component.Option {
		return []component.Option{
			component.WithEvents(k.bus),
			component.WithLogger(k.cfg.logger),
			component.WithRegistryOptions(k.registryOptions(name)...),
		}
	}
	k.buttons = component.NewButtons(componentOptions(component.ButtonHandlerName)...)
	k.selects = component.NewSelects(componentOptions(component.SelectHandlerName)...)
	k.modals = component.NewModals(componentOptions(component.ModalHandlerName)...)
	k.contextMenus = component.NewContextMenus(componentOptions(component.ContextMenuHandlerName)...)

	k.listeners = listener.New(k.bus,
		listener.WithLogger(k.cfg.logger),
		listener.WithRegistryOptions(k.registryOptions(listener.HandlerName)...),
	)

	// Listeners load first so they observe the module.loaded events of the rest.
	k.loaders = []Loader{
		k.listeners,
		k.inhibitors,
		k.commands,
		k.buttons,
		k.selects,
		k.modals,
		k.contextMenus,
	}
}

// EventBus exposes the kernel lifecycle event bus.
func (k *Kernel) EventBus() kairo.EventBus {
	return k.bus
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() kairo.ServiceRegistry {
	return k.services
}

// Commands returns the command handler.
func (k *Kernel) Commands() *command.Handler { return k.commands }

// Inhibitors returns the inhibitor handler.
func (k *Kernel) Inhibitors() *inhibitor.Handler { return k.inhibitors }

// Buttons returns the button handler.
func (k *Kernel) Buttons() *component.Handler { return k.buttons }

// Selects returns the select-menu handler.
func (k *Kernel) Selects() *component.Handler { return k.selects }

// Modals returns the modal handler.
func (k *Kernel) Modals() *component.Handler { return k.modals }

// ContextMenus returns the context-menu handler.
func (k *Kernel) ContextMenus() *component.ContextMenuHandler { return k.contextMenus }

// Listeners returns the listener handler.
func (k *Kernel) Listeners() *listener.Handler { return k.listeners }

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterDriver registers an interaction driver.
func (k *Kernel) RegisterDriver(driver kairo.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, kairo.ErrDriverAlreadyRegistered)
	}

	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Dispatch routes one interaction to the handler for its kind.
func (k *Kernel) Dispatch(ctx context.Context, interaction *kairo.Interaction) (kairo.Result, error) {
	if err := interaction.Validate(); err != nil {
		return kairo.Result{}, fmt.Errorf("dispatch: %w", err)
	}

	switch interaction.Kind {
	case kairo.InteractionKindCommand, kairo.InteractionKindAutocomplete:
		return k.commands.Handle(ctx, interaction)
	case kairo.InteractionKindButton:
		return k.buttons.Handle(ctx, interaction)
	case kairo.InteractionKindSelect:
		return k.selects.Handle(ctx, interaction)
	case kairo.InteractionKindModal:
		return k.modals.Handle(ctx, interaction)
	case kairo.InteractionKindContextMenu:
		return k.contextMenus.Handle(ctx, interaction)
	default:
		return kairo.Result{Status: kairo.StatusIgnored}, nil
	}
}

// Run runs drivers and blocks until cancellation or fatal driver error, then shuts down.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	runCancel()
	waitDrivers()

	shutdownErr := k.Shutdown(ctx)

	if isContextCancellation(runErr) {
		runErr = nil
	}

	return errors.Join(runErr, shutdownErr)
}

// startRun serializes Run invocations and rejects concurrent starts.
func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

// finishRun releases the single-run guard set by startRun.
func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startDrivers runs all registered drivers concurrently and returns:
// - an error channel delivering the first fatal driver error, and
// - a wait function that blocks for driver completion up to shutdown timeout.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	workerWG := &sync.WaitGroup{}

	drivers := k.snapshotDrivers()
	for _, driver := range drivers {
		workerWG.Add(1)
		go func(adapter kairo.Driver) {
			defer workerWG.Done()
			err := safe.Run("driver "+adapter.Name()+" start", func() error {
				return adapter.Start(ctx, k)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errChannel <- fmt.Errorf("run driver %s: %w", adapter.Name(), err):
			default:
			}
		}(driver)
	}

	go func() {
		workerWG.Wait()
		close(done)
	}()

	// With drivers registered, the kernel stops once they have all returned.
	if len(drivers) > 0 {
		go func() {
			<-done
			select {
			case errChannel <- context.Canceled:
			default:
			}
		}()
	}

	wait := func() {
		timer := time.NewTimer(k.cfg.shutdownTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		}
	}

	return errChannel, wait
}

// Shutdown stops drivers, removes every module, stops cooldown timers, and
// closes the bus within the shutdown timeout. Listeners still receive the
// module.removed events queued before the bus closed. It runs once; later calls
// return the first result.
func (k *Kernel) Shutdown(ctx context.Context) error {
	k.closeOnce.Do(func() {
		k.closeErr = k.shutdownAll(ctx)
	})

	return k.closeErr
}

// shutdownAll uses WithoutCancel so cleanup still runs after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := k.shutdownDrivers(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if err := k.RemoveAll(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	k.commands.Close()
	if err := k.bus.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

// shutdownDrivers executes driver Shutdown in reverse registration order.
func (k *Kernel) shutdownDrivers(ctx context.Context) error {
	drivers := k.snapshotDrivers()

	var shutdownErr error
	for idx := len(drivers) - 1; idx >= 0; idx-- {
		driver := drivers[idx]
		err := safe.Run("driver "+driver.Name()+" shutdown", func() error {
			return driver.Shutdown(ctx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}

	return shutdownErr
}

func (k *Kernel) snapshotDrivers() []kairo.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]kairo.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		drivers = append(drivers, k.drivers[name])
	}

	return drivers
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

var _ kairo.InteractionSink = (*Kernel)(nil)
