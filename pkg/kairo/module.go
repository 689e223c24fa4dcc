package kairo

import "context"

// DefaultCategory is the category assigned to modules that do not declare one.
const DefaultCategory = "default"

// Module is the unit every registry loads, tracks, and reloads.
//
// ID must be stable across reloads of the same artifact; it is the key the
// registry uses for lookup, removal, and hot replacement.
type Module interface {
	// ID returns the registry-unique module identifier.
	ID() string
	// Category returns the declared category, or "" for DefaultCategory.
	Category() string
}

// Initializer is implemented by modules that resolve runtime services when registered.
//
// Init runs on every registration, including the one performed by a reload.
type Initializer interface {
	Init(ctx context.Context, services ServiceRegistry) error
}

// Releaser is implemented by modules that hold resources which must be freed
// once the module leaves its registry through remove or reload.
type Releaser interface {
	Release() error
}

// ModuleInfo is a read-only snapshot of one registered module.
type ModuleInfo struct {
	// ID is the module identifier.
	ID string
	// Category is the category the registry filed the module under.
	Category string
	// Source is the artifact path the module was resolved from, empty for instances.
	Source string
	// Handler names the registry that owns the module.
	Handler string
}

// Driver adapts an external interaction source into the kernel.
//
// Drivers own transport concerns and deliver only kairo.Interaction values.
type Driver interface {
	// Name returns a stable driver identifier.
	Name() string
	// Start consumes external updates and dispatches them through sink.
	// It should return only after context cancellation or fatal error.
	Start(ctx context.Context, sink InteractionSink) error
	// Shutdown stops external resources that are not tied to Start context alone.
	Shutdown(ctx context.Context) error
}

// InteractionSink accepts interactions from drivers.
type InteractionSink interface {
	// Dispatch routes one interaction to the dispatcher for its kind.
	Dispatch(ctx context.Context, interaction *Interaction) (Result, error)
}
