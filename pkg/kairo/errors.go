package kairo

import "errors"

var (
	// ErrInvalidModuleKind indicates that a resolved module does not implement the handler's module kind.
	ErrInvalidModuleKind = errors.New("kairo: invalid module kind")
	// ErrDuplicateIdentifier indicates that a module id is already loaded in a registry.
	ErrDuplicateIdentifier = errors.New("kairo: duplicate module identifier")
	// ErrModuleNotFound indicates a module lookup miss on remove or reload.
	ErrModuleNotFound = errors.New("kairo: module not found")
	// ErrNameConflict indicates that a dispatch name is already claimed by another module.
	ErrNameConflict = errors.New("kairo: dispatch name conflict")
	// ErrInvalidModule indicates that a module definition does not satisfy its contract.
	ErrInvalidModule = errors.New("kairo: invalid module")
	// ErrNotReloadable indicates that a module has no source artifact to reload from.
	ErrNotReloadable = errors.New("kairo: module not reloadable")
	// ErrInvalidInteraction indicates that an interaction does not satisfy protocol invariants.
	ErrInvalidInteraction = errors.New("kairo: invalid interaction")
	// ErrInvalidEvent indicates that a lifecycle event does not satisfy protocol invariants.
	ErrInvalidEvent = errors.New("kairo: invalid lifecycle event")
	// ErrInvalidSubscription indicates that a subscription configuration is invalid.
	ErrInvalidSubscription = errors.New("kairo: invalid subscription")
	// ErrSubscriptionClosed indicates that a subscription is no longer active.
	ErrSubscriptionClosed = errors.New("kairo: subscription closed")
	// ErrEventDropped indicates a non-blocking backpressure drop.
	ErrEventDropped = errors.New("kairo: event dropped due to backpressure")
	// ErrServiceAlreadyRegistered indicates duplicate service registration.
	ErrServiceAlreadyRegistered = errors.New("kairo: service already registered")
	// ErrServiceNotFound indicates a service lookup miss.
	ErrServiceNotFound = errors.New("kairo: service not found")
	// ErrDriverAlreadyRegistered indicates duplicate driver registration.
	ErrDriverAlreadyRegistered = errors.New("kairo: driver already registered")
)
