package kairo

import (
	"context"
	"time"
)

// BackpressurePolicy defines how queues behave when subscriber buffers are full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec configures a single consumer subscription.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// EventHandler processes one lifecycle event.
type EventHandler func(ctx context.Context, event *LifecycleEvent) error

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// EventSink accepts lifecycle events from handlers.
type EventSink interface {
	// Publish submits an event to matching subscribers.
	Publish(ctx context.Context, event *LifecycleEvent) error
	// HasSubscribers reports whether any subscription would receive kind from handler.
	HasSubscribers(kind LifecycleKind, handler string) bool
}

// EventBus is the asynchronous lifecycle pub/sub contract owned by the kernel.
type EventBus interface {
	EventSink
	// Subscribe registers a handler with bounded buffering semantics.
	Subscribe(
		ctx context.Context,
		interest LifecycleInterest,
		spec SubscriptionSpec,
		handler EventHandler,
	) (Subscription, error)
	// Close shuts down the bus and all active subscriptions.
	Close(ctx context.Context) error
}

// NewDefaultSubscriptionSpec returns the baseline subscription settings.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{
		Name:         name,
		Backpressure: BackpressureBlock,
	}
}
