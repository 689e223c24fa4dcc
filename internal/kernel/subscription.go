package kernel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// subscription owns the queue and workers of one subscriber.
//
// Closing happens in two steps: stopping refuses new events and lets workers
// drain the queue, and cancel aborts in-flight handlers when the drain runs
// out of time.
type subscription struct {
	id       int64
	interest kairo.LifecycleInterest
	spec     kairo.SubscriptionSpec
	handler  kairo.EventHandler
	bus      *EventBus

	queue    chan *kairo.LifecycleEvent
	ctx      context.Context
	cancel   context.CancelFunc
	stopping chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	stopOnce sync.Once
}

func newSubscription(
	subID int64,
	interest kairo.LifecycleInterest,
	spec kairo.SubscriptionSpec,
	handler kairo.EventHandler,
	bus *EventBus,
) *subscription {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id: subID,
		interest: kairo.LifecycleInterest{
			Kinds:    slices.Clone(interest.Kinds),
			Handlers: slices.Clone(interest.Handlers),
		},
		spec:     spec,
		handler:  handler,
		bus:      bus,
		queue:    make(chan *kairo.LifecycleEvent, spec.Buffer),
		ctx:      subCtx,
		cancel:   cancel,
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}

	var workers sync.WaitGroup
	for workerID := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.work(workerID)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

// Name returns the stable subscription name.
func (s *subscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its parent bus.
func (s *subscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

// enqueue applies the configured backpressure policy.
func (s *subscription) enqueue(ctx context.Context, event *kairo.LifecycleEvent) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, kairo.ErrSubscriptionClosed)
	}

	switch s.spec.Backpressure {
	case kairo.BackpressureDropNewest:
		select {
		case s.queue <- event:
			return nil
		default:
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, kairo.ErrEventDropped)
		}
	case kairo.BackpressureDropOldest:
		for attempt := 0; attempt < 2; attempt++ {
			select {
			case s.queue <- event:
				return nil
			default:
			}
			// Evict one queued event and retry once.
			select {
			case <-s.queue:
			default:
			}
		}
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, kairo.ErrEventDropped)
	case kairo.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-s.stopping:
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, kairo.ErrSubscriptionClosed)
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		}
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, kairo.ErrInvalidSubscription)
	}
}

// work handles queued events until the subscription stops, then drains what
// is left unless the subscription was aborted.
func (s *subscription) work(workerID int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.stopping:
			s.drain(workerID)
			return
		case event := <-s.queue:
			if s.ctx.Err() != nil {
				return
			}
			s.deliver(workerID, event)
		}
	}
}

func (s *subscription) drain(workerID int) {
	for s.ctx.Err() == nil {
		select {
		case event := <-s.queue:
			s.deliver(workerID, event)
		default:
			return
		}
	}
}

// deliver runs the handler under the handler timeout and panic recovery.
// Failures go to the bus async error sink.
func (s *subscription) deliver(workerID int, event *kairo.LifecycleEvent) {
	handlerCtx, cancel := s.ctx, context.CancelFunc(func() {})
	if s.spec.HandlerTimeout > 0 {
		handlerCtx, cancel = context.WithTimeout(s.ctx, s.spec.HandlerTimeout)
	}
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	err := safe.Run(scope, func() error {
		return s.handler(handlerCtx, event)
	})
	if err != nil {
		s.bus.reportAsyncError(s.ctx, s.spec.Name, fmt.Errorf("handle event %s from %s: %w", event.Kind, event.Handler, err))
	}
}

// stop refuses new events and starts the drain. It is idempotent.
func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		s.closed.Store(true)
		close(s.stopping)
	})
}

// abort stops the subscription without draining.
func (s *subscription) abort() {
	s.cancel()
	s.stop()
}

// shutdown stops the subscription and waits for the drain. When ctx expires
// first the subscription is aborted.
func (s *subscription) shutdown(ctx context.Context) error {
	s.stop()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
