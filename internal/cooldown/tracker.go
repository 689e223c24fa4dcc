// Package cooldown tracks per-user command usage windows.
//
// Each window is owned by an expiry timer: the window ends when the timer
// fires and deletes the entry, not when a later request compares timestamps.
// A request that arrives after the nominal window end but before the timer
// has run still counts against the old window.
package cooldown

import (
	"sync"
	"time"
)

// Timer is the handle of a scheduled expiry.
type Timer interface {
	Stop() bool
}

// Clock schedules expiry callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Decision is the outcome of one Hit.
type Decision struct {
	// Allowed reports whether the use fits in the current window.
	Allowed bool
	// Uses is the number of uses counted in the window after this call.
	Uses int
	// Remaining is the time left in the window, measured from the use timestamp.
	Remaining time.Duration
}

type entry struct {
	uses  int
	end   time.Time
	timer Timer
}

// Tracker holds open windows keyed by user then command.
type Tracker struct {
	clock Clock

	mu     sync.Mutex
	users  map[string]map[string]*entry
	closed bool
}

// Option mutates tracker construction.
type Option func(*Tracker)

// WithClock replaces the wall clock used to schedule expiry.
func WithClock(clock Clock) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// New creates an empty tracker.
func New(options ...Option) *Tracker {
	tracker := &Tracker{
		clock: systemClock{},
		users: make(map[string]map[string]*entry),
	}
	for _, option := range options {
		option(tracker)
	}

	return tracker
}

// Hit counts one use of commandID by userID made at at. A window of zero or
// less disables the cooldown. ratelimit is the number of uses a window allows.
func (t *Tracker) Hit(userID string, commandID string, at time.Time, window time.Duration, ratelimit int) Decision {
	if window <= 0 {
		return Decision{Allowed: true}
	}
	if ratelimit < 1 {
		ratelimit = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return Decision{Allowed: true}
	}

	commands, exists := t.users[userID]
	if !exists {
		commands = make(map[string]*entry)
		t.users[userID] = commands
	}

	current, exists := commands[commandID]
	if !exists {
		current = &entry{end: at.Add(window)}
		current.timer = t.clock.AfterFunc(window, func() {
			t.expire(userID, commandID, current)
		})
		commands[commandID] = current
	}

	remaining := current.end.Sub(at)
	if remaining < 0 {
		remaining = 0
	}
	if current.uses >= ratelimit {
		return Decision{Allowed: false, Uses: current.uses, Remaining: remaining}
	}
	current.uses++

	return Decision{Allowed: true, Uses: current.uses, Remaining: remaining}
}

// Uses returns the uses counted in the open window of userID and commandID.
func (t *Tracker) Uses(userID string, commandID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.users[userID][commandID]
	if !exists {
		return 0, false
	}

	return current.uses, true
}

// Users returns how many users have at least one open window.
func (t *Tracker) Users() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.users)
}

// Close stops every expiry timer and disables further tracking.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, commands := range t.users {
		for _, current := range commands {
			current.timer.Stop()
		}
	}
	t.users = make(map[string]map[string]*entry)
}

// expire deletes the window owned by expired. A window that was already
// replaced or reset is left alone.
func (t *Tracker) expire(userID string, commandID string, expired *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, exists := t.users[userID][commandID]; exists && current == expired {
		t.deleteLocked(userID, commandID)
	}
}

func (t *Tracker) deleteLocked(userID string, commandID string) {
	commands := t.users[userID]
	delete(commands, commandID)
	if len(commands) == 0 {
		delete(t.users, userID)
	}
}
