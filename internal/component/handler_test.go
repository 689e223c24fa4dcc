package component

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ex-kairo/pkg/kairo"
)

type stubComponent struct {
	id       string
	customID string
	argNames []string
	err      error
	lastArgs map[string]string
	calls    atomic.Int32
}

func (c *stubComponent) ID() string         { return c.id }
func (c *stubComponent) Category() string   { return "" }
func (c *stubComponent) CustomID() string   { return c.customID }
func (c *stubComponent) ArgNames() []string { return c.argNames }

func (c *stubComponent) Exec(_ context.Context, _ *kairo.Interaction, args map[string]string) error {
	c.calls.Add(1)
	c.lastArgs = args
	return c.err
}

type stubMenu struct {
	id    string
	name  string
	err   error
	calls atomic.Int32
}

func (m *stubMenu) ID() string       { return m.id }
func (m *stubMenu) Category() string { return "" }
func (m *stubMenu) Name() string     { return m.name }

func (m *stubMenu) Exec(context.Context, *kairo.Interaction) error {
	m.calls.Add(1)
	return m.err
}

type recordingSink struct {
	mu        sync.Mutex
	events    []*kairo.LifecycleEvent
	listening bool
}

func (s *recordingSink) Publish(_ context.Context, event *kairo.LifecycleEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) HasSubscribers(kind kairo.LifecycleKind, _ string) bool {
	return s.listening && kind == kairo.LifecycleError
}

func (s *recordingSink) count(kind kairo.LifecycleKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.events {
		if event.Kind == kind {
			count++
		}
	}
	return count
}

func componentInteraction(kind kairo.InteractionKind, customID string) *kairo.Interaction {
	return &kairo.Interaction{
		ID:        "i-1",
		Kind:      kind,
		CustomID:  customID,
		User:      kairo.Actor{ID: "u1"},
		CreatedAt: time.Unix(1_700_000_000, 0),
	}
}

func TestHandlerBindsCustomIDArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		customID string
		want     map[string]string
	}{
		{name: "all segments", customID: "vote_42_up", want: map[string]string{"poll": "42", "direction": "up"}},
		{name: "missing segment", customID: "vote_42", want: map[string]string{"poll": "42", "direction": ""}},
		{name: "prefix only", customID: "vote", want: map[string]string{"poll": "", "direction": ""}},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			vote := &stubComponent{id: "vote", customID: "vote", argNames: []string{"poll", "direction"}}
			handler := NewButtons(WithEvents(&recordingSink{}))
			if err := handler.LoadModule(context.Background(), vote); err != nil {
				t.Fatalf("LoadModule() error = %v", err)
			}

			result, err := handler.Handle(context.Background(), componentInteraction(kairo.InteractionKindButton, testCase.customID))
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if result.Status != kairo.StatusExecuted {
				t.Fatalf("status = %s, want %s", result.Status, kairo.StatusExecuted)
			}
			for name, want := range testCase.want {
				if got := vote.lastArgs[name]; got != want {
					t.Fatalf("arg %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestHandlerInvalidComponent(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	broken := &stubComponent{id: "broken", customID: "broken", err: errors.New("stale message")}
	handler := NewSelects(WithEvents(sink))
	if err := handler.LoadModule(context.Background(), broken); err != nil {
		t.Fatalf("LoadModule() error = %v", err)
	}

	result, err := handler.Handle(context.Background(), componentInteraction(kairo.InteractionKindSelect, "missing_1"))
	if err != nil {
		t.Fatalf("Handle(missing) error = %v", err)
	}
	if result.Status != kairo.StatusNotFound {
		t.Fatalf("status = %s, want %s", result.Status, kairo.StatusNotFound)
	}

	result, err = handler.Handle(context.Background(), componentInteraction(kairo.InteractionKindSelect, "broken"))
	if err != nil {
		t.Fatalf("Handle(broken) error = %v", err)
	}
	if result.Status != kairo.StatusFailed {
		t.Fatalf("status = %s, want %s", result.Status, kairo.StatusFailed)
	}
	if got := sink.count(kairo.LifecycleComponentInvalid); got != 2 {
		t.Fatalf("component.invalid events = %d, want 2", got)
	}

	result, _ = handler.Handle(context.Background(), componentInteraction(kairo.InteractionKindModal, "broken"))
	if result.Status != kairo.StatusIgnored {
		t.Fatalf("modal on select handler status = %s, want %s", result.Status, kairo.StatusIgnored)
	}
}

func TestHandlerRejectsSeparatorInCustomID(t *testing.T) {
	t.Parallel()

	handler := NewModals()
	err := handler.LoadModule(context.Background(), &stubComponent{id: "bad", customID: "a_b"})
	if !errors.Is(err, kairo.ErrInvalidModule) {
		t.Fatalf("LoadModule() error = %v, want ErrInvalidModule", err)
	}
	if handler.Len() != 0 {
		t.Fatalf("len = %d, want 0", handler.Len())
	}
}

func TestContextMenuHandler(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	tests := []struct {
		name      string
		menuErr   error
		listening bool
		want      kairo.Status
		wantErr   bool
	}{
		{name: "executes", want: kairo.StatusExecuted},
		{name: "failure without listener", menuErr: boom, want: kairo.StatusFailed, wantErr: true},
		{name: "failure with listener", menuErr: boom, listening: true, want: kairo.StatusFailed},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			sink := &recordingSink{listening: testCase.listening}
			menu := &stubMenu{id: "report", name: "Report Message", err: testCase.menuErr}
			handler := NewContextMenus(WithEvents(sink))
			if err := handler.LoadModule(context.Background(), menu); err != nil {
				t.Fatalf("LoadModule() error = %v", err)
			}

			interaction := componentInteraction(kairo.InteractionKindContextMenu, "")
			interaction.CommandName = "report message"
			result, err := handler.Handle(context.Background(), interaction)
			if (err != nil) != testCase.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, testCase.wantErr)
			}
			if testCase.wantErr && !errors.Is(err, boom) {
				t.Fatalf("Handle() error = %v, want boom", err)
			}
			if result.Status != testCase.want {
				t.Fatalf("status = %s, want %s", result.Status, testCase.want)
			}
			if testCase.listening && sink.count(kairo.LifecycleError) != 1 {
				t.Fatalf("error events = %d, want 1", sink.count(kairo.LifecycleError))
			}
		})
	}
}

type boundComponent struct {
	stubComponent
	kind kairo.InteractionKind
}

func (c *boundComponent) InteractionKind() kairo.InteractionKind { return c.kind }

func TestHandlerRejectsComponentOfOtherKind(t *testing.T) {
	t.Parallel()

	handler := NewButtons()
	err := handler.LoadModule(context.Background(), &boundComponent{
		stubComponent: stubComponent{id: "pick", customID: "pick"},
		kind:          kairo.InteractionKindSelect,
	})
	if !errors.Is(err, kairo.ErrInvalidModuleKind) {
		t.Fatalf("LoadModule() error = %v, want ErrInvalidModuleKind", err)
	}
}
