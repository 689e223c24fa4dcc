package kernel

import (
	"errors"
	"log/slog"
	"testing"

	"ex-kairo/pkg/kairo"
)

func TestServiceRegistryRegisterAndResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		register  []string
		resolve   string
		wantErr   error
		wantNames int
	}{
		{name: "register and resolve", register: []string{"cache"}, resolve: "cache", wantNames: 1},
		{name: "duplicate registration", register: []string{"db", "db"}, resolve: "db", wantErr: kairo.ErrServiceAlreadyRegistered, wantNames: 1},
		{name: "missing service", register: nil, resolve: "absent", wantErr: kairo.ErrServiceNotFound},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			registry := NewServiceRegistry()
			var registerErr error
			for _, name := range testCase.register {
				if err := registry.Register(name, name+"-value"); err != nil {
					registerErr = err
				}
			}

			_, resolveErr := registry.Resolve(testCase.resolve)
			gotErr := registerErr
			if gotErr == nil {
				gotErr = resolveErr
			}
			if testCase.wantErr == nil && gotErr != nil {
				t.Fatalf("unexpected error: %v", gotErr)
			}
			if testCase.wantErr != nil && !errors.Is(gotErr, testCase.wantErr) {
				t.Fatalf("error = %v, want %v", gotErr, testCase.wantErr)
			}
			if got := len(registry.Names()); got != testCase.wantNames {
				t.Fatalf("names = %d, want %d", got, testCase.wantNames)
			}
		})
	}
}

func TestServiceRegistryRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	if err := registry.Register(" ", "x"); err == nil {
		t.Fatal("expected empty name registration to fail")
	}
	if err := registry.Register("nil", nil); err == nil {
		t.Fatal("expected nil service registration to fail")
	}
}

func TestResolveAsCastsService(t *testing.T) {
	t.Parallel()

	registry := NewServiceRegistry()
	logger := slog.Default()
	if err := registry.Register(kairo.ServiceLogger, logger); err != nil {
		t.Fatalf("register logger: %v", err)
	}

	resolved, err := kairo.ResolveAs[*slog.Logger](registry, kairo.ServiceLogger)
	if err != nil {
		t.Fatalf("ResolveAs() error = %v", err)
	}
	if resolved != logger {
		t.Fatal("ResolveAs() returned a different logger")
	}
	if _, err := kairo.ResolveAs[string](registry, kairo.ServiceLogger); err == nil {
		t.Fatal("expected mismatched type to fail")
	}
}
