// Package ping provides the built-in ping command.
package ping

import (
	"context"
	"fmt"
	"time"

	"ex-kairo/pkg/kairo"
)

const commandName = "ping"

// Module replies with "pong!" and the delay since the interaction was created.
type Module struct {
	now func() time.Time
}

// New creates a ping command with the wall clock.
func New() *Module {
	return &Module{now: time.Now}
}

// ID returns the stable module identifier.
func (m *Module) ID() string {
	return commandName
}

// Category files ping under the built-in category.
func (m *Module) Category() string {
	return "builtin"
}

// Spec declares the ping command.
func (m *Module) Spec() kairo.CommandSpec {
	return kairo.CommandSpec{
		Name:        commandName,
		Description: "reply with pong! and the dispatch latency",
		Cooldown:    kairo.Duration(time.Second),
		Ratelimit:   3,
	}
}

// Exec renders the reply text.
func (m *Module) Exec(_ context.Context, interaction *kairo.Interaction) (any, error) {
	if interaction.CreatedAt.IsZero() {
		return "pong!", nil
	}

	latency := m.now().Sub(interaction.CreatedAt)
	if latency < 0 {
		latency = 0
	}

	return fmt.Sprintf("pong! (%dms)", latency.Milliseconds()), nil
}

var _ kairo.Command = (*Module)(nil)
