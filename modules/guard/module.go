// Package guard provides the built-in pre inhibitors that keep the runtime
// from answering itself or other automated accounts.
package guard

import (
	"context"
	"strings"

	"ex-kairo/pkg/kairo"
)

// ClientBlocker vetoes interactions triggered by the runtime's own identity.
type ClientBlocker struct {
	clientID string
}

// NewClientBlocker creates a client blocker for clientID.
// An empty clientID never blocks.
func NewClientBlocker(clientID string) *ClientBlocker {
	return &ClientBlocker{clientID: strings.TrimSpace(clientID)}
}

// ID returns the stable module identifier.
func (b *ClientBlocker) ID() string { return "block_client" }

// Category files the blocker under the built-in category.
func (b *ClientBlocker) Category() string { return "builtin" }

// InhibitorSpec runs first in the pre phase.
func (b *ClientBlocker) InhibitorSpec() kairo.InhibitorSpec {
	return kairo.InhibitorSpec{
		Phase:    kairo.InhibitorPre,
		Priority: kairo.Priority(-2),
		Reason:   kairo.ReasonClient,
	}
}

// Inhibit blocks when the interaction user is the client.
func (b *ClientBlocker) Inhibit(_ context.Context, interaction *kairo.Interaction, _ kairo.Command) (bool, error) {
	return b.clientID != "" && interaction.User.ID == b.clientID, nil
}

// BotBlocker vetoes interactions triggered by automated accounts.
type BotBlocker struct{}

// NewBotBlocker creates a bot blocker.
func NewBotBlocker() *BotBlocker {
	return &BotBlocker{}
}

// ID returns the stable module identifier.
func (b *BotBlocker) ID() string { return "block_bots" }

// Category files the blocker under the built-in category.
func (b *BotBlocker) Category() string { return "builtin" }

// InhibitorSpec runs right after the client blocker.
func (b *BotBlocker) InhibitorSpec() kairo.InhibitorSpec {
	return kairo.InhibitorSpec{
		Phase:    kairo.InhibitorPre,
		Priority: kairo.Priority(-1),
		Reason:   kairo.ReasonBot,
	}
}

// Inhibit blocks when the interaction user is a bot.
func (b *BotBlocker) Inhibit(_ context.Context, interaction *kairo.Interaction, _ kairo.Command) (bool, error) {
	return interaction.User.Bot, nil
}

// Modules returns the enabled blockers.
func Modules(blockClient bool, clientID string, blockBots bool) []kairo.Inhibitor {
	modules := make([]kairo.Inhibitor, 0, 2)
	if blockClient {
		modules = append(modules, NewClientBlocker(clientID))
	}
	if blockBots {
		modules = append(modules, NewBotBlocker())
	}

	return modules
}

var (
	_ kairo.Inhibitor = (*ClientBlocker)(nil)
	_ kairo.Inhibitor = (*BotBlocker)(nil)
)
