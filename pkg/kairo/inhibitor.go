package kairo

import (
	"context"
	"fmt"
)

// InhibitorPhase selects where in the pipeline an inhibitor runs.
type InhibitorPhase string

const (
	// InhibitorPre runs before a command is resolved and receives no command.
	InhibitorPre InhibitorPhase = "pre"
	// InhibitorPost runs after owner, channel, and permission gates and receives the command.
	InhibitorPost InhibitorPhase = "post"
)

// InhibitorSpec declares how an inhibitor is ordered and reported.
type InhibitorSpec struct {
	// Phase is pre or post.
	Phase InhibitorPhase
	// Priority orders inhibitors ascending. Nil sorts after every declared priority.
	Priority *int
	// Reason is reported when the inhibitor vetoes.
	Reason string
}

// Validate checks phase and reason.
func (s InhibitorSpec) Validate() error {
	switch s.Phase {
	case InhibitorPre, InhibitorPost:
	default:
		return fmt.Errorf("%w: unsupported inhibitor phase %q", ErrInvalidModule, s.Phase)
	}
	if s.Reason == "" {
		return fmt.Errorf("%w: empty inhibitor reason", ErrInvalidModule)
	}

	return nil
}

// Inhibitor vetoes interactions before a command runs.
type Inhibitor interface {
	Module
	// InhibitorSpec returns phase, priority, and reason.
	InhibitorSpec() InhibitorSpec
	// Inhibit returns true to block. command is nil in the pre phase.
	Inhibit(ctx context.Context, interaction *Interaction, command Command) (bool, error)
}

// Priority returns a pointer to p, for InhibitorSpec.Priority literals.
func Priority(p int) *int {
	return &p
}
