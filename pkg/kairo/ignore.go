package kairo

import (
	"context"
	"slices"
)

// IgnorePredicate decides whether an interaction bypasses a check for a command.
type IgnorePredicate func(ctx context.Context, interaction *Interaction, command Command) (bool, error)

// IgnorePolicy selects subjects that bypass cooldown or user permission checks.
//
// A policy matches when the invoking user id is in IDs or Predicate returns true.
// A single static id is expressed as a one-element IDs slice.
type IgnorePolicy struct {
	IDs       []string
	Predicate IgnorePredicate
}

// IgnoreIDs builds a policy that matches the given subject ids.
func IgnoreIDs(ids ...string) *IgnorePolicy {
	return &IgnorePolicy{IDs: slices.Clone(ids)}
}

// IgnoreFunc builds a policy backed by predicate.
func IgnoreFunc(predicate IgnorePredicate) *IgnorePolicy {
	return &IgnorePolicy{Predicate: predicate}
}

// Matches evaluates the policy. A nil policy never matches.
func (p *IgnorePolicy) Matches(ctx context.Context, interaction *Interaction, command Command) (bool, error) {
	if p == nil || interaction == nil {
		return false, nil
	}
	if slices.Contains(p.IDs, interaction.User.ID) {
		return true, nil
	}
	if p.Predicate == nil {
		return false, nil
	}

	return p.Predicate(ctx, interaction, command)
}
