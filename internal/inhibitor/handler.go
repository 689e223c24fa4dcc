// Package inhibitor runs inhibitor modules as an ordered veto chain.
package inhibitor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"ex-kairo/internal/registry"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// HandlerName is the lifecycle handler name of the inhibitor registry.
const HandlerName = "inhibitors"

// Handler owns the inhibitor registry and evaluates it per phase.
type Handler struct {
	*registry.Registry[kairo.Inhibitor]
}

// New creates an inhibitor handler. Options configure the underlying registry.
func New(options ...registry.Option) *Handler {
	options = append(options, registry.WithValidator(validate))

	return &Handler{
		Registry: registry.New[kairo.Inhibitor](HandlerName, options...),
	}
}

// Test runs the inhibitors of phase in ascending priority and returns the
// reason of the first one that vetoes. Later inhibitors are not evaluated once
// one vetoes. command is nil for the pre phase.
func (h *Handler) Test(
	ctx context.Context,
	phase kairo.InhibitorPhase,
	interaction *kairo.Interaction,
	command kairo.Command,
) (string, bool, error) {
	if h == nil {
		return "", false, nil
	}

	for _, inhibitor := range h.ordered(phase) {
		spec := inhibitor.InhibitorSpec()
		blocked, err := safe.Value("inhibitor "+inhibitor.ID(), func() (bool, error) {
			return inhibitor.Inhibit(ctx, interaction, command)
		})
		if err != nil {
			return "", false, fmt.Errorf("test %s inhibitors: %w", phase, err)
		}
		if blocked {
			return spec.Reason, true, nil
		}
	}

	return "", false, nil
}

// ordered returns the inhibitors of phase sorted by priority, keeping load
// order between equal priorities. Undeclared priorities sort last.
func (h *Handler) ordered(phase kairo.InhibitorPhase) []kairo.Inhibitor {
	type ranked struct {
		inhibitor kairo.Inhibitor
		priority  int
	}

	candidates := make([]ranked, 0)
	for _, inhibitor := range h.Modules() {
		spec := inhibitor.InhibitorSpec()
		if spec.Phase != phase {
			continue
		}
		priority := math.MaxInt
		if spec.Priority != nil {
			priority = *spec.Priority
		}
		candidates = append(candidates, ranked{inhibitor: inhibitor, priority: priority})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority < candidates[j].priority
	})

	ordered := make([]kairo.Inhibitor, 0, len(candidates))
	for _, candidate := range candidates {
		ordered = append(ordered, candidate.inhibitor)
	}

	return ordered
}

func validate(module kairo.Module) error {
	inhibitor, ok := module.(kairo.Inhibitor)
	if !ok {
		return fmt.Errorf("%w: %T is not an inhibitor", kairo.ErrInvalidModuleKind, module)
	}
	if err := inhibitor.InhibitorSpec().Validate(); err != nil {
		return fmt.Errorf("inhibitor %s: %w", inhibitor.ID(), err)
	}

	return nil
}
