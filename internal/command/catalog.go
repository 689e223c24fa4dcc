package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ex-kairo/pkg/kairo"
)

// ListCommands returns loaded commands sorted by name, then id.
func (h *Handler) ListCommands(ctx context.Context) ([]kairo.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if h == nil {
		return nil, fmt.Errorf("list commands: nil handler")
	}

	infos := h.Infos()
	commands := make([]kairo.RegisteredCommand, 0, len(infos))
	for _, info := range infos {
		command, ok := h.Get(info.ID)
		if !ok {
			continue
		}
		spec := command.Spec()
		commands = append(commands, kairo.RegisteredCommand{
			ID:          info.ID,
			Name:        strings.ToLower(spec.Name),
			Category:    info.Category,
			Description: spec.Description,
		})
	}

	sort.Slice(commands, func(i, j int) bool {
		if commands[i].Name == commands[j].Name {
			return commands[i].ID < commands[j].ID
		}
		return commands[i].Name < commands[j].Name
	})

	return commands, nil
}

var _ kairo.CommandCatalog = (*Handler)(nil)
