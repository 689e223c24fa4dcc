// Package help provides the built-in help command rendering the command catalog.
package help

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"ex-kairo/pkg/kairo"
)

const commandName = "help"

// Module lists loaded commands by category, or describes one command when
// its name is passed as the argument.
type Module struct {
	commandCatalog kairo.CommandCatalog
}

// New creates a help module. The catalog is resolved on registration.
func New() *Module {
	return &Module{}
}

// ID returns the stable module identifier.
func (m *Module) ID() string {
	return commandName
}

// Category files help under the built-in category.
func (m *Module) Category() string {
	return "builtin"
}

// Spec declares the help command.
func (m *Module) Spec() kairo.CommandSpec {
	return kairo.CommandSpec{
		Name:        commandName,
		Description: "show all available commands",
	}
}

// Init resolves the command catalog. It runs again on every reload.
func (m *Module) Init(_ context.Context, services kairo.ServiceRegistry) error {
	commandCatalog, err := kairo.ResolveAs[kairo.CommandCatalog](services, kairo.ServiceCommandCatalog)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}
	m.commandCatalog = commandCatalog

	return nil
}

// Exec renders the catalog, or the entry named by the "command" or "args" option.
func (m *Module) Exec(ctx context.Context, interaction *kairo.Interaction) (any, error) {
	if m.commandCatalog == nil {
		return nil, fmt.Errorf("help exec: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("help list commands: %w", err)
	}

	query := queryOf(interaction)
	if query == "" {
		return renderHelp(commands), nil
	}
	for _, command := range commands {
		if strings.EqualFold(command.Name, query) {
			return renderCommand(command), nil
		}
	}

	return fmt.Sprintf("Unknown command %q. Use %s to list commands.", query, commandName), nil
}

// Autocomplete suggests command names starting with the typed prefix.
func (m *Module) Autocomplete(ctx context.Context, interaction *kairo.Interaction) (any, error) {
	if m.commandCatalog == nil {
		return nil, fmt.Errorf("help autocomplete: command catalog not configured")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return nil, fmt.Errorf("help list commands: %w", err)
	}

	prefix := strings.ToLower(queryOf(interaction))
	suggestions := make([]string, 0, len(commands))
	for _, command := range commands {
		if strings.HasPrefix(strings.ToLower(command.Name), prefix) {
			suggestions = append(suggestions, command.Name)
		}
	}

	return suggestions, nil
}

func queryOf(interaction *kairo.Interaction) string {
	if interaction == nil {
		return ""
	}
	if query := strings.TrimSpace(interaction.Options["command"]); query != "" {
		return query
	}

	return strings.TrimSpace(interaction.Options["args"])
}

func renderHelp(commands []kairo.RegisteredCommand) string {
	if len(commands) == 0 {
		return "Available commands:\n(none)"
	}

	byCategory := make(map[string][]kairo.RegisteredCommand)
	categories := make([]string, 0)
	for _, command := range commands {
		category := strings.TrimSpace(command.Category)
		if category == "" {
			category = kairo.DefaultCategory
		}
		if _, seen := byCategory[category]; !seen {
			categories = append(categories, category)
		}
		byCategory[category] = append(byCategory[category], command)
	}
	sort.Strings(categories)

	lines := make([]string, 0, len(commands)+len(categories)*2+1)
	lines = append(lines, "Available commands:")
	for _, category := range categories {
		lines = append(lines, "", fmt.Sprintf("[%s]", category))
		grouped := byCategory[category]
		sort.Slice(grouped, func(i, j int) bool {
			return strings.ToLower(grouped[i].Name) < strings.ToLower(grouped[j].Name)
		})
		for _, command := range grouped {
			line := strings.ToLower(command.Name)
			if description := strings.TrimSpace(command.Description); description != "" {
				line += " - " + description
			}
			lines = append(lines, line)
		}
	}

	return strings.Join(lines, "\n")
}

func renderCommand(command kairo.RegisteredCommand) string {
	description := strings.TrimSpace(command.Description)
	if description == "" {
		description = "(no description)"
	}

	return fmt.Sprintf("%s\n%s\n(category %s, module %s)", strings.ToLower(command.Name), description, command.Category, command.ID)
}

var (
	_ kairo.Command       = (*Module)(nil)
	_ kairo.Initializer   = (*Module)(nil)
	_ kairo.Autocompleter = (*Module)(nil)
)
