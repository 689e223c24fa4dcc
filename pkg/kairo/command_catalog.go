package kairo

import (
	"context"
)

// ServiceCommandCatalog is the canonical service registry key for command discovery.
const ServiceCommandCatalog = "kairo.command_catalog"

// RegisteredCommand describes one loaded command.
type RegisteredCommand struct {
	ID          string
	Name        string
	Category    string
	Description string
}

// CommandCatalog provides read access to loaded commands.
//
// Implementations must be concurrency-safe because commands can list the
// catalog while a reload is in progress.
type CommandCatalog interface {
	// ListCommands returns loaded commands sorted by name.
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
