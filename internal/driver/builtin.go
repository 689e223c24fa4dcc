package driver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-kairo/internal/driver/console"
	"ex-kairo/pkg/kairo"
)

// NewBuiltinRegistry constructs the driver registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: console.DriverType,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (kairo.Driver, error) {
				consoleDriver, err := console.BuildFromConfig(definition.Name, builderLogger, definition.Config)
				if err != nil {
					return nil, fmt.Errorf("build console driver from config: %w", err)
				}

				return consoleDriver, nil
			},
		},
	})
}
