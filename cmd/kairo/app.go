package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"ex-kairo/internal/command"
	"ex-kairo/internal/driver"
	"ex-kairo/internal/kernel"
	"ex-kairo/internal/script"
	"ex-kairo/internal/telemetry"
	"ex-kairo/internal/watch"
	"ex-kairo/modules/guard"
	"ex-kairo/modules/help"
	"ex-kairo/modules/ping"
	"ex-kairo/pkg/kairo"
)

const serviceName = "kairo"

// newLogger builds the root logger: JSON on stdout, or the charm text handler on stderr.
func newLogger(cfg appConfig, stdout io.Writer, stderr io.Writer) *slog.Logger {
	if cfg.logFormat == logFormatText {
		handler := charmlog.NewWithOptions(stderr, charmlog.Options{
			Level:           charmlog.Level(cfg.logLevel),
			Prefix:          serviceName,
			ReportTimestamp: true,
		})
		return slog.New(handler)
	}

	return slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	commandOptions := []command.Option{
		command.WithDefaultCooldown(cfg.defaultCooldown),
		command.WithOwners(cfg.owners...),
		command.WithClientID(cfg.clientID),
	}
	if len(cfg.ignoreCooldown) > 0 {
		commandOptions = append(commandOptions, command.WithIgnoreCooldown(kairo.IgnoreIDs(cfg.ignoreCooldown...)))
	}
	if len(cfg.ignorePermissions) > 0 {
		commandOptions = append(commandOptions, command.WithIgnorePermissions(kairo.IgnoreIDs(cfg.ignorePermissions...)))
	}
	if len(cfg.permissions) > 0 {
		commandOptions = append(commandOptions, command.WithPermissionResolver(cfg.permissions))
	}

	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithModuleDirectory(cfg.moduleDirectory),
		kernel.WithExtensions(cfg.extensions...),
		kernel.WithIgnore(cfg.ignore...),
		kernel.WithAutomateCategories(cfg.automateCategories),
		kernel.WithResolver(script.NewSource(
			script.WithLogger(logger),
			script.WithMaxIdleStates(cfg.scriptStates),
		)),
		kernel.WithCommandOptions(commandOptions...),
	)
}

// registerRuntimeModules loads the built-in Go modules that ship with the binary.
func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	for _, inhibitor := range guard.Modules(cfg.blockClient, cfg.clientID, cfg.blockBots) {
		if err := kernelRuntime.Inhibitors().LoadModule(ctx, inhibitor); err != nil {
			return fmt.Errorf("register %s inhibitor: %w", inhibitor.ID(), err)
		}
	}

	builtins := []kairo.Command{ping.New(), help.New()}
	for _, builtin := range builtins {
		if err := kernelRuntime.Commands().LoadModule(ctx, builtin); err != nil {
			return fmt.Errorf("register %s command: %w", builtin.ID(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, drivers []kairo.Driver) error {
	for _, runtimeDriver := range drivers {
		if err := kernelRuntime.RegisterDriver(runtimeDriver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtimeDriver.Name(), err)
		}
	}

	return nil
}

// serve loads every module, starts drivers and the optional watcher, and
// blocks until ctx is cancelled or every driver has returned.
func serve(ctx context.Context, cfg appConfig, logger *slog.Logger, drivers *driver.Registry) error {
	shutdownTelemetry, err := telemetry.Setup(ctx, serviceName, cfg.telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	kernelRuntime := buildKernelRuntime(logger, cfg)
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg); err != nil {
		_ = kernelRuntime.Shutdown(ctx)
		return err
	}
	if err := kernelRuntime.LoadAll(ctx); err != nil {
		logger.ErrorContext(ctx, "some modules failed to load", "error", err)
	}
	logger.InfoContext(ctx, "modules loaded", "count", len(kernelRuntime.Modules()))

	runtimeDrivers, err := drivers.BuildEnabled(ctx, cfg.enabledDrivers(), logger)
	if err != nil {
		_ = kernelRuntime.Shutdown(ctx)
		return fmt.Errorf("build drivers: %w", err)
	}
	if err := registerRuntimeDrivers(kernelRuntime, runtimeDrivers); err != nil {
		_ = kernelRuntime.Shutdown(ctx)
		return err
	}

	var watcher *watch.Watcher
	if cfg.watch {
		watcher, err = newModuleWatcher(cfg, logger, kernelRuntime)
		if err != nil {
			_ = kernelRuntime.Shutdown(ctx)
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer cancel()
		if err := kernelRuntime.Run(groupCtx); err != nil {
			return fmt.Errorf("run kernel: %w", err)
		}
		return nil
	})
	if watcher != nil {
		group.Go(func() error {
			if err := watcher.Run(groupCtx); err != nil {
				return fmt.Errorf("run watcher: %w", err)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func newModuleWatcher(cfg appConfig, logger *slog.Logger, kernelRuntime *kernel.Kernel) (*watch.Watcher, error) {
	patterns := make([]string, 0, len(cfg.extensions))
	for _, extension := range cfg.extensions {
		patterns = append(patterns, "**/*"+extension)
	}

	watcher, err := watch.New(watch.Config{
		BaseDir:  cfg.moduleDirectory,
		Patterns: patterns,
		Ignore:   cfg.ignore,
		Debounce: cfg.watchDebounce,
		Logger:   logger,
		OnChange: func(ctx context.Context, changed []string) error {
			return applyChanges(ctx, logger, kernelRuntime, changed)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("new module watcher: %w", err)
	}

	return watcher, nil
}

func applyChanges(ctx context.Context, logger *slog.Logger, kernelRuntime *kernel.Kernel, changed []string) error {
	var applyErrs []error
	for _, path := range changed {
		changes, err := kernelRuntime.Apply(ctx, path)
		for _, change := range changes {
			logger.InfoContext(ctx, "module change applied",
				"handler", change.Handler,
				"path", change.Path,
				"action", string(change.Action),
			)
		}
		if err != nil {
			applyErrs = append(applyErrs, err)
		}
	}

	return errors.Join(applyErrs...)
}

// check loads every module once, prints the loaded set, and reports load failures.
func check(ctx context.Context, cfg appConfig, logger *slog.Logger, out io.Writer) error {
	kernelRuntime := buildKernelRuntime(logger, cfg)
	defer func() {
		_ = kernelRuntime.Shutdown(ctx)
	}()

	if err := registerRuntimeModules(ctx, kernelRuntime, cfg); err != nil {
		return err
	}
	loadErr := kernelRuntime.LoadAll(ctx)

	infos := kernelRuntime.Modules()
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Handler != infos[j].Handler {
			return infos[i].Handler < infos[j].Handler
		}
		if infos[i].Category != infos[j].Category {
			return infos[i].Category < infos[j].Category
		}
		return infos[i].ID < infos[j].ID
	})

	fmt.Fprintf(out, "%d modules loaded from %s\n", len(infos), cfg.moduleDirectory)
	for _, info := range infos {
		source := "(built-in)"
		if info.Source != "" {
			source = relativeTo(cfg.moduleDirectory, info.Source)
		}
		fmt.Fprintf(out, "  %-14s %-12s %-20s %s\n", info.Handler, info.Category, info.ID, source)
	}

	if loadErr != nil {
		fmt.Fprintf(out, "\nload errors:\n%s\n", indent(loadErr.Error()))
		return fmt.Errorf("check modules: %w", loadErr)
	}

	return nil
}

func relativeTo(base string, path string) string {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(absBase, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}

	return filepath.ToSlash(rel)
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for idx, line := range lines {
		lines[idx] = "  " + line
	}

	return strings.Join(lines, "\n")
}
