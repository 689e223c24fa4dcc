package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"ex-kairo/internal/driver"
	"ex-kairo/internal/driver/console"
	"ex-kairo/internal/telemetry"
	"ex-kairo/pkg/kairo"
)

const (
	defaultConfigFilePath     = "config/kairo.json"
	alternateConfigFilePath   = "bin/config/kairo.json"
	defaultShutdownTimeout    = 10 * time.Second
	defaultHandlerTimeout     = 3 * time.Second
	defaultSubscriptionBuffer = 256
	defaultSubscriptionWorker = 2
	defaultModuleDirectory    = "plugins"
	defaultWatchDebounce      = 300 * time.Millisecond
	defaultScriptStates       = 4

	logFormatJSON = "json"
	logFormatText = "text"
)

type appConfig struct {
	logLevel  slog.Level
	logFormat string

	shutdownTimeout     time.Duration
	handlerTimeout      time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int

	moduleDirectory    string
	extensions         []string
	ignore             []string
	automateCategories bool
	scriptStates       int
	watch              bool
	watchDebounce      time.Duration

	defaultCooldown   time.Duration
	owners            []string
	clientID          string
	blockClient       bool
	blockBots         bool
	ignoreCooldown    []string
	ignorePermissions []string
	permissions       kairo.StaticPermissions

	telemetry telemetry.Config
	drivers   []driver.Definition
}

// envConfig holds KAIRO_* overrides applied on top of the config file.
type envConfig struct {
	ConfigFile   string  `env:"KAIRO_CONFIG_FILE"`
	LogLevel     string  `env:"KAIRO_LOG_LEVEL"`
	LogFormat    string  `env:"KAIRO_LOG_FORMAT"`
	ModuleDir    string  `env:"KAIRO_MODULE_DIR"`
	Watch        *bool   `env:"KAIRO_WATCH"`
	OTELEndpoint string  `env:"KAIRO_OTEL_ENDPOINT"`
	OTELEnabled  *bool   `env:"KAIRO_OTEL_ENABLED"`
	OTELRatio    float64 `env:"KAIRO_OTEL_SAMPLE_RATIO"`
}

type fileConfig struct {
	LogLevel    string              `json:"log_level"`
	LogFormat   string              `json:"log_format"`
	Kernel      fileKernelConfig    `json:"kernel"`
	Modules     fileModulesConfig   `json:"modules"`
	Commands    fileCommandsConfig  `json:"commands"`
	Permissions map[string][]string `json:"permissions"`
	Telemetry   fileTelemetryConfig `json:"telemetry"`
	Drivers     []fileDriverEntry   `json:"drivers"`
}

type fileKernelConfig struct {
	ShutdownTimeout     string `json:"shutdown_timeout"`
	HandlerTimeout      string `json:"handler_timeout"`
	SubscriptionBuffer  *int   `json:"subscription_buffer"`
	SubscriptionWorkers *int   `json:"subscription_workers"`
}

type fileModulesConfig struct {
	Directory          string   `json:"directory"`
	Extensions         []string `json:"extensions"`
	Ignore             []string `json:"ignore"`
	AutomateCategories *bool    `json:"automate_categories"`
	ScriptStates       *int     `json:"script_states"`
	Watch              *bool    `json:"watch"`
	WatchDebounce      string   `json:"watch_debounce"`
}

type fileCommandsConfig struct {
	DefaultCooldown   string   `json:"default_cooldown"`
	Owners            []string `json:"owners"`
	ClientID          string   `json:"client_id"`
	BlockClient       *bool    `json:"block_client"`
	BlockBots         *bool    `json:"block_bots"`
	IgnoreCooldown    []string `json:"ignore_cooldown"`
	IgnorePermissions []string `json:"ignore_permissions"`
}

type fileTelemetryConfig struct {
	Endpoint    string   `json:"endpoint"`
	Enabled     *bool    `json:"enabled"`
	SampleRatio *float64 `json:"sample_ratio"`
}

type fileDriverEntry struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:  slog.LevelInfo,
		logFormat: logFormatJSON,

		shutdownTimeout:     defaultShutdownTimeout,
		handlerTimeout:      defaultHandlerTimeout,
		subscriptionBuffer:  defaultSubscriptionBuffer,
		subscriptionWorkers: defaultSubscriptionWorker,

		moduleDirectory:    defaultModuleDirectory,
		extensions:         []string{".lua"},
		automateCategories: true,
		scriptStates:       defaultScriptStates,
		watchDebounce:      defaultWatchDebounce,

		blockClient: true,
		blockBots:   true,

		drivers: make([]driver.Definition, 0),
	}
}

// loadConfig resolves the config file, applies it over the defaults, then
// applies KAIRO_* environment overrides. It returns the file used, empty when
// none was found.
func loadConfig(override string) (appConfig, string, error) {
	var overrides envConfig
	if err := env.Parse(&overrides); err != nil {
		return appConfig{}, "", fmt.Errorf("parse env: %w", err)
	}

	cfg := defaultAppConfig()
	configFile, err := resolveConfigFilePath(override, overrides.ConfigFile)
	if err != nil {
		return appConfig{}, "", err
	}
	if configFile != "" {
		if err := applyConfigFile(&cfg, configFile); err != nil {
			return appConfig{}, "", err
		}
	}
	if err := applyEnv(&cfg, overrides); err != nil {
		return appConfig{}, "", err
	}

	return cfg, configFile, nil
}

func resolveConfigFilePath(override string, fromEnv string) (string, error) {
	if configFile := strings.TrimSpace(override); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(fromEnv); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", nil
}

func applyConfigFile(cfg *appConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := applyFileConfig(cfg, parsed); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	return nil
}

func applyFileConfig(cfg *appConfig, parsed fileConfig) error {
	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.TrimSpace(parsed.LogFormat); rawFormat != "" {
		format, err := parseLogFormat(rawFormat)
		if err != nil {
			return fmt.Errorf("parse log_format: %w", err)
		}
		cfg.logFormat = format
	}

	if err := parsePositiveDuration(parsed.Kernel.ShutdownTimeout, "kernel.shutdown_timeout", &cfg.shutdownTimeout); err != nil {
		return err
	}
	if err := parsePositiveDuration(parsed.Kernel.HandlerTimeout, "kernel.handler_timeout", &cfg.handlerTimeout); err != nil {
		return err
	}
	if parsed.Kernel.SubscriptionBuffer != nil {
		if *parsed.Kernel.SubscriptionBuffer <= 0 {
			return fmt.Errorf("parse kernel.subscription_buffer: must be > 0")
		}
		cfg.subscriptionBuffer = *parsed.Kernel.SubscriptionBuffer
	}
	if parsed.Kernel.SubscriptionWorkers != nil {
		if *parsed.Kernel.SubscriptionWorkers <= 0 {
			return fmt.Errorf("parse kernel.subscription_workers: must be > 0")
		}
		cfg.subscriptionWorkers = *parsed.Kernel.SubscriptionWorkers
	}

	if directory := strings.TrimSpace(parsed.Modules.Directory); directory != "" {
		cfg.moduleDirectory = directory
	}
	if len(parsed.Modules.Extensions) > 0 {
		cfg.extensions = trimAll(parsed.Modules.Extensions)
	}
	cfg.ignore = trimAll(parsed.Modules.Ignore)
	if parsed.Modules.AutomateCategories != nil {
		cfg.automateCategories = *parsed.Modules.AutomateCategories
	}
	if parsed.Modules.ScriptStates != nil {
		if *parsed.Modules.ScriptStates <= 0 {
			return fmt.Errorf("parse modules.script_states: must be > 0")
		}
		cfg.scriptStates = *parsed.Modules.ScriptStates
	}
	if parsed.Modules.Watch != nil {
		cfg.watch = *parsed.Modules.Watch
	}
	if err := parsePositiveDuration(parsed.Modules.WatchDebounce, "modules.watch_debounce", &cfg.watchDebounce); err != nil {
		return err
	}

	if rawCooldown := strings.TrimSpace(parsed.Commands.DefaultCooldown); rawCooldown != "" {
		cooldown, err := time.ParseDuration(rawCooldown)
		if err != nil {
			return fmt.Errorf("parse commands.default_cooldown: %w", err)
		}
		if cooldown < 0 {
			return fmt.Errorf("parse commands.default_cooldown: must be >= 0")
		}
		cfg.defaultCooldown = cooldown
	}
	cfg.owners = trimAll(parsed.Commands.Owners)
	cfg.clientID = strings.TrimSpace(parsed.Commands.ClientID)
	if parsed.Commands.BlockClient != nil {
		cfg.blockClient = *parsed.Commands.BlockClient
	}
	if parsed.Commands.BlockBots != nil {
		cfg.blockBots = *parsed.Commands.BlockBots
	}
	cfg.ignoreCooldown = trimAll(parsed.Commands.IgnoreCooldown)
	cfg.ignorePermissions = trimAll(parsed.Commands.IgnorePermissions)

	if len(parsed.Permissions) > 0 {
		cfg.permissions = make(kairo.StaticPermissions, len(parsed.Permissions))
		for subject, granted := range parsed.Permissions {
			cfg.permissions[strings.TrimSpace(subject)] = kairo.Permissions(trimAll(granted))
		}
	}

	cfg.telemetry.Endpoint = strings.TrimSpace(parsed.Telemetry.Endpoint)
	if parsed.Telemetry.Enabled != nil {
		cfg.telemetry.Disabled = !*parsed.Telemetry.Enabled
	}
	if parsed.Telemetry.SampleRatio != nil {
		if *parsed.Telemetry.SampleRatio < 0 || *parsed.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("parse telemetry.sample_ratio: must be within [0, 1]")
		}
		cfg.telemetry.SampleRatio = *parsed.Telemetry.SampleRatio
	}

	cfg.drivers = make([]driver.Definition, 0, len(parsed.Drivers))
	for index, entry := range parsed.Drivers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		definition := driver.Definition{
			Name:    strings.TrimSpace(entry.Name),
			Type:    strings.TrimSpace(entry.Type),
			Enabled: enabled,
			Config:  append([]byte(nil), entry.Config...),
		}
		if definition.Name == "" {
			return fmt.Errorf("parse drivers[%d].name: required", index)
		}
		if definition.Type == "" {
			return fmt.Errorf("parse drivers[%d].type: required", index)
		}
		cfg.drivers = append(cfg.drivers, definition)
	}

	return nil
}

func applyEnv(cfg *appConfig, overrides envConfig) error {
	if rawLevel := strings.TrimSpace(overrides.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse KAIRO_LOG_LEVEL: %w", err)
		}
		cfg.logLevel = level
	}
	if rawFormat := strings.TrimSpace(overrides.LogFormat); rawFormat != "" {
		format, err := parseLogFormat(rawFormat)
		if err != nil {
			return fmt.Errorf("parse KAIRO_LOG_FORMAT: %w", err)
		}
		cfg.logFormat = format
	}
	if directory := strings.TrimSpace(overrides.ModuleDir); directory != "" {
		cfg.moduleDirectory = directory
	}
	if overrides.Watch != nil {
		cfg.watch = *overrides.Watch
	}
	if endpoint := strings.TrimSpace(overrides.OTELEndpoint); endpoint != "" {
		cfg.telemetry.Endpoint = endpoint
	}
	if overrides.OTELEnabled != nil {
		cfg.telemetry.Disabled = !*overrides.OTELEnabled
	}
	if overrides.OTELRatio != 0 {
		if overrides.OTELRatio < 0 || overrides.OTELRatio > 1 {
			return fmt.Errorf("parse KAIRO_OTEL_SAMPLE_RATIO: must be within [0, 1]")
		}
		cfg.telemetry.SampleRatio = overrides.OTELRatio
	}

	return nil
}

// enabledDrivers returns the configured drivers, or a console driver on the
// standard streams when none is enabled.
func (cfg appConfig) enabledDrivers() []driver.Definition {
	for _, definition := range cfg.drivers {
		if definition.Enabled {
			return cfg.drivers
		}
	}

	return []driver.Definition{{
		Name:    console.DriverType,
		Type:    console.DriverType,
		Enabled: true,
	}}
}

func parsePositiveDuration(raw string, field string, target *time.Duration) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("parse %s: must be > 0", field)
	}
	*target = parsed

	return nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func parseLogFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case logFormatJSON, logFormatText:
		return format, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}

func trimAll(values []string) []string {
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			trimmed = append(trimmed, value)
		}
	}

	return trimmed
}
