package console

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"ex-kairo/pkg/kairo"
)

type rawConfig struct {
	Input           string `json:"input"`
	Output          string `json:"output"`
	Concurrency     int    `json:"concurrency"`
	DispatchTimeout string `json:"dispatch_timeout"`
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	ChannelID       string `json:"channel_id"`
	GuildID         string `json:"guild_id"`
}

type parsedConfig struct {
	input           string
	output          string
	concurrency     int
	dispatchTimeout time.Duration
	user            kairo.Actor
	channelID       string
	guildID         string
}

// BuildFromConfig builds a console driver from its JSON config payload.
// input and output accept "-" or "" for the standard streams, or a file path.
func BuildFromConfig(name string, logger *slog.Logger, raw []byte) (*Driver, error) {
	cfg, err := parseConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("parse console config: %w", err)
	}

	var closers []io.Closer
	in := io.Reader(os.Stdin)
	if cfg.input != "" {
		file, err := os.Open(cfg.input)
		if err != nil {
			return nil, fmt.Errorf("open console input: %w", err)
		}
		in = file
		closers = append(closers, file)
	}
	out := io.Writer(os.Stdout)
	if cfg.output != "" {
		file, err := os.OpenFile(cfg.output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			for _, closer := range closers {
				_ = closer.Close()
			}
			return nil, fmt.Errorf("open console output: %w", err)
		}
		out = file
		closers = append(closers, file)
	}

	driver, err := New(in, out,
		WithName(name),
		WithLogger(logger),
		WithConcurrency(cfg.concurrency),
		WithDispatchTimeout(cfg.dispatchTimeout),
		WithDefaults(cfg.user, cfg.channelID, cfg.guildID),
	)
	if err != nil {
		return nil, err
	}
	driver.closers = closers

	return driver, nil
}

func parseConfig(raw []byte) (parsedConfig, error) {
	var parsed rawConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return parsedConfig{}, fmt.Errorf("unmarshal: %w", err)
		}
	}

	cfg := parsedConfig{
		input:       streamPath(parsed.Input),
		output:      streamPath(parsed.Output),
		concurrency: parsed.Concurrency,
		user: kairo.Actor{
			ID:       strings.TrimSpace(parsed.UserID),
			Username: strings.TrimSpace(parsed.Username),
		},
		channelID: strings.TrimSpace(parsed.ChannelID),
		guildID:   strings.TrimSpace(parsed.GuildID),
	}
	if cfg.concurrency < 0 {
		return parsedConfig{}, fmt.Errorf("concurrency must be >= 0")
	}
	if timeout := strings.TrimSpace(parsed.DispatchTimeout); timeout != "" {
		parsedTimeout, err := time.ParseDuration(timeout)
		if err != nil {
			return parsedConfig{}, fmt.Errorf("parse dispatch_timeout: %w", err)
		}
		if parsedTimeout <= 0 {
			return parsedConfig{}, fmt.Errorf("parse dispatch_timeout: must be > 0")
		}
		cfg.dispatchTimeout = parsedTimeout
	}
	if cfg.user.ID != "" && cfg.user.Username == "" {
		cfg.user.Username = cfg.user.ID
	}

	return cfg, nil
}

func streamPath(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "-" {
		return ""
	}

	return trimmed
}
