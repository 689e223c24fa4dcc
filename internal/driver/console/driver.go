// Package console implements a driver that reads interactions as JSON lines
// and writes one JSON result line per interaction.
//
// A line is either a JSON kairo.Interaction or plain text. Plain text is a
// command invocation: the first word is the command name and the rest is
// passed as the "args" option.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// DriverType is the configuration type token of the console driver.
const DriverType = "console"

const (
	defaultConcurrency     = 4
	defaultDispatchTimeout = 30 * time.Second
	defaultUserID          = "console"
	maxLineBytes           = 1 << 20
)

type config struct {
	name            string
	concurrency     int
	dispatchTimeout time.Duration
	user            kairo.Actor
	channelID       string
	guildID         string
	logger          *slog.Logger
	now             func() time.Time
	newID           func() string
}

// Option mutates console driver configuration.
type Option func(*config)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithConcurrency bounds how many interactions are dispatched at once.
func WithConcurrency(limit int) Option {
	return func(cfg *config) {
		if limit > 0 {
			cfg.concurrency = limit
		}
	}
}

// WithDispatchTimeout bounds each dispatch.
func WithDispatchTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.dispatchTimeout = timeout
		}
	}
}

// WithDefaults configures the user, channel, and guild filled into lines that omit them.
func WithDefaults(user kairo.Actor, channelID string, guildID string) Option {
	return func(cfg *config) {
		if user.ID != "" {
			cfg.user = user
		}
		cfg.channelID = channelID
		cfg.guildID = guildID
	}
}

// WithLogger configures diagnostics logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithClock overrides the timestamp source for lines without created_at.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		if now != nil {
			cfg.now = now
		}
	}
}

// Driver reads interactions from in and reports results to out.
type Driver struct {
	cfg     config
	in      io.Reader
	out     io.Writer
	closers []io.Closer

	writeMu sync.Mutex
	encoder *json.Encoder
}

// New creates a console driver over in and out.
func New(in io.Reader, out io.Writer, options ...Option) (*Driver, error) {
	if in == nil {
		return nil, fmt.Errorf("new console driver: nil input")
	}
	if out == nil {
		return nil, fmt.Errorf("new console driver: nil output")
	}

	cfg := config{
		name:            DriverType,
		concurrency:     defaultConcurrency,
		dispatchTimeout: defaultDispatchTimeout,
		user:            kairo.Actor{ID: defaultUserID, Username: defaultUserID},
		logger:          slog.Default(),
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		in:      in,
		out:     out,
		encoder: json.NewEncoder(out),
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start dispatches every input line until input ends or ctx is cancelled.
// In-flight dispatches are awaited before it returns.
func (d *Driver) Start(ctx context.Context, sink kairo.InteractionSink) error {
	if sink == nil {
		return fmt.Errorf("start console driver: nil sink")
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go d.read(ctx, lines, readErr)

	var group errgroup.Group
	group.SetLimit(d.cfg.concurrency)
	for {
		select {
		case <-ctx.Done():
			_ = group.Wait()
			return nil
		case line, ok := <-lines:
			if !ok {
				_ = group.Wait()
				if err := <-readErr; err != nil {
					return fmt.Errorf("start console driver: read input: %w", err)
				}
				return nil
			}
			group.Go(func() error {
				d.handleLine(ctx, sink, line)
				return nil
			})
		}
	}
}

func (d *Driver) read(ctx context.Context, lines chan<- string, readErr chan<- error) {
	defer close(lines)

	scanner := bufio.NewScanner(d.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			readErr <- nil
			return
		}
	}
	readErr <- scanner.Err()
}

// handleLine decodes, dispatches, and reports one line. Failures become error
// result lines and never stop the driver.
func (d *Driver) handleLine(ctx context.Context, sink kairo.InteractionSink, line string) {
	interaction, err := d.decode(line)
	if err != nil {
		d.write(ctx, output{Error: err.Error()})
		return
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, d.cfg.dispatchTimeout)
	defer cancel()

	result, err := safe.Value("console dispatch "+interaction.ID, func() (kairo.Result, error) {
		return sink.Dispatch(dispatchCtx, interaction)
	})
	report := output{ID: interaction.ID, Result: result}
	if err != nil {
		report.Error = err.Error()
		d.cfg.logger.WarnContext(ctx, "console dispatch failed", "interaction", interaction.ID, "error", err)
	}
	d.write(ctx, report)
}

func (d *Driver) decode(line string) (*kairo.Interaction, error) {
	interaction := &kairo.Interaction{}
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), interaction); err != nil {
			return nil, fmt.Errorf("decode interaction: %w", err)
		}
	} else {
		name, args, _ := strings.Cut(line, " ")
		interaction.Kind = kairo.InteractionKindCommand
		interaction.CommandName = name
		if args = strings.TrimSpace(args); args != "" {
			interaction.Options = map[string]string{"args": args}
		}
	}

	if interaction.ID == "" {
		interaction.ID = d.cfg.newID()
	}
	if interaction.Kind == "" {
		interaction.Kind = kairo.InteractionKindCommand
	}
	if interaction.User.ID == "" {
		interaction.User = d.cfg.user
	}
	if interaction.ChannelID == "" {
		interaction.ChannelID = d.cfg.channelID
	}
	if interaction.GuildID == "" {
		interaction.GuildID = d.cfg.guildID
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = d.cfg.now()
	}

	return interaction, nil
}

// output is one result line.
type output struct {
	ID string `json:"id,omitempty"`
	kairo.Result
	Error string `json:"error,omitempty"`
}

func (d *Driver) write(ctx context.Context, line output) {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.encoder.Encode(line); err != nil {
		d.cfg.logger.ErrorContext(ctx, "console write failed", "interaction", line.ID, "error", err)
	}
}

// Shutdown closes files the driver opened itself.
func (d *Driver) Shutdown(_ context.Context) error {
	var closeErrs []error
	for _, closer := range d.closers {
		if err := closer.Close(); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	d.closers = nil

	if len(closeErrs) > 0 {
		return fmt.Errorf("shutdown console driver: %w", errors.Join(closeErrs...))
	}

	return nil
}

var _ kairo.Driver = (*Driver)(nil)
