// Package command implements the command dispatch pipeline.
//
// A dispatch moves through pre inhibitors, the post checks (owner, channel,
// permissions, post inhibitors, cooldown), the before hook, the execution
// lock, and finally the command body. Every veto ends the run with a blocked
// result and a lifecycle event; every failure leaves through emitError.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ex-kairo/internal/cooldown"
	"ex-kairo/internal/locker"
	"ex-kairo/internal/registry"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// HandlerName is the lifecycle handler name of the command registry.
const HandlerName = "commands"

const tracerName = "ex-kairo/internal/command"

// Handler owns the command registry and runs the dispatch pipeline.
type Handler struct {
	*registry.Registry[kairo.Command]

	cfg       config
	cooldowns *cooldown.Tracker
	lockers   *locker.Set
	tracer    trace.Tracer
}

// New creates a command handler.
func New(options ...Option) *Handler {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if cfg.ignoreCooldown == nil && len(cfg.owners) > 0 {
		cfg.ignoreCooldown = kairo.IgnoreIDs(cfg.owners...)
	}

	registryOptions := []registry.Option{
		registry.WithEvents(cfg.events),
		registry.WithLogger(cfg.logger),
	}
	registryOptions = append(registryOptions, cfg.registryOptions...)
	registryOptions = append(registryOptions,
		registry.WithAlias(alias),
		registry.WithValidator(validate),
	)

	cooldownOptions := make([]cooldown.Option, 0, 1)
	if cfg.clock != nil {
		cooldownOptions = append(cooldownOptions, cooldown.WithClock(cfg.clock))
	}

	return &Handler{
		Registry:  registry.New[kairo.Command](HandlerName, registryOptions...),
		cfg:       cfg,
		cooldowns: cooldown.New(cooldownOptions...),
		lockers:   locker.NewSet(),
		tracer:    otel.Tracer(tracerName),
	}
}

// Find resolves a command by its case-insensitive name.
func (h *Handler) Find(name string) (kairo.Command, bool) {
	return h.FindByAlias(name)
}

// IsOwner reports whether subjectID is a configured owner.
func (h *Handler) IsOwner(subjectID string) bool {
	for _, owner := range h.cfg.owners {
		if owner == subjectID {
			return true
		}
	}

	return false
}

// Cooldowns exposes the cooldown tracker.
func (h *Handler) Cooldowns() *cooldown.Tracker {
	return h.cooldowns
}

// Close stops pending cooldown expiry timers.
func (h *Handler) Close() {
	h.cooldowns.Close()
}

// Handle dispatches a command or autocomplete interaction. Other kinds are ignored.
//
// An unknown command name is a normal outcome reported as kairo.StatusNotFound.
// A non-nil error is returned only when a failure reached emitError and no
// error listener was attached.
func (h *Handler) Handle(ctx context.Context, interaction *kairo.Interaction) (result kairo.Result, err error) {
	if err := interaction.Validate(); err != nil {
		return kairo.Result{}, fmt.Errorf("handle interaction: %w", err)
	}
	if interaction.Kind != kairo.InteractionKindCommand && interaction.Kind != kairo.InteractionKindAutocomplete {
		return kairo.Result{Status: kairo.StatusIgnored}, nil
	}

	ctx, span := h.tracer.Start(ctx, "command.dispatch", trace.WithAttributes(
		attribute.String("kairo.interaction.id", interaction.ID),
		attribute.String("kairo.interaction.kind", string(interaction.Kind)),
		attribute.String("kairo.command.name", interaction.CommandName),
	))
	defer func() {
		span.SetAttributes(attribute.String("kairo.status", string(result.Status)))
		if result.Reason != "" {
			span.SetAttributes(attribute.String("kairo.reason", result.Reason))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	command, ok := h.Find(interaction.CommandName)
	if !ok {
		return kairo.Result{Status: kairo.StatusNotFound}, nil
	}
	if interaction.Kind == kairo.InteractionKindAutocomplete {
		return h.autocomplete(ctx, interaction, command)
	}

	reason, blocked, err := h.cfg.inhibitors.Test(ctx, kairo.InhibitorPre, interaction, nil)
	if err != nil {
		return h.emitError(ctx, err, interaction, command)
	}
	if blocked {
		h.publish(ctx, &kairo.LifecycleEvent{
			Kind:        kairo.LifecycleInteractionBlocked,
			Interaction: interaction,
			Reason:      reason,
		}, nil)
		return blockedResult(command, reason), nil
	}

	return h.HandleDirect(ctx, interaction, command, false)
}

// HandleDirect runs command against interaction without name resolution or
// pre inhibitors. With bypass set the post checks and the execution lock are
// skipped; the before hook still runs.
func (h *Handler) HandleDirect(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
	bypass bool,
) (kairo.Result, error) {
	if !bypass {
		result, blocked, err := h.runPostChecks(ctx, interaction, command)
		if err != nil {
			return h.emitError(ctx, err, interaction, command)
		}
		if blocked {
			return result, nil
		}
	}

	if hook, ok := command.(kairo.BeforeHook); ok {
		err := safe.Run("before "+command.ID(), func() error {
			return hook.Before(ctx, interaction)
		})
		if err != nil {
			return h.emitError(ctx, err, interaction, command)
		}
	}

	if !bypass {
		key, err := h.lockKey(ctx, interaction, command)
		if err != nil {
			return h.emitError(ctx, err, interaction, command)
		}
		if key != "" {
			release, acquired := h.lockers.For(command.ID()).TryAcquire(key)
			if !acquired {
				h.publish(ctx, &kairo.LifecycleEvent{
					Kind:        kairo.LifecycleCommandLocked,
					Interaction: interaction,
					Reason:      kairo.ReasonLocked,
				}, command)
				return blockedResult(command, kairo.ReasonLocked), nil
			}
			defer release()
		}
	}

	return h.run(ctx, interaction, command)
}

// runPostChecks evaluates the gates in order: owner, channel, permissions,
// post inhibitors, cooldown. The first veto wins.
func (h *Handler) runPostChecks(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
) (kairo.Result, bool, error) {
	spec := command.Spec()

	if spec.OwnerOnly && !h.IsOwner(interaction.User.ID) {
		return h.block(ctx, interaction, command, kairo.ReasonOwner), true, nil
	}
	if spec.Channel == kairo.ChannelGuild && !interaction.InGuild() {
		return h.block(ctx, interaction, command, kairo.ReasonGuild), true, nil
	}
	if spec.Channel == kairo.ChannelDM && interaction.InGuild() {
		return h.block(ctx, interaction, command, kairo.ReasonDM), true, nil
	}

	side, missing, err := h.runPermissionChecks(ctx, interaction, command)
	if err != nil {
		return kairo.Result{}, false, err
	}
	if len(missing) > 0 {
		h.publish(ctx, &kairo.LifecycleEvent{
			Kind:        kairo.LifecycleMissingPermissions,
			Interaction: interaction,
			Reason:      kairo.ReasonMissingPermissions,
			Side:        side,
			Missing:     missing,
		}, command)
		return blockedResult(command, kairo.ReasonMissingPermissions), true, nil
	}

	reason, blocked, err := h.cfg.inhibitors.Test(ctx, kairo.InhibitorPost, interaction, command)
	if err != nil {
		return kairo.Result{}, false, err
	}
	if blocked {
		return h.block(ctx, interaction, command, reason), true, nil
	}

	decision, err := h.runCooldowns(ctx, interaction, command)
	if err != nil {
		return kairo.Result{}, false, err
	}
	if !decision.Allowed {
		h.publish(ctx, &kairo.LifecycleEvent{
			Kind:        kairo.LifecycleCooldown,
			Interaction: interaction,
			Reason:      kairo.ReasonCooldown,
			Remaining:   decision.Remaining,
		}, command)
		return blockedResult(command, kairo.ReasonCooldown), true, nil
	}

	return kairo.Result{}, false, nil
}

// run executes the command body between command.started and command.finished.
func (h *Handler) run(ctx context.Context, interaction *kairo.Interaction, command kairo.Command) (kairo.Result, error) {
	h.publish(ctx, &kairo.LifecycleEvent{
		Kind:        kairo.LifecycleCommandStarted,
		Interaction: interaction,
	}, command)

	value, err := safe.Value("command "+command.ID(), func() (any, error) {
		return command.Exec(ctx, interaction)
	})
	if err != nil {
		return h.emitError(ctx, err, interaction, command)
	}

	h.publish(ctx, &kairo.LifecycleEvent{
		Kind:        kairo.LifecycleCommandFinished,
		Interaction: interaction,
		Result:      value,
	}, command)

	return kairo.Result{Status: kairo.StatusExecuted, ModuleID: command.ID(), Value: value}, nil
}

func (h *Handler) autocomplete(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
) (kairo.Result, error) {
	completer, ok := command.(kairo.Autocompleter)
	if !ok {
		return kairo.Result{Status: kairo.StatusIgnored, ModuleID: command.ID()}, nil
	}

	value, err := safe.Value("autocomplete "+command.ID(), func() (any, error) {
		return completer.Autocomplete(ctx, interaction)
	})
	if err != nil {
		return h.emitError(ctx, err, interaction, command)
	}

	return kairo.Result{Status: kairo.StatusExecuted, ModuleID: command.ID(), Value: value}, nil
}

// lockKey resolves the execution lock key. Custom suppliers win over the
// built-in scope; an empty key disables locking for this invocation.
func (h *Handler) lockKey(ctx context.Context, interaction *kairo.Interaction, command kairo.Command) (string, error) {
	supplier, ok := command.(kairo.LockKeySupplier)
	if !ok {
		return command.Spec().Lock.Key(interaction), nil
	}

	return safe.Value("lock key "+command.ID(), func() (string, error) {
		return supplier.LockKey(ctx, interaction)
	})
}

// emitError is the single failure exit of the pipeline. With an error
// listener attached the failure is published and the dispatch reports
// kairo.StatusFailed; otherwise the failure is returned to the caller.
func (h *Handler) emitError(
	ctx context.Context,
	err error,
	interaction *kairo.Interaction,
	command kairo.Command,
) (kairo.Result, error) {
	result := kairo.Result{Status: kairo.StatusFailed}
	if command != nil {
		result.ModuleID = command.ID()
	}

	if h.cfg.events == nil || !h.cfg.events.HasSubscribers(kairo.LifecycleError, HandlerName) {
		return result, fmt.Errorf("dispatch command %s: %w", interaction.CommandName, err)
	}

	if publishErr := h.cfg.events.Publish(ctx, h.event(&kairo.LifecycleEvent{
		Kind:        kairo.LifecycleError,
		Interaction: interaction,
		Err:         err,
	}, command)); publishErr != nil {
		return result, fmt.Errorf("dispatch command %s: %w", interaction.CommandName, err)
	}

	return result, nil
}

func (h *Handler) block(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
	reason string,
) kairo.Result {
	h.publish(ctx, &kairo.LifecycleEvent{
		Kind:        kairo.LifecycleCommandBlocked,
		Interaction: interaction,
		Reason:      reason,
	}, command)

	return blockedResult(command, reason)
}

func (h *Handler) publish(ctx context.Context, event *kairo.LifecycleEvent, command kairo.Command) {
	if h.cfg.events == nil {
		return
	}
	if err := h.cfg.events.Publish(ctx, h.event(event, command)); err != nil {
		h.cfg.logger.WarnContext(ctx, "publish command lifecycle event failed",
			"kind", event.Kind,
			"error", err,
		)
	}
}

func (h *Handler) event(event *kairo.LifecycleEvent, command kairo.Command) *kairo.LifecycleEvent {
	event.Handler = HandlerName
	event.OccurredAt = time.Now().UTC()
	if command != nil {
		info, ok := h.Info(command.ID())
		if !ok {
			info = kairo.ModuleInfo{ID: command.ID(), Category: command.Category(), Handler: HandlerName}
		}
		event.Module = &info
	}

	return event
}

func blockedResult(command kairo.Command, reason string) kairo.Result {
	result := kairo.Result{Status: kairo.StatusBlocked, Reason: reason}
	if command != nil {
		result.ModuleID = command.ID()
	}

	return result
}

func alias(module kairo.Module) (string, error) {
	command, ok := module.(kairo.Command)
	if !ok {
		return "", fmt.Errorf("%w: %T is not a command", kairo.ErrInvalidModuleKind, module)
	}

	return strings.TrimSpace(command.Spec().Name), nil
}

func validate(module kairo.Module) error {
	command, ok := module.(kairo.Command)
	if !ok {
		return fmt.Errorf("%w: %T is not a command", kairo.ErrInvalidModuleKind, module)
	}
	if err := command.Spec().Validate(); err != nil {
		return fmt.Errorf("command %s: %w", command.ID(), err)
	}

	return nil
}
