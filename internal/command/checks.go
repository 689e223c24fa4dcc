package command

import (
	"context"
	"fmt"

	"ex-kairo/internal/cooldown"
	"ex-kairo/internal/safe"
	"ex-kairo/pkg/kairo"
)

// runPermissionChecks checks the client side, then the user side, and reports
// the first side with missing permissions. Static requirements apply inside
// guilds only; suppliers always run. The ignore policy covers the user side.
func (h *Handler) runPermissionChecks(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
) (kairo.PermissionSide, kairo.Permissions, error) {
	spec := command.Spec()

	var (
		missing kairo.Permissions
		err     error
	)
	if supplier, ok := command.(kairo.ClientPermissionSupplier); ok {
		missing, err = safe.Value("client permissions "+command.ID(), func() (kairo.Permissions, error) {
			return supplier.MissingClientPermissions(ctx, interaction)
		})
	} else {
		missing, err = h.missingStatic(ctx, h.cfg.clientID, interaction, spec.ClientPermissions)
	}
	if err != nil {
		return "", nil, fmt.Errorf("check client permissions: %w", err)
	}
	if len(missing) > 0 {
		return kairo.PermissionSideClient, missing, nil
	}

	policy := spec.IgnorePermissions
	if policy == nil {
		policy = h.cfg.ignorePermissions
	}
	ignored, err := safe.Value("ignore permissions "+command.ID(), func() (bool, error) {
		return policy.Matches(ctx, interaction, command)
	})
	if err != nil {
		return "", nil, fmt.Errorf("check user permissions: %w", err)
	}
	if ignored {
		return "", nil, nil
	}

	if supplier, ok := command.(kairo.UserPermissionSupplier); ok {
		missing, err = safe.Value("user permissions "+command.ID(), func() (kairo.Permissions, error) {
			return supplier.MissingUserPermissions(ctx, interaction)
		})
	} else {
		missing, err = h.missingStatic(ctx, interaction.User.ID, interaction, spec.UserPermissions)
	}
	if err != nil {
		return "", nil, fmt.Errorf("check user permissions: %w", err)
	}
	if len(missing) > 0 {
		return kairo.PermissionSideUser, missing, nil
	}

	return "", nil, nil
}

func (h *Handler) missingStatic(
	ctx context.Context,
	subjectID string,
	interaction *kairo.Interaction,
	required kairo.Permissions,
) (kairo.Permissions, error) {
	if len(required) == 0 || !interaction.InGuild() {
		return nil, nil
	}

	granted, err := h.cfg.permissions.Permissions(ctx, subjectID, interaction.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions of %s: %w", subjectID, err)
	}

	return granted.Missing(required), nil
}

// runCooldowns counts the use against the command window unless the subject
// is exempt. The window is measured from the interaction timestamp.
func (h *Handler) runCooldowns(
	ctx context.Context,
	interaction *kairo.Interaction,
	command kairo.Command,
) (cooldown.Decision, error) {
	spec := command.Spec()

	policy := spec.IgnoreCooldown
	if policy == nil {
		policy = h.cfg.ignoreCooldown
	}
	ignored, err := safe.Value("ignore cooldown "+command.ID(), func() (bool, error) {
		return policy.Matches(ctx, interaction, command)
	})
	if err != nil {
		return cooldown.Decision{}, fmt.Errorf("check cooldown: %w", err)
	}
	if ignored {
		return cooldown.Decision{Allowed: true}, nil
	}

	window := h.cfg.defaultCooldown
	if spec.Cooldown != nil {
		window = *spec.Cooldown
	}

	return h.cooldowns.Hit(
		interaction.User.ID,
		command.ID(),
		interaction.CreatedAt,
		window,
		spec.EffectiveRatelimit(),
	), nil
}
