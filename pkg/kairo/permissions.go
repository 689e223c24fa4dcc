package kairo

import (
	"context"
	"slices"
)

// Permissions is an unordered set of capability names such as "MANAGE_MESSAGES".
type Permissions []string

// Has reports whether name is granted.
func (p Permissions) Has(name string) bool {
	return slices.Contains(p, name)
}

// Missing returns the entries of required that p does not grant, in required order.
func (p Permissions) Missing(required Permissions) Permissions {
	var missing Permissions
	for _, name := range required {
		if !p.Has(name) && !missing.Has(name) {
			missing = append(missing, name)
		}
	}

	return missing
}

// PermissionSide identifies whose permissions failed a check.
type PermissionSide string

const (
	// PermissionSideClient is the runtime's own identity.
	PermissionSideClient PermissionSide = "client"
	// PermissionSideUser is the invoking subject.
	PermissionSideUser PermissionSide = "user"
)

// PermissionResolver returns the capabilities a subject holds at a location.
type PermissionResolver interface {
	Permissions(ctx context.Context, subjectID string, channelID string) (Permissions, error)
}

// PermissionResolverFunc adapts a function into a PermissionResolver.
type PermissionResolverFunc func(ctx context.Context, subjectID string, channelID string) (Permissions, error)

// Permissions calls f.
func (f PermissionResolverFunc) Permissions(
	ctx context.Context,
	subjectID string,
	channelID string,
) (Permissions, error) {
	return f(ctx, subjectID, channelID)
}

// StaticPermissions maps subject ids to granted sets.
// Subjects absent from the map hold nothing.
type StaticPermissions map[string]Permissions

// Permissions returns the set configured for subjectID.
func (s StaticPermissions) Permissions(_ context.Context, subjectID string, _ string) (Permissions, error) {
	return slices.Clone(s[subjectID]), nil
}

var (
	_ PermissionResolver = PermissionResolverFunc(nil)
	_ PermissionResolver = StaticPermissions(nil)
)
