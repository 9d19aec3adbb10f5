// Package access binds the caller's identity, role, cohort and school to an
// operation and centralises the capability checks that depend on it.
package access

import (
	"context"
	"strings"

	"github.com/noah-isme/elevate-api/internal/apperror"
)

// Role is the ordered program role of a caller.
type Role int

const (
	RoleNone Role = iota
	RoleParticipant
	RoleReviewer
	RoleAdmin
	RoleSuperadmin
)

var roleNames = map[Role]string{
	RoleParticipant: "participant",
	RoleReviewer:    "reviewer",
	RoleAdmin:       "admin",
	RoleSuperadmin:  "superadmin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "none"
}

// Valid reports whether r is one of the four program roles.
func (r Role) Valid() bool {
	return r >= RoleParticipant && r <= RoleSuperadmin
}

// ParseRole maps a role name (case-insensitive) to a Role. Unknown names map to RoleNone.
func ParseRole(value string) Role {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for role, name := range roleNames {
		if name == normalized {
			return role
		}
	}
	// legacy token role names
	switch normalized {
	case "teacher", "educator", "student":
		return RoleParticipant
	case "super_admin", "super-admin":
		return RoleSuperadmin
	}
	return RoleNone
}

// Context is the caller identity bound to one operation.
type Context struct {
	UserID uint
	Role   Role
	Cohort string
	School string
}

// System is the identity used by automated ingestion paths.
func System() Context {
	return Context{Role: RoleSuperadmin}
}

// IsSystem reports whether the context carries no human actor.
func (c Context) IsSystem() bool {
	return c.UserID == 0 && c.Role == RoleSuperadmin
}

type contextKey struct{}

// WithContext returns a copy of ctx carrying ac.
func WithContext(ctx context.Context, ac Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext extracts the bound access context.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	ac, ok := ctx.Value(contextKey{}).(Context)
	if !ok || !ac.Role.Valid() {
		return Context{}, false
	}
	return ac, true
}

// Run executes op with ac bound for the duration of the call only.
func Run(ctx context.Context, ac Context, op func(ctx context.Context) error) error {
	return op(WithContext(ctx, ac))
}

// Current returns the bound context or an Authorization error when none is bound.
func Current(ctx context.Context) (Context, error) {
	ac, ok := FromContext(ctx)
	if !ok {
		return Context{}, apperror.Authorization("authentication required")
	}
	return ac, nil
}

// RequireMinimumRole fails unless the bound role is at least min.
func RequireMinimumRole(ctx context.Context, min Role) (Context, error) {
	ac, err := Current(ctx)
	if err != nil {
		return Context{}, err
	}
	if ac.Role < min {
		return Context{}, apperror.Authorization("role %s required, caller is %s", min, ac.Role)
	}
	return ac, nil
}

// CanAccessCohort reports whether the caller may read data of cohort.
func CanAccessCohort(ctx context.Context, cohort string) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	if ac.Role >= RoleAdmin {
		return true
	}
	return ac.Cohort != "" && strings.EqualFold(ac.Cohort, cohort)
}

// CanAccessSchool reports whether the caller may read data of school.
func CanAccessSchool(ctx context.Context, school string) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	if ac.Role >= RoleAdmin {
		return true
	}
	return ac.School != "" && strings.EqualFold(ac.School, school)
}

// CanAccessUser reports whether the caller may read another user's records.
// Participants only see themselves; reviewers see users in their cohort.
func CanAccessUser(ctx context.Context, userID uint, cohort string) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	switch {
	case ac.Role >= RoleAdmin:
		return true
	case ac.UserID != 0 && ac.UserID == userID:
		return true
	case ac.Role == RoleReviewer:
		return CanAccessCohort(ctx, cohort)
	default:
		return false
	}
}
