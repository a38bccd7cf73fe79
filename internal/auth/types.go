package auth

import (
	"errors"
	"time"
)

// Role is a user's authorisation tier within one home.
//
// Roles are ordered viewer < user < admin < owner. A grant at one tier
// implies every capability of the tiers below it.
type Role string

const (
	// RoleViewer can see gateway status, state and home metadata.
	RoleViewer Role = "viewer"

	// RoleUser can additionally send commands and run scenes.
	RoleUser Role = "user"

	// RoleAdmin can additionally pair and revoke gateways and grant
	// permissions up to admin.
	RoleAdmin Role = "admin"

	// RoleOwner has every capability, including granting owner.
	RoleOwner Role = "owner"
)

// roleRank orders roles for AtLeast. Unknown roles rank zero.
var roleRank = map[Role]int{
	RoleViewer: 1,
	RoleUser:   2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// ValidRoles lists roles in ascending order.
var ValidRoles = []Role{RoleViewer, RoleUser, RoleAdmin, RoleOwner}

// IsValid reports whether r is one of the four known roles.
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r grants at least the capabilities of floor.
// An unknown role never satisfies any minimum.
func (r Role) AtLeast(floor Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[floor]
}

// HomePermission binds a user to a home with a role.
type HomePermission struct {
	UserID    string    `json:"user_id"`
	HomeID    string    `json:"home_id"`
	Role      Role      `json:"role"`
	GrantedBy string    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid         = errors.New("auth: invalid token")
	ErrForbidden            = errors.New("auth: insufficient permissions")
	ErrPermissionNotFound   = errors.New("auth: no permission for home")
	ErrInvalidRole          = errors.New("auth: invalid role")
	ErrInvalidSecretHash    = errors.New("auth: invalid secret hash")
	ErrUnsupportedAlgorithm = errors.New("auth: unsupported hash algorithm")
)
