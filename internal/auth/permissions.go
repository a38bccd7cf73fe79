package auth

// Permission represents a named capability on a home.
type Permission string

// Permission constants.
const (
	PermHomeView          Permission = "home:view"
	PermGatewayCommand    Permission = "gateway:command"
	PermSceneRun          Permission = "scene:run"
	PermHomeSync          Permission = "home:sync"
	PermGatewayPair       Permission = "gateway:pair"
	PermGatewayRevoke     Permission = "gateway:revoke"
	PermPermissionManage  Permission = "permission:manage"
	PermOwnershipTransfer Permission = "ownership:transfer"
)

// permissionMinRole maps each capability to the lowest role that holds it.
// This is the single source of truth for the authorisation model.
var permissionMinRole = map[Permission]Role{
	PermHomeView:          RoleViewer,
	PermGatewayCommand:    RoleUser,
	PermSceneRun:          RoleUser,
	PermHomeSync:          RoleUser,
	PermGatewayPair:       RoleAdmin,
	PermGatewayRevoke:     RoleAdmin,
	PermPermissionManage:  RoleAdmin,
	PermOwnershipTransfer: RoleOwner,
}

// HasPermission returns true if the given role holds the permission.
func HasPermission(role Role, perm Permission) bool {
	floor, ok := permissionMinRole[perm]
	if !ok {
		return false
	}
	return role.AtLeast(floor)
}

// PermissionsForRole returns every permission the role holds.
// Returns nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	if !role.IsValid() {
		return nil
	}
	var perms []Permission
	for _, p := range []Permission{
		PermHomeView, PermGatewayCommand, PermSceneRun, PermHomeSync,
		PermGatewayPair, PermGatewayRevoke, PermPermissionManage, PermOwnershipTransfer,
	} {
		if HasPermission(role, p) {
			perms = append(perms, p)
		}
	}
	return perms
}

// CanGrant reports whether a granter holding role may assign target.
// Admins may grant up to admin; only owners may grant owner.
func CanGrant(granter, target Role) bool {
	if !target.IsValid() || !HasPermission(granter, PermPermissionManage) {
		return false
	}
	if target == RoleOwner {
		return granter == RoleOwner
	}
	return true
}
