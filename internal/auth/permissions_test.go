package auth

import (
	"context"
	"errors"
	"testing"
)

func TestRole_AtLeast(t *testing.T) {
	tests := []struct {
		role  Role
		floor Role
		want  bool
	}{
		{RoleViewer, RoleViewer, true},
		{RoleViewer, RoleUser, false},
		{RoleUser, RoleViewer, true},
		{RoleAdmin, RoleUser, true},
		{RoleAdmin, RoleOwner, false},
		{RoleOwner, RoleAdmin, true},
		{Role("guest"), RoleViewer, false},
		{Role(""), RoleViewer, false},
	}

	for _, tt := range tests {
		if got := tt.role.AtLeast(tt.floor); got != tt.want {
			t.Errorf("%q.AtLeast(%q) = %v, want %v", tt.role, tt.floor, got, tt.want)
		}
	}
}

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermHomeView, true},
		{RoleViewer, PermGatewayCommand, false},
		{RoleUser, PermGatewayCommand, true},
		{RoleUser, PermSceneRun, true},
		{RoleUser, PermGatewayPair, false},
		{RoleAdmin, PermGatewayPair, true},
		{RoleAdmin, PermGatewayRevoke, true},
		{RoleAdmin, PermOwnershipTransfer, false},
		{RoleOwner, PermOwnershipTransfer, true},
		{RoleOwner, Permission("unknown:perm"), false},
	}

	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionsForRole(t *testing.T) {
	if got := PermissionsForRole(Role("nobody")); got != nil {
		t.Errorf("PermissionsForRole(unknown) = %v, want nil", got)
	}
	if got := len(PermissionsForRole(RoleViewer)); got != 1 {
		t.Errorf("viewer holds %d permissions, want 1", got)
	}
	if got := len(PermissionsForRole(RoleOwner)); got != len(permissionMinRole) {
		t.Errorf("owner holds %d permissions, want all %d", got, len(permissionMinRole))
	}
}

func TestCanGrant(t *testing.T) {
	tests := []struct {
		granter, target Role
		want            bool
	}{
		{RoleOwner, RoleOwner, true},
		{RoleOwner, RoleViewer, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleAdmin, RoleOwner, false},
		{RoleUser, RoleViewer, false},
		{RoleOwner, Role("root"), false},
	}
	for _, tt := range tests {
		if got := CanGrant(tt.granter, tt.target); got != tt.want {
			t.Errorf("CanGrant(%q, %q) = %v, want %v", tt.granter, tt.target, got, tt.want)
		}
	}
}

func TestPermissionRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewPermissionRepository(testDB(t))

	if err := repo.Grant(ctx, &HomePermission{UserID: "u1", HomeID: "h1", Role: RoleUser, GrantedBy: "owner-1"}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if err := repo.Grant(ctx, &HomePermission{UserID: "u1", HomeID: "h2", Role: RoleViewer}); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	p, err := repo.Get(ctx, "u1", "h1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Role != RoleUser || p.GrantedBy != "owner-1" {
		t.Errorf("Get() = %+v, want role user granted by owner-1", p)
	}

	// Re-granting upgrades in place.
	if err := repo.Grant(ctx, &HomePermission{UserID: "u1", HomeID: "h1", Role: RoleAdmin}); err != nil {
		t.Fatalf("Grant() upgrade error = %v", err)
	}
	p, err = repo.Get(ctx, "u1", "h1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Role != RoleAdmin {
		t.Errorf("Role after upgrade = %q, want admin", p.Role)
	}

	list, err := repo.ListForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListForUser() error = %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListForUser() returned %d, want 2", len(list))
	}

	if err := repo.Grant(ctx, &HomePermission{UserID: "u1", HomeID: "h3", Role: Role("root")}); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Grant(invalid role) error = %v, want ErrInvalidRole", err)
	}

	if err := repo.Revoke(ctx, "u1", "h2"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if _, err := repo.Get(ctx, "u1", "h2"); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("Get() after Revoke error = %v, want ErrPermissionNotFound", err)
	}
	if err := repo.Revoke(ctx, "u1", "h2"); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("second Revoke() error = %v, want ErrPermissionNotFound", err)
	}
}

func TestAuthorizer_Require(t *testing.T) {
	ctx := context.Background()
	repo := NewPermissionRepository(testDB(t))
	authz := NewAuthorizer(repo)

	for _, p := range []HomePermission{
		{UserID: "viewer", HomeID: "h1", Role: RoleViewer},
		{UserID: "member", HomeID: "h1", Role: RoleUser},
		{UserID: "admin", HomeID: "h1", Role: RoleAdmin},
	} {
		p := p
		if err := repo.Grant(ctx, &p); err != nil {
			t.Fatalf("Grant() error = %v", err)
		}
	}

	tests := []struct {
		user string
		home string
		perm Permission
		want error
	}{
		{"viewer", "h1", PermHomeView, nil},
		{"viewer", "h1", PermGatewayCommand, ErrForbidden},
		{"member", "h1", PermGatewayCommand, nil},
		{"member", "h1", PermGatewayPair, ErrForbidden},
		{"admin", "h1", PermGatewayPair, nil},
		{"admin", "h2", PermHomeView, ErrForbidden},
		{"stranger", "h1", PermHomeView, ErrForbidden},
	}

	for _, tt := range tests {
		err := authz.Require(ctx, tt.user, tt.home, tt.perm)
		if !errors.Is(err, tt.want) {
			t.Errorf("Require(%s, %s, %s) = %v, want %v", tt.user, tt.home, tt.perm, err, tt.want)
		}
	}

	role, err := authz.RoleFor(ctx, "admin", "h1", PermHomeView)
	if err != nil || role != RoleAdmin {
		t.Errorf("RoleFor() = (%q, %v), want (admin, nil)", role, err)
	}
}
