package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PermissionRepository persists home permissions.
//
// The relay reads permissions on every API call. Grants and revocations
// come from the external management surface, which calls Grant and Revoke.
type PermissionRepository interface {
	Grant(ctx context.Context, perm *HomePermission) error
	Revoke(ctx context.Context, userID, homeID string) error
	Get(ctx context.Context, userID, homeID string) (*HomePermission, error)
	ListForUser(ctx context.Context, userID string) ([]HomePermission, error)
}

// SQLitePermissionRepository implements PermissionRepository using SQLite.
type SQLitePermissionRepository struct {
	db *sql.DB
}

// NewPermissionRepository creates a new SQLite-backed permission repository.
func NewPermissionRepository(db *sql.DB) *SQLitePermissionRepository {
	return &SQLitePermissionRepository{db: db}
}

// Grant creates or replaces the user's role on a home.
func (r *SQLitePermissionRepository) Grant(ctx context.Context, perm *HomePermission) error {
	if !perm.Role.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, perm.Role)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	perm.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO home_permissions (user_id, home_id, role, granted_by, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, home_id) DO UPDATE SET role = excluded.role, granted_by = excluded.granted_by`,
		perm.UserID, perm.HomeID, string(perm.Role), nullString(perm.GrantedBy), now,
	)
	if err != nil {
		return fmt.Errorf("granting home permission: %w", err)
	}
	return nil
}

// Revoke removes the user's role on a home.
func (r *SQLitePermissionRepository) Revoke(ctx context.Context, userID, homeID string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM home_permissions WHERE user_id = ? AND home_id = ?", userID, homeID)
	if err != nil {
		return fmt.Errorf("revoking home permission: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrPermissionNotFound
	}
	return nil
}

// Get returns the user's permission on a home, or ErrPermissionNotFound.
func (r *SQLitePermissionRepository) Get(ctx context.Context, userID, homeID string) (*HomePermission, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT user_id, home_id, role, granted_by, created_at FROM home_permissions WHERE user_id = ? AND home_id = ?",
		userID, homeID)
	p, err := scanPermission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPermissionNotFound
	}
	return p, err
}

// ListForUser returns every home the user holds a role on.
func (r *SQLitePermissionRepository) ListForUser(ctx context.Context, userID string) ([]HomePermission, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT user_id, home_id, role, granted_by, created_at FROM home_permissions WHERE user_id = ? ORDER BY home_id",
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing home permissions: %w", err)
	}
	defer rows.Close()

	perms := []HomePermission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating home permissions: %w", err)
	}
	return perms, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPermission(s scanner) (*HomePermission, error) {
	var p HomePermission
	var role, createdAt string
	var grantedBy sql.NullString
	if err := s.Scan(&p.UserID, &p.HomeID, &role, &grantedBy, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning home permission: %w", err)
	}
	p.Role = Role(role)
	p.GrantedBy = grantedBy.String
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	return &p, nil
}

// nullString returns nil for empty strings so nullable TEXT columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Authorizer answers "may this user do that on this home" against the
// permission repository.
type Authorizer struct {
	repo PermissionRepository
}

// NewAuthorizer creates an Authorizer backed by repo.
func NewAuthorizer(repo PermissionRepository) *Authorizer {
	return &Authorizer{repo: repo}
}

// Require returns nil when the user holds perm on the home, ErrForbidden
// when they hold a role that is too low or no role at all, and a wrapped
// error when the lookup itself fails.
func (a *Authorizer) Require(ctx context.Context, userID, homeID string, perm Permission) error {
	_, err := a.RoleFor(ctx, userID, homeID, perm)
	return err
}

// RoleFor is Require that also returns the user's role on success.
func (a *Authorizer) RoleFor(ctx context.Context, userID, homeID string, perm Permission) (Role, error) {
	p, err := a.repo.Get(ctx, userID, homeID)
	if errors.Is(err, ErrPermissionNotFound) {
		return "", ErrForbidden
	}
	if err != nil {
		return "", fmt.Errorf("checking home permission: %w", err)
	}
	if !HasPermission(p.Role, perm) {
		return p.Role, ErrForbidden
	}
	return p.Role, nil
}
