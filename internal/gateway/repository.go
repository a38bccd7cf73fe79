package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines persistence for gateway records.
type Repository interface {
	Create(ctx context.Context, g *Gateway) error
	CreateTx(ctx context.Context, tx *sql.Tx, g *Gateway) error
	GetByID(ctx context.Context, id string) (*Gateway, error)
	ListByHome(ctx context.Context, homeID string) ([]Gateway, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed gateway repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const gatewayColumns = "id, home_id, owner_id, name, version, secret_hash, status, last_seen_at, created_at, updated_at"

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Create inserts a new gateway record.
func (r *SQLiteRepository) Create(ctx context.Context, g *Gateway) error {
	return insert(ctx, r.db, g)
}

// CreateTx inserts a new gateway record inside the caller's transaction.
// Pairing uses it so that consuming a code and minting the gateway commit
// together.
func (r *SQLiteRepository) CreateTx(ctx context.Context, tx *sql.Tx, g *Gateway) error {
	return insert(ctx, tx, g)
}

func insert(ctx context.Context, exec execer, g *Gateway) error {
	if !g.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, g.Status)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = g.CreatedAt

	_, err := exec.ExecContext(ctx,
		`INSERT INTO gateways (`+gatewayColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.HomeID, g.OwnerID, g.Name, g.Version, g.SecretHash, string(g.Status),
		formatTimePtr(g.LastSeenAt), formatTime(g.CreatedAt), formatTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting gateway: %w", err)
	}
	return nil
}

// GetByID retrieves a gateway by ID. Returns ErrNotFound if it does not exist.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Gateway, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+gatewayColumns+" FROM gateways WHERE id = ?", id)
	g, err := scanGateway(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

// ListByHome returns every gateway ever paired to a home, most recently
// seen first. Revoked gateways are included.
func (r *SQLiteRepository) ListByHome(ctx context.Context, homeID string) ([]Gateway, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+gatewayColumns+" FROM gateways WHERE home_id = ? ORDER BY COALESCE(last_seen_at, created_at) DESC",
		homeID)
	if err != nil {
		return nil, fmt.Errorf("listing gateways: %w", err)
	}
	defer rows.Close()

	gateways := []Gateway{}
	for rows.Next() {
		g, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating gateways: %w", err)
	}
	return gateways, nil
}

// UpdateStatus sets a gateway's status.
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return r.update(ctx, "UPDATE gateways SET status = ?, updated_at = ? WHERE id = ?",
		string(status), formatTime(time.Now()), id)
}

// UpdateLastSeen records the last time the gateway was heard from. The
// stored time never moves backwards; a superseded session finishing after
// its replacement connected must not rewind it. RFC3339 UTC text orders
// the same as time.
func (r *SQLiteRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	return r.update(ctx,
		`UPDATE gateways SET
			last_seen_at = CASE WHEN last_seen_at IS NULL OR last_seen_at < ? THEN ? ELSE last_seen_at END,
			updated_at = ?
		 WHERE id = ?`,
		ts, ts, formatTime(time.Now()), id)
}

func (r *SQLiteRepository) update(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating gateway: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGateway(s scanner) (*Gateway, error) {
	var g Gateway
	var status, createdAt, updatedAt string
	var lastSeen sql.NullString

	if err := s.Scan(&g.ID, &g.HomeID, &g.OwnerID, &g.Name, &g.Version, &g.SecretHash,
		&status, &lastSeen, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning gateway: %w", err)
	}

	g.Status = Status(status)
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	if lastSeen.Valid {
		t := parseTime(lastSeen.String)
		g.LastSeenAt = &t
	}
	return &g, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}
