package homes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
)

// Defaults applied when a home's first sync omits them.
const (
	defaultName     = "Unknown Home"
	defaultTimezone = "UTC"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store persists home snapshots in SQLite.
type Store struct {
	db     *database.DB
	logger Logger
	now    func() time.Time
}

// NewStore creates a home metadata store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db, logger: noopLogger{}, now: time.Now}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// HandleSync stores the snapshot carried by a gateway's sync envelope.
func (s *Store) HandleSync(ctx context.Context, gatewayID, homeID string, payload json.RawMessage) error {
	snap, err := ParseSnapshot(payload)
	if err != nil {
		return err
	}
	home, err := s.Apply(ctx, gatewayID, homeID, snap)
	if err != nil {
		return err
	}
	s.logger.Info("home metadata synced",
		"home_id", homeID,
		"gateway_id", gatewayID,
		"entities", home.Counts[KindEntity],
		"scenes", home.Counts[KindScene],
		"automations", home.Counts[KindAutomation],
		"locations", home.Counts[KindLocation],
	)
	return nil
}

// Apply replaces everything stored for homeID with snap in one transaction.
//
// Items missing from snap are deleted. A blank home name or timezone keeps
// the stored value, falling back to "Unknown Home" and "UTC".
func (s *Store) Apply(ctx context.Context, gatewayID, homeID string, snap *Snapshot) (*Home, error) {
	if homeID == "" {
		return nil, fmt.Errorf("%w: missing home id", ErrInvalidSnapshot)
	}
	items, err := snap.Items()
	if err != nil {
		return nil, err
	}

	home := &Home{
		HomeID:    homeID,
		GatewayID: gatewayID,
		Name:      snap.Home.Name,
		Timezone:  snap.Home.Timezone,
		SyncedAt:  s.now().UTC().Truncate(time.Second),
		Counts:    make(map[Kind]int, len(Kinds)),
	}
	for _, k := range Kinds {
		home.Counts[k] = 0
	}
	for _, it := range items {
		home.Counts[it.Kind]++
	}

	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var name, tz string
		err := tx.QueryRowContext(ctx, "SELECT name, timezone FROM homes WHERE home_id = ?", homeID).Scan(&name, &tz)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("loading home: %w", err)
		}
		home.Name = firstNonEmpty(home.Name, name, defaultName)
		home.Timezone = firstNonEmpty(home.Timezone, tz, defaultTimezone)

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO homes (home_id, gateway_id, name, timezone, synced_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(home_id) DO UPDATE SET
			   gateway_id = excluded.gateway_id,
			   name = excluded.name,
			   timezone = excluded.timezone,
			   synced_at = excluded.synced_at`,
			home.HomeID, home.GatewayID, home.Name, home.Timezone, formatTime(home.SyncedAt),
		); err != nil {
			return fmt.Errorf("upserting home: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM home_items WHERE home_id = ?", homeID); err != nil {
			return fmt.Errorf("clearing home items: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO home_items (home_id, kind, item_id, name, data) VALUES (?, ?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing item insert: %w", err)
		}
		defer stmt.Close()

		for _, it := range items {
			if _, err := stmt.ExecContext(ctx, homeID, string(it.Kind), it.ID, it.Name, string(it.Data)); err != nil {
				return fmt.Errorf("inserting %s %s: %w", it.Kind, it.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return home, nil
}

// Get returns a home's metadata with per-kind item counts.
func (s *Store) Get(ctx context.Context, homeID string) (*Home, error) {
	home := &Home{HomeID: homeID, Counts: make(map[Kind]int, len(Kinds))}
	var syncedAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT gateway_id, name, timezone, synced_at FROM homes WHERE home_id = ?", homeID,
	).Scan(&home.GatewayID, &home.Name, &home.Timezone, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading home: %w", err)
	}
	home.SyncedAt = parseTime(syncedAt)

	for _, k := range Kinds {
		home.Counts[k] = 0
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM home_items WHERE home_id = ? GROUP BY kind", homeID)
	if err != nil {
		return nil, fmt.Errorf("counting home items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning item count: %w", err)
		}
		home.Counts[Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating item counts: %w", err)
	}
	return home, nil
}

// Items lists a home's items of one kind ordered by name then id.
// An empty kind lists every kind.
func (s *Store) Items(ctx context.Context, homeID string, kind Kind) ([]Item, error) {
	query := "SELECT kind, item_id, name, data FROM home_items WHERE home_id = ?"
	args := []any{homeID}
	if kind != "" {
		if !kind.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
		}
		query += " AND kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY kind, name, item_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing home items: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating home items: %w", err)
	}
	return items, nil
}

// Item returns one item. Returns ErrNotFound if it was not in the last sync.
func (s *Store) Item(ctx context.Context, homeID string, kind Kind, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT kind, item_id, name, data FROM home_items WHERE home_id = ? AND kind = ? AND item_id = ?",
		homeID, string(kind), id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return it, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var it Item
	var kind, data string
	if err := s.Scan(&kind, &it.ID, &it.Name, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning home item: %w", err)
	}
	it.Kind = Kind(kind)
	it.Data = json.RawMessage(data)
	return &it, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}
