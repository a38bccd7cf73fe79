package pairing

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
)

// maxDrawAttempts bounds the collision retry loop in RequestCode.
const maxDrawAttempts = 16

// Config controls code shape and lifetime.
type Config struct {
	CodeLength    int
	DefaultExpiry time.Duration
	MaxExpiry     time.Duration
}

// Authorizer checks that the requesting user may pair gateways for a home.
type Authorizer interface {
	Require(ctx context.Context, userID, homeID string, perm auth.Permission) error
}

// Minter creates the gateway record inside the completion transaction.
type Minter interface {
	MintTx(ctx context.Context, tx *sql.Tx, p gateway.MintParams) (*gateway.Gateway, string, error)
}

// Logger defines the logging interface used by the Coordinator.
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

// Coordinator issues, verifies and redeems pairing codes.
//
// All state lives in SQLite. Redemption runs in a single transaction whose
// consume step is guarded by "consumed = 0", so of any number of concurrent
// CompleteCode calls for one code exactly one mints a gateway.
type Coordinator struct {
	db     *database.DB
	authz  Authorizer
	minter Minter
	cfg    Config
	logger Logger
	now    func() time.Time
	draw   func(digits int) (string, error)
}

// NewCoordinator creates a pairing coordinator.
func NewCoordinator(db *database.DB, authz Authorizer, minter Minter, cfg Config) *Coordinator {
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 8
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = 10 * time.Minute
	}
	if cfg.MaxExpiry < cfg.DefaultExpiry {
		cfg.MaxExpiry = cfg.DefaultExpiry
	}
	return &Coordinator{
		db:     db,
		authz:  authz,
		minter: minter,
		cfg:    cfg,
		logger: noopLogger{},
		now:    time.Now,
		draw:   drawCode,
	}
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.logger = logger
}

// SetClock replaces the coordinator's time source. Tests use it to step
// past expiry without sleeping.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// clock returns the current time at the precision codes are stored with.
func (c *Coordinator) clock() time.Time {
	return c.now().UTC().Truncate(time.Second)
}

// expiry resolves the requested lifetime against the configured bounds.
func (c *Coordinator) expiry(minutes int) time.Duration {
	if minutes <= 0 {
		return c.cfg.DefaultExpiry
	}
	d := time.Duration(minutes) * time.Minute
	if d > c.cfg.MaxExpiry {
		return c.cfg.MaxExpiry
	}
	return d
}

// RequestCode issues a new pairing code for a home.
//
// The caller must hold the gateway:pair permission (admin or owner) on the
// home; otherwise auth.ErrForbidden is returned. The code is drawn from
// crypto/rand and is unique among all currently valid codes.
func (c *Coordinator) RequestCode(ctx context.Context, req Request) (*Code, error) {
	if err := c.authz.Require(ctx, req.UserID, req.HomeID, auth.PermGatewayPair); err != nil {
		return nil, err
	}

	now := c.clock()
	code := &Code{
		HomeID:    req.HomeID,
		HomeName:  req.HomeName,
		UserID:    req.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.expiry(req.ExpiryMinutes)),
	}

	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		for attempt := 0; attempt < maxDrawAttempts; attempt++ {
			value, err := c.draw(c.cfg.CodeLength)
			if err != nil {
				return err
			}

			var live int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM pairing_codes WHERE code = ? AND consumed = 0 AND expires_at > ?",
				value, formatTime(now),
			).Scan(&live); err != nil {
				return fmt.Errorf("checking code collision: %w", err)
			}
			if live > 0 {
				continue
			}

			result, err := tx.ExecContext(ctx,
				`INSERT INTO pairing_codes (code, home_id, home_name, user_id, created_at, expires_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				value, code.HomeID, code.HomeName, code.UserID, formatTime(code.CreatedAt), formatTime(code.ExpiresAt),
			)
			if err != nil {
				return fmt.Errorf("inserting pairing code: %w", err)
			}
			code.ID, _ = result.LastInsertId() //nolint:errcheck // always succeeds on SQLite
			code.Code = value
			return nil
		}
		return ErrCodeSpaceExhausted
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("pairing code issued",
		"home_id", code.HomeID,
		"user_id", code.UserID,
		"expires_at", code.ExpiresAt,
	)
	return code, nil
}

// VerifyCode reports whether a code is currently valid and, if so, which
// home it belongs to. It never changes state.
func (c *Coordinator) VerifyCode(ctx context.Context, value string) (homeID string, ok bool, err error) {
	code, err := c.lookup(ctx, c.db.DB, value)
	if errors.Is(err, ErrInvalidCode) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if !code.ValidAt(c.clock()) {
		return "", false, nil
	}
	return code.HomeID, true, nil
}

// CompleteCode redeems a code and mints a pending gateway for its home.
//
// Errors:
//   - ErrInvalidCode: no such code
//   - ErrExpired: the code's expiry has passed; the code is left unconsumed
//   - ErrAlreadyConsumed: the code was redeemed before, or a concurrent
//     redemption won the race
//
// The consume step and the gateway insert commit together, so a failure
// never leaves a consumed code without a gateway.
func (c *Coordinator) CompleteCode(ctx context.Context, value, name, version string) (*Completion, error) {
	var out *Completion

	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		code, err := c.lookup(ctx, tx, value)
		if err != nil {
			return err
		}

		now := c.clock()
		if code.Consumed {
			return ErrAlreadyConsumed
		}
		if !now.Before(code.ExpiresAt) {
			return ErrExpired
		}

		result, err := tx.ExecContext(ctx,
			"UPDATE pairing_codes SET consumed = 1, consumed_at = ? WHERE id = ? AND consumed = 0",
			formatTime(now), code.ID)
		if err != nil {
			return fmt.Errorf("consuming pairing code: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows != 1 { //nolint:errcheck // always succeeds on SQLite
			return ErrAlreadyConsumed
		}

		gw, secret, err := c.minter.MintTx(ctx, tx, gateway.MintParams{
			HomeID:  code.HomeID,
			OwnerID: code.UserID,
			Name:    name,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("minting gateway: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE pairing_codes SET gateway_id = ? WHERE id = ?", gw.ID, code.ID); err != nil {
			return fmt.Errorf("linking gateway to pairing code: %w", err)
		}

		out = &Completion{Gateway: gw, Secret: secret, HomeName: code.HomeName}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("pairing completed",
		"home_id", out.Gateway.HomeID,
		"gateway_id", out.Gateway.ID,
	)
	return out, nil
}

// CleanupExpired deletes expired codes that were never redeemed and
// returns how many were removed. Redeemed codes are kept as pairing history.
func (c *Coordinator) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM pairing_codes WHERE consumed = 0 AND expires_at <= ?",
		formatTime(c.clock()))
	if err != nil {
		return 0, fmt.Errorf("deleting expired pairing codes: %w", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// Run deletes expired codes every interval until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.CleanupExpired(ctx)
			if err != nil {
				c.logger.Warn("pairing code cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				c.logger.Debug("expired pairing codes removed", "count", n)
			}
		}
	}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// lookup returns the newest row carrying value. Older rows with the same
// value are necessarily consumed or expired.
func (c *Coordinator) lookup(ctx context.Context, q queryer, value string) (*Code, error) {
	var code Code
	var consumed int
	var createdAt, expiresAt string
	var consumedAt, gatewayID sql.NullString

	err := q.QueryRowContext(ctx,
		`SELECT id, code, home_id, home_name, user_id, created_at, expires_at, consumed, consumed_at, gateway_id
		 FROM pairing_codes WHERE code = ? ORDER BY id DESC LIMIT 1`, value,
	).Scan(&code.ID, &code.Code, &code.HomeID, &code.HomeName, &code.UserID,
		&createdAt, &expiresAt, &consumed, &consumedAt, &gatewayID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("looking up pairing code: %w", err)
	}

	code.Consumed = consumed != 0
	code.CreatedAt = parseTime(createdAt)
	code.ExpiresAt = parseTime(expiresAt)
	code.GatewayID = gatewayID.String
	if consumedAt.Valid {
		t := parseTime(consumedAt.String)
		code.ConsumedAt = &t
	}
	return &code, nil
}

// drawCode returns a uniformly random decimal string of n digits,
// leading zeros included.
func drawCode(n int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil) //nolint:mnd // decimal
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("drawing pairing code: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // format is controlled
	return t
}
