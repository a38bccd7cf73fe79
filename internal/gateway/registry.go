package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-relay/internal/auth"
)

// Logger defines the logging interface used by the Registry.
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

// Registry wraps a Repository with credential checks and lifecycle
// transitions. All methods are safe for concurrent use.
type Registry struct {
	repo   Repository
	logger Logger
}

// NewRegistry creates a registry over repo.
func NewRegistry(repo Repository) *Registry {
	return &Registry{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// MintParams describes a gateway being created by pairing completion.
type MintParams struct {
	HomeID  string
	OwnerID string
	Name    string
	Version string
}

// MintTx creates a pending gateway inside tx and returns it with its
// plaintext secret. The secret is not recoverable afterwards.
func (r *Registry) MintTx(ctx context.Context, tx *sql.Tx, p MintParams) (*Gateway, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("hashing gateway secret: %w", err)
	}

	name := p.Name
	if name == "" {
		name = "Gateway"
	}

	g := &Gateway{
		ID:         uuid.NewString(),
		HomeID:     p.HomeID,
		OwnerID:    p.OwnerID,
		Name:       name,
		Version:    p.Version,
		SecretHash: hash,
		Status:     StatusPending,
	}
	if err := r.repo.CreateTx(ctx, tx, g); err != nil {
		return nil, "", err
	}
	return g, secret, nil
}

// Authenticate checks a gateway's credentials.
//
// Unknown IDs and wrong secrets both return ErrInvalidCredentials, and an
// unknown ID still pays for a hash verification so response timing does
// not reveal which IDs exist. ErrRevoked is only returned after the secret
// has been verified.
func (r *Registry) Authenticate(ctx context.Context, id, secret string) (*Gateway, error) {
	if id == "" || secret == "" {
		auth.BurnVerify(secret)
		return nil, ErrInvalidCredentials
	}

	g, err := r.repo.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		auth.BurnVerify(secret)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway: %w", err)
	}

	ok, err := auth.VerifySecret(secret, g.SecretHash)
	if err != nil {
		r.logger.Error("stored gateway secret hash is unreadable", "gateway_id", id, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if g.Status == StatusRevoked {
		return nil, ErrRevoked
	}
	return g, nil
}

// Get returns a gateway by ID.
func (r *Registry) Get(ctx context.Context, id string) (*Gateway, error) {
	return r.repo.GetByID(ctx, id)
}

// ListByHome returns every gateway paired to a home.
func (r *Registry) ListByHome(ctx context.Context, homeID string) ([]Gateway, error) {
	return r.repo.ListByHome(ctx, homeID)
}

// ActiveForHome returns the most recently seen non-revoked gateway of a
// home. Homes normally have exactly one.
func (r *Registry) ActiveForHome(ctx context.Context, homeID string) (*Gateway, error) {
	gateways, err := r.repo.ListByHome(ctx, homeID)
	if err != nil {
		return nil, err
	}
	for i := range gateways {
		if gateways[i].Status != StatusRevoked {
			return &gateways[i], nil
		}
	}
	return nil, ErrNoActiveGateway
}

// MarkConnected records a successful bridge authentication: a pending
// gateway becomes active and its last-seen time is refreshed.
func (r *Registry) MarkConnected(ctx context.Context, g *Gateway, at time.Time) error {
	if g.Status == StatusPending {
		if err := r.repo.UpdateStatus(ctx, g.ID, StatusActive); err != nil {
			return fmt.Errorf("activating gateway: %w", err)
		}
		g.Status = StatusActive
		r.logger.Info("gateway activated", "gateway_id", g.ID, "home_id", g.HomeID)
	}
	return r.MarkSeen(ctx, g.ID, at)
}

// MarkSeen persists the gateway's last-seen time.
func (r *Registry) MarkSeen(ctx context.Context, id string, at time.Time) error {
	if err := r.repo.UpdateLastSeen(ctx, id, at); err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	return nil
}

// Revoke marks a gateway revoked. Revoking an already revoked gateway is
// a no-op. The caller is responsible for closing any live session.
func (r *Registry) Revoke(ctx context.Context, id string) (*Gateway, error) {
	g, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if g.Status == StatusRevoked {
		return g, nil
	}
	if err := r.repo.UpdateStatus(ctx, id, StatusRevoked); err != nil {
		return nil, fmt.Errorf("revoking gateway: %w", err)
	}
	g.Status = StatusRevoked
	r.logger.Info("gateway revoked", "gateway_id", id, "home_id", g.HomeID)
	return g, nil
}
