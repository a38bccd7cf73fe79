package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrNotFound is returned when a gateway ID does not exist.
	ErrNotFound = errors.New("gateway: not found")

	// ErrInvalidCredentials is returned for an unknown ID or a wrong secret.
	// The two cases are deliberately indistinguishable.
	ErrInvalidCredentials = errors.New("gateway: invalid credentials")

	// ErrRevoked is returned when a revoked gateway presents valid credentials.
	ErrRevoked = errors.New("gateway: revoked")

	// ErrInvalidStatus is returned for an unknown status value.
	ErrInvalidStatus = errors.New("gateway: invalid status")

	// ErrNoActiveGateway is returned when a home has no usable gateway.
	ErrNoActiveGateway = errors.New("gateway: no active gateway for home")
)
