package pairing

import "errors"

// Domain errors for the pairing package.
var (
	// ErrInvalidCode is returned when no code with the given value exists.
	ErrInvalidCode = errors.New("pairing: invalid code")

	// ErrExpired is returned when the code's expiry has passed.
	ErrExpired = errors.New("pairing: code expired")

	// ErrAlreadyConsumed is returned when the code was already redeemed.
	ErrAlreadyConsumed = errors.New("pairing: code already used")

	// ErrCodeSpaceExhausted is returned when no free code could be drawn.
	ErrCodeSpaceExhausted = errors.New("pairing: could not allocate a unique code")
)
