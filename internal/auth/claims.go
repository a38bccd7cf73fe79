package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTypeAccess is the only token type the relay accepts.
const TokenTypeAccess = "access"

// CustomClaims is the access token payload shared with the identity
// service. Homes is informational; authorisation always consults the
// permission repository.
type CustomClaims struct {
	jwt.RegisteredClaims
	Homes     []string `json:"homes,omitempty"`
	TokenType string   `json:"token_type"`
}

// GenerateAccessToken creates a signed JWT access token for a user.
// The relay itself only validates tokens; this is used by tests and by the
// relay's admin tooling.
func GenerateAccessToken(userID string, homes []string, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = 15 //nolint:mnd // default 15-minute access token TTL
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		Homes:     homes,
		TokenType: TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT access token, returning the custom
// claims. It checks the signature, expiry, subject and token type.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	// Refresh tokens share the signing key and must not open API sessions.
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: token_type %q", ErrTokenInvalid, claims.TokenType)
	}

	return claims, nil
}
