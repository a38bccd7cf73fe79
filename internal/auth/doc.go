// Package auth provides authorisation primitives for the Gray Logic relay.
//
// It implements a 4-tier per-home role model (viewer → user → admin → owner)
// with:
//   - JWT access token validation for tokens minted by the identity service
//   - A static permission-to-minimum-role mapping
//   - SQLite-backed home permissions and an Authorizer over them
//   - Argon2id hashing for gateway secrets with constant-time comparison
//
// Users hold no implicit access: a user with no row in home_permissions
// for a home cannot see or control it.
package auth
