// Package auth verifies bearer tokens for the HTTP API.
package auth

import "chatcompose/internal/domain/models"

// JWTVerifier validates a token and returns its claims.
type JWTVerifier interface {
	// VerifyToken returns domain.ErrUnauthorized for any invalid, expired
	// or unsigned token.
	VerifyToken(tokenString string) (*models.Claims, error)

	// Close releases resources such as the JWKS refresh client
	Close() error
}
