package models

import "github.com/golang-jwt/jwt/v5"

// Claims is the JWT claims structure accepted by the API.
type Claims struct {
	jwt.RegisteredClaims        // Standard JWT claims (sub, iss, aud, exp, iat, etc.)
	Email                string `json:"email,omitempty"`
	Role                 string `json:"role,omitempty"` // "authenticated" or "anon" on most identity providers
	SessionID            string `json:"session_id,omitempty"`
}

// GetUserID returns the user ID from the JWT subject claim.
func (c *Claims) GetUserID() string {
	return c.Subject
}
