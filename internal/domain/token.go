package domain

import (
	"time"
)

// RefreshTokenRecord is the stored server-side state of a refresh token.
// The ID is the token's jti; the token string itself is never stored, only
// its hash.
type RefreshTokenRecord struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Family     string     `json:"family"`
	TokenHash  string     `json:"-"`
	Used       bool       `json:"used"`
	Revoked    bool       `json:"revoked"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	ReplacedBy *string    `json:"replaced_by,omitempty"`
}

// TokenPair holds a freshly issued access/refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Principal is the validated identity attached to a request after the
// access token has passed signature and revocation checks.
type Principal struct {
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	TenantID string   `json:"tenant_id"`
	TokenID  string   `json:"token_id"`
}
