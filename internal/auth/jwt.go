package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
	TokenTypeReset   = "reset"
)

var (
	// ErrTokenExpired is returned when a token's signature is valid but its
	// expiry has passed. Callers distinguish it from other failures so
	// clients know to refresh.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken covers every other verification failure.
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims carried by every token this service issues.
type Claims struct {
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	TenantID  string   `json:"tid,omitempty"`
	TokenType string   `json:"type"`
	Family    string   `json:"family,omitempty"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies the service's JWTs. Verification only
// accepts the configured algorithm allow-list, so a token whose header names
// a different algorithm (including "none") is rejected before any signature
// check.
type TokenSigner struct {
	secret    []byte
	issuer    string
	audience  string
	allowlist []string
}

// NewTokenSigner creates a signer for the given HMAC secret. The allowed
// algorithm list must contain HS256 for the signer's own output to verify.
func NewTokenSigner(secret, issuer, audience string, allowedAlgorithms []string) *TokenSigner {
	return &TokenSigner{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		allowlist: allowedAlgorithms,
	}
}

// Sign issues a token with the given claims, filling in the registered
// issuer, audience, and time claims. The jti must already be set by the
// caller.
func (s *TokenSigner) Sign(claims *Claims, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims.Issuer = s.issuer
	claims.Audience = jwt.ClaimStrings{s.audience}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning its claims. Expired tokens
// return ErrTokenExpired; anything else invalid returns ErrInvalidToken.
func (s *TokenSigner) Verify(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(s.allowlist),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature or expiry.
// Used on logout, where an already-expired token should still be revocable;
// nothing security-relevant may be decided from the result.
func (s *TokenSigner) DecodeUnverified(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
