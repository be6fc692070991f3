package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocation reasons recorded alongside each entry.
const (
	ReasonUserLogout      = "user_logout"
	ReasonUserLogoutAll   = "user_logout_all"
	ReasonTokenReuse      = "token_reuse_detected"
	ReasonTokenRotated    = "refresh_token_rotated"
	ReasonPasswordReset   = "password_reset"
	ReasonTenantSuspended = "tenant_suspended"
	ReasonAdminRevocation = "admin_revocation"
)

const (
	tokenKeyPrefix  = "revoked:token:"
	userKeyPrefix   = "revoked:user:"
	tenantKeyPrefix = "revoked:tenant:"

	opTimeout = 2 * time.Second
)

// Entry is the JSON value stored for each revocation marker. UserID and
// TenantID are audit context; the scope a marker applies to is encoded in
// its key.
type Entry struct {
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
	UserID    string    `json:"user_id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
}

// Status is the outcome of a revocation lookup.
type Status struct {
	Revoked bool
	Reason  string
}

// Index records revoked tokens, users, and tenants in Redis. Entries carry a
// TTL no shorter than the life of the tokens they suppress, so a marker never
// expires before the last token it covers.
//
// Reads fail open by default: when Redis is unreachable a token is treated as
// not revoked and a warning is logged. With strict mode enabled, reads fail
// closed instead.
type Index struct {
	client *redis.Client
	logger *slog.Logger
	strict bool
}

// NewIndex creates a revocation index over the given Redis client.
func NewIndex(client *redis.Client, logger *slog.Logger, strict bool) *Index {
	return &Index{client: client, logger: logger, strict: strict}
}

// RevokeToken marks a single token jti revoked for ttl. Revoking an already
// revoked token refreshes the entry; the operation is idempotent.
func (i *Index) RevokeToken(ctx context.Context, jti, userID, tenantID, reason string, ttl time.Duration) error {
	return i.set(ctx, tokenKeyPrefix+jti, Entry{Reason: reason, UserID: userID, TenantID: tenantID}, ttl)
}

// IsTokenRevoked reports whether the token jti has been revoked, and why.
func (i *Index) IsTokenRevoked(ctx context.Context, jti string) (Status, error) {
	entry, err := i.get(ctx, tokenKeyPrefix+jti)
	if err != nil {
		return i.failMode("token", err)
	}
	if entry == nil {
		return Status{}, nil
	}
	return Status{Revoked: true, Reason: entry.Reason}, nil
}

// RevokeAllUserTokens places a user-wide marker: every token of the user
// issued before now is considered revoked.
func (i *Index) RevokeAllUserTokens(ctx context.Context, userID, reason string, ttl time.Duration) error {
	return i.set(ctx, userKeyPrefix+userID, Entry{Reason: reason, UserID: userID}, ttl)
}

// IsUserTokenRevoked reports whether a token issued to the user at issuedAt
// falls under a user-wide revocation. Tokens issued after the marker was
// placed are unaffected, so the user can log in again immediately.
func (i *Index) IsUserTokenRevoked(ctx context.Context, userID string, issuedAt time.Time) (Status, error) {
	entry, err := i.get(ctx, userKeyPrefix+userID)
	if err != nil {
		return i.failMode("user", err)
	}
	if entry == nil || !issuedAt.Before(entry.RevokedAt) {
		return Status{}, nil
	}
	return Status{Revoked: true, Reason: entry.Reason}, nil
}

// RevokeTenant places a tenant-wide marker covering every token of every
// user in the tenant issued before now.
func (i *Index) RevokeTenant(ctx context.Context, tenantID, reason string, ttl time.Duration) error {
	return i.set(ctx, tenantKeyPrefix+tenantID, Entry{Reason: reason, TenantID: tenantID}, ttl)
}

// IsTenantTokenRevoked reports whether a token issued under the tenant at
// issuedAt falls under a tenant-wide revocation.
func (i *Index) IsTenantTokenRevoked(ctx context.Context, tenantID string, issuedAt time.Time) (Status, error) {
	entry, err := i.get(ctx, tenantKeyPrefix+tenantID)
	if err != nil {
		return i.failMode("tenant", err)
	}
	if entry == nil || !issuedAt.Before(entry.RevokedAt) {
		return Status{}, nil
	}
	return Status{Revoked: true, Reason: entry.Reason}, nil
}

// Check runs the full revocation decision for a token: per-token marker
// first, then user-wide, then tenant-wide.
func (i *Index) Check(ctx context.Context, jti, userID, tenantID string, issuedAt time.Time) (Status, error) {
	if st, err := i.IsTokenRevoked(ctx, jti); err != nil || st.Revoked {
		return st, err
	}
	if st, err := i.IsUserTokenRevoked(ctx, userID, issuedAt); err != nil || st.Revoked {
		return st, err
	}
	return i.IsTenantTokenRevoked(ctx, tenantID, issuedAt)
}

// Ping verifies Redis connectivity, for readiness checks.
func (i *Index) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

func (i *Index) set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	entry.RevokedAt = time.Now().UTC()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal revocation entry: %w", err)
	}

	if err := i.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set revocation entry %s: %w", key, err)
	}
	return nil
}

func (i *Index) get(ctx context.Context, key string) (*Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := i.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get revocation entry %s: %w", key, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal revocation entry %s: %w", key, err)
	}
	return &entry, nil
}

// failMode decides what an unreachable index means for a read. Strict
// deployments treat the token as revoked; everyone else degrades to
// availability with a warning.
func (i *Index) failMode(scope string, err error) (Status, error) {
	if i.strict {
		return Status{Revoked: true, Reason: "index_unavailable"}, err
	}
	i.logger.Warn("revocation index unavailable, failing open",
		slog.String("scope", scope),
		slog.String("error", err.Error()),
	)
	return Status{}, nil
}
