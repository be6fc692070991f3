package revocation

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, strict bool) (*Index, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewIndex(client, slog.New(slog.DiscardHandler), strict), mr
}

func TestRevokeToken(t *testing.T) {
	idx, _ := newTestIndex(t, false)
	ctx := context.Background()

	st, err := idx.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, st.Revoked)

	require.NoError(t, idx.RevokeToken(ctx, "jti-1", "user-1", "tenant-1", ReasonUserLogout, time.Hour))

	st, err = idx.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, st.Revoked)
	assert.Equal(t, ReasonUserLogout, st.Reason)
}

func TestRevokeTokenIdempotent(t *testing.T) {
	idx, _ := newTestIndex(t, false)
	ctx := context.Background()

	require.NoError(t, idx.RevokeToken(ctx, "jti-1", "user-1", "", ReasonUserLogout, time.Hour))
	require.NoError(t, idx.RevokeToken(ctx, "jti-1", "user-1", "", ReasonUserLogout, time.Hour))

	st, err := idx.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, st.Revoked)
}

func TestTokenMarkerExpires(t *testing.T) {
	idx, mr := newTestIndex(t, false)
	ctx := context.Background()

	require.NoError(t, idx.RevokeToken(ctx, "jti-1", "user-1", "", ReasonTokenRotated, 5*time.Minute))

	mr.FastForward(6 * time.Minute)

	st, err := idx.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, st.Revoked)
}

func TestUserWideRevocationBoundary(t *testing.T) {
	idx, _ := newTestIndex(t, false)
	ctx := context.Background()

	before := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, idx.RevokeAllUserTokens(ctx, "user-1", ReasonUserLogoutAll, time.Hour))
	after := time.Now().UTC().Add(time.Minute)

	// Issued before the marker: revoked.
	st, err := idx.IsUserTokenRevoked(ctx, "user-1", before)
	require.NoError(t, err)
	assert.True(t, st.Revoked)
	assert.Equal(t, ReasonUserLogoutAll, st.Reason)

	// Issued after the marker: a fresh login stays valid.
	st, err = idx.IsUserTokenRevoked(ctx, "user-1", after)
	require.NoError(t, err)
	assert.False(t, st.Revoked)
}

func TestTenantWideRevocation(t *testing.T) {
	idx, _ := newTestIndex(t, false)
	ctx := context.Background()

	issued := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, idx.RevokeTenant(ctx, "tenant-1", ReasonTenantSuspended, time.Hour))

	st, err := idx.IsTenantTokenRevoked(ctx, "tenant-1", issued)
	require.NoError(t, err)
	assert.True(t, st.Revoked)

	st, err = idx.IsTenantTokenRevoked(ctx, "tenant-2", issued)
	require.NoError(t, err)
	assert.False(t, st.Revoked)
}

func TestCheckOrder(t *testing.T) {
	idx, _ := newTestIndex(t, false)
	ctx := context.Background()
	issued := time.Now().UTC().Add(-time.Minute)

	st, err := idx.Check(ctx, "jti-1", "user-1", "tenant-1", issued)
	require.NoError(t, err)
	assert.False(t, st.Revoked)

	require.NoError(t, idx.RevokeTenant(ctx, "tenant-1", ReasonTenantSuspended, time.Hour))

	st, err = idx.Check(ctx, "jti-1", "user-1", "tenant-1", issued)
	require.NoError(t, err)
	assert.True(t, st.Revoked)
	assert.Equal(t, ReasonTenantSuspended, st.Reason)
}

func TestFailOpenOnOutage(t *testing.T) {
	idx, mr := newTestIndex(t, false)
	ctx := context.Background()

	mr.Close()

	st, err := idx.IsTokenRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, st.Revoked)
}

func TestFailClosedInStrictMode(t *testing.T) {
	idx, mr := newTestIndex(t, true)
	ctx := context.Background()

	mr.Close()

	st, err := idx.IsTokenRevoked(ctx, "jti-1")
	require.Error(t, err)
	assert.True(t, st.Revoked)
}

func TestEntryCarriesReasonAndAuditContext(t *testing.T) {
	idx, mr := newTestIndex(t, false)
	ctx := context.Background()

	require.NoError(t, idx.RevokeToken(ctx, "jti-1", "user-1", "tenant-1", ReasonTokenReuse, time.Hour))

	raw, err := mr.Get("revoked:token:jti-1")
	require.NoError(t, err)

	var entry Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	assert.Equal(t, ReasonTokenReuse, entry.Reason)
	assert.Equal(t, "user-1", entry.UserID)
	assert.Equal(t, "tenant-1", entry.TenantID)
	assert.False(t, entry.RevokedAt.IsZero())
}
