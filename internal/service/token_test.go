package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimbusworks/auth-service/internal/auth"
	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/event"
	"github.com/nimbusworks/auth-service/internal/repository"
	"github.com/nimbusworks/auth-service/internal/revocation"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
)

// issueRefreshToken signs a refresh token and builds its stored record, the
// way a login would have.
func issueRefreshToken(t *testing.T, f *fixture, user *domain.User, family string) (string, *domain.RefreshTokenRecord) {
	t.Helper()
	now := time.Now().UTC()
	id := uuid.New().String()
	token, err := f.signer.Sign(&auth.Claims{
		Email:     user.Email,
		Roles:     user.Roles,
		TenantID:  user.TenantID,
		TokenType: auth.TokenTypeRefresh,
		Family:    family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      id,
			Subject: user.ID,
		},
	}, 24*time.Hour)
	require.NoError(t, err)
	return token, &domain.RefreshTokenRecord{
		ID:        id,
		UserID:    user.ID,
		Family:    family,
		TokenHash: hashToken(token),
		IssuedAt:  now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
}

func TestRefresh_RotatesWithinFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, rec := issueRefreshToken(t, f, user, "family-1")

	f.tokens.On("GetByID", ctx, rec.ID).Return(rec, nil)
	f.users.On("GetByID", ctx, user.ID).Return(user, nil)
	f.tokens.On("Rotate", ctx, rec.ID, mock.AnythingOfType("time.Time"), mock.AnythingOfType("*domain.RefreshTokenRecord")).Return(nil)
	f.revoker.On("RevokeToken", ctx, rec.ID, user.ID, user.TenantID, revocation.ReasonTokenRotated, rotationGraceTTL).Return(nil)

	pair, err := f.svc.Refresh(ctx, token)

	require.NoError(t, err)
	require.NotNil(t, pair)

	claims, err := f.signer.Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "family-1", claims.Family)
	assert.NotEqual(t, rec.ID, claims.ID)

	f.tokens.AssertExpectations(t)
	f.revoker.AssertExpectations(t)
}

func TestRefresh_UsedToken_RevokesFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, rec := issueRefreshToken(t, f, user, "family-1")
	rec.Used = true

	f.tokens.On("GetByID", ctx, rec.ID).Return(rec, nil)
	f.tokens.On("RevokeFamily", ctx, "family-1").Return([]string{rec.ID, "sibling-jti"}, nil)
	f.revoker.On("RevokeToken", ctx, rec.ID, user.ID, "", revocation.ReasonTokenReuse, 24*time.Hour).Return(nil)
	f.revoker.On("RevokeToken", ctx, "sibling-jti", user.ID, "", revocation.ReasonTokenReuse, 24*time.Hour).Return(nil)
	f.events.On("PublishTokenReuseDetected", ctx, mock.MatchedBy(func(d event.TokenReuseData) bool {
		return d.Family == "family-1" && d.TokenID == rec.ID && len(d.RevokedJTIs) == 2
	})).Return(nil)

	pair, err := f.svc.Refresh(ctx, token)

	assert.Nil(t, pair)
	require.Error(t, err)
	assert.Equal(t, CodeTokenReuseDetected, apperrors.CodeOf(err))

	f.tokens.AssertExpectations(t)
	f.revoker.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestRefresh_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, rec := issueRefreshToken(t, f, user, "family-1")
	rec.Revoked = true

	f.tokens.On("GetByID", ctx, rec.ID).Return(rec, nil)

	_, err := f.svc.Refresh(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeTokenRevoked, apperrors.CodeOf(err))
}

func TestRefresh_UnknownRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, rec := issueRefreshToken(t, f, user, "family-1")

	f.tokens.On("GetByID", ctx, rec.ID).Return(nil, apperrors.ErrNotFound)

	_, err := f.svc.Refresh(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeInvalidRefreshToken, apperrors.CodeOf(err))
}

func TestRefresh_ExpiredSignature(t *testing.T) {
	f := newFixture(t)
	user := sampleUser()

	token, err := f.signer.Sign(&auth.Claims{
		TokenType: auth.TokenTypeRefresh,
		Family:    "family-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      uuid.New().String(),
			Subject: user.ID,
		},
	}, -time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), token)

	require.Error(t, err)
	assert.Equal(t, CodeRefreshExpired, apperrors.CodeOf(err))
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	f := newFixture(t)
	user := sampleUser()

	token, err := f.signer.Sign(&auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      uuid.New().String(),
			Subject: user.ID,
		},
	}, 15*time.Minute)
	require.NoError(t, err)

	_, err = f.svc.Refresh(context.Background(), token)

	require.Error(t, err)
	assert.Equal(t, CodeInvalidTokenType, apperrors.CodeOf(err))
}

func TestRefresh_InactiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	user.Status = domain.StatusInactive
	token, rec := issueRefreshToken(t, f, user, "family-1")

	f.tokens.On("GetByID", ctx, rec.ID).Return(rec, nil)
	f.users.On("GetByID", ctx, user.ID).Return(user, nil)

	_, err := f.svc.Refresh(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeUserInactive, apperrors.CodeOf(err))
	f.tokens.AssertNotCalled(t, "Rotate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRefresh_DBExpiredRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, rec := issueRefreshToken(t, f, user, "family-1")
	rec.ExpiresAt = time.Now().UTC().Add(-time.Hour)

	f.tokens.On("GetByID", ctx, rec.ID).Return(rec, nil)

	_, err := f.svc.Refresh(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeRefreshExpired, apperrors.CodeOf(err))
}

// fakeTokenStore is an in-memory refresh token store whose Rotate has the
// same winner-takes-all semantics as the SQL conditional update, so
// concurrent refreshes can race for real.
type fakeTokenStore struct {
	mu      sync.Mutex
	records map[string]*domain.RefreshTokenRecord
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{records: make(map[string]*domain.RefreshTokenRecord)}
}

func (s *fakeTokenStore) Insert(_ context.Context, rec *domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *fakeTokenStore) GetByID(_ context.Context, id string) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeTokenStore) MarkUsed(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Used {
		return repository.ErrTokenAlreadyUsed
	}
	rec.Used = true
	rec.UsedAt = &usedAt
	return nil
}

func (s *fakeTokenStore) Rotate(_ context.Context, oldID string, usedAt time.Time, next *domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[oldID]
	if !ok || rec.Used {
		return repository.ErrTokenAlreadyUsed
	}
	rec.Used = true
	rec.UsedAt = &usedAt
	rec.ReplacedBy = &next.ID
	cp := *next
	s.records[next.ID] = &cp
	return nil
}

func (s *fakeTokenStore) RevokeFamily(_ context.Context, family string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, rec := range s.records {
		if rec.Family == family && !rec.Revoked {
			rec.Revoked = true
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func (s *fakeTokenStore) RevokeByUserID(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

func TestRefresh_ConcurrentUse_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	store := newFakeTokenStore()
	f.svc.tokens = store
	ctx := context.Background()
	user := sampleUser()

	token, rec := issueRefreshToken(t, f, user, "family-race")
	require.NoError(t, store.Insert(ctx, rec))

	f.users.On("GetByID", ctx, user.ID).Return(user, nil)
	f.revoker.On("RevokeToken", mock.Anything, mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("string"), mock.AnythingOfType("time.Duration")).Return(nil)
	f.events.On("PublishTokenReuseDetected", mock.Anything, mock.AnythingOfType("event.TokenReuseData")).Return(nil)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Refresh(ctx, token)
		}(i)
	}
	wg.Wait()

	var wins, reuses int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case apperrors.CodeOf(err) == CodeTokenReuseDetected:
			reuses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, reuses)
}

// --- Logout Tests ---

func TestLogout_RevokesForRemainingLifetime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()

	jti := uuid.New().String()
	token, err := f.signer.Sign(&auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      jti,
			Subject: user.ID,
		},
	}, 15*time.Minute)
	require.NoError(t, err)

	f.revoker.On("RevokeToken", ctx, jti, user.ID, "", revocation.ReasonUserLogout, mock.MatchedBy(func(ttl time.Duration) bool {
		return ttl > 14*time.Minute && ttl <= 15*time.Minute
	})).Return(nil)

	require.NoError(t, f.svc.Logout(ctx, token))
	f.revoker.AssertExpectations(t)
}

func TestLogout_ExpiredToken_StillRevocable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()

	jti := uuid.New().String()
	token, err := f.signer.Sign(&auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      jti,
			Subject: user.ID,
		},
	}, -time.Minute)
	require.NoError(t, err)

	f.revoker.On("RevokeToken", ctx, jti, user.ID, "", revocation.ReasonUserLogout, minLogoutTTL).Return(nil)

	require.NoError(t, f.svc.Logout(ctx, token))
	f.revoker.AssertExpectations(t)
}

func TestLogout_RevocationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()

	token, err := f.signer.Sign(&auth.Claims{
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      uuid.New().String(),
			Subject: user.ID,
		},
	}, 15*time.Minute)
	require.NoError(t, err)

	f.revoker.On("RevokeToken", ctx, mock.AnythingOfType("string"), user.ID, "", revocation.ReasonUserLogout, mock.AnythingOfType("time.Duration")).
		Return(assert.AnError)

	err = f.svc.Logout(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeLogoutFailed, apperrors.CodeOf(err))
}

func TestLogoutAll_RevokesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()

	f.tokens.On("RevokeByUserID", ctx, user.ID).Return([]string{"jti-1", "jti-2"}, nil)
	f.revoker.On("RevokeAllUserTokens", ctx, user.ID, revocation.ReasonUserLogoutAll, 24*time.Hour).Return(nil)

	require.NoError(t, f.svc.LogoutAll(ctx, user.ID))
	f.tokens.AssertExpectations(t)
	f.revoker.AssertExpectations(t)
}

// --- Authenticate Tests ---

func signedAccessToken(t *testing.T, f *fixture, user *domain.User) (string, string) {
	t.Helper()
	jti := uuid.New().String()
	token, err := f.signer.Sign(&auth.Claims{
		Email:     user.Email,
		Roles:     user.Roles,
		TenantID:  user.TenantID,
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      jti,
			Subject: user.ID,
		},
	}, 15*time.Minute)
	require.NoError(t, err)
	return token, jti
}

func TestAuthenticate_Valid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, jti := signedAccessToken(t, f, user)

	f.revoker.On("Check", ctx, jti, user.ID, user.TenantID, mock.AnythingOfType("time.Time")).Return(revocation.Status{}, nil)
	f.users.On("GetByID", ctx, user.ID).Return(user, nil)

	principal, err := f.svc.Authenticate(ctx, token)

	require.NoError(t, err)
	assert.Equal(t, user.ID, principal.UserID)
	assert.Equal(t, user.Email, principal.Email)
	assert.Equal(t, user.Roles, principal.Roles)
	assert.Equal(t, user.TenantID, principal.TenantID)
	assert.Equal(t, jti, principal.TokenID)
}

func TestAuthenticate_RevokedToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, jti := signedAccessToken(t, f, user)

	f.revoker.On("Check", ctx, jti, user.ID, user.TenantID, mock.AnythingOfType("time.Time")).
		Return(revocation.Status{Revoked: true, Reason: revocation.ReasonUserLogout}, nil)

	_, err := f.svc.Authenticate(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeTokenRevoked, apperrors.CodeOf(err))
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, revocation.ReasonUserLogout, appErr.Details["reason"])
}

func TestAuthenticate_RefreshTokenRejected(t *testing.T) {
	f := newFixture(t)
	user := sampleUser()
	token, _ := issueRefreshToken(t, f, user, "family-1")

	_, err := f.svc.Authenticate(context.Background(), token)

	require.Error(t, err)
	assert.Equal(t, CodeInvalidTokenType, apperrors.CodeOf(err))
}

func TestAuthenticate_StrictRevocationOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	token, jti := signedAccessToken(t, f, user)

	f.revoker.On("Check", ctx, jti, user.ID, user.TenantID, mock.AnythingOfType("time.Time")).
		Return(revocation.Status{Revoked: true}, assert.AnError)

	_, err := f.svc.Authenticate(ctx, token)

	require.Error(t, err)
	assert.Equal(t, "SERVICE_UNAVAILABLE", apperrors.CodeOf(err))
}

func TestAuthenticate_SuspendedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := sampleUser()
	user.Status = domain.StatusSuspended
	token, jti := signedAccessToken(t, f, user)

	f.revoker.On("Check", ctx, jti, user.ID, user.TenantID, mock.AnythingOfType("time.Time")).Return(revocation.Status{}, nil)
	f.users.On("GetByID", ctx, user.ID).Return(user, nil)

	_, err := f.svc.Authenticate(ctx, token)

	require.Error(t, err)
	assert.Equal(t, CodeUserInactive, apperrors.CodeOf(err))
}
