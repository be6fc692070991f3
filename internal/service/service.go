package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nimbusworks/auth-service/internal/auth"
	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/event"
	"github.com/nimbusworks/auth-service/internal/mailer"
	"github.com/nimbusworks/auth-service/internal/repository"
	"github.com/nimbusworks/auth-service/internal/revocation"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
	"github.com/nimbusworks/auth-service/pkg/logger"
)

// minPasswordLength is the minimum accepted password length.
const minPasswordLength = 8

// rotationGraceTTL is how long a rotated refresh token's jti stays in the
// revocation index. The token is already consumed in the database; the
// marker only covers the propagation window.
const rotationGraceTTL = 5 * time.Minute

// minLogoutTTL is the floor for a logout marker's TTL so that revoking an
// already-expired token still leaves a trace.
const minLogoutTTL = time.Minute

// Revoker is the revocation index as the auth flows see it.
type Revoker interface {
	RevokeToken(ctx context.Context, jti, userID, tenantID, reason string, ttl time.Duration) error
	RevokeAllUserTokens(ctx context.Context, userID, reason string, ttl time.Duration) error
	Check(ctx context.Context, jti, userID, tenantID string, issuedAt time.Time) (revocation.Status, error)
}

// OTPClient is the downstream code delivery service.
type OTPClient interface {
	Send(ctx context.Context, identifier, channel, language, purpose string) (int64, error)
	Verify(ctx context.Context, identifier, code, purpose string) error
}

// Events is the subset of the event producer the auth flows publish to.
type Events interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishPasswordResetRequested(ctx context.Context, userID, email string) error
	PublishPasswordResetCompleted(ctx context.Context, userID, email string) error
	PublishTokenReuseDetected(ctx context.Context, data event.TokenReuseData) error
	PublishAccountLocked(ctx context.Context, data event.AccountLockedData) error
}

// Config holds the tunable policy knobs for the auth flows.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	MaxFailedAttempts int
	LockoutDuration   time.Duration
	// ProgressiveDelays[n] is the pause before verifying a login attempt
	// when the account already has n recorded failures. Attempts beyond the
	// last entry reuse it.
	ProgressiveDelays []time.Duration

	ResetTokenTTL    time.Duration
	OTPResetTokenTTL time.Duration

	OTPPhoneVerifyStrict bool
}

// AuthService implements the authentication business logic.
type AuthService struct {
	users   repository.UserRepository
	tokens  repository.RefreshTokenRepository
	hasher  *auth.PasswordHasher
	signer  *auth.TokenSigner
	revoker Revoker
	otp     OTPClient
	mailer  mailer.Mailer
	events  Events
	cfg     Config
	logger  *slog.Logger

	// sleep is swapped out in tests so delay buckets can be asserted
	// without real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAuthService creates the auth service.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	hasher *auth.PasswordHasher,
	signer *auth.TokenSigner,
	revoker Revoker,
	otpClient OTPClient,
	m mailer.Mailer,
	events Events,
	cfg Config,
	l *slog.Logger,
) *AuthService {
	return &AuthService{
		users:   users,
		tokens:  tokens,
		hasher:  hasher,
		signer:  signer,
		revoker: revoker,
		otp:     otpClient,
		mailer:  m,
		events:  events,
		cfg:     cfg,
		logger:  l,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	TenantID  string
}

// LoginInput holds the parameters for a login attempt.
type LoginInput struct {
	Email    string
	Password string
}

// Register creates a new user account, hashes the password, and returns the
// user with a fresh token pair.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.TenantID == "" {
		return nil, nil, apperrors.InvalidInput("tenant id is required")
	}
	if len(input.Password) < minPasswordLength {
		return nil, nil, errWeakPassword(minPasswordLength)
	}

	passwordHash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Phone:        input.Phone,
		Roles:        []string{"member"},
		TenantID:     input.TenantID,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, nil, errEmailTaken(input.Email)
		}
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	pair, err := s.issuePair(ctx, user, uuid.New().String())
	if err != nil {
		return nil, nil, err
	}

	// Event publishing is best effort; registration already committed.
	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("email", logger.Sanitize(user.Email)),
	)

	return user, pair, nil
}

// Login authenticates a user with email and password. Failed attempts are
// throttled with progressive delays and counted toward a lockout; the
// unknown-email path burns the same delay and one bcrypt verification so it
// is not distinguishable by timing.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	now := time.Now().UTC()

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, fmt.Errorf("get user by email: %w", err)
		}
		if err := s.sleep(ctx, s.delayFor(0)); err != nil {
			return nil, nil, err
		}
		s.hasher.VerifyDummy(ctx)
		return nil, nil, errInvalidCredentials()
	}

	if user.IsLocked(now) {
		remaining := int(user.LockoutUntil.Sub(now).Round(time.Minute) / time.Minute)
		if remaining < 1 {
			remaining = 1
		}
		return nil, nil, errAccountLocked(remaining)
	}

	if err := s.sleep(ctx, s.delayFor(user.FailedLoginAttempts)); err != nil {
		return nil, nil, err
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, input.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, nil, s.recordFailure(ctx, user, now)
	}

	if user.Status != domain.StatusActive {
		return nil, nil, errAccountInactive(string(user.Status))
	}

	if err := s.users.RecordLoginSuccess(ctx, user.ID, now); err != nil {
		return nil, nil, fmt.Errorf("record login success: %w", err)
	}

	// Every login starts a fresh refresh token family.
	pair, err := s.issuePair(ctx, user, uuid.New().String())
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return user, pair, nil
}

// recordFailure counts a failed attempt and translates the outcome into the
// client-facing error: lockout when the threshold is hit, otherwise invalid
// credentials with the remaining attempt budget.
func (s *AuthService) recordFailure(ctx context.Context, user *domain.User, now time.Time) error {
	attempts, lockedUntil, err := s.users.RecordLoginFailure(ctx, user.ID, now, s.cfg.MaxFailedAttempts, s.cfg.LockoutDuration)
	if err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}

	if lockedUntil != nil && now.Before(*lockedUntil) {
		s.logger.WarnContext(ctx, "account locked after repeated failures",
			slog.String("user_id", user.ID),
			slog.Int("attempts", attempts),
		)
		if err := s.events.PublishAccountLocked(ctx, event.AccountLockedData{
			UserID:       user.ID,
			Email:        user.Email,
			Attempts:     attempts,
			LockoutUntil: lockedUntil.Format(time.RFC3339),
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish account locked event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		remaining := int(lockedUntil.Sub(now).Round(time.Minute) / time.Minute)
		if remaining < 1 {
			remaining = 1
		}
		return errAccountLocked(remaining)
	}

	remaining := s.cfg.MaxFailedAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	return errInvalidCredentials().WithDetails(map[string]any{"attempts_remaining": remaining})
}

// delayFor returns the progressive delay for an attempt when the account
// already has n recorded failures.
func (s *AuthService) delayFor(failures int) time.Duration {
	if len(s.cfg.ProgressiveDelays) == 0 {
		return 0
	}
	if failures >= len(s.cfg.ProgressiveDelays) {
		failures = len(s.cfg.ProgressiveDelays) - 1
	}
	if failures < 0 {
		failures = 0
	}
	return s.cfg.ProgressiveDelays[failures]
}

// issuePair signs a new access/refresh token pair for the user under the
// given family and stores the refresh token record.
func (s *AuthService) issuePair(ctx context.Context, user *domain.User, family string) (*domain.TokenPair, error) {
	pair, record, err := s.mintPair(user, family)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// mintPair signs both tokens and builds the refresh token record without
// persisting it, so rotation can store it transactionally.
func (s *AuthService) mintPair(user *domain.User, family string) (*domain.TokenPair, *domain.RefreshTokenRecord, error) {
	now := time.Now().UTC()

	accessClaims := &auth.Claims{
		Email:     user.Email,
		Roles:     user.Roles,
		TenantID:  user.TenantID,
		TokenType: auth.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      uuid.New().String(),
			Subject: user.ID,
		},
	}
	accessToken, err := s.signer.Sign(accessClaims, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("sign access token: %w", err)
	}

	// The refresh token carries the same identity claims as the access
	// token, plus the family, so a rotated pair can be minted without a
	// second user load.
	refreshID := uuid.New().String()
	refreshClaims := &auth.Claims{
		Email:     user.Email,
		Roles:     user.Roles,
		TenantID:  user.TenantID,
		TokenType: auth.TokenTypeRefresh,
		Family:    family,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      refreshID,
			Subject: user.ID,
		},
	}
	refreshToken, err := s.signer.Sign(refreshClaims, s.cfg.RefreshTokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("sign refresh token: %w", err)
	}

	record := &domain.RefreshTokenRecord{
		ID:        refreshID,
		UserID:    user.ID,
		Family:    family,
		TokenHash: hashToken(refreshToken),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
	}

	pair := &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTokenTTL.Seconds()),
	}

	return pair, record, nil
}

// hashToken returns the SHA-256 hex digest of a token string.
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// isEmailIdentifier reports whether an OTP identifier is an email address
// rather than a phone number.
func isEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}
