package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nimbusworks/auth-service/internal/domain"
)

// ErrTokenAlreadyUsed is returned by MarkUsed and Rotate when the refresh
// token was already consumed. Concurrent refreshes race on this: exactly one
// caller wins, the rest observe this error.
var ErrTokenAlreadyUsed = errors.New("refresh token already used")

// DB is the subset of pgxpool.Pool the repositories need. pgxmock satisfies
// it as well, so tests run against the same code paths.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository defines persistence operations for user accounts.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByPhone retrieves a user by phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)

	// GetByResetTokenHash retrieves a user by the hash of an unexpired
	// password reset token.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error)

	// RecordLoginSuccess clears the failure counter and lockout and stamps
	// the last login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// RecordLoginFailure atomically increments the failure counter and, when
	// the new count reaches threshold, sets a lockout. It returns the new
	// failure count and the lockout expiry, if one was set.
	RecordLoginFailure(ctx context.Context, id string, at time.Time, threshold int, lockout time.Duration) (int, *time.Time, error)

	// SetResetToken stores a password reset token hash and its expiry.
	SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error

	// UpdatePasswordAndClearReset sets a new password hash and in the same
	// statement clears the reset token, failure counter, and lockout.
	UpdatePasswordAndClearReset(ctx context.Context, id, passwordHash string) error

	// SetPhoneVerified marks the user's phone number as verified.
	SetPhoneVerified(ctx context.Context, id string) error
}

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	// Insert stores a new refresh token record.
	Insert(ctx context.Context, rec *domain.RefreshTokenRecord) error

	// GetByID retrieves a refresh token record by its jti.
	GetByID(ctx context.Context, id string) (*domain.RefreshTokenRecord, error)

	// MarkUsed marks a token used, failing with ErrTokenAlreadyUsed if it
	// was consumed already. This conditional update is what serializes
	// concurrent refreshes.
	MarkUsed(ctx context.Context, id string, usedAt time.Time) error

	// Rotate atomically consumes the old token and inserts its successor in
	// one transaction: either both happen or neither does.
	Rotate(ctx context.Context, oldID string, usedAt time.Time, next *domain.RefreshTokenRecord) error

	// RevokeFamily revokes every token in a family and returns their IDs.
	RevokeFamily(ctx context.Context, family string) ([]string, error)

	// RevokeByUserID revokes all of a user's tokens and returns their IDs.
	RevokeByUserID(ctx context.Context, userID string) ([]string, error)
}
