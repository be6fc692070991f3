package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/repository"
	"github.com/nimbusworks/auth-service/pkg/database"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone, roles, tenant_id, status,
	email_verified, phone_verified, failed_login_attempts, lockout_until, last_failed_login_at,
	last_login_at, password_reset_token_hash, password_reset_expires_at, created_at, updated_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db repository.DB
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(db repository.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, first_name, last_name, phone, roles, tenant_id, status, email_verified, phone_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	ctx, end := database.TraceQuery(ctx, "CreateUser", query)
	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Email,
		u.PasswordHash,
		u.FirstName,
		u.LastName,
		u.Phone,
		u.Roles,
		u.TenantID,
		u.Status,
		u.EmailVerified,
		u.PhoneVerified,
		u.CreatedAt,
		u.UpdatedAt,
	)
	end(err)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, "GetUserByID", query, id)
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, "GetUserByEmail", query, email)
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return r.scanUser(ctx, "GetUserByPhone", query, phone)
}

// GetByResetTokenHash retrieves the user holding an unexpired reset token
// with the given hash. Expired tokens behave as if they do not exist.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE password_reset_token_hash = $1 AND password_reset_expires_at > $2`
	return r.scanUser(ctx, "GetUserByResetTokenHash", query, tokenHash, now)
}

// RecordLoginSuccess resets the failure counter, clears any lockout, and
// stamps the last login time.
func (r *UserRepository) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, lockout_until = NULL, last_failed_login_at = NULL,
		    last_login_at = $1, updated_at = $1
		WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "RecordLoginSuccess", query)
	ct, err := r.db.Exec(ctx, query, at, id)
	end(err)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// RecordLoginFailure increments the failure counter and applies the lockout
// in a single statement, so concurrent failures cannot lose updates.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, at time.Time, threshold int, lockout time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    last_failed_login_at = $1,
		    lockout_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3::timestamptz ELSE lockout_until END,
		    updated_at = $1
		WHERE id = $4
		RETURNING failed_login_attempts, lockout_until`

	var attempts int
	var lockedUntil *time.Time
	ctx, end := database.TraceQuery(ctx, "RecordLoginFailure", query)
	err := r.db.QueryRow(ctx, query, at, threshold, at.Add(lockout), id).Scan(&attempts, &lockedUntil)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil, apperrors.NotFound("user", id)
		}
		return 0, nil, fmt.Errorf("record login failure: %w", err)
	}

	return attempts, lockedUntil, nil
}

// SetResetToken stores a password reset token hash and its expiry.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	query := `
		UPDATE users
		SET password_reset_token_hash = $1, password_reset_expires_at = $2, updated_at = NOW()
		WHERE id = $3`

	ctx, end := database.TraceQuery(ctx, "SetResetToken", query)
	ct, err := r.db.Exec(ctx, query, tokenHash, expiresAt, id)
	end(err)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// UpdatePasswordAndClearReset sets the new password hash and clears the
// reset token, failure counter, and lockout in the same statement, so a
// reset token can never be replayed after the password changed.
func (r *UserRepository) UpdatePasswordAndClearReset(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $1,
		    password_reset_token_hash = NULL, password_reset_expires_at = NULL,
		    failed_login_attempts = 0, lockout_until = NULL, last_failed_login_at = NULL,
		    updated_at = NOW()
		WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "UpdatePasswordAndClearReset", query)
	ct, err := r.db.Exec(ctx, query, passwordHash, id)
	end(err)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

// SetPhoneVerified marks the user's phone number as verified.
func (r *UserRepository) SetPhoneVerified(ctx context.Context, id string) error {
	query := `UPDATE users SET phone_verified = TRUE, updated_at = NOW() WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "SetPhoneVerified", query)
	ct, err := r.db.Exec(ctx, query, id)
	end(err)
	if err != nil {
		return fmt.Errorf("set phone verified: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (*domain.User, error) {
	var u domain.User

	ctx, end := database.TraceQuery(ctx, op, query)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.FirstName,
		&u.LastName,
		&u.Phone,
		&u.Roles,
		&u.TenantID,
		&u.Status,
		&u.EmailVerified,
		&u.PhoneVerified,
		&u.FailedLoginAttempts,
		&u.LockoutUntil,
		&u.LastFailedLoginAt,
		&u.LastLoginAt,
		&u.PasswordResetTokenHash,
		&u.PasswordResetExpiresAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}

// isUniqueViolation checks for a PostgreSQL unique constraint violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
