package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbusworks/auth-service/internal/revocation"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
	"github.com/nimbusworks/auth-service/pkg/logger"
)

// resetTokenBytes is the entropy of a password reset token.
const resetTokenBytes = 32

// ForgotPassword starts a password reset for the given email. The response
// is identical whether or not the email is registered; failures after the
// lookup are logged but not surfaced, so the caller cannot discover
// which accounts exist through error or timing differences here.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			s.logger.InfoContext(ctx, "password reset requested for unknown email",
				slog.String("email", logger.Sanitize(email)),
			)
			return nil
		}
		s.logger.ErrorContext(ctx, "password reset lookup failed",
			slog.String("error", err.Error()),
		)
		return nil
	}

	plaintext, tokenHash, err := newResetToken()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate reset token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	expiresAt := time.Now().UTC().Add(s.cfg.ResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to store reset token",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	body := fmt.Sprintf(
		"A password reset was requested for your account.\n\n"+
			"Reset token: %s\n\n"+
			"The token expires in %d minutes. If you did not request this, ignore this message.",
		plaintext, int(s.cfg.ResetTokenTTL.Minutes()),
	)
	if err := s.mailer.Send(ctx, user.Email, "Password reset", body); err != nil {
		s.logger.ErrorContext(ctx, "failed to send reset email",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := s.events.PublishPasswordResetRequested(ctx, user.ID, user.Email); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password reset event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset requested",
		slog.String("user_id", user.ID),
	)
	return nil
}

// ResetPassword completes a reset: the token is matched by hash and expiry,
// the password is replaced, and every existing session is revoked.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return errWeakPassword(minPasswordLength)
	}

	now := time.Now().UTC()
	user, err := s.users.GetByResetTokenHash(ctx, hashToken(token), now)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return errInvalidResetToken()
		}
		return fmt.Errorf("get user by reset token: %w", err)
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePasswordAndClearReset(ctx, user.ID, passwordHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.revokeAllSessions(ctx, user.ID, revocation.ReasonPasswordReset)

	if err := s.events.PublishPasswordResetCompleted(ctx, user.ID, user.Email); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish password reset completed event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password reset completed",
		slog.String("user_id", user.ID),
	)
	return nil
}

// ChangePassword replaces the password of an authenticated user after
// re-verifying the current one. All existing sessions are revoked.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return errWeakPassword(minPasswordLength)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.NotFound("user", userID)
		}
		return fmt.Errorf("get user: %w", err)
	}

	ok, err := s.hasher.Verify(ctx, user.PasswordHash, currentPassword)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return errInvalidCredentials()
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.users.UpdatePasswordAndClearReset(ctx, user.ID, passwordHash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.revokeAllSessions(ctx, user.ID, revocation.ReasonPasswordReset)

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID),
	)
	return nil
}

// revokeAllSessions revokes the user's stored refresh tokens and drops a
// user-wide marker for outstanding access tokens. Failures are logged; the
// password change itself has already committed.
func (s *AuthService) revokeAllSessions(ctx context.Context, userID, reason string) {
	if _, err := s.tokens.RevokeByUserID(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke refresh tokens",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.revoker.RevokeAllUserTokens(ctx, userID, reason, s.cfg.RefreshTokenTTL); err != nil {
		s.logger.ErrorContext(ctx, "failed to mark user tokens revoked",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// newResetToken generates a reset token, returning the plaintext sent to
// the user and the hash that gets stored.
func newResetToken() (plaintext, hash string, err error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, hashToken(plaintext), nil
}
