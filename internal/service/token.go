package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbusworks/auth-service/internal/auth"
	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/event"
	"github.com/nimbusworks/auth-service/internal/repository"
	"github.com/nimbusworks/auth-service/internal/revocation"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
)

// Refresh exchanges a refresh token for a new token pair. The old token is
// consumed atomically; presenting an already-used token marks the whole
// family as compromised and revokes it.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.signer.Verify(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, errRefreshExpired()
		}
		return nil, errInvalidRefreshToken()
	}
	if claims.TokenType != auth.TokenTypeRefresh {
		return nil, errInvalidTokenType()
	}

	now := time.Now().UTC()

	rec, err := s.tokens.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errInvalidRefreshToken()
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}

	if rec.Used {
		return nil, s.handleReuse(ctx, rec)
	}
	if rec.Revoked {
		return nil, errTokenRevoked()
	}
	if now.After(rec.ExpiresAt) {
		return nil, errRefreshExpired()
	}

	user, err := s.users.GetByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errUserInactive()
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Status != domain.StatusActive {
		return nil, errUserInactive()
	}

	// The successor stays in the same family so a later reuse of any
	// ancestor still takes down the whole chain.
	pair, next, err := s.mintPair(user, rec.Family)
	if err != nil {
		return nil, err
	}

	if err := s.tokens.Rotate(ctx, rec.ID, now, next); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyUsed) {
			// Lost the race to a concurrent refresh with the same token.
			return nil, s.handleReuse(ctx, rec)
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	// Short-lived marker so a replay of the just-consumed token is also
	// caught at the gateway before it reaches the database.
	if err := s.revoker.RevokeToken(ctx, rec.ID, rec.UserID, user.TenantID, revocation.ReasonTokenRotated, rotationGraceTTL); err != nil {
		s.logger.WarnContext(ctx, "failed to mark rotated token in revocation index",
			slog.String("token_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		slog.String("user_id", user.ID),
		slog.String("family", rec.Family),
	)

	return pair, nil
}

// handleReuse revokes the presented token's entire family, marks each jti
// in the revocation index, and publishes a security event. Always returns
// the reuse error.
func (s *AuthService) handleReuse(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	s.logger.WarnContext(ctx, "refresh token reuse detected",
		slog.String("user_id", rec.UserID),
		slog.String("family", rec.Family),
		slog.String("token_id", rec.ID),
	)

	jtis, err := s.tokens.RevokeFamily(ctx, rec.Family)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke token family",
			slog.String("family", rec.Family),
			slog.String("error", err.Error()),
		)
	}

	for _, jti := range jtis {
		if err := s.revoker.RevokeToken(ctx, jti, rec.UserID, "", revocation.ReasonTokenReuse, s.cfg.RefreshTokenTTL); err != nil {
			s.logger.WarnContext(ctx, "failed to mark revoked token in revocation index",
				slog.String("token_id", jti),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.events.PublishTokenReuseDetected(ctx, event.TokenReuseData{
		UserID:      rec.UserID,
		Family:      rec.Family,
		TokenID:     rec.ID,
		RevokedJTIs: jtis,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish token reuse event",
			slog.String("family", rec.Family),
			slog.String("error", err.Error()),
		)
	}

	return errTokenReuseDetected()
}

// Logout revokes the presented access token for the remainder of its
// lifetime. The token is decoded without verification so an expired or
// otherwise rejected token can still be revoked.
func (s *AuthService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.signer.DecodeUnverified(accessToken)
	if err != nil {
		return apperrors.Unauthorized("invalid token")
	}

	ttl := minLogoutTTL
	if claims.ExpiresAt != nil {
		if until := time.Until(claims.ExpiresAt.Time); until > ttl {
			ttl = until
		}
	}

	if err := s.revoker.RevokeToken(ctx, claims.ID, claims.Subject, claims.TenantID, revocation.ReasonUserLogout, ttl); err != nil {
		return errLogoutFailed(err)
	}

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", claims.Subject),
	)
	return nil
}

// LogoutAll revokes every session for the user: all stored refresh tokens
// plus a user-wide marker that invalidates access tokens issued before now.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	jtis, err := s.tokens.RevokeByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}

	if err := s.revoker.RevokeAllUserTokens(ctx, userID, revocation.ReasonUserLogoutAll, s.cfg.RefreshTokenTTL); err != nil {
		return errLogoutFailed(err)
	}

	s.logger.InfoContext(ctx, "all sessions revoked",
		slog.String("user_id", userID),
		slog.Int("refresh_tokens", len(jtis)),
	)
	return nil
}

// Authenticate validates an access token for request authorization: the
// signature and standard claims, the token type, and the revocation index.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*domain.Principal, error) {
	claims, err := s.signer.Verify(accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, apperrors.Unauthorized("token expired")
		}
		return nil, apperrors.Unauthorized("invalid token")
	}
	if claims.TokenType != auth.TokenTypeAccess {
		return nil, errInvalidTokenType()
	}

	var issuedAt time.Time
	if claims.IssuedAt != nil {
		issuedAt = claims.IssuedAt.Time
	}

	status, err := s.revoker.Check(ctx, claims.ID, claims.Subject, claims.TenantID, issuedAt)
	if err != nil {
		return nil, apperrors.Unavailable("token revocation check unavailable")
	}
	if status.Revoked {
		s.logger.InfoContext(ctx, "revoked token rejected",
			slog.String("token_id", claims.ID),
			slog.String("reason", status.Reason),
		)
		return nil, errTokenRevoked().WithDetails(map[string]any{"reason": status.Reason})
	}

	// A token can outlive its account's standing; the gate checks the
	// current status, not the status at issue time.
	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errUserInactive()
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if user.Status != domain.StatusActive {
		return nil, errUserInactive()
	}

	return &domain.Principal{
		UserID:   claims.Subject,
		Email:    claims.Email,
		Roles:    claims.Roles,
		TenantID: claims.TenantID,
		TokenID:  claims.ID,
	}, nil
}
