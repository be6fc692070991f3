package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nimbusworks/auth-service/internal/domain"
	"github.com/nimbusworks/auth-service/internal/otp"
	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
	"github.com/nimbusworks/auth-service/pkg/logger"
)

// OTP purposes accepted from clients.
const (
	OTPPurposePasswordReset = "password_reset"
	OTPPurposeVerifyPhone   = "verify_phone"
)

// defaultOTPExpirySeconds is the expiry reported when no code was actually
// dispatched; it matches the delivery service's standard code lifetime so
// the response shape stays uniform.
const defaultOTPExpirySeconds = 300

// SendOTPInput carries a request for a one-time code. Channel may be left
// empty to have it inferred from the identifier; Language is an optional
// message localization tag passed through to the delivery service.
type SendOTPInput struct {
	Identifier string
	Purpose    string
	Channel    string
	Language   string
}

// SendOTPResult reports where a code was sent and how long it is valid.
type SendOTPResult struct {
	Channel   string `json:"channel"`
	ExpiresIn int64  `json:"expires_in"`
}

// VerifyOTPResult is returned when a code checks out. For password resets it
// carries a short-lived reset token to be used with ResetPassword.
type VerifyOTPResult struct {
	Verified   bool   `json:"verified"`
	ResetToken string `json:"reset_token,omitempty"`
	ExpiresIn  int64  `json:"expires_in,omitempty"`
}

// SendOTP asks the delivery service to send a one-time code. When no channel
// is requested it is inferred from the identifier: email addresses go out by
// email, anything else by SMS.
func (s *AuthService) SendOTP(ctx context.Context, in SendOTPInput) (*SendOTPResult, error) {
	if in.Identifier == "" {
		return nil, apperrors.InvalidInput("identifier is required")
	}
	if in.Purpose != OTPPurposePasswordReset && in.Purpose != OTPPurposeVerifyPhone {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown purpose %q", in.Purpose))
	}

	channel := in.Channel
	switch channel {
	case "":
		channel = otp.ChannelSMS
		if isEmailIdentifier(in.Identifier) {
			channel = otp.ChannelEmail
		}
	case otp.ChannelEmail, otp.ChannelSMS, otp.ChannelWhatsApp, otp.ChannelTelegram:
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown channel %q", channel))
	}

	// For password resets the response must not reveal whether the
	// identifier maps to an account; unknown identifiers get the same
	// answer without a code ever being dispatched.
	if in.Purpose == OTPPurposePasswordReset {
		if _, err := s.lookupByIdentifier(ctx, in.Identifier); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				s.logger.InfoContext(ctx, "otp requested for unknown identifier",
					slog.String("identifier", logger.Sanitize(in.Identifier)),
				)
				return &SendOTPResult{Channel: channel, ExpiresIn: defaultOTPExpirySeconds}, nil
			}
			return nil, fmt.Errorf("look up otp recipient: %w", err)
		}
	}

	expiresIn, err := s.otp.Send(ctx, in.Identifier, channel, in.Language, in.Purpose)
	if err != nil {
		if errors.Is(err, otp.ErrUnavailable) {
			return nil, errOTPUnavailable(err)
		}
		return nil, fmt.Errorf("send otp: %w", err)
	}

	s.logger.InfoContext(ctx, "otp sent",
		slog.String("identifier", logger.Sanitize(in.Identifier)),
		slog.String("channel", channel),
		slog.String("purpose", in.Purpose),
	)

	return &SendOTPResult{Channel: channel, ExpiresIn: expiresIn}, nil
}

// VerifyOTP checks a one-time code and performs the purpose's follow-up:
// password resets yield a short-lived reset token, phone verification marks
// the phone number as confirmed.
func (s *AuthService) VerifyOTP(ctx context.Context, identifier, code, purpose string) (*VerifyOTPResult, error) {
	if identifier == "" || code == "" {
		return nil, apperrors.InvalidInput("identifier and code are required")
	}

	if err := s.otp.Verify(ctx, identifier, code, purpose); err != nil {
		if errors.Is(err, otp.ErrCodeMismatch) {
			return nil, errInvalidOTP()
		}
		if errors.Is(err, otp.ErrUnavailable) {
			return nil, errOTPUnavailable(err)
		}
		return nil, fmt.Errorf("verify otp: %w", err)
	}

	switch purpose {
	case OTPPurposePasswordReset:
		return s.completeResetOTP(ctx, identifier)
	case OTPPurposeVerifyPhone:
		return s.completePhoneOTP(ctx, identifier)
	default:
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown purpose %q", purpose))
	}
}

// completeResetOTP mints a short-lived reset token for the account behind
// the identifier. An unknown identifier reports the same error as a wrong
// code so verified codes cannot be used to enumerate accounts.
func (s *AuthService) completeResetOTP(ctx context.Context, identifier string) (*VerifyOTPResult, error) {
	user, err := s.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, errInvalidOTP()
		}
		return nil, err
	}

	plaintext, tokenHash, err := newResetToken()
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(s.cfg.OTPResetTokenTTL)
	if err := s.users.SetResetToken(ctx, user.ID, tokenHash, expiresAt); err != nil {
		return nil, fmt.Errorf("store reset token: %w", err)
	}

	s.logger.InfoContext(ctx, "otp verified for password reset",
		slog.String("user_id", user.ID),
	)

	return &VerifyOTPResult{
		Verified:   true,
		ResetToken: plaintext,
		ExpiresIn:  int64(s.cfg.OTPResetTokenTTL.Seconds()),
	}, nil
}

// completePhoneOTP marks the phone number verified. In strict mode an
// unknown number is an error; otherwise the verification simply succeeds
// with nothing to update, which covers pre-registration confirmation flows.
func (s *AuthService) completePhoneOTP(ctx context.Context, identifier string) (*VerifyOTPResult, error) {
	user, err := s.lookupByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			if s.cfg.OTPPhoneVerifyStrict {
				return nil, errInvalidOTP()
			}
			return &VerifyOTPResult{Verified: true}, nil
		}
		return nil, err
	}

	if err := s.users.SetPhoneVerified(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("set phone verified: %w", err)
	}

	s.logger.InfoContext(ctx, "phone number verified",
		slog.String("user_id", user.ID),
	)
	return &VerifyOTPResult{Verified: true}, nil
}

func (s *AuthService) lookupByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	if isEmailIdentifier(identifier) {
		return s.users.GetByEmail(ctx, identifier)
	}
	return s.users.GetByPhone(ctx, identifier)
}
