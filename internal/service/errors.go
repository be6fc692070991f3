package service

import (
	"fmt"
	"net/http"

	apperrors "github.com/nimbusworks/auth-service/pkg/errors"
)

// Error codes surfaced by the auth flows.
const (
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeAccountInactive     = "ACCOUNT_INACTIVE"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeTokenReuseDetected  = "TOKEN_REUSE_DETECTED"
	CodeTokenRevoked        = "TOKEN_REVOKED"
	CodeRefreshExpired      = "REFRESH_EXPIRED"
	CodeUserInactive        = "USER_INACTIVE"
	CodeInvalidTokenType    = "INVALID_TOKEN_TYPE"
	CodeInvalidResetToken   = "INVALID_RESET_TOKEN"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeInvalidOTP          = "INVALID_OTP"
	CodeExternalOTPError    = "EXTERNAL_OTP_ERROR"
	CodeLogoutFailed        = "LOGOUT_FAILED"
)

// errInvalidCredentials is returned for a wrong password and an unknown
// email alike; the message must not distinguish the two.
func errInvalidCredentials() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeInvalidCredentials,
		Message: "invalid email or password",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errAccountLocked(remainingMinutes int) *apperrors.AppError {
	e := &apperrors.AppError{
		Code:    CodeAccountLocked,
		Message: "account temporarily locked due to repeated failed logins",
		Status:  http.StatusLocked,
		Err:     apperrors.ErrForbidden,
	}
	return e.WithDetails(map[string]any{"remaining_minutes": remainingMinutes})
}

func errAccountInactive(status string) *apperrors.AppError {
	e := &apperrors.AppError{
		Code:    CodeAccountInactive,
		Message: "account is not active",
		Status:  http.StatusForbidden,
		Err:     apperrors.ErrForbidden,
	}
	return e.WithDetails(map[string]any{"status": status})
}

func errEmailTaken(email string) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeEmailTaken,
		Message: fmt.Sprintf("an account with email %q already exists", email),
		Status:  http.StatusConflict,
		Err:     apperrors.ErrAlreadyExists,
	}
}

func errInvalidRefreshToken() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeInvalidRefreshToken,
		Message: "invalid refresh token",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errTokenReuseDetected() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeTokenReuseDetected,
		Message: "refresh token reuse detected; all sessions for this token family have been revoked",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errTokenRevoked() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeTokenRevoked,
		Message: "token has been revoked",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errRefreshExpired() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeRefreshExpired,
		Message: "refresh token has expired",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errUserInactive() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeUserInactive,
		Message: "user account is not active",
		Status:  http.StatusForbidden,
		Err:     apperrors.ErrForbidden,
	}
}

func errInvalidTokenType() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeInvalidTokenType,
		Message: "unexpected token type",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errInvalidResetToken() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeInvalidResetToken,
		Message: "invalid or expired reset token",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errWeakPassword(minLength int) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeWeakPassword,
		Message: fmt.Sprintf("password must be at least %d characters", minLength),
		Status:  http.StatusBadRequest,
		Err:     apperrors.ErrInvalidInput,
	}
}

func errInvalidOTP() *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeInvalidOTP,
		Message: "invalid or expired code",
		Status:  http.StatusUnauthorized,
		Err:     apperrors.ErrUnauthorized,
	}
}

func errOTPUnavailable(err error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeExternalOTPError,
		Message: "code delivery service is unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     err,
	}
}

func errLogoutFailed(err error) *apperrors.AppError {
	return &apperrors.AppError{
		Code:    CodeLogoutFailed,
		Message: "logout could not be completed",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}
