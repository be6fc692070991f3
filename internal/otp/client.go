// Package otp calls the downstream one-time-passcode delivery service.
package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/nimbusworks/auth-service/pkg/httpclient"
)

// Channel names accepted by the delivery service.
const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
)

var (
	// ErrCodeMismatch is returned when the delivery service rejects the
	// submitted code.
	ErrCodeMismatch = errors.New("otp code mismatch")

	// ErrUnavailable is returned when the delivery service cannot be
	// reached or fails.
	ErrUnavailable = errors.New("otp service unavailable")
)

// Client talks to the OTP delivery service over HTTP, behind a circuit
// breaker so an outage does not stall login traffic.
type Client struct {
	http    *httpclient.CircuitBreakerClient
	baseURL string
}

// NewClient creates an OTP client for the service at baseURL.
func NewClient(http *httpclient.CircuitBreakerClient, baseURL string) *Client {
	return &Client{http: http, baseURL: baseURL}
}

type sendRequest struct {
	Identifier string `json:"identifier"`
	Channel    string `json:"channel"`
	Purpose    string `json:"purpose"`
	Language   string `json:"language,omitempty"`
}

type sendResponse struct {
	ExpiresIn int64 `json:"expires_in"`
}

type verifyRequest struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
	Purpose    string `json:"purpose"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// Send asks the delivery service to generate and deliver a code. The
// language tag, when set, selects the message localization; an empty tag
// leaves the choice to the delivery service. Send returns the code's
// validity window in seconds.
func (c *Client) Send(ctx context.Context, identifier, channel, language, purpose string) (int64, error) {
	body, err := json.Marshal(sendRequest{Identifier: identifier, Channel: channel, Purpose: purpose, Language: language})
	if err != nil {
		return 0, fmt.Errorf("marshal otp send request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/otp/send", "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, httpclient.ParseResponseError(resp, "otp-service"))
	}

	var out sendResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode otp send response: %w", err)
	}
	return out.ExpiresIn, nil
}

// Verify submits a code for checking. A clean mismatch returns
// ErrCodeMismatch; transport or server failures return ErrUnavailable so the
// caller can distinguish "wrong code" from "could not check".
func (c *Client) Verify(ctx context.Context, identifier, code, purpose string) error {
	body, err := json.Marshal(verifyRequest{Identifier: identifier, Code: code, Purpose: purpose})
	if err != nil {
		return fmt.Errorf("marshal otp verify request: %w", err)
	}

	resp, err := c.http.Post(ctx, c.baseURL+"/otp/verify", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out verifyResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&out); err != nil {
			return fmt.Errorf("decode otp verify response: %w", err)
		}
		if !out.Valid {
			return ErrCodeMismatch
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrCodeMismatch
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, httpclient.ParseResponseError(resp, "otp-service"))
	}
}
