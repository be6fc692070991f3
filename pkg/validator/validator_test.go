package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Channel  string `validate:"omitempty,oneof=sms email"`
}

func TestValidate_Success(t *testing.T) {
	err := Validate(sampleRequest{Email: "a@x.com", Password: "Password1"})
	assert.NoError(t, err)
}

func TestValidate_CollectsFieldErrors(t *testing.T) {
	err := Validate(sampleRequest{Email: "not-an-email", Password: "short", Channel: "fax"})
	require.Error(t, err)

	verr, ok := err.(*ValidationError)
	require.True(t, ok)

	fields := verr.Fields()
	assert.Contains(t, fields, "Email")
	assert.Contains(t, fields, "Password")
	assert.Contains(t, fields, "Channel")
	assert.Equal(t, "must be a valid email address", fields["Email"])
	assert.Equal(t, "must be at least 8 characters long", fields["Password"])
}

func TestValidate_RequiredMessage(t *testing.T) {
	err := Validate(sampleRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is required")
}
