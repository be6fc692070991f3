package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	h := NewPasswordHasher()
	ctx := context.Background()

	hash, err := h.Hash(ctx, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$12$"))

	ok, err := h.Verify(ctx, hash, "correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, hash, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashUniqueSalts(t *testing.T) {
	h := NewPasswordHasher()
	ctx := context.Background()

	h1, err := h.Hash(ctx, "same password")
	require.NoError(t, err)
	h2, err := h.Hash(ctx, "same password")
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestVerifyMalformedHash(t *testing.T) {
	h := NewPasswordHasher()

	ok, err := h.Verify(context.Background(), "not-a-bcrypt-hash", "password")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyCanceledContext(t *testing.T) {
	h := NewPasswordHasher()
	// Fill the semaphore so acquire must block, then cancel.
	for i := 0; i < maxConcurrentHashes; i++ {
		h.sem <- struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Verify(ctx, dummyHash, "password")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyDummyDoesNotPanic(t *testing.T) {
	h := NewPasswordHasher()
	h.VerifyDummy(context.Background())
}
