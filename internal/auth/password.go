package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	hashCost = 12

	// maxConcurrentHashes caps the number of bcrypt operations running at
	// once so a burst of logins cannot saturate every CPU.
	maxConcurrentHashes = 8
)

// dummyHash is a valid bcrypt hash of a random string, verified against when
// the user does not exist so both login failure branches cost one bcrypt op.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// PasswordHasher hashes and verifies passwords with bcrypt, bounding
// concurrency with a semaphore.
type PasswordHasher struct {
	sem chan struct{}
}

// NewPasswordHasher creates a password hasher.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{
		sem: make(chan struct{}, maxConcurrentHashes),
	}
}

func (h *PasswordHasher) acquire(ctx context.Context) error {
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *PasswordHasher) release() {
	<-h.sem
}

// Hash derives a bcrypt hash of the given password.
func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.release()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether the password matches the stored hash. A malformed
// hash verifies as false rather than returning an error, so a corrupt stored
// value behaves like a wrong password.
func (h *PasswordHasher) Verify(ctx context.Context, hash, password string) (bool, error) {
	if err := h.acquire(ctx); err != nil {
		return false, err
	}
	defer h.release()

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// VerifyDummy burns one bcrypt verification against a fixed hash. Called on
// the unknown-user login path so its timing matches a real password check.
func (h *PasswordHasher) VerifyDummy(ctx context.Context) {
	if err := h.acquire(ctx); err != nil {
		return
	}
	defer h.release()

	_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte("placeholder"))
}
