package auth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt work factor used when configuration does not
// set one.
const DefaultCost = 10

// maxPasswordBytes is where bcrypt stops reading input.
const maxPasswordBytes = 72

var (
	ErrEmptyPassword   = errors.New("auth: password must not be empty")
	ErrPasswordTooLong = errors.New("auth: password must be 72 bytes or fewer")
)

// PasswordService hashes and checks passwords with bcrypt. The cost is a
// field so tests can run at bcrypt.MinCost.
type PasswordService struct {
	cost int
}

// NewPasswordService returns a PasswordService with the given cost. A cost
// outside bcrypt's range falls back to DefaultCost.
func NewPasswordService(cost int) *PasswordService {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest uses bcrypt.MinCost. Not for production.
func NewPasswordServiceForTest() *PasswordService {
	return &PasswordService{cost: bcrypt.MinCost}
}

// Hash returns a salted bcrypt hash of plaintext. Hashing the same input
// twice yields different strings; only Verify can compare them.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyPassword
	}
	if len(plaintext) > maxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether plaintext matches hash. A malformed or empty hash
// is a mismatch, not an error.
func (p *PasswordService) Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Unusable returns the hash of a random value nobody knows. Accounts
// created through GitHub sign-in get one so password login never matches.
func (p *PasswordService) Unusable() (string, error) {
	return p.Hash(uuid.NewString())
}
