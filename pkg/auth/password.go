package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/convoflow/convoflow-engine/pkg/apperrors"
)

// bcrypt truncates input beyond 72 bytes; reject rather than silently
// accept a prefix.
const maxPasswordLength = 72

const minPasswordLength = 8

// ErrPasswordLength is returned for passwords outside the accepted range.
var ErrPasswordLength = errors.New("password must be between 8 and 72 characters")

// HashPassword hashes a plaintext password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return "", ErrPasswordLength
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password against a stored hash.
// Returns apperrors.ErrInvalidCredentials on mismatch.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperrors.ErrInvalidCredentials
	}
	return nil
}
