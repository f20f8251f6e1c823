// Package auth verifies API keys for the HTTP submission endpoint. Only
// the bcrypt hash of the key is ever configured; the plaintext secret
// lives with the caller.
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCostFactor = 12

// HashAPIKey generates a bcrypt hash for the given API key secret. Run it
// once when provisioning a key and put the hash in the configuration.
func HashAPIKey(apiKeySecret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(apiKeySecret), bcryptCostFactor)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckAPIKey compares a plaintext API key secret against the configured
// bcrypt hash.
func CheckAPIKey(apiKeySecret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKeySecret))
	if err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			// Log unexpected errors during comparison
			slog.Warn("Error comparing api key hash", slog.Any("error", err))
		}
		return false
	}
	return true
}
