// Package auth implements the ticket lifecycle coordination: minting
// sessions, granting and validating service tickets, delegating proxy
// sessions, and cascading session destruction with single sign-out.
// This file contains secret hashing and verification using bcrypt, used for
// registered-service shared secrets and the administrative API key.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost defines the cost factor for bcrypt hashing.
	// Cost of 12 provides a good balance between security and performance.
	BcryptCost = 12
)

// HashSecret generates a bcrypt hash of the provided secret. The hash can
// be safely stored and used for future verification.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret cannot be empty")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}

	return string(hash), nil
}

// VerifySecret compares a plaintext secret against a bcrypt hash.
// Returns nil if the secret matches the hash.
func VerifySecret(hash, secret string) error {
	if hash == "" || secret == "" {
		return errors.New("hash and secret are required")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return fmt.Errorf("secret verification failed: %w", err)
	}
	return nil
}
