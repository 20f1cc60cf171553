// Package common defines shared constants, sentinel errors and small helpers
// used across the SecureDocs server. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")
	ErrorPersistence   = errors.New("persistence error")

	// Storage gateway errors.
	ErrorStorageUnavailable = errors.New("storage unavailable")

	// Crypto errors.
	ErrorCorruption = errors.New("ciphertext corrupted")

	// Input errors.
	ErrorValidation = errors.New("validation error")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// IsRetryable reports whether err is transient: the same request may succeed
// when repeated later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrorStorageUnavailable) || errors.Is(err, ErrorPersistence)
}
