package errors

import (
	"errors"
	"fmt"
)

// Common error types for the dashboard session core
var (
	// Sign-in errors
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountNotActivated = errors.New("account not activated")
	ErrInvalidInput        = errors.New("invalid input")

	// Token errors
	ErrRefreshRejected = errors.New("refresh token rejected")
	ErrInvalidToken    = errors.New("invalid token")

	// Transport errors
	ErrNetwork = errors.New("network error")

	// Session errors
	ErrSessionNotFound  = errors.New("session not found")
	ErrMalformedSession = errors.New("malformed session")
	ErrStoreUnavailable = errors.New("credential store unavailable")
	ErrStaleSession     = errors.New("session changed")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is errors.Join, re-exported so callers only import this package
func Join(errs ...error) error {
	return errors.Join(errs...)
}
