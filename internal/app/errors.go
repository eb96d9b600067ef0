package app

import "errors"

// Error taxonomy surfaced to API consumers. Each maps to a stable HTTP
// status at the server edge so clients can branch on it.
var (
	// ErrDuplicateEmail is returned when registering an email that is
	// already taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrInvalidRole rejects registration with an unrecognized role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidCredentials covers both unknown email and password
	// mismatch, so it does not enable account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRoleMismatch is returned when the account exists but its stored
	// role differs from the requested one.
	ErrRoleMismatch = errors.New("invalid role for this account")

	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")

	// ErrUserNotFound marks a valid token whose subject no longer
	// resolves to a live user record.
	ErrUserNotFound = errors.New("user not found")

	// ErrForbidden rejects mutations by callers who neither own the
	// listing nor hold the admin role.
	ErrForbidden = errors.New("not authorized")

	// ErrNotFound covers absent listings; malformed identifiers fold
	// into it rather than surfacing as a distinct parse error.
	ErrNotFound = errors.New("book not found")
)
