package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to the HTTP boundary. The handler layer is the only
// place that turns these into status codes.
const (
	CodeAlreadyExists      = "already_exists"
	CodePolicyViolation    = "policy_violation"
	CodeInvalidCredentials = "invalid_credentials"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeInvalidRequest     = "invalid_request"
)

// AuthError is the single error type returned by the auth service. Storage
// and crypto failures are translated before they cross this boundary.
type AuthError struct {
	Code        string
	Description string
	Status      int
	Field       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ErrAlreadyExists reports a uniqueness conflict on the named field.
func ErrAlreadyExists(field string) *AuthError {
	return &AuthError{
		Code:        CodeAlreadyExists,
		Description: fmt.Sprintf("A user with this %s already exists.", field),
		Status:      http.StatusConflict,
		Field:       field,
	}
}

// ErrPolicyViolation reports a password that fails the strength rules.
func ErrPolicyViolation(desc string) *AuthError {
	return &AuthError{Code: CodePolicyViolation, Description: desc, Status: http.StatusBadRequest}
}

// ErrInvalidCredentials is returned for an unknown email, a wrong password,
// and an inactive account alike so callers cannot probe for account existence.
func ErrInvalidCredentials() *AuthError {
	return &AuthError{
		Code:        CodeInvalidCredentials,
		Description: "Invalid email or password.",
		Status:      http.StatusUnauthorized,
	}
}

// ErrUnauthenticated covers missing, malformed, and expired session tokens.
func ErrUnauthenticated() *AuthError {
	return &AuthError{
		Code:        CodeUnauthenticated,
		Description: "Invalid authentication credentials.",
		Status:      http.StatusUnauthorized,
	}
}

// ErrForbidden is returned when a valid token resolves to a deactivated account.
func ErrForbidden() *AuthError {
	return &AuthError{
		Code:        CodeForbidden,
		Description: "Account is deactivated.",
		Status:      http.StatusForbidden,
	}
}

// ErrInvalidRequest reports a structurally invalid payload.
func ErrInvalidRequest(desc string) *AuthError {
	return &AuthError{Code: CodeInvalidRequest, Description: desc, Status: http.StatusBadRequest}
}

// IsCode reports whether err is an AuthError carrying the given code.
func IsCode(err error, code string) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Code == code
}
