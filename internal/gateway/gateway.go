// Package gateway authorizes account credentials against the upstream
// messaging network and issues one-time login codes for stocked accounts.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrCodeNotAvailable is returned when no live session exists for an identity.
var ErrCodeNotAvailable = errors.New("one-time code not available")

// AuthError is returned by Authorize. Any AuthError ends the onboarding attempt.
type AuthError struct {
	Identity string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authorization failed for %s: %v", e.Identity, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Gateway is the credential authorization collaborator.
type Gateway interface {
	// Authorize logs in with the phone-like identity, the code the network
	// sent to it and the two-step password. Returns an opaque session token.
	Authorize(ctx context.Context, identity, oneTimeCode, secret string) (string, error)

	// IssueOneTimeCode requests a fresh login code for a stocked identity.
	IssueOneTimeCode(ctx context.Context, identity string) (string, error)
}
