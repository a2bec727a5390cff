// Package uid generates the identifiers used for request ids and alerts.
package uid

import "github.com/google/uuid"

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// IsValid reports whether id is a canonical UUID string.
func IsValid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
