package service

import (
	"errors"
	"fmt"

	"acctshop-api/internal/repository"
)

var (
	ErrInsufficientFunds = repository.ErrInsufficientFunds
	ErrOutOfStock        = repository.ErrOutOfStock
	ErrAlreadySold       = repository.ErrAlreadySold
	ErrInventoryHeld     = repository.ErrInventoryHeld
	ErrStoreUnavailable  = repository.ErrStoreUnavailable

	// ErrClaimNotFound means the buyer has no live claim to reveal.
	ErrClaimNotFound = errors.New("no pending claim")

	// ErrClaimPending means the buyer must reveal the current purchase first.
	ErrClaimPending = errors.New("purchase awaiting code")

	// ErrCodeUnavailable means the gateway could not issue a code; the claim is kept.
	ErrCodeUnavailable = errors.New("one-time code unavailable")

	// ErrInvalidInput means a flow step could not parse the user's text.
	ErrInvalidInput = errors.New("invalid input")
)

// PurchaseError carries the buyer's balance along with a buy refusal.
type PurchaseError struct {
	Err     error
	Balance int64
	Price   int64
}

func (e *PurchaseError) Error() string {
	return fmt.Sprintf("%v (balance %d, price %d)", e.Err, e.Balance, e.Price)
}

func (e *PurchaseError) Unwrap() error { return e.Err }
