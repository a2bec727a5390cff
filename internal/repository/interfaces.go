package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"acctshop-api/internal/model"
)

var (
	// ErrNotFound is returned when no Ready, unheld item exists.
	ErrNotFound = errors.New("no ready inventory")

	// ErrInsufficientFunds is returned by Checkout when the balance is below the price.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOutOfStock is returned by Checkout after the debit was refunded because
	// nothing could be reserved.
	ErrOutOfStock = errors.New("out of stock")

	// ErrAlreadySold is returned by FinalizeSale when the item is no longer
	// Ready or is not held by the finalizing buyer. It signals a consistency fault.
	ErrAlreadySold = errors.New("inventory item already sold")

	// ErrNotHeld is returned by ReleaseReservation when the hold is gone.
	ErrNotHeld = errors.New("reservation not held")

	// ErrInventoryHeld is returned when re-stocking an identity that a buyer
	// currently holds.
	ErrInventoryHeld = errors.New("inventory item is reserved by a buyer")

	// ErrStoreUnavailable matches every StoreError.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// StoreError wraps a driver or connectivity failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is makes every StoreError match ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Ledger is the durable store of inventory, balances and sales.
// Every method is atomic with respect to the others.
type Ledger interface {
	// AddOrReplaceInventory upserts a Ready item keyed on identity.
	AddOrReplaceInventory(ctx context.Context, identity, secret, sessionToken string) (*model.InventoryItem, error)

	// ReserveReadyInventory atomically selects one Ready, unheld item and holds it for buyerID.
	ReserveReadyInventory(ctx context.Context, buyerID, amount int64, holdUntil time.Time) (*model.InventoryItem, error)

	// Checkout debits price and reserves an item in one transaction.
	Checkout(ctx context.Context, buyerID, price int64, holdUntil time.Time) (*model.Checkout, error)

	// FinalizeSale marks the item Sold and records the sale. The item must
	// still be held by buyerID.
	FinalizeSale(ctx context.Context, itemID, buyerID, amount int64) (*model.SaleRecord, error)

	// ReleaseReservation drops a buyer's hold and refunds the held amount.
	ReleaseReservation(ctx context.Context, itemID, buyerID int64) (int64, error)

	// ExpiredReservations lists holds that ended before now.
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)

	// AdjustBalance adds delta to the user's balance and returns the new balance.
	AdjustBalance(ctx context.Context, userID, delta int64) (int64, error)

	// GetBalance returns 0 for unknown users.
	GetBalance(ctx context.Context, userID int64) (int64, error)

	// DailyStats aggregates the calendar day containing now.
	DailyStats(ctx context.Context, now time.Time) (*model.DailyStats, error)

	// ListReady returns all Ready items, held or not.
	ListReady(ctx context.Context) ([]model.InventoryItem, error)

	Ping(ctx context.Context) error
	Close() error
}

// AlertRepository stores operator alerts.
type AlertRepository interface {
	InsertAlert(ctx context.Context, alert *model.Alert) error
	ListAlerts(ctx context.Context, limit, offset int) ([]model.Alert, int64, error)
	Close() error
}

// dayBounds returns the start and end of the calendar day containing now.
func dayBounds(now time.Time) (time.Time, time.Time) {
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}
