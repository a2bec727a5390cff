package model

import "time"

// InventoryStatus is the lifecycle state of an inventory item.
// The only transition is Ready -> Sold.
type InventoryStatus string

const (
	StatusReady InventoryStatus = "ready"
	StatusSold  InventoryStatus = "sold"
)

// InventoryItem is one sellable credential bundle.
type InventoryItem struct {
	ID           int64           `json:"id"`
	Identity     string          `json:"identity"`
	Secret       string          `json:"-"`
	SessionToken string          `json:"-"`
	Status       InventoryStatus `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`

	// Hold fields. An item is held while it is Ready and ReservedBy is set.
	ReservedBy     *int64     `json:"reserved_by,omitempty"`
	ReservedAmount int64      `json:"reserved_amount,omitempty"`
	ReservedUntil  *time.Time `json:"reserved_until,omitempty"`
}

// IsHeld reports whether the item is reserved for a buyer and not yet sold.
func (i *InventoryItem) IsHeld() bool {
	return i.Status == StatusReady && i.ReservedBy != nil
}

// SaleRecord is the durable record of one sold item.
// Identity is a snapshot taken at sale time.
type SaleRecord struct {
	ID       int64     `json:"id"`
	ItemID   int64     `json:"item_id"`
	Identity string    `json:"identity"`
	BuyerID  int64     `json:"buyer_id"`
	Amount   int64     `json:"amount"`
	SoldAt   time.Time `json:"sold_at"`
}

// Reservation describes an outstanding hold on an item.
type Reservation struct {
	ItemID    int64     `json:"item_id"`
	Identity  string    `json:"identity"`
	BuyerID   int64     `json:"buyer_id"`
	Amount    int64     `json:"amount"`
	HeldUntil time.Time `json:"held_until"`
}

// Checkout is the result of a successful debit and reservation.
type Checkout struct {
	Item    *InventoryItem
	Balance int64
}

// DailyStats aggregates shop activity for one calendar day.
type DailyStats struct {
	Day          time.Time `json:"day"`
	Ready        int64     `json:"ready"`
	Reserved     int64     `json:"reserved"`
	SoldToday    int64     `json:"sold_today"`
	RevenueToday int64     `json:"revenue_today"`
}
