package model

import "time"

// PendingClaim is a buyer's temporary right to redeem one reserved item.
type PendingClaim struct {
	BuyerID   int64     `json:"buyer_id"`
	ItemID    int64     `json:"item_id"`
	Identity  string    `json:"identity"`
	Secret    string    `json:"secret"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the claim can no longer be redeemed at now.
func (c *PendingClaim) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Reveal is what a buyer receives after redeeming a claim.
type Reveal struct {
	Identity string
	Secret   string
	Code     string
	Sale     *SaleRecord
}
