package model

import "time"

// AlertKind classifies operator alerts.
type AlertKind string

const (
	AlertAlreadySold      AlertKind = "already_sold"
	AlertStoreUnavailable AlertKind = "store_unavailable"
	AlertReleaseFailed    AlertKind = "release_failed"
)

// Alert is a fault that needs operator attention.
type Alert struct {
	ID        string    `json:"id" bson:"_id"`
	Kind      AlertKind `json:"kind" bson:"kind"`
	Message   string    `json:"message" bson:"message"`
	BuyerID   int64     `json:"buyer_id,omitempty" bson:"buyer_id,omitempty"`
	ItemID    int64     `json:"item_id,omitempty" bson:"item_id,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Notification is a push message to a user outside the current request.
type Notification struct {
	UserID int64     `json:"user_id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}
