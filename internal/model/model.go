package model

import (
	"time"

	"github.com/google/uuid"
)

// Grant is a resolved, paid checkout ready to be turned into access.
type Grant struct {
	UserID          string
	SessionID       string
	PaymentIntentID string
	Amount          int64
	Currency        string
	EventID         string
}

// Membership is the per-user entitlement record.
type Membership struct {
	UserID    string    `json:"userId"`
	HasAccess bool      `json:"hasAccess"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Payment is one row of the append-only payment audit log.
type Payment struct {
	ID              uuid.UUID `json:"id"`
	UserID          string    `json:"userId"`
	SessionID       string    `json:"sessionId"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Amount          int64     `json:"amount"`
	Currency        string    `json:"currency"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

const PaymentStatusSucceeded = "succeeded"

// Place is a point of interest on the map.
type Place struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Moods       []string  `json:"moods"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Address     string    `json:"address"`
	ImageURL    *string   `json:"imageUrl,omitempty"`
	IsPremium   bool      `json:"isPremium"`
	Summary     *string   `json:"summary,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Bookmark struct {
	UserID    string    `json:"userId"`
	PlaceID   uuid.UUID `json:"placeId"`
	CreatedAt time.Time `json:"createdAt"`
	Place     *Place    `json:"place,omitempty"`
}
