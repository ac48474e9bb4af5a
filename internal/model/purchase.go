package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase is one insurance policy bought by a passenger for a flight
type Purchase struct {
	ID          string          `json:"id"`
	Passenger   string          `json:"passenger"`
	Flight      FlightKey       `json:"flight"`
	Premium     decimal.Decimal `json:"premium"`
	Settled     bool            `json:"settled"`
	Payout      decimal.Decimal `json:"payout"`
	PurchasedAt time.Time       `json:"purchased_at"`
}
