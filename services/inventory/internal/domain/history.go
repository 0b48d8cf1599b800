package domain

import (
	"time"
)

// ChangeType classifies a stock history entry.
type ChangeType string

const (
	ChangeIncrease ChangeType = "INCREASE"
	ChangeDecrease ChangeType = "DECREASE"
	ChangeReserve  ChangeType = "RESERVE"
	ChangeRelease  ChangeType = "RELEASE"
)

// StockHistoryEntry is an immutable audit record of one ledger mutation.
// BeforeQuantity and AfterQuantity track total for INCREASE and DECREASE and
// available for RESERVE and RELEASE.
type StockHistoryEntry struct {
	ID             string     `json:"id"`
	InventoryID    string     `json:"inventory_id"`
	ChangeType     ChangeType `json:"change_type"`
	Quantity       int        `json:"quantity"`
	BeforeQuantity int        `json:"before_quantity"`
	AfterQuantity  int        `json:"after_quantity"`
	Reason         string     `json:"reason"`
	ReferenceID    string     `json:"reference_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
