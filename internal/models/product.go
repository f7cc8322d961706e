package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Availability is the purchasability state of a product page.
type Availability string

const (
	// AvailabilityUnknown means the product has never completed a
	// successful check.
	AvailabilityUnknown    Availability = "unknown"
	AvailabilityInStock    Availability = "in_stock"
	AvailabilityOutOfStock Availability = "out_of_stock"
)

// Label returns a human-readable form for Telegram messages.
func (a Availability) Label() string {
	switch a {
	case AvailabilityInStock:
		return "in stock"
	case AvailabilityOutOfStock:
		return "out of stock"
	default:
		return "not checked yet"
	}
}

// Product represents a tracked product and its last-observed state.
type Product struct {
	ID           int64
	URL          string
	Name         string
	Availability Availability
	// Price is the last observed price. Invalid when the site does not
	// expose one or the product has never been successfully checked.
	Price       decimal.NullDecimal
	LastChecked time.Time
	// LastError is the most recent fetch/extract failure, cleared on the
	// next successful check.
	LastError string
	CreatedAt time.Time
}

// Observation is the result of one fetch+extract attempt for one product.
// It is never persisted directly; the store folds it into the product row.
type Observation struct {
	Availability Availability
	Price        decimal.NullDecimal
	ObservedAt   time.Time
}
