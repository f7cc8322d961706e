// Package detect classifies a fresh observation against a product's stored
// state. It is pure: the orchestrator owns persistence and notification.
package detect

import (
	"restockbot/internal/models"
)

// Reason explains why an observation counts as a change.
type Reason string

const (
	ReasonFirstCheck          Reason = "first_check"
	ReasonAvailabilityChanged Reason = "availability_changed"
	ReasonPriceChanged        Reason = "price_changed"
)

// Result is the outcome of one comparison.
type Result struct {
	Changed bool
	Reason  Reason
}

// Detect compares an observation against the product's last-observed state.
// Priority: first check, then availability, then price. When availability and
// price change together the result is availability_changed; the caller emits
// a single notification carrying both facts.
//
// The first-check transition is reported here so the baseline update happens,
// but whether to notify on it is the orchestrator's call.
func Detect(product models.Product, obs models.Observation) Result {
	if product.Availability == models.AvailabilityUnknown {
		return Result{Changed: true, Reason: ReasonFirstCheck}
	}
	if obs.Availability != product.Availability {
		return Result{Changed: true, Reason: ReasonAvailabilityChanged}
	}
	if product.Price.Valid && obs.Price.Valid && !obs.Price.Decimal.Equal(product.Price.Decimal) {
		return Result{Changed: true, Reason: ReasonPriceChanged}
	}
	return Result{}
}
