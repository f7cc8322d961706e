// Package notify defines the notification events emitted by a check cycle
// and their delivery to the user.
package notify

import (
	"context"
	"time"

	"restockbot/internal/detect"
	"restockbot/internal/models"

	"github.com/shopspring/decimal"
)

// Event describes one notification-worthy product change.
type Event struct {
	ProductID       int64
	Name            string
	URL             string
	Reason          detect.Reason
	OldAvailability models.Availability
	NewAvailability models.Availability
	OldPrice        decimal.NullDecimal
	NewPrice        decimal.NullDecimal
	Timestamp       time.Time
}

// Summary describes one completed check cycle.
type Summary struct {
	CycleID   string
	Checked   int
	Changed   int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

// Notifier delivers events to the user. Delivery failure is the caller's to
// log; it is never retried and never blocks a cycle.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	NotifySummary(ctx context.Context, summary Summary) error
}
