package domain

import "time"

// HoldStatus enumerates the settlement states of a credit reservation.
type HoldStatus string

const (
	HoldStatusHeld      HoldStatus = "HELD"
	HoldStatusCommitted HoldStatus = "COMMITTED"
	HoldStatusReleased  HoldStatus = "RELEASED"
)

// CreditHold is a reservation against a tenant's credit balance. The amount is
// deducted from the available balance the instant the hold is created and is
// either fully committed on success or fully released on failure, never
// partially.
type CreditHold struct {
	ID        string
	TenantID  string
	Amount    int64
	Status    HoldStatus
	CreatedAt time.Time
}
