package models

import "time"

// Event types, one per successful operation.
const (
	EventConfigInitialized = "config_initialized"
	EventDeposited         = "deposited"
	EventPanicTriggered    = "panic_triggered"
	EventRecoveryInitiated = "recovery_initiated"
	EventRecoveryApproved  = "recovery_approved"
	EventFundsRecovered    = "funds_recovered"
)

// Event is the evidentiary record emitted by a successful operation. It is
// appended to storage inside the operation's transaction and optionally
// published to a message broker after commit.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Owner     Address        `json:"owner"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}
