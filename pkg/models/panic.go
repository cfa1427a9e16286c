package models

import (
	"errors"
	"time"
)

// MaxContacts is the maximum number of emergency contacts per config.
const MaxContacts = 5

// ConfigState tracks the one-way triggered transition of a PanicConfig.
type ConfigState string

const (
	ConfigIdle      ConfigState = "idle"
	ConfigTriggered ConfigState = "triggered"
)

// ErrIllegalTransition is returned by entity transition methods when the
// requested state change is not permitted from the current state.
var ErrIllegalTransition = errors.New("illegal state transition")

// PanicConfig is the owner's static duress policy.
type PanicConfig struct {
	Owner Address
	// SHA-256 hash of the duress trigger (e.g. a PIN)
	TriggerHash [32]byte
	// Emergency contacts who can approve recovery
	Contacts []Address
	// Number of contact approvals required before claim
	RecoveryThreshold uint8
	// Time-lock duration in seconds
	TimeLockDuration int64
	// Decoy amount paid to the attacker at trigger time
	DecoyAmount uint64
	State       ConfigState
	CreatedAt   time.Time
}

// Triggered reports whether the panic has been triggered.
func (c *PanicConfig) Triggered() bool {
	return c.State == ConfigTriggered
}

// MarkTriggered performs the one-way idle→triggered transition.
func (c *PanicConfig) MarkTriggered() error {
	if c.State != ConfigIdle {
		return ErrIllegalTransition
	}
	c.State = ConfigTriggered
	return nil
}

// HasContact reports whether addr is one of the registered contacts.
func (c *PanicConfig) HasContact(addr Address) bool {
	for _, ct := range c.Contacts {
		if ct == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (c *PanicConfig) Clone() *PanicConfig {
	cp := *c
	cp.Contacts = append([]Address(nil), c.Contacts...)
	return &cp
}
