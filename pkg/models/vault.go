package models

import "time"

// RecoveryState tracks the vault's recovery protocol. Transitions are
// locked→pending (InitiateRecovery) and pending→complete (ClaimFromVault);
// the transition methods below are the only mutators.
type RecoveryState string

const (
	RecoveryLocked   RecoveryState = "locked"
	RecoveryPending  RecoveryState = "pending"
	RecoveryComplete RecoveryState = "complete"
)

// Vault holds the owner's swept balance (in the ledger, keyed by Address)
// and the dynamic recovery state.
type Vault struct {
	Owner Address
	// Ledger account holding the vault balance; Derive(KindVault, owner)
	Address Address
	// Unix timestamp when funds become recoverable (0 until trigger)
	LockedUntil int64
	State       RecoveryState
	// Approvals received in the current recovery cycle
	Approvals uint8
	CreatedAt time.Time
}

// RecoveryInitiated reports whether a recovery cycle is open.
func (v *Vault) RecoveryInitiated() bool {
	return v.State == RecoveryPending
}

// BeginRecovery opens a recovery cycle. Approvals restart from zero so a
// prior aborted window cannot contribute stale approvals.
func (v *Vault) BeginRecovery() error {
	if v.State != RecoveryLocked {
		return ErrIllegalTransition
	}
	v.State = RecoveryPending
	v.Approvals = 0
	return nil
}

// CompleteRecovery closes the recovery cycle after a successful claim.
func (v *Vault) CompleteRecovery() error {
	if v.State != RecoveryPending {
		return ErrIllegalTransition
	}
	v.State = RecoveryComplete
	return nil
}

// Clone returns a copy.
func (v *Vault) Clone() *Vault {
	cp := *v
	return &cp
}
