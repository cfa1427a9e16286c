package duress

import "errors"

// Every failure is a precondition violation surfaced synchronously; the
// whole operation rolls back, the caller decides whether to retry.
var (
	ErrInvalidTriggerProof       = errors.New("invalid trigger proof: hash does not match stored trigger hash")
	ErrPanicAlreadyTriggered     = errors.New("panic has already been triggered for this config")
	ErrPanicNotTriggered         = errors.New("panic has not been triggered yet")
	ErrTimeLockActive            = errors.New("time-lock has not expired yet")
	ErrRecoveryNotInitiated      = errors.New("recovery has not been initiated")
	ErrRecoveryAlreadyInitiated  = errors.New("recovery has already been initiated")
	ErrInsufficientApprovals     = errors.New("insufficient approvals for recovery")
	ErrInvalidContact            = errors.New("contact is not in the emergency contacts list")
	ErrAlreadyApproved           = errors.New("contact has already approved recovery")
	ErrTooManyContacts           = errors.New("too many contacts (max 5)")
	ErrInvalidThreshold          = errors.New("recovery threshold must be <= number of contacts")
	ErrInsufficientFundsForDecoy = errors.New("insufficient funds for decoy transfer")
	ErrContactAccountMismatch    = errors.New("number of alert accounts does not match number of contacts")
	ErrAlertAddressMismatch      = errors.New("alert account address does not match derived address")
	ErrDuplicateContact          = errors.New("duplicate contact in contacts list")
	ErrConfigExists              = errors.New("panic config already exists for this owner")
	ErrInvalidAmount             = errors.New("amount must be positive")
)
