package models

import "time"

// CompromisedFlag marks an owner identity as compromised. Created exactly
// once, at trigger time, and never mutated or deleted.
type CompromisedFlag struct {
	Owner     Address
	FlaggedAt time.Time
}

// AttackerFlag is the evidentiary record of one duress report against an
// attacker address. Keyed by (attacker, reporter): independent owners
// reporting the same attacker produce independent records.
type AttackerFlag struct {
	Attacker   Address
	ReportedBy Address
	FlaggedAt  time.Time
}

// AlertAccount is the per-contact alert record created at trigger time.
// Its Approved flag flips false→true exactly once, by that contact.
type AlertAccount struct {
	Owner Address
	// The alerted contact
	Contact Address
	// Derive(KindAlert, owner, contact)
	Address   Address
	AlertedAt time.Time
	Approved  bool
}

// Clone returns a copy.
func (a *AlertAccount) Clone() *AlertAccount {
	cp := *a
	return &cp
}
