package models

import "time"

// Identity binds an authenticated caller to a ledger address. The bearer
// token is stored only as its SHA-256 hash.
type Identity struct {
	Address     Address
	DisplayName string
	TokenHash   string
	CreatedAt   time.Time
}
