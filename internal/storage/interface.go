package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/duressvault/pkg/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create an entity that already exists.
var ErrAlreadyExists = errors.New("already exists")

// ErrInsufficientFunds is returned by Transfer when the source account
// cannot cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Store is the entity store plus the value-transfer ledger. Addressing is
// deterministic: every entity is reachable from its kind and identity tuple.
type Store interface {
	// Identities
	CreateIdentity(ctx context.Context, id *models.Identity) error
	GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error)

	// Ledger accounts
	CreateAccount(ctx context.Context, addr models.Address) error
	GetBalance(ctx context.Context, addr models.Address) (uint64, error)
	Credit(ctx context.Context, addr models.Address, amount uint64) error
	// Transfer is atomic and fails with ErrInsufficientFunds if amount
	// exceeds the source balance. The destination account is created if it
	// does not exist yet.
	Transfer(ctx context.Context, from, to models.Address, amount uint64) error

	// Panic configs
	CreatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error
	GetPanicConfig(ctx context.Context, owner models.Address) (*models.PanicConfig, error)
	UpdatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error

	// Vaults
	CreateVault(ctx context.Context, v *models.Vault) error
	GetVault(ctx context.Context, owner models.Address) (*models.Vault, error)
	UpdateVault(ctx context.Context, v *models.Vault) error

	// Evidentiary flags
	CreateCompromisedFlag(ctx context.Context, f *models.CompromisedFlag) error
	GetCompromisedFlag(ctx context.Context, owner models.Address) (*models.CompromisedFlag, error)
	CreateAttackerFlag(ctx context.Context, f *models.AttackerFlag) error
	ListAttackerFlags(ctx context.Context, attacker models.Address) ([]*models.AttackerFlag, error)

	// Alert records
	CreateAlertAccount(ctx context.Context, a *models.AlertAccount) error
	GetAlertAccount(ctx context.Context, owner, contact models.Address) (*models.AlertAccount, error)
	UpdateAlertAccount(ctx context.Context, a *models.AlertAccount) error

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Operation events
	AppendEvent(ctx context.Context, ev *models.Event) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)
}

// Backend is a Store whose Atomic method runs a function as one atomic,
// serializable transition: either every write inside applies, or none do.
type Backend interface {
	Store
	Atomic(ctx context.Context, fn func(Store) error) error
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Path   string
	Since  *time.Time
	Limit  int
	Offset int
}

// EventFilter specifies query parameters for operation-event retrieval.
type EventFilter struct {
	Owner models.Address
	Type  string
	Limit int
}
