// Package duress implements the panic state machine: six operations over an
// owner's panic config, time-locked vault, and evidentiary flag records.
package duress

import (
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/duressvault/internal/events"
	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
	"github.com/rs/zerolog"
)

const (
	// DefaultSweepBuffer is the liquid balance left on the owner's account
	// at trigger time, covering continued fees so the sweep does not leave
	// an obviously emptied account.
	DefaultSweepBuffer uint64 = 10_000_000

	// DefaultProtectedMinimum is the reserve a vault account retains
	// through decoy payment and claim, preserving its operability.
	DefaultProtectedMinimum uint64 = 2_000_000
)

// Options tune the engine. Zero values select the defaults above and the
// system clock.
type Options struct {
	SweepBuffer      uint64
	ProtectedMinimum uint64
	Now              func() time.Time
	Logger           zerolog.Logger
}

// Engine executes the panic life-cycle operations. Each operation runs under
// a per-owner mutex and inside one storage transaction, so the store only
// ever observes complete transitions. Authorization (that the caller is the
// owner or contact it claims to be) happens before the engine is reached.
type Engine struct {
	store       storage.Backend
	pub         events.Publisher
	sweepBuffer uint64
	reserve     uint64
	now         func() time.Time
	log         zerolog.Logger

	mu     sync.Mutex
	owners map[models.Address]*sync.Mutex
}

// NewEngine creates an Engine over the given backend and event publisher.
func NewEngine(store storage.Backend, pub events.Publisher, opts Options) *Engine {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if opts.SweepBuffer == 0 {
		opts.SweepBuffer = DefaultSweepBuffer
	}
	if opts.ProtectedMinimum == 0 {
		opts.ProtectedMinimum = DefaultProtectedMinimum
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:       store,
		pub:         pub,
		sweepBuffer: opts.SweepBuffer,
		reserve:     opts.ProtectedMinimum,
		now:         opts.Now,
		log:         opts.Logger,
		owners:      map[models.Address]*sync.Mutex{},
	}
}

// ProtectedMinimum returns the vault reserve policy value.
func (e *Engine) ProtectedMinimum() uint64 { return e.reserve }

func (e *Engine) lockOwner(owner models.Address) func() {
	e.mu.Lock()
	m, ok := e.owners[owner]
	if !ok {
		m = &sync.Mutex{}
		e.owners[owner] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// run executes fn as one atomic transition for owner. The event fn returns
// is appended to storage inside the transaction and published after commit.
func (e *Engine) run(ctx context.Context, owner models.Address, fn func(tx storage.Store) (*models.Event, error)) error {
	unlock := e.lockOwner(owner)
	defer unlock()

	var ev *models.Event
	err := e.store.Atomic(ctx, func(tx storage.Store) error {
		var err error
		ev, err = fn(tx)
		if err != nil {
			return err
		}
		if ev != nil {
			return tx.AppendEvent(ctx, ev)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if ev != nil {
		if perr := e.pub.Publish(ctx, ev); perr != nil {
			e.log.Warn().Err(perr).Str("event", ev.Type).Msg("event publish failed")
		}
	}
	return nil
}

func newEvent(eventType string, owner models.Address, at time.Time, payload map[string]any) *models.Event {
	return &models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Owner:     owner,
		CreatedAt: at,
		Payload:   payload,
	}
}

// ConfigParams are the inputs to InitializeConfig.
type ConfigParams struct {
	TriggerHash       [32]byte
	Contacts          []models.Address
	RecoveryThreshold uint8
	// Seconds; only meaningful >= 0
	TimeLockDuration int64
	DecoyAmount      uint64
}

// InitializeConfig creates the owner's PanicConfig and Vault. Each owner may
// hold exactly one config; a second call fails with ErrConfigExists.
func (e *Engine) InitializeConfig(ctx context.Context, owner models.Address, p ConfigParams) (*models.PanicConfig, error) {
	if len(p.Contacts) > models.MaxContacts {
		return nil, ErrTooManyContacts
	}
	if int(p.RecoveryThreshold) > len(p.Contacts) {
		return nil, ErrInvalidThreshold
	}
	seen := map[models.Address]bool{}
	for _, c := range p.Contacts {
		if seen[c] {
			return nil, ErrDuplicateContact
		}
		seen[c] = true
	}

	now := e.now().UTC()
	cfg := &models.PanicConfig{
		Owner:             owner,
		TriggerHash:       p.TriggerHash,
		Contacts:          append([]models.Address(nil), p.Contacts...),
		RecoveryThreshold: p.RecoveryThreshold,
		TimeLockDuration:  p.TimeLockDuration,
		DecoyAmount:       p.DecoyAmount,
		State:             models.ConfigIdle,
		CreatedAt:         now,
	}
	vault := &models.Vault{
		Owner:     owner,
		Address:   models.Derive(models.KindVault, owner),
		State:     models.RecoveryLocked,
		CreatedAt: now,
	}

	err := e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		if err := tx.CreatePanicConfig(ctx, cfg); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return nil, ErrConfigExists
			}
			return nil, err
		}
		if err := tx.CreateVault(ctx, vault); err != nil {
			return nil, err
		}
		if err := tx.CreateAccount(ctx, vault.Address); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, err
		}
		return newEvent(models.EventConfigInitialized, owner, now, map[string]any{
			"contacts_count":     len(cfg.Contacts),
			"time_lock_duration": cfg.TimeLockDuration,
			"decoy_amount":       cfg.DecoyAmount,
		}), nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Info().Str("owner", string(owner)).Int("contacts", len(cfg.Contacts)).Msg("panic config initialized")
	return cfg, nil
}

// Deposit moves amount from the owner's liquid balance into the vault.
// Legal at any time, before or after trigger. Returns the new vault balance.
func (e *Engine) Deposit(ctx context.Context, owner models.Address, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	var newBalance uint64
	err := e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		if _, err := tx.GetPanicConfig(ctx, owner); err != nil {
			return nil, err
		}
		vault, err := tx.GetVault(ctx, owner)
		if err != nil {
			return nil, err
		}
		if err := tx.Transfer(ctx, owner, vault.Address, amount); err != nil {
			return nil, err
		}
		newBalance, err = tx.GetBalance(ctx, vault.Address)
		if err != nil {
			return nil, err
		}
		return newEvent(models.EventDeposited, owner, e.now().UTC(), map[string]any{
			"amount":        amount,
			"vault_balance": newBalance,
		}), nil
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// TriggerReceipt summarizes a successful panic trigger.
type TriggerReceipt struct {
	VaultBalance    uint64
	DecoySent       uint64
	LockedUntil     int64
	ContactsAlerted int
}

// TriggerPanic is the pivotal one-shot transition: verify the proof, sweep
// liquid funds into the vault, start the time-lock, stamp the compromised
// and attacker flags, pay the decoy, and create one alert record per
// contact. alertAccounts must supply, in contact order, the derived address
// of each alert record; any mismatch aborts the whole transition.
func (e *Engine) TriggerPanic(ctx context.Context, owner models.Address, proof []byte, attacker models.Address, alertAccounts []models.Address) (*TriggerReceipt, error) {
	var receipt TriggerReceipt
	err := e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		cfg, err := tx.GetPanicConfig(ctx, owner)
		if err != nil {
			return nil, err
		}

		proofHash := sha256.Sum256(proof)
		if proofHash != cfg.TriggerHash {
			return nil, ErrInvalidTriggerProof
		}
		if cfg.Triggered() {
			return nil, ErrPanicAlreadyTriggered
		}
		if len(alertAccounts) != len(cfg.Contacts) {
			return nil, ErrContactAccountMismatch
		}

		vault, err := tx.GetVault(ctx, owner)
		if err != nil {
			return nil, err
		}
		now := e.now().UTC()

		// Sweep the owner's liquid balance, keeping the fee buffer. A
		// balance at or below the buffer sweeps nothing and is not an
		// error.
		ownerBalance, err := tx.GetBalance(ctx, owner)
		if err != nil {
			return nil, err
		}
		if ownerBalance > e.sweepBuffer {
			if err := tx.Transfer(ctx, owner, vault.Address, ownerBalance-e.sweepBuffer); err != nil {
				return nil, err
			}
		}

		vault.LockedUntil = now.Unix() + cfg.TimeLockDuration

		if err := tx.CreateCompromisedFlag(ctx, &models.CompromisedFlag{Owner: owner, FlaggedAt: now}); err != nil {
			return nil, err
		}

		// Decoy: best of the configured amount and what the vault can
		// spare above its protected minimum. A non-positive decoy is a
		// hard failure; the whole transition rolls back.
		vaultBalance, err := tx.GetBalance(ctx, vault.Address)
		if err != nil {
			return nil, err
		}
		available := uint64(0)
		if vaultBalance > e.reserve {
			available = vaultBalance - e.reserve
		}
		decoy := min(cfg.DecoyAmount, available)
		if decoy == 0 {
			return nil, ErrInsufficientFundsForDecoy
		}
		if err := tx.Transfer(ctx, vault.Address, attacker, decoy); err != nil {
			return nil, err
		}

		if err := tx.CreateAttackerFlag(ctx, &models.AttackerFlag{
			Attacker:   attacker,
			ReportedBy: owner,
			FlaggedAt:  now,
		}); err != nil {
			return nil, err
		}

		for i, contact := range cfg.Contacts {
			expected := models.Derive(models.KindAlert, owner, contact)
			if alertAccounts[i] != expected {
				return nil, ErrAlertAddressMismatch
			}
			if err := tx.CreateAlertAccount(ctx, &models.AlertAccount{
				Owner:     owner,
				Contact:   contact,
				Address:   expected,
				AlertedAt: now,
			}); err != nil {
				return nil, err
			}
		}

		if err := cfg.MarkTriggered(); err != nil {
			return nil, err
		}
		if err := tx.UpdatePanicConfig(ctx, cfg); err != nil {
			return nil, err
		}
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return nil, err
		}

		finalBalance, err := tx.GetBalance(ctx, vault.Address)
		if err != nil {
			return nil, err
		}
		receipt = TriggerReceipt{
			VaultBalance:    finalBalance,
			DecoySent:       decoy,
			LockedUntil:     vault.LockedUntil,
			ContactsAlerted: len(cfg.Contacts),
		}
		return newEvent(models.EventPanicTriggered, owner, now, map[string]any{
			"attacker":         attacker,
			"vault_balance":    finalBalance,
			"decoy_sent":       decoy,
			"locked_until":     vault.LockedUntil,
			"contacts_alerted": len(cfg.Contacts),
		}), nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Warn().
		Str("owner", string(owner)).
		Str("attacker", string(attacker)).
		Uint64("decoy_sent", receipt.DecoySent).
		Int64("locked_until", receipt.LockedUntil).
		Msg("panic triggered")
	return &receipt, nil
}

// InitiateRecovery opens a recovery cycle once the panic has been triggered
// and the time-lock has expired. Owner-gated; contacts only approve.
func (e *Engine) InitiateRecovery(ctx context.Context, owner models.Address) error {
	return e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		cfg, err := tx.GetPanicConfig(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !cfg.Triggered() {
			return nil, ErrPanicNotTriggered
		}
		vault, err := tx.GetVault(ctx, owner)
		if err != nil {
			return nil, err
		}
		if vault.State != models.RecoveryLocked {
			return nil, ErrRecoveryAlreadyInitiated
		}
		now := e.now().UTC()
		if now.Unix() < vault.LockedUntil {
			return nil, ErrTimeLockActive
		}
		if err := vault.BeginRecovery(); err != nil {
			return nil, err
		}
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return nil, err
		}
		balance, err := tx.GetBalance(ctx, vault.Address)
		if err != nil {
			return nil, err
		}
		return newEvent(models.EventRecoveryInitiated, owner, now, map[string]any{
			"vault_balance": balance,
		}), nil
	})
}

// ApproveRecovery records one contact's approval. Each contact approves at
// most once per alert record.
func (e *Engine) ApproveRecovery(ctx context.Context, owner, contact models.Address) (uint8, error) {
	var approvals uint8
	var threshold uint8
	err := e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		cfg, err := tx.GetPanicConfig(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !cfg.Triggered() {
			return nil, ErrPanicNotTriggered
		}
		vault, err := tx.GetVault(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !vault.RecoveryInitiated() {
			return nil, ErrRecoveryNotInitiated
		}
		if !cfg.HasContact(contact) {
			return nil, ErrInvalidContact
		}
		alert, err := tx.GetAlertAccount(ctx, owner, contact)
		if err != nil {
			return nil, err
		}
		if alert.Approved {
			return nil, ErrAlreadyApproved
		}
		alert.Approved = true
		if err := tx.UpdateAlertAccount(ctx, alert); err != nil {
			return nil, err
		}
		vault.Approvals++
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return nil, err
		}
		approvals = vault.Approvals
		threshold = cfg.RecoveryThreshold
		return newEvent(models.EventRecoveryApproved, owner, e.now().UTC(), map[string]any{
			"contact":          contact,
			"approvals_so_far": approvals,
			"threshold":        threshold,
		}), nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().
		Str("owner", string(owner)).
		Str("contact", string(contact)).
		Uint8("approvals", approvals).
		Uint8("threshold", threshold).
		Msg("recovery approved")
	return approvals, nil
}

// ClaimFromVault pays out the vault balance minus the protected minimum once
// quorum and the time-lock are both satisfied. A zero payout still succeeds.
func (e *Engine) ClaimFromVault(ctx context.Context, owner models.Address) (uint64, error) {
	var claimed uint64
	err := e.run(ctx, owner, func(tx storage.Store) (*models.Event, error) {
		cfg, err := tx.GetPanicConfig(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !cfg.Triggered() {
			return nil, ErrPanicNotTriggered
		}
		vault, err := tx.GetVault(ctx, owner)
		if err != nil {
			return nil, err
		}
		if !vault.RecoveryInitiated() {
			return nil, ErrRecoveryNotInitiated
		}
		if vault.Approvals < cfg.RecoveryThreshold {
			return nil, ErrInsufficientApprovals
		}
		// Re-checked against the latest clock reading: time has passed
		// since initiation and the lock may still be open.
		now := e.now().UTC()
		if now.Unix() < vault.LockedUntil {
			return nil, ErrTimeLockActive
		}
		balance, err := tx.GetBalance(ctx, vault.Address)
		if err != nil {
			return nil, err
		}
		claimed = 0
		if balance > e.reserve {
			claimed = balance - e.reserve
		}
		if claimed > 0 {
			if err := tx.Transfer(ctx, vault.Address, owner, claimed); err != nil {
				return nil, err
			}
		}
		if err := vault.CompleteRecovery(); err != nil {
			return nil, err
		}
		if err := tx.UpdateVault(ctx, vault); err != nil {
			return nil, err
		}
		return newEvent(models.EventFundsRecovered, owner, now, map[string]any{
			"amount": claimed,
		}), nil
	})
	if err != nil {
		return 0, err
	}
	e.log.Info().Str("owner", string(owner)).Uint64("amount", claimed).Msg("funds recovered")
	return claimed, nil
}

// Status is a read-only view of an owner's config and vault.
type Status struct {
	Contacts          []models.Address
	RecoveryThreshold uint8
	TimeLockDuration  int64
	DecoyAmount       uint64
	Triggered         bool
	VaultAddress      models.Address
	VaultBalance      uint64
	LockedUntil       int64
	RecoveryState     models.RecoveryState
	Approvals         uint8
}

// GetStatus returns the owner's current policy and vault state. The trigger
// hash is never exposed.
func (e *Engine) GetStatus(ctx context.Context, owner models.Address) (*Status, error) {
	cfg, err := e.store.GetPanicConfig(ctx, owner)
	if err != nil {
		return nil, err
	}
	vault, err := e.store.GetVault(ctx, owner)
	if err != nil {
		return nil, err
	}
	balance, err := e.store.GetBalance(ctx, vault.Address)
	if err != nil {
		return nil, err
	}
	return &Status{
		Contacts:          cfg.Contacts,
		RecoveryThreshold: cfg.RecoveryThreshold,
		TimeLockDuration:  cfg.TimeLockDuration,
		DecoyAmount:       cfg.DecoyAmount,
		Triggered:         cfg.Triggered(),
		VaultAddress:      vault.Address,
		VaultBalance:      balance,
		LockedUntil:       vault.LockedUntil,
		RecoveryState:     vault.State,
		Approvals:         vault.Approvals,
	}, nil
}
