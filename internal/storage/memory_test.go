package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/org/duressvault/pkg/models"
)

func TestMemoryTransfer(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	a := models.Address("aa")
	c := models.Address("cc")
	if err := b.CreateAccount(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := b.Credit(ctx, a, 100); err != nil {
		t.Fatal(err)
	}

	if err := b.Transfer(ctx, a, c, 150); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := b.Transfer(ctx, models.Address("nope"), c, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// Transfer auto-creates the destination
	if err := b.Transfer(ctx, a, c, 60); err != nil {
		t.Fatal(err)
	}
	got, err := b.GetBalance(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if got != 60 {
		t.Fatalf("destination balance = %d, want 60", got)
	}
	got, _ = b.GetBalance(ctx, a)
	if got != 40 {
		t.Fatalf("source balance = %d, want 40", got)
	}
}

func TestMemoryAtomicRollback(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	a := models.Address("aa")
	if err := b.CreateAccount(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := b.Credit(ctx, a, 100); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := b.Atomic(ctx, func(tx Store) error {
		if err := tx.Credit(ctx, a, 900); err != nil {
			return err
		}
		if err := tx.CreateVault(ctx, &models.Vault{Owner: a, Address: "vv", State: models.RecoveryLocked}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	// Everything inside the failed transaction is gone
	got, _ := b.GetBalance(ctx, a)
	if got != 100 {
		t.Fatalf("balance after rollback = %d, want 100", got)
	}
	if _, err := b.GetVault(ctx, a); !errors.Is(err, ErrNotFound) {
		t.Fatalf("vault should have rolled back, got %v", err)
	}
}

func TestMemoryAtomicCommit(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	a := models.Address("aa")
	err := b.Atomic(ctx, func(tx Store) error {
		if err := tx.CreateAccount(ctx, a); err != nil {
			return err
		}
		return tx.Credit(ctx, a, 42)
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.GetBalance(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Fatalf("balance = %d, want 42", got)
	}
}

func TestMemoryStoredCopiesDoNotAlias(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	cfg := &models.PanicConfig{
		Owner:    models.Address("aa"),
		Contacts: []models.Address{"c1"},
		State:    models.ConfigIdle,
	}
	if err := b.CreatePanicConfig(ctx, cfg); err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's copy must not leak into the store.
	cfg.State = models.ConfigTriggered
	cfg.Contacts[0] = "evil"

	stored, err := b.GetPanicConfig(ctx, "aa")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.ConfigIdle {
		t.Fatal("stored config state aliased the caller's copy")
	}
	if stored.Contacts[0] != "c1" {
		t.Fatal("stored contacts aliased the caller's slice")
	}
}

func TestMemoryEventQuery(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	for i, typ := range []string{models.EventDeposited, models.EventPanicTriggered, models.EventDeposited} {
		ev := &models.Event{ID: string(rune('a' + i)), Type: typ, Owner: "aa"}
		if err := b.AppendEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	evs, err := b.QueryEvents(ctx, EventFilter{Owner: "aa", Type: models.EventDeposited})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	// Newest first
	if evs[0].ID != "c" {
		t.Fatalf("expected newest event first, got %s", evs[0].ID)
	}

	evs, err = b.QueryEvents(ctx, EventFilter{Owner: "bb"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 0 {
		t.Fatalf("got %d events for unknown owner, want 0", len(evs))
	}
}
