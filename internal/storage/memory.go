package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/org/duressvault/pkg/models"
)

// memState holds all in-memory tables. Entities are stored and returned as
// copies so callers can mutate freely and rollback stays exact.
type memState struct {
	identities map[string]*models.Identity // token_hash → identity
	balances   map[models.Address]uint64
	accounts   map[models.Address]bool
	configs    map[models.Address]*models.PanicConfig
	vaults     map[models.Address]*models.Vault
	comp       map[models.Address]*models.CompromisedFlag
	attackers  map[models.Address][]*models.AttackerFlag
	alerts     map[string]*models.AlertAccount // owner|contact
	audit      []*models.AuditEntry
	events     []*models.Event
}

func newMemState() *memState {
	return &memState{
		identities: map[string]*models.Identity{},
		balances:   map[models.Address]uint64{},
		accounts:   map[models.Address]bool{},
		configs:    map[models.Address]*models.PanicConfig{},
		vaults:     map[models.Address]*models.Vault{},
		comp:       map[models.Address]*models.CompromisedFlag{},
		attackers:  map[models.Address][]*models.AttackerFlag{},
		alerts:     map[string]*models.AlertAccount{},
	}
}

func (s *memState) clone() *memState {
	cp := newMemState()
	for k, v := range s.identities {
		id := *v
		cp.identities[k] = &id
	}
	for k, v := range s.balances {
		cp.balances[k] = v
	}
	for k, v := range s.accounts {
		cp.accounts[k] = v
	}
	for k, v := range s.configs {
		cp.configs[k] = v.Clone()
	}
	for k, v := range s.vaults {
		cp.vaults[k] = v.Clone()
	}
	for k, v := range s.comp {
		f := *v
		cp.comp[k] = &f
	}
	for k, v := range s.attackers {
		flags := make([]*models.AttackerFlag, len(v))
		for i, f := range v {
			ff := *f
			flags[i] = &ff
		}
		cp.attackers[k] = flags
	}
	for k, v := range s.alerts {
		cp.alerts[k] = v.Clone()
	}
	cp.audit = append([]*models.AuditEntry(nil), s.audit...)
	cp.events = append([]*models.Event(nil), s.events...)
	return cp
}

func alertKey(owner, contact models.Address) string {
	return string(owner) + "|" + string(contact)
}

// memStore implements Store over a memState without locking; MemoryBackend
// serializes access.
type memStore struct {
	st *memState
}

func (m *memStore) CreateIdentity(_ context.Context, id *models.Identity) error {
	if _, ok := m.st.identities[id.TokenHash]; ok {
		return ErrAlreadyExists
	}
	cp := *id
	m.st.identities[id.TokenHash] = &cp
	return nil
}

func (m *memStore) GetIdentityByTokenHash(_ context.Context, tokenHash string) (*models.Identity, error) {
	id, ok := m.st.identities[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *id
	return &cp, nil
}

func (m *memStore) CreateAccount(_ context.Context, addr models.Address) error {
	if m.st.accounts[addr] {
		return ErrAlreadyExists
	}
	m.st.accounts[addr] = true
	m.st.balances[addr] = 0
	return nil
}

func (m *memStore) GetBalance(_ context.Context, addr models.Address) (uint64, error) {
	if !m.st.accounts[addr] {
		return 0, ErrNotFound
	}
	return m.st.balances[addr], nil
}

func (m *memStore) Credit(_ context.Context, addr models.Address, amount uint64) error {
	m.st.accounts[addr] = true
	m.st.balances[addr] += amount
	return nil
}

func (m *memStore) Transfer(_ context.Context, from, to models.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if !m.st.accounts[from] {
		return ErrNotFound
	}
	if m.st.balances[from] < amount {
		return ErrInsufficientFunds
	}
	m.st.balances[from] -= amount
	m.st.accounts[to] = true
	m.st.balances[to] += amount
	return nil
}

func (m *memStore) CreatePanicConfig(_ context.Context, cfg *models.PanicConfig) error {
	if _, ok := m.st.configs[cfg.Owner]; ok {
		return ErrAlreadyExists
	}
	m.st.configs[cfg.Owner] = cfg.Clone()
	return nil
}

func (m *memStore) GetPanicConfig(_ context.Context, owner models.Address) (*models.PanicConfig, error) {
	cfg, ok := m.st.configs[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg.Clone(), nil
}

func (m *memStore) UpdatePanicConfig(_ context.Context, cfg *models.PanicConfig) error {
	if _, ok := m.st.configs[cfg.Owner]; !ok {
		return ErrNotFound
	}
	m.st.configs[cfg.Owner] = cfg.Clone()
	return nil
}

func (m *memStore) CreateVault(_ context.Context, v *models.Vault) error {
	if _, ok := m.st.vaults[v.Owner]; ok {
		return ErrAlreadyExists
	}
	m.st.vaults[v.Owner] = v.Clone()
	return nil
}

func (m *memStore) GetVault(_ context.Context, owner models.Address) (*models.Vault, error) {
	v, ok := m.st.vaults[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (m *memStore) UpdateVault(_ context.Context, v *models.Vault) error {
	if _, ok := m.st.vaults[v.Owner]; !ok {
		return ErrNotFound
	}
	m.st.vaults[v.Owner] = v.Clone()
	return nil
}

func (m *memStore) CreateCompromisedFlag(_ context.Context, f *models.CompromisedFlag) error {
	if _, ok := m.st.comp[f.Owner]; ok {
		return ErrAlreadyExists
	}
	cp := *f
	m.st.comp[f.Owner] = &cp
	return nil
}

func (m *memStore) GetCompromisedFlag(_ context.Context, owner models.Address) (*models.CompromisedFlag, error) {
	f, ok := m.st.comp[owner]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *memStore) CreateAttackerFlag(_ context.Context, f *models.AttackerFlag) error {
	for _, existing := range m.st.attackers[f.Attacker] {
		if existing.ReportedBy == f.ReportedBy {
			return ErrAlreadyExists
		}
	}
	cp := *f
	m.st.attackers[f.Attacker] = append(m.st.attackers[f.Attacker], &cp)
	return nil
}

func (m *memStore) ListAttackerFlags(_ context.Context, attacker models.Address) ([]*models.AttackerFlag, error) {
	flags := m.st.attackers[attacker]
	out := make([]*models.AttackerFlag, len(flags))
	for i, f := range flags {
		cp := *f
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlaggedAt.Before(out[j].FlaggedAt) })
	return out, nil
}

func (m *memStore) CreateAlertAccount(_ context.Context, a *models.AlertAccount) error {
	k := alertKey(a.Owner, a.Contact)
	if _, ok := m.st.alerts[k]; ok {
		return ErrAlreadyExists
	}
	m.st.alerts[k] = a.Clone()
	return nil
}

func (m *memStore) GetAlertAccount(_ context.Context, owner, contact models.Address) (*models.AlertAccount, error) {
	a, ok := m.st.alerts[alertKey(owner, contact)]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *memStore) UpdateAlertAccount(_ context.Context, a *models.AlertAccount) error {
	k := alertKey(a.Owner, a.Contact)
	if _, ok := m.st.alerts[k]; !ok {
		return ErrNotFound
	}
	m.st.alerts[k] = a.Clone()
	return nil
}

func (m *memStore) WriteAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	cp := *entry
	cp.ID = int64(len(m.st.audit) + 1)
	m.st.audit = append(m.st.audit, &cp)
	return nil
}

func (m *memStore) QueryAuditLog(_ context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	for i := len(m.st.audit) - 1; i >= 0; i-- {
		e := m.st.audit[i]
		if filter.Path != "" && !strings.HasPrefix(e.Path, filter.Path) {
			continue
		}
		if filter.Since != nil && e.Timestamp.Before(*filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) AppendEvent(_ context.Context, ev *models.Event) error {
	cp := *ev
	m.st.events = append(m.st.events, &cp)
	return nil
}

func (m *memStore) QueryEvents(_ context.Context, filter EventFilter) ([]*models.Event, error) {
	var out []*models.Event
	for i := len(m.st.events) - 1; i >= 0; i-- {
		ev := m.st.events[i]
		if filter.Owner != "" && ev.Owner != filter.Owner {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		cp := *ev
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// MemoryBackend is an in-process Backend for tests and dev-mode servers.
// Atomic snapshots the whole state and restores it if the function fails,
// giving the same all-or-nothing semantics as a database transaction.
type MemoryBackend struct {
	mu sync.Mutex
	st *memState
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{st: newMemState()}
}

func (b *MemoryBackend) Close() {}

func (b *MemoryBackend) Atomic(_ context.Context, fn func(Store) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := b.st.clone()
	if err := fn(&memStore{st: b.st}); err != nil {
		b.st = snap
		return err
	}
	return nil
}

func (b *MemoryBackend) locked() (*memStore, func()) {
	b.mu.Lock()
	return &memStore{st: b.st}, b.mu.Unlock
}

func (b *MemoryBackend) CreateIdentity(ctx context.Context, id *models.Identity) error {
	s, done := b.locked()
	defer done()
	return s.CreateIdentity(ctx, id)
}

func (b *MemoryBackend) GetIdentityByTokenHash(ctx context.Context, h string) (*models.Identity, error) {
	s, done := b.locked()
	defer done()
	return s.GetIdentityByTokenHash(ctx, h)
}

func (b *MemoryBackend) CreateAccount(ctx context.Context, addr models.Address) error {
	s, done := b.locked()
	defer done()
	return s.CreateAccount(ctx, addr)
}

func (b *MemoryBackend) GetBalance(ctx context.Context, addr models.Address) (uint64, error) {
	s, done := b.locked()
	defer done()
	return s.GetBalance(ctx, addr)
}

func (b *MemoryBackend) Credit(ctx context.Context, addr models.Address, amount uint64) error {
	s, done := b.locked()
	defer done()
	return s.Credit(ctx, addr, amount)
}

func (b *MemoryBackend) Transfer(ctx context.Context, from, to models.Address, amount uint64) error {
	s, done := b.locked()
	defer done()
	return s.Transfer(ctx, from, to, amount)
}

func (b *MemoryBackend) CreatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error {
	s, done := b.locked()
	defer done()
	return s.CreatePanicConfig(ctx, cfg)
}

func (b *MemoryBackend) GetPanicConfig(ctx context.Context, owner models.Address) (*models.PanicConfig, error) {
	s, done := b.locked()
	defer done()
	return s.GetPanicConfig(ctx, owner)
}

func (b *MemoryBackend) UpdatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error {
	s, done := b.locked()
	defer done()
	return s.UpdatePanicConfig(ctx, cfg)
}

func (b *MemoryBackend) CreateVault(ctx context.Context, v *models.Vault) error {
	s, done := b.locked()
	defer done()
	return s.CreateVault(ctx, v)
}

func (b *MemoryBackend) GetVault(ctx context.Context, owner models.Address) (*models.Vault, error) {
	s, done := b.locked()
	defer done()
	return s.GetVault(ctx, owner)
}

func (b *MemoryBackend) UpdateVault(ctx context.Context, v *models.Vault) error {
	s, done := b.locked()
	defer done()
	return s.UpdateVault(ctx, v)
}

func (b *MemoryBackend) CreateCompromisedFlag(ctx context.Context, f *models.CompromisedFlag) error {
	s, done := b.locked()
	defer done()
	return s.CreateCompromisedFlag(ctx, f)
}

func (b *MemoryBackend) GetCompromisedFlag(ctx context.Context, owner models.Address) (*models.CompromisedFlag, error) {
	s, done := b.locked()
	defer done()
	return s.GetCompromisedFlag(ctx, owner)
}

func (b *MemoryBackend) CreateAttackerFlag(ctx context.Context, f *models.AttackerFlag) error {
	s, done := b.locked()
	defer done()
	return s.CreateAttackerFlag(ctx, f)
}

func (b *MemoryBackend) ListAttackerFlags(ctx context.Context, attacker models.Address) ([]*models.AttackerFlag, error) {
	s, done := b.locked()
	defer done()
	return s.ListAttackerFlags(ctx, attacker)
}

func (b *MemoryBackend) CreateAlertAccount(ctx context.Context, a *models.AlertAccount) error {
	s, done := b.locked()
	defer done()
	return s.CreateAlertAccount(ctx, a)
}

func (b *MemoryBackend) GetAlertAccount(ctx context.Context, owner, contact models.Address) (*models.AlertAccount, error) {
	s, done := b.locked()
	defer done()
	return s.GetAlertAccount(ctx, owner, contact)
}

func (b *MemoryBackend) UpdateAlertAccount(ctx context.Context, a *models.AlertAccount) error {
	s, done := b.locked()
	defer done()
	return s.UpdateAlertAccount(ctx, a)
}

func (b *MemoryBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	s, done := b.locked()
	defer done()
	return s.WriteAuditEntry(ctx, entry)
}

func (b *MemoryBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	s, done := b.locked()
	defer done()
	return s.QueryAuditLog(ctx, filter)
}

func (b *MemoryBackend) AppendEvent(ctx context.Context, ev *models.Event) error {
	s, done := b.locked()
	defer done()
	return s.AppendEvent(ctx, ev)
}

func (b *MemoryBackend) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	s, done := b.locked()
	defer done()
	return s.QueryEvents(ctx, filter)
}

var _ Backend = (*MemoryBackend)(nil)
