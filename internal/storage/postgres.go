package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/duressvault/pkg/models"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// code serves direct calls and Atomic transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgStore implements Store against a querier.
type pgStore struct {
	q querier
}

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pgStore
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pgStore: pgStore{q: pool}, pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// Atomic runs fn inside one database transaction.
func (p *PostgresBackend) Atomic(ctx context.Context, fn func(Store) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Identities ---

func (s *pgStore) CreateIdentity(ctx context.Context, id *models.Identity) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO identities (address, display_name, token_hash, created_at) VALUES ($1, $2, $3, $4)`,
		id.Address, id.DisplayName, id.TokenHash, id.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetIdentityByTokenHash(ctx context.Context, tokenHash string) (*models.Identity, error) {
	row := s.q.QueryRow(ctx,
		`SELECT address, display_name, token_hash, created_at FROM identities WHERE token_hash = $1`,
		tokenHash,
	)
	var id models.Identity
	if err := row.Scan(&id.Address, &id.DisplayName, &id.TokenHash, &id.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &id, nil
}

// --- Ledger accounts ---

func (s *pgStore) CreateAccount(ctx context.Context, addr models.Address) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO accounts (address, balance) VALUES ($1, 0)`,
		addr,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetBalance(ctx context.Context, addr models.Address) (uint64, error) {
	var balance int64
	err := s.q.QueryRow(ctx, `SELECT balance FROM accounts WHERE address = $1`, addr).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return uint64(balance), nil
}

func (s *pgStore) Credit(ctx context.Context, addr models.Address, amount uint64) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO accounts (address, balance) VALUES ($1, $2)
		 ON CONFLICT (address) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		addr, int64(amount),
	)
	return err
}

func (s *pgStore) Transfer(ctx context.Context, from, to models.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE address = $2 AND balance >= $1`,
		int64(amount), from,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetBalance(ctx, from); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInsufficientFunds
	}
	return s.Credit(ctx, to, amount)
}

// --- Panic configs ---

func (s *pgStore) CreatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error {
	contacts, err := json.Marshal(cfg.Contacts)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO panic_configs (owner, trigger_hash, contacts, recovery_threshold, time_lock_duration, decoy_amount, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cfg.Owner, cfg.TriggerHash[:], contacts, int16(cfg.RecoveryThreshold),
		cfg.TimeLockDuration, int64(cfg.DecoyAmount), cfg.State, cfg.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetPanicConfig(ctx context.Context, owner models.Address) (*models.PanicConfig, error) {
	row := s.q.QueryRow(ctx,
		`SELECT owner, trigger_hash, contacts, recovery_threshold, time_lock_duration, decoy_amount, state, created_at
		 FROM panic_configs WHERE owner = $1`,
		owner,
	)
	var cfg models.PanicConfig
	var hash []byte
	var contacts []byte
	var threshold int16
	var decoy int64
	if err := row.Scan(&cfg.Owner, &hash, &contacts, &threshold, &cfg.TimeLockDuration, &decoy, &cfg.State, &cfg.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	copy(cfg.TriggerHash[:], hash)
	if err := json.Unmarshal(contacts, &cfg.Contacts); err != nil {
		return nil, fmt.Errorf("decoding contacts: %w", err)
	}
	cfg.RecoveryThreshold = uint8(threshold)
	cfg.DecoyAmount = uint64(decoy)
	return &cfg, nil
}

func (s *pgStore) UpdatePanicConfig(ctx context.Context, cfg *models.PanicConfig) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE panic_configs SET state = $1 WHERE owner = $2`,
		cfg.State, cfg.Owner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Vaults ---

func (s *pgStore) CreateVault(ctx context.Context, v *models.Vault) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO vaults (owner, address, locked_until, state, approvals, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.Owner, v.Address, v.LockedUntil, v.State, int16(v.Approvals), v.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetVault(ctx context.Context, owner models.Address) (*models.Vault, error) {
	row := s.q.QueryRow(ctx,
		`SELECT owner, address, locked_until, state, approvals, created_at FROM vaults WHERE owner = $1`,
		owner,
	)
	var v models.Vault
	var approvals int16
	if err := row.Scan(&v.Owner, &v.Address, &v.LockedUntil, &v.State, &approvals, &v.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v.Approvals = uint8(approvals)
	return &v, nil
}

func (s *pgStore) UpdateVault(ctx context.Context, v *models.Vault) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE vaults SET locked_until = $1, state = $2, approvals = $3 WHERE owner = $4`,
		v.LockedUntil, v.State, int16(v.Approvals), v.Owner,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Evidentiary flags ---

func (s *pgStore) CreateCompromisedFlag(ctx context.Context, f *models.CompromisedFlag) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO compromised_flags (owner, flagged_at) VALUES ($1, $2)`,
		f.Owner, f.FlaggedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetCompromisedFlag(ctx context.Context, owner models.Address) (*models.CompromisedFlag, error) {
	row := s.q.QueryRow(ctx,
		`SELECT owner, flagged_at FROM compromised_flags WHERE owner = $1`,
		owner,
	)
	var f models.CompromisedFlag
	if err := row.Scan(&f.Owner, &f.FlaggedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *pgStore) CreateAttackerFlag(ctx context.Context, f *models.AttackerFlag) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO attacker_flags (attacker, reported_by, flagged_at) VALUES ($1, $2, $3)`,
		f.Attacker, f.ReportedBy, f.FlaggedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) ListAttackerFlags(ctx context.Context, attacker models.Address) ([]*models.AttackerFlag, error) {
	rows, err := s.q.Query(ctx,
		`SELECT attacker, reported_by, flagged_at FROM attacker_flags WHERE attacker = $1 ORDER BY flagged_at`,
		attacker,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var flags []*models.AttackerFlag
	for rows.Next() {
		var f models.AttackerFlag
		if err := rows.Scan(&f.Attacker, &f.ReportedBy, &f.FlaggedAt); err != nil {
			return nil, err
		}
		flags = append(flags, &f)
	}
	return flags, rows.Err()
}

// --- Alert records ---

func (s *pgStore) CreateAlertAccount(ctx context.Context, a *models.AlertAccount) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO alert_accounts (owner, contact, address, alerted_at, approved)
		 VALUES ($1, $2, $3, $4, $5)`,
		a.Owner, a.Contact, a.Address, a.AlertedAt, a.Approved,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *pgStore) GetAlertAccount(ctx context.Context, owner, contact models.Address) (*models.AlertAccount, error) {
	row := s.q.QueryRow(ctx,
		`SELECT owner, contact, address, alerted_at, approved FROM alert_accounts
		 WHERE owner = $1 AND contact = $2`,
		owner, contact,
	)
	var a models.AlertAccount
	if err := row.Scan(&a.Owner, &a.Contact, &a.Address, &a.AlertedAt, &a.Approved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *pgStore) UpdateAlertAccount(ctx context.Context, a *models.AlertAccount) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE alert_accounts SET approved = $1 WHERE owner = $2 AND contact = $3`,
		a.Approved, a.Owner, a.Contact,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (s *pgStore) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, token_hash, operation, path, status, response_code, response_time_ms, client_ip, metadata)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.RequestID, entry.Timestamp, entry.TokenHash, entry.Operation, entry.Path,
		entry.Status, entry.ResponseCode, entry.ResponseTimeMs, entry.ClientIP, metaJSON,
	)
	return err
}

func (s *pgStore) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, token_hash, operation, path, status, response_code, response_time_ms, client_ip, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Path != "" {
		fmt.Fprintf(&query, ` AND path LIKE $%d`, n)
		args = append(args, filter.Path+"%")
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := s.q.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.TokenHash, &e.Operation,
			&e.Path, &e.Status, &e.ResponseCode, &e.ResponseTimeMs, &e.ClientIP, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Operation events ---

func (s *pgStore) AppendEvent(ctx context.Context, ev *models.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = s.q.Exec(ctx,
		`INSERT INTO events (id, type, owner, created_at, payload) VALUES ($1::uuid, $2, $3, $4, $5)`,
		ev.ID, ev.Type, ev.Owner, ev.CreatedAt, payload,
	)
	return err
}

func (s *pgStore) QueryEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, type, owner, created_at, payload FROM events WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Owner != "" {
		fmt.Fprintf(&query, ` AND owner = $%d`, n)
		args = append(args, filter.Owner)
		n++
	}
	if filter.Type != "" {
		fmt.Fprintf(&query, ` AND type = $%d`, n)
		args = append(args, filter.Type)
		n++
	}
	query.WriteString(` ORDER BY created_at DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
	}

	rows, err := s.q.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var ev models.Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Owner, &ev.CreatedAt, &payload); err != nil {
			return nil, err
		}
		json.Unmarshal(payload, &ev.Payload) //nolint:errcheck
		events = append(events, &ev)
	}
	return events, rows.Err()
}

var _ Backend = (*PostgresBackend)(nil)
