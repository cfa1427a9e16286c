package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/org/duressvault/internal/duress"
	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
)

// statusFor maps engine errors to HTTP status codes. Proof failures are 403
// so a coerced trigger attempt with a wrong proof reads like a permission
// problem, state conflicts are 409, and an unexpired lock is 423 Locked.
func statusFor(err error) int {
	switch {
	case errors.Is(err, duress.ErrInvalidTriggerProof),
		errors.Is(err, duress.ErrInvalidContact):
		return http.StatusForbidden
	case errors.Is(err, duress.ErrPanicAlreadyTriggered),
		errors.Is(err, duress.ErrPanicNotTriggered),
		errors.Is(err, duress.ErrRecoveryAlreadyInitiated),
		errors.Is(err, duress.ErrRecoveryNotInitiated),
		errors.Is(err, duress.ErrAlreadyApproved),
		errors.Is(err, duress.ErrInsufficientApprovals),
		errors.Is(err, duress.ErrConfigExists):
		return http.StatusConflict
	case errors.Is(err, duress.ErrTimeLockActive):
		return http.StatusLocked
	case errors.Is(err, duress.ErrTooManyContacts),
		errors.Is(err, duress.ErrInvalidThreshold),
		errors.Is(err, duress.ErrDuplicateContact),
		errors.Is(err, duress.ErrContactAccountMismatch),
		errors.Is(err, duress.ErrAlertAddressMismatch),
		errors.Is(err, duress.ErrInvalidAmount),
		errors.Is(err, duress.ErrInsufficientFundsForDecoy),
		errors.Is(err, storage.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// ConfigHandler handles POST /v1/panic/config
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req struct {
		TriggerHash       string   `json:"trigger_hash"` // base64, 32 bytes
		Contacts          []string `json:"contacts"`
		RecoveryThreshold uint8    `json:"recovery_threshold"`
		TimeLockDuration  int64    `json:"time_lock_duration"`
		DecoyAmount       uint64   `json:"decoy_amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hashBytes, err := base64.StdEncoding.DecodeString(req.TriggerHash)
	if err != nil || len(hashBytes) != 32 {
		writeError(w, http.StatusBadRequest, "trigger_hash must be 32 bytes of base64")
		return
	}
	if req.TimeLockDuration < 0 {
		writeError(w, http.StatusBadRequest, "time_lock_duration must be >= 0")
		return
	}

	params := duress.ConfigParams{
		RecoveryThreshold: req.RecoveryThreshold,
		TimeLockDuration:  req.TimeLockDuration,
		DecoyAmount:       req.DecoyAmount,
	}
	copy(params.TriggerHash[:], hashBytes)
	for _, c := range req.Contacts {
		params.Contacts = append(params.Contacts, models.Address(c))
	}

	cfg, err := s.engine.InitializeConfig(r.Context(), id.Address, params)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":              cfg.Owner,
		"vault_address":      models.Derive(models.KindVault, cfg.Owner),
		"contacts":           cfg.Contacts,
		"recovery_threshold": cfg.RecoveryThreshold,
		"time_lock_duration": cfg.TimeLockDuration,
		"decoy_amount":       cfg.DecoyAmount,
	})
}

// DepositHandler handles POST /v1/panic/deposit
func (s *Server) DepositHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	balance, err := s.engine.Deposit(r.Context(), id.Address, req.Amount)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	depositsTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"vault_balance": balance,
	})
}

// TriggerHandler handles POST /v1/panic/trigger
func (s *Server) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req struct {
		Proof         string   `json:"proof"` // base64
		Attacker      string   `json:"attacker"`
		AlertAccounts []string `json:"alert_accounts"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		writeError(w, http.StatusBadRequest, "proof must be base64")
		return
	}
	if req.Attacker == "" {
		writeError(w, http.StatusBadRequest, "attacker address required")
		return
	}

	alertAccounts := make([]models.Address, 0, len(req.AlertAccounts))
	for _, a := range req.AlertAccounts {
		alertAccounts = append(alertAccounts, models.Address(a))
	}

	receipt, err := s.engine.TriggerPanic(r.Context(), id.Address, proof, models.Address(req.Attacker), alertAccounts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	panicsTriggered.Inc()
	vaultsLocked.Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"vault_balance":    receipt.VaultBalance,
		"decoy_sent":       receipt.DecoySent,
		"locked_until":     receipt.LockedUntil,
		"contacts_alerted": receipt.ContactsAlerted,
	})
}

// RecoveryInitiateHandler handles POST /v1/panic/recovery/initiate
func (s *Server) RecoveryInitiateHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	if err := s.engine.InitiateRecovery(r.Context(), id.Address); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recovery_state": models.RecoveryPending,
	})
}

// RecoveryApproveHandler handles POST /v1/panic/recovery/approve.
// The caller is the contact; the body names the owner being recovered.
func (s *Server) RecoveryApproveHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner required")
		return
	}

	approvals, err := s.engine.ApproveRecovery(r.Context(), models.Address(req.Owner), id.Address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"approvals": approvals,
	})
}

// ClaimHandler handles POST /v1/panic/claim
func (s *Server) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	claimed, err := s.engine.ClaimFromVault(r.Context(), id.Address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	recoveriesCompleted.Inc()
	vaultsLocked.Dec()
	writeJSON(w, http.StatusOK, map[string]any{
		"amount": claimed,
	})
}

// StatusHandler handles GET /v1/panic/status
func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	st, err := s.engine.GetStatus(r.Context(), id.Address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contacts":           st.Contacts,
		"recovery_threshold": st.RecoveryThreshold,
		"time_lock_duration": st.TimeLockDuration,
		"decoy_amount":       st.DecoyAmount,
		"triggered":          st.Triggered,
		"vault_address":      st.VaultAddress,
		"vault_balance":      st.VaultBalance,
		"locked_until":       st.LockedUntil,
		"recovery_state":     st.RecoveryState,
		"approvals":          st.Approvals,
	})
}
