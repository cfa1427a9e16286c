package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
)

// RegisterHandler handles POST /v1/auth/register
func (s *Server) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, plaintext, err := s.identities.Register(r.Context(), req.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Token is shown exactly once; only its hash is stored.
	writeJSON(w, http.StatusOK, map[string]any{
		"address": id.Address,
		"token":   plaintext,
	})
}

// BalanceHandler handles GET /v1/account/balance
func (s *Server) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFromCtx(r.Context())

	balance, err := s.store.GetBalance(r.Context(), id.Address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": id.Address,
		"balance": balance,
	})
}

// FundHandler handles POST /v1/account/fund. Dev-mode faucet; disabled in
// production where balances arrive through external settlement.
func (s *Server) FundHandler(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.DevMode {
		writeError(w, http.StatusForbidden, "faucet is only available in dev mode")
		return
	}

	id := identityFromCtx(r.Context())

	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be > 0")
		return
	}

	if err := s.store.Credit(r.Context(), id.Address, req.Amount); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	balance, err := s.store.GetBalance(r.Context(), id.Address)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"balance": balance,
	})
}

// AttackerFlagsHandler handles GET /v1/flags/attacker/{address}. Public
// forensic lookup: anyone can check whether an address has been reported.
func (s *Server) AttackerFlagsHandler(w http.ResponseWriter, r *http.Request) {
	addr := models.Address(chi.URLParam(r, "address"))

	flags, err := s.store.ListAttackerFlags(r.Context(), addr)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	reports := make([]map[string]any, 0, len(flags))
	for _, f := range flags {
		reports = append(reports, map[string]any{
			"reported_by": f.ReportedBy,
			"flagged_at":  f.FlaggedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"flagged": len(reports) > 0,
		"reports": reports,
	})
}

// CompromisedFlagHandler handles GET /v1/flags/compromised/{address}
func (s *Server) CompromisedFlagHandler(w http.ResponseWriter, r *http.Request) {
	addr := models.Address(chi.URLParam(r, "address"))

	flag, err := s.store.GetCompromisedFlag(r.Context(), addr)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{
				"address": addr,
				"flagged": false,
			})
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":    addr,
		"flagged":    true,
		"flagged_at": flag.FlaggedAt,
	})
}
