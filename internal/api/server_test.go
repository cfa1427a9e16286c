package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/org/duressvault/internal/duress"
	"github.com/org/duressvault/internal/events"
	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
)

// --- test helpers ---

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestServer() (http.Handler, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	srv := NewServer(storage.NewMemoryBackend(), events.NopPublisher{}, duress.Options{
		Now: clock.Now,
	}, Config{DevMode: true})
	return srv.BuildRouter(), clock
}

func postJSON(t *testing.T, handler http.Handler, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	data, _ := json.Marshal(body)
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Duress-Token", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, handler http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("X-Duress-Token", token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

// register creates an identity and returns its address and token.
func register(t *testing.T, handler http.Handler, name string) (models.Address, string) {
	t.Helper()
	w := postJSON(t, handler, "/v1/auth/register", map[string]any{"display_name": name}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	return models.Address(body["address"].(string)), body["token"].(string)
}

func fund(t *testing.T, handler http.Handler, token string, amount uint64) {
	t.Helper()
	w := postJSON(t, handler, "/v1/account/fund", map[string]any{"amount": amount}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("fund failed: %d %s", w.Code, w.Body.String())
	}
}

func triggerHashB64(pin string) string {
	h := sha256.Sum256([]byte(pin))
	return base64.StdEncoding.EncodeToString(h[:])
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer()

	w := getJSON(t, handler, "/v1/sys/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	handler, _ := newTestServer()

	w := getJSON(t, handler, "/v1/panic/status", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	w = getJSON(t, handler, "/v1/panic/status", "dvt_not-a-real-token")
	if w.Code != http.StatusForbidden {
		t.Errorf("bad token: expected 403, got %d", w.Code)
	}
}

func TestRegisterAndBalance(t *testing.T) {
	handler, _ := newTestServer()

	addr, token := register(t, handler, "alice")
	if len(addr) != 64 {
		t.Fatalf("expected 64-char hex address, got %q", addr)
	}

	w := getJSON(t, handler, "/v1/account/balance", token)
	if w.Code != http.StatusOK {
		t.Fatalf("balance failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["balance"].(float64) != 0 {
		t.Errorf("fresh account balance = %v, want 0", body["balance"])
	}

	fund(t, handler, token, 1000)
	w = getJSON(t, handler, "/v1/account/balance", token)
	body = decodeBody(t, w)
	if body["balance"].(float64) != 1000 {
		t.Errorf("balance after fund = %v, want 1000", body["balance"])
	}
}

func TestConfigConflicts(t *testing.T) {
	handler, _ := newTestServer()
	_, token := register(t, handler, "alice")

	cfg := map[string]any{
		"trigger_hash":       triggerHashB64("1234"),
		"contacts":           []string{},
		"recovery_threshold": 0,
		"time_lock_duration": 3600,
		"decoy_amount":       100,
	}
	w := postJSON(t, handler, "/v1/panic/config", cfg, token)
	if w.Code != http.StatusOK {
		t.Fatalf("config failed: %d %s", w.Code, w.Body.String())
	}

	// One config per owner
	w = postJSON(t, handler, "/v1/panic/config", cfg, token)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate config: expected 409, got %d", w.Code)
	}

	// Bad hash encoding
	cfg["trigger_hash"] = "short"
	w = postJSON(t, handler, "/v1/panic/config", cfg, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad hash: expected 400, got %d", w.Code)
	}
}

func TestPanicLifecycle(t *testing.T) {
	handler, clock := newTestServer()

	ownerAddr, ownerToken := register(t, handler, "owner")
	contactAddr1, contactToken1 := register(t, handler, "contact1")
	contactAddr2, contactToken2 := register(t, handler, "contact2")
	_, attackerToken := register(t, handler, "attacker")

	fund(t, handler, ownerToken, 100_000_000)

	// Configure
	w := postJSON(t, handler, "/v1/panic/config", map[string]any{
		"trigger_hash":       triggerHashB64("4711"),
		"contacts":           []string{string(contactAddr1), string(contactAddr2)},
		"recovery_threshold": 2,
		"time_lock_duration": 3600,
		"decoy_amount":       5_000_000,
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("config failed: %d %s", w.Code, w.Body.String())
	}

	// Deposit
	w = postJSON(t, handler, "/v1/panic/deposit", map[string]any{"amount": 30_000_000}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("deposit failed: %d %s", w.Code, w.Body.String())
	}
	if b := decodeBody(t, w)["vault_balance"].(float64); b != 30_000_000 {
		t.Fatalf("vault balance after deposit = %v, want 30000000", b)
	}

	// Wrong proof is a 403 and changes nothing
	alertAccounts := []string{
		string(models.Derive(models.KindAlert, ownerAddr, contactAddr1)),
		string(models.Derive(models.KindAlert, ownerAddr, contactAddr2)),
	}
	w = postJSON(t, handler, "/v1/panic/trigger", map[string]any{
		"proof":          base64.StdEncoding.EncodeToString([]byte("wrong")),
		"attacker":       "deadbeef",
		"alert_accounts": alertAccounts,
	}, ownerToken)
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong proof: expected 403, got %d %s", w.Code, w.Body.String())
	}

	// Trigger
	w = postJSON(t, handler, "/v1/panic/trigger", map[string]any{
		"proof":          base64.StdEncoding.EncodeToString([]byte("4711")),
		"attacker":       "deadbeef",
		"alert_accounts": alertAccounts,
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["decoy_sent"].(float64) != 5_000_000 {
		t.Errorf("decoy_sent = %v, want 5000000", body["decoy_sent"])
	}
	if body["contacts_alerted"].(float64) != 2 {
		t.Errorf("contacts_alerted = %v, want 2", body["contacts_alerted"])
	}

	// Status shows triggered, hides the hash
	w = getJSON(t, handler, "/v1/panic/status", ownerToken)
	body = decodeBody(t, w)
	if body["triggered"] != true {
		t.Error("expected triggered=true")
	}
	if _, ok := body["trigger_hash"]; ok {
		t.Error("status must not expose the trigger hash")
	}

	// Recovery before expiry is locked
	w = postJSON(t, handler, "/v1/panic/recovery/initiate", nil, ownerToken)
	if w.Code != http.StatusLocked {
		t.Fatalf("early initiate: expected 423, got %d", w.Code)
	}

	clock.Advance(3600 * time.Second)
	w = postJSON(t, handler, "/v1/panic/recovery/initiate", nil, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("initiate failed: %d %s", w.Code, w.Body.String())
	}

	// A non-contact cannot approve
	w = postJSON(t, handler, "/v1/panic/recovery/approve", map[string]any{"owner": string(ownerAddr)}, attackerToken)
	if w.Code != http.StatusForbidden {
		t.Errorf("non-contact approve: expected 403, got %d", w.Code)
	}

	// Claim below quorum
	w = postJSON(t, handler, "/v1/panic/claim", nil, ownerToken)
	if w.Code != http.StatusConflict {
		t.Errorf("claim below quorum: expected 409, got %d", w.Code)
	}

	// Both contacts approve
	w = postJSON(t, handler, "/v1/panic/recovery/approve", map[string]any{"owner": string(ownerAddr)}, contactToken1)
	if w.Code != http.StatusOK {
		t.Fatalf("approve 1 failed: %d %s", w.Code, w.Body.String())
	}
	w = postJSON(t, handler, "/v1/panic/recovery/approve", map[string]any{"owner": string(ownerAddr)}, contactToken1)
	if w.Code != http.StatusConflict {
		t.Errorf("double approve: expected 409, got %d", w.Code)
	}
	w = postJSON(t, handler, "/v1/panic/recovery/approve", map[string]any{"owner": string(ownerAddr)}, contactToken2)
	if w.Code != http.StatusOK {
		t.Fatalf("approve 2 failed: %d %s", w.Code, w.Body.String())
	}
	if n := decodeBody(t, w)["approvals"].(float64); n != 2 {
		t.Errorf("approvals = %v, want 2", n)
	}

	// Claim: 30M deposit + 60M sweep - 5M decoy - 2M reserve
	w = postJSON(t, handler, "/v1/panic/claim", nil, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("claim failed: %d %s", w.Code, w.Body.String())
	}
	if amt := decodeBody(t, w)["amount"].(float64); amt != 83_000_000 {
		t.Errorf("claimed = %v, want 83000000", amt)
	}

	// Liquid balance: 10M sweep buffer + 83M claimed
	w = getJSON(t, handler, "/v1/account/balance", ownerToken)
	if b := decodeBody(t, w)["balance"].(float64); b != 93_000_000 {
		t.Errorf("final balance = %v, want 93000000", b)
	}
}

func TestFlagLookups(t *testing.T) {
	handler, _ := newTestServer()

	ownerAddr, ownerToken := register(t, handler, "owner")
	fund(t, handler, ownerToken, 100_000_000)

	w := postJSON(t, handler, "/v1/panic/config", map[string]any{
		"trigger_hash":       triggerHashB64("4711"),
		"contacts":           []string{},
		"recovery_threshold": 0,
		"time_lock_duration": 3600,
		"decoy_amount":       100,
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("config failed: %d %s", w.Code, w.Body.String())
	}
	postJSON(t, handler, "/v1/panic/deposit", map[string]any{"amount": 30_000_000}, ownerToken)
	w = postJSON(t, handler, "/v1/panic/trigger", map[string]any{
		"proof":          base64.StdEncoding.EncodeToString([]byte("4711")),
		"attacker":       "deadbeef",
		"alert_accounts": []string{},
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("trigger failed: %d %s", w.Code, w.Body.String())
	}

	// Both lookups are public
	w = getJSON(t, handler, "/v1/flags/attacker/deadbeef", "")
	if w.Code != http.StatusOK {
		t.Fatalf("attacker lookup failed: %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["flagged"] != true {
		t.Error("expected attacker flagged=true")
	}
	if reports := body["reports"].([]any); len(reports) != 1 {
		t.Errorf("got %d reports, want 1", len(reports))
	}

	w = getJSON(t, handler, "/v1/flags/compromised/"+string(ownerAddr), "")
	if w.Code != http.StatusOK {
		t.Fatalf("compromised lookup failed: %d", w.Code)
	}
	if decodeBody(t, w)["flagged"] != true {
		t.Error("expected compromised flagged=true")
	}

	// Unknown addresses report unflagged rather than erroring
	w = getJSON(t, handler, "/v1/flags/compromised/cafebabe", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unknown compromised lookup failed: %d", w.Code)
	}
	if decodeBody(t, w)["flagged"] != false {
		t.Error("expected unknown address flagged=false")
	}
}

func TestEventsAndAuditLog(t *testing.T) {
	handler, _ := newTestServer()

	_, ownerToken := register(t, handler, "owner")
	fund(t, handler, ownerToken, 100_000_000)

	w := postJSON(t, handler, "/v1/panic/config", map[string]any{
		"trigger_hash":       triggerHashB64("4711"),
		"contacts":           []string{},
		"recovery_threshold": 0,
		"time_lock_duration": 3600,
		"decoy_amount":       100,
	}, ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("config failed: %d %s", w.Code, w.Body.String())
	}
	postJSON(t, handler, "/v1/panic/deposit", map[string]any{"amount": 1000}, ownerToken)

	w = getJSON(t, handler, "/v1/sys/events", ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("events failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	evs := body["events"].([]any)
	if len(evs) != 2 {
		t.Fatalf("got %d events, want 2", len(evs))
	}
	// Newest first
	if typ := evs[0].(map[string]any)["type"]; typ != models.EventDeposited {
		t.Errorf("newest event type = %v, want %s", typ, models.EventDeposited)
	}

	// Filter by type
	w = getJSON(t, handler, "/v1/sys/events?type="+models.EventConfigInitialized, ownerToken)
	body = decodeBody(t, w)
	if n := body["count"].(float64); n != 1 {
		t.Errorf("filtered count = %v, want 1", n)
	}

	// Audit log has recorded the requests above
	w = getJSON(t, handler, "/v1/sys/audit-log?path=/v1/panic", ownerToken)
	if w.Code != http.StatusOK {
		t.Fatalf("audit-log failed: %d %s", w.Code, w.Body.String())
	}
	body = decodeBody(t, w)
	if n := body["count"].(float64); n < 2 {
		t.Errorf("audit count = %v, want >= 2", n)
	}
}

func TestFaucetDisabledOutsideDevMode(t *testing.T) {
	srv := NewServer(storage.NewMemoryBackend(), events.NopPublisher{}, duress.Options{}, Config{})
	handler := srv.BuildRouter()

	_, token := register(t, handler, "alice")
	w := postJSON(t, handler, "/v1/account/fund", map[string]any{"amount": 100}, token)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 outside dev mode, got %d", w.Code)
	}
}
