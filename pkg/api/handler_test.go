package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/travelmundo/credits/pkg/credits"
	"github.com/travelmundo/credits/storage/memory"
)

// Helper to create a handler over in-memory storage
func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	service, err := credits.NewService(memory.New(), credits.Config{})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	handler, err := NewHandler(Config{Service: service})
	if err != nil {
		t.Fatalf("Failed to create handler: %v", err)
	}
	return handler
}

func doRequest(h *Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func TestGetBalanceCreatesAccount(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodGet, "/credits/alice@example.com", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp BalanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Credits != 2 {
		t.Errorf("Expected 2 credits, got %d", resp.Credits)
	}
	if resp.Plan != "free" {
		t.Errorf("Expected free plan, got %s", resp.Plan)
	}
}

func TestBuyCredits(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodPost, "/buy-credits",
		`{"userId":"alice@example.com","amount":10,"reason":"promo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp BalanceChangeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Credits != 12 {
		t.Errorf("Expected 12 credits, got %d", resp.Credits)
	}

	// Zero and negative amounts rejected
	rec = doRequest(handler, http.MethodPost, "/buy-credits",
		`{"userId":"alice@example.com","amount":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero amount, got %d", rec.Code)
	}
}

func TestConsumeCredit(t *testing.T) {
	handler := newTestHandler(t)

	// Create the account first
	doRequest(handler, http.MethodGet, "/credits/alice@example.com", "")

	// Amount defaults to 1
	rec := doRequest(handler, http.MethodPost, "/consume-credit",
		`{"userId":"alice@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BalanceChangeResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Credits != 1 {
		t.Errorf("Expected 1 credit left, got %d", resp.Credits)
	}

	// Drain and hit the empty-balance status
	doRequest(handler, http.MethodPost, "/consume-credit", `{"userId":"alice@example.com"}`)
	rec = doRequest(handler, http.MethodPost, "/consume-credit", `{"userId":"alice@example.com"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected 402 on empty balance, got %d", rec.Code)
	}

	// Unknown accounts are not created by consumption
	rec = doRequest(handler, http.MethodPost, "/consume-credit", `{"userId":"ghost@example.com"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown account, got %d", rec.Code)
	}
}

func TestListTransactionsEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	doRequest(handler, http.MethodPost, "/buy-credits", `{"userId":"alice@example.com","amount":5}`)
	doRequest(handler, http.MethodPost, "/consume-credit", `{"userId":"alice@example.com"}`)

	rec := doRequest(handler, http.MethodGet, "/transactions/alice@example.com?limit=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp TransactionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Transactions) != 3 { // signup + grant + debit
		t.Errorf("Expected 3 transactions, got %d", len(resp.Transactions))
	}
}

func TestSessionEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodPost, "/session",
		`{"userId":"alice@example.com","fingerprint":"fp-laptop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SessionResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.DeviceID == "" || resp.DeviceID == "fp-laptop" {
		t.Errorf("Expected hashed device id, got %q", resp.DeviceID)
	}

	// Fill the device slots, the third is refused with the current set
	doRequest(handler, http.MethodPost, "/session",
		`{"userId":"alice@example.com","fingerprint":"fp-phone"}`)
	rec = doRequest(handler, http.MethodPost, "/session",
		`{"userId":"alice@example.com","fingerprint":"fp-tablet"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected 403 for third device, got %d", rec.Code)
	}
	var errResp ErrorResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &errResp)
	if len(errResp.Devices) != 2 {
		t.Errorf("Expected 2 devices in error payload, got %d", len(errResp.Devices))
	}

	// Missing fingerprint
	rec = doRequest(handler, http.MethodPost, "/session", `{"userId":"alice@example.com"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing fingerprint, got %d", rec.Code)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodPost, "/generate",
		`{"userId":"alice@example.com","fingerprint":"fp-1","module":"core","destination":"lisbon"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp credits.GenerateResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Credits != 1 {
		t.Errorf("Expected 1 credit left, got %d", resp.Credits)
	}

	// Module outside the free plan
	rec = doRequest(handler, http.MethodPost, "/generate",
		`{"userId":"alice@example.com","fingerprint":"fp-1","module":"itinerary"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for disallowed module, got %d", rec.Code)
	}
}

func TestSetPlanEndpoint(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodPost, "/plan",
		`{"userId":"alice@example.com","plan":"creator"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp BalanceResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Plan != "creator" || resp.Credits != 25 {
		t.Errorf("Unexpected plan response: %+v", resp)
	}

	rec = doRequest(handler, http.MethodPost, "/plan",
		`{"userId":"alice@example.com","plan":"platinum"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown plan, got %d", rec.Code)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	handler := newTestHandler(t)

	rec := doRequest(handler, http.MethodPost, "/buy-credits", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed body, got %d", rec.Code)
	}
}
