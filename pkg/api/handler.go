// Package api exposes the credit service over HTTP. Routes mount on a chi
// router; error mapping turns service sentinels into meaningful status codes
// (404 unknown account, 402 empty balance, 403 device or module denial).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/travelmundo/credits/pkg/credits"
)

const maxRequestBody = 64 * 1024

// Handler provides HTTP endpoints for the credit service
type Handler struct {
	config Config
}

// Routes returns a router with all credit endpoints mounted
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/credits/{userID}", h.GetBalance)
	r.Post("/buy-credits", h.BuyCredits)
	r.Post("/consume-credit", h.ConsumeCredit)
	r.Get("/transactions/{userID}", h.ListTransactions)
	r.Post("/session", h.StartSession)
	r.Post("/generate", h.Generate)
	r.Post("/plan", h.SetPlan)
	return r
}

// GetBalance returns the account state, creating the account with the
// free-tier grant on first sight of the user
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	acct, err := h.config.Service.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:         acct.UserID,
		Credits:        acct.Credits,
		Plan:           string(acct.Plan),
		PlanExpiresAt:  acct.PlanExpiresAt,
		AllowedModules: acct.AllowedModules,
		Devices:        len(acct.Devices),
	})
}

// BuyCredits adds credits to a user's balance
func (h *Handler) BuyCredits(w http.ResponseWriter, r *http.Request) {
	var req BuyCreditsRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.config.Service.GrantCredits(r.Context(), req.UserID, req.Amount, credits.TxMeta{
		Source: credits.SourceManual,
		Reason: req.Reason,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceChangeResponse{UserID: req.UserID, Credits: balance})
}

// ConsumeCredit spends credits from a user's balance
func (h *Handler) ConsumeCredit(w http.ResponseWriter, r *http.Request) {
	var req ConsumeCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		req.Amount = 1
	}

	balance, err := h.config.Service.ConsumeCredits(r.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceChangeResponse{UserID: req.UserID, Credits: balance})
}

// ListTransactions returns a page of the user's ledger, newest first
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	transactions, err := h.config.Service.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, TransactionsResponse{UserID: userID, Transactions: transactions})
}

// StartSession registers the calling device and returns account state
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !h.decode(w, r, &req) {
		return
	}

	session, err := h.config.Service.StartSession(r.Context(), req.UserID, req.Fingerprint)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, SessionResponse{
		UserID:         session.Account.UserID,
		Credits:        session.Account.Credits,
		Plan:           string(session.Account.Plan),
		AllowedModules: session.Account.AllowedModules,
		DeviceID:       session.DeviceID,
	})
}

// Generate spends credits to run a content module for the calling device
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.config.Service.Generate(r.Context(), &credits.GenerateRequest{
		UserID:      req.UserID,
		Fingerprint: req.Fingerprint,
		Module:      req.Module,
		Cost:        req.Cost,
		Destination: req.Destination,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// SetPlan assigns a plan to a user, replacing their balance with the plan grant
func (h *Handler) SetPlan(w http.ResponseWriter, r *http.Request) {
	var req SetPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	acct, err := h.config.Service.SetPlan(r.Context(), req.UserID, req.Plan)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, BalanceResponse{
		UserID:         acct.UserID,
		Credits:        acct.Credits,
		Plan:           string(acct.Plan),
		PlanExpiresAt:  acct.PlanExpiresAt,
		AllowedModules: acct.AllowedModules,
		Devices:        len(acct.Devices),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response already committed; nothing useful left to do
		return
	}
}

// handleError maps service errors onto HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var devErr *credits.DeviceLimitError

	switch {
	case errors.Is(err, credits.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, credits.ErrInsufficientCredits):
		status = http.StatusPaymentRequired
	case errors.As(err, &devErr):
		status = http.StatusForbidden
		resp.Devices = devErr.Devices
	case errors.Is(err, credits.ErrDeviceLimitExceeded),
		errors.Is(err, credits.ErrModuleNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidUserID),
		errors.Is(err, credits.ErrInvalidFingerprint),
		errors.Is(err, credits.ErrUnknownPlan):
		status = http.StatusBadRequest
	case errors.Is(err, credits.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	default:
		h.config.Logger.Error("request failed",
			credits.Field{Key: "error", Value: err.Error()},
			credits.Field{Key: "path", Value: r.URL.Path})
		resp.Error = "internal error"
	}

	h.writeJSON(w, status, resp)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
