package api

import (
	"time"

	"github.com/travelmundo/credits/pkg/credits"
)

// BalanceResponse is the account state returned by GET /credits/{userId}
type BalanceResponse struct {
	UserID         string     `json:"userId"`
	Credits        int        `json:"credits"`
	Plan           string     `json:"plan"`
	PlanExpiresAt  *time.Time `json:"planExpiresAt,omitempty"`
	AllowedModules []string   `json:"allowedModules"`
	Devices        int        `json:"devices"`
}

// BuyCreditsRequest grants credits to a user
type BuyCreditsRequest struct {
	UserID string `json:"userId"`
	Amount int    `json:"amount"`
	Reason string `json:"reason,omitempty"`
}

// ConsumeCreditRequest spends credits from a user's balance
type ConsumeCreditRequest struct {
	UserID string `json:"userId"`
	Amount int    `json:"amount,omitempty"` // defaults to 1
	Reason string `json:"reason,omitempty"`
}

// BalanceChangeResponse reports the balance after a grant or consumption
type BalanceChangeResponse struct {
	UserID  string `json:"userId"`
	Credits int    `json:"credits"`
}

// TransactionsResponse is a page of ledger entries, newest first
type TransactionsResponse struct {
	UserID       string                 `json:"userId"`
	Transactions []*credits.Transaction `json:"transactions"`
}

// SessionRequest registers a device and opens a session
type SessionRequest struct {
	UserID      string `json:"userId"`
	Fingerprint string `json:"fingerprint"`
}

// SessionResponse reports account state after device admission
type SessionResponse struct {
	UserID         string   `json:"userId"`
	Credits        int      `json:"credits"`
	Plan           string   `json:"plan"`
	AllowedModules []string `json:"allowedModules"`
	DeviceID       string   `json:"deviceId"`
}

// GenerateRequest spends credits to run a content module
type GenerateRequest struct {
	UserID      string `json:"userId"`
	Fingerprint string `json:"fingerprint"`
	Module      string `json:"module"`
	Cost        int    `json:"cost,omitempty"` // defaults to 1
	Destination string `json:"destination,omitempty"`
}

// SetPlanRequest assigns a plan to a user, replacing their balance
type SetPlanRequest struct {
	UserID string `json:"userId"`
	Plan   string `json:"plan"`
}

// ErrorResponse is the JSON body for non-2xx responses
type ErrorResponse struct {
	Error   string   `json:"error"`
	Devices []string `json:"devices,omitempty"`
}
