// Package memory provides an in-memory implementation of the credits.Storage
// interface. This implementation is primarily intended for testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/travelmundo/credits/pkg/credits"
)

// Storage implements credits.Storage using in-memory maps
type Storage struct {
	mu           sync.Mutex
	accounts     map[string]*credits.Account
	transactions map[string][]*credits.Transaction
	events       map[string]bool
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		accounts:     make(map[string]*credits.Account),
		transactions: make(map[string][]*credits.Transaction),
		events:       make(map[string]bool),
	}
}

// GetAccount implements credits.Storage
func (s *Storage) GetAccount(ctx context.Context, userID string) (*credits.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	return copyAccount(acct), nil
}

// CreateAccount implements credits.Storage
func (s *Storage) CreateAccount(ctx context.Context, account *credits.Account, signup *credits.Transaction) (*credits.Account, error) {
	if account == nil || account.UserID == "" {
		return nil, fmt.Errorf("invalid account")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[account.UserID]; ok {
		// Concurrent first access: keep the stored account, no second bonus
		return copyAccount(existing), nil
	}

	s.accounts[account.UserID] = copyAccount(account)
	if signup != nil {
		s.append(account.UserID, signup)
	}
	return copyAccount(account), nil
}

// AdjustCredits implements credits.Storage with transaction-safe balance updates
func (s *Storage) AdjustCredits(ctx context.Context, req *credits.AdjustRequest) (int, error) {
	if req == nil || req.Tx == nil {
		return 0, fmt.Errorf("invalid adjust request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.UserID]
	if !ok {
		return 0, credits.ErrAccountNotFound
	}

	newBalance := acct.Credits + req.Tx.Amount
	if newBalance < 0 {
		return 0, credits.ErrInsufficientCredits
	}

	acct.Credits = newBalance
	acct.UpdatedAt = req.Tx.Timestamp
	s.append(req.UserID, req.Tx)
	return newBalance, nil
}

// SetPlan implements credits.Storage
func (s *Storage) SetPlan(ctx context.Context, req *credits.PlanChangeRequest) (*credits.Account, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("invalid plan change request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.UserID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}
	if req.IfExpiredBefore != nil {
		if acct.PlanExpiresAt == nil || acct.PlanExpiresAt.After(*req.IfExpiredBefore) {
			return copyAccount(acct), nil
		}
	}

	delta := req.Credits - acct.Credits
	acct.Plan = req.Plan
	acct.AllowedModules = append([]string(nil), req.Modules...)
	acct.Credits = req.Credits
	acct.PlanExpiresAt = copyTime(req.ExpiresAt)
	acct.UpdatedAt = now(req)
	if req.Tx != nil && delta != 0 {
		entry := *req.Tx
		entry.Amount = delta
		s.append(req.UserID, &entry)
	}
	return copyAccount(acct), nil
}

// AdmitDevice implements credits.Storage
func (s *Storage) AdmitDevice(ctx context.Context, userID, deviceID string, maxDevices int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, credits.ErrAccountNotFound
	}

	for _, d := range acct.Devices {
		if d == deviceID {
			return append([]string(nil), acct.Devices...), nil
		}
	}
	if len(acct.Devices) >= maxDevices {
		return append([]string(nil), acct.Devices...), credits.ErrDeviceLimitExceeded
	}

	acct.Devices = append(acct.Devices, deviceID)
	acct.UpdatedAt = time.Now().UTC()
	return append([]string(nil), acct.Devices...), nil
}

// ListTransactions implements credits.Storage
func (s *Storage) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*credits.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.transactions[userID]
	sorted := make([]*credits.Transaction, len(entries))
	// Reverse so entries with equal timestamps still come out newest-first
	for i, tx := range entries {
		sorted[len(entries)-1-i] = tx
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	if offset >= len(sorted) {
		return []*credits.Transaction{}, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}

	out := make([]*credits.Transaction, len(sorted))
	for i, tx := range sorted {
		txCopy := *tx
		out[i] = &txCopy
	}
	return out, nil
}

// ApplyEvent implements credits.Storage with idempotent event application
func (s *Storage) ApplyEvent(ctx context.Context, req *credits.EventApplyRequest) (bool, error) {
	if req == nil || req.EventID == "" {
		return false, fmt.Errorf("invalid event apply request")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.events[req.EventID] {
		return false, nil
	}

	acct, ok := s.accounts[req.UserID]
	if !ok {
		return false, credits.ErrAccountNotFound
	}

	acct.Plan = req.Plan
	acct.AllowedModules = append([]string(nil), req.Modules...)
	acct.Credits += req.CreditDelta
	acct.PlanExpiresAt = copyTime(req.ExpiresAt)
	acct.UpdatedAt = time.Now().UTC()
	if req.Tx != nil {
		s.append(req.UserID, req.Tx)
	}
	s.events[req.EventID] = true
	return true, nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*credits.Account)
	s.transactions = make(map[string][]*credits.Transaction)
	s.events = make(map[string]bool)
}

// append records a ledger entry; the caller holds the lock.
func (s *Storage) append(userID string, tx *credits.Transaction) {
	txCopy := *tx
	s.transactions[userID] = append(s.transactions[userID], &txCopy)
}

func copyAccount(acct *credits.Account) *credits.Account {
	cp := *acct
	cp.AllowedModules = append([]string(nil), acct.AllowedModules...)
	cp.Devices = append([]string(nil), acct.Devices...)
	cp.PlanExpiresAt = copyTime(acct.PlanExpiresAt)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func now(req *credits.PlanChangeRequest) time.Time {
	if req.Tx != nil {
		return req.Tx.Timestamp
	}
	return time.Now().UTC()
}
