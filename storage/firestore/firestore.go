// Package firestore provides a Firestore implementation of the
// credits.Storage interface. This is the production backend: every balance
// mutation and its ledger entry commit inside a single Firestore
// transaction.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/travelmundo/credits/pkg/credits"
)

// Storage implements credits.Storage using Google Cloud Firestore
type Storage struct {
	client                 *firestore.Client
	usersCollection        string
	transactionsCollection string
	eventsCollection       string
}

// Config holds Firestore storage configuration
type Config struct {
	// UsersCollection is the Firestore collection for account documents
	// Default: "users"
	UsersCollection string

	// TransactionsCollection is the Firestore collection for the ledger
	// Default: "transactions"
	TransactionsCollection string

	// EventsCollection is the Firestore collection for webhook idempotency records
	// Default: "webhook_events"
	EventsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.UsersCollection == "" {
		config.UsersCollection = "users"
	}
	if config.TransactionsCollection == "" {
		config.TransactionsCollection = "transactions"
	}
	if config.EventsCollection == "" {
		config.EventsCollection = "webhook_events"
	}

	return &Storage{
		client:                 client,
		usersCollection:        config.UsersCollection,
		transactionsCollection: config.TransactionsCollection,
		eventsCollection:       config.EventsCollection,
	}, nil
}

// GetAccount implements credits.Storage
func (s *Storage) GetAccount(ctx context.Context, userID string) (*credits.Account, error) {
	snap, err := s.userDoc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, credits.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if !snap.Exists() {
		return nil, credits.ErrAccountNotFound
	}
	return decodeAccount(userID, snap.Data()), nil
}

// CreateAccount implements credits.Storage. Creation and the signup-bonus
// ledger entry commit together; a concurrent create loses the race cleanly
// and returns the stored account.
func (s *Storage) CreateAccount(ctx context.Context, account *credits.Account, signup *credits.Transaction) (*credits.Account, error) {
	if account == nil || account.UserID == "" {
		return nil, fmt.Errorf("invalid account")
	}

	doc := s.userDoc(account.UserID)
	var result *credits.Account

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if snap.Exists() {
			result = decodeAccount(account.UserID, snap.Data())
			return nil
		}

		result = account
		if err := tx.Create(doc, encodeAccount(account)); err != nil {
			return err
		}
		if signup != nil {
			return tx.Create(s.txDoc(signup.ID), encodeTransaction(signup))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return result, nil
}

// AdjustCredits implements credits.Storage with transaction-safe balance updates
func (s *Storage) AdjustCredits(ctx context.Context, req *credits.AdjustRequest) (int, error) {
	if req == nil || req.Tx == nil {
		return 0, fmt.Errorf("invalid adjust request")
	}

	doc := s.userDoc(req.UserID)
	var newBalance int

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return credits.ErrAccountNotFound
			}
			return err
		}
		if !snap.Exists() {
			return credits.ErrAccountNotFound
		}

		current := getInt(snap.Data(), "credits")
		newBalance = current + req.Tx.Amount
		if newBalance < 0 {
			return credits.ErrInsufficientCredits
		}

		err = tx.Set(doc, map[string]interface{}{
			"credits":   newBalance,
			"updatedAt": req.Tx.Timestamp,
		}, firestore.MergeAll)
		if err != nil {
			return err
		}
		return tx.Create(s.txDoc(req.Tx.ID), encodeTransaction(req.Tx))
	})
	if err != nil {
		if err == credits.ErrAccountNotFound || err == credits.ErrInsufficientCredits {
			return 0, err
		}
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}
	return newBalance, nil
}

// SetPlan implements credits.Storage
func (s *Storage) SetPlan(ctx context.Context, req *credits.PlanChangeRequest) (*credits.Account, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("invalid plan change request")
	}

	doc := s.userDoc(req.UserID)
	var result *credits.Account

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return credits.ErrAccountNotFound
			}
			return err
		}
		if !snap.Exists() {
			return credits.ErrAccountNotFound
		}

		current := decodeAccount(req.UserID, snap.Data())
		if req.IfExpiredBefore != nil {
			if current.PlanExpiresAt == nil || current.PlanExpiresAt.After(*req.IfExpiredBefore) {
				result = current
				return nil
			}
		}

		now := time.Now().UTC()
		data := map[string]interface{}{
			"plan":           string(req.Plan),
			"allowedModules": req.Modules,
			"credits":        req.Credits,
			"planExpiresAt":  nil,
			"updatedAt":      now,
		}
		if req.ExpiresAt != nil {
			data["planExpiresAt"] = *req.ExpiresAt
		}
		if err := tx.Set(doc, data, firestore.MergeAll); err != nil {
			return err
		}
		// The ledger entry carries the difference against the balance read
		// in this transaction, so racing plan changes never double-append.
		if delta := req.Credits - current.Credits; req.Tx != nil && delta != 0 {
			entry := *req.Tx
			entry.Amount = delta
			if err := tx.Create(s.txDoc(entry.ID), encodeTransaction(&entry)); err != nil {
				return err
			}
		}

		result = current
		result.Plan = req.Plan
		result.AllowedModules = req.Modules
		result.Credits = req.Credits
		result.PlanExpiresAt = req.ExpiresAt
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		if err == credits.ErrAccountNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("failed to set plan: %w", err)
	}
	return result, nil
}

// AdmitDevice implements credits.Storage
func (s *Storage) AdmitDevice(ctx context.Context, userID, deviceID string, maxDevices int) ([]string, error) {
	doc := s.userDoc(userID)
	var devices []string

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return credits.ErrAccountNotFound
			}
			return err
		}
		if !snap.Exists() {
			return credits.ErrAccountNotFound
		}

		devices = getStringSlice(snap.Data(), "devices")
		for _, d := range devices {
			if d == deviceID {
				return nil
			}
		}
		if len(devices) >= maxDevices {
			return credits.ErrDeviceLimitExceeded
		}

		devices = append(devices, deviceID)
		return tx.Set(doc, map[string]interface{}{
			"devices":   devices,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		if err == credits.ErrAccountNotFound || err == credits.ErrDeviceLimitExceeded {
			return devices, err
		}
		return nil, fmt.Errorf("failed to admit device: %w", err)
	}
	return devices, nil
}

// ListTransactions implements credits.Storage
func (s *Storage) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*credits.Transaction, error) {
	query := s.client.Collection(s.transactionsCollection).
		Where("userId", "==", userID).
		OrderBy("timestamp", firestore.Desc).
		Offset(offset).
		Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	transactions := make([]*credits.Transaction, 0, limit)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}
		transactions = append(transactions, decodeTransaction(snap.Ref.ID, snap.Data()))
	}
	return transactions, nil
}

// ApplyEvent implements credits.Storage. The idempotency record is created
// in the same transaction as the plan transition, so a retried delivery
// either sees the record and short-circuits or re-runs the whole unit.
func (s *Storage) ApplyEvent(ctx context.Context, req *credits.EventApplyRequest) (bool, error) {
	if req == nil || req.EventID == "" {
		return false, fmt.Errorf("invalid event apply request")
	}

	eventDoc := s.client.Collection(s.eventsCollection).Doc(req.EventID)
	userDoc := s.userDoc(req.UserID)
	applied := false

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		eventSnap, err := tx.Get(eventDoc)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if eventSnap.Exists() {
			applied = false
			return nil
		}

		snap, err := tx.Get(userDoc)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return credits.ErrAccountNotFound
			}
			return err
		}
		if !snap.Exists() {
			return credits.ErrAccountNotFound
		}

		now := time.Now().UTC()
		data := map[string]interface{}{
			"plan":           string(req.Plan),
			"allowedModules": req.Modules,
			"credits":        getInt(snap.Data(), "credits") + req.CreditDelta,
			"planExpiresAt":  nil,
			"updatedAt":      now,
		}
		if req.ExpiresAt != nil {
			data["planExpiresAt"] = *req.ExpiresAt
		}
		if err := tx.Set(userDoc, data, firestore.MergeAll); err != nil {
			return err
		}
		if req.Tx != nil {
			if err := tx.Create(s.txDoc(req.Tx.ID), encodeTransaction(req.Tx)); err != nil {
				return err
			}
		}
		if err := tx.Create(eventDoc, map[string]interface{}{
			"eventId":   req.EventID,
			"userId":    req.UserID,
			"plan":      string(req.Plan),
			"appliedAt": now,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		if err == credits.ErrAccountNotFound {
			return false, err
		}
		return false, fmt.Errorf("failed to apply event: %w", err)
	}
	return applied, nil
}

func (s *Storage) userDoc(userID string) *firestore.DocumentRef {
	return s.client.Collection(s.usersCollection).Doc(userID)
}

func (s *Storage) txDoc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.transactionsCollection).Doc(id)
}

func encodeAccount(acct *credits.Account) map[string]interface{} {
	data := map[string]interface{}{
		"userId":         acct.UserID,
		"credits":        acct.Credits,
		"plan":           string(acct.Plan),
		"allowedModules": acct.AllowedModules,
		"devices":        acct.Devices,
		"createdAt":      acct.CreatedAt,
		"updatedAt":      acct.UpdatedAt,
	}
	if acct.PlanExpiresAt != nil {
		data["planExpiresAt"] = *acct.PlanExpiresAt
	}
	return data
}

func decodeAccount(userID string, data map[string]interface{}) *credits.Account {
	acct := &credits.Account{
		UserID:         userID,
		Credits:        getInt(data, "credits"),
		Plan:           credits.Plan(getString(data, "plan")),
		AllowedModules: getStringSlice(data, "allowedModules"),
		Devices:        getStringSlice(data, "devices"),
		CreatedAt:      getTime(data, "createdAt"),
		UpdatedAt:      getTime(data, "updatedAt"),
	}
	if expiresAt, ok := data["planExpiresAt"].(time.Time); ok && !expiresAt.IsZero() {
		acct.PlanExpiresAt = &expiresAt
	}
	return acct
}

func encodeTransaction(tx *credits.Transaction) map[string]interface{} {
	return map[string]interface{}{
		"userId":      tx.UserID,
		"type":        string(tx.Type),
		"amount":      tx.Amount,
		"source":      string(tx.Source),
		"reason":      tx.Reason,
		"module":      tx.Module,
		"destination": tx.Destination,
		"timestamp":   tx.Timestamp,
	}
}

func decodeTransaction(id string, data map[string]interface{}) *credits.Transaction {
	return &credits.Transaction{
		ID:          id,
		UserID:      getString(data, "userId"),
		Type:        credits.TxType(getString(data, "type")),
		Amount:      getInt(data, "amount"),
		Source:      credits.TxSource(getString(data, "source")),
		Reason:      getString(data, "reason"),
		Module:      getString(data, "module"),
		Destination: getString(data, "destination"),
		Timestamp:   getTime(data, "timestamp"),
	}
}

// Helper functions for type conversion from Firestore data

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

func getStringSlice(data map[string]interface{}, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
