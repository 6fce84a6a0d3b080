package credits

import (
	"context"
	"time"
)

// Storage defines the datastore boundary for accounts, the transaction
// ledger and webhook idempotency records. Every method that mutates a
// balance also appends the paired ledger entry inside the same atomic unit:
// no balance change without a ledger entry, no ledger entry without the
// balance mutation committing. Concurrent calls for the same user serialize
// on the datastore transaction, not on in-process locks.
type Storage interface {
	// GetAccount retrieves an account by normalized user id.
	// Returns ErrAccountNotFound if absent.
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// CreateAccount atomically creates the account together with its
	// signup-bonus transaction. Safe under concurrent first access: if the
	// account already exists the stored account is returned and the signup
	// transaction is not appended again.
	CreateAccount(ctx context.Context, account *Account, signup *Transaction) (*Account, error)

	// AdjustCredits atomically applies req.Tx.Amount to the balance and
	// appends req.Tx. Rejects with ErrInsufficientCredits when the new
	// balance would be negative. Returns the new balance.
	AdjustCredits(ctx context.Context, req *AdjustRequest) (int, error)

	// SetPlan atomically overwrites plan, allowed modules, expiry and
	// balance. The ledger entry for the change is derived from req.Tx with
	// the signed difference computed against the balance read inside the
	// same atomic unit, never against a caller-side read. When
	// req.IfExpiredBefore is set and the stored expiry does not satisfy it,
	// nothing is written and the stored account is returned unchanged.
	// Returns the account after the call.
	SetPlan(ctx context.Context, req *PlanChangeRequest) (*Account, error)

	// AdmitDevice adds deviceID to the account's device set unless already
	// present. When the set is full it fails with ErrDeviceLimitExceeded.
	// The returned slice is the account's current device set in both cases.
	AdmitDevice(ctx context.Context, userID, deviceID string, maxDevices int) ([]string, error)

	// ListTransactions returns the user's ledger entries ordered by
	// timestamp descending, restartable via offset.
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error)

	// ApplyEvent applies a subscription state transition exactly once per
	// event id. If an idempotency record already exists for req.EventID it
	// returns (false, nil) without side effects. Otherwise it sets the plan
	// fields, applies req.CreditDelta to the balance, appends req.Tx and
	// creates the idempotency record, all in one atomic unit.
	ApplyEvent(ctx context.Context, req *EventApplyRequest) (bool, error)
}

// AdjustRequest is an atomic balance change plus its ledger entry.
// Tx.Amount carries the signed delta.
type AdjustRequest struct {
	UserID string
	Tx     *Transaction
}

// PlanChangeRequest is an atomic plan overwrite. Credits is the absolute
// balance after the change.
type PlanChangeRequest struct {
	UserID    string
	Plan      Plan
	Modules   []string
	Credits   int
	ExpiresAt *time.Time

	// Tx is the ledger entry template for the change. Its Amount is
	// ignored: the backend records Credits minus the balance it reads
	// under its own transaction, and skips the append when that
	// difference is zero.
	Tx *Transaction

	// IfExpiredBefore makes the change a conditional downgrade: it applies
	// only while the stored expiry is set and not after the given instant.
	// A concurrent renewal or an already-applied downgrade leaves the
	// account untouched.
	IfExpiredBefore *time.Time
}

// EventApplyRequest is an idempotent subscription transition keyed by the
// upstream event id. CreditDelta is signed and added to the balance.
type EventApplyRequest struct {
	EventID     string
	UserID      string
	Plan        Plan
	Modules     []string
	ExpiresAt   *time.Time
	CreditDelta int
	Tx          *Transaction
}
