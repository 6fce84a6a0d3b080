package credits

import (
	"time"
)

// Plan identifies a subscription plan
type Plan string

const (
	// PlanFree is the non-expiring default plan
	PlanFree Plan = "free"
	// PlanExplorer is the entry-level paid plan
	PlanExplorer Plan = "explorer"
	// PlanCreator is the mid-tier paid plan
	PlanCreator Plan = "creator"
	// PlanMaster is the top-tier paid plan
	PlanMaster Plan = "master"
)

// TxType classifies a ledger transaction
type TxType string

const (
	// TxTypeCredit is a balance increase (grant, purchase bonus)
	TxTypeCredit TxType = "credit"
	// TxTypeDebit is a manual balance decrease
	TxTypeDebit TxType = "debit"
	// TxTypeCanceled marks a subscription cancellation or plan expiry
	TxTypeCanceled TxType = "canceled"
	// TxTypePurchase records the signed balance change from a plan
	// purchase or manual plan set
	TxTypePurchase TxType = "purchase"
	// TxTypeUsage is a balance decrease from a generation call
	TxTypeUsage TxType = "usage"
)

// TxSource identifies where a transaction originated
type TxSource string

const (
	// SourceManual marks operator or API initiated transactions
	SourceManual TxSource = "manual"
	// SourceHotmart marks transactions driven by Hotmart webhook events
	SourceHotmart TxSource = "hotmart"
	// SourceGeneration marks credit consumption by the generation gateway
	SourceGeneration TxSource = "generation"
	// SourceSignupBonus marks the free-tier grant on account creation
	SourceSignupBonus TxSource = "signup-bonus"
)

// Account is the per-user credit and plan record. Keyed by the normalized
// (lower-cased) user identifier, usually an email address.
type Account struct {
	UserID         string     `json:"userId"`
	Credits        int        `json:"credits"`
	Plan           Plan       `json:"plan"`
	PlanExpiresAt  *time.Time `json:"planExpiresAt,omitempty"`
	AllowedModules []string   `json:"allowedModules"`
	Devices        []string   `json:"devices"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Transaction is a single append-only ledger entry. Amount is signed: grants
// are positive, debits negative, and the running sum of a user's amounts
// always reconciles with the account balance.
type Transaction struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Type        TxType    `json:"type"`
	Amount      int       `json:"amount"`
	Source      TxSource  `json:"source"`
	Reason      string    `json:"reason,omitempty"`
	Module      string    `json:"module,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TxMeta carries the free-form context recorded on a ledger entry
type TxMeta struct {
	Source      TxSource
	Reason      string
	Module      string
	Destination string
}

// Session is the result of a device admission
type Session struct {
	Account  *Account
	DeviceID string
}

// GenerateRequest is a consumption gateway call: spend Cost credits to run
// Module on behalf of the user's device.
type GenerateRequest struct {
	UserID      string
	Fingerprint string
	Module      string
	Cost        int
	Destination string
}

// GenerateResult reports account state after a successful generation
type GenerateResult struct {
	Credits        int      `json:"credits"`
	Plan           Plan     `json:"plan"`
	AllowedModules []string `json:"allowedModules"`
	Devices        []string `json:"devices"`
}

// SubscriptionEvent is a normalized upstream subscription lifecycle event.
// ID is the provider's event/revision identifier used for idempotency. Plan
// is the raw plan name from the provider; the service resolves it against
// the catalog, aliases included.
type SubscriptionEvent struct {
	ID         string
	Type       string
	Email      string
	Plan       string
	OccurredAt time.Time
}

// Event types produced by webhook normalization
const (
	EventApproved = "approved"
	EventCanceled = "canceled"
)

// EventResult reports the outcome of applying a subscription event
type EventResult struct {
	Accepted bool   `json:"accepted"`
	Applied  bool   `json:"applied"`
	Event    string `json:"event"`
}

// Config holds service configuration
type Config struct {
	// Catalog maps plans to their entitlements (default: DefaultCatalog)
	Catalog Catalog

	// MaxDevices is the per-account device cap (default: 2)
	MaxDevices int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking ledger operations (default: NoopMetrics)
	Metrics Metrics

	// Now overrides the clock, for tests (default: time.Now UTC)
	Now func() time.Time
}
