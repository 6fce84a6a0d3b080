package credits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxUserIDLen        = 255
	defaultMaxDevices   = 2
	defaultListLimit    = 10
	maxListLimit        = 100
	defaultGenerateCost = 1
)

// Service implements the credit ledger operations: account lifecycle, credit
// grants and consumption, device admission and subscription event
// application. All state lives in the Storage; the service holds no mutable
// state of its own and is safe for concurrent use.
type Service struct {
	storage Storage
	config  Config
}

// NewService creates a new ledger service with the given storage and configuration
func NewService(storage Storage, config Config) (*Service, error) {
	if storage == nil {
		return nil, ErrStorageUnavailable
	}

	// Set defaults
	if config.Catalog.plans == nil {
		config.Catalog = DefaultCatalog()
	}
	if config.MaxDevices == 0 {
		config.MaxDevices = defaultMaxDevices
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		storage: storage,
		config:  config,
	}, nil
}

// Catalog returns the plan catalog the service was configured with
func (s *Service) Catalog() Catalog {
	return s.config.Catalog
}

// GetOrCreateAccount returns the user's account, creating it with free-tier
// defaults and a signup-bonus transaction on first reference. An expired
// plan is downgraded before the account is returned.
func (s *Service) GetOrCreateAccount(ctx context.Context, userID string) (*Account, error) {
	uid, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}

	acct, err := s.storage.GetAccount(ctx, uid)
	if err == ErrAccountNotFound {
		return s.createAccount(ctx, uid)
	}
	if err != nil {
		return nil, err
	}

	return s.expireIfNeeded(ctx, acct)
}

func (s *Service) createAccount(ctx context.Context, uid string) (*Account, error) {
	spec, err := s.config.Catalog.Lookup(PlanFree)
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	acct := &Account{
		UserID:         uid,
		Credits:        spec.CreditGrant,
		Plan:           PlanFree,
		AllowedModules: spec.Modules,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	signup := &Transaction{
		ID:        uuid.NewString(),
		UserID:    uid,
		Type:      TxTypeCredit,
		Amount:    spec.CreditGrant,
		Source:    SourceSignupBonus,
		Reason:    "signup bonus",
		Timestamp: now,
	}

	created, err := s.storage.CreateAccount(ctx, acct, signup)
	if err != nil {
		return nil, err
	}
	s.config.Logger.Info("account created",
		Field{Key: "userId", Value: uid},
		Field{Key: "credits", Value: created.Credits})
	s.config.Metrics.RecordGrant(SourceSignupBonus, spec.CreditGrant)
	return created, nil
}

// expireIfNeeded lazily downgrades an account whose plan has expired: plan
// back to free, balance reset to the free-tier grant, expiry cleared. The
// storage records the signed difference as a canceled transaction so the
// ledger still reconciles with the balance. The downgrade is conditional on
// the expiry the storage reads under its own transaction, so two racing
// reads of the same expired account downgrade it exactly once and a
// concurrent renewal is never clobbered.
func (s *Service) expireIfNeeded(ctx context.Context, acct *Account) (*Account, error) {
	now := s.config.Now()
	if acct.PlanExpiresAt == nil || !now.After(*acct.PlanExpiresAt) {
		return acct, nil
	}

	spec, err := s.config.Catalog.Lookup(PlanFree)
	if err != nil {
		return nil, err
	}

	updated, err := s.storage.SetPlan(ctx, &PlanChangeRequest{
		UserID:          acct.UserID,
		Plan:            PlanFree,
		Modules:         spec.Modules,
		Credits:         spec.CreditGrant,
		IfExpiredBefore: &now,
		Tx: &Transaction{
			ID:        uuid.NewString(),
			UserID:    acct.UserID,
			Type:      TxTypeCanceled,
			Source:    SourceManual,
			Reason:    "plan expired",
			Timestamp: now,
		},
	})
	if err != nil {
		return nil, err
	}
	if updated.Plan == PlanFree {
		s.config.Logger.Info("plan expired, downgraded to free",
			Field{Key: "userId", Value: acct.UserID},
			Field{Key: "previousPlan", Value: acct.Plan})
	}
	return updated, nil
}

// GetBalance returns the user's current balance. Fails with
// ErrAccountNotFound rather than creating the account.
func (s *Service) GetBalance(ctx context.Context, userID string) (int, error) {
	uid, err := normalizeUserID(userID)
	if err != nil {
		return 0, err
	}

	acct, err := s.storage.GetAccount(ctx, uid)
	if err != nil {
		return 0, err
	}
	acct, err = s.expireIfNeeded(ctx, acct)
	if err != nil {
		return 0, err
	}
	return acct.Credits, nil
}

// GrantCredits adds amount to the user's balance, creating the account if
// needed, and appends a credit transaction. Returns the new balance.
func (s *Service) GrantCredits(ctx context.Context, userID string, amount int, meta TxMeta) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	acct, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return 0, err
	}

	if meta.Source == "" {
		meta.Source = SourceManual
	}
	newBalance, err := s.storage.AdjustCredits(ctx, &AdjustRequest{
		UserID: acct.UserID,
		Tx: &Transaction{
			ID:          uuid.NewString(),
			UserID:      acct.UserID,
			Type:        TxTypeCredit,
			Amount:      amount,
			Source:      meta.Source,
			Reason:      meta.Reason,
			Module:      meta.Module,
			Destination: meta.Destination,
			Timestamp:   s.config.Now(),
		},
	})
	if err != nil {
		return 0, err
	}
	s.config.Metrics.RecordGrant(meta.Source, amount)
	return newBalance, nil
}

// ConsumeCredits removes amount from the user's balance and appends a debit
// transaction. Fails with ErrAccountNotFound for unknown users and with
// ErrInsufficientCredits when the balance would go negative; the balance is
// left untouched in both cases.
func (s *Service) ConsumeCredits(ctx context.Context, userID string, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	uid, err := normalizeUserID(userID)
	if err != nil {
		return 0, err
	}

	acct, err := s.storage.GetAccount(ctx, uid)
	if err != nil {
		return 0, err
	}
	acct, err = s.expireIfNeeded(ctx, acct)
	if err != nil {
		return 0, err
	}

	newBalance, err := s.storage.AdjustCredits(ctx, &AdjustRequest{
		UserID: acct.UserID,
		Tx: &Transaction{
			ID:        uuid.NewString(),
			UserID:    acct.UserID,
			Type:      TxTypeDebit,
			Amount:    -amount,
			Source:    SourceManual,
			Reason:    reason,
			Timestamp: s.config.Now(),
		},
	})
	s.config.Metrics.RecordConsumption(acct.Plan, "", amount, err == nil)
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ListTransactions returns the user's ledger entries, newest first
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*Transaction, error) {
	uid, err := normalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.storage.ListTransactions(ctx, uid, limit, offset)
}

// StartSession admits the device for the user, creating the account on
// first reference. Fails with a DeviceLimitError carrying the current
// device set when the account already has the maximum number of devices.
func (s *Service) StartSession(ctx context.Context, userID, fingerprint string) (*Session, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, ErrInvalidFingerprint
	}
	acct, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	deviceID := DeviceID(fingerprint)
	devices, err := s.storage.AdmitDevice(ctx, acct.UserID, deviceID, s.config.MaxDevices)
	s.config.Metrics.RecordDeviceAdmission(err == nil)
	if err == ErrDeviceLimitExceeded {
		return nil, &DeviceLimitError{Devices: devices}
	}
	if err != nil {
		return nil, err
	}

	acct.Devices = devices
	return &Session{Account: acct, DeviceID: deviceID}, nil
}

// Generate is the consumption gateway: admit the device, check the module
// against the account's current plan entitlement, then atomically debit the
// cost and append the usage transaction. The device check runs before any
// spend so a blocked device never consumes credits. Not idempotent; callers
// must not blindly retry a timed-out call.
func (s *Service) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	if req == nil || strings.TrimSpace(req.Module) == "" {
		return nil, fmt.Errorf("%w: module is required", ErrModuleNotAllowed)
	}
	cost := req.Cost
	if cost == 0 {
		cost = defaultGenerateCost
	}
	if cost < 0 {
		return nil, ErrInvalidAmount
	}

	session, err := s.StartSession(ctx, req.UserID, req.Fingerprint)
	if err != nil {
		return nil, err
	}
	acct := session.Account

	// Entitlement is re-derived from the catalog, never trusted from the
	// stored allowedModules field.
	if !s.config.Catalog.Allows(acct.Plan, req.Module) {
		s.config.Metrics.RecordConsumption(acct.Plan, req.Module, cost, false)
		return nil, ErrModuleNotAllowed
	}

	newBalance, err := s.storage.AdjustCredits(ctx, &AdjustRequest{
		UserID: acct.UserID,
		Tx: &Transaction{
			ID:          uuid.NewString(),
			UserID:      acct.UserID,
			Type:        TxTypeUsage,
			Amount:      -cost,
			Source:      SourceGeneration,
			Module:      req.Module,
			Destination: req.Destination,
			Timestamp:   s.config.Now(),
		},
	})
	s.config.Metrics.RecordConsumption(acct.Plan, req.Module, cost, err == nil)
	if err != nil {
		return nil, err
	}

	spec, err := s.config.Catalog.Lookup(acct.Plan)
	if err != nil {
		return nil, err
	}
	return &GenerateResult{
		Credits:        newBalance,
		Plan:           acct.Plan,
		AllowedModules: spec.Modules,
		Devices:        acct.Devices,
	}, nil
}

// SetPlan manually overwrites the user's plan. The balance is replaced by
// the catalog grant and the storage records the signed difference on the
// ledger as a purchase entry.
func (s *Service) SetPlan(ctx context.Context, userID string, planName string) (*Account, error) {
	plan, err := s.config.Catalog.Resolve(planName)
	if err != nil {
		return nil, err
	}
	spec, err := s.config.Catalog.Lookup(plan)
	if err != nil {
		return nil, err
	}

	acct, err := s.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.config.Now()
	req := &PlanChangeRequest{
		UserID:  acct.UserID,
		Plan:    plan,
		Modules: spec.Modules,
		Credits: spec.CreditGrant,
		Tx: &Transaction{
			ID:        uuid.NewString(),
			UserID:    acct.UserID,
			Type:      TxTypePurchase,
			Source:    SourceManual,
			Reason:    "manual plan set: " + string(plan),
			Timestamp: now,
		},
	}
	if spec.DurationDays > 0 {
		exp := now.AddDate(0, 0, spec.DurationDays)
		req.ExpiresAt = &exp
	}

	return s.storage.SetPlan(ctx, req)
}

// ApplySubscriptionEvent applies a normalized upstream subscription event.
// Processing is idempotent on evt.ID: replaying a delivered event yields no
// further balance change or ledger entry. Unrecognized event types are
// acknowledged without side effects so the upstream does not retry them.
func (s *Service) ApplySubscriptionEvent(ctx context.Context, evt *SubscriptionEvent) (*EventResult, error) {
	if evt == nil || evt.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	acct, err := s.GetOrCreateAccount(ctx, evt.Email)
	if err != nil {
		return nil, err
	}

	var req *EventApplyRequest
	now := s.config.Now()

	switch evt.Type {
	case EventApproved:
		plan := PlanCreator
		if evt.Plan != "" {
			resolved, err := s.config.Catalog.Resolve(evt.Plan)
			if err != nil {
				// Unknown plan names fall back to the default paid plan
				// rather than bouncing the delivery back for retries.
				s.config.Logger.Warn("unknown plan in subscription event",
					Field{Key: "plan", Value: evt.Plan},
					Field{Key: "eventId", Value: evt.ID})
			} else {
				plan = resolved
			}
		}
		spec, err := s.config.Catalog.Lookup(plan)
		if err != nil {
			return nil, err
		}
		exp := now.AddDate(0, 0, spec.DurationDays)
		req = &EventApplyRequest{
			EventID:     evt.ID,
			UserID:      acct.UserID,
			Plan:        plan,
			Modules:     spec.Modules,
			ExpiresAt:   &exp,
			CreditDelta: spec.CreditGrant,
			Tx: &Transaction{
				ID:        uuid.NewString(),
				UserID:    acct.UserID,
				Type:      TxTypeCredit,
				Amount:    spec.CreditGrant,
				Source:    SourceHotmart,
				Reason:    "purchase approved: " + string(plan),
				Timestamp: now,
			},
		}

	case EventCanceled:
		spec, err := s.config.Catalog.Lookup(PlanFree)
		if err != nil {
			return nil, err
		}
		req = &EventApplyRequest{
			EventID: evt.ID,
			UserID:  acct.UserID,
			Plan:    PlanFree,
			Modules: spec.Modules,
			Tx: &Transaction{
				ID:        uuid.NewString(),
				UserID:    acct.UserID,
				Type:      TxTypeCanceled,
				Amount:    0,
				Source:    SourceHotmart,
				Reason:    "subscription canceled",
				Timestamp: now,
			},
		}

	default:
		s.config.Logger.Info("ignoring unrecognized subscription event",
			Field{Key: "event", Value: evt.Type},
			Field{Key: "eventId", Value: evt.ID})
		s.config.Metrics.RecordSubscriptionEvent(evt.Type, "ignored")
		return &EventResult{Accepted: false, Event: evt.Type}, nil
	}

	applied, err := s.storage.ApplyEvent(ctx, req)
	if err != nil {
		return nil, err
	}
	status := "applied"
	if !applied {
		status = "duplicate"
	}
	s.config.Metrics.RecordSubscriptionEvent(evt.Type, status)
	s.config.Logger.Info("subscription event processed",
		Field{Key: "userId", Value: acct.UserID},
		Field{Key: "event", Value: evt.Type},
		Field{Key: "status", Value: status})
	return &EventResult{Accepted: true, Applied: applied, Event: evt.Type}, nil
}

// normalizeUserID lower-cases and trims the user identifier so that account
// lookups are case-insensitive on email addresses.
func normalizeUserID(userID string) (string, error) {
	uid := strings.ToLower(strings.TrimSpace(userID))
	if uid == "" || len(uid) > maxUserIDLen {
		return "", ErrInvalidUserID
	}
	return uid, nil
}
