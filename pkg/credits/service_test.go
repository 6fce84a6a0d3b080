package credits_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/travelmundo/credits/pkg/credits"
	"github.com/travelmundo/credits/storage/memory"
)

// testClock is a controllable time source for expiry tests
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// newTestService creates a service backed by in-memory storage
func newTestService(t *testing.T) (*credits.Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service, err := credits.NewService(memory.New(), credits.Config{
		Now: clock.Now,
	})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	return service, clock
}

func TestGetOrCreateAccount(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	acct, err := service.GetOrCreateAccount(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if acct.Credits != 2 {
		t.Errorf("Expected 2 signup credits, got %d", acct.Credits)
	}
	if acct.Plan != credits.PlanFree {
		t.Errorf("Expected free plan, got %s", acct.Plan)
	}
	if acct.PlanExpiresAt != nil {
		t.Error("Free plan should not expire")
	}

	// Second call returns the same account, no extra grant
	again, err := service.GetOrCreateAccount(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if again.Credits != 2 {
		t.Errorf("Expected balance unchanged at 2, got %d", again.Credits)
	}

	// Signup bonus is on the ledger
	txs, err := service.ListTransactions(ctx, "alice@example.com", 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("Expected 1 transaction, got %d", len(txs))
	}
	if txs[0].Source != credits.SourceSignupBonus || txs[0].Amount != 2 {
		t.Errorf("Unexpected signup transaction: %+v", txs[0])
	}
}

func TestAccountIDNormalization(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	acct, err := service.GetOrCreateAccount(ctx, "  Alice@Example.COM ")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if acct.UserID != "alice@example.com" {
		t.Errorf("Expected normalized user id, got %q", acct.UserID)
	}

	// Different casing maps to the same account
	balance, err := service.GetBalance(ctx, "ALICE@example.com")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 2 {
		t.Errorf("Expected balance 2, got %d", balance)
	}

	if _, err := service.GetOrCreateAccount(ctx, "   "); !errors.Is(err, credits.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID for blank user id, got %v", err)
	}
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.GetBalance(context.Background(), "nobody@example.com")
	if !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestGrantAndConsume(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	balance, err := service.GrantCredits(ctx, "alice@example.com", 10, credits.TxMeta{
		Source: credits.SourceManual,
		Reason: "promo",
	})
	if err != nil {
		t.Fatalf("GrantCredits failed: %v", err)
	}
	if balance != 12 { // 2 signup + 10
		t.Errorf("Expected balance 12, got %d", balance)
	}

	balance, err = service.ConsumeCredits(ctx, "alice@example.com", 5, "tour package")
	if err != nil {
		t.Fatalf("ConsumeCredits failed: %v", err)
	}
	if balance != 7 {
		t.Errorf("Expected balance 7, got %d", balance)
	}

	// Overdraw is rejected and the balance untouched
	_, err = service.ConsumeCredits(ctx, "alice@example.com", 100, "too much")
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}
	balance, _ = service.GetBalance(ctx, "alice@example.com")
	if balance != 7 {
		t.Errorf("Expected balance still 7, got %d", balance)
	}

	// Consuming against an unknown account does not create it
	_, err = service.ConsumeCredits(ctx, "ghost@example.com", 1, "")
	if !errors.Is(err, credits.ErrAccountNotFound) {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}

func TestGrantValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for _, amount := range []int{0, -5} {
		if _, err := service.GrantCredits(ctx, "alice@example.com", amount, credits.TxMeta{}); !errors.Is(err, credits.ErrInvalidAmount) {
			t.Errorf("Expected ErrInvalidAmount for amount %d, got %v", amount, err)
		}
	}
}

func TestFreeTierExhaustion(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	// New free account holds exactly two credits
	if _, err := service.GetOrCreateAccount(ctx, "alice@example.com"); err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := service.ConsumeCredits(ctx, "alice@example.com", 1, "generation"); err != nil {
			t.Fatalf("Consume %d failed: %v", i+1, err)
		}
	}

	_, err := service.ConsumeCredits(ctx, "alice@example.com", 1, "generation")
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits on empty balance, got %v", err)
	}
}

func TestLedgerReconciliation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.GrantCredits(ctx, "alice@example.com", 20, credits.TxMeta{Source: credits.SourceManual}); err != nil {
		t.Fatalf("GrantCredits failed: %v", err)
	}
	if _, err := service.ConsumeCredits(ctx, "alice@example.com", 3, "a"); err != nil {
		t.Fatalf("ConsumeCredits failed: %v", err)
	}
	if _, err := service.ConsumeCredits(ctx, "alice@example.com", 7, "b"); err != nil {
		t.Fatalf("ConsumeCredits failed: %v", err)
	}
	if _, err := service.SetPlan(ctx, "alice@example.com", "explorer"); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	balance, err := service.GetBalance(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}

	txs, err := service.ListTransactions(ctx, "alice@example.com", 100, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}

	sum := 0
	for _, tx := range txs {
		sum += tx.Amount
	}
	if sum != balance {
		t.Errorf("Ledger sum %d does not reconcile with balance %d", sum, balance)
	}
}

func TestDeviceLimit(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	s1, err := service.StartSession(ctx, "alice@example.com", "fingerprint-laptop")
	if err != nil {
		t.Fatalf("First session failed: %v", err)
	}
	if len(s1.Account.Devices) != 1 {
		t.Errorf("Expected 1 device, got %d", len(s1.Account.Devices))
	}

	// Same device again is a no-op
	if _, err := service.StartSession(ctx, "alice@example.com", "fingerprint-laptop"); err != nil {
		t.Fatalf("Repeat session failed: %v", err)
	}

	if _, err := service.StartSession(ctx, "alice@example.com", "fingerprint-phone"); err != nil {
		t.Fatalf("Second device failed: %v", err)
	}

	// Third device is rejected, no eviction
	_, err = service.StartSession(ctx, "alice@example.com", "fingerprint-tablet")
	if !errors.Is(err, credits.ErrDeviceLimitExceeded) {
		t.Fatalf("Expected ErrDeviceLimitExceeded, got %v", err)
	}
	var devErr *credits.DeviceLimitError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceLimitError, got %T", err)
	}
	if len(devErr.Devices) != 2 {
		t.Errorf("Expected 2 registered devices in error, got %d", len(devErr.Devices))
	}

	// Session IDs are hashes, not raw fingerprints
	for _, d := range devErr.Devices {
		if d == "fingerprint-laptop" || d == "fingerprint-phone" {
			t.Error("Raw fingerprint stored instead of device hash")
		}
	}

	if _, err := service.StartSession(ctx, "alice@example.com", ""); !errors.Is(err, credits.ErrInvalidFingerprint) {
		t.Errorf("Expected ErrInvalidFingerprint, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleCore,
		Destination: "lisbon",
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Credits != 1 { // 2 signup - 1 default cost
		t.Errorf("Expected balance 1, got %d", result.Credits)
	}

	// Free plan cannot use paid modules
	_, err = service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleItinerary,
	})
	if !errors.Is(err, credits.ErrModuleNotAllowed) {
		t.Errorf("Expected ErrModuleNotAllowed, got %v", err)
	}

	// Denied module attempt must not spend credits
	balance, _ := service.GetBalance(ctx, "alice@example.com")
	if balance != 1 {
		t.Errorf("Expected balance still 1 after denial, got %d", balance)
	}

	// Drain the last credit, then generation fails on balance
	if _, err := service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleCore,
	}); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, err = service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleCore,
	})
	if !errors.Is(err, credits.ErrInsufficientCredits) {
		t.Errorf("Expected ErrInsufficientCredits, got %v", err)
	}
}

func TestGenerateUpgradedPlan(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.SetPlan(ctx, "alice@example.com", "creator"); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	result, err := service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleItinerary,
		Cost:        3,
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if result.Credits != 22 { // 25 creator grant - 3
		t.Errorf("Expected balance 22, got %d", result.Credits)
	}
	if result.Plan != credits.PlanCreator {
		t.Errorf("Expected creator plan, got %s", result.Plan)
	}

	// Creator still cannot reach master-only modules
	_, err = service.Generate(ctx, &credits.GenerateRequest{
		UserID:      "alice@example.com",
		Fingerprint: "fp-1",
		Module:      credits.ModuleGastronomy,
	})
	if !errors.Is(err, credits.ErrModuleNotAllowed) {
		t.Errorf("Expected ErrModuleNotAllowed, got %v", err)
	}
}

func TestSetPlan(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	acct, err := service.SetPlan(ctx, "alice@example.com", "explorer")
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if acct.Credits != 10 {
		t.Errorf("Expected explorer grant of 10, got %d", acct.Credits)
	}
	if acct.PlanExpiresAt == nil {
		t.Fatal("Expected plan expiry to be set")
	}
	wantExpiry := clock.Now().AddDate(0, 0, 30)
	if !acct.PlanExpiresAt.Equal(wantExpiry) {
		t.Errorf("Expected expiry %v, got %v", wantExpiry, acct.PlanExpiresAt)
	}

	// Replacement, not additive: master overwrites whatever is left
	acct, err = service.SetPlan(ctx, "alice@example.com", "master")
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if acct.Credits != 40 {
		t.Errorf("Expected master grant of 40, got %d", acct.Credits)
	}

	if _, err := service.SetPlan(ctx, "alice@example.com", "platinum"); !errors.Is(err, credits.ErrUnknownPlan) {
		t.Errorf("Expected ErrUnknownPlan, got %v", err)
	}
}

func TestSetPlanLegacyAliases(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	acct, err := service.SetPlan(ctx, "alice@example.com", "pro")
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if acct.Plan != credits.PlanCreator {
		t.Errorf("Expected pro to map to creator, got %s", acct.Plan)
	}

	acct, err = service.SetPlan(ctx, "bob@example.com", "Premium")
	if err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	if acct.Plan != credits.PlanMaster {
		t.Errorf("Expected premium to map to master, got %s", acct.Plan)
	}
}

func TestPlanExpiry(t *testing.T) {
	service, clock := newTestService(t)
	ctx := context.Background()

	if _, err := service.SetPlan(ctx, "alice@example.com", "creator"); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}

	// One day before expiry the plan still holds
	clock.Advance(29 * 24 * time.Hour)
	balance, err := service.GetBalance(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 25 {
		t.Errorf("Expected balance 25 before expiry, got %d", balance)
	}

	// Past expiry the next access downgrades to free
	clock.Advance(2 * 24 * time.Hour)
	balance, err = service.GetBalance(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if balance != 2 {
		t.Errorf("Expected free-tier balance 2 after expiry, got %d", balance)
	}

	acct, err := service.GetOrCreateAccount(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetOrCreateAccount failed: %v", err)
	}
	if acct.Plan != credits.PlanFree {
		t.Errorf("Expected free plan after expiry, got %s", acct.Plan)
	}
	if acct.PlanExpiresAt != nil {
		t.Error("Expected expiry cleared after downgrade")
	}

	// The downgrade left a compensating entry so the ledger reconciles
	txs, err := service.ListTransactions(ctx, "alice@example.com", 100, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	sum := 0
	var sawCancel bool
	for _, tx := range txs {
		sum += tx.Amount
		if tx.Type == credits.TxTypeCanceled {
			sawCancel = true
		}
	}
	if !sawCancel {
		t.Error("Expected a canceled transaction marking the downgrade")
	}
	if sum != balance {
		t.Errorf("Ledger sum %d does not reconcile with balance %d", sum, balance)
	}
}

// staleAccountStorage serves a captured account snapshot for the first
// GetAccount calls so two readers can observe the same pre-downgrade state,
// the way two requests racing on an expired account would.
type staleAccountStorage struct {
	credits.Storage
	stale     *credits.Account
	remaining int
}

func (s *staleAccountStorage) GetAccount(ctx context.Context, userID string) (*credits.Account, error) {
	if s.remaining > 0 && s.stale != nil {
		s.remaining--
		cp := *s.stale
		if s.stale.PlanExpiresAt != nil {
			exp := *s.stale.PlanExpiresAt
			cp.PlanExpiresAt = &exp
		}
		return &cp, nil
	}
	return s.Storage.GetAccount(ctx, userID)
}

func TestPlanExpiryRacingReads(t *testing.T) {
	store := memory.New()
	wrapped := &staleAccountStorage{Storage: store}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	service, err := credits.NewService(wrapped, credits.Config{Now: clock.Now})
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	ctx := context.Background()

	if _, err := service.SetPlan(ctx, "alice@example.com", "creator"); err != nil {
		t.Fatalf("SetPlan failed: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)

	snap, err := store.GetAccount(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	wrapped.stale = snap
	wrapped.remaining = 2

	// Both reads see the expired creator account; only one downgrade may
	// land on the ledger.
	for i := 0; i < 2; i++ {
		balance, err := service.GetBalance(ctx, "alice@example.com")
		if err != nil {
			t.Fatalf("GetBalance failed: %v", err)
		}
		if balance != 2 {
			t.Errorf("Expected free-tier balance 2, got %d", balance)
		}
	}

	txs, err := service.ListTransactions(ctx, "alice@example.com", 100, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	sum, canceled := 0, 0
	for _, tx := range txs {
		sum += tx.Amount
		if tx.Type == credits.TxTypeCanceled {
			canceled++
		}
	}
	if canceled != 1 {
		t.Errorf("Expected exactly 1 canceled entry, got %d", canceled)
	}
	if sum != 2 {
		t.Errorf("Ledger sum %d does not reconcile with balance 2", sum)
	}
}

func TestApplySubscriptionEvent(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	evt := &credits.SubscriptionEvent{
		ID:    "HP-123456",
		Type:  credits.EventApproved,
		Email: "bob@example.com",
		Plan:  "creator",
	}

	result, err := service.ApplySubscriptionEvent(ctx, evt)
	if err != nil {
		t.Fatalf("ApplySubscriptionEvent failed: %v", err)
	}
	if !result.Accepted || !result.Applied {
		t.Errorf("Expected event accepted and applied, got %+v", result)
	}

	// Additive on top of the signup grant
	balance, _ := service.GetBalance(ctx, "bob@example.com")
	if balance != 27 { // 2 signup + 25 creator
		t.Errorf("Expected balance 27, got %d", balance)
	}

	// Replay of the same event id changes nothing
	result, err = service.ApplySubscriptionEvent(ctx, evt)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if result.Applied {
		t.Error("Expected replay to be deduplicated")
	}
	balance, _ = service.GetBalance(ctx, "bob@example.com")
	if balance != 27 {
		t.Errorf("Expected balance unchanged at 27, got %d", balance)
	}

	acct, _ := service.GetOrCreateAccount(ctx, "bob@example.com")
	if acct.Plan != credits.PlanCreator {
		t.Errorf("Expected creator plan, got %s", acct.Plan)
	}
	if acct.PlanExpiresAt == nil {
		t.Error("Expected plan expiry to be set")
	}
}

func TestApplySubscriptionEventCanceled(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.ApplySubscriptionEvent(ctx, &credits.SubscriptionEvent{
		ID:    "HP-1",
		Type:  credits.EventApproved,
		Email: "bob@example.com",
		Plan:  "master",
	}); err != nil {
		t.Fatalf("Approved event failed: %v", err)
	}

	result, err := service.ApplySubscriptionEvent(ctx, &credits.SubscriptionEvent{
		ID:    "HP-2",
		Type:  credits.EventCanceled,
		Email: "bob@example.com",
	})
	if err != nil {
		t.Fatalf("Canceled event failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected cancellation applied")
	}

	acct, _ := service.GetOrCreateAccount(ctx, "bob@example.com")
	if acct.Plan != credits.PlanFree {
		t.Errorf("Expected free plan after cancellation, got %s", acct.Plan)
	}
	// Cancellation keeps already-granted credits
	if acct.Credits != 42 { // 2 signup + 40 master
		t.Errorf("Expected credits kept at 42, got %d", acct.Credits)
	}

	txs, _ := service.ListTransactions(ctx, "bob@example.com", 10, 0)
	if len(txs) == 0 || txs[0].Type != credits.TxTypeCanceled || txs[0].Amount != 0 {
		t.Errorf("Expected zero-amount canceled transaction first, got %+v", txs)
	}
}

func TestApplySubscriptionEventUnknownType(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.ApplySubscriptionEvent(ctx, &credits.SubscriptionEvent{
		ID:    "HP-9",
		Type:  "chargeback",
		Email: "bob@example.com",
	})
	if err != nil {
		t.Fatalf("ApplySubscriptionEvent failed: %v", err)
	}
	if result.Accepted {
		t.Error("Expected unrecognized event to be ignored")
	}

	balance, _ := service.GetBalance(ctx, "bob@example.com")
	if balance != 2 {
		t.Errorf("Expected signup balance only, got %d", balance)
	}
}

func TestApplySubscriptionEventUnknownPlanFallsBack(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	result, err := service.ApplySubscriptionEvent(ctx, &credits.SubscriptionEvent{
		ID:    "HP-10",
		Type:  credits.EventApproved,
		Email: "bob@example.com",
		Plan:  "Plano Anual TravelMundo",
	})
	if err != nil {
		t.Fatalf("ApplySubscriptionEvent failed: %v", err)
	}
	if !result.Applied {
		t.Error("Expected event applied despite unknown plan name")
	}

	acct, _ := service.GetOrCreateAccount(ctx, "bob@example.com")
	if acct.Plan != credits.PlanCreator {
		t.Errorf("Expected fallback to creator, got %s", acct.Plan)
	}
}

func TestApplySubscriptionEventValidation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.ApplySubscriptionEvent(ctx, &credits.SubscriptionEvent{
		Type:  credits.EventApproved,
		Email: "bob@example.com",
	}); !errors.Is(err, credits.ErrMalformedEvent) {
		t.Errorf("Expected ErrMalformedEvent for missing id, got %v", err)
	}
}

func TestListTransactionsPaging(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	if _, err := service.GrantCredits(ctx, "alice@example.com", 50, credits.TxMeta{Source: credits.SourceManual}); err != nil {
		t.Fatalf("GrantCredits failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := service.ConsumeCredits(ctx, "alice@example.com", 1, "gen"); err != nil {
			t.Fatalf("ConsumeCredits failed: %v", err)
		}
	}

	// 7 entries total: signup + grant + 5 debits
	page, err := service.ListTransactions(ctx, "alice@example.com", 3, 0)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(page))
	}

	// Newest first
	for i := 1; i < len(page); i++ {
		if page[i].Timestamp.After(page[i-1].Timestamp) {
			t.Error("Transactions not in descending timestamp order")
		}
	}

	rest, err := service.ListTransactions(ctx, "alice@example.com", 100, 3)
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(rest) != 4 {
		t.Errorf("Expected 4 remaining transactions, got %d", len(rest))
	}
}
