// Package postgres provides a PostgreSQL implementation of the credits.Storage interface.
// This implementation uses SQL transactions with SELECT FOR UPDATE so balance
// changes and their ledger entries commit together.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/travelmundo/credits/pkg/credits"
)

// Storage implements credits.Storage using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the required tables and indexes if they do not exist.
// Safe to call on every startup.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			credits INTEGER NOT NULL DEFAULT 0,
			plan TEXT NOT NULL,
			allowed_modules TEXT[] NOT NULL DEFAULT '{}',
			devices TEXT[] NOT NULL DEFAULT '{}',
			plan_expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount INTEGER NOT NULL,
			source TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			module TEXT NOT NULL DEFAULT '',
			destination TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_user_ts
			ON transactions (user_id, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS webhook_events (
			event_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// GetAccount implements credits.Storage
func (s *Storage) GetAccount(ctx context.Context, userID string) (*credits.Account, error) {
	return s.getAccount(ctx, s.pool, userID, false)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Storage) getAccount(ctx context.Context, q queryRower, userID string, forUpdate bool) (*credits.Account, error) {
	query := `SELECT user_id, credits, plan, allowed_modules, devices, plan_expires_at, created_at, updated_at
		FROM accounts WHERE user_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var acct credits.Account
	var plan string
	var expiresAt *time.Time

	err := q.QueryRow(ctx, query, userID).Scan(
		&acct.UserID,
		&acct.Credits,
		&plan,
		&acct.AllowedModules,
		&acct.Devices,
		&expiresAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	acct.Plan = credits.Plan(plan)
	acct.PlanExpiresAt = expiresAt
	return &acct, nil
}

// CreateAccount implements credits.Storage
func (s *Storage) CreateAccount(ctx context.Context, account *credits.Account, signup *credits.Transaction) (*credits.Account, error) {
	if account == nil || account.UserID == "" {
		return nil, fmt.Errorf("invalid account")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id, credits, plan, allowed_modules, devices, plan_expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
			ON CONFLICT (user_id) DO NOTHING`,
		account.UserID,
		account.Credits,
		string(account.Plan),
		account.AllowedModules,
		stringSliceOrEmpty(account.Devices),
		account.PlanExpiresAt,
		account.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race: return whoever got there first
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
		return s.GetAccount(ctx, account.UserID)
	}

	if signup != nil {
		if err := insertTransaction(ctx, tx, signup); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

// AdjustCredits implements credits.Storage
func (s *Storage) AdjustCredits(ctx context.Context, req *credits.AdjustRequest) (int, error) {
	if req == nil || req.Tx == nil {
		return 0, fmt.Errorf("invalid adjust request")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var current int
	err = tx.QueryRow(ctx,
		`SELECT credits FROM accounts WHERE user_id = $1 FOR UPDATE`,
		req.UserID).Scan(&current)
	if err == pgx.ErrNoRows {
		return 0, credits.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock account: %w", err)
	}

	balance := current + req.Tx.Amount
	if balance < 0 {
		return 0, credits.ErrInsufficientCredits
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET credits = $2, updated_at = $3 WHERE user_id = $1`,
		req.UserID, balance, req.Tx.Timestamp.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to update credits: %w", err)
	}

	if err := insertTransaction(ctx, tx, req.Tx); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return balance, nil
}

// SetPlan implements credits.Storage
func (s *Storage) SetPlan(ctx context.Context, req *credits.PlanChangeRequest) (*credits.Account, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("invalid plan change request")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	acct, err := s.getAccount(ctx, tx, req.UserID, true)
	if err != nil {
		return nil, err
	}
	if req.IfExpiredBefore != nil {
		if acct.PlanExpiresAt == nil || acct.PlanExpiresAt.After(*req.IfExpiredBefore) {
			return acct, nil
		}
	}

	now := time.Now().UTC()
	if req.Tx != nil {
		now = req.Tx.Timestamp.UTC()
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET plan = $2, allowed_modules = $3, credits = $4, plan_expires_at = $5, updated_at = $6
			WHERE user_id = $1`,
		req.UserID,
		string(req.Plan),
		req.Modules,
		req.Credits,
		req.ExpiresAt,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set plan: %w", err)
	}

	// Ledger delta is taken from the row locked above, never from a
	// caller-side read.
	if delta := req.Credits - acct.Credits; req.Tx != nil && delta != 0 {
		entry := *req.Tx
		entry.Amount = delta
		if err := insertTransaction(ctx, tx, &entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	acct.Plan = req.Plan
	acct.AllowedModules = req.Modules
	acct.Credits = req.Credits
	acct.PlanExpiresAt = req.ExpiresAt
	acct.UpdatedAt = now
	return acct, nil
}

// AdmitDevice implements credits.Storage
func (s *Storage) AdmitDevice(ctx context.Context, userID, deviceID string, maxDevices int) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	var devices []string
	err = tx.QueryRow(ctx,
		`SELECT devices FROM accounts WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&devices)
	if err == pgx.ErrNoRows {
		return nil, credits.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}

	for _, d := range devices {
		if d == deviceID {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return nil, fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
			return devices, nil
		}
	}

	if len(devices) >= maxDevices {
		return devices, credits.ErrDeviceLimitExceeded
	}

	devices = append(devices, deviceID)
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET devices = $2, updated_at = $3 WHERE user_id = $1`,
		userID, devices, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to update devices: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return devices, nil
}

// ListTransactions implements credits.Storage
func (s *Storage) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*credits.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, amount, source, reason, module, destination, ts
			FROM transactions WHERE user_id = $1
			ORDER BY ts DESC
			LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]*credits.Transaction, 0, limit)
	for rows.Next() {
		var t credits.Transaction
		var txType, source string
		if err := rows.Scan(&t.ID, &t.UserID, &txType, &t.Amount, &source, &t.Reason, &t.Module, &t.Destination, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = credits.TxType(txType)
		t.Source = credits.TxSource(source)
		transactions = append(transactions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return transactions, nil
}

// ApplyEvent implements credits.Storage
func (s *Storage) ApplyEvent(ctx context.Context, req *credits.EventApplyRequest) (bool, error) {
	if req == nil || req.EventID == "" {
		return false, fmt.Errorf("invalid event apply request")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	now := time.Now().UTC()
	if req.Tx != nil {
		now = req.Tx.Timestamp.UTC()
	}

	// The idempotency record is the gate: a duplicate event id means the
	// whole mutation already happened, so skip it entirely.
	tag, err := tx.Exec(ctx,
		`INSERT INTO webhook_events (event_id, user_id, received_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (event_id) DO NOTHING`,
		req.EventID, req.UserID, now)
	if err != nil {
		return false, fmt.Errorf("failed to record event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return false, fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
		return false, nil
	}

	var current int
	err = tx.QueryRow(ctx,
		`SELECT credits FROM accounts WHERE user_id = $1 FOR UPDATE`,
		req.UserID).Scan(&current)
	if err == pgx.ErrNoRows {
		return false, credits.ErrAccountNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to lock account: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE accounts SET plan = $2, allowed_modules = $3, credits = $4, plan_expires_at = $5, updated_at = $6
			WHERE user_id = $1`,
		req.UserID,
		string(req.Plan),
		req.Modules,
		current+req.CreditDelta,
		req.ExpiresAt,
		now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply event: %w", err)
	}

	if req.Tx != nil {
		if err := insertTransaction(ctx, tx, req.Tx); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *credits.Transaction) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, type, amount, source, reason, module, destination, ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
		t.ID,
		t.UserID,
		string(t.Type),
		t.Amount,
		string(t.Source),
		t.Reason,
		t.Module,
		t.Destination,
		t.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func stringSliceOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
