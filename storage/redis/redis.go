// Package redis provides a Redis implementation of the credits.Storage
// interface. Atomic units (balance change + ledger append, device admission,
// event application) run as Lua scripts so concurrent requests for the same
// account serialize on the server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/travelmundo/credits/pkg/credits"
)

// Storage implements credits.Storage using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "travelmundo:")
	KeyPrefix string

	// EventTTL is the TTL for webhook idempotency records (0 = no expiration)
	EventTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "travelmundo:",
		EventTTL:  0,
	}
}

// New creates a new Redis storage adapter.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	if config.KeyPrefix == "" {
		config.KeyPrefix = "travelmundo:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Create account + signup bonus unless the account already exists
	s.scripts["create"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local ledgerKey = KEYS[2]
		if redis.call('EXISTS', acctKey) == 1 then
			return 0
		end
		redis.call('HSET', acctKey,
			'userId', ARGV[1],
			'credits', ARGV[2],
			'plan', ARGV[3],
			'allowedModules', ARGV[4],
			'devices', ARGV[5],
			'planExpiresAt', ARGV[6],
			'createdAt', ARGV[7],
			'updatedAt', ARGV[7])
		if ARGV[8] ~= '' then
			redis.call('LPUSH', ledgerKey, ARGV[8])
		end
		return 1
	`)

	// Apply a signed delta and append the ledger entry atomically
	s.scripts["adjust"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local ledgerKey = KEYS[2]
		local amount = tonumber(ARGV[1])
		if redis.call('EXISTS', acctKey) == 0 then
			return {-1}
		end
		local current = tonumber(redis.call('HGET', acctKey, 'credits') or '0')
		local balance = current + amount
		if balance < 0 then
			return {-2}
		end
		redis.call('HSET', acctKey, 'credits', balance, 'updatedAt', ARGV[2])
		redis.call('LPUSH', ledgerKey, ARGV[3])
		return {0, balance}
	`)

	// Overwrite plan state, appending the ledger entry with the balance
	// difference computed here so concurrent plan changes never
	// double-append. ARGV[7], when set, restricts the change to accounts
	// whose stored expiry (unix nanos) is at or before that instant.
	s.scripts["setplan"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local ledgerKey = KEYS[2]
		if redis.call('EXISTS', acctKey) == 0 then
			return -1
		end
		if ARGV[7] ~= '' then
			local exp = tonumber(redis.call('HGET', acctKey, 'planExpiresAt'))
			if not exp or exp > tonumber(ARGV[7]) then
				return -2
			end
		end
		local current = tonumber(redis.call('HGET', acctKey, 'credits')) or 0
		local delta = tonumber(ARGV[3]) - current
		redis.call('HSET', acctKey,
			'plan', ARGV[1],
			'allowedModules', ARGV[2],
			'credits', ARGV[3],
			'planExpiresAt', ARGV[4],
			'updatedAt', ARGV[5])
		if ARGV[6] ~= '' and delta ~= 0 then
			local entry = cjson.decode(ARGV[6])
			entry['amount'] = delta
			redis.call('LPUSH', ledgerKey, cjson.encode(entry))
		end
		return 0
	`)

	// Admit a device unless the set is already full
	s.scripts["admit"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local deviceID = ARGV[1]
		local maxDevices = tonumber(ARGV[2])
		if redis.call('EXISTS', acctKey) == 0 then
			return {-1, ''}
		end
		local raw = redis.call('HGET', acctKey, 'devices')
		local devices = {}
		if raw and raw ~= '' and raw ~= 'null' then
			devices = cjson.decode(raw)
		end
		for _, d in ipairs(devices) do
			if d == deviceID then
				return {0, raw}
			end
		end
		if #devices >= maxDevices then
			return {-2, raw or '[]'}
		end
		table.insert(devices, deviceID)
		local encoded = cjson.encode(devices)
		redis.call('HSET', acctKey, 'devices', encoded, 'updatedAt', ARGV[3])
		return {0, encoded}
	`)

	// Apply a subscription event exactly once per event id
	s.scripts["event"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local ledgerKey = KEYS[2]
		local eventKey = KEYS[3]
		if redis.call('EXISTS', eventKey) == 1 then
			return 0
		end
		if redis.call('EXISTS', acctKey) == 0 then
			return -1
		end
		local current = tonumber(redis.call('HGET', acctKey, 'credits') or '0')
		redis.call('HSET', acctKey,
			'plan', ARGV[1],
			'allowedModules', ARGV[2],
			'credits', current + tonumber(ARGV[3]),
			'planExpiresAt', ARGV[4],
			'updatedAt', ARGV[5])
		if ARGV[6] ~= '' then
			redis.call('LPUSH', ledgerKey, ARGV[6])
		end
		local ttl = tonumber(ARGV[7])
		if ttl > 0 then
			redis.call('SET', eventKey, ARGV[5], 'EX', ttl)
		else
			redis.call('SET', eventKey, ARGV[5])
		end
		return 1
	`)
}

// GetAccount implements credits.Storage
func (s *Storage) GetAccount(ctx context.Context, userID string) (*credits.Account, error) {
	data, err := s.client.HGetAll(ctx, s.accountKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(data) == 0 {
		return nil, credits.ErrAccountNotFound
	}
	return decodeAccount(userID, data)
}

// CreateAccount implements credits.Storage
func (s *Storage) CreateAccount(ctx context.Context, account *credits.Account, signup *credits.Transaction) (*credits.Account, error) {
	if account == nil || account.UserID == "" {
		return nil, fmt.Errorf("invalid account")
	}

	modules, err := json.Marshal(account.AllowedModules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode modules: %w", err)
	}
	devices := "[]"
	if len(account.Devices) > 0 {
		raw, err := json.Marshal(account.Devices)
		if err != nil {
			return nil, fmt.Errorf("failed to encode devices: %w", err)
		}
		devices = string(raw)
	}
	signupJSON := ""
	if signup != nil {
		raw, err := json.Marshal(signup)
		if err != nil {
			return nil, fmt.Errorf("failed to encode signup transaction: %w", err)
		}
		signupJSON = string(raw)
	}

	created, err := s.scripts["create"].Run(ctx, s.client,
		[]string{s.accountKey(account.UserID), s.ledgerKey(account.UserID)},
		account.UserID,
		account.Credits,
		string(account.Plan),
		string(modules),
		devices,
		encodeExpiry(account.PlanExpiresAt),
		account.CreatedAt.UTC().Format(time.RFC3339Nano),
		signupJSON,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	if created == 0 {
		// Lost the race: return whoever got there first
		return s.GetAccount(ctx, account.UserID)
	}
	return account, nil
}

// AdjustCredits implements credits.Storage
func (s *Storage) AdjustCredits(ctx context.Context, req *credits.AdjustRequest) (int, error) {
	if req == nil || req.Tx == nil {
		return 0, fmt.Errorf("invalid adjust request")
	}

	txJSON, err := json.Marshal(req.Tx)
	if err != nil {
		return 0, fmt.Errorf("failed to encode transaction: %w", err)
	}

	result, err := s.scripts["adjust"].Run(ctx, s.client,
		[]string{s.accountKey(req.UserID), s.ledgerKey(req.UserID)},
		req.Tx.Amount,
		req.Tx.Timestamp.UTC().Format(time.RFC3339Nano),
		string(txJSON),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("failed to adjust credits: %w", err)
	}

	switch result[0] {
	case -1:
		return 0, credits.ErrAccountNotFound
	case -2:
		return 0, credits.ErrInsufficientCredits
	}
	return int(result[1]), nil
}

// SetPlan implements credits.Storage
func (s *Storage) SetPlan(ctx context.Context, req *credits.PlanChangeRequest) (*credits.Account, error) {
	if req == nil || req.UserID == "" {
		return nil, fmt.Errorf("invalid plan change request")
	}

	modules, err := json.Marshal(req.Modules)
	if err != nil {
		return nil, fmt.Errorf("failed to encode modules: %w", err)
	}
	txJSON := ""
	ts := time.Now().UTC()
	if req.Tx != nil {
		raw, err := json.Marshal(req.Tx)
		if err != nil {
			return nil, fmt.Errorf("failed to encode transaction: %w", err)
		}
		txJSON = string(raw)
		ts = req.Tx.Timestamp
	}

	status, err := s.scripts["setplan"].Run(ctx, s.client,
		[]string{s.accountKey(req.UserID), s.ledgerKey(req.UserID)},
		string(req.Plan),
		string(modules),
		req.Credits,
		encodeExpiry(req.ExpiresAt),
		ts.UTC().Format(time.RFC3339Nano),
		txJSON,
		encodeExpiry(req.IfExpiredBefore),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to set plan: %w", err)
	}
	if status == -1 {
		return nil, credits.ErrAccountNotFound
	}
	// -2: the expiry condition no longer held, account left as stored
	return s.GetAccount(ctx, req.UserID)
}

// AdmitDevice implements credits.Storage
func (s *Storage) AdmitDevice(ctx context.Context, userID, deviceID string, maxDevices int) ([]string, error) {
	result, err := s.scripts["admit"].Run(ctx, s.client,
		[]string{s.accountKey(userID)},
		deviceID,
		maxDevices,
		time.Now().UTC().Format(time.RFC3339Nano),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to admit device: %w", err)
	}

	status, _ := result[0].(int64)
	devices := decodeDeviceList(result[1])

	switch status {
	case -1:
		return nil, credits.ErrAccountNotFound
	case -2:
		return devices, credits.ErrDeviceLimitExceeded
	}
	return devices, nil
}

// ListTransactions implements credits.Storage
func (s *Storage) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*credits.Transaction, error) {
	// LPUSH keeps the ledger newest-first, so a plain range is already
	// ordered by timestamp descending.
	raw, err := s.client.LRange(ctx, s.ledgerKey(userID), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	transactions := make([]*credits.Transaction, 0, len(raw))
	for _, item := range raw {
		var tx credits.Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			return nil, fmt.Errorf("failed to decode transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}
	return transactions, nil
}

// ApplyEvent implements credits.Storage
func (s *Storage) ApplyEvent(ctx context.Context, req *credits.EventApplyRequest) (bool, error) {
	if req == nil || req.EventID == "" {
		return false, fmt.Errorf("invalid event apply request")
	}

	modules, err := json.Marshal(req.Modules)
	if err != nil {
		return false, fmt.Errorf("failed to encode modules: %w", err)
	}
	txJSON := ""
	ts := time.Now().UTC()
	if req.Tx != nil {
		raw, err := json.Marshal(req.Tx)
		if err != nil {
			return false, fmt.Errorf("failed to encode transaction: %w", err)
		}
		txJSON = string(raw)
		ts = req.Tx.Timestamp
	}

	status, err := s.scripts["event"].Run(ctx, s.client,
		[]string{s.accountKey(req.UserID), s.ledgerKey(req.UserID), s.eventKey(req.EventID)},
		string(req.Plan),
		string(modules),
		req.CreditDelta,
		encodeExpiry(req.ExpiresAt),
		ts.UTC().Format(time.RFC3339Nano),
		txJSON,
		int(s.config.EventTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to apply event: %w", err)
	}

	switch status {
	case -1:
		return false, credits.ErrAccountNotFound
	case 0:
		return false, nil
	}
	return true, nil
}

func (s *Storage) accountKey(userID string) string {
	return s.config.KeyPrefix + "account:" + userID
}

func (s *Storage) ledgerKey(userID string) string {
	return s.config.KeyPrefix + "ledger:" + userID
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + "event:" + eventID
}

// encodeExpiry stores plan expiries as unix nanos so the setplan script can
// compare them numerically.
func encodeExpiry(t *time.Time) string {
	if t == nil {
		return ""
	}
	return strconv.FormatInt(t.UnixNano(), 10)
}

func decodeAccount(userID string, data map[string]string) (*credits.Account, error) {
	acct := &credits.Account{UserID: userID}

	if raw := data["credits"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode credits: %w", err)
		}
		acct.Credits = n
	}
	acct.Plan = credits.Plan(data["plan"])

	if raw := data["allowedModules"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &acct.AllowedModules); err != nil {
			return nil, fmt.Errorf("failed to decode modules: %w", err)
		}
	}
	if raw := data["devices"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &acct.Devices); err != nil {
			return nil, fmt.Errorf("failed to decode devices: %w", err)
		}
	}
	if raw := data["planExpiresAt"]; raw != "" {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode expiry: %w", err)
		}
		t := time.Unix(0, nanos).UTC()
		acct.PlanExpiresAt = &t
	}
	if raw := data["createdAt"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			acct.CreatedAt = t
		}
	}
	if raw := data["updatedAt"]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			acct.UpdatedAt = t
		}
	}
	return acct, nil
}

func decodeDeviceList(raw interface{}) []string {
	str, ok := raw.(string)
	if !ok || str == "" || str == "null" {
		return nil
	}
	var devices []string
	if err := json.Unmarshal([]byte(str), &devices); err != nil {
		return nil
	}
	return devices
}
