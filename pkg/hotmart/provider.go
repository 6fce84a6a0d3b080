// Package hotmart receives and reconciles Hotmart payment webhooks into the
// credit ledger. Deliveries are authenticated with the account hottok shared
// secret and deduplicated by event id, so Hotmart's at-least-once retries are
// safe to replay.
package hotmart

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/travelmundo/credits/pkg/credits"
	"github.com/travelmundo/credits/pkg/hotmart/internal"
)

const (
	providerName = "hotmart"

	// HottokHeader carries the shared secret Hotmart sends with every delivery
	HottokHeader = "X-Hotmart-Hottok"

	defaultMaxBodyBytes      = 256 * 1024
	defaultRateLimitRequests = 100
	defaultRateLimitWindow   = time.Minute
)

// Config holds Hotmart provider configuration
type Config struct {
	// Service applies reconciled events to accounts (required)
	Service *credits.Service

	// Secret is the hottok shared secret. An empty secret disables the
	// endpoint: deliveries are rejected with 503 rather than accepted
	// unauthenticated.
	Secret string

	// PlanMapping maps Hotmart plan/product names (case-insensitive) to
	// internal plan names. Unmapped names pass through as-is.
	PlanMapping map[string]string

	// MaxBodyBytes caps the webhook payload size (default: 256KB)
	MaxBodyBytes int64

	// RateLimit is the max deliveries per client IP per RateLimitWindow
	// (default: 100/minute)
	RateLimit       int
	RateLimitWindow time.Duration

	Logger  credits.Logger
	Metrics credits.Metrics
}

// Provider receives Hotmart webhook deliveries
type Provider struct {
	service     *credits.Service
	secret      []byte
	planMapping map[string]string
	maxBody     int64
	rateLimiter *internal.RateLimiter
	logger      credits.Logger
	metrics     credits.Metrics
}

// NewProvider creates a new Hotmart webhook provider
func NewProvider(config Config) (*Provider, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("credit service is required")
	}

	secret := strings.TrimSpace(config.Secret)
	if strings.HasPrefix(strings.ToLower(secret), "bearer ") {
		secret = strings.TrimSpace(secret[len("bearer "):])
	}

	planMapping := make(map[string]string, len(config.PlanMapping))
	for k, v := range config.PlanMapping {
		planMapping[strings.ToLower(strings.TrimSpace(k))] = v
	}

	maxBody := config.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	limit := config.RateLimit
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := config.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	logger := config.Logger
	if logger == nil {
		logger = &credits.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &credits.NoopMetrics{}
	}

	return &Provider{
		service:     config.Service,
		secret:      []byte(secret),
		planMapping: planMapping,
		maxBody:     maxBody,
		rateLimiter: internal.NewRateLimiter(limit, window),
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Hotmart webhook deliveries
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.secret) == 0 {
		p.logger.Warn("webhook rejected: no secret configured")
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := p.readBody(w, r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
		}
		p.metrics.RecordSubscriptionEvent("unknown", "rejected")
		return
	}

	if !p.verifyToken(r) {
		p.logger.Warn("webhook rejected: bad token",
			credits.Field{Key: "ip", Value: internal.ClientIP(r)})
		p.metrics.RecordSubscriptionEvent("unknown", "unauthorized")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload webhookPayload
	if err := parseWebhookPayload(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordSubscriptionEvent("unknown", "rejected")
		return
	}

	email := payload.email()
	if email == "" {
		p.logger.Warn("webhook rejected: no buyer email",
			credits.Field{Key: "event", Value: payload.eventType()})
		http.Error(w, "missing buyer email", http.StatusBadRequest)
		p.metrics.RecordSubscriptionEvent(payload.eventType(), "rejected")
		return
	}

	evt := &credits.SubscriptionEvent{
		ID:         payload.eventID(body),
		Type:       payload.eventType(),
		Email:      email,
		Plan:       p.mapPlan(payload.planName()),
		OccurredAt: payload.occurredAt(),
	}

	result, err := p.service.ApplySubscriptionEvent(r.Context(), evt)
	if err != nil {
		if errors.Is(err, credits.ErrMalformedEvent) {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		p.logger.Error("webhook processing failed",
			credits.Field{Key: "error", Value: err.Error()},
			credits.Field{Key: "event_id", Value: evt.ID},
			credits.Field{Key: "event", Value: evt.Type})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	p.logger.Info("webhook processed",
		credits.Field{Key: "event_id", Value: evt.ID},
		credits.Field{Key: "event", Value: evt.Type},
		credits.Field{Key: "applied", Value: result.Applied})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Client disconnects after the status line are not actionable
	_, _ = fmt.Fprintf(w, `{"received":true,"applied":%t}`, result.Applied)
}

var errBodyTooLarge = errors.New("payload too large")

func (p *Provider) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, p.maxBody)
	defer func() {
		_ = r.Body.Close()
	}()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

// verifyToken checks the hottok in constant time. Hotmart sends it in the
// X-Hotmart-Hottok header; a Bearer Authorization header is accepted too.
func (p *Provider) verifyToken(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get(HottokHeader))
	if token == "" {
		auth := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			token = strings.TrimSpace(auth[len("bearer "):])
		} else {
			token = auth
		}
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), p.secret) == 1
}

// mapPlan translates a Hotmart plan/product name to an internal plan name
func (p *Provider) mapPlan(name string) string {
	if name == "" {
		return ""
	}
	if mapped, ok := p.planMapping[strings.ToLower(name)]; ok {
		return mapped
	}
	return name
}
