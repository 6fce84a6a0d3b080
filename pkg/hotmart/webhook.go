package hotmart

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// webhookPayload covers the payload shapes Hotmart has shipped over time.
// Older webhook versions put fields at the top level; v2 nests everything
// under "data". All fields are optional here; resolution happens in the
// accessor methods below.
type webhookPayload struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Event        string    `json:"event"`
	Type         string    `json:"type"`
	Email        string    `json:"email"`
	Plan         string    `json:"plan"`
	CreationDate int64     `json:"creation_date"`
	Buyer        buyerInfo `json:"buyer"`
	User         buyerInfo `json:"user"`
	Subscriber   buyerInfo `json:"subscriber"`

	Data struct {
		Buyer    buyerInfo `json:"buyer"`
		Purchase struct {
			Transaction  string `json:"transaction"`
			ApprovedDate int64  `json:"approved_date"`
		} `json:"purchase"`
		Subscription struct {
			Plan struct {
				Name string `json:"name"`
			} `json:"plan"`
		} `json:"subscription"`
		Product struct {
			Name string `json:"name"`
		} `json:"product"`
	} `json:"data"`
}

type buyerInfo struct {
	Email string `json:"email"`
}

// parseWebhookPayload parses the webhook JSON payload. Unknown fields are
// tolerated: Hotmart adds fields without versioning the endpoint.
func parseWebhookPayload(body []byte, payload *webhookPayload) error {
	if err := json.Unmarshal(body, payload); err != nil {
		return fmt.Errorf("failed to parse webhook payload: %w", err)
	}
	return nil
}

// email resolves the buyer email across known payload shapes
func (p *webhookPayload) email() string {
	for _, candidate := range []string{
		p.Data.Buyer.Email,
		p.Buyer.Email,
		p.Email,
		p.User.Email,
		p.Subscriber.Email,
	} {
		if e := strings.TrimSpace(candidate); e != "" {
			return strings.ToLower(e)
		}
	}
	return ""
}

// eventType returns the normalized event name
func (p *webhookPayload) eventType() string {
	raw := p.Event
	if raw == "" {
		raw = p.Type
	}
	return normalizeEventType(raw)
}

// normalizeEventType maps Hotmart event name variants onto the two names
// the credit service understands. Unknown events pass through lowercased
// so the service can log what it ignored.
func normalizeEventType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "purchase.approved", "purchase_approved", "approved", "purchase_complete":
		return "approved"
	case "subscription_cancellation", "subscription_canceled", "purchase_canceled",
		"purchase.canceled", "canceled", "cancelled":
		return "canceled"
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// planName resolves the purchased plan name, empty when absent
func (p *webhookPayload) planName() string {
	for _, candidate := range []string{
		p.Data.Subscription.Plan.Name,
		p.Plan,
		p.Data.Product.Name,
	} {
		if name := strings.TrimSpace(candidate); name != "" {
			return name
		}
	}
	return ""
}

// eventID returns a stable identifier for deduplication. When the payload
// carries no usable id the body hash stands in, which still collapses exact
// retries of the same delivery.
func (p *webhookPayload) eventID(body []byte) string {
	for _, candidate := range []string{p.ID, p.EventID, p.Data.Purchase.Transaction} {
		if id := strings.TrimSpace(candidate); id != "" {
			return id
		}
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// occurredAt returns the event timestamp, falling back to now
func (p *webhookPayload) occurredAt() time.Time {
	for _, ms := range []int64{p.CreationDate, p.Data.Purchase.ApprovedDate} {
		if ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}
