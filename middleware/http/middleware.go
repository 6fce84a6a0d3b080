// Package http provides HTTP middleware that charges credits per request.
// Use it to gate endpoints whose cost should come out of the caller's
// balance without routing through the generation gateway.
package http

import (
	"errors"
	"net/http"

	"github.com/travelmundo/credits/pkg/credits"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// CostExtractor calculates the credit cost of the request
type CostExtractor func(r *http.Request) (int, error)

// Config holds middleware configuration
type Config struct {
	// Service is the credit service instance (required)
	Service *credits.Service

	// GetUserID extracts the user ID from the request (required)
	GetUserID UserIDExtractor

	// GetCost calculates the credit cost of the request.
	// Default: every request costs 1 credit.
	GetCost CostExtractor

	// Reason is recorded on the ledger entry (default: request path)
	Reason string

	// OnInsufficientCredits is called when the balance cannot cover the cost.
	// If nil, returns 402 Payment Required.
	OnInsufficientCredits func(w http.ResponseWriter, r *http.Request)

	// OnUnauthorized is called when no user ID is present.
	// If nil, returns 401 Unauthorized.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called on other failures.
	// If nil, returns 500 Internal Server Error.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that debits credits before the
// wrapped handler runs. The debit is not refunded if the handler fails;
// endpoints needing refund semantics should charge after their work instead.
func Middleware(config Config) func(http.Handler) http.Handler {
	getCost := config.GetCost
	if getCost == nil {
		getCost = FixedCost(1)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			cost, err := getCost(r)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Bad Request", http.StatusBadRequest)
				}
				return
			}
			if cost <= 0 {
				// Free request, nothing to charge
				next.ServeHTTP(w, r)
				return
			}

			reason := config.Reason
			if reason == "" {
				reason = r.URL.Path
			}

			_, err = config.Service.ConsumeCredits(r.Context(), userID, cost, reason)
			if err != nil {
				switch {
				case errors.Is(err, credits.ErrInsufficientCredits),
					errors.Is(err, credits.ErrAccountNotFound):
					if config.OnInsufficientCredits != nil {
						config.OnInsufficientCredits(w, r)
					} else {
						http.Error(w, "Insufficient credits", http.StatusPaymentRequired)
					}
				default:
					if config.OnError != nil {
						config.OnError(w, r, err)
					} else {
						http.Error(w, "Internal Server Error", http.StatusInternalServerError)
					}
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates the middleware in http.HandlerFunc form
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// Common extractors for convenience

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that reads the request context
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FixedCost returns a CostExtractor that always charges the same amount
func FixedCost(cost int) CostExtractor {
	return func(r *http.Request) (int, error) {
		return cost, nil
	}
}
