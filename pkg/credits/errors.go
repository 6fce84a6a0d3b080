package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when no account exists for the user
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientCredits is returned when a debit would make the balance negative
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrDeviceLimitExceeded is returned when the account already has the maximum number of devices
	ErrDeviceLimitExceeded = errors.New("device limit exceeded")

	// ErrModuleNotAllowed is returned when the account's plan does not include the requested module
	ErrModuleNotAllowed = errors.New("module not allowed for plan")

	// ErrUnknownPlan is returned for unrecognized plan identifiers
	ErrUnknownPlan = errors.New("unknown plan")

	// ErrInvalidAmount is returned for zero or negative credit amounts
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidUserID is returned for empty or malformed user identifiers
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidFingerprint is returned for an empty device fingerprint
	ErrInvalidFingerprint = errors.New("invalid device fingerprint")

	// ErrMalformedEvent is returned for subscription events missing required fields
	ErrMalformedEvent = errors.New("malformed subscription event")

	// ErrStorageUnavailable is returned when the datastore is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// DeviceLimitError is returned by StartSession and Generate when the device
// cap is hit. It carries the account's current device identifiers so callers
// can surface them for diagnostics. errors.Is matches ErrDeviceLimitExceeded.
type DeviceLimitError struct {
	Devices []string
}

func (e *DeviceLimitError) Error() string {
	return fmt.Sprintf("device limit exceeded (%d active devices)", len(e.Devices))
}

func (e *DeviceLimitError) Is(target error) bool {
	return target == ErrDeviceLimitExceeded
}
