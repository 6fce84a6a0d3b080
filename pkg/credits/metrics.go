package credits

import "time"

// Metrics defines the interface for tracking ledger operations.
type Metrics interface {
	// RecordConsumption records a credit consumption attempt.
	RecordConsumption(plan Plan, module string, amount int, success bool)

	// RecordGrant records a credit grant.
	RecordGrant(source TxSource, amount int)

	// RecordDeviceAdmission records a device admission attempt.
	RecordDeviceAdmission(admitted bool)

	// RecordSubscriptionEvent records a processed subscription event.
	// status: "applied", "duplicate" or "ignored".
	RecordSubscriptionEvent(eventType, status string)

	// RecordStorageOperation records the duration and status of a storage operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordConsumption(plan Plan, module string, amount int, success bool)     {}
func (n *NoopMetrics) RecordGrant(source TxSource, amount int)                                  {}
func (n *NoopMetrics) RecordDeviceAdmission(admitted bool)                                      {}
func (n *NoopMetrics) RecordSubscriptionEvent(eventType, status string)                         {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
}
