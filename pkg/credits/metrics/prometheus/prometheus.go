package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/travelmundo/credits/pkg/credits"
)

// Metrics implements credits.Metrics using Prometheus.
type Metrics struct {
	consumptionTotal       *prometheus.CounterVec
	consumptionAmount      *prometheus.HistogramVec
	grantsTotal            *prometheus.CounterVec
	deviceAdmissionsTotal  *prometheus.CounterVec
	subscriptionEventTotal *prometheus.CounterVec
	storageOpsDuration     *prometheus.HistogramVec
	storageOpsErrors       *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		consumptionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_consumption_total",
			Help:      "Total number of credit consumption attempts.",
		}, []string{"plan", "module", "success"}),

		consumptionAmount: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "credit_consumption_amount",
			Help:      "Distribution of credit consumption amounts.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50},
		}, []string{"plan", "module"}),

		grantsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_grants_total",
			Help:      "Total number of credits granted.",
		}, []string{"source"}),

		deviceAdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_admissions_total",
			Help:      "Total number of device admission attempts.",
		}, []string{"admitted"}),

		subscriptionEventTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_events_total",
			Help:      "Total number of processed subscription events.",
		}, []string{"event", "status"}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of storage operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of storage operation errors.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordConsumption(plan credits.Plan, module string, amount int, success bool) {
	m.consumptionTotal.WithLabelValues(string(plan), module, strconv.FormatBool(success)).Inc()
	if success {
		m.consumptionAmount.WithLabelValues(string(plan), module).Observe(float64(amount))
	}
}

func (m *Metrics) RecordGrant(source credits.TxSource, amount int) {
	m.grantsTotal.WithLabelValues(string(source)).Add(float64(amount))
}

func (m *Metrics) RecordDeviceAdmission(admitted bool) {
	m.deviceAdmissionsTotal.WithLabelValues(strconv.FormatBool(admitted)).Inc()
}

func (m *Metrics) RecordSubscriptionEvent(eventType, status string) {
	m.subscriptionEventTotal.WithLabelValues(eventType, status).Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}
