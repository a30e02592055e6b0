package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// transactionsBegunTotal counts begin calls that reached the backend.
	// Labels: backend
	transactionsBegunTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcoord_transactions_begun_total",
			Help: "Total number of transactions begun through a driver control",
		},
		[]string{"backend"},
	)

	// transactionsCompletedTotal counts completion cycles.
	// Labels: backend, outcome
	transactionsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcoord_transactions_completed_total",
			Help: "Total number of transaction completion cycles by outcome",
		},
		[]string{"backend", "outcome"},
	)

	synchronizationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcoord_synchronization_failures_total",
			Help: "Total number of synchronization fan-outs aborted by a failing listener",
		},
		[]string{"phase"},
	)

	connectionAcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcoord_connection_acquisitions_total",
			Help: "Total number of physical connection acquisition attempts",
		},
		[]string{"status"},
	)

	connectionReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txcoord_connection_releases_total",
			Help: "Total number of physical connection releases by trigger",
		},
		[]string{"trigger", "status"},
	)

	physicalConnectionsHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "txcoord_physical_connections_held",
			Help: "Current number of physical connections held by logical connections",
		},
	)

	sessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "txcoord_sessions_open",
			Help: "Current number of open sessions",
		},
	)
)

func transactionCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		transactionsBegunTotal,
		transactionsCompletedTotal,
		synchronizationFailuresTotal,
		connectionAcquisitionsTotal,
		connectionReleasesTotal,
		physicalConnectionsHeld,
		sessionsOpen,
	}
}

// RecordTransactionBegin counts a begin against backend.
func RecordTransactionBegin(backend string) {
	transactionsBegunTotal.WithLabelValues(normalizeLabel(backend)).Inc()
}

// RecordTransactionCompletion counts a completion cycle with its outcome.
func RecordTransactionCompletion(backend string, successful bool) {
	outcome := "rolled_back"
	if successful {
		outcome = "committed"
	}
	transactionsCompletedTotal.WithLabelValues(normalizeLabel(backend), outcome).Inc()
}

// RecordSynchronizationFailure counts an aborted before/after fan-out.
func RecordSynchronizationFailure(phase string) {
	synchronizationFailuresTotal.WithLabelValues(normalizeLabel(phase)).Inc()
}

// RecordConnectionAcquisition counts an acquisition attempt. Successful acquisitions also
// raise the held-connections gauge.
func RecordConnectionAcquisition(err error) {
	if err != nil {
		connectionAcquisitionsTotal.WithLabelValues("error").Inc()
		return
	}
	connectionAcquisitionsTotal.WithLabelValues("success").Inc()
	physicalConnectionsHeld.Inc()
}

// RecordConnectionRelease counts a release for trigger (after_statement, after_transaction,
// close). The held gauge drops even when the provider reports an error, since the logical
// connection forgets the handle either way.
func RecordConnectionRelease(trigger string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	connectionReleasesTotal.WithLabelValues(normalizeLabel(trigger), status).Inc()
	physicalConnectionsHeld.Dec()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// RecordSessionOpened raises the open sessions gauge.
func RecordSessionOpened() {
	sessionsOpen.Inc()
}

// RecordSessionClosed lowers the open sessions gauge.
func RecordSessionClosed() {
	sessionsOpen.Dec()
}
