package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State store metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_nodes_total",
			Help: "Total number of operator nodes by availability status",
		},
		[]string{"status"},
	)

	InstancesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_instances_total",
			Help: "Total number of instances by status",
		},
		[]string{"status"},
	)

	AccountsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formation_accounts_total",
			Help: "Total number of registered accounts",
		},
	)

	DnsZonesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "formation_dns_zones_total",
			Help: "Total number of replicated DNS zones",
		},
	)

	// CRDT convergence metrics, tracking merge health now that there is no
	// leader or replicated log.
	CRDTOpsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_crdt_ops_applied_total",
			Help: "Total number of CRDT ops integrated, by map and kind",
		},
		[]string{"map", "kind"},
	)

	CRDTOpsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_crdt_ops_rejected_total",
			Help: "Total number of CRDT ops dropped by signature or dominance check",
		},
		[]string{"map", "reason"},
	)

	CRDTOpsDeferred = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_crdt_ops_deferred",
			Help: "Number of ops currently buffered awaiting a causal gap to close, by map",
		},
		[]string{"map"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "formation_api_request_duration_seconds",
			Help: "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_auth_failures_total",
			Help: "Total number of authentication failures by kind",
		},
		[]string{"kind"},
	)

	// Queue metrics
	QueueMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_queue_messages_total",
			Help: "Total number of messages enqueued by topic",
		},
		[]string{"topic"},
	)

	QueueBroadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "formation_queue_broadcast_duration_seconds",
			Help: "Time taken to fan an op out to all admin peers",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueBroadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formation_queue_broadcast_failures_total",
			Help: "Total number of peer broadcast attempts that failed",
		},
	)

	// Overlay metrics
	OverlayPeersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_overlay_peers_total",
			Help: "Total number of overlay peers by connection state",
		},
		[]string{"state"},
	)

	NATTraversalAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formation_nat_traversal_attempts_total",
			Help: "Total number of NAT traversal candidate steps attempted",
		},
	)

	RelayFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "formation_relay_fallbacks_total",
			Help: "Total number of times a peer connection fell back to a relay",
		},
	)

	// DNS metrics
	DnsQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "formation_dns_queries_total",
			Help: "Total number of DNS queries by record type and result",
		},
		[]string{"qtype", "result"},
	)

	DnsQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "formation_dns_query_duration_seconds",
			Help: "DNS query resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"qtype"},
	)

	DnsHealthyTargets = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "formation_dns_healthy_targets",
			Help: "Number of currently health-passing targets per domain",
		},
		[]string{"domain"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(AccountsTotal)
	prometheus.MustRegister(DnsZonesTotal)
	prometheus.MustRegister(CRDTOpsApplied)
	prometheus.MustRegister(CRDTOpsRejected)
	prometheus.MustRegister(CRDTOpsDeferred)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(AuthFailuresTotal)
	prometheus.MustRegister(QueueMessagesTotal)
	prometheus.MustRegister(QueueBroadcastDuration)
	prometheus.MustRegister(QueueBroadcastFailures)
	prometheus.MustRegister(OverlayPeersTotal)
	prometheus.MustRegister(NATTraversalAttempts)
	prometheus.MustRegister(RelayFallbacksTotal)
	prometheus.MustRegister(DnsQueriesTotal)
	prometheus.MustRegister(DnsQueryDuration)
	prometheus.MustRegister(DnsHealthyTargets)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
