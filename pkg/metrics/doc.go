/*
Package metrics provides Prometheus metrics collection and exposition for a
Formation node.

All metrics are package-level variables registered at init(); callers update
them directly or via the Timer helper, and the HTTP handler is mounted at
/metrics by cmd/formationd's ambient health server.

# Metrics catalog

State store:
 - formation_nodes_total{status}, formation_instances_total{status},
 formation_accounts_total, formation_dns_zones_total: point-in-time
 counts of each replicated entity.
 - formation_crdt_ops_applied_total{map,kind},
 formation_crdt_ops_rejected_total{map,reason},
 formation_crdt_ops_deferred{map}: CRDT convergence health, tracked in
 place of leader/log-index gauges now that there is no leader or
 replicated log.

API and auth:
 - formation_api_requests_total{method,status},
 formation_api_request_duration_seconds{method}.
 - formation_auth_failures_total{kind}: counts by apierr.Kind.

Queue:
 - formation_queue_messages_total{topic},
 formation_queue_broadcast_duration_seconds,
 formation_queue_broadcast_failures_total.

Overlay:
 - formation_overlay_peers_total{state}, formation_nat_traversal_attempts_total,
 formation_relay_fallbacks_total.

DNS:
 - formation_dns_queries_total{qtype,result},
 formation_dns_query_duration_seconds{qtype},
 formation_dns_healthy_targets{domain}.

# Usage

	timer := metrics.NewTimer()
	err := store.Apply(op)
	timer.ObserveDurationVec(metrics.APIRequestDuration, "merge")
	if err != nil {
		metrics.CRDTOpsRejected.WithLabelValues("instance", "signature").Inc()
	}
*/
package metrics
