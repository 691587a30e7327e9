/*
Package dns provides the authoritative, health- and geo-aware DNS resolver
for domains registered in the replicated state store.

# Architecture

	┌────────────────────────────────────────────────────────────┐
	│                         DNS Server                          │
	│  listens on :53 (UDP), authoritative for replicated zones   │
	└─────────────────────────┬────────────────────────────────────┘
	                          │
	          ┌───────────────┼────────────────┐
	          ▼               ▼                ▼
	    Zone lookup     Health filter      Geo sort
	   (state.Store)  (HealthRepository) (GeoDnsResolver)
	          │               │                │
	          └───────────────┴────────────────┘
	                          ▼
	                  Answer returned, or
	                  forwarded upstream if
	                  the name isn't ours

# Resolution flow

A query for a domain not present in the zone map is forwarded unchanged to
the configured upstream resolvers; a domain present in the zone map is
answered authoritatively, never forwarded. Authoritative answers go through
two independent filters before leaving the resolver:

 1. Health filtering. The zone's candidate addresses are checked against a
    HealthRepository, a map of IP to Available/Unavailable kept current by a
    HealthTracker polling the state API's node inventory every ten seconds.
    An address this repository has never heard of is available by default,
    and if every candidate looks unavailable the resolver serves the
    unfiltered list anyway rather than returning an empty answer.

 2. Geo sorting. If a MaxMind GeoIP2 City database is configured, surviving
    candidates are ordered by Haversine distance to the querying client,
    using one of four distance-weight strategies (linear, quadratic,
    logarithmic, stepped) and an optional same-region bias that pulls
    candidates sharing the client's country and region code toward the
    front. A missing database or an unresolvable client IP disables sorting
    silently; it never fails the query.

# Zone records

A zone is either an A-record zone (one or more formnet or public socket
addresses) or a CNAME delegation; the two are mutually exclusive; a zone
record carrying both is treated as a CNAME, the narrower of the two. TTL
defaults to 60 seconds for bootstrap-assigned domains and 300 seconds for
user-registered ones, set at zone-write time in pkg/stateapi.

# Client IP discovery

The resolver prefers an EDNS0 Client Subnet option when a recursive
forwarder sets one on the client's behalf, falling back to the UDP source
address otherwise. Geo sorting simply degrades to an unsorted answer when
neither is available.

# Failure semantics

Upstream forwarding failure returns SERVFAIL; a configured zone is never
forwarded even if it is momentarily unreachable by the underlying state
store, since the zone map itself is the answer of record.
*/
package dns
