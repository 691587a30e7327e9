package dns

import (
	"fmt"
	"net"
	"strings"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
	"github.com/miekg/dns"
)

// Resolver answers queries against the replicated DNS zone map, filtering
// through a health repository and an optional geo sorter before returning
// records.
type Resolver struct {
	store *state.Store
	upstream []string
	health *HealthRepository
	geo *GeoDnsResolver
}

// NewResolver creates a new DNS resolver over store's replicated zones.
func NewResolver(store *state.Store, upstream []string, health *HealthRepository, geo *GeoDnsResolver) *Resolver {
	if health == nil {
		health = NewHealthRepository()
	}
	return &Resolver{store: store, upstream: upstream, health: health, geo: geo}
}

// Resolve answers a query name for the given record type, optionally
// sorting by proximity to clientIP. It returns an error only when the
// domain isn't an authoritative zone at all; callers forward to upstream on
// error, and SERVFAIL only when upstream itself fails.
func (r *Resolver) Resolve(queryName string, qtype uint16, clientIP net.IP) ([]dns.RR, error) {
	domain := strings.ToLower(strings.TrimSuffix(queryName, "."))

	zone, err := r.store.GetDnsZone(domain)
	if err != nil {
		return nil, fmt.Errorf("not an authoritative zone: %s", domain)
	}

	log.WithComponent("dns.resolver").Debug().Str("domain", domain).Msg("resolving authoritative zone")

	fqdn := r.makeFQDN(domain)

	// Mutually-exclusive A+CNAME: the narrower record wins.
	if zone.RecordType == types.DnsRecordCNAME && zone.CNAMETarget != "" {
		return []dns.RR{&dns.CNAME{
			Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeCNAME, Class: dns.ClassINET, Ttl: zone.TTL},
			Target: r.makeFQDN(zone.CNAMETarget),
		}}, nil
	}

	// An authoritative zone with nothing to offer for this query answers
	// empty rather than erroring, so the server never forwards it upstream.
	if qtype != dns.TypeA && qtype != dns.TypeANY {
		return nil, nil
	}

	ips := r.candidateIPs(*zone)
	if len(ips) == 0 {
		return nil, nil
	}

	ips = r.filterHealthy(ips)
	if r.geo != nil {
		ips = r.geo.SortByProximity(clientIP, ips)
	}

	records := make([]dns.RR, 0, len(ips))
	for _, ip := range ips {
		records = append(records, &dns.A{
			Hdr: dns.RR_Header{Name: fqdn, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: zone.TTL},
			A: ip,
		})
	}
	return records, nil
}

// candidateIPs prefers formnet (overlay) addresses when present, falling
// back to public addresses; both lists carry "host:port"-style entries and
// only the host is used for an A record.
func (r *Resolver) candidateIPs(zone types.DnsZone) []net.IP {
	sockets := zone.FormnetIP
	if len(sockets) == 0 {
		sockets = zone.PublicIP
	}
	ips := make([]net.IP, 0, len(sockets))
	for _, sock := range sockets {
		if ip := parseHostIP(sock); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips
}

func parseHostIP(socket string) net.IP {
	host, _, err := net.SplitHostPort(socket)
	if err != nil {
		host = socket // no port suffix present
	}
	return net.ParseIP(host)
}

// filterHealthy applies the health repository, falling back to the
// unfiltered list when every candidate looks unavailable (availability over
// purity, per the design — never black-hole the service).
func (r *Resolver) filterHealthy(ips []net.IP) []net.IP {
	filtered := r.health.FilterAvailable(ips)
	if len(filtered) == 0 {
		return ips
	}
	return filtered
}

// makeFQDN ensures a name ends with a dot (fully qualified).
func (r *Resolver) makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
