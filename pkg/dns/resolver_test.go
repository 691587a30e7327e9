package dns

import (
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/events"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	s, err := state.New(t.TempDir(), key, events.NewBroker())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func putZone(t *testing.T, s *state.Store, zone types.DnsZone) {
	t.Helper()
	require.NoError(t, state.SelfPut(s, s.DnsZones, "dns_zones", state.EntityDnsZone, zone.Domain, zone))
}

func TestResolveARecordReturnsHealthyAddresses(t *testing.T) {
	s := newTestStore(t)
	putZone(t, s, types.DnsZone{
		Domain:     "api.formation.cloud",
		RecordType: types.DnsRecordA,
		PublicIP:   []string{"203.0.113.1:80", "203.0.113.2:80"},
		TTL:        types.UserTTL,
	})

	r := NewResolver(s, nil, nil, nil)
	records, err := r.Resolve("api.formation.cloud.", dns.TypeA, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)

	a, ok := records[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, uint32(types.UserTTL), a.Hdr.Ttl)
}

func TestResolveFiltersUnhealthyButNeverBlackholes(t *testing.T) {
	s := newTestStore(t)
	putZone(t, s, types.DnsZone{
		Domain:     "web.formation.cloud",
		RecordType: types.DnsRecordA,
		PublicIP:   []string{"203.0.113.1:80", "203.0.113.2:80"},
		TTL:        types.UserTTL,
	})

	health := NewHealthRepository()
	health.MarkUnavailable(net.ParseIP("203.0.113.1"), "node down")

	r := NewResolver(s, nil, health, nil)
	records, err := r.Resolve("web.formation.cloud", dns.TypeA, nil)
	require.NoError(t, err)
	require.Len(t, records, 1, "unhealthy candidate filtered out")

	health.MarkUnavailable(net.ParseIP("203.0.113.2"), "also down")
	records, err = r.Resolve("web.formation.cloud", dns.TypeA, nil)
	require.NoError(t, err)
	require.Len(t, records, 2, "all unhealthy falls back to unfiltered list")
}

func TestResolveCNAMEWinsOverAWhenBothPresent(t *testing.T) {
	s := newTestStore(t)
	putZone(t, s, types.DnsZone{
		Domain:      "alias.formation.cloud",
		RecordType:  types.DnsRecordCNAME,
		CNAMETarget: "api.formation.cloud",
		PublicIP:    []string{"203.0.113.1:80"},
		TTL:         types.UserTTL,
	})

	r := NewResolver(s, nil, nil, nil)
	records, err := r.Resolve("alias.formation.cloud", dns.TypeA, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	cname, ok := records[0].(*dns.CNAME)
	require.True(t, ok, "mutually exclusive A+CNAME resolves to the narrower CNAME")
	require.Equal(t, "api.formation.cloud.", cname.Target)
}

func TestResolveUnknownDomainErrors(t *testing.T) {
	s := newTestStore(t)
	r := NewResolver(s, nil, nil, nil)
	_, err := r.Resolve("nowhere.example.", dns.TypeA, nil)
	require.Error(t, err)
}

func TestResolvePrefersFormnetOverPublic(t *testing.T) {
	s := newTestStore(t)
	putZone(t, s, types.DnsZone{
		Domain:     "internal.formation.cloud",
		RecordType: types.DnsRecordA,
		PublicIP:   []string{"203.0.113.1:80"},
		FormnetIP:  []string{"10.8.0.5:80"},
		TTL:        types.BootstrapTTL,
	})

	r := NewResolver(s, nil, nil, nil)
	records, err := r.Resolve("internal.formation.cloud", dns.TypeA, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	a := records[0].(*dns.A)
	require.Equal(t, "10.8.0.5", a.A.String())
	require.Equal(t, uint32(types.BootstrapTTL), a.Hdr.Ttl)
}
