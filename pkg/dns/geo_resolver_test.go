package dns

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeoDnsResolverDisabledIsNoop(t *testing.T) {
	r := NewGeoDnsResolver(GeoResolverConfig{Enabled: false})
	ips := []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}

	sorted := r.SortByProximity(net.ParseIP("8.8.8.8"), ips)
	assert.Equal(t, ips, sorted)
}

func TestGeoDnsResolverMissingDatabaseDegradesSilently(t *testing.T) {
	r := NewGeoDnsResolver(GeoResolverConfig{Enabled: true, DBPath: "/nonexistent/GeoLite2-City.mmdb"})
	ips := []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}

	sorted := r.SortByProximity(net.ParseIP("8.8.8.8"), ips)
	assert.Equal(t, ips, sorted)
}

func TestGeoDnsResolverSingleCandidateIsNoop(t *testing.T) {
	r := NewGeoDnsResolver(GeoResolverConfig{Enabled: false})
	ips := []net.IP{net.ParseIP("1.1.1.1")}

	sorted := r.SortByProximity(net.ParseIP("8.8.8.8"), ips)
	assert.Equal(t, ips, sorted)
}

func TestGeoDnsResolverNilClientIPIsNoop(t *testing.T) {
	r := NewGeoDnsResolver(GeoResolverConfig{Enabled: false})
	ips := []net.IP{net.ParseIP("1.1.1.1"), net.ParseIP("2.2.2.2")}

	sorted := r.SortByProximity(nil, ips)
	assert.Equal(t, ips, sorted)
}
