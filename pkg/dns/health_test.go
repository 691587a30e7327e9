package dns

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthRepositoryUnknownIPAvailableByDefault(t *testing.T) {
	repo := NewHealthRepository()
	ip := net.ParseIP("192.168.1.1")
	assert.True(t, repo.IsAvailable(ip))
}

func TestHealthRepositoryMarkUnavailable(t *testing.T) {
	repo := NewHealthRepository()
	ip := net.ParseIP("192.168.1.2")
	repo.MarkUnavailable(ip, "node reported inactive")
	assert.False(t, repo.IsAvailable(ip))
}

func TestHealthRepositoryMarkAvailableClearsUnavailable(t *testing.T) {
	repo := NewHealthRepository()
	ip := net.ParseIP("192.168.1.3")
	repo.MarkUnavailable(ip, "down")
	repo.MarkAvailable(ip)
	assert.True(t, repo.IsAvailable(ip))
}

func TestHealthRepositoryFilterAvailable(t *testing.T) {
	repo := NewHealthRepository()
	healthy := net.ParseIP("10.0.0.1")
	unhealthy := net.ParseIP("10.0.0.2")
	unknown := net.ParseIP("10.0.0.3")
	repo.MarkAvailable(healthy)
	repo.MarkUnavailable(unhealthy, "test")

	filtered := repo.FilterAvailable([]net.IP{healthy, unhealthy, unknown})
	assert.ElementsMatch(t, []net.IP{healthy, unknown}, filtered)
}

func TestHealthRepositoryClearStale(t *testing.T) {
	repo := NewHealthRepository()
	ip := net.ParseIP("10.0.0.4")
	repo.MarkUnavailable(ip, "test")
	assert.False(t, repo.IsAvailable(ip))

	repo.ClearStale(time.Hour)
	assert.False(t, repo.IsAvailable(ip), "not stale yet, should remain unavailable")

	repo.ClearStale(0)
	assert.True(t, repo.IsAvailable(ip), "stale entry should be cleared back to default-available")
}
