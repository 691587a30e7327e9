package dns

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/types"
)

func TestHealthTrackerPollOnceMarksAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodes := []types.Node{
			{NodeID: "n1", PublicIP: net.ParseIP("203.0.113.1"), Availability: types.NodeAvailability{Status: types.NodeActive}},
			{NodeID: "n2", PublicIP: net.ParseIP("203.0.113.2"), Availability: types.NodeAvailability{Status: types.NodeDown}},
		}
		_ = json.NewEncoder(w).Encode(nodeListEnvelope{Success: nodes})
	}))
	defer srv.Close()

	repo := NewHealthRepository()
	tracker := NewHealthTracker(srv.URL, repo)

	tracker.pollOnce(context.Background())

	assert.True(t, repo.IsAvailable(net.ParseIP("203.0.113.1")))
	assert.False(t, repo.IsAvailable(net.ParseIP("203.0.113.2")))
}

func TestHealthTrackerPollOnceIgnoresTransportFailure(t *testing.T) {
	repo := NewHealthRepository()
	tracker := NewHealthTracker("http://127.0.0.1:1", repo)

	require.NotPanics(t, func() { tracker.pollOnce(context.Background()) })
}
