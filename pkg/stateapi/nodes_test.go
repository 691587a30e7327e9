package stateapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/types"
)

func TestNodeHeartbeatCreatesNodeRecord(t *testing.T) {
	s, priv, addr := newTestServer(t)

	header := sign(t, priv, "NodeHeartbeatRequest:"+string(addr))
	rec := doJSON(t, s, http.MethodPost, "/node/heartbeat", header, map[string]any{
		"public_ip": "203.0.113.9",
		"capacity": types.NodeCapacity{VCPUs: 8, MemMB: 16384, DiskGB: 200},
		"status": types.NodeActive,
		"load_pct": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	node, err := s.store.GetNode(string(addr))
	require.NoError(t, err)
	assert.Equal(t, types.NodeActive, node.Availability.Status)
}

func TestNodeHeartbeatRejectsMismatchedMessage(t *testing.T) {
	s, priv, addr := newTestServer(t)

	header := sign(t, priv, "NodeHeartbeatRequest:0xsomeoneelse")
	rec := doJSON(t, s, http.MethodPost, "/node/heartbeat", header, map[string]any{
		"status": types.NodeActive,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.store.GetNode(string(addr))
	assert.Error(t, err, "heartbeat must not write state when the message is bound to a different address")
}
