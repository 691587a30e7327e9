package overlay

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

func TestAllocateIPReturnsFirstFreeHost(t *testing.T) {
	ip, err := AllocateIP("10.0.0.0/30", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", ip.String())
}

func TestAllocateIPSkipsTaken(t *testing.T) {
	existing := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	ip, err := AllocateIP("10.0.0.0/29", existing)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", ip.String())
}

func TestAllocateIPSkipsNetworkAndBroadcast(t *testing.T) {
	ip, err := AllocateIP("10.0.0.0/30", []net.IP{net.ParseIP("10.0.0.1")})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", ip.String())
}

func TestAllocateIPExhausted(t *testing.T) {
	existing := []net.IP{net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2")}
	_, err := AllocateIP("10.0.0.0/30", existing)
	assert.Error(t, err)
}

func TestCandidateSetServerEndpointTriedLast(t *testing.T) {
	cs := newCandidateSet(wgtypes.Key{}, "server:51820", []string{"a:1", "b:2"})
	first, ok := cs.pop()
	require.True(t, ok)
	assert.Equal(t, "b:2", first)
	second, ok := cs.pop()
	require.True(t, ok)
	assert.Equal(t, "a:1", second)
	third, ok := cs.pop()
	require.True(t, ok)
	assert.Equal(t, "server:51820", third, "server-reported endpoint is tried last")
	_, ok = cs.pop()
	assert.False(t, ok)
}

func TestRelayCapabilitySatisfies(t *testing.T) {
	caps := RelayCapForward | RelayCapIPv6
	assert.True(t, caps.Satisfies(RelayCapForward))
	assert.False(t, caps.Satisfies(RelayCapTURN))
}

func TestRelayRegistrySelectsLowestLatencyInRegion(t *testing.T) {
	reg := NewRelayRegistry(0)
	reg.Publish(RelayNodeInfo{PublicKey: "far", Region: "us-east", Caps: RelayCapForward, Latency: 50 * time.Millisecond})
	reg.Publish(RelayNodeInfo{PublicKey: "near", Region: "us-east", Caps: RelayCapForward, Latency: 5 * time.Millisecond})
	reg.Publish(RelayNodeInfo{PublicKey: "wrong-region", Region: "eu-west", Caps: RelayCapForward, Latency: time.Millisecond})

	best, err := reg.Select(RelayCapForward, "us-east")
	require.NoError(t, err)
	assert.Equal(t, "near", best.PublicKey)
}

func TestRelayRegistrySkipsUnreliable(t *testing.T) {
	reg := NewRelayRegistry(0)
	reg.Publish(RelayNodeInfo{PublicKey: "flaky", Caps: RelayCapForward})
	for i := 0; i < unreliableAfter; i++ {
		reg.RecordFailure("flaky")
	}
	_, err := reg.Select(RelayCapForward, "")
	assert.Error(t, err)
}

func TestRelayRegistryEvictsLeastRecentlySeen(t *testing.T) {
	reg := NewRelayRegistry(2)
	reg.Publish(RelayNodeInfo{PublicKey: "a"})
	reg.Publish(RelayNodeInfo{PublicKey: "b"})
	reg.Publish(RelayNodeInfo{PublicKey: "c"})

	reg.mu.RLock()
	_, hasA := reg.relays["a"]
	_, hasC := reg.relays["c"]
	reg.mu.RUnlock()
	assert.False(t, hasA, "oldest relay should be evicted once over soft cap")
	assert.True(t, hasC)
}

type fakeDialer struct {
	resp ConnectionResponse
	err  error
}

func (f fakeDialer) Dial(ctx context.Context, relay RelayNodeInfo, req ConnectionRequest) (ConnectionResponse, error) {
	return f.resp, f.err
}

func TestRelayConnectCachesDecision(t *testing.T) {
	reg := NewRelayRegistry(0)
	reg.Publish(RelayNodeInfo{PublicKey: "r1", Caps: RelayCapForward})
	dialer := fakeDialer{resp: ConnectionResponse{Success: true, BackendEndpoint: "1.2.3.4:9999"}}

	backend, err := reg.Connect(context.Background(), dialer, "target-pubkey", "tok", RelayCapForward, "")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4:9999", backend)

	cached, ok := reg.CachedDecision("target-pubkey")
	require.True(t, ok)
	assert.Equal(t, "r1", cached)
}

func TestNatTypeRequiresRelay(t *testing.T) {
	assert.False(t, NatOpen.RequiresRelay())
	assert.False(t, NatSimple.RequiresRelay())
	assert.True(t, NatSymmetric.RequiresRelay())
	assert.True(t, NatUnknown.RequiresRelay())
}

func TestDetectNatTypeUnknownWithoutServers(t *testing.T) {
	assert.Equal(t, NatUnknown, DetectNatType(nil))
	assert.Equal(t, NatUnknown, DetectNatType([]string{"only-one:3478"}))
}
