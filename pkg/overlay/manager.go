package overlay

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

// Manager ties the WireGuard device, NAT stepper, and relay registry to the
// replicated peer/CIDR records, hosting storage and background subsystems
// side by side under one owning struct.
type Manager struct {
	store *state.Store
	device *Device
	stepper *Stepper
	relays *RelayRegistry
	dialer RelayDialer

	externalEndpoint string
	internalEndpoint string
	relayCaps RelayCapability
	region string
}

func NewManager(store *state.Store, device *Device, dialer RelayDialer, externalEndpoint, internalEndpoint, region string, relayCaps RelayCapability) *Manager {
	m := &Manager{
		store: store,
		device: device,
		stepper: NewStepper(device),
		relays: NewRelayRegistry(0),
		dialer: dialer,
		externalEndpoint: externalEndpoint,
		internalEndpoint: internalEndpoint,
		relayCaps: relayCaps,
		region: region,
	}
	m.stepper.OnExhausted(m.fallbackToRelay)
	return m
}

// fallbackToRelay runs when direct traversal exhausts a peer's candidates
// without a handshake: select a relay satisfying relayCaps, open a
// ConnectionRequest, and on success retarget the peer's WireGuard endpoint
// to the relayed backend.
func (m *Manager) fallbackToRelay(pubkey wgtypes.Key) {
	if m.dialer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout*relayMaxAttempts)
	defer cancel()

	backend, err := m.relays.Connect(ctx, m.dialer, pubkey.String(), "", m.relayCaps, m.region)
	if err != nil {
		logger().Warn().Str("peer", pubkey.String()).Err(err).Msg("relay fallback failed")
		return
	}
	addr, err := net.ResolveUDPAddr("udp", backend)
	if err != nil {
		logger().Warn().Str("backend", backend).Err(err).Msg("relay fallback: unresolvable backend")
		return
	}
	if err := m.device.SetEndpoint(pubkey, addr); err != nil {
		logger().Warn().Err(err).Msg("relay fallback: failed to retarget peer to relay backend")
	}
}

// HandleJoin implements the admin side of the join protocol.
// The caller is the joining peer itself: joiner signs its own bootstrap
// request, so the middleware recovers joiner's address and the resulting
// Peer record is authored by joiner, exactly like an Account authoring its
// own record. This node (whichever admin peer received the HTTP request)
// only performs the allocation and reports its own identity back as the
// server side of the new WireGuard link.
func (m *Manager) HandleJoin(joiner auth.Address, req JoinRequest, payload, signature []byte) (*InterfaceConfig, error) {
	if req.PeerID != "" && req.PeerID != string(joiner) {
		return nil, apierr.New(apierr.KindValidation, "peer_id must match the signing identity")
	}

	root, err := m.store.GetCIDR(state.RootCIDRName)
	if err != nil {
		return nil, err
	}

	existing := make([]net.IP, 0)
	for _, p := range m.store.ListPeers() {
		if p.CIDRID == root.Name && p.IP != nil {
			existing = append(existing, p.IP)
		}
	}
	ip, err := AllocateIP(root.IPNet, existing)
	if err != nil {
		return nil, err
	}

	peer := types.Peer{
		Name: string(joiner),
		PublicKey: req.PublicKey,
		IP: ip,
		CIDRID: root.Name,
		IsAdmin: false,
		IsRedeemed: false,
		InviteExpires: time.Now().Add(InviteTTL),
	}
	for _, ep := range req.ReportedEndpoints {
		peer.PushCandidate(ep)
	}

	if err := state.PutSigned(m.store, m.store.Peers, "peers", state.EntityPeer, peer.Name, peer, joiner, payload, signature); err != nil {
		return nil, err
	}

	self, err := m.store.GetPeer(string(m.store.NodeAddress()))
	if err != nil {
		return nil, apierr.New(apierr.KindInternal, "this admin node has no own peer record")
	}

	return &InterfaceConfig{
		InterfaceName: InterfaceName,
		AssignedIP: fmt.Sprintf("%s/32", ip),
		ServerPublicKey: self.PublicKey,
		ServerExternalEndpoint: m.externalEndpoint,
		ServerInternalEndpoint: m.internalEndpoint,
	}, nil
}

// ConfirmRedeemed marks a peer's record redeemed once its interface is
// confirmed up (step 3 of the join protocol). The admin signs this update
// itself: the new peer has no way to author an op before it can reach the
// state API over the overlay it is still bringing up.
func (m *Manager) ConfirmRedeemed(peerName string) error {
	peer, err := m.store.GetPeer(peerName)
	if err != nil {
		return err
	}
	peer.IsRedeemed = true
	return state.SelfPut(m.store, m.store.Peers, "peers", state.EntityPeer, peer.Name, *peer)
}

// HandleLeave marks a peer disabled and evicts it from the kernel
// interface; the record itself is retained so its allocation is not
// immediately reused.
func (m *Manager) HandleLeave(caller auth.Address, req LeaveRequest, payload, signature []byte) error {
	peer, err := m.store.GetPeer(req.PeerName)
	if err != nil {
		return err
	}
	if req.Forced {
		admin, err := m.store.GetPeer(string(caller))
		if err != nil || !admin.IsAdmin || admin.IsDisabled {
			return apierr.New(apierr.KindAuthorization, "a forced leave must be signed by a current admin peer")
		}
	} else if string(caller) != peer.Name {
		return apierr.New(apierr.KindAuthorization, "only the peer itself or an admin may leave on its behalf")
	}
	peer.IsDisabled = true
	if err := state.PutSigned(m.store, m.store.Peers, "peers", state.EntityPeer, peer.Name, *peer, caller, payload, signature); err != nil {
		return err
	}
	if key, err := wgtypes.ParseKey(peer.PublicKey); err == nil {
		_ = m.device.RemovePeer(key) // best effort; next refresh reconciles if this fails
	}
	m.stepper.Untrack(mustParseKey(peer.PublicKey))
	return nil
}

func mustParseKey(b64 string) wgtypes.Key {
	k, err := wgtypes.ParseKey(b64)
	if err != nil {
		return wgtypes.Key{}
	}
	return k
}

// Run launches the heartbeat/endpoint-refresh loop and the NAT stepper as
// sibling goroutines under one errgroup, one goroutine per long-running
// subsystem.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.runHeartbeat(gctx) })
	g.Go(func() error { return m.stepper.Run(gctx) })
	return g.Wait()
}

// runHeartbeat scans the kernel interface every RefreshInterval; any peer
// whose live endpoint differs from its stored one gets the new endpoint
// recorded, and the NAT stepper is retargeted with each peer's current
// candidate list.
func (m *Manager) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refreshOnce()
		}
	}
}

func (m *Manager) refreshOnce() {
	livePeers, err := m.device.ListPeers()
	if err != nil {
		logger().Warn().Err(err).Msg("heartbeat: failed to list interface peers")
		return
	}
	liveByKey := make(map[wgtypes.Key]Peer, len(livePeers))
	for _, lp := range livePeers {
		liveByKey[lp.PublicKey] = lp
	}

	for _, stored := range m.store.ListPeers() {
		if stored.IsDisabled {
			continue
		}
		key, err := wgtypes.ParseKey(stored.PublicKey)
		if err != nil {
			continue
		}
		live, onInterface := liveByKey[key]
		if !onInterface {
			m.stepper.Untrack(key)
			continue
		}
		if !stored.IsRedeemed && recentlyConnected(live.LastHandshake) {
			if err := m.ConfirmRedeemed(stored.Name); err != nil {
				logger().Warn().Err(err).Str("peer", stored.Name).Msg("heartbeat: failed to mark peer redeemed")
			}
		}
		if live.Endpoint != nil && live.Endpoint.String() != stored.Endpoint {
			stored.Endpoint = live.Endpoint.String()
			stored.PushCandidate(live.Endpoint.String())
			if err := state.SelfPut(m.store, m.store.Peers, "peers", state.EntityPeer, stored.Name, stored); err != nil {
				logger().Warn().Err(err).Str("peer", stored.Name).Msg("heartbeat: failed to persist new endpoint")
			}
		}
		if !recentlyConnected(live.LastHandshake) {
			candidateEndpoints := make([]string, 0, len(stored.Candidates))
			for _, c := range stored.Candidates {
				candidateEndpoints = append(candidateEndpoints, c.Endpoint)
			}
			m.stepper.Track(key, stored.Endpoint, candidateEndpoints)
		}
	}
}

// Relays exposes the relay registry so a STUN auto-detect pass at startup
// can decide whether to keep relay selection active.
func (m *Manager) Relays() *RelayRegistry { return m.relays }

// ExternalEndpoint returns the endpoint this node advertises to peers,
// consulted by the relay-connect handler when this node accepts a
// ConnectionRequest on another relay's behalf.
func (m *Manager) ExternalEndpoint() string { return m.externalEndpoint }

// Device exposes the underlying WireGuard device so overlayapi's relay
// handler can check whether a target peer already has a live session
// through this node before accepting a relay request for it.
func (m *Manager) Device() *Device { return m.device }
