package overlayapi

import (
	"net/http"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/overlay"
)

// relayConnect is the server side of overlay.RelayDialer: a peer that
// exhausted NAT traversal posts a ConnectionRequest here asking this node,
// acting as a relay, to forward to req.TargetPubkey. Accepting only checks
// that this node's WireGuard device already carries a peer entry for the
// target; the actual packet forwarding between the two WireGuard sessions
// is kernel/iptables plumbing out of scope here, the same way VMM device
// wiring is out of scope for the instance lifecycle.
func (s *Server) relayConnect(w http.ResponseWriter, r *http.Request) {
	var req overlay.ConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}

	key, err := wgtypes.ParseKey(req.TargetPubkey)
	if err != nil {
		apierr.WriteSuccess(w, overlay.ConnectionResponse{Success: false, Reason: "malformed target pubkey"})
		return
	}

	peers, err := s.manager.Device().ListPeers()
	if err != nil {
		apierr.WriteSuccess(w, overlay.ConnectionResponse{Success: false, Reason: "relay device unavailable"})
		return
	}
	for _, p := range peers {
		if p.PublicKey == key {
			apierr.WriteSuccess(w, overlay.ConnectionResponse{
				Success:         true,
				BackendEndpoint: s.manager.ExternalEndpoint(),
			})
			return
		}
	}
	apierr.WriteSuccess(w, overlay.ConnectionResponse{Success: false, Reason: "target not reachable via this relay"})
}
