// Package overlayapi exposes the WireGuard join/leave handshake over HTTP,
// mounted on the state API's bind address since it both authenticates via
// the same signature middleware and writes Peer records through the same
// store.
package overlayapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/overlay"
)

type Server struct {
	manager *overlay.Manager
	mw *auth.Middleware
	mux *http.ServeMux
}

func NewServer(manager *overlay.Manager, mw *auth.Middleware) *Server {
	s := &Server{manager: manager, mw: mw, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /peer/join", s.mw.Wrap(s.join))
	s.mux.HandleFunc("POST /peer/leave", s.mw.Wrap(s.leave))
	s.mux.HandleFunc("POST /relay/connect", s.relayConnect)
	return s
}

// Mux exposes the underlying handler so a caller (cmd/formationd) can mount
// it on the same listener as pkg/stateapi.
func (s *Server) Mux() *http.ServeMux { return s.mux }

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindValidation, "malformed request body", err)
	}
	return nil
}

func requestSignature(r *http.Request) (*auth.Signed, error) {
	return auth.ParseHeader(r.Header.Get("Authorization"))
}

func sig65(signed *auth.Signed) []byte {
	sig, err := signed.Signature65()
	if err != nil {
		panic("overlayapi: re-parsing an already-verified signature failed: " + err.Error())
	}
	return sig
}

// requireMessagePrefix binds the signed message to this specific operation
// and peer, the same anti-replay check pkg/stateapi applies to its own
// mutating handlers.
func requireMessagePrefix(signed *auth.Signed, expected string) error {
	if !strings.HasPrefix(string(signed.Message), expected+":") {
		return apierr.ErrMessageMismatch
	}
	return nil
}

// join is the admin side of the bootstrap handshake: the new peer signs its
// own JoinRequest, the admin (an admin peer is just any node whose own Peer
// record has IsAdmin=true) verifies it via the middleware and allocates an
// overlay address.
func (s *Server) join(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req overlay.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "JoinPeerRequest:"+req.PeerID); err != nil {
		apierr.WriteError(w, err)
		return
	}
	cfg, err := s.manager.HandleJoin(addr, req, signed.Message, sig65(signed))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	log.WithPeerID(req.PeerID).Info().Str("assigned_ip", cfg.AssignedIP).Msg("peer joined overlay")
	apierr.WriteSuccess(w, cfg)
}

func (s *Server) leave(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req overlay.LeaveRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "LeavePeerRequest:"+req.PeerName); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := s.manager.HandleLeave(addr, req, signed.Message, sig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	log.WithPeerID(req.PeerName).Info().Bool("forced", req.Forced).Msg("peer left overlay")
	apierr.WriteSuccess(w, nil)
}
