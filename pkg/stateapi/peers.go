package stateapi

import (
	"net/http"

	"github.com/cuemby/formation/pkg/apierr"
)

// registerPeerRoutes exposes read-only peer inventory; the join/leave write
// path lives in pkg/overlay (the admin handshake and leave-eviction are
// overlay-specific protocol steps, not generic CRUD).
func (s *Server) registerPeerRoutes() {
	s.mux.HandleFunc("GET /peer/{name}/get", s.peerGet)
	s.mux.HandleFunc("GET /peer/list", s.peerList)
}

func (s *Server) peerGet(w http.ResponseWriter, r *http.Request) {
	peer, err := s.store.GetPeer(r.PathValue("name"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, peer)
}

func (s *Server) peerList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListPeers())
}
