package stateapi

import (
	"net"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func (s *Server) registerNodeRoutes() {
	s.mux.HandleFunc("GET /node/{id}/get", s.nodeGet)
	s.mux.HandleFunc("GET /api/nodes", s.nodeList)
	s.mux.HandleFunc("POST /node/heartbeat", s.mw.Wrap(s.nodeHeartbeat))
}

func (s *Server) nodeGet(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.GetNode(r.PathValue("id"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, node)
}

// nodeList backs the health tracker's 10 s poll of node availability, as
// well as generic node inventory listing.
func (s *Server) nodeList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListNodes())
}

type heartbeatRequest struct {
	PublicIP string `json:"public_ip"`
	Capacity types.NodeCapacity `json:"capacity"`
	Status types.NodeAvailabilityStatus `json:"status"`
	LoadPct int `json:"load_pct"`
}

// nodeHeartbeat is the only write path to a Node record; the invariant
// "only the node whose address equals node_id may write" holds here because
// the key is always the authenticated caller's own address.
func (s *Server) nodeHeartbeat(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	node, err := s.store.GetNode(string(addr))
	if err != nil {
		node = &types.Node{NodeID: string(addr)}
	}
	if req.PublicIP != "" {
		node.PublicIP = net.ParseIP(req.PublicIP)
	}
	node.Capacity = req.Capacity
	node.Availability = types.NodeAvailability{
		Status: req.Status,
		LoadPct: req.LoadPct,
		LastHeartbeat: time.Now(),
	}

	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "NodeHeartbeatRequest:"+string(addr)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.PutSigned(s.store, s.store.Nodes, "nodes", state.EntityNode, string(addr), *node, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, node)
}
