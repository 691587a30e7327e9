package stateapi

import (
	"net/http"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/state"
)

// registerMergeRoutes exposes the two endpoints peer replication relies on:
// /merge receives a single foreign op, /bootstrap/full_state hands a joining
// replica the whole CRDT state to seed from before it starts tailing ops.
func (s *Server) registerMergeRoutes() {
	s.mux.HandleFunc("POST /merge", s.merge)
	s.mux.HandleFunc("GET /bootstrap/full_state", s.bootstrapFullState)
}

func (s *Server) merge(w http.ResponseWriter, r *http.Request) {
	var env state.Envelope
	if err := decodeJSON(r, &env); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := s.store.Apply(env); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, nil)
}

func (s *Server) bootstrapFullState(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.Snapshot())
}
