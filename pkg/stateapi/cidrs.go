package stateapi

import (
	"net/http"

	"github.com/cuemby/formation/pkg/apierr"
)

func (s *Server) registerCIDRRoutes() {
	s.mux.HandleFunc("GET /cidr/{name}/get", s.cidrGet)
	s.mux.HandleFunc("GET /cidr/list", s.cidrList)
}

func (s *Server) cidrGet(w http.ResponseWriter, r *http.Request) {
	cidr, err := s.store.GetCIDR(r.PathValue("name"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, cidr)
}

func (s *Server) cidrList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListCIDRs())
}
