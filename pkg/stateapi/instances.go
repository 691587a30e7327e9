package stateapi

import (
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func (s *Server) registerInstanceRoutes() {
	s.mux.HandleFunc("GET /instance/{id}/get", s.instanceGet)
	s.mux.HandleFunc("GET /instance/{build_id}/get_by_build_id", s.instanceGetByBuildID)
	s.mux.HandleFunc("GET /instance/list", s.instanceList)
	s.mux.HandleFunc("GET /instance/list_by_owner", s.instanceListByOwner)
	s.mux.HandleFunc("POST /instance/create", s.mw.Wrap(s.instanceCreate))
	s.mux.HandleFunc("POST /instance/update", s.mw.Wrap(s.instanceUpdate))
	s.mux.HandleFunc("POST /instance/delete", s.mw.Wrap(s.instanceDelete))
}

func (s *Server) instanceGet(w http.ResponseWriter, r *http.Request) {
	inst, err := s.store.GetInstance(r.PathValue("id"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, inst)
}

func (s *Server) instanceGetByBuildID(w http.ResponseWriter, r *http.Request) {
	buildID := r.PathValue("build_id")
	for _, inst := range s.store.ListInstances() {
		if inst.BuildID == buildID {
			apierr.WriteSuccess(w, inst)
			return
		}
	}
	apierr.WriteError(w, apierr.New(apierr.KindNotFound, "no instance with that build id"))
}

func (s *Server) instanceList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListInstances())
}

func (s *Server) instanceListByOwner(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListInstancesByOwner(r.URL.Query().Get("owner")))
}

type createInstanceRequest struct {
	BuildID    string                  `json:"build_id"`
	Resources  types.InstanceResources `json:"resources"`
	HostRegion string                  `json:"host_region"`
}

func (s *Server) instanceCreate(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "CreateVmRequest:"+req.BuildID); err != nil {
		apierr.WriteError(w, err)
		return
	}
	sig := mustSig65(signed)

	now := time.Now()
	inst := types.Instance{
		ID:         uuid.NewString(),
		OwnerAddr:  string(addr),
		BuildID:    req.BuildID,
		Status:     types.InstanceBuilding,
		Resources:  req.Resources,
		HostRegion: req.HostRegion,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := state.PutSigned(s.store, s.store.Instances, "instances", state.EntityInstance, inst.ID, inst, addr, signed.Message, sig); err != nil {
		apierr.WriteError(w, err)
		return
	}

	acct, err := s.store.GetAccount(string(addr))
	if err != nil {
		acct = types.NewAccount(string(addr))
	}
	acct.OwnedInstances[inst.ID] = struct{}{}
	if err := state.PutSigned(s.store, s.store.Accounts, "accounts", state.EntityAccount, acct.Address, *acct, addr, signed.Message, sig); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, inst)
}

type updateInstanceRequest struct {
	ID         string               `json:"id"`
	Status     types.InstanceStatus `json:"status,omitempty"`
	HostNodeID string               `json:"host_node_id,omitempty"`
	FormnetIP  string               `json:"formnet_ip,omitempty"`
}

func (s *Server) instanceUpdate(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req updateInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	inst, err := s.store.GetInstance(req.ID)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := auth.Authorize(s.store, addr, inst.OwnerAddr, inst.ID, types.AuthLevelOperator); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.Status != "" {
		if !types.ValidStatusTransition(inst.Status, req.Status) {
			apierr.WriteError(w, apierr.New(apierr.KindValidation, "invalid instance status transition"))
			return
		}
		inst.Status = req.Status
	}
	if req.HostNodeID != "" {
		inst.HostNodeID = req.HostNodeID
	}
	if req.FormnetIP != "" {
		inst.FormnetIP = net.ParseIP(req.FormnetIP)
	}
	inst.UpdatedAt = time.Now()

	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "UpdateVmRequest:"+req.ID); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.PutSigned(s.store, s.store.Instances, "instances", state.EntityInstance, inst.ID, *inst, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, inst)
}

type deleteInstanceRequest struct {
	ID string `json:"id"`
}

func (s *Server) instanceDelete(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req deleteInstanceRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	inst, err := s.store.GetInstance(req.ID)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := auth.Authorize(s.store, addr, inst.OwnerAddr, inst.ID, types.AuthLevelOwner); err != nil {
		apierr.WriteError(w, err)
		return
	}
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "DeleteVmRequest:"+req.ID); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.RmSigned(s.store, s.store.Instances, "instances", state.EntityInstance, []string{inst.ID}, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	log.WithInstanceID(inst.ID).Info().Str("owner", inst.OwnerAddr).Msg("instance deleted")
	apierr.WriteSuccess(w, nil)
}
