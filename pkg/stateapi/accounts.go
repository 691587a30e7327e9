package stateapi

import (
	"net/http"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func (s *Server) registerAccountRoutes() {
	s.mux.HandleFunc("GET /account/{addr}/get", s.accountGet)
	s.mux.HandleFunc("GET /account/list", s.accountList)
	s.mux.HandleFunc("POST /account/create", s.mw.Wrap(s.accountCreate))
	s.mux.HandleFunc("POST /account/transfer-ownership", s.mw.Wrap(s.accountTransferOwnership))
	s.mux.HandleFunc("POST /account/delete", s.mw.Wrap(s.accountDelete))
}

func (s *Server) accountGet(w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(r.PathValue("addr"))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, acct)
}

func (s *Server) accountList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListAccounts())
}

// accountCreate registers the caller's own address as a new self-sovereign
// account; no request body is required since the address is derivable from
// the authenticating signature itself.
func (s *Server) accountCreate(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "CreateAccountRequest:"+string(addr)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	acct := types.NewAccount(string(addr))
	if err := state.PutSigned(s.store, s.store.Accounts, "accounts", state.EntityAccount, string(addr), *acct, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, acct)
}

type transferOwnershipRequest struct {
	InstanceID string `json:"instance_id"`
	NewOwner string `json:"new_owner"`
}

// accountTransferOwnership moves an instance from the caller's
// owned_instances to new_owner's, requiring Owner-level authorization on
// the instance being moved.
func (s *Server) accountTransferOwnership(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req transferOwnershipRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	inst, err := s.store.GetInstance(req.InstanceID)
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
	if err := requireMessagePrefix(signed, "TransferOwnershipRequest:"+req.InstanceID); err != nil {
		apierr.WriteError(w, err)
		return
	}
	sig := mustSig65(signed)

	fromAcct, err := s.store.GetAccount(inst.OwnerAddr)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	delete(fromAcct.OwnedInstances, inst.ID)
	if err := state.PutSigned(s.store, s.store.Accounts, "accounts", state.EntityAccount, fromAcct.Address, *fromAcct, addr, signed.Message, sig); err != nil {
		apierr.WriteError(w, err)
		return
	}

	toAcct, err := s.store.GetAccount(req.NewOwner)
	if err != nil {
		toAcct = types.NewAccount(req.NewOwner)
	}
	toAcct.OwnedInstances[inst.ID] = struct{}{}
	if err := state.PutSigned(s.store, s.store.Accounts, "accounts", state.EntityAccount, toAcct.Address, *toAcct, addr, signed.Message, sig); err != nil {
		apierr.WriteError(w, err)
		return
	}

	inst.OwnerAddr = req.NewOwner
	if err := state.PutSigned(s.store, s.store.Instances, "instances", state.EntityInstance, inst.ID, *inst, addr, signed.Message, sig); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, inst)
}

// accountDelete removes the caller's own account. An account that still owns
// any instance must have every instance transferred or deleted first; this
// rejects with Conflict rather than leaving orphaned owned_instances behind.
func (s *Server) accountDelete(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	acct, err := s.store.GetAccount(string(addr))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if len(acct.OwnedInstances) > 0 {
		apierr.WriteError(w, apierr.New(apierr.KindConflict, "account still owns instances"))
		return
	}

	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "DeleteAccountRequest:"+string(addr)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.RmSigned(s.store, s.store.Accounts, "accounts", state.EntityAccount, []string{string(addr)}, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, nil)
}
