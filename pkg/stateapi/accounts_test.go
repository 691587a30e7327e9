package stateapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func TestAccountCreate(t *testing.T) {
	s, priv, addr := newTestServer(t)

	header := sign(t, priv, "CreateAccountRequest:"+string(addr))
	rec := doJSON(t, s, http.MethodPost, "/account/create", header, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	acct, err := s.store.GetAccount(string(addr))
	require.NoError(t, err)
	assert.Equal(t, string(addr), acct.Address)
}

func TestAccountCreateRejectsMismatchedMessage(t *testing.T) {
	s, priv, addr := newTestServer(t)

	header := sign(t, priv, "CreateAccountRequest:0xsomeoneelse")
	rec := doJSON(t, s, http.MethodPost, "/account/create", header, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.store.GetAccount(string(addr))
	assert.Error(t, err, "state must be unchanged after a rejected request")
}

func TestAccountDeleteRefusedWhileOwningInstances(t *testing.T) {
	s, priv, addr := newTestServer(t)
	header := sign(t, priv, "CreateAccountRequest:"+string(addr))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/account/create", header, nil).Code)

	createHeader := sign(t, priv, "CreateVmRequest:build-1")
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/instance/create", createHeader, map[string]any{
		"build_id": "build-1",
	}).Code)
	acct, err := s.store.GetAccount(string(addr))
	require.NoError(t, err)
	require.Len(t, acct.OwnedInstances, 1)

	delHeader := sign(t, priv, "DeleteAccountRequest:"+string(addr))
	rec := doJSON(t, s, http.MethodPost, "/account/delete", delHeader, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	env := decodeEnvelope(t, rec)
	require.NotNil(t, env.Failure)
	assert.Contains(t, env.Failure.Reason, "owns instances")

	_, err = s.store.GetAccount(string(addr))
	assert.NoError(t, err, "account must still exist after a refused delete")
}

func TestAccountDeleteSucceedsWhenNoOwnedInstances(t *testing.T) {
	s, priv, addr := newTestServer(t)
	header := sign(t, priv, "CreateAccountRequest:"+string(addr))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/account/create", header, nil).Code)

	delHeader := sign(t, priv, "DeleteAccountRequest:"+string(addr))
	rec := doJSON(t, s, http.MethodPost, "/account/delete", delHeader, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := s.store.GetAccount(string(addr))
	assert.Error(t, err)
}

func TestAccountTransferOwnershipRequiresMatchingMessage(t *testing.T) {
	s, priv, addr := newTestServer(t)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/account/create", sign(t, priv, "CreateAccountRequest:"+string(addr)), nil).Code)

	inst := types.Instance{ID: "i1", OwnerAddr: string(addr), Status: types.InstanceBuilding}
	require.NoError(t, state.SelfPut(s.store, s.store.Instances, "instances", state.EntityInstance, inst.ID, inst))
	acct, err := s.store.GetAccount(string(addr))
	require.NoError(t, err)
	acct.OwnedInstances["i1"] = struct{}{}
	require.NoError(t, state.SelfPut(s.store, s.store.Accounts, "accounts", state.EntityAccount, acct.Address, *acct))

	badHeader := sign(t, priv, "TransferOwnershipRequest:wrong-instance")
	rec := doJSON(t, s, http.MethodPost, "/account/transfer-ownership", badHeader, map[string]string{
		"instance_id": "i1",
		"new_owner": "0xnewowner",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	goodHeader := sign(t, priv, "TransferOwnershipRequest:i1")
	rec = doJSON(t, s, http.MethodPost, "/account/transfer-ownership", goodHeader, map[string]string{
		"instance_id": "i1",
		"new_owner": "0xnewowner",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}
