package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/types"
)

func newRequestWithSignature(t *testing.T, op string, at time.Time) (*http.Request, Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := AddressFromPrivate(priv)
	message := []byte(fmt.Sprintf("%s:%d", op, at.Unix()))
	header, err := BuildHeader(priv, message)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/instance/delete", nil)
	req.Header.Set("Authorization", header)
	return req, addr
}

func TestMiddlewareWrapAuthenticatesSignedRequest(t *testing.T) {
	mw := NewMiddleware(NewKeyStore())
	req, expected := newRequestWithSignature(t, "DeleteVmRequest:i1", time.Now())

	var got Address
	handler := mw.Wrap(func(addr Address, w http.ResponseWriter, r *http.Request) {
		got = addr
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, expected, got)
}

func TestMiddlewareWrapRejectsMissingAuth(t *testing.T) {
	mw := NewMiddleware(NewKeyStore())
	req := httptest.NewRequest(http.MethodPost, "/instance/delete", nil)

	called := false
	handler := mw.Wrap(func(addr Address, w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareWrapAcceptsValidAPIKeyWhenNoSignature(t *testing.T) {
	keys := NewKeyStore()
	key := keys.Issue("0xabc", types.APIKeyReadWrite, nil, nil)
	mw := NewMiddleware(keys)

	req := httptest.NewRequest(http.MethodPost, "/instance/delete", nil)
	req.Header.Set("X-Api-Key", key.ID)

	var got Address
	handler := mw.Wrap(func(addr Address, w http.ResponseWriter, r *http.Request) {
		got = addr
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Address("0xabc"), got)
}

func TestMiddlewareWrapRejectsRevokedAPIKey(t *testing.T) {
	keys := NewKeyStore()
	key := keys.Issue("0xabc", types.APIKeyReadWrite, nil, nil)
	require.NoError(t, keys.Revoke(key.ID))
	mw := NewMiddleware(keys)

	req := httptest.NewRequest(http.MethodPost, "/instance/delete", nil)
	req.Header.Set("X-Api-Key", key.ID)

	handler := mw.Wrap(func(addr Address, w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a revoked key")
	})

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareWrapSignatureIgnoresAPIKey(t *testing.T) {
	keys := NewKeyStore()
	key := keys.Issue("0xabc", types.APIKeyReadWrite, nil, nil)
	mw := NewMiddleware(keys)

	req, signer := newRequestWithSignature(t, "DeleteVmRequest:i1", time.Now())
	req.Header.Set("X-Api-Key", key.ID)

	var got Address
	handler := mw.Wrap(func(addr Address, w http.ResponseWriter, r *http.Request) {
		got = addr
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, signer, got)
	assert.NotEqual(t, Address("0xabc"), got)
}
