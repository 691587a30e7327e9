package stateapi

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/events"
	"github.com/cuemby/formation/pkg/state"
)

func newTestServer(t *testing.T) (*Server, *ecdsa.PrivateKey, auth.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	store, err := state.New(t.TempDir(), key, events.NewBroker())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mw := auth.NewMiddleware(auth.NewKeyStore())
	s := NewServer(store, mw)

	callerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := auth.AddressFromPrivate(callerKey)
	return s, callerKey, addr
}

// sign builds the Authorization header for op (without its timestamp
// suffix, which is appended here) using priv.
func sign(t *testing.T, priv *ecdsa.PrivateKey, op string) string {
	t.Helper()
	message := []byte(fmt.Sprintf("%s:%d", op, time.Now().Unix()))
	header, err := auth.BuildHeader(priv, message)
	require.NoError(t, err)
	return header
}

func doJSON(t *testing.T, s *Server, method, path, authHeader string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(b))
	}
	req := httptest.NewRequest(method, path, r)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success json.RawMessage `json:"Success"`
	Failure *struct {
		Reason string `json:"reason"`
	} `json:"Failure"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

// newSigner returns a second, unrelated keypair/address, for tests that
// need a caller distinct from the server's default test caller.
func newSigner(t *testing.T) (*ecdsa.PrivateKey, auth.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return priv, auth.AddressFromPrivate(priv)
}

