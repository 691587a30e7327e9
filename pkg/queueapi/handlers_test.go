package queueapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/queue"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	db, err := bolt.Open(t.TempDir()+"/queue.db", 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := queue.NewStore(db, key, auth.CRDTVerifier{})
	s := NewServer(store)
	ts := httptest.NewServer(s.mux)
	t.Cleanup(ts.Close)
	return s, ts
}

type envelope struct {
	Success json.RawMessage `json:"Success"`
	Failure *struct {
		Reason string `json:"reason"`
	} `json:"Failure"`
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWriteLocalThenReadRoundTrips(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/queue/write_local", writeLocalRequest{Topic: "vmm", Content: []byte("create vm 1")})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(ts.URL + "/queue/vmm/get")
	require.NoError(t, err)
	defer getResp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&env))
	require.NotNil(t, env.Success)

	var msgs []queue.Message
	require.NoError(t, json.Unmarshal(env.Success, &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("create vm 1"), msgs[0].Content)
}

func TestWriteOpAppliesForeignMessage(t *testing.T) {
	_, tsA := newTestServer(t)
	_, tsB := newTestServer(t)

	resp := postJSON(t, tsA.URL+"/queue/write_local", writeLocalRequest{Topic: "t", Content: []byte("hello")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getResp, err := http.Get(tsA.URL + "/queue/t/get")
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.NewDecoder(getResp.Body).Decode(&env))
	getResp.Body.Close()
	var msgs []queue.Message
	require.NoError(t, json.Unmarshal(env.Success, &msgs))
	require.Len(t, msgs, 1)

	resp = postJSON(t, tsB.URL+"/queue/write_op", writeOpRequest{Topic: "t", Message: msgs[0]})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getResp2, err := http.Get(tsB.URL + "/queue/t/get")
	require.NoError(t, err)
	defer getResp2.Body.Close()
	var env2 envelope
	require.NoError(t, json.NewDecoder(getResp2.Body).Decode(&env2))
	var msgs2 []queue.Message
	require.NoError(t, json.Unmarshal(env2.Success, &msgs2))
	require.Len(t, msgs2, 1)
	assert.Equal(t, msgs[0].Hash, msgs2[0].Hash)
}

func TestReadNAndReadAfter(t *testing.T) {
	_, ts := newTestServer(t)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/queue/write_local", writeLocalRequest{Topic: "t", Content: []byte{byte(i)}})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	nResp, err := http.Get(ts.URL + "/queue/t/2/get_n")
	require.NoError(t, err)
	defer nResp.Body.Close()
	var nEnv envelope
	require.NoError(t, json.NewDecoder(nResp.Body).Decode(&nEnv))
	var nMsgs []queue.Message
	require.NoError(t, json.Unmarshal(nEnv.Success, &nMsgs))
	assert.Len(t, nMsgs, 2)

	afterResp, err := http.Get(ts.URL + "/queue/t/0/get_after")
	require.NoError(t, err)
	defer afterResp.Body.Close()
	var afterEnv envelope
	require.NoError(t, json.NewDecoder(afterResp.Body).Decode(&afterEnv))
	var afterMsgs []queue.Message
	require.NoError(t, json.Unmarshal(afterEnv.Success, &afterMsgs))
	assert.Len(t, afterMsgs, 2)
}

func TestDumpReturnsEveryTopic(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/queue/write_local", writeLocalRequest{Topic: "a", Content: []byte("x")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = postJSON(t, ts.URL+"/queue/write_local", writeLocalRequest{Topic: "b", Content: []byte("y")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	dumpResp, err := http.Get(ts.URL + "/queue/get")
	require.NoError(t, err)
	defer dumpResp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(dumpResp.Body).Decode(&env))
	var dump map[string][]queue.Message
	require.NoError(t, json.Unmarshal(env.Success, &dump))
	assert.Len(t, dump, 2)
	assert.Len(t, dump["a"], 1)
	assert.Len(t, dump["b"], 1)
}

func TestReadNRejectsNonIntegerN(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/queue/t/notanumber/get_n")
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.NotNil(t, env.Failure)
	assert.NotEmpty(t, env.Failure.Reason)
}
