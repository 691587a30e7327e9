package stateapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDnsRequestVanityAndDelete(t *testing.T) {
	s, priv, _ := newTestServer(t)

	domain := "build-1.example.com"
	header := sign(t, priv, "RequestVanityDnsRequest:"+domain)
	rec := doJSON(t, s, http.MethodPost, "/dns/example.com/build-1/request_vanity", header, map[string]any{
		"formnet_ip": []string{"10.0.0.5"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	zone, err := s.store.GetDnsZone(domain)
	require.NoError(t, err)
	assert.Equal(t, domain, zone.Domain)

	delHeader := sign(t, priv, "DeleteRecordRequest:"+domain)
	rec = doJSON(t, s, http.MethodPost, "/record/"+domain+"/delete", delHeader, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = s.store.GetDnsZone(domain)
	assert.Error(t, err)
}

func TestDnsRecordDeleteRejectsMismatchedMessage(t *testing.T) {
	s, priv, _ := newTestServer(t)

	domain := "build-1.example.com"
	header := sign(t, priv, "RequestVanityDnsRequest:"+domain)
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/dns/example.com/build-1/request_vanity", header, map[string]any{
		"formnet_ip": []string{"10.0.0.5"},
	}).Code)

	badHeader := sign(t, priv, "DeleteRecordRequest:some-other-domain")
	rec := doJSON(t, s, http.MethodPost, "/record/"+domain+"/delete", badHeader, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.store.GetDnsZone(domain)
	assert.NoError(t, err, "zone must survive a rejected delete")
}
