package dns

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeResponseWriter implements dns.ResponseWriter with a fixed remote
// address, enough to exercise clientIPFromRequest without a live socket.
type fakeResponseWriter struct {
	remote net.Addr
}

func (f *fakeResponseWriter) LocalAddr() net.Addr         { return f.remote }
func (f *fakeResponseWriter) RemoteAddr() net.Addr        { return f.remote }
func (f *fakeResponseWriter) WriteMsg(*dns.Msg) error      { return nil }
func (f *fakeResponseWriter) Write([]byte) (int, error)    { return 0, nil }
func (f *fakeResponseWriter) Close() error                 { return nil }
func (f *fakeResponseWriter) TsigStatus() error            { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)          {}
func (f *fakeResponseWriter) Hijack()                      {}

func TestClientIPFromRequestFallsBackToTransportAddress(t *testing.T) {
	w := &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 5353}}
	m := new(dns.Msg)
	m.SetQuestion("example.formation.cloud.", dns.TypeA)

	ip := clientIPFromRequest(w, m)
	require.NotNil(t, ip)
	assert.Equal(t, "198.51.100.7", ip.String())
}

func TestClientIPFromRequestPrefersECS(t *testing.T) {
	w := &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP("198.51.100.7"), Port: 5353}}
	m := new(dns.Msg)
	m.SetQuestion("example.formation.cloud.", dns.TypeA)
	m.SetEdns0(4096, false)
	opt := m.IsEdns0()
	opt.Option = append(opt.Option, &dns.EDNS0_SUBNET{
		Code:    dns.EDNS0SUBNET,
		Address: net.ParseIP("203.0.113.42"),
	})

	ip := clientIPFromRequest(w, m)
	require.NotNil(t, ip)
	assert.Equal(t, "203.0.113.42", ip.String())
}
