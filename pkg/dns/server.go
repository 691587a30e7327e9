package dns

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/state"
	"github.com/miekg/dns"
)

const (
	// DefaultListenAddr is the standard authoritative DNS address.
	DefaultListenAddr = ":53"

	// DefaultUpstream is the fallback DNS server for non-authoritative queries.
	DefaultUpstream = "8.8.8.8:53"
)

// Server is the authoritative DNS server for replicated zones.
type Server struct {
	resolver *Resolver
	dnsServer *dns.Server
	listenAddr string
	upstream []string
	mu sync.RWMutex
	running bool
}

// Config holds DNS server configuration.
type Config struct {
	ListenAddr string
	Upstream []string
	Health *HealthRepository
	Geo *GeoDnsResolver
}

// NewServer creates a new authoritative DNS server over store's zones.
func NewServer(store *state.Store, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	return &Server{
		resolver: NewResolver(store, config.Upstream, config.Health, config.Geo),
		listenAddr: config.ListenAddr,
		upstream: config.Upstream,
	}
}

// Start starts the DNS server.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	s.mu.Unlock()

	log.WithComponent("dns").Info().Str("address", s.listenAddr).Msg("starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{
		Addr: s.listenAddr,
		Net: "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			log.WithComponent("dns").Error().Err(err).Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		log.WithComponent("dns").Info().Str("address", s.listenAddr).Msg("DNS server started successfully")
		return nil
	}
}

// Stop stops the DNS server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	log.WithComponent("dns").Info().Msg("stopping DNS server")

	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			log.WithComponent("dns").Error().Err(err).Msg("error stopping DNS server")
			return err
		}
	}

	s.running = false
	log.WithComponent("dns").Info().Msg("DNS server stopped")
	return nil
}

// handleDNSQuery handles incoming DNS queries.
func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	clientIP := clientIPFromRequest(w, r)

	for _, q := range r.Question {
		answers, err := s.resolver.Resolve(q.Name, q.Qtype, clientIP)
		if err != nil {
			log.WithComponent("dns").Debug().Err(err).Str("query", q.Name).Msg("not authoritative, forwarding upstream")
			s.forwardQuery(w, r)
			return
		}
		msg.Answer = append(msg.Answer, answers...)
	}

	if err := w.WriteMsg(msg); err != nil {
		log.WithComponent("dns").Error().Err(err).Msg("failed to write DNS response")
	}
}

// clientIPFromRequest prefers an EDNS0 Client Subnet option (set by a
// forwarding recursive resolver on behalf of the original client) and falls
// back to the transport-layer source address.
func clientIPFromRequest(w dns.ResponseWriter, r *dns.Msg) net.IP {
	if opt := r.IsEdns0(); opt != nil {
		for _, o := range opt.Option {
			if subnet, ok := o.(*dns.EDNS0_SUBNET); ok && subnet.Address != nil {
				return subnet.Address
			}
		}
	}
	host, _, err := net.SplitHostPort(w.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// forwardQuery forwards a non-authoritative query to upstream DNS servers.
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			log.WithComponent("dns").Debug().Err(err).Str("upstream", upstream).Msg("failed to forward query")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			log.WithComponent("dns").Error().Err(err).Msg("failed to write forwarded response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		log.WithComponent("dns").Error().Err(err).Msg("failed to write SERVFAIL response")
	}
}

// IsRunning returns true if the DNS server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
