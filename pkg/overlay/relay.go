package overlay

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/formation/pkg/apierr"
)

// RelayCapability is a bitmask of services a relay node advertises.
type RelayCapability uint32

const (
	RelayCapForward RelayCapability = 1 << iota
	RelayCapTURN
	RelayCapIPv6
)

func (c RelayCapability) Satisfies(required RelayCapability) bool {
	return c&required == required
}

// RelayNodeInfo describes one relay candidate, per the design.
type RelayNodeInfo struct {
	PublicKey string
	Endpoints []string
	Region string
	Caps RelayCapability
	Latency time.Duration
	Load float64
	Reliability float64

	failures int
}

// unreliableAfter is the failure count past which a relay is skipped
// entirely until it succeeds again.
const unreliableAfter = 3

// RelayRegistry holds known relays, queryable by capability and region, and
// soft-capped with least-recently-seen eviction.
type RelayRegistry struct {
	mu sync.RWMutex
	relays map[string]*RelayNodeInfo // keyed by pubkey
	seen map[string]time.Time
	decided map[string]string // peer pubkey -> chosen relay pubkey (decision cache)
	cap int
}

func NewRelayRegistry(softCap int) *RelayRegistry {
	if softCap <= 0 {
		softCap = 64
	}
	return &RelayRegistry{
		relays: make(map[string]*RelayNodeInfo),
		seen: make(map[string]time.Time),
		decided: make(map[string]string),
		cap: softCap,
	}
}

// Publish registers or refreshes a relay's advertisement.
func (r *RelayRegistry) Publish(info RelayNodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[info.PublicKey] = &info
	r.seen[info.PublicKey] = time.Now()
	if len(r.relays) > r.cap {
		r.evictLRU()
	}
}

func (r *RelayRegistry) evictLRU() {
	var oldestKey string
	var oldestAt time.Time
	for k, t := range r.seen {
		if oldestKey == "" || t.Before(oldestAt) {
			oldestKey, oldestAt = k, t
		}
	}
	if oldestKey != "" {
		delete(r.relays, oldestKey)
		delete(r.seen, oldestKey)
	}
}

// RecordFailure deprioritizes a relay; after unreliableAfter consecutive
// failures it is skipped by Select until it succeeds.
func (r *RelayRegistry) RecordFailure(pubkey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.relays[pubkey]; ok {
		info.failures++
	}
}

// RecordSuccess clears a relay's failure count.
func (r *RelayRegistry) RecordSuccess(pubkey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.relays[pubkey]; ok {
		info.failures = 0
	}
}

// Select picks the best relay satisfying required capabilities, preferring
// region match, then lowest latency. Unreliable relays are excluded.
func (r *RelayRegistry) Select(required RelayCapability, region string) (RelayNodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *RelayNodeInfo
	for _, info := range r.relays {
		if info.failures >= unreliableAfter {
			continue
		}
		if !info.Caps.Satisfies(required) {
			continue
		}
		if best == nil {
			best = info
			continue
		}
		bestRegionMatch := best.Region == region
		infoRegionMatch := info.Region == region
		switch {
		case infoRegionMatch && !bestRegionMatch:
			best = info
		case infoRegionMatch == bestRegionMatch && info.Latency < best.Latency:
			best = info
		}
	}
	if best == nil {
		return RelayNodeInfo{}, apierr.New(apierr.KindNotFound, "no relay satisfies required capabilities")
	}
	return *best, nil
}

// CachedDecision returns a previously chosen relay for peerPubkey, if any.
func (r *RelayRegistry) CachedDecision(peerPubkey string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relay, ok := r.decided[peerPubkey]
	return relay, ok
}

func (r *RelayRegistry) cacheDecision(peerPubkey, relayPubkey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decided[peerPubkey] = relayPubkey
}

// ConnectionRequest is sent to a chosen relay to request a tunneled backend
// for targetPubkey.
type ConnectionRequest struct {
	TargetPubkey string `json:"target_pubkey"`
	Nonce string `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
	AuthToken string `json:"auth_token"`
}

// ConnectionResponse is the relay's reply; only Success carries a backend
// endpoint to install.
type ConnectionResponse struct {
	Success bool `json:"success"`
	BackendEndpoint string `json:"backend_endpoint,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// connectionTimeout bounds a relay handshake; relayMaxAttempts bounds retry
// with back-off.
const (
	connectionTimeout = 5 * time.Second
	relayMaxAttempts = 3
)

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RelayDialer opens a ConnectionRequest/ConnectionResponse exchange with a
// relay; implementations carry the actual transport (HTTP, in production
// code, over the relay's advertised endpoint).
type RelayDialer interface {
	Dial(ctx context.Context, relay RelayNodeInfo, req ConnectionRequest) (ConnectionResponse, error)
}

// Connect selects a relay satisfying required/region for targetPubkey,
// retries up to relayMaxAttempts with linear back-off, and returns the
// backend endpoint to install as the peer's WireGuard endpoint.
func (r *RelayRegistry) Connect(ctx context.Context, dialer RelayDialer, targetPubkey, authToken string, required RelayCapability, region string) (string, error) {
	if cached, ok := r.CachedDecision(targetPubkey); ok {
		if info, err := r.relayByPubkey(cached); err == nil {
			if endpoint, err := r.attempt(ctx, dialer, info, targetPubkey, authToken); err == nil {
				return endpoint, nil
			}
		}
	}

	relay, err := r.Select(required, region)
	if err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt < relayMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		endpoint, err := r.attempt(ctx, dialer, relay, targetPubkey, authToken)
		if err == nil {
			r.cacheDecision(targetPubkey, relay.PublicKey)
			return endpoint, nil
		}
		lastErr = err
		r.RecordFailure(relay.PublicKey)
	}
	return "", fmt.Errorf("relay connect to %s failed after %d attempts: %w", relay.PublicKey, relayMaxAttempts, lastErr)
}

func (r *RelayRegistry) relayByPubkey(pubkey string) (RelayNodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.relays[pubkey]
	if !ok {
		return RelayNodeInfo{}, apierr.New(apierr.KindNotFound, "relay not in registry")
	}
	return *info, nil
}

func (r *RelayRegistry) attempt(ctx context.Context, dialer RelayDialer, relay RelayNodeInfo, targetPubkey, authToken string) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", err
	}
	dialCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	resp, err := dialer.Dial(dialCtx, relay, ConnectionRequest{
		TargetPubkey: targetPubkey,
		Nonce: nonce,
		Timestamp: time.Now(),
		AuthToken: authToken,
	})
	if err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("relay declined: %s", resp.Reason)
	}
	r.RecordSuccess(relay.PublicKey)
	return resp.BackendEndpoint, nil
}
