package overlay

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// candidateSet is one peer's LIFO traversal queue: the server-reported
// endpoint sits at the head so it is popped (and so tried) last, matching
// the "final fallback" requirement.
type candidateSet struct {
	pubkey wgtypes.Key
	candidates []string // LIFO: last element tried first
}

func newCandidateSet(pubkey wgtypes.Key, serverEndpoint string, reported []string) *candidateSet {
	cs := &candidateSet{pubkey: pubkey}
	cs.candidates = append(cs.candidates, serverEndpoint)
	cs.candidates = append(cs.candidates, reported...)
	return cs
}

func (c *candidateSet) pop() (string, bool) {
	if len(c.candidates) == 0 {
		return "", false
	}
	last := len(c.candidates) - 1
	ep := c.candidates[last]
	c.candidates = c.candidates[:last]
	return ep, true
}

// Stepper drives NAT traversal for every peer not currently considered
// "recently connected": it iterates each peer's candidates LIFO, dwelling on
// each for StepInterval and polling every PollInterval for a fresh
// handshake.
type Stepper struct {
	mu sync.Mutex
	device *Device
	active map[wgtypes.Key]*candidateSet

	// onExhausted, if set, is called when a peer's candidate list runs out
	// without a handshake — the relay-fallback hook.
	onExhausted func(pubkey wgtypes.Key)
}

func NewStepper(device *Device) *Stepper {
	return &Stepper{device: device, active: make(map[wgtypes.Key]*candidateSet)}
}

// OnExhausted registers the relay-fallback callback.
func (s *Stepper) OnExhausted(fn func(pubkey wgtypes.Key)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExhausted = fn
}

// Track begins (or resets) traversal for a peer whose candidate list just
// arrived or changed.
func (s *Stepper) Track(pubkey wgtypes.Key, serverEndpoint string, reported []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[pubkey] = newCandidateSet(pubkey, serverEndpoint, reported)
}

// Untrack stops traversal for a peer that disappeared from the interface or
// whose record was removed from the state store.
func (s *Stepper) Untrack(pubkey wgtypes.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, pubkey)
}

// Run loops forever (until ctx is cancelled), stepping every tracked peer
// once per outer iteration. Each step either confirms the peer recently
// connected (removing it from active traversal) or dwells on its next
// candidate for StepInterval.
func (s *Stepper) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		peers, err := s.device.ListPeers()
		if err != nil {
			logger().Warn().Err(err).Msg("nat stepper: failed to list interface peers")
			time.Sleep(StepInterval)
			continue
		}
		handshakes := make(map[wgtypes.Key]time.Time, len(peers))
		for _, p := range peers {
			handshakes[p.PublicKey] = p.LastHandshake
		}

		s.mu.Lock()
		pending := make([]*candidateSet, 0, len(s.active))
		for pubkey, cs := range s.active {
			if recentlyConnected(handshakes[pubkey]) {
				delete(s.active, pubkey)
				continue
			}
			if _, stillPresent := handshakes[pubkey]; !stillPresent {
				delete(s.active, pubkey) // (b) disappeared from the interface
				continue
			}
			pending = append(pending, cs)
		}
		s.mu.Unlock()

		for _, cs := range pending {
			s.stepOne(ctx, cs)
		}

		if len(pending) == 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(StepInterval):
			}
		}
	}
}

func recentlyConnected(lastHandshake time.Time) bool {
	return !lastHandshake.IsZero() && time.Since(lastHandshake) < HoldDown
}

// stepOne dwells on cs's next candidate for StepInterval, polling for a
// handshake every PollInterval; a candidate set exhausted of candidates is
// dropped from active traversal per (c) in the design.
func (s *Stepper) stepOne(ctx context.Context, cs *candidateSet) {
	endpoint, ok := cs.pop()
	if !ok {
		s.mu.Lock()
		delete(s.active, cs.pubkey)
		onExhausted := s.onExhausted
		s.mu.Unlock()
		if onExhausted != nil {
			onExhausted(cs.pubkey)
		}
		return
	}

	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		logger().Warn().Str("endpoint", endpoint).Err(err).Msg("nat stepper: unresolvable candidate")
		return
	}
	if err := s.device.SetEndpoint(cs.pubkey, addr); err != nil {
		logger().Warn().Str("endpoint", endpoint).Err(err).Msg("nat stepper: failed to retarget peer")
		return
	}

	deadline := time.Now().Add(StepInterval)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(PollInterval):
		}
		peers, err := s.device.ListPeers()
		if err != nil {
			continue
		}
		for _, p := range peers {
			if p.PublicKey == cs.pubkey && recentlyConnected(p.LastHandshake) {
				s.mu.Lock()
				delete(s.active, cs.pubkey)
				s.mu.Unlock()
				return
			}
		}
	}
	// Candidate failed within this step; it is not retried until the set is
	// rebuilt by the next Track call.
}
