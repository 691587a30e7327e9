package dns

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/types"
)

// Health tracker defaults.
const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultStaleTimeout = 5 * time.Minute
)

// HealthTracker polls a state API's node inventory and keeps a
// HealthRepository current over HTTP rather than reaching into pkg/state's
// store directly, the same arrangement pkg/queue's Broadcaster uses to
// reach admin peers.
type HealthTracker struct {
	nodesURL string
	repo *HealthRepository
	client *http.Client
	checkInterval time.Duration
	staleTimeout time.Duration
}

// NewHealthTracker points at a state API's GET /api/nodes endpoint.
func NewHealthTracker(nodesURL string, repo *HealthRepository) *HealthTracker {
	return &HealthTracker{
		nodesURL: nodesURL,
		repo: repo,
		client: &http.Client{Timeout: 10 * time.Second},
		checkInterval: DefaultHealthCheckInterval,
		staleTimeout: DefaultStaleTimeout,
	}
}

type nodeListEnvelope struct {
	Success []types.Node `json:"Success"`
}

// Run polls until ctx is cancelled, matching the other long-lived
// background goroutines (NAT stepper, queue broadcaster) in this system.
func (h *HealthTracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.pollOnce(ctx)
		}
	}
}

func (h *HealthTracker) pollOnce(ctx context.Context) {
	nodes, err := h.fetchNodes(ctx)
	if err != nil {
		log.WithComponent("dns.health").Warn().Err(err).Msg("failed to fetch node inventory")
		return
	}
	for _, n := range nodes {
		if n.PublicIP == nil {
			continue
		}
		if n.Availability.Status == types.NodeActive {
			h.repo.MarkAvailable(n.PublicIP)
		} else {
			h.repo.MarkUnavailable(n.PublicIP, fmt.Sprintf("node %s reported status %q", n.NodeID, n.Availability.Status))
		}
	}
	h.repo.ClearStale(h.staleTimeout)
}

func (h *HealthTracker) fetchNodes(ctx context.Context) ([]types.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.nodesURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env nodeListEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding node inventory response: %w", err)
	}
	return env.Success, nil
}
