package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/formation/pkg/log"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/state"
)

// PeerSource resolves the current admin peer endpoints to fan an op out to;
// satisfied by *state.Store.
type PeerSource interface {
	AdminPeerEndpoints() []string
}

// pendingJob is one fan-out unit: a JSON body posted to every admin peer at
// path, independent of whether it carries a state op or a queue message.
type pendingJob struct {
	path string
	body []byte
}

// Broadcaster drains a buffered channel of pending ops and fans each out to
// every current admin peer over HTTP with bounded concurrency, so the
// request path that produced the op never blocks on a slow peer.
type Broadcaster struct {
	peers PeerSource
	client *http.Client
	jobs chan pendingJob
	concurrency int
}

// NewBroadcaster constructs a Broadcaster; Run must be called to start
// draining the channel.
func NewBroadcaster(peers PeerSource, concurrency int) *Broadcaster {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Broadcaster{
		peers: peers,
		client: &http.Client{Timeout: 10 * time.Second},
		jobs: make(chan pendingJob, 1024),
		concurrency: concurrency,
	}
}

// Publish implements state.Broadcaster: it JSON-encodes the envelope and
// queues it for fan-out to every admin peer's /merge endpoint.
func (b *Broadcaster) Publish(topic string, env state.Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		log.WithComponent("queue").Error().Err(err).Str("topic", topic).Msg("failed to encode envelope for broadcast")
		return
	}
	b.enqueue(pendingJob{path: "/merge", body: body})
}

// BroadcastMessage queues a queue message for fan-out to every admin peer's
// /queue/write_op endpoint.
func (b *Broadcaster) BroadcastMessage(topicName string, m Message) {
	body, err := json.Marshal(struct {
		Topic string `json:"topic"`
		Message Message `json:"message"`
	}{topicName, m})
	if err != nil {
		log.WithComponent("queue").Error().Err(err).Str("topic", topicName).Msg("failed to encode message for broadcast")
		return
	}
	b.enqueue(pendingJob{path: "/queue/write_op", body: body})
}

func (b *Broadcaster) enqueue(j pendingJob) {
	select {
	case b.jobs <- j:
	default:
		log.WithComponent("queue").Warn().Str("path", j.path).Msg("broadcast queue full, dropping fan-out job")
	}
}

// Run drains the job channel until ctx is cancelled, fanning each job out to
// every current admin peer with at most b.concurrency requests in flight.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-b.jobs:
			b.fanOut(ctx, job)
		}
	}
}

func (b *Broadcaster) fanOut(ctx context.Context, job pendingJob) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.QueueBroadcastDuration)

	endpoints := b.peers.AdminPeerEndpoints()
	if len(endpoints) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, endpoint := range endpoints {
		endpoint := endpoint
		g.Go(func() error {
			if err := b.post(gctx, endpoint+job.path, job.body); err != nil {
				metrics.QueueBroadcastFailures.Inc()
				log.WithComponent("queue").Warn().Err(err).Str("endpoint", endpoint).Msg("broadcast to peer failed")
			}
			return nil
		})
	}
	_ = g.Wait() // per-peer errors are logged, not propagated: a slow/dead peer is retried on the next op
}

func (b *Broadcaster) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
