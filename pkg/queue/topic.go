package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/crdt"
)

// Topic is one topic's Merkle DAG: messages keyed by hash, plus enough
// bookkeeping to keep a topological order of visible messages and the
// current tip set new enqueues should depend on.
type Topic struct {
	mu sync.RWMutex

	name string
	bucket []byte
	db *bolt.DB

	messages map[Hash]Message
	pending map[Hash]Message // seen but missing a dependency, not yet visible
	order []Hash // visible messages in integration order (a topological order)
	tips map[Hash]struct{}
}

func newTopic(name string, db *bolt.DB) (*Topic, error) {
	t := &Topic{
		name: name,
		bucket: []byte("queue/" + name),
		db: db,
		messages: make(map[Hash]Message),
		pending: make(map[Hash]Message),
		tips: make(map[Hash]struct{}),
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topic) load() error {
	return t.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(t.bucket)
		if b == nil {
			return nil
		}
		var msgs []Message
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decode queue message %s: %w", k, err)
			}
			msgs = append(msgs, m)
		}
		for _, m := range msgs {
			t.integrate(m)
		}
		t.drainPending()
		return nil
	})
}

func (t *Topic) persist(m Message) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(t.bucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put([]byte(m.Hash), data)
	})
}

// Append verifies, deduplicates, and integrates a message into the DAG.
// Messages whose deps are not all locally visible are buffered and
// integrated automatically once the gap closes.
func (t *Topic) Append(m Message, verifier crdt.Verifier) error {
	if !m.Verify() {
		return apierr.New(apierr.KindCRDTReject, "queue message hash mismatch")
	}
	if !verifier.Verify(crdt.Actor(m.Author), m.Content, m.Signature) {
		return apierr.New(apierr.KindAuthentication, "queue message signature invalid")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.messages[m.Hash]; ok {
		return nil // duplicate; hash is the dedup key
	}
	if _, ok := t.pending[m.Hash]; ok {
		return nil
	}

	if err := t.persist(m); err != nil {
		return fmt.Errorf("persist queue message: %w", err)
	}
	t.integrate(m)
	t.drainPending()
	return nil
}

// integrate adds m to the visible DAG if all its deps are already visible,
// else parks it in pending. Caller must hold t.mu.
func (t *Topic) integrate(m Message) {
	if !t.depsVisible(m) {
		t.pending[m.Hash] = m
		return
	}
	t.messages[m.Hash] = m
	t.order = append(t.order, m.Hash)
	for _, d := range m.Deps {
		delete(t.tips, d)
	}
	t.tips[m.Hash] = struct{}{}
}

func (t *Topic) depsVisible(m Message) bool {
	for _, d := range m.Deps {
		if _, ok := t.messages[d]; !ok {
			return false
		}
	}
	return true
}

// drainPending repeatedly scans pending for messages whose deps just
// became visible, integrating them until a full pass makes no progress.
func (t *Topic) drainPending() {
	for {
		progressed := false
		for h, m := range t.pending {
			if t.depsVisible(m) {
				delete(t.pending, h)
				t.messages[m.Hash] = m
				t.order = append(t.order, m.Hash)
				for _, d := range m.Deps {
					delete(t.tips, d)
				}
				t.tips[m.Hash] = struct{}{}
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// Tips returns the current frontier hashes, the default deps for the next
// enqueue on this topic.
func (t *Topic) Tips() []Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Hash, 0, len(t.tips))
	for h := range t.tips {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Read returns every visible message in the order this replica integrated
// them. A message is integrated only after all its deps, so the order is
// topological; messages with no dependency path between them keep their
// local arrival order (hash order when reloaded after a restart), which is
// not necessarily the same on every replica.
func (t *Topic) Read() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.order))
	for i, h := range t.order {
		out[i] = t.messages[h]
	}
	return out
}

// ReadAfter returns the visible messages strictly after idx in topological
// order (idx is an index into the same order Read returns, as used by
// GET /queue/{topic}/{idx}/get_after).
func (t *Topic) ReadAfter(idx int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if idx < 0 {
		idx = 0
	}
	if idx >= len(t.order) {
		return nil
	}
	out := make([]Message, 0, len(t.order)-idx-1)
	for i := idx + 1; i < len(t.order); i++ {
		out = append(out, t.messages[t.order[i]])
	}
	return out
}

// ReadN returns the first n visible messages.
func (t *Topic) ReadN(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n > len(t.order) {
		n = len(t.order)
	}
	out := make([]Message, n)
	for i := 0; i < n; i++ {
		out[i] = t.messages[t.order[i]]
	}
	return out
}

// Get looks up a single message by hash.
func (t *Topic) Get(h Hash) (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.messages[h]
	return m, ok
}
