package queue

import (
	"crypto/ecdsa"
	"encoding/hex"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/crdt"
)

// Store is Map<topic_hash, BFTQueue<bytes>, Actor>: a set
// of lazily-created per-topic Merkle DAGs sharing one bbolt database, one
// signing identity, and one signature verifier.
type Store struct {
	mu sync.Mutex

	db *bolt.DB
	key *ecdsa.PrivateKey
	addr auth.Address
	verifier crdt.Verifier

	topics map[string]*Topic // keyed by topic name, not hash, for readability
}

// NewStore opens (or attaches to) the queue's bbolt database.
func NewStore(db *bolt.DB, key *ecdsa.PrivateKey, verifier crdt.Verifier) *Store {
	return &Store{
		db: db,
		key: key,
		addr: auth.AddressFromPrivate(key),
		verifier: verifier,
		topics: make(map[string]*Topic),
	}
}

func (s *Store) topic(name string) (*Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.topics[name]; ok {
		return t, nil
	}
	t, err := newTopic(name, s.db)
	if err != nil {
		return nil, err
	}
	s.topics[name] = t
	return t, nil
}

// Enqueue signs content as this store's own actor and appends it as a new
// node depending on topic's current tips (or an explicit dep set), per
// `enqueue(topic, content, deps, actor, signing_key)`.
func (s *Store) Enqueue(topicName string, content []byte, deps []Hash) (Message, error) {
	t, err := s.topic(topicName)
	if err != nil {
		return Message{}, err
	}
	if deps == nil {
		deps = t.Tips()
	}

	sigHex, recID, err := auth.Sign(s.key, content)
	if err != nil {
		return Message{}, err
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return Message{}, err
	}
	sig := append(sigBytes, recID)

	m := NewMessage(content, deps, string(s.addr), sig)
	if err := t.Append(m, s.verifier); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ApplyForeign appends a message that arrived already signed by its true
// author, as from a peer's POST /queue/write_op.
func (s *Store) ApplyForeign(topicName string, m Message) error {
	t, err := s.topic(topicName)
	if err != nil {
		return err
	}
	return t.Append(m, s.verifier)
}

// Read returns topic's messages in this replica's topological order (see
// Topic.Read).
func (s *Store) Read(topicName string) ([]Message, error) {
	t, err := s.topic(topicName)
	if err != nil {
		return nil, err
	}
	return t.Read(), nil
}

// ReadAfter returns messages strictly after idx in topic's topological
// order.
func (s *Store) ReadAfter(topicName string, idx int) ([]Message, error) {
	t, err := s.topic(topicName)
	if err != nil {
		return nil, err
	}
	return t.ReadAfter(idx), nil
}

// ReadN returns the first n messages of topic's topological order.
func (s *Store) ReadN(topicName string, n int) ([]Message, error) {
	t, err := s.topic(topicName)
	if err != nil {
		return nil, err
	}
	return t.ReadN(n), nil
}

// Get looks up a single message by topic and hash.
func (s *Store) Get(topicName string, h Hash) (Message, error) {
	t, err := s.topic(topicName)
	if err != nil {
		return Message{}, err
	}
	m, ok := t.Get(h)
	if !ok {
		return Message{}, apierr.New(apierr.KindNotFound, "queue message not found")
	}
	return m, nil
}

// Dump captures every topic's full message set, for the bootstrap full-dump
// endpoint (GET /queue/get).
func (s *Store) Dump() map[string][]Message {
	s.mu.Lock()
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	s.mu.Unlock()
	// Topics persisted by an earlier run but not opened since are found by
	// their bucket names.
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(bucket []byte, _ *bolt.Bucket) error {
			if name, ok := strings.CutPrefix(string(bucket), "queue/"); ok {
				names = append(names, name)
			}
			return nil
		})
	})

	out := make(map[string][]Message, len(names))
	for _, name := range names {
		t, err := s.topic(name)
		if err != nil {
			continue
		}
		out[name] = t.Read()
	}
	return out
}
