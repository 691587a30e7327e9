// Package queue implements the topic-partitioned signed message queue: a
// per-topic Merkle DAG (BFTQueue) used both as a general command bus and as
// the state store's op-replication transport. It follows the same
// generic-map-plus-bbolt shape as pkg/crdt, reusing sha3 content addressing
// in place of a vector-clock dominance check.
package queue

import (
	"encoding/hex"
	"sort"

	"golang.org/x/crypto/sha3"
)

// Hash is a SHA3-256 content digest, hex-encoded for use as a map/bolt key.
type Hash string

// TopicHash derives the topic's bucket identity, SHA3-256 of its name.
func TopicHash(topic string) Hash {
	sum := sha3.Sum256([]byte(topic))
	return Hash(hex.EncodeToString(sum[:]))
}

// Message is one node of a topic's Merkle DAG.
type Message struct {
	Hash Hash `json:"hash"`
	Content []byte `json:"content"`
	Deps []Hash `json:"deps"`
	Author string `json:"author"`
	Signature []byte `json:"signature"`
}

// computeHash derives a message's content-addressed identity:
// SHA3-256(content || sorted(deps) || author), per the design.
func computeHash(content []byte, deps []Hash, author string) Hash {
	sorted := append([]Hash(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	h := sha3.New256()
	h.Write(content)
	for _, d := range sorted {
		h.Write([]byte(d))
	}
	h.Write([]byte(author))
	return Hash(hex.EncodeToString(h.Sum(nil)))
}

// NewMessage builds and hashes a message node; Deps is stored in sorted
// order so two peers that enqueue the same content+deps+author converge on
// the same hash regardless of deps iteration order.
func NewMessage(content []byte, deps []Hash, author string, signature []byte) Message {
	sorted := append([]Hash(nil), deps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Message{
		Hash: computeHash(content, deps, author),
		Content: content,
		Deps: sorted,
		Author: author,
		Signature: signature,
	}
}

// Verify recomputes the hash and checks it matches, guarding against a
// tampered or mis-transmitted message before it enters a topic's DAG.
func (m Message) Verify() bool {
	return computeHash(m.Content, m.Deps, m.Author) == m.Hash
}

