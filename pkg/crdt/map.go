package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// registerEntry is the current winner for a key: the value together with the
// dot that produced it, needed to compare against later concurrent writes.
type registerEntry[V any] struct {
	Value V `json:"value"`
	Dot Dot `json:"dot"`
}

// Map is a generic BFT CRDT register map: last-writer-wins per key, with
// dot/vector-clock dominance for idempotent replay and tombstone-on-remove.
// One Map[V] instance backs each of the six replicated entities; pkg/queue
// keeps its topic DAGs in its own store and uses only this package's
// Verifier. Persistence is
// one bbolt bucket per map name, keyed "clock", "entries/<key>",
// "tombstones/<key>", "deferred/<actor>/<idx>".
type Map[V any] struct {
	mu sync.RWMutex
	name string
	db *bolt.DB
	verifier Verifier

	clock VClock
	entries map[string]registerEntry[V]
	tombstones map[string]VClock
	deferred map[Actor][]Op[V]
}

// NewMap opens (creating if absent) the bbolt bucket for name and rebuilds
// the in-memory map from its persisted state.
func NewMap[V any](name string, db *bolt.DB, verifier Verifier) (*Map[V], error) {
	m := &Map[V]{
		name: name,
		db: db,
		verifier: verifier,
		clock: make(VClock),
		entries: make(map[string]registerEntry[V]),
		tombstones: make(map[string]VClock),
		deferred: make(map[Actor][]Op[V]),
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(name))
		return err
	}); err != nil {
		return nil, fmt.Errorf("crdt: open bucket %s: %w", name, err)
	}
	if err := m.load(); err != nil {
		return nil, fmt.Errorf("crdt: load map %s: %w", name, err)
	}
	return m, nil
}

func (m *Map[V]) load() error {
	return m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			key := string(k)
			switch {
			case key == "clock":
				if err := json.Unmarshal(v, &m.clock); err != nil {
					return fmt.Errorf("decode clock: %w", err)
				}
			case strings.HasPrefix(key, "entries/"):
				var e registerEntry[V]
				if err := json.Unmarshal(v, &e); err != nil {
					return fmt.Errorf("decode entry %s: %w", key, err)
				}
				m.entries[strings.TrimPrefix(key, "entries/")] = e
			case strings.HasPrefix(key, "tombstones/"):
				var clock VClock
				if err := json.Unmarshal(v, &clock); err != nil {
					return fmt.Errorf("decode tombstone %s: %w", key, err)
				}
				m.tombstones[strings.TrimPrefix(key, "tombstones/")] = clock
			case strings.HasPrefix(key, "deferred/"):
				var op Op[V]
				if err := json.Unmarshal(v, &op); err != nil {
					return fmt.Errorf("decode deferred %s: %w", key, err)
				}
				m.deferred[op.Actor] = append(m.deferred[op.Actor], op)
			}
		}
		for actor := range m.deferred {
			sort.Slice(m.deferred[actor], func(i, j int) bool {
				return m.deferred[actor][i].Dot.Counter < m.deferred[actor][j].Dot.Counter
			})
		}
		return nil
	})
}

// Apply verifies, dedups, and integrates op, persisting the result.
// Signature failures and dominated dots are dropped silently (logged by the
// caller), never returned as hard errors, per the failure
// semantics: "reject on failure (log, do not crash)".
func (m *Map[V]) Apply(op Op[V]) error {
	if m.verifier != nil && !m.verifier.Verify(op.Actor, op.Payload, op.Signature) {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch op.Kind {
	case OpUp:
		return m.applyUp(op)
	case OpRm:
		return m.applyRm(op)
	default:
		return fmt.Errorf("crdt: unknown op kind %q", op.Kind)
	}
}

func (m *Map[V]) applyUp(op Op[V]) error {
	if m.clock.Dominates(op.Dot) {
		return nil
	}

	next := m.clock[op.Dot.Actor] + 1
	if op.Dot.Counter > next {
		m.deferred[op.Dot.Actor] = append(m.deferred[op.Dot.Actor], op)
		return m.persistDeferred(op)
	}

	if err := m.integrateUp(op); err != nil {
		return err
	}
	return m.drainDeferred(op.Dot.Actor)
}

// integrateUp performs the LWW merge and advances the clock, without
// touching the deferred buffer.
func (m *Map[V]) integrateUp(op Op[V]) error {
	if tomb, ok := m.tombstones[op.Key]; ok && tomb.Dominates(op.Dot) {
		m.clock.Advance(op.Dot)
		return m.persistClock()
	}

	if current, ok := m.entries[op.Key]; ok && !winsOver(op.Dot, current.Dot) {
		m.clock.Advance(op.Dot)
		return m.persistClock()
	}

	m.entries[op.Key] = registerEntry[V]{Value: op.Value, Dot: op.Dot}
	m.clock.Advance(op.Dot)
	return m.persistEntryAndClock(op.Key)
}

// drainDeferred replays any buffered ops from actor that the newly advanced
// clock now makes contiguous.
func (m *Map[V]) drainDeferred(actor Actor) error {
	for {
		queue := m.deferred[actor]
		if len(queue) == 0 {
			return nil
		}
		next := m.clock[actor] + 1
		idx := -1
		for i, op := range queue {
			if op.Dot.Counter == next {
				idx = i
				break
			}
		}
		if idx == -1 {
			return nil
		}
		op := queue[idx]
		m.deferred[actor] = append(queue[:idx], queue[idx+1:]...)
		if err := m.persistDeferredRemoval(actor, idx); err != nil {
			return err
		}
		if err := m.integrateUp(op); err != nil {
			return err
		}
	}
}

// winsOver reports whether candidate beats incumbent under the
// (clock, actor) LWW tie-break: higher counter wins; equal counters break
// by lexicographically greater actor.
func winsOver(candidate, incumbent Dot) bool {
	if candidate.Counter != incumbent.Counter {
		return candidate.Counter > incumbent.Counter
	}
	return candidate.Actor > incumbent.Actor
}

func (m *Map[V]) applyRm(op Op[V]) error {
	for _, key := range op.Keys {
		entry, ok := m.entries[key]
		if !ok {
			continue
		}
		observed := VClock{entry.Dot.Actor: entry.Dot.Counter}
		if !observed.LessOrEqual(op.Clock) {
			continue // concurrent write not covered by this remove survives
		}
		delete(m.entries, key)
		existing := m.tombstones[key]
		m.tombstones[key] = existing.Merge(op.Clock)
		if err := m.persistTombstone(key); err != nil {
			return err
		}
		if err := m.deleteEntry(key); err != nil {
			return err
		}
	}
	m.clock = m.clock.Merge(op.Clock)
	return m.persistClock()
}

// Get returns the current value for key, if present and not tombstoned.
func (m *Map[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e.Value, ok
}

// List returns all live values, sorted by key for stable output across
// replicas (bootstrap snapshots and list endpoints both need determinism).
func (m *Map[V]) List() []V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.entries[k].Value)
	}
	return out
}

// Clock returns a copy of the map's current vector clock.
func (m *Map[V]) Clock() VClock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clock.Clone()
}

// Snapshot is the serializable form of a Map, used for bootstrap transfer
// (GET /bootstrap/full_state) and for tests.
type Snapshot[V any] struct {
	Clock VClock `json:"clock"`
	Entries map[string]registerEntry[V] `json:"entries"`
	Tombstones map[string]VClock `json:"tombstones"`
}

// Snapshot captures the full current state for transfer to a bootstrapping
// peer.
func (m *Map[V]) Snapshot() Snapshot[V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make(map[string]registerEntry[V], len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	tombs := make(map[string]VClock, len(m.tombstones))
	for k, v := range m.tombstones {
		tombs[k] = v.Clone()
	}
	return Snapshot[V]{Clock: m.clock.Clone(), Entries: entries, Tombstones: tombs}
}

// LoadSnapshot replaces the map's contents wholesale with snap, then
// persists it. Used only on first bootstrap against an empty map; merging
// into a non-empty map is done op-by-op via Apply, never via LoadSnapshot.
func (m *Map[V]) LoadSnapshot(snap Snapshot[V]) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock = snap.Clock.Clone()
	m.entries = make(map[string]registerEntry[V], len(snap.Entries))
	for k, v := range snap.Entries {
		m.entries[k] = v
	}
	m.tombstones = make(map[string]VClock, len(snap.Tombstones))
	for k, v := range snap.Tombstones {
		m.tombstones[k] = v.Clone()
	}

	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			stale = append(stale, bytes.Clone(k))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		clockBytes, err := json.Marshal(m.clock)
		if err != nil {
			return err
		}
		if err := b.Put([]byte("clock"), clockBytes); err != nil {
			return err
		}
		for k, e := range m.entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put([]byte("entries/"+k), data); err != nil {
				return err
			}
		}
		for k, clock := range m.tombstones {
			data, err := json.Marshal(clock)
			if err != nil {
				return err
			}
			if err := b.Put([]byte("tombstones/"+k), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Map[V]) persistClock() error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		data, err := json.Marshal(m.clock)
		if err != nil {
			return err
		}
		return b.Put([]byte("clock"), data)
	})
}

func (m *Map[V]) persistEntryAndClock(key string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		entryData, err := json.Marshal(m.entries[key])
		if err != nil {
			return err
		}
		if err := b.Put([]byte("entries/"+key), entryData); err != nil {
			return err
		}
		clockData, err := json.Marshal(m.clock)
		if err != nil {
			return err
		}
		return b.Put([]byte("clock"), clockData)
	})
}

func (m *Map[V]) deleteEntry(key string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		return b.Delete([]byte("entries/" + key))
	})
}

func (m *Map[V]) persistTombstone(key string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		data, err := json.Marshal(m.tombstones[key])
		if err != nil {
			return err
		}
		return b.Put([]byte("tombstones/"+key), data)
	})
}

func (m *Map[V]) persistDeferred(op Op[V]) error {
	idx := len(m.deferred[op.Dot.Actor]) - 1
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		data, err := json.Marshal(op)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("deferred/%s/%s", op.Dot.Actor, strconv.Itoa(idx))
		return b.Put([]byte(key), data)
	})
}

func (m *Map[V]) persistDeferredRemoval(actor Actor, idx int) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(m.name))
		prefix := []byte(fmt.Sprintf("deferred/%s/", actor))
		c := b.Cursor()
		var stale [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, bytes.Clone(k))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		// Re-persist the remaining deferred queue for actor under fresh indices.
		for i, op := range m.deferred[actor] {
			data, err := json.Marshal(op)
			if err != nil {
				return err
			}
			key := fmt.Sprintf("deferred/%s/%s", actor, strconv.Itoa(i))
			if err := b.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}
