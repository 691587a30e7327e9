// Package crdt implements the Byzantine-fault-tolerant CRDT map engine that
// backs the replicated state store and the topic message queue: a generic
// last-writer-wins register map with dot/vector-clock dominance, signed
// writes, and tombstone-on-remove, persisted one bbolt bucket per map.
package crdt

// Actor identifies the node that authored an op; it is the node's
// Ethereum-style address in lowercase hex.
type Actor string

// Dot is a per-actor monotonic counter, the unit of causal identity for a
// single write.
type Dot struct {
	Actor   Actor  `json:"actor"`
	Counter uint64 `json:"counter"`
}

// VClock tracks, per actor, the highest counter already integrated into a
// map. A dot is dominated (already seen) when its counter is <= the clock's
// recorded counter for that actor.
type VClock map[Actor]uint64

// Dominates reports whether d has already been integrated.
func (c VClock) Dominates(d Dot) bool {
	return d.Counter <= c[d.Actor]
}

// Advance records d as integrated, raising the actor's counter if needed.
func (c VClock) Advance(d Dot) {
	if d.Counter > c[d.Actor] {
		c[d.Actor] = d.Counter
	}
}

// LessOrEqual reports whether c is causally <= other (every actor's counter
// in c is <= the corresponding counter in other). Used by Rm ops to decide
// which entries a remove's observed clock covers.
func (c VClock) LessOrEqual(other VClock) bool {
	for actor, n := range c {
		if other[actor] < n {
			return false
		}
	}
	return true
}

// Merge returns a new clock that is the point-wise max of c and other.
func (c VClock) Merge(other VClock) VClock {
	merged := make(VClock, len(c)+len(other))
	for actor, n := range c {
		merged[actor] = n
	}
	for actor, n := range other {
		if n > merged[actor] {
			merged[actor] = n
		}
	}
	return merged
}

// Clone returns a shallow copy, safe to mutate independently of c.
func (c VClock) Clone() VClock {
	return c.Merge(nil)
}
