package crdt

// OpKind distinguishes the two op shapes a map accepts.
type OpKind string

const (
	OpUp OpKind = "up"
	OpRm OpKind = "rm"
)

// Verifier checks that signature is a valid signature by actor over payload.
// Satisfied by a thin adapter over pkg/auth's secp256k1 recover so pkg/crdt
// stays free of any dependency on the HTTP auth surface.
type Verifier interface {
	Verify(actor Actor, payload, signature []byte) bool
}

// Op is either an Up (upsert one key) or an Rm (tombstone a set of keys
// observed at clock), matching the Op::Up / Op::Rm shape.
type Op[V any] struct {
	Kind OpKind

	// Up fields.
	Dot Dot
	Key string
	Value V

	// Rm fields.
	Clock VClock
	Keys []string

	// Common: every op is signed by its author.
	Actor Actor
	Signature []byte
	Payload []byte // exact bytes the signature covers
}

// NewUp constructs a signed upsert op.
func NewUp[V any](dot Dot, key string, value V, actor Actor, payload, sig []byte) Op[V] {
	return Op[V]{
		Kind: OpUp,
		Dot: dot,
		Key: key,
		Value: value,
		Actor: actor,
		Signature: sig,
		Payload: payload,
	}
}

// NewRm constructs a signed remove op.
func NewRm[V any](clock VClock, keys []string, actor Actor, payload, sig []byte) Op[V] {
	return Op[V]{
		Kind: OpRm,
		Clock: clock,
		Keys: keys,
		Actor: actor,
		Signature: sig,
		Payload: payload,
	}
}
