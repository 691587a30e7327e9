package state

import (
	"encoding/json"

	"github.com/cuemby/formation/pkg/crdt"
)

// Entity names one of the six replicated maps a wire op targets.
type Entity string

const (
	EntityAccount Entity = "account"
	EntityInstance Entity = "instance"
	EntityNode Entity = "node"
	EntityPeer Entity = "peer"
	EntityCIDR Entity = "cidr"
	EntityDnsZone Entity = "dns_zone"
)

// WireOp is the JSON-wire form of a crdt.Op: the generic Value field is
// deferred as raw JSON until Entity tells the store which concrete type to
// decode it into.
type WireOp struct {
	Kind crdt.OpKind `json:"kind"`
	Dot crdt.Dot `json:"dot,omitempty"`
	Key string `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Clock crdt.VClock `json:"clock,omitempty"`
	Keys []string `json:"keys,omitempty"`
	Actor crdt.Actor `json:"actor"`
	Signature []byte `json:"signature"`
	Payload []byte `json:"payload"`
}

// Envelope is the `POST /merge` body: a wire op tagged with the entity it
// targets, per the Op::Up / Op::Rm shape.
type Envelope struct {
	Entity Entity `json:"entity"`
	Op WireOp `json:"op"`
}
