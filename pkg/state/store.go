// Package state implements the replicated state store: the six CRDT maps,
// their signed merge algorithm, bbolt persistence, and bootstrap snapshot
// transfer, one struct owning storage plus the subsystems layered on top.
// There is no leader and no replicated log; Apply dispatches by entity and
// op kind directly against the mergeable maps.
package state

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/crdt"
	"github.com/cuemby/formation/pkg/events"
	"github.com/cuemby/formation/pkg/metrics"
	"github.com/cuemby/formation/pkg/types"
)

// RootCIDRName and RootCIDR are the genesis values synthesized on first
// boot without peers.
const (
	RootCIDRName = "root"
	RootCIDR = "10.0.0.0/8"
)

// Broadcaster fans a locally-applied op out to peers; satisfied by
// pkg/queue.Broadcaster. Kept as a narrow interface so pkg/state never
// imports pkg/queue directly (queue depends on state being mergeable, not
// the reverse).
type Broadcaster interface {
	Publish(topic string, env Envelope)
}

// Store owns the six replicated CRDT maps and the node's own signing
// identity.
type Store struct {
	mu sync.Mutex

	dataDir string
	db *bolt.DB

	nodeKey *ecdsa.PrivateKey
	nodeAddr auth.Address

	broadcaster Broadcaster
	eventBroker *events.Broker

	localCounters map[string]uint64

	Accounts *crdt.Map[types.Account]
	Instances *crdt.Map[types.Instance]
	Nodes *crdt.Map[types.Node]
	Peers *crdt.Map[types.Peer]
	CIDRs *crdt.Map[types.CIDR]
	DnsZones *crdt.Map[types.DnsZone]
}

// New opens (or creates) the bbolt database under dataDir and constructs
// the six maps, verifying every write with auth.CRDTVerifier.
func New(dataDir string, nodeKey *ecdsa.PrivateKey, broker *events.Broker) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "formation.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	verifier := auth.CRDTVerifier{}
	s := &Store{
		dataDir: dataDir,
		db: db,
		nodeKey: nodeKey,
		nodeAddr: auth.AddressFromPrivate(nodeKey),
		eventBroker: broker,
		localCounters: make(map[string]uint64),
	}

	if s.Accounts, err = crdt.NewMap[types.Account]("accounts", db, verifier); err != nil {
		return nil, err
	}
	if s.Instances, err = crdt.NewMap[types.Instance]("instances", db, verifier); err != nil {
		return nil, err
	}
	if s.Nodes, err = crdt.NewMap[types.Node]("nodes", db, verifier); err != nil {
		return nil, err
	}
	if s.Peers, err = crdt.NewMap[types.Peer]("peers", db, verifier); err != nil {
		return nil, err
	}
	if s.CIDRs, err = crdt.NewMap[types.CIDR]("cidrs", db, verifier); err != nil {
		return nil, err
	}
	if s.DnsZones, err = crdt.NewMap[types.DnsZone]("dns_zones", db, verifier); err != nil {
		return nil, err
	}
	return s, nil
}

// NodeAddress returns the address this store signs local writes with.
func (s *Store) NodeAddress() auth.Address { return s.nodeAddr }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetBroadcaster wires the queue fan-out used by every successful Apply.
func (s *Store) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// GetAccount implements auth.AccountLookup.
func (s *Store) GetAccount(address string) (*types.Account, error) {
	v, ok := s.Accounts.Get(address)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "account not found")
	}
	return &v, nil
}

// ListAccounts returns every replicated account, sorted by address.
func (s *Store) ListAccounts() []types.Account { return s.Accounts.List() }

// AdminPeerEndpoints returns the state-store API endpoint of every
// non-disabled admin peer, the fan-out target list consulted by
// queue.Broadcaster before replicating an op.
func (s *Store) AdminPeerEndpoints() []string {
	var out []string
	for _, p := range s.Peers.List() {
		if p.IsAdmin && !p.IsDisabled && p.Endpoint != "" {
			out = append(out, p.Endpoint)
		}
	}
	return out
}

// GetInstance looks up a single instance by ID.
func (s *Store) GetInstance(id string) (*types.Instance, error) {
	v, ok := s.Instances.Get(id)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "instance not found")
	}
	return &v, nil
}

// ListInstances returns every replicated instance, sorted by ID.
func (s *Store) ListInstances() []types.Instance { return s.Instances.List() }

// ListInstancesByOwner filters ListInstances down to a single owner address,
// backing GET /instance/list_by_owner.
func (s *Store) ListInstancesByOwner(owner string) []types.Instance {
	var out []types.Instance
	for _, inst := range s.Instances.List() {
		if inst.OwnerAddr == owner {
			out = append(out, inst)
		}
	}
	return out
}

// GetNode looks up a single operator node by ID.
func (s *Store) GetNode(id string) (*types.Node, error) {
	v, ok := s.Nodes.Get(id)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "node not found")
	}
	return &v, nil
}

// ListNodes returns every replicated node, sorted by node ID.
func (s *Store) ListNodes() []types.Node { return s.Nodes.List() }

// GetPeer looks up a single overlay peer by name.
func (s *Store) GetPeer(name string) (*types.Peer, error) {
	v, ok := s.Peers.Get(name)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "peer not found")
	}
	return &v, nil
}

// ListPeers returns every replicated peer, sorted by name.
func (s *Store) ListPeers() []types.Peer { return s.Peers.List() }

// GetCIDR looks up a single CIDR node by name.
func (s *Store) GetCIDR(name string) (*types.CIDR, error) {
	v, ok := s.CIDRs.Get(name)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "cidr not found")
	}
	return &v, nil
}

// ListCIDRs returns every replicated CIDR node, sorted by name.
func (s *Store) ListCIDRs() []types.CIDR { return s.CIDRs.List() }

// GetDnsZone looks up a single DNS zone by domain.
func (s *Store) GetDnsZone(domain string) (*types.DnsZone, error) {
	v, ok := s.DnsZones.Get(domain)
	if !ok {
		return nil, apierr.New(apierr.KindNotFound, "dns zone not found")
	}
	return &v, nil
}

// ListDnsZones returns every replicated DNS zone, sorted by domain.
func (s *Store) ListDnsZones() []types.DnsZone { return s.DnsZones.List() }

// Apply is the single entry point for every mutation, local or foreign,
// dispatching by Envelope.Entity into the matching generic map: one entry
// point, dispatch by op kind, generalized from a switch-per-entity FSM
// apply to entity+kind dispatch over a parametric merge instead of a
// log-driven CRUD switch.
func (s *Store) Apply(env Envelope) error {
	var err error
	switch env.Entity {
	case EntityAccount:
		err = applyWire(s.Accounts, env.Op)
	case EntityInstance:
		err = applyWire(s.Instances, env.Op)
	case EntityNode:
		err = applyWire(s.Nodes, env.Op)
	case EntityPeer:
		err = applyWire(s.Peers, env.Op)
	case EntityCIDR:
		err = applyWire(s.CIDRs, env.Op)
	case EntityDnsZone:
		err = applyWire(s.DnsZones, env.Op)
	default:
		return apierr.New(apierr.KindValidation, "unknown entity")
	}
	if err != nil {
		metrics.CRDTOpsRejected.WithLabelValues(string(env.Entity), "apply_error").Inc()
		return err
	}
	metrics.CRDTOpsApplied.WithLabelValues(string(env.Entity), string(env.Op.Kind)).Inc()
	if s.broadcaster != nil {
		s.broadcaster.Publish(topicFor(env.Entity), env)
	}
	if s.eventBroker != nil {
		s.eventBroker.Publish(&events.Event{Type: eventTypeFor(env.Entity, env.Op.Kind)})
	}
	return nil
}

func applyWire[V any](m *crdt.Map[V], w WireOp) error {
	op := crdt.Op[V]{
		Kind: w.Kind,
		Dot: w.Dot,
		Key: w.Key,
		Clock: w.Clock,
		Keys: w.Keys,
		Actor: w.Actor,
		Signature: w.Signature,
		Payload: w.Payload,
	}
	if w.Kind == crdt.OpUp && len(w.Value) > 0 {
		if err := json.Unmarshal(w.Value, &op.Value); err != nil {
			return apierr.Wrap(apierr.KindValidation, "malformed op value", err)
		}
	}
	return m.Apply(op)
}

func topicFor(e Entity) string { return "state." + string(e) }

func eventTypeFor(e Entity, kind crdt.OpKind) events.EventType {
	switch e {
	case EntityAccount:
		return events.EventAccountCreated
	case EntityInstance:
		if kind == crdt.OpRm {
			return events.EventInstanceDeleted
		}
		return events.EventInstanceUpdated
	case EntityNode:
		return events.EventNodeJoined
	case EntityPeer:
		if kind == crdt.OpRm {
			return events.EventPeerLeft
		}
		return events.EventPeerJoined
	case EntityDnsZone:
		return events.EventDnsZoneUpdated
	default:
		return events.EventQueueOp
	}
}

// sign produces a 65-byte R||S||V signature over payload using the node's
// own key, the layout auth.CRDTVerifier expects.
func (s *Store) sign(payload []byte) ([]byte, error) {
	sigHex, recID, err := auth.Sign(s.nodeKey, payload)
	if err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, err
	}
	return append(sig, recID), nil
}

// nextCounter returns the next contiguous counter for (mapName, actor),
// seeded from the map's observed clock for that actor the first time it is
// called. Keyed per-actor because each actor's dot sequence is independent;
// only the node's own writes (genesis records and SelfPut) go through this
// path; PutSigned keeps its own per-actor counters for caller-signed ops.
func (s *Store) nextCounter(mapName string, actor crdt.Actor, seed uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mapName + "/" + string(actor)
	if _, ok := s.localCounters[key]; !ok {
		s.localCounters[key] = seed
	}
	s.localCounters[key]++
	return s.localCounters[key]
}

// selfUp builds, signs, and applies (through Apply) a locally-authored
// upsert as this node's own actor — used for genesis bootstrap records (root
// CIDR, self as admin peer) and, via SelfPut, for the node-originated peer
// updates described there.
func selfUp[V any](s *Store, m *crdt.Map[V], mapName string, entity Entity, key string, value V) error {
	actor := crdt.Actor(s.nodeAddr)
	dot := crdt.Dot{Actor: actor, Counter: s.nextCounter(mapName, actor, m.Clock()[actor])}
	payload, err := json.Marshal(struct {
		Entity Entity
		Key string
		Dot crdt.Dot
		Value V
	}{entity, key, dot, value})
	if err != nil {
		return err
	}
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	rawValue, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Apply(Envelope{
		Entity: entity,
		Op: WireOp{Kind: crdt.OpUp, Dot: dot, Key: key, Value: rawValue, Actor: actor, Signature: sig, Payload: payload},
	})
}

// SelfPut builds, signs, and applies an upsert this node originates itself
// rather than relaying on an authenticated caller's behalf — an admin
// marking a joined peer redeemed once its interface is up, or the heartbeat
// recording a peer's newly observed endpoint. It shares selfUp's
// genesis-bootstrap signing path, exported here for callers outside this
// package (pkg/overlay).
func SelfPut[V any](s *Store, m *crdt.Map[V], mapName string, entity Entity, key string, value V) error {
	return selfUp(s, m, mapName, entity, key, value)
}

// PutSigned builds a wire Up op from a value the caller already
// authenticated via the HTTP signature middleware, reusing that same
// signature as the op's own signature — the embedded-signature reuse
// the design describes for Account ("address is derivable from the
// signatures writing it") generalizes to every entity a client writes
// directly. dot.Counter is assigned from this store's view of actor's
// clock for mapName; concurrent writers racing on the same actor+map will
// have one lose the dominance check on merge, which is the intended
// at-most-once-per-dot semantics.
func PutSigned[V any](s *Store, m *crdt.Map[V], mapName string, entity Entity, key string, value V, actor auth.Address, payload, signature []byte) error {
	a := crdt.Actor(actor)
	s.mu.Lock()
	dot := crdt.Dot{Actor: a, Counter: s.localCounters[mapName+"/"+string(a)] + 1}
	if dot.Counter <= m.Clock()[a] {
		dot.Counter = m.Clock()[a] + 1
	}
	s.localCounters[mapName+"/"+string(a)] = dot.Counter
	s.mu.Unlock()

	rawValue, err := json.Marshal(value)
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, "encode op value", err)
	}
	env := Envelope{
		Entity: entity,
		Op: WireOp{
			Kind: crdt.OpUp,
			Dot: dot,
			Key: key,
			Value: rawValue,
			Actor: a,
			Signature: signature,
			Payload: payload,
		},
	}
	return s.Apply(env)
}

// RmSigned builds a wire Rm op tombstoning keys, reusing the caller's own
// HTTP signature the same way PutSigned does. The op's Clock merges the
// store's currently-observed clock for actor so the tombstone covers every
// dot that actor has written so far.
func RmSigned[V any](s *Store, m *crdt.Map[V], mapName string, entity Entity, keys []string, actor auth.Address, payload, signature []byte) error {
	a := crdt.Actor(actor)
	clock := crdt.VClock{a: m.Clock()[a]}
	env := Envelope{
		Entity: entity,
		Op: WireOp{
			Kind: crdt.OpRm,
			Keys: keys,
			Clock: clock,
			Actor: a,
			Signature: signature,
			Payload: payload,
		},
	}
	return s.Apply(env)
}

// Bootstrap synthesizes genesis records when the store has no peers and is
// starting from empty: a root CIDR spanning the whole overlay address
// space, and this node registered as the first admin peer.
func (s *Store) Bootstrap(wgPublicKey, endpoint string) error {
	if len(s.CIDRs.List()) == 0 {
		cidr := types.CIDR{Name: RootCIDRName, IPNet: RootCIDR}
		if err := selfUp(s, s.CIDRs, "cidrs", EntityCIDR, RootCIDRName, cidr); err != nil {
			return fmt.Errorf("bootstrap root cidr: %w", err)
		}
	}
	if len(s.Peers.List()) == 0 {
		peer := types.Peer{
			Name: string(s.nodeAddr),
			PublicKey: wgPublicKey,
			CIDRID: RootCIDRName,
			Endpoint: endpoint,
			IsAdmin: true,
			IsRedeemed: true,
		}
		if err := selfUp(s, s.Peers, "peers", EntityPeer, string(s.nodeAddr), peer); err != nil {
			return fmt.Errorf("bootstrap admin peer: %w", err)
		}
	}
	return nil
}

// FullState is the serializable bootstrap snapshot streamed by
// GET /bootstrap/full_state.
type FullState struct {
	Accounts crdt.Snapshot[types.Account] `json:"accounts"`
	Instances crdt.Snapshot[types.Instance] `json:"instances"`
	Nodes crdt.Snapshot[types.Node] `json:"nodes"`
	Peers crdt.Snapshot[types.Peer] `json:"peers"`
	CIDRs crdt.Snapshot[types.CIDR] `json:"cidrs"`
	DnsZones crdt.Snapshot[types.DnsZone] `json:"dns_zones"`
}

// Snapshot captures the current state of all six maps.
func (s *Store) Snapshot() FullState {
	return FullState{
		Accounts: s.Accounts.Snapshot(),
		Instances: s.Instances.Snapshot(),
		Nodes: s.Nodes.Snapshot(),
		Peers: s.Peers.Snapshot(),
		CIDRs: s.CIDRs.Snapshot(),
		DnsZones: s.DnsZones.Snapshot(),
	}
}

// LoadFullState replaces all six maps wholesale; used only when joining an
// existing mesh with no local state of its own.
func (s *Store) LoadFullState(full FullState) error {
	if err := s.Accounts.LoadSnapshot(full.Accounts); err != nil {
		return err
	}
	if err := s.Instances.LoadSnapshot(full.Instances); err != nil {
		return err
	}
	if err := s.Nodes.LoadSnapshot(full.Nodes); err != nil {
		return err
	}
	if err := s.Peers.LoadSnapshot(full.Peers); err != nil {
		return err
	}
	if err := s.CIDRs.LoadSnapshot(full.CIDRs); err != nil {
		return err
	}
	if err := s.DnsZones.LoadSnapshot(full.DnsZones); err != nil {
		return err
	}
	return nil
}
