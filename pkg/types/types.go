// Package types defines the entity model replicated by the state store.
package types

import (
	"net"
	"time"
)

// AuthLevel orders the per-instance authorization hierarchy.
type AuthLevel int

const (
	AuthLevelReadOnly AuthLevel = iota
	AuthLevelOperator
	AuthLevelManager
	AuthLevelOwner
)

func (l AuthLevel) String() string {
	switch l {
	case AuthLevelReadOnly:
		return "ReadOnly"
	case AuthLevelOperator:
		return "Operator"
	case AuthLevelManager:
		return "Manager"
	case AuthLevelOwner:
		return "Owner"
	default:
		return "Unknown"
	}
}

// Account is the self-sovereign identity owning instances.
type Account struct {
	Address string `json:"address"` // hex eth address, 20 bytes
	OwnedInstances map[string]struct{} `json:"owned_instances"`
	AuthorizedInstances map[string]AuthLevel `json:"authorized_instances"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount returns an Account with initialized maps.
func NewAccount(address string) *Account {
	return &Account{
		Address: address,
		OwnedInstances: make(map[string]struct{}),
		AuthorizedInstances: make(map[string]AuthLevel),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// AuthLevelFor resolves the caller's authorization level against this account's
// instances: Owner if present in owned_instances, else whatever was explicitly
// granted, else ReadOnly.
func (a *Account) AuthLevelFor(instanceID string) AuthLevel {
	if _, owned := a.OwnedInstances[instanceID]; owned {
		return AuthLevelOwner
	}
	if lvl, ok := a.AuthorizedInstances[instanceID]; ok {
		return lvl
	}
	return AuthLevelReadOnly
}

// InstanceStatus is the lifecycle state of a hosted VM instance.
type InstanceStatus string

const (
	InstanceBuilding InstanceStatus = "Building"
	InstanceBuilt InstanceStatus = "Built"
	InstanceCreated InstanceStatus = "Created"
	InstanceStarted InstanceStatus = "Started"
	InstanceStopped InstanceStatus = "Stopped"
	InstanceFailed InstanceStatus = "Failed"
)

// InstanceResources is the requested capacity for an instance.
type InstanceResources struct {
	VCPUs int `json:"vcpus"`
	MemMB int64 `json:"mem_mb"`
	DiskGB int64 `json:"disk_gb"`
}

// Instance is a user workload tracked by the state store; it is a record of
// intent and status, not the hypervisor process itself.
type Instance struct {
	ID string `json:"id"`
	OwnerAddr string `json:"owner_address"`
	BuildID string `json:"build_id"`
	Status InstanceStatus `json:"status"`
	Resources InstanceResources `json:"resources"`
	FormnetIP net.IP `json:"formnet_ip"`
	HostNodeID string `json:"host_node_id"`
	HostRegion string `json:"host_region"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// statusRank gives InstanceStatus a partial order so monotonic-transition
// checks (everything but Started<->Stopped) can be validated cheaply.
var statusRank = map[InstanceStatus]int{
	InstanceBuilding: 0,
	InstanceBuilt: 1,
	InstanceCreated: 2,
	InstanceStarted: 3,
	InstanceStopped: 3, // Started and Stopped may freely alternate
	InstanceFailed: 4,
}

// ValidStatusTransition reports whether moving from `from` to `to` respects
// the monotonic-except-Started<->Stopped invariant in the design.
func ValidStatusTransition(from, to InstanceStatus) bool {
	if from == to {
		return true
	}
	if (from == InstanceStarted && to == InstanceStopped) ||
		(from == InstanceStopped && to == InstanceStarted) {
		return true
	}
	return statusRank[to] > statusRank[from]
}

// NodeAvailabilityStatus is the self-reported health of an operator node.
type NodeAvailabilityStatus string

const (
	NodeActive NodeAvailabilityStatus = "active"
	NodeDraining NodeAvailabilityStatus = "draining"
	NodeDown NodeAvailabilityStatus = "down"
)

// NodeAvailability is the mutable heartbeat portion of a Node record.
type NodeAvailability struct {
	Status NodeAvailabilityStatus `json:"status"`
	UptimeSeconds int64 `json:"uptime_seconds"`
	LoadPct int `json:"load_pct"` // load * 100
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// NodeCapacity is the advertised resource ceiling of an operator node.
type NodeCapacity struct {
	VCPUs int `json:"vcpus"`
	MemMB int64 `json:"mem_mb"`
	DiskGB int64 `json:"disk_gb"`
}

// NodeMetadata is free-form descriptive data about an operator node.
type NodeMetadata struct {
	Tags []string `json:"tags"`
	Roles []string `json:"roles"`
	Datacenter string `json:"datacenter"`
}

// Node is an operator-run process participating in the cluster. The key is
// the node's own Ethereum address; only that actor may write to its record.
type Node struct {
	NodeID string `json:"node_id"`
	PublicIP net.IP `json:"public_ip"`
	Capacity NodeCapacity `json:"capacity"`
	Availability NodeAvailability `json:"availability"`
	HostRegion string `json:"host_region"`
	Metadata NodeMetadata `json:"metadata"`
}

// Candidate is a possible WireGuard endpoint (IP:port) for a peer.
type Candidate struct {
	Endpoint string `json:"endpoint"`
	ObservedAt time.Time `json:"observed_at"`
}

// MaxCandidates bounds the per-peer candidate list (§5 resource limits).
const MaxCandidates = 30

// Peer is an overlay mesh member with a unique IP from the CIDR tree.
type Peer struct {
	Name string `json:"name"`
	PublicKey string `json:"public_key"` // base64 WireGuard pubkey
	IP net.IP `json:"ip"` // assigned overlay /32 address
	CIDRID string `json:"cidr_id"`
	Endpoint string `json:"endpoint"`
	Candidates []Candidate `json:"candidates"`
	IsAdmin bool `json:"is_admin"`
	IsDisabled bool `json:"is_disabled"`
	IsRedeemed bool `json:"is_redeemed"`
	InviteExpires time.Time `json:"invite_expires"`
}

// PushCandidate appends an endpoint, truncating to MaxCandidates (oldest
// dropped first), per the boundary behavior in the design.
func (p *Peer) PushCandidate(endpoint string) {
	p.Candidates = append(p.Candidates, Candidate{Endpoint: endpoint, ObservedAt: time.Now()})
	if len(p.Candidates) > MaxCandidates {
		p.Candidates = p.Candidates[len(p.Candidates)-MaxCandidates:]
	}
}

// CIDR is a named IP prefix forming a tree that carves the overlay address
// space; children are subsets of their parent.
type CIDR struct {
	Name string `json:"name"`
	IPNet string `json:"ipnet"` // e.g. "10.0.0.0/8"
	Parent *string `json:"parent,omitempty"`
}

// DnsRecordType distinguishes A answers from CNAME delegation.
type DnsRecordType string

const (
	DnsRecordA DnsRecordType = "A"
	DnsRecordCNAME DnsRecordType = "CNAME"
)

// VerificationStatus tracks vanity-domain ownership proof progress.
type VerificationStatus string

const (
	VerificationNotVerified VerificationStatus = "NotVerified"
	VerificationPending VerificationStatus = "Pending"
	VerificationVerified VerificationStatus = "Verified"
	VerificationFailed VerificationStatus = "Failed"
)

// DnsZone is a replicated record set served by the authoritative resolver.
type DnsZone struct {
	Domain string `json:"domain"` // FQDN, lowercase
	RecordType DnsRecordType `json:"record_type"`
	PublicIP []string `json:"public_ip"` // host:port style socket addrs
	FormnetIP []string `json:"formnet_ip"`
	CNAMETarget string `json:"cname_target,omitempty"`
	SSLCert bool `json:"ssl_cert"`
	TTL uint32 `json:"ttl"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationTimestamp time.Time `json:"verification_timestamp"`
	CreatedBy string `json:"created_by"` // owning account address
}

// Default TTLs per the design.
const (
	BootstrapTTL uint32 = 60
	UserTTL uint32 = 300
)

// APIKeyScope is the permission tier granted to an API key.
type APIKeyScope string

const (
	APIKeyReadOnly APIKeyScope = "ReadOnly"
	APIKeyReadWrite APIKeyScope = "ReadWrite"
	APIKeyAdmin APIKeyScope = "Admin"
)

// APIKeyStatus is the lifecycle state of an API key.
type APIKeyStatus string

const (
	APIKeyActive APIKeyStatus = "Active"
	APIKeyRevoked APIKeyStatus = "Revoked"
	APIKeyExpired APIKeyStatus = "Expired"
)

// MaxAuditEvents bounds the per-key audit ring buffer (§5 resource limits).
const MaxAuditEvents = 1000

// APIKeyAuditEvent records one use of an API key.
type APIKeyAuditEvent struct {
	At time.Time `json:"at"`
	Path string `json:"path"`
	Status int `json:"status"`
}

// APIKey is the alternate, signature-free authentication path (§4.3).
type APIKey struct {
	ID string `json:"id"` // "sk_<uuid>"
	Account string `json:"account"`
	Scope APIKeyScope `json:"scope"`
	Status APIKeyStatus `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IPAllowList []string `json:"ip_allow_list,omitempty"`
	Audit []APIKeyAuditEvent `json:"-"`
}

// RecordAudit appends an audit event, dropping the oldest once MaxAuditEvents
// is exceeded.
func (k *APIKey) RecordAudit(ev APIKeyAuditEvent) {
	k.Audit = append(k.Audit, ev)
	if len(k.Audit) > MaxAuditEvents {
		k.Audit = k.Audit[len(k.Audit)-MaxAuditEvents:]
	}
}
