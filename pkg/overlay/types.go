// Package overlay maintains the WireGuard mesh: join/leave of peers,
// periodic endpoint discovery, NAT traversal, and relay fallback. It
// drives the kernel WireGuard device through wgctrl.Client.
package overlay

import "time"

// InterfaceName is the fixed formnet WireGuard interface name.
const InterfaceName = "formnet"

// ListenPort is the default WireGuard UDP listen port.
const ListenPort = 51820

// PersistentKeepalive is the default keepalive interval for NAT'd peers.
const PersistentKeepalive = 25 * time.Second

// InviteTTL is how long an unredeemed join invite remains valid.
const InviteTTL = 24 * time.Hour

// StepInterval is how long the NAT stepper dwells on each candidate before
// advancing to the next.
const StepInterval = 1 * time.Second

// PollInterval is how often the NAT stepper polls the interface for a
// successful handshake while dwelling on a candidate.
const PollInterval = 100 * time.Millisecond

// HoldDown is how recently a peer must have handshaked to be considered
// "recently connected" and skipped by the NAT stepper.
const HoldDown = 2*time.Minute + 20*time.Second // > 2x PersistentKeepalive

// RefreshInterval is the heartbeat/endpoint-scan cadence.
const RefreshInterval = 10 * time.Second

// JoinRequest is a new peer's signed bootstrap request to an admin.
type JoinRequest struct {
	PeerID string `json:"peer_id"`
	PublicKey string `json:"public_key"` // base64 WireGuard pubkey
	ReportedEndpoints []string `json:"reported_endpoints"`
}

// InterfaceConfig is what an admin hands back to a newly joined peer: enough
// to bring up its own WireGuard interface and reach the admin.
type InterfaceConfig struct {
	InterfaceName string `json:"interface_name"`
	AssignedIP string `json:"assigned_ip"` // CIDR, e.g. "10.0.0.5/32"
	ServerPublicKey string `json:"server_pubkey"`
	ServerExternalEndpoint string `json:"server_external_endpoint"`
	ServerInternalEndpoint string `json:"server_internal_endpoint"`
}

// LeaveRequest marks a peer disabled, either self-signed or admin-forced.
type LeaveRequest struct {
	PeerName string `json:"peer_name"`
	Forced bool `json:"forced"`
}
