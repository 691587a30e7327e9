package overlay

import (
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/rs/zerolog"

	"github.com/cuemby/formation/pkg/log"
)

// Device wraps wgctrl.Client, scoped to the fixed formnet interface, driving
// the real kernel interface from join/heartbeat/NAT logic instead of
// printing example `wg` commands.
type Device struct {
	client *wgctrl.Client
}

// NewDevice opens the platform WireGuard control socket.
func NewDevice() (*Device, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wgctrl client: %w", err)
	}
	return &Device{client: client}, nil
}

func (d *Device) Close() error { return d.client.Close() }

// Configure brings up formnet with privateKey and listenPort, replacing any
// existing peer set. Interface creation itself (ip link add) is left to a
// platform-specific setup script; Device only ever speaks to an interface
// already present.
func (d *Device) Configure(privateKey wgtypes.Key, listenPort int) error {
	port := listenPort
	return d.client.ConfigureDevice(InterfaceName, wgtypes.Config{
		PrivateKey: &privateKey,
		ListenPort: &port,
		ReplacePeers: false,
	})
}

// UpsertPeer installs or updates a peer's public key, endpoint, and single
// /32 allowed-ip, per the design step 4.
func (d *Device) UpsertPeer(pubkey wgtypes.Key, endpoint *net.UDPAddr, allowedIP net.IPNet) error {
	keepalive := PersistentKeepalive
	return d.client.ConfigureDevice(InterfaceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: pubkey,
			Endpoint: endpoint,
			AllowedIPs: []net.IPNet{allowedIP},
			PersistentKeepaliveInterval: &keepalive,
			ReplaceAllowedIPs: true,
			UpdateOnly: false,
		}},
	})
}

// RemovePeer evicts a peer from the kernel interface, per a leave or a lost
// state-store record.
func (d *Device) RemovePeer(pubkey wgtypes.Key) error {
	return d.client.ConfigureDevice(InterfaceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: pubkey,
			Remove: true,
		}},
	})
}

// Peer mirrors the subset of wgtypes.Peer the NAT stepper and heartbeat
// loop need, decoupling callers from the wgctrl type directly.
type Peer struct {
	PublicKey wgtypes.Key
	Endpoint *net.UDPAddr
	LastHandshake time.Time
}

// ListPeers returns the kernel's current peer set for formnet.
func (d *Device) ListPeers() ([]Peer, error) {
	dev, err := d.client.Device(InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("query formnet device: %w", err)
	}
	out := make([]Peer, 0, len(dev.Peers))
	for _, p := range dev.Peers {
		out = append(out, Peer{
			PublicKey: p.PublicKey,
			Endpoint: p.Endpoint,
			LastHandshake: p.LastHandshakeTime,
		})
	}
	return out, nil
}

// SetEndpoint retargets pubkey's endpoint without touching allowed-ips,
// used by both the heartbeat scan and the NAT stepper.
func (d *Device) SetEndpoint(pubkey wgtypes.Key, endpoint *net.UDPAddr) error {
	return d.client.ConfigureDevice(InterfaceName, wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: pubkey,
			Endpoint: endpoint,
			UpdateOnly: true,
		}},
	})
}

func logger() zerolog.Logger { return log.WithComponent("overlay") }
