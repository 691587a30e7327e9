package overlay

import (
	"encoding/binary"
	"net"
	"time"
)

// NatType is a coarse classification of the local NAT, following the
// classic STUN Open/Simple/Moderate/Difficult/Symmetric/Unknown taxonomy
// used as a proxy for relay necessity.
type NatType string

const (
	NatOpen NatType = "open" // publicly reachable, no NAT
	NatSimple NatType = "simple" // cone NAT, one mapped port for all peers
	NatModerate NatType = "moderate"
	NatDifficult NatType = "difficult"
	NatSymmetric NatType = "symmetric" // distinct mapping per destination
	NatUnknown NatType = "unknown"
)

// RequiresRelay reports whether t warrants enabling relay fallback, per
// the design: Open/Simple → off, everything else → on.
func (t NatType) RequiresRelay() bool {
	return t != NatOpen && t != NatSimple
}

const stunMagicCookie = 0x2112A442

// stunBindingRequest builds a minimal RFC 5389 Binding Request: 20-byte
// header, no attributes. This is sufficient to learn our reflexive
// transport address from a public STUN server without pulling in a full
// STUN client implementation.
func stunBindingRequest(transactionID [12]byte) []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint16(buf[0:2], 0x0001) // Binding Request
	binary.BigEndian.PutUint16(buf[2:4], 0) // message length, no attrs
	binary.BigEndian.PutUint32(buf[4:8], stunMagicCookie)
	copy(buf[8:20], transactionID[:])
	return buf
}

// parseXorMappedAddress extracts the XOR-MAPPED-ADDRESS attribute (type
// 0x0020) from a STUN Binding Response, the only attribute this detector
// reads.
func parseXorMappedAddress(msg []byte) (*net.UDPAddr, bool) {
	if len(msg) < 20 {
		return nil, false
	}
	body := msg[20:]
	for len(body) >= 4 {
		attrType := binary.BigEndian.Uint16(body[0:2])
		attrLen := int(binary.BigEndian.Uint16(body[2:4]))
		if 4+attrLen > len(body) {
			return nil, false
		}
		value := body[4: 4+attrLen]
		if attrType == 0x0020 && attrLen >= 8 {
			family := value[1]
			xport := binary.BigEndian.Uint16(value[2:4]) ^ uint16(stunMagicCookie>>16)
			if family == 0x01 { // IPv4
				var ip [4]byte
				magic := make([]byte, 4)
				binary.BigEndian.PutUint32(magic, stunMagicCookie)
				for i := 0; i < 4; i++ {
					ip[i] = value[4+i] ^ magic[i]
				}
				return &net.UDPAddr{IP: net.IP(ip[:]), Port: int(xport)}, true
			}
		}
		// attributes are padded to 4-byte boundaries
		advance := 4 + attrLen
		if pad := advance % 4; pad != 0 {
			advance += 4 - pad
		}
		body = body[advance:]
	}
	return nil, false
}

// probeOnce sends one Binding Request to server and returns the reflexive
// address it reports.
func probeOnce(server string, timeout time.Duration) (*net.UDPAddr, error) {
	conn, err := net.Dial("udp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	var txID [12]byte
	copy(txID[:], []byte("formation-nat"))
	if _, err := conn.Write(stunBindingRequest(txID)); err != nil {
		return nil, err
	}

	resp := make([]byte, 512)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, err
	}
	addr, ok := parseXorMappedAddress(resp[:n])
	if !ok {
		return nil, net.InvalidAddrError("no XOR-MAPPED-ADDRESS in STUN response")
	}
	return addr, nil
}

// DetectNatType sends one Binding Request to each of the first two STUN
// servers, each from its own socket, and compares only the reflexive ports
// they report: equal ports yield Simple, divergent ports yield Symmetric (a
// per-destination mapping, the hardest case for direct traversal). It never
// reports Open. Fewer than two servers or any probe failure yields Unknown
// rather than a false classification — this is a heuristic, not a
// guarantee, and RequiresRelay is true for Unknown.
func DetectNatType(servers []string) NatType {
	if len(servers) < 2 {
		return NatUnknown
	}
	a, errA := probeOnce(servers[0], 2*time.Second)
	b, errB := probeOnce(servers[1], 2*time.Second)
	if errA != nil || errB != nil {
		return NatUnknown
	}
	if a.Port == b.Port {
		return NatSimple
	}
	return NatSymmetric
}
