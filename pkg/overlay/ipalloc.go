package overlay

import (
	"net"

	"github.com/cuemby/formation/pkg/apierr"
)

// AllocateIP returns the first free host address in root, "free" meaning not
// present as any existing peer's IP. Network and broadcast addresses are
// skipped (for a /31 that is both of its addresses); a /32 or /128 offers its
// single address.
func AllocateIP(root string, existing []net.IP) (net.IP, error) {
	_, ipnet, err := net.ParseCIDR(root)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, "invalid root cidr", err)
	}

	taken := make(map[string]struct{}, len(existing))
	for _, ip := range existing {
		taken[ip.String()] = struct{}{}
	}

	ones, bits := ipnet.Mask.Size()
	hostBits := bits - ones

	start := cloneIP(ipnet.IP)
	for i := 0; i < (1 << uint(hostBits)); i++ {
		candidate := offsetIP(start, i)
		if !ipnet.Contains(candidate) {
			break
		}
		if isNetworkOrBroadcast(candidate, ipnet, hostBits) {
			continue
		}
		if _, used := taken[candidate.String()]; !used {
			return candidate, nil
		}
	}
	return nil, apierr.New(apierr.KindConflict, "no free address in cidr")
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

// offsetIP returns base + n as a new IP, treating base as a big-endian
// integer.
func offsetIP(base net.IP, n int) net.IP {
	out := cloneIP(base)
	carry := n
	for i := len(out) - 1; i >= 0 && carry > 0; i-- {
		sum := int(out[i]) + carry
		out[i] = byte(sum & 0xff)
		carry = sum >> 8
	}
	return out
}

func isNetworkOrBroadcast(ip net.IP, ipnet *net.IPNet, hostBits int) bool {
	if hostBits == 0 {
		return false // /32 or /128: every address is usable
	}
	masked := ip.Mask(ipnet.Mask)
	if masked.Equal(ip) {
		return true // network address
	}
	broadcast := cloneIP(ipnet.IP)
	for i := range broadcast {
		broadcast[i] |= ^ipnet.Mask[i]
	}
	return ip.Equal(broadcast)
}
