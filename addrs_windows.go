package lanlink

import "net/netip"

// Windows refuses to bind a socket to a multicast address.
func bindAddress(netip.Addr) netip.Addr {
	return netip.IPv4Unspecified()
}
