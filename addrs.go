package lanlink

import "net/netip"

const (
	multicastGroupStr = "224.0.0.123"

	// Port is the UDP port used for discovery traffic by both roles.
	Port = 7678
)

var (
	// MulticastGroup is the IPv4 group queries and replies are sent to.
	MulticastGroup = netip.MustParseAddr(multicastGroupStr)

	// GroupAddr is MulticastGroup:Port.
	GroupAddr = netip.AddrPortFrom(MulticastGroup, Port)

	// BindAddress is the address discovery sockets bind to. It is the group
	// itself where the platform lets a receive socket bind to a multicast
	// address, and the unspecified address otherwise.
	BindAddress = bindAddress(MulticastGroup)
)
