//go:build !windows

package lanlink

import "net/netip"

func bindAddress(group netip.Addr) netip.Addr {
	return group
}
