package lanlink

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
)

// LevelTrace sits below slog.LevelDebug and is used for transient socket
// errors that are retried on the next poll.
const LevelTrace = slog.Level(-8)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func SetDebug() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// SetLogger replaces the package logger. Servers and clients capture it when
// they are constructed.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// outboundIPv4 returns the local address used to reach the outside world,
// or the first non-loopback IPv4 interface address when there is no route.
func outboundIPv4() (netip.Addr, error) {
	if conn, err := net.Dial("udp4", "8.8.8.8:53"); err == nil {
		defer conn.Close()
		if ip, ok := netip.AddrFromSlice(conn.LocalAddr().(*net.UDPAddr).IP); ok {
			return ip.Unmap(), nil
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ip, ok := netip.AddrFromSlice(ipnet.IP); ok && ip.Unmap().Is4() && !ip.IsLoopback() {
				return ip.Unmap(), nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("no usable IPv4 address")
}
