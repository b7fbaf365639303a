package lanlink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/net/ipv4"
)

// multicastConn is a UDP socket bound to the discovery port and joined to
// the discovery group.
type multicastConn struct {
	udp   *net.UDPConn
	pc    *ipv4.PacketConn
	group *net.UDPAddr
}

func listenMulticast(log *slog.Logger, group netip.AddrPort, bind netip.Addr) (*multicastConn, error) {
	lc := net.ListenConfig{Control: reuseControl}
	laddr := netip.AddrPortFrom(bind, group.Port()).String()

	conn, err := lc.ListenPacket(context.Background(), "udp4", laddr)
	if err != nil {
		return nil, opError("bind discovery socket", err)
	}
	udp := conn.(*net.UDPConn)

	c := &multicastConn{
		udp:   udp,
		pc:    ipv4.NewPacketConn(udp),
		group: net.UDPAddrFromAddrPort(group),
	}

	if err := c.join(); err != nil {
		udp.Close()
		return nil, opError("join multicast group", err)
	}
	if err := c.pc.SetMulticastLoopback(true); err != nil {
		udp.Close()
		return nil, opError("enable multicast loopback", err)
	}
	if err := c.pc.SetMulticastTTL(1); err != nil {
		udp.Close()
		return nil, opError("set multicast ttl", err)
	}

	log.Debug("Joined discovery group", "group", group.String(), "bind", laddr)
	return c, nil
}

// join subscribes on every up, multicast-capable interface and falls back
// to the system default interface when none accepts the membership.
func (c *multicastConn) join() error {
	var errs error
	joined := 0

	ifaces, err := net.Interfaces()
	if err != nil {
		errs = multierr.Append(errs, err)
	}
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := c.pc.JoinGroup(ifi, c.group); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ifi.Name, err))
			continue
		}
		joined++
	}
	if joined > 0 {
		return nil
	}

	if err := c.pc.JoinGroup(nil, c.group); err != nil {
		return multierr.Append(errs, fmt.Errorf("default interface: %w", err))
	}
	return nil
}

// receive waits at most timeout for one datagram. A timeout is reported as
// an error for which isWouldBlock is true.
func (c *multicastConn) receive(buf []byte, timeout time.Duration) (int, net.Addr, error) {
	if err := c.pc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, nil, err
	}
	n, _, src, err := c.pc.ReadFrom(buf)
	return n, src, err
}

// broadcast sends b to the discovery group.
func (c *multicastConn) broadcast(b []byte) error {
	_, err := c.pc.WriteTo(b, nil, c.group)
	return err
}

func (c *multicastConn) localAddr() net.Addr {
	return c.udp.LocalAddr()
}

func (c *multicastConn) Close() error {
	return c.udp.Close()
}

func isWouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
