package lanlink

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/google/uuid"
	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

const recvBufferSize = 2048

// NewServer binds the discovery socket and joins the group. The server stays
// idle, ignoring traffic, until Start is called.
func NewServer(info ServerInfo, opts ...Option) (*Server, error) {
	o := newOptions(DefaultServerPollInterval, opts)

	if info.ID == "" {
		info.ID = uuid.NewString()
	}

	conn, err := listenMulticast(o.logger, o.group, o.bind)
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:     o,
		log:      o.logger.With("role", "server", "name", info.Name),
		logLimit: newLogLimiter(),
		info:     info.Clone(),
		conn:     conn,
	}, nil
}

// Start opens the TCP acceptor, fixes the advertised address and launches
// the listener goroutine.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateIdle:
	case StateListening:
		return ErrAlreadyStarted
	default:
		return ErrClosed
	}

	acceptor, err := net.ListenTCP("tcp4", &net.TCPAddr{})
	if err != nil {
		return opError("listen acceptor", err)
	}

	s.advertise(uint16(acceptor.Addr().(*net.TCPAddr).Port))

	reply, err := EncodeServerInfo(s.info)
	if err != nil {
		acceptor.Close()
		return opError("encode server info", err)
	}

	s.acceptor = acceptor
	s.reply = reply
	s.state.Store(int32(StateListening))
	s.worker = spawn(s.listen)

	s.log.Info("Starting discovery listener",
		"group", s.opts.group.String(),
		"bind", s.conn.localAddr().String(),
		"acceptor", acceptor.Addr().String(),
		"advertise", s.info.Address.String())
	return nil
}

// advertise fills in whatever part of the advertised address the caller
// left open.
func (s *Server) advertise(port uint16) {
	switch {
	case s.info.Address == nil:
		ip, err := outboundIPv4()
		if err != nil {
			s.log.Warn("No routable IPv4 address, advertising loopback", "error", err)
			ip = netip.AddrFrom4([4]byte{127, 0, 0, 1})
		}
		addr := netip.AddrPortFrom(ip, port)
		s.info.Address = &addr
	case s.info.Address.Port() == 0:
		addr := netip.AddrPortFrom(s.info.Address.Addr(), port)
		s.info.Address = &addr
	}
}

func (s *Server) listen(stopped func() bool) {
	buf := make([]byte, recvBufferSize)
	for !stopped() {
		s.receiveQuery(buf)
		s.acceptConnection()
	}
	s.log.Debug("Discovery listener exited")
}

func (s *Server) receiveQuery(buf []byte) {
	n, from, err := s.conn.receive(buf, s.opts.pollInterval)
	if err != nil {
		s.socketError("receive", err)
		return
	}

	msg, err := Decode(buf[:n])
	if err != nil {
		s.opts.metrics.DecodeErrors.Inc()
		if s.logLimit.Allow() {
			s.log.Debug("Discarding undecodable datagram", "from", from.String(), "error", err)
		}
		return
	}
	// Replies from this or any other server echo back through the group.
	if msg.Kind != KindServerList {
		return
	}

	s.opts.metrics.QueriesReceived.Inc()
	s.log.Debug("Received discovery query", "from", from.String())

	// The reply goes to the whole group, not to the sender.
	if err := s.conn.broadcast(s.reply); err != nil {
		s.socketError("reply", err)
		return
	}
	s.opts.metrics.RepliesSent.Inc()
}

func (s *Server) acceptConnection() {
	if err := s.acceptor.SetDeadline(time.Now().Add(s.opts.pollInterval)); err != nil {
		s.socketError("accept", err)
		return
	}

	conn, err := s.acceptor.AcceptTCP()
	if err != nil {
		s.socketError("accept", err)
		return
	}

	count := s.conns.add(conn)
	s.opts.metrics.ConnectionsAccepted.Inc()
	s.log.Info("Accepted connection", "remote", conn.RemoteAddr().String(), "connections", count)
}

func (s *Server) socketError(op string, err error) {
	logSocketError(s.log, s.logLimit, s.opts.metrics, op, err)
}

// Shutdown stops the listener, waits for it to exit and then closes the
// sockets and every accepted connection. It may be called in any state and
// more than once.
func (s *Server) Shutdown() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		w := s.worker
		s.state.Store(int32(StateShuttingDown))
		s.mu.Unlock()

		s.log.Info("Shutting down discovery listener")
		if w != nil {
			w.stop()
		}

		var err error
		if s.acceptor != nil {
			err = multierr.Append(err, closeConn(s.acceptor))
		}
		err = multierr.Append(err, closeConn(s.conn))
		for _, c := range s.conns.snapshot() {
			err = multierr.Append(err, closeConn(c))
		}

		s.state.Store(int32(StateStopped))
		s.closeErr = err
	})
	return s.closeErr
}

func (s *Server) State() State {
	return State(s.state.Load())
}

// Info returns the advertised server info. The address is final once Start
// has returned.
func (s *Server) Info() ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone()
}

// AcceptorAddr returns the local address of the TCP acceptor, or the zero
// value before Start.
func (s *Server) AcceptorAddr() netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acceptor == nil {
		return netip.AddrPort{}
	}
	return s.acceptor.Addr().(*net.TCPAddr).AddrPort()
}

// Connections returns the accepted connections in accept order.
func (s *Server) Connections() []net.Conn {
	return s.conns.snapshot()
}

func (s *Server) ConnectionCount() int {
	return s.conns.len()
}

func newLogLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second), 5)
}

// logSocketError reports a poll loop error. Timeouts are the would-block
// case and stay silent; temporary errors go to trace level.
func logSocketError(log *slog.Logger, limit *rate.Limiter, m *Metrics, op string, err error) {
	switch {
	case isWouldBlock(err):
	case tec.ErrIsTemporary(err):
		log.Log(context.Background(), LevelTrace, "Transient socket error", "op", op, "error", err)
	default:
		m.SocketErrors.Inc()
		if limit.Allow() {
			log.Warn("Socket error", "op", op, "error", err)
		}
	}
}

type closer interface {
	Close() error
}

func closeConn(c closer) error {
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
