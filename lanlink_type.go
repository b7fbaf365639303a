package lanlink

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// ServerInfo is what a server publishes in reply to a discovery query.
// Name and PasswordRequired are carried as given; interpreting them is up to
// the application.
type ServerInfo struct {
	Name string
	// Address is the TCP endpoint clients dial after discovery. Nil when the
	// server does not advertise one.
	Address          *netip.AddrPort
	PasswordRequired bool
	// ID tells apart servers that share a name. NewServer assigns a random
	// one when it is empty.
	ID string
}

// Clone returns a copy that shares no memory with i.
func (i ServerInfo) Clone() ServerInfo {
	if i.Address != nil {
		addr := *i.Address
		i.Address = &addr
	}
	return i
}

func (i ServerInfo) String() string {
	if i.Address == nil {
		return i.Name
	}
	return fmt.Sprintf("%s@%s", i.Name, i.Address)
}

// Kind identifies the payload of a Message.
type Kind uint8

const (
	// KindServerList is a discovery query. It carries no payload.
	KindServerList Kind = iota + 1
	// KindServerInfo is a server's reply and carries its ServerInfo.
	KindServerInfo
)

func (k Kind) String() string {
	switch k {
	case KindServerList:
		return "ServerList"
	case KindServerInfo:
		return "ServerInfo"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Message is one discovery datagram. Info is set only for KindServerInfo.
type Message struct {
	Kind Kind
	Info *ServerInfo
}

// State is the lifecycle stage of a Server.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Server answers discovery queries and accepts the connections that follow.
type Server struct {
	opts options
	log  *slog.Logger

	// logLimit throttles logging of undecodable traffic and socket errors.
	logLimit *rate.Limiter

	mu       sync.Mutex
	info     ServerInfo
	conn     *multicastConn
	acceptor *net.TCPListener
	reply    []byte
	worker   *worker
	state    atomic.Int32

	conns registry[net.Conn]

	closeOnce sync.Once
	closeErr  error
}

// Client discovers servers on the local network.
type Client struct {
	opts     options
	log      *slog.Logger
	logLimit *rate.Limiter

	conn  *multicastConn
	query []byte

	// lastQuery is the clock reading of the last query broadcast, in
	// nanoseconds since the Unix epoch.
	lastQuery atomic.Int64
	closed    atomic.Bool
	worker    *worker

	servers registry[ServerInfo]

	closeOnce sync.Once
	closeErr  error
}
