package lanlink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts discovery traffic for both roles.
type Metrics struct {
	QueriesReceived     prometheus.Counter
	QueriesSent         prometheus.Counter
	RepliesSent         prometheus.Counter
	DecodeErrors        prometheus.Counter
	SocketErrors        prometheus.Counter
	ConnectionsAccepted prometheus.Counter
	ServersDiscovered   prometheus.Counter
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		QueriesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_queries_received_total",
			Help: "Discovery queries received by the server listener",
		}),
		QueriesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_queries_sent_total",
			Help: "Discovery queries broadcast by clients",
		}),
		RepliesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_replies_sent_total",
			Help: "Server info replies broadcast to the group",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_decode_errors_total",
			Help: "Datagrams discarded because they did not decode",
		}),
		SocketErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_socket_errors_total",
			Help: "Socket errors other than timeouts seen by the poll loops",
		}),
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_connections_accepted_total",
			Help: "TCP connections accepted by the server acceptor",
		}),
		ServersDiscovered: f.NewCounter(prometheus.CounterOpts{
			Name: "lanlink_servers_discovered_total",
			Help: "Server info replies appended to a client's list",
		}),
	}
}
