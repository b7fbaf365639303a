package lanlink

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	// DefaultServerPollInterval bounds each receive and accept attempt of the
	// server listener. The listener never sleeps, so this is also its reply
	// and accept latency.
	DefaultServerPollInterval = 5 * time.Millisecond

	// DefaultClientPollInterval is how long the collector waits for a reply
	// before checking the shutdown flag and the refresh timer again.
	DefaultClientPollInterval = 500 * time.Millisecond

	// DefaultRefreshInterval is how often a client re-broadcasts its query.
	DefaultRefreshInterval = 5 * time.Second
)

type options struct {
	group           netip.AddrPort
	bind            netip.Addr
	pollInterval    time.Duration
	refreshInterval time.Duration
	logger          *slog.Logger
	metrics         *Metrics
	clock           clock.Clock
}

// Option configures a Server or a Client.
type Option func(*options)

func newOptions(pollInterval time.Duration, opts []Option) options {
	o := options{
		group:           GroupAddr,
		bind:            BindAddress,
		pollInterval:    pollInterval,
		refreshInterval: DefaultRefreshInterval,
		logger:          logger,
		clock:           clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// WithGroup overrides the multicast group and port. The bind address follows
// the platform rule for the new group.
func WithGroup(group netip.AddrPort) Option {
	return func(o *options) {
		o.group = group
		o.bind = bindAddress(group.Addr())
	}
}

// WithPollInterval overrides the role's default poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithRefreshInterval sets how often a client repeats its query.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.refreshInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock sets the clock the client measures its refresh interval on.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
