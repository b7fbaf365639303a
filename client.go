package lanlink

import (
	"context"
	"time"
)

// lookupInterval is how often Lookup rescans the discovered list.
const lookupInterval = 50 * time.Millisecond

// NewClient joins the discovery group, sends a first query and starts
// collecting replies in the background.
func NewClient(opts ...Option) (*Client, error) {
	o := newOptions(DefaultClientPollInterval, opts)

	conn, err := listenMulticast(o.logger, o.group, o.bind)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:     o,
		log:      o.logger.With("role", "client"),
		logLimit: newLogLimiter(),
		conn:     conn,
		query:    EncodeServerList(),
	}

	if err := c.sendQuery(); err != nil {
		conn.Close()
		return nil, opError("send discovery query", err)
	}

	c.worker = spawn(c.collect)
	c.log.Info("Started discovery client",
		"group", o.group.String(),
		"refresh", o.refreshInterval.String())
	return c, nil
}

func (c *Client) collect(stopped func() bool) {
	buf := make([]byte, recvBufferSize)
	for !stopped() {
		c.receiveReply(buf)

		if c.refreshDue() {
			if err := c.sendQuery(); err != nil {
				logSocketError(c.log, c.logLimit, c.opts.metrics, "query", err)
			}
		}
	}
	c.log.Debug("Discovery collector exited")
}

// receiveReply waits up to one poll interval for a datagram. The wait is
// the pause between polls.
func (c *Client) receiveReply(buf []byte) {
	n, from, err := c.conn.receive(buf, c.opts.pollInterval)
	if err != nil {
		logSocketError(c.log, c.logLimit, c.opts.metrics, "receive", err)
		return
	}

	msg, err := Decode(buf[:n])
	if err != nil {
		c.opts.metrics.DecodeErrors.Inc()
		if c.logLimit.Allow() {
			c.log.Debug("Discarding undecodable datagram", "from", from.String(), "error", err)
		}
		return
	}
	// Queries from this and other clients loop back through the group.
	if msg.Kind != KindServerInfo {
		return
	}

	info := msg.Info.Clone()
	count := c.servers.add(info)
	c.opts.metrics.ServersDiscovered.Inc()
	c.log.Debug("Discovered server", "server", info.String(), "id", info.ID, "from", from.String(), "entries", count)
}

func (c *Client) refreshDue() bool {
	last := time.Unix(0, c.lastQuery.Load())
	return c.opts.clock.Since(last) >= c.opts.refreshInterval
}

func (c *Client) sendQuery() error {
	if err := c.conn.broadcast(c.query); err != nil {
		return err
	}
	c.lastQuery.Store(c.opts.clock.Now().UnixNano())
	c.opts.metrics.QueriesSent.Inc()
	return nil
}

// Query broadcasts a discovery query now and restarts the refresh timer.
func (c *Client) Query() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.sendQuery()
}

// Servers returns every reply received so far, oldest first. A server that
// answered several queries appears several times.
func (c *Client) Servers() []ServerInfo {
	return c.servers.snapshot()
}

func (c *Client) Len() int {
	return c.servers.len()
}

// Lookup waits until a discovered entry satisfies match and returns it.
func (c *Client) Lookup(ctx context.Context, match func(ServerInfo) bool) (ServerInfo, error) {
	ticker := time.NewTicker(lookupInterval)
	defer ticker.Stop()

	seen := 0
	for {
		servers := c.servers.snapshot()
		for _, info := range servers[seen:] {
			if match(info) {
				return info, nil
			}
		}
		seen = len(servers)

		if c.closed.Load() {
			return ServerInfo{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return ServerInfo{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown stops the collector, waits for it to exit and closes the socket.
func (c *Client) Shutdown() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.log.Info("Shutting down discovery client", "entries", c.servers.len())
		c.worker.stop()
		c.closeErr = closeConn(c.conn)
	})
	return c.closeErr
}

// ByName matches servers advertising the given name.
func ByName(name string) func(ServerInfo) bool {
	return func(info ServerInfo) bool {
		return info.Name == name
	}
}
