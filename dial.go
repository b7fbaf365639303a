package lanlink

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"
)

// DefaultDialTimeout bounds a single Dial when ctx carries no deadline.
const DefaultDialTimeout = 5 * time.Second

// Dial opens a TCP connection to the acceptor info advertises. The server
// registers the other end of it.
func Dial(ctx context.Context, info ServerInfo) (net.Conn, error) {
	if info.Address == nil {
		return nil, ErrNoAddress
	}

	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", info.Address.String())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", info, err)
	}
	return conn, nil
}

// DialFirst tries candidates in order and returns the first connection that
// succeeds. Candidates that fail are skipped and their errors are combined
// into the returned error.
func DialFirst(ctx context.Context, candidates []ServerInfo) (net.Conn, ServerInfo, error) {
	var errs error
	for _, info := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, ServerInfo{}, multierr.Append(errs, err)
		}
		conn, err := Dial(ctx, info)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		return conn, info, nil
	}
	if errs == nil {
		errs = fmt.Errorf("no candidates")
	}
	return nil, ServerInfo{}, errs
}
