package lanlink

import (
	"bytes"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGroup gives a test its own discovery port so tests never hear each
// other or a live deployment.
func testGroup(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(MulticastGroup, port)
}

// requireMulticast skips the test when the host cannot join and send to
// group, e.g. a sandbox without any multicast-capable interface.
func requireMulticast(t *testing.T, group netip.AddrPort) {
	t.Helper()

	c, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	if err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer c.Close()

	if err := c.broadcast(EncodeServerList()); err != nil {
		t.Skipf("multicast send unavailable: %v", err)
	}
}

func TestListenMulticast_BindAndJoin(t *testing.T) {
	group := testGroup(17681)
	requireMulticast(t, group)

	c, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer c.Close()

	assert.Contains(t, c.localAddr().String(), ":17681")
}

func TestListenMulticast_LogsToGivenLogger(t *testing.T) {
	group := testGroup(17686)
	requireMulticast(t, group)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c, err := listenMulticast(log, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer c.Close()

	assert.Contains(t, buf.String(), "Joined discovery group")
	assert.Contains(t, buf.String(), "group=224.0.0.123:17686")
}

func TestListenMulticast_SharesPort(t *testing.T) {
	group := testGroup(17682)
	requireMulticast(t, group)

	a, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer a.Close()

	b, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer b.Close()
}

func TestMulticastConn_ReceiveWouldBlock(t *testing.T) {
	group := testGroup(17683)
	requireMulticast(t, group)

	c, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, recvBufferSize)
	start := time.Now()
	n, _, err := c.receive(buf, 20*time.Millisecond)

	assert.Zero(t, n)
	assert.True(t, isWouldBlock(err), "expected a timeout, got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMulticastConn_SendWithoutReceivers(t *testing.T) {
	group := testGroup(17684)
	requireMulticast(t, group)

	c, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.broadcast(EncodeServerList()))
}

func TestMulticastConn_Loopback(t *testing.T) {
	group := testGroup(17685)
	requireMulticast(t, group)

	sender, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer sender.Close()

	receiver, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer receiver.Close()

	query := EncodeServerList()
	require.NoError(t, sender.broadcast(query))

	buf := make([]byte, recvBufferSize)
	n, _, err := receiver.receive(buf, 2*time.Second)
	require.NoError(t, err)

	msg, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, KindServerList, msg.Kind)
}

func TestIsWouldBlock(t *testing.T) {
	assert.False(t, isWouldBlock(nil))
	assert.False(t, isWouldBlock(ErrClosed))
}
