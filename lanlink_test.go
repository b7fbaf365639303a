package lanlink

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, port uint16, info ServerInfo, opts ...Option) *Server {
	t.Helper()

	group := testGroup(port)
	requireMulticast(t, group)

	s, err := NewServer(info, append([]Option{WithGroup(group)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown() })
	return s
}

func loopbackInfo(s *Server) ServerInfo {
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), s.AcceptorAddr().Port())
	return ServerInfo{Name: s.Info().Name, Address: &addr}
}

func TestServer_Lifecycle(t *testing.T) {
	s := newTestServer(t, 17690, ServerInfo{Name: "ServerTest"})

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.AcceptorAddr().IsValid())
	assert.NotEmpty(t, s.Info().ID)

	require.NoError(t, s.Start())
	assert.Equal(t, StateListening, s.State())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	info := s.Info()
	require.NotNil(t, info.Address)
	assert.Equal(t, s.AcceptorAddr().Port(), info.Address.Port())
	assert.NotZero(t, info.Address.Port())

	require.NoError(t, s.Shutdown())
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Start(), ErrClosed)
	assert.NoError(t, s.Shutdown())
}

func TestServer_ShutdownWhileIdle(t *testing.T) {
	s := newTestServer(t, 17691, ServerInfo{Name: "idle"})

	require.NoError(t, s.Shutdown())
	assert.Equal(t, StateStopped, s.State())
	assert.ErrorIs(t, s.Start(), ErrClosed)
}

func TestServer_StartRejectsUndecodableInfo(t *testing.T) {
	tests := []struct {
		name string
		port uint16
		info ServerInfo
	}{
		{name: "invalid utf8 name", port: 17687, info: ServerInfo{Name: "\xff\xfe"}},
		{name: "invalid address", port: 17688, info: ServerInfo{Name: "ServerTest", Address: &netip.AddrPort{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.port, tt.info)

			err := s.Start()
			var opErr *OpError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, "encode server info", opErr.Op)
			assert.Equal(t, StateIdle, s.State())
			assert.False(t, s.AcceptorAddr().IsValid())
		})
	}
}

func TestServer_AdvertisedAddress(t *testing.T) {
	t.Run("port filled in", func(t *testing.T) {
		s := newTestServer(t, 17692, ServerInfo{Name: "a", Address: addrPtr("10.0.0.5:0")})
		require.NoError(t, s.Start())

		info := s.Info()
		assert.Equal(t, netip.MustParseAddr("10.0.0.5"), info.Address.Addr())
		assert.Equal(t, s.AcceptorAddr().Port(), info.Address.Port())
	})

	t.Run("explicit address kept", func(t *testing.T) {
		s := newTestServer(t, 17693, ServerInfo{Name: "b", Address: addrPtr("10.0.0.5:4444"), ID: "fixed"})
		require.NoError(t, s.Start())

		info := s.Info()
		assert.Equal(t, "10.0.0.5:4444", info.Address.String())
		assert.Equal(t, "fixed", info.ID)
	})
}

func TestServer_AcceptsConnection(t *testing.T) {
	m := NewMetrics(nil)
	s := newTestServer(t, 17694, ServerInfo{Name: "ServerTest"}, WithMetrics(m))
	require.NoError(t, s.Start())
	assert.Equal(t, 0, s.ConnectionCount())

	conn, err := Dial(context.Background(), loopbackInfo(s))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 },
		time.Second, DefaultServerPollInterval)

	time.Sleep(5 * DefaultServerPollInterval)
	assert.Equal(t, 1, s.ConnectionCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsAccepted))

	accepted := s.Connections()
	require.Len(t, accepted, 1)
	assert.Equal(t, conn.LocalAddr().String(), accepted[0].RemoteAddr().String())
}

func TestServer_ShutdownClosesConnections(t *testing.T) {
	s := newTestServer(t, 17695, ServerInfo{Name: "ServerTest"})
	require.NoError(t, s.Start())

	conn, err := Dial(context.Background(), loopbackInfo(s))
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.ConnectionCount() == 1 },
		time.Second, DefaultServerPollInterval)
	require.NoError(t, s.Shutdown())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestServer_RepliesToQuery(t *testing.T) {
	group := testGroup(17696)
	m := NewMetrics(nil)
	s := newTestServer(t, 17696, ServerInfo{Name: "ServerTest", PasswordRequired: true}, WithMetrics(m))
	require.NoError(t, s.Start())

	peer, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer peer.Close()

	// Foreign traffic first; the listener must survive it.
	require.NoError(t, peer.broadcast([]byte("Who is JellyfinServer?")))
	require.NoError(t, peer.broadcast(EncodeServerList()))

	want := s.Info()
	reply := waitForServerInfo(t, peer, want.ID)
	assert.Equal(t, want, reply)

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.QueriesReceived), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.RepliesSent), 1.0)
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.DecodeErrors) >= 1 },
		time.Second, DefaultServerPollInterval)
}

func TestServer_IgnoresQueriesBeforeStart(t *testing.T) {
	group := testGroup(17697)
	m := NewMetrics(nil)
	newTestServer(t, 17697, ServerInfo{Name: "idle"}, WithMetrics(m))

	peer, err := listenMulticast(logger, group, bindAddress(group.Addr()))
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, peer.broadcast(EncodeServerList()))
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(m.RepliesSent))
}

func TestServer_ShutdownIsBounded(t *testing.T) {
	s := newTestServer(t, 17698, ServerInfo{Name: "ServerTest"})
	require.NoError(t, s.Start())
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Shutdown())
	assert.Less(t, time.Since(start), 2*DefaultServerPollInterval+250*time.Millisecond)
}

// waitForServerInfo reads from c until a reply from the server with id
// arrives, ignoring queries and replies from anyone else.
func waitForServerInfo(t *testing.T, c *multicastConn, id string) ServerInfo {
	t.Helper()

	buf := make([]byte, recvBufferSize)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		n, _, err := c.receive(buf, 100*time.Millisecond)
		if err != nil {
			if isWouldBlock(err) {
				continue
			}
			require.NoError(t, err)
		}
		msg, err := Decode(buf[:n])
		if err != nil || msg.Kind != KindServerInfo || msg.Info.ID != id {
			continue
		}
		return *msg.Info
	}
	t.Fatalf("no reply from server %s", id)
	return ServerInfo{}
}

func TestServerInfo_Clone(t *testing.T) {
	orig := ServerInfo{Name: "a", Address: addrPtr("10.0.0.1:80")}
	clone := orig.Clone()

	*clone.Address = netip.MustParseAddrPort("10.0.0.2:81")
	assert.Equal(t, "10.0.0.1:80", orig.Address.String())
	assert.Equal(t, ServerInfo{}, ServerInfo{}.Clone())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}
