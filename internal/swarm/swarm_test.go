package swarm

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/listener"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peerset"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/types"
)

func testPeerId(s string) types.PeerId { return types.PeerId(peer.ID(s)) }

func pollUntil(t *testing.T, sw *Swarm, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ev, ok := sw.TryNext(); ok {
			if ev.Kind == kind {
				return ev
			}
			continue
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for swarm event kind %d", kind)
	return Event{}
}

func newTestSwarm(t *testing.T, self types.PeerId) *Swarm {
	t.Helper()
	return newTestSwarmWithLimits(t, self, netstate.Limits{MaxOutbound: 10, MaxInbound: 10})
}

func newTestSwarmWithLimits(t *testing.T, self types.PeerId, limits netstate.Limits) *Swarm {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ln, err := listener.Bind(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	sessions := session.New(self, nil, types.Status{NetworkId: 1})
	peers := peerset.New()
	state := netstate.New(peers, [32]byte{}, types.ModePoW, limits)
	return New(ln, sessions, state, nil)
}

func TestSwarmAcceptsInboundConnectionAndEstablishesSession(t *testing.T) {
	local := newTestSwarm(t, testPeerId("local"))
	remoteSessions := session.New(testPeerId("remote"), nil, types.Status{NetworkId: 1})

	addr, err := net.ResolveTCPAddr("tcp", local.ListenerAddr().String())
	require.NoError(t, err)
	// The accepted side always runs the inbound (read-then-send)
	// handshake via the Swarm's own accept loop; the far end must run
	// the outbound (send-then-read) half or both sides block reading
	// first. Drive that half directly through the Session Manager
	// rather than raw net.Dial + OnIncoming.
	remoteSessions.Dial(context.Background(), testPeerId("local"), addr)

	pollUntil(t, local, EvIncomingTcpConnection)
	ev := pollUntil(t, local, EvSessionEstablished)
	assert.Equal(t, testPeerId("remote"), ev.PeerId)
	assert.Equal(t, types.Incoming, ev.Direction)
}

func TestSwarmDialingPeerEstablishesOutboundSession(t *testing.T) {
	remote := newTestSwarm(t, testPeerId("remote-listener"))
	local := newTestSwarm(t, testPeerId("local-dialer"))

	remoteNetAddr, err := net.ResolveTCPAddr("tcp", remote.ListenerAddr().String())
	require.NoError(t, err)

	peerId := testPeerId("remote-listener")
	local.NetState().Peers().AddKnown(peerId, types.KindStatic, nil)
	rec := local.NetState().Peers().Get(peerId)
	require.NotNil(t, rec)
	// NextDial/tryDial read rec.Addr as a multiaddr; for this
	// connectivity test we bypass dial scheduling and drive the
	// Session Manager directly at the net.Addr it would have resolved
	// to, since constructing a real multiaddr for an ephemeral port
	// adds nothing the NextDial path itself already covers in
	// internal/netstate's own tests.
	local.Sessions().Dial(context.Background(), peerId, remoteNetAddr)

	pollUntil(t, remote, EvIncomingTcpConnection)
	remoteEv := pollUntil(t, remote, EvSessionEstablished)
	assert.Equal(t, testPeerId("local-dialer"), remoteEv.PeerId)

	localEv := pollUntil(t, local, EvSessionEstablished)
	assert.Equal(t, testPeerId("remote-listener"), localEv.PeerId)
	assert.Equal(t, types.Outgoing, localEv.Direction)
}

func TestSwarmRejectsInboundConnectionOverMaxInbound(t *testing.T) {
	// SPEC_FULL.md §5 "Session limits enforcement": with MaxInbound
	// exhausted, an accepted TCP connection must be closed before it
	// ever reaches the Session Manager, so no session establishes.
	local := newTestSwarmWithLimits(t, testPeerId("capped-local"), netstate.Limits{MaxOutbound: 10, MaxInbound: 0})
	remoteSessions := session.New(testPeerId("capped-remote"), nil, types.Status{NetworkId: 1})

	addr, err := net.ResolveTCPAddr("tcp", local.ListenerAddr().String())
	require.NoError(t, err)
	remoteSessions.Dial(context.Background(), testPeerId("capped-local"), addr)

	pollUntil(t, local, EvIncomingTcpConnection)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if ev, ok := local.TryNext(); ok {
			if ev.Kind == EvSessionEstablished {
				t.Fatalf("session established despite MaxInbound=0")
			}
		} else {
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSwarmRemovePeerQueuesPeerRemovedEvent(t *testing.T) {
	sw := newTestSwarm(t, testPeerId("owner"))
	id := testPeerId("known-peer")
	sw.NetState().Peers().AddKnown(id, types.KindDynamic, nil)

	sw.RemovePeer(id)

	ev := pollUntil(t, sw, EvPeerRemoved)
	assert.Equal(t, id, ev.PeerId)
	assert.Nil(t, sw.NetState().Peers().Get(id))
}

func TestSetShuttingDownClosesListenerAndStopsDialing(t *testing.T) {
	sw := newTestSwarm(t, testPeerId("shutdown-owner"))
	assert.Equal(t, Active, sw.State())

	sw.SetShuttingDown()
	assert.Equal(t, ShuttingDown, sw.State())
	assert.True(t, sw.NetState().IsShuttingDown())

	// Idempotent: a second call must not panic or double-close.
	assert.NotPanics(t, sw.SetShuttingDown)
}
