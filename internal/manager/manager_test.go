package manager

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/listener"
	"github.com/empower1/netcore/internal/netmetrics"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/peerset"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/swarm"
	"github.com/empower1/netcore/internal/types"
)

func testPeerId(s string) types.PeerId { return types.PeerId(peer.ID(s)) }

// stubBlockImport is never fed outcomes in these tests; unlike
// cmd/netloopd's nopBlockImport it records every Submit on submits so
// a test can check what reached the block-import pipeline.
type stubBlockImport struct {
	outcomes chan BlockImportOutcome
	submits  chan types.NewBlockMessage
}

func newStubBlockImport() *stubBlockImport {
	return &stubBlockImport{outcomes: make(chan BlockImportOutcome, 8), submits: make(chan types.NewBlockMessage, 8)}
}

func (b *stubBlockImport) Outcomes() <-chan BlockImportOutcome { return b.outcomes }
func (b *stubBlockImport) Submit(peer types.PeerId, msg types.NewBlockMessage) {
	b.submits <- msg
}

type testNode struct {
	self    types.PeerId
	sw      *swarm.Swarm
	mgr     *Manager
	handle  NetworkHandle
	imports *stubBlockImport
	metrics *netmetrics.Metrics
}

func newTestNode(t *testing.T, self types.PeerId, mode types.NetworkMode) *testNode {
	t.Helper()
	return newTestNodeWithLimits(t, self, mode, netstate.Limits{MaxOutbound: 10, MaxInbound: 10}, 16)
}

func newTestNodeWithLimits(t *testing.T, self types.PeerId, mode types.NetworkMode, limits netstate.Limits, ethReqCap int) *testNode {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln, err := listener.Bind(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	sessions := session.New(self, []types.Capability{{Name: "eth", Version: 68}}, types.Status{NetworkId: 1})
	peers := peerset.New()
	state := netstate.New(peers, [32]byte{}, mode, limits)
	sw := swarm.New(ln, sessions, state, nil)

	metrics := netmetrics.New(prometheus.NewRegistry())
	imports := newStubBlockImport()

	mgr, handle := New(sw, imports, Config{Mode: mode, EthRequestCapacity: ethReqCap, Metrics: metrics})
	node := &testNode{self: self, sw: sw, mgr: mgr, handle: handle, imports: imports, metrics: metrics}

	go mgr.Run(ctx)
	t.Cleanup(func() { cancel() })
	return node
}

func waitForNetworkEvent(t *testing.T, sink chan NetworkEvent, kind NetworkEventKind) NetworkEvent {
	t.Helper()
	for {
		select {
		case ev := <-sink:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for network event kind %d", kind)
		}
	}
}

func dialTo(t *testing.T, dialer, target *testNode) {
	t.Helper()
	addr, err := manet.FromNetAddr(target.sw.ListenerAddr())
	require.NoError(t, err)
	dialer.handle.AddPeerAddress(target.self, types.KindStatic, addr)
}

func TestManagerEstablishesSessionAndBroadcastsEvents(t *testing.T) {
	a := newTestNode(t, testPeerId("node-a"), types.ModePoW)
	b := newTestNode(t, testPeerId("node-b"), types.ModePoW)

	sinkA := make(chan NetworkEvent, 8)
	sinkB := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	b.handle.SubscribeEvents(sinkB)

	dialTo(t, a, b)

	evA := waitForNetworkEvent(t, sinkA, NetSessionEstablished)
	evB := waitForNetworkEvent(t, sinkB, NetSessionEstablished)

	assert.Equal(t, testPeerId("node-b"), evA.PeerId)
	assert.Equal(t, types.Outgoing, evA.Direction)
	assert.Equal(t, testPeerId("node-a"), evB.PeerId)
	assert.Equal(t, types.Incoming, evB.Direction)

	assert.Eventually(t, func() bool { return a.handle.ActivePeers() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return b.handle.ActivePeers() == 1 }, time.Second, 10*time.Millisecond)
}

func TestManagerAnnounceBlockReachesPeerAndSubmitsToBlockImport(t *testing.T) {
	a := newTestNode(t, testPeerId("announcer"), types.ModePoW)
	b := newTestNode(t, testPeerId("receiver"), types.ModePoW)

	sinkA := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	dialTo(t, a, b)
	waitForNetworkEvent(t, sinkA, NetSessionEstablished)

	block := &types.Block{Number: 1, Data: []byte("payload")}
	hash := types.Hash{0xAA}
	a.handle.AnnounceBlock(block, hash)

	require.Eventually(t, func() bool {
		select {
		case msg := <-b.imports.submits:
			assert.Equal(t, hash, msg.Hash)
			return true
		default:
			return false
		}
	}, 3*time.Second, 10*time.Millisecond, "the receiving node's block-import pipeline must see the announced block")
}

func TestManagerSuppressesBlockAnnounceInPoSMode(t *testing.T) {
	a := newTestNode(t, testPeerId("pos-announcer"), types.ModePoS)
	b := newTestNode(t, testPeerId("pos-receiver"), types.ModePoS)

	sinkA := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	dialTo(t, a, b)
	waitForNetworkEvent(t, sinkA, NetSessionEstablished)

	a.handle.AnnounceBlock(&types.Block{Number: 1}, types.Hash{0xBB})

	select {
	case msg := <-b.imports.submits:
		t.Fatalf("unexpected block import submission %+v in PoS mode", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestManagerGetPeerInfoAndReputationCommands(t *testing.T) {
	a := newTestNode(t, testPeerId("info-a"), types.ModePoW)
	b := newTestNode(t, testPeerId("info-b"), types.ModePoW)

	sinkA := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	dialTo(t, a, b)
	waitForNetworkEvent(t, sinkA, NetSessionEstablished)

	infos := <-a.handle.GetPeerInfo()
	require.Len(t, infos, 1)
	assert.Equal(t, testPeerId("info-b"), infos[0].PeerId)

	a.handle.ReputationChange(testPeerId("info-b"), types.BadMessage)
	rep := <-a.handle.GetReputation(testPeerId("info-b"))
	assert.Equal(t, types.ReputationDelta[types.BadMessage], rep)
}

func TestManagerShutdownDisconnectsAndStops(t *testing.T) {
	a := newTestNode(t, testPeerId("shutdown-a"), types.ModePoW)
	b := newTestNode(t, testPeerId("shutdown-b"), types.ModePoW)

	sinkA := make(chan NetworkEvent, 8)
	sinkB := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	b.handle.SubscribeEvents(sinkB)
	dialTo(t, a, b)
	waitForNetworkEvent(t, sinkA, NetSessionEstablished)
	waitForNetworkEvent(t, sinkB, NetSessionEstablished)

	done := make(chan struct{})
	a.handle.Shutdown(done)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	waitForNetworkEvent(t, sinkB, NetSessionClosed)
}

// TestManagerShedsEthRequestsOnlyAtCapacity exercises spec.md §8's
// "Eth-request backpressure" scenario: the eth-request channel is the
// sole place the core exerts backpressure by shedding (spec.md
// §5/§6), so filling it to capacity must drop exactly the requests
// beyond that capacity, never the ones that fit.
func TestManagerShedsEthRequestsOnlyAtCapacity(t *testing.T) {
	const capacity = 4
	a := newTestNode(t, testPeerId("eth-req-sender"), types.ModePoW)
	b := newTestNodeWithLimits(t, testPeerId("eth-req-receiver"), types.ModePoW,
		netstate.Limits{MaxOutbound: 10, MaxInbound: 10}, capacity)

	sinkA := make(chan NetworkEvent, 8)
	a.handle.SubscribeEvents(sinkA)
	dialTo(t, a, b)
	waitForNetworkEvent(t, sinkA, NetSessionEstablished)

	// Nothing drains b's eth-request channel in this test, so every
	// request sent from a accumulates there until full.
	for i := 0; i < capacity; i++ {
		a.handle.SendEthRequest(testPeerId("eth-req-receiver"), peermsg.EthRequest{
			Kind:   peermsg.ReqGetBlockHeaders,
			PeerId: testPeerId("eth-req-sender"),
		})
	}
	require.Eventually(t, func() bool {
		return len(b.mgr.EthRequests()) == capacity
	}, 3*time.Second, 10*time.Millisecond, "the first %d requests must all be queued, not dropped", capacity)

	a.handle.SendEthRequest(testPeerId("eth-req-receiver"), peermsg.EthRequest{
		Kind:   peermsg.ReqGetBlockHeaders,
		PeerId: testPeerId("eth-req-sender"),
	})

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.DroppedEthReqFull) == 1
	}, 3*time.Second, 10*time.Millisecond, "exactly one request beyond capacity must be dropped")
	assert.Equal(t, capacity, len(b.mgr.EthRequests()), "queued requests must not themselves be evicted by the drop")
}
