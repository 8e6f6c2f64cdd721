package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

func testPeerId(s string) types.PeerId { return types.PeerId(peer.ID(s)) }

// pairViaPipe wires mgrA's inbound handshake path to mgrB's outbound
// handshake path over an in-memory net.Pipe, exactly the way the
// teacher's server_test.go wires two Servers through handleConn
// (internal/network/server_test.go) — substituting a direct
// runOutboundHandshake call for Dial, since net.Pipe has no dialable
// address.
func pairViaPipe(t *testing.T, mgrA, mgrB *Manager) {
	t.Helper()
	connA, connB := net.Pipe()

	mgrA.OnIncoming(connA)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ps := &pendingSession{id: types.NewSessionId(), conn: connB, direction: types.Outgoing, peerHint: mgrA.self, cancel: cancel}
	mgrB.mu.Lock()
	mgrB.pending[ps.id] = ps
	mgrB.mu.Unlock()
	mgrB.wg.Add(1)
	go func() {
		defer mgrB.wg.Done()
		mgrB.runOutboundHandshake(ctx, ps)
	}()
}

func waitForKind(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestHandshakeEstablishesSessionBothSides(t *testing.T) {
	selfA, selfB := testPeerId("node-a"), testPeerId("node-b")
	mgrA := New(selfA, []types.Capability{{Name: "eth", Version: 68}}, types.Status{NetworkId: 1})
	mgrB := New(selfB, []types.Capability{{Name: "eth", Version: 68}}, types.Status{NetworkId: 1})

	pairViaPipe(t, mgrA, mgrB)

	evA := waitForKind(t, mgrA.Events(), EvSessionEstablished)
	evB := waitForKind(t, mgrB.Events(), EvSessionEstablished)

	assert.Equal(t, selfB, evA.PeerId)
	assert.Equal(t, types.Incoming, evA.Direction)
	assert.Equal(t, selfA, evB.PeerId)
	assert.Equal(t, types.Outgoing, evB.Direction)

	infoA, ok := mgrA.GetPeerInfoByID(selfB)
	require.True(t, ok)
	assert.Equal(t, selfB, infoA.PeerId)
}

func TestSendMessageDeliversValidMessage(t *testing.T) {
	selfA, selfB := testPeerId("sender"), testPeerId("receiver")
	ethCap := []types.Capability{{Name: "eth", Version: 68}}
	mgrA := New(selfA, ethCap, types.Status{NetworkId: 7})
	mgrB := New(selfB, ethCap, types.Status{NetworkId: 7})

	pairViaPipe(t, mgrA, mgrB)
	waitForKind(t, mgrA.Events(), EvSessionEstablished)
	waitForKind(t, mgrB.Events(), EvSessionEstablished)

	hash := types.Hash{1, 2, 3}
	mgrA.SendMessage(selfB, types.PeerMessageOut{Kind: "new_block_hashes", Payload: []types.Hash{hash}})

	ev := waitForKind(t, mgrB.Events(), EvValidMessage)
	require.NotNil(t, ev.Msg)
	assert.Equal(t, peermsg.KindNewBlockHashes, ev.Msg.Kind)
	assert.Equal(t, []types.Hash{hash}, ev.Msg.NewBlockHashes)
}

func TestMessageOutsideNegotiatedCapabilityIsRejected(t *testing.T) {
	selfA, selfB := testPeerId("no-cap-sender"), testPeerId("no-cap-receiver")
	// Neither side negotiates "eth"; a sub-protocol message must be
	// flagged rather than treated as valid (spec.md §4.5's
	// InvalidCapabilityMessage row).
	mgrA := New(selfA, nil, types.Status{})
	mgrB := New(selfB, nil, types.Status{})

	pairViaPipe(t, mgrA, mgrB)
	waitForKind(t, mgrA.Events(), EvSessionEstablished)
	waitForKind(t, mgrB.Events(), EvSessionEstablished)

	mgrA.SendMessage(selfB, types.PeerMessageOut{Kind: "new_block_hashes", Payload: []types.Hash{{9}}})

	ev := waitForKind(t, mgrB.Events(), EvInvalidCapabilityMessage)
	assert.Equal(t, selfA, ev.PeerId)
}

func TestInboundSendTransactionsIsAProtocolBreach(t *testing.T) {
	selfA, selfB := testPeerId("breach-sender"), testPeerId("breach-receiver")
	mgrA := New(selfA, nil, types.Status{})
	mgrB := New(selfB, nil, types.Status{})

	pairViaPipe(t, mgrA, mgrB)
	waitForKind(t, mgrA.Events(), EvSessionEstablished)
	waitForKind(t, mgrB.Events(), EvSessionEstablished)

	// SendTransactions is an outbound-only announce variant; its
	// arrival on the wire is treated as a breach, not a valid message.
	mgrA.SendMessage(selfB, types.PeerMessageOut{Kind: "transaction", Payload: []byte("rlp-bytes")})

	ev := waitForKind(t, mgrB.Events(), EvProtocolBreach)
	assert.Equal(t, selfA, ev.PeerId)
}

func TestDisconnectTearsDownSession(t *testing.T) {
	selfA, selfB := testPeerId("closer"), testPeerId("closee")
	mgrA := New(selfA, nil, types.Status{})
	mgrB := New(selfB, nil, types.Status{})

	pairViaPipe(t, mgrA, mgrB)
	waitForKind(t, mgrA.Events(), EvSessionEstablished)
	waitForKind(t, mgrB.Events(), EvSessionEstablished)

	mgrA.Disconnect(selfB, types.DisconnectRequested)

	waitForKind(t, mgrA.Events(), EvSessionClosed)
	waitForKind(t, mgrB.Events(), EvSessionClosed)

	_, ok := mgrA.GetPeerInfoByID(selfB)
	assert.False(t, ok)
}

func TestAtMostOneSessionPerPeerSecondHandshakeLoses(t *testing.T) {
	selfA, selfB := testPeerId("race-a"), testPeerId("race-b")
	mgrA := New(selfA, nil, types.Status{})
	mgrB := New(selfB, nil, types.Status{})

	pairViaPipe(t, mgrA, mgrB)
	waitForKind(t, mgrA.Events(), EvSessionEstablished)
	waitForKind(t, mgrB.Events(), EvSessionEstablished)

	// A second connection attempt between the same two peers must lose
	// the at-most-one-session-per-peer rule (spec.md §4.3: first-
	// established wins). Both sides already hold the first session, so
	// either side's pending-session-closed event shows the loss.
	connA2, connB2 := net.Pipe()
	mgrA.OnIncoming(connA2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ps := &pendingSession{id: types.NewSessionId(), conn: connB2, direction: types.Outgoing, peerHint: selfA, cancel: cancel}
	mgrB.mu.Lock()
	mgrB.pending[ps.id] = ps
	mgrB.mu.Unlock()
	mgrB.wg.Add(1)
	go func() {
		defer mgrB.wg.Done()
		mgrB.runOutboundHandshake(ctx, ps)
	}()

	var gotLoss bool
	for i := 0; i < 8 && !gotLoss; i++ {
		select {
		case ev := <-mgrA.Events():
			if ev.Kind == EvIncomingPendingSessionClosed {
				gotLoss = true
			}
		case ev := <-mgrB.Events():
			if ev.Kind == EvOutgoingPendingSessionClosed {
				gotLoss = true
			}
		case <-time.After(2 * time.Second):
			i = 8
		}
	}
	assert.True(t, gotLoss, "the losing side of the race must surface a pending-session-closed event")
}
