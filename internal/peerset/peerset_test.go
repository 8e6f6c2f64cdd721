package peerset

import (
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"

	"github.com/empower1/netcore/internal/types"
)

func testPeer(s string) types.PeerId { return types.PeerId(peer.ID(s)) }

func TestOutgoingSessionAccounting(t *testing.T) {
	s := New()
	id := testPeer("outbound-peer")
	s.AddKnown(id, types.KindDynamic, nil)

	assert.True(t, s.MarkDialing(id))
	s.OnOutgoingSessionEstablished(id)

	assert.Equal(t, 1, s.NumActivePeers())
	assert.Equal(t, 1, s.NumOutboundConnections())
	assert.Equal(t, 0, s.NumInboundConnections())

	s.OnActiveSessionGracefullyClosed(id)
	assert.Equal(t, 0, s.NumActivePeers())
	rep, ok := s.GetReputation(id)
	assert.True(t, ok)
	assert.Equal(t, int32(0), rep, "graceful close applies no reputation change")
}

func TestIncomingSessionCreatesUnknownPeerAsDynamic(t *testing.T) {
	s := New()
	id := testPeer("unexpected-inbound")

	accepted := s.OnIncomingSessionEstablished(id, nil)
	assert.True(t, accepted)
	assert.Equal(t, 1, s.NumInboundConnections())

	r := s.Get(id)
	assert.NotNil(t, r)
	assert.Equal(t, types.KindDynamic, r.Kind)
}

func TestBackedOffPeerRejectsIncomingUnlessTrusted(t *testing.T) {
	s := New()
	dynamic := testPeer("dynamic-backed-off")
	s.AddKnown(dynamic, types.KindDynamic, nil)
	for i := 0; i < 10; i++ {
		s.OnOutgoingConnectionFailure(dynamic)
	}
	assert.Equal(t, 1, s.NumBackedOffPeers())
	assert.False(t, s.OnIncomingSessionEstablished(dynamic, nil))

	trusted := testPeer("trusted-backed-off")
	s.AddKnown(trusted, types.KindTrusted, nil)
	// ApplyReputationChange would normally back a peer off once it
	// crosses BanThreshold, but Trusted peers never enter
	// StateBackedOff (spec.md §3) so this is a no-op on r.State.
	for i := 0; i < 10; i++ {
		s.ApplyReputationChange(trusted, types.BadProtocol)
	}
	assert.True(t, s.OnIncomingSessionEstablished(trusted, nil))
}

func TestReputationClampsAndBansBelowThreshold(t *testing.T) {
	s := New()
	id := testPeer("reputation-peer")
	s.AddKnown(id, types.KindDynamic, nil)
	s.OnOutgoingSessionEstablished(id)

	for i := 0; i < 5; i++ {
		s.ApplyReputationChange(id, types.BadProtocol)
	}

	rep, ok := s.GetReputation(id)
	assert.True(t, ok)
	assert.Equal(t, types.RepMin, rep, "reputation clamps at RepMin")
	assert.Equal(t, 1, s.NumBackedOffPeers())
	assert.Equal(t, 0, s.NumActivePeers(), "crossing BanThreshold tears down the active session")
}

func TestOutgoingConnectionFailureBacksOffExponentially(t *testing.T) {
	s := New()
	id := testPeer("flaky-dial-target")
	s.AddKnown(id, types.KindDynamic, nil)

	s.OnOutgoingConnectionFailure(id)
	first := s.Get(id).BackoffUntil
	assert.NotNil(t, first)

	s.OnOutgoingConnectionFailure(id)
	second := s.Get(id).BackoffUntil
	assert.True(t, second.After(*first) || second.Equal(*first),
		"a second consecutive failure must not shrink the backoff window")
}

func TestResetClearsReputationAndFailureStreak(t *testing.T) {
	s := New()
	id := testPeer("reset-peer")
	s.AddKnown(id, types.KindDynamic, nil)
	s.OnOutgoingConnectionFailure(id)
	s.ApplyReputationChange(id, types.BadMessage)

	s.ApplyReputationChange(id, types.Reset)

	rep, _ := s.GetReputation(id)
	assert.Equal(t, int32(0), rep)
	assert.Equal(t, 0, s.Get(id).ConsecutiveFailures)
}

func TestRemovePeerIsIdempotent(t *testing.T) {
	s := New()
	id := testPeer("ephemeral")
	s.AddKnown(id, types.KindDynamic, nil)
	s.RemovePeer(id)
	assert.NotPanics(t, func() { s.RemovePeer(id) })
	assert.Equal(t, 0, s.NumKnownPeers())
}

func TestIsBackedOffRespectsWindow(t *testing.T) {
	r := &types.PeerRecord{State: types.StateBackedOff}
	future := time.Now().Add(time.Minute)
	r.BackoffUntil = &future
	assert.True(t, r.IsBackedOff(time.Now()))

	past := time.Now().Add(-time.Minute)
	r.BackoffUntil = &past
	assert.False(t, r.IsBackedOff(time.Now()))
}
