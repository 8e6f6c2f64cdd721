package peerset

import (
	"time"

	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/types"
)

// MarkDialing transitions an Idle, addressed peer to PendingOut just
// before the Swarm is asked to dial it, so a second dial-scheduling
// pass doesn't pick the same peer twice.
func (s *Set) MarkDialing(id types.PeerId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok || r.State != types.StateIdle {
		return false
	}
	r.State = types.StatePendingOut
	return true
}

// OnOutgoingSessionEstablished accounts a newly-established outbound
// session and resets the peer's failure streak.
func (s *Set) OnOutgoingSessionEstablished(id types.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok {
		return
	}
	s.setActive(r, types.Outgoing)
	r.ConsecutiveFailures = 0
}

// OnIncomingSessionEstablished implements spec.md §4.6: if the peer
// was previously unknown, create a Dynamic record; if it is backed
// off, accept the session only when the peer is Trusted.
func (s *Set) OnIncomingSessionEstablished(id types.PeerId, addr multiaddr.Multiaddr) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok {
		r = &types.PeerRecord{PeerId: id, Kind: types.KindDynamic, State: types.StateIdle, Addr: addr}
		s.peers[id] = r
	}
	if r.State == types.StateBackedOff && r.Kind != types.KindTrusted {
		return false
	}
	s.setActive(r, types.Incoming)
	r.ConsecutiveFailures = 0
	return true
}

// setActive transitions r into Connected accounting. Caller holds s.mu.
func (s *Set) setActive(r *types.PeerRecord, dir types.Direction) {
	if r.State == types.StateConnected {
		return // replay safety: a second establish for an already-established peer is a no-op
	}
	if r.State == types.StateBackedOff {
		s.numBackedOff--
	}
	r.State = types.StateConnected
	r.ActiveDirection = dir
	r.BackoffUntil = nil
	s.numActive++
	if dir == types.Outgoing {
		s.numOutbound++
	} else {
		s.numInbound++
	}
}

// OnActiveSessionGracefullyClosed returns the peer to Idle with no
// reputation change (spec.md §4.6).
func (s *Set) OnActiveSessionGracefullyClosed(id types.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok {
		return
	}
	s.removeActive(r)
}

// OnActiveSessionDropped accounts the disconnect and applies the
// caller-supplied reputation change kind (spec.md §4.6). internal/manager
// passes Dropped for every session that closed with an error; peerset
// itself never inspects the error.
func (s *Set) OnActiveSessionDropped(id types.PeerId, kind types.ReputationChangeKind) {
	s.mu.Lock()
	r, ok := s.peers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.removeActive(r)
	s.mu.Unlock()
	s.logDropped(id, kind.String())
	s.ApplyReputationChange(id, kind)
}

// OnOutgoingConnectionFailure applies FailedToConnect and advances the
// peer's exponential backoff, keyed by its consecutive-failure count
// (spec.md §4.6).
func (s *Set) OnOutgoingConnectionFailure(id types.PeerId) {
	s.mu.Lock()
	r, ok := s.peers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.ConsecutiveFailures++
	strikes := r.ConsecutiveFailures
	if r.State == types.StatePendingOut {
		r.State = types.StateIdle
	}
	s.mu.Unlock()

	s.ApplyReputationChange(id, types.FailedToConnect)

	if r.Kind == types.KindTrusted {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok = s.peers[id]
	if !ok {
		return
	}
	s.backOff(r, strikes)
}

// ApplyReputationChange adds kind's delta, clamps to [RepMin, RepMax],
// and backs the peer off if reputation crosses BanThreshold (spec.md
// §4.6, §8 invariant 6). Reports disconnect=true when the peer had a
// live session that this call just banned off — "disconnect if
// active" is the caller's job (internal/manager owns the Session
// Manager; peerset does not), so the caller must act on the result.
func (s *Set) ApplyReputationChange(id types.PeerId, kind types.ReputationChangeKind) (disconnect bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok {
		return false
	}
	if kind == types.Reset {
		r.Reputation = 0
		r.ConsecutiveFailures = 0
		return false
	}
	r.Reputation += types.ReputationDelta[kind]
	if r.Reputation > types.RepMax {
		r.Reputation = types.RepMax
	}
	if r.Reputation < types.RepMin {
		r.Reputation = types.RepMin
	}
	if r.Reputation < types.BanThreshold && r.Kind != types.KindTrusted {
		wasActive := r.State == types.StateConnected
		s.removeActive(r)
		s.backOff(r, r.ConsecutiveFailures+1)
		return wasActive
	}
	return false
}

// backOff moves r into StateBackedOff with an exponential window.
// Caller holds s.mu. Trusted peers never back off (spec.md §3, §4.6).
func (s *Set) backOff(r *types.PeerRecord, strikes int) {
	if r.Kind == types.KindTrusted {
		return
	}
	if r.State != types.StateBackedOff {
		s.numBackedOff++
	}
	r.State = types.StateBackedOff
	until := s.now().Add(backoffWindow(strikes))
	r.BackoffUntil = &until
}

// backoffWindow doubles per strike, capped at maxBackoff.
func backoffWindow(strikes int) time.Duration {
	if strikes < 1 {
		strikes = 1
	}
	d := initialBackoff
	for i := 1; i < strikes && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// logDropped is a small helper kept here (rather than inline) so the
// zap import stays meaningfully used even as lifecycle.go grows.
func (s *Set) logDropped(id types.PeerId, reason string) {
	s.log.Debug("peer dropped", zap.String("peer", id.String()), zap.String("reason", reason))
}
