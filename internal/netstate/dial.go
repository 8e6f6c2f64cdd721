package netstate

import (
	"context"

	"github.com/empower1/netcore/internal/types"
)

// NextDial returns the peer id of the next outbound dial candidate
// (look its address up via Peers().Get), or ok=false if none qualifies
// right now: either no Idle peer has a known address,
// the outbound-connection ceiling MaxOutbound (plus trusted headroom
// for Trusted peers) is reached, the dial rate limiter has no tokens, or the Swarm is
// shutting down (spec.md §4.4, §8 invariant 4).
func (s *State) NextDial(ctx context.Context) (types.PeerId, bool) {
	if s.IsShuttingDown() {
		return types.PeerId{}, false
	}
	if !s.dialLimiter.Allow() {
		return types.PeerId{}, false
	}

	outbound := s.peers.NumOutboundConnections()
	ceiling := s.limits.MaxOutbound
	trustedCeiling := ceiling + trustedDialHeadroom

	var trusted, plain []types.PeerId
	s.peers.IterPeers(func(r *types.PeerRecord) {
		if r.State != types.StateIdle || r.Addr == nil {
			return
		}
		if r.Kind == types.KindTrusted {
			trusted = append(trusted, r.PeerId)
		} else {
			plain = append(plain, r.PeerId)
		}
	})

	if len(trusted) > 0 && outbound < trustedCeiling {
		return s.pickRoundRobin(trusted), true
	}
	if outbound >= ceiling {
		return types.PeerId{}, false
	}
	if len(plain) == 0 {
		return types.PeerId{}, false
	}
	return s.pickRoundRobin(plain), true
}

// pickRoundRobin advances a cursor across candidates so repeated calls
// don't always favor the same peer (spec.md §4.4 tie-break: "trusted
// first, then lowest backoff, then round-robin" — lowest-backoff
// candidates are already excluded upstream since only Idle peers with
// no active backoff window reach this list).
func (s *State) pickRoundRobin(candidates []types.PeerId) types.PeerId {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rrCursor = (s.rrCursor + 1) % len(candidates)
	return candidates[s.rrCursor]
}

// MarkDialing is a thin pass-through so callers don't need to import
// both netstate and peerset to advance a chosen candidate out of Idle.
func (s *State) MarkDialing(id types.PeerId) bool {
	return s.peers.MarkDialing(id)
}
