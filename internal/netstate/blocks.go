package netstate

import (
	"math"
	"math/rand/v2"

	"github.com/empower1/netcore/internal/types"
)

// OnNewBlockHashes records that peer has seen every hash in hashes, so
// a later announce doesn't re-send them (spec.md §4.4).
func (s *State) OnNewBlockHashes(peer types.PeerId, hashes []types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.seenSetLocked(peer)
	for _, h := range hashes {
		set[h] = struct{}{}
	}
}

// OnNewBlock records that peer has seen hash (the full-block variant).
func (s *State) OnNewBlock(peer types.PeerId, hash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seenSetLocked(peer)[hash] = struct{}{}
}

// UpdatePeerBlock records a validated-header observation by marking
// hash as seen by peer (a validated header is, by definition, seen).
// The block number is not stored.
func (s *State) UpdatePeerBlock(peer types.PeerId, hash types.Hash, number uint64) {
	s.OnNewBlock(peer, hash)
}

func (s *State) seenSetLocked(peer types.PeerId) map[types.Hash]struct{} {
	set, ok := s.seen[peer]
	if !ok {
		set = make(map[types.Hash]struct{})
		s.seen[peer] = set
	}
	return set
}

func (s *State) hasSeen(peer types.PeerId, hash types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[peer][hash]
	return ok
}

// connectedPeers returns every peer currently in StateConnected.
func (s *State) connectedPeers() []types.PeerId {
	var out []types.PeerId
	s.peers.IterPeers(func(r *types.PeerRecord) {
		if r.State == types.StateConnected {
			out = append(out, r.PeerId)
		}
	})
	return out
}

// AnnounceNewBlock selects a √N sample of connected peers (excluding
// ones that have already seen the hash) to receive the full block, and
// returns the remainder as hash-only targets (spec.md §4.4, the
// classic devp2p square-root-sample heuristic). In PoS mode both
// slices are empty — EIP-3675 suppresses block propagation (spec.md
// §4.5).
func (s *State) AnnounceNewBlock(msg types.NewBlockMessage) (full []types.PeerId, hashOnly []types.PeerId) {
	if s.mode.IsStake() {
		return nil, nil
	}
	candidates := s.unseenConnectedPeers(msg.Hash)
	if len(candidates) == 0 {
		return nil, nil
	}

	n := int(math.Ceil(math.Sqrt(float64(len(candidates)))))
	if n > len(candidates) {
		n = len(candidates)
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	full = candidates[:n]
	hashOnly = candidates[n:]

	s.mu.Lock()
	for _, p := range candidates {
		s.seenSetLocked(p)[msg.Hash] = struct{}{}
	}
	s.mu.Unlock()
	return full, hashOnly
}

// AnnounceNewBlockHash selects every connected peer that hasn't seen
// hash for a hash-only announce. In PoS mode it is suppressed.
func (s *State) AnnounceNewBlockHash(hash types.Hash) []types.PeerId {
	if s.mode.IsStake() {
		return nil
	}
	candidates := s.unseenConnectedPeers(hash)
	s.mu.Lock()
	for _, p := range candidates {
		s.seenSetLocked(p)[hash] = struct{}{}
	}
	s.mu.Unlock()
	return candidates
}

func (s *State) unseenConnectedPeers(hash types.Hash) []types.PeerId {
	var out []types.PeerId
	for _, p := range s.connectedPeers() {
		if !s.hasSeen(p, hash) {
			out = append(out, p)
		}
	}
	return out
}
