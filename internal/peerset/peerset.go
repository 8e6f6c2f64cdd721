// Package peerset is the book of known peers: reputation, backoff,
// and connection accounting (spec.md §4.6). Grounded on the teacher's
// sync.RWMutex-guarded map idiom (internal/p2p/server.go's peers map)
// and on the registerPeer/unregisterPeer shape of go-ethereum's
// eth/peerset.go (retrieved in the pack under other_examples).
package peerset

import (
	"errors"
	"sync"
	"time"

	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/netlog"
	"github.com/empower1/netcore/internal/types"
)

// Errors mirror the teacher's sentinel-error convention
// (internal/p2p/manager.go's ErrManagerAlreadyRunning block).
var (
	ErrUnknownPeer = errors.New("peerset: peer not known")
)

const (
	initialBackoff = 10 * time.Second
	maxBackoff     = 30 * time.Minute
)

// Set is the keyed collection of PeerRecords plus the O(1) counters
// spec.md §4.6 requires.
type Set struct {
	mu    sync.RWMutex
	peers map[types.PeerId]*types.PeerRecord

	numActive    int
	numInbound   int
	numOutbound  int
	numBackedOff int

	log *zap.Logger
	now func() time.Time
}

// New creates an empty peer set.
func New() *Set {
	return &Set{
		peers: make(map[types.PeerId]*types.PeerRecord),
		log:   netlog.Component("peerset"),
		now:   time.Now,
	}
}

// AddKnown registers a new known address (AddPeerAddress, spec.md
// §4.1). A no-op if the peer is already known, matching the idempotent
// discovery/gossip-replay behavior needed by the Laws in spec.md §8.
func (s *Set) AddKnown(id types.PeerId, kind types.PeerKind, addr multiaddr.Multiaddr) *types.PeerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.peers[id]; ok {
		return r
	}
	r := &types.PeerRecord{PeerId: id, Kind: kind, State: types.StateIdle, Addr: addr}
	s.peers[id] = r
	return r
}

// RemovePeer removes a known peer. Idempotent: removing an unknown
// peer is a no-op and never errors (spec.md §8 Laws).
func (s *Set) RemovePeer(id types.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.peers[id]
	if !ok {
		return
	}
	s.removeActive(r)
	if r.State == types.StateBackedOff {
		s.numBackedOff--
	}
	delete(s.peers, id)
}

// Get returns a known peer's record, or nil.
func (s *Set) Get(id types.PeerId) *types.PeerRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers[id]
}

// GetReputation returns a known peer's reputation and whether it is
// known at all.
func (s *Set) GetReputation(id types.PeerId) (int32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.peers[id]
	if !ok {
		return 0, false
	}
	return r.Reputation, true
}

// IterPeers calls fn for a snapshot of every known peer record. fn
// must not mutate the record's connection-accounting fields directly;
// use the mutator methods so counters stay correct.
func (s *Set) IterPeers(fn func(*types.PeerRecord)) {
	s.mu.RLock()
	snapshot := make([]*types.PeerRecord, 0, len(s.peers))
	for _, r := range s.peers {
		snapshot = append(snapshot, r)
	}
	s.mu.RUnlock()
	for _, r := range snapshot {
		fn(r)
	}
}

// NumActivePeers, NumInboundConnections, NumOutboundConnections,
// NumKnownPeers and NumBackedOffPeers are the O(1) counters spec.md
// §4.6 names.
func (s *Set) NumActivePeers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numActive
}

func (s *Set) NumInboundConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numInbound
}

func (s *Set) NumOutboundConnections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numOutbound
}

func (s *Set) NumKnownPeers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Set) NumBackedOffPeers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numBackedOff
}

// removeActive un-accounts a connected peer's in/outbound counters and
// returns it to Idle. Caller holds s.mu.
func (s *Set) removeActive(r *types.PeerRecord) {
	if r.State != types.StateConnected {
		return
	}
	s.numActive--
	if r.ActiveDirection == types.Outgoing {
		s.numOutbound--
	} else {
		s.numInbound--
	}
	r.State = types.StateIdle
}
