package netstate

import (
	"github.com/multiformats/go-multiaddr"

	"github.com/empower1/netcore/internal/types"
)

// DiscoveredEvent is one record surfaced by the (external) discovery
// driver (spec.md §6): a peer id, its socket address, and an optional
// fork id if the discovery protocol carries one (e.g. discv5 ENR).
type DiscoveredEvent struct {
	PeerId types.PeerId
	Addr   multiaddr.Multiaddr
	ForkId *types.ForkId
}

// Discovery is the external collaborator's interface (spec.md §1: "Peer
// discovery ... produces a stream of discovered nodes"). A concrete
// discv4/discv5/DNS driver satisfies it elsewhere; netstate only
// consumes the stream, one event at a time, from the Swarm's single
// poll thread (spec.md §5: Network State is mutated only inside the
// Manager's poll).
type Discovery interface {
	Events() <-chan DiscoveredEvent
}

// IngestDiscovered joins one discovery record with the peer set,
// returning the record if it resulted in a newly-known peer (nil if
// the peer was already known, or if shutting down). Called
// synchronously from the Swarm's event loop — never from a background
// goroutine — so it respects the single-writer rule in spec.md §5.
func (s *State) IngestDiscovered(ev DiscoveredEvent) *types.PeerRecord {
	if s.IsShuttingDown() {
		return nil // spec.md §8 invariant 4: no AddPeerAddress effect while shutting down
	}
	before := s.peers.Get(ev.PeerId)
	r := s.peers.AddKnown(ev.PeerId, types.KindDynamic, ev.Addr)
	if ev.ForkId != nil {
		r.ForkId = ev.ForkId
	}
	if before != nil {
		return nil
	}
	return r
}
