package swarm

import (
	"context"
	"net"
	"sync"

	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/listener"
	"github.com/empower1/netcore/internal/netlog"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/types"
)

// ConnState mirrors spec.md §3's NetworkConnectionState.
type ConnState int

const (
	Active ConnState = iota
	ShuttingDown
)

// Swarm owns the listener, the Session Manager, and Network State
// (spec.md §3 Ownership), composing their channels into one event
// stream for the Manager.
type Swarm struct {
	mu    sync.Mutex
	state ConnState

	ln        *listener.Listener
	sessions  *session.Manager
	netstate  *netstate.State
	discovery netstate.Discovery // optional

	pending []Event
	log     *zap.Logger
}

// New composes a Swarm. discovery may be nil if no discovery driver is
// wired (the core still functions, just never dials newly-discovered
// peers).
func New(ln *listener.Listener, sessions *session.Manager, state *netstate.State, discovery netstate.Discovery) *Swarm {
	return &Swarm{
		ln:        ln,
		sessions:  sessions,
		netstate:  state,
		discovery: discovery,
		log:       netlog.Component("swarm"),
	}
}

// ListenerAddr returns the bound listen address.
func (sw *Swarm) ListenerAddr() net.Addr {
	return sw.ln.Addr()
}

// State returns the current NetworkConnectionState.
func (sw *Swarm) State() ConnState {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.state
}

// SetShuttingDown transitions to ShuttingDown: the listener stops
// accepting and Network State stops proposing new dials (spec.md §3,
// §8 invariant 4). Idempotent.
func (sw *Swarm) SetShuttingDown() {
	sw.mu.Lock()
	already := sw.state == ShuttingDown
	sw.state = ShuttingDown
	sw.mu.Unlock()
	if already {
		return
	}
	sw.netstate.SetShuttingDown(true)
	sw.ln.Close()
}

// RemovePeer removes id from the peer set and queues a PeerRemoved
// event for the next TryNext call, matching spec.md §4.5's dispatch
// table (PeerRemoved is a swarm event, not a direct broadcast).
func (sw *Swarm) RemovePeer(id types.PeerId) {
	r := sw.netstate.Peers().Get(id)
	sw.netstate.Peers().RemovePeer(id)
	if r == nil {
		return
	}
	sw.mu.Lock()
	sw.pending = append(sw.pending, Event{Kind: EvPeerRemoved, PeerId: id, Record: r})
	sw.mu.Unlock()
}

// Sessions exposes the Session Manager for the Manager's command
// handling (send_message, disconnect, get_peer_info, etc.).
func (sw *Swarm) Sessions() *session.Manager { return sw.sessions }

// NetState exposes Network State for the Manager's command handling
// (AddPeerAddress, StatusUpdate, FetchClient, etc.).
func (sw *Swarm) NetState() *netstate.State { return sw.netstate }

// TryNext returns the next swarm event without blocking, or
// (Event{}, false) if nothing is ready. Also drives one step of dial
// scheduling as a side effect (the dial's outcome arrives later as a
// session event) and, if a discovery driver is wired, ingests at most
// one discovered record, returning EvPeerAdded when that record names
// a newly-known peer.
func (sw *Swarm) TryNext() (Event, bool) {
	sw.mu.Lock()
	if len(sw.pending) > 0 {
		ev := sw.pending[0]
		sw.pending = sw.pending[1:]
		sw.mu.Unlock()
		return ev, true
	}
	sw.mu.Unlock()

	sw.tryDial()
	if ev, ok := sw.tryDiscover(); ok {
		return ev, true
	}

	select {
	case ev, ok := <-sw.ln.Events():
		if !ok {
			return Event{}, false
		}
		if ev.Conn != nil {
			if !sw.netstate.AllowInboundAccept() {
				// SPEC_FULL.md §5 "Session limits enforcement": reject
				// before the connection ever reaches a handshake, so a
				// flood of inbound connections can't starve the
				// outbound-dial budget NextDial enforces separately.
				sw.log.Debug("rejecting inbound connection over MaxInbound ceiling", zap.Stringer("remote", ev.Conn.RemoteAddr()))
				ev.Conn.Close()
				return Event{Kind: EvIncomingTcpConnection, RemoteAddr: ev.Conn.RemoteAddr()}, true
			}
			sw.sessions.OnIncoming(ev.Conn)
			return Event{Kind: EvIncomingTcpConnection, RemoteAddr: ev.Conn.RemoteAddr()}, true
		}
		return translateListener(ev), true
	case ev, ok := <-sw.sessions.Events():
		if !ok {
			return Event{}, false
		}
		return translateSession(ev), true
	default:
		return Event{}, false
	}
}

func (sw *Swarm) tryDial() {
	if sw.State() == ShuttingDown {
		return
	}
	id, ok := sw.netstate.NextDial(context.Background())
	if !ok {
		return
	}
	r := sw.netstate.Peers().Get(id)
	if r == nil || r.Addr == nil {
		return
	}
	netAddr, err := manetToNetAddr(r.Addr)
	if err != nil {
		sw.log.Warn("dial candidate has unusable address", zap.String("peer", id.String()), zap.Error(err))
		return
	}
	if !sw.netstate.MarkDialing(id) {
		return
	}
	sw.sessions.Dial(context.Background(), id, netAddr)
}

func (sw *Swarm) tryDiscover() (Event, bool) {
	if sw.discovery == nil {
		return Event{}, false
	}
	select {
	case ev, ok := <-sw.discovery.Events():
		if !ok {
			return Event{}, false
		}
		r := sw.netstate.IngestDiscovered(ev)
		if r == nil {
			return Event{}, false
		}
		return Event{Kind: EvPeerAdded, PeerId: ev.PeerId, Record: r}, true
	default:
		return Event{}, false
	}
}

func manetToNetAddr(addr multiaddr.Multiaddr) (net.Addr, error) {
	return manet.ToNetAddr(addr)
}
