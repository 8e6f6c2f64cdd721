package manager

import (
	"sync"

	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/types"
)

// NetworkEventKind is the closed set of events broadcast to
// NetworkHandle subscribers (spec.md §4.5's broadcast column).
type NetworkEventKind int

const (
	NetSessionEstablished NetworkEventKind = iota
	NetSessionClosed
	NetPeerAdded
	NetPeerRemoved
)

// NetworkEvent is the value delivered to every SubscribeEvents sink.
// SessionEstablished carries a send-end to the session's outbox — a
// capability, not an ownership transfer (spec.md §9 "Broadcast
// back-references"): subscribers must treat a send on since-closed
// session as benign.
type NetworkEvent struct {
	Kind      NetworkEventKind
	PeerId    types.PeerId
	Direction types.Direction
	Reason    *types.DisconnectReason
	Outbox    chan<- types.PeerMessageOut
	Record    *types.PeerRecord
}

// broadcaster is a minimal fan-out: every subscriber gets a buffered
// channel; a slow or dead subscriber is dropped (best-effort) rather
// than blocking the Manager loop. No third-party pub/sub crate is in
// the retrieved pack for this, so this is a deliberate, documented
// stdlib construct (see DESIGN.md) rather than a corpus-grounded one.
type broadcaster[T any] struct {
	mu   sync.Mutex
	subs []chan T
}

func newBroadcaster[T any]() *broadcaster[T] {
	return &broadcaster[T]{}
}

func (b *broadcaster[T]) Subscribe(sink chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, sink)
}

func (b *broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := b.subs[:0]
	for _, sink := range b.subs {
		select {
		case sink <- v:
			live = append(live, sink)
		default:
			// Subscriber isn't keeping up or has stopped reading;
			// drop it rather than block the Manager's loop.
		}
	}
	b.subs = live
}

// PeerInfoReply pairs session.PeerInfo's result with a found flag for
// GetPeerInfoById's one-shot reply.
type PeerInfoReply struct {
	Info  session.PeerInfo
	Found bool
}
