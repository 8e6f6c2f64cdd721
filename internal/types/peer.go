package types

import (
	"time"

	"github.com/multiformats/go-multiaddr"
)

// PeerKind classifies why a peer is known to us.
type PeerKind int

const (
	// KindDynamic peers were learned via discovery or a remote's
	// peer-list gossip.
	KindDynamic PeerKind = iota
	// KindStatic peers were configured explicitly and are always
	// worth reconnecting to.
	KindStatic
	// KindTrusted peers bypass backoff and reputation banning.
	KindTrusted
)

func (k PeerKind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindTrusted:
		return "trusted"
	default:
		return "dynamic"
	}
}

// PeerState is the connection lifecycle state of a known peer.
type PeerState int

const (
	StateIdle PeerState = iota
	StatePendingOut
	StatePendingIn
	StateConnected
	StateBackedOff
)

func (s PeerState) String() string {
	switch s {
	case StatePendingOut:
		return "pending_out"
	case StatePendingIn:
		return "pending_in"
	case StateConnected:
		return "connected"
	case StateBackedOff:
		return "backed_off"
	default:
		return "idle"
	}
}

// ForkId is a compact identifier of the local chain's fork-schedule
// position, exchanged during handshakes.
type ForkId struct {
	Hash [4]byte
	Next uint64
}

// PeerRecord is the book-of-record entry for one known peer.
// Invariants (spec.md §3, enforced by internal/peerset):
//   - at most one live session per PeerId
//   - Trusted peers never enter StateBackedOff
//   - Reputation is clamped to [RepMin, RepMax]
type PeerRecord struct {
	PeerId       PeerId
	Addr         multiaddr.Multiaddr
	Kind         PeerKind
	State        PeerState
	Reputation   int32
	BackoffUntil *time.Time
	ForkId       *ForkId

	// ConsecutiveFailures counts outbound-dial failures since the
	// last successful handshake; reset on SessionEstablished. Drives
	// the exponential backoff window in internal/peerset.
	ConsecutiveFailures int

	// ActiveDirection is meaningful only while State == StateConnected;
	// it lets the peer set keep separate inbound/outbound counters
	// (spec.md §8 invariant 2) without a second lookup.
	ActiveDirection Direction
}

// IsBackedOff reports whether the record is currently serving a
// backoff window.
func (r *PeerRecord) IsBackedOff(now time.Time) bool {
	return r.State == StateBackedOff && r.BackoffUntil != nil && now.Before(*r.BackoffUntil)
}
