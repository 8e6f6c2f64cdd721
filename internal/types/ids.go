// Package types holds the data model shared across the network core:
// peer and session identity, peer records, sessions, reputation
// change kinds, and the handful of small enums the Manager and Swarm
// dispatch on. Kept dependency-free of the component packages so any
// of them can import it without a cycle.
package types

import (
	"strconv"
	"sync/atomic"

	"github.com/libp2p/go-libp2p/core/peer"
)

// PeerId is the fixed-width, public-key-derived identifier for a
// remote node. It is backed by libp2p's peer.ID rather than a bespoke
// byte array: the teacher's go.mod already pulls in the full
// go-libp2p stack, and peer.ID is that ecosystem's standard node
// identity type — total-ordered (as a string) and comparable by
// value, exactly what spec.md's PeerId requires.
type PeerId peer.ID

// String renders the peer id in libp2p's canonical base58 form.
func (p PeerId) String() string {
	return peer.ID(p).String()
}

// Less gives PeerId a total order (byte-wise on the underlying string).
func (p PeerId) Less(other PeerId) bool {
	return string(p) < string(other)
}

// SessionId locally identifies one connection attempt or established
// session. Assigned monotonically for the process lifetime (spec.md
// §3: "Monotonically assigned; never reused") off a single process-wide
// counter, so ordering sessions by id reflects creation order.
type SessionId uint64

var sessionIdCounter atomic.Uint64

// NewSessionId mints the next SessionId in the process-lifetime
// sequence; the first call returns 1, so the zero value stays
// reserved for "no session".
func NewSessionId() SessionId {
	return SessionId(sessionIdCounter.Add(1))
}

func (s SessionId) String() string {
	return strconv.FormatUint(uint64(s), 10)
}
