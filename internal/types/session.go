package types

import (
	"github.com/multiformats/go-multiaddr"
)

// Direction records who initiated a session's underlying connection.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// Status is the chain-head summary a peer announces during handshake
// and again on StatusUpdate.
type Status struct {
	ProtocolVersion uint32
	NetworkId       uint64
	GenesisHash     [32]byte
	Head            [32]byte
	ForkId          ForkId
}

// Capability names one sub-protocol/version pair a session negotiated
// (the handshake's job, out of scope here; the core only consumes the
// negotiated set).
type Capability struct {
	Name    string
	Version uint32
}

// Session is created once a handshake completes and destroyed on
// SessionClosed. Outbound messages for the peer are written to Outbox;
// the session task owns the channel's receive end and is the only
// writer to the wire.
type Session struct {
	Id         SessionId
	PeerId     PeerId
	RemoteAddr multiaddr.Multiaddr
	Direction  Direction
	Caps       []Capability
	Status     Status

	// Outbox is the capability described in DESIGN NOTES
	// ("Broadcast back-references"): a send-end handle to the
	// session task. The task owns the receive end; callers must
	// treat a send on a closed session as benign.
	Outbox chan<- PeerMessageOut
}

// PeerMessageOut is an outbound message handed to a session's task
// for framing and transmission.
type PeerMessageOut struct {
	Kind    string
	Payload any
}
