package session

import (
	"net"

	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

// EventKind is the closed set of lifecycle/message events the Session
// Manager surfaces to the Swarm (spec.md §4.3).
type EventKind int

const (
	EvSessionEstablished EventKind = iota
	EvSessionClosed
	EvIncomingPendingSessionClosed
	EvOutgoingPendingSessionClosed
	EvOutgoingTcpConnection
	EvOutgoingConnectionError
	EvValidMessage
	EvInvalidCapabilityMessage
	EvBadMessage
	EvProtocolBreach
)

// Event is the tagged union the Manager's Events() channel carries.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	SessionId  types.SessionId
	PeerId     types.PeerId
	RemoteAddr net.Addr
	Direction  types.Direction
	Caps       []types.Capability
	Status     types.Status
	Err        error
	Msg        *peermsg.Message
}
