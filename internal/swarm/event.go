// Package swarm composes the Connection Listener, Session Manager and
// Network State into the single event stream spec.md §4.5 drives
// (spec.md §2 "Swarm"). Grounded on the teacher's Server/Manager split
// (internal/p2p/manager.go, internal/p2p/server.go): the Manager there
// owns a Server and polls its channels in a select loop; this package
// is the generalized, three-way version of that composition, kept
// separate from internal/manager so the fixed phase order (spec.md
// §4.5) lives in one place and the composition itself in another.
package swarm

import (
	"net"

	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

// EventKind is the closed set of events spec.md §4.5's dispatch table
// names.
type EventKind int

const (
	EvValidMessage EventKind = iota
	EvInvalidCapabilityMessage
	EvIncomingTcpConnection
	EvOutgoingTcpConnection
	EvSessionEstablished
	EvSessionClosed
	EvIncomingPendingSessionClosed
	EvOutgoingPendingSessionClosed
	EvOutgoingConnectionError
	EvPeerAdded
	EvPeerRemoved
	EvBadMessage
	EvProtocolBreach
	EvTcpListenerError
	EvTcpListenerClosed
)

// Event is the tagged union TryNext returns. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind EventKind

	PeerId     types.PeerId
	SessionId  types.SessionId
	RemoteAddr net.Addr
	Direction  types.Direction
	Caps       []types.Capability
	Status     types.Status
	Err        error
	Msg        *peermsg.Message
	Record     *types.PeerRecord
}
