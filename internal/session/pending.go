package session

import (
	"net"

	"github.com/empower1/netcore/internal/types"
)

// pendingSession tracks one in-flight handshake. Pending sessions may
// transiently outnumber peers (spec.md §4.3) since several can race
// for the same peer id before the Manager's at-most-one-session rule
// resolves them.
type pendingSession struct {
	id        types.SessionId
	conn      net.Conn
	direction types.Direction
	peerHint  types.PeerId // known for outbound dials, empty for inbound
	cancel    func()
}
