package swarm

import (
	"github.com/empower1/netcore/internal/listener"
	"github.com/empower1/netcore/internal/session"
)

// translateListener handles the non-Conn listener outcomes; a
// successful accept is handled inline by Swarm.TryNext so it can hand
// the connection to the Session Manager before returning the metrics
// event.
func translateListener(ev listener.Event) Event {
	if ev.Closed {
		return Event{Kind: EvTcpListenerClosed}
	}
	return Event{Kind: EvTcpListenerError, Err: ev.Err}
}

var sessionKindToSwarmKind = map[session.EventKind]EventKind{
	session.EvSessionEstablished:            EvSessionEstablished,
	session.EvSessionClosed:                 EvSessionClosed,
	session.EvIncomingPendingSessionClosed:  EvIncomingPendingSessionClosed,
	session.EvOutgoingPendingSessionClosed:  EvOutgoingPendingSessionClosed,
	session.EvOutgoingTcpConnection:         EvOutgoingTcpConnection,
	session.EvOutgoingConnectionError:       EvOutgoingConnectionError,
	session.EvValidMessage:                  EvValidMessage,
	session.EvInvalidCapabilityMessage:      EvInvalidCapabilityMessage,
	session.EvBadMessage:                    EvBadMessage,
	session.EvProtocolBreach:                EvProtocolBreach,
}

func translateSession(ev session.Event) Event {
	return Event{
		Kind:       sessionKindToSwarmKind[ev.Kind],
		PeerId:     ev.PeerId,
		SessionId:  ev.SessionId,
		RemoteAddr: ev.RemoteAddr,
		Direction:  ev.Direction,
		Caps:       ev.Caps,
		Status:     ev.Status,
		Err:        ev.Err,
		Msg:        ev.Msg,
	}
}
