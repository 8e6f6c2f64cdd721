package session

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/empower1/netcore/internal/types"
)

// ErrHandshakeFailed is returned when a peer's hello fails validation,
// mirroring the teacher's ErrHandshakeFailed sentinel
// (internal/p2p/server.go).
var ErrHandshakeFailed = errors.New("session: handshake failed")

// ErrAlreadyConnected is the close reason recorded against a pending
// session that loses the at-most-one-session-per-peer race (spec.md
// §4.3). Exported so internal/manager can distinguish it from a plain
// handshake/transport failure when deciding the reputation delta.
var ErrAlreadyConnected = errors.New("session: peer already connected")

const handshakeTimeout = 5 * time.Second

// helloPayload is exchanged once per connection, adapted from the
// teacher's HelloPayload (internal/p2p/message.go) to carry negotiated
// capabilities and chain Status instead of a flat peer list.
type helloPayload struct {
	NodeID string
	Caps   []types.Capability
	Status types.Status
}

// Handshaker performs the (externally-specified) RLPx handshake. The
// default implementation below exchanges a minimal hello; production
// wiring replaces it with the real wire-crypto handshake without
// touching the Session Manager.
type Handshaker interface {
	// Outbound performs the initiator side of a handshake.
	Outbound(conn net.Conn, self types.PeerId, hello func() types.Status) (types.PeerId, []types.Capability, types.Status, error)
	// Inbound performs the responder side of a handshake.
	Inbound(conn net.Conn, self types.PeerId, hello func() types.Status) (types.PeerId, []types.Capability, types.Status, error)
}

// defaultHandshaker implements a minimal hello/hello-ack exchange over
// the frame codec, grounded on the teacher's sendHello/
// readAndProcessHello pair (internal/p2p/server.go).
type defaultHandshaker struct {
	caps []types.Capability
}

func (h defaultHandshaker) Outbound(conn net.Conn, self types.PeerId, status func() types.Status) (types.PeerId, []types.Capability, types.Status, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	if err := sendHello(conn, self, h.caps, status()); err != nil {
		return types.PeerId{}, nil, types.Status{}, err
	}
	return readHello(conn)
}

func (h defaultHandshaker) Inbound(conn net.Conn, self types.PeerId, status func() types.Status) (types.PeerId, []types.Capability, types.Status, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	remote, caps, st, err := readHello(conn)
	if err != nil {
		return types.PeerId{}, nil, types.Status{}, err
	}
	if err := sendHello(conn, self, h.caps, status()); err != nil {
		return types.PeerId{}, nil, types.Status{}, err
	}
	return remote, caps, st, nil
}

func sendHello(conn net.Conn, self types.PeerId, caps []types.Capability, st types.Status) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(helloPayload{NodeID: string(peer.ID(self)), Caps: caps, Status: st}); err != nil {
		return fmt.Errorf("%w: encode hello: %v", ErrHandshakeFailed, err)
	}
	return writeFrame(conn, wireEnvelope{Kind: wireHello, Data: buf.Bytes()})
}

func readHello(conn net.Conn) (types.PeerId, []types.Capability, types.Status, error) {
	env, err := readFrame(conn)
	if err != nil {
		return types.PeerId{}, nil, types.Status{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	if env.Kind != wireHello {
		return types.PeerId{}, nil, types.Status{}, fmt.Errorf("%w: expected hello frame", ErrHandshakeFailed)
	}
	var hp helloPayload
	if err := gob.NewDecoder(bytes.NewReader(env.Data)).Decode(&hp); err != nil {
		return types.PeerId{}, nil, types.Status{}, fmt.Errorf("%w: decode hello: %v", ErrHandshakeFailed, err)
	}
	if hp.NodeID == "" {
		return types.PeerId{}, nil, types.Status{}, fmt.Errorf("%w: empty node id", ErrHandshakeFailed)
	}
	return types.PeerId(peer.ID(hp.NodeID)), hp.Caps, hp.Status, nil
}
