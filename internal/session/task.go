package session

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

// toWireMessage translates the Manager's generic outbound envelope
// into the same peermsg.Message shape the read loop decodes, so both
// directions of the wire share one representation (spec.md §4.2:
// codec is an external collaborator; this is the synthetic stand-in
// used until a real RLPx codec is wired in).
func toWireMessage(out types.PeerMessageOut) (peermsg.Message, error) {
	switch out.Kind {
	case "new_block":
		block, ok := out.Payload.(*types.NewBlockMessage)
		if !ok {
			return peermsg.Message{}, fmt.Errorf("session: bad new_block payload type %T", out.Payload)
		}
		return peermsg.Message{Kind: peermsg.KindNewBlock, NewBlock: block}, nil
	case "new_block_hashes":
		hashes, ok := out.Payload.([]types.Hash)
		if !ok {
			return peermsg.Message{}, fmt.Errorf("session: bad new_block_hashes payload type %T", out.Payload)
		}
		return peermsg.Message{Kind: peermsg.KindNewBlockHashes, NewBlockHashes: hashes}, nil
	case "transaction":
		payload, ok := out.Payload.([]byte)
		if !ok {
			return peermsg.Message{}, fmt.Errorf("session: bad transaction payload type %T", out.Payload)
		}
		return peermsg.Message{Kind: peermsg.KindSendTransactions, Transaction: payload}, nil
	case "pooled_tx_hashes":
		hashes, ok := out.Payload.([][32]byte)
		if !ok {
			return peermsg.Message{}, fmt.Errorf("session: bad pooled_tx_hashes payload type %T", out.Payload)
		}
		return peermsg.Message{Kind: peermsg.KindPooledTransactions, TxHashes: hashes}, nil
	case "eth_request":
		req, ok := out.Payload.(peermsg.EthRequest)
		if !ok {
			return peermsg.Message{}, fmt.Errorf("session: bad eth_request payload type %T", out.Payload)
		}
		return peermsg.Message{Kind: peermsg.KindEthRequest, Request: &req}, nil
	default:
		return peermsg.Message{Kind: peermsg.KindOther, OtherName: out.Kind}, nil
	}
}

func init() {
	// PeerMessageOut.Payload carries one of the Network Manager's
	// outbound variants (spec.md §4.5); gob needs every concrete type
	// an interface{} field may hold registered up front.
	gob.Register([]types.Hash{})
	gob.Register(&types.NewBlockMessage{})
	gob.Register([][32]byte{})
	gob.Register([]byte{})
	gob.Register("")
}

// runSessionTask drives one established session's read and write
// pumps until either side fails or cancel fires, then retires the
// session. Grounded on the teacher's per-connection goroutine pair in
// handleConnection (internal/p2p/server.go), generalized from a
// single read loop plus fire-and-forget writes to a bounded outbox
// drained by its own goroutine.
func (m *Manager) runSessionTask(ctx context.Context, est *established) {
	defer m.wg.Done()

	// stop ends the write loop once the read loop returns, including on a
	// clean remote EOF (a nil error, which errgroup does not cancel on).
	sctx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error {
		defer stop()
		return m.sessionReadLoop(gctx, est)
	})
	g.Go(func() error {
		err := m.sessionWriteLoop(gctx, est)
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return nil // stopped because the read loop ended; its result stands
		}
		return err
	})

	err := g.Wait()
	est.conn.Close()
	m.removeSession(est.peerId, est.id)
	m.emit(Event{Kind: EvSessionClosed, SessionId: est.id, PeerId: est.peerId, Err: err})
}

func (m *Manager) removeSession(peerId types.PeerId, id types.SessionId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[peerId]; ok && cur.id == id {
		delete(m.sessions, peerId)
	}
}

func (m *Manager) sessionReadLoop(ctx context.Context, est *established) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		env, err := readFrame(est.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("session: read: %w", err)
		}
		if env.Kind != wirePayload {
			m.emit(Event{Kind: EvBadMessage, SessionId: est.id, PeerId: est.peerId})
			continue
		}

		var msg peermsg.Message
		if err := gob.NewDecoder(bytes.NewReader(env.Data)).Decode(&msg); err != nil {
			m.emit(Event{Kind: EvBadMessage, SessionId: est.id, PeerId: est.peerId})
			continue
		}

		// Design Notes (spec.md §4.2): SendTransactions is an
		// outbound-only broadcast variant; an inbound occurrence is a
		// protocol breach rather than a valid message.
		if msg.Kind == peermsg.KindSendTransactions {
			m.emit(Event{Kind: EvProtocolBreach, SessionId: est.id, PeerId: est.peerId})
			continue
		}

		// spec.md §4.5's dispatch table requires InvalidCapabilityMessage
		// whenever a message belongs to a sub-protocol the session never
		// negotiated (est.caps is the remote's advertised capability set,
		// captured at handshake time).
		if required, ok := requiredCapability(msg.Kind); ok && !hasCapability(est.caps, required) {
			m.emit(Event{Kind: EvInvalidCapabilityMessage, SessionId: est.id, PeerId: est.peerId})
			continue
		}

		m.emit(Event{Kind: EvValidMessage, SessionId: est.id, PeerId: est.peerId, Msg: &msg})
	}
}

func (m *Manager) sessionWriteLoop(ctx context.Context, est *established) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-est.outbox:
			if !ok {
				return nil
			}
			wireMsg, err := toWireMessage(out)
			if err != nil {
				return fmt.Errorf("session: %w", err)
			}
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(wireMsg); err != nil {
				return fmt.Errorf("session: encode outgoing message: %w", err)
			}
			if err := writeFrame(est.conn, wireEnvelope{Kind: wirePayload, Data: buf.Bytes()}); err != nil {
				return fmt.Errorf("session: write: %w", err)
			}
		}
	}
}

// requiredCapability names the sub-protocol a message kind belongs to.
// KindOther carries no requirement: spec.md §4.5 says an unrecognized
// variant is logged and ignored regardless of negotiated capabilities.
func requiredCapability(kind peermsg.Kind) (name string, required bool) {
	if kind == peermsg.KindOther {
		return "", false
	}
	return "eth", true
}

// hasCapability reports whether caps includes name, at any version.
func hasCapability(caps []types.Capability, name string) bool {
	for _, c := range caps {
		if c.Name == name {
			return true
		}
	}
	return false
}
