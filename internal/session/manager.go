// Package session implements the Session Manager (spec.md §4.3): it
// owns pending and established sessions, is the sole enforcer of
// at-most-one-session-per-peer, and surfaces lifecycle/message events
// to the Swarm. Grounded on the teacher's Server type
// (internal/p2p/server.go): a mutex-guarded peer map, a callback-free
// event channel replacing the teacher's OnPeerConnected/OnMessage
// callbacks, and the same accept/dial/handshake/read-loop shape.
package session

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/netlog"
	"github.com/empower1/netcore/internal/types"
)

// PeerInfo is the snapshot spec.md §4.3's get_peer_info returns.
type PeerInfo struct {
	PeerId     types.PeerId
	RemoteAddr net.Addr
	Direction  types.Direction
	Caps       []types.Capability
}

type established struct {
	id        types.SessionId
	peerId    types.PeerId
	conn      net.Conn
	direction types.Direction
	caps      []types.Capability
	status    types.Status
	outbox    chan types.PeerMessageOut
	cancel    context.CancelFunc
}

// Manager owns every pending and established session.
type Manager struct {
	mu sync.RWMutex

	self       types.PeerId
	caps       []types.Capability
	status     types.Status
	handshaker Handshaker

	sessions map[types.PeerId]*established
	pending  map[types.SessionId]*pendingSession

	events chan Event
	wg     sync.WaitGroup
	log    *zap.Logger

	dialer net.Dialer
}

// New creates a Session Manager advertising self/caps/status in every
// handshake until OnStatusUpdate rotates it.
func New(self types.PeerId, caps []types.Capability, initial types.Status) *Manager {
	return &Manager{
		self:       self,
		caps:       caps,
		status:     initial,
		handshaker: defaultHandshaker{caps: caps},
		sessions:   make(map[types.PeerId]*established),
		pending:    make(map[types.SessionId]*pendingSession),
		events:     make(chan Event, 256),
		log:        netlog.Component("session"),
	}
}

// Events returns the channel of session lifecycle/message events.
func (m *Manager) Events() <-chan Event {
	return m.events
}

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		// Events channel is sized generously (256) and drained every
		// Swarm tick; a full channel means the Manager has stalled,
		// which a blocking send would only make worse. Drop and log.
		m.log.Warn("session event dropped, events channel full", zap.Int("kind", int(ev.Kind)))
	}
}

func (m *Manager) currentStatus() types.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// HelloMessage returns the capability set and Status advertised in the
// next handshake.
func (m *Manager) HelloMessage() (types.PeerId, []types.Capability, types.Status) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self, m.caps, m.status
}

// Status returns the currently-advertised Status (snapshot query).
func (m *Manager) Status() types.Status {
	return m.currentStatus()
}

// ForkTransition is returned by OnStatusUpdate when the new head
// crosses a fork boundary.
type ForkTransition struct {
	Old types.ForkId
	New types.ForkId
}

// OnStatusUpdate rotates the Status advertised in future handshakes
// and reports a ForkTransition if the fork id changed (spec.md §4.3,
// SPEC_FULL.md §5 "Status rotation on fork transition": the new
// value is read from this snapshot by every handshake that starts
// after this call returns, not just ones already in flight).
func (m *Manager) OnStatusUpdate(head [32]byte, newFork types.ForkId) *ForkTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.status.ForkId
	m.status.Head = head
	m.status.ForkId = newFork
	if old.Hash == newFork.Hash && old.Next == newFork.Next {
		return nil
	}
	return &ForkTransition{Old: old, New: newFork}
}

// OnIncoming queues a handshake for a freshly-accepted connection and
// returns its provisional SessionId (spec.md §4.3).
func (m *Manager) OnIncoming(conn net.Conn) types.SessionId {
	id := types.NewSessionId()
	ctx, cancel := context.WithCancel(context.Background())
	ps := &pendingSession{id: id, conn: conn, direction: types.Incoming, cancel: cancel}

	m.mu.Lock()
	m.pending[id] = ps
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runInboundHandshake(ctx, ps)
	return id
}

// Dial initiates an outbound connection and queues its handshake
// (spec.md §4.3). Emits OutgoingConnectionError if the TCP dial itself
// fails, or OutgoingTcpConnection followed eventually by
// SessionEstablished/OutgoingPendingSessionClosed otherwise.
func (m *Manager) Dial(ctx context.Context, peerId types.PeerId, addr net.Addr) types.SessionId {
	id := types.NewSessionId()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		conn, err := m.dialer.DialContext(ctx, addr.Network(), addr.String())
		if err != nil {
			m.emit(Event{Kind: EvOutgoingConnectionError, SessionId: id, PeerId: peerId, RemoteAddr: addr, Err: err})
			return
		}
		m.emit(Event{Kind: EvOutgoingTcpConnection, SessionId: id, PeerId: peerId, RemoteAddr: addr})

		hctx, cancel := context.WithCancel(ctx)
		ps := &pendingSession{id: id, conn: conn, direction: types.Outgoing, peerHint: peerId, cancel: cancel}
		m.mu.Lock()
		m.pending[id] = ps
		m.mu.Unlock()

		m.runOutboundHandshake(hctx, ps)
	}()
	return id
}

func (m *Manager) runInboundHandshake(ctx context.Context, ps *pendingSession) {
	defer m.wg.Done()
	remote, caps, status, err := m.handshaker.Inbound(ps.conn, m.self, m.currentStatus)
	m.finishHandshake(ps, remote, caps, status, err, func(addr net.Addr, err error) Event {
		return Event{Kind: EvIncomingPendingSessionClosed, SessionId: ps.id, RemoteAddr: addr, Err: err}
	})
}

func (m *Manager) runOutboundHandshake(ctx context.Context, ps *pendingSession) {
	remote, caps, status, err := m.handshaker.Outbound(ps.conn, m.self, m.currentStatus)
	if remote == (types.PeerId{}) {
		remote = ps.peerHint
	}
	m.finishHandshake(ps, remote, caps, status, err, func(addr net.Addr, err error) Event {
		return Event{Kind: EvOutgoingPendingSessionClosed, SessionId: ps.id, PeerId: ps.peerHint, RemoteAddr: addr, Err: err}
	})
}

func (m *Manager) finishHandshake(ps *pendingSession, remote types.PeerId, caps []types.Capability, status types.Status, err error, onFail func(net.Addr, error) Event) {
	addr := ps.conn.RemoteAddr()

	m.mu.Lock()
	delete(m.pending, ps.id)
	if err != nil {
		m.mu.Unlock()
		ps.conn.Close()
		m.emit(onFail(addr, err))
		return
	}

	// At-most-one-session-per-peer: first-established wins (spec.md
	// §4.3).
	if _, exists := m.sessions[remote]; exists {
		m.mu.Unlock()
		ps.conn.Close()
		m.emit(onFail(addr, ErrAlreadyConnected))
		return
	}

	est := &established{
		id:        ps.id,
		peerId:    remote,
		conn:      ps.conn,
		direction: ps.direction,
		caps:      caps,
		status:    status,
		outbox:    make(chan types.PeerMessageOut, 64),
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	est.cancel = cancel
	m.sessions[remote] = est
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runSessionTask(taskCtx, est)

	m.emit(Event{
		Kind:       EvSessionEstablished,
		SessionId:  est.id,
		PeerId:     remote,
		RemoteAddr: addr,
		Direction:  ps.direction,
		Caps:       caps,
		Status:     status,
	})
}

// SendMessage routes msg to the established session's task. Silently
// dropped if no such session exists (spec.md §4.3).
func (m *Manager) SendMessage(peerId types.PeerId, msg types.PeerMessageOut) {
	m.mu.RLock()
	est, ok := m.sessions[peerId]
	m.mu.RUnlock()
	if !ok {
		return
	}
	select {
	case est.outbox <- msg:
	default:
		m.log.Warn("outbox full, dropping outbound message", zap.String("peer", peerId.String()))
	}
}

// Disconnect tears down the active session for peerId, if any.
func (m *Manager) Disconnect(peerId types.PeerId, reason types.DisconnectReason) {
	m.mu.Lock()
	est, ok := m.sessions[peerId]
	if ok {
		delete(m.sessions, peerId)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	est.cancel()
	est.conn.Close()
}

// DisconnectAll tears down every active session with reason,
// aggregating close errors with multierr (SPEC_FULL.md domain stack).
func (m *Manager) DisconnectAll(reason types.DisconnectReason) error {
	m.mu.Lock()
	victims := make([]*established, 0, len(m.sessions))
	for id, est := range m.sessions {
		victims = append(victims, est)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var errs error
	for _, est := range victims {
		est.cancel()
		errs = multierr.Append(errs, est.conn.Close())
	}
	return errs
}

// DisconnectAllPending cancels every in-flight handshake.
func (m *Manager) DisconnectAllPending() {
	m.mu.Lock()
	victims := make([]*pendingSession, 0, len(m.pending))
	for id, ps := range m.pending {
		victims = append(victims, ps)
		delete(m.pending, id)
	}
	m.mu.Unlock()

	for _, ps := range victims {
		ps.cancel()
		ps.conn.Close()
	}
}

// Outbox returns the send-end of an established session's task, the
// capability NetworkEvent::SessionEstablished hands to subscribers
// (spec.md §9 "Broadcast back-references"). Callers must treat a send
// on a since-closed session as benign.
func (m *Manager) Outbox(peerId types.PeerId) (chan<- types.PeerMessageOut, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	est, ok := m.sessions[peerId]
	if !ok {
		return nil, false
	}
	return est.outbox, true
}

// GetPeerInfo snapshots every established session.
func (m *Manager) GetPeerInfo() []PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PeerInfo, 0, len(m.sessions))
	for _, est := range m.sessions {
		out = append(out, PeerInfo{PeerId: est.peerId, RemoteAddr: est.conn.RemoteAddr(), Direction: est.direction, Caps: est.caps})
	}
	return out
}

// GetPeerInfoByID snapshots one established session.
func (m *Manager) GetPeerInfoByID(id types.PeerId) (PeerInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	est, ok := m.sessions[id]
	if !ok {
		return PeerInfo{}, false
	}
	return PeerInfo{PeerId: est.peerId, RemoteAddr: est.conn.RemoteAddr(), Direction: est.direction, Caps: est.caps}, true
}

// Shutdown waits for every spawned goroutine (handshakes, session
// tasks) to exit. Callers should DisconnectAll/DisconnectAllPending
// first so the goroutines actually have a reason to return.
func (m *Manager) Shutdown(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.log.Warn("session manager shutdown timed out waiting for goroutines")
	}
}
