// Package manager implements the Network Manager (spec.md §4.5): the
// sole driver task, owning the Swarm, the command-channel receiver,
// the block-import handle, the event-listener fanout, and the
// outbound channels to the transactions/eth-request tasks. Grounded on
// the teacher's Manager type (internal/p2p/manager.go): a struct that
// owns a *Server plus channel-based lifecycle control, generalized
// from a single accept/relay loop into the three-phase, budgeted loop
// spec.md §4.5 specifies.
package manager

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/zap"

	"github.com/empower1/netcore/internal/netlog"
	"github.com/empower1/netcore/internal/netmetrics"
	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/peerset"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/swarm"
	"github.com/empower1/netcore/internal/types"
)

// defaultPreemptionBudget is the swarm-event iteration cap per wakeup
// (spec.md §5): high enough that a busy node makes real per-wakeup
// progress, low enough that the loop still yields.
const defaultPreemptionBudget = 1024

const shutdownDrainTimeout = 5 * time.Second

// Manager is the sole driver: it owns the Swarm and runs the fixed
// phase order every wakeup (spec.md §4.5).
type Manager struct {
	sw          *swarm.Swarm
	blockImport BlockImport
	mode        types.NetworkMode
	budget      int

	commands     chan command
	activePeers  *atomic.Int32
	listenerAddr *addrCell

	ethRequestCh chan peermsg.EthRequest
	txQueue      *txQueue
	txManagerCh  chan TxManagerMsg

	events      *broadcaster[NetworkEvent]
	discovered  *broadcaster[netstate.DiscoveredEvent]
	fetchClient *netstate.FetchClient

	metrics *netmetrics.Metrics
	log     *zap.Logger

	terminate bool
}

// Config bundles the construction-time parameters the Manager needs
// beyond the Swarm itself.
type Config struct {
	Mode               types.NetworkMode
	EthRequestCapacity int
	Metrics            *netmetrics.Metrics
}

// New builds a Manager over an already-composed Swarm and returns the
// first NetworkHandle; every further handle is obtained by cloning it
// (NetworkHandle is a plain struct, cheap to copy).
func New(sw *swarm.Swarm, blockImport BlockImport, cfg Config) (*Manager, NetworkHandle) {
	commands := make(chan command, 4096)
	activePeers := &atomic.Int32{}
	listenerAddr := newAddrCell()
	txQueue := newTxQueue()
	txManagerCh := make(chan TxManagerMsg)
	go txQueue.run(txManagerCh)

	m := &Manager{
		sw:           sw,
		blockImport:  blockImport,
		mode:         cfg.Mode,
		budget:       defaultPreemptionBudget,
		commands:     commands,
		activePeers:  activePeers,
		listenerAddr: listenerAddr,
		ethRequestCh: make(chan peermsg.EthRequest, cfg.EthRequestCapacity),
		txQueue:      txQueue,
		txManagerCh:  txManagerCh,
		events:       newBroadcaster[NetworkEvent](),
		discovered:   newBroadcaster[netstate.DiscoveredEvent](),
		metrics:      cfg.Metrics,
		log:          netlog.Component("manager"),
	}
	m.fetchClient = netstate.NewFetchClient(sw.NetState(), m.sendEthRequestDirect)
	return m, newHandle(commands, activePeers, listenerAddr)
}

// sendEthRequestDirect is the netstate.SendEthRequest capability handed
// to the FetchClient: netstate itself never touches the Session
// Manager (spec.md §3 ownership).
func (m *Manager) sendEthRequestDirect(peer types.PeerId, req peermsg.EthRequest) {
	m.sw.Sessions().SendMessage(peer, types.PeerMessageOut{Kind: "eth_request", Payload: req})
}

// EthRequests exposes the bounded channel external eth-request task
// workers drain (spec.md §6).
func (m *Manager) EthRequests() <-chan peermsg.EthRequest { return m.ethRequestCh }

// TxManagerMessages exposes the unbounded channel the transactions
// task drains (spec.md §6); backed by txQueue so it never sheds load
// the way the eth-request channel does.
func (m *Manager) TxManagerMessages() <-chan TxManagerMsg { return m.txManagerCh }

// Run drives the Manager until a Shutdown command is handled or ctx is
// cancelled (spec.md §5: the fixed phase order repeats every wakeup).
func (m *Manager) Run(ctx context.Context) {
	m.listenerAddr.set(m.sw.ListenerAddr())

	for {
		if ctx.Err() != nil {
			if !m.terminate {
				m.doShutdown()
			}
			m.drainSwarmUntilEmpty()
			return
		}

		m.drainBlockImportOutcomes()

		if closed := m.drainCommands(); closed {
			m.drainSwarmUntilEmpty()
			return
		}
		if m.terminate {
			m.drainSwarmUntilEmpty()
			return
		}

		m.advanceSwarm()
	}
}

// drainSwarmUntilEmpty runs the swarm-event phase repeatedly until it
// produces nothing further. spec.md §5: "The Manager continues to
// poll until the swarm drains ... the driver returns." doShutdown's
// Sessions().Shutdown already blocks until every torn-down session's
// goroutine has exited, but those goroutines' own EvSessionClosed
// events land on a buffered channel that only advanceSwarm drains —
// without this, a shutting-down node's own activePeers counter and
// NetSessionClosed broadcasts would never reflect its own sessions
// closing (spec.md §8 invariant 1).
func (m *Manager) drainSwarmUntilEmpty() {
	for m.advanceSwarm() > 0 {
	}
}

// drainBlockImportOutcomes is phase 1 (spec.md §4.5).
func (m *Manager) drainBlockImportOutcomes() {
	for {
		select {
		case outcome, ok := <-m.blockImport.Outcomes():
			if !ok {
				return
			}
			m.handleBlockImportOutcome(outcome)
		default:
			return
		}
	}
}

func (m *Manager) handleBlockImportOutcome(outcome BlockImportOutcome) {
	switch outcome.Kind {
	case ImportValidHeader:
		m.sw.NetState().UpdatePeerBlock(outcome.Peer, outcome.Hash, outcome.Number)
		full, hashOnly := m.sw.NetState().AnnounceNewBlock(outcome.Block)
		m.sendFullAnnounces(full, outcome.Block)
		m.sendHashAnnounces(hashOnly, outcome.Block.Hash)
	case ImportValidBlock:
		hashOnly := m.sw.NetState().AnnounceNewBlockHash(outcome.Hash)
		m.sendHashAnnounces(hashOnly, outcome.Hash)
	case ImportErr:
		m.applyReputationChange(outcome.Peer, types.BadBlock)
	}
}

// applyReputationChange applies kind against peer and, if the change
// just crossed BanThreshold on a peer with a live session, disconnects
// it (spec.md §4.6 "disconnect if active"). Centralized here so every
// call site gets the disconnect half of the contract, not just the
// two that already disconnect unconditionally for other reasons
// (EvInvalidCapabilityMessage, EvProtocolBreach).
func (m *Manager) applyReputationChange(peer types.PeerId, kind types.ReputationChangeKind) {
	if m.sw.NetState().Peers().ApplyReputationChange(peer, kind) {
		m.sw.Sessions().Disconnect(peer, types.DisconnectUselessPeer)
	}
}

func (m *Manager) sendFullAnnounces(peers []types.PeerId, msg types.NewBlockMessage) {
	block := msg
	for _, p := range peers {
		m.sw.Sessions().SendMessage(p, types.PeerMessageOut{Kind: "new_block", Payload: &block})
	}
}

func (m *Manager) sendHashAnnounces(peers []types.PeerId, hash types.Hash) {
	for _, p := range peers {
		m.sw.Sessions().SendMessage(p, types.PeerMessageOut{Kind: "new_block_hashes", Payload: []types.Hash{hash}})
	}
}

// drainCommands is phase 2 (spec.md §4.5): drain until pending, or
// report channel closure so Run terminates.
func (m *Manager) drainCommands() (closed bool) {
	for {
		select {
		case c, ok := <-m.commands:
			if !ok {
				m.log.Error("handle command channel closed, terminating manager")
				return true
			}
			m.handleCommand(c)
			if m.terminate {
				return false
			}
		default:
			return false
		}
	}
}

// advanceSwarm is phase 3 (spec.md §4.5): the budgeted swarm-event
// loop. When the budget is exhausted mid-stream, yield to the runtime
// rather than starve other goroutines — the outer Run loop is the
// "self-wake" back into phase 1 on the very next iteration. Returns
// the number of events processed, so drainSwarmUntilEmpty knows when
// the swarm has nothing left to give.
func (m *Manager) advanceSwarm() int {
	budget := m.budget
	processed := 0
	for budget > 0 {
		ev, ok := m.sw.TryNext()
		if !ok {
			return processed
		}
		m.dispatchSwarmEvent(ev)
		budget--
		processed++
	}
	runtime.Gosched()
	return processed
}

// dispatchSwarmEvent implements spec.md §4.5's swarm-event dispatch
// table: peer-set accounting, telemetry, and the broadcast to
// NetworkHandle subscribers.
func (m *Manager) dispatchSwarmEvent(ev swarm.Event) {
	peers := m.sw.NetState().Peers()

	switch ev.Kind {
	case swarm.EvIncomingTcpConnection:
		m.metrics.TotalIncomingConn.Inc()

	case swarm.EvOutgoingTcpConnection:
		m.metrics.TotalOutgoingConn.Inc()

	case swarm.EvSessionEstablished:
		m.onSessionEstablished(ev, peers)

	case swarm.EvSessionClosed:
		m.onSessionClosed(ev, peers)

	case swarm.EvIncomingPendingSessionClosed:
		m.metrics.PendingFailures.Inc()

	case swarm.EvOutgoingPendingSessionClosed:
		m.metrics.PendingFailures.Inc()
		if errors.Is(ev.Err, session.ErrAlreadyConnected) {
			peers.ApplyReputationChange(ev.PeerId, types.AlreadyConnected)
		} else {
			peers.OnOutgoingConnectionFailure(ev.PeerId)
		}

	case swarm.EvOutgoingConnectionError:
		m.metrics.PendingFailures.Inc()
		peers.OnOutgoingConnectionFailure(ev.PeerId)

	case swarm.EvPeerAdded:
		m.metrics.TrackedPeers.Set(float64(peers.NumKnownPeers()))
		m.events.Publish(NetworkEvent{Kind: NetPeerAdded, PeerId: ev.PeerId, Record: ev.Record})
		if ev.Record != nil {
			m.discovered.Publish(netstate.DiscoveredEvent{PeerId: ev.Record.PeerId, Addr: ev.Record.Addr, ForkId: ev.Record.ForkId})
		}

	case swarm.EvPeerRemoved:
		m.metrics.TrackedPeers.Set(float64(peers.NumKnownPeers()))
		m.events.Publish(NetworkEvent{Kind: NetPeerRemoved, PeerId: ev.PeerId, Record: ev.Record})

	case swarm.EvValidMessage:
		m.dispatchPeerMessage(ev.PeerId, ev.Msg)

	case swarm.EvInvalidCapabilityMessage:
		m.metrics.InvalidMessages.Inc()
		peers.ApplyReputationChange(ev.PeerId, types.BadProtocol)
		m.sw.Sessions().Disconnect(ev.PeerId, types.DisconnectUselessPeer)

	case swarm.EvBadMessage:
		m.metrics.InvalidMessages.Inc()
		m.applyReputationChange(ev.PeerId, types.BadMessage)

	case swarm.EvProtocolBreach:
		m.metrics.InvalidMessages.Inc()
		peers.ApplyReputationChange(ev.PeerId, types.BadProtocol)
		m.sw.Sessions().Disconnect(ev.PeerId, types.DisconnectProtocolError)

	case swarm.EvTcpListenerError:
		m.log.Warn("listener error", zap.Error(ev.Err))

	case swarm.EvTcpListenerClosed:
		m.log.Info("listener closed")
	}

	m.metrics.ConnectedPeers.Set(float64(peers.NumActivePeers()))
	m.metrics.IncomingConns.Set(float64(peers.NumInboundConnections()))
	m.metrics.OutgoingConns.Set(float64(peers.NumOutboundConnections()))
	m.metrics.BackedOffPeers.Set(float64(peers.NumBackedOffPeers()))
}

func (m *Manager) onSessionEstablished(ev swarm.Event, peers *peerset.Set) {
	if ev.Direction == types.Outgoing {
		peers.OnOutgoingSessionEstablished(ev.PeerId)
	} else {
		addr, err := manet.FromNetAddr(ev.RemoteAddr)
		if err != nil {
			m.log.Warn("inbound session has unconvertible remote address", zap.Error(err))
			m.sw.Sessions().Disconnect(ev.PeerId, types.DisconnectTCPError)
			return
		}
		if !peers.OnIncomingSessionEstablished(ev.PeerId, addr) {
			m.sw.Sessions().Disconnect(ev.PeerId, types.DisconnectTooManyPeers)
			return
		}
	}

	m.activePeers.Add(1)
	outbox, _ := m.sw.Sessions().Outbox(ev.PeerId)
	m.events.Publish(NetworkEvent{Kind: NetSessionEstablished, PeerId: ev.PeerId, Direction: ev.Direction, Outbox: outbox})
}

func (m *Manager) onSessionClosed(ev swarm.Event, peers *peerset.Set) {
	m.activePeers.Add(-1)
	m.metrics.ClosedSessions.Inc()

	reason := types.DisconnectRequested
	if ev.Err != nil {
		reason = types.DisconnectTCPError
		peers.OnActiveSessionDropped(ev.PeerId, types.Dropped)
	} else {
		peers.OnActiveSessionGracefullyClosed(ev.PeerId)
	}
	m.metrics.ObserveDisconnect(reason)
	m.events.Publish(NetworkEvent{Kind: NetSessionClosed, PeerId: ev.PeerId, Reason: &reason})
}

// dispatchPeerMessage implements spec.md §4.5's peer-message dispatch
// table, gated by PoW/PoS mode (EIP-3675: block-propagation messages
// are invalid once staking is active).
func (m *Manager) dispatchPeerMessage(peer types.PeerId, msg *peermsg.Message) {
	if msg == nil {
		return
	}
	switch msg.Kind {
	case peermsg.KindNewBlockHashes:
		if m.mode.IsStake() {
			// EIP-3675: block-propagation messages are a protocol
			// violation once staking is active (spec.md §4.5, §8
			// scenario 2 "Session Manager receives disconnect(P2,
			// SubprotocolSpecific)").
			m.sw.Sessions().Disconnect(peer, types.DisconnectSubprotocolSpecific)
			return
		}
		m.sw.NetState().OnNewBlockHashes(peer, msg.NewBlockHashes)

	case peermsg.KindNewBlock:
		if m.mode.IsStake() {
			m.sw.Sessions().Disconnect(peer, types.DisconnectSubprotocolSpecific)
			return
		}
		if msg.NewBlock != nil {
			m.sw.NetState().OnNewBlock(peer, msg.NewBlock.Hash)
			m.blockImport.Submit(peer, *msg.NewBlock)
		}

	case peermsg.KindPooledTransactions:
		m.forwardToTxManager(TxManagerMsg{Kind: TxIncomingPooledTransactionHashes, Peer: peer, Hashes: msg.TxHashes})

	case peermsg.KindEthRequest:
		if msg.Request == nil {
			return
		}
		if msg.Request.Kind == peermsg.ReqGetPooledTransactions {
			m.forwardToTxManager(TxManagerMsg{Kind: TxGetPooledTransactions, Peer: peer, Request: msg.Request})
			return
		}
		m.forwardEthRequest(*msg.Request)

	case peermsg.KindReceivedTransaction:
		m.forwardToTxManager(TxManagerMsg{Kind: TxIncomingTransactions, Peer: peer, Payload: msg.Transaction})

	case peermsg.KindSendTransactions:
		// Outbound-only variant; the session task already turns an
		// inbound occurrence into EvProtocolBreach before this point.

	case peermsg.KindOther:
		m.log.Debug("unrecognized peer message", zap.String("peer", peer.String()), zap.String("name", msg.OtherName))
	}
}

// forwardEthRequest hands an EthRequest to the bounded external task
// channel, shedding it under backpressure rather than blocking the
// Manager's loop (spec.md §6 "bounded, sheds under load").
func (m *Manager) forwardEthRequest(req peermsg.EthRequest) {
	select {
	case m.ethRequestCh <- req:
	default:
		m.metrics.DroppedEthReqFull.Inc()
		m.log.Warn("eth-request channel full, dropping request", zap.String("peer", req.PeerId.String()), zap.String("kind", req.Kind.String()))
	}
}

// forwardToTxManager enqueues msg on the unbounded tx-manager queue
// (spec.md §5/§6): unlike forwardEthRequest, this never sheds load —
// the only backpressure this core exerts by dropping is on the
// eth-request channel.
func (m *Manager) forwardToTxManager(msg TxManagerMsg) {
	m.txQueue.push(msg)
	m.metrics.TxManagerQueueDepth.Set(float64(m.txQueue.depth()))
}

// handleCommand implements spec.md §4.1's closed command set.
func (m *Manager) handleCommand(c command) {
	switch cmd := c.(type) {
	case cmdSubscribeEvents:
		m.events.Subscribe(cmd.Sink)

	case cmdSubscribeDiscovered:
		m.discovered.Subscribe(cmd.Sink)

	case cmdAnnounceBlock:
		msg := types.NewBlockMessage{Hash: cmd.Hash, Block: cmd.Block}
		full, hashOnly := m.sw.NetState().AnnounceNewBlock(msg)
		m.sendFullAnnounces(full, msg)
		m.sendHashAnnounces(hashOnly, cmd.Hash)

	case cmdSendEthRequest:
		m.sendEthRequestDirect(cmd.Peer, cmd.Req)

	case cmdSendTransaction:
		m.sw.Sessions().SendMessage(cmd.Peer, types.PeerMessageOut{Kind: "transaction", Payload: cmd.Payload})

	case cmdSendPooledTxHashes:
		m.sw.Sessions().SendMessage(cmd.Peer, types.PeerMessageOut{Kind: "pooled_tx_hashes", Payload: cmd.Hashes})

	case cmdAddPeerAddress:
		// Ignored while shutting down (spec.md §4.1, §8 invariant 4).
		if m.sw.NetState().IsShuttingDown() {
			return
		}
		m.sw.NetState().Peers().AddKnown(cmd.Id, cmd.Kind, cmd.Addr)

	case cmdRemovePeer:
		m.sw.RemovePeer(cmd.Id)

	case cmdDisconnectPeer:
		m.sw.Sessions().Disconnect(cmd.Id, cmd.Reason)
		m.metrics.ObserveDisconnect(cmd.Reason)

	case cmdShutdown:
		m.doShutdown()
		close(cmd.Done)

	case cmdReputationChange:
		m.applyReputationChange(cmd.Id, cmd.Kind)

	case cmdGetReputation:
		rep, _ := m.sw.NetState().Peers().GetReputation(cmd.Id)
		cmd.Reply <- rep

	case cmdGetStatus:
		cmd.Reply <- m.sw.Sessions().Status()

	case cmdFetchClient:
		cmd.Reply <- m.fetchClient

	case cmdGetPeerInfo:
		cmd.Reply <- m.sw.Sessions().GetPeerInfo()

	case cmdGetPeerInfoById:
		info, found := m.sw.Sessions().GetPeerInfoByID(cmd.Id)
		cmd.Reply <- PeerInfoReply{Info: info, Found: found}

	case cmdStatusUpdate:
		transition := m.sw.Sessions().OnStatusUpdate(cmd.Head, cmd.NewFork)
		if transition != nil {
			m.sw.NetState().UpdateForkId(cmd.NewFork)
		}
	}
}

// doShutdown implements spec.md §8 invariant 4: stop accepting new
// connections and dials, then tear every live session down gracefully
// before the Manager retires.
func (m *Manager) doShutdown() {
	m.sw.SetShuttingDown()
	if err := m.sw.Sessions().DisconnectAll(types.DisconnectClientQuitting); err != nil {
		m.log.Warn("errors closing sessions during shutdown", zap.Error(err))
	}
	m.sw.Sessions().DisconnectAllPending()
	m.sw.Sessions().Shutdown(shutdownDrainTimeout)
	m.terminate = true
}
