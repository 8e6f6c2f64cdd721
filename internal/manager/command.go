package manager

import (
	"net"
	"sync/atomic"

	"github.com/multiformats/go-multiaddr"

	"github.com/empower1/netcore/internal/netstate"
	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/session"
	"github.com/empower1/netcore/internal/types"
)

// command is the closed set of operations a NetworkHandle can send the
// Manager (spec.md §4.1). Each command is its own small type rather
// than one struct with a dozen optional fields, so a reply's type is
// checked at compile time instead of by convention.
type command interface{ isCommand() }

type cmdSubscribeEvents struct{ Sink chan NetworkEvent }
type cmdSubscribeDiscovered struct{ Sink chan netstate.DiscoveredEvent }
type cmdAnnounceBlock struct {
	Block *types.Block
	Hash  types.Hash
}
type cmdSendEthRequest struct {
	Peer types.PeerId
	Req  peermsg.EthRequest
}
type cmdSendTransaction struct {
	Peer    types.PeerId
	Payload []byte
}
type cmdSendPooledTxHashes struct {
	Peer   types.PeerId
	Hashes [][32]byte
}
type cmdAddPeerAddress struct {
	Id   types.PeerId
	Kind types.PeerKind
	Addr multiaddr.Multiaddr
}
type cmdRemovePeer struct{ Id types.PeerId }
type cmdDisconnectPeer struct {
	Id     types.PeerId
	Reason types.DisconnectReason
}
type cmdShutdown struct{ Done chan struct{} }
type cmdReputationChange struct {
	Id   types.PeerId
	Kind types.ReputationChangeKind
}
type cmdGetReputation struct {
	Id    types.PeerId
	Reply chan int32
}
type cmdGetStatus struct{ Reply chan types.Status }
type cmdFetchClient struct{ Reply chan *netstate.FetchClient }
type cmdGetPeerInfo struct{ Reply chan []session.PeerInfo }
type cmdGetPeerInfoById struct {
	Id    types.PeerId
	Reply chan PeerInfoReply
}
type cmdStatusUpdate struct {
	Head    [32]byte
	NewFork types.ForkId
}

func (cmdSubscribeEvents) isCommand()     {}
func (cmdSubscribeDiscovered) isCommand() {}
func (cmdAnnounceBlock) isCommand()       {}
func (cmdSendEthRequest) isCommand()      {}
func (cmdSendTransaction) isCommand()     {}
func (cmdSendPooledTxHashes) isCommand()  {}
func (cmdAddPeerAddress) isCommand()      {}
func (cmdRemovePeer) isCommand()          {}
func (cmdDisconnectPeer) isCommand()      {}
func (cmdShutdown) isCommand()            {}
func (cmdReputationChange) isCommand()    {}
func (cmdGetReputation) isCommand()       {}
func (cmdGetStatus) isCommand()           {}
func (cmdFetchClient) isCommand()         {}
func (cmdGetPeerInfo) isCommand()         {}
func (cmdGetPeerInfoById) isCommand()     {}
func (cmdStatusUpdate) isCommand()        {}

// NetworkHandle is the cloneable, thread-safe external facade (spec.md
// §4.1, §3 Ownership). Cloning a Handle is a struct copy: every field
// is itself a shared reference (channel, pointer, or atomic).
type NetworkHandle struct {
	commands chan command

	// activePeers and listenerAddr are the two pieces of state shared
	// directly with the Manager rather than routed through commands
	// (spec.md §3): a cheap atomic counter and an atomic-pointer address
	// cell, both written only by the Manager.
	activePeers  *atomic.Int32
	listenerAddr *addrCell
}

type addrCell struct {
	ptr atomic.Pointer[net.Addr]
}

func newAddrCell() *addrCell { return &addrCell{} }

func (c *addrCell) set(a net.Addr) { c.ptr.Store(&a) }

func (c *addrCell) get() net.Addr {
	p := c.ptr.Load()
	if p == nil {
		return nil
	}
	return *p
}

// newHandle constructs the first handle for a freshly-built Manager;
// every subsequent handle is obtained by cloning (a plain struct copy,
// Go's zero-cost "Clone").
func newHandle(commands chan command, activePeers *atomic.Int32, listenerAddr *addrCell) NetworkHandle {
	return NetworkHandle{commands: commands, activePeers: activePeers, listenerAddr: listenerAddr}
}

// ActivePeers is the shared atomic read (spec.md §5 "shared resources").
func (h NetworkHandle) ActivePeers() int32 { return h.activePeers.Load() }

// ListenerAddr reads the atomic address cell, which the Manager sets
// once when Run starts; nothing updates it after that.
func (h NetworkHandle) ListenerAddr() net.Addr { return h.listenerAddr.get() }

func (h NetworkHandle) send(c command) { h.commands <- c }

func (h NetworkHandle) SubscribeEvents(sink chan NetworkEvent) { h.send(cmdSubscribeEvents{Sink: sink}) }

func (h NetworkHandle) SubscribeDiscovered(sink chan netstate.DiscoveredEvent) {
	h.send(cmdSubscribeDiscovered{Sink: sink})
}

func (h NetworkHandle) AnnounceBlock(block *types.Block, hash types.Hash) {
	h.send(cmdAnnounceBlock{Block: block, Hash: hash})
}

func (h NetworkHandle) SendEthRequest(peer types.PeerId, req peermsg.EthRequest) {
	h.send(cmdSendEthRequest{Peer: peer, Req: req})
}

func (h NetworkHandle) SendTransaction(peer types.PeerId, payload []byte) {
	h.send(cmdSendTransaction{Peer: peer, Payload: payload})
}

func (h NetworkHandle) SendPooledTxHashes(peer types.PeerId, hashes [][32]byte) {
	h.send(cmdSendPooledTxHashes{Peer: peer, Hashes: hashes})
}

func (h NetworkHandle) AddPeerAddress(id types.PeerId, kind types.PeerKind, addr multiaddr.Multiaddr) {
	h.send(cmdAddPeerAddress{Id: id, Kind: kind, Addr: addr})
}

func (h NetworkHandle) RemovePeer(id types.PeerId) { h.send(cmdRemovePeer{Id: id}) }

func (h NetworkHandle) DisconnectPeer(id types.PeerId, reason types.DisconnectReason) {
	h.send(cmdDisconnectPeer{Id: id, Reason: reason})
}

// Shutdown is fire-and-forget from the caller's perspective until
// done fires (spec.md §5).
func (h NetworkHandle) Shutdown(done chan struct{}) { h.send(cmdShutdown{Done: done}) }

func (h NetworkHandle) ReputationChange(id types.PeerId, kind types.ReputationChangeKind) {
	h.send(cmdReputationChange{Id: id, Kind: kind})
}

func (h NetworkHandle) GetReputation(id types.PeerId) <-chan int32 {
	reply := make(chan int32, 1)
	h.send(cmdGetReputation{Id: id, Reply: reply})
	return reply
}

func (h NetworkHandle) GetStatus() <-chan types.Status {
	reply := make(chan types.Status, 1)
	h.send(cmdGetStatus{Reply: reply})
	return reply
}

func (h NetworkHandle) FetchClient() <-chan *netstate.FetchClient {
	reply := make(chan *netstate.FetchClient, 1)
	h.send(cmdFetchClient{Reply: reply})
	return reply
}

func (h NetworkHandle) GetPeerInfo() <-chan []session.PeerInfo {
	reply := make(chan []session.PeerInfo, 1)
	h.send(cmdGetPeerInfo{Reply: reply})
	return reply
}

func (h NetworkHandle) GetPeerInfoById(id types.PeerId) <-chan PeerInfoReply {
	reply := make(chan PeerInfoReply, 1)
	h.send(cmdGetPeerInfoById{Id: id, Reply: reply})
	return reply
}

func (h NetworkHandle) StatusUpdate(head [32]byte, newFork types.ForkId) {
	h.send(cmdStatusUpdate{Head: head, NewFork: newFork})
}
