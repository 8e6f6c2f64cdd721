package netstate

import (
	"errors"

	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

// ErrNoSuitablePeer is returned when no connected peer can service a
// fetch request.
var ErrNoSuitablePeer = errors.New("netstate: no suitable peer")

// SendEthRequest is the capability the Manager gives Network State to
// actually push a request onto a peer's session once a target is
// chosen; Network State itself has no reference to the Session
// Manager (spec.md §3 ownership: Swarm owns sessions, Network State
// owns peer bookkeeping).
type SendEthRequest func(peer types.PeerId, req peermsg.EthRequest)

// FetchClient lets external callers (via NetworkHandle.FetchClient)
// request blocks/headers from peers without reaching into Network
// State's internals (spec.md §4.4: "holds the fetch client that
// external callers use to request blocks/headers from peers").
type FetchClient struct {
	state *State
	send  SendEthRequest
}

// NewFetchClient builds a FetchClient bound to state's peer picking
// logic and send's session routing.
func NewFetchClient(state *State, send SendEthRequest) *FetchClient {
	return &FetchClient{state: state, send: send}
}

// Request dispatches req to the first connected peer in peer-set
// iteration order; no peer is preferred over another.
func (c *FetchClient) Request(req peermsg.EthRequest) error {
	peers := c.state.connectedPeers()
	if len(peers) == 0 {
		return ErrNoSuitablePeer
	}
	target := peers[0]
	req.PeerId = target
	c.send(target, req)
	return nil
}
