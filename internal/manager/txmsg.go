package manager

import (
	"github.com/empower1/netcore/internal/peermsg"
	"github.com/empower1/netcore/internal/types"
)

// TxManagerMsgKind is the closed set spec.md §6 names for the
// transactions-manager channel.
type TxManagerMsgKind int

const (
	TxIncomingTransactions TxManagerMsgKind = iota
	TxIncomingPooledTransactionHashes
	TxGetPooledTransactions
)

// TxManagerMsg is one item on the unbounded, metered channel to the
// (external) transactions task.
type TxManagerMsg struct {
	Kind    TxManagerMsgKind
	Peer    types.PeerId
	Payload []byte
	Hashes  [][32]byte
	// Request is set only for TxGetPooledTransactions, carrying the
	// reply sink the originating EthRequest bundled.
	Request *peermsg.EthRequest
}
