// Package peermsg defines the typed, fully-decoded messages a session
// hands to the Swarm, and the sub-requests an EthRequest can carry.
// Wire framing, RLPx, and the message codec are external collaborators
// (spec.md §1); this package only names the closed set of variants the
// Manager dispatches on (spec.md §4.5).
package peermsg

import "github.com/empower1/netcore/internal/types"

// Kind is the closed set of PeerMessage variants from spec.md's
// peer-message dispatch table.
type Kind int

const (
	KindNewBlockHashes Kind = iota
	KindNewBlock
	KindPooledTransactions
	KindEthRequest
	KindReceivedTransaction
	KindSendTransactions
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNewBlockHashes:
		return "new_block_hashes"
	case KindNewBlock:
		return "new_block"
	case KindPooledTransactions:
		return "pooled_transactions"
	case KindEthRequest:
		return "eth_request"
	case KindReceivedTransaction:
		return "received_transaction"
	case KindSendTransactions:
		return "send_transactions"
	default:
		return "other"
	}
}

// Message is the value a Session hands to the Swarm for one inbound
// wire message, already decoded by the (external) codec.
type Message struct {
	Kind Kind

	NewBlockHashes []types.Hash
	NewBlock       *types.NewBlockMessage
	TxHashes       [][32]byte
	Request        *EthRequest
	Transaction    []byte

	// OtherName is set when Kind == KindOther, for logging.
	OtherName string
}

// EthRequestKind is the closed set of request sub-types spec.md §4.5
// routes either to the eth-request task or the tx manager.
type EthRequestKind int

const (
	ReqGetBlockHeaders EthRequestKind = iota
	ReqGetBlockBodies
	ReqGetNodeData
	ReqGetReceipts
	ReqGetPooledTransactions
)

func (k EthRequestKind) String() string {
	switch k {
	case ReqGetBlockHeaders:
		return "get_block_headers"
	case ReqGetBlockBodies:
		return "get_block_bodies"
	case ReqGetNodeData:
		return "get_node_data"
	case ReqGetReceipts:
		return "get_receipts"
	case ReqGetPooledTransactions:
		return "get_pooled_transactions"
	default:
		return "unknown"
	}
}

// EthRequest bundles a peer's request with a reply sink, matching
// spec.md §6's "{peer_id, request, reply_sink}" shape.
type EthRequest struct {
	Kind      EthRequestKind
	PeerId    types.PeerId
	Payload   any
	ReplySink chan<- any
}
