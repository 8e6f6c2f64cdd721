package manager

import "github.com/empower1/netcore/internal/types"

// BlockImportOutcomeKind is the closed set spec.md §4.5 phase 1
// switches on.
type BlockImportOutcomeKind int

const (
	ImportValidHeader BlockImportOutcomeKind = iota
	ImportValidBlock
	ImportErr
)

// BlockImportOutcome is one result the block-import pipeline (an
// external collaborator, spec.md §1) hands back to the Manager.
type BlockImportOutcome struct {
	Kind   BlockImportOutcomeKind
	Peer   types.PeerId
	Block  types.NewBlockMessage
	Hash   types.Hash
	Number uint64
	Err    error
}

// BlockImport is the poll interface spec.md §6 names: "poll(cx) →
// Poll<BlockImportOutcome>, always-ready when an outcome exists."
// Go's idiom for a non-blocking poll is a non-blocking channel receive
// rather than a cx/Waker pair, so this models it as a receive-only
// channel: the Manager drains it to exhaustion with a select/default.
// Submit is the (implied, spec.md §4.5 "forward to block-import")
// inbound direction: handed a freshly-received NewBlock to validate.
// It must not block the Manager's loop.
type BlockImport interface {
	Outcomes() <-chan BlockImportOutcome
	Submit(peer types.PeerId, msg types.NewBlockMessage)
}
