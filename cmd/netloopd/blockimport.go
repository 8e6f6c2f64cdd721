package main

import (
	"github.com/empower1/netcore/internal/manager"
	"github.com/empower1/netcore/internal/types"
)

// nopBlockImport is the stand-in manager.BlockImport used until this
// process is wired to a real block-validation pipeline (spec.md §1
// names block import as an external collaborator). It never produces
// outcomes and silently drops submissions.
type nopBlockImport struct {
	outcomes chan manager.BlockImportOutcome
}

func newNopBlockImport() *nopBlockImport {
	return &nopBlockImport{outcomes: make(chan manager.BlockImportOutcome)}
}

func (b *nopBlockImport) Outcomes() <-chan manager.BlockImportOutcome { return b.outcomes }

func (b *nopBlockImport) Submit(peer types.PeerId, msg types.NewBlockMessage) {}
