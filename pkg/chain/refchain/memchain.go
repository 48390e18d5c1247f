// Package refchain provides reference chain.Chain implementations for
// tests and the demo binary: an in-memory one, and a
// cockroachdb/pebble-backed one that persists finalized macro headers
// across restarts. A real node supplies its own Chain from its block
// store instead; the coordinator's core never persists anything
// itself (spec.md §6).
package refchain

import (
	"fmt"
	"sync"

	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// MemChain is an in-memory chain.Chain: block production is
// round-robin over the current validator groups, one turn per group
// regardless of its slot range width, the same scheme the teacher's
// RoundRobinElector uses for unweighted leader rotation.
type MemChain struct {
	mu sync.RWMutex

	height          uint32
	validators      []chain.Group
	macroEvery      uint32 // a block at height h is macro iff h%macroEvery == 0 (h > 0)
	finalizedMacros map[uint32]chain.MacroHeader
}

// NewMemChain builds a chain seeded with an initial validator set.
// macroEvery must be > 0 and names the batch length in blocks.
func NewMemChain(validators []chain.Group, macroEvery uint32) *MemChain {
	return &MemChain{
		validators:      validators,
		macroEvery:      macroEvery,
		finalizedMacros: make(map[uint32]chain.MacroHeader),
	}
}

func (c *MemChain) Height() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *MemChain) BlockNumber() uint32 { return c.Height() }

func (c *MemChain) CurrentValidators() []chain.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]chain.Group, len(c.validators))
	copy(out, c.validators)
	return out
}

func (c *MemChain) IsMacroBlockAt(height uint32) bool {
	if c.macroEvery == 0 {
		return false
	}
	return height > 0 && height%c.macroEvery == 0
}

// producerIdx deterministically rotates across validator groups as
// the view number advances within a block, the same round-robin shape
// as the teacher's RoundRobinElector, generalized to index by
// (block_number, view_number) rather than view alone.
func (c *MemChain) producerIdx(blockNumber, viewNumber uint32) int {
	if len(c.validators) == 0 {
		return 0
	}
	return int((blockNumber + viewNumber) % uint32(len(c.validators)))
}

func (c *MemChain) GetBlockProducerAt(blockNumber, viewNumber uint32) (chain.IndexedSlot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if blockNumber > c.height+1 {
		return chain.IndexedSlot{}, chain.ErrNotEnoughHistory
	}
	idx := c.producerIdx(blockNumber, viewNumber)
	return chain.IndexedSlot{Idx: idx, Slot: chain.Slot{PublicKey: c.validators[idx].PublicKey}}, nil
}

func (c *MemChain) GetCurrentValidatorByIdx(idx int) (chain.Group, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if idx < 0 || idx >= len(c.validators) {
		return chain.Group{}, false
	}
	return c.validators[idx], true
}

// VerifyBlockHeader checks that a producer key is supplied and, when
// view_number > 0, that a view-change proof with a non-empty signature
// is attached. It does not check parent linkage and does not verify
// the view-change proof's signature against the validator set.
// Deciding or checking block contents is out of scope (spec.md §1
// Non-goals).
func (c *MemChain) VerifyBlockHeader(header chain.MacroHeader, viewChangeProof *chain.ViewChangeProof, producerKey *blscrypto.PublicKey) error {
	if header.ViewNumber > 0 {
		if viewChangeProof == nil {
			return fmt.Errorf("refchain: view %d requires a view-change proof", header.ViewNumber)
		}
		if len(viewChangeProof.Signature) == 0 {
			return fmt.Errorf("refchain: view-change proof missing signature")
		}
	}
	if producerKey == nil {
		return fmt.Errorf("refchain: missing producer key")
	}
	return nil
}

// ExtendMacro advances the chain past a finalized macro header,
// recording it and optionally rotating in a new validator set for the
// next epoch. Test and demo code drive the chain with this; it is not
// part of chain.Chain.
func (c *MemChain) ExtendMacro(header chain.MacroHeader, nextEpochValidators []chain.Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = header.BlockNumber
	c.finalizedMacros[header.BlockNumber] = header
	if nextEpochValidators != nil {
		c.validators = nextEpochValidators
	}
}

// ExtendMicro advances the chain height without finalizing a macro
// block.
func (c *MemChain) ExtendMicro() {
	c.mu.Lock()
	c.height++
	c.mu.Unlock()
}
