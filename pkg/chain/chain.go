// Package chain defines the external blockchain-store collaborator
// the validator coordinator depends on. The coordinator never mutates
// chain state; it only queries it. A concrete implementation lives in
// pkg/chain/refchain, used by tests and the demo binary — a real node
// would satisfy this interface from its own block store instead.
package chain

import (
	"errors"

	"github.com/albatross-net/valcoord/pkg/blscrypto"
)

// TotalSlots is the total weight of the active validator set. Every
// two-thirds threshold in this system (view-change, prepare, commit)
// is computed against this constant, following the Albatross policy
// of a fixed slot budget per epoch rather than a raw validator count.
const TotalSlots = 512

// TwoThirdSlots is the minimum slot weight that counts as
// "two-thirds or more" support.
const TwoThirdSlots = (TotalSlots*2)/3 + 1

// ErrNotEnoughHistory is returned by GetBlockProducerAt when the chain
// has not yet extended far enough to resolve the producer at the
// requested (block_number, view_number) — the buffering condition
// spec.md §4.3/§4.4 describes.
var ErrNotEnoughHistory = errors.New("chain: not enough micro-blocks to resolve producer")

// Group is one entry of the active validator set: a contiguous slot
// range and the (compressed) BLS public key that owns it.
type Group struct {
	SlotStart uint16
	SlotEnd   uint16 // exclusive
	PublicKey blscrypto.CompressedPublicKey
}

// Weight is the number of slots this group controls.
func (g Group) Weight() uint16 { return g.SlotEnd - g.SlotStart }

// Slot is a single unit of stake weight and the key that owns it.
type Slot struct {
	PublicKey blscrypto.CompressedPublicKey
}

// IndexedSlot names the validator-group index a slot belongs to,
// alongside the slot itself.
type IndexedSlot struct {
	Idx  int
	Slot Slot
}

// MacroHeader is the canonical macro-block header a pBFT instance
// proposes and finalizes. Deciding the header's payload is out of
// scope (spec.md §1 Non-goals); only the fields needed to identify,
// hash, and verify it are modeled here.
type MacroHeader struct {
	BlockNumber uint32
	ViewNumber  uint32
	ParentHash  [32]byte
	Extrinsics  []byte
}

// ViewChangeProof is the aggregated BLS proof that two-thirds of the
// active validator set supported a view change.
type ViewChangeProof struct {
	Signature blscrypto.Signature
	Signers   []int // sorted validator indices that contributed
}

// Chain is the interface the coordinator queries. It never mutates
// chain state.
type Chain interface {
	// Height returns the current chain height (number of confirmed
	// blocks, micro and macro).
	Height() uint32

	// BlockNumber is an alias the spec keeps distinct from Height for
	// symmetry with the original: in this module they coincide.
	BlockNumber() uint32

	// CurrentValidators returns the ordered list of validator groups
	// active in the current epoch.
	CurrentValidators() []Group

	// GetBlockProducerAt resolves the slot (and its owning validator
	// group index) assigned to produce the block at the given
	// (block_number, view_number). Returns ErrNotEnoughHistory if the
	// chain cannot yet resolve it (the caller — PbftInstance.CheckVerified
	// — must not call this unless it already knows the chain has
	// enough micro-blocks; calling it too early is a programmer error
	// per spec.md §4.3, not a recoverable condition).
	GetBlockProducerAt(blockNumber, viewNumber uint32) (IndexedSlot, error)

	// GetCurrentValidatorByIdx returns the validator group at the
	// given index in the current epoch's active set.
	GetCurrentValidatorByIdx(idx int) (Group, bool)

	// VerifyBlockHeader verifies a macro block header against chain
	// state, under the claimed producer key and an optional
	// view-change proof (required whenever view_number > 0).
	VerifyBlockHeader(header MacroHeader, viewChangeProof *ViewChangeProof, producerKey *blscrypto.PublicKey) error

	// IsMacroBlockAt reports whether the block at the given height is
	// a macro (epoch-finalizing) position. This is the sole criterion
	// for pBFT proposal buffering (spec.md §9).
	IsMacroBlockAt(height uint32) bool
}
