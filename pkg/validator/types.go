package validator

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"

	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// ViewChangeTag identifies one view-change round: the block a leader
// failed to produce, and the view number being proposed in its place.
// Totally ordered lexicographically by (BlockNumber, NewViewNumber).
type ViewChangeTag struct {
	BlockNumber   uint32
	NewViewNumber uint32
}

func (t ViewChangeTag) Less(o ViewChangeTag) bool {
	if t.BlockNumber != o.BlockNumber {
		return t.BlockNumber < o.BlockNumber
	}
	return t.NewViewNumber < o.NewViewNumber
}

// encode returns the canonical bytes a view-change vote signs over.
func (t ViewChangeTag) encode() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], t.BlockNumber)
	binary.BigEndian.PutUint32(buf[4:8], t.NewViewNumber)
	return buf
}

// SignedViewChange is one validator's vote to advance to a new view.
type SignedViewChange struct {
	Tag       ViewChangeTag
	SignerIdx int
	Signature blscrypto.Signature
}

// ValidatorInfo advertises a peer's gossip address and BLS identity.
type ValidatorInfo struct {
	PeerAddr  string
	PublicKey blscrypto.CompressedPublicKey
}

func infoSigningBytes(info ValidatorInfo) []byte {
	return []byte("validator-info:" + info.PeerAddr + ":" + info.PublicKey.String())
}

// SignedValidatorInfo is self-authenticating: the embedded signature
// is over the info itself, under the same key it advertises.
type SignedValidatorInfo struct {
	Info      ValidatorInfo
	Signature blscrypto.Signature
}

// Verify checks a SignedValidatorInfo's self-signature. The gossip
// layer is expected to call this before a ValidatorInfo ever reaches
// the coordinator (spec.md §7 peer-level error handling); the
// coordinator itself never re-checks it.
func (s SignedValidatorInfo) Verify() bool {
	pk, err := blscrypto.Uncompress(s.Info.PublicKey)
	if err != nil {
		return false
	}
	return blscrypto.Verify(pk, infoSigningBytes(s.Info), s.Signature)
}

// ValidatorInfoSnapshot is pushed directly to a newly joined peer:
// everything this node currently knows about other validators, plus
// its own info.
type ValidatorInfoSnapshot struct {
	Infos []SignedValidatorInfo
}

// PbftProposal is a candidate macro-block header plus the
// view-change proof that justifies proposing at a non-zero view.
type PbftProposal struct {
	Header          chain.MacroHeader
	ViewChangeProof *chain.ViewChangeProof
}

// SignedPbftProposal is a proposal signed by the claimed block
// producer.
type SignedPbftProposal struct {
	Proposal  PbftProposal
	SignerIdx int
	Signature blscrypto.Signature
}

// SignedPbftVote is a single validator's prepare or commit vote for a
// macro-block hash. Which phase it belongs to is determined by which
// Coordinator method it is handed to, not by a field on the vote
// itself — mirroring the two distinct gossip topics/protocols that
// carry them.
type SignedPbftVote struct {
	Hash      [32]byte
	SignerIdx int
	Signature blscrypto.Signature
}

type pbftPhase byte

const (
	phasePrepare pbftPhase = 0x01
	phaseCommit  pbftPhase = 0x02
)

// phaseMessage is the canonical message a prepare or commit vote
// signs: the block hash, domain-separated by phase so a prepare vote
// can never be replayed as a commit vote for the same block.
func phaseMessage(hash [32]byte, phase pbftPhase) []byte {
	out := make([]byte, 0, 33)
	out = append(out, byte(phase))
	out = append(out, hash[:]...)
	return out
}

// AggregateProof is an aggregated BLS signature plus the bitset of
// validator indices that contributed to it.
type AggregateProof struct {
	Signature blscrypto.Signature
	Signers   *bitset.BitSet
}

// PbftProof bundles the prepare and commit aggregate proofs that
// finalize a macro block.
type PbftProof struct {
	Prepare AggregateProof
	Commit  AggregateProof
}

// ForkProof is opaque evidence of validator misbehavior. Interpreting
// or acting on it beyond relaying and notifying the block-producer is
// out of scope (spec.md §1 Non-goals: slashing enforcement).
type ForkProof struct {
	Evidence []byte
}

// bitsetSigners converts a signer bitset to a sorted slice of
// validator indices, the wire/storage form chain.ViewChangeProof
// uses.
func bitsetSigners(b *bitset.BitSet) []int {
	if b == nil {
		return nil
	}
	out := make([]int, 0, b.Count())
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		out = append(out, int(i))
	}
	return out
}
