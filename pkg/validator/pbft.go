package validator

import (
	"fmt"
	"sync"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// PbftInstance tracks one in-flight macro-block proposal: its hash,
// the signed proposal itself, and its prepare and commit
// aggregations.
type PbftInstance struct {
	Hash     [32]byte
	Proposal SignedPbftProposal

	Prepare *aggregation.Handle
	Commit  *aggregation.Handle

	mu           sync.Mutex
	prepareProof *AggregateProof
}

func newPbftInstance(hash [32]byte, proposal SignedPbftProposal, selfIdx int, validators []chain.Group, transport aggregation.Transport) *PbftInstance {
	return &PbftInstance{
		Hash:     hash,
		Proposal: proposal,
		Prepare:  transport.NewAggregation(phaseMessage(hash, phasePrepare), selfIdx, validators),
		Commit:   transport.NewAggregation(phaseMessage(hash, phaseCommit), selfIdx, validators),
	}
}

// ViewNumber is the view the proposal was made at.
func (p *PbftInstance) ViewNumber() uint32 { return p.Proposal.Proposal.Header.ViewNumber }

// BlockNumber is the macro-block number the proposal targets.
func (p *PbftInstance) BlockNumber() uint32 { return p.Proposal.Proposal.Header.BlockNumber }

// setPrepareProof stores the prepare aggregate proof the first time
// prepare completes. Returns false, leaving state untouched, if a
// proof is already present.
func (p *PbftInstance) setPrepareProof(proof AggregateProof) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepareProof != nil {
		return false
	}
	p.prepareProof = &proof
	return true
}

func (p *PbftInstance) prepareSignerSet() *AggregateProof {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepareProof
}

// takePrepareProof returns the proof recorded when prepare completed.
// Panics if prepare has not completed: the commit evaluator only ever
// forwards a commit share once prepare_proof exists (PushCommitShare,
// PushCommitContribution), so reaching here with no proof means
// coordinator state has been corrupted, not raced.
func (p *PbftInstance) takePrepareProof() AggregateProof {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepareProof == nil {
		panic("validator: commit completed before prepare_proof was set")
	}
	return *p.prepareProof
}

// PushPrepareContribution submits this node's own prepare vote.
func (p *PbftInstance) PushPrepareContribution(sig blscrypto.Signature) {
	p.Prepare.PushContribution(sig)
}

// PushPrepareShare submits a remote validator's prepare vote.
func (p *PbftInstance) PushPrepareShare(idx int, sig blscrypto.Signature) {
	p.Prepare.PushLevelUpdate(aggregation.LevelUpdate{SignerIdx: idx, Signature: sig})
}

// PushCommitContribution submits this node's own commit vote. It is
// dropped if prepare has not yet completed: the commit evaluator
// invariant (spec.md §3) forbids commit from completing before
// prepare_proof exists.
func (p *PbftInstance) PushCommitContribution(sig blscrypto.Signature) {
	if p.prepareSignerSet() == nil {
		return
	}
	p.Commit.PushContribution(sig)
}

// PushCommitShare submits a remote validator's commit vote. Accepted
// only from signers who already contributed to prepare.
func (p *PbftInstance) PushCommitShare(idx int, sig blscrypto.Signature) {
	proof := p.prepareSignerSet()
	if proof == nil || proof.Signers == nil || !proof.Signers.Test(uint(idx)) {
		return
	}
	p.Commit.PushLevelUpdate(aggregation.LevelUpdate{SignerIdx: idx, Signature: sig})
}

// CheckVerified reports whether this instance's proposal is valid
// against the chain, per spec.md §4.3. The chain must already be able
// to resolve the producer at (block_number, view_number); the caller
// (the coordinator, via is_macro_block_at(height+1)) is responsible
// for only calling this once that holds.
func (p *PbftInstance) CheckVerified(c chain.Chain) bool {
	header := p.Proposal.Proposal.Header

	indexed, err := c.GetBlockProducerAt(header.BlockNumber, header.ViewNumber)
	if err != nil {
		panic(fmt.Errorf("validator: check_verified called before chain could resolve producer: %w", err))
	}

	group, ok := c.GetCurrentValidatorByIdx(p.Proposal.SignerIdx)
	if !ok || group.PublicKey.String() != indexed.Slot.PublicKey.String() {
		return false
	}

	producerKey, err := blscrypto.Uncompress(group.PublicKey)
	if err != nil {
		return false
	}
	if err := c.VerifyBlockHeader(header, p.Proposal.Proposal.ViewChangeProof, producerKey); err != nil {
		return false
	}

	// Unchecked uncompression is sound here: VerifyBlockHeader above
	// already established group.PublicKey is the valid key for this
	// slot, and the proposal signature is checked against the same key.
	sigKey := blscrypto.UncompressUnchecked(group.PublicKey)
	hash := chain.HashHeader(header)
	return blscrypto.Verify(sigKey, hash[:], p.Proposal.Signature)
}
