// Package validator implements the validator consensus coordinator:
// the state machine that drives one node's participation in
// view-changes and pBFT macro-block finalization, coordinating BLS
// signature aggregation across the active validator set.
package validator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"weak"

	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// Coordinator owns the peer/validator table, the view-change manager,
// and the set of in-flight pBFT instances. Every mutation path
// follows the same discipline: acquire the narrowest lock that owns
// the data being touched, clone what's needed, release, then push
// into an aggregation or emit an event. Pushing into an aggregation
// while holding a lock risks deadlock, since completion callbacks
// re-enter the coordinator (spec.md §5, §9).
type Coordinator struct {
	table      *Table
	viewChange *ViewChangeManager
	transport  aggregation.Transport
	network    Network
	chain      chain.Chain
	dispatcher *Dispatcher
	signer     *blscrypto.Signer
	log        *zap.SugaredLogger

	// self is a weak back-reference handed to every completion
	// listener the coordinator wires onto an aggregation. It is the
	// Go stdlib analogue of the original's Weak<ValidatorNetwork>:
	// once the owner drops its strong *Coordinator, these listeners
	// stop firing instead of keeping the coordinator (and everything
	// it owns) alive forever.
	self weak.Pointer[Coordinator]

	mu        sync.RWMutex
	instances []*PbftInstance // PbftSet

	selfInfoMu sync.RWMutex
	selfInfo   SignedValidatorInfo

	activeGroups atomic.Pointer[[]chain.Group]
}

// NewCoordinator builds a Coordinator. The returned value's address
// must not change (it is captured by weak.Make); callers should treat
// it as already boxed and never copy it by value.
func NewCoordinator(c chain.Chain, transport aggregation.Transport, network Network, signer *blscrypto.Signer, log *zap.SugaredLogger) *Coordinator {
	co := &Coordinator{
		table:      NewTable(log),
		transport:  transport,
		network:    network,
		chain:      c,
		dispatcher: NewDispatcher(),
		signer:     signer,
		log:        log,
	}
	co.viewChange = NewViewChangeManager(transport, log)
	co.self = weak.Make(co)
	return co
}

func (co *Coordinator) Dispatcher() *Dispatcher { return co.dispatcher }
func (co *Coordinator) Table() *Table           { return co.table }

// SetSelfAddr signs and stores this node's own ValidatorInfo, used
// when joining new peers and when broadcasting the table snapshot.
func (co *Coordinator) SetSelfAddr(peerAddr string) error {
	pkc, err := co.signer.Compress()
	if err != nil {
		return fmt.Errorf("compress self public key: %w", err)
	}
	info := ValidatorInfo{PeerAddr: peerAddr, PublicKey: pkc}
	sig := co.signer.Sign(infoSigningBytes(info))

	co.selfInfoMu.Lock()
	co.selfInfo = SignedValidatorInfo{Info: info, Signature: sig}
	co.selfInfoMu.Unlock()
	return nil
}

func (co *Coordinator) selfInfoSnapshot() SignedValidatorInfo {
	co.selfInfoMu.RLock()
	defer co.selfInfoMu.RUnlock()
	return co.selfInfo
}

func (co *Coordinator) activeGroupsSnapshot() []chain.Group {
	p := co.activeGroups.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Join handles a newly connected peer. A peer that does not advertise
// the validator service flag is a no-op.
func (co *Coordinator) Join(peer PeerHandle, isValidator bool) {
	if !isValidator {
		return
	}
	co.table.Join(peer, true, co.selfInfoSnapshot())
}

// Leave handles a disconnected peer.
func (co *Coordinator) Leave(peerID string) {
	co.table.Leave(peerID)
}

// OnValidatorInfo records a validator's advertised identity.
// Signature pre-validation is the gossip layer's responsibility.
func (co *Coordinator) OnValidatorInfo(peerID string, signed SignedValidatorInfo) {
	co.table.OnValidatorInfo(peerID, signed)
}

// OnForkProof relays a fork proof to the block-producer and to every
// other known validator.
func (co *Coordinator) OnForkProof(proof ForkProof) {
	co.dispatcher.emit(Event{Kind: EventForkProof, ForkProof: &proof})
	co.network.BroadcastForkProof(proof)
}

// OnFinality resets per-epoch state and recomputes the active
// validator set from the chain.
func (co *Coordinator) OnFinality(newValidatorID *int) {
	co.viewChange.Clear()

	co.mu.Lock()
	co.instances = nil
	co.mu.Unlock()

	co.table.SetValidatorID(newValidatorID)

	groups := co.chain.CurrentValidators()
	co.activeGroups.Store(&groups)
	co.table.RebuildActive(groups)
}

// StartViewChange begins a view-change aggregation for signed.Tag.
func (co *Coordinator) StartViewChange(signed SignedViewChange) error {
	selfIdx, ok := co.table.ValidatorID()
	if !ok {
		panic("validator: start_view_change called before validator_id is set")
	}

	self := co.self
	err := co.viewChange.Start(signed, selfIdx, co.activeGroupsSnapshot(), func(tag ViewChangeTag, ev aggregation.CompletionEvent) {
		if c := self.Value(); c != nil {
			c.onViewChangeComplete(tag, ev)
		}
	})
	if err != nil {
		return err
	}

	co.network.BroadcastViewChangeUpdate(signed.Tag, aggregation.LevelUpdate{SignerIdx: selfIdx, Signature: signed.Signature})
	return nil
}

func (co *Coordinator) onViewChangeComplete(tag ViewChangeTag, ev aggregation.CompletionEvent) {
	proof := &chain.ViewChangeProof{Signature: ev.Signature, Signers: bitsetSigners(ev.Signers)}
	co.dispatcher.emit(Event{Kind: EventViewChangeComplete, ViewChangeTag: tag, ViewChangeProof: proof})
}

// OnViewChangeLevelUpdate forwards a remote view-change contribution.
func (co *Coordinator) OnViewChangeLevelUpdate(tag ViewChangeTag, update aggregation.LevelUpdate) {
	co.viewChange.PushLevelUpdate(tag, update)
}

func (co *Coordinator) findInstance(hash [32]byte) *PbftInstance {
	co.mu.RLock()
	defer co.mu.RUnlock()
	for _, inst := range co.instances {
		if inst.Hash == hash {
			return inst
		}
	}
	return nil
}

// OnPbftProposal admits a new macro-block proposal into the pBFT set,
// per spec.md §4.4.
func (co *Coordinator) OnPbftProposal(signed SignedPbftProposal) error {
	hash := chain.HashHeader(signed.Proposal.Header)

	if co.findInstance(hash) != nil {
		return nil // idempotent drop
	}

	selfIdx, ok := co.table.ValidatorID()
	if !ok {
		panic("validator: on_pbft_proposal called before validator_id is set")
	}

	instance := newPbftInstance(hash, signed, selfIdx, co.activeGroupsSnapshot(), co.transport)
	buffered := !co.chain.IsMacroBlockAt(co.chain.Height() + 1)

	if buffered {
		co.mu.Lock()
		co.instances = append(co.instances, instance)
		co.mu.Unlock()
	} else {
		if !instance.CheckVerified(co.chain) {
			return ErrInvalidProposal
		}

		co.mu.Lock()
		drop, collide := false, false
		for _, existing := range co.instances {
			if existing.ViewNumber() == instance.ViewNumber() {
				collide = true
				break
			}
			if existing.ViewNumber() > instance.ViewNumber() {
				drop = true
				break
			}
		}
		switch {
		case collide:
			co.mu.Unlock()
			return ErrProposalCollision
		case drop:
			co.mu.Unlock()
			return nil
		default:
			co.instances = []*PbftInstance{instance}
			co.mu.Unlock()
		}
	}

	co.wireInstanceListeners(instance)

	if !buffered {
		co.dispatcher.emit(Event{Kind: EventPbftProposal, Hash: hash, Proposal: &signed})
	}
	co.network.BroadcastProposal(signed)
	return nil
}

// wireInstanceListeners attaches prepare and commit completion
// listeners using a weak back-reference, in prepare-then-commit order
// — the order the original's listener wiring uses, since commit's
// handler depends on prepare's having already filled prepare_proof.
func (co *Coordinator) wireInstanceListeners(instance *PbftInstance) {
	self := co.self
	hash := instance.Hash

	instance.Prepare.Subscribe(func(ev aggregation.CompletionEvent) {
		if c := self.Value(); c != nil {
			c.onPrepareComplete(hash, ev)
		}
	})
	instance.Commit.Subscribe(func(ev aggregation.CompletionEvent) {
		if c := self.Value(); c != nil {
			c.onCommitComplete(hash, ev)
		}
	})
}

func (co *Coordinator) onPrepareComplete(hash [32]byte, ev aggregation.CompletionEvent) {
	instance := co.findInstance(hash)
	if instance == nil {
		return
	}
	proof := AggregateProof{Signature: ev.Signature, Signers: ev.Signers}
	if !instance.setPrepareProof(proof) {
		if co.log != nil {
			co.log.Warnw("prepare already completed for instance", "hash", fmt.Sprintf("%x", hash))
		}
		return
	}
	co.dispatcher.emit(Event{Kind: EventPbftPrepareComplete, Hash: hash, Proposal: &instance.Proposal})
}

func (co *Coordinator) onCommitComplete(hash [32]byte, ev aggregation.CompletionEvent) {
	instance := co.findInstance(hash)
	if instance == nil {
		return
	}
	prepareProof := instance.takePrepareProof()
	proof := &PbftProof{
		Prepare: prepareProof,
		Commit:  AggregateProof{Signature: ev.Signature, Signers: ev.Signers},
	}
	co.dispatcher.emit(Event{Kind: EventPbftComplete, Hash: hash, Proposal: &instance.Proposal, PbftProof: proof})
}

// OnBlockchainExtended resolves the buffered pBFT set once the chain
// can verify proposals again, per spec.md §4.4. A no-op unless the
// next block is a macro block.
func (co *Coordinator) OnBlockchainExtended() {
	if !co.chain.IsMacroBlockAt(co.chain.Height() + 1) {
		return
	}

	co.mu.Lock()
	survivors := make([]*PbftInstance, 0, len(co.instances))
	seen := make(map[ViewChangeTag]bool, len(co.instances))
	for _, inst := range co.instances {
		if !inst.CheckVerified(co.chain) {
			continue
		}
		tag := ViewChangeTag{BlockNumber: inst.BlockNumber(), NewViewNumber: inst.ViewNumber()}
		if seen[tag] {
			continue
		}
		seen[tag] = true
		survivors = append(survivors, inst)
	}

	var winner *PbftInstance
	for _, inst := range survivors {
		if winner == nil || inst.ViewNumber() > winner.ViewNumber() {
			winner = inst
		}
	}

	if winner != nil {
		co.instances = []*PbftInstance{winner}
	} else {
		co.instances = nil
	}
	co.mu.Unlock()

	if winner != nil {
		co.dispatcher.emit(Event{Kind: EventPbftProposal, Hash: winner.Hash, Proposal: &winner.Proposal})
	}
}

// PushPrepare submits this node's own prepare vote for a known
// proposal.
func (co *Coordinator) PushPrepare(signed SignedPbftVote) error {
	instance := co.findInstance(signed.Hash)
	if instance == nil {
		return ErrUnknownProposal
	}
	instance.PushPrepareContribution(signed.Signature)
	co.network.BroadcastPrepareUpdate(signed.Hash, aggregation.LevelUpdate{SignerIdx: signed.SignerIdx, Signature: signed.Signature})
	return nil
}

// PushCommit submits this node's own commit vote for a known
// proposal.
func (co *Coordinator) PushCommit(signed SignedPbftVote) error {
	instance := co.findInstance(signed.Hash)
	if instance == nil {
		return ErrUnknownProposal
	}
	instance.PushCommitContribution(signed.Signature)
	co.network.BroadcastCommitUpdate(signed.Hash, aggregation.LevelUpdate{SignerIdx: signed.SignerIdx, Signature: signed.Signature})
	return nil
}

// OnPbftPrepareLevelUpdate forwards a remote prepare vote.
func (co *Coordinator) OnPbftPrepareLevelUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	if instance := co.findInstance(hash); instance != nil {
		instance.PushPrepareShare(update.SignerIdx, update.Signature)
	}
}

// OnPbftCommitLevelUpdate forwards a remote commit vote.
func (co *Coordinator) OnPbftCommitLevelUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	if instance := co.findInstance(hash); instance != nil {
		instance.PushCommitShare(update.SignerIdx, update.Signature)
	}
}
