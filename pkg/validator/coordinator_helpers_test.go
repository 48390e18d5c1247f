package validator

import (
	"sync"
	"testing"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
	"github.com/albatross-net/valcoord/pkg/chain/refchain"
)

// fakePeer is a no-op PeerHandle for table/coordinator tests that never
// exercise the real gossip transport.
type fakePeer struct {
	id   string
	sent []any
}

func (p *fakePeer) PeerID() string { return p.id }
func (p *fakePeer) Send(msg any) error {
	p.sent = append(p.sent, msg)
	return nil
}

// fakeNetwork records every outbound broadcast the coordinator makes,
// without actually wiring a transport.
type fakeNetwork struct {
	mu               sync.Mutex
	proposals        []SignedPbftProposal
	prepareUpdates   []aggregation.LevelUpdate
	commitUpdates    []aggregation.LevelUpdate
	viewChangeVotes  []aggregation.LevelUpdate
	forkProofs       []ForkProof
	validatorInfo    [][]SignedValidatorInfo
}

func (n *fakeNetwork) BroadcastValidatorInfo(infos []SignedValidatorInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.validatorInfo = append(n.validatorInfo, infos)
}
func (n *fakeNetwork) BroadcastForkProof(proof ForkProof) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.forkProofs = append(n.forkProofs, proof)
}
func (n *fakeNetwork) BroadcastProposal(signed SignedPbftProposal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.proposals = append(n.proposals, signed)
}
func (n *fakeNetwork) BroadcastViewChangeUpdate(tag ViewChangeTag, update aggregation.LevelUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.viewChangeVotes = append(n.viewChangeVotes, update)
}
func (n *fakeNetwork) BroadcastPrepareUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prepareUpdates = append(n.prepareUpdates, update)
}
func (n *fakeNetwork) BroadcastCommitUpdate(hash [32]byte, update aggregation.LevelUpdate) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.commitUpdates = append(n.commitUpdates, update)
}

// testValidators builds n equal-weight validator groups and their
// matching BLS signers, slots evenly dividing chain.TotalSlots.
func testValidators(t *testing.T, n int) ([]chain.Group, []*blscrypto.Signer) {
	t.Helper()
	slot := uint16(chain.TotalSlots / n)
	var groups []chain.Group
	var signers []*blscrypto.Signer
	for i := 0; i < n; i++ {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		s, err := blscrypto.NewSignerFromSeed(seed)
		if err != nil {
			t.Fatalf("NewSignerFromSeed[%d]: %v", i, err)
		}
		ck, err := s.Compress()
		if err != nil {
			t.Fatalf("Compress[%d]: %v", i, err)
		}
		end := slot * uint16(i+1)
		if i == n-1 {
			end = chain.TotalSlots
		}
		groups = append(groups, chain.Group{SlotStart: slot * uint16(i), SlotEnd: end, PublicKey: ck})
		signers = append(signers, s)
	}
	return groups, signers
}

// testCoordinator builds a Coordinator wired to an in-memory chain at
// the given height, a fake network, and a local aggregation transport,
// with selfSigner as the coordinator's own key.
func testCoordinator(t *testing.T, groups []chain.Group, height uint32, macroEvery uint32, selfSigner *blscrypto.Signer, selfValidatorID int) (*Coordinator, *refchain.MemChain, *fakeNetwork) {
	t.Helper()
	c := refchain.NewMemChain(groups, macroEvery)
	for i := uint32(0); i < height; i++ {
		c.ExtendMicro()
	}
	transport := aggregation.NewLocalTransport(nil)
	net := &fakeNetwork{}
	co := NewCoordinator(c, transport, net, selfSigner, nil)
	if err := co.SetSelfAddr("/ip4/127.0.0.1/tcp/0"); err != nil {
		t.Fatalf("SetSelfAddr: %v", err)
	}
	id := selfValidatorID
	co.OnFinality(&id)
	return co, c, net
}

// signProposal builds a SignedPbftProposal for blockNumber/viewNumber
// signed by signerIdx's key, distinguished (when desired) by a
// distinguishing extrinsics payload so distinct proposals at the same
// (blockNumber, viewNumber) hash differently. For viewNumber > 0 it
// attaches a view-change proof aggregated from every signer, since the
// chain rejects a non-zero-view header without one.
func signProposal(signers []*blscrypto.Signer, signerIdx int, blockNumber, viewNumber uint32, distinguish string) ([32]byte, SignedPbftProposal) {
	header := chain.MacroHeader{BlockNumber: blockNumber, ViewNumber: viewNumber, Extrinsics: []byte(distinguish)}
	hash := chain.HashHeader(header)
	sig := signers[signerIdx].Sign(hash[:])

	var vcProof *chain.ViewChangeProof
	if viewNumber > 0 {
		tag := ViewChangeTag{BlockNumber: blockNumber, NewViewNumber: viewNumber}
		shares := make([]blscrypto.Signature, 0, len(signers))
		idxs := make([]int, 0, len(signers))
		for i, s := range signers {
			shares = append(shares, s.Sign(tag.encode()))
			idxs = append(idxs, i)
		}
		agg, err := blscrypto.Aggregate(shares)
		if err != nil {
			panic(err)
		}
		vcProof = &chain.ViewChangeProof{Signature: agg, Signers: idxs}
	}

	return hash, SignedPbftProposal{
		Proposal:  PbftProposal{Header: header, ViewChangeProof: vcProof},
		SignerIdx: signerIdx,
		Signature: sig,
	}
}

func collectEvents(co *Coordinator) *eventLog {
	log := &eventLog{}
	co.Dispatcher().Subscribe(log.record)
	return log
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func (l *eventLog) count(k EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func mustProducerIdx(blockNumber, viewNumber uint32, n int) int {
	return int((blockNumber + viewNumber) % uint32(n))
}
