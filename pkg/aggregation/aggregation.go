// Package aggregation provides the BLS signature aggregation
// transport the coordinator drives: push a local contribution, push
// remote level-updates as they arrive over gossip, and get notified
// once accumulated weight crosses the two-thirds-of-slots threshold.
//
// The real Handel protocol this stands in for builds a multi-level
// binomial tree of peers and only ever exchanges partial aggregates
// with a handful of them per level; that routing is explicitly out of
// scope here (spec.md treats it as a black box behind Transport). What
// this package keeps faithful is the contract every caller in
// pkg/validator actually relies on: PushContribution, PushLevelUpdate,
// Subscribe and Votes, and the two-thirds-weight completion rule.
package aggregation

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// LevelUpdate is a signature contribution received from a remote
// validator over the gossip level-update protocol.
type LevelUpdate struct {
	SignerIdx int
	Signature blscrypto.Signature
}

// CompletionEvent is delivered to subscribers once the aggregate
// signature first crosses the two-thirds-slots threshold.
type CompletionEvent struct {
	Signature blscrypto.Signature
	Signers   *bitset.BitSet
	Weight    uint32
}

// Transport constructs aggregation handles. One Handle exists per
// concurrently-running aggregation (one view-change round, one pBFT
// prepare phase, one pBFT commit phase).
type Transport interface {
	NewAggregation(msg []byte, selfIdx int, validators []chain.Group) *Handle
}

// LocalTransport is the concrete Transport this module wires end to
// end: aggregation state lives in the owning process and remote
// shares arrive exclusively through PushLevelUpdate, fed by
// pkg/gossip. It satisfies the full push/subscribe/complete contract
// without needing a real multi-level peer topology.
type LocalTransport struct {
	Log *zap.SugaredLogger
}

func NewLocalTransport(log *zap.SugaredLogger) *LocalTransport {
	return &LocalTransport{Log: log}
}

func (t *LocalTransport) NewAggregation(msg []byte, selfIdx int, validators []chain.Group) *Handle {
	return newHandle(msg, selfIdx, validators, t.Log)
}

// Handle is one running aggregation: the message being signed, the
// validator set it is weighed against, and the shares collected so
// far.
type Handle struct {
	mu sync.Mutex

	msg        []byte
	selfIdx    int
	validators []chain.Group
	totalSlots uint32

	shares  map[int]blscrypto.Signature
	signers *bitset.BitSet
	weight  uint32

	done   bool
	result CompletionEvent

	listeners []func(CompletionEvent)

	log *zap.SugaredLogger
}

func newHandle(msg []byte, selfIdx int, validators []chain.Group, log *zap.SugaredLogger) *Handle {
	var total uint32
	for _, g := range validators {
		total += uint32(g.Weight())
	}
	return &Handle{
		msg:        msg,
		selfIdx:    selfIdx,
		validators: validators,
		totalSlots: total,
		shares:     make(map[int]blscrypto.Signature),
		signers:    bitset.New(uint(len(validators))),
		log:        log,
	}
}

// PushContribution registers this node's own signature share.
func (h *Handle) PushContribution(sig blscrypto.Signature) {
	h.push(h.selfIdx, sig)
}

// PushLevelUpdate registers a signature share received from a remote
// validator. Duplicate or out-of-range indices are ignored rather
// than treated as errors: gossip can and will redeliver the same
// contribution along multiple paths.
func (h *Handle) PushLevelUpdate(u LevelUpdate) {
	h.push(u.SignerIdx, u.Signature)
}

func (h *Handle) push(idx int, sig blscrypto.Signature) {
	h.mu.Lock()
	if h.done || idx < 0 || idx >= len(h.validators) {
		h.mu.Unlock()
		return
	}
	if _, exists := h.shares[idx]; exists {
		h.mu.Unlock()
		return
	}
	h.shares[idx] = sig
	h.signers.Set(uint(idx))
	h.weight += uint32(h.validators[idx].Weight())

	if h.weight < chain.TwoThirdSlots {
		h.mu.Unlock()
		return
	}

	event, err := h.finalizeLocked()
	h.done = true
	listeners := append([]func(CompletionEvent){}, h.listeners...)
	h.mu.Unlock()

	if err != nil {
		if h.log != nil {
			h.log.Errorw("aggregation reached threshold but failed to combine", "error", err)
		}
		return
	}
	for _, fn := range listeners {
		fn(event)
	}
}

func (h *Handle) finalizeLocked() (CompletionEvent, error) {
	sigs := make([]blscrypto.Signature, 0, len(h.shares))
	for _, s := range h.shares {
		sigs = append(sigs, s)
	}
	agg, err := blscrypto.Aggregate(sigs)
	if err != nil {
		return CompletionEvent{}, err
	}
	h.result = CompletionEvent{
		Signature: agg,
		Signers:   h.signers.Clone(),
		Weight:    h.weight,
	}
	return h.result, nil
}

// Subscribe registers fn to run once this aggregation completes. If
// it has already completed, fn runs immediately with the cached
// result. Callers must not hold any coordinator lock when calling
// Subscribe, since fn may run synchronously on this goroutine.
func (h *Handle) Subscribe(fn func(CompletionEvent)) {
	h.mu.Lock()
	if h.done {
		result := h.result
		h.mu.Unlock()
		fn(result)
		return
	}
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}

// Votes reports the current accumulated weight and the total slot
// weight of the validator set being aggregated over.
func (h *Handle) Votes() (weight, total uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.weight, h.totalSlots
}

// Done reports whether this aggregation has already crossed
// threshold.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
