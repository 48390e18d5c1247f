package validator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/chain"
)

// ViewChangeManager creates, tracks, and completes one aggregation
// per ViewChangeTag.
type ViewChangeManager struct {
	mu        sync.RWMutex
	transport aggregation.Transport
	active    map[ViewChangeTag]*aggregation.Handle
	log       *zap.SugaredLogger
}

func NewViewChangeManager(transport aggregation.Transport, log *zap.SugaredLogger) *ViewChangeManager {
	return &ViewChangeManager{
		transport: transport,
		active:    make(map[ViewChangeTag]*aggregation.Handle),
		log:       log,
	}
}

// Start begins a view-change aggregation for signed.Tag and pushes
// this node's own vote. onComplete is called exactly once, when the
// aggregation first crosses the two-thirds-slots threshold. Returns
// ErrViewChangeAlreadyExists (wrapping the tag) if one is already
// tracked.
func (m *ViewChangeManager) Start(signed SignedViewChange, selfIdx int, validators []chain.Group, onComplete func(ViewChangeTag, aggregation.CompletionEvent)) error {
	m.mu.Lock()
	if _, exists := m.active[signed.Tag]; exists {
		m.mu.Unlock()
		return viewChangeExistsError(signed.Tag)
	}
	handle := m.transport.NewAggregation(signed.Tag.encode(), selfIdx, validators)
	m.active[signed.Tag] = handle
	m.mu.Unlock()

	handle.Subscribe(func(ev aggregation.CompletionEvent) { onComplete(signed.Tag, ev) })
	handle.PushContribution(signed.Signature)
	return nil
}

// PushLevelUpdate forwards a remote contribution to the tracked
// aggregation for tag. A node must already be attempting the view
// change for this to have any effect: remote-only initiation is not
// supported, which prevents amplification of stale or speculative
// view numbers (spec.md §4.2).
func (m *ViewChangeManager) PushLevelUpdate(tag ViewChangeTag, update aggregation.LevelUpdate) {
	m.mu.RLock()
	handle, ok := m.active[tag]
	m.mu.RUnlock()
	if !ok {
		return
	}
	handle.PushLevelUpdate(update)
}

// Clear drops every tracked aggregation. Called at finality.
func (m *ViewChangeManager) Clear() {
	m.mu.Lock()
	m.active = make(map[ViewChangeTag]*aggregation.Handle)
	m.mu.Unlock()
}
