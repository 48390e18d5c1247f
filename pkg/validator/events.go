package validator

import (
	"sync"

	"github.com/albatross-net/valcoord/pkg/chain"
)

// EventKind identifies which of the five outbound notifications an
// Event carries.
type EventKind int

const (
	EventForkProof EventKind = iota
	EventViewChangeComplete
	EventPbftProposal
	EventPbftPrepareComplete
	EventPbftComplete
)

func (k EventKind) String() string {
	switch k {
	case EventForkProof:
		return "ForkProof"
	case EventViewChangeComplete:
		return "ViewChangeComplete"
	case EventPbftProposal:
		return "PbftProposal"
	case EventPbftPrepareComplete:
		return "PbftPrepareComplete"
	case EventPbftComplete:
		return "PbftComplete"
	default:
		return "Unknown"
	}
}

// Event is the single outbound event type carried to the
// block-producer, spec.md §4.5. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind EventKind

	ForkProof *ForkProof

	ViewChangeTag   ViewChangeTag
	ViewChangeProof *chain.ViewChangeProof

	Hash      [32]byte
	Proposal  *SignedPbftProposal
	PbftProof *PbftProof
}

// Listener receives outbound coordinator events.
type Listener func(Event)

// Dispatcher fans out coordinator events to every subscribed
// block-producer listener. It holds no reference back to the
// coordinator; the coordinator holds a Dispatcher, not the reverse,
// so no weak reference is needed on this side of the relationship.
type Dispatcher struct {
	mu        sync.Mutex
	listeners []Listener
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers l to receive every future event.
func (d *Dispatcher) Subscribe(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *Dispatcher) emit(e Event) {
	d.mu.Lock()
	listeners := append([]Listener{}, d.listeners...)
	d.mu.Unlock()
	for _, l := range listeners {
		l(e)
	}
}
