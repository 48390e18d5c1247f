package validator

import (
	"errors"
	"testing"

	"github.com/albatross-net/valcoord/pkg/aggregation"
)

// TestViewChangeDuplicate covers scenario 4: start_view_change(tag=(32,1))
// succeeds; a second call with the same tag returns
// ViewChangeAlreadyExists((32,1)).
func TestViewChangeDuplicate(t *testing.T) {
	groups, signers := testValidators(t, 4)
	transport := aggregation.NewLocalTransport(nil)
	mgr := NewViewChangeManager(transport, nil)

	tag := ViewChangeTag{BlockNumber: 32, NewViewNumber: 1}
	signed := SignedViewChange{Tag: tag, SignerIdx: 0, Signature: signers[0].Sign(tag.encode())}

	var completions int
	err := mgr.Start(signed, 0, groups, func(ViewChangeTag, aggregation.CompletionEvent) { completions++ })
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	err = mgr.Start(signed, 0, groups, func(ViewChangeTag, aggregation.CompletionEvent) { completions++ })
	if !errors.Is(err, ErrViewChangeAlreadyExists) {
		t.Fatalf("expected ErrViewChangeAlreadyExists on second Start, got %v", err)
	}
}

func TestViewChangeCompletesAtTwoThirds(t *testing.T) {
	groups, signers := testValidators(t, 4)
	transport := aggregation.NewLocalTransport(nil)
	mgr := NewViewChangeManager(transport, nil)

	tag := ViewChangeTag{BlockNumber: 10, NewViewNumber: 1}
	signed := SignedViewChange{Tag: tag, SignerIdx: 1, Signature: signers[1].Sign(tag.encode())}

	done := make(chan aggregation.CompletionEvent, 1)
	if err := mgr.Start(signed, 1, groups, func(_ ViewChangeTag, ev aggregation.CompletionEvent) { done <- ev }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-done:
		t.Fatal("expected no completion after a single contribution")
	default:
	}

	mgr.PushLevelUpdate(tag, aggregation.LevelUpdate{SignerIdx: 0, Signature: signers[0].Sign(tag.encode())})
	mgr.PushLevelUpdate(tag, aggregation.LevelUpdate{SignerIdx: 2, Signature: signers[2].Sign(tag.encode())})

	select {
	case ev := <-done:
		if ev.Signers.Count() != 3 {
			t.Fatalf("expected 3 signers at completion, got %d", ev.Signers.Count())
		}
	default:
		t.Fatal("expected a completion event after three of four validators voted")
	}
}

func TestViewChangePushLevelUpdateForUntrackedTagIsNoOp(t *testing.T) {
	_, signers := testValidators(t, 4)
	transport := aggregation.NewLocalTransport(nil)
	mgr := NewViewChangeManager(transport, nil)

	tag := ViewChangeTag{BlockNumber: 5, NewViewNumber: 0}
	// No Start call for this tag: a node must already be attempting the
	// view-change for a remote vote to have any effect.
	mgr.PushLevelUpdate(tag, aggregation.LevelUpdate{SignerIdx: 0, Signature: signers[0].Sign(tag.encode())})
}

func TestViewChangeClearResetsTracking(t *testing.T) {
	groups, signers := testValidators(t, 4)
	transport := aggregation.NewLocalTransport(nil)
	mgr := NewViewChangeManager(transport, nil)

	tag := ViewChangeTag{BlockNumber: 32, NewViewNumber: 1}
	signed := SignedViewChange{Tag: tag, SignerIdx: 0, Signature: signers[0].Sign(tag.encode())}

	if err := mgr.Start(signed, 0, groups, func(ViewChangeTag, aggregation.CompletionEvent) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	mgr.Clear()

	if err := mgr.Start(signed, 0, groups, func(ViewChangeTag, aggregation.CompletionEvent) {}); err != nil {
		t.Fatalf("expected Start to succeed again after Clear, got %v", err)
	}
}
