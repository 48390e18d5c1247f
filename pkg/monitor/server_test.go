package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/albatross-net/valcoord/pkg/aggregation"
	"github.com/albatross-net/valcoord/pkg/blscrypto"
	"github.com/albatross-net/valcoord/pkg/chain"
	"github.com/albatross-net/valcoord/pkg/chain/refchain"
	"github.com/albatross-net/valcoord/pkg/validator"
)

type noopNetwork struct{}

func (noopNetwork) BroadcastValidatorInfo([]validator.SignedValidatorInfo)                 {}
func (noopNetwork) BroadcastForkProof(validator.ForkProof)                                 {}
func (noopNetwork) BroadcastProposal(validator.SignedPbftProposal)                         {}
func (noopNetwork) BroadcastViewChangeUpdate(validator.ViewChangeTag, aggregation.LevelUpdate) {}
func (noopNetwork) BroadcastPrepareUpdate([32]byte, aggregation.LevelUpdate)                {}
func (noopNetwork) BroadcastCommitUpdate([32]byte, aggregation.LevelUpdate)                 {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	signer, err := blscrypto.NewSignerFromSeed([]byte("monitor-test-seed-00000000000000"))
	if err != nil {
		t.Fatalf("NewSignerFromSeed: %v", err)
	}
	pk, err := signer.Compress()
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	groups := []chain.Group{{SlotStart: 0, SlotEnd: chain.TotalSlots, PublicKey: pk}}
	c := refchain.NewMemChain(groups, 32)

	transport := aggregation.NewLocalTransport(nil)
	co := validator.NewCoordinator(c, transport, noopNetwork{}, signer, nil)
	id := 0
	co.OnFinality(&id)

	return NewServer(co, c, nil)
}

func TestHandleStatus(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ValidatorID == nil || *resp.ValidatorID != 0 {
		t.Fatalf("expected validator_id 0, got %v", resp.ValidatorID)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlePeersEmpty(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	rec := httptest.NewRecorder()
	s.handlePeers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var peers []peerSummary
	if err := json.NewDecoder(rec.Body).Decode(&peers); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected no peers on a fresh coordinator, got %d", len(peers))
	}
}

func TestOnEventPublishesPbftProposal(t *testing.T) {
	s := newTestServer(t)
	var hash [32]byte
	hash[0] = 0x42
	s.onEvent(validator.Event{Kind: validator.EventPbftProposal, Hash: hash})

	select {
	case data := <-s.hub.broadcast:
		var got wireEvent
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if got.Kind != "PbftProposal" || got.Hash != fmt.Sprintf("%x", hash) {
			t.Fatalf("unexpected published event: %+v", got)
		}
	default:
		t.Fatal("expected the PbftProposal event to be queued for broadcast")
	}
}
