package gossip

import (
	"testing"

	"github.com/albatross-net/valcoord/pkg/validator"
)

func TestGobEncodeDecodeRoundTrip(t *testing.T) {
	orig := ProposalWire{
		Proposal: validator.SignedPbftProposal{
			SignerIdx: 3,
			Signature: []byte{1, 2, 3, 4},
		},
	}

	data, err := gobEncode(orig)
	if err != nil {
		t.Fatalf("gobEncode: %v", err)
	}

	var got ProposalWire
	if err := gobDecode(data, &got); err != nil {
		t.Fatalf("gobDecode: %v", err)
	}
	if got.Proposal.SignerIdx != orig.Proposal.SignerIdx {
		t.Fatalf("expected SignerIdx %d, got %d", orig.Proposal.SignerIdx, got.Proposal.SignerIdx)
	}
}

func TestViewChangeUpdateWireTagAndUpdate(t *testing.T) {
	w := ViewChangeUpdateWire{BlockNumber: 32, NewViewNumber: 1, SignerIdx: 2, Signature: []byte{9, 9}}

	tag := w.tag()
	if tag.BlockNumber != 32 || tag.NewViewNumber != 1 {
		t.Fatalf("unexpected tag: %+v", tag)
	}

	update := w.update()
	if update.SignerIdx != 2 || len(update.Signature) != 2 {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestValidatorInfoSnapshotRoundTrip(t *testing.T) {
	snapshot := validator.ValidatorInfoSnapshot{
		Infos: []validator.SignedValidatorInfo{
			{Info: validator.ValidatorInfo{PeerAddr: "/ip4/1.2.3.4/tcp/4001", PublicKey: []byte{1, 2, 3}}},
		},
	}

	data, err := gobEncode(snapshot)
	if err != nil {
		t.Fatalf("gobEncode: %v", err)
	}

	var got validator.ValidatorInfoSnapshot
	if err := gobDecode(data, &got); err != nil {
		t.Fatalf("gobDecode: %v", err)
	}
	if len(got.Infos) != 1 || got.Infos[0].Info.PeerAddr != "/ip4/1.2.3.4/tcp/4001" {
		t.Fatalf("unexpected round-tripped snapshot: %+v", got)
	}
}
